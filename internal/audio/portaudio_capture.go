package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"livetalk/internal/domain"
	"livetalk/internal/ports"
)

// PortAudioCapture reads fixed-size blocks from the default input device.
type PortAudioCapture struct{}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) Start(ctx context.Context, cfg ports.CaptureConfig, onBlock func([]float32)) (ports.CaptureSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = withCaptureDefaults(cfg)

	if err := portaudio.Initialize(); err != nil {
		return nil, classifyDeviceErr("initialize portaudio", err)
	}

	buf := make([]float32, cfg.BlockSize*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.BlockSize, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, classifyDeviceErr("open input stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, classifyDeviceErr("start input stream", err)
	}

	session := &portAudioCaptureSession{
		stream:   stream,
		buf:      buf,
		channels: cfg.Channels,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go session.loop(onBlock)
	return session, nil
}

type portAudioCaptureSession struct {
	stream   *portaudio.Stream
	buf      []float32
	channels int

	stop chan struct{}
	done chan struct{}

	errMu sync.Mutex
	err   error

	stopOnce sync.Once
	stopErr  error
}

func (s *portAudioCaptureSession) loop(onBlock func([]float32)) {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			select {
			case <-s.stop:
			default:
				s.setErr(classifyDeviceErr("read input stream", err))
			}
			return
		}
		onBlock(downmix(s.buf, s.channels))
	}
}

func (s *portAudioCaptureSession) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *portAudioCaptureSession) Done() <-chan struct{} {
	return s.done
}

// Err reports why capture ended on its own. It is nil after Stop.
func (s *portAudioCaptureSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stop waits for the block loop to exit, then releases the stream. The loop
// exits after at most one more block.
func (s *portAudioCaptureSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done

		var errs []error
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop input stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input stream: %w", err))
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate portaudio: %w", err))
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

// downmix returns a fresh mono copy of an interleaved buffer.
func downmix(buf []float32, channels int) []float32 {
	if channels <= 1 {
		return append([]float32(nil), buf...)
	}
	out := make([]float32, len(buf)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += buf[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func withCaptureDefaults(cfg ports.CaptureConfig) ports.CaptureConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 4096
	}
	return cfg
}

func classifyDeviceErr(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not permitted") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: %s: %v", domain.ErrPermission, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrDevice, op, err)
}
