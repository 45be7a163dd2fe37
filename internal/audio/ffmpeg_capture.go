package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"livetalk/internal/domain"
	"livetalk/internal/pcm"
	"livetalk/internal/ports"
)

// FFMPEGCapture captures the microphone through an ffmpeg subprocess and
// re-blocks its s16le output into fixed-size float blocks.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.CaptureConfig, onBlock func([]float32)) (ports.CaptureSession, error) {
	cfg = withCaptureDefaults(cfg)
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create ffmpeg pipe: %v", domain.ErrDevice, err)
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr syncBuffer
	cmd.Stderr = &stderr
	cmd.Stdout = pw
	cmd.WaitDelay = 500 * time.Millisecond

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("%w: start ffmpeg: %v", domain.ErrDevice, err)
	}
	_ = pw.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = pr.Close()
		return nil, classifyFFMPEGExit(err, stderr.String())
	case <-time.After(250 * time.Millisecond):
	}

	session := &ffmpegSession{
		stdout:    pr,
		stderr:    &stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
		blockSize: cfg.BlockSize,
		done:      make(chan struct{}),
	}
	go session.readLoop(onBlock)
	return session, nil
}

type ffmpegSession struct {
	stdout *os.File
	stderr *syncBuffer

	process *os.Process
	waitErr <-chan error

	blockSize int
	stopping  atomic.Bool
	done      chan struct{}

	errMu sync.Mutex
	err   error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) readLoop(onBlock func([]float32)) {
	defer close(s.done)

	raw := make([]byte, s.blockSize*pcm.SampleWidth)
	for {
		if _, err := io.ReadFull(s.stdout, raw); err != nil {
			if !s.stopping.Load() {
				s.setErr(fmt.Errorf("%w: ffmpeg capture ended: %v: %s", domain.ErrDevice, err, stringsTrimSpaceSafe(s.stderr.String())))
			}
			return
		}
		block, err := pcm.DecodeSamples(raw)
		if err != nil {
			s.setErr(err)
			return
		}
		onBlock(block)
	}
}

func (s *ffmpegSession) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *ffmpegSession) Done() <-chan struct{} {
	return s.done
}

func (s *ffmpegSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		// Grandchildren may still hold the write end; closing ours unblocks the reader.
		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}
		<-s.done

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

func classifyFFMPEGExit(err error, stderr string) error {
	detail := stringsTrimSpaceSafe(stderr)
	sentinel := domain.ErrDevice
	if bytes.Contains(bytes.ToLower([]byte(detail)), []byte("permission denied")) {
		sentinel = domain.ErrPermission
	}
	if err != nil {
		return fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", sentinel, err, detail)
	}
	return fmt.Errorf("%w: ffmpeg exited before capture started", sentinel)
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

// syncBuffer guards stderr, which exec copies from its own goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
