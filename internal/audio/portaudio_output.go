package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"livetalk/internal/ports"
)

// PortAudioOutput opens speaker contexts on the default output device.
type PortAudioOutput struct{}

func NewPortAudioOutput() *PortAudioOutput {
	return &PortAudioOutput{}
}

func (o *PortAudioOutput) Open(ctx context.Context, cfg ports.OutputConfig) (ports.OutputContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, classifyDeviceErr("initialize portaudio", err)
	}

	mixer := NewMixer(cfg.SampleRate)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(cfg.SampleRate), cfg.FramesPerBuffer, mixer.Render)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, classifyDeviceErr("open output stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, classifyDeviceErr("start output stream", err)
	}

	return &portAudioOutputContext{Mixer: mixer, stream: stream}, nil
}

type portAudioOutputContext struct {
	*Mixer
	stream *portaudio.Stream

	closeOnce sync.Once
	closeErr  error
}

// Close silences pending voices, stops the stream and releases the
// PortAudio reference. Safe to call more than once.
func (c *portAudioOutputContext) Close() error {
	c.closeOnce.Do(func() {
		_ = c.Mixer.Close()
		var errs []error
		if err := c.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop output stream: %w", err))
		}
		if err := c.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output stream: %w", err))
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate portaudio: %w", err))
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

var _ ports.OutputContext = (*portAudioOutputContext)(nil)
