package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// PortAudioSource captures from the system default input device in callback mode.
type PortAudioSource struct {
	log zerolog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
}

func NewPortAudioSource(log zerolog.Logger) *PortAudioSource {
	return &PortAudioSource{log: log}
}

func (s *PortAudioSource) Open(_ context.Context, p Params, onBlock func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return errors.New("portaudio: source already open")
	}
	if p.EchoCancellation || p.NoiseSuppression || p.AutoGainControl {
		// PortAudio hands over raw device samples; there is no DSP stage to enable.
		s.log.Debug().
			Bool("echo_cancellation", p.EchoCancellation).
			Bool("noise_suppression", p.NoiseSuppression).
			Bool("auto_gain", p.AutoGainControl).
			Msg("input processing not supported by portaudio, continuing without it")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	if dev, err := portaudio.DefaultInputDevice(); err == nil {
		s.log.Info().Str("device", dev.Name).Msg("using input device")
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(p.SampleRate), p.BlockSize, func(in []float32) {
		onBlock(in)
	})
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio start stream: %w", err)
	}
	s.stream = stream
	return nil
}

// Close stops the stream and releases PortAudio. Closing a closed source is a no-op.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	stream := s.stream
	s.stream = nil
	return errors.Join(stream.Stop(), stream.Close(), portaudio.Terminate())
}
