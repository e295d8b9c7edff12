package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/chadiek/homesync-voice/internal/codec"
	"github.com/chadiek/homesync-voice/internal/metrics"
)

// ErrDeviceUnavailable is returned when the input device cannot be acquired.
var ErrDeviceUnavailable = errors.New("capture: input device unavailable")

// Params describes the block stream requested from a Source. The processing
// flags are requests; a Source may not support them.
type Params struct {
	SampleRate       int
	BlockSize        int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultParams matches the backend input format.
func DefaultParams() Params {
	return Params{
		SampleRate:       codec.InputSampleRate,
		BlockSize:        4096,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Source is an input device delivering fixed-size mono blocks. onBlock runs on
// the device's audio thread and must return quickly; the block is only valid
// for the duration of the call.
type Source interface {
	Open(ctx context.Context, p Params, onBlock func(block []float32)) error
	Close() error
}

// FrameSink receives encoded microphone frames.
type FrameSink interface {
	SendAudio(f codec.Frame) error
}

type sinkRef struct{ FrameSink }

// Pipeline moves microphone blocks from a Source to the attached FrameSink.
// Until a sink is attached every block is dropped. The audio thread only
// loads the sink pointer; mu guards the start and close transitions.
type Pipeline struct {
	src     Source
	params  Params
	log     zerolog.Logger
	metrics *metrics.Metrics

	frames chan codec.Frame
	stopCh chan struct{}
	done   chan struct{}

	sink atomic.Pointer[sinkRef]

	mu      sync.Mutex
	started bool
	closed  bool
}

func NewPipeline(src Source, p Params, log zerolog.Logger, m *metrics.Metrics) *Pipeline {
	if m == nil {
		m = metrics.Nop()
	}
	return &Pipeline{
		src:     src,
		params:  p,
		log:     log,
		metrics: m,
		frames:  make(chan codec.Frame, 8),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start acquires the device and begins forwarding. Failure to acquire the
// device is returned wrapped in ErrDeviceUnavailable.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return errors.New("capture: pipeline already used")
	}
	p.started = true
	p.mu.Unlock()

	go p.sendLoop()
	if err := p.src.Open(ctx, p.params, p.onBlock); err != nil {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.stopCh)
		<-p.done
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	p.log.Debug().Int("rate", p.params.SampleRate).Int("block", p.params.BlockSize).Msg("capture started")
	return nil
}

// Attach starts delivering frames to sink. It has no effect after Close.
func (p *Pipeline) Attach(sink FrameSink) {
	if sink == nil {
		p.Detach()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.sink.Store(&sinkRef{sink})
	}
}

// Detach stops delivery; later blocks are dropped.
func (p *Pipeline) Detach() {
	p.sink.Store(nil)
}

func (p *Pipeline) current() FrameSink {
	if ref := p.sink.Load(); ref != nil {
		return ref.FrameSink
	}
	return nil
}

// onBlock runs on the audio thread: convert, enqueue, never wait or lock.
func (p *Pipeline) onBlock(block []float32) {
	p.metrics.InputLevel.Set(codec.RMS(block))
	if p.current() == nil {
		p.metrics.FramesDropped.WithLabelValues("not_open").Inc()
		return
	}
	f := codec.Frame{Data: codec.EncodeFloat32(block), SampleRate: p.params.SampleRate}
	select {
	case p.frames <- f:
	default:
		p.metrics.FramesDropped.WithLabelValues("backpressure").Inc()
	}
}

func (p *Pipeline) sendLoop() {
	defer close(p.done)
	for {
		select {
		case <-p.stopCh:
			return
		case f := <-p.frames:
			sink := p.current()
			if sink == nil {
				p.metrics.FramesDropped.WithLabelValues("not_open").Inc()
				continue
			}
			if err := sink.SendAudio(f); err != nil {
				p.metrics.FramesDropped.WithLabelValues("send_error").Inc()
				p.log.Debug().Err(err).Msg("send audio frame failed")
				continue
			}
			p.metrics.FramesSent.Inc()
		}
	}
}

// Close releases the device and stops forwarding. It is safe to call more than once.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.sink.Store(nil)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}
	err := p.src.Close()
	close(p.stopCh)
	<-p.done
	if err != nil {
		return fmt.Errorf("capture: release device: %w", err)
	}
	return nil
}
