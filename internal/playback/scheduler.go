package playback

import (
	"sync"
	"time"

	"github.com/chadiek/homesync-voice/internal/codec"
	"github.com/chadiek/homesync-voice/internal/metrics"
)

// Segment is one decoded audio chunk placed on the output timeline.
type Segment struct {
	ID       uint64
	Samples  []int16
	Rate     int
	Start    time.Duration
	Duration time.Duration
}

// End is the offset at which the segment stops playing.
func (s Segment) End() time.Duration { return s.Start + s.Duration }

// Device is the output port the scheduler drives.
type Device interface {
	// Clock is the current output position.
	Clock() time.Duration
	// Play queues seg to start at seg.Start. done runs once the segment has
	// been fully played; it must not be invoked from within Play.
	Play(seg Segment, done func())
	// Halt silences everything queued or playing.
	Halt()
}

// Scheduler places segments back to back on the device timeline.
// Each segment starts at max(device clock, end of the previous segment).
type Scheduler struct {
	dev     Device
	metrics *metrics.Metrics

	mu        sync.Mutex
	next      time.Duration
	seq       uint64
	epoch     uint64
	active    map[uint64]struct{}
	onDrained func()
}

func NewScheduler(dev Device, m *metrics.Metrics) *Scheduler {
	if m == nil {
		m = metrics.Nop()
	}
	return &Scheduler{dev: dev, metrics: m, active: make(map[uint64]struct{})}
}

// OnDrained registers fn to run whenever the last active segment finishes playing.
// It is not called for segments removed by Halt.
func (s *Scheduler) OnDrained(fn func()) {
	s.mu.Lock()
	s.onDrained = fn
	s.mu.Unlock()
}

// Enqueue schedules samples at rate and returns the placed segment.
// Empty input is ignored and reported with ok=false.
func (s *Scheduler) Enqueue(samples []int16, rate int) (seg Segment, ok bool) {
	if len(samples) == 0 || rate <= 0 {
		return Segment{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.dev.Clock()
	if now > s.next {
		s.next = now
	}
	s.seq++
	seg = Segment{
		ID:       s.seq,
		Samples:  samples,
		Rate:     rate,
		Start:    s.next,
		Duration: codec.Duration(len(samples), rate),
	}
	s.next = seg.End()
	s.active[seg.ID] = struct{}{}

	epoch, id := s.epoch, seg.ID
	s.dev.Play(seg, func() { s.finish(epoch, id) })

	s.metrics.SegmentsScheduled.Inc()
	s.metrics.PlaybackLead.Set((s.next - now).Seconds())
	return seg, true
}

func (s *Scheduler) finish(epoch, id uint64) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	drained := len(s.active) == 0
	fn := s.onDrained
	s.mu.Unlock()

	if drained {
		s.metrics.PlaybackLead.Set(0)
		if fn != nil {
			fn()
		}
	}
}

// Active is the number of segments queued or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart is where the next segment would begin if the clock stood still.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Halt stops all audio immediately, clears the active set and resets the
// timeline so the next segment starts at the device clock.
func (s *Scheduler) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.active = make(map[uint64]struct{})
	s.next = 0
	s.dev.Halt()
	s.metrics.PlaybackLead.Set(0)
}
