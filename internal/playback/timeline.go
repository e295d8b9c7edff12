package playback

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/chadiek/homesync-voice/internal/codec"
)

type placed struct {
	start   int64
	samples []int16
	done    func()
}

func (p placed) end() int64 { return p.start + int64(len(p.samples)) }

// timeline is the io.ReadSeeker behind the output player. It emits each
// placed segment at its sample offset and silence everywhere else.
//
// pos counts samples handed to the player. lag reports how many of those are
// still buffered downstream, so pos-lag is what has actually been heard.
type timeline struct {
	rate int
	lag  func() int64

	mu     sync.Mutex
	pos    int64
	queue  []placed
	played []placed
}

func newTimeline(rate int) *timeline {
	return &timeline{rate: rate}
}

// pending is the number of samples read but not yet audible.
func (t *timeline) pending() int64 {
	if t.lag == nil {
		return 0
	}
	return t.lag()
}

// audible must be called with mu held.
func (t *timeline) audible(lag int64) int64 {
	if lag > t.pos {
		return 0
	}
	return t.pos - lag
}

// clock is the audible output position.
func (t *timeline) clock() time.Duration {
	lag := t.pending()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset(t.audible(lag))
}

func (t *timeline) offset(samples int64) time.Duration {
	r := int64(t.rate)
	return time.Duration(samples/r)*time.Second + time.Duration(samples%r)*time.Second/time.Duration(r)
}

func (t *timeline) sampleAt(d time.Duration) int64 {
	r := int64(t.rate)
	sec := int64(d / time.Second)
	rem := int64(d % time.Second)
	return sec*r + (rem*r+int64(time.Second)/2)/int64(time.Second)
}

func (t *timeline) add(seg Segment, done func()) {
	samples := seg.Samples
	if seg.Rate != t.rate {
		samples = resample(samples, seg.Rate, t.rate)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	tail := t.pos
	if n := len(t.queue); n > 0 {
		tail = t.queue[n-1].end()
	}
	start := t.sampleAt(seg.Start)
	// Contiguous segments can land one sample apart after rounding.
	if start < tail || start-tail <= 1 {
		start = tail
	}
	t.queue = append(t.queue, placed{start: start, samples: samples, done: done})
}

// clear drops every queued or still buffered segment without running its
// callback.
func (t *timeline) clear() {
	t.mu.Lock()
	t.queue = nil
	t.played = nil
	t.mu.Unlock()
}

// Seek only reports the read position. The player calls it when it drops
// its own buffer.
func (t *timeline) Seek(offset int64, whence int) (int64, error) {
	if offset != 0 || whence != io.SeekCurrent {
		return 0, errors.New("playback: timeline can only report its position")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos * codec.SampleWidth, nil
}

// Read must not be called with the player lock held; lag takes it.
func (t *timeline) Read(p []byte) (int, error) {
	n := len(p) / codec.SampleWidth
	lag := t.pending()
	if t.lag != nil {
		// These samples join the player buffer once Read returns.
		lag += int64(n)
	}

	t.mu.Lock()
	for i := 0; i < n; i++ {
		var v int16
		for len(t.queue) > 0 {
			head := t.queue[0]
			if t.pos >= head.end() {
				t.played = append(t.played, head)
				t.queue = t.queue[1:]
				continue
			}
			if t.pos >= head.start {
				v = head.samples[t.pos-head.start]
			}
			break
		}
		binary.LittleEndian.PutUint16(p[i*codec.SampleWidth:], uint16(v))
		t.pos++
	}
	for len(t.queue) > 0 && t.pos >= t.queue[0].end() {
		t.played = append(t.played, t.queue[0])
		t.queue = t.queue[1:]
	}
	heard := t.audible(lag)
	var finished []func()
	for len(t.played) > 0 && t.played[0].end() <= heard {
		finished = append(finished, t.played[0].done)
		t.played = t.played[1:]
	}
	t.mu.Unlock()

	// Read runs on the audio thread.
	for _, fn := range finished {
		if fn != nil {
			go fn()
		}
	}
	return n * codec.SampleWidth, nil
}

// resample converts between rates by nearest-sample picking. Backend audio
// normally already matches the device rate.
func resample(in []int16, from, to int) []int16 {
	if from <= 0 || to <= 0 || from == to || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	for i := range out {
		out[i] = in[int64(i)*int64(from)/int64(to)]
	}
	return out
}
