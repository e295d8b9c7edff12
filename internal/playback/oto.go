package playback

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/chadiek/homesync-voice/internal/codec"
)

// OtoDevice plays mono PCM16 through the default output device. The player
// pulls continuously from a timeline; its clock is the read position minus
// whatever the player still holds in its own buffer.
// Only one OtoDevice may exist per process.
type OtoDevice struct {
	ctx       *oto.Context
	player    *oto.Player
	timeline  *timeline
	closeOnce sync.Once
}

// NewOtoDevice opens the output device at rate. buffer sizes both the
// hardware buffer and the player's read-ahead.
func NewOtoDevice(rate int, buffer time.Duration) (*OtoDevice, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("playback: open output device: %w", err)
	}
	<-ready

	tl := newTimeline(rate)
	player := ctx.NewPlayer(tl)
	player.SetBufferSize(readAhead(rate, buffer))
	tl.lag = func() int64 { return int64(player.BufferedSize() / codec.SampleWidth) }
	player.Play()
	return &OtoDevice{ctx: ctx, player: player, timeline: tl}, nil
}

// readAhead is the player buffer in bytes, at least one 10ms block.
func readAhead(rate int, buffer time.Duration) int {
	samples := int64(rate) * int64(buffer) / int64(time.Second)
	if floor := int64(rate / 100); samples < floor {
		samples = floor
	}
	return int(samples) * codec.SampleWidth
}

func (d *OtoDevice) Clock() time.Duration { return d.timeline.clock() }

func (d *OtoDevice) Play(seg Segment, done func()) { d.timeline.add(seg, done) }

// Halt clears the timeline and makes the player drop what it already read,
// so at most the hardware buffer is still heard.
func (d *OtoDevice) Halt() {
	d.timeline.clear()
	_, _ = d.player.Seek(0, io.SeekCurrent)
}

// Close stops the player. The oto context itself lives until process exit.
func (d *OtoDevice) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.timeline.clear()
		err = d.player.Close()
	})
	return err
}
