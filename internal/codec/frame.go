package codec

import "time"

// Frame is one encoded block of mono PCM16 audio. Frames are immutable once built.
type Frame struct {
	Data       []byte
	SampleRate int
}

// NewFrame encodes samples into a frame at rate.
func NewFrame(samples []int16, rate int) Frame {
	return Frame{Data: Encode(samples), SampleRate: rate}
}

// MIMEType is the format tag sent alongside the frame.
func (f Frame) MIMEType() string { return MIMEType(f.SampleRate) }

// Samples returns the sample count carried by the frame.
func (f Frame) Samples() int { return len(f.Data) / SampleWidth }

func (f Frame) Duration() time.Duration { return Duration(f.Samples(), f.SampleRate) }
