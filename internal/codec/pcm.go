package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// SampleWidth is the byte width of one mono PCM16 sample.
	SampleWidth = 2

	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// ErrTruncatedFrame is returned when a byte buffer is not a whole number of samples.
var ErrTruncatedFrame = errors.New("codec: truncated frame")

// Encode converts samples to little-endian PCM16 bytes.
func Encode(samples []int16) []byte {
	out := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*SampleWidth:], uint16(s))
	}
	return out
}

// Decode converts little-endian PCM16 bytes to samples.
func Decode(b []byte) ([]int16, error) {
	if len(b)%SampleWidth != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncatedFrame, len(b))
	}
	out := make([]int16, len(b)/SampleWidth)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*SampleWidth:]))
	}
	return out, nil
}

// FloatToPCM16 scales float samples in [-1, 1] by 32767 and clamps the result
// so out-of-range input saturates instead of wrapping.
func FloatToPCM16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		if v != v { // NaN
			continue
		}
		f := float64(v) * 32767
		switch {
		case f > math.MaxInt16:
			out[i] = math.MaxInt16
		case f < math.MinInt16:
			out[i] = math.MinInt16
		default:
			out[i] = int16(f)
		}
	}
	return out
}

// EncodeFloat32 is FloatToPCM16 followed by Encode.
func EncodeFloat32(in []float32) []byte {
	return Encode(FloatToPCM16(in))
}

// RMS returns the root mean square level of a float block.
func RMS(in []float32) float64 {
	if len(in) == 0 {
		return 0
	}
	var sum float64
	for _, v := range in {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(in)))
}

// Duration returns the play time of n mono samples at rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// MIMEType returns the wire format tag for raw PCM16 at rate.
func MIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseRate extracts the rate parameter from a PCM mime tag. Tags without a
// rate are assumed to carry output audio.
func ParseRate(mime string) int {
	for _, part := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.ToLower(k) != "rate" {
			continue
		}
		if r, err := strconv.Atoi(v); err == nil && r > 0 {
			return r
		}
	}
	return OutputSampleRate
}
