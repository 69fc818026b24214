// Package audio holds the fixed-point PCM format and chunk types shared
// across every pipeline stage.
package audio

import "fmt"

// Endianness of multi-byte samples.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

// Format describes interleaved PCM: sample rate, channel count, sample
// width, signedness and byte order. The pipeline's desired format is
// fixed at pipeline construction; decoders may emit other formats but by
// the time audio reaches the cache it has been converted to this one.
type Format struct {
	SampleRate int
	Channels   int
	BitsPerSample int
	Signed     bool
	Endian     Endianness
}

// CDQuality is the typical desired format: 44.1kHz, stereo, 16-bit signed.
var CDQuality = Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, Signed: true, Endian: LittleEndian}

// BytesPerFrame is the number of bytes for one sample across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * (f.BitsPerSample / 8)
}

// BytesForDuration returns the number of whole-frame bytes spanning the
// given duration in microseconds. It is the exact quantizing inverse of
// DurationForBytes: BytesForDuration(DurationForBytes(n)) == n rounded
// down to a whole frame.
func (f Format) BytesForDuration(us int64) int64 {
	bpf := int64(f.BytesPerFrame())
	if bpf == 0 || f.SampleRate == 0 {
		return 0
	}
	frames := us * int64(f.SampleRate) / 1_000_000
	return frames * bpf
}

// DurationForBytes returns the microsecond duration represented by n
// bytes, truncated to whole frames first and then rounded up to the next
// whole microsecond.
func (f Format) DurationForBytes(n int64) int64 {
	bpf := int64(f.BytesPerFrame())
	if bpf == 0 || f.SampleRate == 0 {
		return 0
	}
	frames := n / bpf
	sr := int64(f.SampleRate)
	return (frames*1_000_000 + sr - 1) / sr
}

// String implements fmt.Stringer for logging.
func (f Format) String() string {
	sign := "u"
	if f.Signed {
		sign = "s"
	}
	return fmt.Sprintf("%dHz/%dch/%d%sbit", f.SampleRate, f.Channels, f.BitsPerSample, sign)
}

// SampleType enumerates the raw sample encodings the IIR chain accepts.
type SampleType int

const (
	SampleI8 SampleType = iota
	SampleU8
	SampleI16
	SampleU16
	SampleI32
	SampleU32
	SampleF32
)
