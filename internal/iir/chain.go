package iir

import (
	"encoding/binary"
	"math"

	"github.com/wk-j/waveplayer/internal/audio"
	"github.com/wk-j/waveplayer/internal/errs"
)

// SampleCallback is invoked once per sample (per channel) with the
// sample normalized to i16 magnitude. Channel 0 fires first within a
// frame.
type SampleCallback func(channel int, value float64) float64

// Chain applies an ordered cascade of biquad sections to interleaved
// PCM. Processing happens in float64 space; samples outside the i16
// range are scaled in and back out so callbacks always see i16-scaled
// magnitude, per the design's normalization rule.
type Chain struct {
	sections []*section
	channels int

	callbackRaw      SampleCallback
	callbackFiltered SampleCallback
}

// NewChain builds a chain from an ordered list of biquad coefficient
// sets; filters are applied in the given order.
func NewChain(coeffs []Coefficients, channels int) *Chain {
	c := &Chain{channels: channels}
	for _, co := range coeffs {
		c.sections = append(c.sections, newSection(co, channels))
	}
	return c
}

// SetCallbackRaw installs a hook invoked with the raw decoded sample
// before any filtering is applied.
func (c *Chain) SetCallbackRaw(fn SampleCallback) { c.callbackRaw = fn }

// SetCallbackFiltered installs a hook invoked with the fully filtered
// sample.
func (c *Chain) SetCallbackFiltered(fn SampleCallback) { c.callbackFiltered = fn }

// scaleToI16 returns the multiplier that normalizes a full-scale sample
// of the given type into the i16 magnitude range used by callbacks.
func scaleToI16(t audio.SampleType) (float64, error) {
	switch t {
	case audio.SampleI8, audio.SampleU8:
		return 256, nil
	case audio.SampleI16, audio.SampleU16:
		return 1, nil
	case audio.SampleI32, audio.SampleU32:
		return 1.0 / 65536, nil
	case audio.SampleF32:
		return 32768, nil
	default:
		return 0, errs.ErrUnsupportedFormat
	}
}

func readSample(b []byte, t audio.SampleType) float64 {
	switch t {
	case audio.SampleI8:
		return float64(int8(b[0]))
	case audio.SampleU8:
		return float64(int(b[0]) - 128)
	case audio.SampleI16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case audio.SampleU16:
		return float64(int(binary.LittleEndian.Uint16(b)) - 32768)
	case audio.SampleI32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case audio.SampleU32:
		return float64(int64(binary.LittleEndian.Uint32(b)) - 1<<31)
	case audio.SampleF32:
		bits := binary.LittleEndian.Uint32(b)
		return float64(math.Float32frombits(bits))
	}
	return 0
}

func writeSample(b []byte, t audio.SampleType, v float64) {
	switch t {
	case audio.SampleI8:
		b[0] = byte(int8(clamp(v, -128, 127)))
	case audio.SampleU8:
		b[0] = byte(int(clamp(v, -128, 127)) + 128)
	case audio.SampleI16:
		binary.LittleEndian.PutUint16(b, uint16(int16(clamp(v, -32768, 32767))))
	case audio.SampleU16:
		binary.LittleEndian.PutUint16(b, uint16(int(clamp(v, -32768, 32767))+32768))
	case audio.SampleI32:
		binary.LittleEndian.PutUint32(b, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	case audio.SampleU32:
		binary.LittleEndian.PutUint32(b, uint32(int64(clamp(v, math.MinInt32, math.MaxInt32))+1<<31))
	case audio.SampleF32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sampleWidth(t audio.SampleType) int {
	switch t {
	case audio.SampleI8, audio.SampleU8:
		return 1
	case audio.SampleI16, audio.SampleU16:
		return 2
	case audio.SampleI32, audio.SampleU32, audio.SampleF32:
		return 4
	}
	return 0
}

// ProcessPCMData runs length bytes of interleaved PCM of the given
// sample type and channel count through the chain in place.
func (c *Chain) ProcessPCMData(buf []byte, length int, t audio.SampleType, channelCount int) error {
	width := sampleWidth(t)
	if width == 0 {
		return errs.ErrUnsupportedFormat
	}
	scale, err := scaleToI16(t)
	if err != nil {
		return err
	}

	frameBytes := width * channelCount
	for off := 0; off+frameBytes <= length; off += frameBytes {
		for ch := 0; ch < channelCount; ch++ {
			b := buf[off+ch*width : off+(ch+1)*width]
			raw := readSample(b, t) * scale

			if c.callbackRaw != nil {
				raw = c.callbackRaw(ch, raw)
			}

			filtered := raw
			sectionCh := ch
			if channelCount > c.channels {
				sectionCh = ch % c.channels
			}
			for _, s := range c.sections {
				filtered = s.step(sectionCh, filtered)
			}

			if c.callbackFiltered != nil {
				filtered = c.callbackFiltered(ch, filtered)
			}

			writeSample(b, t, filtered/scale)
		}
	}
	return nil
}
