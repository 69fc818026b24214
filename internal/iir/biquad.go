// Package iir implements cascaded biquad IIR filtering over interleaved
// PCM with per-sample raw/filtered callback hooks, generalized from the
// single peaking-EQ biquad in the terminal player this design descends
// from into the low-shelf/band-shelf/high-shelf family the equalizer and
// replay-gain weighting filters both need.
package iir

import "math"

// ShelfType selects the biquad topology calculateBiquadCoefficients
// produces.
type ShelfType int

const (
	LowShelf ShelfType = iota
	BandShelf
	HighShelf
)

// Coefficients is one biquad section in direct-form-I, normalized so a0 is
// implicitly 1 (a1, a2, b0, b1, b2 already divided by the original a0).
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// CalculateBiquadCoefficients derives a biquad section for a low-shelf,
// band-shelf (peaking) or high-shelf filter centered at centerFreq with
// the given bandwidth (octaves), at sampleRate, applying gainDb.
func CalculateBiquadCoefficients(kind ShelfType, centerFreq, bandwidth, sampleRate, gainDb float64) Coefficients {
	a := math.Pow(10, gainDb/40)
	w0 := 2 * math.Pi * centerFreq / sampleRate
	sinW0, cosW0 := math.Sin(w0), math.Cos(w0)
	alpha := sinW0 * math.Sinh(math.Ln2/2*bandwidth*w0/sinW0)

	var b0, b1, b2, a0, a1, a2 float64

	switch kind {
	case LowShelf:
		beta := 2 * math.Sqrt(a) * alpha
		b0 = a * ((a + 1) - (a-1)*cosW0 + beta)
		b1 = 2 * a * ((a - 1) - (a+1)*cosW0)
		b2 = a * ((a + 1) - (a-1)*cosW0 - beta)
		a0 = (a + 1) + (a-1)*cosW0 + beta
		a1 = -2 * ((a - 1) + (a+1)*cosW0)
		a2 = (a + 1) + (a-1)*cosW0 - beta

	case HighShelf:
		beta := 2 * math.Sqrt(a) * alpha
		b0 = a * ((a + 1) + (a-1)*cosW0 + beta)
		b1 = -2 * a * ((a - 1) + (a+1)*cosW0)
		b2 = a * ((a + 1) + (a-1)*cosW0 - beta)
		a0 = (a + 1) - (a-1)*cosW0 + beta
		a1 = 2 * ((a - 1) - (a+1)*cosW0)
		a2 = (a + 1) - (a-1)*cosW0 - beta

	default: // BandShelf (peaking)
		b0 = 1 + alpha*a
		b1 = -2 * cosW0
		b2 = 1 - alpha*a
		a0 = 1 + alpha/a
		a1 = -2 * cosW0
		a2 = 1 - alpha/a
	}

	return Coefficients{B0: b0 / a0, B1: b1 / a0, B2: b2 / a0, A1: a1 / a0, A2: a2 / a0}
}

// section is one biquad stage with per-channel history.
type section struct {
	c      Coefficients
	x1, x2 []float64
	y1, y2 []float64
}

func newSection(c Coefficients, channels int) *section {
	return &section{c: c, x1: make([]float64, channels), x2: make([]float64, channels), y1: make([]float64, channels), y2: make([]float64, channels)}
}

func (s *section) step(ch int, x float64) float64 {
	c := s.c
	y := c.B0*x + c.B1*s.x1[ch] + c.B2*s.x2[ch] - c.A1*s.y1[ch] - c.A2*s.y2[ch]
	s.x2[ch] = s.x1[ch]
	s.x1[ch] = x
	s.y2[ch] = s.y1[ch]
	s.y1[ch] = y
	return y
}
