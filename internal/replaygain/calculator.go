// Package replaygain computes a ReplayGain 1.0 style RMS-percentile
// loudness correction for a decoded PCM stream, grounded directly on
// original_source/replaygaincalculator.cpp.
package replaygain

import (
	"math"

	"github.com/wk-j/waveplayer/internal/iir"
)

const (
	// PinkNoiseReference is the reference loudness (dB) the calculated
	// result is measured against.
	PinkNoiseReference = 64.82

	statTableSize = 120 * 100

	rmsBlockFrames = 0 // computed per-instance from sample rate
)

// Calculator accumulates per-block RMS statistics and yields the
// ReplayGain correction once enough audio has been processed.
type Calculator struct {
	sampleRate int
	enabled    bool
	chain      *iir.Chain

	stats [statTableSize]uint64

	blockFrames   int
	blockChannels int
	sumSquares    float64
	frameInBlock  int
}

// NewCalculator builds a calculator for sampleRate/channelCount. If the
// sample rate is unsupported, the returned Calculator is disabled:
// FeedFilteredSample becomes a no-op and CalculateResult returns 0, so playback
// continues without replay-gain correction per the design's boundary
// behavior.
func NewCalculator(sampleRate, channelCount int) *Calculator {
	c := &Calculator{sampleRate: sampleRate, blockChannels: channelCount}
	coeffs, ok := weightingCoefficients(sampleRate)
	if !ok {
		return c
	}
	c.enabled = true
	c.chain = iir.NewChain(coeffs, channelCount)
	// ~50ms RMS blocks.
	c.blockFrames = sampleRate / 20
	if c.blockFrames < 1 {
		c.blockFrames = 1
	}
	return c
}

// Enabled reports whether the sample rate is supported for analysis.
func (c *Calculator) Enabled() bool { return c.enabled }

// FeedFilteredSample is called once per channel, per frame, with the
// sample already passed through the weighting filter chain (the
// IIR chain's filtered callback contract). Channel 0/1 (stereo) are
// summed into one RMS accumulator; mono doubles its contribution;
// channels >= 2 beyond stereo are ignored.
func (c *Calculator) FeedFilteredSample(channel int, value float64) {
	if !c.enabled {
		return
	}
	switch {
	case c.blockChannels == 1:
		c.sumSquares += 2 * value * value
	case channel < 2:
		c.sumSquares += value * value
	default:
		return
	}
	if channel == c.blockChannels-1 || (c.blockChannels == 1 && channel == 0) {
		c.frameInBlock++
		if c.frameInBlock >= c.blockFrames {
			c.flushBlock()
		}
	}
}

func (c *Calculator) flushBlock() {
	const epsilon = 1e-10
	meanSquare := c.sumSquares/float64(c.frameInBlock) + epsilon
	db := 10 * math.Log10(meanSquare)

	idx := int(db * 100)
	if idx < 0 {
		idx = 0
	}
	if idx >= statTableSize {
		idx = statTableSize - 1
	}
	c.stats[idx]++

	c.sumSquares = 0
	c.frameInBlock = 0
}

// Chain exposes the weighting filter chain so callers can wire its
// filtered-sample callback to FeedFilteredSample.
func (c *Calculator) Chain() *iir.Chain { return c.chain }

// Reset zeros the statistics table, used after a radio-station title
// change to re-measure the next logical track from scratch.
func (c *Calculator) Reset() {
	for i := range c.stats {
		c.stats[i] = 0
	}
	c.sumSquares = 0
	c.frameInBlock = 0
}

// CalculateResult returns PinkNoiseReference minus the dB level at the
// 95th percentile counted from the loud end of the histogram, i.e. the
// gain in dB that would bring the stream up (positive) or down
// (negative) to the reference loudness.
func (c *Calculator) CalculateResult() float64 {
	var total uint64
	for _, n := range c.stats {
		total += n
	}
	if total == 0 {
		return 0
	}

	target := uint64(math.Ceil(float64(total) * 0.05))
	var cumulative uint64
	for idx := statTableSize - 1; idx >= 0; idx-- {
		cumulative += c.stats[idx]
		if cumulative >= target {
			dbAtPercentile := float64(idx) / 100
			return PinkNoiseReference - dbAtPercentile
		}
	}
	return 0
}
