package equalizer

import "math"

// centerFrequencies gives the fixed center-frequency table for each
// supported band count, per the original's hardcoded per-count tables.
var centerFrequencies = map[int][]float64{
	3:  {100, 1000, 10000},
	4:  {100, 500, 2500, 10000},
	5:  {100, 500, 2000, 6000, 15000},
	6:  {60, 250, 1000, 3000, 8000, 15000},
	7:  {60, 150, 400, 1000, 3000, 8000, 15000},
	8:  {60, 150, 400, 1000, 2400, 6000, 10000, 15000},
	9:  {31, 62, 125, 250, 500, 1000, 2500, 6000, 15000},
	10: {31, 62, 125, 250, 500, 1000, 2500, 5000, 10000, 16000},
}

// bandwidthFor derives an octave bandwidth for band i out of n bands so
// adjacent bands' skirts meet, using the geometric distance to the
// nearer neighbor's center frequency.
func bandwidthFor(freqs []float64, i int) float64 {
	n := len(freqs)
	var ratio float64
	switch {
	case n == 1:
		return 1.0
	case i == 0:
		ratio = freqs[1] / freqs[0]
	case i == n-1:
		ratio = freqs[n-1] / freqs[n-2]
	default:
		lo := freqs[i] / freqs[i-1]
		hi := freqs[i+1] / freqs[i]
		ratio = lo
		if hi < lo {
			ratio = hi
		}
	}
	if ratio <= 1 {
		ratio = 1.01
	}
	return math.Log2(ratio)
}
