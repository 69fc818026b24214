// Package equalizer applies a multi-band IIR filter chain plus
// smoothed replay-gain correction to equalized PCM chunks, grounded on
// original_source/equalizer.cpp.
package equalizer

import (
	"fmt"
	"math"
	"sync"

	"github.com/wk-j/waveplayer/internal/audio"
	"github.com/wk-j/waveplayer/internal/iir"
)

// maxRampDbPerSecond caps how fast currentReplayGain may move toward
// the analyzer's latest measurement.
const maxRampDbPerSecond = 3.0

// snapThresholdDb is the delta below which the ramp snaps instead of
// creeping, avoiding an endless asymptotic crawl.
const snapThresholdDb = 0.05

// Equalizer rebuilds an IIR chain from user gains and applies it,
// along with ramped replay-gain and pre-amp, to PCM chunks in place.
type Equalizer struct {
	format audio.Format

	mu    sync.Mutex
	chain *iir.Chain
	on    bool

	targetReplayGainDb  float64
	currentReplayGainDb float64
	preAmpDb            float64

	onReplayGainChanged func(float64)
}

// New creates an Equalizer bypassing the filter chain (on=false, flat
// gain) until SetGains is called.
func New(format audio.Format) *Equalizer {
	return &Equalizer{format: format}
}

// OnReplayGainChanged registers the per-sample-accurate update hook.
func (e *Equalizer) OnReplayGainChanged(fn func(float64)) { e.onReplayGainChanged = fn }

// SetGains rebuilds the filter chain from scratch under the dedicated
// chain mutex: band 0 is low-shelf, band N-1 is high-shelf, the rest
// are band-shelf (peaking), with bandwidths derived so adjacent bands'
// skirts meet. gains must have between 3 and 10 entries.
func (e *Equalizer) SetGains(on bool, gains []float64, preAmpDb float64) error {
	if len(gains) < 3 || len(gains) > 10 {
		return fmt.Errorf("equalizer: gains must have 3..10 entries, got %d", len(gains))
	}
	freqs, ok := centerFrequencies[len(gains)]
	if !ok {
		return fmt.Errorf("equalizer: no center frequency table for %d bands", len(gains))
	}

	coeffs := make([]iir.Coefficients, len(gains))
	for i, g := range gains {
		kind := iir.BandShelf
		switch i {
		case 0:
			kind = iir.LowShelf
		case len(gains) - 1:
			kind = iir.HighShelf
		}
		bw := bandwidthFor(freqs, i)
		coeffs[i] = iir.CalculateBiquadCoefficients(kind, freqs[i], bw, float64(e.format.SampleRate), g)
	}

	chain := iir.NewChain(coeffs, e.format.Channels)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.chain = chain
	e.on = on
	e.preAmpDb = preAmpDb
	e.wireCallbacks()
	return nil
}

// PlayBegins sets currentReplayGain directly to replayGainDb with no
// ramp, per the per-track reset contract.
func (e *Equalizer) PlayBegins(replayGainDb float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.targetReplayGainDb = replayGainDb
	e.currentReplayGainDb = replayGainDb
}

// SetTargetReplayGain updates the value the ramp chases, called
// whenever the analyzer emits a new measurement.
func (e *Equalizer) SetTargetReplayGain(db float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.targetReplayGainDb = db
}

// wireCallbacks installs the raw-sample callback that applies
// pre-amp + ramped replay-gain as a multiplicative factor, called
// while e.mu is held.
func (e *Equalizer) wireCallbacks() {
	e.chain.SetCallbackRaw(e.rampingGainCallback())
}

// rampingGainCallback returns the raw-sample callback shared by the
// filtered and bypass paths: it advances currentReplayGain toward
// targetReplayGain by at most maxRampDbPerSecond, snapping once the
// gap is below snapThresholdDb, then applies preamp+replay-gain as a
// multiplicative factor on every channel.
func (e *Equalizer) rampingGainCallback() iir.SampleCallback {
	perSampleRampDb := maxRampDbPerSecond / float64(e.format.SampleRate)
	return func(channel int, value float64) float64 {
		if channel == 0 {
			delta := e.targetReplayGainDb - e.currentReplayGainDb
			if math.Abs(delta) < snapThresholdDb {
				e.currentReplayGainDb = e.targetReplayGainDb
			} else if delta > 0 {
				e.currentReplayGainDb += math.Min(perSampleRampDb, delta)
			} else {
				e.currentReplayGainDb -= math.Min(perSampleRampDb, -delta)
			}
			if e.onReplayGainChanged != nil {
				e.onReplayGainChanged(e.currentReplayGainDb)
			}
		}
		factor := math.Pow(10, (e.currentReplayGainDb+e.preAmpDb)/20)
		return value * factor
	}
}

// ChunkAvailable processes chunks in place: if the chain is enabled it
// runs the full filter cascade (with gain applied via the raw
// callback); otherwise it bypasses filtering and applies only gain
// plus a soft clip, per the bypass contract.
func (e *Equalizer) ChunkAvailable(chunks []audio.Chunk, sampleType audio.SampleType) error {
	e.mu.Lock()
	chain := e.chain
	on := e.on
	defer e.mu.Unlock()

	for i := range chunks {
		if on && chain != nil {
			if err := chain.ProcessPCMData(chunks[i].Data, chunks[i].Len(), sampleType, e.format.Channels); err != nil {
				return err
			}
			continue
		}
		if err := e.applyGainBypass(chunks[i].Data, sampleType); err != nil {
			return err
		}
	}
	return nil
}

// applyGainBypass applies pre-amp + replay-gain and a soft clip
// without running the filter cascade, used when EQ is switched off.
func (e *Equalizer) applyGainBypass(buf []byte, sampleType audio.SampleType) error {
	bypass := iir.NewChain(nil, e.format.Channels)
	bypass.SetCallbackRaw(e.rampingGainCallback())
	bypass.SetCallbackFiltered(func(_ int, v float64) float64 {
		return softClip(v)
	})
	return bypass.ProcessPCMData(buf, len(buf), sampleType, e.format.Channels)
}

// softClip limits i16-scaled magnitude samples smoothly near full
// scale instead of hard-clamping, avoiding audible crackle when
// pre-amp pushes a sample slightly over range.
func softClip(v float64) float64 {
	const ceiling = 32767.0
	if v > ceiling*0.9 {
		over := (v - ceiling*0.9) / (ceiling * 0.1)
		return ceiling*0.9 + (ceiling*0.1)*math.Tanh(over)
	}
	if v < -ceiling*0.9 {
		over := (v + ceiling*0.9) / (ceiling * 0.1)
		return -ceiling*0.9 + (ceiling*0.1)*math.Tanh(over)
	}
	return v
}
