// Package analyzer runs ReplayGain analysis over decoded PCM on its
// own goroutine, mirroring the original's dedicated analyzer thread so
// the CPU cost of the filter cascade never competes with the
// real-time output path, grounded on
// original_source/analyzer.cpp and original_source/preanalyzer.cpp.
package analyzer

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/wk-j/waveplayer/internal/audio"
	"github.com/wk-j/waveplayer/internal/replaygain"
)

// emitIntervalUs is the minimum processed-audio span between periodic
// replayGain emissions.
const emitIntervalUs = 4_000_000

// Result is the final computed gain adjustment for one track, or a
// disabled result when the sample rate is unsupported.
type Result struct {
	ReplayGainDb float64
	Enabled      bool
}

// Analyzer consumes PCM buffers in arrival order and produces Results
// from Run: periodically while buffers arrive, and once more when the
// buffer channel closes or the context is cancelled.
type Analyzer struct {
	calc   *replaygain.Calculator
	format audio.Format
	log    *log.Logger

	onResult func(Result)
	resetCh  chan struct{}
}

// New creates an Analyzer for format's sample rate and channel count.
func New(format audio.Format) *Analyzer {
	return &Analyzer{
		calc:    replaygain.NewCalculator(format.SampleRate, format.Channels),
		format:  format,
		log:     log.With("component", "analyzer"),
		resetCh: make(chan struct{}, 1),
	}
}

// OnResult registers the callback invoked each time Run emits a Result.
func (a *Analyzer) OnResult(fn func(Result)) { a.onResult = fn }

// Feed pushes one decoded buffer's samples through the weighting
// filter and into the RMS accumulator. It is safe to call repeatedly
// from the decoder's buffer-ready callback; Feed itself does no
// locking, so callers must serialize calls (the pipeline feeds from a
// single consumer goroutine per track, matching the original's
// single-writer analyzer queue).
func (a *Analyzer) Feed(buf []byte, sampleType audio.SampleType) error {
	if !a.calc.Enabled() {
		return nil
	}
	a.calc.Chain().SetCallbackFiltered(func(channel int, value float64) float64 {
		a.calc.FeedFilteredSample(channel, value)
		return value
	})
	return a.calc.Chain().ProcessPCMData(buf, len(buf), sampleType, a.format.Channels)
}

// Run drains buf over ctx's lifetime, calling Feed for each one. Every
// emitIntervalUs of processed audio it emits the running
// CalculateResult via onResult so the equalizer's target replay gain
// tracks the measurement as it matures, plus a final emission once the
// channel closes or ctx is cancelled.
func (a *Analyzer) Run(ctx context.Context, buffers <-chan audio.Chunk, sampleType audio.SampleType) {
	var processedUs int64
	for {
		select {
		case <-ctx.Done():
			a.finish()
			return
		case <-a.resetCh:
			a.calc.Reset()
			processedUs = 0
		case chunk, ok := <-buffers:
			if !ok {
				a.finish()
				return
			}
			if err := a.Feed(chunk.Data, sampleType); err != nil {
				a.log.Warn("analyzer feed error", "err", err)
				continue
			}
			if !a.calc.Enabled() {
				continue
			}
			processedUs += a.format.DurationForBytes(int64(len(chunk.Data)))
			if processedUs >= emitIntervalUs {
				processedUs -= emitIntervalUs
				a.emit()
			}
		}
	}
}

func (a *Analyzer) emit() {
	if a.onResult != nil {
		a.onResult(Result{ReplayGainDb: a.calc.CalculateResult(), Enabled: true})
	}
}

func (a *Analyzer) finish() {
	if !a.calc.Enabled() {
		if a.onResult != nil {
			a.onResult(Result{Enabled: false})
		}
		return
	}
	a.emit()
}

// Reset clears accumulated statistics so the Analyzer can be reused
// across a cache-replay re-analysis, matching the original's
// "re-analyze on loop" behavior for short tracks. It must only be
// called from the Run goroutine.
func (a *Analyzer) Reset() { a.calc.Reset() }

// RequestReset schedules a Reset from Run's own goroutine. Safe to
// call concurrently, e.g. from the decoder's radio-title callback.
func (a *Analyzer) RequestReset() {
	select {
	case a.resetCh <- struct{}{}:
	default:
	}
}
