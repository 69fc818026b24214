// Package pipeline assembles decoder, cache, analyzer, equalizer, and
// output into one per-track processing graph, owns its lifecycle state
// machine, and applies the fade envelope on equalized chunks, grounded
// on original_source/track.cpp.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/wk-j/waveplayer/internal/analyzer"
	"github.com/wk-j/waveplayer/internal/audio"
	"github.com/wk-j/waveplayer/internal/decoder"
	"github.com/wk-j/waveplayer/internal/device"
	"github.com/wk-j/waveplayer/internal/equalizer"
	"github.com/wk-j/waveplayer/internal/output"
	"github.com/wk-j/waveplayer/internal/pcmcache"
	"github.com/wk-j/waveplayer/internal/track"
)

// DefaultFadeSeconds is used when a track carries no fadeDuration
// attribute.
const DefaultFadeSeconds = 4

// cachePollInterval is how often the cache-drain goroutine asks for
// the next chunk when the cache reports no data yet.
const cachePollInterval = 5 * time.Millisecond

// decoderHighWatermarkMs is how much buffered PCM accumulates before
// the decoder is cooperatively throttled, per original_source/
// preprocessor.cpp's producer/consumer throttle.
const decoderHighWatermarkMs = 5000

// decoderThrottleDelayUs is the per-iteration sleep applied to the
// decode loop while the cache sits above its high watermark.
const decoderThrottleDelayUs = 50_000

// Pipeline wires decoder -> cache -> analyzer -> equalizer -> output
// for one track, lazily starting stage goroutines as status advances.
type Pipeline struct {
	info   track.Info
	format audio.Format
	newDev func() device.OutputDevice

	log *log.Logger

	mu     sync.Mutex
	status track.Status
	fade   track.Fade

	dec *decoder.Decoder
	cch *pcmcache.Cache
	ana *analyzer.Analyzer
	eql *equalizer.Equalizer
	out *output.Output

	cancel context.CancelFunc
	group  *errgroup.Group

	decoderDone       atomic.Bool
	everPlayed        atomic.Bool
	shortFade         atomic.Bool
	replayGainStarted atomic.Bool
	trackLengthMs     int64
	fadeoutStartMs    int64

	onPosition     func(ms int64)
	onFinished     func()
	onError        func(error)
	onFadeoutStart func()
	onPeakFn       func(lPeak, rPeak float64, delayUs int64)
}

// New creates a Pipeline for info, not yet started (status Idle).
func New(info track.Info, format audio.Format, newDev func() device.OutputDevice, trackLengthMs int64) *Pipeline {
	return &Pipeline{
		info:          info,
		format:        format,
		newDev:        newDev,
		trackLengthMs: trackLengthMs,
		log:           log.With("component", "pipeline", "track", info.Title),
	}
}

func (p *Pipeline) OnPosition(fn func(ms int64)) { p.onPosition = fn }
func (p *Pipeline) OnFinished(fn func())         { p.onFinished = fn }
func (p *Pipeline) OnError(fn func(error))       { p.onError = fn }
func (p *Pipeline) OnFadeoutStart(fn func())     { p.onFadeoutStart = fn }

// OnPeak wires the output stage's peak callback. Before Playing there
// is no output stage yet, so fn is only recorded in onPeakFn and
// startPlaybackStages registers it once the output stage exists.
func (p *Pipeline) OnPeak(fn func(lPeak, rPeak float64, delayUs int64)) {
	p.mu.Lock()
	p.onPeakFn = fn
	out := p.out
	p.mu.Unlock()
	if out != nil {
		out.OnPeak(fn)
	}
}

// Status returns the current lifecycle state.
func (p *Pipeline) Status() track.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// fadeDurationSeconds resolves the track's fadeDuration attribute or
// DefaultFadeSeconds, halved when the controller has marked this
// track's upcoming crossfade as a short (same-album, adjacent-track)
// one, per original_source/track.cpp.
func (p *Pipeline) fadeDurationSeconds() int {
	secs := DefaultFadeSeconds
	if v, ok := p.info.Attr("fadeDuration"); ok {
		var parsed int
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil && parsed > 0 {
			secs = parsed
		}
	}
	if p.shortFade.Load() {
		secs /= 2
		if secs < 1 {
			secs = 1
		}
	}
	return secs
}

// SetShortFade marks this track's upcoming fade-out (and, if it hasn't
// started playing yet, its fade-in) as a short crossfade, halving the
// configured fade duration, and recomputes fadeoutStartMs if the
// fade-out hasn't already begun.
func (p *Pipeline) SetShortFade(short bool) {
	p.shortFade.Store(short)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fade.Short = short
	if p.fade.Direction != track.FadeOut && p.trackLengthMs > 0 {
		p.fadeoutStartMs = p.trackLengthMs - int64(p.fadeDurationSeconds()+1)*1000
	}
}

// SetStatus drives the lifecycle state machine. Transitions to the
// same state are no-ops. Decoding lazily starts decoder/cache/analyzer;
// the first transition to Playing additionally starts
// equalizer/output. Idle requests interruption of every running stage
// in output->equalizer->analyzer->cache->decoder order and joins them.
func (p *Pipeline) SetStatus(ctx context.Context, s track.Status, fadeTags []string) error {
	p.mu.Lock()
	if p.status == s {
		p.mu.Unlock()
		return nil
	}
	wasPaused := p.status == track.Paused
	p.status = s
	p.mu.Unlock()

	switch s {
	case track.Decoding:
		return p.startDecodeStages(ctx)
	case track.Playing:
		// startDecodeStages/startPlaybackStages are each idempotent
		// (guarded on their stage fields), so Playing reached directly
		// from Idle (immediate play) and Playing reached after an
		// earlier Decoding call (pre-decoded-ahead track) both start
		// whatever hasn't started yet.
		if err := p.startDecodeStages(ctx); err != nil {
			return err
		}
		if err := p.startPlaybackStages(ctx); err != nil {
			return err
		}
		if wasPaused {
			p.mu.Lock()
			out := p.out
			p.mu.Unlock()
			if out != nil {
				if err := out.Resume(); err != nil {
					return err
				}
			}
		}
		if p.everPlayed.CompareAndSwap(false, true) && p.info.IntersectsTags(fadeTags) {
			p.mu.Lock()
			framesPerPercent := framesFor(p.fadeDurationSeconds()*1000/100, p.format)
			p.fade.Start(track.FadeIn, framesPerPercent, p.format.Channels)
			p.fadeoutStartMs = p.trackLengthMs - int64(p.fadeDurationSeconds()+1)*1000
			p.mu.Unlock()
		}
		return nil
	case track.Paused:
		// The cache/analyzer/equalizer stages keep running against ctx;
		// only the device-facing output stage stops and flushes, so
		// resume re-anchors position on the first post-resume chunk
		// without re-decoding anything already cached.
		p.mu.Lock()
		out := p.out
		p.mu.Unlock()
		if out != nil {
			return out.Pause()
		}
		return nil
	case track.Idle:
		p.teardown()
		return nil
	}
	return nil
}

// SetEqualizerGains reconfigures the running equalizer's filter chain,
// a no-op until playback stages have started.
func (p *Pipeline) SetEqualizerGains(on bool, gains []float64, preAmpDb float64) error {
	p.mu.Lock()
	eql := p.eql
	p.mu.Unlock()
	if eql == nil {
		return nil
	}
	return eql.SetGains(on, gains, preAmpDb)
}

// SetPeakFps adjusts the output stage's peak-callback rate, used by
// the controller's FPS adaptation.
func (p *Pipeline) SetPeakFps(fps int) {
	p.mu.Lock()
	out := p.out
	p.mu.Unlock()
	if out != nil {
		out.SetPeakFps(fps)
	}
}

// framesFor converts a millisecond duration into a frame count at
// format's sample rate.
func framesFor(ms int, format audio.Format) int64 {
	return int64(ms) * int64(format.SampleRate) / 1000
}

func (p *Pipeline) startDecodeStages(ctx context.Context) error {
	p.mu.Lock()
	if p.dec != nil {
		p.mu.Unlock()
		return nil
	}
	stageCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	group, gctx := errgroup.WithContext(stageCtx)
	p.group = group

	_, radio := p.info.Attr("radioStation")
	cache, err := pcmcache.New(p.format, p.trackLengthMs, radio, "")
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: create cache: %w", err)
	}
	p.cch = cache

	p.dec = decoder.New(p.format)
	p.ana = analyzer.New(p.format)
	p.mu.Unlock()

	analyzerFeed := make(chan audio.Chunk, 64)

	p.dec.OnBuffer(func(c audio.Chunk) {
		if err := p.cch.StoreBuffer(c.Data); err != nil {
			p.reportError(fmt.Errorf("pipeline: store buffer: %w", err))
			return
		}
		select {
		case analyzerFeed <- c:
		default:
		}
	})
	p.dec.OnError(func(err error) { p.reportError(err) })
	p.dec.OnFinished(func() {
		p.decoderDone.Store(true)
		close(analyzerFeed)
	})
	if radio {
		p.dec.OnRadioTitle(func(title string) {
			p.ana.RequestReset()
		})
	}

	group.Go(func() error {
		return p.dec.Run(gctx, p.info.URL)
	})
	group.Go(func() error {
		p.ana.Run(gctx, analyzerFeed, audio.SampleI16)
		return nil
	})

	return nil
}

func (p *Pipeline) startPlaybackStages(ctx context.Context) error {
	p.mu.Lock()
	if p.eql != nil {
		p.mu.Unlock()
		return nil
	}
	p.eql = equalizer.New(p.format)
	if err := p.eql.SetGains(false, []float64{0, 0, 0}, 0); err != nil {
		p.mu.Unlock()
		return err
	}
	p.out = output.New(p.format, p.newDev(), 20)
	group := p.group
	cch := p.cch
	p.mu.Unlock()

	p.ana.OnResult(func(r analyzer.Result) {
		if !r.Enabled {
			return
		}
		if p.replayGainStarted.CompareAndSwap(false, true) {
			p.eql.PlayBegins(r.ReplayGainDb)
			return
		}
		p.eql.SetTargetReplayGain(r.ReplayGainDb)
	})

	p.out.OnPosition(func(ms int64) {
		p.checkFadeout(ms)
		if p.onPosition != nil {
			p.onPosition(ms)
		}
	})
	p.out.OnUnderrun(func() {
		p.log.Warn("output underrun")
	})
	if p.onPeakFn != nil {
		p.out.OnPeak(p.onPeakFn)
	}

	cacheChunks := make(chan audio.Chunk, 64)
	cch.OnChunk(func(c audio.Chunk) {
		select {
		case cacheChunks <- c:
		case <-ctx.Done():
		}
	})
	cch.OnError(func(err error) { p.reportError(err) })

	eqChunks := make(chan audio.Chunk, 64)

	group.Go(func() error {
		ticker := time.NewTicker(cachePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if p.decoderDone.Load() {
					close(cacheChunks)
					return nil
				}
				cch.RequestNextPCMChunk()
				p.throttleDecoder(cch)
			}
		}
	})

	group.Go(func() error {
		defer close(eqChunks)
		for c := range cacheChunks {
			batch := []audio.Chunk{c}
			if err := p.eql.ChunkAvailable(batch, audio.SampleI16); err != nil {
				return err
			}
			p.applyFade(&batch[0])
			select {
			case eqChunks <- batch[0]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	group.Go(func() error {
		for c := range eqChunks {
			p.out.ChunkAvailable(c)
		}
		return nil
	})

	group.Go(func() error {
		err := p.out.Run(ctx, func() bool { return p.decoderDone.Load() })
		if err == nil && p.onFinished != nil {
			p.onFinished()
		}
		return err
	})

	return nil
}

// applyFade scales chunk.Data in place per the fade envelope and clears
// the envelope once a fade-out reaches silence.
func (p *Pipeline) applyFade(chunk *audio.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fade.Direction == track.FadeNone {
		return
	}
	width := p.format.BitsPerSample / 8
	wasFadingOut := p.fade.Direction == track.FadeOut
	for off := 0; off+width <= len(chunk.Data); off += width {
		v := readSampleWidth(chunk.Data[off:off+width], width)
		scaled := p.fade.ApplySample(v)
		writeSampleWidth(chunk.Data[off:off+width], width, scaled)
	}
	if wasFadingOut && p.fade.Finished() {
		p.fade.Direction = track.FadeNone
	}
}

// checkFadeout starts the fade-out envelope once position crosses
// fadeoutStartMs and fires onFadeoutStart at that same moment — the
// fade-out's beginning, not its end — so the controller can start the
// next track and let both pipelines overlap for the fade window.
func (p *Pipeline) checkFadeout(positionMs int64) {
	p.mu.Lock()
	fire := false
	if p.fadeoutStartMs > 0 && positionMs >= p.fadeoutStartMs && p.fade.Direction != track.FadeOut {
		framesPerPercent := framesFor(p.fadeDurationSeconds()*1000/100, p.format)
		p.fade.Start(track.FadeOut, framesPerPercent, p.format.Channels)
		fire = true
	}
	p.mu.Unlock()
	if fire && p.onFadeoutStart != nil {
		p.onFadeoutStart()
	}
}

// throttleDecoder compares the cache's buffered duration against
// decoderHighWatermarkMs and sleeps the decode loop once it's ahead,
// the cooperative throttle original_source/preprocessor.cpp applies so
// an unbounded memory cache can't grow past what playback will ever
// need before a pause or seek.
func (p *Pipeline) throttleDecoder(cch *pcmcache.Cache) {
	p.mu.Lock()
	dec := p.dec
	p.mu.Unlock()
	if dec == nil {
		return
	}
	if cch.BufferedMs() > decoderHighWatermarkMs {
		dec.SetDecoderDelay(decoderThrottleDelayUs)
	} else {
		dec.SetDecoderDelay(0)
	}
}

func (p *Pipeline) reportError(err error) {
	p.log.Error("pipeline error", "err", err)
	if p.onError != nil {
		p.onError(err)
	}
}

// teardown requests interruption on every running stage (a single ctx
// cancellation reaches all of them, since output->equalizer->analyzer
// ->cache->decoder are chained by channels that close in that same
// order once the cancellation propagates) and joins them.
func (p *Pipeline) teardown() {
	p.mu.Lock()
	cancel := p.cancel
	group := p.group
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cch != nil {
		p.cch.Close()
	}
	p.dec, p.cch, p.ana, p.eql, p.out = nil, nil, nil, nil, nil
	p.cancel, p.group = nil, nil
}

func readSampleWidth(b []byte, width int) float64 {
	switch width {
	case 2:
		return float64(int16(uint16(b[0]) | uint16(b[1])<<8))
	default:
		return 0
	}
}

func writeSampleWidth(b []byte, width int, v float64) {
	switch width {
	case 2:
		iv := int16(v)
		b[0] = byte(iv)
		b[1] = byte(iv >> 8)
	}
}
