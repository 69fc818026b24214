// Package controller owns the playlist queue, crossfade decision and
// execution, shuffle scheduling against a catalog server, and
// peak-meter FPS adaptation, grounded on original_source/waver.cpp and
// wk-j-cliamp/playlist/playlist.go's shuffle/repeat idiom generalized
// from a single-process playlist to a controller-owned pipeline queue.
package controller

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wk-j/waveplayer/internal/audio"
	"github.com/wk-j/waveplayer/internal/catalog"
	"github.com/wk-j/waveplayer/internal/config"
	"github.com/wk-j/waveplayer/internal/device"
	"github.com/wk-j/waveplayer/internal/pipeline"
	"github.com/wk-j/waveplayer/internal/track"
)

// RepeatMode controls what happens once the queue runs dry.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

func (r RepeatMode) String() string {
	switch r {
	case RepeatAll:
		return "All"
	case RepeatOne:
		return "One"
	default:
		return "Off"
	}
}

// CrossfadeDecision is the outcome of comparing two adjacent tracks'
// tags and album position.
type CrossfadeDecision int

const (
	PlayNormal CrossfadeDecision = iota
	Crossfade
	ShortCrossfade
)

// peakLagCheckCount is how many peak callbacks elapse between FPS
// adaptation checks.
const peakLagCheckCount = 10

// preDecodeLeadMs is the fixed lead time (beyond the next track's
// fade-in length) at which the controller starts decoding it ahead of
// cutover.
const preDecodeLeadMs = 20_000

// maxConsecutiveStartFailures is how many consecutive "unable to
// start" pipeline errors (transient network or decoder/codec errors
// reported before a track ever reaches Playing) the controller
// tolerates before marking itself dead. Such errors are recovered
// silently unless they recur back to back.
const maxConsecutiveStartFailures = 3

// entry is one playlist slot: the track metadata plus its pipeline,
// created lazily when the entry is promoted out of Idle.
type entry struct {
	info     track.Info
	lengthMs int64
	pipeline *pipeline.Pipeline
	status   track.Status
}

// Controller owns the playlist, history, shuffle scheduling and
// crossfade orchestration for a queue of tracks played back to back.
type Controller struct {
	cfg    config.Config
	format audio.Format
	newDev func() device.OutputDevice
	log    *log.Logger

	catalogClients []*catalog.Client

	mu       sync.Mutex
	queue    []*entry
	history  []*entry
	current  *entry
	previous *entry

	shuffled bool
	repeat   RepeatMode

	consecutiveFailures int
	dead                bool

	shuffleTimer   *time.Timer
	shuffleRR      int
	peakFps        int
	peakCallbacks  int
	lastPeakChange time.Time
	lastPeakLagMs  int

	onTrackChanged func(track.Info)
	onPositionMs   func(ms int64)
	onPeak         func(lPeak, rPeak float64, delayUs int64)
	onError        func(error)
}

// New creates a Controller for a fixed PCM format, using newDev to
// build a fresh OutputDevice per pipeline.
func New(cfg config.Config, format audio.Format, newDev func() device.OutputDevice) *Controller {
	return &Controller{
		cfg:     cfg,
		format:  format,
		newDev:  newDev,
		log:     log.With("component", "controller"),
		peakFps: cfg.MaxPeakFPS,
	}
}

func (c *Controller) OnTrackChanged(fn func(track.Info))                  { c.onTrackChanged = fn }
func (c *Controller) OnPosition(fn func(ms int64))                        { c.onPositionMs = fn }
func (c *Controller) OnPeak(fn func(lPeak, rPeak float64, delayUs int64)) { c.onPeak = fn }
func (c *Controller) OnError(fn func(error))                              { c.onError = fn }

// AddCatalogClient registers a server the shuffle scheduler may draw
// from, round-robining across all registered clients.
func (c *Controller) AddCatalogClient(cl *catalog.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalogClients = append(c.catalogClients, cl)
}

// Enqueue appends tracks to the playlist, in Idle state, deriving each
// track's length hint from its "time" attribute (seconds) when present.
func (c *Controller) Enqueue(infos ...track.Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, info := range infos {
		c.queue = append(c.queue, &entry{info: info, lengthMs: lengthMsFromInfo(info), status: track.Idle})
	}
	c.cancelShuffleTimerLocked()
}

func lengthMsFromInfo(info track.Info) int64 {
	if v, ok := info.Attr("time"); ok {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			return secs * 1000
		}
	}
	return 0
}

// Len returns the number of tracks remaining in the queue (current and
// upcoming, excluding history).
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// DecideCrossfade decides the crossfade behavior for the adjacent
// pair a -> b: same-album tracks one apart both carrying a
// crossfade tag get the short fade; any other pair both carrying a
// crossfade tag gets the full crossfade; otherwise tracks play back to
// back with no overlap.
func DecideCrossfade(a, b track.Info, crossfadeTags []string) CrossfadeDecision {
	if !a.IntersectsTags(crossfadeTags) || !b.IntersectsTags(crossfadeTags) {
		return PlayNormal
	}
	sameAlbum := a.Album != "" && a.Album == b.Album && abs(a.TrackNum-b.TrackNum) == 1
	if sameAlbum {
		return ShortCrossfade
	}
	return Crossfade
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Start begins playback of the queue's first track.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return nil
	}
	head := c.queue[0]
	c.current = head
	c.mu.Unlock()

	return c.playEntry(ctx, head, true, false)
}

// playEntry transitions an entry's pipeline through Decoding then
// Playing, wiring its callbacks, optionally honoring the global
// fade-in configuration (suppressed for a track started mid-crossfade,
// which instead fades in under the crossfade decision). short marks
// the fade envelope as the halved-duration short crossfade.
func (c *Controller) playEntry(ctx context.Context, e *entry, applyFadeTags, short bool) error {
	c.mu.Lock()
	if e.pipeline == nil {
		e.pipeline = pipeline.New(e.info, c.format, c.newDev, e.lengthMs)
		c.wireEntry(e)
	}
	e.pipeline.SetShortFade(short)
	c.mu.Unlock()

	if e.status != track.Decoding {
		if err := e.pipeline.SetStatus(ctx, track.Decoding, nil); err != nil {
			return err
		}
		e.status = track.Decoding
	}

	fadeTags := []string(nil)
	if applyFadeTags {
		fadeTags = c.cfg.FadeTags
	} else {
		fadeTags = c.cfg.CrossfadeTags
	}
	if err := e.pipeline.SetStatus(ctx, track.Playing, fadeTags); err != nil {
		return err
	}
	e.status = track.Playing
	c.resetStartFailures()

	if c.onTrackChanged != nil {
		c.onTrackChanged(e.info)
	}
	return nil
}

func (c *Controller) wireEntry(e *entry) {
	e.pipeline.OnPosition(func(ms int64) {
		if c.onPositionMs != nil {
			c.onPositionMs(ms)
		}
		c.checkPreDecode(e, ms)
	})
	e.pipeline.OnPeak(func(l, r float64, delayUs int64) {
		c.adaptPeakFps(e)
		if c.onPeak != nil {
			c.onPeak(l, r, delayUs)
		}
	})
	e.pipeline.OnError(func(err error) {
		if e.status != track.Playing {
			c.recordStartFailure(err)
		}
		if c.onError != nil {
			c.onError(err)
		}
	})
	e.pipeline.OnFadeoutStart(func() {
		c.onFadeoutStarted(e)
	})
	e.pipeline.OnFinished(func() {
		c.onTrackFinished(e)
	})
}

// checkPreDecode implements the "pre-decoding ahead" rule: once the
// current track's remaining time is within preDecodeLeadMs plus the
// next track's fade-in length, start decoding it. It also marks e's
// own fade-out short as soon as the adjacent-pair decision is known,
// so the fade-out duration used by fadeoutStartMs reflects it before
// position ever reaches that threshold.
func (c *Controller) checkPreDecode(e *entry, positionMs int64) {
	c.mu.Lock()
	if c.current != e {
		c.mu.Unlock()
		return
	}
	next := c.nextAfterLocked(e)
	if next == nil {
		c.mu.Unlock()
		return
	}
	decision := DecideCrossfade(e.info, next.info, c.cfg.CrossfadeTags)
	pipe := e.pipeline
	c.mu.Unlock()
	if pipe != nil {
		pipe.SetShortFade(decision == ShortCrossfade)
	}

	c.mu.Lock()
	if next.status != track.Idle {
		c.mu.Unlock()
		return
	}
	remaining := e.lengthMs - positionMs
	nextFadeInMs := int64(0)
	if next.info.IntersectsTags(c.cfg.FadeTags) {
		nextFadeInMs = int64(c.cfg.FadeSeconds * 1000)
	}
	start := remaining <= preDecodeLeadMs+nextFadeInMs
	if start {
		next.status = track.Decoding
		if next.pipeline == nil {
			next.pipeline = pipeline.New(next.info, c.format, c.newDev, next.lengthMs)
			c.wireEntry(next)
		}
	}
	c.mu.Unlock()

	if start {
		go func() {
			if err := next.pipeline.SetStatus(context.Background(), track.Decoding, nil); err != nil && c.onError != nil {
				c.onError(err)
			}
		}()
	}
}

// nextAfterLocked returns the queue entry immediately after e, or nil.
// Caller must hold c.mu.
func (c *Controller) nextAfterLocked(e *entry) *entry {
	for i, q := range c.queue {
		if q == e && i+1 < len(c.queue) {
			return c.queue[i+1]
		}
	}
	return nil
}

// onFadeoutStarted implements crossfade execution: when the decision
// for the current pair is not PlayNormal, promote the fading-out track
// to previousTrack, make the next queued track current, and start it
// concurrently (it may already be Decoding from pre-decode-
// ahead). Both pipelines then run independently to completion; the
// fading-out track's own onTrackFinished teardown retires it once its
// fade-out and output queue drain.
func (c *Controller) onFadeoutStarted(e *entry) {
	c.mu.Lock()
	next := c.nextAfterLocked(e)
	decision := PlayNormal
	if next != nil {
		decision = DecideCrossfade(e.info, next.info, c.cfg.CrossfadeTags)
	}
	if decision == PlayNormal || next == nil || next.status == track.Playing {
		c.mu.Unlock()
		return
	}
	c.previous = e
	if c.current == e {
		c.current = next
	}
	c.mu.Unlock()

	go func() {
		if err := c.playEntry(context.Background(), next, false, decision == ShortCrossfade); err != nil && c.onError != nil {
			c.onError(err)
		}
	}()
}

// onTrackFinished retires e (Idle, dropped from the queue, pushed onto
// history) and applies the repeat mode: RepeatOne requeues a fresh copy
// of e's track at the front instead of letting it drain; RepeatAll
// refills an emptied queue from history (reshuffled if shuffle is on)
// before falling back to shuffle scheduling.
func (c *Controller) onTrackFinished(e *entry) {
	c.mu.Lock()
	for i, q := range c.queue {
		if q == e {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	if c.current == e {
		c.current = nil
	}
	if c.previous == e {
		c.previous = nil
	}

	if c.repeat == RepeatOne {
		c.queue = append([]*entry{{info: e.info, lengthMs: e.lengthMs, status: track.Idle}}, c.queue...)
	} else {
		c.history = append(c.history, e)
	}

	if len(c.queue) == 0 && c.repeat == RepeatAll && len(c.history) > 0 {
		c.queue, c.history = c.history, nil
		for _, q := range c.queue {
			q.status = track.Idle
			q.pipeline = nil
		}
		if c.shuffled {
			c.shuffleQueueLocked()
		}
	}
	empty := len(c.queue) == 0
	c.mu.Unlock()

	if e.pipeline != nil {
		_ = e.pipeline.SetStatus(context.Background(), track.Idle, nil)
	}

	if empty {
		c.scheduleShuffle()
	}
}

// ToggleShuffle flips shuffle on or off, reordering the upcoming queue
// (the currently-playing entry, if any, stays at the front) via
// Fisher-Yates the way wk-j-cliamp/playlist.go's doShuffle does.
func (c *Controller) ToggleShuffle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuffled = !c.shuffled
	if c.shuffled {
		c.shuffleQueueLocked()
	}
}

// shuffleQueueLocked Fisher-Yates shuffles c.queue, holding any entry
// already Decoding/Playing at index 0. Caller must hold c.mu.
func (c *Controller) shuffleQueueLocked() {
	if len(c.queue) < 2 {
		return
	}
	start := 0
	if c.queue[0].status != track.Idle {
		start = 1
	}
	rest := c.queue[start:]
	for i := len(rest) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		rest[i], rest[j] = rest[j], rest[i]
	}
}

// Shuffled reports whether shuffle is currently enabled.
func (c *Controller) Shuffled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shuffled
}

// Pause pauses the current track in place: the output device stops and
// drops its queued bytes, while decode/cache/analyze/equalize keep
// running so Resume can re-anchor position on the next chunk without
// losing decoded work.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil || cur.pipeline == nil {
		return nil
	}
	err := cur.pipeline.SetStatus(ctx, track.Paused, nil)
	cur.status = track.Paused
	return err
}

// Resume resumes the current track after Pause.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil || cur.pipeline == nil {
		return nil
	}
	err := cur.pipeline.SetStatus(ctx, track.Playing, nil)
	cur.status = track.Playing
	return err
}

// CycleRepeat advances the repeat mode Off -> All -> One -> Off.
func (c *Controller) CycleRepeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repeat = (c.repeat + 1) % 3
}

// Repeat returns the current repeat mode.
func (c *Controller) Repeat() RepeatMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repeat
}

// recordStartFailure counts a pipeline error reported before its
// track ever reached Playing. Crossing maxConsecutiveStartFailures
// marks the controller dead; original_source/track.cpp resets this
// counter on any successful Playing transition, mirrored in
// resetStartFailures.
func (c *Controller) recordStartFailure(err error) {
	c.mu.Lock()
	c.consecutiveFailures++
	wentDead := c.consecutiveFailures >= maxConsecutiveStartFailures && !c.dead
	if wentDead {
		c.dead = true
	}
	c.mu.Unlock()
	if wentDead {
		c.log.Error("too many consecutive start failures, marking controller dead", "count", c.consecutiveFailures, "lastErr", err)
	}
}

func (c *Controller) resetStartFailures() {
	c.mu.Lock()
	c.consecutiveFailures = 0
	c.mu.Unlock()
}

// Dead reports whether the controller has given up after too many
// consecutive unable-to-start events.
func (c *Controller) Dead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}

// scheduleShuffle starts the shuffle countdown timer if servers are
// registered, firing a catalog shuffle fetch on expiry.
func (c *Controller) scheduleShuffle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.catalogClients) == 0 {
		return
	}
	c.cancelShuffleTimerLocked()
	delay := time.Duration(c.cfg.ShuffleDelaySeconds) * time.Second
	c.shuffleTimer = time.AfterFunc(delay, c.runShuffle)
}

func (c *Controller) cancelShuffleTimerLocked() {
	if c.shuffleTimer != nil {
		c.shuffleTimer.Stop()
		c.shuffleTimer = nil
	}
}

// runShuffle picks the next catalog server round-robin, issues
// favorites and regulars shuffle ops, interleaves them at
// shuffleFavoriteFrequency, and enqueues the resulting tracks.
func (c *Controller) runShuffle() {
	c.mu.Lock()
	if len(c.catalogClients) == 0 {
		c.mu.Unlock()
		return
	}
	cl := c.catalogClients[c.shuffleRR%len(c.catalogClients)]
	c.shuffleRR++
	freq := c.cfg.ShuffleFavoriteFrequency
	count := c.cfg.ShuffleCount
	c.mu.Unlock()

	favorites, err := cl.Enqueue(catalog.OpShuffleFavorites, catalog.OpData{Limit: count})
	if err != nil {
		c.log.Error("shuffle favorites fetch failed", "err", err)
		favorites = nil
	}
	regulars, err := cl.Enqueue(catalog.OpShuffleRecent, catalog.OpData{Limit: count})
	if err != nil {
		c.log.Error("shuffle regulars fetch failed", "err", err)
		regulars = nil
	}
	if len(favorites) == 0 && len(regulars) == 0 {
		return
	}

	mixed := catalog.InterleaveShuffle(favorites, regulars, count, freq)
	infos := make([]track.Info, 0, len(mixed))
	for _, r := range mixed {
		infos = append(infos, infoFromResult(r))
	}
	c.Enqueue(infos...)
}

func infoFromResult(r catalog.OpResult) track.Info {
	info := track.Info{
		ID:     r["id"],
		URL:    r["url"],
		Artist: r["artist"],
		Album:  r["album"],
		Title:  r["title"],
		Attrs:  map[string]string{},
	}
	if v := r["track"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.TrackNum = n
		}
	}
	if v := r["time"]; v != "" {
		info.Attrs["time"] = v
	}
	if tags := r["tags"]; tags != "" {
		info.Tags = splitTags(tags)
	}
	return info
}

func splitTags(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// ReportPeakUILag feeds the UI's measured render lag into the FPS
// adaptation.
func (c *Controller) ReportPeakUILag(ms int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPeakLagMs = ms
}

// adaptPeakFps implements "every peakLagCheckCount peak callbacks, if
// last-reported lag > 0, decrease peakFps; else if peakFps is below
// its max and at least 150ms has elapsed since the last change,
// increase by 1."
func (c *Controller) adaptPeakFps(e *entry) {
	c.mu.Lock()
	c.peakCallbacks++
	if c.peakCallbacks < peakLagCheckCount {
		c.mu.Unlock()
		return
	}
	c.peakCallbacks = 0
	lag := c.lastPeakLagMs
	changed := false
	if lag > 0 {
		c.peakFps = maxInt(1, int(1000/(1000.0/float64(c.peakFps)+float64(lag))))
		changed = true
	} else if c.peakFps < c.cfg.MaxPeakFPS && time.Since(c.lastPeakChange) >= 150*time.Millisecond {
		c.peakFps++
		changed = true
	}
	fps := c.peakFps
	if changed {
		c.lastPeakChange = time.Now()
	}
	c.mu.Unlock()

	if changed && e.pipeline != nil {
		e.pipeline.SetPeakFps(fps)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
