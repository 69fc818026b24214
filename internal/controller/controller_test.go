package controller

import (
	"testing"
	"time"

	"github.com/wk-j/waveplayer/internal/audio"
	"github.com/wk-j/waveplayer/internal/catalog"
	"github.com/wk-j/waveplayer/internal/config"
	"github.com/wk-j/waveplayer/internal/device"
	"github.com/wk-j/waveplayer/internal/track"
)

func TestDecideCrossfadeShortForAdjacentSameAlbum(t *testing.T) {
	a := track.Info{Album: "Live In Tokyo", TrackNum: 3, Tags: []string{"live"}}
	b := track.Info{Album: "Live In Tokyo", TrackNum: 4, Tags: []string{"live"}}
	if got := DecideCrossfade(a, b, []string{"live"}); got != ShortCrossfade {
		t.Fatalf("expected ShortCrossfade, got %v", got)
	}
}

func TestDecideCrossfadeFullWhenNotSameAlbum(t *testing.T) {
	a := track.Info{Album: "A", TrackNum: 1, Tags: []string{"live"}}
	b := track.Info{Album: "B", TrackNum: 1, Tags: []string{"live"}}
	if got := DecideCrossfade(a, b, []string{"live"}); got != Crossfade {
		t.Fatalf("expected Crossfade, got %v", got)
	}
}

func TestDecideCrossfadeFullWhenTrackNumbersNotAdjacent(t *testing.T) {
	a := track.Info{Album: "A", TrackNum: 1, Tags: []string{"live"}}
	b := track.Info{Album: "A", TrackNum: 5, Tags: []string{"live"}}
	if got := DecideCrossfade(a, b, []string{"live"}); got != Crossfade {
		t.Fatalf("expected Crossfade, got %v", got)
	}
}

func TestDecideCrossfadeNormalWithoutTag(t *testing.T) {
	a := track.Info{Album: "A", TrackNum: 1}
	b := track.Info{Album: "A", TrackNum: 2}
	if got := DecideCrossfade(a, b, []string{"live"}); got != PlayNormal {
		t.Fatalf("expected PlayNormal, got %v", got)
	}
}

func TestDecideCrossfadeWildcardTag(t *testing.T) {
	a := track.Info{Album: "A", TrackNum: 1}
	b := track.Info{Album: "A", TrackNum: 2}
	if got := DecideCrossfade(a, b, []string{"*"}); got != ShortCrossfade {
		t.Fatalf("expected wildcard to count as intersecting, got %v", got)
	}
}

func newTestController() *Controller {
	cfg := config.Default()
	newDev := func() device.OutputDevice { return nil }
	return New(cfg, audio.CDQuality, newDev)
}

func TestEnqueueDerivesLengthFromTimeAttr(t *testing.T) {
	c := newTestController()
	c.Enqueue(track.Info{Title: "x", Attrs: map[string]string{"time": "180"}})
	if c.Len() != 1 {
		t.Fatalf("expected 1 queued entry, got %d", c.Len())
	}
	if got := c.queue[0].lengthMs; got != 180_000 {
		t.Fatalf("expected 180000ms length hint, got %d", got)
	}
}

func TestEnqueueMissingTimeAttrLeavesLengthZero(t *testing.T) {
	c := newTestController()
	c.Enqueue(track.Info{Title: "x"})
	if got := c.queue[0].lengthMs; got != 0 {
		t.Fatalf("expected 0 length hint, got %d", got)
	}
}

func TestSplitTagsHandlesSingleAndMultiple(t *testing.T) {
	if got := splitTags("rock"); len(got) != 1 || got[0] != "rock" {
		t.Fatalf("unexpected single tag split: %+v", got)
	}
	got := splitTags("rock|live|medley")
	want := []string{"rock", "live", "medley"}
	if len(got) != len(want) {
		t.Fatalf("expected %d tags, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tag %d: want %q, got %q", i, want[i], got[i])
		}
	}
}

func TestInfoFromResultPopulatesFields(t *testing.T) {
	r := catalog.OpResult{
		"id":     "42",
		"title":  "Song",
		"artist": "Artist",
		"album":  "Album",
		"track":  "7",
		"time":   "210",
		"tags":   "rock|live",
	}
	info := infoFromResult(r)
	if info.ID != "42" || info.Title != "Song" || info.Artist != "Artist" || info.Album != "Album" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.TrackNum != 7 {
		t.Fatalf("expected track num 7, got %d", info.TrackNum)
	}
	if v, _ := info.Attr("time"); v != "210" {
		t.Fatalf("expected time attr 210, got %q", v)
	}
	if len(info.Tags) != 2 || info.Tags[0] != "rock" || info.Tags[1] != "live" {
		t.Fatalf("unexpected tags: %+v", info.Tags)
	}
}

func TestAdaptPeakFpsDecreasesOnReportedLag(t *testing.T) {
	c := newTestController()
	c.cfg.MaxPeakFPS = 25
	c.peakFps = 25
	c.ReportPeakUILag(50)

	e := &entry{}
	for i := 0; i < peakLagCheckCount; i++ {
		c.adaptPeakFps(e)
	}

	if c.peakFps >= 25 {
		t.Fatalf("expected peakFps to drop below 25 after reported lag, got %d", c.peakFps)
	}
}

func TestAdaptPeakFpsIncreasesWithoutLagAfterCooldown(t *testing.T) {
	c := newTestController()
	c.cfg.MaxPeakFPS = 25
	c.peakFps = 10
	c.lastPeakChange = time.Now().Add(-time.Second)
	c.ReportPeakUILag(0)

	e := &entry{}
	for i := 0; i < peakLagCheckCount; i++ {
		c.adaptPeakFps(e)
	}

	if c.peakFps != 11 {
		t.Fatalf("expected peakFps to increase to 11, got %d", c.peakFps)
	}
}

func TestAdaptPeakFpsNoOpBeforeCheckCount(t *testing.T) {
	c := newTestController()
	c.peakFps = 10
	c.ReportPeakUILag(50)

	e := &entry{}
	c.adaptPeakFps(e)

	if c.peakFps != 10 {
		t.Fatalf("expected no change before peakLagCheckCount callbacks, got %d", c.peakFps)
	}
}

func TestNextAfterLockedReturnsFollowingEntry(t *testing.T) {
	c := newTestController()
	c.Enqueue(track.Info{Title: "a"}, track.Info{Title: "b"}, track.Info{Title: "c"})

	first := c.queue[0]
	next := c.nextAfterLocked(first)
	if next == nil || next.info.Title != "b" {
		t.Fatalf("expected entry b, got %+v", next)
	}

	last := c.queue[2]
	if got := c.nextAfterLocked(last); got != nil {
		t.Fatalf("expected nil after last entry, got %+v", got)
	}
}

func TestCycleRepeatWrapsOffAllOneOff(t *testing.T) {
	c := newTestController()
	if c.Repeat() != RepeatOff {
		t.Fatalf("expected initial RepeatOff, got %v", c.Repeat())
	}
	c.CycleRepeat()
	if c.Repeat() != RepeatAll {
		t.Fatalf("expected RepeatAll, got %v", c.Repeat())
	}
	c.CycleRepeat()
	if c.Repeat() != RepeatOne {
		t.Fatalf("expected RepeatOne, got %v", c.Repeat())
	}
	c.CycleRepeat()
	if c.Repeat() != RepeatOff {
		t.Fatalf("expected wrap back to RepeatOff, got %v", c.Repeat())
	}
}

func TestToggleShufflePreservesLengthAndFlipsFlag(t *testing.T) {
	c := newTestController()
	c.Enqueue(track.Info{Title: "a"}, track.Info{Title: "b"}, track.Info{Title: "c"}, track.Info{Title: "d"})

	if c.Shuffled() {
		t.Fatal("expected shuffle off initially")
	}
	c.ToggleShuffle()
	if !c.Shuffled() {
		t.Fatal("expected shuffle on after toggle")
	}
	if len(c.queue) != 4 {
		t.Fatalf("expected queue length unchanged by shuffle, got %d", len(c.queue))
	}
	c.ToggleShuffle()
	if c.Shuffled() {
		t.Fatal("expected shuffle off after second toggle")
	}
}

func TestOnTrackFinishedRepeatOneRequeuesSameTrack(t *testing.T) {
	c := newTestController()
	c.Enqueue(track.Info{Title: "a"}, track.Info{Title: "b"})
	c.repeat = RepeatOne

	first := c.queue[0]
	c.onTrackFinished(first)

	if len(c.queue) != 2 {
		t.Fatalf("expected queue to still have 2 entries, got %d", len(c.queue))
	}
	if c.queue[0].info.Title != "a" {
		t.Fatalf("expected RepeatOne to requeue track a at front, got %q", c.queue[0].info.Title)
	}
	if len(c.history) != 0 {
		t.Fatalf("expected RepeatOne not to push onto history, got %d entries", len(c.history))
	}
}

func TestConsecutiveStartFailuresMarkControllerDead(t *testing.T) {
	c := newTestController()
	if c.Dead() {
		t.Fatal("expected controller alive initially")
	}
	for i := 0; i < maxConsecutiveStartFailures-1; i++ {
		c.recordStartFailure(nil)
	}
	if c.Dead() {
		t.Fatal("expected controller still alive below the threshold")
	}
	c.recordStartFailure(nil)
	if !c.Dead() {
		t.Fatal("expected controller dead after reaching the threshold")
	}
}

func TestResetStartFailuresClearsCounterButNotDead(t *testing.T) {
	c := newTestController()
	for i := 0; i < maxConsecutiveStartFailures; i++ {
		c.recordStartFailure(nil)
	}
	if !c.Dead() {
		t.Fatal("expected controller dead")
	}
	c.resetStartFailures()
	if c.consecutiveFailures != 0 {
		t.Fatalf("expected counter reset to 0, got %d", c.consecutiveFailures)
	}
	if !c.Dead() {
		t.Fatal("expected dead flag to stay set after counter reset")
	}
}

func TestOnTrackFinishedRepeatAllRefillsFromHistory(t *testing.T) {
	c := newTestController()
	c.Enqueue(track.Info{Title: "a"}, track.Info{Title: "b"})
	c.repeat = RepeatAll

	first, second := c.queue[0], c.queue[1]
	c.onTrackFinished(first)
	c.onTrackFinished(second)

	if len(c.queue) != 2 {
		t.Fatalf("expected RepeatAll to refill the queue from history, got %d entries", len(c.queue))
	}
	if len(c.history) != 0 {
		t.Fatalf("expected history to be drained back into the queue, got %d entries", len(c.history))
	}
}
