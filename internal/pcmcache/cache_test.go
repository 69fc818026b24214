package pcmcache

import (
	"sync"
	"testing"

	"github.com/wk-j/waveplayer/internal/audio"
)

func TestZeroLengthHintNonRadioChoosesFileBackend(t *testing.T) {
	c, err := New(audio.CDQuality, 0, false, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if !c.IsFile() {
		t.Fatal("expected file backend for lengthHintMs=0, radioStation=false")
	}
}

func TestRadioStationChoosesRing(t *testing.T) {
	c, err := New(audio.CDQuality, 0, true, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if !c.IsRadioRing() {
		t.Fatal("expected radio ring backend")
	}
}

func TestCacheConservation(t *testing.T) {
	c, err := New(audio.CDQuality, 10_000, false, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var mu sync.Mutex
	var received int64
	c.OnChunk(func(ch audio.Chunk) {
		mu.Lock()
		received += int64(ch.Len())
		mu.Unlock()
	})

	total := int64(0)
	frame := int64(audio.CDQuality.BytesPerFrame())
	buf := make([]byte, frame*100)
	for i := 0; i < 50; i++ {
		if err := c.StoreBuffer(buf); err != nil {
			t.Fatalf("store failed: %v", err)
		}
		total += int64(len(buf))
	}
	for {
		before := received
		c.RequestNextPCMChunk()
		mu.Lock()
		after := received
		mu.Unlock()
		if after == before {
			break
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if received != total {
		t.Fatalf("cache conservation violated: stored %d, delivered %d", total, received)
	}
}

func TestRequestNextPCMChunkSetsPendingWhenEmpty(t *testing.T) {
	c, err := New(audio.CDQuality, 10_000, false, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	called := false
	c.OnChunk(func(audio.Chunk) { called = true })
	c.RequestNextPCMChunk()
	if called {
		t.Fatal("expected no chunk emitted when cache is empty")
	}
	if !c.unfulfilledRequest {
		t.Fatal("expected unfulfilledRequest to be set")
	}

	frame := int64(audio.CDQuality.BytesPerFrame())
	if err := c.StoreBuffer(make([]byte, frame*4000)); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected pending request to be retried once data arrives")
	}
}

func TestSeekClampsToValidRange(t *testing.T) {
	c, err := New(audio.CDQuality, 10_000, false, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	frame := int64(audio.CDQuality.BytesPerFrame())
	if err := c.StoreBuffer(make([]byte, frame*1000)); err != nil {
		t.Fatal(err)
	}

	var got audio.Chunk
	c.OnChunk(func(ch audio.Chunk) { got = ch })
	c.RequestTimestampPCMChunk(1_000_000) // far beyond available data
	if !got.FromSeek {
		t.Fatal("expected chunk to be tagged FromSeek")
	}
}

func TestBufferedMsGrowsWithStoredData(t *testing.T) {
	c, err := New(audio.CDQuality, 10_000, false, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if got := c.BufferedMs(); got != 0 {
		t.Fatalf("expected 0ms buffered initially, got %d", got)
	}

	oneSecond := int64(audio.CDQuality.SampleRate * audio.CDQuality.BytesPerFrame())
	if err := c.StoreBuffer(make([]byte, oneSecond)); err != nil {
		t.Fatal(err)
	}
	if got := c.BufferedMs(); got < 900 || got > 1100 {
		t.Fatalf("expected ~1000ms buffered after storing 1s of PCM, got %d", got)
	}
}
