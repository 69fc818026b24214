package output

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/wk-j/waveplayer/internal/audio"
	"github.com/wk-j/waveplayer/internal/device"
	"github.com/wk-j/waveplayer/internal/device/devicetest"
)

func chunkOf(n int) audio.Chunk {
	return audio.Chunk{Data: make([]byte, n)}
}

func TestDequeueSpansMultipleChunks(t *testing.T) {
	o := New(audio.CDQuality, devicetest.NewFake(64, 44100, 4), 20)
	o.ChunkAvailable(chunkOf(10))
	o.ChunkAvailable(chunkOf(10))

	got := o.dequeue(15)
	if len(got) != 15 {
		t.Fatalf("expected 15 bytes, got %d", len(got))
	}
	if o.queueLen() != 1 {
		t.Fatalf("expected one chunk remaining, got %d", o.queueLen())
	}

	rest := o.dequeue(100)
	if len(rest) != 5 {
		t.Fatalf("expected 5 remaining bytes, got %d", len(rest))
	}
	if o.queueLen() != 0 {
		t.Fatal("expected queue drained")
	}
}

func TestChunkAvailableResetsAnchorOnSeek(t *testing.T) {
	o := New(audio.CDQuality, devicetest.NewFake(64, 44100, 4), 20)
	o.ChunkAvailable(audio.Chunk{Data: make([]byte, 4), StartMicros: 1_000_000})
	o.notifications = 7

	o.ChunkAvailable(audio.Chunk{Data: make([]byte, 4), StartMicros: 5_000_000, FromSeek: true})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.notifications != 0 {
		t.Fatalf("expected notification counter reset on seek, got %d", o.notifications)
	}
	if o.firstChunkStart != 5000 {
		t.Fatalf("expected anchor reset to 5000ms, got %d", o.firstChunkStart)
	}
}

func TestFrameMagnitudeReadsBothChannels(t *testing.T) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data[0:2], uint16(int16(1234)))
	binary.LittleEndian.PutUint16(data[2:4], uint16(int16(-500)))

	l, r := frameMagnitude(data, 0, audio.CDQuality)
	if l != 1234 || r != -500 {
		t.Fatalf("expected (1234, -500), got (%v, %v)", l, r)
	}
}

func TestRunReturnsWhenQueueDrainsAndDecodingDone(t *testing.T) {
	fake := devicetest.NewFake(64, 44100, 4)
	o := New(audio.CDQuality, fake, 20)
	o.ChunkAvailable(chunkOf(64))
	o.ChunkAvailable(chunkOf(64))
	o.ChunkAvailable(chunkOf(64))

	done := false
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(ctx, func() bool { return done }) }()

	time.Sleep(50 * time.Millisecond)
	done = true

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after decoding finished and queue drained")
	}
}

func TestPauseFlushesQueueAndStopsDevice(t *testing.T) {
	fake := devicetest.NewFake(64, 44100, 4)
	o := New(audio.CDQuality, fake, 20)
	o.ChunkAvailable(chunkOf(64))
	o.ChunkAvailable(chunkOf(64))

	if err := fake.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if o.queueLen() != 0 {
		t.Fatalf("expected queue flushed by Pause, got %d chunks", o.queueLen())
	}
	if fake.State() != device.Stopped {
		t.Fatalf("expected device Stopped after Pause, got %v", fake.State())
	}
}

func TestChunkAvailableDropsWhilePaused(t *testing.T) {
	o := New(audio.CDQuality, devicetest.NewFake(64, 44100, 4), 20)
	o.paused = true
	o.ChunkAvailable(chunkOf(64))
	if o.queueLen() != 0 {
		t.Fatalf("expected chunk dropped while paused, got %d queued", o.queueLen())
	}
}

func TestResumeReanchorsPositionAndRestartsDevice(t *testing.T) {
	fake := devicetest.NewFake(64, 44100, 4)
	o := New(audio.CDQuality, fake, 20)
	o.ChunkAvailable(audio.Chunk{Data: make([]byte, 4), StartMicros: 5_000_000})
	o.notifications = 3

	if err := o.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := o.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if fake.State() != device.Running {
		t.Fatalf("expected device running after Resume, got %v", fake.State())
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.notifications != 0 || o.firstChunkStart != 0 {
		t.Fatalf("expected position anchor reset by Resume, got notifications=%d firstChunkStart=%d", o.notifications, o.firstChunkStart)
	}
}

func TestRunBlocksWhilePausedThenDeliversResumedChunk(t *testing.T) {
	fake := devicetest.NewFake(64, 44100, 4)
	o := New(audio.CDQuality, fake, 20)
	o.ChunkAvailable(chunkOf(64))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(ctx, func() bool { return false }) }()

	time.Sleep(30 * time.Millisecond)
	if err := o.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := o.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	o.ChunkAvailable(chunkOf(64))

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-errCh:
	case <-time.After(1 * time.Second):
		t.Fatal("Run did not unblock and exit after cancel")
	}
}

func TestRunReportsUnderrun(t *testing.T) {
	fake := devicetest.NewFake(64, 44100, 4)
	o := New(audio.CDQuality, fake, 20)
	o.ChunkAvailable(chunkOf(64))
	o.ChunkAvailable(chunkOf(64))
	o.ChunkAvailable(chunkOf(64))

	underrun := make(chan struct{}, 1)
	o.OnUnderrun(func() {
		select {
		case underrun <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go o.Run(ctx, func() bool { return false })

	select {
	case <-underrun:
	case <-time.After(1 * time.Second):
		t.Fatal("expected underrun callback once queue drained with decoding still in progress")
	}
}
