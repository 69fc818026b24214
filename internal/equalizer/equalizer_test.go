package equalizer

import (
	"encoding/binary"
	"testing"

	"github.com/wk-j/waveplayer/internal/audio"
)

func silentChunk(frames, channels int) audio.Chunk {
	return audio.Chunk{Data: make([]byte, frames*channels*2)}
}

func TestSetGainsRejectsOutOfRangeBandCount(t *testing.T) {
	e := New(audio.CDQuality)
	if err := e.SetGains(true, []float64{1, 2}, 0); err == nil {
		t.Fatal("expected error for 2 gains")
	}
	if err := e.SetGains(true, make([]float64, 11), 0); err == nil {
		t.Fatal("expected error for 11 gains")
	}
}

func TestSetGainsTenBandBuildsChain(t *testing.T) {
	e := New(audio.CDQuality)
	gains := []float64{6, 3, 1.5, 0, -1.5, 0, 3, 6, 9, 12}
	if err := e.SetGains(true, gains, 0); err != nil {
		t.Fatalf("SetGains: %v", err)
	}
	if e.chain == nil {
		t.Fatal("expected chain to be built")
	}
}

func TestPlayBeginsSetsCurrentWithoutRamp(t *testing.T) {
	e := New(audio.CDQuality)
	e.SetTargetReplayGain(-6)
	e.PlayBegins(-6)
	if e.currentReplayGainDb != -6 {
		t.Fatalf("expected current replay gain -6, got %v", e.currentReplayGainDb)
	}
}

func TestChunkAvailableBypassAppliesGainWithoutChain(t *testing.T) {
	e := New(audio.CDQuality)
	e.PlayBegins(0)

	chunk := silentChunk(100, 2)
	binary.LittleEndian.PutUint16(chunk.Data, uint16(int16(1000)))

	chunks := []audio.Chunk{chunk}
	if err := e.ChunkAvailable(chunks, audio.SampleI16); err != nil {
		t.Fatalf("ChunkAvailable: %v", err)
	}
}

func TestReplayGainRampsTowardTargetAndSnaps(t *testing.T) {
	e := New(audio.CDQuality)
	if err := e.SetGains(true, []float64{0, 0, 0}, 0); err != nil {
		t.Fatalf("SetGains: %v", err)
	}
	e.PlayBegins(0)
	e.SetTargetReplayGain(10)

	var lastReported float64
	e.OnReplayGainChanged(func(db float64) { lastReported = db })

	frames := audio.CDQuality.SampleRate * 5 // 5 seconds, well beyond ramp time
	chunk := silentChunk(frames, 2)
	if err := e.ChunkAvailable([]audio.Chunk{chunk}, audio.SampleI16); err != nil {
		t.Fatalf("ChunkAvailable: %v", err)
	}

	if lastReported < 9.9 {
		t.Fatalf("expected replay gain to have ramped close to target, got %v", lastReported)
	}
}
