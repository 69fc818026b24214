package device_test

import (
	"testing"

	"github.com/wk-j/waveplayer/internal/device"
	"github.com/wk-j/waveplayer/internal/device/devicetest"
)

func TestFakeSatisfiesOutputDevice(t *testing.T) {
	var _ device.OutputDevice = devicetest.NewFake(4096, 44100, 4)
}

func TestFakeStartStopTransitionsState(t *testing.T) {
	f := devicetest.NewFake(4096, 44100, 4)
	if got := f.State(); got != device.Stopped {
		t.Fatalf("expected initial state Stopped, got %v", got)
	}
	if err := f.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.State(); got != device.Running {
		t.Fatalf("expected Running after Start, got %v", got)
	}
	if err := f.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.State(); got != device.Stopped {
		t.Fatalf("expected Stopped after Stop, got %v", got)
	}
}

func TestFakeWriteAccumulatesBytes(t *testing.T) {
	f := devicetest.NewFake(4096, 44100, 4)
	n, err := f.Write([]byte{1, 2, 3, 4})
	if err != nil || n != 4 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	n2, err := f.Write([]byte{5, 6})
	if err != nil || n2 != 2 {
		t.Fatalf("Write: n=%d err=%v", n2, err)
	}
	want := []byte{1, 2, 3, 4, 5, 6}
	got := f.Written()
	if len(got) != len(want) {
		t.Fatalf("expected %d bytes written, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: want %d, got %d", i, want[i], got[i])
		}
	}
}

func TestFakeAdvanceUpdatesProcessedUSecsAndResetsFreeBytes(t *testing.T) {
	f := devicetest.NewFake(4096, 44100, 4)
	f.SetFreeBytes(0)
	if f.BytesFree() != 0 {
		t.Fatalf("expected 0 free bytes after SetFreeBytes(0), got %d", f.BytesFree())
	}

	f.Advance(44100) // 1 second of frames at 44.1kHz
	if got := f.ProcessedUSecs(); got != 1_000_000 {
		t.Fatalf("expected 1_000_000us processed after 1s of frames, got %d", got)
	}
	if got := f.BytesFree(); got != 4096 {
		t.Fatalf("expected free bytes reset to period size 4096, got %d", got)
	}
}

func TestFakePeriodSizeReflectsConstruction(t *testing.T) {
	f := devicetest.NewFake(2048, 48000, 4)
	if got := f.PeriodSize(); got != 2048 {
		t.Fatalf("expected period size 2048, got %d", got)
	}
}
