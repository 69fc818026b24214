package iir

import (
	"testing"

	"github.com/wk-j/waveplayer/internal/audio"
)

func TestProcessPCMDataUnsupportedType(t *testing.T) {
	c := NewChain(nil, 2)
	err := c.ProcessPCMData(make([]byte, 4), 4, audio.SampleType(99), 2)
	if err == nil {
		t.Fatal("expected error for unsupported sample type")
	}
}

func TestProcessPCMDataPassthroughWithNoSections(t *testing.T) {
	c := NewChain(nil, 2)
	buf := []byte{0x00, 0x10, 0x00, 0xF0} // two i16 samples, one frame stereo
	want := append([]byte(nil), buf...)
	if err := c.ProcessPCMData(buf, len(buf), audio.SampleI16, 2); err != nil {
		t.Fatal(err)
	}
	for i := range buf {
		if buf[i] != want[i] {
			t.Fatalf("passthrough mutated data at %d: got %v want %v", i, buf, want)
		}
	}
}

func TestCalculateBiquadCoefficientsShapes(t *testing.T) {
	for _, kind := range []ShelfType{LowShelf, BandShelf, HighShelf} {
		c := CalculateBiquadCoefficients(kind, 1000, 1.0, 44100, 6)
		if c.B0 == 0 && c.B1 == 0 && c.B2 == 0 {
			t.Fatalf("kind %v produced all-zero coefficients", kind)
		}
	}
}
