package track

import "testing"

func TestFadeCompletion(t *testing.T) {
	const framesPerPercent = 10
	const channels = 2
	var f Fade
	f.Start(FadeOut, framesPerPercent, channels)

	samples := 0
	for !f.Finished() {
		f.ApplySample(1.0)
		samples++
		if samples > framesPerPercent*100*channels+channels {
			t.Fatal("fade-out did not complete in expected sample budget")
		}
	}

	want := framesPerPercent * 100 * channels
	diff := samples - want
	if diff < 0 {
		diff = -diff
	}
	if diff > channels {
		t.Fatalf("fade completion sample count = %d, want %d +/- %d", samples, want, channels)
	}
}

func TestFadeInResetsToNone(t *testing.T) {
	var f Fade
	f.Start(FadeIn, 1, 2)
	for i := 0; i < 300; i++ {
		f.ApplySample(1.0)
	}
	if f.Direction != FadeNone {
		t.Fatalf("expected fade-in to reset to None, got %v", f.Direction)
	}
	if f.Percent != 100 {
		t.Fatalf("expected percent 100 after fade-in completes, got %d", f.Percent)
	}
}
