package config

import "testing"

func TestDefaultValues(t *testing.T) {
	d := Default()
	if d.ShuffleCount != 5 || d.ShuffleFavoriteFrequency != 4 || d.ShuffleDelaySeconds != 10 {
		t.Fatalf("unexpected shuffle defaults: %+v", d)
	}
	if len(d.FadeTags) != 3 || d.FadeTags[0] != "live" {
		t.Fatalf("unexpected fade tags default: %v", d.FadeTags)
	}
	if d.EQOn {
		t.Fatal("expected eq off by default")
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ShuffleCount != 5 {
		t.Fatalf("expected default shuffle count, got %d", c.ShuffleCount)
	}
	if c.MaxPeakFPS != 25 {
		t.Fatalf("expected default max peak fps, got %d", c.MaxPeakFPS)
	}
	if len(c.EQGains) != 0 {
		t.Fatalf("expected no eq gains set, got %v", c.EQGains)
	}
}

func TestFadeDurationConversion(t *testing.T) {
	c := Config{FadeSeconds: 2.5}
	if got := c.FadeDuration().Seconds(); got != 2.5 {
		t.Fatalf("expected 2.5s, got %v", got)
	}
}
