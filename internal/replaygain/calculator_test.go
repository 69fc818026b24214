package replaygain

import "testing"

func TestUnsupportedSampleRateDisablesAnalysis(t *testing.T) {
	c := NewCalculator(22000, 2)
	if c.Enabled() {
		t.Fatal("expected calculator to be disabled for unsupported sample rate")
	}
	if got := c.CalculateResult(); got != 0 {
		t.Fatalf("disabled calculator should return 0, got %v", got)
	}
}

func TestSupportedSampleRateEnablesAnalysis(t *testing.T) {
	for _, rate := range SupportedSampleRates {
		c := NewCalculator(rate, 2)
		if !c.Enabled() {
			t.Fatalf("rate %d should be supported", rate)
		}
	}
}

func TestResetZerosStatistics(t *testing.T) {
	c := NewCalculator(44100, 2)
	for i := 0; i < c.blockFrames*2; i++ {
		c.FeedFilteredSample(0, 1000)
		c.FeedFilteredSample(1, 1000)
	}
	before := c.CalculateResult()
	c.Reset()
	after := c.CalculateResult()
	if before == 0 {
		t.Fatal("expected non-zero result before reset")
	}
	if after != 0 {
		t.Fatalf("expected 0 after reset, got %v", after)
	}
}

func TestMonoDoublesContribution(t *testing.T) {
	mono := NewCalculator(44100, 1)
	stereo := NewCalculator(44100, 2)
	for i := 0; i < mono.blockFrames; i++ {
		mono.FeedFilteredSample(0, 500)
	}
	for i := 0; i < stereo.blockFrames; i++ {
		stereo.FeedFilteredSample(0, 500)
		stereo.FeedFilteredSample(1, 500)
	}
	if mono.CalculateResult() != stereo.CalculateResult() {
		t.Fatalf("mono doubling should match stereo sum: mono=%v stereo=%v", mono.CalculateResult(), stereo.CalculateResult())
	}
}
