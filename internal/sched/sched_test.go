package sched

import (
	"math"
	"math/rand"
	"testing"
)

func newTest(t *testing.T, cfg Config, seed int64) *Scheduler {
	t.Helper()
	return New(cfg, rand.New(rand.NewSource(seed)))
}

func TestSeed_Deterministic(t *testing.T) {
	a := Seed("042", 3)
	b := Seed("042", 3)
	if a != b {
		t.Fatalf("same inputs produced different seeds: %d vs %d", a, b)
	}
	if Seed("042", 4) == a {
		t.Fatal("different run produced the same seed")
	}
	if Seed("043", 3) == a {
		t.Fatal("different subject produced the same seed")
	}
}

func TestReversal_ExactlyAtFixedThreshold(t *testing.T) {
	// Jitter 0 pins every period to exactly 25 trials.
	s := newTest(t, Config{WinFraction: 0.75, BaseTrials: 25, Jitter: 0}, 1)
	first := s.Favored()

	for i := 0; i < 24; i++ {
		if s.RecordTrialCompleted() {
			t.Fatalf("reversal after %d trials, threshold is 25", i+1)
		}
		if s.Favored() != first {
			t.Fatalf("favored flipped without a reversal at trial %d", i+1)
		}
	}
	if !s.RecordTrialCompleted() {
		t.Fatal("no reversal at trial 25")
	}
	if s.Favored() != first.Other() {
		t.Fatalf("favored is %v after reversal, want %v", s.Favored(), first.Other())
	}
	if s.SinceReversal() != 0 {
		t.Fatalf("counter is %d after reversal, want 0", s.SinceReversal())
	}
	if s.Reversals() != 1 {
		t.Fatalf("reversal count is %d, want 1", s.Reversals())
	}
}

func TestThreshold_WithinJitterRange(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		s := newTest(t, Config{WinFraction: 0.75, BaseTrials: 25, Jitter: 4}, seed)
		for r := 0; r < 10; r++ {
			th := s.Threshold()
			if th < 21 || th > 29 {
				t.Fatalf("seed %d period %d: threshold %d outside [21, 29]", seed, r, th)
			}
			for !s.RecordTrialCompleted() {
				if s.SinceReversal() > th {
					t.Fatalf("counter %d exceeded threshold %d", s.SinceReversal(), th)
				}
			}
		}
	}
}

func TestThreshold_ClampedAtOne(t *testing.T) {
	s := newTest(t, Config{WinFraction: 0.75, BaseTrials: 2, Jitter: 5}, 7)
	for r := 0; r < 20; r++ {
		if th := s.Threshold(); th < 1 || th > 7 {
			t.Fatalf("threshold %d outside [1, 7]", th)
		}
		for !s.RecordTrialCompleted() {
		}
	}
}

func TestRewardFor_ConvergesToWinFraction(t *testing.T) {
	const n = 20000
	s := newTest(t, Config{WinFraction: 0.75, BaseTrials: n + 1, Jitter: 0}, 99)

	wins := 0
	for i := 0; i < n; i++ {
		if s.RewardFor(s.Favored()) {
			wins++
		}
	}
	rate := float64(wins) / n
	if math.Abs(rate-0.75) > 0.02 {
		t.Fatalf("favored reward rate %.4f, want 0.75 ± 0.02", rate)
	}

	losses := 0
	for i := 0; i < n; i++ {
		if !s.RewardFor(s.Favored().Other()) {
			losses++
		}
	}
	rate = float64(losses) / n
	if math.Abs(rate-0.75) > 0.02 {
		t.Fatalf("non-favored no-reward rate %.4f, want 0.75 ± 0.02", rate)
	}
}

func TestScheduler_ReproducibleSequence(t *testing.T) {
	run := func() []bool {
		s := newTest(t, Config{WinFraction: 0.75, BaseTrials: 25, Jitter: 4}, Seed("011", 2))
		var outcomes []bool
		for i := 0; i < 200; i++ {
			outcomes = append(outcomes, s.RewardFor(OptionA))
			s.RecordTrialCompleted()
		}
		return outcomes
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("outcome %d differs between identical runs", i)
		}
	}
}

func TestOption_Other(t *testing.T) {
	if OptionA.Other() != OptionB || OptionB.Other() != OptionA {
		t.Fatal("Other does not swap the alternatives")
	}
}
