// Package sched implements the reward contingency schedule: which of the two
// options is currently favored, when the contingency reverses, and whether a
// given choice pays out. All randomness flows through an explicitly seeded
// source so a (subject, run) pair always reproduces the same sequence.
package sched

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"golang.org/x/crypto/sha3"
)

// Option identifies one of the two alternatives. None marks a missed trial.
type Option int

const (
	None    Option = 0
	OptionA Option = 1
	OptionB Option = 2
)

// Other returns the opposite alternative.
func (o Option) Other() Option {
	return 3 - o
}

func (o Option) String() string {
	switch o {
	case OptionA:
		return "A"
	case OptionB:
		return "B"
	}
	return "none"
}

// Seed derives the deterministic PRNG seed for a (subject, run) pair.
func Seed(subjectID string, run int) int64 {
	sum := sha3.Sum256([]byte(fmt.Sprintf("sub-%s:run-%d", subjectID, run)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// Config holds the contingency parameters.
type Config struct {
	// WinFraction is the reward probability for the favored option; the
	// non-favored option pays with 1 - WinFraction.
	WinFraction float64
	// BaseTrials and Jitter define the reversal threshold: each contingency
	// period lasts a uniform integer number of trials in
	// [BaseTrials-Jitter, BaseTrials+Jitter], clamped below at 1.
	BaseTrials int
	Jitter     int
}

// Scheduler tracks the contingency state across trials. Not safe for
// concurrent use; the trial loop is single-threaded.
type Scheduler struct {
	cfg           Config
	rng           *rand.Rand
	favored       Option
	sinceReversal int
	threshold     int
	reversals     int
}

// New creates a Scheduler drawing from rng. The initially favored option and
// the first period's threshold are drawn before any trial runs.
func New(cfg Config, rng *rand.Rand) *Scheduler {
	s := &Scheduler{cfg: cfg, rng: rng, favored: OptionA}
	if rng.Intn(2) == 1 {
		s.favored = OptionB
	}
	s.threshold = s.drawThreshold()
	return s
}

func (s *Scheduler) drawThreshold() int {
	lo := s.cfg.BaseTrials - s.cfg.Jitter
	if lo < 1 {
		lo = 1
	}
	hi := s.cfg.BaseTrials + s.cfg.Jitter
	if hi < lo {
		hi = lo
	}
	return lo + s.rng.Intn(hi-lo+1)
}

// Favored returns the currently favored option.
func (s *Scheduler) Favored() Option { return s.favored }

// SinceReversal returns the number of completed trials in the current
// contingency period.
func (s *Scheduler) SinceReversal() int { return s.sinceReversal }

// Threshold returns the reversal threshold for the current period.
func (s *Scheduler) Threshold() int { return s.threshold }

// Reversals returns the number of reversals so far.
func (s *Scheduler) Reversals() int { return s.reversals }

// RewardFor draws the stochastic reward outcome for a chosen option.
func (s *Scheduler) RewardFor(choice Option) bool {
	p := s.cfg.WinFraction
	if choice != s.favored {
		p = 1 - p
	}
	return s.rng.Float64() < p
}

// RecordTrialCompleted advances the trials-since-reversal counter, flipping
// the contingency exactly when the period's threshold is reached. On a
// reversal the counter resets and a fresh threshold is drawn. Reports
// whether a reversal occurred.
func (s *Scheduler) RecordTrialCompleted() bool {
	s.sinceReversal++
	if s.sinceReversal < s.threshold {
		return false
	}
	s.favored = s.favored.Other()
	s.sinceReversal = 0
	s.threshold = s.drawThreshold()
	s.reversals++
	return true
}
