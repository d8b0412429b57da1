// Package task drives the two-alternative forced-choice task: the per-trial
// phase machine, the run controller that sequences trials against the
// session deadline, and the records handed to storage.
package task

import (
	"time"

	"github.com/DVS-Lab/tacs-bandit/internal/sched"
)

// Side is the screen slot an option occupies on a given trial.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Outcome is the feedback shown at the end of a trial.
type Outcome int

const (
	OutcomeWin Outcome = iota
	OutcomeLoss
	OutcomeMiss
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWin:
		return "win"
	case OutcomeLoss:
		return "loss"
	}
	return "miss"
}

// Timing holds the per-phase durations. The pre-outcome wait is drawn
// uniformly from [WaitMin, WaitMax]; equal bounds give a fixed delay and
// zero bounds skip the phase.
type Timing struct {
	Fixation    time.Duration
	MaxResponse time.Duration
	WaitMin     time.Duration
	WaitMax     time.Duration
	Outcome     time.Duration
	ITI         time.Duration
}

// TrialRecord is one completed trial row. All *At fields are offsets from
// the session clock anchor and are non-decreasing in field order.
type TrialRecord struct {
	Index int

	// Stimulus identities and their slot assignment for this trial.
	Stim1     int
	Stim2     int
	Slot1Side Side
	Slot2Side Side

	// Contingency state at trial start.
	Favored       sched.Option
	InContingency int
	Threshold     int

	// Response. Choice is sched.None and RT is zero on a missed trial.
	Choice    sched.Option
	Responded bool
	RT        time.Duration

	// Outcome. Both stay false on a miss; no reward draw is performed.
	Correct  bool
	Rewarded bool

	FixationAt    time.Duration
	ResponseAt    time.Duration
	ResponseEndAt time.Duration
	OutcomeAt     time.Duration
	EndAt         time.Duration
}

// Session describes one timed run of the task and accumulates its rows.
type Session struct {
	ID            string
	Subject       string
	SessionNum    int
	Run           int
	RunType       string
	StimCondition string
	Duration      time.Duration

	// StartedAt is wall-clock bookkeeping only; analysis uses offsets.
	StartedAt time.Time
	// TriggerDeviceTime is the device-clock timestamp of the consumed
	// trigger, in seconds. Zero for manual or untriggered starts.
	TriggerDeviceTime float64
	ManualStart       bool

	Trials []TrialRecord
}

// RowWriter receives completed trial rows as they finish. Implemented by the
// storage layer; appends are durable before the next trial starts.
type RowWriter interface {
	AppendTrial(rec TrialRecord) error
}
