package task

import (
	"context"

	"github.com/DVS-Lab/tacs-bandit/internal/sched"
)

// Presenter renders stimuli and reports participant input. The engine treats
// each phase's deadline as authoritative: implementations receive a context
// bounded by the phase duration, and a call that errors or never returns
// cannot stall the trial. A presenter failure during the response window is
// recorded as a miss, not an abort.
type Presenter interface {
	// ShowFixation displays the fixation cue.
	ShowFixation(ctx context.Context) error
	// ShowOptions displays the two stimuli with stim1 occupying slot1Side.
	ShowOptions(ctx context.Context, stim1, stim2 int, slot1Side Side) error
	// AwaitChoice blocks until the first qualifying input or ctx expiry,
	// returning sched.None in the latter case.
	AwaitChoice(ctx context.Context) (sched.Option, error)
	// ShowBlank clears the display for wait and inter-trial periods.
	ShowBlank(ctx context.Context) error
	// ShowOutcome displays trial feedback.
	ShowOutcome(ctx context.Context, outcome Outcome) error
}
