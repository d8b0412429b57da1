package task

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/DVS-Lab/tacs-bandit/internal/clock"
	"github.com/DVS-Lab/tacs-bandit/internal/marker"
	"github.com/DVS-Lab/tacs-bandit/internal/sched"
)

// Phase is a stage of one trial. Transitions are strictly forward; no phase
// repeats or is skipped, except the pre-outcome wait when its bounds are
// zero.
type Phase int

const (
	PhaseFixation Phase = iota
	PhaseResponse
	PhaseWait
	PhaseOutcome
	PhaseITI
)

func (p Phase) String() string {
	switch p {
	case PhaseFixation:
		return "fixation"
	case PhaseResponse:
		return "response"
	case PhaseWait:
		return "wait"
	case PhaseOutcome:
		return "outcome"
	case PhaseITI:
		return "iti"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Machine runs single trials. One Machine serves a whole session; the run
// controller calls RunTrial sequentially.
type Machine struct {
	timing Timing
	clk    *clock.Clock
	sched  *sched.Scheduler
	pres   Presenter
	sink   marker.Sink
	rng    *rand.Rand

	stim1, stim2 int
}

// NewMachine assembles a trial machine. rng drives the per-trial slot
// assignment and the pre-outcome wait draw, and must be the same seeded
// source the scheduler uses so a (subject, run) pair replays exactly.
func NewMachine(timing Timing, clk *clock.Clock, s *sched.Scheduler, pres Presenter, sink marker.Sink, rng *rand.Rand, stim1, stim2 int) *Machine {
	return &Machine{
		timing: timing,
		clk:    clk,
		sched:  s,
		pres:   pres,
		sink:   sink,
		rng:    rng,
		stim1:  stim1,
		stim2:  stim2,
	}
}

// RunTrial advances one trial through all phases. The session context is
// only consulted between phases: an abort never truncates a phase, it stops
// the trial from entering the next one, and RunTrial then returns ctx's
// error with the partial record.
func (m *Machine) RunTrial(ctx context.Context, index int) (TrialRecord, error) {
	rec := TrialRecord{
		Index:         index,
		Stim1:         m.stim1,
		Stim2:         m.stim2,
		Favored:       m.sched.Favored(),
		InContingency: m.sched.SinceReversal(),
		Threshold:     m.sched.Threshold(),
	}

	// Slot sides are re-randomized every trial.
	if m.rng.Float64() < 0.5 {
		rec.Slot1Side, rec.Slot2Side = SideLeft, SideRight
	} else {
		rec.Slot1Side, rec.Slot2Side = SideRight, SideLeft
	}

	// Fixation.
	rec.FixationAt = m.now()
	m.emitTrial(marker.TrialStart, index)
	m.holdPhase(PhaseFixation, m.timing.Fixation, m.pres.ShowFixation)
	if err := ctx.Err(); err != nil {
		rec.EndAt = m.now()
		return rec, err
	}

	// Response window.
	rec.ResponseAt = m.now()
	choice, rt := m.awaitChoice(rec.Slot1Side)
	rec.ResponseEndAt = m.now()
	if choice != sched.None {
		rec.Choice = choice
		rec.RT = rt
		rec.Responded = true
		m.emitTrial(marker.Choice, index)
	}
	if err := ctx.Err(); err != nil {
		rec.EndAt = m.now()
		return rec, err
	}

	// Pre-outcome wait.
	if wait := m.drawWait(); wait > 0 {
		m.holdPhase(PhaseWait, wait, m.pres.ShowBlank)
		if err := ctx.Err(); err != nil {
			rec.EndAt = m.now()
			return rec, err
		}
	}

	// Outcome. A miss skips the reward draw entirely.
	rec.OutcomeAt = m.now()
	outcome := OutcomeMiss
	if rec.Responded {
		rec.Correct = rec.Choice == rec.Favored
		rec.Rewarded = m.sched.RewardFor(rec.Choice)
		if rec.Rewarded {
			outcome = OutcomeWin
		} else {
			outcome = OutcomeLoss
		}
	}
	switch outcome {
	case OutcomeWin:
		m.emitTrial(marker.FeedbackWin, index)
	case OutcomeLoss:
		m.emitTrial(marker.FeedbackLoss, index)
	default:
		m.emitTrial(marker.FeedbackMiss, index)
	}
	m.holdPhase(PhaseOutcome, m.timing.Outcome, func(c context.Context) error {
		return m.pres.ShowOutcome(c, outcome)
	})
	if err := ctx.Err(); err != nil {
		rec.EndAt = m.now()
		return rec, err
	}

	// Inter-trial interval.
	m.holdPhase(PhaseITI, m.timing.ITI, m.pres.ShowBlank)
	rec.EndAt = m.now()
	m.emitTrial(marker.TrialEnd, index)

	return rec, nil
}

// drawWait picks the pre-outcome delay, uniform over [WaitMin, WaitMax].
func (m *Machine) drawWait() time.Duration {
	if m.timing.WaitMax <= m.timing.WaitMin {
		return m.timing.WaitMin
	}
	span := m.timing.WaitMax - m.timing.WaitMin
	return m.timing.WaitMin + time.Duration(m.rng.Float64()*float64(span))
}

// holdPhase runs fn for exactly d. The presenter call gets a context bounded
// by the phase, but the phase ends on the deadline whether or not fn has
// returned, and a premature return never shortens the phase.
func (m *Machine) holdPhase(phase Phase, d time.Duration, fn func(context.Context) error) {
	phaseCtx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(phaseCtx) }()

	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case err := <-done:
			if err != nil && phaseCtx.Err() == nil {
				log.Printf("[trial] presenter %s: %v", phase, err)
			}
			done = nil // wait out the remainder of the phase
		case <-t.C:
			return
		}
	}
}

// awaitChoice runs the response window. The deadline is authoritative: with
// no qualifying input the window closes exactly at the deadline, and an
// input observed before the timer fires counts, including at the final
// instant. A presenter error counts as no input.
func (m *Machine) awaitChoice(slot1Side Side) (sched.Option, time.Duration) {
	start := time.Now()
	winCtx, cancel := context.WithTimeout(context.Background(), m.timing.MaxResponse)
	defer cancel()

	type result struct {
		choice sched.Option
		err    error
	}
	results := make(chan result, 1)
	go func() {
		if err := m.pres.ShowOptions(winCtx, m.stim1, m.stim2, slot1Side); err != nil {
			results <- result{err: err}
			return
		}
		choice, err := m.pres.AwaitChoice(winCtx)
		results <- result{choice: choice, err: err}
	}()

	t := time.NewTimer(m.timing.MaxResponse)
	defer t.Stop()
	for {
		select {
		case r := <-results:
			if r.err == nil && r.choice != sched.None {
				return r.choice, time.Since(start)
			}
			if r.err != nil && winCtx.Err() == nil {
				log.Printf("[trial] presenter response: %v", r.err)
			}
			results = nil // no input; wait out the window
		case <-t.C:
			return sched.None, 0
		}
	}
}

func (m *Machine) now() time.Duration {
	// The controller anchors the clock before any trial runs.
	off, _ := m.clk.Elapsed()
	return off
}

func (m *Machine) emitTrial(code, index int) {
	ev := marker.Event{
		Code:  code,
		At:    m.now(),
		Label: fmt.Sprintf("%s_trial_%d", marker.Name(code), index),
	}
	if err := m.sink.Append(ev); err != nil {
		log.Printf("[trial] marker %d: %v", code, err)
	}
}
