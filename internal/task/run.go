package task

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/DVS-Lab/tacs-bandit/internal/clock"
	"github.com/DVS-Lab/tacs-bandit/internal/marker"
	"github.com/DVS-Lab/tacs-bandit/internal/sched"
	"github.com/DVS-Lab/tacs-bandit/internal/stream"
	"github.com/DVS-Lab/tacs-bandit/internal/trigger"
)

// Config parameterizes one session.
type Config struct {
	SessionID     string // assigned by the caller; uuid when empty
	Subject       string
	SessionNum    int
	Run           int
	RunType       string
	StimCondition string

	Duration time.Duration
	Timing   Timing
	Sched    sched.Config

	// Stimulus identities presented as option A and option B.
	Stim1, Stim2 int

	// StimSync gates the trigger wait: when set, the session must not start
	// until the stimulation trigger is consumed.
	StimSync       bool
	TriggerCode    int
	TriggerTimeout time.Duration
	ManualFallback bool
}

// Controller orchestrates one session: trigger synchronization, clock
// anchoring, the trial loop against the deadline, and the run markers.
type Controller struct {
	cfg   Config
	clk   *clock.Clock
	sched *sched.Scheduler
	rng   *rand.Rand
	pres  Presenter
	sink  marker.Sink
	rows  RowWriter
	trig  *trigger.Listener

	// devSamples carries device markers that arrive after the trigger fired;
	// drained between trials to honor a mid-run stimulation stop. May be nil.
	devSamples <-chan stream.Sample
}

// NewController validates cfg and assembles a controller. The PRNG seeded
// from (subject, run) is shared by the scheduler and the trial machine, so
// identical runs replay identical draw sequences.
func NewController(cfg Config, pres Presenter, sink marker.Sink, rows RowWriter, trig *trigger.Listener, devSamples <-chan stream.Sample) (*Controller, error) {
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("task: run duration must be positive, got %v", cfg.Duration)
	}
	if cfg.Timing.MaxResponse <= 0 {
		return nil, fmt.Errorf("task: response window must be positive, got %v", cfg.Timing.MaxResponse)
	}
	if cfg.StimSync && trig == nil {
		return nil, fmt.Errorf("task: stimulation sync requested without a trigger listener")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	rng := rand.New(rand.NewSource(sched.Seed(cfg.Subject, cfg.Run)))
	return &Controller{
		cfg:        cfg,
		clk:        clock.New(),
		sched:      sched.New(cfg.Sched, rng),
		rng:        rng,
		pres:       pres,
		sink:       sink,
		rows:       rows,
		trig:       trig,
		devSamples: devSamples,
	}, nil
}

// Run executes the session and blocks until the deadline, a graceful device
// stop, or an abort. The returned Session always holds every completed
// trial, including on error paths; its rows have already been handed to the
// RowWriter one by one.
func (c *Controller) Run(ctx context.Context) (*Session, error) {
	sess := &Session{
		ID:            c.cfg.SessionID,
		Subject:       c.cfg.Subject,
		SessionNum:    c.cfg.SessionNum,
		Run:           c.cfg.Run,
		RunType:       c.cfg.RunType,
		StimCondition: c.cfg.StimCondition,
		Duration:      c.cfg.Duration,
	}

	if c.cfg.StimSync {
		log.Printf("[run] waiting for trigger %d (timeout %v, manual fallback %v)",
			c.cfg.TriggerCode, c.cfg.TriggerTimeout, c.cfg.ManualFallback)
		trg, err := c.trig.Arm(ctx, c.cfg.TriggerCode, c.cfg.TriggerTimeout, c.cfg.ManualFallback)
		if err != nil {
			return sess, fmt.Errorf("task: trigger sync: %w", err)
		}
		sess.TriggerDeviceTime = trg.DeviceTime
		sess.ManualStart = trg.Manual
		if trg.Manual {
			log.Printf("[run] manual start")
		} else {
			log.Printf("[run] trigger %d at device time %.4f", trg.Code, trg.DeviceTime)
		}
	}

	if err := c.clk.Anchor(); err != nil {
		return sess, fmt.Errorf("task: anchor clock: %w", err)
	}
	sess.StartedAt = time.Now()
	c.emitRun(marker.RunStart)
	log.Printf("[run] session %s started: sub-%s ses-%d run-%d (%s), duration %v",
		sess.ID, sess.Subject, sess.SessionNum, sess.Run, sess.RunType, sess.Duration)

	machine := NewMachine(c.cfg.Timing, c.clk, c.sched, c.pres, c.sink, c.rng, c.cfg.Stim1, c.cfg.Stim2)

	var runErr error
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if c.stopRequested() {
			log.Printf("[run] stimulation stop observed, ending run after %d trials", index)
			break
		}
		elapsed, _ := c.clk.Elapsed()
		if elapsed >= c.cfg.Duration {
			break
		}

		rec, err := machine.RunTrial(ctx, index)
		if err != nil {
			// Aborted between phases; the partial trial is not a valid row.
			runErr = err
			break
		}
		sess.Trials = append(sess.Trials, rec)
		if err := c.rows.AppendTrial(rec); err != nil {
			runErr = fmt.Errorf("task: append trial %d: %w", index, err)
			break
		}
		if c.sched.RecordTrialCompleted() {
			log.Printf("[run] contingency reversed after trial %d, favored now %s", index, c.sched.Favored())
		}
		if (index+1)%10 == 0 {
			log.Printf("[run] trial %d, elapsed %v", index+1, elapsed.Round(100*time.Millisecond))
		}
	}

	if runErr != nil {
		c.emitRun(marker.RunAbort)
		log.Printf("[run] session %s aborted after %d trials: %v", sess.ID, len(sess.Trials), runErr)
		return sess, runErr
	}
	c.emitRun(marker.RunEnd)
	log.Printf("[run] session %s complete: %d trials", sess.ID, len(sess.Trials))
	return sess, nil
}

// stopRequested drains device markers that arrived during the last trial and
// reports whether a stimulation stop (204) was among them. Non-blocking.
func (c *Controller) stopRequested() bool {
	for {
		if c.devSamples == nil {
			return false
		}
		select {
		case s, ok := <-c.devSamples:
			if !ok {
				c.devSamples = nil
				return false
			}
			if s.Code == marker.StimStop {
				return true
			}
		default:
			return false
		}
	}
}

func (c *Controller) emitRun(code int) {
	off, _ := c.clk.Elapsed()
	ev := marker.Event{Code: code, At: off, Label: marker.Name(code)}
	if err := c.sink.Append(ev); err != nil {
		log.Printf("[run] marker %d: %v", code, err)
	}
}
