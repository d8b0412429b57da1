package task

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/DVS-Lab/tacs-bandit/internal/clock"
	"github.com/DVS-Lab/tacs-bandit/internal/marker"
	"github.com/DVS-Lab/tacs-bandit/internal/sched"
	"github.com/DVS-Lab/tacs-bandit/internal/stream"
	"github.com/DVS-Lab/tacs-bandit/internal/trigger"
)

// scriptedPresenter answers AwaitChoice from a fixed script and records
// nothing to a screen. A zero value never responds.
type scriptedPresenter struct {
	choice       sched.Option
	respondAfter time.Duration
	choiceErr    error

	mu       sync.Mutex
	fixation int
	options  int
	outcomes []Outcome
}

func (p *scriptedPresenter) ShowFixation(ctx context.Context) error {
	p.mu.Lock()
	p.fixation++
	p.mu.Unlock()
	return nil
}

func (p *scriptedPresenter) ShowOptions(ctx context.Context, stim1, stim2 int, slot1Side Side) error {
	p.mu.Lock()
	p.options++
	p.mu.Unlock()
	return nil
}

func (p *scriptedPresenter) AwaitChoice(ctx context.Context) (sched.Option, error) {
	if p.choiceErr != nil {
		return sched.None, p.choiceErr
	}
	if p.choice == sched.None {
		<-ctx.Done()
		return sched.None, ctx.Err()
	}
	if p.respondAfter > 0 {
		select {
		case <-time.After(p.respondAfter):
		case <-ctx.Done():
			return sched.None, ctx.Err()
		}
	}
	return p.choice, nil
}

func (p *scriptedPresenter) ShowBlank(ctx context.Context) error { return nil }

func (p *scriptedPresenter) ShowOutcome(ctx context.Context, o Outcome) error {
	p.mu.Lock()
	p.outcomes = append(p.outcomes, o)
	p.mu.Unlock()
	return nil
}

type rowLog struct {
	mu   sync.Mutex
	recs []TrialRecord
	err  error
}

func (r *rowLog) AppendTrial(rec TrialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.recs = append(r.recs, rec)
	return nil
}

func (r *rowLog) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

func fastTiming() Timing {
	return Timing{
		Fixation:    10 * time.Millisecond,
		MaxResponse: 40 * time.Millisecond,
		Outcome:     10 * time.Millisecond,
		ITI:         5 * time.Millisecond,
	}
}

func testMachine(t *testing.T, pres Presenter, sink marker.Sink) (*Machine, *clock.Clock) {
	t.Helper()
	clk := clock.New()
	if err := clk.Anchor(); err != nil {
		t.Fatalf("anchor: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	s := sched.New(sched.Config{WinFraction: 0.75, BaseTrials: 25, Jitter: 4}, rng)
	return NewMachine(fastTiming(), clk, s, pres, sink, rng, 3, 7), clk
}

func TestRunTrialResponded(t *testing.T) {
	pres := &scriptedPresenter{choice: sched.OptionA, respondAfter: 5 * time.Millisecond}
	sink := &marker.Memory{}
	m, _ := testMachine(t, pres, sink)

	rec, err := m.RunTrial(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunTrial: %v", err)
	}
	if !rec.Responded || rec.Choice != sched.OptionA {
		t.Fatalf("want responded OptionA, got responded=%v choice=%v", rec.Responded, rec.Choice)
	}
	if rec.RT <= 0 || rec.RT > fastTiming().MaxResponse {
		t.Fatalf("implausible RT %v", rec.RT)
	}
	if rec.Correct != (rec.Choice == rec.Favored) {
		t.Fatalf("correct=%v with choice=%v favored=%v", rec.Correct, rec.Choice, rec.Favored)
	}
	if rec.Slot1Side == rec.Slot2Side {
		t.Fatalf("both options on side %q", rec.Slot1Side)
	}

	codes := make([]int, 0, len(sink.Events))
	for _, ev := range sink.Events {
		codes = append(codes, ev.Code)
	}
	want := []int{marker.TrialStart, marker.Choice, 0, marker.TrialEnd}
	if len(codes) != 4 {
		t.Fatalf("want 4 markers, got %v", codes)
	}
	for i, c := range want {
		if i == 2 {
			if codes[2] != marker.FeedbackWin && codes[2] != marker.FeedbackLoss {
				t.Fatalf("marker 2 = %d, want win or loss feedback", codes[2])
			}
			continue
		}
		if codes[i] != c {
			t.Fatalf("marker %d = %d, want %d", i, codes[i], c)
		}
	}
}

func TestRunTrialTimestampsOrdered(t *testing.T) {
	pres := &scriptedPresenter{choice: sched.OptionB, respondAfter: time.Millisecond}
	m, _ := testMachine(t, pres, &marker.Memory{})

	rec, err := m.RunTrial(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunTrial: %v", err)
	}
	stamps := []time.Duration{rec.FixationAt, rec.ResponseAt, rec.ResponseEndAt, rec.OutcomeAt, rec.EndAt}
	for i := 1; i < len(stamps); i++ {
		if stamps[i] < stamps[i-1] {
			t.Fatalf("timestamp %d (%v) before %d (%v)", i, stamps[i], i-1, stamps[i-1])
		}
	}
}

func TestRunTrialMissSkipsRewardDraw(t *testing.T) {
	pres := &scriptedPresenter{} // never responds
	sink := &marker.Memory{}
	m, _ := testMachine(t, pres, sink)

	rec, err := m.RunTrial(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunTrial: %v", err)
	}
	if rec.Responded || rec.Choice != sched.None || rec.RT != 0 {
		t.Fatalf("want miss, got responded=%v choice=%v rt=%v", rec.Responded, rec.Choice, rec.RT)
	}
	if rec.Correct || rec.Rewarded {
		t.Fatalf("miss must not score or reward, got correct=%v rewarded=%v", rec.Correct, rec.Rewarded)
	}
	var sawMiss, sawChoice bool
	for _, ev := range sink.Events {
		switch ev.Code {
		case marker.FeedbackMiss:
			sawMiss = true
		case marker.Choice:
			sawChoice = true
		}
	}
	if !sawMiss || sawChoice {
		t.Fatalf("want miss feedback and no choice marker, got miss=%v choice=%v", sawMiss, sawChoice)
	}
}

func TestResponseWindowDeadlineAuthoritative(t *testing.T) {
	// The presenter fails immediately; the window must still run its full
	// span rather than ending on the early return.
	pres := &scriptedPresenter{choiceErr: errors.New("input device gone")}
	m, _ := testMachine(t, pres, &marker.Memory{})

	rec, err := m.RunTrial(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunTrial: %v", err)
	}
	if rec.Responded {
		t.Fatal("presenter error must count as no input")
	}
	window := rec.ResponseEndAt - rec.ResponseAt
	if window < fastTiming().MaxResponse {
		t.Fatalf("response window %v shorter than deadline %v", window, fastTiming().MaxResponse)
	}
}

func TestRunTrialAbortBetweenPhases(t *testing.T) {
	pres := &scriptedPresenter{choice: sched.OptionA}
	m, _ := testMachine(t, pres, &marker.Memory{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := m.RunTrial(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	// The fixation phase still ran to completion before the abort took hold.
	if rec.FixationAt > rec.EndAt {
		t.Fatalf("end stamp %v precedes fixation %v", rec.EndAt, rec.FixationAt)
	}
}

func controllerConfig(d time.Duration) Config {
	return Config{
		Subject:    "011",
		SessionNum: 1,
		Run:        2,
		RunType:    "practice",
		Duration:   d,
		Timing:     fastTiming(),
		Sched:      sched.Config{WinFraction: 0.75, BaseTrials: 25, Jitter: 4},
		Stim1:      3,
		Stim2:      7,
	}
}

func TestControllerRunsUntilDeadline(t *testing.T) {
	pres := &scriptedPresenter{choice: sched.OptionA, respondAfter: time.Millisecond}
	sink := &marker.Memory{}
	rows := &rowLog{}
	c, err := NewController(controllerConfig(200*time.Millisecond), pres, sink, rows, nil, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	sess, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sess.Trials) == 0 {
		t.Fatal("no trials completed before the deadline")
	}
	if rows.count() != len(sess.Trials) {
		t.Fatalf("rows %d != session trials %d", rows.count(), len(sess.Trials))
	}
	for i, tr := range sess.Trials {
		if tr.Index != i {
			t.Fatalf("trial %d has index %d", i, tr.Index)
		}
	}

	events := sink.Events
	if events[0].Code != marker.RunStart {
		t.Fatalf("first marker %d, want run start", events[0].Code)
	}
	if events[len(events)-1].Code != marker.RunEnd {
		t.Fatalf("last marker %d, want run end", events[len(events)-1].Code)
	}
}

func TestControllerAbortEmitsAbortMarker(t *testing.T) {
	pres := &scriptedPresenter{choice: sched.OptionA, respondAfter: time.Millisecond}
	sink := &marker.Memory{}
	rows := &rowLog{}
	c, err := NewController(controllerConfig(time.Hour), pres, sink, rows, nil, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	sess, err := c.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}

	events := sink.Events
	if events[len(events)-1].Code != marker.RunAbort {
		t.Fatalf("last marker %d, want abort", events[len(events)-1].Code)
	}
	// Every completed trial was flushed; the aborted one was not.
	if rows.count() != len(sess.Trials) {
		t.Fatalf("rows %d != completed trials %d", rows.count(), len(sess.Trials))
	}
}

func TestControllerStimStopEndsRunGracefully(t *testing.T) {
	pres := &scriptedPresenter{choice: sched.OptionA, respondAfter: time.Millisecond}
	sink := &marker.Memory{}
	dev := make(chan stream.Sample, 1)
	dev <- stream.Sample{Code: marker.StimStop, Timestamp: 12.5}
	c, err := NewController(controllerConfig(time.Hour), pres, sink, &rowLog{}, nil, dev)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	sess, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sess.Trials) != 0 {
		t.Fatalf("want 0 trials after immediate stop, got %d", len(sess.Trials))
	}
	events := sink.Events
	if events[len(events)-1].Code != marker.RunEnd {
		t.Fatalf("last marker %d, want run end", events[len(events)-1].Code)
	}
}

func TestControllerTriggerUnavailableIsFatal(t *testing.T) {
	cfg := controllerConfig(time.Hour)
	cfg.StimSync = true
	cfg.TriggerCode = marker.StimStart
	cfg.TriggerTimeout = 50 * time.Millisecond
	trig := trigger.New(nil)
	sink := &marker.Memory{}
	c, err := NewController(cfg, &scriptedPresenter{}, sink, &rowLog{}, trig, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	sess, err := c.Run(context.Background())
	if !errors.Is(err, trigger.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	// The session never started: no clock anchor, so not even a run-start
	// marker was emitted, and no trial ran.
	if len(sink.Events) != 0 {
		t.Fatalf("markers emitted without a start: %+v", sink.Events)
	}
	if !sess.StartedAt.IsZero() || len(sess.Trials) != 0 {
		t.Fatalf("session started despite trigger failure: %+v", sess)
	}
}

func TestControllerTriggerTimeoutIsFatal(t *testing.T) {
	cfg := controllerConfig(time.Hour)
	cfg.StimSync = true
	cfg.TriggerCode = marker.StimStart
	cfg.TriggerTimeout = 50 * time.Millisecond

	// The stream is reachable but silent: no trigger ever arrives.
	trig := trigger.New(make(chan stream.Sample))
	sink := &marker.Memory{}
	rows := &rowLog{}
	c, err := NewController(cfg, &scriptedPresenter{}, sink, rows, trig, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	sess, err := c.Run(context.Background())
	if !errors.Is(err, trigger.ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	if len(sink.Events) != 0 {
		t.Fatalf("markers emitted without a start: %+v", sink.Events)
	}
	if !sess.StartedAt.IsZero() || len(sess.Trials) != 0 || rows.count() != 0 {
		t.Fatalf("session started despite trigger timeout: %+v", sess)
	}
}

func TestControllerRejectsBadConfig(t *testing.T) {
	cfg := controllerConfig(0)
	if _, err := NewController(cfg, &scriptedPresenter{}, &marker.Memory{}, &rowLog{}, nil, nil); err == nil {
		t.Fatal("want error for zero duration")
	}
	cfg = controllerConfig(time.Minute)
	cfg.StimSync = true
	if _, err := NewController(cfg, &scriptedPresenter{}, &marker.Memory{}, &rowLog{}, nil, nil); err == nil {
		t.Fatal("want error for stim sync without listener")
	}
}

func TestSummarize(t *testing.T) {
	trials := []TrialRecord{
		{Responded: true, Choice: sched.OptionA, Favored: sched.OptionA, Correct: true, Rewarded: true, RT: 400 * time.Millisecond},
		{Responded: true, Choice: sched.OptionB, Favored: sched.OptionA, Correct: false, Rewarded: false, RT: 600 * time.Millisecond},
		{Responded: false, Favored: sched.OptionA},
		{Responded: true, Choice: sched.OptionB, Favored: sched.OptionB, Correct: true, Rewarded: true, RT: 500 * time.Millisecond},
	}
	s := Summarize(trials)
	if s.Trials != 4 || s.Responses != 3 || s.Correct != 2 || s.Rewarded != 2 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.Reversals != 1 {
		t.Fatalf("want 1 reversal, got %d", s.Reversals)
	}
	if s.MeanRT != 500*time.Millisecond {
		t.Fatalf("want mean RT 500ms, got %v", s.MeanRT)
	}
	if got := s.ResponseRate(); got != 0.75 {
		t.Fatalf("response rate %v", got)
	}
	if got := s.CorrectRate(); got < 0.66 || got > 0.67 {
		t.Fatalf("correct rate %v", got)
	}
}
