// Package marker defines the event markers emitted during a run and the
// sinks that record them. Task codes follow the convention shared with the
// recording pipeline, so marker logs line up with the physiological data.
package marker

import "time"

// Task event codes emitted by the engine.
const (
	TrialStart   = 10
	Choice       = 20
	FeedbackWin  = 31
	FeedbackLoss = 32
	FeedbackMiss = 33
	TrialEnd     = 40
	RunStart     = 100
	RunEnd       = 200
	RunAbort     = 500
)

// Device codes observed on the inbound NIC marker stream.
const (
	RampUpStart   = 201
	RampDownStart = 202
	StimStart     = 203
	StimStop      = 204
)

// Name returns the label for a known marker code, or "unknown".
func Name(code int) string {
	switch code {
	case TrialStart:
		return "trial_start"
	case Choice:
		return "choice"
	case FeedbackWin:
		return "feedback_win"
	case FeedbackLoss:
		return "feedback_loss"
	case FeedbackMiss:
		return "feedback_miss"
	case TrialEnd:
		return "trial_end"
	case RunStart:
		return "run_start"
	case RunEnd:
		return "run_end"
	case RunAbort:
		return "run_abort"
	case RampUpStart:
		return "ramp_up_start"
	case RampDownStart:
		return "ramp_down_start"
	case StimStart:
		return "stimulation_start"
	case StimStop:
		return "stimulation_stop"
	}
	return "unknown"
}

// Event is one timestamped marker. At is the offset from the session clock
// anchor.
type Event struct {
	Code  int           `json:"code"`
	At    time.Duration `json:"at_ns"`
	Label string        `json:"label,omitempty"`
}

// Sink receives an ordered stream of events. Append must not block the trial
// loop for long; the engine never reads events back.
type Sink interface {
	Append(ev Event) error
	Close() error
}

// Memory is an in-memory Sink, used by tests and the stream probe.
type Memory struct {
	Events []Event
}

// Append records ev.
func (m *Memory) Append(ev Event) error {
	m.Events = append(m.Events, ev)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
