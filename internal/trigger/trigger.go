// Package trigger turns the asynchronous device marker stream into the
// blocking wait-for-start primitive the run controller needs. A session in
// stimulation mode must not begin until the device reports that the
// protocol has started, so the two clocks share an origin.
package trigger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DVS-Lab/tacs-bandit/internal/stream"
)

var (
	// ErrTimeout is returned when no trigger arrives within the bound.
	ErrTimeout = errors.New("trigger: timed out waiting for start marker")
	// ErrUnavailable is returned when no stream is reachable and manual
	// fallback is disabled, or the stream ends while waiting.
	ErrUnavailable = errors.New("trigger: marker stream unavailable")
)

// Trigger is the single consumed start signal for a session.
type Trigger struct {
	Code int
	// DeviceTime is the device-clock timestamp carried on the stream sample,
	// in seconds. Zero for a manual trigger.
	DeviceTime float64
	// Manual reports that the operator fallback fired instead of the stream.
	Manual bool
}

// Listener waits for a single trigger code. A nil sample channel means no
// stream is reachable; Arm then requires manual fallback.
type Listener struct {
	samples <-chan stream.Sample
	manual  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// New returns a Listener reading from samples. samples may be nil.
func New(samples <-chan stream.Sample) *Listener {
	return &Listener{
		samples: samples,
		manual:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Done is closed once Arm has returned, whatever the outcome. Goroutines
// feeding Manual use it to stand down, so they never swallow input meant
// for the task after the wait has ended.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Manual delivers the operator fallback signal. Safe to call at any time
// from any goroutine; it only takes effect during an Arm call that enabled
// the fallback.
func (l *Listener) Manual() {
	select {
	case l.manual <- struct{}{}:
	default:
	}
}

// Arm blocks until a sample with the expected code arrives, the timeout
// elapses, or (when manualOK) the operator fallback fires. timeout <= 0
// disables the bound. Samples with other codes are discarded. At most one
// trigger is consumed: once Arm returns, the listener stops reading and
// later occurrences of the code have no effect on the session.
func (l *Listener) Arm(ctx context.Context, code int, timeout time.Duration, manualOK bool) (Trigger, error) {
	defer l.once.Do(func() { close(l.done) })
	if l.samples == nil && !manualOK {
		return Trigger{}, ErrUnavailable
	}

	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	manual := l.manual
	if !manualOK {
		manual = nil
	}
	samples := l.samples

	for {
		select {
		case s, ok := <-samples:
			if !ok {
				if manual == nil {
					return Trigger{}, ErrUnavailable
				}
				samples = nil // wait on fallback or timeout only
				continue
			}
			if s.Code != code {
				continue
			}
			return Trigger{Code: s.Code, DeviceTime: s.Timestamp}, nil
		case <-manual:
			return Trigger{Code: code, Manual: true}, nil
		case <-expire:
			return Trigger{}, ErrTimeout
		case <-ctx.Done():
			return Trigger{}, ctx.Err()
		}
	}
}
