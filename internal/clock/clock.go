// Package clock provides the session clock. Every trial event and marker is
// timestamped as an offset from a single anchor fixed at run start, so task
// time and the stimulation device's recording can be cross-referenced later.
package clock

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotAnchored is returned by Elapsed before Anchor has been called.
	ErrNotAnchored = errors.New("clock: not anchored")
	// ErrAlreadyAnchored is returned by Anchor on any call after the first.
	ErrAlreadyAnchored = errors.New("clock: already anchored")
)

// Clock is a monotonic time source anchored exactly once per session.
// Offsets come from the monotonic reading of time.Time, so wall-clock
// adjustments during a run cannot produce discontinuities.
type Clock struct {
	mu       sync.Mutex
	anchored bool
	t0       time.Time
}

// New returns an unanchored Clock.
func New() *Clock {
	return &Clock{}
}

// Anchor fixes time zero at the current monotonic instant. It may be called
// exactly once; later calls return ErrAlreadyAnchored.
func (c *Clock) Anchor() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.anchored {
		return ErrAlreadyAnchored
	}
	c.t0 = time.Now()
	c.anchored = true
	return nil
}

// Elapsed returns the monotonic offset since the anchor.
func (c *Clock) Elapsed() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.anchored {
		return 0, ErrNotAnchored
	}
	return time.Since(c.t0), nil
}

// Anchored reports whether Anchor has been called.
func (c *Clock) Anchored() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anchored
}
