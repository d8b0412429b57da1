// Package present renders the task for the participant. The production
// deployment supplies its own Presenter; Console is a minimal line-based
// renderer for bench testing without a display.
package present

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/DVS-Lab/tacs-bandit/internal/sched"
	"github.com/DVS-Lab/tacs-bandit/internal/task"
)

// Console is a task.Presenter over a line-oriented terminal. Keys 1/l pick
// the left option and 2/r the right one.
type Console struct {
	out   io.Writer
	lines chan string

	mu        sync.Mutex
	slot1Side task.Side
}

// NewConsole starts reading in line by line. The reader goroutine exits when
// in reaches EOF.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{out: out, lines: make(chan string)}
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			c.lines <- strings.TrimSpace(sc.Text())
		}
		close(c.lines)
	}()
	return c
}

func (c *Console) ShowFixation(ctx context.Context) error {
	_, err := fmt.Fprintln(c.out, "\n        +")
	return err
}

func (c *Console) ShowOptions(ctx context.Context, stim1, stim2 int, slot1Side task.Side) error {
	c.mu.Lock()
	c.slot1Side = slot1Side
	c.mu.Unlock()

	left, right := stim1, stim2
	if slot1Side != task.SideLeft {
		left, right = stim2, stim1
	}
	_, err := fmt.Fprintf(c.out, "  [1] stimulus %03d    [2] stimulus %03d\n", left, right)
	return err
}

// AwaitLine blocks until any input line arrives or stop closes, reporting
// whether a line was read. The run command uses it as the operator's manual
// start gate while the trigger wait is pending.
func (c *Console) AwaitLine(stop <-chan struct{}) bool {
	select {
	case _, ok := <-c.lines:
		return ok
	case <-stop:
		return false
	}
}

// AwaitChoice blocks for a valid key line or the window's end. Unrecognized
// lines are ignored. Lines typed before the window opened are discarded, so
// a keypress during fixation or the previous trial's ITI cannot count as a
// response.
func (c *Console) AwaitChoice(ctx context.Context) (sched.Option, error) {
	for {
		select {
		case _, ok := <-c.lines:
			if !ok {
				return sched.None, io.EOF
			}
			continue
		default:
		}
		break
	}
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return sched.None, io.EOF
			}
			var side task.Side
			switch strings.ToLower(line) {
			case "1", "l", "left":
				side = task.SideLeft
			case "2", "r", "right":
				side = task.SideRight
			default:
				continue
			}
			c.mu.Lock()
			slot1 := c.slot1Side
			c.mu.Unlock()
			if side == slot1 {
				return sched.OptionA, nil
			}
			return sched.OptionB, nil
		case <-ctx.Done():
			return sched.None, ctx.Err()
		}
	}
}

func (c *Console) ShowBlank(ctx context.Context) error {
	_, err := fmt.Fprintln(c.out)
	return err
}

func (c *Console) ShowOutcome(ctx context.Context, o task.Outcome) error {
	var msg string
	switch o {
	case task.OutcomeWin:
		msg = "  ** WIN **"
	case task.OutcomeLoss:
		msg = "  -- no win --"
	default:
		msg = "  (too slow)"
	}
	_, err := fmt.Fprintln(c.out, msg)
	return err
}
