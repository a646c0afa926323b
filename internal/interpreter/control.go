package interpreter

import (
	"context"
	"sync"
)

// Control lets another goroutine pause, resume or stop a run. The
// interpreter only looks at it between steps.
type Control struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
	stop   chan struct{}
	reason string
}

// NewControl returns a running, unstopped control.
func NewControl() *Control {
	return &Control{resume: make(chan struct{}), stop: make(chan struct{})}
}

// Pause parks the run at its next checkpoint.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resume = make(chan struct{})
	}
}

// Resume releases a paused run. It is a no-op when not paused.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resume)
	}
}

// Toggle flips between paused and running and returns the new paused state.
func (c *Control) Toggle() bool {
	c.mu.Lock()
	paused := c.paused
	c.mu.Unlock()
	if paused {
		c.Resume()
		return false
	}
	c.Pause()
	return true
}

// Paused reports whether a pause is in effect.
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Stop ends the run at its next checkpoint. Only the first reason is kept.
func (c *Control) Stop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stop:
	default:
		c.reason = reason
		close(c.stop)
	}
}

// Done is closed once Stop has been called.
func (c *Control) Done() <-chan struct{} {
	return c.stop
}

// Stopped reports whether Stop has been called.
func (c *Control) Stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Control) stopError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &AbortError{Reason: c.reason, Stopped: true}
}

// Checkpoint returns immediately while running, blocks while paused and
// returns an *AbortError once stopped.
func (c *Control) Checkpoint(ctx context.Context) error {
	for {
		if c.Stopped() {
			return c.stopError()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		c.mu.Lock()
		paused, resume := c.paused, c.resume
		c.mu.Unlock()
		if !paused {
			return nil
		}

		select {
		case <-resume:
		case <-c.stop:
		case <-ctx.Done():
		}
	}
}
