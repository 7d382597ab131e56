// Package countdown implements the resend cooldown timer: a one-second ticking
// countdown that gates the resend action until it reaches zero.
package countdown

import (
	"sync"
	"time"
)

// Countdown counts down from a start value, one decrement per tick. It owns at most
// one ticker goroutine; Stop cancels it and is safe to call any number of times.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	running   bool
	stopCh    chan struct{}
	// interval is the tick period; 1s in production, shortened in tests.
	interval time.Duration
}

// New returns a stopped countdown at zero.
func New() *Countdown {
	return &Countdown{interval: time.Second}
}

// Start resets the countdown to seconds and begins ticking. Calling Start while
// already running just resets the remaining value; the existing ticker keeps going.
func (c *Countdown) Start(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds <= 0 {
		c.remaining = 0
		return
	}
	c.remaining = seconds
	if c.running {
		return
	}
	c.running = true
	stop := make(chan struct{})
	c.stopCh = stop
	go c.loop(stop)
}

func (c *Countdown) loop(stop chan struct{}) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if !c.tick() {
				return
			}
		}
	}
}

// tick decrements by one. Returns false when the countdown has reached zero or was
// stopped, telling the ticker goroutine to exit.
func (c *Countdown) tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining == 0 {
		c.running = false
		c.stopCh = nil
		return false
	}
	return true
}

// Remaining returns the seconds left until resend becomes available.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Expired reports whether the countdown has reached zero.
func (c *Countdown) Expired() bool {
	return c.Remaining() == 0
}

// Stop cancels the ticker goroutine and returns the countdown to zero. Called on
// flow teardown so no timer leaks.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	c.running = false
	c.remaining = 0
}
