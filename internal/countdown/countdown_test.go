package countdown

import (
	"testing"
	"time"
)

func TestTick_StrictlyDecrements(t *testing.T) {
	// Drive ticks by hand instead of running the real ticker goroutine.
	c := New()
	c.mu.Lock()
	c.remaining = 3
	c.running = true
	c.mu.Unlock()

	want := 3
	for want > 1 {
		if got := c.Remaining(); got != want {
			t.Fatalf("Remaining = %d, want %d", got, want)
		}
		if !c.tick() {
			t.Fatalf("tick returned false at remaining=%d", want)
		}
		want--
	}
	// Final tick reaches zero and reports done.
	if c.tick() {
		t.Error("tick should return false when reaching zero")
	}
	if got := c.Remaining(); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
	if !c.Expired() {
		t.Error("Expired should be true at zero")
	}
}

func TestStart_ResetsWhileRunning(t *testing.T) {
	c := New()
	c.Start(5)
	defer c.Stop()

	c.Start(10)
	if got := c.Remaining(); got != 10 {
		t.Errorf("Remaining = %d, want 10 after restart", got)
	}
}

func TestStart_NonPositive(t *testing.T) {
	c := New()
	c.Start(0)
	if !c.Expired() {
		t.Error("countdown started at 0 should be expired")
	}
	c.Start(-3)
	if got := c.Remaining(); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
}

func TestStop_Idempotent(t *testing.T) {
	c := New()
	c.Start(300)
	c.Stop()
	c.Stop()
	if c.tick() {
		t.Error("tick after Stop should report done")
	}
}

func TestTickerRunsToZero(t *testing.T) {
	c := New()
	c.interval = time.Millisecond
	c.Start(3)
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !c.Expired() {
		if time.Now().After(deadline) {
			t.Fatalf("countdown never expired, remaining=%d", c.Remaining())
		}
		time.Sleep(time.Millisecond)
	}
	if got := c.Remaining(); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
}

func TestRestartAfterExpiry(t *testing.T) {
	c := New()
	c.interval = time.Millisecond
	c.Start(1)
	deadline := time.Now().Add(2 * time.Second)
	for !c.Expired() {
		if time.Now().After(deadline) {
			t.Fatal("countdown never expired")
		}
		time.Sleep(time.Millisecond)
	}

	c.Start(300)
	defer c.Stop()
	if got := c.Remaining(); got != 300 {
		t.Errorf("Remaining = %d, want 300 after restart", got)
	}
	if c.Expired() {
		t.Error("restarted countdown should not be expired")
	}
}
