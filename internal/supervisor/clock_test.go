package supervisor

import (
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

// autoClock never blocks: After advances time by d and fires at once.
// It is used when a test drives tick directly from its own goroutine.
type autoClock struct {
	now   time.Time
	slept []time.Duration
}

func newAutoClock() *autoClock { return &autoClock{now: epoch} }

func (c *autoClock) Now() time.Time { return c.now }

func (c *autoClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *autoClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// manualClock fires After channels only when the test advances time.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []manualWaiter
}

type manualWaiter struct {
	at time.Time
	ch chan time.Time
}

func newManualClock() *manualClock { return &manualClock{now: epoch} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, manualWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

// waitForSleepers blocks until n goroutines wait on the clock.
func (c *manualClock) waitForSleepers(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.waiters)
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sleepers", n)
}
