package session

import (
	"sync"
	"time"

	"github.com/edgard/hyperbot/internal/transport"
)

// Policy decides whether a closed connection is dialled again and how long to
// wait first.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NextDelay returns min(BaseDelay * 2^retryCount, MaxDelay).
func (p Policy) NextDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
		delay *= 2
	}

	if delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}

// ShouldRetry reports whether a connection closed for reason is retried after
// retryCount consecutive failed attempts. An explicit logout is never retried.
func (p Policy) ShouldRetry(reason transport.DisconnectReason, retryCount int) bool {
	if reason == transport.ReasonLoggedOut {
		return false
	}

	return retryCount < p.MaxRetries
}

// Counters tracks consecutive reconnect attempts per bot.
type Counters struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]int)}
}

// Get returns the current count for botID.
func (c *Counters) Get(botID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[botID]
}

// Increment bumps the count for botID and returns the new value.
func (c *Counters) Increment(botID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[botID]++
	return c.counts[botID]
}

// Reset sets the count for botID back to zero.
func (c *Counters) Reset(botID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, botID)
}
