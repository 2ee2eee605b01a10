package passkey

import (
	"sync"
	"time"
)

const (
	DefaultBaseDelay         = time.Millisecond * 100
	DefaultMaxDelay          = time.Second * 5
	DefaultAbortAfter        = 5
	maxBackoffMultiplier     = 10.0
	backoffDecay             = 0.9
	cautiousRecoveryDuration = time.Minute
)

// RateLimitController tracks how the portal has been treating us and turns
// that into a delay to wait before each request. It is shared by every
// request in a pass and is safe for concurrent use.
type RateLimitController struct {
	baseDelay  time.Duration
	maxDelay   time.Duration
	abortAfter int
	now        func() time.Time

	mutex                sync.Mutex
	consecutiveThrottles int
	multiplier           float64
	cautious             bool
	lastThrottle         time.Time
}

type RateLimitOptions struct {
	// defaults to DefaultBaseDelay
	BaseDelay time.Duration
	// defaults to DefaultMaxDelay
	MaxDelay time.Duration
	// defaults to DefaultAbortAfter
	AbortAfter int
	// defaults to time.Now
	Now func() time.Time
}

func NewRateLimitController(opts RateLimitOptions) *RateLimitController {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.AbortAfter <= 0 {
		opts.AbortAfter = DefaultAbortAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RateLimitController{
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		abortAfter: opts.AbortAfter,
		now:        opts.Now,
		multiplier: 1,
	}
}

// RecordThrottle registers a 429 and returns the consecutive throttle count.
func (c *RateLimitController) RecordThrottle() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.consecutiveThrottles++
	c.cautious = true
	c.lastThrottle = c.now()
	c.multiplier = min(c.multiplier*2, maxBackoffMultiplier)
	return c.consecutiveThrottles
}

func (c *RateLimitController) RecordSuccess() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.consecutiveThrottles = 0
	if c.multiplier > 1 {
		c.multiplier = max(1, c.multiplier*backoffDecay)
	}
	if c.cautious && c.now().Sub(c.lastThrottle) > cautiousRecoveryDuration {
		c.cautious = false
	}
}

func (c *RateLimitController) CurrentDelay() time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delay := time.Duration(float64(c.baseDelay) * c.multiplier)
	return min(delay, c.maxDelay)
}

func (c *RateLimitController) ShouldAbort() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.consecutiveThrottles >= c.abortAfter
}

func (c *RateLimitController) Cautious() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.cautious
}

type RateLimitSnapshot struct {
	ConsecutiveThrottles int
	Multiplier           float64
	Cautious             bool
	Delay                time.Duration
}

func (c *RateLimitController) Snapshot() RateLimitSnapshot {
	delay := c.CurrentDelay()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	return RateLimitSnapshot{
		ConsecutiveThrottles: c.consecutiveThrottles,
		Multiplier:           c.multiplier,
		Cautious:             c.cautious,
		Delay:                delay,
	}
}
