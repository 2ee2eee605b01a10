package passkey

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseUrl   = "https://book.passkey.com"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

type Options struct {
	// TokenUrl is the event's booking link, visiting it hands out the
	// session cookie and anti-forgery token.
	TokenUrl string
	BaseUrl  string
	EventId  string
	OwnerId  string

	Guests int
	Rooms  int

	// number of failed (non-throttled) attempts before a request gives up
	MaxRetries int
	// first retry waits this long, every following retry doubles it
	RetryBackoff time.Duration
	// a throttled request waits CurrentDelay() * ThrottleBackoffFactor
	ThrottleBackoffFactor float64
	// concurrent nights in individual night mode when not cautious
	MaxConcurrent int
	// hard ceiling on request rate across all sessions
	RequestsPerSecond float64
	Timeout           time.Duration
	UserAgent         string

	RateLimits RateLimitOptions
}

func (o Options) withDefaults() Options {
	if o.BaseUrl == "" {
		o.BaseUrl = DefaultBaseUrl
	}
	if o.Guests <= 0 {
		o.Guests = 1
	}
	if o.Rooms <= 0 {
		o.Rooms = 1
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second * 2
	}
	if o.ThrottleBackoffFactor <= 0 {
		o.ThrottleBackoffFactor = 10
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 2
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Second * 30
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}

// Client scrapes room availability for a single event. All of its sessions
// share one RateLimitController.
type Client struct {
	opts   Options
	limits *RateLimitController
	pacer  *rate.Limiter

	sessionsLock sync.Mutex
	sessions     []*Session
}

func NewClient(opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if opts.TokenUrl == "" {
		return nil, fmt.Errorf("token url is required")
	}
	if opts.EventId == "" || opts.OwnerId == "" {
		return nil, fmt.Errorf("event id and owner id are required")
	}

	c := &Client{
		opts:   opts,
		limits: NewRateLimitController(opts.RateLimits),
		pacer:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 2),
	}
	primary, err := newSession(0, opts, c.limits, c.pacer)
	if err != nil {
		return nil, err
	}
	c.sessions = []*Session{primary}
	return c, nil
}

func (c *Client) RateLimits() *RateLimitController {
	return c.limits
}

func (c *Client) primary() *Session {
	c.sessionsLock.Lock()
	defer c.sessionsLock.Unlock()
	return c.sessions[0]
}

// InitializeSession (re)starts the primary session.
func (c *Client) InitializeSession(ctx context.Context) error {
	return c.primary().Initialize(ctx)
}

func (c *Client) SubmitSearch(ctx context.Context, params SearchParams) (Outcome, error) {
	return c.primary().SubmitSearch(ctx, params)
}

func (c *Client) FetchResults(ctx context.Context) ([]Hotel, Outcome, error) {
	return c.primary().FetchResults(ctx)
}

// sessionPool hands out `size` sessions, creating the missing ones.
func (c *Client) sessionPool(size int) (chan *Session, error) {
	c.sessionsLock.Lock()
	defer c.sessionsLock.Unlock()

	for len(c.sessions) < size {
		session, err := newSession(len(c.sessions), c.opts, c.limits, c.pacer)
		if err != nil {
			return nil, err
		}
		c.sessions = append(c.sessions, session)
	}

	pool := make(chan *Session, size)
	for _, session := range c.sessions[:size] {
		pool <- session
	}
	return pool, nil
}

func (c *Client) searchParams(r SearchParams) SearchParams {
	if r.Guests <= 0 {
		r.Guests = c.opts.Guests
	}
	if r.Rooms <= 0 {
		r.Rooms = c.opts.Rooms
	}
	return r
}
