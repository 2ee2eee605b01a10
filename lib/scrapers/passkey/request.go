package passkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"hotelwatch-backend/lib/stay"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type requestState int

const (
	stateNotStarted requestState = iota
	stateSubmitted
	stateThrottled
	stateFailed
	stateSucceeded
)

func (s requestState) String() string {
	switch s {
	case stateNotStarted:
		return "not_started"
	case stateSubmitted:
		return "submitted"
	case stateThrottled:
		return "throttled"
	case stateFailed:
		return "failed"
	case stateSucceeded:
		return "succeeded"
	}
	return "unknown"
}

type requestTiming struct {
	submit  time.Duration
	fetch   time.Duration
	waiting time.Duration
}

// searchRequest drives one submit + fetch round trip through its retries.
type searchRequest struct {
	session *Session
	limits  *RateLimitController
	params  SearchParams

	maxRetries      int
	retryBackoff    time.Duration
	throttleBackoff float64

	state    requestState
	failures int
	lastErr  error
	hotels   []Hotel
	timing   requestTiming
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *searchRequest) wait(ctx context.Context, d time.Duration) error {
	start := time.Now()
	err := sleep(ctx, d)
	r.timing.waiting += time.Since(start)
	return err
}

func (r *searchRequest) transition(outcome Outcome, err error, onSuccess requestState) {
	r.lastErr = err
	switch outcome {
	case OutcomeSuccess:
		r.state = onSuccess
	case OutcomeThrottled:
		r.state = stateThrottled
	default:
		r.state = stateFailed
	}
}

func (r *searchRequest) run(ctx context.Context) ([]Hotel, error) {
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch r.state {
		case stateNotStarted:
			err := r.wait(ctx, r.limits.CurrentDelay())
			if err != nil {
				return nil, err
			}
			t := time.Now()
			outcome, err := r.session.SubmitSearch(ctx, r.params)
			r.timing.submit += time.Since(t)
			r.transition(outcome, err, stateSubmitted)

		case stateSubmitted:
			t := time.Now()
			hotels, outcome, err := r.session.FetchResults(ctx)
			r.timing.fetch += time.Since(t)
			r.hotels = hotels
			r.transition(outcome, err, stateSucceeded)

		case stateThrottled:
			if r.limits.ShouldAbort() {
				return nil, fmt.Errorf("%w: %w", ErrAborted, r.lastErr)
			}
			backoff := time.Duration(float64(r.limits.CurrentDelay()) * r.throttleBackoff)
			slog.WarnContext(ctx, "backing off after throttle",
				"stay", r.params.Stay.String(),
				"backoff", backoff,
			)
			err := r.wait(ctx, backoff)
			if err != nil {
				return nil, err
			}
			r.state = stateNotStarted

		case stateFailed:
			r.failures++
			if r.failures >= r.maxRetries {
				return nil, &RetriesExhaustedError{
					Attempts: r.failures,
					Elapsed:  time.Since(start),
					Last:     r.lastErr,
				}
			}
			var sessionErr *SessionError
			if errors.As(r.lastErr, &sessionErr) {
				r.session.Invalidate()
			}
			backoff := r.retryBackoff * time.Duration(1<<(r.failures-1))
			slog.WarnContext(ctx, "portal request failed, retrying",
				"stay", r.params.Stay.String(),
				"attempt", r.failures,
				"backoff", backoff,
				"err", r.lastErr,
			)
			err := r.wait(ctx, backoff)
			if err != nil {
				return nil, err
			}
			r.state = stateNotStarted

		case stateSucceeded:
			return r.hotels, nil
		}
	}
}

// scrapeRange runs a full search for r on session with the retry policy.
func (c *Client) scrapeRange(ctx context.Context, session *Session, r stay.Range, throttleBackoff float64) ([]Hotel, requestTiming, error) {
	ctx, span := tracer.Start(ctx, "client:scrapeRange")
	defer span.End()

	span.SetAttributes(attribute.String("stay", r.String()))

	req := &searchRequest{
		session:         session,
		limits:          c.limits,
		params:          c.searchParams(SearchParams{Stay: r}),
		maxRetries:      c.opts.MaxRetries,
		retryBackoff:    c.opts.RetryBackoff,
		throttleBackoff: throttleBackoff,
	}
	hotels, err := req.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprintf("request ended in state %s", req.state))
		return nil, req.timing, err
	}
	span.SetAttributes(attribute.Int("hotels", len(hotels)))
	return hotels, req.timing, nil
}
