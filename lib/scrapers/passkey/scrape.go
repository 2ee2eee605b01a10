package passkey

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"hotelwatch-backend/lib/stay"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Scrape dispatches to the scrape for mode.
func (c *Client) Scrape(ctx context.Context, mode Mode, r stay.Range) (Result, error) {
	switch mode {
	case ModeIndividualNights:
		return c.ScrapeIndividualNights(ctx, r)
	case ModeFullRange, "":
		return c.ScrapeFullRange(ctx, r)
	}
	return Result{}, fmt.Errorf("unknown scrape mode %q", mode)
}

func (c *Client) initPrimary(ctx context.Context) (time.Duration, error) {
	session := c.primary()
	if session.Established() {
		return 0, nil
	}
	start := time.Now()
	err := session.Initialize(ctx)
	return time.Since(start), err
}

// ScrapeFullRange searches the whole stay at once, the portal then returns
// every night of every block in a single results page.
func (c *Client) ScrapeFullRange(ctx context.Context, r stay.Range) (Result, error) {
	ctx, span := tracer.Start(ctx, "client:ScrapeFullRange")
	defer span.End()

	start := time.Now()
	result := Result{Mode: ModeFullRange, Stay: r}

	sessionInit, err := c.initPrimary(ctx)
	result.Timing.SessionInit = sessionInit
	if err != nil {
		// the request state machine will retry the session on its own,
		// this is only logged so the timing summary makes sense
		slog.WarnContext(ctx, "initial session setup failed", "err", err)
	}

	hotels, timing, err := c.scrapeRange(ctx, c.primary(), r, c.opts.ThrottleBackoffFactor)
	result.Timing.Submit = timing.submit
	result.Timing.Fetch = timing.fetch
	result.Timing.Waiting = timing.waiting
	result.Timing.Total = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "full range scrape failed")
		return result, fmt.Errorf("scrape %s: %w", r, err)
	}

	result.Hotels = hotels
	result.Nights = Flatten(hotels)
	result.ScrapedAt = time.Now()

	span.SetAttributes(
		attribute.Int("hotels", len(result.Hotels)),
		attribute.Int("nights", len(result.Nights)),
	)
	logTiming(ctx, result)
	return result, nil
}

type nightMerge struct {
	mutex   sync.Mutex
	hotels  map[int64]Hotel
	order   []int64
	nights  []NightAvailability
	timings []NightTiming
}

func (m *nightMerge) add(night stay.Range, hotels []Hotel, timing NightTiming) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, hotel := range hotels {
		existing, seen := m.hotels[hotel.ID]
		if !seen {
			m.order = append(m.order, hotel.ID)
		}
		if !seen || (len(existing.Blocks) == 0 && len(hotel.Blocks) > 0) {
			m.hotels[hotel.ID] = hotel
		}

		// a block without inventory for the night still counts, as nothing
		for _, block := range hotel.Blocks {
			m.nights = append(m.nights, NightAvailability{
				HotelID:   hotel.ID,
				HotelName: hotel.Name,
				RoomType:  block.Name,
				Date:      night.CheckIn,
				Available: block.MinAvailable(),
				Rate:      block.NightlyRate(),
			})
		}
	}
	m.timings = append(m.timings, timing)
}

// ScrapeIndividualNights searches each night of the stay on its own. Nights
// run concurrently, each on its own session, limited to one at a time while
// the rate limit controller is cautious. Any night that fails fails the
// whole scrape.
func (c *Client) ScrapeIndividualNights(ctx context.Context, r stay.Range) (Result, error) {
	ctx, span := tracer.Start(ctx, "client:ScrapeIndividualNights")
	defer span.End()

	start := time.Now()
	result := Result{Mode: ModeIndividualNights, Stay: r}

	sessionInit, err := c.initPrimary(ctx)
	result.Timing.SessionInit = sessionInit
	if err != nil {
		slog.WarnContext(ctx, "initial session setup failed", "err", err)
	}

	limit := c.opts.MaxConcurrent
	if c.limits.Cautious() {
		limit = 1
	}
	nights := r.Split()
	limit = min(limit, len(nights))
	span.SetAttributes(attribute.Int("concurrency", limit))

	pool, err := c.sessionPool(limit)
	if err != nil {
		return result, err
	}

	merged := &nightMerge{hotels: map[int64]Hotel{}}
	// per night throttles back off half as long as a full range search since
	// each request is cheaper for the portal
	throttleBackoff := c.opts.ThrottleBackoffFactor / 2

	var timingLock sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for _, night := range nights {
		group.Go(func() error {
			session := <-pool
			defer func() { pool <- session }()

			nightStart := time.Now()
			hotels, timing, err := c.scrapeRange(groupCtx, session, night, throttleBackoff)

			timingLock.Lock()
			result.Timing.Submit += timing.submit
			result.Timing.Fetch += timing.fetch
			result.Timing.Waiting += timing.waiting
			timingLock.Unlock()

			if err != nil {
				return fmt.Errorf("night %s: %w", stay.FormatDate(night.CheckIn), err)
			}
			merged.add(night, hotels, NightTiming{
				Night:  night.CheckIn,
				Submit: timing.submit,
				Fetch:  timing.fetch,
				Total:  time.Since(nightStart),
			})
			return nil
		})
	}
	err = group.Wait()
	result.Timing.Total = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "individual night scrape failed")
		return result, fmt.Errorf("scrape %s: %w", r, err)
	}

	for _, id := range merged.order {
		result.Hotels = append(result.Hotels, merged.hotels[id])
	}
	result.Nights = merged.nights
	slices.SortFunc(result.Nights, func(a, b NightAvailability) int {
		return cmp.Or(
			cmp.Compare(a.HotelID, b.HotelID),
			cmp.Compare(a.RoomType, b.RoomType),
			a.Date.Compare(b.Date),
		)
	})
	result.Timing.Nights = merged.timings
	slices.SortFunc(result.Timing.Nights, func(a, b NightTiming) int {
		return a.Night.Compare(b.Night)
	})
	result.ScrapedAt = time.Now()

	span.SetAttributes(
		attribute.Int("hotels", len(result.Hotels)),
		attribute.Int("nights", len(result.Nights)),
	)
	logTiming(ctx, result)
	return result, nil
}

func logTiming(ctx context.Context, result Result) {
	slog.InfoContext(ctx, "scrape finished",
		"mode", result.Mode,
		"stay", result.Stay.String(),
		"hotels", len(result.Hotels),
		"room_nights", len(result.Nights),
		"session_init", result.Timing.SessionInit.Round(time.Millisecond),
		"submit", result.Timing.Submit.Round(time.Millisecond),
		"fetch", result.Timing.Fetch.Round(time.Millisecond),
		"waiting", result.Timing.Waiting.Round(time.Millisecond),
		"total", result.Timing.Total.Round(time.Millisecond),
	)
	for _, night := range result.Timing.Nights {
		slog.DebugContext(ctx, "night timing",
			"night", stay.FormatDate(night.Night),
			"submit", night.Submit.Round(time.Millisecond),
			"fetch", night.Fetch.Round(time.Millisecond),
			"total", night.Total.Round(time.Millisecond),
		)
	}
}
