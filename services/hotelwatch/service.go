package hotelwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
	"hotelwatch-backend/lib/availability"
	"hotelwatch-backend/lib/scrapers/passkey"
	"hotelwatch-backend/lib/stay"
	"hotelwatch-backend/services/hotelwatch/db"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

const activeConfigKey = "scraper_active"

// Scraper is implemented by *passkey.Client.
type Scraper interface {
	Scrape(ctx context.Context, mode passkey.Mode, r stay.Range) (passkey.Result, error)
}

type Options struct {
	Stay stay.Range
	Mode passkey.Mode
	// after this many skipped runs in a row the smaller result is accepted
	// as the new normal, defaults to 3
	AnomalyOverride int
	// how many notifications may be in flight, defaults to 5
	NotifyConcurrency int
}

// RunSummary describes a finished run.
type RunSummary struct {
	RunID       string
	Status      string
	Message     string
	HotelsFound int
	RoomsFound  int
	RoomNights  int
	NoChanges   bool
	Fingerprint string
	Duration    time.Duration
	Reconcile   ReconcileResult
}

type Service struct {
	db       *sql.DB
	qry      *db.Queries
	scraper  Scraper
	engine   *Engine
	dispatch *Dispatcher
	opts     Options

	running   atomic.Bool
	enabled   atomic.Bool
	startedAt time.Time
	now       func() time.Time
}

func NewService(database *sql.DB, scraper Scraper, notifier Notifier, opts Options) *Service {
	if opts.Mode == "" {
		opts.Mode = passkey.ModeFullRange
	}
	if opts.AnomalyOverride <= 0 {
		opts.AnomalyOverride = 3
	}
	if opts.NotifyConcurrency <= 0 {
		opts.NotifyConcurrency = 5
	}

	dispatch := NewDispatcher(notifier, opts.NotifyConcurrency)
	s := &Service{
		db:        database,
		qry:       db.New(database),
		scraper:   scraper,
		engine:    NewEngine(database, dispatch),
		dispatch:  dispatch,
		opts:      opts,
		startedAt: time.Now(),
		now:       time.Now,
	}
	s.enabled.Store(true)
	return s
}

func (s *Service) Engine() *Engine {
	return s.engine
}

func (s *Service) Stay() stay.Range {
	return s.opts.Stay
}

// Wait blocks until notifications from earlier runs have been sent.
func (s *Service) Wait() {
	s.dispatch.Wait()
}

func (s *Service) Running() bool {
	return s.running.Load()
}

// Enabled reports whether both the in-memory switch and the persisted
// scraper_active flag allow scraping. A missing flag counts as active.
func (s *Service) Enabled(ctx context.Context) bool {
	if !s.enabled.Load() {
		return false
	}
	value, err := s.qry.GetConfig(ctx, activeConfigKey)
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	if err != nil {
		slog.WarnContext(ctx, "failed to read scraper_active, assuming active", "err", err)
		return true
	}
	active, err := strconv.ParseBool(value)
	if err != nil {
		slog.WarnContext(ctx, "invalid scraper_active value, assuming active", "value", value)
		return true
	}
	return active
}

// SetEnabled flips the in-memory switch and persists it.
func (s *Service) SetEnabled(ctx context.Context, enabled bool) error {
	s.enabled.Store(enabled)
	err := s.qry.SetConfig(ctx, db.SetConfigParams{
		Key:       activeConfigKey,
		Value:     strconv.FormatBool(enabled),
		UpdatedAt: s.now().UnixMilli(),
	})
	if err != nil {
		return &PersistenceError{Op: "set scraper_active", Err: err}
	}
	slog.InfoContext(ctx, "scraper toggled", "active", enabled)
	return nil
}

func newRunId() (string, error) {
	id, err := random.String(16)
	if err != nil {
		return "", err
	}
	return "run_" + id, nil
}

// RunOnce performs one scrape and reconcile pass. Failures of the pass
// itself end up in the run's status, an error is only returned when the run
// could not start or could not be recorded.
func (s *Service) RunOnce(ctx context.Context) (RunSummary, error) {
	if !s.Enabled(ctx) {
		return RunSummary{}, ErrScraperDisabled
	}
	if !s.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	ctx, span := tracer.Start(ctx, "service:RunOnce")
	defer span.End()

	runID, err := newRunId()
	if err != nil {
		return RunSummary{}, err
	}
	span.SetAttributes(attribute.String("run_id", runID))

	started := s.now()
	r := s.opts.Stay
	err = s.qry.CreateScrapeRun(ctx, db.CreateScrapeRunParams{
		ID:        runID,
		CheckIn:   stay.FormatDate(r.CheckIn),
		CheckOut:  stay.FormatDate(r.CheckOut),
		Year:      int64(r.Year()),
		Mode:      string(s.opts.Mode),
		StartedAt: started.UnixMilli(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create scrape run")
		return RunSummary{}, &PersistenceError{Op: "create scrape run", Err: err}
	}

	slog.InfoContext(ctx, "starting scrape run", "run_id", runID, "stay", r.String(), "mode", s.opts.Mode)
	summary := s.run(ctx, runID)
	summary.RunID = runID
	summary.Duration = s.now().Sub(started)

	err = s.finish(ctx, summary)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to finish scrape run")
		return summary, err
	}

	runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", summary.Status)))
	span.SetAttributes(attribute.String("status", summary.Status))
	if summary.Status == StatusError {
		span.SetStatus(codes.Error, summary.Message)
		slog.ErrorContext(ctx, "scrape run failed", "run_id", runID, "err", summary.Message)
	} else {
		slog.InfoContext(ctx, "scrape run finished",
			"run_id", runID,
			"status", summary.Status,
			"no_changes", summary.NoChanges,
			"hotels", summary.HotelsFound,
			"rooms", summary.RoomsFound,
			"written", summary.Reconcile.Written,
			"sold_out", summary.Reconcile.SoldOut,
			"notified", summary.Reconcile.Notified,
			"duration", summary.Duration,
		)
	}
	return summary, nil
}

func (s *Service) run(ctx context.Context, runID string) RunSummary {
	r := s.opts.Stay
	fail := func(status string, err error) RunSummary {
		return RunSummary{Status: status, Message: err.Error()}
	}

	result, err := s.scraper.Scrape(ctx, s.opts.Mode, r)
	if err != nil {
		return fail(StatusError, err)
	}

	records := availability.Aggregate(result.Nights, r)
	summary := RunSummary{
		Status:      StatusSuccess,
		HotelsFound: len(result.Hotels),
		RoomsFound:  len(records),
		RoomNights:  availability.RoomNights(result.Nights, r),
		Fingerprint: availability.Fingerprint(result.Nights),
	}

	err = s.checkAnomaly(ctx, summary.RoomNights)
	var anomaly *DataAnomalyError
	if errors.As(err, &anomaly) {
		slog.WarnContext(ctx, "skipping suspicious scrape", "err", err)
		summary.Status = StatusSkipped
		summary.Message = err.Error()
		return summary
	}
	if err != nil {
		return fail(StatusError, &PersistenceError{Op: "anomaly check", Err: err})
	}

	unchanged, err := s.unchanged(ctx, summary.Fingerprint)
	if err != nil {
		return fail(StatusError, &PersistenceError{Op: "fingerprint check", Err: err})
	}
	if unchanged {
		summary.NoChanges = true
		return summary
	}

	reconciled, err := s.engine.Reconcile(ctx, ReconcileInput{
		RunID:   runID,
		Stay:    r,
		Records: records,
		Hotels:  result.Hotels,
	})
	summary.Reconcile = reconciled
	if err != nil {
		summary.Status = StatusError
		summary.Message = err.Error()
	}
	return summary
}

// checkAnomaly compares against the latest run that changed anything. A
// scrape with less than half its room nights is only trusted once it has
// been skipped AnomalyOverride times in a row.
func (s *Service) checkAnomaly(ctx context.Context, roomNights int) error {
	year := int64(s.opts.Stay.Year())
	baseline, err := s.qry.GetLatestChangedRun(ctx, year)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if baseline.RoomNights <= 0 || int64(roomNights)*2 >= baseline.RoomNights {
		return nil
	}

	statuses, err := s.qry.ListFinishedRunStatuses(ctx, db.ListFinishedRunStatusesParams{
		Year:  year,
		Limit: int64(s.opts.AnomalyOverride),
	})
	if err != nil {
		return err
	}
	skipped := 0
	for _, status := range statuses {
		if status != StatusSkipped {
			break
		}
		skipped++
	}
	if skipped >= s.opts.AnomalyOverride {
		slog.WarnContext(ctx, "accepting reduced scrape after repeated skips",
			"room_nights", roomNights,
			"baseline_room_nights", baseline.RoomNights,
			"skipped_runs", skipped,
		)
		return nil
	}

	return &DataAnomalyError{
		RoomNights:         roomNights,
		BaselineRoomNights: int(baseline.RoomNights),
		BaselineRunID:      baseline.ID,
	}
}

func (s *Service) unchanged(ctx context.Context, fingerprint string) (bool, error) {
	previous, err := s.qry.GetLatestSuccessfulRun(ctx, int64(s.opts.Stay.Year()))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return previous.Fingerprint.Valid && previous.Fingerprint.String == fingerprint, nil
}

func (s *Service) finish(ctx context.Context, summary RunSummary) error {
	// the run has to leave the running state even if the caller gave up
	ctx = context.WithoutCancel(ctx)

	var message sql.NullString
	if summary.Message != "" {
		message = sql.NullString{String: summary.Message, Valid: true}
	}
	// an incomplete run keeps no fingerprint so the next identical scrape
	// retries what was lost instead of being treated as unchanged
	var fingerprint sql.NullString
	if summary.Status == StatusSuccess && summary.Reconcile.Complete() {
		fingerprint = sql.NullString{String: summary.Fingerprint, Valid: true}
	} else if summary.Status == StatusSuccess {
		slog.WarnContext(ctx, "run was incomplete, not storing its fingerprint",
			"run_id", summary.RunID,
			"failed", summary.Reconcile.Failed,
			"unresolved", summary.Reconcile.Unresolved,
			"unresolved_hotels", summary.Reconcile.UnresolvedHotels,
		)
	}

	affected, err := s.qry.FinishScrapeRun(ctx, db.FinishScrapeRunParams{
		Status:       summary.Status,
		CompletedAt:  sql.NullInt64{Int64: s.now().UnixMilli(), Valid: true},
		HotelsFound:  int64(summary.HotelsFound),
		RoomsFound:   int64(summary.RoomsFound),
		RoomNights:   int64(summary.RoomNights),
		DurationMs:   summary.Duration.Milliseconds(),
		ErrorMessage: message,
		NoChanges:    boolInt(summary.NoChanges),
		Fingerprint:  fingerprint,
		ID:           summary.RunID,
	})
	if err != nil {
		return &PersistenceError{Op: "finish scrape run", Err: err}
	}
	if affected == 0 {
		return fmt.Errorf("scrape run %s was already finished", summary.RunID)
	}
	return nil
}

// RunView is the json form of a scrape run.
type RunView struct {
	ID          string     `json:"id"`
	CheckIn     string     `json:"check_in"`
	CheckOut    string     `json:"check_out"`
	Year        int64      `json:"year"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	HotelsFound int64      `json:"hotels_found"`
	RoomsFound  int64      `json:"rooms_found"`
	RoomNights  int64      `json:"room_nights"`
	DurationMs  int64      `json:"duration_ms"`
	Error       string     `json:"error,omitempty"`
	NoChanges   bool       `json:"no_changes"`
}

func NewRunView(run db.ScrapeRun) RunView {
	view := RunView{
		ID:          run.ID,
		CheckIn:     run.CheckIn,
		CheckOut:    run.CheckOut,
		Year:        run.Year,
		Mode:        run.Mode,
		Status:      run.Status,
		StartedAt:   time.UnixMilli(run.StartedAt).UTC(),
		HotelsFound: run.HotelsFound,
		RoomsFound:  run.RoomsFound,
		RoomNights:  run.RoomNights,
		DurationMs:  run.DurationMs,
		Error:       run.ErrorMessage.String,
		NoChanges:   run.NoChanges == 1,
	}
	if run.CompletedAt.Valid {
		completed := time.UnixMilli(run.CompletedAt.Int64).UTC()
		view.CompletedAt = &completed
	}
	return view
}

type StatusReport struct {
	Active            bool     `json:"active"`
	Running           bool     `json:"running"`
	CheckIn           string   `json:"check_in"`
	CheckOut          string   `json:"check_out"`
	Mode              string   `json:"mode"`
	LastRun           *RunView `json:"last_run"`
	RunsLastHour      int64    `json:"runs_last_hour"`
	ErrorsLastHour    int64    `json:"errors_last_hour"`
	ErrorRateLastHour float64  `json:"error_rate_last_hour"`
	UptimeSeconds     int64    `json:"uptime_seconds"`
}

// Status summarizes recent scrape runs.
func (s *Service) Status(ctx context.Context) (StatusReport, error) {
	report := StatusReport{
		Active:        s.Enabled(ctx),
		Running:       s.Running(),
		CheckIn:       stay.FormatDate(s.opts.Stay.CheckIn),
		CheckOut:      stay.FormatDate(s.opts.Stay.CheckOut),
		Mode:          string(s.opts.Mode),
		UptimeSeconds: int64(s.now().Sub(s.startedAt).Seconds()),
	}

	last, err := s.qry.GetLatestScrapeRun(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return report, err
	}
	if err == nil {
		view := NewRunView(last)
		report.LastRun = &view
	}

	counts, err := s.qry.CountRunsSince(ctx, s.now().Add(-time.Hour).UnixMilli())
	if err != nil {
		return report, err
	}
	report.RunsLastHour = counts.Total
	report.ErrorsLastHour = counts.Errors
	if counts.Total > 0 {
		report.ErrorRateLastHour = float64(counts.Errors) / float64(counts.Total)
	}
	return report, nil
}
