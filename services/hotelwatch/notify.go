package hotelwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
)

// Notification is sent when a room becomes bookable or its partial
// availability changes.
type Notification struct {
	ScrapeRunID     string  `json:"scrape_run_id"`
	HotelID         int64   `json:"hotel_id"`
	HotelName       string  `json:"hotel_name"`
	RoomType        string  `json:"room_type"`
	AvailableCount  int     `json:"available_count"`
	NightsAvailable int     `json:"nights_available"`
	TotalNights     int     `json:"total_nights"`
	Partial         bool    `json:"partial"`
	NightlyRate     float64 `json:"nightly_rate"`
	TotalPrice      float64 `json:"total_price"`
	CheckIn         string  `json:"check_in"`
	CheckOut        string  `json:"check_out"`
	Year            int     `json:"year"`
}

func (n Notification) Summary() string {
	if n.Partial {
		return fmt.Sprintf(
			"%s: %s available for %d of %d nights (%s to %s)",
			n.HotelName, n.RoomType, n.NightsAvailable, n.TotalNights, n.CheckIn, n.CheckOut,
		)
	}
	return fmt.Sprintf(
		"%s: %d x %s available for the full stay (%s to %s) at $%.2f/night, $%.2f total",
		n.HotelName, n.AvailableCount, n.RoomType, n.CheckIn, n.CheckOut, n.NightlyRate, n.TotalPrice,
	)
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// MultiNotifier sends to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		err := notifier.Notify(ctx, n)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type WebhookConfig struct {
	Url   string `json:"url"`
	Token string `json:"token"`
}

// WebhookNotifier posts notifications the way a database insert webhook
// would, so the watcher matching function on the other end can treat it as
// a new row.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhookNotifier(config WebhookConfig) WebhookNotifier {
	client := resty.New()
	client.SetTimeout(time.Second * 30)
	client.SetHeader("Content-Type", "application/json")
	if config.Token != "" {
		client.SetAuthToken(config.Token)
	}
	return WebhookNotifier{
		client: client,
		url:    config.Url,
	}
}

type webhookPayload struct {
	Type   string       `json:"type"`
	Table  string       `json:"table"`
	Record Notification `json:"record"`
}

func (w WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	res, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{
			Type:   "INSERT",
			Table:  "room_snapshots",
			Record: n,
		}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("webhook: unexpected status %d: %s", res.StatusCode(), res.String())
	}
	return nil
}

type EmailConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	Recipients   []string `json:"recipients"`
}

type EmailNotifier struct {
	config EmailConfig
}

func NewEmailNotifier(config EmailConfig) EmailNotifier {
	return EmailNotifier{config: config}
}

func (e EmailNotifier) Notify(ctx context.Context, n Notification) error {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Hotel Watch <%s>", e.config.EmailAddress)
	mail.To = e.config.Recipients
	mail.Subject = fmt.Sprintf("Rooms available at %s", n.HotelName)

	body := fmt.Sprintf(`%s

Room type: %s
Nights available: %d of %d
Nightly rate: $%.2f
Estimated total: $%.2f`,
		n.Summary(),
		n.RoomType,
		n.NightsAvailable, n.TotalNights,
		n.NightlyRate,
		n.TotalPrice,
	)
	mail.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", e.config.Server, e.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", e.config.EmailAddress, e.config.Password, e.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

const notifyTimeout = time.Second * 30

// Dispatcher sends notifications in the background with a cap on how many
// are in flight at once. Failures are logged and never reach the caller.
type Dispatcher struct {
	notifier Notifier
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

func NewDispatcher(notifier Notifier, limit int) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		sem:      semaphore.NewWeighted(int64(max(limit, 1))),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) {
	if d == nil || d.notifier == nil {
		return
	}
	// notifications outlive the run that triggered them
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		err := d.sem.Acquire(ctx, 1)
		if err != nil {
			return
		}
		defer d.sem.Release(1)

		ctx, span := tracer.Start(ctx, "notify:Dispatch")
		defer span.End()
		span.SetAttributes(
			attribute.String("hotel", n.HotelName),
			attribute.String("room_type", n.RoomType),
		)

		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		err = d.notifier.Notify(ctx, n)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to send notification")
			notificationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
			slog.WarnContext(ctx, "failed to send notification",
				"hotel", n.HotelName,
				"room_type", n.RoomType,
				"err", err,
			)
			return
		}
		notificationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "sent")))
		slog.InfoContext(ctx, "sent notification", "summary", n.Summary())
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
