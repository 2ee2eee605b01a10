package passkey

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"hotelwatch-backend/lib/restyutil"
	"hotelwatch-backend/lib/stay"
	"hotelwatch-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

const xsrfCookieName = "XSRF-TOKEN"

// Session is one portal browsing session: a cookie jar plus the anti-forgery
// token the portal handed out with it. The portal remembers the last search
// per session, so a session must only run one search at a time.
type Session struct {
	id     int
	opts   Options
	limits *RateLimitController
	http   *resty.Client

	mutex       sync.Mutex
	token       string
	established bool
}

func newSession(id int, opts Options, limits *RateLimitController, pacer *rate.Limiter) (*Session, error) {
	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", opts.UserAgent)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetTimeout(opts.Timeout)

	client.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		return pacer.Wait(req.Context())
	})
	telemetry.InstrumentResty(client, "hotelwatch.lib.scrapers.passkey/http")
	restyutil.InstrumentClient(client, fmt.Sprintf("session-%d", id), restyInstrumentOutput)

	return &Session{
		id:     id,
		opts:   opts,
		limits: limits,
		http:   client,
	}, nil
}

func (s *Session) Established() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.established
}

func (s *Session) Token() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.token
}

// Invalidate forgets the token and cookies, the next request will start a
// new session.
func (s *Session) Invalidate() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.established = false
	s.token = ""
}

// Initialize visits the token url with a fresh cookie jar and picks up the
// anti-forgery token, first from the XSRF-TOKEN cookie and then from the
// `_csrf` hidden input.
func (s *Session) Initialize(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session:Initialize")
	defer span.End()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return &SessionError{Err: err}
	}
	s.http.SetCookieJar(jar)

	res, err := s.http.R().
		SetContext(ctx).
		Get(s.opts.TokenUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch token url")
		return &SessionError{Err: fmt.Errorf("fetch token url: %w", err)}
	}
	if res.StatusCode() == http.StatusTooManyRequests {
		count := s.limits.RecordThrottle()
		throttleCounter.Add(ctx, 1)
		span.SetStatus(codes.Error, "throttled")
		return &SessionError{Status: res.StatusCode(), Err: &ThrottledError{
			RetryAfter: res.Header().Get("Retry-After"),
			Throttles:  count,
		}}
	}
	if !res.IsSuccess() {
		span.SetStatus(codes.Error, "token url returned non-2xx")
		return &SessionError{
			Status: res.StatusCode(),
			Err:    &StatusError{Status: res.StatusCode(), Url: s.opts.TokenUrl},
		}
	}

	token := s.tokenFromCookies()
	source := "cookie"
	if token == "" {
		source = "form"
		doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse token page")
			return &SessionError{Err: fmt.Errorf("parse token page: %w", err)}
		}
		token = doc.Find("input[name=_csrf]").AttrOr("value", "")
	}
	if token == "" {
		source = "none"
		slog.WarnContext(ctx, "portal session established without an anti-forgery token", "session", s.id)
	}
	span.SetAttributes(attribute.String("token_source", source))

	s.mutex.Lock()
	s.token = token
	s.established = true
	s.mutex.Unlock()

	slog.DebugContext(ctx, "portal session initialized", "session", s.id, "token_source", source)
	return nil
}

func (s *Session) tokenFromCookies() string {
	jar := s.http.GetClient().Jar
	if jar == nil {
		return ""
	}
	for _, raw := range []string{s.opts.TokenUrl, s.opts.BaseUrl} {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		for _, cookie := range jar.Cookies(u) {
			if cookie.Name == xsrfCookieName && cookie.Value != "" {
				value, err := url.QueryUnescape(cookie.Value)
				if err != nil {
					return cookie.Value
				}
				return value
			}
		}
	}
	return ""
}

func (s *Session) ensure(ctx context.Context) error {
	if s.Established() {
		return nil
	}
	return s.Initialize(ctx)
}

func (s *Session) eventPath(suffix string) string {
	return fmt.Sprintf("/event/%s/owner/%s/%s", s.opts.EventId, s.opts.OwnerId, suffix)
}

// classify maps a response onto the three outcomes a request can have and
// feeds the rate limit controller along the way.
func (s *Session) classify(ctx context.Context, res *resty.Response) (Outcome, error) {
	outcome, err := s.classifyStatus(ctx, res)
	requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
	return outcome, err
}

func (s *Session) classifyStatus(ctx context.Context, res *resty.Response) (Outcome, error) {
	switch status := res.StatusCode(); {
	case status == http.StatusTooManyRequests:
		count := s.limits.RecordThrottle()
		throttleCounter.Add(ctx, 1)
		retryAfter := res.Header().Get("Retry-After")
		slog.WarnContext(ctx, "throttled by portal",
			"session", s.id,
			"consecutive", count,
			"retry_after", retryAfter,
		)
		return OutcomeThrottled, &ThrottledError{RetryAfter: retryAfter, Throttles: count}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		s.Invalidate()
		return OutcomeFailed, &SessionError{Status: status}
	case status < 200 || status >= 300:
		return OutcomeFailed, &StatusError{Status: status, Url: res.Request.URL}
	}
	s.limits.RecordSuccess()
	return OutcomeSuccess, nil
}

// SubmitSearch posts the search form, the portal stores the search in the
// session and redirects to the results page.
func (s *Session) SubmitSearch(ctx context.Context, params SearchParams) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "session:SubmitSearch")
	defer span.End()

	err := s.ensure(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "session not established")
		var throttled *ThrottledError
		if errors.As(err, &throttled) {
			return OutcomeThrottled, err
		}
		return OutcomeFailed, err
	}

	span.SetAttributes(
		attribute.String("check_in", stay.FormatDate(params.Stay.CheckIn)),
		attribute.String("check_out", stay.FormatDate(params.Stay.CheckOut)),
	)

	res, err := s.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"_csrf":                               s.Token(),
			"hotelId":                             "0",
			"blockMap.blocks[0].blockId":          "0",
			"blockMap.blocks[0].checkIn":          stay.FormatDate(params.Stay.CheckIn),
			"blockMap.blocks[0].checkOut":         stay.FormatDate(params.Stay.CheckOut),
			"blockMap.blocks[0].numberOfGuests":   strconv.Itoa(params.Guests),
			"blockMap.blocks[0].numberOfRooms":    strconv.Itoa(params.Rooms),
			"blockMap.blocks[0].numberOfChildren": "0",
		}).
		Post(s.eventPath("rooms/select"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit search")
		return OutcomeFailed, fmt.Errorf("submit search: %w", err)
	}

	outcome, err := s.classify(ctx, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome.String())
	}
	return outcome, err
}

// FetchResults reads back the results of the last search submitted on this
// session.
func (s *Session) FetchResults(ctx context.Context) ([]Hotel, Outcome, error) {
	ctx, span := tracer.Start(ctx, "session:FetchResults")
	defer span.End()

	res, err := s.http.R().
		SetContext(ctx).
		Get(s.eventPath("list/hotels"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch results")
		return nil, OutcomeFailed, fmt.Errorf("fetch results: %w", err)
	}

	outcome, err := s.classify(ctx, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome.String())
		return nil, outcome, err
	}

	hotels, err := ParseResultsPage(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse results")
		return nil, OutcomeFailed, err
	}
	span.SetAttributes(attribute.Int("hotels", len(hotels)))
	return hotels, OutcomeSuccess, nil
}
