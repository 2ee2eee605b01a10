package passkey

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"hotelwatch-backend/lib/stay"
	"hotelwatch-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const (
	testEventId = "50910675"
	testOwnerId = "10909638"
	testToken   = "csrf-token-123"
)

// fakePortal mimics the booking portal closely enough to drive a client:
// a token page, the search form and a results page that renders whatever
// the last search of the calling session was.
type fakePortal struct {
	t      testing.TB
	server *httptest.Server

	// when false the token is only available through the hidden form input
	tokenInCookie bool
	// status to reply to the nth (1 based) search submission with
	submitStatus func(n int) int
	// json for a search, returning "" renders a page without results
	results func(r stay.Range) string

	mutex         sync.Mutex
	nextSession   int
	searches      map[string]stay.Range
	tokenRequests int
	submits       int
	badTokens     int
	maxInFlight   int
	inFlight      int
}

func newFakePortal(t testing.TB) *fakePortal {
	p := &fakePortal{
		t:             t,
		tokenInCookie: true,
		submitStatus:  func(int) int { return http.StatusOK },
		results:       func(stay.Range) string { return "[]" },
		searches:      map[string]stay.Range{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /token", p.handleToken)
	mux.HandleFunc(fmt.Sprintf("POST /event/%s/owner/%s/rooms/select", testEventId, testOwnerId), p.handleSubmit)
	mux.HandleFunc(fmt.Sprintf("GET /event/%s/owner/%s/list/hotels", testEventId, testOwnerId), p.handleResults)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePortal) options() Options {
	return Options{
		TokenUrl:          p.server.URL + "/token",
		BaseUrl:           p.server.URL,
		EventId:           testEventId,
		OwnerId:           testOwnerId,
		RetryBackoff:      time.Millisecond,
		RequestsPerSecond: 1000,
		RateLimits: RateLimitOptions{
			BaseDelay: time.Millisecond,
			MaxDelay:  time.Millisecond * 20,
		},
	}
}

func (p *fakePortal) handleToken(w http.ResponseWriter, r *http.Request) {
	p.mutex.Lock()
	p.tokenRequests++
	p.nextSession++
	session := fmt.Sprintf("session-%d", p.nextSession)
	p.mutex.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "SESSION", Value: session, Path: "/"})
	if p.tokenInCookie {
		http.SetCookie(w, &http.Cookie{Name: xsrfCookieName, Value: testToken, Path: "/"})
		fmt.Fprint(w, `<html><body>welcome</body></html>`)
		return
	}
	fmt.Fprintf(w, `<html><body><form><input type="hidden" name="_csrf" value="%s"></form></body></html>`, testToken)
}

func (p *fakePortal) session(r *http.Request) string {
	cookie, err := r.Cookie("SESSION")
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (p *fakePortal) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p.mutex.Lock()
	p.submits++
	n := p.submits
	p.inFlight++
	p.maxInFlight = max(p.maxInFlight, p.inFlight)
	p.mutex.Unlock()
	defer func() {
		p.mutex.Lock()
		p.inFlight--
		p.mutex.Unlock()
	}()

	// gives concurrent nights a chance to overlap
	time.Sleep(time.Millisecond * 5)

	status := p.submitStatus(n)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	err := r.ParseForm()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("_csrf") != testToken {
		p.mutex.Lock()
		p.badTokens++
		p.mutex.Unlock()
		w.WriteHeader(http.StatusForbidden)
		return
	}

	search, err := stay.Parse(
		r.PostForm.Get("blockMap.blocks[0].checkIn"),
		r.PostForm.Get("blockMap.blocks[0].checkOut"),
	)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p.mutex.Lock()
	p.searches[p.session(r)] = search
	p.mutex.Unlock()
	fmt.Fprint(w, "ok")
}

func (p *fakePortal) handleResults(w http.ResponseWriter, r *http.Request) {
	p.mutex.Lock()
	search, ok := p.searches[p.session(r)]
	p.mutex.Unlock()
	if !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	data := p.results(search)
	if data == "" {
		w.Write(resultsPage(`<script>var nothing = true;</script>`))
		return
	}
	w.Write(resultsPage(fmt.Sprintf(`<script id="last-search-results" type="application/json">%s</script>`, data)))
}

func (p *fakePortal) counts() (tokens, submits, badTokens int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.tokenRequests, p.submits, p.badTokens
}

// inventoryJson renders one hotel with a King block covering every night
// of r, nights[i] is the count for the ith night of the stay.
func inventoryJson(r stay.Range, counts map[string]int) string {
	var days []string
	for _, night := range r.Dates() {
		date := stay.FormatDate(night)
		count, ok := counts[date]
		if !ok {
			continue
		}
		days = append(days, fmt.Sprintf(`{"date": "%s", "rate": 300, "available": %d}`, date, count))
	}
	return fmt.Sprintf(`[{
		"id": 42,
		"name": "Hyatt Regency",
		"distanceFromEvent": 0.1,
		"messageMap": "Skywalk connected",
		"blocks": [{"name": "King", "inventory": [%s]}]
	}]`, strings.Join(days, ","))
}

var testStay = mustStay("2026-07-29", "2026-08-03")

func mustStay(checkIn, checkOut string) stay.Range {
	r, err := stay.Parse(checkIn, checkOut)
	if err != nil {
		panic(err)
	}
	return r
}

var stayCounts = map[string]int{
	"2026-07-29": 2,
	"2026-07-30": 2,
	"2026-07-31": 0,
	"2026-08-01": 2,
	"2026-08-02": 2,
}

func TestScrapeFullRange(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/passkey")
	defer cleanup()

	portal := newFakePortal(t)
	portal.results = func(r stay.Range) string {
		return inventoryJson(r, stayCounts)
	}

	client, err := NewClient(portal.options())
	if err != nil {
		t.Fatal(err)
	}
	result, err := client.ScrapeFullRange(context.Background(), testStay)
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, ModeFullRange, result.Mode)
	require.Len(t, result.Hotels, 1)
	require.True(t, result.Hotels[0].HasSkywalk())
	require.Len(t, result.Nights, 5)
	require.Equal(t, 0, result.Nights[2].Available)
	require.Equal(t, day(2026, 7, 31), result.Nights[2].Date)

	tokens, submits, badTokens := portal.counts()
	require.Equal(t, 1, tokens)
	require.Equal(t, 1, submits)
	require.Equal(t, 0, badTokens)
}

func TestSessionTokenFromForm(t *testing.T) {
	portal := newFakePortal(t)
	portal.tokenInCookie = false

	client, err := NewClient(portal.options())
	if err != nil {
		t.Fatal(err)
	}
	err = client.InitializeSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, testToken, client.primary().Token())

	outcome, err := client.SubmitSearch(context.Background(), SearchParams{Stay: testStay})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)

	hotels, outcome, err := client.FetchResults(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
	require.Empty(t, hotels)
}

func TestSessionTokenFromCookie(t *testing.T) {
	portal := newFakePortal(t)

	client, err := NewClient(portal.options())
	if err != nil {
		t.Fatal(err)
	}
	err = client.InitializeSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, client.primary().Established())
	require.Equal(t, testToken, client.primary().Token())
}

func TestSessionInitFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(Options{
		TokenUrl: server.URL + "/token",
		BaseUrl:  server.URL,
		EventId:  testEventId,
		OwnerId:  testOwnerId,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = client.InitializeSession(context.Background())
	var sessionErr *SessionError
	require.True(t, errors.As(err, &sessionErr))
	require.Equal(t, http.StatusInternalServerError, sessionErr.Status)
	require.False(t, client.primary().Established())
}

func TestExpiredSessionIsReinitialized(t *testing.T) {
	portal := newFakePortal(t)
	portal.submitStatus = func(n int) int {
		if n == 1 {
			return http.StatusForbidden
		}
		return http.StatusOK
	}
	portal.results = func(r stay.Range) string {
		return inventoryJson(r, stayCounts)
	}

	client, err := NewClient(portal.options())
	if err != nil {
		t.Fatal(err)
	}
	result, err := client.ScrapeFullRange(context.Background(), testStay)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, result.Nights, 5)

	tokens, submits, _ := portal.counts()
	require.Equal(t, 2, tokens)
	require.Equal(t, 2, submits)
}

func TestThrottledThenRecovers(t *testing.T) {
	portal := newFakePortal(t)
	portal.submitStatus = func(n int) int {
		if n <= 2 {
			return http.StatusTooManyRequests
		}
		return http.StatusOK
	}
	portal.results = func(r stay.Range) string {
		return inventoryJson(r, stayCounts)
	}

	client, err := NewClient(portal.options())
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.ScrapeFullRange(context.Background(), testStay)
	if err != nil {
		t.Fatal(err)
	}

	_, submits, _ := portal.counts()
	require.Equal(t, 3, submits)
	require.True(t, client.RateLimits().Cautious())
	require.False(t, client.RateLimits().ShouldAbort())
	require.Greater(t, client.RateLimits().Snapshot().Multiplier, 1.0)
}

func TestAbortAfterConsecutiveThrottles(t *testing.T) {
	portal := newFakePortal(t)
	portal.submitStatus = func(int) int { return http.StatusTooManyRequests }

	client, err := NewClient(portal.options())
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.ScrapeFullRange(context.Background(), testStay)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrAborted))

	var throttled *ThrottledError
	require.True(t, errors.As(err, &throttled))
	require.Equal(t, DefaultAbortAfter, throttled.Throttles)

	_, submits, _ := portal.counts()
	require.Equal(t, DefaultAbortAfter, submits)
}

func TestRetriesExhaustedOnParseErrors(t *testing.T) {
	portal := newFakePortal(t)
	portal.results = func(stay.Range) string { return "" }

	client, err := NewClient(portal.options())
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.ScrapeFullRange(context.Background(), testStay)
	require.Error(t, err)

	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, 3, exhausted.Attempts)
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))

	_, submits, _ := portal.counts()
	require.Equal(t, 3, submits)
}

func TestScrapeIndividualNights(t *testing.T) {
	portal := newFakePortal(t)
	portal.results = func(r stay.Range) string {
		return inventoryJson(r, stayCounts)
	}

	opts := portal.options()
	opts.MaxConcurrent = 2
	client, err := NewClient(opts)
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.ScrapeIndividualNights(context.Background(), testStay)
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, ModeIndividualNights, result.Mode)
	require.Len(t, result.Hotels, 1)
	require.Len(t, result.Nights, 5)
	for i, night := range testStay.Dates() {
		require.Equal(t, night, result.Nights[i].Date)
		require.Equal(t, stayCounts[stay.FormatDate(night)], result.Nights[i].Available)
	}
	require.Len(t, result.Timing.Nights, 5)

	tokens, submits, badTokens := portal.counts()
	// one session per concurrent worker
	require.Equal(t, 2, tokens)
	require.Equal(t, 5, submits)
	require.Equal(t, 0, badTokens)

	portal.mutex.Lock()
	defer portal.mutex.Unlock()
	require.LessOrEqual(t, portal.maxInFlight, 2)
}

func TestScrapeIndividualNightsEmptyInventory(t *testing.T) {
	portal := newFakePortal(t)
	// the block is listed for every night but has no inventory on the 31st
	portal.results = func(r stay.Range) string {
		counts := map[string]int{}
		for date, count := range stayCounts {
			if date != "2026-07-31" {
				counts[date] = count
			}
		}
		return inventoryJson(r, counts)
	}

	client, err := NewClient(portal.options())
	if err != nil {
		t.Fatal(err)
	}
	result, err := client.ScrapeIndividualNights(context.Background(), testStay)
	if err != nil {
		t.Fatal(err)
	}

	require.Len(t, result.Nights, 5)
	empty := result.Nights[2]
	require.Equal(t, mustStay("2026-07-31", "2026-08-01").CheckIn, empty.Date)
	require.Equal(t, "King", empty.RoomType)
	require.Zero(t, empty.Available)
	require.Zero(t, empty.Rate)
}

func TestScrapeIndividualNightsCautious(t *testing.T) {
	portal := newFakePortal(t)
	portal.results = func(r stay.Range) string {
		return inventoryJson(r, stayCounts)
	}

	opts := portal.options()
	opts.MaxConcurrent = 4
	client, err := NewClient(opts)
	if err != nil {
		t.Fatal(err)
	}
	client.RateLimits().RecordThrottle()

	_, err = client.ScrapeIndividualNights(context.Background(), testStay)
	if err != nil {
		t.Fatal(err)
	}

	portal.mutex.Lock()
	defer portal.mutex.Unlock()
	require.Equal(t, 1, portal.maxInFlight)
	require.Equal(t, 1, portal.tokenRequests)
}

func TestScrapeIndividualNightsFailsWholeScrape(t *testing.T) {
	portal := newFakePortal(t)
	portal.results = func(r stay.Range) string {
		if stay.FormatDate(r.CheckIn) == "2026-07-31" {
			return ""
		}
		return inventoryJson(r, stayCounts)
	}

	client, err := NewClient(portal.options())
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.ScrapeIndividualNights(context.Background(), testStay)
	require.Error(t, err)
	require.Contains(t, err.Error(), "2026-07-31")
}

func TestScrapeUnknownMode(t *testing.T) {
	portal := newFakePortal(t)
	client, err := NewClient(portal.options())
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Scrape(context.Background(), Mode("weekly"), testStay)
	require.Error(t, err)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Options{EventId: "1", OwnerId: "2"})
	require.Error(t, err)
	_, err = NewClient(Options{TokenUrl: "https://example.com"})
	require.Error(t, err)
}
