package hotelwatch

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"
	"hotelwatch-backend/lib/scrapers/passkey"
	"hotelwatch-backend/lib/stay"
	"hotelwatch-backend/lib/testutil"
	"hotelwatch-backend/services/hotelwatch/db"

	"github.com/stretchr/testify/require"
)

var convention = func() stay.Range {
	r, err := stay.Parse("2026-07-29", "2026-08-03")
	if err != nil {
		panic(err)
	}
	return r
}()

func block(name string, counts ...int) passkey.RoomBlock {
	b := passkey.RoomBlock{Name: name}
	for i, night := range convention.Dates() {
		if i >= len(counts) {
			break
		}
		b.Inventory = append(b.Inventory, passkey.InventoryDay{
			Date:      night,
			Rate:      300,
			Available: counts[i],
		})
	}
	return b
}

func hotel(id int64, name string, blocks ...passkey.RoomBlock) passkey.Hotel {
	return passkey.Hotel{
		ID:           id,
		Name:         name,
		Distance:     0.4,
		DistanceUnit: 1,
		Blocks:       blocks,
	}
}

func scrapeResult(hotels ...passkey.Hotel) passkey.Result {
	return passkey.Result{
		Mode:      passkey.ModeFullRange,
		Stay:      convention,
		Hotels:    hotels,
		Nights:    passkey.Flatten(hotels),
		ScrapedAt: time.Now(),
	}
}

type scrapeResponse struct {
	result passkey.Result
	err    error
}

type fakeScraper struct {
	mutex     sync.Mutex
	responses []scrapeResponse
	calls     int
	// when set, every scrape waits for it to be closed
	block chan struct{}
}

func (f *fakeScraper) push(result passkey.Result, err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.responses = append(f.responses, scrapeResponse{result: result, err: err})
}

func (f *fakeScraper) Calls() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls
}

func (f *fakeScraper) Scrape(ctx context.Context, mode passkey.Mode, r stay.Range) (passkey.Result, error) {
	if f.block != nil {
		<-f.block
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls++
	if len(f.responses) == 0 {
		return passkey.Result{}, passkey.ErrAborted
	}
	res := f.responses[0]
	f.responses = f.responses[1:]
	return res.result, res.err
}

type recordingNotifier struct {
	mutex    sync.Mutex
	sent     []Notification
	inFlight int
	maxSeen  int
	delay    time.Duration
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, notification Notification) error {
	n.mutex.Lock()
	n.inFlight++
	n.maxSeen = max(n.maxSeen, n.inFlight)
	n.mutex.Unlock()

	if n.delay > 0 {
		time.Sleep(n.delay)
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.inFlight--
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) Sent() []Notification {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

type testService struct {
	*Service
	db       *sql.DB
	qry      *db.Queries
	scraper  *fakeScraper
	notifier *recordingNotifier
}

func setup(t testing.TB) (testService, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/hotelwatch",
		DbSchema: db.Schema,
	})

	scraper := &fakeScraper{}
	notifier := &recordingNotifier{}
	service := NewService(res.DB, scraper, notifier, Options{
		Stay: convention,
		Mode: passkey.ModeFullRange,
	})

	return testService{
			Service:  service,
			db:       res.DB,
			qry:      db.New(res.DB),
			scraper:  scraper,
			notifier: notifier,
		}, func() {
			service.Wait()
			cleanup()
		}
}

func (s testService) snapshots(t testing.TB, runID string) map[string]db.ListRoomSnapshotsForRunRow {
	rows, err := s.qry.ListRoomSnapshotsForRun(context.Background(), runID)
	require.NoError(t, err)
	out := map[string]db.ListRoomSnapshotsForRunRow{}
	for _, row := range rows {
		out[row.HotelName+"/"+row.RoomSnapshot.RoomType] = row
	}
	return out
}

func (s testService) run(t testing.TB, result passkey.Result) RunSummary {
	s.scraper.push(result, nil)
	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	s.Wait()
	return summary
}
