package hotelwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
	"hotelwatch-backend/lib/availability"
	"hotelwatch-backend/lib/scrapers/passkey"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func westinKing(counts ...int) passkey.Hotel {
	return hotel(1, "Westin Indianapolis", block("King", counts...))
}

func hyattQueen(counts ...int) passkey.Hotel {
	return hotel(2, "Hyatt Regency", block("Queen Suite", counts...))
}

func TestRunOnceWritesSnapshots(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()

	summary := s.run(t, scrapeResult(
		westinKing(2, 2, 2, 2, 2),
		hyattQueen(2, 2, 0, 2, 2),
	))
	require.Equal(t, StatusSuccess, summary.Status)
	require.False(t, summary.NoChanges)
	require.Equal(t, 2, summary.HotelsFound)
	require.Equal(t, 2, summary.RoomsFound)
	require.Equal(t, 10, summary.RoomNights)
	require.Equal(t, 2, summary.Reconcile.Written)
	require.Equal(t, 2, summary.Reconcile.Notified)

	snapshots := s.snapshots(t, summary.RunID)
	require.Len(t, snapshots, 2)

	queen := snapshots["Hyatt Regency/Queen Suite"]
	require.Equal(t, int64(0), queen.RoomSnapshot.AvailableCount)
	require.Equal(t, int64(4), queen.RoomSnapshot.NightsAvailable)
	require.Equal(t, int64(5), queen.RoomSnapshot.TotalNights)
	require.Equal(t, int64(1), queen.RoomSnapshot.Partial)
	require.Equal(t, int64(0), queen.RoomSnapshot.SoldOut)
	require.Equal(t, int64(2), queen.HotelPortalID)
	require.Equal(t, "2026-07-29", queen.RoomSnapshot.CheckIn)
	require.Equal(t, int64(2026), queen.RoomSnapshot.Year)

	var nights []availability.Night
	require.NoError(t, json.Unmarshal([]byte(queen.RoomSnapshot.Nights), &nights))
	require.Len(t, nights, 5)
	require.Equal(t, 0, nights[2].Available)

	king := snapshots["Westin Indianapolis/King"]
	require.Equal(t, int64(2), king.RoomSnapshot.AvailableCount)
	require.InDelta(t, 1500.0, king.RoomSnapshot.TotalPrice, 1e-9)

	run, err := s.qry.GetScrapeRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, run.Status)
	require.True(t, run.CompletedAt.Valid)
	require.Equal(t, summary.Fingerprint, run.Fingerprint.String)

	sent := s.notifier.Sent()
	require.Len(t, sent, 2)
	byRoom := map[string]Notification{}
	for _, n := range sent {
		byRoom[n.RoomType] = n
	}
	expected := Notification{
		ScrapeRunID:     summary.RunID,
		HotelID:         1,
		HotelName:       "Westin Indianapolis",
		RoomType:        "King",
		AvailableCount:  2,
		NightsAvailable: 5,
		TotalNights:     5,
		NightlyRate:     300,
		TotalPrice:      1500,
		CheckIn:         "2026-07-29",
		CheckOut:        "2026-08-03",
		Year:            2026,
	}
	if diff := cmp.Diff(expected, byRoom["King"]); diff != "" {
		t.Fatalf("notification mismatch (-want +got):\n%s", diff)
	}
	require.True(t, byRoom["Queen Suite"].Partial)
}

func TestRunOnceIdempotent(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()

	payload := scrapeResult(
		westinKing(2, 2, 2, 2, 2),
		hyattQueen(2, 2, 0, 2, 2),
	)
	first := s.run(t, payload)
	require.False(t, first.NoChanges)

	second := s.run(t, payload)
	require.Equal(t, StatusSuccess, second.Status)
	require.True(t, second.NoChanges)
	require.Equal(t, ReconcileResult{}, second.Reconcile)
	require.Equal(t, first.Fingerprint, second.Fingerprint)
	require.Equal(t, 2, second.HotelsFound)

	count, err := s.qry.CountRoomSnapshotsForRun(context.Background(), second.RunID)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Len(t, s.notifier.Sent(), 2)

	run, err := s.qry.GetScrapeRun(context.Background(), second.RunID)
	require.NoError(t, err)
	require.Equal(t, int64(1), run.NoChanges)
	require.Equal(t, int64(2), run.RoomsFound)
}

func TestRunOnceSoldOut(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()

	s.run(t, scrapeResult(
		westinKing(2, 2, 2, 2, 2),
		hyattQueen(2, 2, 2, 2, 2),
	))
	require.Len(t, s.notifier.Sent(), 2)

	second := s.run(t, scrapeResult(westinKing(2, 2, 2, 2, 2)))
	require.Equal(t, StatusSuccess, second.Status)
	require.Equal(t, 1, second.Reconcile.SoldOut)
	require.Equal(t, 2, second.Reconcile.Written)
	require.Zero(t, second.Reconcile.Notified)
	require.Len(t, s.notifier.Sent(), 2)

	snapshots := s.snapshots(t, second.RunID)
	queen := snapshots["Hyatt Regency/Queen Suite"]
	require.Equal(t, int64(1), queen.RoomSnapshot.SoldOut)
	require.Equal(t, int64(0), queen.RoomSnapshot.AvailableCount)
	require.Equal(t, int64(0), queen.RoomSnapshot.NightsAvailable)
	require.Equal(t, int64(5), queen.RoomSnapshot.TotalNights)
	require.Equal(t, "[]", queen.RoomSnapshot.Nights)

	// still gone, nothing changed
	third := s.run(t, scrapeResult(westinKing(2, 2, 2, 2, 2)))
	require.True(t, third.NoChanges)

	// back again after selling out
	fourth := s.run(t, scrapeResult(
		westinKing(2, 2, 2, 2, 2),
		hyattQueen(1, 1, 1, 1, 1),
	))
	require.Zero(t, fourth.Reconcile.SoldOut)
	require.Equal(t, 1, fourth.Reconcile.Notified)
	sent := s.notifier.Sent()
	require.Len(t, sent, 3)
	require.Equal(t, "Queen Suite", sent[2].RoomType)
	require.Equal(t, 1, sent[2].AvailableCount)
}

func TestRunOncePartialGating(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()

	first := s.run(t, scrapeResult(westinKing(1, 0, 0, 0, 0)))
	require.Equal(t, 1, first.Reconcile.Notified)

	// a different night but the same number of them
	second := s.run(t, scrapeResult(westinKing(0, 1, 0, 0, 0)))
	require.False(t, second.NoChanges)
	require.Equal(t, 1, second.Reconcile.Written)
	require.Zero(t, second.Reconcile.Notified)

	third := s.run(t, scrapeResult(westinKing(1, 1, 1, 0, 0)))
	require.Equal(t, 1, third.Reconcile.Notified)

	sent := s.notifier.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, 3, sent[1].NightsAvailable)
	require.True(t, sent[1].Partial)
}

func TestRunOnceStillSoldOutDoesNotNotify(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()

	first := s.run(t, scrapeResult(westinKing(0, 0, 0, 0, 0)))
	require.Equal(t, 1, first.Reconcile.Written)
	require.Zero(t, first.Reconcile.Notified)

	// sentinels are no data, which is still nothing bookable
	second := s.run(t, scrapeResult(westinKing(999, 999, 0, 0, 0)))
	require.True(t, second.NoChanges)
	require.Empty(t, s.notifier.Sent())
}

func TestRunOnceDataAnomaly(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()

	baseline := s.run(t, scrapeResult(
		westinKing(2, 2, 2, 2, 2),
		hyattQueen(2, 2, 2, 2, 2),
	))
	require.Equal(t, StatusSuccess, baseline.Status)

	shrunk := scrapeResult(westinKing(2, 2, 2, 2))
	for i := 0; i < 3; i++ {
		summary := s.run(t, shrunk)
		require.Equal(t, StatusSkipped, summary.Status, "run %d", i)
		require.Contains(t, summary.Message, "less than half")
		require.Equal(t, 4, summary.RoomNights)

		count, err := s.qry.CountRoomSnapshotsForRun(context.Background(), summary.RunID)
		require.NoError(t, err)
		require.Zero(t, count)

		run, err := s.qry.GetScrapeRun(context.Background(), summary.RunID)
		require.NoError(t, err)
		require.Equal(t, StatusSkipped, run.Status)
		require.False(t, run.Fingerprint.Valid)
	}

	accepted := s.run(t, shrunk)
	require.Equal(t, StatusSuccess, accepted.Status)
	require.Equal(t, 1, accepted.Reconcile.SoldOut)
	require.Equal(t, 2, accepted.Reconcile.Written)

	// the accepted run is the new baseline
	again := s.run(t, scrapeResult(westinKing(2, 2, 2, 2, 1)))
	require.Equal(t, StatusSuccess, again.Status)
}

func TestRunOnceScrapeFailure(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()

	s.scraper.push(passkey.Result{}, fmt.Errorf("scrape 2026-07-29..2026-08-03: %w", passkey.ErrAborted))
	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusError, summary.Status)
	require.Contains(t, summary.Message, passkey.ErrAborted.Error())

	run, err := s.qry.GetScrapeRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Equal(t, StatusError, run.Status)
	require.Equal(t, summary.Message, run.ErrorMessage.String)
	require.True(t, run.CompletedAt.Valid)
	require.False(t, s.Running())
}

func TestRunOnceInFlightGuard(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()

	s.scraper.block = make(chan struct{})
	s.scraper.push(scrapeResult(westinKing(1, 1, 1, 1, 1)), nil)

	done := make(chan RunSummary)
	go func() {
		summary, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		done <- summary
	}()
	require.Eventually(t, s.Running, time.Second*5, time.Millisecond*10)

	_, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(s.scraper.block)
	summary := <-done
	require.Equal(t, StatusSuccess, summary.Status)
	require.Equal(t, 1, s.scraper.Calls())
	require.False(t, s.Running())
}

func TestRunOnceDisabled(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	require.True(t, s.Enabled(ctx))
	require.NoError(t, s.SetEnabled(ctx, false))
	require.False(t, s.Enabled(ctx))

	_, err := s.RunOnce(ctx)
	require.ErrorIs(t, err, ErrScraperDisabled)
	require.Zero(t, s.scraper.Calls())

	value, err := s.qry.GetConfig(ctx, activeConfigKey)
	require.NoError(t, err)
	require.Equal(t, "false", value)

	// the persisted flag is honored even when the in-memory switch is on
	s.enabled.Store(true)
	require.False(t, s.Enabled(ctx))

	require.NoError(t, s.SetEnabled(ctx, true))
	s.run(t, scrapeResult(westinKing(1, 1, 1, 1, 1)))
	require.Equal(t, 1, s.scraper.Calls())
}

func TestRunOncePersistenceOutage(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()

	_, err := s.db.Exec(`create trigger fail_snapshots before insert on room_snapshot
begin
    select raise(abort, 'disk on fire');
end`)
	require.NoError(t, err)

	summary := s.run(t, scrapeResult(westinKing(1, 1, 1, 1, 1)))
	require.Equal(t, StatusError, summary.Status)
	require.Contains(t, summary.Message, "persistence failure")
	require.Equal(t, 1, summary.Reconcile.Failed)
	require.Empty(t, s.notifier.Sent())
}

func TestRunOnceRetriesIncompleteRun(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	_, err := s.db.Exec(`create trigger reject_bad_rooms before insert on room_snapshot
when new.room_type = 'Broken'
begin
    select raise(abort, 'rejected');
end`)
	require.NoError(t, err)

	result := scrapeResult(hotel(1, "Westin", block("King", 1, 1, 1, 1, 1), block("Broken", 2, 2, 2, 2, 2)))
	first := s.run(t, result)
	require.Equal(t, StatusSuccess, first.Status)
	require.Equal(t, 1, first.Reconcile.Written)
	require.Equal(t, 1, first.Reconcile.Failed)
	run, err := s.qry.GetScrapeRun(ctx, first.RunID)
	require.NoError(t, err)
	require.False(t, run.Fingerprint.Valid)

	_, err = s.db.Exec(`drop trigger reject_bad_rooms`)
	require.NoError(t, err)

	// same data again, the lost room still gets written and announced
	second := s.run(t, result)
	require.False(t, second.NoChanges)
	require.Equal(t, 2, second.Reconcile.Written)
	require.Contains(t, s.snapshots(t, second.RunID), "Westin/Broken")
	broken := 0
	for _, n := range s.notifier.Sent() {
		if n.RoomType == "Broken" {
			broken++
		}
	}
	require.Equal(t, 1, broken)
	run, err = s.qry.GetScrapeRun(ctx, second.RunID)
	require.NoError(t, err)
	require.True(t, run.Fingerprint.Valid)

	third := s.run(t, result)
	require.True(t, third.NoChanges)
}

func TestStatus(t *testing.T) {
	s, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	report, err := s.Status(ctx)
	require.NoError(t, err)
	require.Nil(t, report.LastRun)
	require.True(t, report.Active)
	require.Zero(t, report.RunsLastHour)

	s.run(t, scrapeResult(westinKing(1, 1, 1, 1, 1)))
	s.scraper.push(passkey.Result{}, passkey.ErrAborted)
	_, err = s.RunOnce(ctx)
	require.NoError(t, err)

	report, err = s.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, report.LastRun)
	require.Equal(t, StatusError, report.LastRun.Status)
	require.NotNil(t, report.LastRun.CompletedAt)
	require.Equal(t, int64(2), report.RunsLastHour)
	require.Equal(t, int64(1), report.ErrorsLastHour)
	require.InDelta(t, 0.5, report.ErrorRateLastHour, 1e-9)
	require.Equal(t, "2026-07-29", report.CheckIn)
	require.Equal(t, "full_range", report.Mode)
}
