package db

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"hotelwatch-backend/lib/testutil"

	"github.com/stretchr/testify/require"
)

func setup(t testing.TB) (*Queries, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/hotelwatch/db",
		DbSchema: Schema,
	})
	return New(res.DB), cleanup
}

func createRun(t testing.TB, qry *Queries, id string, startedAt int64) {
	err := qry.CreateScrapeRun(context.Background(), CreateScrapeRunParams{
		ID:        id,
		CheckIn:   "2026-07-29",
		CheckOut:  "2026-08-03",
		Year:      2026,
		Mode:      "full_range",
		StartedAt: startedAt,
	})
	require.NoError(t, err)
}

func TestFinishScrapeRunOnce(t *testing.T) {
	qry, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	createRun(t, qry, "run-1", 1000)

	affected, err := qry.FinishScrapeRun(ctx, FinishScrapeRunParams{
		Status:      "success",
		CompletedAt: sql.NullInt64{Int64: 2000, Valid: true},
		HotelsFound: 3,
		Fingerprint: sql.NullString{String: "abc", Valid: true},
		ID:          "run-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	affected, err = qry.FinishScrapeRun(ctx, FinishScrapeRunParams{
		Status: "error",
		ID:     "run-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), affected)

	run, err := qry.GetScrapeRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "success", run.Status)
	require.Equal(t, int64(3), run.HotelsFound)
	require.Equal(t, "abc", run.Fingerprint.String)
}

func TestLatestRuns(t *testing.T) {
	qry, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	_, err := qry.GetLatestSuccessfulRun(ctx, 2026)
	require.ErrorIs(t, err, sql.ErrNoRows)

	finish := func(id, status string, noChanges int64) {
		_, err := qry.FinishScrapeRun(ctx, FinishScrapeRunParams{
			Status:    status,
			NoChanges: noChanges,
			ID:        id,
		})
		require.NoError(t, err)
	}
	createRun(t, qry, "a", 1)
	finish("a", "success", 0)
	createRun(t, qry, "b", 2)
	finish("b", "success", 1)
	createRun(t, qry, "c", 3)
	finish("c", "error", 0)
	createRun(t, qry, "d", 4)

	latest, err := qry.GetLatestScrapeRun(ctx)
	require.NoError(t, err)
	require.Equal(t, "d", latest.ID)

	success, err := qry.GetLatestSuccessfulRun(ctx, 2026)
	require.NoError(t, err)
	require.Equal(t, "b", success.ID)

	changed, err := qry.GetLatestChangedRun(ctx, 2026)
	require.NoError(t, err)
	require.Equal(t, "a", changed.ID)

	statuses, err := qry.ListFinishedRunStatuses(ctx, ListFinishedRunStatusesParams{Year: 2026, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"error", "success"}, statuses)

	counts, err := qry.CountRunsSince(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, CountRunsSinceRow{Total: 2, Errors: 1}, counts)

	runs, err := qry.ListScrapeRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 4)
}

func TestRoomSnapshotBatch(t *testing.T) {
	qry, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	createRun(t, qry, "run", 1)
	err := qry.CreateHotel(ctx, CreateHotelParams{
		ID:           "hotel",
		PortalID:     42,
		Name:         "Westin",
		DistanceUnit: 1,
		Year:         2026,
	})
	require.NoError(t, err)

	var params []CreateRoomSnapshotParams
	for i := 0; i < 120; i++ {
		params = append(params, CreateRoomSnapshotParams{
			ScrapeRunID:    "run",
			HotelID:        "hotel",
			RoomType:       fmt.Sprintf("Room %03d", i),
			AvailableCount: int64(i),
			Nights:         "[]",
			CheckIn:        "2026-07-29",
			CheckOut:       "2026-08-03",
			Year:           2026,
		})
	}
	require.NoError(t, qry.CreateRoomSnapshotBatch(ctx, params))
	require.NoError(t, qry.CreateRoomSnapshotBatch(ctx, nil))

	count, err := qry.CountRoomSnapshotsForRun(ctx, "run")
	require.NoError(t, err)
	require.Equal(t, int64(120), count)

	rows, err := qry.ListRoomSnapshotsForRun(ctx, "run")
	require.NoError(t, err)
	require.Len(t, rows, 120)
	require.Equal(t, "Westin", rows[0].HotelName)
	require.Equal(t, int64(42), rows[0].HotelPortalID)
	require.Equal(t, "Room 000", rows[0].RoomSnapshot.RoomType)

	err = qry.CreateRoomSnapshotBatch(ctx, []CreateRoomSnapshotParams{{
		ScrapeRunID: "run",
		HotelID:     "missing",
		RoomType:    "King",
		Nights:      "[]",
	}})
	require.Error(t, err)
}

func TestConfig(t *testing.T) {
	qry, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	_, err := qry.GetConfig(ctx, "scraper_active")
	require.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, qry.SetConfig(ctx, SetConfigParams{Key: "scraper_active", Value: "false", UpdatedAt: 1}))
	require.NoError(t, qry.SetConfig(ctx, SetConfigParams{Key: "scraper_active", Value: "true", UpdatedAt: 2}))

	value, err := qry.GetConfig(ctx, "scraper_active")
	require.NoError(t, err)
	require.Equal(t, "true", value)
}
