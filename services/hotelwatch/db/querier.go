package db

import (
	"context"
)

type Querier interface {
	CountRoomSnapshotsForRun(ctx context.Context, scrapeRunID string) (int64, error)
	CountRunsSince(ctx context.Context, startedAt int64) (CountRunsSinceRow, error)
	CreateHotel(ctx context.Context, arg CreateHotelParams) error
	CreateRoomSnapshot(ctx context.Context, arg CreateRoomSnapshotParams) error
	CreateScrapeRun(ctx context.Context, arg CreateScrapeRunParams) error
	FinishScrapeRun(ctx context.Context, arg FinishScrapeRunParams) (int64, error)
	GetConfig(ctx context.Context, key string) (string, error)
	GetHotelByName(ctx context.Context, arg GetHotelByNameParams) (Hotel, error)
	GetHotelByPortalId(ctx context.Context, arg GetHotelByPortalIdParams) (Hotel, error)
	GetLatestChangedRun(ctx context.Context, year int64) (ScrapeRun, error)
	GetLatestScrapeRun(ctx context.Context) (ScrapeRun, error)
	GetLatestSuccessfulRun(ctx context.Context, year int64) (ScrapeRun, error)
	GetScrapeRun(ctx context.Context, id string) (ScrapeRun, error)
	ListFinishedRunStatuses(ctx context.Context, arg ListFinishedRunStatusesParams) ([]string, error)
	ListHotels(ctx context.Context, year int64) ([]Hotel, error)
	ListPlaceholderHotels(ctx context.Context, year int64) ([]Hotel, error)
	ListRoomSnapshotsForRun(ctx context.Context, scrapeRunID string) ([]ListRoomSnapshotsForRunRow, error)
	ListScrapeRuns(ctx context.Context, limit int64) ([]ScrapeRun, error)
	SetConfig(ctx context.Context, arg SetConfigParams) error
	SetHotelSkywalk(ctx context.Context, arg SetHotelSkywalkParams) error
	UpdateHotelFromScrape(ctx context.Context, arg UpdateHotelFromScrapeParams) error
}

var _ Querier = (*Queries)(nil)
