package db

import (
	"context"
	"database/sql"
)

const countRoomSnapshotsForRun = `-- name: CountRoomSnapshotsForRun :one
select count(*) from room_snapshot where scrape_run_id = ?
`

func (q *Queries) CountRoomSnapshotsForRun(ctx context.Context, scrapeRunID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countRoomSnapshotsForRun, scrapeRunID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const countRunsSince = `-- name: CountRunsSince :one
select
    count(*) as total,
    cast(coalesce(sum(status = 'error'), 0) as integer) as errors
from scrape_run
where started_at >= ? and status != 'running'
`

type CountRunsSinceRow struct {
	Total  int64
	Errors int64
}

func (q *Queries) CountRunsSince(ctx context.Context, startedAt int64) (CountRunsSinceRow, error) {
	row := q.db.QueryRowContext(ctx, countRunsSince, startedAt)
	var i CountRunsSinceRow
	err := row.Scan(&i.Total, &i.Errors)
	return i, err
}

const createHotel = `-- name: CreateHotel :exec
insert into hotel(id, portal_id, name, distance, distance_unit, has_skywalk, year, created_at, updated_at)
values (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateHotelParams struct {
	ID           string
	PortalID     int64
	Name         string
	Distance     float64
	DistanceUnit int64
	HasSkywalk   int64
	Year         int64
	CreatedAt    int64
	UpdatedAt    int64
}

func (q *Queries) CreateHotel(ctx context.Context, arg CreateHotelParams) error {
	_, err := q.db.ExecContext(ctx, createHotel,
		arg.ID,
		arg.PortalID,
		arg.Name,
		arg.Distance,
		arg.DistanceUnit,
		arg.HasSkywalk,
		arg.Year,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const createRoomSnapshot = `-- name: CreateRoomSnapshot :exec
insert into room_snapshot(
    scrape_run_id, hotel_id, room_type,
    available_count, nightly_rate, total_price,
    nights_available, total_nights, partial, sold_out, nights,
    check_in, check_out, year, created_at
) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateRoomSnapshotParams struct {
	ScrapeRunID     string
	HotelID         string
	RoomType        string
	AvailableCount  int64
	NightlyRate     float64
	TotalPrice      float64
	NightsAvailable int64
	TotalNights     int64
	Partial         int64
	SoldOut         int64
	Nights          string
	CheckIn         string
	CheckOut        string
	Year            int64
	CreatedAt       int64
}

func (q *Queries) CreateRoomSnapshot(ctx context.Context, arg CreateRoomSnapshotParams) error {
	_, err := q.db.ExecContext(ctx, createRoomSnapshot,
		arg.ScrapeRunID,
		arg.HotelID,
		arg.RoomType,
		arg.AvailableCount,
		arg.NightlyRate,
		arg.TotalPrice,
		arg.NightsAvailable,
		arg.TotalNights,
		arg.Partial,
		arg.SoldOut,
		arg.Nights,
		arg.CheckIn,
		arg.CheckOut,
		arg.Year,
		arg.CreatedAt,
	)
	return err
}

const createScrapeRun = `-- name: CreateScrapeRun :exec
insert into scrape_run(id, check_in, check_out, year, mode, status, started_at)
values (?, ?, ?, ?, ?, 'running', ?)
`

type CreateScrapeRunParams struct {
	ID        string
	CheckIn   string
	CheckOut  string
	Year      int64
	Mode      string
	StartedAt int64
}

func (q *Queries) CreateScrapeRun(ctx context.Context, arg CreateScrapeRunParams) error {
	_, err := q.db.ExecContext(ctx, createScrapeRun,
		arg.ID,
		arg.CheckIn,
		arg.CheckOut,
		arg.Year,
		arg.Mode,
		arg.StartedAt,
	)
	return err
}

const finishScrapeRun = `-- name: FinishScrapeRun :execrows
update scrape_run set
    status = ?,
    completed_at = ?,
    hotels_found = ?,
    rooms_found = ?,
    room_nights = ?,
    duration_ms = ?,
    error_message = ?,
    no_changes = ?,
    fingerprint = ?
where id = ? and status = 'running'
`

type FinishScrapeRunParams struct {
	Status       string
	CompletedAt  sql.NullInt64
	HotelsFound  int64
	RoomsFound   int64
	RoomNights   int64
	DurationMs   int64
	ErrorMessage sql.NullString
	NoChanges    int64
	Fingerprint  sql.NullString
	ID           string
}

func (q *Queries) FinishScrapeRun(ctx context.Context, arg FinishScrapeRunParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, finishScrapeRun,
		arg.Status,
		arg.CompletedAt,
		arg.HotelsFound,
		arg.RoomsFound,
		arg.RoomNights,
		arg.DurationMs,
		arg.ErrorMessage,
		arg.NoChanges,
		arg.Fingerprint,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getConfig = `-- name: GetConfig :one
select value from app_config where key = ?
`

func (q *Queries) GetConfig(ctx context.Context, key string) (string, error) {
	row := q.db.QueryRowContext(ctx, getConfig, key)
	var value string
	err := row.Scan(&value)
	return value, err
}

const getHotelByName = `-- name: GetHotelByName :one
select id, portal_id, name, distance, distance_unit, has_skywalk, year, created_at, updated_at from hotel where name = ? and year = ?
`

type GetHotelByNameParams struct {
	Name string
	Year int64
}

func (q *Queries) GetHotelByName(ctx context.Context, arg GetHotelByNameParams) (Hotel, error) {
	row := q.db.QueryRowContext(ctx, getHotelByName, arg.Name, arg.Year)
	var i Hotel
	err := row.Scan(
		&i.ID,
		&i.PortalID,
		&i.Name,
		&i.Distance,
		&i.DistanceUnit,
		&i.HasSkywalk,
		&i.Year,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getHotelByPortalId = `-- name: GetHotelByPortalId :one
select id, portal_id, name, distance, distance_unit, has_skywalk, year, created_at, updated_at from hotel where portal_id = ? and year = ?
order by updated_at desc
limit 1
`

type GetHotelByPortalIdParams struct {
	PortalID int64
	Year     int64
}

func (q *Queries) GetHotelByPortalId(ctx context.Context, arg GetHotelByPortalIdParams) (Hotel, error) {
	row := q.db.QueryRowContext(ctx, getHotelByPortalId, arg.PortalID, arg.Year)
	var i Hotel
	err := row.Scan(
		&i.ID,
		&i.PortalID,
		&i.Name,
		&i.Distance,
		&i.DistanceUnit,
		&i.HasSkywalk,
		&i.Year,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getLatestChangedRun = `-- name: GetLatestChangedRun :one
select id, check_in, check_out, year, mode, status, started_at, completed_at, hotels_found, rooms_found, room_nights, duration_ms, error_message, no_changes, fingerprint from scrape_run
where year = ? and status = 'success' and no_changes = 0
order by started_at desc, rowid desc
limit 1
`

func (q *Queries) GetLatestChangedRun(ctx context.Context, year int64) (ScrapeRun, error) {
	row := q.db.QueryRowContext(ctx, getLatestChangedRun, year)
	return scanScrapeRun(row)
}

const getLatestScrapeRun = `-- name: GetLatestScrapeRun :one
select id, check_in, check_out, year, mode, status, started_at, completed_at, hotels_found, rooms_found, room_nights, duration_ms, error_message, no_changes, fingerprint from scrape_run
order by started_at desc, rowid desc
limit 1
`

func (q *Queries) GetLatestScrapeRun(ctx context.Context) (ScrapeRun, error) {
	row := q.db.QueryRowContext(ctx, getLatestScrapeRun)
	return scanScrapeRun(row)
}

const getLatestSuccessfulRun = `-- name: GetLatestSuccessfulRun :one
select id, check_in, check_out, year, mode, status, started_at, completed_at, hotels_found, rooms_found, room_nights, duration_ms, error_message, no_changes, fingerprint from scrape_run
where year = ? and status = 'success'
order by started_at desc, rowid desc
limit 1
`

func (q *Queries) GetLatestSuccessfulRun(ctx context.Context, year int64) (ScrapeRun, error) {
	row := q.db.QueryRowContext(ctx, getLatestSuccessfulRun, year)
	return scanScrapeRun(row)
}

const getScrapeRun = `-- name: GetScrapeRun :one
select id, check_in, check_out, year, mode, status, started_at, completed_at, hotels_found, rooms_found, room_nights, duration_ms, error_message, no_changes, fingerprint from scrape_run where id = ?
`

func (q *Queries) GetScrapeRun(ctx context.Context, id string) (ScrapeRun, error) {
	row := q.db.QueryRowContext(ctx, getScrapeRun, id)
	return scanScrapeRun(row)
}

const listFinishedRunStatuses = `-- name: ListFinishedRunStatuses :many
select status from scrape_run
where year = ? and status != 'running'
order by started_at desc, rowid desc
limit ?
`

type ListFinishedRunStatusesParams struct {
	Year  int64
	Limit int64
}

func (q *Queries) ListFinishedRunStatuses(ctx context.Context, arg ListFinishedRunStatusesParams) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listFinishedRunStatuses, arg.Year, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, err
		}
		items = append(items, status)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listHotels = `-- name: ListHotels :many
select id, portal_id, name, distance, distance_unit, has_skywalk, year, created_at, updated_at from hotel where year = ?
order by name
`

func (q *Queries) ListHotels(ctx context.Context, year int64) ([]Hotel, error) {
	return q.listHotelRows(ctx, listHotels, year)
}

const listPlaceholderHotels = `-- name: ListPlaceholderHotels :many
select id, portal_id, name, distance, distance_unit, has_skywalk, year, created_at, updated_at from hotel where portal_id < 0 and year = ?
order by name
`

func (q *Queries) ListPlaceholderHotels(ctx context.Context, year int64) ([]Hotel, error) {
	return q.listHotelRows(ctx, listPlaceholderHotels, year)
}

const listRoomSnapshotsForRun = `-- name: ListRoomSnapshotsForRun :many
select
    room_snapshot.id, room_snapshot.scrape_run_id, room_snapshot.hotel_id, room_snapshot.room_type, room_snapshot.available_count, room_snapshot.nightly_rate, room_snapshot.total_price, room_snapshot.nights_available, room_snapshot.total_nights, room_snapshot.partial, room_snapshot.sold_out, room_snapshot.nights, room_snapshot.check_in, room_snapshot.check_out, room_snapshot.year, room_snapshot.created_at,
    hotel.name as hotel_name,
    hotel.portal_id as hotel_portal_id
from room_snapshot
inner join hotel on hotel.id = room_snapshot.hotel_id
where room_snapshot.scrape_run_id = ?
order by hotel.name, room_snapshot.room_type
`

type ListRoomSnapshotsForRunRow struct {
	RoomSnapshot  RoomSnapshot
	HotelName     string
	HotelPortalID int64
}

func (q *Queries) ListRoomSnapshotsForRun(ctx context.Context, scrapeRunID string) ([]ListRoomSnapshotsForRunRow, error) {
	rows, err := q.db.QueryContext(ctx, listRoomSnapshotsForRun, scrapeRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListRoomSnapshotsForRunRow
	for rows.Next() {
		var i ListRoomSnapshotsForRunRow
		if err := rows.Scan(
			&i.RoomSnapshot.ID,
			&i.RoomSnapshot.ScrapeRunID,
			&i.RoomSnapshot.HotelID,
			&i.RoomSnapshot.RoomType,
			&i.RoomSnapshot.AvailableCount,
			&i.RoomSnapshot.NightlyRate,
			&i.RoomSnapshot.TotalPrice,
			&i.RoomSnapshot.NightsAvailable,
			&i.RoomSnapshot.TotalNights,
			&i.RoomSnapshot.Partial,
			&i.RoomSnapshot.SoldOut,
			&i.RoomSnapshot.Nights,
			&i.RoomSnapshot.CheckIn,
			&i.RoomSnapshot.CheckOut,
			&i.RoomSnapshot.Year,
			&i.RoomSnapshot.CreatedAt,
			&i.HotelName,
			&i.HotelPortalID,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listScrapeRuns = `-- name: ListScrapeRuns :many
select id, check_in, check_out, year, mode, status, started_at, completed_at, hotels_found, rooms_found, room_nights, duration_ms, error_message, no_changes, fingerprint from scrape_run
order by started_at desc, rowid desc
limit ?
`

func (q *Queries) ListScrapeRuns(ctx context.Context, limit int64) ([]ScrapeRun, error) {
	rows, err := q.db.QueryContext(ctx, listScrapeRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ScrapeRun
	for rows.Next() {
		i, err := scanScrapeRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const setConfig = `-- name: SetConfig :exec
insert into app_config(key, value, updated_at) values (?, ?, ?)
on conflict (key) do update set value = excluded.value, updated_at = excluded.updated_at
`

type SetConfigParams struct {
	Key       string
	Value     string
	UpdatedAt int64
}

func (q *Queries) SetConfig(ctx context.Context, arg SetConfigParams) error {
	_, err := q.db.ExecContext(ctx, setConfig, arg.Key, arg.Value, arg.UpdatedAt)
	return err
}

const setHotelSkywalk = `-- name: SetHotelSkywalk :exec
update hotel set has_skywalk = ?, updated_at = ? where id = ?
`

type SetHotelSkywalkParams struct {
	HasSkywalk int64
	UpdatedAt  int64
	ID         string
}

func (q *Queries) SetHotelSkywalk(ctx context.Context, arg SetHotelSkywalkParams) error {
	_, err := q.db.ExecContext(ctx, setHotelSkywalk, arg.HasSkywalk, arg.UpdatedAt, arg.ID)
	return err
}

const updateHotelFromScrape = `-- name: UpdateHotelFromScrape :exec
update hotel set
    portal_id = ?,
    distance = ?,
    distance_unit = ?,
    updated_at = ?
where id = ?
`

type UpdateHotelFromScrapeParams struct {
	PortalID     int64
	Distance     float64
	DistanceUnit int64
	UpdatedAt    int64
	ID           string
}

func (q *Queries) UpdateHotelFromScrape(ctx context.Context, arg UpdateHotelFromScrapeParams) error {
	_, err := q.db.ExecContext(ctx, updateHotelFromScrape,
		arg.PortalID,
		arg.Distance,
		arg.DistanceUnit,
		arg.UpdatedAt,
		arg.ID,
	)
	return err
}
