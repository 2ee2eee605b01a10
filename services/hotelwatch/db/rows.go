package db

import (
	"context"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanScrapeRun(row scanner) (ScrapeRun, error) {
	var i ScrapeRun
	err := row.Scan(
		&i.ID,
		&i.CheckIn,
		&i.CheckOut,
		&i.Year,
		&i.Mode,
		&i.Status,
		&i.StartedAt,
		&i.CompletedAt,
		&i.HotelsFound,
		&i.RoomsFound,
		&i.RoomNights,
		&i.DurationMs,
		&i.ErrorMessage,
		&i.NoChanges,
		&i.Fingerprint,
	)
	return i, err
}

func (q *Queries) listHotelRows(ctx context.Context, query string, args ...any) ([]Hotel, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Hotel
	for rows.Next() {
		var i Hotel
		if err := rows.Scan(
			&i.ID,
			&i.PortalID,
			&i.Name,
			&i.Distance,
			&i.DistanceUnit,
			&i.HasSkywalk,
			&i.Year,
			&i.CreatedAt,
			&i.UpdatedAt,
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
