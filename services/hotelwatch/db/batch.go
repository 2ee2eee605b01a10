package db

import (
	"context"
	"strings"
)

// sqlc can't generate multi-row inserts, so this one is written by hand.

const snapshotColumns = 15

// keeps each statement well under sqlite's bound parameter limit
const snapshotBatchSize = 50

// CreateRoomSnapshotBatch inserts snapshots with multi-row insert
// statements. It is not atomic on its own, wrap it in a transaction with
// WithTx if all rows must land together.
func (q *Queries) CreateRoomSnapshotBatch(ctx context.Context, args []CreateRoomSnapshotParams) error {
	for start := 0; start < len(args); start += snapshotBatchSize {
		chunk := args[start:min(start+snapshotBatchSize, len(args))]

		var sb strings.Builder
		sb.WriteString(`insert into room_snapshot(
    scrape_run_id, hotel_id, room_type,
    available_count, nightly_rate, total_price,
    nights_available, total_nights, partial, sold_out, nights,
    check_in, check_out, year, created_at
) values `)
		values := make([]any, 0, len(chunk)*snapshotColumns)
		for i, arg := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			values = append(values,
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
		}

		_, err := q.db.ExecContext(ctx, sb.String(), values...)
		if err != nil {
			return err
		}
	}
	return nil
}
