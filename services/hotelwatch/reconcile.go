package hotelwatch

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"time"
	"hotelwatch-backend/lib/availability"
	"hotelwatch-backend/lib/scrapers/passkey"
	"hotelwatch-backend/lib/stay"
	"hotelwatch-backend/services/hotelwatch/db"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// snapshotKey identifies a room by hotel row rather than portal id, so a
// placeholder being upgraded to its real id doesn't look like a new room.
type snapshotKey struct {
	hotelID  string
	roomType string
}

type previousSnapshot struct {
	portalID        int64
	hotelName       string
	available       int
	nightsAvailable int
	partial         bool
	soldOut         bool
}

type ReconcileInput struct {
	RunID   string
	Stay    stay.Range
	Records []availability.Aggregated
	// portal details used when a hotel has to be created or refreshed,
	// records whose hotel is missing here fall back to id and name
	Hotels []passkey.Hotel
}

type ReconcileResult struct {
	Written  int
	Failed   int
	SoldOut  int
	Notified int
	// records dropped because their hotel couldn't be resolved
	Unresolved int
	// hotels that couldn't be resolved, with or without rooms
	UnresolvedHotels int
}

// Complete reports whether every hotel and snapshot of the run made it into
// the store.
func (r ReconcileResult) Complete() bool {
	return r.Failed == 0 && r.Unresolved == 0 && r.UnresolvedHotels == 0
}

// portalRef identifies a hotel within one scrape. Placeholder ids can repeat
// across hotels so those are told apart by name.
type portalRef struct {
	id   int64
	name string
}

func newPortalRef(id int64, name string) portalRef {
	if id < 0 {
		return portalRef{id: id, name: name}
	}
	return portalRef{id: id}
}

// Engine persists aggregated availability for a run and decides which rooms
// deserve a notification. It is long lived since it owns the hotel cache.
type Engine struct {
	db       *sql.DB
	qry      *db.Queries
	hotels   *HotelResolver
	dispatch *Dispatcher
	now      func() time.Time
}

func NewEngine(database *sql.DB, dispatch *Dispatcher) *Engine {
	qry := db.New(database)
	return &Engine{
		db:       database,
		qry:      qry,
		hotels:   NewHotelResolver(qry),
		dispatch: dispatch,
		now:      time.Now,
	}
}

func (e *Engine) Hotels() *HotelResolver {
	return e.hotels
}

// previous returns the snapshots of the latest successful run for the year
// that actually wrote anything.
func (e *Engine) previous(ctx context.Context, year int) (map[snapshotKey]previousSnapshot, error) {
	run, err := e.qry.GetLatestChangedRun(ctx, int64(year))
	if errors.Is(err, sql.ErrNoRows) {
		return map[snapshotKey]previousSnapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := e.qry.ListRoomSnapshotsForRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	out := make(map[snapshotKey]previousSnapshot, len(rows))
	for _, row := range rows {
		snapshot := row.RoomSnapshot
		out[snapshotKey{hotelID: snapshot.HotelID, roomType: snapshot.RoomType}] = previousSnapshot{
			portalID:        row.HotelPortalID,
			hotelName:       row.HotelName,
			available:       int(snapshot.AvailableCount),
			nightsAvailable: int(snapshot.NightsAvailable),
			partial:         snapshot.Partial == 1,
			soldOut:         snapshot.SoldOut == 1,
		}
	}
	return out, nil
}

// shouldNotify reports whether a room's availability changed for the
// better. A room seen for the first time is compared against nothing.
func shouldNotify(prev previousSnapshot, seen bool, current availability.Aggregated) bool {
	if current.SoldOut {
		return false
	}
	if !seen {
		return current.Available > 0 || (current.Partial && current.NightsAvailable > 0)
	}
	if prev.available == 0 && current.Available > 0 {
		return true
	}
	if prev.nightsAvailable == 0 && current.Partial && current.NightsAvailable > 0 {
		return true
	}
	if prev.partial && current.Partial && prev.nightsAvailable != current.NightsAvailable {
		return true
	}
	return false
}

type pendingSnapshot struct {
	params db.CreateRoomSnapshotParams
	record availability.Aggregated
	notify bool
	stored bool
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (e *Engine) snapshotParams(runID string, hotelID string, r stay.Range, record availability.Aggregated, createdAt int64) db.CreateRoomSnapshotParams {
	nights := record.Nights
	if nights == nil {
		nights = []availability.Night{}
	}
	nightsJson, err := json.Marshal(nights)
	if err != nil {
		nightsJson = []byte("[]")
	}
	return db.CreateRoomSnapshotParams{
		ScrapeRunID:     runID,
		HotelID:         hotelID,
		RoomType:        record.RoomType,
		AvailableCount:  int64(record.Available),
		NightlyRate:     record.AvgRate,
		TotalPrice:      record.TotalPrice,
		NightsAvailable: int64(record.NightsAvailable),
		TotalNights:     int64(record.TotalNights),
		Partial:         boolInt(record.Partial),
		SoldOut:         boolInt(record.SoldOut),
		Nights:          string(nightsJson),
		CheckIn:         stay.FormatDate(r.CheckIn),
		CheckOut:        stay.FormatDate(r.CheckOut),
		Year:            int64(r.Year()),
		CreatedAt:       createdAt,
	}
}

// Reconcile writes the snapshots for a run. Rooms that were present in the
// previous run but are missing now are written as sold out, unless some
// hotel failed to resolve, since then a missing room might just be
// unresolved. Notifications go out only for snapshots that were written.
func (e *Engine) Reconcile(ctx context.Context, input ReconcileInput) (ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "engine:Reconcile")
	defer span.End()

	var result ReconcileResult
	year := input.Stay.Year()

	previous, err := e.previous(ctx, year)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load previous snapshots")
		return result, &PersistenceError{Op: "load previous snapshots", Err: err}
	}

	resolved := map[portalRef]string{}
	failedHotels := map[portalRef]struct{}{}
	resolve := func(hotel passkey.Hotel) (string, bool) {
		ref := newPortalRef(hotel.ID, hotel.Name)
		if id, ok := resolved[ref]; ok {
			return id, true
		}
		if _, failed := failedHotels[ref]; failed {
			return "", false
		}
		id, err := e.hotels.Resolve(ctx, hotel, year)
		if err != nil {
			slog.WarnContext(ctx, "failed to resolve hotel",
				"portal_id", hotel.ID,
				"hotel", hotel.Name,
				"err", err,
			)
			failedHotels[ref] = struct{}{}
			return "", false
		}
		resolved[ref] = id
		return id, true
	}

	// every listed hotel is upserted, including the ones without rooms
	for _, hotel := range input.Hotels {
		resolve(hotel)
	}

	createdAt := e.now().UnixMilli()
	present := map[snapshotKey]struct{}{}
	var pending []pendingSnapshot

	for _, record := range input.Records {
		hotelID, ok := resolve(passkey.Hotel{ID: record.HotelID, Name: record.HotelName, DistanceUnit: 1})
		if !ok {
			result.Unresolved++
			continue
		}

		key := snapshotKey{hotelID: hotelID, roomType: record.RoomType}
		present[key] = struct{}{}
		prev, seen := previous[key]
		pending = append(pending, pendingSnapshot{
			params: e.snapshotParams(input.RunID, hotelID, input.Stay, record, createdAt),
			record: record,
			notify: shouldNotify(prev, seen, record),
		})
	}

	result.UnresolvedHotels = len(failedHotels)
	if len(failedHotels) > 0 {
		slog.WarnContext(ctx, "skipping sold out detection, some hotels could not be resolved",
			"unresolved_hotels", len(failedHotels),
		)
	} else {
		soldOut := e.soldOut(previous, present)
		for _, missing := range soldOut {
			record := availability.SoldOut(
				availability.Key{HotelID: missing.prev.portalID, RoomType: missing.key.roomType},
				missing.prev.hotelName,
				input.Stay,
			)
			if !missing.prev.soldOut {
				slog.InfoContext(ctx, "room sold out",
					"hotel", record.HotelName,
					"room_type", record.RoomType,
				)
			}
			pending = append(pending, pendingSnapshot{
				params: e.snapshotParams(input.RunID, missing.key.hotelID, input.Stay, record, createdAt),
				record: record,
			})
			result.SoldOut++
		}
	}

	err = e.write(ctx, pending)
	for _, snapshot := range pending {
		if snapshot.stored {
			result.Written++
		} else {
			result.Failed++
		}
	}
	snapshotCounter.Add(ctx, int64(result.Written))
	span.SetAttributes(
		attribute.Int("written", result.Written),
		attribute.Int("failed", result.Failed),
		attribute.Int("sold_out", result.SoldOut),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write snapshots")
		return result, err
	}

	for _, snapshot := range pending {
		if !snapshot.notify || !snapshot.stored {
			continue
		}
		e.dispatch.Dispatch(ctx, e.notification(input, snapshot.record))
		result.Notified++
	}

	return result, nil
}

// write stores every pending snapshot in one transaction. If that fails it
// falls back to one insert per snapshot, skipping the ones that fail. Only
// when nothing could be written is an error returned.
func (e *Engine) write(ctx context.Context, pending []pendingSnapshot) error {
	if len(pending) == 0 {
		return nil
	}

	params := make([]db.CreateRoomSnapshotParams, len(pending))
	for i, snapshot := range pending {
		params[i] = snapshot.params
	}
	err := e.writeBatch(ctx, params)
	if err == nil {
		for i := range pending {
			pending[i].stored = true
		}
		return nil
	}
	slog.WarnContext(ctx, "batch snapshot insert failed, falling back to single inserts", "err", err)

	var lastErr error
	stored := 0
	for i, snapshot := range pending {
		err := e.qry.CreateRoomSnapshot(ctx, snapshot.params)
		if err != nil {
			slog.WarnContext(ctx, "failed to write snapshot",
				"hotel", snapshot.record.HotelName,
				"room_type", snapshot.record.RoomType,
				"err", err,
			)
			lastErr = err
			continue
		}
		pending[i].stored = true
		stored++
	}
	if stored == 0 {
		return &PersistenceError{Op: "write snapshots", Err: lastErr}
	}
	return nil
}

func (e *Engine) writeBatch(ctx context.Context, params []db.CreateRoomSnapshotParams) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = e.qry.WithTx(tx).CreateRoomSnapshotBatch(ctx, params)
	if err != nil {
		return err
	}
	return tx.Commit()
}

type missingRoom struct {
	key  snapshotKey
	prev previousSnapshot
}

// soldOut lists previous rooms absent from the current run in a stable
// order. Rooms that were already sold out are carried forward so they stay
// in the latest snapshot.
func (e *Engine) soldOut(previous map[snapshotKey]previousSnapshot, present map[snapshotKey]struct{}) []missingRoom {
	var out []missingRoom
	for key, prev := range previous {
		if _, ok := present[key]; ok {
			continue
		}
		out = append(out, missingRoom{key: key, prev: prev})
	}
	slices.SortFunc(out, func(a, b missingRoom) int {
		return cmp.Or(
			cmp.Compare(a.key.hotelID, b.key.hotelID),
			cmp.Compare(a.key.roomType, b.key.roomType),
		)
	})
	return out
}

func (e *Engine) notification(input ReconcileInput, record availability.Aggregated) Notification {
	return Notification{
		ScrapeRunID:     input.RunID,
		HotelID:         record.HotelID,
		HotelName:       record.HotelName,
		RoomType:        record.RoomType,
		AvailableCount:  record.Available,
		NightsAvailable: record.NightsAvailable,
		TotalNights:     record.TotalNights,
		Partial:         record.Partial,
		NightlyRate:     record.AvgRate,
		TotalPrice:      record.TotalPrice,
		CheckIn:         stay.FormatDate(input.Stay.CheckIn),
		CheckOut:        stay.FormatDate(input.Stay.CheckOut),
		Year:            input.Stay.Year(),
	}
}
