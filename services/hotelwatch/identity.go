package hotelwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"hotelwatch-backend/lib/scrapers/passkey"
	"hotelwatch-backend/lib/textutil"
	"hotelwatch-backend/services/hotelwatch/db"

	"github.com/antzucaro/matchr"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// hotel identities are refreshed from the store once a day
	hotelCacheTTL  = time.Hour * 24
	hotelCacheSize = 1024

	// placeholder names are typed by hand, so near misses like
	// "Hyatt Regency Indianapolis" vs "Hyatt Regency - Indianapolis" still
	// need to line up
	placeholderSimilarity = 0.95
)

// placeholder ids are only unique per seeding, so those hotels are cached
// by name as well
type hotelCacheKey struct {
	portalID int64
	name     string
	year     int
}

func newHotelCacheKey(hotel passkey.Hotel, year int) hotelCacheKey {
	if hotel.ID < 0 {
		return hotelCacheKey{portalID: hotel.ID, name: hotel.Name, year: year}
	}
	return hotelCacheKey{portalID: hotel.ID, year: year}
}

// HotelResolver maps portal hotels onto stable hotel rows.
type HotelResolver struct {
	qry   *db.Queries
	cache *expirable.LRU[hotelCacheKey, string]
	now   func() time.Time
}

func NewHotelResolver(qry *db.Queries) *HotelResolver {
	return &HotelResolver{
		qry:   qry,
		cache: expirable.NewLRU[hotelCacheKey, string](hotelCacheSize, nil, hotelCacheTTL),
		now:   time.Now,
	}
}

// Purge drops every cached identity.
func (r *HotelResolver) Purge() {
	r.cache.Purge()
}

func newHotelId() (string, error) {
	id, err := random.String(16)
	if err != nil {
		return "", err
	}
	return "htl_" + id, nil
}

// Resolve returns the row id for hotel. It tries, in order, the cache, the
// portal id, the exact name and finally a fuzzy match against placeholder
// hotels of the same year before inserting a new row. Hotels carrying a
// placeholder id are never looked up by that id.
func (r *HotelResolver) Resolve(ctx context.Context, hotel passkey.Hotel, year int) (string, error) {
	key := newHotelCacheKey(hotel, year)
	if id, ok := r.cache.Get(key); ok {
		return id, nil
	}

	ctx, span := tracer.Start(ctx, "hotels:Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("portal_id", hotel.ID),
		attribute.String("name", hotel.Name),
	)

	id, err := r.resolve(ctx, hotel, year)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve hotel")
		return "", fmt.Errorf("resolve hotel %d (%s): %w", hotel.ID, hotel.Name, err)
	}
	r.cache.Add(key, id)
	return id, nil
}

func (r *HotelResolver) resolve(ctx context.Context, hotel passkey.Hotel, year int) (string, error) {
	if hotel.ID >= 0 {
		existing, err := r.qry.GetHotelByPortalId(ctx, db.GetHotelByPortalIdParams{
			PortalID: hotel.ID,
			Year:     int64(year),
		})
		if err == nil {
			return existing.ID, r.refresh(ctx, existing, hotel)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
	}

	existing, err := r.qry.GetHotelByName(ctx, db.GetHotelByNameParams{
		Name: hotel.Name,
		Year: int64(year),
	})
	if err == nil {
		return existing.ID, r.refresh(ctx, existing, hotel)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	placeholder, found, err := r.matchPlaceholder(ctx, hotel.Name, year)
	if err != nil {
		return "", err
	}
	if found {
		slog.InfoContext(ctx, "matched hotel to placeholder",
			"name", hotel.Name,
			"placeholder", placeholder.Name,
			"portal_id", hotel.ID,
		)
		return placeholder.ID, r.refresh(ctx, placeholder, hotel)
	}

	return r.create(ctx, hotel, year)
}

func (r *HotelResolver) matchPlaceholder(ctx context.Context, name string, year int) (db.Hotel, bool, error) {
	placeholders, err := r.qry.ListPlaceholderHotels(ctx, int64(year))
	if err != nil {
		return db.Hotel{}, false, err
	}

	target := textutil.NormalizeName(name)
	var best db.Hotel
	var bestSimilarity float64
	for _, candidate := range placeholders {
		similarity := matchr.JaroWinkler(target, textutil.NormalizeName(candidate.Name), false)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			best = candidate
		}
	}
	if bestSimilarity < placeholderSimilarity {
		return db.Hotel{}, false, nil
	}
	return best, true, nil
}

// refresh updates the scraped fields of an existing row. The portal id is
// only ever replaced when a placeholder meets a real id, has_skywalk is left
// alone since it is maintained by hand.
func (r *HotelResolver) refresh(ctx context.Context, existing db.Hotel, hotel passkey.Hotel) error {
	portalID := existing.PortalID
	if existing.PortalID < 0 && hotel.ID > 0 {
		portalID = hotel.ID
	}
	return r.qry.UpdateHotelFromScrape(ctx, db.UpdateHotelFromScrapeParams{
		PortalID:     portalID,
		Distance:     hotel.Distance,
		DistanceUnit: int64(hotel.DistanceUnit),
		UpdatedAt:    r.now().UnixMilli(),
		ID:           existing.ID,
	})
}

func (r *HotelResolver) create(ctx context.Context, hotel passkey.Hotel, year int) (string, error) {
	id, err := newHotelId()
	if err != nil {
		return "", err
	}
	var skywalk int64
	if hotel.HasSkywalk() {
		skywalk = 1
	}
	now := r.now().UnixMilli()
	err = r.qry.CreateHotel(ctx, db.CreateHotelParams{
		ID:           id,
		PortalID:     hotel.ID,
		Name:         hotel.Name,
		Distance:     hotel.Distance,
		DistanceUnit: int64(hotel.DistanceUnit),
		HasSkywalk:   skywalk,
		Year:         int64(year),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "new hotel", "id", id, "name", hotel.Name, "portal_id", hotel.ID)
	return id, nil
}

// SeedPlaceholders inserts hotels that are known by name before the portal
// lists them. Each gets a negative portal id which is upgraded the first
// time a scrape sees the real hotel. Names that already exist are skipped.
func (r *HotelResolver) SeedPlaceholders(ctx context.Context, names []string, year int) (int, error) {
	existing, err := r.qry.ListHotels(ctx, int64(year))
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(existing))
	nextPlaceholder := int64(-1)
	for _, hotel := range existing {
		known[hotel.Name] = struct{}{}
		if hotel.PortalID <= nextPlaceholder {
			nextPlaceholder = hotel.PortalID - 1
		}
	}

	created := 0
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := known[name]; ok {
			continue
		}
		_, err := r.create(ctx, passkey.Hotel{
			ID:           nextPlaceholder,
			Name:         name,
			DistanceUnit: 1,
		}, year)
		if err != nil {
			return created, err
		}
		known[name] = struct{}{}
		nextPlaceholder--
		created++
	}
	return created, nil
}
