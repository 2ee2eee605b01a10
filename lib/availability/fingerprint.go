package availability

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"hotelwatch-backend/lib/scrapers/passkey"
	"hotelwatch-backend/lib/stay"
)

type fingerprintEntry struct {
	hotelID   int64
	roomType  string
	date      string
	available int
}

// Fingerprint hashes the (hotel, room type, night, count) tuples of a scrape.
// It ignores ordering and rates, counts are normalized with Effective so a
// sentinel flipping between 999 and 500 isn't a change.
func Fingerprint(nights []passkey.NightAvailability) string {
	entries := make([]fingerprintEntry, len(nights))
	for i, n := range nights {
		entries[i] = fingerprintEntry{
			hotelID:   n.HotelID,
			roomType:  n.RoomType,
			date:      stay.FormatDate(n.Date),
			available: Effective(n.Available),
		}
	}
	slices.SortFunc(entries, func(a, b fingerprintEntry) int {
		return cmp.Or(
			cmp.Compare(a.hotelID, b.hotelID),
			cmp.Compare(a.roomType, b.roomType),
			cmp.Compare(a.date, b.date),
			cmp.Compare(a.available, b.available),
		)
	})

	hash := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(hash, "%d\x1f%s\x1f%s\x1f%d\x1e", e.hotelID, e.roomType, e.date, e.available)
	}
	return hex.EncodeToString(hash.Sum(nil))
}
