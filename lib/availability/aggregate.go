// Package availability turns per-night observations into the per room
// summary that gets stored and compared between runs.
package availability

import (
	"cmp"
	"slices"
	"time"
	"hotelwatch-backend/lib/scrapers/passkey"
	"hotelwatch-backend/lib/stay"
)

// SentinelThreshold is where counts stop being counts, the portal reports
// 999 (and similar) for "no data" rather than omitting the night.
const SentinelThreshold = 500

// IsValid reports whether count is a real, positive availability count.
func IsValid(count int) bool {
	return count > 0 && count < SentinelThreshold
}

// Effective maps sentinels and negative counts to 0.
func Effective(count int) int {
	if !IsValid(count) {
		return 0
	}
	return count
}

type Key struct {
	HotelID  int64
	RoomType string
}

func (k Key) Compare(other Key) int {
	return cmp.Or(
		cmp.Compare(k.HotelID, other.HotelID),
		cmp.Compare(k.RoomType, other.RoomType),
	)
}

type Night struct {
	Date      time.Time `json:"date"`
	Available int       `json:"available"`
	Rate      float64   `json:"rate"`
}

type Aggregated struct {
	Key
	HotelName string
	// rooms bookable for every night of the stay
	Available       int
	NightsAvailable int
	TotalNights     int
	Partial         bool
	SoldOut         bool
	AvgRate         float64
	TotalPrice      float64
	Nights          []Night
}

// Aggregate groups nights by (hotel, room type) and computes full stay
// availability for r. Nights outside r are ignored, if a night shows up more
// than once the lowest count wins. Output is sorted by key.
func Aggregate(nights []passkey.NightAvailability, r stay.Range) []Aggregated {
	type group struct {
		hotelName string
		byDate    map[time.Time]Night
	}
	groups := map[Key]*group{}

	for _, n := range nights {
		date := stay.Date(n.Date)
		if !r.Contains(date) {
			continue
		}
		key := Key{HotelID: n.HotelID, RoomType: n.RoomType}
		g, ok := groups[key]
		if !ok {
			g = &group{hotelName: n.HotelName, byDate: map[time.Time]Night{}}
			groups[key] = g
		}
		existing, seen := g.byDate[date]
		if seen && existing.Available <= n.Available {
			continue
		}
		g.byDate[date] = Night{Date: date, Available: n.Available, Rate: n.Rate}
	}

	totalNights := r.Nights()
	out := make([]Aggregated, 0, len(groups))
	for key, g := range groups {
		if len(g.byDate) == 0 {
			continue
		}

		record := Aggregated{
			Key:         key,
			HotelName:   g.hotelName,
			TotalNights: totalNights,
		}
		minValid := 0
		var rateSum float64
		for _, date := range r.Dates() {
			night, ok := g.byDate[date]
			if !ok {
				continue
			}
			record.Nights = append(record.Nights, night)
			rateSum += night.Rate
			if !IsValid(night.Available) {
				continue
			}
			if record.NightsAvailable == 0 || night.Available < minValid {
				minValid = night.Available
			}
			record.NightsAvailable++
		}

		if record.NightsAvailable == totalNights {
			record.Available = minValid
		}
		record.Partial = record.NightsAvailable > 0 && record.NightsAvailable < totalNights
		record.AvgRate = rateSum / float64(len(record.Nights))
		record.TotalPrice = record.AvgRate * float64(totalNights)
		out = append(out, record)
	}

	slices.SortFunc(out, func(a, b Aggregated) int {
		return a.Key.Compare(b.Key)
	})
	return out
}

// SoldOut builds the record stored for a room that vanished from the
// results entirely.
func SoldOut(key Key, hotelName string, r stay.Range) Aggregated {
	return Aggregated{
		Key:         key,
		HotelName:   hotelName,
		TotalNights: r.Nights(),
		SoldOut:     true,
	}
}

// RoomNights counts observations inside r, which is what the data anomaly
// check compares between runs.
func RoomNights(nights []passkey.NightAvailability, r stay.Range) int {
	count := 0
	for _, n := range nights {
		if r.Contains(n.Date) {
			count++
		}
	}
	return count
}
