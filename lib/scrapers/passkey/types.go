package passkey

import (
	"time"
	"hotelwatch-backend/lib/stay"
	"hotelwatch-backend/lib/textutil"
)

// InventoryDay is a single night of a room block.
type InventoryDay struct {
	Date      time.Time
	Rate      float64
	Available int
}

type RoomBlock struct {
	Name      string
	Inventory []InventoryDay
}

// MinAvailable is the lowest count across the block's nights, 0 when the
// block has no inventory.
func (b RoomBlock) MinAvailable() int {
	if len(b.Inventory) == 0 {
		return 0
	}
	out := b.Inventory[0].Available
	for _, day := range b.Inventory[1:] {
		out = min(out, day.Available)
	}
	return out
}

// NightlyRate is the rate of the first night, which is what the portal shows
// on the hotel card.
func (b RoomBlock) NightlyRate() float64 {
	if len(b.Inventory) == 0 {
		return 0
	}
	return b.Inventory[0].Rate
}

func (b RoomBlock) TotalPrice() float64 {
	var total float64
	for _, day := range b.Inventory {
		total += day.Rate
	}
	return total
}

// Hotel is a hotel as listed by the portal. ID is the portal's id, which can
// be a negative placeholder for hotels whose real id isn't known yet.
type Hotel struct {
	ID           int64
	Name         string
	Distance     float64
	DistanceUnit int
	MessageMap   string
	Blocks       []RoomBlock
}

var skywalkMatchers = []string{"skywalk", "sky walk"}

func (h Hotel) HasSkywalk() bool {
	return textutil.MatchName(h.MessageMap, skywalkMatchers)
}

// NightAvailability is one (hotel, room type, night) observation.
type NightAvailability struct {
	HotelID   int64
	HotelName string
	RoomType  string
	Date      time.Time
	Available int
	Rate      float64
}

type SearchParams struct {
	Stay   stay.Range
	Guests int
	Rooms  int
}

// Outcome is the result of a single portal request.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeThrottled
	OutcomeSuccess
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeThrottled:
		return "throttled"
	default:
		return "failed"
	}
}

type NightTiming struct {
	Night  time.Time
	Submit time.Duration
	Fetch  time.Duration
	Total  time.Duration
}

// Timing breaks down where a scrape spent its time.
type Timing struct {
	SessionInit time.Duration
	Submit      time.Duration
	Fetch       time.Duration
	Waiting     time.Duration
	Nights      []NightTiming
	Total       time.Duration
}

type Mode string

const (
	ModeFullRange        Mode = "full_range"
	ModeIndividualNights Mode = "individual_nights"
)

// Result is what a scrape of a whole stay returns regardless of mode.
type Result struct {
	Mode      Mode
	Stay      stay.Range
	Hotels    []Hotel
	Nights    []NightAvailability
	ScrapedAt time.Time
	Timing    Timing
}

// Flatten turns hotels and their block inventories into per-night
// observations.
func Flatten(hotels []Hotel) []NightAvailability {
	var out []NightAvailability
	for _, hotel := range hotels {
		for _, block := range hotel.Blocks {
			for _, day := range block.Inventory {
				out = append(out, NightAvailability{
					HotelID:   hotel.ID,
					HotelName: hotel.Name,
					RoomType:  block.Name,
					Date:      day.Date,
					Available: day.Available,
					Rate:      day.Rate,
				})
			}
		}
	}
	return out
}
