package passkey

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"hotelwatch-backend/lib/htmlutil"
	"hotelwatch-backend/lib/stay"

	"github.com/PuerkitoBio/goquery"
)

const resultsScriptSelector = "script#last-search-results"

// the results page normally embeds the search results in a dedicated script
// tag, older layouts inline them into some other script.
var fallbackResultsRegex = regexp.MustCompile(`(?s)\[.*"id"\s*:\s*\d+.*\]`)

// ParseResultsPage pulls the hotel list out of a rendered results page.
func ParseResultsPage(body []byte) ([]Hotel, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Reason: "read html", Err: err}
	}

	if primary := htmlutil.ScriptTexts(doc, resultsScriptSelector); len(primary) > 0 {
		return ParseHotels([]byte(primary[0]))
	}

	var lastErr error
	for _, text := range htmlutil.ScriptTexts(doc, "script") {
		candidate := fallbackResultsRegex.FindString(text)
		if candidate == "" {
			continue
		}
		hotels, err := ParseHotels([]byte(candidate))
		if err == nil {
			return hotels, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, &ParseError{Reason: "no embedded results matched", Err: lastErr}
	}
	return nil, &ParseError{Reason: "results page contains no search results"}
}

type wireDate struct {
	time.Time
}

// the portal sends dates either as "2026-07-29" or as [2026, 7, 29]
func (d *wireDate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var parts []int
		err := json.Unmarshal(data, &parts)
		if err != nil {
			return err
		}
		if len(parts) < 3 {
			return fmt.Errorf("date array %s has fewer than 3 parts", string(data))
		}
		d.Time = time.Date(parts[0], time.Month(parts[1]), parts[2], 0, 0, 0, 0, time.UTC)
		return nil
	}

	var text string
	err := json.Unmarshal(data, &text)
	if err != nil {
		return err
	}
	if len(text) > len(stay.DateLayout) {
		text = text[:len(stay.DateLayout)]
	}
	parsed, err := stay.ParseDate(text)
	if err != nil {
		return err
	}
	d.Time = parsed
	return nil
}

type wireInventory struct {
	Date      *wireDate `json:"date"`
	Rate      *float64  `json:"rate"`
	Available *float64  `json:"available"`
}

type wireBlock struct {
	Name      *string         `json:"name"`
	Inventory []wireInventory `json:"inventory"`
}

type wireHotel struct {
	ID                *int64          `json:"id"`
	Name              *string         `json:"name"`
	DistanceFromEvent *float64        `json:"distanceFromEvent"`
	DistanceUnit      *int            `json:"distanceUnit"`
	MessageMap        json.RawMessage `json:"messageMap"`
	Blocks            []wireBlock     `json:"blocks"`
}

func missingField(path, field string) error {
	return &ParseError{Reason: fmt.Sprintf("%s: missing required field %q", path, field)}
}

// ParseHotels decodes the results json, every required field is checked here
// so nothing downstream has to deal with half-populated records.
func ParseHotels(data []byte) ([]Hotel, error) {
	var wire []wireHotel
	err := json.Unmarshal(data, &wire)
	if err != nil {
		return nil, &ParseError{Reason: "decode results json", Err: err}
	}

	hotels := make([]Hotel, 0, len(wire))
	for i, wh := range wire {
		path := fmt.Sprintf("hotels[%d]", i)
		if wh.ID == nil {
			return nil, missingField(path, "id")
		}
		if wh.Name == nil {
			return nil, missingField(path, "name")
		}

		hotel := Hotel{
			ID:           *wh.ID,
			Name:         strings.TrimSpace(html.UnescapeString(*wh.Name)),
			DistanceUnit: 1,
			MessageMap:   messageMapText(wh.MessageMap),
		}
		if wh.DistanceFromEvent != nil {
			hotel.Distance = *wh.DistanceFromEvent
		}
		if wh.DistanceUnit != nil {
			hotel.DistanceUnit = *wh.DistanceUnit
		}

		for j, wb := range wh.Blocks {
			blockPath := fmt.Sprintf("%s.blocks[%d]", path, j)
			if wb.Name == nil {
				return nil, missingField(blockPath, "name")
			}
			block := RoomBlock{Name: strings.TrimSpace(html.UnescapeString(*wb.Name))}

			for k, wi := range wb.Inventory {
				dayPath := fmt.Sprintf("%s.inventory[%d]", blockPath, k)
				if wi.Date == nil {
					return nil, missingField(dayPath, "date")
				}
				if wi.Available == nil {
					return nil, missingField(dayPath, "available")
				}
				day := InventoryDay{
					Date:      wi.Date.Time,
					Available: int(*wi.Available),
				}
				if wi.Rate != nil {
					day.Rate = *wi.Rate
				}
				block.Inventory = append(block.Inventory, day)
			}
			hotel.Blocks = append(hotel.Blocks, block)
		}
		hotels = append(hotels, hotel)
	}

	return hotels, nil
}

// messageMap is usually a string of html but has been seen as null and as an
// object, anything that isn't a string is kept as raw json for matching.
func messageMapText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var text string
	err := json.Unmarshal(raw, &text)
	if err == nil {
		return text
	}
	return string(raw)
}
