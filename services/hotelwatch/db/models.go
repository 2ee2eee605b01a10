package db

import (
	"database/sql"
)

type AppConfig struct {
	Key       string
	Value     string
	UpdatedAt int64
}

type Hotel struct {
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

type RoomSnapshot struct {
	ID              int64
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

type ScrapeRun struct {
	ID           string
	CheckIn      string
	CheckOut     string
	Year         int64
	Mode         string
	Status       string
	StartedAt    int64
	CompletedAt  sql.NullInt64
	HotelsFound  int64
	RoomsFound   int64
	RoomNights   int64
	DurationMs   int64
	ErrorMessage sql.NullString
	NoChanges    int64
	Fingerprint  sql.NullString
}
