package hotelwatch

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning  = errors.New("a scrape run is already in progress")
	ErrScraperDisabled = errors.New("scraper is disabled")
)

// PersistenceError means the store could not take any of a run's writes.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DataAnomalyError is returned when a scrape comes back with far less data
// than the last run that changed anything, which is more likely a portal
// hiccup than every room selling out at once.
type DataAnomalyError struct {
	RoomNights         int
	BaselineRoomNights int
	BaselineRunID      string
}

func (e *DataAnomalyError) Error() string {
	return fmt.Sprintf(
		"scrape returned %d room nights, less than half of the %d from run %s",
		e.RoomNights, e.BaselineRoomNights, e.BaselineRunID,
	)
}
