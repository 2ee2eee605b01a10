package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Indiana/Indianapolis")
	if err != nil {
		panic(err)
	}
}

// force timezone to be the convention's so "today" and the hour boundaries
// used by run statistics don't move around depending on where the
// server happens to be hosted
func Now() time.Time {
	return time.Now().In(Location)
}
