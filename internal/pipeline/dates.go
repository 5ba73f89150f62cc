package pipeline

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// timestampLayouts are tried in order. They cover what MySQL, Postgres and
// SQLite return for DATE, DATETIME and TIMESTAMP columns, and ISO 8601.
var timestampLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// CalendarDate extracts the calendar date from a timestamp string, discarding
// time-of-day. Offsets are honoured as written: the date is the wall-clock
// date in the timestamp's own offset, never converted to another zone.
func CalendarDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, fmt.Errorf("CalendarDate: empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("CalendarDate: unrecognised timestamp %q", s)
}
