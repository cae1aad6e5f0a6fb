package event

import (
	"fmt"
	"strings"
	"time"
)

// sessionLayout matches "Tue, May 20, 2025 7:30 PM"
const sessionLayout = "Mon, Jan 2, 2006 3:04 PM"

// LocalToUTC interprets the wall-clock fields of naive in the named IANA
// zone and returns the corresponding UTC instant. The location carried by
// naive is ignored.
//
// Wall times that fall in a DST gap or overlap resolve the way time.Date
// does for that zone; no further disambiguation is attempted.
func LocalToUTC(naive time.Time, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading time zone %q: %w", zone, err)
	}
	local := time.Date(naive.Year(), naive.Month(), naive.Day(),
		naive.Hour(), naive.Minute(), naive.Second(), naive.Nanosecond(), loc)
	return local.UTC(), nil
}

// ParseSessionTimes parses "<Weekday>, <Month> <Day>, <Year> - <Start> to <End>"
// and returns both ends as UTC instants, reading the clock times in zone.
func ParseSessionTimes(text, zone string) (time.Time, time.Time, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\u00a0", " "))

	date, clocks, ok := strings.Cut(text, " - ")
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("missing date separator in %q", text)
	}
	startClock, endClock, ok := strings.Cut(clocks, " to ")
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("missing time range in %q", text)
	}

	start, err := parseClock(date, startClock, zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseClock(date, endClock, zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	return start, end, nil
}

func parseClock(date, clock, zone string) (time.Time, error) {
	value := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
	naive, err := time.Parse(sessionLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing session time %q: %w", value, err)
	}
	return LocalToUTC(naive, zone)
}
