package filter

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const monthNames = `jan|january|feb|february|mar|march|apr|april|may|jun|june|jul|july|aug|august|sep|sept|september|oct|october|nov|november|dec|december`

var (
	// "Mar 1-15"
	sameMonthRange = regexp.MustCompile(`(?i)^(` + monthNames + `)\s+(\d{1,2})\s*-\s*(\d{1,2})$`)
	// "Mar 1 - Apr 15"
	crossMonthRange = regexp.MustCompile(`(?i)^(` + monthNames + `)\s+(\d{1,2})\s*-\s*(` + monthNames + `)\s+(\d{1,2})$`)
	// "March"
	wholeMonth = regexp.MustCompile(`(?i)^(` + monthNames + `)$`)
)

// ParseDateRange parses a date range relative to now, in loc.
//
// Supported formats:
//   - "Mar 1-15" or "March 1-15"
//   - "March 1 - April 15"
//   - "March" (entire month)
//   - "2025-06-01..2025-06-30" (explicit dates)
//
// Months earlier than now's month are taken to be next year; a range whose
// end month precedes its start month ends next year. The start is at
// 00:00:00 and the end at 23:59:59.
func ParseDateRange(input string, now time.Time, loc *time.Location) (*time.Time, *time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil, fmt.Errorf("date range cannot be empty")
	}

	if fromText, toText, ok := strings.Cut(input, ".."); ok {
		from, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(fromText), loc)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid start date %q: %w", fromText, err)
		}
		to, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(toText), loc)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid end date %q: %w", toText, err)
		}
		return bounds(from.Year(), from.Month(), from.Day(), to.Year(), to.Month(), to.Day(), loc)
	}

	if m := sameMonthRange.FindStringSubmatch(input); m != nil {
		month := parseMonth(m[1])
		day1, err := parseDay(m[2])
		if err != nil {
			return nil, nil, err
		}
		day2, err := parseDay(m[3])
		if err != nil {
			return nil, nil, err
		}
		year := yearForMonth(month, now)
		return bounds(year, month, day1, year, month, day2, loc)
	}

	if m := crossMonthRange.FindStringSubmatch(input); m != nil {
		month1 := parseMonth(m[1])
		day1, err := parseDay(m[2])
		if err != nil {
			return nil, nil, err
		}
		month2 := parseMonth(m[3])
		day2, err := parseDay(m[4])
		if err != nil {
			return nil, nil, err
		}

		year1 := yearForMonth(month1, now)
		year2 := year1
		if month2 < month1 {
			year2++
		}
		return bounds(year1, month1, day1, year2, month2, day2, loc)
	}

	if m := wholeMonth.FindStringSubmatch(input); m != nil {
		month := parseMonth(m[1])
		year := yearForMonth(month, now)
		from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
		// day 0 of the next month is the last day of this one
		to := time.Date(year, month+1, 0, 23, 59, 59, 0, loc)
		return &from, &to, nil
	}

	return nil, nil, fmt.Errorf("invalid date range %q: use 'Mar 1-15', 'March 1 - April 15', 'March' or '2025-06-01..2025-06-30'", input)
}

func bounds(y1 int, m1 time.Month, d1 int, y2 int, m2 time.Month, d2 int, loc *time.Location) (*time.Time, *time.Time, error) {
	from := time.Date(y1, m1, d1, 0, 0, 0, 0, loc)
	to := time.Date(y2, m2, d2, 23, 59, 59, 0, loc)
	if from.After(to) {
		return nil, nil, fmt.Errorf("start date must be before end date")
	}
	return &from, &to, nil
}

func parseDay(s string) (int, error) {
	day, err := strconv.Atoi(s)
	if err != nil || day < 1 || day > 31 {
		return 0, fmt.Errorf("invalid day: %s", s)
	}
	return day, nil
}

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// parseMonth converts a month name to time.Month, 0 when unknown
func parseMonth(name string) time.Month {
	return months[strings.ToLower(strings.TrimSpace(name))]
}

// yearForMonth returns now's year, or the next one if month already passed
func yearForMonth(month time.Month, now time.Time) int {
	if month < now.Month() {
		return now.Year() + 1
	}
	return now.Year()
}

// FromQuery builds a filter from query parameters:
// range, title, location, category (repeatable) and weekends=true.
func FromQuery(q url.Values, now time.Time, loc *time.Location) (*Filter, error) {
	f := New()
	f.Zone = loc

	if r := q.Get("range"); r != "" {
		from, to, err := ParseDateRange(r, now, loc)
		if err != nil {
			return nil, err
		}
		f.DateFrom, f.DateTo = from, to
	}

	f.Titles = nonEmpty(q["title"])
	f.Locations = nonEmpty(q["location"])
	f.Categories = nonEmpty(q["category"])

	if w := q.Get("weekends"); w != "" {
		weekends, err := strconv.ParseBool(w)
		if err != nil {
			return nil, fmt.Errorf("invalid weekends value %q", w)
		}
		f.WeekendsOnly = weekends
	}
	return f, nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
