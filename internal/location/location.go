// Package location turns the map links and coordinate strings found on
// listing pages into coordinates.
package location

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoCoordinates is returned when a location does not carry coordinates.
// Street addresses fall in this class; they are not geocoded.
var ErrNoCoordinates = errors.New("no coordinates in location")

// Point is a WGS84 position
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// String formats the point as "lat,lon"
func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}

// "41.88, -87.83", optionally with hemisphere letters: "41.88N, 87.83W"
var decimalPair = regexp.MustCompile(`^\s*(-?\d{1,3}(?:\.\d+)?)\s*([NSns])?\s*,\s*(-?\d{1,3}(?:\.\d+)?)\s*([EWew])?\s*$`)

var mapHosts = map[string]bool{
	"maps.google.com":     true,
	"www.google.com":      true,
	"google.com":          true,
	"www.maps.google.com": true,
}

// Parse extracts coordinates from a map link (maps.google.com/?q=lat,lon)
// or a bare coordinate pair.
func Parse(loc string) (Point, error) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return Point{}, ErrNoCoordinates
	}

	u, err := url.Parse(loc)
	if err == nil && u.Scheme != "" && u.Host != "" {
		if !mapHosts[strings.ToLower(u.Host)] {
			return Point{}, fmt.Errorf("unsupported map host %q: %w", u.Host, ErrNoCoordinates)
		}
		q := u.Query()["q"]
		if len(q) == 0 {
			return Point{}, ErrNoCoordinates
		}
		loc = strings.Join(q, ",")
	}

	return parsePair(loc)
}

func parsePair(s string) (Point, error) {
	m := decimalPair.FindStringSubmatch(s)
	if m == nil {
		return Point{}, ErrNoCoordinates
	}

	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Point{}, fmt.Errorf("parsing latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Point{}, fmt.Errorf("parsing longitude: %w", err)
	}
	if strings.EqualFold(m[2], "S") {
		lat = -lat
	}
	if strings.EqualFold(m[4], "W") {
		lon = -lon
	}

	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Point{}, fmt.Errorf("coordinates %v,%v out of range: %w", lat, lon, ErrNoCoordinates)
	}
	return Point{Lat: lat, Lon: lon}, nil
}
