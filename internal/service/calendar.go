package service

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // the tax timezone must resolve on hosts without a zoneinfo database

	"nytax/internal/model"
)

// DefaultTimezone is the zone whose calendar date decides which rate applies.
const DefaultTimezone = "America/New_York"

// Calendar converts instants to the calendar dates rate intervals are keyed by.
type Calendar struct {
	loc *time.Location
}

func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// LoadCalendar resolves an IANA zone name; an empty name means DefaultTimezone.
func LoadCalendar(name string) (Calendar, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return NewCalendar(loc), nil
}

func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Day returns the local calendar date of t as midnight UTC, the representation used for
// valid_from and valid_to.
func (c Calendar) Day(t time.Time) time.Time {
	lt := t.In(c.Location())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseInstant accepts RFC 3339, a zone-less local date-time or a bare date. Zone-less values are
// read in the calendar's zone. dateOnly is true for a bare date.
func (c Calendar) ParseInstant(s string) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseInLocation(model.DateLayout, s, c.Location()); err == nil {
		return d, true, nil
	}
	for i, layout := range instantLayouts {
		var parsed time.Time
		if i == 0 {
			parsed, err = time.Parse(layout, s)
		} else {
			parsed, err = time.ParseInLocation(layout, s, c.Location())
		}
		if err == nil {
			return parsed, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseDate parses a YYYY-MM-DD date into the interval representation.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(model.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", s)
	}
	return d, nil
}
