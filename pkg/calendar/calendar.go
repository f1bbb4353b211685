package calendar

import (
	"fmt"
	"strings"
	"time"
)

// DayLayout is the format of a day key.
const DayLayout = "2006-01-02"

// Calendar resolves wall-clock instants to canteen day keys.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// New returns a Calendar for the named IANA zone. An empty name means UTC.
func New(zone string) (*Calendar, error) {
	loc := time.UTC
	if zone != "" {
		l, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("load location %q: %w", zone, err)
		}
		loc = l
	}
	return &Calendar{loc: loc, now: time.Now}, nil
}

// Fixed returns a Calendar whose clock always reports t. Used by tests and
// one-shot CLI commands.
func Fixed(loc *time.Location, t time.Time) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc, now: func() time.Time { return t }}
}

// WithClock returns a copy of c driven by now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	return &Calendar{loc: c.loc, now: now}
}

// Location returns the canteen time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Now returns the current instant in the canteen zone.
func (c *Calendar) Now() time.Time { return c.now().In(c.loc) }

// Today returns the day key for the current instant.
func (c *Calendar) Today() string { return c.DayKey(c.now()) }

// DayKey formats t as a day key in the canteen zone.
func (c *Calendar) DayKey(t time.Time) string {
	return t.In(c.loc).Format(DayLayout)
}

// ParseDay validates a day key and returns midnight of that day.
func (c *Calendar) ParseDay(key string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, key, c.loc)
}

// LegacyDayLayout is the browser Date.toDateString form older clients send,
// e.g. "Fri Oct 16 2026".
const LegacyDayLayout = "Mon Jan _2 2006"

// NormalizeDay accepts a day key or its legacy form and returns the day key.
func (c *Calendar) NormalizeDay(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if t, err := c.ParseDay(raw); err == nil {
		return t.Format(DayLayout), nil
	}
	t, err := time.ParseInLocation(LegacyDayLayout, strings.Join(strings.Fields(raw), " "), c.loc)
	if err != nil {
		return "", fmt.Errorf("unrecognised date %q", raw)
	}
	return t.Format(DayLayout), nil
}
