// Package stats reports order counts for the producer dashboard.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"messmate/pkg/apperr"
	"messmate/pkg/calendar"
	"messmate/services/store"
)

// Periods accepted by WindowStart.
const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodYear  = "year"
	PeriodAll   = "all"
)

// WindowStart returns the first instant of period containing now, in now's
// location. Weeks start on Sunday. PeriodAll yields the zero time.
func WindowStart(period string, now time.Time) (time.Time, error) {
	y, m, d := now.Date()
	loc := now.Location()
	switch period {
	case PeriodDay:
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	case PeriodWeek:
		return time.Date(y, m, d-int(now.Weekday()), 0, 0, 0, 0, loc), nil
	case PeriodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc), nil
	case PeriodYear:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc), nil
	case PeriodAll:
		return time.Time{}, nil
	default:
		return time.Time{}, apperr.Validationf("unknown period %q: use day, week, month, year or all", period)
	}
}

// Reader supplies the aggregates a report is built from.
type Reader interface {
	// MealCounts aggregates orders whose day key is since or later. An empty
	// since covers every order.
	MealCounts(ctx context.Context, since string) ([]store.MealCount, error)
	// VerifiedMeals sums the quantities of verification snapshots for day.
	VerifiedMeals(ctx context.Context, day string) (int64, error)
}

// Report is the dashboard summary for one period.
type Report struct {
	Period   string           `json:"period"`
	Since    *time.Time       `json:"since,omitempty"`
	Total    int64            `json:"total"`
	Paid     int64            `json:"paid"`
	Unpaid   int64            `json:"unpaid"`
	Meals    map[string]int64 `json:"meals"`
	Verified int64            `json:"verified"`
}

// Service builds reports.
type Service struct {
	reader Reader
	cal    *calendar.Calendar
}

// New returns a Service reading through r.
func New(r Reader, cal *calendar.Calendar) *Service {
	return &Service{reader: r, cal: cal}
}

// Report summarises orders placed in period. Verified always counts today's
// served meals.
func (s *Service) Report(ctx context.Context, period string) (*Report, error) {
	if period == "" {
		period = PeriodDay
	}
	now := s.cal.Now()
	start, err := WindowStart(period, now)
	if err != nil {
		return nil, err
	}

	rep := &Report{Period: period, Meals: map[string]int64{}}
	var since string
	if !start.IsZero() {
		rep.Since = &start
		since = s.cal.DayKey(start)
	}

	counts, err := s.reader.MealCounts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("meal counts: %w", err)
	}
	for _, c := range counts {
		rep.Meals[c.MealName] += c.Total
		rep.Total += c.Total
		rep.Paid += c.Paid
	}
	rep.Unpaid = rep.Total - rep.Paid

	if rep.Verified, err = s.reader.VerifiedMeals(ctx, s.cal.DayKey(now)); err != nil {
		return nil, fmt.Errorf("verified meals: %w", err)
	}
	return rep, nil
}

// StoreReader reads aggregates through the gorm store. It works with every
// driver the store supports.
type StoreReader struct {
	Store *store.Store
}

func (r StoreReader) MealCounts(ctx context.Context, since string) ([]store.MealCount, error) {
	return r.Store.MealCountsSince(ctx, since)
}

func (r StoreReader) VerifiedMeals(ctx context.Context, day string) (int64, error) {
	users, err := r.Store.VerifiedOn(ctx, day)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, u := range users {
		for _, m := range u.VerifiedToday.Meals {
			n += int64(m.Quantity)
		}
	}
	return n, nil
}

// FallbackReader prefers Primary and answers from Secondary when Primary
// fails, so the dashboard survives a broken reporting pool.
type FallbackReader struct {
	Primary   Reader
	Secondary Reader
	Log       zerolog.Logger
}

func (r FallbackReader) MealCounts(ctx context.Context, since string) ([]store.MealCount, error) {
	rows, err := r.Primary.MealCounts(ctx, since)
	if err == nil || ctx.Err() != nil {
		return rows, err
	}
	r.Log.Warn().Err(err).Msg("meal counts from reporting pool failed, using store")
	return r.Secondary.MealCounts(ctx, since)
}

func (r FallbackReader) VerifiedMeals(ctx context.Context, day string) (int64, error) {
	n, err := r.Primary.VerifiedMeals(ctx, day)
	if err == nil || ctx.Err() != nil {
		return n, err
	}
	r.Log.Warn().Err(err).Msg("verified meals from reporting pool failed, using store")
	return r.Secondary.VerifiedMeals(ctx, day)
}
