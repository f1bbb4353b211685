package stats

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"messmate/pkg/db"
	"messmate/services/store"
)

const (
	mealCountsQuery = `
SELECT meal_name, COUNT(*) AS total, COUNT(*) FILTER (WHERE paid) AS paid
FROM orders
WHERE day >= $1
GROUP BY meal_name
ORDER BY meal_name`

	verifiedMealsQuery = `
SELECT COALESCE(SUM((m->>'quantity')::bigint), 0)
FROM users, jsonb_array_elements(COALESCE(verified_meals, '[]'::jsonb)) AS m
WHERE verified_day = $1`
)

// PGReader runs the report aggregates directly on a pgx pool.
type PGReader struct {
	Pool *pgxpool.Pool
}

func (r PGReader) MealCounts(ctx context.Context, since string) ([]store.MealCount, error) {
	var rows []store.MealCount
	if err := db.Select(ctx, r.Pool, &rows, mealCountsQuery, since); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r PGReader) VerifiedMeals(ctx context.Context, day string) (int64, error) {
	var n int64
	if err := db.Get(ctx, r.Pool, &n, verifiedMealsQuery, day); err != nil {
		return 0, err
	}
	return n, nil
}
