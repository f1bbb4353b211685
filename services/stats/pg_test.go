package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messmate/pkg/calendar"
	"messmate/services/store/storetest"
)

// Runs only against a real PostgreSQL database, see storetest.PostgresDSNEnv.
func TestPGReaderMatchesStoreReader(t *testing.T) {
	s, pool := storetest.Postgres(t)
	seedReport(t, s)

	pg := PGReader{Pool: pool}
	checkSeededReport(t, New(pg, calendar.Fixed(ist, reportNow)))

	ctx := context.Background()
	viaStore := StoreReader{Store: s}
	for _, since := range []string{"", "2026-10-11", "2026-10-16", "2026-10-17"} {
		want, err := viaStore.MealCounts(ctx, since)
		require.NoError(t, err)
		got, err := pg.MealCounts(ctx, since)
		require.NoError(t, err)
		assert.ElementsMatch(t, want, got, "since %q", since)
	}

	for _, day := range []string{"2026-10-12", "2026-10-16", "2026-10-17"} {
		want, err := viaStore.VerifiedMeals(ctx, day)
		require.NoError(t, err)
		got, err := pg.VerifiedMeals(ctx, day)
		require.NoError(t, err)
		assert.Equal(t, want, got, "day %s", day)
	}
}
