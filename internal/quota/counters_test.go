// internal/quota/counters_test.go
package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDailyReset(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)

	// 23:59 SGT rolls into the next calendar day.
	now := time.Date(2026, 3, 14, 23, 59, 0, 0, loc)
	next := NextDailyReset(now, loc)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, loc), next)

	// Just after midnight still points at the following midnight.
	now = time.Date(2026, 3, 15, 0, 0, 1, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, loc), NextDailyReset(now, loc))
}

func TestNextDailyReset_ZoneIndependentOfInput(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)

	// 18:00 UTC on the 14th is already the 15th in Singapore.
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, loc), NextDailyReset(now, loc))
}

func TestNextMonthlyReset(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 5, 0, 0, loc), NextMonthlyReset(now, loc))

	// December wraps into January of the next year.
	now = time.Date(2026, 12, 31, 23, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 5, 0, 0, loc), NextMonthlyReset(now, loc))
}
