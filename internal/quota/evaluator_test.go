// internal/quota/evaluator_test.go
package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"summarybot/internal/entitlement"
)

func countersWith(daily, monthly int, groups ...int64) Counters {
	c := NewCounters()
	c.Daily = daily
	c.Monthly = monthly
	for _, g := range groups {
		c.Groups[g] = struct{}{}
	}
	return c
}

func TestEvaluate(t *testing.T) {
	limits := DefaultLimits()

	tests := []struct {
		name     string
		tier     entitlement.Tier
		counters Counters
		groupID  int64
		allowed  bool
		reason   DenyReason
	}{
		{
			name:     "free user under all limits",
			tier:     entitlement.TierFree,
			counters: countersWith(2, 40, 100),
			groupID:  100,
			allowed:  true,
		},
		{
			name:     "fresh user with no usage",
			tier:     entitlement.TierFree,
			counters: NewCounters(),
			groupID:  100,
			allowed:  true,
		},
		{
			name:     "daily limit reached",
			tier:     entitlement.TierFree,
			counters: countersWith(5, 40, 100),
			groupID:  100,
			allowed:  false,
			reason:   ReasonDaily,
		},
		{
			name:     "monthly limit reached with daily headroom",
			tier:     entitlement.TierFree,
			counters: countersWith(2, 100, 100),
			groupID:  100,
			allowed:  false,
			reason:   ReasonMonthly,
		},
		{
			name:     "fourth distinct group rejected",
			tier:     entitlement.TierFree,
			counters: countersWith(2, 40, 100, 200, 300),
			groupID:  400,
			allowed:  false,
			reason:   ReasonGroup,
		},
		{
			name:     "known group at group cap still allowed",
			tier:     entitlement.TierFree,
			counters: countersWith(2, 40, 100, 200, 300),
			groupID:  200,
			allowed:  true,
		},
		{
			name:     "daily named first when several limits are hit",
			tier:     entitlement.TierFree,
			counters: countersWith(5, 100, 100, 200, 300),
			groupID:  400,
			allowed:  false,
			reason:   ReasonDaily,
		},
		{
			name:     "premium bypasses exhausted counters",
			tier:     entitlement.TierPremium,
			counters: countersWith(5, 100, 100, 200, 300),
			groupID:  400,
			allowed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.tier, limits, tt.counters, tt.groupID)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestEvaluate_UpdatedCounters(t *testing.T) {
	counters := countersWith(2, 40, 100)

	d := Evaluate(entitlement.TierFree, DefaultLimits(), counters, 200)
	require.True(t, d.Allowed)

	assert.Equal(t, 3, d.Updated.Daily)
	assert.Equal(t, 41, d.Updated.Monthly)
	assert.True(t, d.Updated.InGroup(100))
	assert.True(t, d.Updated.InGroup(200))

	// The snapshot the caller passed in stays untouched.
	assert.Equal(t, 2, counters.Daily)
	assert.False(t, counters.InGroup(200))
}

func TestEvaluate_PremiumLeavesCountersAlone(t *testing.T) {
	d := Evaluate(entitlement.TierPremium, DefaultLimits(), countersWith(1, 1), 100)
	require.True(t, d.Allowed)
	assert.Zero(t, d.Updated.Daily)
	assert.Zero(t, d.Updated.Monthly)
}
