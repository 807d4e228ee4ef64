// internal/quota/evaluator.go
package quota

import "summarybot/internal/entitlement"

// DenyReason names the first quota check that failed.
type DenyReason string

const (
	ReasonNone    DenyReason = ""
	ReasonDaily   DenyReason = "daily"
	ReasonMonthly DenyReason = "monthly"
	ReasonGroup   DenyReason = "group"
)

// Decision is the outcome of a quota evaluation. When Allowed, Updated holds
// the post-increment counter state the caller must commit atomically; the
// evaluator itself never touches storage.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Updated Counters
}

// Evaluate applies the tier rules to a counter snapshot. Premium bypasses all
// checks and leaves counters untouched. Free users are checked in fixed order
// so the first failing limit names the denial for user-facing messaging:
// daily, then monthly, then group cap.
func Evaluate(tier entitlement.Tier, limits Limits, counters Counters, groupID int64) Decision {
	if tier == entitlement.TierPremium {
		return Decision{Allowed: true}
	}

	if counters.Daily >= limits.Daily {
		return Decision{Reason: ReasonDaily}
	}
	if counters.Monthly >= limits.Monthly {
		return Decision{Reason: ReasonMonthly}
	}
	if !counters.InGroup(groupID) && counters.GroupCount() >= limits.Groups {
		return Decision{Reason: ReasonGroup}
	}

	updated := Counters{
		Daily:   counters.Daily + 1,
		Monthly: counters.Monthly + 1,
		Groups:  make(map[int64]struct{}, len(counters.Groups)+1),
	}
	for g := range counters.Groups {
		updated.Groups[g] = struct{}{}
	}
	updated.Groups[groupID] = struct{}{}

	return Decision{Allowed: true, Updated: updated}
}
