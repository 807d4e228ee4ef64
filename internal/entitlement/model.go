// internal/entitlement/model.go
package entitlement

import "time"

// Tier is a user's entitlement class.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Entitlement is the durable record of a user's tier and its expiry. Rows are
// created on first interaction and never deleted, only downgraded.
type Entitlement struct {
	UserID                int64      `json:"userId"`
	Tier                  Tier       `json:"tier"`
	PremiumExpiresAt      *time.Time `json:"premiumExpiresAt,omitempty"`
	ExternalSubscriberRef string     `json:"externalSubscriberRef,omitempty"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// PremiumActive reports whether the record grants premium at the given instant.
// A premium row whose expiry has passed is treated as free by callers; the
// durable correction happens out of band.
func (e *Entitlement) PremiumActive(now time.Time) bool {
	if e.Tier != TierPremium {
		return false
	}
	return e.PremiumExpiresAt != nil && e.PremiumExpiresAt.After(now)
}

// StaleExpiry reports a premium row observed past its expiry.
func (e *Entitlement) StaleExpiry(now time.Time) bool {
	if e.Tier != TierPremium {
		return false
	}
	return e.PremiumExpiresAt == nil || !e.PremiumExpiresAt.After(now)
}
