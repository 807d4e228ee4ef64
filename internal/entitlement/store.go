// internal/entitlement/store.go
package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"summarybot/internal/common/logger"
)

var (
	ErrStoreUnavailable = errors.New("STORE_UNAVAILABLE")
)

// Store is the durable entitlement store. All writes are conditional so that
// replayed or out-of-order lifecycle events cannot regress state.
type Store interface {
	// GetOrCreate returns the user's entitlement, creating a default free
	// record on first interaction.
	GetOrCreate(ctx context.Context, userID int64) (*Entitlement, error)

	// ActivatePremium upgrades the user, advancing premium_expires_at
	// monotonically. It reports false when the stored expiry is already
	// later than periodEnd (stale redelivery), which is not an error.
	ActivatePremium(ctx context.Context, userID int64, periodEnd time.Time, subscriberRef string) (bool, error)

	// Downgrade sets the user to free with no expiry.
	Downgrade(ctx context.Context, userID int64) error

	// DemoteIfExpired downgrades a premium user whose expiry has passed.
	// Reports whether a demotion happened.
	DemoteIfExpired(ctx context.Context, userID int64) (bool, error)

	// SweepExpired demotes every premium user past expiry and returns the
	// number of rows affected.
	SweepExpired(ctx context.Context) (int64, error)
}

// PostgresStore implements Store against the entitlements table.
type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresStore(db *sql.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "entitlement-store"}),
	}
}

const getQuery = `SELECT user_id, tier, premium_expires_at, external_subscriber_ref, updated_at
FROM entitlements WHERE user_id = $1`

func (s *PostgresStore) GetOrCreate(ctx context.Context, userID int64) (*Entitlement, error) {
	ent, err := s.get(ctx, userID)
	if err == nil {
		return ent, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entitlements (user_id, tier, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, TierFree,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.logger.Info("created entitlement", map[string]interface{}{"userId": userID})

	ent, err = s.get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ent, nil
}

func (s *PostgresStore) get(ctx context.Context, userID int64) (*Entitlement, error) {
	var (
		ent       Entitlement
		expiresAt sql.NullTime
		ref       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, getQuery, userID).Scan(
		&ent.UserID, &ent.Tier, &expiresAt, &ref, &ent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		ent.PremiumExpiresAt = &t
	}
	if ref.Valid {
		ent.ExternalSubscriberRef = ref.String
	}
	return &ent, nil
}

func (s *PostgresStore) ActivatePremium(ctx context.Context, userID int64, periodEnd time.Time, subscriberRef string) (bool, error) {
	// The WHERE clause keeps expiry monotonic: an activation carrying an
	// earlier period end than what is stored is a no-op.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entitlements (user_id, tier, premium_expires_at, external_subscriber_ref, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (user_id) DO UPDATE SET
		   tier = EXCLUDED.tier,
		   premium_expires_at = EXCLUDED.premium_expires_at,
		   external_subscriber_ref = EXCLUDED.external_subscriber_ref,
		   updated_at = now()
		 WHERE entitlements.tier <> $2
		    OR entitlements.premium_expires_at IS NULL
		    OR entitlements.premium_expires_at <= EXCLUDED.premium_expires_at`,
		userID, TierPremium, periodEnd, subscriberRef,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if affected == 0 {
		s.logger.Info("activation skipped, stored expiry is later", map[string]interface{}{
			"userId":    userID,
			"periodEnd": periodEnd.Format(time.RFC3339),
		})
		return false, nil
	}

	s.logger.Info("premium activated", map[string]interface{}{
		"userId":    userID,
		"periodEnd": periodEnd.Format(time.RFC3339),
	})
	return true, nil
}

func (s *PostgresStore) Downgrade(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entitlements (user_id, tier, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET
		   tier = $2,
		   premium_expires_at = NULL,
		   updated_at = now()`,
		userID, TierFree,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.logger.Info("downgraded to free", map[string]interface{}{"userId": userID})
	return nil
}

func (s *PostgresStore) DemoteIfExpired(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entitlements SET tier = $2, premium_expires_at = NULL, updated_at = now()
		 WHERE user_id = $1 AND tier = $3
		   AND (premium_expires_at IS NULL OR premium_expires_at <= now())`,
		userID, TierFree, TierPremium,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entitlements SET tier = $1, premium_expires_at = NULL, updated_at = now()
		 WHERE tier = $2 AND (premium_expires_at IS NULL OR premium_expires_at <= now())`,
		TierFree, TierPremium,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res.RowsAffected()
}
