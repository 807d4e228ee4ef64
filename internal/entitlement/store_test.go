// internal/entitlement/store_test.go
package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"summarybot/internal/common/logger"
)

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewPostgresStore(db, logger.NewTestLogger(t)), mock
}

func entitlementRows(userID int64, tier Tier, expiresAt *time.Time, ref string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"user_id", "tier", "premium_expires_at", "external_subscriber_ref", "updated_at"})
	var expiry interface{}
	if expiresAt != nil {
		expiry = *expiresAt
	}
	return rows.AddRow(userID, string(tier), expiry, ref, time.Now())
}

func TestPostgresStore_GetOrCreate_Existing(t *testing.T) {
	store, mock := newTestStore(t)
	expiry := time.Now().Add(24 * time.Hour).UTC()

	mock.ExpectQuery("SELECT user_id, tier, premium_expires_at").
		WithArgs(int64(42)).
		WillReturnRows(entitlementRows(42, TierPremium, &expiry, "sub_123"))

	ent, err := store.GetOrCreate(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ent.UserID)
	assert.Equal(t, TierPremium, ent.Tier)
	require.NotNil(t, ent.PremiumExpiresAt)
	assert.WithinDuration(t, expiry, *ent.PremiumExpiresAt, time.Second)
	assert.Equal(t, "sub_123", ent.ExternalSubscriberRef)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrCreate_CreatesFreeRecord(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT user_id, tier, premium_expires_at").
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO entitlements").
		WithArgs(int64(42), TierFree).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT user_id, tier, premium_expires_at").
		WithArgs(int64(42)).
		WillReturnRows(entitlementRows(42, TierFree, nil, ""))

	ent, err := store.GetOrCreate(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, TierFree, ent.Tier)
	assert.Nil(t, ent.PremiumExpiresAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrCreate_Unavailable(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT user_id, tier, premium_expires_at").
		WithArgs(int64(42)).
		WillReturnError(errors.New("connection refused"))

	_, err := store.GetOrCreate(context.Background(), 42)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPostgresStore_ActivatePremium_Applied(t *testing.T) {
	store, mock := newTestStore(t)
	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC()

	mock.ExpectExec("INSERT INTO entitlements").
		WithArgs(int64(42), TierPremium, periodEnd, "sub_123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := store.ActivatePremium(context.Background(), 42, periodEnd, "sub_123")
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestPostgresStore_ActivatePremium_StaleExpirySkipped(t *testing.T) {
	store, mock := newTestStore(t)
	periodEnd := time.Now().Add(24 * time.Hour).UTC()

	// Zero rows affected means the conditional upsert saw a later stored expiry.
	mock.ExpectExec("INSERT INTO entitlements").
		WithArgs(int64(42), TierPremium, periodEnd, "sub_123").
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := store.ActivatePremium(context.Background(), 42, periodEnd, "sub_123")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestPostgresStore_Downgrade(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO entitlements").
		WithArgs(int64(42), TierFree).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, store.Downgrade(context.Background(), 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DemoteIfExpired(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE entitlements").
		WithArgs(int64(42), TierFree, TierPremium).
		WillReturnResult(sqlmock.NewResult(0, 1))

	demoted, err := store.DemoteIfExpired(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, demoted)

	mock.ExpectExec("UPDATE entitlements").
		WithArgs(int64(43), TierFree, TierPremium).
		WillReturnResult(sqlmock.NewResult(0, 0))

	demoted, err = store.DemoteIfExpired(context.Background(), 43)
	require.NoError(t, err)
	assert.False(t, demoted)
}

func TestPostgresStore_SweepExpired(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE entitlements").
		WithArgs(TierFree, TierPremium).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
