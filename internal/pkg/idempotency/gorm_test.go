package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/ManuelReschke/OrderFox/app/models"
	"github.com/ManuelReschke/OrderFox/internal/pkg/database"
	"github.com/ManuelReschke/OrderFox/internal/pkg/env"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if env.GetEnv("DB_NAME", "") == "" {
		t.Skip("Skipping MySQL-dependent test: DB_NAME not set")
	}
	db, err := database.Open(database.DSN() + "&timeout=2s")
	if err != nil {
		t.Skipf("Skipping MySQL-dependent test: database not reachable (%v)", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// testEventID returns an id unique to this run and removes its row afterwards,
// so reruns against the same database within the TTL start clean.
func testEventID(t *testing.T, db *gorm.DB, name string) string {
	t.Helper()
	id := "evt_test_" + name + "_" + uuid.NewString()
	t.Cleanup(func() {
		db.Where("event_id = ?", id).Delete(&models.ProcessedWebhookEvent{})
	})
	return id
}

func TestGormGuard_ClaimOnlyOnce(t *testing.T) {
	db := openTestDB(t)
	guard := NewGormGuard(db, time.Hour)
	ctx := context.Background()
	id := testEventID(t, db, "claim")

	first, err := guard.Claim(ctx, id)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := guard.Claim(ctx, id)
	require.NoError(t, err)
	assert.False(t, second)

	seen, err := guard.HasProcessed(ctx, id)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestGormGuard_ExpiredClaimIsReleased(t *testing.T) {
	db := openTestDB(t)
	guard := NewGormGuard(db, -time.Minute)
	ctx := context.Background()
	id := testEventID(t, db, "expired")

	ok, err := guard.Claim(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	seen, err := guard.HasProcessed(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)

	ok, err = guard.Claim(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}
