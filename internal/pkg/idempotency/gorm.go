package idempotency

import (
	"context"
	"time"

	"github.com/ManuelReschke/OrderFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormGuard persists processed ids in the processed_webhook_events table.
type GormGuard struct {
	db       *gorm.DB
	provider string
	ttl      time.Duration
}

func NewGormGuard(db *gorm.DB, ttl time.Duration) *GormGuard {
	return &GormGuard{db: db, provider: models.PaymentProviderStripe, ttl: ttl}
}

func (g *GormGuard) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	id, err := normalizeID(eventID)
	if err != nil {
		return false, err
	}
	var count int64
	err = g.db.WithContext(ctx).Model(&models.ProcessedWebhookEvent{}).
		Where("provider = ? AND event_id = ? AND expires_at > ?", g.provider, id, time.Now()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (g *GormGuard) MarkProcessed(ctx context.Context, eventID string) error {
	id, err := normalizeID(eventID)
	if err != nil {
		return err
	}
	event := g.newRecord(id)
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
	}).Create(event).Error
}

func (g *GormGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	id, err := normalizeID(eventID)
	if err != nil {
		return false, err
	}

	db := g.db.WithContext(ctx)
	// Expired claims are released before trying to take the slot again.
	if err := db.Where("provider = ? AND event_id = ? AND expires_at <= ?", g.provider, id, time.Now()).
		Delete(&models.ProcessedWebhookEvent{}).Error; err != nil {
		return false, err
	}

	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(g.newRecord(id))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// PurgeExpired removes claims whose ttl has passed.
func (g *GormGuard) PurgeExpired(ctx context.Context) (int64, error) {
	tx := g.db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&models.ProcessedWebhookEvent{})
	return tx.RowsAffected, tx.Error
}

func (g *GormGuard) newRecord(id string) *models.ProcessedWebhookEvent {
	return &models.ProcessedWebhookEvent{
		Provider:  g.provider,
		EventID:   id,
		ExpiresAt: time.Now().Add(g.ttl),
	}
}
