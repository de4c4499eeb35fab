package models

import "time"

const PaymentProviderStripe = "stripe"

// ProcessedWebhookEvent records a provider event id once it has been claimed
// for processing. The unique index on (provider, event_id) is the
// deduplication key shared by all running instances.
type ProcessedWebhookEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Provider  string    `gorm:"type:varchar(20);not null;index:ux_processed_webhook_events_provider_event,unique,priority:1" json:"provider"`
	EventID   string    `gorm:"type:varchar(191);not null;index:ux_processed_webhook_events_provider_event,unique,priority:2" json:"event_id"`
	ExpiresAt time.Time `gorm:"type:timestamp;not null;index" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
