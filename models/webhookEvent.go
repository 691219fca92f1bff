package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
)

// WebhookEvent is the audit row persisted for every inbound partner webhook,
// whether processing succeeded or not.
type WebhookEvent struct {
	ID               string         `gorm:"primary_key;size:36" json:"id"`
	EventType        string         `gorm:"size:50;index;not null" json:"event_type"`
	VoucherId        string         `gorm:"size:36;index" json:"voucher_id"`
	DeliveryStatus   DeliveryStatus `gorm:"size:20;index;not null" json:"delivery_status"`
	DeliveryAttempts int            `gorm:"not null;default:0" json:"delivery_attempts"`
	LastAttemptAt    *time.Time     `json:"last_attempt_at"`
	DeliveredAt      *time.Time     `json:"delivered_at"`
	ErrorMessage     *string        `gorm:"type:text" json:"error_message"`
	SignatureValid   bool           `gorm:"not null;default:false" json:"signature_valid"`
	Payload          []byte         `gorm:"type:json" json:"payload"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type WebhookEventFilter struct {
	EventType      string
	VoucherId      string
	DeliveryStatus string
	Limit          int
	Offset         int
}

func ListWebhookEvents(ctx context.Context, filter WebhookEventFilter) ([]*WebhookEvent, int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&WebhookEvent{})

	if filter.EventType != "" {
		q = q.Where("event_type = ?", filter.EventType)
	}
	if filter.VoucherId != "" {
		q = q.Where("voucher_id = ?", filter.VoucherId)
	}
	if filter.DeliveryStatus != "" {
		q = q.Where("delivery_status = ?", filter.DeliveryStatus)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var events []*WebhookEvent
	if err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
