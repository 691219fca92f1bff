package models

import (
	"time"
)

// StatusEvent is an append-only audit record of a status transition. The
// subject is polymorphic: (EntityType, EntityId) can point at a voucher or a
// beneficiary.
type StatusEvent struct {
	ID           string      `gorm:"primary_key;size:36" json:"id"`
	EntityType   EntityType  `gorm:"size:20;index:idx_status_event_subject;not null" json:"entity_type"`
	EntityId     string      `gorm:"size:64;index:idx_status_event_subject;not null" json:"entity_id"`
	FromStatus   *string     `gorm:"size:20" json:"from_status"`
	ToStatus     string      `gorm:"size:20;not null" json:"to_status"`
	TriggeredBy  TriggeredBy `gorm:"size:20;not null" json:"triggered_by"`
	MetadataJSON []byte      `gorm:"type:json" json:"metadata"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
}
