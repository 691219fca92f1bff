package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
)

// ReconciliationRecord holds one per-voucher, per-date comparison between the
// ledger status and the partner's reported status. The unique
// (voucher_id, reconciliation_date) index makes repeated runs idempotent.
type ReconciliationRecord struct {
	ID                 string    `gorm:"primary_key;size:36" json:"id"`
	VoucherId          string    `gorm:"size:36;not null;index:uniq_recon,unique" json:"voucher_id"`
	ReconciliationDate time.Time `gorm:"type:date;not null;index:uniq_recon,unique" json:"reconciliation_date"`
	LedgerStatus       string    `gorm:"size:20;not null" json:"ledger_status"`
	PartnerStatus      string    `gorm:"size:20;not null" json:"partner_status"`
	Match              bool      `gorm:"not null" json:"match"`
	Discrepancy        *string   `gorm:"type:text" json:"discrepancy"`
	LastVerifiedAt     time.Time `json:"last_verified_at"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type ReconciliationRecordFilter struct {
	Date      *time.Time
	Match     *bool
	VoucherId string
	Limit     int
	Offset    int
}

func ListReconciliationRecords(ctx context.Context, filter ReconciliationRecordFilter) ([]*ReconciliationRecord, int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&ReconciliationRecord{})

	if filter.Date != nil {
		q = q.Where("reconciliation_date = ?", filter.Date.UTC().Truncate(24*time.Hour))
	}
	if filter.Match != nil {
		q = q.Where("`match` = ?", *filter.Match)
	}
	if filter.VoucherId != "" {
		q = q.Where("voucher_id = ?", filter.VoucherId)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var records []*ReconciliationRecord
	if err := q.Order("reconciliation_date DESC, voucher_id").Limit(limit).Offset(filter.Offset).Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
