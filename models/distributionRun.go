package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
)

// DistributionRun records one queued or completed batch handover to the
// disbursement partner.
type DistributionRun struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	Status         string     `gorm:"size:20;index;not null" json:"status"`
	TriggeredBy    string     `gorm:"size:20" json:"triggered_by"`
	VoucherIdsJSON []byte     `gorm:"type:json" json:"voucher_ids"`
	StatsJSON      []byte     `gorm:"type:json" json:"stats"`
	TotalCount     int        `json:"total_count"`
	SuccessCount   int        `json:"success_count"`
	FailedCount    int        `json:"failed_count"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	DurationMs     int64      `json:"duration_ms"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetDistributionRun(ctx context.Context, id uint) (*DistributionRun, error) {
	db := config.GetDB()
	var run DistributionRun
	if err := db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func ListDistributionRuns(ctx context.Context, limit int, offset int) ([]*DistributionRun, int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&DistributionRun{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []*DistributionRun
	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}
