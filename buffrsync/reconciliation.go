package buffrsync

import (
	"context"
	"fmt"
	"math"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
	"bitbucket.org/mmdatafocus/vouchers_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
)

const reconcileLockTTL = 10 * time.Minute

// ReconStore is the persistence surface of the reconciler, kept narrow so
// tests can run without a database.
type ReconStore interface {
	VouchersIssuedOn(ctx context.Context, date time.Time) ([]*models.Voucher, error)
	SaveRecord(ctx context.Context, record *models.ReconciliationRecord) error
}

type dbReconStore struct{}

func NewDBReconStore() ReconStore {
	return dbReconStore{}
}

func (dbReconStore) VouchersIssuedOn(ctx context.Context, date time.Time) ([]*models.Voucher, error) {
	return models.VouchersIssuedOn(ctx, date)
}

func (dbReconStore) SaveRecord(ctx context.Context, record *models.ReconciliationRecord) error {
	err := config.GetDB().WithContext(ctx).Create(record).Error
	if err != nil && workflow.IsDuplicateKeyErr(err) {
		// Re-run for the same date: refresh the existing row instead.
		return config.GetDB().WithContext(ctx).Model(&models.ReconciliationRecord{}).
			Where("voucher_id = ? AND reconciliation_date = ?", record.VoucherId, record.ReconciliationDate).
			Updates(map[string]interface{}{
				"ledger_status":    record.LedgerStatus,
				"partner_status":   record.PartnerStatus,
				"match":            record.Match,
				"discrepancy":      record.Discrepancy,
				"last_verified_at": record.LastVerifiedAt,
			}).Error
	}
	return err
}

type Reconciler struct {
	partner PartnerAPI
	store   ReconStore
}

func NewReconciler(partner PartnerAPI, store ReconStore) *Reconciler {
	return &Reconciler{partner: partner, store: store}
}

// Reconcile compares every voucher issued on the given date against the
// partner's view and persists one record per voucher. A Redis lock keeps two
// runs for the same date from racing; the loser gets a state conflict.
func (r *Reconciler) Reconcile(ctx context.Context, date time.Time) (*Report, error) {
	logger := config.GetLogger()
	date = date.UTC().Truncate(24 * time.Hour)
	dateStr := date.Format("2006-01-02")

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "reconcile:"+dateStr, reconcileLockTTL, nil)
		if err == redislock.ErrNotObtained {
			return nil, utils.NewStateConflictError("reconciliation for %s is already running", dateStr)
		}
		if err != nil {
			return nil, err
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}

	vouchers, err := r.store.VouchersIssuedOn(ctx, date)
	if err != nil {
		return nil, utils.NewPersistenceError("load vouchers for reconciliation", err)
	}

	report := &Report{Date: dateStr, TotalVouchers: len(vouchers)}
	for _, voucher := range vouchers {
		record := r.reconcileOne(ctx, voucher, date)
		if record.Match {
			report.Matched++
		} else {
			report.Discrepancies++
		}
		if err := r.store.SaveRecord(ctx, record); err != nil {
			config.LogError(logger, "buffrsync", "Reconcile", "persist reconciliation record", voucher.ID, err)
		}
		report.Records = append(report.Records, ReconciliationRecordDTO{
			VoucherId:      record.VoucherId,
			Date:           dateStr,
			LedgerStatus:   record.LedgerStatus,
			PartnerStatus:  record.PartnerStatus,
			Match:          record.Match,
			Discrepancy:    record.Discrepancy,
			LastVerifiedAt: record.LastVerifiedAt.Format(time.RFC3339),
		})
	}

	if report.TotalVouchers > 0 {
		rate := float64(report.Matched) / float64(report.TotalVouchers) * 100
		report.MatchRate = math.Round(rate*100) / 100
	}
	return report, nil
}

// reconcileOne never fails: a partner error is itself a discrepancy with
// partner status "unknown".
func (r *Reconciler) reconcileOne(ctx context.Context, voucher *models.Voucher, date time.Time) *models.ReconciliationRecord {
	record := &models.ReconciliationRecord{
		ID:                 uuid.NewString(),
		VoucherId:          voucher.ID,
		ReconciliationDate: date,
		LedgerStatus:       string(voucher.Status),
		LastVerifiedAt:     time.Now().UTC(),
	}

	status, err := r.partner.CheckStatus(ctx, voucher.ID)
	if err != nil {
		record.PartnerStatus = "unknown"
		record.Match = false
		msg := fmt.Sprintf("partner status check failed: %v", err)
		record.Discrepancy = &msg
		return record
	}

	record.PartnerStatus = status.Status
	record.Match = record.LedgerStatus == record.PartnerStatus
	if !record.Match {
		msg := fmt.Sprintf("ledger reports %s but partner reports %s", record.LedgerStatus, record.PartnerStatus)
		record.Discrepancy = &msg
	}
	return record
}
