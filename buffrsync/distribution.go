package buffrsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
	"bitbucket.org/mmdatafocus/vouchers_backend/workflow"
	"gorm.io/gorm"
)

// maxInFlight caps concurrent partner calls during a batch handover.
const maxInFlight = 10

// BeneficiaryResolver looks up the enrichment source for one voucher.
type BeneficiaryResolver func(ctx context.Context, beneficiaryId string) (*models.Beneficiary, error)

type Distributor struct {
	partner PartnerAPI
}

func NewDistributor(partner PartnerAPI) *Distributor {
	return &Distributor{partner: partner}
}

func enrichmentFor(voucher *models.Voucher, beneficiary *models.Beneficiary) Enrichment {
	e := Enrichment{RedemptionToken: voucher.VoucherCode}
	if beneficiary != nil {
		e.BeneficiaryIdNumber = beneficiary.IdNumber
		e.Phone = beneficiary.Phone
		e.PartnerUserId = utils.DereferencePtr(beneficiary.PartnerUserId)
	}
	return e
}

// DistributeOne hands a single voucher to the partner. All failure modes are
// captured in the result.
func (d *Distributor) DistributeOne(ctx context.Context, voucher *models.Voucher, enrichment Enrichment) DistributionResult {
	if voucher == nil {
		return DistributionResult{Success: false, Error: "voucher is nil"}
	}
	res := d.partner.SendVoucher(ctx, voucher, enrichment)
	if !res.Success {
		return DistributionResult{Success: false, VoucherId: voucher.ID, Error: res.Error}
	}
	return DistributionResult{Success: true, VoucherId: voucher.ID, DeliveryId: res.DeliveryId}
}

// DistributeBatch fans vouchers out to the partner with bounded concurrency.
// One failing item never affects its siblings, and Results preserves the
// input order.
func (d *Distributor) DistributeBatch(ctx context.Context, vouchers []*models.Voucher, resolve BeneficiaryResolver) BatchResult {
	results := make([]DistributionResult, len(vouchers))

	sem := make(chan struct{}, maxInFlight)
	var wg sync.WaitGroup
	for i, voucher := range vouchers {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, voucher *models.Voucher) {
			defer wg.Done()
			defer func() { <-sem }()

			var enrichment Enrichment
			if resolve != nil && voucher != nil {
				beneficiary, err := resolve(ctx, voucher.BeneficiaryId)
				if err != nil {
					results[i] = DistributionResult{
						Success:   false,
						VoucherId: voucher.ID,
						Error:     fmt.Sprintf("resolve beneficiary: %v", err),
					}
					return
				}
				enrichment = enrichmentFor(voucher, beneficiary)
			}
			results[i] = d.DistributeOne(ctx, voucher, enrichment)
		}(i, voucher)
	}
	wg.Wait()

	batch := BatchResult{Total: len(vouchers), Results: results}
	for _, r := range results {
		if r.Success {
			batch.Successful++
		} else {
			batch.Failed++
		}
	}
	batch.Success = batch.Failed == 0
	return batch
}

// ProcessRun executes one queued distribution run: load the voucher set, hand
// it to the partner, move the successes to delivered and persist the stats.
// Pub/Sub redelivery is guarded by the DB idempotency key.
func ProcessRun(ctx context.Context, partner PartnerAPI, runId uint) error {
	if runId == 0 {
		return errors.New("invalid run id")
	}
	logger := config.GetLogger()
	db := config.GetDB().WithContext(ctx)

	var run models.DistributionRun
	if err := db.Take(&run, runId).Error; err != nil {
		return err
	}
	if run.Status == models.DistributionRunStatusSuccess ||
		run.Status == models.DistributionRunStatusFailed ||
		run.Status == models.DistributionRunStatusPartial {
		return nil
	}

	skip, err := workflow.BeginIdempotency(db, "distribution_run", fmt.Sprint(runId))
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	var voucherIds []string
	if err := json.Unmarshal(run.VoucherIdsJSON, &voucherIds); err != nil {
		return markRunFailed(db, &run, fmt.Errorf("decode voucher ids: %w", err))
	}

	now := time.Now()
	startedAt := run.StartedAt
	if startedAt == nil {
		startedAt = &now
	}
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.DistributionRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		failRunIdempotency(db, runId, err)
		return err
	}

	var distributable []*models.Voucher
	var skipped []DistributionResult
	for _, id := range utils.UniqueSlice(voucherIds) {
		voucher, err := models.GetVoucher(ctx, id)
		if err != nil {
			config.LogError(logger, "buffrsync", "ProcessRun", "voucher not found", id, err)
			skipped = append(skipped, DistributionResult{Success: false, VoucherId: id, Error: "voucher not found"})
			continue
		}
		if voucher.Status != models.VoucherStatusIssued {
			skipped = append(skipped, DistributionResult{
				Success:   false,
				VoucherId: id,
				Error:     fmt.Sprintf("voucher not distributable in status %s", voucher.Status),
			})
			continue
		}
		distributable = append(distributable, voucher)
	}

	distributor := NewDistributor(partner)
	batch := distributor.DistributeBatch(ctx, distributable, models.GetBeneficiary)
	batch.Results = append(batch.Results, skipped...)
	batch.Total += len(skipped)
	batch.Failed += len(skipped)
	batch.Success = batch.Failed == 0

	for _, result := range batch.Results {
		if !result.Success {
			continue
		}
		if _, err := workflow.UpdateStatus(ctx, result.VoucherId, models.VoucherStatusDelivered, nil,
			models.TriggeredBySystem, map[string]interface{}{"delivery_id": result.DeliveryId, "run_id": runId}); err != nil {
			config.LogError(logger, "buffrsync", "ProcessRun", "mark voucher delivered", result.VoucherId, err)
		}
	}

	finishedAt := time.Now()
	status := models.DistributionRunStatusSuccess
	if batch.Failed > 0 && batch.Successful == 0 {
		status = models.DistributionRunStatusFailed
	} else if batch.Failed > 0 {
		status = models.DistributionRunStatusPartial
	}

	statsJSON, _ := json.Marshal(batch)
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":        status,
		"finished_at":   finishedAt,
		"duration_ms":   finishedAt.Sub(*startedAt).Milliseconds(),
		"total_count":   batch.Total,
		"success_count": batch.Successful,
		"failed_count":  batch.Failed,
		"stats_json":    statsJSON,
	}).Error; err != nil {
		failRunIdempotency(db, runId, err)
		return err
	}

	return workflow.MarkIdempotencySucceeded(db, "distribution_run", fmt.Sprint(runId))
}

// failRunIdempotency moves the run's idempotency key to FAILED so a Pub/Sub
// redelivery retries immediately instead of waiting out the stale window.
func failRunIdempotency(db *gorm.DB, runId uint, cause error) {
	if err := workflow.MarkIdempotencyFailed(db, "distribution_run", fmt.Sprint(runId), cause); err != nil {
		config.LogError(config.GetLogger(), "buffrsync", "ProcessRun", "mark idempotency failed", runId, err)
	}
}

func markRunFailed(db *gorm.DB, run *models.DistributionRun, cause error) error {
	failRunIdempotency(db, run.ID, cause)
	now := time.Now()
	msg, _ := json.Marshal(map[string]string{"error": cause.Error()})
	return db.Model(run).Updates(map[string]interface{}{
		"status":      models.DistributionRunStatusFailed,
		"finished_at": now,
		"stats_json":  msg,
	}).Error
}
