package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrVersionConflict signals a lost optimistic-lock race; transitionVoucher
// retries these internally.
var ErrVersionConflict = errors.New("voucher version conflict")

const transitionRetries = 3

// appendStatusEvent writes one audit row inside the caller's transaction.
func appendStatusEvent(tx *gorm.DB, entityType models.EntityType, entityId string, fromStatus *string, toStatus string, triggeredBy models.TriggeredBy, metadata map[string]interface{}) error {
	var metaJSON []byte
	if len(metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return err
		}
	}
	event := models.StatusEvent{
		ID:           uuid.NewString(),
		EntityType:   entityType,
		EntityId:     entityId,
		FromStatus:   fromStatus,
		ToStatus:     toStatus,
		TriggeredBy:  triggeredBy,
		MetadataJSON: metaJSON,
	}
	return tx.Create(&event).Error
}

// transitionVoucher applies a guarded mutation to one voucher atomically:
// read, guard, update with a version compare-and-swap, append the audit
// event. A losing writer retries with a fresh read instead of overwriting.
func transitionVoucher(
	ctx context.Context,
	voucherId string,
	guard func(v *models.Voucher) error,
	mutate func(v *models.Voucher) map[string]interface{},
	triggeredBy models.TriggeredBy,
	metadata map[string]interface{},
) (*models.Voucher, error) {
	db := config.GetDB()

	var result *models.Voucher
	for attempt := 0; attempt < transitionRetries; attempt++ {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var voucher models.Voucher
			if err := tx.Where("id = ?", voucherId).First(&voucher).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return utils.NewNotFoundError("voucher %s not found", voucherId)
				}
				return utils.NewPersistenceError("load voucher", err)
			}

			if guard != nil {
				if err := guard(&voucher); err != nil {
					return err
				}
			}

			updates := mutate(&voucher)
			if updates == nil {
				updates = map[string]interface{}{}
			}
			fromStatus := string(voucher.Status)
			updates["version"] = voucher.Version + 1

			res := tx.Model(&models.Voucher{}).
				Where("id = ? AND version = ?", voucher.ID, voucher.Version).
				Updates(updates)
			if res.Error != nil {
				return utils.NewPersistenceError("update voucher", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrVersionConflict
			}

			toStatus := fromStatus
			if v, ok := updates["status"]; ok {
				switch s := v.(type) {
				case models.VoucherStatus:
					toStatus = string(s)
				case string:
					toStatus = s
				}
			}
			if err := appendStatusEvent(tx, models.EntityTypeVoucher, voucher.ID, &fromStatus, toStatus, triggeredBy, metadata); err != nil {
				return utils.NewPersistenceError("append status event", err)
			}

			var fresh models.Voucher
			if err := tx.Where("id = ?", voucher.ID).First(&fresh).Error; err != nil {
				return utils.NewPersistenceError("reload voucher", err)
			}
			result = &fresh
			return nil
		})
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return nil, utils.NewStateConflictError("voucher %s is being updated concurrently", voucherId)
}

// TrackBeneficiaryEvent appends an audit event for a beneficiary subject.
func TrackBeneficiaryEvent(ctx context.Context, beneficiaryId string, fromStatus *string, toStatus string, triggeredBy models.TriggeredBy, metadata map[string]interface{}) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return appendStatusEvent(tx, models.EntityTypeBeneficiary, beneficiaryId, fromStatus, toStatus, triggeredBy, metadata)
	})
}

// VoucherStatusHistory returns the audit trail for one voucher in apply order.
func VoucherStatusHistory(ctx context.Context, voucherId string) ([]*models.StatusEvent, error) {
	db := config.GetDB()
	var events []*models.StatusEvent
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", models.EntityTypeVoucher, voucherId).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	return events, err
}
