package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Voucher is the ledger-side record of an issued grant voucher.
// BeneficiaryName is a denormalized snapshot taken at issuance; the partner
// keys deliveries off VoucherCode/QrCode. Version backs optimistic locking on
// status transitions.
type Voucher struct {
	ID               string          `gorm:"primary_key;size:36" json:"id"`
	BeneficiaryId    string          `gorm:"size:64;index;not null" json:"beneficiary_id"`
	BeneficiaryName  string          `gorm:"size:255" json:"beneficiary_name"`
	PartnerUserId    *string         `gorm:"size:128" json:"partner_user_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	GrantType        string          `gorm:"size:50;index" json:"grant_type"`
	Status           VoucherStatus   `gorm:"size:20;index;not null" json:"status"`
	Region           string          `gorm:"size:100;index" json:"region"`
	IssuedAt         time.Time       `gorm:"index" json:"issued_at"`
	ExpiryDate       time.Time       `gorm:"index" json:"expiry_date"`
	RedeemedAt       *time.Time      `json:"redeemed_at"`
	RedemptionMethod *string         `gorm:"size:50" json:"redemption_method"`
	VoucherCode      string          `gorm:"size:32;uniqueIndex" json:"voucher_code"`
	QrCode           string          `gorm:"type:text" json:"qr_code"`
	Version          int64           `gorm:"not null;default:0" json:"-"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetVoucher(ctx context.Context, id string) (*Voucher, error) {
	return utils.FetchSingleModel[Voucher](ctx, id)
}

// NewVoucherCode generates a redemption code unique with overwhelming
// probability; callers still verify against the unique index before insert.
func NewVoucherCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "SPV-" + raw[:12]
}

// GenerateUniqueVoucherCode retries until the generated code has no collision
// in the vouchers table.
func GenerateUniqueVoucherCode(ctx context.Context) (string, error) {
	for i := 0; i < 5; i++ {
		code := NewVoucherCode()
		if err := utils.ValidateUnique[Voucher](ctx, "voucher_code", code); err == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique voucher code")
}

type VoucherFilter struct {
	BeneficiaryId string
	Status        string
	GrantType     string
	Region        string
	Search        string
	IssuedDate    *time.Time
	Limit         int
	Offset        int
}

func ListVouchers(ctx context.Context, filter VoucherFilter) ([]*Voucher, int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&Voucher{})

	if filter.BeneficiaryId != "" {
		q = q.Where("beneficiary_id = ?", filter.BeneficiaryId)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.GrantType != "" {
		q = q.Where("grant_type = ?", filter.GrantType)
	}
	if filter.Region != "" {
		q = q.Where("region = ?", filter.Region)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		q = q.Where("beneficiary_name LIKE ? OR voucher_code LIKE ?", like, like)
	}
	if filter.IssuedDate != nil {
		dayStart := filter.IssuedDate.UTC().Truncate(24 * time.Hour)
		q = q.Where("issued_at >= ? AND issued_at < ?", dayStart, dayStart.Add(24*time.Hour))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var vouchers []*Voucher
	if err := q.Order("issued_at DESC").Limit(limit).Offset(filter.Offset).Find(&vouchers).Error; err != nil {
		return nil, 0, err
	}
	return vouchers, total, nil
}

// VouchersIssuedOn returns all vouchers whose IssuedAt falls on the given UTC date.
func VouchersIssuedOn(ctx context.Context, date time.Time) ([]*Voucher, error) {
	db := config.GetDB()
	dayStart := date.UTC().Truncate(24 * time.Hour)
	var vouchers []*Voucher
	err := db.WithContext(ctx).
		Where("issued_at >= ? AND issued_at < ?", dayStart, dayStart.Add(24*time.Hour)).
		Find(&vouchers).Error
	return vouchers, err
}

// VouchersExpiringWithin returns delivered vouchers whose expiry falls in
// [now, now+window).
func VouchersExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*Voucher, error) {
	db := config.GetDB()
	var vouchers []*Voucher
	err := db.WithContext(ctx).
		Where("status = ?", VoucherStatusDelivered).
		Where("expiry_date >= ? AND expiry_date < ?", now, now.Add(window)).
		Find(&vouchers).Error
	return vouchers, err
}

// DeleteVoucherCascade removes the voucher and its dependent audit rows in a
// single transaction. Callers enforce the not-redeemed guard first.
func DeleteVoucherCascade(ctx context.Context, tx *gorm.DB, voucher *Voucher) error {
	if err := tx.WithContext(ctx).
		Where("voucher_id = ?", voucher.ID).
		Delete(&ReconciliationRecord{}).Error; err != nil {
		return err
	}
	if err := tx.WithContext(ctx).
		Where("voucher_id = ?", voucher.ID).
		Delete(&WebhookEvent{}).Error; err != nil {
		return err
	}
	if err := tx.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", EntityTypeVoucher, voucher.ID).
		Delete(&StatusEvent{}).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).Delete(voucher).Error
}
