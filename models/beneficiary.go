package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
)

// Beneficiary is a grant recipient registered with the issuing system.
// PartnerUserId is the wallet account reference at the disbursement partner,
// set once the beneficiary has onboarded there.
type Beneficiary struct {
	ID            string     `gorm:"primary_key;size:64" json:"id"`
	Name          string     `gorm:"size:255;not null" json:"name"`
	Phone         string     `gorm:"size:30" json:"phone"`
	IdNumber      string     `gorm:"size:64;index" json:"id_number"`
	Region        string     `gorm:"size:100;index" json:"region"`
	GrantType     string     `gorm:"size:50;index" json:"grant_type"`
	Status        string     `gorm:"size:20;not null;default:active" json:"status"`
	PartnerUserId *string    `gorm:"size:128" json:"partner_user_id"`
	DeceasedAt    *time.Time `json:"deceased_at"`
	EnrolledAt    *time.Time `json:"enrolled_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *Beneficiary) IsDeceased() bool {
	return b.DeceasedAt != nil || b.Status == BeneficiaryStatusDeceased
}

func GetBeneficiary(ctx context.Context, id string) (*Beneficiary, error) {
	return utils.FetchSingleModel[Beneficiary](ctx, id)
}

// MarkBeneficiaryDeceased stamps DeceasedAt and flips the status. The caller
// records the audit event.
func MarkBeneficiaryDeceased(ctx context.Context, id string, at time.Time) (*Beneficiary, error) {
	db := config.GetDB()
	beneficiary, err := utils.FetchSingleModel[Beneficiary](ctx, id)
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(beneficiary).Updates(map[string]interface{}{
		"deceased_at": at,
		"status":      BeneficiaryStatusDeceased,
	}).Error; err != nil {
		return nil, err
	}
	return beneficiary, nil
}
