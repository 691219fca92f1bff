package models

// VoucherStatus is the lifecycle state of a voucher. Terminal states are
// Redeemed, Cancelled and Expired.
type VoucherStatus string

const (
	VoucherStatusIssued    VoucherStatus = "issued"
	VoucherStatusDelivered VoucherStatus = "delivered"
	VoucherStatusRedeemed  VoucherStatus = "redeemed"
	VoucherStatusCancelled VoucherStatus = "cancelled"
	VoucherStatusExpired   VoucherStatus = "expired"
	VoucherStatusFailed    VoucherStatus = "failed"
)

func (s VoucherStatus) IsValid() bool {
	switch s {
	case VoucherStatusIssued, VoucherStatusDelivered, VoucherStatusRedeemed,
		VoucherStatusCancelled, VoucherStatusExpired, VoucherStatusFailed:
		return true
	}
	return false
}

func (s VoucherStatus) IsTerminal() bool {
	switch s {
	case VoucherStatusRedeemed, VoucherStatusCancelled, VoucherStatusExpired:
		return true
	}
	return false
}

// TriggeredBy records what caused a status transition.
type TriggeredBy string

const (
	TriggeredBySystem  TriggeredBy = "system"
	TriggeredByWebhook TriggeredBy = "webhook"
	TriggeredByManual  TriggeredBy = "manual"
)

// EntityType is the subject kind of a status event.
type EntityType string

const (
	EntityTypeVoucher     EntityType = "voucher"
	EntityTypeBeneficiary EntityType = "beneficiary"
)

// DeliveryStatus is the processing outcome recorded on a webhook audit row.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

const (
	BeneficiaryStatusActive   = "active"
	BeneficiaryStatusInactive = "inactive"
	BeneficiaryStatusDeceased = "deceased"
)

const (
	DistributionRunStatusQueued  = "queued"
	DistributionRunStatusRunning = "running"
	DistributionRunStatusSuccess = "success"
	DistributionRunStatusFailed  = "failed"
	DistributionRunStatusPartial = "partial"
)

const (
	RunTriggeredManual = "manual"
	RunTriggeredRetry  = "retry"
	RunTriggeredSystem = "system"
)
