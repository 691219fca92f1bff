package buffrsync

import (
	"encoding/json"
	"time"
)

// WebhookRequest is the partner's push payload: {event, data, timestamp}.
type WebhookRequest struct {
	Event     string      `json:"event"`
	Data      WebhookData `json:"data"`
	Timestamp string      `json:"timestamp"`
}

type WebhookData struct {
	VoucherId        string `json:"voucher_id"`
	Status           string `json:"status"`
	RedemptionMethod string `json:"redemption_method"`
	Reason           string `json:"reason"`
	Timestamp        string `json:"timestamp"`
}

// CachedResponse is the replayed (status, body) pair for a duplicate webhook.
type CachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// SendResult is the partner's answer to a disbursement request. Failures are
// carried in the result, never as a panic.
type SendResult struct {
	Success    bool   `json:"success"`
	VoucherId  string `json:"voucherId"`
	DeliveryId string `json:"deliveryId"`
	Error      string `json:"error"`
}

// StatusResult is the partner's view of one voucher.
type StatusResult struct {
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"raw"`
}

// Enrichment is the beneficiary detail attached to a disbursement request.
type Enrichment struct {
	BeneficiaryIdNumber string `json:"beneficiaryIdNumber"`
	Phone               string `json:"phone"`
	PartnerUserId       string `json:"partnerUserId"`
	RedemptionToken     string `json:"redemptionToken"`
}

type DistributionResult struct {
	Success    bool   `json:"success"`
	VoucherId  string `json:"voucher_id"`
	DeliveryId string `json:"delivery_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

type BatchResult struct {
	Success    bool                 `json:"success"`
	Total      int                  `json:"total"`
	Successful int                  `json:"successful"`
	Failed     int                  `json:"failed"`
	Results    []DistributionResult `json:"results"`
}

// Report summarises one reconciliation run.
type Report struct {
	Date          string                    `json:"date"`
	TotalVouchers int                       `json:"total_vouchers"`
	Matched       int                       `json:"matched"`
	Discrepancies int                       `json:"discrepancies"`
	MatchRate     float64                   `json:"match_rate"`
	Records       []ReconciliationRecordDTO `json:"records"`
}

type ReconciliationRecordDTO struct {
	VoucherId      string  `json:"voucher_id"`
	Date           string  `json:"date"`
	LedgerStatus   string  `json:"ledger_status"`
	PartnerStatus  string  `json:"partner_status"`
	Match          bool    `json:"match"`
	Discrepancy    *string `json:"discrepancy,omitempty"`
	LastVerifiedAt string  `json:"last_verified_at"`
}

type RunPubSubPayload struct {
	RunId uint `json:"run_id"`
}

// PubSubPushEnvelope is the Google Pub/Sub push delivery wrapper.
type PubSubPushEnvelope struct {
	Message struct {
		Data        []byte `json:"data"`
		MessageId   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type TriggerRunRequest struct {
	VoucherIds []string `json:"voucher_ids" binding:"required,min=1"`
}

type RunResponse struct {
	ID           uint    `json:"id"`
	Status       string  `json:"status"`
	TriggeredBy  string  `json:"triggered_by"`
	TotalCount   int     `json:"total_count"`
	SuccessCount int     `json:"success_count"`
	FailedCount  int     `json:"failed_count"`
	StartedAt    *string `json:"started_at"`
	FinishedAt   *string `json:"finished_at"`
	DurationMs   int64   `json:"duration_ms"`
}

type VerifyRequest struct {
	Date string `json:"date" binding:"required"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
