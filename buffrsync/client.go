package buffrsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/models"
)

// PartnerAPI is the outbound surface of the disbursement partner. SendVoucher
// reports failures inside the result; CheckStatus and Health return errors.
type PartnerAPI interface {
	SendVoucher(ctx context.Context, voucher *models.Voucher, enrichment Enrichment) SendResult
	CheckStatus(ctx context.Context, voucherId string) (StatusResult, error)
	Health(ctx context.Context) (bool, time.Duration)
}

type buffrClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

// NewBuffrClient builds the production partner client from env. The rate
// limiter tick spreads calls across the partner's per-minute quota.
func NewBuffrClient() (PartnerAPI, error) {
	baseURL := strings.TrimSpace(os.Getenv("BUFFR_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.buffr.io"
	}
	apiKey := strings.TrimSpace(os.Getenv("BUFFR_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("buffr api key is empty")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("BUFFR_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}

	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("BUFFR_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	timeout := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("BUFFR_HTTP_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}

	return &buffrClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: timeout},
		limiter:   time.Tick(interval),
	}, nil
}

func (c *buffrClient) do(ctx context.Context, method string, path string, payload interface{}) ([]byte, int, error) {
	<-c.limiter

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, resp.StatusCode, fmt.Errorf("buffr api error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, resp.StatusCode, nil
}

type sendVoucherPayload struct {
	VoucherId           string `json:"voucherId"`
	VoucherCode         string `json:"voucherCode"`
	Amount              string `json:"amount"`
	GrantType           string `json:"grantType"`
	ExpiryDate          string `json:"expiryDate"`
	BeneficiaryName     string `json:"beneficiaryName"`
	BeneficiaryIdNumber string `json:"beneficiaryIdNumber"`
	Phone               string `json:"phone"`
	PartnerUserId       string `json:"partnerUserId,omitempty"`
	RedemptionToken     string `json:"redemptionToken,omitempty"`
	QrCode              string `json:"qrCode"`
}

func (c *buffrClient) SendVoucher(ctx context.Context, voucher *models.Voucher, enrichment Enrichment) SendResult {
	payload := sendVoucherPayload{
		VoucherId:           voucher.ID,
		VoucherCode:         voucher.VoucherCode,
		Amount:              voucher.Amount.StringFixed(2),
		GrantType:           voucher.GrantType,
		ExpiryDate:          voucher.ExpiryDate.UTC().Format(time.RFC3339),
		BeneficiaryName:     voucher.BeneficiaryName,
		BeneficiaryIdNumber: enrichment.BeneficiaryIdNumber,
		Phone:               enrichment.Phone,
		PartnerUserId:       enrichment.PartnerUserId,
		RedemptionToken:     enrichment.RedemptionToken,
		QrCode:              voucher.QrCode,
	}

	raw, _, err := c.do(ctx, http.MethodPost, "/v1/vouchers/disburse", payload)
	if err != nil {
		return SendResult{Success: false, VoucherId: voucher.ID, Error: err.Error()}
	}

	var parsed struct {
		DeliveryId string `json:"deliveryId"`
	}
	_ = json.Unmarshal(raw, &parsed)
	return SendResult{Success: true, VoucherId: voucher.ID, DeliveryId: parsed.DeliveryId}
}

func (c *buffrClient) CheckStatus(ctx context.Context, voucherId string) (StatusResult, error) {
	raw, _, err := c.do(ctx, http.MethodGet, "/v1/vouchers/"+voucherId+"/status", nil)
	if err != nil {
		return StatusResult{}, err
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Status: strings.ToLower(strings.TrimSpace(parsed.Status)), Raw: raw}, nil
}

func (c *buffrClient) Health(ctx context.Context) (bool, time.Duration) {
	start := time.Now()
	_, _, err := c.do(ctx, http.MethodGet, "/v1/health", nil)
	return err == nil, time.Since(start)
}
