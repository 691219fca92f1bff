package buffrsync

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeCache struct {
	mu        sync.Mutex
	claimed   map[string]bool
	responses map[string]*CachedResponse
}

func newFakeCache() *fakeCache {
	return &fakeCache{claimed: map[string]bool{}, responses: map[string]*CachedResponse{}}
}

func (f *fakeCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func (f *fakeCache) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claimed, key)
	return nil
}

func (f *fakeCache) GetResponse(ctx context.Context, key string) (*CachedResponse, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.responses[key]
	return resp, ok, nil
}

func (f *fakeCache) SetResponse(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[key] = resp
	return nil
}

func TestIdempotencyKeyFromHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   string
	}{
		{"canonical", http.Header{"Idempotency-Key": {"k-1"}}, "k-1"},
		{"legacy alias", http.Header{"X-Idempotency-Key": {"k-2"}}, "k-2"},
		{"whitespace trimmed", http.Header{"Idempotency-Key": {"  k-3 "}}, "k-3"},
		{"absent", http.Header{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IdempotencyKeyFromHeaders(tt.header); got != tt.want {
				t.Errorf("IdempotencyKeyFromHeaders() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeriveIdempotencyKeyIsDeterministic(t *testing.T) {
	req := &WebhookRequest{
		Event:     "voucher.redeemed",
		Data:      WebhookData{VoucherId: "v-1", Status: "redeemed"},
		Timestamp: "2026-08-27T10:00:00Z",
	}
	a := DeriveIdempotencyKey(req)
	b := DeriveIdempotencyKey(req)
	if a != b {
		t.Fatalf("same payload derived different keys: %s vs %s", a, b)
	}

	other := &WebhookRequest{
		Event:     "voucher.redeemed",
		Data:      WebhookData{VoucherId: "v-2", Status: "redeemed"},
		Timestamp: "2026-08-27T10:00:00Z",
	}
	if DeriveIdempotencyKey(other) == a {
		t.Error("distinct payloads derived the same key")
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "shh"
	body := []byte(`{"event":"voucher.redeemed"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	good := hex.EncodeToString(mac.Sum(nil))

	tests := []struct {
		name      string
		signature string
		secret    string
		want      bool
	}{
		{"valid", good, secret, true},
		{"valid with whitespace", " " + good + " ", secret, true},
		{"wrong signature", "deadbeef", secret, false},
		{"empty signature", "", secret, false},
		{"empty secret", good, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(body, tt.signature, tt.secret); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func webhookTestRouter(cache IdempotencyCache) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/buffr", WebhookHandler(cache))
	return r
}

func TestWebhookHandlerRejectsMalformedPayload(t *testing.T) {
	r := webhookTestRouter(newFakeCache())

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{nope"},
		{"missing event", `{"data":{"voucher_id":"v-1"}}`},
		{"missing voucher id", `{"event":"voucher.redeemed","data":{}}`},
		{"camelCase voucher id", `{"event":"voucher.redeemed","data":{"voucherId":"v-1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/webhooks/buffr", bytes.NewBufferString(tt.body))
			r.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestWebhookHandlerReplaysCachedResponse(t *testing.T) {
	cache := newFakeCache()
	r := webhookTestRouter(cache)

	body := `{"event":"voucher.redeemed","data":{"voucher_id":"v-1","status":"redeemed"},"timestamp":"2026-08-27T10:00:00Z"}`
	cached := []byte(`{"success":true,"event_id":"evt-1"}`)

	// Simulate a completed first delivery.
	key := "k-duplicate"
	cache.claimed[key] = true
	cache.responses[key] = &CachedResponse{Status: http.StatusOK, Body: cached}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/buffr", bytes.NewBufferString(body))
	req.Header.Set("Idempotency-Key", key)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != string(cached) {
		t.Errorf("body = %s, want replayed %s", w.Body.String(), cached)
	}
}

func TestWebhookHandlerAcksInFlightDuplicate(t *testing.T) {
	cache := newFakeCache()
	r := webhookTestRouter(cache)

	// Claimed but no cached response yet: first delivery is still in flight.
	key := "k-inflight"
	cache.claimed[key] = true

	body := `{"event":"voucher.redeemed","data":{"voucher_id":"v-1","status":"redeemed"},"timestamp":"2026-08-27T10:00:00Z"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/buffr", bytes.NewBufferString(body))
	req.Header.Set("Idempotency-Key", key)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"duplicate":true`)) {
		t.Errorf("body = %s, want duplicate ack", w.Body.String())
	}
}

func TestWebhookHandlerEnforcesSignature(t *testing.T) {
	t.Setenv("ENFORCE_WEBHOOK_SIGNATURE", "true")
	t.Setenv("BUFFR_WEBHOOK_SECRET", "shh")

	cache := newFakeCache()
	r := webhookTestRouter(cache)

	body := `{"event":"voucher.redeemed","data":{"voucher_id":"v-1","status":"redeemed"},"timestamp":"2026-08-27T10:00:00Z"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/buffr", bytes.NewBufferString(body))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestWebhookHandlerRetriesAfterRejectedSignature(t *testing.T) {
	t.Setenv("ENFORCE_WEBHOOK_SIGNATURE", "true")
	t.Setenv("BUFFR_WEBHOOK_SECRET", "shh")

	cache := newFakeCache()
	r := webhookTestRouter(cache)

	key := "k-retry"
	body := `{"event":"voucher.redeemed","data":{"voucher_id":"v-1","status":"redeemed"},"timestamp":"2026-08-27T10:00:00Z"}`

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/buffr", bytes.NewBufferString(body))
		req.Header.Set("Idempotency-Key", key)
		req.Header.Set("X-Webhook-Signature", "deadbeef")
		r.ServeHTTP(w, req)
		return w
	}

	if w := send(); w.Code != http.StatusUnauthorized {
		t.Fatalf("first delivery status = %d, want 401", w.Code)
	}
	if cache.claimed[key] {
		t.Error("rejected delivery left the idempotency key claimed")
	}
	if _, ok := cache.responses[key]; ok {
		t.Error("rejected delivery cached a response")
	}

	// The partner's redelivery must be reprocessed, not swallowed as a
	// duplicate of the rejected attempt.
	if w := send(); w.Code != http.StatusUnauthorized {
		t.Fatalf("redelivery status = %d, want 401", w.Code)
	}
}

func TestWebhookAcceptedBodyEnvelope(t *testing.T) {
	body := webhookAcceptedBody("evt-1", "k-1")
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	if msg, _ := body["message"].(string); msg == "" {
		t.Error("message is empty")
	}
	data, ok := body["data"].(gin.H)
	if !ok {
		t.Fatalf("data = %T, want gin.H", body["data"])
	}
	if data["webhookEventId"] != "evt-1" {
		t.Errorf("webhookEventId = %v", data["webhookEventId"])
	}
	if data["idempotencyKey"] != "k-1" {
		t.Errorf("idempotencyKey = %v", data["idempotencyKey"])
	}
}
