package buffrsync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
	"bitbucket.org/mmdatafocus/vouchers_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const webhookCacheTTL = 24 * time.Hour

// voucherEventStatus maps partner event names to ledger statuses.
var voucherEventStatus = map[string]models.VoucherStatus{
	"voucher.redeemed":  models.VoucherStatusRedeemed,
	"voucher.expired":   models.VoucherStatusExpired,
	"voucher.delivered": models.VoucherStatusDelivered,
	"voucher.cancelled": models.VoucherStatusCancelled,
	"voucher.failed":    models.VoucherStatusFailed,
}

// IdempotencyCache claims webhook keys and stores replayable responses.
// Claim must be atomic: exactly one caller per key wins until the TTL lapses.
// Release returns a claimed key so the partner's retry can reprocess.
type IdempotencyCache interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	GetResponse(ctx context.Context, key string) (*CachedResponse, bool, error)
	SetResponse(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
}

type redisIdempotencyCache struct{}

// NewRedisIdempotencyCache returns the production cache backed by the global
// Redis client.
func NewRedisIdempotencyCache() IdempotencyCache {
	return &redisIdempotencyCache{}
}

func (redisIdempotencyCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return config.ClaimRedisKey(ctx, "webhook:claim:"+key, "1", ttl)
}

func (redisIdempotencyCache) Release(ctx context.Context, key string) error {
	return config.RemoveRedisKey("webhook:claim:" + key)
}

func (redisIdempotencyCache) GetResponse(ctx context.Context, key string) (*CachedResponse, bool, error) {
	var resp CachedResponse
	exists, err := config.GetRedisObject("webhook:resp:"+key, &resp)
	if err != nil || !exists {
		return nil, false, err
	}
	return &resp, true, nil
}

func (redisIdempotencyCache) SetResponse(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	return config.SetRedisObject("webhook:resp:"+key, resp, ttl)
}

// IdempotencyKeyFromHeaders returns the client-supplied key, trying the
// documented header and its legacy aliases.
func IdempotencyKeyFromHeaders(h http.Header) string {
	for _, name := range []string{"Idempotency-Key", "idempotency-key", "X-Idempotency-Key"} {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// DeriveIdempotencyKey builds a deterministic fallback key from the event
// payload so byte-identical retries without a header still deduplicate.
func DeriveIdempotencyKey(req *WebhookRequest) string {
	seed := fmt.Sprintf("webhook:%s:%s:%s", req.Data.VoucherId, req.Data.Status, req.Timestamp)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks the hex HMAC-SHA256 of the raw body against the
// shared secret. An empty secret never verifies.
func VerifySignature(rawBody []byte, signature string, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) == 1
}

// WebhookHandler ingests partner voucher events:
// idempotency claim before side effects, signature verification, an
// unconditional audit row, then the status dispatch. The final response is
// cached so duplicates replay it verbatim.
func WebhookHandler(cache IdempotencyCache) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		rawBody, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unreadable body"})
			return
		}

		var req WebhookRequest
		if err := json.Unmarshal(rawBody, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid payload"})
			return
		}
		if req.Event == "" || req.Data.VoucherId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "event and data.voucher_id are required"})
			return
		}

		key := IdempotencyKeyFromHeaders(c.Request.Header)
		if key == "" {
			key = DeriveIdempotencyKey(&req)
		}

		ctx := utils.SetIdempotencyKeyInContext(c.Request.Context(), key)
		ctx = utils.SetTriggeredByInContext(ctx, string(models.TriggeredByWebhook))
		claimed, err := cache.Claim(ctx, key, webhookCacheTTL)
		if err != nil {
			config.LogError(logger, "buffrsync", "WebhookHandler", "idempotency claim", key, err)
		} else if !claimed {
			if cached, ok, _ := cache.GetResponse(ctx, key); ok {
				c.Data(cached.Status, "application/json", cached.Body)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "duplicate": true})
			return
		}

		releaseClaim := func() {
			if !claimed {
				return
			}
			if err := cache.Release(ctx, key); err != nil {
				config.LogError(logger, "buffrsync", "WebhookHandler", "release idempotency claim", key, err)
			}
		}

		signature := c.GetHeader("X-Webhook-Signature")
		sigValid := VerifySignature(rawBody, signature, config.WebhookSigningSecret())
		if !sigValid {
			if config.EnforceWebhookSignature() {
				// Nothing was processed: free the key so a correctly signed
				// retry is not swallowed as a duplicate.
				releaseClaim()
				c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid signature"})
				return
			}
			logger.WithField("voucher_id", req.Data.VoucherId).Warn("webhook signature did not verify; processing anyway")
		}

		status, body := processWebhook(ctx, &req, rawBody, sigValid)

		if status < http.StatusInternalServerError {
			raw, _ := json.Marshal(body)
			if err := cache.SetResponse(ctx, key, &CachedResponse{Status: status, Body: raw}, webhookCacheTTL); err != nil {
				config.LogError(logger, "buffrsync", "WebhookHandler", "cache response", key, err)
			}
		} else {
			releaseClaim()
		}
		c.JSON(status, body)
	}
}

// processWebhook persists the audit row and applies the event. The audit row
// is written before dispatch so a processing failure still leaves a trace.
func processWebhook(ctx context.Context, req *WebhookRequest, rawBody []byte, sigValid bool) (int, gin.H) {
	logger := config.GetLogger()
	db := config.GetDB()

	now := time.Now().UTC()
	event := models.WebhookEvent{
		ID:               uuid.NewString(),
		EventType:        req.Event,
		VoucherId:        req.Data.VoucherId,
		DeliveryStatus:   models.DeliveryStatusPending,
		DeliveryAttempts: 1,
		LastAttemptAt:    &now,
		SignatureValid:   sigValid,
		Payload:          rawBody,
	}
	if err := db.WithContext(ctx).Create(&event).Error; err != nil {
		key, _ := utils.GetIdempotencyKeyFromContext(ctx)
		config.LogError(logger, "buffrsync", "processWebhook", "persist webhook audit", map[string]string{
			"voucher_id":      req.Data.VoucherId,
			"idempotency_key": key,
		}, err)
		return http.StatusInternalServerError, gin.H{"success": false, "error": "could not persist webhook event"}
	}

	if err := applyVoucherEvent(ctx, req); err != nil {
		markWebhookFailed(ctx, db, &event, err)
		if utils.IsKind(err, utils.KindNotFound) {
			return http.StatusNotFound, gin.H{"success": false, "error": err.Error()}
		}
		return http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()}
	}

	deliveredAt := time.Now().UTC()
	if err := db.WithContext(ctx).Model(&event).Updates(map[string]interface{}{
		"delivery_status": models.DeliveryStatusDelivered,
		"delivered_at":    deliveredAt,
	}).Error; err != nil {
		config.LogError(logger, "buffrsync", "processWebhook", "mark webhook delivered", event.ID, err)
	}

	key, _ := utils.GetIdempotencyKeyFromContext(ctx)
	return http.StatusOK, webhookAcceptedBody(event.ID, key)
}

// webhookAcceptedBody is the documented success envelope for an ingested event.
func webhookAcceptedBody(eventId string, idempotencyKey string) gin.H {
	return gin.H{
		"success": true,
		"message": "webhook processed",
		"data": gin.H{
			"webhookEventId": eventId,
			"idempotencyKey": idempotencyKey,
		},
	}
}

// applyVoucherEvent dispatches one event to the status monitor. Unknown
// events are acknowledged without a transition; the audit row still records
// them.
func applyVoucherEvent(ctx context.Context, req *WebhookRequest) error {
	logger := config.GetLogger()

	newStatus, known := voucherEventStatus[req.Event]
	if !known {
		logger.WithField("event", req.Event).Info("ignoring unknown webhook event")
		return nil
	}

	metadata := map[string]interface{}{"event": req.Event}
	if req.Data.Reason != "" {
		metadata["reason"] = req.Data.Reason
	}
	if req.Data.Timestamp != "" {
		metadata["partner_timestamp"] = req.Data.Timestamp
	}

	var redemptionMethod *string
	if req.Data.RedemptionMethod != "" {
		redemptionMethod = &req.Data.RedemptionMethod
	}

	_, err := workflow.UpdateStatus(ctx, req.Data.VoucherId, newStatus, redemptionMethod, models.TriggeredByWebhook, metadata)
	return err
}

func markWebhookFailed(ctx context.Context, db *gorm.DB, event *models.WebhookEvent, cause error) {
	logger := config.GetLogger()
	msg := cause.Error()
	if err := db.WithContext(ctx).Model(event).Updates(map[string]interface{}{
		"delivery_status": models.DeliveryStatusFailed,
		"error_message":   msg,
	}).Error; err != nil {
		config.LogError(logger, "buffrsync", "markWebhookFailed", "update webhook audit", event.ID, err)
	}
}

// RetryWebhookHandler re-applies a stored failed event. Already delivered
// events cannot be retried.
func RetryWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctx := c.Request.Context()
		db := config.GetDB()

		var event models.WebhookEvent
		if err := db.WithContext(ctx).Where("id = ?", id).Take(&event).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "webhook event not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		if event.DeliveryStatus == models.DeliveryStatusDelivered {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "webhook event already delivered"})
			return
		}

		var req WebhookRequest
		if err := json.Unmarshal(event.Payload, &req); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "stored payload is not replayable"})
			return
		}

		now := time.Now().UTC()
		if err := db.WithContext(ctx).Model(&event).Updates(map[string]interface{}{
			"delivery_attempts": event.DeliveryAttempts + 1,
			"last_attempt_at":   now,
		}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}

		if err := applyVoucherEvent(ctx, &req); err != nil {
			markWebhookFailed(ctx, db, &event, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}

		if err := db.WithContext(ctx).Model(&event).Updates(map[string]interface{}{
			"delivery_status": models.DeliveryStatusDelivered,
			"delivered_at":    now,
			"error_message":   nil,
		}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "event_id": event.ID})
	}
}

// ListWebhooksHandler exposes the filtered, paginated audit trail.
func ListWebhooksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := models.WebhookEventFilter{
			EventType:      c.Query("event_type"),
			VoucherId:      c.Query("voucher_id"),
			DeliveryStatus: c.Query("delivery_status"),
			Limit:          queryInt(c, "limit", 0),
			Offset:         queryInt(c, "offset", 0),
		}
		events, total, err := models.ListWebhookEvents(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": events, "total": total})
	}
}

func GetWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		var event models.WebhookEvent
		if err := db.WithContext(c.Request.Context()).Where("id = ?", c.Param("id")).Take(&event).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "webhook event not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": event})
	}
}
