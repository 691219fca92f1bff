package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/buffrsync"
	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
	"bitbucket.org/mmdatafocus/vouchers_backend/vouchers"
	"bitbucket.org/mmdatafocus/vouchers_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("vouchers-backend")

// RateLimiter throttles by client IP using a fixed Redis window.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// logNotifier records expiry warnings; SMS delivery to beneficiaries is owned
// by the disbursement partner.
type logNotifier struct {
	logger *logrus.Logger
}

func (n *logNotifier) NotifyExpiring(ctx context.Context, voucher *models.Voucher, daysLeft int) error {
	n.logger.WithFields(logrus.Fields{
		"voucher_id":     voucher.ID,
		"voucher_code":   voucher.VoucherCode,
		"beneficiary_id": voucher.BeneficiaryId,
		"days_left":      daysLeft,
	}).Info("voucher expiring soon")
	return nil
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func registerRoutes(r *gin.Engine, partner buffrsync.PartnerAPI, notifier workflow.Notifier) {
	webhookCache := buffrsync.NewRedisIdempotencyCache()
	reconciler := buffrsync.NewReconciler(partner, buffrsync.NewDBReconStore())

	api := r.Group("/api/v1")

	v := api.Group("/vouchers")
	v.POST("", vouchers.IssueHandler())
	v.POST("/batch", vouchers.BatchIssueHandler())
	v.GET("", vouchers.ListHandler())
	v.GET("/:id", vouchers.GetHandler())
	v.PATCH("/:id/extend", vouchers.ExtendHandler())
	v.PATCH("/:id/cancel", vouchers.CancelHandler())
	v.POST("/:id/reissue", vouchers.ReissueHandler())
	v.DELETE("/:id", vouchers.DeleteHandler())
	v.PUT("/:id/status", vouchers.UpdateStatusHandler())
	v.POST("/expiry-sweep", vouchers.SweepExpiringHandler(notifier))

	b := api.Group("/beneficiaries")
	b.GET("/:id", vouchers.GetBeneficiaryHandler())
	b.PATCH("/:id/deceased", vouchers.MarkDeceasedHandler())

	w := api.Group("/webhooks")
	w.POST("/buffr", buffrsync.WebhookHandler(webhookCache))
	w.POST("/:id/retry", buffrsync.RetryWebhookHandler())
	w.GET("", buffrsync.ListWebhooksHandler())
	w.GET("/:id", buffrsync.GetWebhookHandler())

	rec := api.Group("/reconciliation")
	rec.POST("/verify", buffrsync.VerifyHandler(reconciler))
	rec.GET("/records", buffrsync.RecordsHandler())
	rec.GET("/records/export", buffrsync.ExportRecordsHandler())

	d := api.Group("/distribution")
	d.POST("/runs", buffrsync.TriggerRunHandler(partner))
	d.GET("/runs", buffrsync.RunsHistoryHandler())
	d.GET("/runs/:id", buffrsync.RunDetailHandler())
	d.POST("/runs/:id/retry", buffrsync.RetryRunHandler(partner))

	r.GET("/healthz/partner", buffrsync.PartnerHealthHandler(partner))

	// Pub/Sub push subscription endpoint for async distribution runs.
	r.POST("/pubsub/distribution", buffrsync.PubSubPushHandler(partner))

	r.NoRoute(customNotFoundHandler)
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-Webhook-Signature")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	partner, err := buffrsync.NewBuffrClient()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "buffr"}).Fatal("partner client init failed: " + err.Error())
	}
	notifier := &logNotifier{logger: logger}
	registerRoutes(r, partner, notifier)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	if config.DistributionPubSubEnabled() {
		if err := buffrsync.EnsureDistributionTopic(context.Background()); err != nil {
			logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("could not ensure distribution topic: " + err.Error())
		}
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	// Background expiry sweep.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	if config.ExpirySweepEnabled() {
		go runExpirySweep(sweepCtx, logger, notifier)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/api/v1")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelSweep()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// runExpirySweep scans once a day for delivered vouchers close to expiry.
func runExpirySweep(ctx context.Context, logger *logrus.Logger, notifier workflow.Notifier) {
	interval := 24 * time.Hour
	if v := strings.TrimSpace(os.Getenv("EXPIRY_SWEEP_INTERVAL_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = time.Duration(n) * time.Hour
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, span := tracer.Start(ctx, "expiry-sweep")
			result, err := workflow.SweepExpiring(sweepCtx, notifier)
			span.End()
			if err != nil {
				config.LogError(logger, "server.go", "runExpirySweep", "sweep expiring vouchers", nil, err)
				continue
			}
			logger.WithFields(logrus.Fields{
				"scanned":  result.Scanned,
				"notified": result.Notified,
				"failed":   result.Failed,
			}).Info("expiry sweep finished")
		}
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP()

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
