package buffrsync

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"github.com/gin-gonic/gin"
)

func distributionTopic() string {
	if v := strings.TrimSpace(os.Getenv("DISTRIBUTION_TOPIC")); v != "" {
		return v
	}
	return "voucher-distribution"
}

// PublishDistributionRun enqueues a run for the async worker path.
func PublishDistributionRun(ctx context.Context, runId uint) (string, error) {
	return config.PublishJSON(ctx, distributionTopic(), RunPubSubPayload{RunId: runId})
}

// EnsureDistributionTopic creates the topic on startup when
// PUBSUB_CREATE_TOPICS is set. Cloud environments usually provision it out of
// band.
func EnsureDistributionTopic(ctx context.Context) error {
	if strings.TrimSpace(os.Getenv("PUBSUB_CREATE_TOPICS")) == "" {
		return nil
	}
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	_, err = config.CreateTopicIfNotExists(client, distributionTopic())
	return err
}

// PubSubPushHandler receives push deliveries for distribution runs. It always
// returns 204: processing failures are logged and retried through the DB
// idempotency key, never through Pub/Sub redelivery storms.
func PubSubPushHandler(partner PartnerAPI) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		var envelope PubSubPushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			config.LogError(logger, "buffrsync", "PubSubPushHandler", "decode push envelope", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		var payload RunPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			config.LogError(logger, "buffrsync", "PubSubPushHandler", "decode run payload", envelope.Message.MessageId, err)
			c.Status(http.StatusNoContent)
			return
		}

		if err := ProcessRun(c.Request.Context(), partner, payload.RunId); err != nil {
			config.LogError(logger, "buffrsync", "PubSubPushHandler", "process distribution run", payload.RunId, err)
		}
		c.Status(http.StatusNoContent)
	}
}
