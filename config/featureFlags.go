package config

import (
	"os"
	"strings"
)

func envBool(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// EnforceWebhookSignature rejects partner webhooks whose HMAC signature does not
// verify. When off (integration environments), a bad signature is logged and the
// event is still processed.
//
// Set via env:
// - ENFORCE_WEBHOOK_SIGNATURE=true
func EnforceWebhookSignature() bool {
	return envBool("ENFORCE_WEBHOOK_SIGNATURE")
}

// WebhookSigningSecret is the shared secret for partner webhook HMAC verification.
func WebhookSigningSecret() string {
	return strings.TrimSpace(os.Getenv("BUFFR_WEBHOOK_SECRET"))
}

// DistributionPubSubEnabled routes queued distribution runs through Pub/Sub.
// When off, runs created via the REST surface are processed inline.
//
// Set via env:
// - DISTRIBUTION_PUBSUB_ENABLED=true
func DistributionPubSubEnabled() bool {
	return envBool("DISTRIBUTION_PUBSUB_ENABLED")
}

// ExpirySweepEnabled turns the background expiry-warning ticker on.
//
// Set via env:
// - EXPIRY_SWEEP_ENABLED=true
func ExpirySweepEnabled() bool {
	return envBool("EXPIRY_SWEEP_ENABLED")
}
