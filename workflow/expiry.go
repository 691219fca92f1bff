package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/models"
)

const expiryWarningWindow = 7 * 24 * time.Hour

// Notifier delivers expiry warnings to beneficiaries. Failures never block
// the sweep.
type Notifier interface {
	NotifyExpiring(ctx context.Context, voucher *models.Voucher, daysLeft int) error
}

type SweepResult struct {
	Scanned  int
	Notified int
	Failed   int
}

// SweepExpiring finds delivered vouchers expiring within the warning window
// and emits one notification per voucher. No status transition happens here;
// expiry itself is reported by the partner.
func SweepExpiring(ctx context.Context, notifier Notifier) (*SweepResult, error) {
	logger := config.GetLogger()
	now := time.Now().UTC()

	vouchers, err := models.VouchersExpiringWithin(ctx, now, expiryWarningWindow)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Scanned: len(vouchers)}
	for _, voucher := range vouchers {
		daysLeft := int(voucher.ExpiryDate.Sub(now).Hours() / 24)
		if err := notifier.NotifyExpiring(ctx, voucher, daysLeft); err != nil {
			result.Failed++
			config.LogError(logger, "workflow", "SweepExpiring", "notify expiring voucher", voucher.ID, err)
			continue
		}
		result.Notified++
	}
	return result, nil
}
