package vouchers

import (
	"errors"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
	"bitbucket.org/mmdatafocus/vouchers_backend/workflow"
	"github.com/gin-gonic/gin"
)

// GetBeneficiaryHandler returns one registry row.
func GetBeneficiaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		beneficiary, err := models.GetBeneficiary(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "beneficiary not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": beneficiary})
	}
}

// MarkDeceasedHandler flags a beneficiary as deceased. Issuance for them stops
// immediately; their existing vouchers are untouched and follow the normal
// lifecycle.
func MarkDeceasedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")
		now := time.Now().UTC()

		beneficiary, err := models.MarkBeneficiaryDeceased(ctx, id, now)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "beneficiary not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}

		from := models.BeneficiaryStatusActive
		if err := workflow.TrackBeneficiaryEvent(ctx, id, &from, models.BeneficiaryStatusDeceased,
			models.TriggeredByManual, map[string]interface{}{"deceased_at": now.Format(time.RFC3339)}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": beneficiary})
	}
}

// SweepExpiringHandler is the manual trigger for the delivered-voucher expiry
// warning sweep.
func SweepExpiringHandler(notifier workflow.Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := workflow.SweepExpiring(c.Request.Context(), notifier)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"scanned":  result.Scanned,
				"notified": result.Notified,
				"failed":   result.Failed,
			},
		})
	}
}
