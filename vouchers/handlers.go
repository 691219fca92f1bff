package vouchers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
	"bitbucket.org/mmdatafocus/vouchers_backend/workflow"
	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, err error) {
	c.JSON(utils.HTTPStatus(err), gin.H{"success": false, "error": err.Error()})
}

func issueInputFromRequest(req *IssueRequest) (*workflow.IssueVoucherInput, error) {
	amount, err := utils.ParseDecimal(req.Amount)
	if err != nil {
		return nil, utils.NewValidationError("amount is not a valid decimal")
	}
	expiry, err := utils.ParseDate(req.ExpiryDate)
	if err != nil {
		return nil, utils.NewValidationError("expiry_date must be YYYY-MM-DD or RFC3339")
	}

	input := &workflow.IssueVoucherInput{
		BeneficiaryId: req.BeneficiaryId,
		Amount:        amount,
		GrantType:     req.GrantType,
		Region:        req.Region,
		ExpiryDate:    expiry,
	}
	if req.ScheduledAt != nil && *req.ScheduledAt != "" {
		scheduled, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			return nil, utils.NewValidationError("scheduled_at must be RFC3339")
		}
		scheduled = scheduled.UTC()
		input.ScheduledAt = &scheduled
	}
	return input, nil
}

// IssueHandler creates one voucher in `issued`.
func IssueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IssueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": utils.ProcessValidationErrors(err)})
			return
		}
		input, err := issueInputFromRequest(&req)
		if err != nil {
			respondError(c, err)
			return
		}
		voucher, err := workflow.IssueVoucher(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": toVoucherResponse(voucher)})
	}
}

// BatchIssueHandler validates every item before issuing any of them.
func BatchIssueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BatchIssueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": utils.ProcessValidationErrors(err)})
			return
		}

		inputs := make([]*workflow.IssueVoucherInput, 0, len(req.Vouchers))
		for i := range req.Vouchers {
			input, err := issueInputFromRequest(&req.Vouchers[i])
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Voucher " + strconv.Itoa(i+1) + ": " + err.Error()})
				return
			}
			inputs = append(inputs, input)
		}

		result, err := workflow.IssueBatch(c.Request.Context(), inputs)
		if err != nil {
			respondError(c, err)
			return
		}

		out := make([]VoucherResponse, 0, len(result.Vouchers))
		for _, voucher := range result.Vouchers {
			out = append(out, toVoucherResponse(voucher))
		}
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"data": gin.H{
				"total":      result.Total,
				"successful": result.Successful,
				"failed":     result.Failed,
				"vouchers":   out,
				"errors":     result.Errors,
			},
		})
	}
}

// ListHandler filters and paginates the ledger.
func ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := models.VoucherFilter{
			BeneficiaryId: c.Query("beneficiary_id"),
			Status:        c.Query("status"),
			GrantType:     c.Query("grant_type"),
			Region:        c.Query("region"),
			Search:        c.Query("search"),
		}
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Limit = n
			}
		}
		if v := c.Query("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Offset = n
			}
		}
		if v := c.Query("issued_date"); v != "" {
			date, err := utils.ParseDate(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "issued_date must be YYYY-MM-DD"})
				return
			}
			filter.IssuedDate = &date
		}

		vouchers, total, err := models.ListVouchers(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		out := make([]VoucherResponse, 0, len(vouchers))
		for _, voucher := range vouchers {
			out = append(out, toVoucherResponse(voucher))
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": out, "total": total})
	}
}

// GetHandler returns one voucher with its status history.
func GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		voucher, err := models.GetVoucher(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "voucher not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}

		events, err := workflow.VoucherStatusHistory(ctx, voucher.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		history := make([]StatusEventResponse, 0, len(events))
		for _, event := range events {
			item := StatusEventResponse{
				FromStatus:  event.FromStatus,
				ToStatus:    event.ToStatus,
				TriggeredBy: string(event.TriggeredBy),
				CreatedAt:   event.CreatedAt.UTC().Format(time.RFC3339),
			}
			if len(event.MetadataJSON) > 0 {
				_ = json.Unmarshal(event.MetadataJSON, &item.Metadata)
			}
			history = append(history, item)
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    toVoucherResponse(voucher),
			"history": history,
		})
	}
}

// ExtendHandler pushes the expiry date out for an active voucher.
func ExtendHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExtendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": utils.ProcessValidationErrors(err)})
			return
		}
		expiry, err := utils.ParseDate(req.ExpiryDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "expiry_date must be YYYY-MM-DD or RFC3339"})
			return
		}
		voucher, err := workflow.ExtendExpiry(c.Request.Context(), c.Param("id"), expiry)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": toVoucherResponse(voucher)})
	}
}

func CancelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		voucher, err := workflow.Cancel(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": toVoucherResponse(voucher)})
	}
}

// ReissueHandler creates a replacement voucher, cancelling the original
// unless cancel_old is false.
func ReissueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// An empty body means default expiry and cancel_old=true.
		var req ReissueRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
			return
		}
		var expiry time.Time
		if req.ExpiryDate != "" {
			parsed, err := utils.ParseDate(req.ExpiryDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "expiry_date must be YYYY-MM-DD or RFC3339"})
				return
			}
			expiry = parsed
		}
		voucher, err := workflow.Reissue(c.Request.Context(), c.Param("id"), expiry, req.shouldCancelOld())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": toVoucherResponse(voucher)})
	}
}

func DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := workflow.Delete(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "voucher deleted"})
	}
}

// UpdateStatusHandler applies an externally reported status. It shares the
// webhook dispatch path but records a manual trigger.
func UpdateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": utils.ProcessValidationErrors(err)})
			return
		}

		metadata := map[string]interface{}{}
		if req.Reason != "" {
			metadata["reason"] = req.Reason
		}
		voucher, err := workflow.UpdateStatus(
			c.Request.Context(),
			c.Param("id"),
			models.VoucherStatus(req.Status),
			utils.NilIfEmpty(req.RedemptionMethod),
			models.TriggeredByManual,
			metadata,
		)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": toVoucherResponse(voucher)})
	}
}
