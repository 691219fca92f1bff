package buffrsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

func queryInt(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func runResponse(run *models.DistributionRun) RunResponse {
	return RunResponse{
		ID:           run.ID,
		Status:       run.Status,
		TriggeredBy:  run.TriggeredBy,
		TotalCount:   run.TotalCount,
		SuccessCount: run.SuccessCount,
		FailedCount:  run.FailedCount,
		StartedAt:    formatTime(run.StartedAt),
		FinishedAt:   formatTime(run.FinishedAt),
		DurationMs:   run.DurationMs,
	}
}

// TriggerRunHandler creates a queued distribution run. When the Pub/Sub path
// is enabled the run is published for the worker; otherwise it executes
// inline before responding.
func TriggerRunHandler(partner PartnerAPI) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		var req TriggerRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": utils.ProcessValidationErrors(err)})
			return
		}

		ctx := c.Request.Context()
		voucherIds := utils.UniqueSlice(req.VoucherIds)
		idsJSON, _ := json.Marshal(voucherIds)
		run := models.DistributionRun{
			Status:         models.DistributionRunStatusQueued,
			TriggeredBy:    string(models.RunTriggeredManual),
			VoucherIdsJSON: idsJSON,
			TotalCount:     len(voucherIds),
		}
		if err := config.GetDB().WithContext(ctx).Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}

		if config.DistributionPubSubEnabled() {
			if _, err := PublishDistributionRun(ctx, run.ID); err != nil {
				config.LogError(logger, "buffrsync", "TriggerRunHandler", "publish run", run.ID, err)
				c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "could not enqueue distribution run"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"success": true, "data": runResponse(&run)})
			return
		}

		if err := ProcessRun(ctx, partner, run.ID); err != nil {
			config.LogError(logger, "buffrsync", "TriggerRunHandler", "process run inline", run.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		fresh, err := models.GetDistributionRun(ctx, run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": runResponse(fresh)})
	}
}

func RunsHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, total, err := models.ListDistributionRuns(c.Request.Context(), queryInt(c, "limit", 0), queryInt(c, "offset", 0))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		out := make([]RunResponse, 0, len(runs))
		for _, run := range runs {
			out = append(out, runResponse(run))
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": out, "total": total})
	}
}

func RunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid run id"})
			return
		}
		run, err := models.GetDistributionRun(c.Request.Context(), uint(id))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "distribution run not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		var stats json.RawMessage
		if len(run.StatsJSON) > 0 {
			stats = run.StatsJSON
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": runResponse(run), "stats": stats})
	}
}

// RetryRunHandler clones a finished run's voucher set into a new run and
// executes it. Vouchers already delivered are skipped by the engine itself.
func RetryRunHandler(partner PartnerAPI) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid run id"})
			return
		}
		ctx := c.Request.Context()
		prev, err := models.GetDistributionRun(ctx, uint(id))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "distribution run not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		if prev.Status == models.DistributionRunStatusQueued || prev.Status == models.DistributionRunStatusRunning {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "distribution run has not finished"})
			return
		}

		run := models.DistributionRun{
			Status:         models.DistributionRunStatusQueued,
			TriggeredBy:    string(models.RunTriggeredRetry),
			VoucherIdsJSON: prev.VoucherIdsJSON,
			TotalCount:     prev.TotalCount,
		}
		if err := config.GetDB().WithContext(ctx).Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}

		if config.DistributionPubSubEnabled() {
			if _, err := PublishDistributionRun(ctx, run.ID); err != nil {
				config.LogError(logger, "buffrsync", "RetryRunHandler", "publish run", run.ID, err)
				c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "could not enqueue distribution run"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"success": true, "data": runResponse(&run)})
			return
		}

		if err := ProcessRun(ctx, partner, run.ID); err != nil {
			config.LogError(logger, "buffrsync", "RetryRunHandler", "process run inline", run.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		fresh, err := models.GetDistributionRun(ctx, run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": runResponse(fresh)})
	}
}

// VerifyHandler runs reconciliation for one day.
func VerifyHandler(reconciler *Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": utils.ProcessValidationErrors(err)})
			return
		}
		date, err := utils.ParseDate(req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "date must be YYYY-MM-DD"})
			return
		}

		report, err := reconciler.Reconcile(c.Request.Context(), date)
		if err != nil {
			c.JSON(utils.HTTPStatus(err), gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
	}
}

func recordsFilterFromQuery(c *gin.Context) (models.ReconciliationRecordFilter, error) {
	filter := models.ReconciliationRecordFilter{
		VoucherId: c.Query("voucher_id"),
		Limit:     queryInt(c, "limit", 0),
		Offset:    queryInt(c, "offset", 0),
	}
	if v := c.Query("date"); v != "" {
		date, err := utils.ParseDate(v)
		if err != nil {
			return filter, fmt.Errorf("date must be YYYY-MM-DD")
		}
		filter.Date = &date
	}
	if v := c.Query("match"); v != "" {
		match, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("match must be true or false")
		}
		filter.Match = &match
	}
	return filter, nil
}

func RecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := recordsFilterFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		records, total, err := models.ListReconciliationRecords(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": records, "total": total})
	}
}

// ExportRecordsHandler streams the filtered reconciliation records as an XLSX
// workbook.
func ExportRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := recordsFilterFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		if filter.Limit <= 0 {
			filter.Limit = 500
		}
		records, _, err := models.ListReconciliationRecords(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}

		f := excelize.NewFile()
		defer f.Close()
		sheet := "Reconciliation"
		f.SetSheetName(f.GetSheetName(0), sheet)

		headers := []string{"Voucher ID", "Date", "Ledger Status", "Partner Status", "Match", "Discrepancy", "Last Verified At"}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			f.SetCellValue(sheet, cell, h)
		}
		for row, record := range records {
			values := []interface{}{
				record.VoucherId,
				record.ReconciliationDate.Format("2006-01-02"),
				record.LedgerStatus,
				record.PartnerStatus,
				record.Match,
				utils.DereferencePtr(record.Discrepancy),
				record.LastVerifiedAt.UTC().Format(time.RFC3339),
			}
			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
				f.SetCellValue(sheet, cell, v)
			}
		}

		filename := fmt.Sprintf("reconciliation_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := f.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "buffrsync", "ExportRecordsHandler", "write workbook", nil, err)
		}
	}
}

// PartnerHealthHandler probes the partner API and reports latency.
func PartnerHealthHandler(partner PartnerAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		healthy, latency := partner.Health(c.Request.Context())
		status := http.StatusOK
		if !healthy {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"success":    healthy,
			"latency_ms": latency.Milliseconds(),
		})
	}
}
