package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rewardflow/internal/audit"
	"rewardflow/internal/middleware"
	"rewardflow/internal/monitor"
	"rewardflow/internal/service/report"
	"rewardflow/pkg/log"
	"rewardflow/pkg/utils"
)

// ReportHandler play report handler
type ReportHandler struct {
	reportService *report.Service
	metrics       *monitor.MetricsCollector
	tracer        *monitor.Tracer
	auditor       *audit.Recorder
}

// NewReportHandler creates a report handler
func NewReportHandler(reportService *report.Service, metrics *monitor.MetricsCollector, tracer *monitor.Tracer, auditor *audit.Recorder) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
		metrics:       metrics,
		tracer:        tracer,
		auditor:       auditor,
	}
}

// Submit accepts one play duration report
func (h *ReportHandler) Submit(c *gin.Context) {
	var req report.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid parameters: "+err.Error())
		return
	}

	traceID := c.GetString(middleware.TraceIDKey)
	ctx, span := h.tracer.StartReportSpan(c.Request.Context(), req.BizScene, req.UserID)
	defer span.End()

	start := time.Now()
	result, err := h.reportService.Submit(ctx, &req, traceID)
	if err != nil {
		if be, ok := utils.AsBizError(err); ok {
			h.metrics.RecordReport(req.BizScene, "rejected", time.Since(start))
			utils.BizErrorResponse(c, be)
			return
		}
		h.metrics.RecordReport(req.BizScene, "error", time.Since(start))
		log.WithError(err).Error("Report processing failed")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Report processing failed")
		return
	}

	outcome := "accepted"
	if result.Duplicate {
		outcome = "duplicate"
	}
	h.metrics.RecordReport(req.BizScene, outcome, time.Since(start))

	for _, plan := range result.AwardPlans {
		if !plan.Issued {
			continue
		}
		h.metrics.RecordAwardIssued(req.BizScene, plan.PrizeCode)
		h.auditor.Record(ctx, audit.Event{
			Action:   "award_issued",
			UserID:   req.UserID,
			BizScene: req.BizScene,
			TraceID:  traceID,
			Detail: map[string]interface{}{
				"out_biz_no":   plan.OutBizNo,
				"stage":        plan.Stage,
				"amount":       plan.Amount,
				"rule_version": result.HitRuleVersion,
			},
		})
	}

	utils.SuccessResponse(c, result)
}
