package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rewardflow/internal/model"
	"rewardflow/internal/repository"
	"rewardflow/internal/rulecenter"
	"rewardflow/internal/service/award"
	"rewardflow/internal/service/reconcile"
	"rewardflow/internal/service/rule"
	"rewardflow/pkg/utils"
)

// AdminHandler serves the operational endpoints: reconcile audit and
// heal, rule inspection and simulation, outbox stats.
type AdminHandler struct {
	reconcileService *reconcile.Service
	rules            *rulecenter.Center
	outboxRepo       repository.OutboxRepository
	rewardRepo       repository.RewardRepository
	defaultPrizeCode string
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(reconcileService *reconcile.Service, rules *rulecenter.Center, outboxRepo repository.OutboxRepository, rewardRepo repository.RewardRepository, defaultPrizeCode string) *AdminHandler {
	return &AdminHandler{
		reconcileService: reconcileService,
		rules:            rules,
		outboxRepo:       outboxRepo,
		rewardRepo:       rewardRepo,
		defaultPrizeCode: defaultPrizeCode,
	}
}

// Reconcile audits ledger/outbox consistency for one scene-day. Read
// only; the limit query bounds the sample lists.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	bizScene := utils.NormalizeScene(c.Query("biz_scene"))
	bizDate := c.Query("biz_date")
	if bizScene == "" || bizDate == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "biz_scene and biz_date are required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	report, err := h.reconcileService.Reconcile(c.Request.Context(), bizScene, bizDate, limit)
	if err != nil {
		if be, ok := utils.AsBizError(err); ok {
			utils.BizErrorResponse(c, be)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "Reconcile failed: "+err.Error())
		return
	}
	utils.SuccessResponse(c, report)
}

// Heal sweeps one scene-day and re-issues awards users earned but
// never received
func (h *AdminHandler) Heal(c *gin.Context) {
	bizScene := utils.NormalizeScene(c.Query("biz_scene"))
	bizDate := c.Query("biz_date")
	if bizScene == "" || bizDate == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "biz_scene and biz_date are required")
		return
	}

	summary, err := h.reconcileService.Heal(c.Request.Context(), bizScene, bizDate)
	if err != nil {
		if be, ok := utils.AsBizError(err); ok {
			utils.BizErrorResponse(c, be)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "Heal failed: "+err.Error())
		return
	}
	utils.SuccessResponse(c, summary)
}

// Rules returns the current rule snapshot
func (h *AdminHandler) Rules(c *gin.Context) {
	snapshot := h.rules.Get()

	scenes := make(map[string]interface{})
	for _, name := range snapshot.Scenes() {
		if cfg := snapshot.Scene(name); cfg != nil {
			scenes[name] = cfg
		}
	}
	utils.SuccessResponse(c, gin.H{
		"version":   snapshot.Version,
		"loaded_at": snapshot.LoadedAt,
		"scenes":    scenes,
	})
}

// SimulateRequest is one what-if evaluation.
type SimulateRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	BizScene      string `json:"biz_scene" binding:"required"`
	BizDate       string `json:"biz_date" binding:"required"`
	TotalDuration int64  `json:"total_duration"`
}

// Simulate evaluates the ladder for a hypothetical total without
// touching state
func (h *AdminHandler) Simulate(c *gin.Context) {
	var req SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid parameters: "+err.Error())
		return
	}
	req.BizScene = utils.NormalizeScene(req.BizScene)

	scene := h.rules.Get().Scene(req.BizScene)
	if scene == nil {
		utils.BizErrorResponse(c, utils.NewBizError(utils.CodeSceneNotConfigured, "scene not configured"))
		return
	}

	awarded, err := h.awardedSet(c.Request.Context(), req.UserID, req.BizScene, req.BizDate)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Simulate failed: "+err.Error())
		return
	}

	res := rule.Resolve(scene, req.UserID)
	plans := rule.Calculate(res.Ladder, req.UserID, req.BizScene, req.BizDate, h.defaultPrizeCode, req.TotalDuration, awarded)
	eligible := make([]gin.H, 0, len(plans))
	for _, p := range plans {
		eligible = append(eligible, gin.H{
			"out_biz_no": p.OutBizNo,
			"stage":      p.Stage.Stage,
			"threshold":  p.Stage.Threshold,
			"prize_code": p.PrizeCode,
			"amount":     p.Stage.Amount,
		})
	}

	utils.SuccessResponse(c, gin.H{
		"hit_rule_version": res.Version,
		"gray_hit":         res.GrayHit,
		"eligible":         eligible,
		"preview":          award.BuildPreview(res, h.defaultPrizeCode, req.TotalDuration, awarded),
	})
}

func (h *AdminHandler) awardedSet(ctx context.Context, userID, bizScene, bizDate string) (map[string]bool, error) {
	flows, err := h.rewardRepo.ListByUserSceneDate(ctx, userID, bizScene, bizDate)
	if err != nil {
		return nil, err
	}
	awarded := make(map[string]bool, len(flows))
	for _, f := range flows {
		awarded[rule.AwardKey(f.PrizeCode, f.Stage)] = true
	}
	return awarded, nil
}

// OutboxStats returns outbox row counts per status
func (h *AdminHandler) OutboxStats(c *gin.Context) {
	counts, err := h.outboxRepo.CountByStatus(c.Request.Context())
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Stats failed: "+err.Error())
		return
	}
	utils.SuccessResponse(c, gin.H{
		"pending": strconv.FormatInt(counts[model.OutboxStatusPending], 10),
		"sent":    strconv.FormatInt(counts[model.OutboxStatusSent], 10),
		"failed":  strconv.FormatInt(counts[model.OutboxStatusFailed], 10),
	})
}
