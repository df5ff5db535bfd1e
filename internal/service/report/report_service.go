package report

import (
	"context"
	"time"

	"gorm.io/gorm"

	"rewardflow/internal/model"
	"rewardflow/internal/repository"
	"rewardflow/internal/rulecenter"
	"rewardflow/internal/service/agg"
	"rewardflow/internal/service/award"
	"rewardflow/internal/service/rule"
	"rewardflow/pkg/log"
	"rewardflow/pkg/utils"
)

// Issue statuses as returned per award plan.
const (
	IssueStatusSuccess = "SUCCESS"
	IssueStatusFailed  = "FAILED"
	IssueStatusSkipped = "SKIPPED"
)

// Request is one play report from a client.
type Request struct {
	UserID   string `json:"user_id" binding:"required"`
	SoundID  string `json:"sound_id" binding:"required"`
	BizScene string `json:"biz_scene" binding:"required"`
	Duration int    `json:"duration" binding:"required"`
	SyncTime int64  `json:"sync_time" binding:"required"`
}

// PlanView is one evaluated stage in the response: what qualified and
// what issuance did about it.
type PlanView struct {
	Stage       int    `json:"stage"`
	Threshold   int64  `json:"threshold"`
	Amount      int64  `json:"amount"`
	PrizeCode   string `json:"prize_code"`
	OutBizNo    string `json:"out_biz_no"`
	Issued      bool   `json:"issued"`
	LedgerID    uint64 `json:"ledger_id,omitempty"`
	EventID     string `json:"event_id,omitempty"`
	IssueStatus string `json:"issue_status"`
}

// Result is what the client gets back: whether the report counted, the
// running daily total and the delta this report added, which rule
// version evaluated, per-stage issuance outcomes, and ladder progress.
type Result struct {
	Accepted       bool           `json:"accepted"`
	Duplicate      bool           `json:"duplicate"`
	ReportID       uint64         `json:"report_id,omitempty"`
	BizDate        string         `json:"biz_date"`
	TotalDuration  int64          `json:"total_duration"`
	DeltaDuration  int64          `json:"delta_duration"`
	HitRuleVersion string         `json:"hit_rule_version,omitempty"`
	GrayHit        bool           `json:"gray_hit,omitempty"`
	AwardPlans     []PlanView     `json:"award_plans,omitempty"`
	Preview        *award.Preview `json:"preview"`
}

// RiskChecker screens reports before the pipeline.
type RiskChecker interface {
	Validate(duration int, syncTime, nowMs int64) error
	TryAcquireDedup(ctx context.Context, bizScene, userID, soundID string, syncTime int64) bool
	CheckMinuteLimits(ctx context.Context, userID string, duration int, minuteBucket int64) error
}

// PathRouter picks the aggregation path per report.
type PathRouter interface {
	UseBuffered(ctx context.Context, userID, bizScene, bizDate string, minuteBucket int64) bool
}

// BufferedPath is the Redis-backed aggregation path.
type BufferedPath interface {
	Record(ctx context.Context, userID, bizScene, bizDate string, duration int, syncTime, nowMs int64) (total, delta int64, err error)

	// TotalBestEffort reads the running total including deltas not yet
	// flushed to the daily row; ok is false when no buffer exists.
	TotalBestEffort(ctx context.Context, userID, bizScene, bizDate string) (total int64, ok bool, err error)
}

// DirectPath is the transactional aggregation path.
type DirectPath interface {
	Aggregate(ctx context.Context, tx *gorm.DB, userID, bizScene, bizDate string, currentSyncTime int64) (total, delta int64, err error)
}

// AwardIssuer persists grants.
type AwardIssuer interface {
	Issue(ctx context.Context, ic award.IssueContext) (*award.IssueResult, error)
	AwardedSet(ctx context.Context, userID, bizScene, bizDate string) (map[string]bool, error)
}

// RuleSource serves rule snapshots.
type RuleSource interface {
	Get() *rulecenter.Snapshot
}

// FeatureSource gates issuance per scene.
type FeatureSource interface {
	AwardIssueFor(bizScene string) bool
}

// TxRunner runs fn inside a database transaction.
type TxRunner func(fn func(tx *gorm.DB) error) error

// Service is the report pipeline: validate, dedup, rate-limit, insert,
// aggregate, evaluate the ladder, issue.
type Service struct {
	reportRepo       repository.ReportRepository
	risk             RiskChecker
	router           PathRouter
	buffer           BufferedPath
	direct           DirectPath
	store            agg.DailyStore
	issuer           AwardIssuer
	rules            RuleSource
	flags            FeatureSource
	runTx            TxRunner
	defaultPrizeCode string
	loc              *time.Location
	now              func() time.Time
}

// NewService creates the report service
func NewService(
	reportRepo repository.ReportRepository,
	risk RiskChecker,
	router PathRouter,
	buffer BufferedPath,
	direct DirectPath,
	store agg.DailyStore,
	issuer AwardIssuer,
	rules RuleSource,
	flags FeatureSource,
	runTx TxRunner,
	defaultPrizeCode string,
	loc *time.Location,
) *Service {
	return &Service{
		reportRepo:       reportRepo,
		risk:             risk,
		router:           router,
		buffer:           buffer,
		direct:           direct,
		store:            store,
		issuer:           issuer,
		rules:            rules,
		flags:            flags,
		runTx:            runTx,
		defaultPrizeCode: defaultPrizeCode,
		loc:              loc,
		now:              time.Now,
	}
}

// Submit processes one report end to end.
func (s *Service) Submit(ctx context.Context, req *Request, traceID string) (*Result, error) {
	req.BizScene = utils.NormalizeScene(req.BizScene)

	now := s.now()
	nowMs := now.UnixMilli()
	bizDate := utils.BizDate(now, s.loc)
	minute := utils.MinuteBucket(nowMs)

	scene := s.rules.Get().Scene(req.BizScene)
	if scene == nil {
		return nil, utils.NewBizError(utils.CodeSceneNotConfigured, "scene not configured")
	}

	if err := s.risk.Validate(req.Duration, req.SyncTime, nowMs); err != nil {
		return nil, err
	}

	if !s.risk.TryAcquireDedup(ctx, req.BizScene, req.UserID, req.SoundID, req.SyncTime) {
		return s.duplicateResult(ctx, scene, req, bizDate, traceID)
	}

	if err := s.risk.CheckMinuteLimits(ctx, req.UserID, req.Duration, minute); err != nil {
		return nil, err
	}

	var (
		total     int64
		delta     int64
		reportID  uint64
		duplicate bool
		err       error
	)
	if s.router.UseBuffered(ctx, req.UserID, req.BizScene, bizDate, minute) {
		total, delta, reportID, duplicate, err = s.submitBuffered(ctx, req, bizDate, nowMs, traceID)
	} else {
		total, delta, reportID, duplicate, err = s.submitDirect(ctx, req, bizDate, traceID)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		Accepted:      !duplicate,
		Duplicate:     duplicate,
		ReportID:      reportID,
		BizDate:       bizDate,
		TotalDuration: total,
		DeltaDuration: delta,
	}
	awarded, err := s.issuer.AwardedSet(ctx, req.UserID, req.BizScene, bizDate)
	if err != nil {
		return nil, err
	}
	if err := s.evaluate(ctx, scene, req.UserID, bizDate, total, traceID, awarded, result); err != nil {
		return nil, err
	}
	return result, nil
}

// evaluate resolves the user's ladder, issues every qualified stage not
// yet in awarded, and fills the award section of the result. Issue
// failures mark the plan FAILED and never fail the report: the delta is
// already durable, awards catch up on the next report or reconcile
// pass.
func (s *Service) evaluate(ctx context.Context, scene *rulecenter.SceneConfig, userID, bizDate string, total int64, traceID string, awarded map[string]bool, result *Result) error {
	res := rule.Resolve(scene, userID)
	result.HitRuleVersion = res.Version
	result.GrayHit = res.GrayHit

	issueEnabled := s.flags.AwardIssueFor(scene.BizScene)
	for _, plan := range rule.Calculate(res.Ladder, userID, scene.BizScene, bizDate, s.defaultPrizeCode, total, awarded) {
		view := PlanView{
			Stage:     plan.Stage.Stage,
			Threshold: plan.Stage.Threshold,
			Amount:    plan.Stage.Amount,
			PrizeCode: plan.PrizeCode,
			OutBizNo:  plan.OutBizNo,
		}

		if !issueEnabled {
			view.IssueStatus = IssueStatusSkipped
			result.AwardPlans = append(result.AwardPlans, view)
			continue
		}

		issueRes, err := s.issuer.Issue(ctx, award.IssueContext{
			UserID:      userID,
			BizScene:    scene.BizScene,
			BizDate:     bizDate,
			OutBizNo:    plan.OutBizNo,
			TraceID:     traceID,
			Stage:       plan.Stage.Stage,
			Threshold:   plan.Stage.Threshold,
			Amount:      plan.Stage.Amount,
			PrizeCode:   plan.PrizeCode,
			RuleVersion: plan.Version,
		})
		if err != nil {
			log.Errorf("Issue failed for %s: %v", plan.OutBizNo, err)
			view.IssueStatus = IssueStatusFailed
			result.AwardPlans = append(result.AwardPlans, view)
			continue
		}

		awarded[rule.AwardKey(plan.PrizeCode, plan.Stage.Stage)] = true
		view.Issued = issueRes.Issued
		view.LedgerID = issueRes.Flow.ID
		view.EventID = issueRes.EventID
		view.IssueStatus = IssueStatusSuccess
		result.AwardPlans = append(result.AwardPlans, view)
	}

	result.Preview = award.BuildPreview(res, s.defaultPrizeCode, total, awarded)
	return nil
}

// submitDirect lands the report row and the recomputed totals in one
// transaction. A replayed row is harmless: the watermark scan adds
// zero, but the aggregation still runs so a crash that lost the
// aggregate heals here.
func (s *Service) submitDirect(ctx context.Context, req *Request, bizDate, traceID string) (int64, int64, uint64, bool, error) {
	var total, delta int64
	var reportID uint64
	var duplicate bool
	err := s.runTx(func(tx *gorm.DB) error {
		reports := s.reportRepo.WithTx(tx)
		row := &model.PlayDurationReport{
			UserID:   req.UserID,
			SoundID:  req.SoundID,
			BizScene: req.BizScene,
			BizDate:  bizDate,
			Duration: req.Duration,
			SyncTime: req.SyncTime,
			AggMode:  model.AggModeDirect,
			TraceID:  traceID,
		}
		inserted, err := reports.Insert(ctx, row)
		if err != nil {
			return err
		}
		duplicate = !inserted
		reportID = row.ID

		total, delta, err = s.direct.Aggregate(ctx, tx, req.UserID, req.BizScene, bizDate, req.SyncTime)
		return err
	})
	return total, delta, reportID, duplicate, err
}

// submitBuffered lands the report row, then folds it into the Redis
// buffer. If Redis rejects the fold, the row is re-tagged and the
// direct path takes over so the report is never lost.
func (s *Service) submitBuffered(ctx context.Context, req *Request, bizDate string, nowMs int64, traceID string) (int64, int64, uint64, bool, error) {
	row := &model.PlayDurationReport{
		UserID:   req.UserID,
		SoundID:  req.SoundID,
		BizScene: req.BizScene,
		BizDate:  bizDate,
		Duration: req.Duration,
		SyncTime: req.SyncTime,
		AggMode:  model.AggModeBuffered,
		TraceID:  traceID,
	}
	inserted, err := s.reportRepo.Insert(ctx, row)
	if err != nil {
		return 0, 0, 0, false, err
	}

	total, delta, err := s.buffer.Record(ctx, req.UserID, req.BizScene, bizDate, req.Duration, req.SyncTime, nowMs)
	if err != nil {
		log.Warnf("Buffered path degraded for user=%s, falling back to direct: %v", req.UserID, err)
		return s.fallbackToDirect(ctx, req, row, bizDate, inserted)
	}
	return total, delta, row.ID, !inserted, nil
}

func (s *Service) fallbackToDirect(ctx context.Context, req *Request, row *model.PlayDurationReport, bizDate string, inserted bool) (int64, int64, uint64, bool, error) {
	var total, delta int64
	err := s.runTx(func(tx *gorm.DB) error {
		reports := s.reportRepo.WithTx(tx)
		if inserted {
			if err := reports.UpdateAggMode(ctx, row.ID, model.AggModeDirect); err != nil {
				return err
			}
		}
		var err error
		total, delta, err = s.direct.Aggregate(ctx, tx, req.UserID, req.BizScene, bizDate, req.SyncTime)
		return err
	})
	return total, delta, row.ID, !inserted, err
}

// duplicateResult answers a dedup hit: best-effort current totals plus
// a full idempotent re-evaluation against an empty awarded set, so a
// retried report restates every qualifying stage with issued=false and
// the same outBizNo and eventId the first attempt produced.
func (s *Service) duplicateResult(ctx context.Context, scene *rulecenter.SceneConfig, req *Request, bizDate, traceID string) (*Result, error) {
	// a hot user's latest deltas live in the buffer between flushes,
	// the daily row alone would understate their total
	total, ok, err := s.buffer.TotalBestEffort(ctx, req.UserID, req.BizScene, bizDate)
	if err != nil {
		log.Warnf("Buffer total read degraded for user=%s: %v", req.UserID, err)
		ok = false
	}
	if !ok {
		total, _, err = s.store.Totals(ctx, req.UserID, req.BizScene, bizDate)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{
		Accepted:      false,
		Duplicate:     true,
		BizDate:       bizDate,
		TotalDuration: total,
	}
	if err := s.evaluate(ctx, scene, req.UserID, bizDate, total, traceID, map[string]bool{}, result); err != nil {
		return nil, err
	}
	return result, nil
}
