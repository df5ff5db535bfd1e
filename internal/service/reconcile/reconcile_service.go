package reconcile

import (
	"context"

	"rewardflow/internal/repository"
	"rewardflow/internal/rulecenter"
	"rewardflow/internal/service/award"
	"rewardflow/internal/service/rule"
	"rewardflow/pkg/log"
	"rewardflow/pkg/utils"
)

// Report is one audit pass over a scene-day: which ledger entries never
// got their outbox event (a crash between the two issuance writes) and
// which outbox events have no ledger entry (should not happen).
type Report struct {
	BizScene       string   `json:"biz_scene"`
	BizDate        string   `json:"biz_date"`
	LedgerCount    int      `json:"ledger_count"`
	OutboxCount    int      `json:"outbox_count"`
	MissingOutbox  int      `json:"missing_outbox"`
	OrphanOutbox   int      `json:"orphan_outbox"`
	MissingSamples []string `json:"missing_samples,omitempty"`
	OrphanSamples  []string `json:"orphan_samples,omitempty"`
}

// HealSummary reports one healing sweep.
type HealSummary struct {
	BizScene     string `json:"biz_scene"`
	BizDate      string `json:"biz_date"`
	UsersChecked int    `json:"users_checked"`
	Healed       int    `json:"healed"`
	Failed       int    `json:"failed"`
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

// FeatureSource gates the reconciler per scene.
type FeatureSource interface {
	ReconcileFor(bizScene string) bool
}

// Service audits ledger/outbox consistency for one scene-day, and on
// request sweeps daily totals to re-issue awards lost to mid-request
// failures. Issuance idempotency makes the sweep safe to run while
// traffic flows.
type Service struct {
	dailyRepo        repository.DailyRepository
	rewardRepo       repository.RewardRepository
	outboxRepo       repository.OutboxRepository
	issuer           AwardIssuer
	rules            RuleSource
	flags            FeatureSource
	defaultPrizeCode string
	pageSize         int
}

// NewService creates the reconcile service
func NewService(
	dailyRepo repository.DailyRepository,
	rewardRepo repository.RewardRepository,
	outboxRepo repository.OutboxRepository,
	issuer AwardIssuer,
	rules RuleSource,
	flags FeatureSource,
	defaultPrizeCode string,
) *Service {
	return &Service{
		dailyRepo:        dailyRepo,
		rewardRepo:       rewardRepo,
		outboxRepo:       outboxRepo,
		issuer:           issuer,
		rules:            rules,
		flags:            flags,
		defaultPrizeCode: defaultPrizeCode,
		pageSize:         500,
	}
}

// Reconcile compares the ledger and outbox key sets for one scene-day.
// Read-only: it reports gaps, it does not fix them.
func (s *Service) Reconcile(ctx context.Context, bizScene, bizDate string, limit int) (*Report, error) {
	if s.rules.Get().Scene(bizScene) == nil {
		return nil, utils.NewBizError(utils.CodeSceneNotConfigured, "scene not configured")
	}
	if !s.flags.ReconcileFor(bizScene) {
		return nil, utils.NewBizError(utils.CodeFeatureDisabled, "reconcile disabled for scene")
	}
	if limit <= 0 {
		limit = 20
	}

	ledgerKeys, err := s.rewardRepo.ListOutBizNosBySceneDate(ctx, bizScene, bizDate)
	if err != nil {
		return nil, err
	}
	// outBizNo = user|prize|scene|date|stage, so scene-day scoping is a
	// pattern match on the key itself
	outboxKeys, err := s.outboxRepo.ListOutBizNosLike(ctx, "%|"+bizScene+"|"+bizDate+"|%")
	if err != nil {
		return nil, err
	}

	ledgerSet := make(map[string]bool, len(ledgerKeys))
	for _, k := range ledgerKeys {
		ledgerSet[k] = true
	}
	outboxSet := make(map[string]bool, len(outboxKeys))
	for _, k := range outboxKeys {
		outboxSet[k] = true
	}

	report := &Report{
		BizScene:    bizScene,
		BizDate:     bizDate,
		LedgerCount: len(ledgerSet),
		OutboxCount: len(outboxSet),
	}
	for _, k := range ledgerKeys {
		if !outboxSet[k] {
			report.MissingOutbox++
			if len(report.MissingSamples) < limit {
				report.MissingSamples = append(report.MissingSamples, k)
			}
		}
	}
	for _, k := range outboxKeys {
		if !ledgerSet[k] {
			report.OrphanOutbox++
			if len(report.OrphanSamples) < limit {
				report.OrphanSamples = append(report.OrphanSamples, k)
			}
		}
	}

	log.Infof("Reconcile audit: scene=%s date=%s ledger=%d outbox=%d missing=%d orphan=%d",
		bizScene, bizDate, report.LedgerCount, report.OutboxCount, report.MissingOutbox, report.OrphanOutbox)
	return report, nil
}

// Heal walks every daily row for the scene-day, re-evaluates the ladder
// against the stored total, and issues any stage a user earned but
// never received.
func (s *Service) Heal(ctx context.Context, bizScene, bizDate string) (*HealSummary, error) {
	scene := s.rules.Get().Scene(bizScene)
	if scene == nil {
		return nil, utils.NewBizError(utils.CodeSceneNotConfigured, "scene not configured")
	}
	if !s.flags.ReconcileFor(bizScene) {
		return nil, utils.NewBizError(utils.CodeFeatureDisabled, "reconcile disabled for scene")
	}

	summary := &HealSummary{BizScene: bizScene, BizDate: bizDate}
	var afterID uint64

	for {
		rows, err := s.dailyRepo.ListBySceneDate(ctx, bizScene, bizDate, afterID, s.pageSize)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			afterID = row.ID
			summary.UsersChecked++

			awarded, err := s.issuer.AwardedSet(ctx, row.UserID, bizScene, bizDate)
			if err != nil {
				summary.Failed++
				log.Errorf("Heal skipped user=%s: %v", row.UserID, err)
				continue
			}

			res := rule.Resolve(scene, row.UserID)
			for _, plan := range rule.Calculate(res.Ladder, row.UserID, bizScene, bizDate, s.defaultPrizeCode, row.TotalDuration, awarded) {
				issueRes, err := s.issuer.Issue(ctx, award.IssueContext{
					UserID:      row.UserID,
					BizScene:    bizScene,
					BizDate:     bizDate,
					OutBizNo:    plan.OutBizNo,
					Stage:       plan.Stage.Stage,
					Threshold:   plan.Stage.Threshold,
					Amount:      plan.Stage.Amount,
					PrizeCode:   plan.PrizeCode,
					RuleVersion: plan.Version,
				})
				if err != nil {
					summary.Failed++
					log.Errorf("Heal issue failed for %s: %v", plan.OutBizNo, err)
					continue
				}
				if issueRes.Issued {
					summary.Healed++
				}
			}
		}

		if len(rows) < s.pageSize {
			break
		}
	}

	log.Infof("Heal done: scene=%s date=%s checked=%d healed=%d failed=%d",
		bizScene, bizDate, summary.UsersChecked, summary.Healed, summary.Failed)
	return summary, nil
}
