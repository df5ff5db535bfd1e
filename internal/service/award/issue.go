package award

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rewardflow/internal/model"
	"rewardflow/internal/repository"
	"rewardflow/internal/service/rule"
	"rewardflow/pkg/log"
)

// IssueResult reports what one Issue call did.
type IssueResult struct {
	Flow    *model.RewardFlow
	EventID string
	// Issued is false when the ledger already held this OutBizNo.
	Issued bool
}

// Issuer persists grants: ledger row plus outbox event in one
// transaction. The outbox insert runs even when the ledger row already
// exists, which heals a crash that landed the ledger but lost the
// event.
type Issuer struct {
	db         *gorm.DB
	rewardRepo repository.RewardRepository
	outboxRepo repository.OutboxRepository
	registry   *Registry
}

// NewIssuer creates the award issuer
func NewIssuer(db *gorm.DB, rewardRepo repository.RewardRepository, outboxRepo repository.OutboxRepository, registry *Registry) *Issuer {
	return &Issuer{
		db:         db,
		rewardRepo: rewardRepo,
		outboxRepo: outboxRepo,
		registry:   registry,
	}
}

// Issue grants one stage. Safe to call any number of times with the
// same OutBizNo.
func (i *Issuer) Issue(ctx context.Context, ic IssueContext) (*IssueResult, error) {
	handler, err := i.registry.Get(ic.PrizeCode)
	if err != nil {
		return nil, err
	}

	result := &IssueResult{}
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rewards := i.rewardRepo.WithTx(tx)
		outbox := i.outboxRepo.WithTx(tx)

		flow := &model.RewardFlow{
			OutBizNo:    ic.OutBizNo,
			UserID:      ic.UserID,
			BizScene:    ic.BizScene,
			BizDate:     ic.BizDate,
			Stage:       ic.Stage,
			Threshold:   ic.Threshold,
			PrizeCode:   ic.PrizeCode,
			PrizeAmount: ic.Amount,
			RuleVersion: ic.RuleVersion,
			TraceID:     ic.TraceID,
		}

		inserted, err := rewards.Insert(ctx, flow)
		if err != nil {
			return fmt.Errorf("ledger insert failed: %w", err)
		}
		if !inserted {
			existing, err := rewards.GetByOutBizNo(ctx, ic.OutBizNo)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("ledger row vanished for %s", ic.OutBizNo)
			}
			flow = existing
		}
		result.Flow = flow
		result.Issued = inserted

		eventID := uuid.NewString()
		payload, err := handler.BuildPayload(eventID, ic)
		if err != nil {
			return fmt.Errorf("payload build failed: %w", err)
		}

		row := &model.RewardOutbox{
			EventID:       eventID,
			OutBizNo:      ic.OutBizNo,
			EventType:     handler.EventType(),
			Payload:       payload,
			TraceID:       ic.TraceID,
			Status:        model.OutboxStatusPending,
			NextRetryTime: time.Now(),
		}
		obInserted, err := outbox.Insert(ctx, row)
		if err != nil {
			return fmt.Errorf("outbox insert failed: %w", err)
		}
		if !obInserted {
			existing, err := outbox.GetByOutBizNoAndEventType(ctx, ic.OutBizNo, handler.EventType())
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("outbox row vanished for %s", ic.OutBizNo)
			}
			eventID = existing.EventID
		}
		result.EventID = eventID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Issued {
		log.Infof("Award issued: out_biz_no=%s prize=%s amount=%d", ic.OutBizNo, ic.PrizeCode, ic.Amount)
	}
	return result, nil
}

// AwardedSet returns the prize+stage keys already granted to a user in
// one scene on one day.
func (i *Issuer) AwardedSet(ctx context.Context, userID, bizScene, bizDate string) (map[string]bool, error) {
	flows, err := i.rewardRepo.ListByUserSceneDate(ctx, userID, bizScene, bizDate)
	if err != nil {
		return nil, err
	}
	awarded := make(map[string]bool, len(flows))
	for _, f := range flows {
		awarded[rule.AwardKey(f.PrizeCode, f.Stage)] = true
	}
	return awarded, nil
}
