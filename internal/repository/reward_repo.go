package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"rewardflow/internal/database"
	"rewardflow/internal/model"
)

// RewardRepository issuance ledger repository interface
type RewardRepository interface {
	// Insert inserts a ledger row. Returns false when the OutBizNo is
	// already taken, meaning the award was granted before.
	Insert(ctx context.Context, flow *model.RewardFlow) (bool, error)

	// GetByOutBizNo fetches the ledger row for an idempotency key.
	// Returns nil when absent.
	GetByOutBizNo(ctx context.Context, outBizNo string) (*model.RewardFlow, error)

	// ListByUserSceneDate lists every award granted to a user in one
	// scene on one day, oldest first.
	ListByUserSceneDate(ctx context.Context, userID, bizScene, bizDate string) ([]*model.RewardFlow, error)

	// ListOutBizNosBySceneDate returns every idempotency key in the
	// ledger for one scene and day.
	ListOutBizNosBySceneDate(ctx context.Context, bizScene, bizDate string) ([]string, error)

	// WithTx returns a repository bound to the given transaction.
	WithTx(tx *gorm.DB) RewardRepository
}

type rewardRepository struct {
	db *gorm.DB
}

// NewRewardRepository creates a reward ledger repository
func NewRewardRepository(db *gorm.DB) RewardRepository {
	return &rewardRepository{db: db}
}

func (r *rewardRepository) WithTx(tx *gorm.DB) RewardRepository {
	return &rewardRepository{db: tx}
}

func (r *rewardRepository) Insert(ctx context.Context, flow *model.RewardFlow) (bool, error) {
	err := r.db.WithContext(ctx).Create(flow).Error
	if err != nil {
		if database.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *rewardRepository) GetByOutBizNo(ctx context.Context, outBizNo string) (*model.RewardFlow, error) {
	var flow model.RewardFlow
	err := r.db.WithContext(ctx).
		Where("out_biz_no = ?", outBizNo).
		First(&flow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &flow, nil
}

func (r *rewardRepository) ListByUserSceneDate(ctx context.Context, userID, bizScene, bizDate string) ([]*model.RewardFlow, error) {
	var flows []*model.RewardFlow
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND biz_scene = ? AND biz_date = ?", userID, bizScene, bizDate).
		Order("stage ASC").
		Find(&flows).Error
	return flows, err
}

func (r *rewardRepository) ListOutBizNosBySceneDate(ctx context.Context, bizScene, bizDate string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).
		Model(&model.RewardFlow{}).
		Where("biz_scene = ? AND biz_date = ?", bizScene, bizDate).
		Order("id ASC").
		Pluck("out_biz_no", &keys).Error
	return keys, err
}
