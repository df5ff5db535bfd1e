package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rewardflow/internal/database"
	"rewardflow/internal/model"
)

// DailyRepository daily aggregate repository interface
type DailyRepository interface {
	// Get reads the daily row without locking. Returns nil when absent.
	Get(ctx context.Context, userID, bizScene, bizDate string) (*model.UserPlayDaily, error)

	// GetForUpdate reads the daily row under a row lock. Returns nil
	// when absent; callers create the row and retry on duplicate.
	GetForUpdate(ctx context.Context, userID, bizScene, bizDate string) (*model.UserPlayDaily, error)

	// Create inserts a fresh daily row. Returns false on duplicate so
	// the caller can re-read the row another writer just created.
	Create(ctx context.Context, row *model.UserPlayDaily) (bool, error)

	// UpdateTotals writes the new total and sync watermark, bumping the
	// row version.
	UpdateTotals(ctx context.Context, id uint64, totalDuration, lastSyncTime int64) error

	// ListBySceneDate pages through every daily row for one scene and
	// day, ordered by id for stable pagination.
	ListBySceneDate(ctx context.Context, bizScene, bizDate string, afterID uint64, limit int) ([]*model.UserPlayDaily, error)

	// WithTx returns a repository bound to the given transaction.
	WithTx(tx *gorm.DB) DailyRepository
}

type dailyRepository struct {
	db *gorm.DB
}

// NewDailyRepository creates a daily aggregate repository
func NewDailyRepository(db *gorm.DB) DailyRepository {
	return &dailyRepository{db: db}
}

func (r *dailyRepository) WithTx(tx *gorm.DB) DailyRepository {
	return &dailyRepository{db: tx}
}

func (r *dailyRepository) Get(ctx context.Context, userID, bizScene, bizDate string) (*model.UserPlayDaily, error) {
	var row model.UserPlayDaily
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND biz_scene = ? AND biz_date = ?", userID, bizScene, bizDate).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *dailyRepository) GetForUpdate(ctx context.Context, userID, bizScene, bizDate string) (*model.UserPlayDaily, error) {
	var row model.UserPlayDaily
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND biz_scene = ? AND biz_date = ?", userID, bizScene, bizDate).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *dailyRepository) Create(ctx context.Context, row *model.UserPlayDaily) (bool, error) {
	err := r.db.WithContext(ctx).Create(row).Error
	if err != nil {
		if database.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *dailyRepository) ListBySceneDate(ctx context.Context, bizScene, bizDate string, afterID uint64, limit int) ([]*model.UserPlayDaily, error) {
	var rows []*model.UserPlayDaily
	err := r.db.WithContext(ctx).
		Where("biz_scene = ? AND biz_date = ? AND id > ?", bizScene, bizDate, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *dailyRepository) UpdateTotals(ctx context.Context, id uint64, totalDuration, lastSyncTime int64) error {
	return r.db.WithContext(ctx).
		Model(&model.UserPlayDaily{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_duration": totalDuration,
			"last_sync_time": lastSyncTime,
			"version":        gorm.Expr("version + 1"),
		}).Error
}
