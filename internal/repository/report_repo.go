package repository

import (
	"context"

	"gorm.io/gorm"

	"rewardflow/internal/database"
	"rewardflow/internal/model"
)

// ReportRepository play report repository interface
type ReportRepository interface {
	// Insert inserts a report row. Returns false when the row already
	// exists (durable dedup hit), which callers treat as success.
	Insert(ctx context.Context, report *model.PlayDurationReport) (bool, error)

	// DirectDeltaSince sums direct-path reports newer than lastSync for
	// one (user, scene, day) and returns the max sync time seen.
	DirectDeltaSince(ctx context.Context, userID, bizScene, bizDate string, lastSync int64) (delta int64, maxSync int64, err error)

	// UpdateAggMode re-tags a report row. Used when the buffered path
	// rejects a report after its row landed and the direct path must
	// own it instead.
	UpdateAggMode(ctx context.Context, id uint64, aggMode string) error

	// WithTx returns a repository bound to the given transaction.
	WithTx(tx *gorm.DB) ReportRepository
}

type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a report repository
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) WithTx(tx *gorm.DB) ReportRepository {
	return &reportRepository{db: tx}
}

func (r *reportRepository) Insert(ctx context.Context, report *model.PlayDurationReport) (bool, error) {
	err := r.db.WithContext(ctx).Create(report).Error
	if err != nil {
		if database.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *reportRepository) UpdateAggMode(ctx context.Context, id uint64, aggMode string) error {
	return r.db.WithContext(ctx).
		Model(&model.PlayDurationReport{}).
		Where("id = ?", id).
		Update("agg_mode", aggMode).Error
}

func (r *reportRepository) DirectDeltaSince(ctx context.Context, userID, bizScene, bizDate string, lastSync int64) (int64, int64, error) {
	var row struct {
		Delta   int64
		MaxSync int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.PlayDurationReport{}).
		Select("COALESCE(SUM(duration), 0) AS delta, COALESCE(MAX(sync_time), 0) AS max_sync").
		Where("user_id = ? AND biz_scene = ? AND biz_date = ?", userID, bizScene, bizDate).
		Where("sync_time > ?", lastSync).
		Where("agg_mode = ?", model.AggModeDirect).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Delta, row.MaxSync, nil
}
