package agg

import (
	"context"

	"gorm.io/gorm"

	"rewardflow/internal/model"
	"rewardflow/internal/repository"
)

// Direct is the synchronous aggregation path: the daily row is locked,
// the delta above the sync watermark is re-scanned from the report
// table, and the new totals land in the same transaction as the report
// insert. Replays and crashes are covered by the watermark, the scan
// never counts a report twice.
type Direct struct {
	dailyRepo  repository.DailyRepository
	reportRepo repository.ReportRepository
}

// NewDirect creates the direct aggregator
func NewDirect(dailyRepo repository.DailyRepository, reportRepo repository.ReportRepository) *Direct {
	return &Direct{dailyRepo: dailyRepo, reportRepo: reportRepo}
}

// Aggregate recomputes the daily totals for one (user, scene, day)
// inside tx and returns the new total and the delta this pass applied.
func (d *Direct) Aggregate(ctx context.Context, tx *gorm.DB, userID, bizScene, bizDate string, currentSyncTime int64) (int64, int64, error) {
	daily := d.dailyRepo.WithTx(tx)
	reports := d.reportRepo.WithTx(tx)

	row, err := lockOrCreateDaily(ctx, daily, userID, bizScene, bizDate)
	if err != nil {
		return 0, 0, err
	}

	delta, maxSync, err := reports.DirectDeltaSince(ctx, userID, bizScene, bizDate, row.LastSyncTime)
	if err != nil {
		return 0, 0, err
	}

	newTotal := row.TotalDuration + delta
	newLast := row.LastSyncTime
	if maxSync > newLast {
		newLast = maxSync
	}
	if currentSyncTime > newLast {
		newLast = currentSyncTime
	}

	if newTotal != row.TotalDuration || newLast != row.LastSyncTime {
		if err := daily.UpdateTotals(ctx, row.ID, newTotal, newLast); err != nil {
			return 0, 0, err
		}
	}
	return newTotal, delta, nil
}

// lockOrCreateDaily locks the daily row, creating it first when a user
// shows up for the first time today. Losing the insert race to a
// concurrent writer is handled by re-locking the row they created.
func lockOrCreateDaily(ctx context.Context, daily repository.DailyRepository, userID, bizScene, bizDate string) (*model.UserPlayDaily, error) {
	row, err := daily.GetForUpdate(ctx, userID, bizScene, bizDate)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row, nil
	}

	fresh := &model.UserPlayDaily{
		UserID:   userID,
		BizScene: bizScene,
		BizDate:  bizDate,
	}
	if _, err := daily.Create(ctx, fresh); err != nil {
		return nil, err
	}
	return daily.GetForUpdate(ctx, userID, bizScene, bizDate)
}
