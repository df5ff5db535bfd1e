package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"rewardflow/internal/database"
	"rewardflow/internal/model"
)

// OutboxRepository outbox repository interface. The publisher's state
// transitions are all conditional updates: a row moves only if it is
// still in the state the publisher read, so two publishers racing on
// one row cannot both win.
type OutboxRepository interface {
	// Insert inserts an outbox row. Returns false when the
	// (OutBizNo, EventType) pair already has an event.
	Insert(ctx context.Context, row *model.RewardOutbox) (bool, error)

	// GetByOutBizNoAndEventType fetches the existing event for an
	// idempotency key. Returns nil when absent.
	GetByOutBizNoAndEventType(ctx context.Context, outBizNo, eventType string) (*model.RewardOutbox, error)

	// ListPending lists due pending rows, oldest retry first.
	ListPending(ctx context.Context, now time.Time, limit int) ([]*model.RewardOutbox, error)

	// MarkSent moves a row to SENT if it is still PENDING at the
	// retry count the publisher read. Returns false on a lost race.
	MarkSent(ctx context.Context, id uint64, expectedRetry int, sentAt time.Time) (bool, error)

	// MarkRetry schedules the next attempt. Returns false on a lost race.
	MarkRetry(ctx context.Context, id uint64, expectedRetry int, nextRetry time.Time, lastError string) (bool, error)

	// MarkFailed parks the row after retries are exhausted. Returns
	// false on a lost race.
	MarkFailed(ctx context.Context, id uint64, expectedRetry int, lastError string) (bool, error)

	// CountByStatus returns row counts per status.
	CountByStatus(ctx context.Context) (map[int8]int64, error)

	// ListOutBizNosLike returns the idempotency keys of every outbox
	// row whose key matches the LIKE pattern. The key embeds scene and
	// date, so the reconciler scopes its scan this way.
	ListOutBizNosLike(ctx context.Context, pattern string) ([]string, error)

	// WithTx returns a repository bound to the given transaction.
	WithTx(tx *gorm.DB) OutboxRepository
}

type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates an outbox repository
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) WithTx(tx *gorm.DB) OutboxRepository {
	return &outboxRepository{db: tx}
}

func (r *outboxRepository) Insert(ctx context.Context, row *model.RewardOutbox) (bool, error) {
	err := r.db.WithContext(ctx).Create(row).Error
	if err != nil {
		if database.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *outboxRepository) GetByOutBizNoAndEventType(ctx context.Context, outBizNo, eventType string) (*model.RewardOutbox, error) {
	var row model.RewardOutbox
	err := r.db.WithContext(ctx).
		Where("out_biz_no = ? AND event_type = ?", outBizNo, eventType).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *outboxRepository) ListPending(ctx context.Context, now time.Time, limit int) ([]*model.RewardOutbox, error) {
	var rows []*model.RewardOutbox
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_time <= ?", model.OutboxStatusPending, now).
		Order("next_retry_time ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *outboxRepository) MarkSent(ctx context.Context, id uint64, expectedRetry int, sentAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.RewardOutbox{}).
		Where("id = ? AND status = ? AND retry_count = ?", id, model.OutboxStatusPending, expectedRetry).
		Updates(map[string]interface{}{
			"status":  model.OutboxStatusSent,
			"sent_at": sentAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id uint64, expectedRetry int, nextRetry time.Time, lastError string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.RewardOutbox{}).
		Where("id = ? AND status = ? AND retry_count = ?", id, model.OutboxStatusPending, expectedRetry).
		Updates(map[string]interface{}{
			"retry_count":     expectedRetry + 1,
			"next_retry_time": nextRetry,
			"last_error":      lastError,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uint64, expectedRetry int, lastError string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.RewardOutbox{}).
		Where("id = ? AND status = ? AND retry_count = ?", id, model.OutboxStatusPending, expectedRetry).
		Updates(map[string]interface{}{
			"status":      model.OutboxStatusFailed,
			"retry_count": expectedRetry + 1,
			"last_error":  lastError,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *outboxRepository) ListOutBizNosLike(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).
		Model(&model.RewardOutbox{}).
		Where("out_biz_no LIKE ?", pattern).
		Order("id ASC").
		Pluck("out_biz_no", &keys).Error
	return keys, err
}

func (r *outboxRepository) CountByStatus(ctx context.Context) (map[int8]int64, error) {
	var rows []struct {
		Status int8
		Cnt    int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.RewardOutbox{}).
		Select("status, COUNT(*) AS cnt").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[int8]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Cnt
	}
	return counts, nil
}
