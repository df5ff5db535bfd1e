package agg

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"rewardflow/internal/model"
	rfredis "rewardflow/internal/redis"
	"rewardflow/internal/repository"
	"rewardflow/pkg/log"
)

// DailyStore lands one reserved delta in the database and returns the
// canonical totals. The delta is added unconditionally; the watermark
// only ever moves forward.
type DailyStore interface {
	ApplyDelta(ctx context.Context, userID, bizScene, bizDate string, delta, maxSync int64) (total, lastSync int64, err error)

	// Totals reads the current totals without locking, zero when the
	// row does not exist yet.
	Totals(ctx context.Context, userID, bizScene, bizDate string) (total, lastSync int64, err error)
}

// GormDailyStore is the production DailyStore on top of the daily
// repository.
type GormDailyStore struct {
	db        *gorm.DB
	dailyRepo repository.DailyRepository
}

// NewGormDailyStore creates a DailyStore on the given database
func NewGormDailyStore(db *gorm.DB, dailyRepo repository.DailyRepository) *GormDailyStore {
	return &GormDailyStore{db: db, dailyRepo: dailyRepo}
}

func (s *GormDailyStore) ApplyDelta(ctx context.Context, userID, bizScene, bizDate string, delta, maxSync int64) (int64, int64, error) {
	var total, lastSync int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		daily := s.dailyRepo.WithTx(tx)
		row, err := lockOrCreateDaily(ctx, daily, userID, bizScene, bizDate)
		if err != nil {
			return err
		}

		total = row.TotalDuration + delta
		lastSync = row.LastSyncTime
		if maxSync > lastSync {
			lastSync = maxSync
		}
		return daily.UpdateTotals(ctx, row.ID, total, lastSync)
	})
	return total, lastSync, err
}

func (s *GormDailyStore) Totals(ctx context.Context, userID, bizScene, bizDate string) (int64, int64, error) {
	row, err := s.dailyRepo.Get(ctx, userID, bizScene, bizDate)
	if err != nil {
		return 0, 0, err
	}
	if row == nil {
		return 0, 0, nil
	}
	return row.TotalDuration, row.LastSyncTime, nil
}

// Buffer is the asynchronous aggregation path: reports accumulate in
// Redis and a flusher drains dirty keys to the database through the
// reserve/commit/rollback protocol.
type Buffer struct {
	buf               *rfredis.AggBuffer
	store             DailyStore
	inflightTimeoutMs int64
	flushDebounceMs   int64
	flushBatchSize    int
}

// NewBuffer creates the buffered aggregator. flushDebounceMs is how
// long a key must sit untouched in the dirty set before it flushes.
func NewBuffer(buf *rfredis.AggBuffer, store DailyStore, inflightTimeoutMs, flushDebounceMs int64, flushBatchSize int) *Buffer {
	return &Buffer{
		buf:               buf,
		store:             store,
		inflightTimeoutMs: inflightTimeoutMs,
		flushDebounceMs:   flushDebounceMs,
		flushBatchSize:    flushBatchSize,
	}
}

// Record folds one report into the buffer and returns the best-effort
// running total plus the delta actually applied, zero when the report
// is behind the confirmed watermark. A fresh buffer is seeded from the
// daily row first so the watermark carries across restarts and path
// flips.
func (b *Buffer) Record(ctx context.Context, userID, bizScene, bizDate string, duration int, syncTime, nowMs int64) (int64, int64, error) {
	key := rfredis.KeyFor(bizScene, bizDate, userID)

	exists, err := b.buf.Exists(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	if !exists {
		total, lastSync, err := b.store.Totals(ctx, userID, bizScene, bizDate)
		if err != nil {
			return 0, 0, err
		}
		if err := b.buf.SeedBase(ctx, key, total, lastSync); err != nil {
			return 0, 0, err
		}
	}

	return b.buf.Record(ctx, key, duration, syncTime, nowMs)
}

// HasResidue reports whether unflushed duration remains for one
// (user, scene, day).
func (b *Buffer) HasResidue(ctx context.Context, userID, bizScene, bizDate string) (bool, error) {
	return b.buf.HasResidue(ctx, rfredis.KeyFor(bizScene, bizDate, userID))
}

// TotalBestEffort reads the running total including unflushed deltas.
// ok is false when no buffer hash exists for the key; the caller falls
// back to the daily row then.
func (b *Buffer) TotalBestEffort(ctx context.Context, userID, bizScene, bizDate string) (total int64, ok bool, err error) {
	key := rfredis.KeyFor(bizScene, bizDate, userID)
	exists, err := b.buf.Exists(ctx, key)
	if err != nil || !exists {
		return 0, false, err
	}
	total, err = b.buf.Totals(ctx, key)
	if err != nil {
		return 0, false, err
	}
	return total, true, nil
}

// FlushOnce drains one batch of dirty keys that have aged past the
// debounce. Returns how many keys committed; per-key failures roll
// back and are retried next round.
func (b *Buffer) FlushOnce(ctx context.Context, nowMs int64) (int, error) {
	keys, err := b.buf.DirtyBatch(ctx, nowMs-b.flushDebounceMs, b.flushBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to scan dirty set: %w", err)
	}

	flushed := 0
	for _, key := range keys {
		if err := b.flushKey(ctx, key, nowMs); err != nil {
			log.Errorf("Flush failed for %s: %v", key, err)
			continue
		}
		flushed++
	}
	return flushed, nil
}

func (b *Buffer) flushKey(ctx context.Context, key string, nowMs int64) error {
	bizScene, bizDate, userID, err := rfredis.ParseKey(key)
	if err != nil {
		return err
	}

	delta, maxSync, err := b.buf.Reserve(ctx, key, nowMs, b.inflightTimeoutMs)
	if err != nil {
		return err
	}
	if delta == 0 {
		return nil
	}

	total, lastSync, err := b.store.ApplyDelta(ctx, userID, bizScene, bizDate, delta, maxSync)
	if err != nil {
		if rbErr := b.buf.Rollback(ctx, key, nowMs); rbErr != nil {
			log.Errorf("Rollback failed for %s: %v", key, rbErr)
		}
		return err
	}

	return b.buf.Commit(ctx, key, total, lastSync)
}

// ReportMode returns the agg_mode tag for rows consumed by this path.
func (b *Buffer) ReportMode() string {
	return model.AggModeBuffered
}
