package agg

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rfredis "rewardflow/internal/redis"
)

// fakeDailyStore mirrors the real store: the delta is added
// unconditionally and the watermark only moves forward.
type fakeDailyStore struct {
	total    int64
	lastSync int64
	applyErr error
	applies  int
}

func (f *fakeDailyStore) ApplyDelta(ctx context.Context, userID, bizScene, bizDate string, delta, maxSync int64) (int64, int64, error) {
	if f.applyErr != nil {
		return 0, 0, f.applyErr
	}
	f.applies++
	f.total += delta
	if maxSync > f.lastSync {
		f.lastSync = maxSync
	}
	return f.total, f.lastSync, nil
}

func (f *fakeDailyStore) Totals(ctx context.Context, userID, bizScene, bizDate string) (int64, int64, error) {
	return f.total, f.lastSync, nil
}

func newTestBufferPath(t *testing.T) (*Buffer, *fakeDailyStore, *rfredis.AggBuffer) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	aggBuf := rfredis.NewAggBuffer(client, 24*time.Hour)
	store := &fakeDailyStore{}
	return NewBuffer(aggBuf, store, 30_000, 1000, 200), store, aggBuf
}

func TestBuffer_RecordSeedsFromStore(t *testing.T) {
	buf, store, _ := newTestBufferPath(t)
	ctx := context.Background()
	store.total = 100
	store.lastSync = 1000

	total, _, err := buf.Record(ctx, "u1", "audio_play", "2026-08-28", 30, 2000, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(130), total)

	// a report at or below the seeded watermark adds nothing
	total, _, err = buf.Record(ctx, "u1", "audio_play", "2026-08-28", 30, 1000, 6000)
	require.NoError(t, err)
	assert.Equal(t, int64(130), total)
}

func TestBuffer_FlushOnceCommits(t *testing.T) {
	buf, store, _ := newTestBufferPath(t)
	ctx := context.Background()

	_, _, err := buf.Record(ctx, "u1", "audio_play", "2026-08-28", 30, 2000, 5000)
	require.NoError(t, err)
	_, _, err = buf.Record(ctx, "u1", "audio_play", "2026-08-28", 20, 3000, 5500)
	require.NoError(t, err)

	flushed, err := buf.FlushOnce(ctx, 7000)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Equal(t, int64(50), store.total)
	assert.Equal(t, int64(3000), store.lastSync)

	residue, err := buf.HasResidue(ctx, "u1", "audio_play", "2026-08-28")
	require.NoError(t, err)
	assert.False(t, residue)

	// nothing left to flush
	flushed, err = buf.FlushOnce(ctx, 8000)
	require.NoError(t, err)
	assert.Zero(t, flushed)
}

func TestBuffer_FlushDebouncesRecentWrites(t *testing.T) {
	buf, store, _ := newTestBufferPath(t)
	ctx := context.Background()

	_, _, err := buf.Record(ctx, "u1", "audio_play", "2026-08-28", 30, 2000, 5000)
	require.NoError(t, err)

	// the key was written 500ms ago, inside the debounce window
	flushed, err := buf.FlushOnce(ctx, 5500)
	require.NoError(t, err)
	assert.Zero(t, flushed)
	assert.Zero(t, store.total)

	// once the write is a full debounce old it flushes
	flushed, err = buf.FlushOnce(ctx, 6000)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Equal(t, int64(30), store.total)
}

func TestBuffer_TotalBestEffortIncludesPending(t *testing.T) {
	buf, store, _ := newTestBufferPath(t)
	ctx := context.Background()

	// no hash yet, the caller falls back to the daily row
	_, ok, err := buf.TotalBestEffort(ctx, "u1", "audio_play", "2026-08-28")
	require.NoError(t, err)
	assert.False(t, ok)

	store.total = 100
	store.lastSync = 1000
	_, _, err = buf.Record(ctx, "u1", "audio_play", "2026-08-28", 30, 2000, 5000)
	require.NoError(t, err)

	total, ok, err := buf.TotalBestEffort(ctx, "u1", "audio_play", "2026-08-28")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(130), total)
}

func TestBuffer_FlushFailureRollsBackAndRetries(t *testing.T) {
	buf, store, _ := newTestBufferPath(t)
	ctx := context.Background()

	_, _, err := buf.Record(ctx, "u1", "audio_play", "2026-08-28", 40, 2000, 5000)
	require.NoError(t, err)

	store.applyErr = assert.AnError
	flushed, err := buf.FlushOnce(ctx, 6000)
	require.NoError(t, err)
	assert.Zero(t, flushed)
	assert.Zero(t, store.total)

	residue, err := buf.HasResidue(ctx, "u1", "audio_play", "2026-08-28")
	require.NoError(t, err)
	assert.True(t, residue)

	store.applyErr = nil
	flushed, err = buf.FlushOnce(ctx, 7000)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Equal(t, int64(40), store.total)
}

func TestBuffer_CrashedFlusherLosesNothing(t *testing.T) {
	buf, store, aggBuf := newTestBufferPath(t)
	ctx := context.Background()
	key := rfredis.KeyFor("audio_play", "2026-08-28", "u1")

	_, _, err := buf.Record(ctx, "u1", "audio_play", "2026-08-28", 40, 2000, 5000)
	require.NoError(t, err)

	// a flusher reserves the delta and dies before touching the DB
	delta, _, err := aggBuf.Reserve(ctx, key, 6000, 30_000)
	require.NoError(t, err)
	assert.Equal(t, int64(40), delta)

	// within the timeout the reservation is honored and nothing lands
	_, err = buf.FlushOnce(ctx, 10_000)
	require.NoError(t, err)
	assert.Zero(t, store.total)

	// after the timeout the stale reservation folds back and lands once
	flushed, err := buf.FlushOnce(ctx, 6000+31_000)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Equal(t, int64(40), store.total)
	assert.Equal(t, int64(2000), store.lastSync)

	// nothing further to apply
	_, err = buf.FlushOnce(ctx, 6000+32_000)
	require.NoError(t, err)
	assert.Equal(t, 1, store.applies)
}
