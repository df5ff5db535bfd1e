package risk

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardflow/internal/config"
	"rewardflow/pkg/utils"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewService(client, config.ReportConfig{
		MaxDurationPerReport: 60,
		MaxClockSkewMs:       300_000,
		DedupEnabled:         true,
		DedupTTLSeconds:      172_800,
		MaxReportsPerMinute:  3,
		MaxDurationPerMinute: 100,
	})
}

func TestValidate(t *testing.T) {
	s := newTestService(t)
	now := int64(1_756_300_000_000)

	assert.NoError(t, s.Validate(30, now, now))

	err := s.Validate(0, now, now)
	biz, ok := utils.AsBizError(err)
	require.True(t, ok)
	assert.Equal(t, utils.CodeInvalidDuration, biz.Code)

	err = s.Validate(61, now, now)
	biz, _ = utils.AsBizError(err)
	assert.Equal(t, utils.CodeInvalidDuration, biz.Code)

	// small clock skew is tolerated in both directions
	assert.NoError(t, s.Validate(30, now+200_000, now))
	assert.NoError(t, s.Validate(30, now-200_000, now))

	err = s.Validate(30, now+400_000, now)
	biz, _ = utils.AsBizError(err)
	assert.Equal(t, utils.CodeInvalidSyncTime, biz.Code)

	// a stale timestamp far in the past is rejected the same way
	err = s.Validate(30, now-864_000_000, now)
	biz, _ = utils.AsBizError(err)
	assert.Equal(t, utils.CodeInvalidSyncTime, biz.Code)
}

func TestTryAcquireDedup(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	assert.True(t, s.TryAcquireDedup(ctx, "audio_play", "u1", "s1", 1000))
	assert.False(t, s.TryAcquireDedup(ctx, "audio_play", "u1", "s1", 1000))

	// different sync time is a different report
	assert.True(t, s.TryAcquireDedup(ctx, "audio_play", "u1", "s1", 2000))

	// the same report in another scene counts separately
	assert.True(t, s.TryAcquireDedup(ctx, "video_play", "u1", "s1", 1000))
}

func TestCheckMinuteLimits_ReportCount(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.NoError(t, s.CheckMinuteLimits(ctx, "u1", 10, 100))
	}
	err := s.CheckMinuteLimits(ctx, "u1", 10, 100)
	biz, ok := utils.AsBizError(err)
	require.True(t, ok)
	assert.Equal(t, utils.CodeTooManyReports, biz.Code)

	// a new minute bucket starts fresh
	assert.NoError(t, s.CheckMinuteLimits(ctx, "u1", 10, 101))
}

func TestCheckMinuteLimits_DurationCap(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, s.CheckMinuteLimits(ctx, "u2", 60, 100))
	err := s.CheckMinuteLimits(ctx, "u2", 60, 100)
	biz, ok := utils.AsBizError(err)
	require.True(t, ok)
	assert.Equal(t, utils.CodeTooMuchDuration, biz.Code)
}
