package risk

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rewardflow/internal/config"
	"rewardflow/pkg/log"
	"rewardflow/pkg/utils"
)

// Service screens reports before they touch the pipeline: static
// validation, short-window dedup, and per-user minute limits.
type Service struct {
	client *redis.Client
	cfg    config.ReportConfig
}

// NewService creates a risk service
func NewService(client *redis.Client, cfg config.ReportConfig) *Service {
	return &Service{client: client, cfg: cfg}
}

// Validate checks the static report fields.
func (s *Service) Validate(duration int, syncTime, nowMs int64) error {
	if duration <= 0 || duration > s.cfg.MaxDurationPerReport {
		return utils.NewBizError(utils.CodeInvalidDuration,
			fmt.Sprintf("duration must be in (0, %d]", s.cfg.MaxDurationPerReport))
	}
	skew := nowMs - syncTime
	if skew < 0 {
		skew = -skew
	}
	if syncTime <= 0 || skew > s.cfg.MaxClockSkewMs {
		return utils.NewBizError(utils.CodeInvalidSyncTime, "sync time is out of the allowed clock skew")
	}
	return nil
}

// TryAcquireDedup claims the (scene, user, sound, syncTime) slot.
// Returns false when a replica of this report was seen within the
// dedup TTL. Redis trouble degrades to letting the report through:
// the unique index on the report table is the durable backstop.
func (s *Service) TryAcquireDedup(ctx context.Context, bizScene, userID, soundID string, syncTime int64) bool {
	if !s.cfg.DedupEnabled {
		return true
	}
	key := dedupKey(bizScene, userID, soundID, syncTime)
	ok, err := s.client.SetNX(ctx, key, 1, time.Duration(s.cfg.DedupTTLSeconds)*time.Second).Result()
	if err != nil {
		log.Warnf("Dedup check degraded for user=%s: %v", userID, err)
		return true
	}
	return ok
}

// CheckMinuteLimits enforces the per-user per-minute report count and
// duration caps. Counters ride in Redis with a two minute expiry so
// they clean themselves up.
func (s *Service) CheckMinuteLimits(ctx context.Context, userID string, duration int, minuteBucket int64) error {
	userSeg := base64.RawURLEncoding.EncodeToString([]byte(userID))
	cntKey := fmt.Sprintf("rf:play:rl:cnt:%s:%d", userSeg, minuteBucket)
	durKey := fmt.Sprintf("rf:play:rl:dur:%s:%d", userSeg, minuteBucket)

	pipe := s.client.Pipeline()
	cntCmd := pipe.Incr(ctx, cntKey)
	pipe.Expire(ctx, cntKey, 2*time.Minute)
	durCmd := pipe.IncrBy(ctx, durKey, int64(duration))
	pipe.Expire(ctx, durKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("Minute limits degraded for user=%s: %v", userID, err)
		return nil
	}

	if cntCmd.Val() > s.cfg.MaxReportsPerMinute {
		return utils.NewBizError(utils.CodeTooManyReports, "too many reports this minute")
	}
	if durCmd.Val() > s.cfg.MaxDurationPerMinute {
		return utils.NewBizError(utils.CodeTooMuchDuration, "too much duration this minute")
	}
	return nil
}

func dedupKey(bizScene, userID, soundID string, syncTime int64) string {
	return fmt.Sprintf("rf:play:dedup:%s:%s:%s:%d",
		base64.RawURLEncoding.EncodeToString([]byte(bizScene)),
		base64.RawURLEncoding.EncodeToString([]byte(userID)),
		base64.RawURLEncoding.EncodeToString([]byte(soundID)),
		syncTime)
}
