package agg

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rewardflow/internal/feature"
	rfredis "rewardflow/internal/redis"
	"rewardflow/pkg/log"
)

// Router decides per report which aggregation path runs. High-frequency
// reporters go buffered; everyone else takes the direct path. A user
// whose buffer still holds unflushed duration stays buffered no matter
// what the toggles say, so nothing strands in Redis when a rollout is
// pulled back.
type Router struct {
	client             *redis.Client
	buf                *rfredis.AggBuffer
	flags              *feature.Flags
	thresholdPerMinute int64
	hotWindow          time.Duration
}

// NewRouter creates the path router
func NewRouter(client *redis.Client, buf *rfredis.AggBuffer, flags *feature.Flags, thresholdPerMinute int64, hotWindow time.Duration) *Router {
	return &Router{
		client:             client,
		buf:                buf,
		flags:              flags,
		thresholdPerMinute: thresholdPerMinute,
		hotWindow:          hotWindow,
	}
}

// UseBuffered reports whether this report should take the buffered
// path. Routing degrades to direct on any Redis trouble.
func (r *Router) UseBuffered(ctx context.Context, userID, bizScene, bizDate string, minuteBucket int64) bool {
	residue, err := r.buf.HasResidue(ctx, rfredis.KeyFor(bizScene, bizDate, userID))
	if err != nil {
		log.Warnf("Residue check degraded for user=%s: %v", userID, err)
		return false
	}
	if residue {
		return true
	}

	if !r.flags.BufferedAggFor(bizScene) {
		return false
	}

	sceneSeg := base64.RawURLEncoding.EncodeToString([]byte(bizScene))
	userSeg := base64.RawURLEncoding.EncodeToString([]byte(userID))
	flagKey := fmt.Sprintf("rf:play:hot:flag:%s:%s", sceneSeg, userSeg)

	hot, err := r.client.Exists(ctx, flagKey).Result()
	if err != nil {
		log.Warnf("Hot flag check degraded for user=%s: %v", userID, err)
		return false
	}
	if hot > 0 {
		return true
	}

	cntKey := fmt.Sprintf("rf:play:hot:cnt:%s:%s:%d", sceneSeg, userSeg, minuteBucket)
	pipe := r.client.Pipeline()
	cntCmd := pipe.Incr(ctx, cntKey)
	pipe.Expire(ctx, cntKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("Hot counter degraded for user=%s: %v", userID, err)
		return false
	}

	if cntCmd.Val() >= r.thresholdPerMinute {
		// sticky: once hot, the user stays buffered for the window
		if err := r.client.Set(ctx, flagKey, 1, r.hotWindow).Err(); err != nil {
			log.Warnf("Hot flag set failed for user=%s: %v", userID, err)
			return false
		}
		return true
	}
	return false
}
