package worker

import (
	"context"
	"time"

	"rewardflow/internal/config"
	"rewardflow/internal/feature"
	"rewardflow/internal/model"
	"rewardflow/internal/repository"
	"rewardflow/pkg/log"
	"rewardflow/pkg/queue"
)

// OutboxPublisher drains pending outbox rows to the message queue.
// Publish happens before the state transition, so a crash in between
// re-publishes the event; consumers deduplicate on eventId. Every
// transition is conditional on the row still being where the publisher
// read it, which makes concurrent publishers safe.
type OutboxPublisher struct {
	repo  repository.OutboxRepository
	q     queue.Queue
	flags *feature.Flags
	cfg   config.OutboxConfig
	now   func() time.Time
}

// NewOutboxPublisher creates the outbox publisher
func NewOutboxPublisher(repo repository.OutboxRepository, q queue.Queue, flags *feature.Flags, cfg config.OutboxConfig) *OutboxPublisher {
	return &OutboxPublisher{
		repo:  repo,
		q:     q,
		flags: flags,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Start runs the publish loop until ctx is cancelled.
func (p *OutboxPublisher) Start(ctx context.Context) {
	log.Infof("Outbox publisher started, interval=%dms batch=%d", p.cfg.ScanIntervalMs, p.cfg.BatchSize)

	select {
	case <-time.After(time.Duration(p.cfg.ScanInitialDelayMs) * time.Millisecond):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(time.Duration(p.cfg.ScanIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !p.flags.OutboxPublishEnabled() {
				continue
			}
			if _, err := p.PublishBatch(ctx); err != nil {
				log.Errorf("Outbox scan failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Outbox publisher stopped")
			return
		}
	}
}

// PublishBatch drains one batch of due rows. Returns how many events
// were handed to the queue.
func (p *OutboxPublisher) PublishBatch(ctx context.Context) (int, error) {
	rows, err := p.repo.ListPending(ctx, p.now(), p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, row := range rows {
		if p.publishOne(ctx, row) {
			published++
		}
	}
	return published, nil
}

func (p *OutboxPublisher) publishOne(ctx context.Context, row *model.RewardOutbox) bool {
	msg := queue.Message{
		RoutingKey: p.cfg.RoutingKey,
		Headers: map[string]string{
			"eventId":   row.EventID,
			"outBizNo":  row.OutBizNo,
			"eventType": row.EventType,
			"traceId":   row.TraceID,
		},
		Body: []byte(row.Payload),
	}

	if err := p.q.Publish(ctx, p.cfg.Topic, msg); err != nil {
		p.scheduleRetry(ctx, row, err)
		return false
	}

	updated, err := p.repo.MarkSent(ctx, row.ID, row.RetryCount, p.now())
	if err != nil {
		log.Errorf("MarkSent failed for event=%s: %v", row.EventID, err)
		return false
	}
	if !updated {
		// another publisher already advanced the row; the consumer
		// dedups the extra delivery
		log.Debugf("Lost publish race for event=%s", row.EventID)
	}
	return true
}

func (p *OutboxPublisher) scheduleRetry(ctx context.Context, row *model.RewardOutbox, cause error) {
	if row.RetryCount+1 > p.cfg.MaxRetry {
		updated, err := p.repo.MarkFailed(ctx, row.ID, row.RetryCount, cause.Error())
		if err != nil {
			log.Errorf("MarkFailed failed for event=%s: %v", row.EventID, err)
			return
		}
		if updated {
			log.Errorf("Outbox event parked after %d retries: event=%s out_biz_no=%s",
				row.RetryCount+1, row.EventID, row.OutBizNo)
		}
		return
	}

	next := p.now().Add(p.backoff(row.RetryCount))
	if _, err := p.repo.MarkRetry(ctx, row.ID, row.RetryCount, next, cause.Error()); err != nil {
		log.Errorf("MarkRetry failed for event=%s: %v", row.EventID, err)
	}
}

// backoff doubles per attempt from the base, capped both in exponent
// and in absolute seconds.
func (p *OutboxPublisher) backoff(retryCount int) time.Duration {
	exp := retryCount
	if exp > 10 {
		exp = 10
	}
	seconds := p.cfg.BaseBackoffSeconds << uint(exp)
	if seconds > p.cfg.BackoffCapSeconds {
		seconds = p.cfg.BackoffCapSeconds
	}
	return time.Duration(seconds) * time.Second
}
