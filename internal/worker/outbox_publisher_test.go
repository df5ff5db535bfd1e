package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rewardflow/internal/config"
	"rewardflow/internal/feature"
	"rewardflow/internal/model"
	"rewardflow/internal/repository"
	"rewardflow/pkg/queue"
)

type memOutboxRepo struct {
	rows map[uint64]*model.RewardOutbox
}

func newMemOutboxRepo(rows ...*model.RewardOutbox) *memOutboxRepo {
	m := &memOutboxRepo{rows: make(map[uint64]*model.RewardOutbox)}
	for _, r := range rows {
		m.rows[r.ID] = r
	}
	return m
}

func (m *memOutboxRepo) Insert(ctx context.Context, row *model.RewardOutbox) (bool, error) {
	m.rows[row.ID] = row
	return true, nil
}

func (m *memOutboxRepo) GetByOutBizNoAndEventType(ctx context.Context, outBizNo, eventType string) (*model.RewardOutbox, error) {
	return nil, nil
}

func (m *memOutboxRepo) ListPending(ctx context.Context, now time.Time, limit int) ([]*model.RewardOutbox, error) {
	var out []*model.RewardOutbox
	for _, r := range m.rows {
		if r.Status == model.OutboxStatusPending && !r.NextRetryTime.After(now) {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memOutboxRepo) MarkSent(ctx context.Context, id uint64, expectedRetry int, sentAt time.Time) (bool, error) {
	r, ok := m.rows[id]
	if !ok || r.Status != model.OutboxStatusPending || r.RetryCount != expectedRetry {
		return false, nil
	}
	r.Status = model.OutboxStatusSent
	r.SentAt = &sentAt
	return true, nil
}

func (m *memOutboxRepo) MarkRetry(ctx context.Context, id uint64, expectedRetry int, nextRetry time.Time, lastError string) (bool, error) {
	r, ok := m.rows[id]
	if !ok || r.Status != model.OutboxStatusPending || r.RetryCount != expectedRetry {
		return false, nil
	}
	r.RetryCount = expectedRetry + 1
	r.NextRetryTime = nextRetry
	r.LastError = lastError
	return true, nil
}

func (m *memOutboxRepo) MarkFailed(ctx context.Context, id uint64, expectedRetry int, lastError string) (bool, error) {
	r, ok := m.rows[id]
	if !ok || r.Status != model.OutboxStatusPending || r.RetryCount != expectedRetry {
		return false, nil
	}
	r.Status = model.OutboxStatusFailed
	r.RetryCount = expectedRetry + 1
	r.LastError = lastError
	return true, nil
}

func (m *memOutboxRepo) ListOutBizNosLike(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}

func (m *memOutboxRepo) CountByStatus(ctx context.Context) (map[int8]int64, error) {
	counts := make(map[int8]int64)
	for _, r := range m.rows {
		counts[r.Status]++
	}
	return counts, nil
}

func (m *memOutboxRepo) WithTx(tx *gorm.DB) repository.OutboxRepository { return m }

type brokenQueue struct{}

func (brokenQueue) Publish(ctx context.Context, topic string, msg queue.Message) error {
	return errors.New("broker unavailable")
}
func (brokenQueue) Subscribe(ctx context.Context, topic string, h queue.MessageHandler) error {
	return nil
}
func (brokenQueue) Close() error  { return nil }
func (brokenQueue) Health() error { return nil }

func testFlags(t *testing.T) *feature.Flags {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"outbox_publish_enabled": true}`), 0o644))
	flags, err := feature.NewFlags(path)
	require.NoError(t, err)
	return flags
}

func outboxCfg() config.OutboxConfig {
	return config.OutboxConfig{
		ScanIntervalMs:     2000,
		BatchSize:          100,
		MaxRetry:           3,
		BaseBackoffSeconds: 2,
		BackoffCapSeconds:  300,
		Topic:              "rewardflow.award",
		RoutingKey:         "award.created",
	}
}

func pendingRow(id uint64) *model.RewardOutbox {
	return &model.RewardOutbox{
		ID:            id,
		EventID:       "e1",
		OutBizNo:      "u1|COIN|audio_play|2026-08-28|1",
		EventType:     model.EventTypeAwardCreated,
		TraceID:       "trace-1",
		Payload:       `{"stage":1}`,
		Status:        model.OutboxStatusPending,
		NextRetryTime: time.Now().Add(-time.Second),
	}
}

func TestPublishBatch_DeliversAndMarksSent(t *testing.T) {
	repo := newMemOutboxRepo(pendingRow(1))
	mq, err := queue.NewMemoryQueue(nil)
	require.NoError(t, err)
	defer mq.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan queue.Message, 1)
	require.NoError(t, mq.Subscribe(ctx, "rewardflow.award", func(ctx context.Context, topic string, msg queue.Message) error {
		received <- msg
		return nil
	}))

	pub := NewOutboxPublisher(repo, mq, testFlags(t), outboxCfg())
	published, err := pub.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	select {
	case msg := <-received:
		assert.Equal(t, "e1", msg.Headers["eventId"])
		assert.Equal(t, "u1|COIN|audio_play|2026-08-28|1", msg.Headers["outBizNo"])
		assert.Equal(t, "trace-1", msg.Headers["traceId"])
		assert.Equal(t, "award.created", msg.RoutingKey)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	assert.Equal(t, int8(model.OutboxStatusSent), repo.rows[1].Status)

	// a second batch finds nothing pending
	published, err = pub.PublishBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
}

func TestPublishBatch_RetriesWithBackoff(t *testing.T) {
	repo := newMemOutboxRepo(pendingRow(1))
	pub := NewOutboxPublisher(repo, brokenQueue{}, testFlags(t), outboxCfg())
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return base }

	_, err := pub.PublishBatch(context.Background())
	require.NoError(t, err)

	row := repo.rows[1]
	assert.Equal(t, int8(model.OutboxStatusPending), row.Status)
	assert.Equal(t, 1, row.RetryCount)
	assert.Equal(t, base.Add(2*time.Second), row.NextRetryTime)
	assert.Contains(t, row.LastError, "broker unavailable")

	// second failure doubles the backoff
	row.NextRetryTime = base.Add(-time.Second)
	_, err = pub.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, row.RetryCount)
	assert.Equal(t, base.Add(4*time.Second), row.NextRetryTime)
}

func TestPublishBatch_ParksAfterMaxRetry(t *testing.T) {
	row := pendingRow(1)
	row.RetryCount = 3 // already at the limit
	repo := newMemOutboxRepo(row)
	pub := NewOutboxPublisher(repo, brokenQueue{}, testFlags(t), outboxCfg())

	_, err := pub.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int8(model.OutboxStatusFailed), row.Status)
	assert.Equal(t, 4, row.RetryCount)
}

func TestBackoff_Capped(t *testing.T) {
	pub := NewOutboxPublisher(newMemOutboxRepo(), brokenQueue{}, testFlags(t), outboxCfg())

	assert.Equal(t, 2*time.Second, pub.backoff(0))
	assert.Equal(t, 8*time.Second, pub.backoff(2))
	assert.Equal(t, 300*time.Second, pub.backoff(9))
	// exponent stops growing past 10
	assert.Equal(t, pub.backoff(10), pub.backoff(50))
}
