package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rewardflow/internal/feature"
	"rewardflow/internal/model"
	"rewardflow/internal/repository"
	"rewardflow/internal/rulecenter"
	"rewardflow/internal/service/award"
	"rewardflow/internal/service/rule"
)

type fakeDailyRepo struct {
	rows []*model.UserPlayDaily
}

func (f *fakeDailyRepo) Get(ctx context.Context, userID, scene, date string) (*model.UserPlayDaily, error) {
	return nil, nil
}

func (f *fakeDailyRepo) GetForUpdate(ctx context.Context, userID, scene, date string) (*model.UserPlayDaily, error) {
	return nil, nil
}

func (f *fakeDailyRepo) Create(ctx context.Context, row *model.UserPlayDaily) (bool, error) {
	return true, nil
}

func (f *fakeDailyRepo) UpdateTotals(ctx context.Context, id uint64, total, lastSync int64) error {
	return nil
}

func (f *fakeDailyRepo) ListBySceneDate(ctx context.Context, scene, date string, afterID uint64, limit int) ([]*model.UserPlayDaily, error) {
	var out []*model.UserPlayDaily
	for _, r := range f.rows {
		if r.BizScene == scene && r.BizDate == date && r.ID > afterID {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDailyRepo) WithTx(tx *gorm.DB) repository.DailyRepository { return f }

type fakeRewardRepo struct {
	keys []string
}

func (f *fakeRewardRepo) Insert(ctx context.Context, flow *model.RewardFlow) (bool, error) {
	return true, nil
}

func (f *fakeRewardRepo) GetByOutBizNo(ctx context.Context, outBizNo string) (*model.RewardFlow, error) {
	return nil, nil
}

func (f *fakeRewardRepo) ListByUserSceneDate(ctx context.Context, userID, scene, date string) ([]*model.RewardFlow, error) {
	return nil, nil
}

func (f *fakeRewardRepo) ListOutBizNosBySceneDate(ctx context.Context, scene, date string) ([]string, error) {
	return f.keys, nil
}

func (f *fakeRewardRepo) WithTx(tx *gorm.DB) repository.RewardRepository { return f }

type fakeOutboxRepo struct {
	keys []string
}

func (f *fakeOutboxRepo) Insert(ctx context.Context, row *model.RewardOutbox) (bool, error) {
	return true, nil
}

func (f *fakeOutboxRepo) GetByOutBizNoAndEventType(ctx context.Context, outBizNo, eventType string) (*model.RewardOutbox, error) {
	return nil, nil
}

func (f *fakeOutboxRepo) ListPending(ctx context.Context, now time.Time, limit int) ([]*model.RewardOutbox, error) {
	return nil, nil
}

func (f *fakeOutboxRepo) MarkSent(ctx context.Context, id uint64, expectedRetry int, sentAt time.Time) (bool, error) {
	return true, nil
}

func (f *fakeOutboxRepo) MarkRetry(ctx context.Context, id uint64, expectedRetry int, nextRetry time.Time, lastError string) (bool, error) {
	return true, nil
}

func (f *fakeOutboxRepo) MarkFailed(ctx context.Context, id uint64, expectedRetry int, lastError string) (bool, error) {
	return true, nil
}

func (f *fakeOutboxRepo) CountByStatus(ctx context.Context) (map[int8]int64, error) {
	return nil, nil
}

func (f *fakeOutboxRepo) ListOutBizNosLike(ctx context.Context, pattern string) ([]string, error) {
	// mimic the SQL LIKE scoping on the embedded scene and date
	needle := strings.Trim(pattern, "%")
	var out []string
	for _, k := range f.keys {
		if strings.Contains(k, needle) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeOutboxRepo) WithTx(tx *gorm.DB) repository.OutboxRepository { return f }

type fakeIssuer struct {
	flows map[string]*model.RewardFlow
}

func (f *fakeIssuer) Issue(ctx context.Context, ic award.IssueContext) (*award.IssueResult, error) {
	if existing, ok := f.flows[ic.OutBizNo]; ok {
		return &award.IssueResult{Issued: false, Flow: existing}, nil
	}
	flow := &model.RewardFlow{
		OutBizNo:  ic.OutBizNo,
		UserID:    ic.UserID,
		BizScene:  ic.BizScene,
		BizDate:   ic.BizDate,
		Stage:     ic.Stage,
		PrizeCode: ic.PrizeCode,
	}
	f.flows[ic.OutBizNo] = flow
	return &award.IssueResult{Issued: true, Flow: flow}, nil
}

func (f *fakeIssuer) AwardedSet(ctx context.Context, userID, scene, date string) (map[string]bool, error) {
	awarded := make(map[string]bool)
	for _, flow := range f.flows {
		if flow.UserID == userID && flow.BizScene == scene && flow.BizDate == date {
			awarded[rule.AwardKey(flow.PrizeCode, flow.Stage)] = true
		}
	}
	return awarded, nil
}

func testRules(t *testing.T) *rulecenter.Center {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	content := `{
		"version": "t1",
		"scenes": [{
			"biz_scene": "audio_play",
			"enabled": true,
			"active_version": "v1",
			"versions": [{
				"version": "v1",
				"stages": [{"stage": 1, "threshold": 100, "amount": 10, "prize_code": "COIN"}]
			}]
		}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	center, err := rulecenter.NewCenter(path)
	require.NoError(t, err)
	return center
}

func testFlags(t *testing.T, content string) *feature.Flags {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	flags, err := feature.NewFlags(path)
	require.NoError(t, err)
	return flags
}

func newService(t *testing.T, daily *fakeDailyRepo, reward *fakeRewardRepo, outbox *fakeOutboxRepo, issuer *fakeIssuer) *Service {
	t.Helper()
	return NewService(daily, reward, outbox, issuer, testRules(t),
		testFlags(t, `{"reconcile_enabled": true}`), "COIN")
}

func TestReconcile_ReportsGapsBothWays(t *testing.T) {
	reward := &fakeRewardRepo{keys: []string{
		"u1|COIN|audio_play|2026-08-28|1",
		"u2|COIN|audio_play|2026-08-28|1", // ledger row whose outbox write was lost
	}}
	outbox := &fakeOutboxRepo{keys: []string{
		"u1|COIN|audio_play|2026-08-28|1",
		"u9|COIN|audio_play|2026-08-28|1", // outbox row with no ledger entry
		"u1|COIN|audio_play|2026-08-27|1", // different day, out of scope
	}}
	svc := newService(t, &fakeDailyRepo{}, reward, outbox, &fakeIssuer{flows: map[string]*model.RewardFlow{}})

	report, err := svc.Reconcile(context.Background(), "audio_play", "2026-08-28", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.LedgerCount)
	assert.Equal(t, 2, report.OutboxCount)
	assert.Equal(t, 1, report.MissingOutbox)
	assert.Equal(t, 1, report.OrphanOutbox)
	assert.Equal(t, []string{"u2|COIN|audio_play|2026-08-28|1"}, report.MissingSamples)
	assert.Equal(t, []string{"u9|COIN|audio_play|2026-08-28|1"}, report.OrphanSamples)
}

func TestReconcile_SampleListIsBounded(t *testing.T) {
	reward := &fakeRewardRepo{}
	for _, u := range []string{"u1", "u2", "u3"} {
		reward.keys = append(reward.keys, u+"|COIN|audio_play|2026-08-28|1")
	}
	svc := newService(t, &fakeDailyRepo{}, reward, &fakeOutboxRepo{}, &fakeIssuer{flows: map[string]*model.RewardFlow{}})

	report, err := svc.Reconcile(context.Background(), "audio_play", "2026-08-28", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, report.MissingOutbox)
	assert.Len(t, report.MissingSamples, 2)
}

func TestReconcile_IsReadOnly(t *testing.T) {
	reward := &fakeRewardRepo{keys: []string{"u1|COIN|audio_play|2026-08-28|1"}}
	issuer := &fakeIssuer{flows: map[string]*model.RewardFlow{}}
	svc := newService(t, &fakeDailyRepo{}, reward, &fakeOutboxRepo{}, issuer)

	_, err := svc.Reconcile(context.Background(), "audio_play", "2026-08-28", 10)
	require.NoError(t, err)
	assert.Empty(t, issuer.flows)
}

func TestReconcile_UnknownScene(t *testing.T) {
	svc := newService(t, &fakeDailyRepo{}, &fakeRewardRepo{}, &fakeOutboxRepo{}, &fakeIssuer{flows: map[string]*model.RewardFlow{}})
	_, err := svc.Reconcile(context.Background(), "nope", "2026-08-28", 10)
	assert.Error(t, err)
}

func TestReconcile_DisabledByToggle(t *testing.T) {
	svc := NewService(&fakeDailyRepo{}, &fakeRewardRepo{}, &fakeOutboxRepo{},
		&fakeIssuer{flows: map[string]*model.RewardFlow{}}, testRules(t),
		testFlags(t, `{"reconcile_enabled": false}`), "COIN")

	_, err := svc.Reconcile(context.Background(), "audio_play", "2026-08-28", 10)
	assert.Error(t, err)
}

func TestHeal_IssuesMissedAwards(t *testing.T) {
	daily := &fakeDailyRepo{rows: []*model.UserPlayDaily{
		{ID: 1, UserID: "u1", BizScene: "audio_play", BizDate: "2026-08-28", TotalDuration: 150},
		{ID: 2, UserID: "u2", BizScene: "audio_play", BizDate: "2026-08-28", TotalDuration: 50},
	}}
	issuer := &fakeIssuer{flows: map[string]*model.RewardFlow{}}
	svc := newService(t, daily, &fakeRewardRepo{}, &fakeOutboxRepo{}, issuer)

	summary, err := svc.Heal(context.Background(), "audio_play", "2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.UsersChecked)
	assert.Equal(t, 1, summary.Healed)
	assert.Contains(t, issuer.flows, "u1|COIN|audio_play|2026-08-28|1")

	// a second pass finds nothing to heal
	summary, err = svc.Heal(context.Background(), "audio_play", "2026-08-28")
	require.NoError(t, err)
	assert.Zero(t, summary.Healed)
}
