package award

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"rewardflow/internal/model"
	"rewardflow/internal/repository"
)

func setupIssuer(t *testing.T) (*Issuer, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	registry := NewRegistry()
	registry.Register(&CoinHandler{})
	registry.Register(&CouponHandler{})

	issuer := NewIssuer(db,
		repository.NewRewardRepository(db),
		repository.NewOutboxRepository(db),
		registry)
	return issuer, mock
}

func coinContext() IssueContext {
	return IssueContext{
		UserID:      "u1",
		BizScene:    "audio_play",
		BizDate:     "2026-08-28",
		OutBizNo:    "u1|COIN|audio_play|2026-08-28|1",
		Stage:       1,
		Threshold:   100,
		Amount:      10,
		PrizeCode:   "COIN",
		RuleVersion: "v1",
	}
}

func TestIssuer_FirstGrant(t *testing.T) {
	issuer, mock := setupIssuer(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `reward_flow`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `reward_outbox`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := issuer.Issue(context.Background(), coinContext())
	require.NoError(t, err)
	assert.True(t, res.Issued)
	assert.NotEmpty(t, res.EventID)
	assert.Equal(t, "u1|COIN|audio_play|2026-08-28|1", res.Flow.OutBizNo)
}

func TestIssuer_ReplayIsIdempotent(t *testing.T) {
	issuer, mock := setupIssuer(t)

	flowRows := sqlmock.NewRows([]string{"id", "out_biz_no", "user_id", "biz_scene", "biz_date", "stage", "prize_code", "prize_amount"}).
		AddRow(9, "u1|COIN|audio_play|2026-08-28|1", "u1", "audio_play", "2026-08-28", 1, "COIN", 10)
	outboxRows := sqlmock.NewRows([]string{"id", "event_id", "out_biz_no", "event_type", "status"}).
		AddRow(4, "existing-event", "u1|COIN|audio_play|2026-08-28|1", model.EventTypeAwardCreated, model.OutboxStatusSent)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `reward_flow`").
		WillReturnError(&mysqldrv.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectQuery("SELECT \\* FROM `reward_flow` WHERE out_biz_no = \\?").
		WillReturnRows(flowRows)
	mock.ExpectExec("INSERT INTO `reward_outbox`").
		WillReturnError(&mysqldrv.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectQuery("SELECT \\* FROM `reward_outbox` WHERE out_biz_no = \\? AND event_type = \\?").
		WillReturnRows(outboxRows)
	mock.ExpectCommit()

	res, err := issuer.Issue(context.Background(), coinContext())
	require.NoError(t, err)
	assert.False(t, res.Issued)
	// the original event identity wins over the freshly minted one
	assert.Equal(t, "existing-event", res.EventID)
	assert.Equal(t, uint64(9), res.Flow.ID)
}

func TestIssuer_LedgerCrashHealsOutbox(t *testing.T) {
	issuer, mock := setupIssuer(t)

	// ledger row exists from a crashed attempt, outbox row does not
	flowRows := sqlmock.NewRows([]string{"id", "out_biz_no", "user_id", "stage", "prize_code", "prize_amount"}).
		AddRow(9, "u1|COIN|audio_play|2026-08-28|1", "u1", 1, "COIN", 10)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `reward_flow`").
		WillReturnError(&mysqldrv.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectQuery("SELECT \\* FROM `reward_flow` WHERE out_biz_no = \\?").
		WillReturnRows(flowRows)
	mock.ExpectExec("INSERT INTO `reward_outbox`").
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectCommit()

	res, err := issuer.Issue(context.Background(), coinContext())
	require.NoError(t, err)
	assert.False(t, res.Issued)
	assert.NotEmpty(t, res.EventID)
}

func TestIssuer_UnknownPrizeCode(t *testing.T) {
	issuer, _ := setupIssuer(t)

	ic := coinContext()
	ic.PrizeCode = "MYSTERY_BOX"
	_, err := issuer.Issue(context.Background(), ic)
	assert.Error(t, err)
}

func TestRegistry_Lookup(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&CoinHandler{})

	h, err := registry.Get("coin")
	require.NoError(t, err)
	assert.Equal(t, model.EventTypeAwardCreated, h.EventType())

	_, err = registry.Get("COUPON")
	assert.Error(t, err)
}
