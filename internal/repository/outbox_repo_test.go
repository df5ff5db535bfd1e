package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"rewardflow/internal/model"
)

func setupOutboxMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open gorm DB: %v", err)
	}

	return gormDB, mock
}

func TestOutboxRepository_ListPending(t *testing.T) {
	db, mock := setupOutboxMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewOutboxRepository(db)
	ctx := context.Background()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "event_id", "out_biz_no", "event_type", "payload", "status", "retry_count"}).
		AddRow(1, "e1", "u1|COIN|audio_play|2026-08-28|1", model.EventTypeAwardCreated, "{}", model.OutboxStatusPending, 0)

	mock.ExpectQuery("SELECT \\* FROM `reward_outbox` WHERE status = \\? AND next_retry_time <= \\?").
		WithArgs(model.OutboxStatusPending, sqlmock.AnyArg()).
		WillReturnRows(rows)

	pending, err := repo.ListPending(ctx, now, 100)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, "e1", pending[0].EventID)
}

func TestOutboxRepository_MarkSent_LostRace(t *testing.T) {
	db, mock := setupOutboxMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewOutboxRepository(db)
	ctx := context.Background()

	// another publisher already advanced the row, zero rows match
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `reward_outbox` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	updated, err := repo.MarkSent(ctx, 1, 0, time.Now())
	assert.NoError(t, err)
	assert.False(t, updated)
}

func TestOutboxRepository_MarkRetry(t *testing.T) {
	db, mock := setupOutboxMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewOutboxRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `reward_outbox` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.MarkRetry(ctx, 1, 2, time.Now().Add(8*time.Second), "broker unavailable")
	assert.NoError(t, err)
	assert.True(t, updated)
}

func TestOutboxRepository_CountByStatus(t *testing.T) {
	db, mock := setupOutboxMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewOutboxRepository(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"status", "cnt"}).
		AddRow(model.OutboxStatusPending, 3).
		AddRow(model.OutboxStatusSent, 10)

	mock.ExpectQuery("SELECT status, COUNT\\(\\*\\) AS cnt FROM `reward_outbox` GROUP BY `status`").
		WillReturnRows(rows)

	counts, err := repo.CountByStatus(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), counts[model.OutboxStatusPending])
	assert.Equal(t, int64(10), counts[model.OutboxStatusSent])
}
