package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupDailyMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
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

func TestDailyRepository_GetForUpdate(t *testing.T) {
	db, mock := setupDailyMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewDailyRepository(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "user_id", "biz_scene", "biz_date", "total_duration", "last_sync_time"}).
		AddRow(7, "u1", "audio_play", "2026-08-28", 120, 1756300000000)

	mock.ExpectQuery("SELECT \\* FROM `user_play_daily` WHERE user_id = \\? AND biz_scene = \\? AND biz_date = \\?.*FOR UPDATE").
		WithArgs("u1", "audio_play", "2026-08-28", 1).
		WillReturnRows(rows)

	row, err := repo.GetForUpdate(ctx, "u1", "audio_play", "2026-08-28")
	assert.NoError(t, err)
	assert.NotNil(t, row)
	assert.Equal(t, int64(120), row.TotalDuration)
	assert.Equal(t, int64(1756300000000), row.LastSyncTime)
}

func TestDailyRepository_GetForUpdate_NotFound(t *testing.T) {
	db, mock := setupDailyMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewDailyRepository(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT \\* FROM `user_play_daily`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	row, err := repo.GetForUpdate(ctx, "u1", "audio_play", "2026-08-28")
	assert.NoError(t, err)
	assert.Nil(t, row)
}

func TestDailyRepository_UpdateTotals(t *testing.T) {
	db, mock := setupDailyMockDB(t)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	repo := NewDailyRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `user_play_daily` SET .*`version`=version \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateTotals(ctx, 7, 150, 1756300050000)
	assert.NoError(t, err)
}
