package model

import "time"

// UserPlayDaily is the per-user per-scene per-day total. LastSyncTime
// is the high-water mark: reports at or below it contribute nothing on
// replay, which is what makes aggregation idempotent.
type UserPlayDaily struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_user_scene_date,priority:1" json:"user_id"`
	BizScene      string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_user_scene_date,priority:2" json:"biz_scene"`
	BizDate       string    `gorm:"type:varchar(10);not null;uniqueIndex:uk_user_scene_date,priority:3" json:"biz_date"`
	TotalDuration int64     `gorm:"type:bigint;not null;default:0" json:"total_duration"`
	LastSyncTime  int64     `gorm:"type:bigint;not null;default:0" json:"last_sync_time"`
	Version       int64     `gorm:"type:bigint;not null;default:0" json:"version"`
	CreatedAt     time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (UserPlayDaily) TableName() string {
	return "user_play_daily"
}
