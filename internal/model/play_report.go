package model

import "time"

// PlayDurationReport is one accepted play report. The unique index on
// (user_id, sound_id, sync_time) is the durable dedup backstop behind
// the Redis dedup key.
type PlayDurationReport struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_user_sound_sync,priority:1" json:"user_id"`
	SoundID   string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_user_sound_sync,priority:2" json:"sound_id"`
	BizScene  string    `gorm:"type:varchar(64);not null;index:idx_scene_date" json:"biz_scene"`
	BizDate   string    `gorm:"type:varchar(10);not null;index:idx_scene_date" json:"biz_date"`
	Duration  int       `gorm:"type:int;not null" json:"duration"`
	SyncTime  int64     `gorm:"type:bigint;not null;uniqueIndex:uk_user_sound_sync,priority:3" json:"sync_time"`
	AggMode   string    `gorm:"type:varchar(16);not null;default:'direct';index:idx_user_scene_date_mode" json:"agg_mode"`
	TraceID   string    `gorm:"type:varchar(64)" json:"trace_id"`
	CreatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName set name
func (PlayDurationReport) TableName() string {
	return "play_duration_report"
}

// AggMode marks which aggregation path consumed a report. The direct
// scan only sums rows it owns so a user flipping between paths is never
// counted twice.
const (
	AggModeDirect   = "direct"
	AggModeBuffered = "buffered"
)
