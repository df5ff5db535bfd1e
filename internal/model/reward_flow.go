package model

import (
	"fmt"
	"time"
)

// RewardFlow is the issuance ledger. One row per granted award, keyed
// by OutBizNo; the unique index is what enforces at-most-once issuance
// across concurrent reports and retries.
type RewardFlow struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	OutBizNo    string    `gorm:"type:varchar(256);not null;uniqueIndex:uk_out_biz_no" json:"out_biz_no"`
	UserID      string    `gorm:"type:varchar(64);not null;index:idx_user_scene_date" json:"user_id"`
	BizScene    string    `gorm:"type:varchar(64);not null;index:idx_user_scene_date" json:"biz_scene"`
	BizDate     string    `gorm:"type:varchar(10);not null;index:idx_user_scene_date" json:"biz_date"`
	Stage       int       `gorm:"type:int;not null" json:"stage"`
	Threshold   int64     `gorm:"type:bigint;not null" json:"threshold"`
	PrizeCode   string    `gorm:"type:varchar(64);not null" json:"prize_code"`
	PrizeAmount int64     `gorm:"type:bigint;not null" json:"prize_amount"`
	RuleVersion string    `gorm:"type:varchar(64)" json:"rule_version"`
	TraceID     string    `gorm:"type:varchar(64)" json:"trace_id"`
	CreatedAt   time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName set name
func (RewardFlow) TableName() string {
	return "reward_flow"
}

// BuildOutBizNo derives the idempotency key for one (user, prize,
// scene, day, stage) grant. Callers must not change the field order:
// the key is persisted and matched by downstream consumers.
func BuildOutBizNo(userID, prizeCode, bizScene, bizDate string, stage int) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", userID, prizeCode, bizScene, bizDate, stage)
}
