package model

import "time"

// RewardOutbox is the transactional outbox row for one award event.
// EventID is minted once and survives retries; (OutBizNo, EventType)
// is unique so a crash between ledger insert and outbox insert heals
// on the next attempt instead of duplicating the event.
type RewardOutbox struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID       string     `gorm:"type:varchar(64);not null;uniqueIndex:uk_event_id" json:"event_id"`
	OutBizNo      string     `gorm:"type:varchar(256);not null;uniqueIndex:uk_out_biz_event,priority:1" json:"out_biz_no"`
	EventType     string     `gorm:"type:varchar(64);not null;uniqueIndex:uk_out_biz_event,priority:2" json:"event_type"`
	Payload       string     `gorm:"type:text;not null" json:"payload"`
	TraceID       string     `gorm:"type:varchar(64)" json:"trace_id"`
	Status        int8       `gorm:"type:tinyint;not null;default:0;index:idx_status_next_retry" json:"status"`
	RetryCount    int        `gorm:"type:int;not null;default:0" json:"retry_count"`
	NextRetryTime time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index:idx_status_next_retry" json:"next_retry_time"`
	LastError     string     `gorm:"type:varchar(512)" json:"last_error"`
	SentAt        *time.Time `gorm:"type:timestamp" json:"sent_at,omitempty"`
	CreatedAt     time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (RewardOutbox) TableName() string {
	return "reward_outbox"
}

// Outbox status const
const (
	OutboxStatusPending = 0
	OutboxStatusSent    = 1
	OutboxStatusFailed  = 2
)

// Event types emitted through the outbox
const (
	EventTypeAwardCreated  = "AWARD_CREATED"
	EventTypeCouponCreated = "COUPON_CREATED"
)
