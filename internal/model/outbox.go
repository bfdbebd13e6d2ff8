package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 账户事件类型，写入 outbox 后由 OutboxSender 投递到 Kafka
const (
	EventAccountBound         = "account.bound"
	EventAccountSwitched      = "account.switched"
	EventAccountUnbound       = "account.unbound"
	EventAccountAvatarUpdated = "account.avatar_updated"
)

// OutboxMessage 本地消息表
// 与业务变更在同一个事务里写入，保证 "改了库就一定会发消息"
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"` // 用户 ID，同一用户的事件落在同一分区
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string    `gorm:"type:varchar(32);not null" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// AccountEvent outbox 消息体
type AccountEvent struct {
	Type          string `json:"type"`
	UserID        string `json:"user_id"`
	BinanceUserID string `json:"binance_user_id"`
	// 事件发生后的当前账户，空串表示没有当前账户
	CurrentBinanceUserID string `json:"current_binance_user_id"`
	OccurredAt           string `json:"occurred_at"`
}
