package model

import (
	"time"
)

// UserPreference 用户偏好，每个用户最多一行（user_id 唯一）
//
// 【不变量】CurrentBinanceUserID 为空，或者指向同一用户名下的币安账户。
// 首次绑定或首次切换时懒创建，用户最后一个账户解绑时删除。
type UserPreference struct {
	ID                   int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID               string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	CurrentBinanceUserID *int64    `gorm:"column:current_binance_user_id" json:"current_binance_user_id,string"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserPreference) TableName() string {
	return "user_preferences"
}

// IsCurrent 判断给定账户是否为当前账户
func (p *UserPreference) IsCurrent(binanceUserID int64) bool {
	return p != nil && p.CurrentBinanceUserID != nil && *p.CurrentBinanceUserID == binanceUserID
}
