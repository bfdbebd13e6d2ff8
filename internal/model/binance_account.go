package model

import (
	"time"
)

// BinanceAccount 用户绑定的币安 API 账户
// 一个用户可以绑定多个账户，账户归属（user_id）创建后不可变更
//
// api_key / secret_key 落库前已加密，任何接口都不返回
type BinanceAccount struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"` // 雪花 ID，前端按字符串处理避免精度丢失
	UserID    string    `gorm:"type:varchar(64);index;not null" json:"user_id"`  // 身份服务的用户 ID
	APIKey    string    `gorm:"column:api_key;type:text;not null" json:"-"`
	SecretKey string    `gorm:"column:secret_key;type:text;not null" json:"-"`
	Nickname  *string   `gorm:"type:varchar(64)" json:"nickname"`
	AvatarURL *string   `gorm:"column:avatar_url;type:varchar(512)" json:"avatar_url"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BinanceAccount) TableName() string {
	return "binance_users"
}
