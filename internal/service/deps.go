package service

import (
	"context"
	"errors"
	"fmt"

	"binancedash/internal/config"
	"binancedash/internal/model"
	"binancedash/pkg/crypto"

	"gorm.io/gorm"
)

// Locker 按用户串行化账户变更
type Locker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// BlobStore 头像存储，同名覆盖，返回公开地址
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// MarketGateway 币安行情与账户接口
type MarketGateway interface {
	VerifyCredentials(ctx context.Context, apiKey, secretKey string) error
	Depth(ctx context.Context, apiKey, secretKey, symbol string, limit int) (*model.Depth, error)
}

// Deps 服务依赖，全部在 main 里构造后显式传入
type Deps struct {
	DB     *gorm.DB
	Locker Locker
	Blobs  BlobStore
	Market MarketGateway
	Sealer *crypto.Sealer
	Config *config.Config
}

func (d Deps) validate() error {
	switch {
	case d.DB == nil:
		return errors.New("缺少数据库连接")
	case d.Locker == nil:
		return errors.New("缺少用户锁")
	case d.Sealer == nil:
		return errors.New("缺少凭证加密器")
	case d.Config == nil:
		return errors.New("缺少配置")
	}
	return nil
}

// lockUser 获取用户锁，失败统一转成 BusyError
func (d Deps) lockUser(ctx context.Context, userID string) (func(), error) {
	unlock, err := d.Locker.Lock(ctx, userID)
	if err != nil {
		return nil, &BusyError{Err: fmt.Errorf("获取用户锁失败: %w", err)}
	}
	return unlock, nil
}

// Services 全部业务服务
type Services struct {
	Bind   *BindService
	Switch *SwitchService
	Unbind *UnbindService
	Query  *AccountQueryService
	Market *MarketService
}

func NewServices(d Deps) (*Services, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &Services{
		Bind:   NewBindService(d),
		Switch: NewSwitchService(d),
		Unbind: NewUnbindService(d),
		Query:  NewAccountQueryService(d),
		Market: NewMarketService(d),
	}, nil
}
