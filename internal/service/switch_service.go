package service

import (
	"context"
	"errors"
	"fmt"

	"binancedash/internal/model"
	"binancedash/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type SwitchService struct {
	deps     Deps
	accounts *repository.BinanceAccountRepository
	prefs    *repository.PreferenceRepository
	events   eventWriter
	log      *logrus.Entry
}

func NewSwitchService(d Deps) *SwitchService {
	return &SwitchService{
		deps:     d,
		accounts: repository.NewBinanceAccountRepository(d.DB),
		prefs:    repository.NewPreferenceRepository(d.DB),
		events: eventWriter{
			outbox: repository.NewOutboxRepository(d.DB),
			topic:  d.Config.Kafka.Topic.AccountEvent,
		},
		log: logrus.WithField("component", "switch"),
	}
}

// Switch 把 accountID 设为当前账户。
// 账户必须属于该用户；切到已经是当前的账户也算成功。
func (s *SwitchService) Switch(ctx context.Context, userID string, accountID int64) (err error) {
	defer func() { observe("switch", err) }()

	unlock, err := s.deps.lockUser(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.accounts.GetOwned(ctx, tx, accountID, userID); err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return &AuthorizationError{}
			}
			return fmt.Errorf("查询币安账户失败: %w", err)
		}

		if err := s.prefs.Upsert(ctx, tx, userID, accountID); err != nil {
			return fmt.Errorf("更新当前账户失败: %w", err)
		}

		return s.events.write(ctx, tx, model.EventAccountSwitched, userID, accountID, &accountID)
	})
	if err != nil {
		var authErr *AuthorizationError
		if errors.As(err, &authErr) {
			s.log.WithFields(logrus.Fields{
				"user_id":         userID,
				"binance_user_id": accountID,
			}).Warn("切换到不属于该用户的账户")
			return authErr
		}
		s.log.WithField("user_id", userID).WithError(err).Error("切换币安账户失败")
		return persistence("切换币安账户失败", err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":         userID,
		"binance_user_id": accountID,
	}).Info("当前币安账户已切换")
	return nil
}
