package service

import (
	"context"
	"errors"
	"fmt"

	"binancedash/internal/metrics"
	"binancedash/internal/model"
	"binancedash/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WarnCleanupFailed 账户已删除，但偏好没能同步更新，由定时任务修复
const WarnCleanupFailed = "账户已解绑，但当前账户更新失败，稍后将自动修复"

type UnbindService struct {
	deps     Deps
	accounts *repository.BinanceAccountRepository
	prefs    *repository.PreferenceRepository
	events   eventWriter
	log      *logrus.Entry
}

func NewUnbindService(d Deps) *UnbindService {
	return &UnbindService{
		deps:     d,
		accounts: repository.NewBinanceAccountRepository(d.DB),
		prefs:    repository.NewPreferenceRepository(d.DB),
		events: eventWriter{
			outbox: repository.NewOutboxRepository(d.DB),
			topic:  d.Config.Kafka.Topic.AccountEvent,
		},
		log: logrus.WithField("component", "unbind"),
	}
}

// UnbindResult 解绑结果。Warning 非空表示账户已删除但清理没有完成。
type UnbindResult struct {
	BinanceUserID        int64  `json:"binance_user_id,string"`
	WasCurrent           bool   `json:"was_current"`
	PreferenceCleared    bool   `json:"preference_cleared"`
	CurrentBinanceUserID *int64 `json:"current_binance_user_id,string"`
	Warning              string `json:"-"`
}

// Unbind 删除账户并维护当前账户：
//   - 删的是最后一个账户：删除偏好
//   - 删的是当前账户：改为最近绑定的剩余账户
//   - 其他情况偏好不变
//
// 删除提交之后的清理失败不会让调用失败。
func (s *UnbindService) Unbind(ctx context.Context, userID string, accountID int64) (result *UnbindResult, err error) {
	defer func() {
		if err == nil && result.Warning != "" {
			metrics.WorkflowTotal.WithLabelValues("unbind", metrics.OutcomeWarning).Inc()
			return
		}
		observe("unbind", err)
	}()

	unlock, err := s.deps.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.accounts.GetOwned(ctx, nil, accountID, userID); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, &AuthorizationError{}
		}
		return nil, persistence("查询币安账户失败", err)
	}

	pref, err := s.prefs.GetByUserID(ctx, nil, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrPreferenceNotFound) {
			return nil, persistence("查询用户偏好失败", err)
		}
		pref = nil
	}
	wasCurrent := pref.IsCurrent(accountID)

	err = s.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accounts.DeleteOwned(ctx, tx, accountID, userID); err != nil {
			return err
		}

		var current *int64
		if pref != nil && !wasCurrent {
			current = pref.CurrentBinanceUserID
		}
		return s.events.write(ctx, tx, model.EventAccountUnbound, userID, accountID, current)
	})
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, &AuthorizationError{}
		}
		s.log.WithField("user_id", userID).WithError(err).Error("删除币安账户失败")
		return nil, persistence("删除币安账户失败", err)
	}

	result = &UnbindResult{
		BinanceUserID: accountID,
		WasCurrent:    wasCurrent,
	}
	if pref != nil && !wasCurrent {
		result.CurrentBinanceUserID = pref.CurrentBinanceUserID
	}

	if err := s.cleanup(ctx, userID, wasCurrent, result); err != nil {
		metrics.AnomalyTotal.WithLabelValues("unbind_cleanup").Inc()
		s.log.WithFields(logrus.Fields{
			"user_id":         userID,
			"binance_user_id": accountID,
			"was_current":     wasCurrent,
		}).WithError(err).Warn("解绑后更新用户偏好失败")
		result.Warning = WarnCleanupFailed
		return result, nil
	}

	s.log.WithFields(logrus.Fields{
		"user_id":            userID,
		"binance_user_id":    accountID,
		"was_current":        wasCurrent,
		"preference_cleared": result.PreferenceCleared,
	}).Info("币安账户已解绑")
	return result, nil
}

func (s *UnbindService) cleanup(ctx context.Context, userID string, wasCurrent bool, result *UnbindResult) error {
	remaining, err := s.accounts.CountByUserID(ctx, nil, userID)
	if err != nil {
		return fmt.Errorf("统计剩余账户失败: %w", err)
	}

	if remaining == 0 {
		if err := s.prefs.DeleteByUserID(ctx, nil, userID); err != nil {
			return fmt.Errorf("删除用户偏好失败: %w", err)
		}
		result.PreferenceCleared = true
		result.CurrentBinanceUserID = nil
		return nil
	}

	if !wasCurrent {
		return nil
	}

	latest, err := s.accounts.LatestByUserID(ctx, nil, userID)
	if err != nil {
		return fmt.Errorf("查询最近绑定的账户失败: %w", err)
	}
	if err := s.prefs.SetCurrent(ctx, nil, userID, &latest.ID); err != nil {
		return fmt.Errorf("更新当前账户失败: %w", err)
	}
	result.CurrentBinanceUserID = &latest.ID
	return nil
}
