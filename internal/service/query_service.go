package service

import (
	"context"
	"errors"

	"binancedash/internal/model"
	"binancedash/internal/repository"
)

type AccountQueryService struct {
	accounts *repository.BinanceAccountRepository
	prefs    *repository.PreferenceRepository
}

func NewAccountQueryService(d Deps) *AccountQueryService {
	return &AccountQueryService{
		accounts: repository.NewBinanceAccountRepository(d.DB),
		prefs:    repository.NewPreferenceRepository(d.DB),
	}
}

// AccountList 账户列表及生效的当前账户
type AccountList struct {
	Accounts             []*model.BinanceAccount `json:"accounts"`
	CurrentBinanceUserID *int64                  `json:"current_binance_user_id,string"`
}

func (s *AccountQueryService) List(ctx context.Context, userID string) (*AccountList, error) {
	accounts, err := s.accounts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, persistence("查询币安账户失败", err)
	}

	pref, err := s.preference(ctx, userID)
	if err != nil {
		return nil, err
	}

	if accounts == nil {
		accounts = []*model.BinanceAccount{}
	}
	list := &AccountList{Accounts: accounts}
	if len(accounts) == 0 {
		return list, nil
	}

	// 偏好指向的账户不在列表里时，退回到最近绑定的账户
	current := accounts[0].ID
	for _, a := range accounts {
		if pref.IsCurrent(a.ID) {
			current = a.ID
			break
		}
	}
	list.CurrentBinanceUserID = &current
	return list, nil
}

// Current 当前账户；偏好为空或失效时取最近绑定的账户，用户没有账户返回 nil
func (s *AccountQueryService) Current(ctx context.Context, userID string) (*model.BinanceAccount, error) {
	pref, err := s.preference(ctx, userID)
	if err != nil {
		return nil, err
	}

	if pref != nil && pref.CurrentBinanceUserID != nil {
		account, err := s.accounts.GetOwned(ctx, nil, *pref.CurrentBinanceUserID, userID)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, repository.ErrAccountNotFound) {
			return nil, persistence("查询当前账户失败", err)
		}
	}

	account, err := s.accounts.LatestByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, nil
		}
		return nil, persistence("查询币安账户失败", err)
	}
	return account, nil
}

func (s *AccountQueryService) preference(ctx context.Context, userID string) (*model.UserPreference, error) {
	pref, err := s.prefs.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrPreferenceNotFound) {
			return nil, nil
		}
		return nil, persistence("查询用户偏好失败", err)
	}
	return pref, nil
}
