package repository

import (
	"context"
	"errors"

	"binancedash/internal/model"

	"gorm.io/gorm"
)

var (
	// ErrAccountNotFound 账户不存在，或不属于该用户（两者不做区分）
	ErrAccountNotFound = errors.New("币安账户不存在")
)

type BinanceAccountRepository struct {
	db *gorm.DB
}

func NewBinanceAccountRepository(db *gorm.DB) *BinanceAccountRepository {
	return &BinanceAccountRepository{db: db}
}

func (r *BinanceAccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *BinanceAccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.BinanceAccount) error {
	return r.conn(tx).WithContext(ctx).Create(account).Error
}

// GetOwned 按 id + user_id 查询，两个条件必须同时满足
func (r *BinanceAccountRepository) GetOwned(ctx context.Context, tx *gorm.DB, id int64, userID string) (*model.BinanceAccount, error) {
	var account model.BinanceAccount
	err := r.conn(tx).WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ListByUserID 用户名下全部账户，最近绑定的在前
func (r *BinanceAccountRepository) ListByUserID(ctx context.Context, userID string) ([]*model.BinanceAccount, error) {
	var accounts []*model.BinanceAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&accounts).Error
	return accounts, err
}

// LatestByUserID 用户最近绑定的账户
func (r *BinanceAccountRepository) LatestByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.BinanceAccount, error) {
	var account model.BinanceAccount
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *BinanceAccountRepository) CountByUserID(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.BinanceAccount{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// DeleteOwned 带归属条件的删除，影响行数为 0 说明账户不存在或不属于该用户
func (r *BinanceAccountRepository) DeleteOwned(ctx context.Context, tx *gorm.DB, id int64, userID string) error {
	result := r.conn(tx).WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&model.BinanceAccount{})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdateAvatar 带归属条件更新头像
func (r *BinanceAccountRepository) UpdateAvatar(ctx context.Context, tx *gorm.DB, id int64, userID, avatarURL string) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.BinanceAccount{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("avatar_url", avatarURL)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
