package repository

import (
	"context"
	"errors"
	"time"

	"binancedash/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPreferenceNotFound = errors.New("用户偏好不存在")

type PreferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *PreferenceRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.UserPreference, error) {
	var pref model.UserPreference
	err := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID).Take(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPreferenceNotFound
		}
		return nil, err
	}
	return &pref, nil
}

// CreateIfAbsent 用户没有偏好时创建一行指向 binanceUserID，已有则什么都不做。
// 依赖 user_id 唯一索引，单条 SQL 完成，并发首次绑定不会产生重复行。
// 返回是否新建。
func (r *PreferenceRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, userID string, binanceUserID int64) (bool, error) {
	pref := &model.UserPreference{
		UserID:               userID,
		CurrentBinanceUserID: &binanceUserID,
	}

	result := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(pref)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Upsert 设置当前账户：没有偏好就插入，有就更新，单条 SQL 完成
func (r *PreferenceRepository) Upsert(ctx context.Context, tx *gorm.DB, userID string, binanceUserID int64) error {
	now := time.Now()
	pref := &model.UserPreference{
		UserID:               userID,
		CurrentBinanceUserID: &binanceUserID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"current_binance_user_id": binanceUserID,
				"updated_at":              now,
			}),
		}).
		Create(pref).Error
}

// SetCurrent 更新已有偏好的当前账户，binanceUserID 为 nil 表示清空
func (r *PreferenceRepository) SetCurrent(ctx context.Context, tx *gorm.DB, userID string, binanceUserID *int64) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.UserPreference{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"current_binance_user_id": binanceUserID,
			"updated_at":              time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPreferenceNotFound
	}
	return nil
}

func (r *PreferenceRepository) DeleteByUserID(ctx context.Context, tx *gorm.DB, userID string) error {
	return r.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&model.UserPreference{}).Error
}

// ListInconsistent 找出违反不变量的偏好：
//   - 当前账户非空，但不存在或不属于该用户
//   - 用户名下已经没有任何账户
//
// 按 id 翻页，afterID 传上一页最后一条的 id
func (r *PreferenceRepository) ListInconsistent(ctx context.Context, afterID int64, limit int) ([]*model.UserPreference, error) {
	var prefs []*model.UserPreference
	err := r.db.WithContext(ctx).
		Where(`(current_binance_user_id IS NOT NULL AND NOT EXISTS (
			SELECT 1 FROM binance_users b
			WHERE b.id = user_preferences.current_binance_user_id AND b.user_id = user_preferences.user_id))
			OR NOT EXISTS (SELECT 1 FROM binance_users b WHERE b.user_id = user_preferences.user_id)`).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&prefs).Error
	return prefs, err
}
