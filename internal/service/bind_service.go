package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"binancedash/internal/infrastructure/exchange"
	"binancedash/internal/metrics"
	"binancedash/internal/model"
	"binancedash/internal/repository"
	"binancedash/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxNicknameLength = 64

type BindService struct {
	deps     Deps
	accounts *repository.BinanceAccountRepository
	prefs    *repository.PreferenceRepository
	events   eventWriter
	log      *logrus.Entry
}

func NewBindService(d Deps) *BindService {
	return &BindService{
		deps:     d,
		accounts: repository.NewBinanceAccountRepository(d.DB),
		prefs:    repository.NewPreferenceRepository(d.DB),
		events: eventWriter{
			outbox: repository.NewOutboxRepository(d.DB),
			topic:  d.Config.Kafka.Topic.AccountEvent,
		},
		log: logrus.WithField("component", "bind"),
	}
}

type BindRequest struct {
	APIKey    string
	APISecret string
	Nickname  string
	Avatar    *AvatarFile
}

// Bind 绑定一个币安账户。
// 用户第一次绑定时新账户自动成为当前账户，已有偏好不会被覆盖。
func (s *BindService) Bind(ctx context.Context, userID string, req *BindRequest) (account *model.BinanceAccount, err error) {
	defer func() { observe("bind", err) }()

	apiKey := strings.TrimSpace(req.APIKey)
	apiSecret := strings.TrimSpace(req.APISecret)
	nickname := strings.TrimSpace(req.Nickname)

	if apiKey == "" {
		return nil, invalid("api_key", "API Key 不能为空")
	}
	if apiSecret == "" {
		return nil, invalid("secret_key", "Secret Key 不能为空")
	}
	if utf8.RuneCountInString(nickname) > maxNicknameLength {
		return nil, invalid("nickname", fmt.Sprintf("昵称不能超过 %d 个字符", maxNicknameLength))
	}
	ext, err := validateAvatar(req.Avatar, s.deps.Config.Business.AvatarMaxBytes)
	if err != nil {
		return nil, err
	}

	if s.deps.Config.Business.VerifyCredentials {
		if err := s.verify(ctx, apiKey, apiSecret); err != nil {
			return nil, err
		}
	}

	sealedKey, err := s.deps.Sealer.Seal(apiKey)
	if err != nil {
		return nil, persistence("加密 API Key 失败", err)
	}
	sealedSecret, err := s.deps.Sealer.Seal(apiSecret)
	if err != nil {
		return nil, persistence("加密 Secret Key 失败", err)
	}

	account = &model.BinanceAccount{
		ID:        idgen.NextID(),
		UserID:    userID,
		APIKey:    sealedKey,
		SecretKey: sealedSecret,
	}
	if nickname != "" {
		account.Nickname = &nickname
	}

	// 头像上传失败不影响绑定
	if ext != "" {
		key, url, uploadErr := s.uploadAvatar(ctx, userID, ext, req.Avatar)
		if uploadErr != nil {
			metrics.AnomalyTotal.WithLabelValues("avatar_upload").Inc()
			s.log.WithFields(logrus.Fields{
				"user_id": userID,
			}).WithError(uploadErr).Warn("头像上传失败，继续绑定")
		} else {
			account.AvatarURL = &url
			// 账户没落库时头像没有引用，删掉
			defer func() {
				if err != nil {
					s.discardAvatar(userID, key)
				}
			}()
		}
	}

	unlock, err := s.deps.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = s.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accounts.Create(ctx, tx, account); err != nil {
			return fmt.Errorf("保存币安账户失败: %w", err)
		}

		current := account.ID
		created, err := s.prefs.CreateIfAbsent(ctx, tx, userID, account.ID)
		if err != nil {
			return fmt.Errorf("初始化用户偏好失败: %w", err)
		}
		if !created {
			pref, err := s.prefs.GetByUserID(ctx, tx, userID)
			if err != nil {
				return fmt.Errorf("查询用户偏好失败: %w", err)
			}
			if pref.CurrentBinanceUserID == nil {
				current = 0
			} else {
				current = *pref.CurrentBinanceUserID
			}
		}

		var currentPtr *int64
		if current != 0 {
			currentPtr = &current
		}
		if err := s.events.write(ctx, tx, model.EventAccountBound, userID, account.ID, currentPtr); err != nil {
			return fmt.Errorf("写入账户事件失败: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.WithField("user_id", userID).WithError(err).Error("绑定币安账户失败")
		return nil, persistence("绑定币安账户失败", err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":         userID,
		"binance_user_id": account.ID,
	}).Info("币安账户绑定成功")
	return account, nil
}

// UpdateAvatar 单独更新某个账户的头像，上传失败直接返回错误
func (s *BindService) UpdateAvatar(ctx context.Context, userID string, accountID int64, avatar *AvatarFile) (account *model.BinanceAccount, err error) {
	defer func() { observe("avatar", err) }()

	if avatar.Empty() {
		return nil, invalid("avatar", "请选择头像文件")
	}
	ext, err := validateAvatar(avatar, s.deps.Config.Business.AvatarMaxBytes)
	if err != nil {
		return nil, err
	}

	if _, err := s.accounts.GetOwned(ctx, nil, accountID, userID); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, &AuthorizationError{}
		}
		return nil, persistence("查询币安账户失败", err)
	}

	key, url, err := s.uploadAvatar(ctx, userID, ext, avatar)
	if err != nil {
		return nil, persistence("上传头像失败", err)
	}

	err = s.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accounts.UpdateAvatar(ctx, tx, accountID, userID, url); err != nil {
			return err
		}

		var current *int64
		pref, err := s.prefs.GetByUserID(ctx, tx, userID)
		switch {
		case err == nil:
			current = pref.CurrentBinanceUserID
		case !errors.Is(err, repository.ErrPreferenceNotFound):
			return fmt.Errorf("查询用户偏好失败: %w", err)
		}
		return s.events.write(ctx, tx, model.EventAccountAvatarUpdated, userID, accountID, current)
	})
	if err != nil {
		s.discardAvatar(userID, key)
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, &AuthorizationError{}
		}
		return nil, persistence("更新头像失败", err)
	}

	account, err = s.accounts.GetOwned(ctx, nil, accountID, userID)
	if err != nil {
		return nil, persistence("查询币安账户失败", err)
	}
	return account, nil
}

func (s *BindService) verify(ctx context.Context, apiKey, apiSecret string) error {
	if s.deps.Market == nil {
		return &UpstreamError{Op: "校验 API 凭证", Err: errors.New("行情服务未配置")}
	}

	start := time.Now()
	err := s.deps.Market.VerifyCredentials(ctx, apiKey, apiSecret)
	observeUpstream("verify_credentials", start, err)

	if err == nil {
		return nil
	}
	if errors.Is(err, exchange.ErrInvalidCredentials) {
		return invalid("api_key", "API 凭证无效，请检查 Key 和权限")
	}
	return &UpstreamError{Op: "校验 API 凭证", Err: err}
}

// uploadAvatar 对象名为 <userId>/<雪花ID>.<扩展名>
func (s *BindService) uploadAvatar(ctx context.Context, userID, ext string, avatar *AvatarFile) (key, url string, err error) {
	if s.deps.Blobs == nil {
		return "", "", errors.New("头像存储未配置")
	}
	key = fmt.Sprintf("%s/%d.%s", userID, idgen.NextID(), ext)
	url, err = s.deps.Blobs.Upload(ctx, key, avatar.Data)
	return key, url, err
}

// discardAvatar 删除已上传但没有账户引用的头像，失败只记日志
func (s *BindService) discardAvatar(userID, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.deps.Blobs.Delete(ctx, key); err != nil {
		metrics.AnomalyTotal.WithLabelValues("avatar_orphan").Inc()
		s.log.WithFields(logrus.Fields{
			"user_id": userID,
			"key":     key,
		}).WithError(err).Warn("清理无主头像失败")
	}
}

func observeUpstream(op string, start time.Time, err error) {
	result := metrics.OutcomeSuccess
	if err != nil {
		result = metrics.OutcomeError
	}
	metrics.UpstreamLatency.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
