package job

import (
	"context"
	"errors"
	"fmt"

	"binancedash/internal/config"
	"binancedash/internal/metrics"
	"binancedash/internal/repository"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UserLocker 与业务流程共用的用户锁
type UserLocker interface {
	Lock(ctx context.Context, userID string) (func(), error)
}

const (
	ReconcileRepointed = "repointed"
	ReconcileDeleted   = "deleted"
)

// PreferenceReconcileJob 修复解绑清理失败后留下的偏好：
// 指向不存在或不属于该用户的账户时改为最近绑定的账户，用户没有账户时删除偏好
type PreferenceReconcileJob struct {
	accounts  *repository.BinanceAccountRepository
	prefs     *repository.PreferenceRepository
	locker    UserLocker
	spec      string
	batchSize int
	cron      *cron.Cron
	log       *logrus.Entry
}

func NewPreferenceReconcileJob(db *gorm.DB, locker UserLocker, cfg *config.Config) *PreferenceReconcileJob {
	spec := cfg.Business.ReconcileSpec
	if spec == "" {
		spec = "@every 1m"
	}
	batchSize := cfg.Business.ReconcileBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &PreferenceReconcileJob{
		accounts:  repository.NewBinanceAccountRepository(db),
		prefs:     repository.NewPreferenceRepository(db),
		locker:    locker,
		spec:      spec,
		batchSize: batchSize,
		log:       logrus.WithField("component", "preference_reconcile"),
	}
}

// Start 按 cron 表达式调度，上一轮未结束时跳过本轮
func (j *PreferenceReconcileJob) Start(ctx context.Context) error {
	j.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.PrintfLogger(j.log)),
	))

	_, err := j.cron.AddFunc(j.spec, func() {
		if _, err := j.Run(ctx); err != nil {
			j.log.WithError(err).Error("偏好修复任务失败")
		}
	})
	if err != nil {
		return fmt.Errorf("注册偏好修复任务失败: %w", err)
	}

	j.cron.Start()
	j.log.WithField("spec", j.spec).Info("偏好修复任务启动")
	return nil
}

// Stop 停止调度并等待正在执行的一轮结束
func (j *PreferenceReconcileJob) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.log.Info("偏好修复任务停止")
}

// Run 执行一轮修复，返回修复的条数。
// 按 id 翻页扫完全部异常偏好，修复失败的行不会挡住后面的行
func (j *PreferenceReconcileJob) Run(ctx context.Context) (int, error) {
	repaired := 0
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}

		prefs, err := j.prefs.ListInconsistent(ctx, afterID, j.batchSize)
		if err != nil {
			return repaired, fmt.Errorf("查询异常偏好失败: %w", err)
		}

		for _, pref := range prefs {
			afterID = pref.ID
			action, err := j.repair(ctx, pref.UserID)
			if err != nil {
				j.log.WithField("user_id", pref.UserID).WithError(err).Warn("修复用户偏好失败")
				continue
			}
			if action == "" {
				continue
			}
			repaired++
			metrics.ReconcileRepaired.WithLabelValues(action).Inc()
			j.log.WithFields(logrus.Fields{
				"user_id": pref.UserID,
				"action":  action,
			}).Info("用户偏好已修复")
		}

		if len(prefs) < j.batchSize {
			return repaired, nil
		}
	}
}

// repair 在用户锁内重新检查后修复，状态已经正常时返回空 action
func (j *PreferenceReconcileJob) repair(ctx context.Context, userID string) (string, error) {
	unlock, err := j.locker.Lock(ctx, userID)
	if err != nil {
		return "", err
	}
	defer unlock()

	pref, err := j.prefs.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrPreferenceNotFound) {
			return "", nil
		}
		return "", err
	}

	remaining, err := j.accounts.CountByUserID(ctx, nil, userID)
	if err != nil {
		return "", err
	}
	if remaining == 0 {
		if err := j.prefs.DeleteByUserID(ctx, nil, userID); err != nil {
			return "", err
		}
		return ReconcileDeleted, nil
	}

	if pref.CurrentBinanceUserID == nil {
		return "", nil
	}
	_, err = j.accounts.GetOwned(ctx, nil, *pref.CurrentBinanceUserID, userID)
	if err == nil {
		return "", nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return "", err
	}

	latest, err := j.accounts.LatestByUserID(ctx, nil, userID)
	if err != nil {
		return "", err
	}
	if err := j.prefs.SetCurrent(ctx, nil, userID, &latest.ID); err != nil {
		return "", err
	}
	return ReconcileRepointed, nil
}
