package job

import (
	"context"
	"sync"
	"time"

	"binancedash/internal/config"
	"binancedash/internal/metrics"
	"binancedash/internal/model"
	"binancedash/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Publisher 消息投递，生产环境是 Kafka
type Publisher interface {
	Send(topic, key string, value []byte) error
}

// OutboxSender 轮询 outbox 表，把账户事件投递出去
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	maxRetry   int
	interval   time.Duration
	batchSize  int
	stopCh     chan struct{}
	stopOnce   sync.Once
	log        *logrus.Entry
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.Config) *OutboxSender {
	interval := cfg.Business.OutboxInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	batchSize := cfg.Business.OutboxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetry:   cfg.Business.MaxRetryCount,
		interval:   interval,
		batchSize:  batchSize,
		stopCh:     make(chan struct{}),
		log:        logrus.WithField("component", "outbox_sender"),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动")
	s.refreshFailedBacklog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ProcessPending 发送一批待发送消息，返回成功条数
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("查询待发送消息失败")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	entry := s.log.WithFields(logrus.Fields{
		"id":         msg.ID,
		"topic":      msg.Topic,
		"key":        msg.MessageKey,
		"event_type": msg.EventType,
	})

	err := s.publisher.Send(msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		if err := s.outboxRepo.MarkSent(ctx, msg.ID); err != nil {
			entry.WithError(err).Error("更新消息状态失败")
		} else {
			entry.Debug("消息发送成功")
		}
		metrics.OutboxPublished.WithLabelValues(model.OutboxStatusSent).Inc()
		return true
	}

	entry.WithError(err).Warn("消息发送失败")

	failed, recordErr := s.outboxRepo.RecordFailure(ctx, msg, s.maxRetry)
	if recordErr != nil {
		entry.WithError(recordErr).Error("记录发送失败次数失败")
		return false
	}
	if failed {
		metrics.OutboxPublished.WithLabelValues(model.OutboxStatusFailed).Inc()
		entry.Error("消息超过最大重试次数，标记为失败")
		s.refreshFailedBacklog(ctx)
	}
	return false
}

// refreshFailedBacklog 同步 FAILED 消息数到监控
func (s *OutboxSender) refreshFailedBacklog(ctx context.Context) int64 {
	n, err := s.outboxRepo.CountByStatus(ctx, model.OutboxStatusFailed)
	if err != nil {
		s.log.WithError(err).Warn("统计失败消息数失败")
		return -1
	}
	metrics.OutboxFailedBacklog.Set(float64(n))
	return n
}
