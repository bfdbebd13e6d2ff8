package service

import (
	"context"
	"strconv"
	"time"

	"binancedash/internal/model"
	"binancedash/internal/repository"

	jsoniter "github.com/json-iterator/go"
	"gorm.io/gorm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// eventWriter 在业务事务内写 outbox，由 OutboxSender 异步投递
type eventWriter struct {
	outbox *repository.OutboxRepository
	topic  string
}

func (w eventWriter) write(ctx context.Context, tx *gorm.DB, eventType, userID string, binanceUserID int64, current *int64) error {
	event := model.AccountEvent{
		Type:          eventType,
		UserID:        userID,
		BinanceUserID: strconv.FormatInt(binanceUserID, 10),
		OccurredAt:    time.Now().Format(time.RFC3339),
	}
	if current != nil {
		event.CurrentBinanceUserID = strconv.FormatInt(*current, 10)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return w.outbox.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: userID,
		Topic:      w.topic,
		EventType:  eventType,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}
