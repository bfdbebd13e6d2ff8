// Package testutil 测试共用的内存数据库与替身实现
package testutil

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"binancedash/internal/config"
	"binancedash/internal/infrastructure/database"
	"binancedash/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestEncryptionKey 测试用加密密钥
const TestEncryptionKey = "test-encryption-key-0123456789"

// NewTestDB 创建按测试名隔离的内存 SQLite，并完成表结构迁移。
// 只保留一个连接，事务内的所有读写必须使用事务句柄。
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// NewTestConfig 测试用配置
func NewTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{AccountEvent: "test_account_event"},
		},
		Storage: config.StorageConfig{
			Root:          "/storage",
			Bucket:        "binance",
			PublicBaseURL: "http://localhost/storage",
			PublicPath:    "/storage",
			CacheControl:  3600,
		},
		Security: config.SecurityConfig{EncryptionKey: TestEncryptionKey},
		Business: config.BusinessConfig{
			AvatarMaxBytes:     2 * 1024 * 1024,
			MaxRetryCount:      3,
			LockMaxRetries:     1,
			OutboxBatchSize:    100,
			ReconcileBatchSize: 100,
		},
	}
}

// MutexLocker 进程内按用户加锁，替代 Redis 锁
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	Err   error
	Calls int
}

func (l *MutexLocker) Lock(_ context.Context, userID string) (func(), error) {
	l.mu.Lock()
	l.Calls++
	if l.Err != nil {
		l.mu.Unlock()
		return nil, l.Err
	}
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

// FakeMarket 上游行情接口替身
type FakeMarket struct {
	VerifyErr error
	DepthErr  error
	Snapshot  *model.Depth

	LastAPIKey    string
	LastAPISecret string
	LastSymbol    string
	LastLimit     int
}

func (m *FakeMarket) VerifyCredentials(_ context.Context, apiKey, apiSecret string) error {
	m.LastAPIKey, m.LastAPISecret = apiKey, apiSecret
	return m.VerifyErr
}

func (m *FakeMarket) Depth(_ context.Context, apiKey, apiSecret, symbol string, limit int) (*model.Depth, error) {
	m.LastAPIKey, m.LastAPISecret = apiKey, apiSecret
	m.LastSymbol, m.LastLimit = symbol, limit
	if m.DepthErr != nil {
		return nil, m.DepthErr
	}
	if m.Snapshot != nil {
		return m.Snapshot, nil
	}
	return &model.Depth{
		Symbol:       symbol,
		LastUpdateID: 1,
		Bids:         []model.PriceLevel{{Price: "100.00", Quantity: "1.5"}},
		Asks:         []model.PriceLevel{{Price: "100.10", Quantity: "2.0"}},
	}, nil
}
