package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 基于 Redis 的互斥锁
//
// 加锁：SET key value NX PX ttl
//   - NX 保证互斥
//   - ttl 防止持有者崩溃后死锁
//   - value 是持有者标识，释放时校验，避免删掉别人的锁
//
// 释放：Lua 脚本里先比对 value 再 DEL，两步原子执行

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// DistributedLock 一把具体的锁
type DistributedLock struct {
	client     redis.UniversalClient
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client redis.UniversalClient, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞加锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 带重试的加锁，重试用尽返回 ErrLockFailed
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// UserLockKey 按用户维度的绑定锁
func UserLockKey(userID string) string {
	return fmt.Sprintf("binding:lock:user:%s", userID)
}

// UserLocker 串行化同一用户的账户变更，不同用户互不影响
type UserLocker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewUserLocker(client redis.UniversalClient, ttl, retryInterval time.Duration, maxRetries int) *UserLocker {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &UserLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

// Lock 获取用户锁，返回的 unlock 可以安全地 defer
func (u *UserLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l := NewDistributedLock(u.client, UserLockKey(userID), uuid.NewString(), u.ttl)
	if err := l.Lock(ctx, u.retryInterval, u.maxRetries); err != nil {
		return nil, err
	}

	unlock := func() {
		// 请求 ctx 可能已经取消，释放锁用独立的超时
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.Unlock(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "lock",
				"key":       l.key,
			}).WithError(err).Warn("释放用户锁失败，等待过期")
		}
	}
	return unlock, nil
}
