package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 雪花 ID 生成器
// ============================================================================
//
// 币安账户主键与头像对象名都使用雪花 ID：
//   1. 全局唯一，多实例部署时靠 workerID 区分
//   2. 按时间递增，"最近绑定的账户" 可以直接按 ID 倒序兜底排序
//   3. 不暴露账户数量
//
// 结构（64 位）：0 | 41 位毫秒时间戳 | 10 位机器 ID | 12 位序列号
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花 ID 生成器，并发安全
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
	now       func() int64
}

var (
	defaultMu        sync.Mutex
	defaultGenerator *Snowflake
)

// New 创建生成器，workerID 取值 0-1023
func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间: %d", maxWorkerID, workerID)
	}
	return &Snowflake{
		workerID: workerID,
		now:      func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Init 设置默认生成器，进程启动时调用一次
func Init(workerID int64) error {
	g, err := New(workerID)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultGenerator = g
	defaultMu.Unlock()
	return nil
}

// NextID 使用默认生成器生成 ID，未初始化时使用 workerID = 1
func NextID() int64 {
	defaultMu.Lock()
	if defaultGenerator == nil {
		defaultGenerator, _ = New(1)
	}
	g := defaultGenerator
	defaultMu.Unlock()
	return g.Generate()
}

// Generate 生成下一个 ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// 时钟回拨时沿用上一次的时间戳，保证单调
	if now < s.timestamp {
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 当前毫秒序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = s.now()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// workerIDOf 从 ID 中解析出机器 ID
func workerIDOf(id int64) int64 {
	return (id >> workerIDShift) & maxWorkerID
}

// timestampOf 从 ID 中解析出生成时间
func timestampOf(id int64) time.Time {
	return time.UnixMilli((id >> timestampShift) + epoch)
}
