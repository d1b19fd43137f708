package idgen

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 【为什么需要分布式ID？】
//
// 账户ID、支付意图ID、流水号要求：
//   1. 全局唯一 - 不能重复
//   2. 趋势递增 - 便于数据库索引
//   3. 高性能 - 支持高并发生成
//   4. 信息隐藏 - 不暴露业务量
//
// 【雪花算法结构】64位
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//   |   |            |            |
//   |   |            |            +-- 同一毫秒内的序列号（0-4095）
//   |   |            +-- 机器ID（0-1023）
//   |   +-- 毫秒级时间戳（可用约69年）
//   +-- 符号位，始终为0
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10                   // 机器ID位数
	sequenceBits   = 12                   // 序列号位数
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init 初始化默认ID生成器
func Init(workerID int64) {
	once.Do(func() {
		if workerID < 0 || workerID > maxWorkerID {
			log.Fatalf("workerID 必须在 0-%d 之间", maxWorkerID)
		}
		defaultGenerator = &Snowflake{
			workerID:  workerID,
			timestamp: 0,
			sequence:  0,
		}
	})
}

// NextID 生成下一个ID
func NextID() int64 {
	Init(1) // 未初始化时默认使用 workerID = 1，已初始化则不生效
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		// 同一毫秒内，序列号递增
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		// 不同毫秒，序列号重置
		s.sequence = 0
	}

	s.timestamp = now

	// 组装ID
	id := ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence

	return id
}

// GenerateAccountID 生成账户ID
// 格式：USR + 雪花ID
func GenerateAccountID() string {
	return fmt.Sprintf("USR%d", NextID())
}

// GenerateIntentID 生成支付意图ID
// 格式：pi_ + 年月日时分秒 + 雪花ID后8位
func GenerateIntentID() string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("pi_%s%08d", timestamp, id%100000000)
}

// GenerateTransactionNo 生成流水号
func GenerateTransactionNo() string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("TXN%s%08d", timestamp, id%100000000)
}

// GenerateClientSecret 生成支付意图的 client secret
// 只用于关联确认请求和意图，不做外部校验
func GenerateClientSecret(intentID string) string {
	return intentID + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
