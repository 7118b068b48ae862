// Package snowflake 提供按 worker identity 划分的 64 位时间有序 ID 生成器
//
// ID 布局（从高位到低位）：
//
//	[ 41 bit 毫秒时间戳 | 10 bit worker identity | 12 bit 序列号 ]
//
// 时间戳相对 2024-01-01 UTC 纪元。只要每个生成器持有不同的
// worker identity（由 WorkerIdentityRegistry 保证），同一纪元下
// 生成的 ID 全局唯一；单个生成器内单调不减。
//
// 时钟回拨是运维/配置错误，生成器返回错误而不是悄悄等待。
package snowflake

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// Epoch 纪元：2024-01-01 00:00:00 UTC 的毫秒时间戳
	Epoch int64 = 1704067200000

	// TimestampBits 毫秒时间戳位宽
	TimestampBits = 41
	// WorkerBits worker identity 位宽，决定注册表大小
	WorkerBits = 10
	// SequenceBits 同一毫秒内的序列号位宽
	SequenceBits = 12

	// MaxWorkerID 最大 worker identity（含）
	MaxWorkerID = (1 << WorkerBits) - 1
	// MaxSequence 同一毫秒内可生成的最大序列号（含）
	MaxSequence = (1 << SequenceBits) - 1

	workerShift    = SequenceBits
	timestampShift = SequenceBits + WorkerBits
)

// ErrClockMovedBackwards 时钟回拨
// 继续生成可能撞上已发出的 ID，调用方必须把它当作致命错误处理
var ErrClockMovedBackwards = errors.New("snowflake: clock moved backwards")

// Generator 单个 worker identity 的 ID 生成器
// 并发安全，所有状态在生成器自己的互斥锁保护下修改
type Generator struct {
	mu       sync.Mutex
	workerID int64
	lastTS   int64
	sequence int64

	now func() int64
}

// New 创建绑定到指定 worker identity 的生成器
func New(workerID int) (*Generator, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("snowflake: worker id %d out of range [0, %d]", workerID, MaxWorkerID)
	}
	return &Generator{
		workerID: int64(workerID),
		lastTS:   -1,
		now: func() int64 {
			return time.Now().UnixMilli()
		},
	}, nil
}

// WorkerID 返回生成器绑定的 worker identity
func (g *Generator) WorkerID() int {
	return int(g.workerID)
}

// NextID 生成下一个 ID
// 同一毫秒内序列号递增；序列号用尽时忙等到下一毫秒；
// 时钟回拨返回 ErrClockMovedBackwards
func (g *Generator) NextID() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now()
	if ts < g.lastTS {
		return 0, fmt.Errorf("%w: last=%d now=%d", ErrClockMovedBackwards, g.lastTS, ts)
	}

	if ts == g.lastTS {
		g.sequence = (g.sequence + 1) & MaxSequence
		if g.sequence == 0 {
			// 当前毫秒的序列号用完了，等时钟走到下一毫秒
			for ts <= g.lastTS {
				ts = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTS = ts

	elapsed := ts - Epoch
	id := uint64(elapsed)<<timestampShift |
		uint64(g.workerID)<<workerShift |
		uint64(g.sequence)
	return id, nil
}

// Decompose 把 ID 拆回时间戳、worker identity 和序列号
func Decompose(id uint64) (ts time.Time, workerID int, sequence int) {
	elapsed := int64(id >> timestampShift)
	workerID = int((id >> workerShift) & MaxWorkerID)
	sequence = int(id & MaxSequence)
	ts = time.UnixMilli(Epoch + elapsed).UTC()
	return ts, workerID, sequence
}
