package domain

import (
	"sync"

	"github.com/shopspring/decimal"
)

// PositionBook 维护各 venue 最近一次已知的带符号净仓位。
//
// 注意：这不是权威账本，只是对账信号。写入只发生在两处：
// - 执行器确认成交后按实际成交量增量更新（Apply）
// - 对账/确认器用 venue 查询结果整体覆盖（Set）
type PositionBook struct {
	mu        sync.RWMutex
	positions map[string]decimal.Decimal
}

// NewPositionBook 创建空仓位簿
func NewPositionBook() *PositionBook {
	return &PositionBook{
		positions: make(map[string]decimal.Decimal),
	}
}

// Get 返回 venue 的最近已知净仓位（未知时为 0）
func (b *PositionBook) Get(venue string) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.positions[venue]
}

// Set 用 venue 查询到的权威值覆盖本地仓位
func (b *PositionBook) Set(venue string, position decimal.Decimal) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[venue] = position
}

// Apply 按确认成交的带符号增量更新仓位
func (b *PositionBook) Apply(venue string, delta decimal.Decimal) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[venue] = b.positions[venue].Add(delta)
}

// Snapshot 返回当前所有 venue 仓位的拷贝
func (b *PositionBook) Snapshot() map[string]decimal.Decimal {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(b.positions))
	for k, v := range b.positions {
		out[k] = v
	}
	return out
}
