package tradelog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
	"github.com/Dado-hash/perp-dexes-bot/internal/ports"
)

// MultiLog 把每条成交同时写入多个后端（CSV + SQLite）。
// 单个后端失败不阻断其余后端，错误合并后返回。
type MultiLog struct {
	sinks []ports.TradeLog
}

// NewMultiLog 组合多个成交记录后端，nil 项被忽略
func NewMultiLog(sinks ...ports.TradeLog) *MultiLog {
	m := &MultiLog{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Record 写入所有后端
func (m *MultiLog) Record(venue string, ts time.Time, side domain.Side, price, size decimal.Decimal) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(venue, ts, side, price, size); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
