package execution

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
	"github.com/Dado-hash/perp-dexes-bot/internal/ports"
	"github.com/Dado-hash/perp-dexes-bot/pkg/logger"
)

// RepricingConfig 重挂单执行器的时间参数
type RepricingConfig struct {
	FillTimeout  time.Duration // 单次挂单等待成交的上限
	PollInterval time.Duration // 订单状态轮询间隔
	RepriceDelay time.Duration // 撤单后重新挂单前的等待
	RetryBackoff time.Duration // 瞬时错误的固定退避
}

// DefaultRepricingConfig 原策略的缺省节奏
func DefaultRepricingConfig() RepricingConfig {
	return RepricingConfig{
		FillTimeout:  5 * time.Second,
		PollInterval: 300 * time.Millisecond,
		RepriceDelay: 500 * time.Millisecond,
		RetryBackoff: time.Second,
	}
}

func (c *RepricingConfig) applyDefaults() {
	def := DefaultRepricingConfig()
	if c.FillTimeout <= 0 {
		c.FillTimeout = def.FillTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RepriceDelay <= 0 {
		c.RepriceDelay = def.RepriceDelay
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
}

// RepricingExecutor maker 腿执行器。
//
// 在 maker venue 上挂 post-only 单并轮询状态；超时未成交就撤掉、
// 等盘口刷新后重挂。挂单被拒绝或外部撤销同样触发重挂。除 ctx
// 取消外不会放弃，调用方拿到的要么是确认成交，要么是 ErrStopped。
//
// 部分成交按实际成交量入账：撤单时已经吃掉的部分计入累计成交，
// 剩余数量继续重挂，保证返回的 filled 与仓位簿一致。
type RepricingExecutor struct {
	gateway ports.ExchangeGateway
	book    *domain.PositionBook
	trades  ports.TradeLog
	clk     clock.Clock
	cfg     RepricingConfig
	log     *logrus.Entry
}

// NewRepricingExecutor 创建 maker 腿执行器。trades 可为 nil（不记录成交）。
func NewRepricingExecutor(gw ports.ExchangeGateway, book *domain.PositionBook, trades ports.TradeLog, clk clock.Clock, cfg RepricingConfig) *RepricingExecutor {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &RepricingExecutor{
		gateway: gw,
		book:    book,
		trades:  trades,
		clk:     clk,
		cfg:     cfg,
		log:     logger.WithField("component", "repricing_executor").WithField("venue", gw.Name()),
	}
}

type fillOutcome int

const (
	outcomeFilled fillOutcome = iota
	outcomeCanceled
	outcomeTimeout
	outcomeStopped
)

// ExecuteUntilFilled 挂单直到请求数量全部成交。
// 返回最后一笔订单 ID 与累计成交数量。只有 ctx 取消会提前返回（ErrStopped），
// 此时 filled 为已入账的部分成交量。
func (e *RepricingExecutor) ExecuteUntilFilled(ctx context.Context, side domain.Side, quantity decimal.Decimal) (string, decimal.Decimal, error) {
	remaining := quantity
	total := decimal.Zero
	lastOrderID := ""

	for {
		if ctx.Err() != nil {
			return lastOrderID, total, ErrStopped
		}

		orderID, err := e.gateway.PlaceOpenOrder(ctx, side, remaining)
		if err != nil || orderID == "" {
			if err != nil {
				e.log.Warnf("挂单失败，%v 后重试: %v", e.cfg.RetryBackoff, err)
			} else {
				e.log.Warnf("挂单未返回订单 ID，%v 后重试", e.cfg.RetryBackoff)
			}
			if !sleep(ctx, e.clk, e.cfg.RetryBackoff) {
				return lastOrderID, total, ErrStopped
			}
			continue
		}
		lastOrderID = orderID
		e.log.Infof("📌 挂单 %s %s x %s (order_id=%s)", e.gateway.Name(), side, remaining.String(), orderID)

		order, outcome := e.waitForFill(ctx, orderID)
		switch outcome {
		case outcomeFilled:
			filled := order.ExecutedSize()
			e.settle(side, order, filled)
			total = total.Add(filled)
			e.log.Infof("✅ 订单成交 order_id=%s filled=%s", orderID, filled.String())
			return orderID, total, nil

		case outcomeCanceled:
			// 外部撤销/拒绝。已吃掉的部分照常入账，余量重挂。
			if filled := order.ExecutedSize(); filled.IsPositive() {
				e.settle(side, order, filled)
				total = total.Add(filled)
				remaining = remaining.Sub(filled)
				if !remaining.IsPositive() {
					return orderID, total, nil
				}
			}
			e.log.Warnf("订单 %s 状态 %s，重新挂单", orderID, order.Status)
			if !sleep(ctx, e.clk, e.cfg.RepriceDelay) {
				return lastOrderID, total, ErrStopped
			}

		case outcomeTimeout:
			e.log.Infof("⏱️ 订单 %s 超过 %v 未成交，撤单后按新盘口重挂", orderID, e.cfg.FillTimeout)
			if err := e.gateway.CancelOrder(ctx, orderID); err != nil {
				e.log.Warnf("撤单失败（订单可能已成交）: %v", err)
			}
			// 撤单与成交存在竞争，撤完再查一次终态
			final, err := e.gateway.GetOrderStatus(ctx, orderID)
			if err == nil && final != nil {
				if final.IsFilled() {
					filled := final.ExecutedSize()
					e.settle(side, final, filled)
					total = total.Add(filled)
					e.log.Infof("✅ 订单在撤单前已成交 order_id=%s filled=%s", orderID, filled.String())
					return orderID, total, nil
				}
				if filled := final.ExecutedSize(); filled.IsPositive() {
					e.settle(side, final, filled)
					total = total.Add(filled)
					remaining = remaining.Sub(filled)
					if !remaining.IsPositive() {
						return orderID, total, nil
					}
					e.log.Infof("部分成交 %s 已入账，余量 %s 重挂", filled.String(), remaining.String())
				}
			}
			if !sleep(ctx, e.clk, e.cfg.RepriceDelay) {
				return lastOrderID, total, ErrStopped
			}

		case outcomeStopped:
			return lastOrderID, total, ErrStopped
		}
	}
}

// waitForFill 轮询订单状态直到成交/终态/超时。
// 查询出错只告警并继续轮询（计入超时窗口），不向上冒泡。
func (e *RepricingExecutor) waitForFill(ctx context.Context, orderID string) (*domain.Order, fillOutcome) {
	deadline := e.clk.Now().Add(e.cfg.FillTimeout)
	var lastStatus domain.OrderStatus

	for {
		order, err := e.gateway.GetOrderStatus(ctx, orderID)
		if err != nil {
			e.log.Warnf("查询订单 %s 状态失败: %v", orderID, err)
		} else if order != nil {
			if order.Status != lastStatus {
				e.log.Infof("订单 %s 状态 %s -> %s (filled=%s)", orderID, lastStatus, order.Status, order.FilledSize.String())
				lastStatus = order.Status
			}
			if order.IsFilled() {
				return order, outcomeFilled
			}
			if order.Status.IsTerminal() {
				return order, outcomeCanceled
			}
		}

		if !e.clk.Now().Before(deadline) {
			return order, outcomeTimeout
		}
		if !sleep(ctx, e.clk, e.cfg.PollInterval) {
			return order, outcomeStopped
		}
	}
}

// settle 成交入账：写交易记录并更新仓位簿。两者都是 best-effort。
func (e *RepricingExecutor) settle(side domain.Side, order *domain.Order, filled decimal.Decimal) {
	if !filled.IsPositive() {
		return
	}
	if e.trades != nil {
		price := decimal.Zero
		if order != nil && order.Price != nil {
			price = *order.Price
		}
		if err := e.trades.Record(e.gateway.Name(), time.Now().UTC(), side, price, filled); err != nil {
			e.log.Warnf("写入成交记录失败: %v", err)
		}
	}
	if e.book != nil {
		e.book.Apply(e.gateway.Name(), side.Sign().Mul(filled))
	}
}
