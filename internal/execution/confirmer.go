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
	"github.com/Dado-hash/perp-dexes-bot/pkg/marketmath"
)

// ConfirmerConfig 对冲腿执行器参数
type ConfirmerConfig struct {
	SlippageFraction decimal.Decimal // aggressive 定价的滑点比例
	ToleranceFloor   decimal.Decimal // 仓位变化确认容差下限
	ToleranceFrac    decimal.Decimal // 容差数量占比
	SettleWait       time.Duration   // 下单后等待仓位落账的时间
	RetryBackoff     time.Duration   // 重试前的固定退避
}

// DefaultConfirmerConfig 原策略的缺省参数
func DefaultConfirmerConfig() ConfirmerConfig {
	return ConfirmerConfig{
		SlippageFraction: decimal.RequireFromString("0.002"),
		ToleranceFloor:   decimal.RequireFromString("0.0001"),
		ToleranceFrac:    decimal.RequireFromString("0.02"),
		SettleWait:       time.Second,
		RetryBackoff:     time.Second,
	}
}

func (c *ConfirmerConfig) applyDefaults() {
	def := DefaultConfirmerConfig()
	if c.SlippageFraction.IsZero() {
		c.SlippageFraction = def.SlippageFraction
	}
	if c.ToleranceFloor.IsZero() {
		c.ToleranceFloor = def.ToleranceFloor
	}
	if c.ToleranceFrac.IsZero() {
		c.ToleranceFrac = def.ToleranceFrac
	}
	if c.SettleWait <= 0 {
		c.SettleWait = def.SettleWait
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
}

// FillConfirmer 对冲腿执行器。
//
// 用带滑点的 aggressive 限价单立即吃掉对手盘，成交确认不走订单状态，
// 而是对比下单前后的净仓位变化是否在容差内。hedge venue 的订单状态
// 接口延迟不可靠，仓位才是真相（原策略的教训）。
//
// 确认失败（仓位变化不足）就撤掉该方向的活跃订单重来。唯一不重试的
// 失败是下单成功但没拿到订单 ID，此时敞口状态不可知，返回
// ErrNoOrderID 让上层立即熔断。
type FillConfirmer struct {
	gateway ports.ExchangeGateway
	book    *domain.PositionBook
	trades  ports.TradeLog
	clk     clock.Clock
	cfg     ConfirmerConfig
	log     *logrus.Entry
}

// NewFillConfirmer 创建对冲腿执行器。trades 可为 nil。
func NewFillConfirmer(gw ports.ExchangeGateway, book *domain.PositionBook, trades ports.TradeLog, clk clock.Clock, cfg ConfirmerConfig) *FillConfirmer {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &FillConfirmer{
		gateway: gw,
		book:    book,
		trades:  trades,
		clk:     clk,
		cfg:     cfg,
		log:     logger.WithField("component", "fill_confirmer").WithField("venue", gw.Name()),
	}
}

// ConfirmAggressiveFill 下 aggressive 单并用仓位变化确认成交。
// 成功返回订单 ID；ErrNoOrderID 表示不可重试的危险失败；
// ErrStopped 表示 ctx 取消。
func (c *FillConfirmer) ConfirmAggressiveFill(ctx context.Context, side domain.Side, quantity decimal.Decimal) (string, error) {
	tolerance := marketmath.ConfirmTolerance(quantity, c.cfg.ToleranceFloor, c.cfg.ToleranceFrac)
	expected := quantity.Mul(side.Sign())

	for {
		if ctx.Err() != nil {
			return "", ErrStopped
		}

		bbo, err := c.gateway.GetBestBidOffer(ctx)
		if err != nil {
			c.log.Warnf("查询盘口失败，%v 后重试: %v", c.cfg.RetryBackoff, err)
			if !sleep(ctx, c.clk, c.cfg.RetryBackoff) {
				return "", ErrStopped
			}
			continue
		}
		if !bbo.Valid() {
			c.log.Warnf("盘口不可用 (bid=%s ask=%s)，跳过本次定价", bbo.Bid.String(), bbo.Ask.String())
			if !sleep(ctx, c.clk, c.cfg.RetryBackoff) {
				return "", ErrStopped
			}
			continue
		}

		price, err := marketmath.AggressivePrice(bbo, side, c.cfg.SlippageFraction, c.gateway.TickSize())
		if err != nil {
			c.log.Warnf("定价失败: %v", err)
			if !sleep(ctx, c.clk, c.cfg.RetryBackoff) {
				return "", ErrStopped
			}
			continue
		}

		before, err := c.gateway.GetNetPosition(ctx)
		if err != nil {
			c.log.Warnf("查询下单前仓位失败: %v", err)
			if !sleep(ctx, c.clk, c.cfg.RetryBackoff) {
				return "", ErrStopped
			}
			continue
		}

		orderID, err := c.gateway.PlaceLimitOrder(ctx, side, quantity, price)
		if err != nil {
			c.log.Warnf("下单失败，%v 后重试: %v", c.cfg.RetryBackoff, err)
			if !sleep(ctx, c.clk, c.cfg.RetryBackoff) {
				return "", ErrStopped
			}
			continue
		}
		if orderID == "" {
			// 订单可能已挂上但无法跟踪，重试会导致重复建仓
			c.log.Errorf("🚨 下单成功但未返回订单 ID (%s %s x %s)，停止重试", c.gateway.Name(), side, quantity.String())
			return "", ErrNoOrderID
		}
		c.log.Infof("⚡ aggressive 下单 %s %s x %s @ %s (order_id=%s)", c.gateway.Name(), side, quantity.String(), price.String(), orderID)

		if !sleep(ctx, c.clk, c.cfg.SettleWait) {
			return orderID, ErrStopped
		}

		after, err := c.queryPositionRetry(ctx)
		if err != nil {
			return orderID, err
		}

		delta := after.Sub(before)
		if delta.Sub(expected).Abs().LessThanOrEqual(tolerance) {
			c.log.Infof("✅ 仓位变化确认成交 delta=%s expected=%s (±%s)", delta.String(), expected.String(), tolerance.String())
			if c.book != nil {
				c.book.Set(c.gateway.Name(), after)
			}
			if c.trades != nil && delta.Abs().IsPositive() {
				if err := c.trades.Record(c.gateway.Name(), time.Now().UTC(), side, price, delta.Abs()); err != nil {
					c.log.Warnf("写入成交记录失败: %v", err)
				}
			}
			return orderID, nil
		}

		c.log.Warnf("仓位变化 %s 与预期 %s 偏差超过容差 %s，撤单重试", delta.String(), expected.String(), tolerance.String())
		if err := c.gateway.CancelActiveOrders(ctx, side); err != nil {
			c.log.Warnf("撤销活跃订单失败: %v", err)
		}
		if !sleep(ctx, c.clk, c.cfg.RetryBackoff) {
			return orderID, ErrStopped
		}
	}
}

// queryPositionRetry 下单后的仓位查询。此时订单已在场上，
// 不能因为查询抖动就重新下单，只能原地重试到拿到结果为止。
func (c *FillConfirmer) queryPositionRetry(ctx context.Context) (decimal.Decimal, error) {
	for {
		pos, err := c.gateway.GetNetPosition(ctx)
		if err == nil {
			return pos, nil
		}
		c.log.Warnf("查询下单后仓位失败，%v 后重试: %v", c.cfg.RetryBackoff, err)
		if !sleep(ctx, c.clk, c.cfg.RetryBackoff) {
			return decimal.Zero, ErrStopped
		}
	}
}
