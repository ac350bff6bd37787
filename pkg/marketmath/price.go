package marketmath

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
)

// RoundToTick 将价格按 tick size 取整（round-half-up）。
// tick 非正时原样返回。
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	// (price / tick) 四舍五入到整数再乘回。价格恒为正，
	// shopspring 的 Round（half away from zero）即 half-up。
	return price.DivRound(tick, 12).Round(0).Mul(tick)
}

// AggressivePrice 计算吃单价：买单在 ask 上方加滑点，卖单在 bid 下方减滑点，
// 再按 tick 取整。盘口必须先通过 BBO.Valid 检查。
func AggressivePrice(bbo domain.BBO, side domain.Side, slippage, tick decimal.Decimal) (decimal.Decimal, error) {
	if !bbo.Valid() {
		return decimal.Zero, fmt.Errorf("invalid bbo: bid=%s ask=%s", bbo.Bid, bbo.Ask)
	}
	one := decimal.NewFromInt(1)
	var raw decimal.Decimal
	switch side {
	case domain.SideBuy:
		raw = bbo.Ask.Mul(one.Add(slippage))
	case domain.SideSell:
		raw = bbo.Bid.Mul(one.Sub(slippage))
	default:
		return decimal.Zero, fmt.Errorf("unsupported side: %s", side)
	}
	return RoundToTick(raw, tick), nil
}

// MakerPrice 计算 maker 挂单价：买单贴在 ask 内侧一个 tick，卖单贴在 bid 内侧一个 tick，
// 尽量排在队列前面同时保持 post-only。
func MakerPrice(bbo domain.BBO, side domain.Side, tick decimal.Decimal) (decimal.Decimal, error) {
	if !bbo.Valid() {
		return decimal.Zero, fmt.Errorf("invalid bbo: bid=%s ask=%s", bbo.Bid, bbo.Ask)
	}
	var raw decimal.Decimal
	switch side {
	case domain.SideBuy:
		raw = bbo.Ask.Sub(tick)
	case domain.SideSell:
		raw = bbo.Bid.Add(tick)
	default:
		return decimal.Zero, fmt.Errorf("unsupported side: %s", side)
	}
	if !raw.IsPositive() {
		return decimal.Zero, fmt.Errorf("maker price not positive: %s", raw)
	}
	return RoundToTick(raw, tick), nil
}

// ConfirmTolerance 成交确认容差：max(floor, quantity × fraction)
func ConfirmTolerance(quantity, floor, fraction decimal.Decimal) decimal.Decimal {
	rel := quantity.Mul(fraction)
	if rel.GreaterThan(floor) {
		return rel
	}
	return floor
}
