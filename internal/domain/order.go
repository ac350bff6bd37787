package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign 返回方向对应的符号（buy=+1 sell=-1），用于仓位增量计算
func (s Side) Sign() decimal.Decimal {
	if s == SideBuy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// Valid 检查方向是否合法
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus 订单状态（与 venue sidecar 服务返回的状态字符串一致）
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// NormalizeOrderStatus 归一化 venue 返回的状态字符串。
// 个别 venue 返回英式拼写 CANCELLED，这里统一为 CANCELED。
func NormalizeOrderStatus(raw string) OrderStatus {
	switch OrderStatus(raw) {
	case "CANCELLED":
		return OrderStatusCanceled
	default:
		return OrderStatus(raw)
	}
}

// IsTerminal 检查是否为终态（终态后订单不再变化，可以安全丢弃）
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusRejected
}

// Order 订单领域模型。
// 一个订单从下单到观察到终态为止，由下单的执行器独占管理；
// 观察到终态后即丢弃，不做跨周期追踪。
type Order struct {
	Venue      string           // 所属 venue 名称
	OrderID    string           // venue 返回的订单 ID
	Side       Side             // 订单方向
	Size       decimal.Decimal  // 请求数量
	FilledSize decimal.Decimal  // 已成交数量（部分成交时小于 Size）
	Price      *decimal.Decimal // 限价（aggressive/市价单可为空）
	Status     OrderStatus      // 当前状态
	CreatedAt  time.Time        // 创建时间
}

// ExecutedSize 返回实际成交数量。
// 部分成交时必须用 FilledSize 而不是请求数量，否则平仓/解对冲腿会放大敞口。
func (o *Order) ExecutedSize() decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	if o.FilledSize.IsPositive() {
		return o.FilledSize
	}
	if o.Status == OrderStatusFilled {
		return o.Size
	}
	return decimal.Zero
}

// IsFilled 检查订单是否已全部成交
func (o *Order) IsFilled() bool {
	return o != nil && o.Status == OrderStatusFilled
}

// BBO 一档盘口（best bid / best offer）
type BBO struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Valid 检查盘口是否可用：双边必须为正且 bid < ask。
// 交叉盘（bid >= ask）通常意味着数据陈旧或 venue 异常，不应据此定价。
func (b BBO) Valid() bool {
	if !b.Bid.IsPositive() || !b.Ask.IsPositive() {
		return false
	}
	return b.Bid.LessThan(b.Ask)
}
