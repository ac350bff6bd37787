package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
)

// Small capability interfaces shared across layers (execution/reconcile/hedge).

// ExchangeGateway 单个 venue 的交易网关。
// 具体连接方式（sidecar REST、原生 SDK）由实现决定，核心组件只依赖本接口。
type ExchangeGateway interface {
	// Name venue 名称（用于日志/交易记录/仓位簿 key）
	Name() string

	// Connect 初始化并建立连接；返回合约 ID 与 tick size
	Connect(ctx context.Context) error
	// Disconnect 断开连接（best-effort，失败由调用方记录后吞掉）
	Disconnect(ctx context.Context) error

	// ContractID 已初始化后的合约标识
	ContractID() string
	// TickSize 合约价格精度
	TickSize() decimal.Decimal

	// PlaceLimitOrder 下限价单，返回订单 ID。
	// aggressive 定价同样走本路径（价格已计算好）。
	PlaceLimitOrder(ctx context.Context, side domain.Side, size, price decimal.Decimal) (string, error)
	// PlaceOpenOrder 下 maker（post-only）开仓单，由 venue 按盘口自动定价
	PlaceOpenOrder(ctx context.Context, side domain.Side, size decimal.Decimal) (string, error)
	// CancelOrder 撤销指定订单
	CancelOrder(ctx context.Context, orderID string) error
	// CancelActiveOrders 撤销本合约的活跃订单；side 非空时只撤该方向
	CancelActiveOrders(ctx context.Context, side domain.Side) error
	// GetOrderStatus 查询订单状态
	GetOrderStatus(ctx context.Context, orderID string) (*domain.Order, error)
	// GetBestBidOffer 查询一档盘口
	GetBestBidOffer(ctx context.Context) (domain.BBO, error)
	// GetNetPosition 查询带符号净仓位
	GetNetPosition(ctx context.Context) (decimal.Decimal, error)
}

// Notifier 外发通知（Telegram 等）。fire-and-forget：失败只记日志，绝不致命。
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// TradeLog 追加式成交记录。重试导致的重复记录是可接受的（幂等由下游消费方处理）。
type TradeLog interface {
	Record(venue string, ts time.Time, side domain.Side, price, size decimal.Decimal) error
}
