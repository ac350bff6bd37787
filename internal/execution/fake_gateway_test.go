package execution

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
)

// fakeGateway 可编程的测试网关。未设置的回调走合理缺省值。
type fakeGateway struct {
	mu sync.Mutex

	name string
	tick decimal.Decimal

	placeOpen   func(n int, side domain.Side, size decimal.Decimal) (string, error)
	placeLimit  func(n int, side domain.Side, size, price decimal.Decimal) (string, error)
	orderStatus func(n int, orderID string) (*domain.Order, error)
	bbo         func(n int) (domain.BBO, error)
	netPosition func(n int) (decimal.Decimal, error)

	openCalls     int
	limitCalls    int
	statusCalls   int
	bboCalls      int
	posCalls      int
	cancels       []string
	cancelActives int

	lastLimitPrice decimal.Decimal
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name, tick: decimal.RequireFromString("0.01")}
}

func (g *fakeGateway) Name() string                     { return g.name }
func (g *fakeGateway) Connect(context.Context) error    { return nil }
func (g *fakeGateway) Disconnect(context.Context) error { return nil }
func (g *fakeGateway) ContractID() string               { return "FAKE-PERP" }
func (g *fakeGateway) TickSize() decimal.Decimal        { return g.tick }

func (g *fakeGateway) PlaceOpenOrder(_ context.Context, side domain.Side, size decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openCalls++
	if g.placeOpen != nil {
		return g.placeOpen(g.openCalls, side, size)
	}
	return "order-1", nil
}

func (g *fakeGateway) PlaceLimitOrder(_ context.Context, side domain.Side, size, price decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limitCalls++
	g.lastLimitPrice = price
	if g.placeLimit != nil {
		return g.placeLimit(g.limitCalls, side, size, price)
	}
	return "order-1", nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, orderID)
	return nil
}

func (g *fakeGateway) CancelActiveOrders(_ context.Context, _ domain.Side) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelActives++
	return nil
}

func (g *fakeGateway) GetOrderStatus(_ context.Context, orderID string) (*domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.orderStatus != nil {
		return g.orderStatus(g.statusCalls, orderID)
	}
	return &domain.Order{OrderID: orderID, Status: domain.OrderStatusOpen}, nil
}

func (g *fakeGateway) GetBestBidOffer(_ context.Context) (domain.BBO, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bboCalls++
	if g.bbo != nil {
		return g.bbo(g.bboCalls)
	}
	return domain.BBO{Bid: decimal.RequireFromString("100"), Ask: decimal.RequireFromString("101")}, nil
}

func (g *fakeGateway) GetNetPosition(_ context.Context) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.posCalls++
	if g.netPosition != nil {
		return g.netPosition(g.posCalls)
	}
	return decimal.Zero, nil
}

func (g *fakeGateway) snapshotCounters() (open, limit, status, cancelActive int, cancels []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openCalls, g.limitCalls, g.statusCalls, g.cancelActives, append([]string(nil), g.cancels...)
}

// memTradeLog 进程内成交记录，用于断言
type memTradeLog struct {
	mu      sync.Mutex
	records []tradeRecord
}

type tradeRecord struct {
	venue string
	side  domain.Side
	price decimal.Decimal
	size  decimal.Decimal
}

func (l *memTradeLog) Record(venue string, _ time.Time, side domain.Side, price, size decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, tradeRecord{venue: venue, side: side, price: price, size: size})
	return nil
}

func (l *memTradeLog) all() []tradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]tradeRecord(nil), l.records...)
}
