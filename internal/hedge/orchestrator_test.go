package hedge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
	"github.com/Dado-hash/perp-dexes-bot/internal/execution"
	"github.com/Dado-hash/perp-dexes-bot/internal/reconcile"
	"github.com/Dado-hash/perp-dexes-bot/internal/risk"
	"github.com/Dado-hash/perp-dexes-bot/pkg/config"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func driveClock(mock *clock.Mock, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
			time.Sleep(time.Millisecond)
			mock.Add(100 * time.Millisecond)
		}
	}
}

// stubVenue 模拟单个 venue：maker 单即挂即成，aggressive 单直接落账到仓位。
type stubVenue struct {
	mu sync.Mutex

	name      string
	pos       decimal.Decimal
	fixedPos  bool            // true 时仓位不随下单变化（用于对账测试）
	leak      decimal.Decimal // 每笔 aggressive 成交额外漂移的仓位
	fillRatio decimal.Decimal
	noOrderID bool

	orders       map[string]decimal.Decimal // orderID -> 成交量
	openSizes    []decimal.Decimal
	limitSizes   []decimal.Decimal
	seq          int
	connected    bool
	disconnected bool
}

func newStubVenue(name string) *stubVenue {
	return &stubVenue{
		name:      name,
		fillRatio: decimal.NewFromInt(1),
		orders:    make(map[string]decimal.Decimal),
	}
}

func (v *stubVenue) Name() string { return v.name }

func (v *stubVenue) Connect(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = true
	return nil
}

func (v *stubVenue) Disconnect(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disconnected = true
	return nil
}

func (v *stubVenue) ContractID() string        { return v.name + "-PERP" }
func (v *stubVenue) TickSize() decimal.Decimal { return dec("0.01") }

func (v *stubVenue) PlaceOpenOrder(_ context.Context, side domain.Side, size decimal.Decimal) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	id := fmt.Sprintf("%s-open-%d", v.name, v.seq)
	filled := size.Mul(v.fillRatio)
	v.orders[id] = filled
	v.openSizes = append(v.openSizes, size)
	if !v.fixedPos {
		v.pos = v.pos.Add(filled.Mul(side.Sign()))
	}
	return id, nil
}

func (v *stubVenue) PlaceLimitOrder(_ context.Context, side domain.Side, size, _ decimal.Decimal) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.limitSizes = append(v.limitSizes, size)
	if v.noOrderID {
		return "", nil
	}
	v.seq++
	if !v.fixedPos {
		v.pos = v.pos.Add(size.Mul(side.Sign())).Add(v.leak)
	}
	return fmt.Sprintf("%s-limit-%d", v.name, v.seq), nil
}

func (v *stubVenue) CancelOrder(context.Context, string) error             { return nil }
func (v *stubVenue) CancelActiveOrders(context.Context, domain.Side) error { return nil }

func (v *stubVenue) GetOrderStatus(_ context.Context, orderID string) (*domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	filled, ok := v.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	price := dec("100")
	return &domain.Order{
		OrderID:    orderID,
		Status:     domain.OrderStatusFilled,
		FilledSize: filled,
		Price:      &price,
	}, nil
}

func (v *stubVenue) GetBestBidOffer(context.Context) (domain.BBO, error) {
	return domain.BBO{Bid: dec("100"), Ask: dec("100.01")}, nil
}

func (v *stubVenue) GetNetPosition(context.Context) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pos, nil
}

// memNotifier 记录发出的通知
type memNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *memNotifier) Notify(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *memNotifier) contains(substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

type orchestratorFixture struct {
	maker    *stubVenue
	hedger   *stubVenue
	book     *domain.PositionBook
	breaker  *risk.CircuitBreaker
	notifier *memNotifier
	mock     *clock.Mock
	orch     *Orchestrator
}

func newFixture(cfg Config, rule config.MismatchRule) *orchestratorFixture {
	return newFixtureWithThreshold(cfg, rule, dec("0.2"))
}

func newFixtureWithThreshold(cfg Config, rule config.MismatchRule, threshold decimal.Decimal) *orchestratorFixture {
	f := &orchestratorFixture{
		maker:    newStubVenue("grvt"),
		hedger:   newStubVenue("lighter"),
		book:     domain.NewPositionBook(),
		breaker:  risk.NewCircuitBreaker(risk.CircuitBreakerConfig{}),
		notifier: &memNotifier{},
		mock:     clock.NewMock(),
	}
	makerExec := execution.NewRepricingExecutor(f.maker, f.book, nil, f.mock, execution.RepricingConfig{})
	hedgeExec := execution.NewFillConfirmer(f.hedger, f.book, nil, f.mock, execution.ConfirmerConfig{})
	rec := reconcile.NewReconciler(f.maker, f.hedger, f.book, rule, threshold)
	f.orch = NewOrchestrator(cfg, f.maker, f.hedger, makerExec, hedgeExec, rec, f.breaker, f.notifier, f.book, f.mock, nil)
	return f
}

func (f *orchestratorFixture) run(ctx context.Context) error {
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		err = f.orch.Run(ctx)
	}()
	driveClock(f.mock, done)
	return err
}

func TestOrchestratorCompletesFullCycle(t *testing.T) {
	f := newFixture(Config{
		Ticker:         "BTC",
		MakerDirection: domain.SideSell,
		Quantity:       dec("0.1"),
		Iterations:     2,
	}, config.MismatchRuleNetSum)

	if err := f.run(context.Background()); err != nil {
		t.Fatalf("Run 失败: %v", err)
	}

	st := f.orch.State()
	if st.Phase != domain.PhaseComplete {
		t.Fatalf("应进入 COMPLETE，实际: %s", st.Phase)
	}
	if st.Iteration != 2 {
		t.Fatalf("应完成 2 轮，实际: %d", st.Iteration)
	}
	// 每轮 maker 两笔挂单（开+平），hedge 两笔 aggressive（对冲+解对冲）
	if len(f.maker.openSizes) != 4 {
		t.Fatalf("maker 挂单次数错误: %d", len(f.maker.openSizes))
	}
	if len(f.hedger.limitSizes) != 4 {
		t.Fatalf("hedge 下单次数错误: %d", len(f.hedger.limitSizes))
	}
	// 周期结束后两边仓位都应回到 0
	if !f.maker.pos.IsZero() || !f.hedger.pos.IsZero() {
		t.Fatalf("周期后仓位应归零: maker=%s hedge=%s", f.maker.pos.String(), f.hedger.pos.String())
	}
	if !f.maker.disconnected || !f.hedger.disconnected {
		t.Fatal("结束时应断开两个网关")
	}
	if !f.notifier.contains("对冲循环完成") {
		t.Fatalf("缺少完成通知: %v", f.notifier.messages)
	}
}

func TestOrchestratorPropagatesPartialFill(t *testing.T) {
	f := newFixture(Config{
		Ticker:         "BTC",
		MakerDirection: domain.SideSell,
		Quantity:       dec("1"),
		Iterations:     1,
	}, config.MismatchRuleNetSum)
	// maker 腿只成交 97%
	f.maker.fillRatio = dec("0.97")

	if err := f.run(context.Background()); err != nil {
		t.Fatalf("Run 失败: %v", err)
	}

	st := f.orch.State()
	if !st.FilledSize(domain.PhaseOpenMaker).Equal(dec("0.97")) {
		t.Fatalf("开仓成交量错误: %s", st.FilledSize(domain.PhaseOpenMaker).String())
	}
	// 对冲腿的下单数量必须是开仓实际成交量
	if !f.hedger.limitSizes[0].Equal(dec("0.97")) {
		t.Fatalf("对冲数量应为 0.97，实际: %s", f.hedger.limitSizes[0].String())
	}
	// 平仓数量同样来自开仓实际成交量
	if !f.maker.openSizes[1].Equal(dec("0.97")) {
		t.Fatalf("平仓数量应为 0.97，实际: %s", f.maker.openSizes[1].String())
	}
}

func TestOrchestratorAbortsOnMissingHedgeOrderID(t *testing.T) {
	f := newFixture(Config{
		Ticker:         "BTC",
		MakerDirection: domain.SideSell,
		Quantity:       dec("0.1"),
		Iterations:     3,
	}, config.MismatchRuleNetSum)
	f.hedger.noOrderID = true

	err := f.run(context.Background())
	if !errors.Is(err, ErrUnhedgedExposure) {
		t.Fatalf("应返回 ErrUnhedgedExposure，实际: %v", err)
	}
	if !errors.Is(err, execution.ErrNoOrderID) {
		t.Fatalf("错误链应包含 ErrNoOrderID，实际: %v", err)
	}
	if !f.orch.State().Aborted() {
		t.Fatalf("应进入 ABORTED，实际: %s", f.orch.State().Phase)
	}
	// 不得重试：对冲腿只下过一笔单
	if len(f.hedger.limitSizes) != 1 {
		t.Fatalf("不可重试的失败不应重新下单，实际 %d 次", len(f.hedger.limitSizes))
	}
	if err := f.breaker.AllowTrading(); !errors.Is(err, risk.ErrCircuitBreakerOpen) {
		t.Fatal("致命失败后断路器应打开")
	}
	if !f.notifier.contains("DANGER") {
		t.Fatalf("缺少危险告警通知: %v", f.notifier.messages)
	}
	if !f.maker.disconnected || !f.hedger.disconnected {
		t.Fatal("中止时也应断开两个网关")
	}
}

func TestOrchestratorAbortsOnPositionMismatch(t *testing.T) {
	f := newFixture(Config{
		Ticker:         "BTC",
		MakerDirection: domain.SideSell,
		Quantity:       dec("0.1"),
		Iterations:     1,
	}, config.MismatchRuleNetSum)
	// 两 venue 同向敞口: |1.0 + 0.95| = 1.95 > 0.2
	f.maker.pos = dec("1.0")
	f.maker.fixedPos = true
	f.hedger.pos = dec("0.95")
	f.hedger.fixedPos = true

	err := f.run(context.Background())
	if !errors.Is(err, reconcile.ErrPositionMismatch) {
		t.Fatalf("应返回 ErrPositionMismatch，实际: %v", err)
	}
	if !f.orch.State().Aborted() {
		t.Fatalf("应进入 ABORTED，实际: %s", f.orch.State().Phase)
	}
	// 核对失败在任何下单之前
	if len(f.maker.openSizes) != 0 || len(f.hedger.limitSizes) != 0 {
		t.Fatal("仓位不一致时不应下任何订单")
	}
	if err := f.breaker.AllowTrading(); !errors.Is(err, risk.ErrCircuitBreakerOpen) {
		t.Fatal("仓位不一致后断路器应打开")
	}
}

// 最后一轮产生的漂移没有下一轮的开场核对兜底，收尾核对必须拦住它。
func TestOrchestratorFinalCheckCatchesLastCycleDrift(t *testing.T) {
	f := newFixtureWithThreshold(Config{
		Ticker:         "BTC",
		MakerDirection: domain.SideSell,
		Quantity:       dec("1"),
		Iterations:     1,
	}, config.MismatchRuleNetSum, dec("0.02"))
	// 每笔 aggressive 成交漂移 0.015，单笔在确认容差内（1 × 0.02），
	// 两笔累计 0.03 超过核对阈值
	f.hedger.leak = dec("0.015")

	err := f.run(context.Background())
	if !errors.Is(err, reconcile.ErrPositionMismatch) {
		t.Fatalf("应返回 ErrPositionMismatch，实际: %v", err)
	}
	if !f.orch.State().Aborted() {
		t.Fatalf("应进入 ABORTED，实际: %s", f.orch.State().Phase)
	}
	// 周期本身完整走完，漂移是在收尾核对时才暴露的
	if len(f.maker.openSizes) != 2 || len(f.hedger.limitSizes) != 2 {
		t.Fatalf("周期应完整执行: maker=%d hedge=%d", len(f.maker.openSizes), len(f.hedger.limitSizes))
	}
	if err := f.breaker.AllowTrading(); !errors.Is(err, risk.ErrCircuitBreakerOpen) {
		t.Fatal("收尾核对失败后断路器应打开")
	}
	if !f.notifier.contains("收尾仓位不一致") {
		t.Fatalf("缺少收尾告警通知: %v", f.notifier.messages)
	}
}

func TestOrchestratorStopsOnContextCancel(t *testing.T) {
	f := newFixture(Config{
		Ticker:         "BTC",
		MakerDirection: domain.SideSell,
		Quantity:       dec("0.1"),
		Iterations:     1000,
	}, config.MismatchRuleNetSum)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := f.run(ctx)
	if !errors.Is(err, execution.ErrStopped) {
		t.Fatalf("取消后应返回 ErrStopped，实际: %v", err)
	}
	if !f.orch.State().Aborted() {
		t.Fatalf("外部停止应进入 ABORTED，实际: %s", f.orch.State().Phase)
	}
	if !f.maker.disconnected || !f.hedger.disconnected {
		t.Fatal("停止时应断开两个网关")
	}
}
