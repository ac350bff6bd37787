package hedge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
	"github.com/Dado-hash/perp-dexes-bot/internal/execution"
	"github.com/Dado-hash/perp-dexes-bot/internal/ports"
	"github.com/Dado-hash/perp-dexes-bot/internal/reconcile"
	"github.com/Dado-hash/perp-dexes-bot/internal/risk"
	"github.com/Dado-hash/perp-dexes-bot/pkg/logger"
	"github.com/Dado-hash/perp-dexes-bot/pkg/persistence"
)

// ErrUnhedgedExposure maker 腿已成交但对冲腿下单后拿不到订单 ID。
// 这是唯一不重试的执行失败：敞口状态不可知，必须人工介入。
var ErrUnhedgedExposure = errors.New("unhedged exposure")

// Config 对冲循环参数
type Config struct {
	Ticker         string
	MakerDirection domain.Side     // maker 腿开仓方向
	Quantity       decimal.Decimal // 每个周期的下单数量
	Iterations     int             // 周期次数

	HedgeHold      time.Duration // 对冲成交后、平仓前的持仓等待
	IterationPause time.Duration // 周期之间的停顿
}

func (c *Config) applyDefaults() {
	if c.MakerDirection == "" {
		c.MakerDirection = domain.SideSell
	}
	if c.Iterations <= 0 {
		c.Iterations = 1
	}
	if c.HedgeHold <= 0 {
		c.HedgeHold = time.Second
	}
	if c.IterationPause <= 0 {
		c.IterationPause = 3 * time.Second
	}
}

// Orchestrator 对冲周期协调器。
//
// 驱动四阶段周期 OPEN_MAKER -> HEDGE -> CLOSE_MAKER -> UNHEDGE，
// 单线程顺序推进：上一阶段的确认成交量是下一阶段的下单数量。
// 每个 venue 一个网关句柄，全部在构造时注入。
type Orchestrator struct {
	cfg Config

	maker  ports.ExchangeGateway
	hedger ports.ExchangeGateway

	makerExec  *execution.RepricingExecutor
	hedgeExec  *execution.FillConfirmer
	reconciler *reconcile.Reconciler
	breaker    *risk.CircuitBreaker
	notifier   ports.Notifier
	book       *domain.PositionBook

	clk   clock.Clock
	store persistence.Store // 周期状态快照，可为 nil
	state *domain.HedgeCycleState
	log   *logrus.Entry
}

// NewOrchestrator 创建对冲周期协调器。notifier 与 store 可为 nil。
func NewOrchestrator(
	cfg Config,
	maker, hedger ports.ExchangeGateway,
	makerExec *execution.RepricingExecutor,
	hedgeExec *execution.FillConfirmer,
	reconciler *reconcile.Reconciler,
	breaker *risk.CircuitBreaker,
	notifier ports.Notifier,
	book *domain.PositionBook,
	clk clock.Clock,
	store persistence.Store,
) *Orchestrator {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &Orchestrator{
		cfg:        cfg,
		maker:      maker,
		hedger:     hedger,
		makerExec:  makerExec,
		hedgeExec:  hedgeExec,
		reconciler: reconciler,
		breaker:    breaker,
		notifier:   notifier,
		book:       book,
		clk:        clk,
		store:      store,
		state:      domain.NewHedgeCycleState(),
		log:        logger.WithField("component", "hedge_orchestrator"),
	}
}

// State 返回当前周期状态（供测试与状态接口使用）
func (o *Orchestrator) State() *domain.HedgeCycleState {
	return o.state
}

// Run 执行完整的对冲循环，阻塞到全部周期完成或发生致命错误。
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Infof("🚀 启动对冲循环 %s: maker=%s hedge=%s qty=%s direction=%s iterations=%d",
		o.cfg.Ticker, o.maker.Name(), o.hedger.Name(),
		o.cfg.Quantity.String(), o.cfg.MakerDirection, o.cfg.Iterations)
	o.notify(ctx, fmt.Sprintf("🚀 <b>对冲启动</b> %s\nmaker=%s hedge=%s qty=%s x %d 轮",
		o.cfg.Ticker, o.maker.Name(), o.hedger.Name(), o.cfg.Quantity.String(), o.cfg.Iterations))

	if err := o.maker.Connect(ctx); err != nil {
		return fmt.Errorf("连接 %s 失败: %w", o.maker.Name(), err)
	}
	if err := o.hedger.Connect(ctx); err != nil {
		o.disconnect(o.maker)
		return fmt.Errorf("连接 %s 失败: %w", o.hedger.Name(), err)
	}
	defer o.disconnect(o.maker)
	defer o.disconnect(o.hedger)

	if err := o.reconciler.SyncInitial(ctx); err != nil {
		return err
	}

	for iter := 1; iter <= o.cfg.Iterations; iter++ {
		if ctx.Err() != nil {
			return o.abort(ctx, "外部停止信号", execution.ErrStopped)
		}
		if err := o.breaker.AllowTrading(); err != nil {
			return o.abort(ctx, "断路器已打开", err)
		}

		o.state.Iteration = iter
		o.log.Infof("===== 第 %d/%d 轮 =====", iter, o.cfg.Iterations)

		if err := o.reconciler.CheckConsistency(ctx); err != nil {
			o.breaker.Halt()
			o.notify(ctx, fmt.Sprintf("🚨 <b>仓位不一致，停止交易</b>\n%s", err.Error()))
			return o.abort(ctx, "仓位核对不一致", err)
		}

		preCycle := o.book.Snapshot()

		if err := o.runCycle(ctx); err != nil {
			return err
		}

		o.verifyRoundTrip(preCycle)
		o.breaker.OnSuccess()
		o.saveState()

		o.log.Infof("✅ 第 %d 轮完成", iter)
		o.notify(ctx, fmt.Sprintf("✅ 第 %d/%d 轮完成", iter, o.cfg.Iterations))

		if iter < o.cfg.Iterations {
			if !o.sleep(ctx, o.cfg.IterationPause) {
				return o.abort(ctx, "外部停止信号", execution.ErrStopped)
			}
		}
	}

	// 最后一轮之后没有下一轮的开场核对，这里补一次硬闸门
	if err := o.reconciler.CheckConsistency(ctx); err != nil {
		o.breaker.Halt()
		o.notify(ctx, fmt.Sprintf("🚨 <b>收尾仓位不一致</b>\n%s", err.Error()))
		return o.abort(ctx, "收尾仓位核对不一致", err)
	}

	o.state.Enter(domain.PhaseComplete)
	o.saveState()
	o.log.Infof("🏁 对冲循环全部完成，共 %d 轮", o.cfg.Iterations)
	o.notify(ctx, fmt.Sprintf("🏁 <b>对冲循环完成</b>，共 %d 轮", o.cfg.Iterations))
	return nil
}

// runCycle 执行一个完整周期的四个阶段
func (o *Orchestrator) runCycle(ctx context.Context) error {
	openDir := o.cfg.MakerDirection
	closeDir := openDir.Opposite()

	// OPEN_MAKER: maker venue 挂单开仓
	o.enterPhase(domain.PhaseOpenMaker)
	_, openFilled, err := o.makerExec.ExecuteUntilFilled(ctx, openDir, o.cfg.Quantity)
	if err != nil {
		return o.abort(ctx, "开仓阶段被中断", err)
	}
	o.state.RecordFill(domain.PhaseOpenMaker, openFilled)
	o.notify(ctx, fmt.Sprintf("📌 开仓成交 %s %s x %s", o.maker.Name(), openDir, openFilled.String()))
	o.saveState()

	// HEDGE: hedge venue 反向 aggressive 对冲，数量用实际成交量
	o.enterPhase(domain.PhaseHedge)
	if _, err := o.hedgeExec.ConfirmAggressiveFill(ctx, closeDir, openFilled); err != nil {
		if errors.Is(err, execution.ErrNoOrderID) {
			o.breaker.Halt()
			o.notify(ctx, fmt.Sprintf("🚨🚨 <b>DANGER: 对冲腿未挂上</b>\n%s 方向 %s 数量 %s 可能未对冲，请立即人工处理",
				o.hedger.Name(), closeDir, openFilled.String()))
			return o.abort(ctx, "对冲下单未返回订单 ID", errors.Join(ErrUnhedgedExposure, err))
		}
		return o.abort(ctx, "对冲阶段被中断", err)
	}
	o.state.RecordFill(domain.PhaseHedge, openFilled)
	o.notify(ctx, fmt.Sprintf("⚡ 对冲成交 %s %s x %s", o.hedger.Name(), closeDir, openFilled.String()))
	o.saveState()

	if !o.sleep(ctx, o.cfg.HedgeHold) {
		return o.abort(ctx, "外部停止信号", execution.ErrStopped)
	}

	// CLOSE_MAKER: maker venue 反向平仓，数量用开仓实际成交量
	o.enterPhase(domain.PhaseCloseMaker)
	_, closeFilled, err := o.makerExec.ExecuteUntilFilled(ctx, closeDir, openFilled)
	if err != nil {
		return o.abort(ctx, "平仓阶段被中断", err)
	}
	o.state.RecordFill(domain.PhaseCloseMaker, closeFilled)
	o.notify(ctx, fmt.Sprintf("📌 平仓成交 %s %s x %s", o.maker.Name(), closeDir, closeFilled.String()))
	o.saveState()

	// UNHEDGE: hedge venue 解对冲，数量用平仓实际成交量
	o.enterPhase(domain.PhaseUnhedge)
	if _, err := o.hedgeExec.ConfirmAggressiveFill(ctx, openDir, closeFilled); err != nil {
		if errors.Is(err, execution.ErrNoOrderID) {
			o.breaker.Halt()
			o.notify(ctx, fmt.Sprintf("🚨🚨 <b>DANGER: 解对冲腿未挂上</b>\n%s 方向 %s 数量 %s，请立即人工处理",
				o.hedger.Name(), openDir, closeFilled.String()))
			return o.abort(ctx, "解对冲下单未返回订单 ID", errors.Join(ErrUnhedgedExposure, err))
		}
		return o.abort(ctx, "解对冲阶段被中断", err)
	}
	o.state.RecordFill(domain.PhaseUnhedge, closeFilled)
	o.notify(ctx, fmt.Sprintf("⚡ 解对冲成交 %s %s x %s", o.hedger.Name(), openDir, closeFilled.String()))
	o.saveState()

	return nil
}

// verifyRoundTrip 周期结束后核对仓位簿是否回到周期前的水平。
// 偏差只告警：硬闸门是下一轮开始前（或收尾时）的 CheckConsistency。
func (o *Orchestrator) verifyRoundTrip(pre map[string]decimal.Decimal) {
	for venue, before := range pre {
		after := o.book.Get(venue)
		if drift := after.Sub(before).Abs(); drift.IsPositive() {
			o.log.Warnf("⚠️ %s 周期后仓位漂移 %s (before=%s after=%s)",
				venue, drift.String(), before.String(), after.String())
		}
	}
}

func (o *Orchestrator) enterPhase(phase domain.CyclePhase) {
	o.state.Enter(phase)
	o.log.Infof("进入阶段 %s", phase)
}

// abort 进入 ABORTED 终态并返回致命错误
func (o *Orchestrator) abort(ctx context.Context, reason string, err error) error {
	o.state.Abort(reason)
	o.saveState()
	o.log.Errorf("🛑 对冲循环中止: %s (%v)", reason, err)
	o.notify(ctx, fmt.Sprintf("🛑 <b>对冲循环中止</b>: %s", reason))
	return err
}

// notify fire-and-forget 外发通知
func (o *Orchestrator) notify(ctx context.Context, message string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, message)
}

// saveState best-effort 状态快照
func (o *Orchestrator) saveState() {
	if o.store == nil {
		return
	}
	if err := o.store.Save(o.state); err != nil {
		logger.Debugf("保存周期状态失败: %v", err)
	}
}

// disconnect best-effort 断开网关，失败只记日志
func (o *Orchestrator) disconnect(gw ports.ExchangeGateway) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.Disconnect(ctx); err != nil {
		o.log.Warnf("断开 %s 失败: %v", gw.Name(), err)
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := o.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
