package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
	"github.com/Dado-hash/perp-dexes-bot/internal/execution"
	"github.com/Dado-hash/perp-dexes-bot/internal/gateway/rest"
	"github.com/Dado-hash/perp-dexes-bot/internal/hedge"
	"github.com/Dado-hash/perp-dexes-bot/internal/notify"
	"github.com/Dado-hash/perp-dexes-bot/internal/reconcile"
	"github.com/Dado-hash/perp-dexes-bot/internal/risk"
	"github.com/Dado-hash/perp-dexes-bot/internal/tradelog"
	"github.com/Dado-hash/perp-dexes-bot/pkg/config"
	"github.com/Dado-hash/perp-dexes-bot/pkg/logger"
	"github.com/Dado-hash/perp-dexes-bot/pkg/persistence"
	"github.com/Dado-hash/perp-dexes-bot/pkg/shutdown"
	"github.com/Dado-hash/perp-dexes-bot/pkg/sigchan"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	ticker := flag.String("ticker", "", "标的，覆盖配置文件")
	size := flag.String("size", "", "每轮下单数量，覆盖配置文件")
	iterations := flag.Int("iter", 0, "周期次数，覆盖配置文件")
	fillTimeout := flag.Int("fill-timeout", 0, "maker 腿成交超时（秒），覆盖配置文件")
	flag.Parse()

	// .env 不存在时静默跳过
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlagOverrides(cfg, *ticker, *size, *iterations, *fillTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if cfg.LogFile != "" {
		err = logger.Init(logger.Config{Level: cfg.LogLevel, OutputFile: cfg.LogFile, MaxSize: 100, MaxBackups: 3, MaxAge: 7, Compress: true})
	} else {
		err = logger.InitDefault(cfg.Maker.Name, cfg.Hedge.Name, cfg.Ticker)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	logger.Infof("📝 日志文件: %s", logger.GetCurrentLogFile())

	if err := run(cfg); err != nil {
		logger.Errorf("对冲循环异常退出: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	shutdownMgr := shutdown.NewManager()
	stop := sigchan.New(1)

	// 成交记录：CSV 始终开启，SQLite 可选
	csvLog, err := tradelog.NewCSVLog(tradelog.DefaultCSVPath(cfg.Maker.Name, cfg.Ticker, cfg.Hedge.Name))
	if err != nil {
		return err
	}
	shutdownMgr.OnShutdown(func(context.Context) {
		if err := csvLog.Close(); err != nil {
			logger.Warnf("关闭成交 CSV 失败: %v", err)
		}
	})
	trades := tradelog.NewMultiLog(csvLog)
	if cfg.TradeDB != "" {
		sqliteLog, err := tradelog.OpenSQLiteLog(cfg.TradeDB)
		if err != nil {
			return err
		}
		shutdownMgr.OnShutdown(func(context.Context) {
			if err := sqliteLog.Close(); err != nil {
				logger.Warnf("关闭成交库失败: %v", err)
			}
		})
		trades = tradelog.NewMultiLog(csvLog, sqliteLog)
	}

	makerDir := domain.Side(cfg.MakerDirection)
	maker := rest.NewClient(rest.Options{
		Name:      cfg.Maker.Name,
		BaseURL:   cfg.Maker.ServiceURL,
		Ticker:    cfg.Ticker,
		Quantity:  cfg.OrderQuantity,
		Direction: makerDir,
	})
	hedger := rest.NewClient(rest.Options{
		Name:      cfg.Hedge.Name,
		BaseURL:   cfg.Hedge.ServiceURL,
		Ticker:    cfg.Ticker,
		Quantity:  cfg.OrderQuantity,
		Direction: makerDir.Opposite(),
	})

	book := domain.NewPositionBook()
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 5})
	reconciler := reconcile.NewReconciler(maker, hedger, book, cfg.MismatchRule, cfg.MismatchThreshold)
	notifier := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)

	makerExec := execution.NewRepricingExecutor(maker, book, trades, nil, execution.RepricingConfig{
		FillTimeout: cfg.FillTimeout,
	})
	hedgeExec := execution.NewFillConfirmer(hedger, book, trades, nil, execution.ConfirmerConfig{
		SlippageFraction: cfg.SlippageFraction,
		ToleranceFloor:   cfg.ToleranceFloor,
		ToleranceFrac:    cfg.ToleranceFrac,
	})

	store := persistence.NewJSONFileService("data").
		NewStore("state", strings.ToLower(cfg.Ticker), "hedge_cycle")

	orch := hedge.NewOrchestrator(hedge.Config{
		Ticker:         cfg.Ticker,
		MakerDirection: makerDir,
		Quantity:       cfg.OrderQuantity,
		Iterations:     cfg.Iterations,
	}, maker, hedger, makerExec, hedgeExec, reconciler, breaker, notifier, book, nil, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warnf("收到信号 %s，停止交易...", sig)
		stop.Emit()
		cancel()
		// 第二次信号直接退出
		<-sigCh
		logger.Warnf("收到第二次信号，强制退出")
		os.Exit(1)
	}()

	runErr := orch.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	shutdownMgr.Shutdown(shutdownCtx)

	if runErr != nil && !stop.Raised() {
		return runErr
	}
	if stop.Raised() {
		logger.Infof("已按停止信号退出")
	}
	return nil
}

// applyFlagOverrides 命令行参数优先级最高
func applyFlagOverrides(cfg *config.Config, ticker, size string, iterations, fillTimeoutSec int) error {
	if ticker != "" {
		cfg.Ticker = strings.ToUpper(ticker)
	}
	if size != "" {
		qty, err := decimal.NewFromString(size)
		if err != nil {
			return fmt.Errorf("-size 不是合法的十进制数: %q", size)
		}
		cfg.OrderQuantity = qty
	}
	if iterations > 0 {
		cfg.Iterations = iterations
	}
	if fillTimeoutSec > 0 {
		cfg.FillTimeout = time.Duration(fillTimeoutSec) * time.Second
	}
	return cfg.Validate()
}
