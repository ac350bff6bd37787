package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// MismatchRule 仓位对账公式。两条腿的符号约定不同，公式必须显式指定，
// 不能从仓位数据反推。
type MismatchRule string

const (
	// MismatchRuleNetSum 两 venue 持相反符号敞口：检查 |A + B|
	MismatchRuleNetSum MismatchRule = "net_sum"
	// MismatchRuleEqualMagnitude 两 venue 各自独立记录同量反向敞口：检查 ||A| - |B||
	MismatchRuleEqualMagnitude MismatchRule = "equal_magnitude"
)

// Valid 检查对账公式是否合法
func (r MismatchRule) Valid() bool {
	return r == MismatchRuleNetSum || r == MismatchRuleEqualMagnitude
}

// VenueConfig 单个 venue 的连接配置
type VenueConfig struct {
	Name       string // venue 名称（GRVT / Lighter / Paradex ...）
	ServiceURL string // sidecar 服务地址，例如 http://localhost:8001
}

// Config 对冲机器人配置。
// 全部字段在构造时确定，运行期不再修改（不做动态属性包）。
type Config struct {
	Ticker string // 标的（BTC / ETH ...）

	Maker VenueConfig // maker 腿 venue
	Hedge VenueConfig // hedge 腿 venue

	OrderQuantity  decimal.Decimal // 每腿下单数量
	MakerDirection string          // maker 腿开仓方向（buy/sell），默认 sell
	FillTimeout    time.Duration   // maker 腿等待成交超时
	Iterations     int             // 周期次数

	SlippageFraction decimal.Decimal // aggressive 定价滑点比例
	ToleranceFloor   decimal.Decimal // 成交确认容差下限
	ToleranceFrac    decimal.Decimal // 成交确认容差比例（乘以下单数量）

	MismatchRule      MismatchRule    // 对账公式
	MismatchThreshold decimal.Decimal // 对账阈值，严格大于才判为 mismatch

	LogLevel string
	LogFile  string
	TradeDB  string // SQLite 成交库路径（可选，为空则只写 CSV）

	TelegramToken  string // 仅从环境变量读取
	TelegramChatID string
}

// configFile 配置文件结构（支持 YAML 和 JSON）
type configFile struct {
	Ticker string `yaml:"ticker" json:"ticker"`
	Maker  struct {
		Name       string `yaml:"name" json:"name"`
		ServiceURL string `yaml:"service_url" json:"service_url"`
	} `yaml:"maker" json:"maker"`
	Hedge struct {
		Name       string `yaml:"name" json:"name"`
		ServiceURL string `yaml:"service_url" json:"service_url"`
	} `yaml:"hedge" json:"hedge"`
	OrderQuantity     string `yaml:"order_quantity" json:"order_quantity"`
	MakerDirection    string `yaml:"maker_direction" json:"maker_direction"`
	FillTimeoutSec    int    `yaml:"fill_timeout_sec" json:"fill_timeout_sec"`
	Iterations        int    `yaml:"iterations" json:"iterations"`
	SlippageFraction  string `yaml:"slippage_fraction" json:"slippage_fraction"`
	ToleranceFloor    string `yaml:"tolerance_floor" json:"tolerance_floor"`
	ToleranceFrac     string `yaml:"tolerance_fraction" json:"tolerance_fraction"`
	MismatchRule      string `yaml:"mismatch_rule" json:"mismatch_rule"`
	MismatchThreshold string `yaml:"mismatch_threshold" json:"mismatch_threshold"`
	LogLevel          string `yaml:"log_level" json:"log_level"`
	LogFile           string `yaml:"log_file" json:"log_file"`
	TradeDB           string `yaml:"trade_db" json:"trade_db"`
}

// Load 从文件加载配置并套用环境变量覆盖。
// 优先级：环境变量 > 配置文件 > 默认值。
func Load(filePath string) (*Config, error) {
	var cf *configFile
	if filePath != "" {
		var err error
		cf, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	cfg := &Config{
		Ticker: strings.ToUpper(getEnv("HEDGE_TICKER", fileStr(cf, func(c *configFile) string { return c.Ticker }, "BTC"))),
		Maker: VenueConfig{
			Name:       getEnv("MAKER_VENUE_NAME", fileStr(cf, func(c *configFile) string { return c.Maker.Name }, "GRVT")),
			ServiceURL: getEnv("MAKER_SERVICE_URL", fileStr(cf, func(c *configFile) string { return c.Maker.ServiceURL }, "http://localhost:8001")),
		},
		Hedge: VenueConfig{
			Name:       getEnv("HEDGE_VENUE_NAME", fileStr(cf, func(c *configFile) string { return c.Hedge.Name }, "Lighter")),
			ServiceURL: getEnv("HEDGE_SERVICE_URL", fileStr(cf, func(c *configFile) string { return c.Hedge.ServiceURL }, "http://localhost:8002")),
		},
		MakerDirection: strings.ToLower(getEnv("MAKER_DIRECTION", fileStr(cf, func(c *configFile) string { return c.MakerDirection }, "sell"))),
		FillTimeout:    time.Duration(parseIntEnv("FILL_TIMEOUT_SEC", fileInt(cf, func(c *configFile) int { return c.FillTimeoutSec }, 5))) * time.Second,
		Iterations:     parseIntEnv("HEDGE_ITERATIONS", fileInt(cf, func(c *configFile) int { return c.Iterations }, 20)),
		MismatchRule:   MismatchRule(getEnv("MISMATCH_RULE", fileStr(cf, func(c *configFile) string { return c.MismatchRule }, string(MismatchRuleEqualMagnitude)))),
		LogLevel:       getEnv("LOG_LEVEL", fileStr(cf, func(c *configFile) string { return c.LogLevel }, "info")),
		LogFile:        getEnv("LOG_FILE", fileStr(cf, func(c *configFile) string { return c.LogFile }, "")),
		TradeDB:        getEnv("TRADE_DB", fileStr(cf, func(c *configFile) string { return c.TradeDB }, "")),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),
	}

	var err error
	if cfg.OrderQuantity, err = parseDecimal("ORDER_QUANTITY", cf, func(c *configFile) string { return c.OrderQuantity }, "0.1"); err != nil {
		return nil, err
	}
	// 滑点环境变量沿用旧名 LIMIT_SLIPPAGE
	if cfg.SlippageFraction, err = parseDecimal("LIMIT_SLIPPAGE", cf, func(c *configFile) string { return c.SlippageFraction }, "0.002"); err != nil {
		return nil, err
	}
	if cfg.ToleranceFloor, err = parseDecimal("TOLERANCE_FLOOR", cf, func(c *configFile) string { return c.ToleranceFloor }, "0.0001"); err != nil {
		return nil, err
	}
	if cfg.ToleranceFrac, err = parseDecimal("TOLERANCE_FRACTION", cf, func(c *configFile) string { return c.ToleranceFrac }, "0.02"); err != nil {
		return nil, err
	}
	if cfg.MismatchThreshold, err = parseDecimal("MISMATCH_THRESHOLD", cf, func(c *configFile) string { return c.MismatchThreshold }, "0.2"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Ticker == "" {
		return fmt.Errorf("ticker 不能为空")
	}
	if c.Maker.ServiceURL == "" || c.Hedge.ServiceURL == "" {
		return fmt.Errorf("两个 venue 的 service_url 都必须配置")
	}
	if c.Maker.Name == c.Hedge.Name {
		return fmt.Errorf("maker 与 hedge venue 不能相同: %s", c.Maker.Name)
	}
	if !c.OrderQuantity.IsPositive() {
		return fmt.Errorf("order_quantity 必须大于 0")
	}
	if c.MakerDirection != "buy" && c.MakerDirection != "sell" {
		return fmt.Errorf("maker_direction 必须为 buy 或 sell: %s", c.MakerDirection)
	}
	if c.FillTimeout <= 0 {
		return fmt.Errorf("fill_timeout_sec 必须大于 0")
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations 必须大于 0")
	}
	if c.SlippageFraction.IsNegative() {
		return fmt.Errorf("slippage_fraction 不能为负数")
	}
	if !c.MismatchRule.Valid() {
		return fmt.Errorf("mismatch_rule 必须为 %s 或 %s: %s",
			MismatchRuleNetSum, MismatchRuleEqualMagnitude, c.MismatchRule)
	}
	if c.MismatchThreshold.IsNegative() {
		return fmt.Errorf("mismatch_threshold 不能为负数")
	}
	return nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*configFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cf configFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &cf, nil
}

func fileStr(cf *configFile, getter func(*configFile) string, def string) string {
	if cf != nil {
		if v := strings.TrimSpace(getter(cf)); v != "" {
			return v
		}
	}
	return def
}

func fileInt(cf *configFile, getter func(*configFile) int, def int) int {
	if cf != nil {
		if v := getter(cf); v > 0 {
			return v
		}
	}
	return def
}

// parseDecimal 按优先级（环境变量 > 配置文件 > 默认值）解析十进制字段
func parseDecimal(envKey string, cf *configFile, getter func(*configFile) string, def string) (decimal.Decimal, error) {
	raw := getEnv(envKey, fileStr(cf, getter, def))
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s 不是合法的十进制数: %q", envKey, raw)
	}
	return d, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
