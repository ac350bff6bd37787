package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
	"github.com/Dado-hash/perp-dexes-bot/pkg/logger"
	"github.com/Dado-hash/perp-dexes-bot/pkg/ratelimit"
)

// Options REST 网关配置
type Options struct {
	Name      string          // venue 名称
	BaseURL   string          // sidecar 服务地址
	Ticker    string          // 标的
	Quantity  decimal.Decimal // 默认下单数量（/init 需要）
	Direction domain.Side     // maker 主方向（/init 需要）
	Timeout   time.Duration   // 单请求超时
	MaxPerSec int             // 对 sidecar 的每秒请求上限
}

// Client 通过 venue sidecar 服务的 REST 接口实现 ports.ExchangeGateway。
//
// venue 的签名、鉴权、原生 SDK 都封装在 sidecar 里（每个 venue 一个
// 独立服务），机器人侧只有这一层薄 HTTP 客户端。
type Client struct {
	opts    Options
	http    *resty.Client
	limiter *ratelimit.TokenBucket
	log     *logrus.Entry

	mu         sync.RWMutex
	contractID string
	tickSize   decimal.Decimal
}

// NewClient 创建 sidecar REST 网关客户端
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxPerSec <= 0 {
		opts.MaxPerSec = 20
	}
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	return &Client{
		opts:    opts,
		http:    httpClient,
		limiter: ratelimit.NewTokenBucket(opts.MaxPerSec, opts.MaxPerSec),
		log:     logger.WithField("component", "rest_gateway").WithField("venue", opts.Name),
	}
}

func (c *Client) Name() string { return c.opts.Name }

func (c *Client) ContractID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contractID
}

func (c *Client) TickSize() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickSize
}

type initRequest struct {
	Ticker    string `json:"ticker"`
	Quantity  string `json:"quantity"`
	Direction string `json:"direction"`
}

type initResponse struct {
	ContractID string `json:"contract_id"`
	TickSize   string `json:"tick_size"`
}

// Connect 初始化 sidecar（解析合约、tick size）并建立 venue 连接。
func (c *Client) Connect(ctx context.Context) error {
	var initResp initResponse
	resp, err := c.request(ctx).
		SetBody(initRequest{
			Ticker:    c.opts.Ticker,
			Quantity:  c.opts.Quantity.String(),
			Direction: string(c.opts.Direction),
		}).
		SetResult(&initResp).
		Post("/init")
	if err := checkResponse(resp, err); err != nil {
		return errors.Wrapf(err, "%s init 失败", c.opts.Name)
	}
	tick, err := decimal.NewFromString(initResp.TickSize)
	if err != nil {
		return errors.Wrapf(err, "%s 返回非法 tick_size %q", c.opts.Name, initResp.TickSize)
	}

	c.mu.Lock()
	c.contractID = initResp.ContractID
	c.tickSize = tick
	c.mu.Unlock()

	resp, err = c.request(ctx).Post("/connect")
	if err := checkResponse(resp, err); err != nil {
		return errors.Wrapf(err, "%s connect 失败", c.opts.Name)
	}

	c.log.Infof("🔗 已连接 %s: contract_id=%s tick_size=%s", c.opts.Name, initResp.ContractID, tick.String())
	return nil
}

// Disconnect 通知 sidecar 断开 venue 连接
func (c *Client) Disconnect(ctx context.Context) error {
	resp, err := c.request(ctx).Post("/disconnect")
	if err := checkResponse(resp, err); err != nil {
		return errors.Wrapf(err, "%s disconnect 失败", c.opts.Name)
	}
	return nil
}

type orderResponse struct {
	Success      bool   `json:"success"`
	OrderID      string `json:"order_id"`
	Side         string `json:"side"`
	Size         string `json:"size"`
	Price        string `json:"price"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// PlaceOpenOrder 请求 sidecar 按盘口挂 post-only 单
func (c *Client) PlaceOpenOrder(ctx context.Context, side domain.Side, size decimal.Decimal) (string, error) {
	var out orderResponse
	resp, err := c.request(ctx).
		SetBody(map[string]string{
			"contract_id":     c.ContractID(),
			"quantity":        size.String(),
			"direction":       string(side),
			"client_order_id": uuid.NewString(),
		}).
		SetResult(&out).
		Post("/order/open")
	if err := checkResponse(resp, err); err != nil {
		return "", errors.Wrapf(err, "%s 挂单失败", c.opts.Name)
	}
	if !out.Success {
		return "", errors.Errorf("%s 挂单被拒绝: %s", c.opts.Name, out.ErrorMessage)
	}
	return out.OrderID, nil
}

// PlaceLimitOrder 按给定价格下限价单（aggressive 定价走这里）
func (c *Client) PlaceLimitOrder(ctx context.Context, side domain.Side, size, price decimal.Decimal) (string, error) {
	var out orderResponse
	resp, err := c.request(ctx).
		SetBody(map[string]string{
			"contract_id":     c.ContractID(),
			"quantity":        size.String(),
			"price":           price.String(),
			"side":            string(side),
			"client_order_id": uuid.NewString(),
		}).
		SetResult(&out).
		Post("/order/close")
	if err := checkResponse(resp, err); err != nil {
		return "", errors.Wrapf(err, "%s 下单失败", c.opts.Name)
	}
	if !out.Success {
		return "", errors.Errorf("%s 下单被拒绝: %s", c.opts.Name, out.ErrorMessage)
	}
	// 注意：Success 而 order_id 为空的情况原样向上返回，
	// 是否致命由执行器判断
	return out.OrderID, nil
}

// CancelOrder 撤销指定订单
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	resp, err := c.request(ctx).
		SetBody(map[string]string{"order_id": orderID}).
		Post("/order/cancel")
	if err := checkResponse(resp, err); err != nil {
		return errors.Wrapf(err, "%s 撤单 %s 失败", c.opts.Name, orderID)
	}
	return nil
}

type activeOrdersResponse struct {
	Orders []struct {
		OrderID string `json:"order_id"`
		Side    string `json:"side"`
	} `json:"orders"`
}

// CancelActiveOrders 撤销本合约的活跃订单；side 非空时只撤该方向
func (c *Client) CancelActiveOrders(ctx context.Context, side domain.Side) error {
	var out activeOrdersResponse
	resp, err := c.request(ctx).
		SetResult(&out).
		Get("/orders/active/" + c.ContractID())
	if err := checkResponse(resp, err); err != nil {
		return errors.Wrapf(err, "%s 查询活跃订单失败", c.opts.Name)
	}

	for _, o := range out.Orders {
		if side != "" && domain.Side(strings.ToLower(o.Side)) != side {
			continue
		}
		if err := c.CancelOrder(ctx, o.OrderID); err != nil {
			return err
		}
	}
	return nil
}

type orderStatusResponse struct {
	Status        string `json:"status"`
	FilledSize    string `json:"filled_size"`
	Size          string `json:"size"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	RemainingSize string `json:"remaining_size"`
}

// GetOrderStatus 查询订单状态
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*domain.Order, error) {
	var out orderStatusResponse
	resp, err := c.request(ctx).
		SetResult(&out).
		Get("/order/" + orderID)
	if err := checkResponse(resp, err); err != nil {
		return nil, errors.Wrapf(err, "%s 查询订单 %s 失败", c.opts.Name, orderID)
	}

	order := &domain.Order{
		Venue:   c.opts.Name,
		OrderID: orderID,
		Side:    domain.Side(strings.ToLower(out.Side)),
		Status:  domain.NormalizeOrderStatus(out.Status),
	}
	if out.Size != "" {
		if v, err := decimal.NewFromString(out.Size); err == nil {
			order.Size = v
		}
	}
	if out.FilledSize != "" {
		if v, err := decimal.NewFromString(out.FilledSize); err == nil {
			order.FilledSize = v
		}
	}
	if out.Price != "" {
		if v, err := decimal.NewFromString(out.Price); err == nil {
			order.Price = &v
		}
	}
	return order, nil
}

type bboResponse struct {
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// GetBestBidOffer 查询一档盘口
func (c *Client) GetBestBidOffer(ctx context.Context) (domain.BBO, error) {
	var out bboResponse
	resp, err := c.request(ctx).
		SetResult(&out).
		Get("/bbo/" + c.ContractID())
	if err := checkResponse(resp, err); err != nil {
		return domain.BBO{}, errors.Wrapf(err, "%s 查询盘口失败", c.opts.Name)
	}

	bid, err := decimal.NewFromString(out.BestBid)
	if err != nil {
		return domain.BBO{}, errors.Wrapf(err, "%s 返回非法 best_bid %q", c.opts.Name, out.BestBid)
	}
	ask, err := decimal.NewFromString(out.BestAsk)
	if err != nil {
		return domain.BBO{}, errors.Wrapf(err, "%s 返回非法 best_ask %q", c.opts.Name, out.BestAsk)
	}
	return domain.BBO{Bid: bid, Ask: ask}, nil
}

type positionResponse struct {
	Position string `json:"position"`
}

// GetNetPosition 查询带符号净仓位
func (c *Client) GetNetPosition(ctx context.Context) (decimal.Decimal, error) {
	var out positionResponse
	resp, err := c.request(ctx).
		SetResult(&out).
		Get("/position")
	if err := checkResponse(resp, err); err != nil {
		return decimal.Zero, errors.Wrapf(err, "%s 查询仓位失败", c.opts.Name)
	}
	pos, err := decimal.NewFromString(out.Position)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "%s 返回非法仓位 %q", c.opts.Name, out.Position)
	}
	return pos, nil
}

// Healthy 探测 sidecar 服务是否存活
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := c.request(ctx).Get("/health")
	return err == nil && resp.StatusCode() == http.StatusOK
}

// request 构造单次请求，先过速率限制
func (c *Client) request(ctx context.Context) *resty.Request {
	if err := c.limiter.Wait(ctx); err != nil {
		// ctx 已取消，请求本身会立刻失败，这里只记录
		c.log.Debugf("限流等待被取消: %v", err)
	}
	return c.http.R().SetContext(ctx)
}

// checkResponse 统一的传输层/HTTP 状态检查
func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("http %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	return nil
}
