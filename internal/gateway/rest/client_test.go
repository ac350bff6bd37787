package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Dado-hash/perp-dexes-bot/internal/domain"
)

// fakeSidecar 模拟 venue sidecar 服务
type fakeSidecar struct {
	mu        sync.Mutex
	cancelled []string
	srv       *httptest.Server
}

// writeJSON 必须显式带上 Content-Type，否则客户端侧不会按 JSON 解析响应体
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newFakeSidecar(t *testing.T) *fakeSidecar {
	t.Helper()
	f := &fakeSidecar{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /init", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["ticker"] != "BTC" {
			http.Error(w, "unknown ticker", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{
			"contract_id": "BTC-PERP-1",
			"tick_size":   "0.01",
		})
	})
	mux.HandleFunc("POST /connect", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /order/open", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["client_order_id"] == "" {
			http.Error(w, "missing client_order_id", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"success":  true,
			"order_id": "ord-123",
			"status":   "OPEN",
		})
	})
	mux.HandleFunc("POST /order/close", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["price"] == "" {
			writeJSON(w, map[string]any{
				"success":       false,
				"error_message": "price required",
			})
			return
		}
		writeJSON(w, map[string]any{
			"success":  true,
			"order_id": "ord-456",
			"status":   "OPEN",
		})
	})
	mux.HandleFunc("POST /order/cancel", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.cancelled = append(f.cancelled, req["order_id"])
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /order/ord-123", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{
			"status":      "CANCELLED", // 英式拼写，客户端要归一化
			"filled_size": "0.5",
			"size":        "1",
			"side":        "SELL",
			"price":       "100.5",
		})
	})
	mux.HandleFunc("GET /orders/active/BTC-PERP-1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"orders": []map[string]string{
				{"order_id": "a-1", "side": "buy"},
				{"order_id": "a-2", "side": "sell"},
				{"order_id": "a-3", "side": "buy"},
			},
		})
	})
	mux.HandleFunc("GET /bbo/BTC-PERP-1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{
			"best_bid": "100.00",
			"best_ask": "100.01",
		})
	})
	mux.HandleFunc("GET /position", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"position": "-0.5"})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestClient(t *testing.T) (*Client, *fakeSidecar) {
	t.Helper()
	sidecar := newFakeSidecar(t)
	c := NewClient(Options{
		Name:      "grvt",
		BaseURL:   sidecar.srv.URL,
		Ticker:    "BTC",
		Quantity:  decimal.RequireFromString("0.1"),
		Direction: domain.SideSell,
	})
	require.NoError(t, c.Connect(context.Background()))
	return c, sidecar
}

func TestClientConnectStoresContract(t *testing.T) {
	c, _ := newTestClient(t)
	require.Equal(t, "BTC-PERP-1", c.ContractID())
	require.True(t, c.TickSize().Equal(decimal.RequireFromString("0.01")),
		"tick_size 错误: %s", c.TickSize().String())
}

func TestClientPlaceOrders(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	id, err := c.PlaceOpenOrder(ctx, domain.SideSell, decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	require.Equal(t, "ord-123", id)

	id, err = c.PlaceLimitOrder(ctx, domain.SideBuy,
		decimal.RequireFromString("0.1"), decimal.RequireFromString("100.01"))
	require.NoError(t, err)
	require.Equal(t, "ord-456", id)
}

func TestClientOrderStatusNormalizesSpelling(t *testing.T) {
	c, _ := newTestClient(t)

	order, err := c.GetOrderStatus(context.Background(), "ord-123")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCanceled, order.Status, "CANCELLED 应归一化为 CANCELED")
	require.True(t, order.FilledSize.Equal(decimal.RequireFromString("0.5")))
	require.Equal(t, domain.SideSell, order.Side, "side 应小写归一化")
	require.NotNil(t, order.Price)
	require.True(t, order.Price.Equal(decimal.RequireFromString("100.5")))
}

func TestClientCancelActiveOrdersFiltersSide(t *testing.T) {
	c, sidecar := newTestClient(t)

	require.NoError(t, c.CancelActiveOrders(context.Background(), domain.SideBuy))

	sidecar.mu.Lock()
	defer sidecar.mu.Unlock()
	require.Equal(t, []string{"a-1", "a-3"}, sidecar.cancelled, "应只撤销 buy 方向的订单")
}

func TestClientMarketData(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	bbo, err := c.GetBestBidOffer(ctx)
	require.NoError(t, err)
	require.True(t, bbo.Valid())
	require.True(t, bbo.Ask.Equal(decimal.RequireFromString("100.01")))

	pos, err := c.GetNetPosition(ctx)
	require.NoError(t, err)
	require.True(t, pos.Equal(decimal.RequireFromString("-0.5")))
}

func TestClientSurfacesHTTPErrors(t *testing.T) {
	sidecar := newFakeSidecar(t)
	c := NewClient(Options{
		Name:      "grvt",
		BaseURL:   sidecar.srv.URL,
		Ticker:    "ETH", // sidecar 只认 BTC
		Quantity:  decimal.RequireFromString("0.1"),
		Direction: domain.SideSell,
	})
	require.Error(t, c.Connect(context.Background()), "init 失败应向上返回错误")
}
