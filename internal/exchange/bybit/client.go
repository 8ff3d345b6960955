package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/talos/internal/exchange"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/config"
	"github.com/wonny/talos/pkg/logger"
)

// Bybit API rate limit: 10 req/sec per endpoint group is the
// conservative floor across v5 private endpoints.
const requestsPerSecond = 10

// Client handles communication with the Bybit v5 API
// ⭐ SSOT: Bybit API 호출은 이 클라이언트에서만
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
	cfg        config.BybitConfig
}

// NewClient creates a new Bybit API client
func NewClient(cfg config.BybitConfig, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		logger:     log,
		cfg:        cfg,
	}
}

// sign builds the v5 request signature:
// HMAC_SHA256(secret, timestamp + apiKey + recvWindow + payload)
func (c *Client) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(timestamp + c.cfg.APIKey + c.cfg.RecvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// request makes an authenticated request and decodes the v5 envelope
func (c *Client) request(ctx context.Context, method, path string, params map[string]any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var payload string
	var body io.Reader
	reqURL := c.cfg.BaseURL + path

	if method == http.MethodPost {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		payload = string(raw)
		body = bytes.NewReader(raw)
	} else {
		payload = encodeQuery(params)
		if payload != "" {
			reqURL += "?" + payload
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, payload))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.cfg.RecvWindow)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if envelope.RetCode != 0 {
		return fmt.Errorf("bybit error %d: %s", envelope.RetCode, envelope.RetMsg)
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// encodeQuery builds a sorted query string (signature requires stable order)
func encodeQuery(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(fmt.Sprint(params[k])))
	}
	return sb.String()
}

// GetBalance retrieves the unified wallet balance for a coin
func (c *Client) GetBalance(ctx context.Context, coin string) (float64, error) {
	var result walletBalanceResult
	err := c.request(ctx, http.MethodGet, "/v5/account/wallet-balance", map[string]any{
		"accountType": "UNIFIED",
		"coin":        coin,
	}, &result)
	if err != nil {
		return 0, err
	}

	for _, acct := range result.List {
		for _, c2 := range acct.Coin {
			if c2.Coin == coin {
				return c2.WalletBalance.Float64(), nil
			}
		}
	}

	return 0, fmt.Errorf("coin %s not found in wallet", coin)
}

// GetPosition retrieves the current position for a symbol, nil if flat
func (c *Client) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	var result positionListResult
	err := c.request(ctx, http.MethodGet, "/v5/position/list", map[string]any{
		"category": "linear",
		"symbol":   symbol,
	}, &result)
	if err != nil {
		return nil, err
	}

	if len(result.List) == 0 {
		return nil, nil
	}

	p := result.List[0]
	size := p.Size.Float64()
	if size == 0 {
		return nil, nil
	}

	side := signal.SideBuy
	if strings.EqualFold(p.Side, "Sell") {
		side = signal.SideSell
	}

	return &exchange.Position{
		Symbol:        p.Symbol,
		Side:          side,
		Size:          size,
		AvgPrice:      p.AvgPrice.Float64(),
		UnrealizedPnL: p.UnrealisedPnl.Float64(),
		Leverage:      int(p.Leverage.Float64()),
	}, nil
}

// SetLeverage sets buy and sell leverage for a symbol
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	err := c.request(ctx, http.MethodPost, "/v5/position/set-leverage", map[string]any{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}, nil)

	// 110043: leverage not modified, already at the requested value
	if err != nil && strings.Contains(err.Error(), "110043") {
		return nil
	}
	return err
}

// PlaceOrder submits an order
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	params := map[string]any{
		"category":       "linear",
		"symbol":         req.Symbol,
		"side":           sideParam(req.Side),
		"orderType":      string(req.Type),
		"qty":            formatNumber(req.Qty),
		"reduceOnly":     req.ReduceOnly,
		"closeOnTrigger": req.CloseOnTrigger,
	}

	if req.Price > 0 {
		params["price"] = formatNumber(req.Price)
	}
	if req.StopLoss > 0 {
		params["stopLoss"] = formatNumber(req.StopLoss)
	}
	if req.TakeProfit > 0 {
		params["takeProfit"] = formatNumber(req.TakeProfit)
	}

	var result orderCreateResult
	if err := c.request(ctx, http.MethodPost, "/v5/order/create", params, &result); err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol": req.Symbol,
		"side":   req.Side,
		"type":   req.Type,
		"qty":    req.Qty,
		"price":  req.Price,
	}).Info("Order placed")

	return &exchange.Order{
		ID:     result.OrderID,
		Symbol: req.Symbol,
		Side:   req.Side,
		Type:   req.Type,
		Qty:    req.Qty,
		Price:  req.Price,
	}, nil
}

// CancelOrder cancels an order by id
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	err := c.request(ctx, http.MethodPost, "/v5/order/cancel", map[string]any{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}, nil)
	if err != nil {
		return err
	}

	c.logger.WithField("order_id", orderID).Info("Order cancelled")
	return nil
}

// CancelAllOrders cancels every open order for a symbol
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	return c.request(ctx, http.MethodPost, "/v5/order/cancel-all", map[string]any{
		"category": "linear",
		"symbol":   symbol,
	}, nil)
}

// GetOpenOrders lists currently open orders for a symbol
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	var result orderListResult
	err := c.request(ctx, http.MethodGet, "/v5/order/realtime", map[string]any{
		"category": "linear",
		"symbol":   symbol,
	}, &result)
	if err != nil {
		return nil, err
	}

	orders := make([]exchange.Order, 0, len(result.List))
	for _, o := range result.List {
		side := signal.SideBuy
		if strings.EqualFold(o.Side, "Sell") {
			side = signal.SideSell
		}
		orders = append(orders, exchange.Order{
			ID:     o.OrderID,
			Symbol: o.Symbol,
			Side:   side,
			Type:   exchange.OrderType(o.OrderType),
			Qty:    o.Qty.Float64(),
			Price:  o.Price.Float64(),
		})
	}

	return orders, nil
}

// GetTicker retrieves the latest ticker for a symbol
func (c *Client) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	var result tickerListResult
	err := c.request(ctx, http.MethodGet, "/v5/market/tickers", map[string]any{
		"category": "linear",
		"symbol":   symbol,
	}, &result)
	if err != nil {
		return nil, err
	}

	if len(result.List) == 0 {
		return nil, fmt.Errorf("no ticker for %s", symbol)
	}

	t := result.List[0]
	return &exchange.Ticker{
		Symbol:    t.Symbol,
		LastPrice: t.LastPrice.Float64(),
		Bid:       t.Bid1Price.Float64(),
		Ask:       t.Ask1Price.Float64(),
	}, nil
}

// ClosePosition closes the position at market with reduce-only
func (c *Client) ClosePosition(ctx context.Context, symbol string, side signal.Side) error {
	position, err := c.GetPosition(ctx, symbol)
	if err != nil {
		return err
	}
	if position == nil || position.Size == 0 {
		return nil
	}

	_, err = c.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       side.Opposite(),
		Type:       exchange.OrderTypeMarket,
		Qty:        position.Size,
		ReduceOnly: true,
	})
	return err
}

func sideParam(s signal.Side) string {
	if s == signal.SideBuy {
		return "Buy"
	}
	return "Sell"
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
