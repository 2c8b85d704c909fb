package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"binance-dca-bot-go/internal/models"

	"go.uber.org/zap"
)

// LiveGateway implements OrderGateway against the Binance spot REST API.
type LiveGateway struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
	timeOffset int64
}

// NewLiveGateway creates a gateway and synchronizes the local clock offset
// with the exchange so signed requests carry acceptable timestamps.
func NewLiveGateway(apiKey, secretKey, baseURL string, logger *zap.SugaredLogger) (*LiveGateway, error) {
	g := &LiveGateway{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}

	if err := g.syncTime(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to sync time with exchange: %w", err)
	}
	return g, nil
}

func (g *LiveGateway) syncTime(ctx context.Context) error {
	serverTime, err := g.getServerTime(ctx)
	if err != nil {
		return err
	}
	g.timeOffset = serverTime - time.Now().UnixMilli()
	g.logger.Infow("time synchronized with exchange", "offset_ms", g.timeOffset)
	return nil
}

func (g *LiveGateway) getServerTime(ctx context.Context) (int64, error) {
	data, err := g.doRequest(ctx, http.MethodGet, "/api/v3/time", nil, false)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, err
	}
	return resp.ServerTime, nil
}

func (g *LiveGateway) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(g.secretKey))
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// doRequest sends one request to the exchange, signing it when required, and
// decodes the typed API error body on failure.
func (g *LiveGateway) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	fullURL := g.baseURL + endpoint
	queryParams := url.Values{}
	for k, v := range params {
		queryParams[k] = v
	}

	var encodedParams string
	if signed {
		timestamp := time.Now().UnixMilli() + g.timeOffset
		queryParams.Set("timestamp", strconv.FormatInt(timestamp, 10))
		payload := queryParams.Encode()
		encodedParams = payload + "&signature=" + g.sign(payload)
	} else {
		encodedParams = queryParams.Encode()
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fullURL + "?" + encodedParams
		}
		req, err = http.NewRequestWithContext(ctx, method, finalURL, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, fullURL, strings.NewReader(encodedParams))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("X-MBX-APIKEY", g.apiKey)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiErr models.APIError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
		// -2010: NEW_ORDER_REJECTED, insufficient balance.
		if apiErr.Code == -2010 && strings.Contains(strings.ToLower(apiErr.Msg), "insufficient") {
			return body, fmt.Errorf("%w: %s", ErrInsufficientBalance, apiErr.Msg)
		}
		return body, &apiErr
	}

	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("API request failed, status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// GetLastPrice returns the symbol's last traded price.
func (g *LiveGateway) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := g.doRequest(ctx, http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}

	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &ticker); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(ticker.Price, 64)
}

// GetInstrument fetches the symbol's trading rules from exchangeInfo. Step
// strings are passed through untouched so precision can be derived from them.
func (g *LiveGateway) GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := g.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return nil, err
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize,omitempty"`
				StepSize   string `json:"stepSize,omitempty"`
				MinQty     string `json:"minQty,omitempty"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		inst := &models.Instrument{Symbol: symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				inst.PriceStep = f.TickSize
			case "LOT_SIZE":
				inst.QtyStep = f.StepSize
				inst.MinQty = f.MinQty
			}
		}
		return inst, nil
	}
	return nil, fmt.Errorf("no instrument info for symbol %s", symbol)
}

// GetQuoteBalance returns the free USDT balance of the spot account.
func (g *LiveGateway) GetQuoteBalance(ctx context.Context) (float64, error) {
	data, err := g.doRequest(ctx, http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return 0, err
	}

	var account struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(data, &account); err != nil {
		return 0, err
	}

	for _, b := range account.Balances {
		if b.Asset == "USDT" {
			return strconv.ParseFloat(b.Free, 64)
		}
	}
	return 0, fmt.Errorf("no USDT balance in account response")
}

// GetFeeRates returns the account's maker/taker commission rates.
func (g *LiveGateway) GetFeeRates(ctx context.Context, symbol string) (*models.FeeRates, error) {
	data, err := g.doRequest(ctx, http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return nil, err
	}

	var account struct {
		CommissionRates struct {
			Maker string `json:"maker"`
			Taker string `json:"taker"`
		} `json:"commissionRates"`
	}
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, err
	}

	maker, err := strconv.ParseFloat(account.CommissionRates.Maker, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse maker rate: %w", err)
	}
	taker, err := strconv.ParseFloat(account.CommissionRates.Taker, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse taker rate: %w", err)
	}
	return &models.FeeRates{Maker: maker, Taker: taker}, nil
}

// PlaceMarketBuy spends quoteAmount of USDT at market price.
func (g *LiveGateway) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64, clientOrderID string) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(models.Buy))
	params.Set("type", "MARKET")
	params.Set("quoteOrderQty", strconv.FormatFloat(quoteAmount, 'f', -1, 64))
	return g.placeOrder(ctx, params, clientOrderID)
}

// PlaceLimitBuy places a GTC limit buy.
func (g *LiveGateway) PlaceLimitBuy(ctx context.Context, symbol string, qty, price float64, clientOrderID string) (string, error) {
	return g.placeLimit(ctx, symbol, models.Buy, qty, price, clientOrderID)
}

// PlaceLimitSell places a GTC limit sell.
func (g *LiveGateway) PlaceLimitSell(ctx context.Context, symbol string, qty, price float64, clientOrderID string) (string, error) {
	return g.placeLimit(ctx, symbol, models.Sell, qty, price, clientOrderID)
}

func (g *LiveGateway) placeLimit(ctx context.Context, symbol string, side models.Side, qty, price float64, clientOrderID string) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", strconv.FormatFloat(qty, 'f', -1, 64))
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	return g.placeOrder(ctx, params, clientOrderID)
}

func (g *LiveGateway) placeOrder(ctx context.Context, params url.Values, clientOrderID string) (string, error) {
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}

	data, err := g.doRequest(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		g.logger.Errorw("order placement failed", "error", err, "raw_response", string(data))
		return "", err
	}

	var order struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(data, &order); err != nil {
		return "", err
	}
	return strconv.FormatInt(order.OrderID, 10), nil
}

// CancelOrder cancels an open order.
func (g *LiveGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := g.doRequest(ctx, http.MethodDelete, "/api/v3/order", params, true)
	return err
}

// GetOrderStatus fetches the current state of an order.
func (g *LiveGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	data, err := g.doRequest(ctx, http.MethodGet, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Symbol        string `json:"symbol"`
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Price         string `json:"price"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
		Status        string `json:"status"`
		Type          string `json:"type"`
		Side          string `json:"side"`
		Time          int64  `json:"time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	return &models.Order{
		Symbol:        raw.Symbol,
		OrderID:       strconv.FormatInt(raw.OrderID, 10),
		ClientOrderID: raw.ClientOrderID,
		Price:         raw.Price,
		OrigQty:       raw.OrigQty,
		ExecutedQty:   raw.ExecutedQty,
		Status:        raw.Status,
		Type:          raw.Type,
		Side:          raw.Side,
		Time:          raw.Time,
	}, nil
}
