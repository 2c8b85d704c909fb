package models

import "fmt"

// Config holds everything the bot process needs to run: which symbols to
// trade, how to reach the exchange, the ladder parameters and the ambient
// concerns (logging, persistence, control server).
type Config struct {
	IsTestnet     bool     `json:"is_testnet"`
	LiveAPIURL    string   `json:"live_api_url"`
	LiveWSURL     string   `json:"live_ws_url"`
	TestnetAPIURL string   `json:"testnet_api_url"`
	TestnetWSURL  string   `json:"testnet_ws_url"`
	Symbols       []string `json:"symbols"` // e.g. ["BTCUSDT", "BNBUSDT"]

	Bot BotConfig `json:"bot"` // ladder parameters, shared by all symbols

	Entry EntryConfig `json:"entry"` // optional RSI gate

	PriceFeed      string `json:"price_feed"`       // "poll" or "ws"
	PollIntervalMs int    `json:"poll_interval_ms"` // polling cadence, default 400

	StateBackend string `json:"state_backend"` // "badger" or "file"
	DBPath       string `json:"db_path"`       // badger directory
	StateDir     string `json:"state_dir"`     // file backend directory

	ServerAddr string `json:"server_addr"` // control surface listen address

	// Backtest engine settings.
	InitialInvestment float64 `json:"initial_investment"`
	TakerFeeRate      float64 `json:"taker_fee_rate"`
	MakerFeeRate      float64 `json:"maker_fee_rate"`

	LogConfig LogConfig `json:"log"`

	BaseURL   string `json:"base_url"`    // resolved REST base (set at startup)
	WSBaseURL string `json:"ws_base_url"` // resolved WS base (set at startup)
}

// BotConfig are the seven ladder parameters. They are validated once when the
// configuration is accepted and never mutated afterwards.
type BotConfig struct {
	TargetProfitPercent            float64 `json:"target_profit_percent"`
	StartOrderVolume               float64 `json:"start_order_volume_usdt"`
	InsuranceOrderSteps            int     `json:"insurance_order_steps"`
	InsurancePriceDeviationPercent float64 `json:"insurance_order_price_deviation_percent"`
	InsuranceStepsMultiplier       float64 `json:"insurance_order_steps_multiplier"`
	InsuranceOrderVolume           float64 `json:"insurance_order_volume_usdt"`
	InsuranceVolumeMultiplier      float64 `json:"insurance_order_volume_multiplier"`
}

// Validate checks every ladder parameter against its allowed range.
func (c BotConfig) Validate() error {
	switch {
	case c.TargetProfitPercent <= 0:
		return fmt.Errorf("target_profit_percent must be > 0, got %v", c.TargetProfitPercent)
	case c.StartOrderVolume <= 0:
		return fmt.Errorf("start_order_volume_usdt must be > 0, got %v", c.StartOrderVolume)
	case c.InsuranceOrderSteps < 0:
		return fmt.Errorf("insurance_order_steps must be >= 0, got %d", c.InsuranceOrderSteps)
	case c.InsurancePriceDeviationPercent <= 0:
		return fmt.Errorf("insurance_order_price_deviation_percent must be > 0, got %v", c.InsurancePriceDeviationPercent)
	case c.InsuranceStepsMultiplier < 1:
		return fmt.Errorf("insurance_order_steps_multiplier must be >= 1, got %v", c.InsuranceStepsMultiplier)
	case c.InsuranceOrderVolume <= 0:
		return fmt.Errorf("insurance_order_volume_usdt must be > 0, got %v", c.InsuranceOrderVolume)
	case c.InsuranceVolumeMultiplier < 1:
		return fmt.Errorf("insurance_order_volume_multiplier must be >= 1, got %v", c.InsuranceVolumeMultiplier)
	}
	return nil
}

// EntryConfig configures the optional RSI entry gate. When disabled, a trade
// cycle starts as soon as the bot starts.
type EntryConfig struct {
	RSIEnabled  bool    `json:"rsi_enabled"`
	Interval    string  `json:"interval"`      // kline interval, e.g. "1m"
	CandleCount int     `json:"candle_count"`  // klines per evaluation
	Threshold   float64 `json:"rsi_threshold"` // arm the gate below this value
	PollSeconds int     `json:"poll_seconds"`  // evaluation cadence, default 2
}

// LogConfig mirrors the zap/lumberjack setup.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // MB per file
	MaxBackups int    `json:"max_backups"` // rotated files kept
	MaxAge     int    `json:"max_age"`     // days
	Compress   bool   `json:"compress"`
}

// Instrument carries the exchange trading rules the generator and the
// gateway boundary need. Step strings are kept verbatim so rounding can be
// derived from their decimal places.
type Instrument struct {
	Symbol    string `json:"symbol"`
	QtyStep   string `json:"qty_step"`   // LOT_SIZE stepSize, e.g. "0.00010"
	PriceStep string `json:"price_step"` // PRICE_FILTER tickSize, e.g. "0.01"
	MinQty    string `json:"min_qty"`    // LOT_SIZE minQty
}

// FeeRates holds the maker/taker commission rates for one symbol.
type FeeRates struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// Order is the gateway-side view of an exchange order. Prices and quantities
// stay decimal strings at this boundary.
type Order struct {
	Symbol        string `json:"symbol"`
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
}

// Side is a trade direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Kline is one candle of OHLCV data.
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// APIError is the typed error body the exchange returns alongside non-2xx
// responses.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: code=%d, msg=%s", e.Code, e.Msg)
}
