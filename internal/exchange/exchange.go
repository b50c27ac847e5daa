// Package exchange defines the venue contract the trading core talks to, plus the
// simulated and Binance USDT-M implementations and a manager over several venues.
package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"

	"leverage-core/internal/order"
	"leverage-core/pkg/errors"
	futures "leverage-core/pkg/exchanges/binance/futures_usdt"
)

// Balance is the holding of one asset.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
	Total  float64 `json:"total"`
}

// PositionInfo is a position as reported by a venue.
type PositionInfo struct {
	Symbol        string     `json:"symbol"`
	Side          order.Side `json:"side"`
	Size          float64    `json:"size"`
	EntryPrice    float64    `json:"entry_price"`
	MarkPrice     float64    `json:"mark_price"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	Leverage      float64    `json:"leverage"`
}

// MarketData is a ticker snapshot.
type MarketData struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	High24h   float64   `json:"high_24h"`
	Low24h    float64   `json:"low_24h"`
	Change24h float64   `json:"change_24h"` // percent
}

// OrderResult is the venue's answer to PlaceOrder.
type OrderResult struct {
	ExchangeOrderID string
	Status          order.Status
	FilledQuantity  float64
	FilledPrice     float64
}

// OrderStatusReport is the current venue-side state of an order.
type OrderStatusReport struct {
	ExchangeOrderID string       `json:"exchange_order_id"`
	Symbol          string       `json:"symbol"`
	Status          order.Status `json:"status"`
	FilledQuantity  float64      `json:"filled_quantity"`
	AvgPrice        float64      `json:"avg_price"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Fees are maker/taker commission rates.
type Fees struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// DefaultFees are used when a venue cannot report its rates.
var DefaultFees = Fees{Maker: 0.0002, Taker: 0.0004}

// Exchange is a trading venue.
type Exchange interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	GetAccountBalance(ctx context.Context) ([]Balance, error)
	GetPositions(ctx context.Context) ([]PositionInfo, error)
	GetMarketData(ctx context.Context, symbol string) (MarketData, error)
	// PlaceOrder submits o and records the venue order ID and status on it.
	PlaceOrder(ctx context.Context, o *order.Order) (OrderResult, error)
	CancelOrder(ctx context.Context, exchangeOrderID, symbol string) (bool, error)
	GetOrderStatus(ctx context.Context, exchangeOrderID, symbol string) (OrderStatusReport, error)
	GetTradingFees(ctx context.Context, symbol string) (Fees, error)
}

// Kind selects an Exchange implementation.
type Kind string

const (
	KindMock    Kind = "mock"
	KindBinance Kind = "binance"
)

// Config carries the settings for every Kind; unused fields are ignored.
type Config struct {
	Name              string
	InitialBalance    float64
	Seed              int64
	Latency           time.Duration
	FillRate          float64
	APIKey            string
	APISecret         string
	Testnet           bool
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// New builds the exchange of the given kind.
func New(kind Kind, cfg Config, log *zap.Logger) (Exchange, error) {
	switch kind {
	case KindMock:
		return NewMock(MockConfig{
			Name:           cfg.Name,
			InitialBalance: cfg.InitialBalance,
			Seed:           cfg.Seed,
			Latency:        cfg.Latency,
			FillRate:       cfg.FillRate,
		}), nil
	case KindBinance:
		client := futures.NewClient(futures.Config{
			APIKey:            cfg.APIKey,
			APISecret:         cfg.APISecret,
			Testnet:           cfg.Testnet,
			BaseURL:           cfg.BaseURL,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.Timeout,
		}, log)
		return NewBinance(cfg.Name, client, log), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unsupported exchange kind %q", kind)
	}
}
