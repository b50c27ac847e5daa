package exchange

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"leverage-core/internal/order"
	"leverage-core/pkg/errors"
	futures "leverage-core/pkg/exchanges/binance/futures_usdt"
	"leverage-core/pkg/exchanges/common"
)

// Binance adapts the USDT-M futures REST client to the Exchange contract.
type Binance struct {
	name   string
	client *futures.Client
	log    *zap.Logger

	mu         sync.Mutex
	cancelSync context.CancelFunc
}

// NewBinance wraps client.
func NewBinance(name string, client *futures.Client, log *zap.Logger) *Binance {
	if name == "" {
		name = "binance"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Binance{name: name, client: client, log: log.Named(name)}
}

func (b *Binance) Name() string { return b.name }

// Connect checks connectivity and starts server time synchronization.
func (b *Binance) Connect(ctx context.Context) error {
	if err := b.client.Ping(ctx); err != nil {
		return errors.Wrapf(errors.ErrCodeExchangeUnavailable, err, "%s: ping", b.name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelSync == nil {
		syncCtx, cancel := context.WithCancel(context.Background())
		b.cancelSync = cancel
		b.client.SyncTime(syncCtx)
	}
	b.log.Info("connected")
	return nil
}

func (b *Binance) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelSync != nil {
		b.cancelSync()
		b.cancelSync = nil
	}
	return nil
}

// GetAccountBalance returns assets with a non-zero balance.
func (b *Binance) GetAccountBalance(ctx context.Context) ([]Balance, error) {
	rows, err := b.client.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(rows))
	for _, r := range rows {
		total := futures.ParseFloat(r.Balance)
		if total == 0 {
			continue
		}
		free := futures.ParseFloat(r.AvailableBalance)
		out = append(out, Balance{Asset: r.Asset, Free: free, Locked: total - free, Total: total})
	}
	return out, nil
}

// GetPositions returns open positions; the sign of positionAmt gives the side.
func (b *Binance) GetPositions(ctx context.Context) ([]PositionInfo, error) {
	rows, err := b.client.GetPositions(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]PositionInfo, 0)
	for _, r := range rows {
		amt := futures.ParseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := order.SideBuy
		if amt < 0 {
			side = order.SideSell
		}
		out = append(out, PositionInfo{
			Symbol:        r.Symbol,
			Side:          side,
			Size:          math.Abs(amt),
			EntryPrice:    futures.ParseFloat(r.EntryPrice),
			MarkPrice:     futures.ParseFloat(r.MarkPrice),
			UnrealizedPnL: futures.ParseFloat(r.UnRealizedProfit),
			Leverage:      futures.ParseFloat(r.Leverage),
		})
	}
	return out, nil
}

func (b *Binance) GetMarketData(ctx context.Context, symbol string) (MarketData, error) {
	t, err := b.client.Ticker24h(ctx, symbol)
	if err != nil {
		return MarketData{}, err
	}
	ts := time.Now()
	if t.CloseTime > 0 {
		ts = time.UnixMilli(t.CloseTime)
	}
	return MarketData{
		Symbol:    symbol,
		Price:     futures.ParseFloat(t.LastPrice),
		Volume:    futures.ParseFloat(t.Volume),
		Timestamp: ts,
		Bid:       futures.ParseFloat(t.BidPrice),
		Ask:       futures.ParseFloat(t.AskPrice),
		High24h:   futures.ParseFloat(t.HighPrice),
		Low24h:    futures.ParseFloat(t.LowPrice),
		Change24h: futures.ParseFloat(t.PriceChangePercent),
	}, nil
}

// PlaceOrder sets the symbol leverage and submits o. Stop-loss and take-profit orders are
// sent as reduce-only trigger orders at the order price.
func (b *Binance) PlaceOrder(ctx context.Context, o *order.Order) (OrderResult, error) {
	if o.Leverage >= 1 {
		if err := b.client.SetLeverage(ctx, o.Symbol, int(math.Round(o.Leverage))); err != nil {
			b.log.Warn("set leverage failed", zap.String("symbol", o.Symbol), zap.Float64("leverage", o.Leverage), zap.Error(err))
		}
	}

	req := common.OrderRequest{
		Symbol:   o.Symbol,
		Side:     toWireSide(o.Side),
		Qty:      o.Quantity,
		ClientID: o.ID,
	}
	switch o.Type {
	case order.TypeLimit:
		req.Type, req.Price = common.OrderTypeLimit, o.Price
	case order.TypeStopLoss:
		req.Type, req.StopPrice, req.ReduceOnly = common.OrderTypeStopMarket, o.Price, true
	case order.TypeTakeProfit:
		req.Type, req.StopPrice, req.ReduceOnly = common.OrderTypeTakeProfit, o.Price, true
	default:
		req.Type = common.OrderTypeMarket
	}

	res, err := b.client.SubmitOrder(ctx, req)
	if err != nil {
		return OrderResult{}, errors.Wrapf(errors.ErrCodeOrderFailed, err, "%s: place %s", b.name, o.ID)
	}
	o.ExchangeOrderID = res.ExchangeOrderID
	status := fromWireStatus(res.Status)
	if res.ExecutedQty > 0 {
		if err := o.UpdateFill(res.ExecutedQty, res.AvgPrice); err != nil {
			b.log.Warn("record fill failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if status == order.StatusFailed {
		_ = o.Fail()
	}
	return OrderResult{
		ExchangeOrderID: res.ExchangeOrderID,
		Status:          status,
		FilledQuantity:  res.ExecutedQty,
		FilledPrice:     res.AvgPrice,
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) (bool, error) {
	if err := b.client.CancelOrder(ctx, symbol, exchangeOrderID); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Binance) GetOrderStatus(ctx context.Context, exchangeOrderID, symbol string) (OrderStatusReport, error) {
	res, err := b.client.QueryOrder(ctx, symbol, exchangeOrderID)
	if err != nil {
		return OrderStatusReport{}, err
	}
	return OrderStatusReport{
		ExchangeOrderID: res.ExchangeOrderID,
		Symbol:          symbol,
		Status:          fromWireStatus(res.Status),
		FilledQuantity:  res.ExecutedQty,
		AvgPrice:        res.AvgPrice,
		UpdatedAt:       time.UnixMilli(res.UpdateTime),
	}, nil
}

// GetTradingFees returns the account's commission rates, or DefaultFees when the venue
// cannot answer.
func (b *Binance) GetTradingFees(ctx context.Context, symbol string) (Fees, error) {
	rate, err := b.client.GetCommissionRate(ctx, symbol)
	if err != nil {
		b.log.Warn("commission rate unavailable, using defaults", zap.String("symbol", symbol), zap.Error(err))
		return DefaultFees, nil
	}
	maker, err1 := strconv.ParseFloat(rate.MakerCommissionRate, 64)
	taker, err2 := strconv.ParseFloat(rate.TakerCommissionRate, 64)
	if err1 != nil || err2 != nil {
		return DefaultFees, nil
	}
	return Fees{Maker: maker, Taker: taker}, nil
}

func toWireSide(s order.Side) common.Side {
	if s == order.SideSell {
		return common.SideSell
	}
	return common.SideBuy
}

func fromWireStatus(s common.OrderStatus) order.Status {
	switch s {
	case common.StatusPartial:
		return order.StatusPartial
	case common.StatusFilled:
		return order.StatusFilled
	case common.StatusCanceled, common.StatusExpired:
		return order.StatusCancelled
	case common.StatusRejected:
		return order.StatusFailed
	default:
		return order.StatusPending
	}
}
