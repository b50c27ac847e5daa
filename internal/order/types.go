package order

import (
	"time"

	"github.com/go-playground/validator/v10"

	"leverage-core/pkg/errors"
)

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the reducing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type is the execution style of an order.
type Type string

const (
	TypeMarket     Type = "market"
	TypeLimit      Type = "limit"
	TypeStopLoss   Type = "stop_loss"
	TypeTakeProfit Type = "take_profit"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusFailed
}

// Open reports whether the order can still fill.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusPartial
}

const (
	MinLeverage = 1.0
	MaxLeverage = 10.0
)

// Metadata keys shared between producers and consumers of orders.
const (
	MetaReason         = "reason"
	MetaSignalStrength = "signal_strength"
	MetaSignalTime     = "signal_timestamp"
	MetaStrategy       = "strategy_metadata"
	MetaTriggerPrice   = "trigger_price"
	MetaSellRatio      = "sell_ratio"
)

// Order is a trade intent and its execution outcome.
type Order struct {
	ID              string
	Symbol          string
	Side            Side
	Type            Type
	Quantity        float64
	Price           float64
	Leverage        float64
	Status          Status
	FilledQuantity  float64
	FilledPrice     float64
	ExchangeOrderID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Metadata        map[string]any
}

// Params describes an order to construct. Leverage defaults to 1 and Type to market.
type Params struct {
	ID       string         `validate:"required"`
	Symbol   string         `validate:"required"`
	Side     Side           `validate:"oneof=buy sell"`
	Type     Type           `validate:"oneof=market limit stop_loss take_profit"`
	Quantity float64        `validate:"gt=0"`
	Price    float64        `validate:"gte=0"`
	Leverage float64        `validate:"gte=1,lte=10"`
	Metadata map[string]any `validate:"-"`
}

var validate = validator.New()

// New validates p and returns a pending order.
func New(p Params) (*Order, error) {
	if p.Leverage == 0 {
		p.Leverage = MinLeverage
	}
	if p.Type == "" {
		p.Type = TypeMarket
	}
	if err := validate.Struct(p); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	meta := make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}
	now := time.Now()
	return &Order{
		ID:        p.ID,
		Symbol:    p.Symbol,
		Side:      p.Side,
		Type:      p.Type,
		Quantity:  p.Quantity,
		Price:     p.Price,
		Leverage:  p.Leverage,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  meta,
	}, nil
}

// Notional is quantity times price.
func (o *Order) Notional() float64 {
	return o.Quantity * o.Price
}

// RequiredMargin is the margin the order locks at its leverage.
func (o *Order) RequiredMargin() float64 {
	if o.Leverage <= 0 {
		return o.Notional()
	}
	return o.Notional() / o.Leverage
}

// Reason returns the "reason" metadata entry, if any.
func (o *Order) Reason() string {
	if v, ok := o.Metadata[MetaReason].(string); ok {
		return v
	}
	return ""
}

// IsFullyFilled reports whether the whole quantity has been filled, ignoring float dust
// left by summing venue fills.
func (o *Order) IsFullyFilled() bool {
	return o.Quantity-o.FilledQuantity <= o.Quantity*1e-9
}

// RemainingQuantity returns the unfilled quantity.
func (o *Order) RemainingQuantity() float64 {
	return o.Quantity - o.FilledQuantity
}

// UpdateFill records an additional fill of qty at price. The fill price becomes the
// quantity-weighted average of all fills.
func (o *Order) UpdateFill(qty, price float64) error {
	if o.Status.Terminal() {
		return errors.Newf(errors.ErrCodeInvalidStateTransition, "order %s is %s", o.ID, o.Status)
	}
	if qty <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "fill quantity must be positive, got %v", qty)
	}
	if remaining := o.RemainingQuantity(); qty > remaining {
		qty = remaining
	}
	total := o.FilledQuantity + qty
	o.FilledPrice = (o.FilledPrice*o.FilledQuantity + price*qty) / total
	o.FilledQuantity = total
	if o.IsFullyFilled() {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
	o.UpdatedAt = time.Now()
	return nil
}

// Fill marks the order completely filled at price.
func (o *Order) Fill(price float64) error {
	return o.UpdateFill(o.RemainingQuantity(), price)
}

// Fail moves a live order to failed.
func (o *Order) Fail() error {
	return o.transition(StatusFailed)
}

// Cancel moves a live order to cancelled.
func (o *Order) Cancel() error {
	return o.transition(StatusCancelled)
}

func (o *Order) transition(to Status) error {
	if o.Status.Terminal() {
		return errors.Newf(errors.ErrCodeInvalidStateTransition, "order %s: %s -> %s", o.ID, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

// Clone returns a copy that shares no mutable state with o.
func (o *Order) Clone() *Order {
	c := *o
	c.Metadata = make(map[string]any, len(o.Metadata))
	for k, v := range o.Metadata {
		c.Metadata[k] = v
	}
	return &c
}
