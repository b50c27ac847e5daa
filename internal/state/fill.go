package state

import (
	"time"

	"leverage-core/internal/order"
)

// Fill is an executed trade to book against an account.
type Fill struct {
	Symbol   string
	Side     order.Side
	Quantity float64
	Price    float64
	Leverage float64
	At       time.Time
}

// FillFromOrder builds a Fill from an order's executed quantity and price, falling back
// to the requested values when nothing has been recorded yet.
func FillFromOrder(o *order.Order) Fill {
	qty, px := o.FilledQuantity, o.FilledPrice
	if qty <= 0 {
		qty = o.Quantity
	}
	if px <= 0 {
		px = o.Price
	}
	return Fill{
		Symbol:   o.Symbol,
		Side:     o.Side,
		Quantity: qty,
		Price:    px,
		Leverage: o.Leverage,
		At:       o.UpdatedAt,
	}
}

// FillKind describes what a fill did to the position.
type FillKind string

const (
	FillOpened    FillKind = "opened"
	FillIncreased FillKind = "increased"
	FillReduced   FillKind = "reduced"
	FillClosed    FillKind = "closed"
	FillFlipped   FillKind = "flipped"
)

// FillResult summarises the effect of a fill.
type FillResult struct {
	Kind           FillKind
	RealizedPnL    float64
	MarginLocked   float64
	MarginReleased float64
}

// ApplyFill returns the account that results from booking f on a, plus a summary.
// a is never modified.
//
// Same-side fills merge into a size-weighted entry price and keep the larger leverage.
// Opposite-side fills realize PnL: a partial reduction realizes the closed fraction and
// keeps the entry price, an exact close removes the position, and an oversized fill
// flips into a new position for the remainder at the fill price.
//
// Opening margin is debited from the available balance; released margin and realized
// PnL are credited back, so equity only moves by PnL.
func ApplyFill(a *Account, f Fill) (*Account, FillResult) {
	next := a.Clone()
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	lev := f.Leverage
	if lev < order.MinLeverage {
		lev = order.MinLeverage
	}

	var res FillResult
	pos, ok := next.Positions[f.Symbol]
	switch {
	case !ok:
		res.Kind = FillOpened
		res.MarginLocked = open(next, f, lev, f.Quantity, at)

	case pos.Side == f.Side:
		res.Kind = FillIncreased
		before := pos.MarginUsed()
		size := pos.Size + f.Quantity
		pos.EntryPrice = (pos.Size*pos.EntryPrice + f.Quantity*f.Price) / size
		pos.Size = size
		pos.Leverage = max(pos.Leverage, lev)
		pos.UpdatedAt = at
		delta := pos.MarginUsed() - before
		next.AvailableBalance -= delta
		res.MarginLocked = delta

	case f.Quantity >= pos.Size:
		res.RealizedPnL = pos.PnLAt(f.Price)
		res.MarginReleased = pos.MarginUsed()
		next.AvailableBalance += res.MarginReleased + res.RealizedPnL
		next.RealizedPnL += res.RealizedPnL
		remainder := f.Quantity - pos.Size
		delete(next.Positions, f.Symbol)
		if remainder > 0 {
			res.Kind = FillFlipped
			res.MarginLocked = open(next, f, lev, remainder, at)
			next.Positions[f.Symbol].RealizedPnL = pos.RealizedPnL + res.RealizedPnL
		} else {
			res.Kind = FillClosed
		}

	default:
		res.Kind = FillReduced
		fraction := f.Quantity / pos.Size
		res.RealizedPnL = pos.PnLAt(f.Price) * fraction
		before := pos.MarginUsed()
		pos.Size -= f.Quantity
		pos.RealizedPnL += res.RealizedPnL
		pos.UpdatedAt = at
		res.MarginReleased = before - pos.MarginUsed()
		next.AvailableBalance += res.MarginReleased + res.RealizedPnL
		next.RealizedPnL += res.RealizedPnL
	}

	next.Recompute()
	return next, res
}

func open(a *Account, f Fill, lev, qty float64, at time.Time) float64 {
	p := &Position{
		Symbol:       f.Symbol,
		Side:         f.Side,
		Size:         qty,
		EntryPrice:   f.Price,
		CurrentPrice: f.Price,
		Leverage:     lev,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	a.Positions[f.Symbol] = p
	margin := p.MarginUsed()
	a.AvailableBalance -= margin
	return margin
}
