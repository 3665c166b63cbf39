package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// JoinedRow is a trade matched with its parent order and the prevailing quote.
// Quote is nil when no quote for the symbol exists at or before the execution.
type JoinedRow struct {
	Trade Trade
	Order Order
	Quote *Quote
}

// Symbol returns the join key used for the quote lookup.
// The trade-side symbol wins; the order symbol is the fallback.
func (r JoinedRow) Symbol() string {
	if r.Trade.Symbol != "" {
		return r.Trade.Symbol
	}
	return r.Order.Symbol
}

// Metrics holds the execution-quality figures of a single fill.
// PIPerShare and PIDollars are invalid when QuoteMissing is set.
type Metrics struct {
	PIPerShare   decimal.NullDecimal
	PIDollars    decimal.NullDecimal
	Slippage     decimal.Decimal
	QuoteMissing bool
}

// Fill is a joined row annotated with its metrics. It is never mutated after creation.
type Fill struct {
	JoinedRow
	Metrics
}

// QuoteTimestamp returns the timestamp of the joined quote, if any.
func (f Fill) QuoteTimestamp() (time.Time, bool) {
	if f.Quote == nil {
		return time.Time{}, false
	}
	return f.Quote.Timestamp, true
}

// QuoteErr returns an error wrapping ErrNoQuote when the fill has no quote.
func (f Fill) QuoteErr() error {
	if f.Quote != nil {
		return nil
	}
	return fmt.Errorf("%w for %s at %s", ErrNoQuote, f.Symbol(), FormatTimestamp(f.Trade.ExecTimestamp))
}

// OrderSummary is the per-order rollup of all fills.
// VWAP is invalid when the order has no filled quantity; FillRate is invalid
// when the declared order quantity is zero.
type OrderSummary struct {
	OrderID        string
	TotalOrderQty  decimal.Decimal
	FilledQty      decimal.Decimal
	VWAP           decimal.NullDecimal
	TotalPIDollars decimal.Decimal
	FillRate       decimal.NullDecimal
}
