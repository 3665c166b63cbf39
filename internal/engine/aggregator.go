package engine

import (
	"sort"

	"exec_quality/internal/domain"

	"github.com/shopspring/decimal"
)

// orderTotals carries the running sums of one order group.
type orderTotals struct {
	totalOrderQty decimal.Decimal // First occurrence, from the order table
	filledQty     decimal.Decimal // Σ exec_quantity
	notional      decimal.Decimal // Σ exec_price * exec_quantity
	piDollars     decimal.Decimal // Σ pi_dollars over fills that have a quote
}

// Aggregator folds fills into one summary per order. Fill order does not matter.
type Aggregator struct {
	groups map[string]*orderTotals
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{groups: make(map[string]*orderTotals)}
}

// Add folds a single fill into its order group.
func (a *Aggregator) Add(f domain.Fill) {
	g, ok := a.groups[f.Trade.OrderID]
	if !ok {
		g = &orderTotals{totalOrderQty: f.Order.Quantity}
		a.groups[f.Trade.OrderID] = g
	}

	g.filledQty = g.filledQty.Add(f.Trade.ExecQuantity)
	g.notional = g.notional.Add(f.Trade.ExecPrice.Mul(f.Trade.ExecQuantity))
	if f.PIDollars.Valid {
		g.piDollars = g.piDollars.Add(f.PIDollars.Decimal)
	}
}

// AddAll folds a batch of fills.
func (a *Aggregator) AddAll(fills []domain.Fill) {
	for _, f := range fills {
		a.Add(f)
	}
}

// Len returns the number of order groups seen so far.
func (a *Aggregator) Len() int {
	return len(a.groups)
}

// Summaries returns one summary per order, sorted by order id.
func (a *Aggregator) Summaries() []domain.OrderSummary {
	ids := make([]string, 0, len(a.groups))
	for id := range a.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]domain.OrderSummary, 0, len(ids))
	for _, id := range ids {
		g := a.groups[id]
		s := domain.OrderSummary{
			OrderID:        id,
			TotalOrderQty:  g.totalOrderQty,
			FilledQty:      g.filledQty,
			TotalPIDollars: g.piDollars,
		}
		if !g.filledQty.IsZero() {
			s.VWAP = decimal.NewNullDecimal(g.notional.Div(g.filledQty))
		}
		if !g.totalOrderQty.IsZero() {
			s.FillRate = decimal.NewNullDecimal(g.filledQty.Div(g.totalOrderQty))
		}
		result = append(result, s)
	}
	return result
}

// Summarize is a convenience wrapper over a complete fill set.
func Summarize(fills []domain.Fill) []domain.OrderSummary {
	agg := NewAggregator()
	agg.AddAll(fills)
	return agg.Summaries()
}
