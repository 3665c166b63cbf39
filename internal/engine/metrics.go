package engine

import (
	"exec_quality/internal/domain"

	"github.com/shopspring/decimal"
)

// ComputeMetrics derives the execution-quality figures of one joined row.
//
//	BUY:  pi_per_share = max(0, ask - exec_price)
//	SELL: pi_per_share = max(0, exec_price - bid)
//	pi_dollars = pi_per_share * exec_quantity
//	slippage   = |exec_price - limit_price|
//
// The side is the execution side. Without a quote the price improvement fields
// stay invalid and QuoteMissing is set; slippage does not depend on the quote.
func ComputeMetrics(row domain.JoinedRow) domain.Metrics {
	m := domain.Metrics{
		Slippage: row.Trade.ExecPrice.Sub(row.Order.LimitPrice).Abs(),
	}

	if row.Quote == nil {
		m.QuoteMissing = true
		return m
	}

	var improvement decimal.Decimal
	if row.Trade.Side == domain.SideBuy {
		improvement = row.Quote.Ask.Sub(row.Trade.ExecPrice)
	} else {
		improvement = row.Trade.ExecPrice.Sub(row.Quote.Bid)
	}
	perShare := decimal.Max(decimal.Zero, improvement)

	m.PIPerShare = decimal.NewNullDecimal(perShare)
	m.PIDollars = decimal.NewNullDecimal(perShare.Mul(row.Trade.ExecQuantity))
	return m
}

// Annotate attaches metrics to a joined row.
func Annotate(row domain.JoinedRow) domain.Fill {
	return domain.Fill{JoinedRow: row, Metrics: ComputeMetrics(row)}
}
