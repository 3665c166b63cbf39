package storage

import (
	"time"

	"exec_quality/internal/domain"

	"github.com/shopspring/decimal"
)

// FillRecord is one row of fills_normalized.csv.
type FillRecord struct {
	OrderID       string    `gorm:"primaryKey;size:64"`
	ExecTimestamp time.Time `gorm:"primaryKey;index"`
	Seq           int64     `gorm:"primaryKey;autoIncrement:false"`

	RunID        string          `gorm:"index;size:36"`
	ExecPrice    decimal.Decimal `gorm:"type:decimal(24,10)"`
	ExecQuantity decimal.Decimal `gorm:"type:decimal(24,10)"`
	SideTrade    string          `gorm:"size:4"`
	Symbol       string          `gorm:"index;size:32"`

	SymbolOrder    string          `gorm:"size:32"`
	SideOrder      string          `gorm:"size:4"`
	Quantity       decimal.Decimal `gorm:"type:decimal(24,10)"`
	LimitPrice     decimal.Decimal `gorm:"type:decimal(24,10)"`
	TimestampOrder time.Time

	TimestampQuote *time.Time
	Bid            decimal.NullDecimal `gorm:"type:decimal(24,10)"`
	Ask            decimal.NullDecimal `gorm:"type:decimal(24,10)"`

	PIPerShare   decimal.NullDecimal `gorm:"column:pi_per_share;type:decimal(24,10)"`
	PIDollars    decimal.NullDecimal `gorm:"column:pi_dollars;type:decimal(24,10)"`
	Slippage     decimal.Decimal     `gorm:"type:decimal(24,10)"`
	QuoteMissing bool

	UpdatedAt time.Time
}

func (FillRecord) TableName() string { return "fills" }

// SummaryRecord is one row of order_summary.csv. The latest run wins.
type SummaryRecord struct {
	OrderID        string              `gorm:"primaryKey;size:64"`
	RunID          string              `gorm:"index;size:36"`
	TotalOrderQty  decimal.Decimal     `gorm:"type:decimal(24,10)"`
	FilledQty      decimal.Decimal     `gorm:"type:decimal(24,10)"`
	VWAP           decimal.NullDecimal `gorm:"column:vwap;type:decimal(24,10)"`
	TotalPIDollars decimal.Decimal     `gorm:"column:total_pi_dollars;type:decimal(24,10);index"`
	FillRate       decimal.NullDecimal `gorm:"type:decimal(24,10)"`
	UpdatedAt      time.Time
}

func (SummaryRecord) TableName() string { return "order_summaries" }

func newFillRecord(runID string, f domain.Fill) FillRecord {
	rec := FillRecord{
		OrderID:        f.Trade.OrderID,
		ExecTimestamp:  f.Trade.ExecTimestamp.UTC(),
		Seq:            f.Trade.Seq,
		RunID:          runID,
		ExecPrice:      f.Trade.ExecPrice,
		ExecQuantity:   f.Trade.ExecQuantity,
		SideTrade:      string(f.Trade.Side),
		Symbol:         f.Symbol(),
		SymbolOrder:    f.Order.Symbol,
		SideOrder:      string(f.Order.Side),
		Quantity:       f.Order.Quantity,
		LimitPrice:     f.Order.LimitPrice,
		TimestampOrder: f.Order.Timestamp.UTC(),
		PIPerShare:     f.PIPerShare,
		PIDollars:      f.PIDollars,
		Slippage:       f.Slippage,
		QuoteMissing:   f.QuoteMissing,
	}
	if ts, ok := f.QuoteTimestamp(); ok {
		ts = ts.UTC()
		rec.TimestampQuote = &ts
		rec.Bid = decimal.NewNullDecimal(f.Quote.Bid)
		rec.Ask = decimal.NewNullDecimal(f.Quote.Ask)
	}
	return rec
}

func newSummaryRecord(runID string, s domain.OrderSummary) SummaryRecord {
	return SummaryRecord{
		OrderID:        s.OrderID,
		RunID:          runID,
		TotalOrderQty:  s.TotalOrderQty,
		FilledQty:      s.FilledQty,
		VWAP:           s.VWAP,
		TotalPIDollars: s.TotalPIDollars,
		FillRate:       s.FillRate,
	}
}

func (r SummaryRecord) toDomain() domain.OrderSummary {
	return domain.OrderSummary{
		OrderID:        r.OrderID,
		TotalOrderQty:  r.TotalOrderQty,
		FilledQty:      r.FilledQty,
		VWAP:           r.VWAP,
		TotalPIDollars: r.TotalPIDollars,
		FillRate:       r.FillRate,
	}
}
