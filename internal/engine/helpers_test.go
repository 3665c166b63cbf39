package engine

import (
	"io"
	"time"

	"exec_quality/internal/domain"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ts(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// sliceSource serves trades from memory in windows, like the CSV reader does.
type sliceSource struct {
	trades []domain.Trade
	pos    int
	reads  int
}

func newSliceSource(trades []domain.Trade) *sliceSource {
	return &sliceSource{trades: trades}
}

func (s *sliceSource) ReadWindow(max int) ([]domain.Trade, error) {
	s.reads++
	if s.pos >= len(s.trades) {
		return nil, io.EOF
	}
	end := min(s.pos+max, len(s.trades))
	window := s.trades[s.pos:end]
	s.pos = end
	return window, nil
}

// abcFixture is the worked example: one symbol, two quotes, one order, two fills.
func abcFixture() (*QuoteBook, *OrderBook, []domain.Trade) {
	quotes := NewQuoteBook([]domain.Quote{
		{Symbol: "ABC", Timestamp: ts(200), Bid: d("10.1"), Ask: d("10.3")},
		{Symbol: "ABC", Timestamp: ts(100), Bid: d("10.0"), Ask: d("10.2")},
	})
	orders := NewOrderBook([]domain.Order{
		{ID: "O1", Symbol: "ABC", Side: domain.SideBuy, Quantity: d("100"), LimitPrice: d("10.15"), Timestamp: ts(90)},
	})
	trades := []domain.Trade{
		{OrderID: "O1", ExecTimestamp: ts(250), ExecPrice: d("10.2"), ExecQuantity: d("50"), Side: domain.SideBuy, Symbol: "ABC", Seq: 0},
		{OrderID: "O1", ExecTimestamp: ts(150), ExecPrice: d("10.1"), ExecQuantity: d("50"), Side: domain.SideBuy, Symbol: "ABC", Seq: 1},
	}
	return quotes, orders, trades
}
