package engine

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"exec_quality/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, it *ChunkIterator) ([]domain.Fill, []Batch) {
	t.Helper()
	var fills []domain.Fill
	var batches []Batch
	err := it.Each(context.Background(), func(b Batch) error {
		batches = append(batches, b)
		fills = append(fills, b.Fills...)
		return nil
	})
	require.NoError(t, err)
	SortFills(fills)
	return fills, batches
}

func TestJoiner_WorkedExample(t *testing.T) {
	quotes, orders, trades := abcFixture()
	joiner := NewJoiner(quotes, orders, DefaultWindowSize, UnmatchedDrop)

	fills, batches := collect(t, joiner.Chunks(newSliceSource(trades)))
	require.Len(t, batches, 1)
	require.Len(t, fills, 2)

	first, second := fills[0], fills[1]
	assert.Equal(t, ts(150), first.Trade.ExecTimestamp)
	require.NotNil(t, first.Quote)
	assert.Equal(t, ts(100), first.Quote.Timestamp)
	assert.True(t, first.PIPerShare.Decimal.Equal(d("0.1")))
	assert.True(t, first.PIDollars.Decimal.Equal(d("5")))
	assert.True(t, first.Slippage.Equal(d("0.05")))

	require.NotNil(t, second.Quote)
	assert.Equal(t, ts(200), second.Quote.Timestamp)
	assert.True(t, second.PIPerShare.Decimal.Equal(d("0.1")))
	assert.True(t, second.PIDollars.Decimal.Equal(d("5")))
	assert.True(t, second.Slippage.Equal(d("0.05")))

	summaries := Summarize(fills)
	require.Len(t, summaries, 1)
	s := summaries[0]
	assert.True(t, s.FilledQty.Equal(d("100")))
	assert.True(t, s.VWAP.Decimal.Equal(d("10.15")))
	assert.True(t, s.TotalPIDollars.Equal(d("10")))
	assert.True(t, s.FillRate.Decimal.Equal(d("1")))
}

func TestJoiner_WindowSortedByExecution(t *testing.T) {
	quotes, orders, _ := abcFixture()
	trades := []domain.Trade{
		{OrderID: "O1", ExecTimestamp: ts(300), Symbol: "ZZZ", Side: domain.SideBuy, Seq: 0},
		{OrderID: "O1", ExecTimestamp: ts(300), Symbol: "ABC", Side: domain.SideBuy, Seq: 1},
		{OrderID: "O1", ExecTimestamp: ts(120), Symbol: "ABC", Side: domain.SideBuy, Seq: 2},
		{OrderID: "O1", ExecTimestamp: ts(300), Symbol: "ABC", Side: domain.SideBuy, Seq: 3},
	}

	batch, err := NewJoiner(quotes, orders, 10, UnmatchedDrop).JoinWindow(trades)
	require.NoError(t, err)

	var seqs []int64
	for _, f := range batch.Fills {
		seqs = append(seqs, f.Trade.Seq)
	}
	assert.Equal(t, []int64{2, 1, 3, 0}, seqs, "stable sort by (exec_timestamp, symbol)")
	assert.Equal(t, ts(300), trades[0].ExecTimestamp, "input slice must not be reordered")
}

func TestJoiner_MissingQuoteIsSoft(t *testing.T) {
	quotes, orders, _ := abcFixture()
	trades := []domain.Trade{
		{OrderID: "O1", ExecTimestamp: ts(50), ExecPrice: d("10"), ExecQuantity: d("1"), Side: domain.SideBuy, Symbol: "ABC"},
	}

	batch, err := NewJoiner(quotes, orders, 10, UnmatchedDrop).JoinWindow(trades)
	require.NoError(t, err)
	require.Len(t, batch.Fills, 1)
	assert.Nil(t, batch.Fills[0].Quote)
	assert.True(t, batch.Fills[0].QuoteMissing)
	assert.False(t, batch.Fills[0].PIDollars.Valid)
	assert.Equal(t, 1, batch.MissingQuotes)
}

func TestJoiner_TradeWithoutSymbolUsesOrderSymbol(t *testing.T) {
	quotes, orders, _ := abcFixture()
	trades := []domain.Trade{
		{OrderID: "O1", ExecTimestamp: ts(150), ExecPrice: d("10.1"), ExecQuantity: d("1"), Side: domain.SideBuy},
	}

	batch, err := NewJoiner(quotes, orders, 10, UnmatchedDrop).JoinWindow(trades)
	require.NoError(t, err)
	require.NotNil(t, batch.Fills[0].Quote)
	assert.Equal(t, ts(100), batch.Fills[0].Quote.Timestamp)
}

func TestJoiner_UnmatchedPolicies(t *testing.T) {
	quotes, orders, trades := abcFixture()
	trades = append(trades, domain.Trade{OrderID: "GHOST", ExecTimestamp: ts(160), Symbol: "ABC", Side: domain.SideBuy, Seq: 2})

	t.Run("drop", func(t *testing.T) {
		batch, err := NewJoiner(quotes, orders, 10, UnmatchedDrop).JoinWindow(trades)
		require.NoError(t, err)
		assert.Len(t, batch.Fills, 2)
		assert.Equal(t, 1, batch.Dropped)
		assert.Empty(t, batch.Unmatched)
	})

	t.Run("report", func(t *testing.T) {
		batch, err := NewJoiner(quotes, orders, 10, UnmatchedReport).JoinWindow(trades)
		require.NoError(t, err)
		assert.Len(t, batch.Fills, 2)
		require.Len(t, batch.Unmatched, 1)
		assert.Equal(t, "GHOST", batch.Unmatched[0].OrderID)
	})

	t.Run("fail", func(t *testing.T) {
		_, err := NewJoiner(quotes, orders, 10, UnmatchedFail).JoinWindow(trades)
		var uje *domain.UnmatchedJoinError
		require.ErrorAs(t, err, &uje)
		assert.Equal(t, "GHOST", uje.OrderID)
		assert.Equal(t, int64(2), uje.Seq)
	})
}

func TestParseUnmatchedPolicy(t *testing.T) {
	p, err := ParseUnmatchedPolicy("")
	require.NoError(t, err)
	assert.Equal(t, UnmatchedDrop, p)

	p, err = ParseUnmatchedPolicy("report")
	require.NoError(t, err)
	assert.Equal(t, UnmatchedReport, p)

	_, err = ParseUnmatchedPolicy("ignore")
	assert.Error(t, err)
}

func TestNewJoiner_Window(t *testing.T) {
	quotes, orders, _ := abcFixture()

	assert.Equal(t, DefaultWindowSize, NewJoiner(quotes, orders, 0, "").Window())
	assert.Equal(t, DefaultWindowSize, NewJoiner(quotes, orders, -3, "").Window())
	assert.Equal(t, 7, NewJoiner(quotes, orders, 7, UnmatchedFail).Window())
}

func TestChunkIterator_Windows(t *testing.T) {
	quotes, orders, trades := abcFixture()
	joiner := NewJoiner(quotes, orders, 1, UnmatchedDrop)
	it := joiner.Chunks(newSliceSource(trades))

	b0, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, b0.Index)
	assert.Len(t, b0.Fills, 1)

	b1, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, b1.Index)

	_, err = it.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = it.Next()
	assert.ErrorIs(t, err, io.EOF, "EOF is sticky")
}

type failingSource struct{ calls int }

func (f *failingSource) ReadWindow(int) ([]domain.Trade, error) {
	f.calls++
	return nil, &domain.MalformedInputError{Source: "trades.csv", Row: 3, Err: domain.ErrInvalidNumber}
}

func TestChunkIterator_ParseErrorAbortsRun(t *testing.T) {
	quotes, orders, _ := abcFixture()
	src := &failingSource{}
	it := NewJoiner(quotes, orders, 10, UnmatchedDrop).Chunks(src)

	err := it.Each(context.Background(), func(Batch) error { return nil })
	var mie *domain.MalformedInputError
	require.ErrorAs(t, err, &mie)

	_, err = it.Next()
	assert.ErrorAs(t, err, &mie)
	assert.Equal(t, 1, src.calls, "source is not read again after a fatal error")
}

func TestChunkIterator_ContextCancel(t *testing.T) {
	quotes, orders, trades := abcFixture()
	it := NewJoiner(quotes, orders, 1, UnmatchedDrop).Chunks(newSliceSource(trades))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := it.Each(ctx, func(Batch) error {
		calls++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// randomMarket builds a reproducible data set with several symbols, tied
// timestamps, trades before the first quote and unmatched order ids.
func randomMarket(seed int64) (*QuoteBook, *OrderBook, []domain.Trade) {
	rng := rand.New(rand.NewSource(seed))
	symbols := []string{"AAA", "BBB", "CCC"}

	var quotes []domain.Quote
	for i := 0; i < 300; i++ {
		bid := decimal.New(int64(1000+rng.Intn(50)), -2)
		quotes = append(quotes, domain.Quote{
			Symbol:    symbols[rng.Intn(len(symbols))],
			Timestamp: ts(int64(10 + rng.Intn(500))),
			Bid:       bid,
			Ask:       bid.Add(decimal.New(int64(1+rng.Intn(5)), -2)),
		})
	}

	var orders []domain.Order
	for i := 0; i < 40; i++ {
		side := domain.SideBuy
		if i%2 == 1 {
			side = domain.SideSell
		}
		orders = append(orders, domain.Order{
			ID:         fmt.Sprintf("O%02d", i),
			Symbol:     symbols[i%len(symbols)],
			Side:       side,
			Quantity:   decimal.NewFromInt(int64(rng.Intn(500))),
			LimitPrice: decimal.New(int64(1000+rng.Intn(50)), -2),
		})
	}

	var trades []domain.Trade
	for i := 0; i < 1000; i++ {
		o := orders[rng.Intn(len(orders))]
		id := o.ID
		if rng.Intn(20) == 0 {
			id = "UNKNOWN"
		}
		trades = append(trades, domain.Trade{
			OrderID:       id,
			ExecTimestamp: ts(int64(rng.Intn(520))),
			ExecPrice:     decimal.New(int64(1000+rng.Intn(50)), -2),
			ExecQuantity:  decimal.NewFromInt(int64(1 + rng.Intn(100))),
			Side:          o.Side,
			Symbol:        o.Symbol,
			Seq:           int64(i),
		})
	}
	return NewQuoteBook(quotes), NewOrderBook(orders), trades
}

func TestJoiner_ChunkSizeInvariance(t *testing.T) {
	quotes, orders, trades := randomMarket(42)

	run := func(window int) []domain.Fill {
		fills, _ := collect(t, NewJoiner(quotes, orders, window, UnmatchedDrop).Chunks(newSliceSource(trades)))
		return fills
	}

	reference := run(5000)
	require.NotEmpty(t, reference)

	for _, window := range []int{1, 7, 333} {
		got := run(window)
		require.Len(t, got, len(reference), "window %d", window)
		for i := range reference {
			assert.Equal(t, reference[i].Trade.Seq, got[i].Trade.Seq, "window %d row %d", window, i)
			assert.Equal(t, reference[i].Quote, got[i].Quote, "window %d row %d", window, i)
		}
	}

	assertSameSummaries(t, Summarize(reference), Summarize(run(1)))
}

func TestJoiner_Properties(t *testing.T) {
	quotes, orders, trades := randomMarket(7)
	fills, _ := collect(t, NewJoiner(quotes, orders, 64, UnmatchedDrop).Chunks(newSliceSource(trades)))

	for i, f := range fills {
		if f.Quote != nil {
			assert.False(t, f.Quote.Timestamp.After(f.Trade.ExecTimestamp), "row %d looks ahead", i)
			assert.Equal(t, f.Symbol(), f.Quote.Symbol, "row %d joined the wrong symbol", i)
		} else {
			_, ok := quotes.AsOf(f.Symbol(), f.Trade.ExecTimestamp)
			assert.False(t, ok, "row %d has a quote available but none joined", i)
		}
		if f.PIPerShare.Valid {
			assert.False(t, f.PIPerShare.Decimal.IsNegative(), "row %d negative pi", i)
		}
		assert.True(t, f.Slippage.Equal(f.Trade.ExecPrice.Sub(f.Order.LimitPrice).Abs()), "row %d slippage", i)
		if i > 0 {
			assert.False(t, lessByExecution(f.JoinedRow, fills[i-1].JoinedRow), "row %d out of order", i)
		}
	}
}
