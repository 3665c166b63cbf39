package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"exec_quality/internal/domain"
)

// DefaultWindowSize is the number of trade rows read per window.
const DefaultWindowSize = 5000

// UnmatchedPolicy decides what happens to trades whose order_id is not in the order table.
type UnmatchedPolicy string

const (
	// UnmatchedDrop discards the trade (inner join).
	UnmatchedDrop UnmatchedPolicy = "drop"
	// UnmatchedFail aborts the run with *domain.UnmatchedJoinError.
	UnmatchedFail UnmatchedPolicy = "fail"
	// UnmatchedReport discards the trade from the fills but returns it in Batch.Unmatched.
	UnmatchedReport UnmatchedPolicy = "report"
)

// ParseUnmatchedPolicy validates a policy name. Empty means drop.
func ParseUnmatchedPolicy(raw string) (UnmatchedPolicy, error) {
	switch p := UnmatchedPolicy(raw); p {
	case "":
		return UnmatchedDrop, nil
	case UnmatchedDrop, UnmatchedFail, UnmatchedReport:
		return p, nil
	default:
		return "", fmt.Errorf("unknown unmatched policy %q", raw)
	}
}

// TradeSource yields trades in bounded windows.
// ReadWindow returns at most max trades and io.EOF once the source is exhausted.
type TradeSource interface {
	ReadWindow(max int) ([]domain.Trade, error)
}

// Batch is the joined and annotated output of one window.
type Batch struct {
	Index         int            // Zero-based window number
	TradesRead    int            // Rows read from the source for this window
	Fills         []domain.Fill  // Sorted by (exec_timestamp, symbol)
	Unmatched     []domain.Trade // Populated under UnmatchedReport only
	Dropped       int            // Trades without a parent order
	MissingQuotes int            // Fills without a quote at or before execution
}

// Joiner joins trade windows against the read-only quote and order tables.
type Joiner struct {
	quotes *QuoteBook
	orders *OrderBook
	window int
	policy UnmatchedPolicy
}

// NewJoiner creates a joiner. Non-positive windows fall back to DefaultWindowSize.
func NewJoiner(quotes *QuoteBook, orders *OrderBook, window int, policy UnmatchedPolicy) *Joiner {
	if window <= 0 {
		window = DefaultWindowSize
	}
	if policy == "" {
		policy = UnmatchedDrop
	}
	return &Joiner{quotes: quotes, orders: orders, window: window, policy: policy}
}

// Window returns the configured window size.
func (j *Joiner) Window() int {
	return j.window
}

// Chunks returns a lazy iterator over the trade source.
func (j *Joiner) Chunks(src TradeSource) *ChunkIterator {
	return &ChunkIterator{joiner: j, src: src}
}

// JoinWindow joins one window of trades. The input slice is not modified.
func (j *Joiner) JoinWindow(trades []domain.Trade) (Batch, error) {
	var batch Batch
	batch.TradesRead = len(trades)

	rows := make([]domain.JoinedRow, 0, len(trades))
	for _, t := range trades {
		order, ok := j.orders.Get(t.OrderID)
		if !ok {
			switch j.policy {
			case UnmatchedFail:
				return Batch{}, &domain.UnmatchedJoinError{OrderID: t.OrderID, Seq: t.Seq}
			case UnmatchedReport:
				batch.Unmatched = append(batch.Unmatched, t)
			}
			batch.Dropped++
			continue
		}
		rows = append(rows, domain.JoinedRow{Trade: t, Order: order})
	}

	SortRows(rows)

	batch.Fills = make([]domain.Fill, len(rows))
	for i := range rows {
		rows[i].Quote, _ = j.quotes.AsOf(rows[i].Symbol(), rows[i].Trade.ExecTimestamp)
		batch.Fills[i] = Annotate(rows[i])
		if batch.Fills[i].QuoteMissing {
			batch.MissingQuotes++
		}
	}
	return batch, nil
}

// SortRows orders joined rows by (exec_timestamp, symbol); ties keep their relative order.
func SortRows(rows []domain.JoinedRow) {
	sort.SliceStable(rows, func(a, b int) bool {
		return lessByExecution(rows[a], rows[b])
	})
}

// SortFills orders fills by (exec_timestamp, symbol); ties keep their relative order.
func SortFills(fills []domain.Fill) {
	sort.SliceStable(fills, func(a, b int) bool {
		return lessByExecution(fills[a].JoinedRow, fills[b].JoinedRow)
	})
}

func lessByExecution(a, b domain.JoinedRow) bool {
	if !a.Trade.ExecTimestamp.Equal(b.Trade.ExecTimestamp) {
		return a.Trade.ExecTimestamp.Before(b.Trade.ExecTimestamp)
	}
	return a.Symbol() < b.Symbol()
}

// ChunkIterator drives a Joiner over a TradeSource one window at a time.
// Only the current window is held in memory.
type ChunkIterator struct {
	joiner *Joiner
	src    TradeSource
	next   int
	err    error
}

// Next returns the next batch, io.EOF when the source is exhausted, or the first
// fatal error. After an error every call returns that same error.
func (it *ChunkIterator) Next() (Batch, error) {
	if it.err != nil {
		return Batch{}, it.err
	}

	trades, err := it.src.ReadWindow(it.joiner.window)
	if err != nil && !errors.Is(err, io.EOF) {
		it.err = err
		return Batch{}, err
	}
	if len(trades) == 0 {
		it.err = io.EOF
		return Batch{}, io.EOF
	}

	batch, jerr := it.joiner.JoinWindow(trades)
	if jerr != nil {
		it.err = jerr
		return Batch{}, jerr
	}
	batch.Index = it.next
	it.next++

	if errors.Is(err, io.EOF) {
		// Trades arrived alongside EOF; report EOF on the following call.
		it.err = io.EOF
	}
	return batch, nil
}

// Each calls fn for every batch until the source is exhausted, fn fails, or ctx is done.
func (it *ChunkIterator) Each(ctx context.Context, fn func(Batch) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}
