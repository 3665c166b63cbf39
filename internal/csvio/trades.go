package csvio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"exec_quality/internal/domain"
)

// TradeReader streams the trade feed in bounded windows.
// It implements engine.TradeSource.
type TradeReader struct {
	t         *table
	hasSymbol bool
	seq       int64
	closer    io.Closer
}

// NewTradeReader reads the header of a trade feed. The symbol column is optional;
// without it the order symbol is used for the quote lookup.
func NewTradeReader(r io.Reader, source string) (*TradeReader, error) {
	t, err := newTable(r, source, TradeColumns)
	if err != nil {
		return nil, err
	}
	return &TradeReader{t: t, hasSymbol: t.has("symbol")}, nil
}

// OpenTradeFile opens a trade feed on disk. Close releases the file.
func OpenTradeFile(path string) (*TradeReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trades: %w", err)
	}
	tr, err := NewTradeReader(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	tr.closer = f
	return tr, nil
}

// ReadWindow returns up to max trades. It returns io.EOF, possibly together with
// the final rows, once the feed is exhausted. Parse errors are fatal.
func (r *TradeReader) ReadWindow(max int) ([]domain.Trade, error) {
	window := make([]domain.Trade, 0, max)
	for len(window) < max {
		rec, err := r.t.next()
		if errors.Is(err, io.EOF) {
			return window, io.EOF
		}
		if err != nil {
			return nil, err
		}

		tr, err := r.parse(rec)
		if err != nil {
			return nil, err
		}
		window = append(window, tr)
	}
	return window, nil
}

func (r *TradeReader) parse(rec []string) (domain.Trade, error) {
	tr := domain.Trade{
		OrderID: r.t.str(rec, "order_id"),
		Seq:     r.seq,
	}
	var err error
	if tr.ExecTimestamp, err = r.t.timestamp(rec, "exec_timestamp"); err != nil {
		return tr, err
	}
	if tr.ExecPrice, err = r.t.decimal(rec, "exec_price"); err != nil {
		return tr, err
	}
	if tr.ExecQuantity, err = r.t.decimal(rec, "exec_quantity"); err != nil {
		return tr, err
	}
	if tr.Side, err = r.t.side(rec, "side"); err != nil {
		return tr, err
	}
	if r.hasSymbol {
		tr.Symbol = r.t.str(rec, "symbol")
	}
	r.seq++
	return tr, nil
}

// Rows returns the number of data rows consumed so far.
func (r *TradeReader) Rows() int {
	return r.t.row
}

// Close closes the underlying file when the reader owns one.
func (r *TradeReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
