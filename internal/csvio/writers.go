package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"exec_quality/internal/domain"

	"github.com/shopspring/decimal"
)

// FillHeader is the column layout of the normalized fills file.
var FillHeader = []string{
	"order_id", "exec_timestamp", "exec_price", "exec_quantity", "side_trade", "symbol",
	"symbol_order", "side_order", "quantity", "limit_price", "timestamp_order",
	"timestamp_quote", "bid", "ask",
	"pi_per_share", "pi_dollars", "slippage", "quote_missing",
}

// SummaryHeader is the column layout of the order summary file.
var SummaryHeader = []string{
	"order_id", "total_order_qty", "filled_qty", "vwap", "total_pi_dollars", "fill_rate",
}

// WriteFills writes the header and one row per fill. Undefined values are empty cells.
func WriteFills(w io.Writer, fills []domain.Fill) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(FillHeader); err != nil {
		return err
	}

	rec := make([]string, len(FillHeader))
	for _, f := range fills {
		rec[0] = f.Trade.OrderID
		rec[1] = domain.FormatTimestamp(f.Trade.ExecTimestamp)
		rec[2] = f.Trade.ExecPrice.String()
		rec[3] = f.Trade.ExecQuantity.String()
		rec[4] = string(f.Trade.Side)
		rec[5] = f.Symbol()
		rec[6] = f.Order.Symbol
		rec[7] = string(f.Order.Side)
		rec[8] = f.Order.Quantity.String()
		rec[9] = f.Order.LimitPrice.String()
		rec[10] = domain.FormatTimestamp(f.Order.Timestamp)
		if ts, ok := f.QuoteTimestamp(); ok {
			rec[11] = domain.FormatTimestamp(ts)
			rec[12] = f.Quote.Bid.String()
			rec[13] = f.Quote.Ask.String()
		} else {
			rec[11], rec[12], rec[13] = "", "", ""
		}
		rec[14] = formatNull(f.PIPerShare)
		rec[15] = formatNull(f.PIDollars)
		rec[16] = f.Slippage.String()
		rec[17] = strconv.FormatBool(f.QuoteMissing)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteSummaries writes the header and one row per order summary.
func WriteSummaries(w io.Writer, summaries []domain.OrderSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryHeader); err != nil {
		return err
	}
	for _, s := range summaries {
		if err := cw.Write([]string{
			s.OrderID,
			s.TotalOrderQty.String(),
			s.FilledQty.String(),
			formatNull(s.VWAP),
			s.TotalPIDollars.String(),
			formatNull(s.FillRate),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSummaries parses an order summary file written by WriteSummaries.
func ReadSummaries(r io.Reader, source string) ([]domain.OrderSummary, error) {
	t, err := newTable(r, source, SummaryHeader)
	if err != nil {
		return nil, err
	}

	var result []domain.OrderSummary
	for {
		rec, err := t.next()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, err
		}

		s := domain.OrderSummary{OrderID: t.str(rec, "order_id")}
		if s.TotalOrderQty, err = t.decimal(rec, "total_order_qty"); err != nil {
			return nil, err
		}
		if s.FilledQty, err = t.decimal(rec, "filled_qty"); err != nil {
			return nil, err
		}
		if s.TotalPIDollars, err = t.decimal(rec, "total_pi_dollars"); err != nil {
			return nil, err
		}
		if s.VWAP, err = t.nullDecimal(rec, "vwap"); err != nil {
			return nil, err
		}
		if s.FillRate, err = t.nullDecimal(rec, "fill_rate"); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
}

func (t *table) nullDecimal(rec []string, col string) (decimal.NullDecimal, error) {
	if t.str(rec, col) == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := t.decimal(rec, col)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

func formatNull(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.String()
}

// WriteFileAtomic writes through a temp file in the target directory and renames
// it into place, so readers never observe a partially written file.
func WriteFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // No-op after a successful rename

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
