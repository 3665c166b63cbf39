package csvio

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"exec_quality/internal/domain"
	"exec_quality/internal/engine"

	"github.com/shopspring/decimal"
)

const quotesCSV = `symbol,timestamp,bid,ask
ABC,200,10.1,10.3
ABC,100,10.0,10.2
XYZ,2024-01-02 09:30:00,5.00,5.01
`

const ordersCSV = `order_id,symbol,side,quantity,limit_price,timestamp
O1,ABC,BUY,100,10.15,90
O2,XYZ,sell,10,5,2024-01-02T09:29:00Z
O1,ABC,BUY,999,1,91
`

const tradesCSV = `order_id,exec_timestamp,exec_price,exec_quantity,side,symbol
O1,150,10.1,50,BUY,ABC
O1,250,10.2,50,BUY,ABC
O2,2024-01-02 09:31:00,5.02,10,SELL,XYZ
`

func TestLoadQuotes(t *testing.T) {
	book, err := LoadQuotes(strings.NewReader(quotesCSV), "nbbo.csv")
	if err != nil {
		t.Fatalf("LoadQuotes failed: %v", err)
	}
	if book.Len() != 3 {
		t.Fatalf("expected 3 quotes, got %d", book.Len())
	}

	q := book.Quotes()
	if q[0].Symbol != "ABC" || !q[0].Timestamp.Equal(time.Unix(100, 0)) {
		t.Errorf("first quote should be ABC@100, got %s@%v", q[0].Symbol, q[0].Timestamp)
	}
	if !q[2].Ask.Equal(decimal.RequireFromString("5.01")) {
		t.Errorf("expected ask 5.01, got %s", q[2].Ask)
	}
}

func TestLoadQuotes_Malformed(t *testing.T) {
	t.Run("missing column", func(t *testing.T) {
		_, err := LoadQuotes(strings.NewReader("symbol,timestamp,bid\nABC,1,2\n"), "nbbo.csv")

		var mie *domain.MalformedInputError
		if !errors.As(err, &mie) {
			t.Fatalf("expected MalformedInputError, got %v", err)
		}
		if mie.Column != "ask" || mie.Source != "nbbo.csv" {
			t.Errorf("unexpected error detail: %+v", mie)
		}
		if !errors.Is(err, domain.ErrMissingColumn) {
			t.Error("expected ErrMissingColumn")
		}
	})

	t.Run("bad timestamp", func(t *testing.T) {
		_, err := LoadQuotes(strings.NewReader("symbol,timestamp,bid,ask\nABC,1,2,3\nABC,soon,2,3\n"), "nbbo.csv")

		var mie *domain.MalformedInputError
		if !errors.As(err, &mie) {
			t.Fatalf("expected MalformedInputError, got %v", err)
		}
		if mie.Row != 2 || mie.Column != "timestamp" {
			t.Errorf("expected row 2 column timestamp, got row %d column %q", mie.Row, mie.Column)
		}
	})

	t.Run("bad price", func(t *testing.T) {
		_, err := LoadQuotes(strings.NewReader("symbol,timestamp,bid,ask\nABC,1,two,3\n"), "nbbo.csv")
		if !errors.Is(err, domain.ErrInvalidNumber) {
			t.Errorf("expected ErrInvalidNumber, got %v", err)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := LoadQuotes(strings.NewReader(""), "nbbo.csv")
		var mie *domain.MalformedInputError
		if !errors.As(err, &mie) {
			t.Errorf("expected MalformedInputError, got %v", err)
		}
	})
}

func TestLoadOrders(t *testing.T) {
	book, err := LoadOrders(strings.NewReader(ordersCSV), "orders.csv")
	if err != nil {
		t.Fatalf("LoadOrders failed: %v", err)
	}
	if book.Len() != 3 {
		t.Errorf("duplicates must be passed through, got %d rows", book.Len())
	}
	if len(book.Duplicates()) != 1 {
		t.Errorf("expected one duplicate id, got %v", book.Duplicates())
	}

	o2, ok := book.Get("O2")
	if !ok {
		t.Fatal("O2 should exist")
	}
	if o2.Side != domain.SideSell {
		t.Errorf("side should be normalized to SELL, got %s", o2.Side)
	}
}

func TestLoadOrders_MissingColumn(t *testing.T) {
	_, err := LoadOrders(strings.NewReader("order_id,symbol,side,quantity,timestamp\n"), "orders.csv")

	var mie *domain.MalformedInputError
	if !errors.As(err, &mie) || mie.Column != "limit_price" {
		t.Fatalf("expected missing limit_price, got %v", err)
	}
}

func TestTradeReader_Windows(t *testing.T) {
	r, err := NewTradeReader(strings.NewReader(tradesCSV), "trades.csv")
	if err != nil {
		t.Fatalf("NewTradeReader failed: %v", err)
	}

	w1, err := r.ReadWindow(2)
	if err != nil || len(w1) != 2 {
		t.Fatalf("first window: got %d rows, err %v", len(w1), err)
	}
	if w1[1].Seq != 1 || w1[1].Symbol != "ABC" {
		t.Errorf("unexpected second trade: %+v", w1[1])
	}

	w2, err := r.ReadWindow(2)
	if !errors.Is(err, io.EOF) || len(w2) != 1 {
		t.Fatalf("second window: got %d rows, err %v", len(w2), err)
	}
	if w2[0].Seq != 2 || w2[0].Side != domain.SideSell {
		t.Errorf("unexpected last trade: %+v", w2[0])
	}

	w3, err := r.ReadWindow(2)
	if !errors.Is(err, io.EOF) || len(w3) != 0 {
		t.Errorf("expected empty EOF window, got %d rows, err %v", len(w3), err)
	}
	if r.Rows() != 3 {
		t.Errorf("expected 3 rows consumed, got %d", r.Rows())
	}
}

func TestTradeReader_OptionalSymbol(t *testing.T) {
	r, err := NewTradeReader(strings.NewReader("order_id,exec_timestamp,exec_price,exec_quantity,side\nO1,150,10.1,50,BUY\n"), "trades.csv")
	if err != nil {
		t.Fatalf("NewTradeReader failed: %v", err)
	}
	w, _ := r.ReadWindow(10)
	if len(w) != 1 || w[0].Symbol != "" {
		t.Errorf("expected one trade without symbol, got %+v", w)
	}
}

func TestTradeReader_BadRow(t *testing.T) {
	r, err := NewTradeReader(strings.NewReader("order_id,exec_timestamp,exec_price,exec_quantity,side\nO1,150,10.1,50,BUY\nO1,151,x,50,BUY\n"), "trades.csv")
	if err != nil {
		t.Fatalf("NewTradeReader failed: %v", err)
	}
	_, err = r.ReadWindow(10)

	var mie *domain.MalformedInputError
	if !errors.As(err, &mie) || mie.Row != 2 || mie.Column != "exec_price" {
		t.Fatalf("expected exec_price error on row 2, got %v", err)
	}
}

func TestWriteFills_NullCells(t *testing.T) {
	quotes, err := LoadQuotes(strings.NewReader(quotesCSV), "nbbo.csv")
	if err != nil {
		t.Fatal(err)
	}
	orders, err := LoadOrders(strings.NewReader(ordersCSV), "orders.csv")
	if err != nil {
		t.Fatal(err)
	}
	trades := []domain.Trade{{OrderID: "O1", ExecTimestamp: time.Unix(50, 0).UTC(), ExecPrice: decimal.RequireFromString("10.1"), ExecQuantity: decimal.NewFromInt(1), Side: domain.SideBuy, Symbol: "ABC"}}

	batch, err := engine.NewJoiner(quotes, orders, 10, engine.UnmatchedDrop).JoinWindow(trades)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteFills(&buf, batch.Fills); err != nil {
		t.Fatalf("WriteFills failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	want := "O1,1970-01-01T00:00:50Z,10.1,1,BUY,ABC,ABC,BUY,100,10.15,1970-01-01T00:01:30Z,,,,,,0.05,true"
	if lines[1] != want {
		t.Errorf("row = %q\nwant  %q", lines[1], want)
	}
}

func TestSummaries_RoundTrip(t *testing.T) {
	in := []domain.OrderSummary{
		{
			OrderID:        "O1",
			TotalOrderQty:  decimal.NewFromInt(100),
			FilledQty:      decimal.NewFromInt(100),
			VWAP:           decimal.NewNullDecimal(decimal.RequireFromString("10.15")),
			TotalPIDollars: decimal.NewFromInt(10),
			FillRate:       decimal.NewNullDecimal(decimal.NewFromInt(1)),
		},
		{OrderID: "Z", TotalOrderQty: decimal.Zero, FilledQty: decimal.NewFromInt(5), VWAP: decimal.NewNullDecimal(decimal.NewFromInt(3))},
	}

	path := filepath.Join(t.TempDir(), "out", "order_summary.csv")
	err := WriteFileAtomic(path, func(w io.Writer) error { return WriteSummaries(w, in) })
	if err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "Z,0,5,3,0,\n") {
		t.Errorf("zero-quantity fill_rate should be an empty cell:\n%s", raw)
	}

	out, err := ReadSummaries(bytes.NewReader(raw), path)
	if err != nil {
		t.Fatalf("ReadSummaries failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(out))
	}
	if !out[0].VWAP.Decimal.Equal(decimal.RequireFromString("10.15")) {
		t.Errorf("vwap = %s", out[0].VWAP.Decimal)
	}
	if out[1].FillRate.Valid {
		t.Error("fill_rate should be invalid after reading an empty cell")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
