package csvio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"exec_quality/internal/domain"
	"exec_quality/internal/engine"
)

// Required columns per feed.
var (
	QuoteColumns = []string{"symbol", "timestamp", "bid", "ask"}
	OrderColumns = []string{"order_id", "symbol", "side", "quantity", "limit_price", "timestamp"}
	TradeColumns = []string{"order_id", "exec_timestamp", "exec_price", "exec_quantity", "side"}
)

// LoadQuotes reads the whole quote feed and returns it sorted by (symbol, timestamp).
func LoadQuotes(r io.Reader, source string) (*engine.QuoteBook, error) {
	t, err := newTable(r, source, QuoteColumns)
	if err != nil {
		return nil, err
	}

	var quotes []domain.Quote
	for {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		q := domain.Quote{Symbol: t.str(rec, "symbol")}
		if q.Timestamp, err = t.timestamp(rec, "timestamp"); err != nil {
			return nil, err
		}
		if q.Bid, err = t.decimal(rec, "bid"); err != nil {
			return nil, err
		}
		if q.Ask, err = t.decimal(rec, "ask"); err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return engine.NewQuoteBook(quotes), nil
}

// LoadOrders reads the whole order feed. Duplicate order ids are kept.
func LoadOrders(r io.Reader, source string) (*engine.OrderBook, error) {
	t, err := newTable(r, source, OrderColumns)
	if err != nil {
		return nil, err
	}

	var orders []domain.Order
	for {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		o := domain.Order{
			ID:     t.str(rec, "order_id"),
			Symbol: t.str(rec, "symbol"),
		}
		if o.Side, err = t.side(rec, "side"); err != nil {
			return nil, err
		}
		if o.Quantity, err = t.decimal(rec, "quantity"); err != nil {
			return nil, err
		}
		if o.LimitPrice, err = t.decimal(rec, "limit_price"); err != nil {
			return nil, err
		}
		if o.Timestamp, err = t.timestamp(rec, "timestamp"); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return engine.NewOrderBook(orders), nil
}

// LoadQuotesFile opens path and loads the quote feed from it.
func LoadQuotesFile(path string) (*engine.QuoteBook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open quotes: %w", err)
	}
	defer f.Close()
	return LoadQuotes(f, path)
}

// LoadOrdersFile opens path and loads the order feed from it.
func LoadOrdersFile(path string) (*engine.OrderBook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	defer f.Close()
	return LoadOrders(f, path)
}
