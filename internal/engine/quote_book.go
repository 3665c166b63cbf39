package engine

import (
	"sort"
	"time"

	"exec_quality/internal/domain"
)

// QuoteBook is the in-memory quote table, ordered by (symbol, timestamp).
// It is immutable after construction and safe for concurrent readers.
type QuoteBook struct {
	quotes   []domain.Quote
	bySymbol map[string][]domain.Quote // Sub-slices of quotes, one per symbol
}

// NewQuoteBook sorts the quotes by (symbol, timestamp) with a stable sort, so
// quotes sharing a timestamp keep their input order. The input slice is not modified.
func NewQuoteBook(quotes []domain.Quote) *QuoteBook {
	sorted := make([]domain.Quote, len(quotes))
	copy(sorted, quotes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Symbol != sorted[j].Symbol {
			return sorted[i].Symbol < sorted[j].Symbol
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	bySymbol := make(map[string][]domain.Quote)
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || sorted[i].Symbol != sorted[start].Symbol {
			bySymbol[sorted[start].Symbol] = sorted[start:i:i]
			start = i
		}
	}

	return &QuoteBook{quotes: sorted, bySymbol: bySymbol}
}

// Len returns the number of quotes.
func (b *QuoteBook) Len() int {
	return len(b.quotes)
}

// Quotes returns the sorted table. Callers must not modify it.
func (b *QuoteBook) Quotes() []domain.Quote {
	return b.quotes
}

// Symbols returns the number of distinct symbols.
func (b *QuoteBook) Symbols() int {
	return len(b.bySymbol)
}

// AsOf returns the quote with the greatest timestamp <= at for the symbol.
// Among quotes sharing that timestamp the one latest in input order wins.
// It never looks past at.
func (b *QuoteBook) AsOf(symbol string, at time.Time) (*domain.Quote, bool) {
	series := b.bySymbol[symbol]
	// First index strictly after at; the match sits right before it.
	idx := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp.After(at)
	})
	if idx == 0 {
		return nil, false
	}
	q := series[idx-1]
	return &q, true
}
