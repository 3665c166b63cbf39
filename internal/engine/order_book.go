package engine

import (
	"exec_quality/internal/domain"
)

// OrderBook is the in-memory order table keyed by order_id.
// Duplicate order ids are kept as loaded; lookups resolve to the first occurrence.
type OrderBook struct {
	orders     []domain.Order
	byID       map[string]int
	duplicates []string
}

// NewOrderBook indexes the orders by id.
func NewOrderBook(orders []domain.Order) *OrderBook {
	book := &OrderBook{
		orders: orders,
		byID:   make(map[string]int, len(orders)),
	}
	for i, o := range orders {
		if _, exists := book.byID[o.ID]; exists {
			book.duplicates = append(book.duplicates, o.ID)
			continue
		}
		book.byID[o.ID] = i
	}
	return book
}

// Get returns the order with the given id.
func (b *OrderBook) Get(id string) (domain.Order, bool) {
	i, ok := b.byID[id]
	if !ok {
		return domain.Order{}, false
	}
	return b.orders[i], true
}

// Len returns the number of rows, duplicates included.
func (b *OrderBook) Len() int {
	return len(b.orders)
}

// Duplicates lists every order id seen more than once, once per extra row.
func (b *OrderBook) Duplicates() []string {
	return b.duplicates
}
