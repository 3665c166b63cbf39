package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or an execution.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes a raw side value. Only BUY and SELL are accepted.
func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(raw))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, raw)
	}
}

// Order is one row of the order table.
// Quantity and LimitPrice come from the order source and never change afterwards.
type Order struct {
	ID         string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
	Timestamp  time.Time
}

// Trade is a single execution reported against an order.
type Trade struct {
	OrderID       string
	ExecTimestamp time.Time
	ExecPrice     decimal.Decimal
	ExecQuantity  decimal.Decimal
	Side          Side
	Symbol        string // Empty when the trade source carries no symbol column
	Seq           int64  // Zero-based row position in the trade source
}
