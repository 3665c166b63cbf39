package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is an NBBO snapshot for one symbol.
type Quote struct {
	Symbol    string
	Timestamp time.Time
	Bid       decimal.Decimal
	Ask       decimal.Decimal
}
