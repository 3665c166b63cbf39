package domain

import (
	"context"
)

// ResultRepository persists the outputs of a run and serves order lookups.
type ResultRepository interface {
	SaveFills(ctx context.Context, runID string, fills []Fill) error
	SaveSummaries(ctx context.Context, runID string, summaries []OrderSummary) error
	GetSummary(ctx context.Context, orderID string) (*OrderSummary, error)
	TopByPriceImprovement(ctx context.Context, limit int) ([]OrderSummary, error)
}
