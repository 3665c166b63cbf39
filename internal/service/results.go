package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"exec_quality/internal/csvio"
	"exec_quality/internal/domain"
)

// Results serves order summaries from the repository when one is configured,
// otherwise from the summary file of the latest completed run under outputDir.
type Results struct {
	repo      domain.ResultRepository
	outputDir string

	mu       sync.RWMutex
	latest   string // Summary file of the newest observed run
	latestAt time.Time
}

// NewResults creates a lookup. repo may be nil.
func NewResults(repo domain.ResultRepository, outputDir string) *Results {
	return &Results{repo: repo, outputDir: outputDir}
}

// Observe records a completed run. Lookups then read its summary file unless a
// run that finished later has already been observed.
func (r *Results) Observe(res *RunResult) {
	if res == nil || res.SummaryPath == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == "" || res.FinishedAt.After(r.latestAt) {
		r.latest = res.SummaryPath
		r.latestAt = res.FinishedAt
	}
}

// Get returns the summary of one order.
// Errors: domain.ErrNoRunYet, domain.ErrOrderNotFound.
func (r *Results) Get(ctx context.Context, orderID string) (*domain.OrderSummary, error) {
	if r.repo != nil {
		return r.repo.GetSummary(ctx, orderID)
	}

	summaries, err := r.readLatest()
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		if summaries[i].OrderID == orderID {
			return &summaries[i], nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

// Top returns up to limit orders ranked by total_pi_dollars, largest first.
func (r *Results) Top(ctx context.Context, limit int) ([]domain.OrderSummary, error) {
	if r.repo != nil {
		return r.repo.TopByPriceImprovement(ctx, limit)
	}

	summaries, err := r.readLatest()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if c := summaries[i].TotalPIDollars.Cmp(summaries[j].TotalPIDollars); c != 0 {
			return c > 0
		}
		return summaries[i].OrderID < summaries[j].OrderID
	})
	if limit > 0 && limit < len(summaries) {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// LatestSummaryPath returns the summary file lookups read, or domain.ErrNoRunYet.
func (r *Results) LatestSummaryPath() (string, error) {
	r.mu.RLock()
	latest := r.latest
	r.mu.RUnlock()
	if latest != "" {
		return latest, nil
	}
	return r.scanLatest()
}

// scanLatest picks the newest summary among the output root and its run
// directories. Summaries are renamed into place complete, so their
// modification time marks the end of the run that wrote them.
func (r *Results) scanLatest() (string, error) {
	candidates := []string{filepath.Join(r.outputDir, SummaryFile)}
	runs, err := filepath.Glob(filepath.Join(r.outputDir, RunsDir, "*", SummaryFile))
	if err != nil {
		return "", err
	}
	candidates = append(candidates, runs...)

	var (
		best    string
		bestMod time.Time
	)
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = path, info.ModTime()
		}
	}
	if best == "" {
		return "", domain.ErrNoRunYet
	}
	return best, nil
}

func (r *Results) readLatest() ([]domain.OrderSummary, error) {
	path, err := r.LatestSummaryPath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNoRunYet
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return csvio.ReadSummaries(f, path)
}
