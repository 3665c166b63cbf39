package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"exec_quality/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const batchSize = 500

// Storage persists run outputs. It implements domain.ResultRepository.
type Storage struct {
	db *gorm.DB
}

var _ domain.ResultRepository = (*Storage)(nil)

// Open connects to the configured database and migrates the schema.
// driver is "sqlite" or "postgres"; an empty sqlite dsn means the per-user data dir.
func Open(driver, dsn string) (*Storage, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dbPath, err := getDBPath()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve DB path: %w", err)
			}
			dsn = dbPath
		}

		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return newStorage(db)
}

func newStorage(db *gorm.DB) (*Storage, error) {
	// Auto Migration
	if err := db.AutoMigrate(&FillRecord{}, &SummaryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "ExecQuality", "data", "etl.db"), nil
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Write Operations
// ======================================================================================

// SaveFills upserts fills keyed by (order_id, exec_timestamp, seq).
func (s *Storage) SaveFills(ctx context.Context, runID string, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	records := make([]FillRecord, len(fills))
	for i, f := range fills {
		records[i] = newFillRecord(runID, f)
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(records, batchSize).Error
}

// SaveSummaries upserts summaries keyed by order_id.
func (s *Storage) SaveSummaries(ctx context.Context, runID string, summaries []domain.OrderSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	records := make([]SummaryRecord, len(summaries))
	for i, sm := range summaries {
		records[i] = newSummaryRecord(runID, sm)
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(records, batchSize).Error
}

// ======================================================================================
// Read Operations
// ======================================================================================

// GetSummary returns the stored summary for orderID or domain.ErrOrderNotFound.
func (s *Storage) GetSummary(ctx context.Context, orderID string) (*domain.OrderSummary, error) {
	var rec SummaryRecord
	err := s.db.WithContext(ctx).First(&rec, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	sm := rec.toDomain()
	return &sm, nil
}

// TopByPriceImprovement returns up to limit summaries with the largest total_pi_dollars.
func (s *Storage) TopByPriceImprovement(ctx context.Context, limit int) ([]domain.OrderSummary, error) {
	var recs []SummaryRecord
	q := s.db.WithContext(ctx).
		Order("total_pi_dollars DESC").
		Order("order_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.OrderSummary, len(recs))
	for i, r := range recs {
		out[i] = r.toDomain()
	}
	return out, nil
}

// CountFills returns the number of stored fills for an order.
func (s *Storage) CountFills(ctx context.Context, orderID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&FillRecord{}).Where("order_id = ?", orderID).Count(&n).Error
	return n, err
}
