// Package ledger keeps an audit trail of processed deliveries.
package ledger

import (
	"context"
	"fmt"

	"github.com/lgulliver/revvault/pkg/config"
	"github.com/lgulliver/revvault/pkg/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultLimit = 50

// Store wraps the GORM database connection
type Store struct {
	*gorm.DB
}

// Open connects to the configured database
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dialector = postgres.Open(cfg.DatabaseURL())
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{DB: db}, nil
}

// NewStore wraps an existing connection
func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Migrate runs database migrations
func (s *Store) Migrate() error {
	return s.AutoMigrate(&types.DeliveryRecord{})
}

// Record appends one delivery
func (s *Store) Record(ctx context.Context, record *types.DeliveryRecord) error {
	if err := s.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// Recent returns the newest deliveries matching filter, newest first
func (s *Store) Recent(ctx context.Context, filter types.DeliveryFilter) ([]types.DeliveryRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	query := s.WithContext(ctx).Model(&types.DeliveryRecord{})
	if filter.Name != "" {
		query = query.Where("name = ?", filter.Name)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}

	var records []types.DeliveryRecord
	if err := query.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	return records, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
