package database

import (
	"errors"
	"fmt"
	"strings"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// allModels lists every table owned by the terminal.
var allModels = []any{&models.Trade{}, &models.Leg{}, &models.Adjustment{}, &models.DailySummary{}}

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(cfg config.Database) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Every pooled connection to an in-memory sqlite gets its own empty database.
	if strings.Contains(cfg.DSN, ":memory:") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := AutoMigrate(db, cfg.ResetOnStart); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates the tables, optionally dropping existing history first.
func AutoMigrate(db *gorm.DB, reset bool) error {
	if reset {
		if err := db.Migrator().DropTable(allModels...); err != nil {
			return fmt.Errorf("failed to drop tables: %w", err)
		}
	}

	if err := db.AutoMigrate(allModels...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps the trade history queries used across the terminal.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store over an open database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// CreateTrade inserts a trade together with its legs.
func (s *Store) CreateTrade(trade *models.Trade) error {
	if err := s.db.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// SaveTrade updates the trade row only; legs are saved separately.
func (s *Store) SaveTrade(trade *models.Trade) error {
	if err := s.db.Omit("Legs").Save(trade).Error; err != nil {
		return fmt.Errorf("failed to save trade %d: %w", trade.ID, err)
	}
	return nil
}

// SaveLeg inserts or updates a single leg.
func (s *Store) SaveLeg(leg *models.Leg) error {
	if err := s.db.Save(leg).Error; err != nil {
		return fmt.Errorf("failed to save leg: %w", err)
	}
	return nil
}

// GetTrade loads a trade and its legs.
func (s *Store) GetTrade(id uint) (*models.Trade, error) {
	var trade models.Trade
	err := s.db.Preload("Legs").First(&trade, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %d: %w", id, err)
	}
	return &trade, nil
}

// OpenTrades returns every trade still marked OPEN, oldest first.
func (s *Store) OpenTrades() ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.Preload("Legs").Where("status = ?", models.StatusOpen).Order("id asc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to get open trades: %w", err)
	}
	return trades, nil
}

// AllTrades returns the full trade log, most recent first.
func (s *Store) AllTrades() ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.Order("id desc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	return trades, nil
}

// TradesOn returns the trades entered on a given date.
func (s *Store) TradesOn(date string) ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.Where("trade_date = ?", date).Order("id asc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to get trades for %s: %w", date, err)
	}
	return trades, nil
}

// AddAdjustment records a gamma-defence action.
func (s *Store) AddAdjustment(adj *models.Adjustment) error {
	if err := s.db.Create(adj).Error; err != nil {
		return fmt.Errorf("failed to record adjustment: %w", err)
	}
	return nil
}

// AdjustmentsForTrade returns the adjustments applied to one trade.
func (s *Store) AdjustmentsForTrade(tradeID uint) ([]models.Adjustment, error) {
	var adjs []models.Adjustment
	if err := s.db.Where("trade_id = ?", tradeID).Order("id asc").Find(&adjs).Error; err != nil {
		return nil, fmt.Errorf("failed to get adjustments for trade %d: %w", tradeID, err)
	}
	return adjs, nil
}

// UpsertDailySummary stores the summary for its date, replacing any earlier one.
func (s *Store) UpsertDailySummary(summary *models.DailySummary) error {
	var existing models.DailySummary
	err := s.db.Where("trade_date = ?", summary.TradeDate).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.db.Create(summary).Error
	case err != nil:
		return fmt.Errorf("failed to look up summary: %w", err)
	}
	summary.ID = existing.ID
	summary.CreatedAt = existing.CreatedAt
	if err := s.db.Save(summary).Error; err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	return nil
}

// DailySummaries returns every stored summary, most recent first.
func (s *Store) DailySummaries() ([]models.DailySummary, error) {
	var out []models.DailySummary
	if err := s.db.Order("trade_date desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to get daily summaries: %w", err)
	}
	return out, nil
}
