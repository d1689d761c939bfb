package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database persists trading state so a restart can recover open positions
// and the session's risk standing.
type Database struct {
	db *gorm.DB
}

// Models

// PositionRecord mirrors a portfolio position plus the prediction terms it
// was opened under, so lifecycle tracking can be rebuilt after a crash.
type PositionRecord struct {
	ID            string `gorm:"primaryKey"`
	Symbol        string `gorm:"index"`
	Side          string
	Size          decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryPrice    decimal.Decimal `gorm:"type:decimal(20,8)"`
	CurrentPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	UnrealizedPnL decimal.Decimal `gorm:"type:decimal(20,8)"`
	RealizedPnL   decimal.Decimal `gorm:"type:decimal(20,8)"`
	Status        string          `gorm:"index"`

	Confidence     float64
	ExpectedReturn float64
	RiskScore      float64
	TimeHorizonSec int64

	OpenedAt   time.Time
	ClosedAt   *time.Time
	ExitReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TradeRecord is an append-only log of fills
type TradeRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	PositionID string `gorm:"index"`
	Symbol     string
	Side       string
	Action     string // OPEN, CLOSE, PARTIAL_CLOSE
	Price      decimal.Decimal `gorm:"type:decimal(20,8)"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,8)"`
	PnL        decimal.Decimal `gorm:"type:decimal(20,8)"`
	Reason     string
	CreatedAt  time.Time
}

// ReconciliationRun summarizes one reconciliation pass
type ReconciliationRun struct {
	ID            string `gorm:"primaryKey"` // engine run id
	IsConsistent  bool
	Critical      bool
	Discrepancies int
	RiskLevel     string
	TotalImpact   decimal.Decimal `gorm:"type:decimal(20,8)"`
	Halted        bool
	CreatedAt     time.Time
}

// SessionState is the per-day risk standing, upserted on every change
type SessionState struct {
	Date              string `gorm:"primaryKey"` // 2006-01-02
	Equity            decimal.Decimal `gorm:"type:decimal(20,8)"`
	AvailableBalance  decimal.Decimal `gorm:"type:decimal(20,8)"`
	LockedProfits     decimal.Decimal `gorm:"type:decimal(20,8)"`
	TotalPnL          decimal.Decimal `gorm:"type:decimal(20,8)"`
	DayPnL            decimal.Decimal `gorm:"type:decimal(20,8)"`
	ConsecutiveLosses int
	Halted            bool
	UpdatedAt         time.Time
}

// New opens the database. A postgres:// URL selects PostgreSQL; anything
// else is treated as a SQLite file path.
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("postgres open failed: %w", err)
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database dir: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(dbPath), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		log.Info().Str("path", dbPath).Msg("💾 Database connected (SQLite)")
	}

	if err := db.AutoMigrate(
		&PositionRecord{},
		&TradeRecord{},
		&ReconciliationRun{},
		&SessionState{},
	); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &Database{db: db}, nil
}

// SavePosition upserts a position record
func (d *Database) SavePosition(rec *PositionRecord) error {
	return d.db.Save(rec).Error
}

// GetOpenPositions returns all persisted OPEN positions for recovery
func (d *Database) GetOpenPositions() ([]PositionRecord, error) {
	var records []PositionRecord
	err := d.db.Where("status = ?", "OPEN").Order("opened_at").Find(&records).Error
	return records, err
}

// LogTrade appends a fill to the trade log
func (d *Database) LogTrade(rec *TradeRecord) error {
	if err := d.db.Create(rec).Error; err != nil {
		log.Error().Err(err).Str("position_id", rec.PositionID).Msg("Failed to log trade")
		return err
	}
	return nil
}

// RecentTrades returns the latest fills, newest first
func (d *Database) RecentTrades(limit int) ([]TradeRecord, error) {
	var records []TradeRecord
	err := d.db.Order("created_at desc").Limit(limit).Find(&records).Error
	return records, err
}

// SaveReconciliationRun records a reconciliation summary
func (d *Database) SaveReconciliationRun(rec *ReconciliationRun) error {
	return d.db.Create(rec).Error
}

// RecentReconciliationRuns returns the latest runs, newest first
func (d *Database) RecentReconciliationRuns(limit int) ([]ReconciliationRun, error) {
	var records []ReconciliationRun
	err := d.db.Order("created_at desc").Limit(limit).Find(&records).Error
	return records, err
}

// SaveSessionState upserts today's risk standing
func (d *Database) SaveSessionState(state *SessionState) error {
	state.UpdatedAt = time.Now()
	return d.db.Save(state).Error
}

// GetSessionState returns the state for a date, nil when absent
func (d *Database) GetSessionState(date string) (*SessionState, error) {
	var state SessionState
	err := d.db.First(&state, "date = ?", date).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Close releases the underlying connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
