// Package audit keeps a local history of lifecycle operations in an
// embedded sqlite database. The trail is advisory diagnostics; the
// registry document remains the only authoritative state.
package audit

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Outcome values for a recorded operation.
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeRolledBack = "rolled_back"
	OutcomeFatal      = "fatal"
)

// Record is one lifecycle operation as it completed.
type Record struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Op         string    `gorm:"size:32;index" json:"op"`
	DroneID    string    `gorm:"size:64;index" json:"droneId"`
	DroneName  string    `gorm:"size:128" json:"droneName"`
	Outcome    string    `gorm:"size:16;index" json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	DurationMS int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Log is an append-only operation trail.
type Log struct {
	db *gorm.DB
}

// Open opens (creating if needed) the audit database at path. Use
// ":memory:" for tests.
func Open(path string) (*Log, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Log{db: db}, nil
}

// Append writes one record. CreatedAt defaults to now.
func (l *Log) Append(rec Record) error {
	if rec.Op == "" {
		return fmt.Errorf("audit: op is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := l.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("audit: append %s: %w", rec.Op, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (l *Log) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []Record
	if err := l.db.Order("created_at DESC, id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	return recs, nil
}

// ForDrone returns records for one drone ID, newest first.
func (l *Log) ForDrone(droneID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []Record
	if err := l.db.Where("drone_id = ?", droneID).
		Order("created_at DESC, id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("audit: for drone %s: %w", droneID, err)
	}
	return recs, nil
}
