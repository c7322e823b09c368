package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zbysir/vscheduler"
)

// DispatchRecord is one sweep outcome for one entry.
type DispatchRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Key        string    `gorm:"index;size:512;not null" json:"key"`
	DueAt      int64     `json:"due_at"`
	TargetType string    `gorm:"index:idx_target;size:128" json:"target_type"`
	MethodName string    `gorm:"size:128" json:"method_name"`
	TargetID   string    `gorm:"index:idx_target;size:128" json:"target_id"`
	Outcome    string    `gorm:"index;size:16;not null" json:"outcome"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	At         time.Time `gorm:"index;not null" json:"at"`
}

func (DispatchRecord) TableName() string { return "vscheduler_dispatches" }

// Store is a vscheduler.Journal backed by a sql database.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at dsn, ":memory:" included.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway, and every ":memory:" connection would be its own database
	sqlDB.SetMaxOpenConns(1)
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&DispatchRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, e vscheduler.JournalEntry) error {
	r := DispatchRecord{
		Key:        e.Key,
		DueAt:      e.Task.DueAt,
		TargetType: e.Task.TargetType,
		MethodName: e.Task.MethodName,
		TargetID:   e.Task.TargetID,
		Outcome:    string(e.Outcome),
		Error:      e.Error,
		At:         e.At,
	}
	return s.db.WithContext(ctx).Create(&r).Error
}

type Filter struct {
	TargetType string
	TargetID   string
	Outcome    string
	// Limit defaults to 100.
	Limit int
}

// List returns the newest records first.
func (s *Store) List(ctx context.Context, f Filter) ([]DispatchRecord, error) {
	q := s.db.WithContext(ctx).Model(&DispatchRecord{})
	if f.TargetType != "" {
		q = q.Where("target_type = ?", f.TargetType)
	}
	if f.TargetID != "" {
		q = q.Where("target_id = ?", f.TargetID)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var rs []DispatchRecord
	err := q.Order("at desc").Order("id desc").Limit(limit).Find(&rs).Error
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// Prune deletes records older than before and returns how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).Where("at < ?", before).Delete(&DispatchRecord{})
	return tx.RowsAffected, tx.Error
}

func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

var _ vscheduler.Journal = (*Store)(nil)
