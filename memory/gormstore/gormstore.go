// Package gormstore archives collapsed steps in a SQL database through gorm.
// SQLite (pure Go), MySQL and PostgreSQL dialects are supported.
package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/memory"
)

// Config selects the SQL dialect and connection string.
type Config struct {
	Driver string `yaml:"driver" json:"driver"` // sqlite, mysql or postgres
	DSN    string `yaml:"dsn" json:"dsn"`
	// Verbose enables gorm's SQL logging.
	Verbose bool `yaml:"verbose" json:"verbose"`
}

// StepRow is the persisted row of an archived step.
type StepRow struct {
	ID             uint   `gorm:"primaryKey"`
	LoopID         string `gorm:"size:64;index:idx_loop_step,priority:1;not null"`
	StepIndex      int    `gorm:"index:idx_loop_step,priority:2;not null"`
	Action         string `gorm:"type:text"`
	Tool           string `gorm:"size:128"`
	Outcome        string `gorm:"size:64"`
	Result         string `gorm:"type:text"`
	ErrKind        string `gorm:"size:64"`
	ErrMessage     string `gorm:"type:text"`
	ErrRecoverable bool
	Attempts       int
	Timestamp      int64
	Content        string `gorm:"type:text"`
	CreatedAt      time.Time
}

// TableName implements gorm's tabler.
func (StepRow) TableName() string { return "archived_steps" }

// Archive implements core.Archive on a gorm database.
type Archive struct {
	db    *gorm.DB
	owned bool
}

var _ core.Archive = (*Archive)(nil)

// Open connects using cfg and migrates the schema.
func Open(cfg Config) (*Archive, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("gormstore: unsupported database driver: %s (supported: sqlite, mysql, postgres)", cfg.Driver)
	}

	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if cfg.Verbose {
		gcfg.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("gormstore: failed to connect database: %w", err)
	}

	a, err := New(db)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	a.owned = true
	return a, nil
}

// New wraps an existing connection and migrates the schema. Close does not
// close a connection it did not open.
func New(db *gorm.DB) (*Archive, error) {
	if err := db.AutoMigrate(&StepRow{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return &Archive{db: db}, nil
}

// Store inserts steps in one batch.
func (a *Archive) Store(ctx context.Context, loopID string, steps []core.ArchivedStep) error {
	if len(steps) == 0 {
		return nil
	}
	rows := make([]StepRow, 0, len(steps))
	for _, s := range steps {
		s.LoopID = loopID
		rows = append(rows, toRow(s))
	}
	if err := a.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("gormstore: store: %w", err)
	}
	return nil
}

// List returns archived steps ordered by index.
func (a *Archive) List(ctx context.Context, loopID string) ([]core.ArchivedStep, error) {
	var rows []StepRow
	if err := a.db.WithContext(ctx).
		Where("loop_id = ?", loopID).
		Order("step_index ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list: %w", err)
	}
	out := make([]core.ArchivedStep, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Search matches the rendered step text case-insensitively, most recent first.
func (a *Archive) Search(ctx context.Context, loopID, query string, limit int) ([]core.SearchResult, error) {
	q := a.db.WithContext(ctx).Where("loop_id = ?", loopID)
	if query != "" {
		q = q.Where("LOWER(content) LIKE ?", "%"+strings.ToLower(query)+"%")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []StepRow
	if err := q.Order("step_index DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gormstore: search: %w", err)
	}
	out := make([]core.SearchResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, memory.SearchResultFor(fromRow(r)))
	}
	return out, nil
}

// Close releases the connection when the archive opened it.
func (a *Archive) Close() error {
	if !a.owned {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(s core.ArchivedStep) StepRow {
	r := StepRow{
		LoopID:    s.LoopID,
		StepIndex: s.Index,
		Action:    s.Action,
		Tool:      s.Tool,
		Outcome:   string(s.Outcome),
		Result:    s.Result,
		Attempts:  s.Attempts,
		Timestamp: s.Timestamp,
		Content:   memory.RenderArchived(s),
	}
	if s.Err != nil {
		r.ErrKind = string(s.Err.Kind)
		r.ErrMessage = s.Err.Message
		r.ErrRecoverable = s.Err.Recoverable
	}
	return r
}

func fromRow(r StepRow) core.ArchivedStep {
	s := core.ArchivedStep{
		LoopID:    r.LoopID,
		Index:     r.StepIndex,
		Action:    r.Action,
		Tool:      r.Tool,
		Outcome:   core.Outcome(r.Outcome),
		Result:    r.Result,
		Attempts:  r.Attempts,
		Timestamp: r.Timestamp,
	}
	if r.ErrKind != "" || r.ErrMessage != "" {
		s.Err = &core.StepError{Kind: core.ErrorKind(r.ErrKind), Message: r.ErrMessage, Recoverable: r.ErrRecoverable}
	}
	return s
}
