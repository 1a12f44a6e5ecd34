// Package store persists collection tasks and collected data.
//
// Every read-then-write guard (start, stop, fail, progress, data status) is a
// single conditional UPDATE whose affected-row count decides the outcome. A
// zero count is diagnosed afterwards to pick NotFound, InvalidState or
// ConcurrencyConflict; the diagnosis never writes.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"northsea/internal/apperr"
	"northsea/internal/config"
	"northsea/internal/lifecycle"
	"northsea/internal/model"

	"github.com/go-playground/validator/v10"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store is the Task Store.
type Store struct {
	db        *gorm.DB
	validate  *validator.Validate
	logger    *slog.Logger
	observers []lifecycle.Observer
	now       func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithObserver registers an observer for committed transitions.
func WithObserver(o lifecycle.Observer) Option {
	return func(s *Store) {
		s.observers = append(s.observers, o)
	}
}

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger used for transition logs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New wraps an open gorm handle.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:       db,
		validate: newValidator(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	// created_at/updated_at stamped by gorm follow the store clock
	s.db = db.Session(&gorm.Session{NowFunc: s.now})
	return s
}

// Open 根据配置选择方言并建立连接。
func Open(cfg config.DatabaseConfig, logger *slog.Logger, slowThreshold time.Duration) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "", "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dsn := cfg.DSN
		// conditional updates count matched rows, not changed rows
		if parsed, err := mysqldriver.ParseDSN(dsn); err == nil {
			parsed.ClientFoundRows = true
			parsed.ParseTime = true
			dsn = parsed.FormatDSN()
		}
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(logger, slowThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&model.CollectionTask{}, &model.CollectedData{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// DB exposes the handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping runs SELECT 1.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("SELECT 1").Error
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates in and converts failures into a ValidationError.
func (s *Store) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.Validation(err.Error(), nil)
	}
	details := make([]FieldError, 0, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
		names = append(names, fe.Field())
	}
	return apperr.Validation("invalid "+strings.Join(names, ", "), details)
}

func (s *Store) emit(change lifecycle.Change) {
	s.logger.Info("task transition",
		slog.Uint64("task_id", uint64(change.TaskID)),
		slog.String("event", string(change.Event)),
		slog.String("from", string(change.From)),
		slog.String("to", string(change.To)))
	for _, o := range s.observers {
		o.TaskTransitioned(change)
	}
}

func statusStrings(statuses []model.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
