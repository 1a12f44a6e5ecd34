package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormLogger routes gorm logs into slog. Successful queries are only logged
// when slower than the threshold.
type GormLogger struct {
	logger        *slog.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger builds the adapter at warn level.
func NewGormLogger(l *slog.Logger, slowThreshold time.Duration) *GormLogger {
	if l == nil {
		l = slog.Default()
	}
	if slowThreshold <= 0 {
		slowThreshold = 200 * time.Millisecond
	}
	return &GormLogger{logger: l, level: logger.Warn, slowThreshold: slowThreshold}
}

// LogMode implements logger.Interface.
func (g *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Info {
		g.logger.InfoContext(ctx, fmt.Sprintf(msg, args...), slog.String("source", "gorm"))
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Warn {
		g.logger.WarnContext(ctx, fmt.Sprintf(msg, args...), slog.String("source", "gorm"))
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Error {
		g.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...), slog.String("source", "gorm"))
	}
}

// Trace implements logger.Interface.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= logger.Error:
		sql, rows := fc()
		g.logger.ErrorContext(ctx, "database query failed",
			slog.String("source", "gorm"),
			slog.String("error", err.Error()),
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.String("elapsed", elapsed.String()))
	case elapsed > g.slowThreshold && g.level >= logger.Warn:
		sql, rows := fc()
		g.logger.WarnContext(ctx, "slow query",
			slog.String("source", "gorm"),
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.String("elapsed", elapsed.String()))
	case g.level >= logger.Info:
		sql, rows := fc()
		g.logger.DebugContext(ctx, "query",
			slog.String("source", "gorm"),
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.String("elapsed", elapsed.String()))
	}
}
