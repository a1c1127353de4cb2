package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger routes GORM output into slog
type gormLogger struct {
	level logger.LogLevel
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{level: level}
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		slog.InfoContext(ctx, fmt.Sprintf(msg, data...), "component", "gorm")
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		slog.WarnContext(ctx, fmt.Sprintf(msg, data...), "component", "gorm")
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		slog.ErrorContext(ctx, fmt.Sprintf(msg, data...), "component", "gorm")
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		slog.ErrorContext(ctx, "gorm query error", "error", err, "duration", elapsed, "sql", sql, "rows", rows)
	case elapsed > 200*time.Millisecond:
		slog.WarnContext(ctx, "slow query", "duration", elapsed, "sql", sql, "rows", rows)
	case l.level >= logger.Info:
		slog.DebugContext(ctx, "gorm query", "duration", elapsed, "sql", sql, "rows", rows)
	}
}

func newGormLogger() logger.Interface {
	if os.Getenv("ETAT_DEBUG_SQL") == "1" {
		return (&gormLogger{}).LogMode(logger.Info)
	}
	return (&gormLogger{}).LogMode(logger.Warn)
}

// OpenDB opens the SQLite document database and brings its schema up to date.
func OpenDB(dbPath string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		PrepareStmt: false,
		NowFunc:     func() time.Time { return time.Now().UTC() },
		Logger:      newGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA synchronous=NORMAL")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate applies AutoMigrate and records every schema version not yet seen.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&SchemaVersionModel{}, &DatasetModel{}, &SessionModel{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	version, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if version >= CurrentSchemaVersion {
		return nil
	}

	for v := version + 1; v <= CurrentSchemaVersion; v++ {
		if err := db.Create(&SchemaVersionModel{Version: v, AppliedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", v, err)
		}
	}
	slog.Info("Document store schema upgraded", "from", version, "to", CurrentSchemaVersion)
	return nil
}

// SchemaVersion returns the highest applied version, 0 on a fresh database.
func SchemaVersion(db *gorm.DB) (int, error) {
	var version int
	if err := db.Model(&SchemaVersionModel{}).Select("COALESCE(MAX(version), 0)").Scan(&version).Error; err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
