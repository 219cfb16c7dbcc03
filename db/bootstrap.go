package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"portaladmin/config"
	"portaladmin/model"
)

// Tables the portal expects after schema setup. Only workers is written by the importer.
var PortalTables = []string{"workers", "clients", "app_settings"}

// Open connects to the configured database and verifies the connection. Any
// failure is reported as ErrConnection; the caller owns the returned store and
// must Close it.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *zap.SugaredLogger) (*SQLStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return OpenSQLite(cfg.Path, log)
	case config.DriverPostgres, "":
		return OpenPostgres(ctx, cfg.DSN(), cfg.ConnectTimeout, log)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrConnection, cfg.Driver)
	}
}

// OpenPostgres opens dsn through the pgx stdlib connector and hands the pool to gorm.
func OpenPostgres(ctx context.Context, dsn string, timeout time.Duration, log *zap.SugaredLogger) (*SQLStore, error) {
	pgxCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing connection string: %v", ErrConnection, err)
	}
	if timeout > 0 {
		pgxCfg.ConnectTimeout = timeout
	}
	sqlDB := stdlib.OpenDB(*pgxCfg)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: newGormLogger(log),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	store := NewSQLStore(gdb, log)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%w: %s@%s:%d/%s: %v", ErrConnection, pgxCfg.User, pgxCfg.Host, pgxCfg.Port, pgxCfg.Database, err)
	}
	store.log.Infof("connected to postgres %s:%d/%s", pgxCfg.Host, pgxCfg.Port, pgxCfg.Database)
	return store, nil
}

// OpenSQLite opens a local database file, or a private in-memory database for
// ":memory:". The pool is pinned to one connection because every in-memory
// connection is a separate database.
func OpenSQLite(path string, log *zap.SugaredLogger) (*SQLStore, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open DB %s: %v", ErrConnection, path, err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	sqlDB.SetMaxOpenConns(1)
	return NewSQLStore(gdb, log), nil
}

func newGormLogger(log *zap.SugaredLogger) logger.Interface {
	if log == nil {
		return logger.Default.LogMode(logger.Silent)
	}
	level := logger.Warn
	if log.Desugar().Core().Enabled(zap.DebugLevel) {
		level = logger.Info
	}
	return logger.New(
		zap.NewStdLog(log.Desugar().WithOptions(zap.AddCallerSkip(2))),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true, // keep row values out of the log
			Colorful:                  false,
		},
	)
}

// AutoMigrate creates or updates the portal tables from the models. Production
// schemas come from the SQL script; this is for local SQLite databases and tests.
func (s *SQLStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&model.Worker{},
		&model.Client{},
		&model.AppSetting{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

// ExecSQLFile runs the statements in path as one batch inside a transaction.
func (s *SQLStore) ExecSQLFile(ctx context.Context, path string) error {
	script, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSchemaFileNotFound, path)
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if strings.TrimSpace(string(script)) == "" {
		return fmt.Errorf("%s is empty", path)
	}

	// The raw handle keeps gorm's placeholder rewriting away from the script.
	// pgx sends argument-less statements over the simple protocol, which
	// accepts several statements at once.
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("executing %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", path, err)
	}
	s.log.Infof("executed %s (%d bytes)", path, len(script))
	return nil
}

// TableCounts returns the row count of every table in tables that exists.
// Missing tables are reported with a count of -1.
func (s *SQLStore) TableCounts(ctx context.Context, tables []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(tables))
	migrator := s.db.WithContext(ctx).Migrator()
	for _, table := range tables {
		if !migrator.HasTable(table) {
			counts[table] = -1
			continue
		}
		var n int64
		if err := s.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// ListTables returns the base tables in the current schema.
func (s *SQLStore) ListTables(ctx context.Context) ([]string, error) {
	tables, err := s.db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	return tables, nil
}

func (s *SQLStore) HasColumn(ctx context.Context, table, column string) bool {
	return s.db.WithContext(ctx).Migrator().HasColumn(table, column)
}
