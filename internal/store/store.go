// Package store encapsulates the Postgres connection, the notification ledger
// schema, and the data access facade used by handlers and notifiers.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tg_lottery_bot/internal/config"
	"tg_lottery_bot/internal/domain"
	"tg_lottery_bot/internal/logging"
)

// Pool settings for the managed Postgres. The Supabase pooler caps clients,
// so the bot keeps a small pool.
const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
)

// openDatabase is overridable for tests.
var openDatabase = func(dsn string, gormCfg *gorm.Config) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		DSN: dsn,
		// Transaction-mode poolers reject prepared statements.
		PreferSimpleProtocol: true,
	}), gormCfg)
}

// Manager owns the gorm handle for the lottery database.
type Manager struct {
	db *gorm.DB
}

// NewManager opens the database using the supplied configuration and verifies
// connectivity with a ping.
func NewManager(ctx context.Context, cfg config.Config, logger *logrus.Entry) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	dsn, err := cfg.DatabaseDSN()
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(dsn, &gorm.Config{
		Logger: logging.NewGormLogger(logger),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	manager := &Manager{db: db}
	if err := manager.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return manager, nil
}

// DB returns the gorm handle.
func (m *Manager) DB() *gorm.DB {
	if m == nil {
		return nil
	}
	return m.db
}

// Ping verifies the database is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	return nil
}

// EnsureSchema migrates the tables owned by the bot and checks the constraints
// it relies on in the web app's tables. Users, products and rounds belong to
// the web app and are never migrated here.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	if err := m.db.WithContext(ctx).AutoMigrate(&domain.Notification{}); err != nil {
		return fmt.Errorf("migrate notification ledger: %w", err)
	}

	// Registration inserts with ON CONFLICT (telegram_id), which needs a
	// unique index on the web app's users table.
	if err := requireUniqueIndex(m.db.WithContext(ctx), &domain.User{}, "telegram_id"); err != nil {
		return err
	}

	return nil
}

func requireUniqueIndex(db *gorm.DB, model any, column string) error {
	indexes, err := db.Migrator().GetIndexes(model)
	if err != nil {
		return fmt.Errorf("inspect indexes for %s: %w", column, err)
	}

	for _, index := range indexes {
		columns := index.Columns()
		if len(columns) != 1 || columns[0] != column {
			continue
		}
		unique, _ := index.Unique()
		primary, _ := index.PrimaryKey()
		if unique || primary {
			return nil
		}
	}

	return fmt.Errorf("users.%s has no unique index", column)
}

// Close releases the connection pool.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.db == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}

	return sqlDB.Close()
}
