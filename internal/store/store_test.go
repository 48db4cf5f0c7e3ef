package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tg_lottery_bot/internal/config"
	"tg_lottery_bot/internal/domain"
)

func testConfig() config.Config {
	return config.Config{
		DatabaseURL:      "postgres://postgres@db.example.supabase.co:5432/postgres",
		DatabasePassword: "secret",
	}
}

func TestNewManagerOpensAndPings(t *testing.T) {
	var gotDSN string
	restore := stubOpen(t, func(dsn string, gormCfg *gorm.Config) (*gorm.DB, error) {
		gotDSN = dsn
		if gormCfg.Logger == nil {
			t.Fatalf("expected gorm logger to be configured")
		}
		return gorm.Open(sqlite.Open(":memory:"), gormCfg)
	})
	t.Cleanup(restore)

	ctx := context.Background()
	manager, err := NewManager(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	if !strings.Contains(gotDSN, "postgres:secret@db.example.supabase.co") {
		t.Fatalf("expected password to be injected into dsn, got %s", gotDSN)
	}
	if manager.DB() == nil {
		t.Fatalf("expected gorm handle")
	}
	if err := manager.Ping(ctx); err != nil {
		t.Fatalf("expected ping to succeed, got %v", err)
	}

	if err := manager.Close(ctx); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}
	if err := manager.Ping(ctx); err == nil {
		t.Fatalf("expected ping after close to fail")
	}
}

func TestNewManagerFailsOnPing(t *testing.T) {
	restore := stubOpen(t, func(_ string, gormCfg *gorm.Config) (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open(":memory:"), gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		_ = sqlDB.Close()
		return db, nil
	})
	t.Cleanup(restore)

	_, err := NewManager(context.Background(), testConfig(), nil)
	if err == nil || !strings.Contains(err.Error(), "ping database") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestNewManagerPropagatesOpenError(t *testing.T) {
	restore := stubOpen(t, func(string, *gorm.Config) (*gorm.DB, error) {
		return nil, errors.New("connect failed")
	})
	t.Cleanup(restore)

	_, err := NewManager(context.Background(), testConfig(), nil)
	if err == nil || !strings.Contains(err.Error(), "connect failed") {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestNewManagerValidatesContext(t *testing.T) {
	if _, err := NewManager(nil, testConfig(), nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestManagerRequiresContextAndInitialization(t *testing.T) {
	var manager *Manager

	if err := manager.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping on nil manager to fail")
	}
	if err := manager.EnsureSchema(context.Background()); err == nil {
		t.Fatalf("expected schema on nil manager to fail")
	}
	if err := manager.Close(context.Background()); err != nil {
		t.Fatalf("expected close on nil manager to be a no-op, got %v", err)
	}

	manager = &Manager{db: openSQLite(t)}
	if err := manager.Ping(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if err := manager.Close(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestEnsureSchemaCreatesNotificationLedger(t *testing.T) {
	manager := &Manager{db: openSQLite(t)}
	createUsersTable(t, manager.DB(), true)

	if err := manager.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema returned error: %v", err)
	}

	migrator := manager.DB().Migrator()
	if !migrator.HasTable(&domain.Notification{}) {
		t.Fatalf("expected bot_notifications table")
	}
	if !migrator.HasIndex(&domain.Notification{}, "idx_bot_notifications_kind_subject") {
		t.Fatalf("expected unique (kind, subject_id) index")
	}
	if migrator.HasColumn(&domain.User{}, "balance") {
		t.Fatalf("users table belongs to the web app and must not be migrated")
	}
}

func TestEnsureSchemaRequiresUniqueTelegramID(t *testing.T) {
	tests := []struct {
		name   string
		create bool
		unique bool
	}{
		{name: "missing users table"},
		{name: "non unique index", create: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			manager := &Manager{db: openSQLite(t)}
			if tt.create {
				createUsersTable(t, manager.DB(), tt.unique)
			}

			err := manager.EnsureSchema(context.Background())
			if err == nil || !strings.Contains(err.Error(), "telegram_id") {
				t.Fatalf("expected telegram_id index error, got %v", err)
			}
		})
	}
}

// createUsersTable mimics the web app's users table with a minimal column set.
func createUsersTable(t *testing.T, db *gorm.DB, unique bool) {
	t.Helper()

	index := "CREATE INDEX users_telegram_id_idx ON users (telegram_id)"
	if unique {
		index = "CREATE UNIQUE INDEX users_telegram_id_key ON users (telegram_id)"
	}
	for _, stmt := range []string{
		"CREATE TABLE users (id TEXT PRIMARY KEY, telegram_id INTEGER NOT NULL)",
		index,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create users table: %v", err)
		}
	}
}

func stubOpen(t *testing.T, fn func(string, *gorm.Config) (*gorm.DB, error)) func() {
	t.Helper()

	original := openDatabase
	openDatabase = fn
	return func() {
		openDatabase = original
	}
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}
