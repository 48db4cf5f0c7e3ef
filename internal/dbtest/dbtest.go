// Package dbtest opens throwaway SQLite databases carrying the lottery schema
// for repository and facade tests.
package dbtest

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tg_lottery_bot/internal/domain"
)

// Open returns an in-memory database migrated with every entity the bot
// touches. The connection pool is pinned to one connection so all queries see
// the same in-memory database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&domain.User{}, &domain.Product{}, &domain.LotteryRound{}, &domain.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return db
}

// Fixtures inserts rows in order, failing the test on error.
func Fixtures(t testing.TB, db *gorm.DB, rows ...any) {
	t.Helper()

	for _, row := range rows {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("insert fixture %T: %v", row, err)
		}
	}
}
