// Package dbtest opens isolated in-memory SQLite databases carrying the full schema.
package dbtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/solverpay-backend/pkg/db"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
)

var seq atomic.Int64

// New returns a migrated client backed by a private in-memory database. The pool
// is pinned to one connection so concurrent transactions serialize instead of
// failing with SQLITE_BUSY.
func New(t testing.TB) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:solverpay_test_%d?mode=memory&cache=shared", seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db.NewFromConn(conn)
}

// SeedAccount inserts an active account holding balance.
func SeedAccount(t testing.TB, client *db.Client, balance money.Amount) *models.Account {
	t.Helper()

	n := seq.Add(1)
	account := &models.Account{
		Email:        fmt.Sprintf("account-%d@example.com", n),
		Status:       enums.AccountStatusActive,
		Balance:      balance,
		APIKeyPrefix: fmt.Sprintf("sk_live_seed%012d", n),
		APIKeyHash:   "unused",
	}
	if err := client.DB().WithContext(context.Background()).Create(account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}
