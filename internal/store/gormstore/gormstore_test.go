package gormstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/pointledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/pointledger/internal/store/storetest"
	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Stores {
		store := gormstore.New(openDatabase(t))
		return storetest.Stores{Balances: store, History: store, Transactor: store}
	})
}

func TestListEntriesRejectsCorruptRow(t *testing.T) {
	database := openDatabase(t)
	if err := database.Exec("INSERT INTO point_histories (user_id, amount, type, status, created_unix_milli) VALUES (1, 5, 'GIFT', 'committed', 1)").Error; err != nil {
		t.Fatalf("seed corrupt row failed: %v", err)
	}
	store := gormstore.New(database)
	userID, err := ledger.NewUserID(1)
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	_, err = store.ListEntries(context.Background(), userID, 0, 10)
	if !errors.Is(err, ledger.ErrInvalidEntryKind) {
		t.Fatalf("expected ErrInvalidEntryKind, got %v", err)
	}
	if !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Fatalf("expected corrupt rows to surface as store errors, got %v", err)
	}
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	database := openDatabase(t)
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	store := gormstore.New(database)
	userID, err := ledger.NewUserID(1)
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	if _, err := store.ReadBalance(context.Background(), userID); !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func openDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(t.TempDir()+"/points.db"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := gormstore.Migrate(context.Background(), database); err != nil {
		t.Fatalf("automigrate failed: %v", err)
	}
	return database
}
