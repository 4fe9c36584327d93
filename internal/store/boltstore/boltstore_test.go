package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	bolt "github.com/boltdb/bolt"

	"github.com/MarkoPoloResearchLab/pointledger/internal/store/storetest"
	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
)

func TestStoreContract(test *testing.T) {
	storetest.Run(test, func(test *testing.T) storetest.Stores {
		store := openStore(test, filepath.Join(test.TempDir(), "points.db"))
		return storetest.Stores{Balances: store, History: store, Transactor: store}
	})
}

func TestDataSurvivesReopen(test *testing.T) {
	path := filepath.Join(test.TempDir(), "points.db")
	store, err := Open(path)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	userID, err := ledger.NewUserID(3)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	service, err := ledger.NewService(store, store, func() int64 { return 10 }, ledger.WithTransactor(store))
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	if _, err := service.Charge(context.Background(), userID, 250); err != nil {
		test.Fatalf("charge: %v", err)
	}
	if err := store.Close(); err != nil {
		test.Fatalf("close: %v", err)
	}

	reopened := openStore(test, path)
	balance, err := reopened.ReadBalance(context.Background(), userID)
	if err != nil {
		test.Fatalf("read balance: %v", err)
	}
	if balance.Point != 250 || balance.UpdatedUnixMilli != 10 {
		test.Fatalf("unexpected balance after reopen: %+v", balance)
	}
	entries, err := reopened.ListEntries(context.Background(), userID, 0, 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != ledger.EntryCommitted {
		test.Fatalf("unexpected entries after reopen: %+v", entries)
	}
}

func TestCorruptRecordIsStoreError(test *testing.T) {
	store := openStore(test, filepath.Join(test.TempDir(), "points.db"))
	userID, err := ledger.NewUserID(1)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	err = store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketUserPoints)).Put(encodeKey(userID.Int64()), []byte("not json"))
	})
	if err != nil {
		test.Fatalf("seed: %v", err)
	}
	if _, err := store.ReadBalance(context.Background(), userID); !errors.Is(err, ledger.ErrStoreUnavailable) {
		test.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestCanceledContextSkipsTransaction(test *testing.T) {
	store := openStore(test, filepath.Join(test.TempDir(), "points.db"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := store.WithTx(ctx, func(context.Context, ledger.BalanceStore, ledger.HistoryStore) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		test.Fatalf("expected canceled transaction to be skipped, got %v (called=%v)", err, called)
	}
}

func openStore(test *testing.T, path string) *Store {
	test.Helper()
	store, err := Open(path)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	test.Cleanup(func() { _ = store.Close() })
	return store
}
