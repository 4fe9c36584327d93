package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/pointledger/internal/store/storetest"
	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
)

func TestStoreContract(test *testing.T) {
	test.Parallel()
	storetest.Run(test, func(test *testing.T) storetest.Stores {
		store := New()
		return storetest.Stores{Balances: store, History: store}
	})
}

func TestLatencyHonorsContext(test *testing.T) {
	test.Parallel()
	store := New(WithLatency(time.Second))
	userID, err := ledger.NewUserID(1)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := store.ReadBalance(ctx, userID); !errors.Is(err, context.DeadlineExceeded) {
		test.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestListReturnsCopies(test *testing.T) {
	test.Parallel()
	store := New()
	userID, err := ledger.NewUserID(1)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	input, err := ledger.NewEntryInput(userID, 3, ledger.EntryCharge, 1)
	if err != nil {
		test.Fatalf("entry input: %v", err)
	}
	if _, err := store.AppendEntry(context.Background(), input); err != nil {
		test.Fatalf("append: %v", err)
	}
	page, err := store.ListEntries(context.Background(), userID, 0, 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	page[0].Status = ledger.EntryCommitted
	again, err := store.ListEntries(context.Background(), userID, 0, 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if again[0].Status != ledger.EntryPending {
		test.Fatalf("expected stored entry to stay pending, got %s", again[0].Status)
	}
}
