// Package storetest holds the behavior every ledger store implementation shares.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
)

// Stores bundles the interfaces under test. Transactor may be nil.
type Stores struct {
	Balances   ledger.BalanceStore
	History    ledger.HistoryStore
	Transactor ledger.Transactor
}

// Factory returns a fresh, empty set of stores for one subtest.
type Factory func(test *testing.T) Stores

// Run exercises the store contract against stores produced by factory.
func Run(test *testing.T, factory Factory) {
	test.Helper()
	test.Run("unknown user reads zero", func(test *testing.T) {
		stores := factory(test)
		userID := mustUserID(test, 1)
		balance, err := stores.Balances.ReadBalance(context.Background(), userID)
		if err != nil {
			test.Fatalf("read balance: %v", err)
		}
		if balance.UserID != userID || balance.Point != 0 || balance.UpdatedUnixMilli != 0 {
			test.Fatalf("expected zero balance, got %+v", balance)
		}
	})

	test.Run("write then read", func(test *testing.T) {
		stores := factory(test)
		userID := mustUserID(test, 1)
		written, err := stores.Balances.WriteBalance(context.Background(), userID, 40, 1000)
		if err != nil {
			test.Fatalf("write balance: %v", err)
		}
		if written.Point != 40 || written.UpdatedUnixMilli != 1000 {
			test.Fatalf("unexpected written balance: %+v", written)
		}
		if _, err := stores.Balances.WriteBalance(context.Background(), userID, 15, 2000); err != nil {
			test.Fatalf("overwrite balance: %v", err)
		}
		balance, err := stores.Balances.ReadBalance(context.Background(), userID)
		if err != nil {
			test.Fatalf("read balance: %v", err)
		}
		if balance.Point != 15 || balance.UpdatedUnixMilli != 2000 {
			test.Fatalf("expected overwritten balance, got %+v", balance)
		}
	})

	test.Run("append commit discard", func(test *testing.T) {
		stores := factory(test)
		ctx := context.Background()
		userID := mustUserID(test, 7)
		first := mustAppend(test, stores.History, userID, 10, ledger.EntryCharge, 100)
		second := mustAppend(test, stores.History, userID, 4, ledger.EntryUse, 200)
		if first.Status != ledger.EntryPending || second.EntryID <= first.EntryID {
			test.Fatalf("expected pending entries with increasing ids, got %+v %+v", first, second)
		}
		if err := stores.History.CommitEntry(ctx, userID, first.EntryID); err != nil {
			test.Fatalf("commit: %v", err)
		}
		if err := stores.History.DiscardEntry(ctx, userID, first.EntryID); !errors.Is(err, ledger.ErrUnknownEntry) {
			test.Fatalf("expected committed entry to survive discard, got %v", err)
		}
		if err := stores.History.DiscardEntry(ctx, userID, second.EntryID); err != nil {
			test.Fatalf("discard: %v", err)
		}
		if err := stores.History.CommitEntry(ctx, userID, second.EntryID); !errors.Is(err, ledger.ErrUnknownEntry) {
			test.Fatalf("expected discarded entry to be unknown, got %v", err)
		}
		entries := mustList(test, stores.History, userID, 0, 10)
		if len(entries) != 1 {
			test.Fatalf("expected one entry, got %+v", entries)
		}
		entry := entries[0]
		if entry.EntryID != first.EntryID || entry.UserID != userID || entry.Amount != 10 ||
			entry.Kind != ledger.EntryCharge || entry.Status != ledger.EntryCommitted || entry.CreatedUnixMilli != 100 {
			test.Fatalf("unexpected stored entry: %+v", entry)
		}
	})

	test.Run("entries are scoped to their user", func(test *testing.T) {
		stores := factory(test)
		owner := mustUserID(test, 1)
		other := mustUserID(test, 2)
		entry := mustAppend(test, stores.History, owner, 5, ledger.EntryCharge, 1)
		if err := stores.History.CommitEntry(context.Background(), other, entry.EntryID); !errors.Is(err, ledger.ErrUnknownEntry) {
			test.Fatalf("expected foreign commit to fail, got %v", err)
		}
		if entries := mustList(test, stores.History, other, 0, 10); len(entries) != 0 {
			test.Fatalf("expected no entries for other user, got %+v", entries)
		}
	})

	test.Run("list pages in append order", func(test *testing.T) {
		stores := factory(test)
		userID := mustUserID(test, 3)
		other := mustUserID(test, 4)
		var appended []ledger.HistoryEntry
		for index := 1; index <= 5; index++ {
			appended = append(appended, mustAppend(test, stores.History, userID, int64(index), ledger.EntryCharge, int64(index)))
			mustAppend(test, stores.History, other, int64(index), ledger.EntryCharge, int64(index))
		}
		firstPage := mustList(test, stores.History, userID, 0, 2)
		if len(firstPage) != 2 || firstPage[0].EntryID != appended[0].EntryID || firstPage[1].EntryID != appended[1].EntryID {
			test.Fatalf("unexpected first page: %+v", firstPage)
		}
		rest := mustList(test, stores.History, userID, firstPage[1].EntryID, 10)
		if len(rest) != 3 || rest[0].EntryID != appended[2].EntryID || rest[2].Amount != 5 {
			test.Fatalf("unexpected remaining page: %+v", rest)
		}
	})

	test.Run("concurrent appends get distinct ids", func(test *testing.T) {
		stores := factory(test)
		userID := mustUserID(test, 9)
		input, err := ledger.NewEntryInput(userID, 1, ledger.EntryCharge, 1)
		if err != nil {
			test.Fatalf("entry input: %v", err)
		}
		const writers = 20
		var waitGroup sync.WaitGroup
		ids := make(chan ledger.EntryID, writers)
		for index := 0; index < writers; index++ {
			waitGroup.Add(1)
			go func() {
				defer waitGroup.Done()
				entry, err := stores.History.AppendEntry(context.Background(), input)
				if err != nil {
					test.Errorf("append: %v", err)
					return
				}
				ids <- entry.EntryID
			}()
		}
		waitGroup.Wait()
		close(ids)
		seen := make(map[ledger.EntryID]struct{})
		for id := range ids {
			if _, ok := seen[id]; ok {
				test.Fatalf("duplicate entry id %d", id)
			}
			seen[id] = struct{}{}
		}
		if len(seen) != writers {
			test.Fatalf("expected %d ids, got %d", writers, len(seen))
		}
	})

	test.Run("transaction rolls back", func(test *testing.T) {
		stores := factory(test)
		if stores.Transactor == nil {
			test.Skip("store has no transactions")
		}
		userID := mustUserID(test, 11)
		boom := errors.New("boom")
		err := stores.Transactor.WithTx(context.Background(), func(ctx context.Context, balances ledger.BalanceStore, history ledger.HistoryStore) error {
			if _, err := balances.WriteBalance(ctx, userID, 99, 1); err != nil {
				return err
			}
			input, err := ledger.NewEntryInput(userID, 99, ledger.EntryCharge, 1)
			if err != nil {
				return err
			}
			if _, err := history.AppendEntry(ctx, input); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			test.Fatalf("expected rollback error, got %v", err)
		}
		balance, err := stores.Balances.ReadBalance(context.Background(), userID)
		if err != nil {
			test.Fatalf("read balance: %v", err)
		}
		if balance.Point != 0 {
			test.Fatalf("expected rolled back balance, got %+v", balance)
		}
		if entries := mustList(test, stores.History, userID, 0, 10); len(entries) != 0 {
			test.Fatalf("expected rolled back history, got %+v", entries)
		}
	})

	test.Run("service round trip", func(test *testing.T) {
		stores := factory(test)
		options := make([]ledger.ServiceOption, 0, 1)
		if stores.Transactor != nil {
			options = append(options, ledger.WithTransactor(stores.Transactor))
		}
		service, err := ledger.NewService(stores.Balances, stores.History, func() int64 { return 5 }, options...)
		if err != nil {
			test.Fatalf("new service: %v", err)
		}
		userID := mustUserID(test, 21)
		if _, err := service.Charge(context.Background(), userID, 1000); err != nil {
			test.Fatalf("charge: %v", err)
		}
		if _, err := service.Use(context.Background(), userID, 500); err != nil {
			test.Fatalf("use: %v", err)
		}
		if _, err := service.Use(context.Background(), userID, 1000); !errors.Is(err, ledger.ErrInsufficientBalance) {
			test.Fatalf("expected ErrInsufficientBalance, got %v", err)
		}
		balance, err := service.Get(context.Background(), userID)
		if err != nil {
			test.Fatalf("get: %v", err)
		}
		if balance.Point != 500 {
			test.Fatalf("expected 500 points, got %d", balance.Point)
		}
		entries, err := service.History(context.Background(), userID)
		if err != nil {
			test.Fatalf("history: %v", err)
		}
		if len(entries) != 2 || entries[0].Kind != ledger.EntryCharge || entries[1].Kind != ledger.EntryUse {
			test.Fatalf("unexpected history: %+v", entries)
		}
	})
}

func mustUserID(test *testing.T, raw int64) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustAppend(test *testing.T, history ledger.HistoryStore, userID ledger.UserID, amount int64, kind ledger.EntryKind, createdUnixMilli int64) ledger.HistoryEntry {
	test.Helper()
	input, err := ledger.NewEntryInput(userID, ledger.PositiveAmount(amount), kind, createdUnixMilli)
	if err != nil {
		test.Fatalf("entry input: %v", err)
	}
	entry, err := history.AppendEntry(context.Background(), input)
	if err != nil {
		test.Fatalf("append: %v", err)
	}
	return entry
}

func mustList(test *testing.T, history ledger.HistoryStore, userID ledger.UserID, after ledger.EntryID, limit int) []ledger.HistoryEntry {
	test.Helper()
	entries, err := history.ListEntries(context.Background(), userID, after, limit)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	return entries
}
