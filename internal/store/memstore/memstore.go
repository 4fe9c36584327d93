// Package memstore keeps balances and history in process memory.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
)

const (
	errorOperationStore = "store"
	errorSubjectEntry   = "entry"
	errorCodeCommit     = "commit"
	errorCodeDiscard    = "discard"
)

// Option configures a Store.
type Option func(*Store)

// WithLatency sleeps for delay before every call, honoring the caller's context.
func WithLatency(delay time.Duration) Option {
	return func(store *Store) {
		store.latency = delay
	}
}

// Store implements ledger.BalanceStore and ledger.HistoryStore in memory.
// It is safe for concurrent use but offers no transactions.
type Store struct {
	mu       sync.RWMutex
	balances map[ledger.UserID]ledger.Balance
	entries  map[ledger.UserID][]ledger.HistoryEntry
	nextID   int64
	latency  time.Duration
}

// New returns an empty Store.
func New(options ...Option) *Store {
	store := &Store{
		balances: make(map[ledger.UserID]ledger.Balance),
		entries:  make(map[ledger.UserID][]ledger.HistoryEntry),
	}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store
}

func (store *Store) ReadBalance(ctx context.Context, userID ledger.UserID) (ledger.Balance, error) {
	if err := store.wait(ctx); err != nil {
		return ledger.Balance{}, err
	}
	store.mu.RLock()
	defer store.mu.RUnlock()
	balance, ok := store.balances[userID]
	if !ok {
		return ledger.ZeroBalance(userID), nil
	}
	return balance, nil
}

func (store *Store) WriteBalance(ctx context.Context, userID ledger.UserID, point ledger.Point, updatedUnixMilli int64) (ledger.Balance, error) {
	if err := store.wait(ctx); err != nil {
		return ledger.Balance{}, err
	}
	balance := ledger.Balance{UserID: userID, Point: point, UpdatedUnixMilli: updatedUnixMilli}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.balances[userID] = balance
	return balance, nil
}

func (store *Store) AppendEntry(ctx context.Context, input ledger.EntryInput) (ledger.HistoryEntry, error) {
	if err := store.wait(ctx); err != nil {
		return ledger.HistoryEntry{}, err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	entry, err := ledger.NewHistoryEntry(ledger.EntryID(store.nextID+1), input, ledger.EntryPending)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	store.nextID++
	store.entries[input.UserID] = append(store.entries[input.UserID], entry)
	return entry, nil
}

func (store *Store) CommitEntry(ctx context.Context, userID ledger.UserID, entryID ledger.EntryID) error {
	if err := store.wait(ctx); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	entries := store.entries[userID]
	index, ok := findEntry(entries, entryID)
	if !ok {
		return ledger.WrapError(errorOperationStore, errorSubjectEntry, errorCodeCommit, ledger.ErrUnknownEntry)
	}
	entries[index].Status = ledger.EntryCommitted
	return nil
}

func (store *Store) DiscardEntry(ctx context.Context, userID ledger.UserID, entryID ledger.EntryID) error {
	if err := store.wait(ctx); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	entries := store.entries[userID]
	index, ok := findEntry(entries, entryID)
	if !ok || entries[index].Status != ledger.EntryPending {
		return ledger.WrapError(errorOperationStore, errorSubjectEntry, errorCodeDiscard, ledger.ErrUnknownEntry)
	}
	store.entries[userID] = append(entries[:index:index], entries[index+1:]...)
	return nil
}

func (store *Store) ListEntries(ctx context.Context, userID ledger.UserID, afterEntryID ledger.EntryID, limit int) ([]ledger.HistoryEntry, error) {
	if err := store.wait(ctx); err != nil {
		return nil, err
	}
	store.mu.RLock()
	defer store.mu.RUnlock()
	entries := store.entries[userID]
	start := sort.Search(len(entries), func(index int) bool {
		return entries[index].EntryID > afterEntryID
	})
	end := len(entries)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	page := make([]ledger.HistoryEntry, end-start)
	copy(page, entries[start:end])
	return page, nil
}

func (store *Store) wait(ctx context.Context) error {
	if store.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(store.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// entries are kept in id order, so the lookup can binary search.
func findEntry(entries []ledger.HistoryEntry, entryID ledger.EntryID) (int, bool) {
	index := sort.Search(len(entries), func(index int) bool {
		return entries[index].EntryID >= entryID
	})
	if index < len(entries) && entries[index].EntryID == entryID {
		return index, true
	}
	return 0, false
}
