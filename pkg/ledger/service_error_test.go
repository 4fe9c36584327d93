package ledger

import (
	"context"
	"errors"
	"testing"
)

const (
	errStoreMessage      = "store error"
	errorMismatchMessage = "expected %v, got %v"
)

var errStoreFailure = errors.New(errStoreMessage)

func TestChargeReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name         string
		configure    func(store *stubStore)
		wantStatuses []EntryStatus
	}{
		{
			name:         "read balance error",
			configure:    func(store *stubStore) { store.readBalanceError = errStoreFailure },
			wantStatuses: []EntryStatus{EntryCommitted},
		},
		{
			name:         "append entry error",
			configure:    func(store *stubStore) { store.appendEntryError = errStoreFailure },
			wantStatuses: []EntryStatus{EntryCommitted},
		},
		{
			name:         "write balance error",
			configure:    func(store *stubStore) { store.writeBalanceError = errStoreFailure },
			wantStatuses: []EntryStatus{EntryCommitted},
		},
		{
			name:         "commit entry error",
			configure:    func(store *stubStore) { store.commitEntryError = errStoreFailure },
			wantStatuses: []EntryStatus{EntryCommitted},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore()
			store.seedBalance(test, 1, 100)
			service := mustNewService(test, store)
			userID := mustUserID(test, 1)
			if _, err := service.Get(context.Background(), userID); err != nil {
				test.Fatalf("get: %v", err)
			}

			testCase.configure(store)
			_, err := service.Charge(context.Background(), userID, mustPositiveAmount(test, 10))
			if !errors.Is(err, ErrStoreUnavailable) {
				test.Fatalf(errorMismatchMessage, ErrStoreUnavailable, err)
			}
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
			if got := store.pointOf(1); got != 100 {
				test.Fatalf("expected balance to stay at 100, got %d", got)
			}
			assertStatuses(test, store, testCase.wantStatuses)
			if service.locks.Len() != 0 {
				test.Fatalf("expected lock to be released, got %d keys", service.locks.Len())
			}
		})
	}
}

func TestUseReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seedBalance(test, 1, 100)
	store.writeBalanceError = errStoreFailure
	service := mustNewService(test, store)
	userID := mustUserID(test, 1)

	_, err := service.Use(context.Background(), userID, mustPositiveAmount(test, 30))
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, errStoreFailure) {
		test.Fatalf(errorMismatchMessage, errStoreFailure, err)
	}
	var operationError OperationError
	if !errors.As(err, &operationError) {
		test.Fatalf("expected OperationError, got %T", err)
	}
	if operationError.Subject() != errorSubjectBalance || operationError.Code() != errorCodeWrite {
		test.Fatalf("unexpected error metadata: %s.%s", operationError.Subject(), operationError.Code())
	}

	store.mu.Lock()
	store.writeBalanceError = nil
	store.mu.Unlock()
	balance, err := service.Use(context.Background(), userID, mustPositiveAmount(test, 30))
	if err != nil {
		test.Fatalf("use after recovery: %v", err)
	}
	if balance.Point != 70 {
		test.Fatalf("expected 70 points, got %d", balance.Point)
	}
	assertFoldMatches(test, service, userID)
}

func TestFailedCompensationIsRecoveredOnNextAccess(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seedBalance(test, 1, 100)
	service := mustNewService(test, store)
	userID := mustUserID(test, 1)
	if _, err := service.Get(context.Background(), userID); err != nil {
		test.Fatalf("get: %v", err)
	}

	store.writeBalanceError = errStoreFailure
	store.discardEntryError = errStoreFailure
	if _, err := service.Charge(context.Background(), userID, mustPositiveAmount(test, 10)); !errors.Is(err, ErrStoreUnavailable) {
		test.Fatalf(errorMismatchMessage, ErrStoreUnavailable, err)
	}
	assertStatuses(test, store, []EntryStatus{EntryCommitted, EntryPending})

	store.mu.Lock()
	store.writeBalanceError = nil
	store.discardEntryError = nil
	store.mu.Unlock()

	entries, err := service.History(context.Background(), userID)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		test.Fatalf("expected the pending entry to be discarded, got %d entries", len(entries))
	}
	assertStatuses(test, store, []EntryStatus{EntryCommitted})
	assertFoldMatches(test, service, userID)
}

func TestGetAndHistoryReturnStoreErrors(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, 1)
	if _, err := service.Get(context.Background(), userID); err != nil {
		test.Fatalf("get: %v", err)
	}

	store.readBalanceError = errStoreFailure
	if _, err := service.Get(context.Background(), userID); !errors.Is(err, ErrStoreUnavailable) {
		test.Fatalf(errorMismatchMessage, ErrStoreUnavailable, err)
	}

	store.readBalanceError = nil
	store.listEntriesError = errStoreFailure
	if _, err := service.History(context.Background(), userID); !errors.Is(err, errStoreFailure) {
		test.Fatalf(errorMismatchMessage, errStoreFailure, err)
	}
}

func TestRecoveryErrorsAreReturned(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.listEntriesError = errStoreFailure
	service := mustNewService(test, store)
	userID := mustUserID(test, 1)

	_, err := service.Charge(context.Background(), userID, mustPositiveAmount(test, 5))
	if !errors.Is(err, ErrStoreUnavailable) {
		test.Fatalf(errorMismatchMessage, ErrStoreUnavailable, err)
	}
	if store.entryCount() != 0 {
		test.Fatalf("expected no entries, got %d", store.entryCount())
	}
	if service.locks.Len() != 0 {
		test.Fatalf("expected lock to be released, got %d keys", service.locks.Len())
	}
}

func assertStatuses(test *testing.T, store *stubStore, want []EntryStatus) {
	test.Helper()
	got := store.statuses()
	if len(got) != len(want) {
		test.Fatalf("expected statuses %v, got %v", want, got)
	}
	for index := range want {
		if got[index] != want[index] {
			test.Fatalf("expected statuses %v, got %v", want, got)
		}
	}
}
