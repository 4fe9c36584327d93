package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"sync"
)

// Service contains the point ledger logic over a BalanceStore and a HistoryStore.
type Service struct {
	balances   BalanceStore
	history    HistoryStore
	transactor Transactor
	nowFn      func() int64
	logger     OperationLogger
	pageSize   int
	locks      *KeyLock[UserID]

	recoveredMu sync.Mutex
	recovered   map[UserID]struct{}
}

// NewService wires a Service. now returns the current time in Unix milliseconds.
func NewService(balances BalanceStore, history HistoryStore, now func() int64, options ...ServiceOption) (*Service, error) {
	if balances == nil {
		return nil, fmt.Errorf("%w: balance store dependency is nil", ErrInvalidServiceConfig)
	}
	if history == nil {
		return nil, fmt.Errorf("%w: history store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		balances:  balances,
		history:   history,
		nowFn:     now,
		pageSize:  defaultHistoryPageSize,
		locks:     NewKeyLock[UserID](),
		recovered: make(map[UserID]struct{}),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Get returns the current balance without serializing against mutations.
func (service *Service) Get(ctx context.Context, userID UserID) (Balance, error) {
	if userID.IsZero() {
		return Balance{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if err := service.ensureRecovered(ctx, userID); err != nil {
		return Balance{}, err
	}
	balance, err := service.balances.ReadBalance(ctx, userID)
	if err != nil {
		return Balance{}, classifyStoreError(errorSubjectBalance, errorCodeRead, err)
	}
	return balance, nil
}

// History returns every committed entry of the user in append order.
func (service *Service) History(ctx context.Context, userID UserID) ([]HistoryEntry, error) {
	entries := make([]HistoryEntry, 0)
	for entry, err := range service.Entries(ctx, userID) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Entries streams the committed history of the user page by page. Iteration
// stops at the first entry of an in-flight mutation so the yielded entries
// always form a consistent prefix. A failure is yielded once as the last pair.
func (service *Service) Entries(ctx context.Context, userID UserID) iter.Seq2[HistoryEntry, error] {
	return func(yield func(HistoryEntry, error) bool) {
		if userID.IsZero() {
			yield(HistoryEntry{}, fmt.Errorf("%w: empty value", ErrInvalidUserID))
			return
		}
		if err := service.ensureRecovered(ctx, userID); err != nil {
			yield(HistoryEntry{}, err)
			return
		}
		var afterEntryID EntryID
		for {
			page, err := service.history.ListEntries(ctx, userID, afterEntryID, service.pageSize)
			if err != nil {
				yield(HistoryEntry{}, classifyStoreError(errorSubjectEntry, errorCodeList, err))
				return
			}
			for _, entry := range page {
				if entry.Status != EntryCommitted {
					return
				}
				afterEntryID = entry.EntryID
				if !yield(entry, nil) {
					return
				}
			}
			if len(page) < service.pageSize {
				return
			}
		}
	}
}

// Charge adds amount to the user's balance and records a CHARGE entry.
func (service *Service) Charge(ctx context.Context, userID UserID, amount PositiveAmount) (Balance, error) {
	balance, entryID, operationError := service.apply(ctx, userID, amount, EntryCharge)
	service.logOperation(ctx, OperationLog{
		Operation: operationCharge,
		UserID:    userID,
		Amount:    amount,
		Point:     balance.Point,
		EntryID:   entryID,
		Error:     operationError,
	})
	return balance, operationError
}

// Use subtracts amount from the user's balance and records a USE entry.
// It fails with ErrInsufficientBalance, changing nothing, when the balance is lower than amount.
func (service *Service) Use(ctx context.Context, userID UserID, amount PositiveAmount) (Balance, error) {
	balance, entryID, operationError := service.apply(ctx, userID, amount, EntryUse)
	service.logOperation(ctx, OperationLog{
		Operation: operationUse,
		UserID:    userID,
		Amount:    amount,
		Point:     balance.Point,
		EntryID:   entryID,
		Error:     operationError,
	})
	return balance, operationError
}

func (service *Service) apply(ctx context.Context, userID UserID, amount PositiveAmount, kind EntryKind) (Balance, EntryID, error) {
	if userID.IsZero() {
		return Balance{}, 0, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if _, err := NewPositiveAmount(amount.Int64()); err != nil {
		return Balance{}, 0, err
	}
	if err := service.locks.Acquire(ctx, userID); err != nil {
		return Balance{}, 0, err
	}
	defer service.locks.Release(userID)

	// The caller may go away now; the body must finish or compensate.
	bodyCtx := context.WithoutCancel(ctx)
	if err := service.recoverLocked(bodyCtx, userID); err != nil {
		return Balance{}, 0, err
	}

	var (
		result  Balance
		entryID EntryID
	)
	operationError := service.inTx(bodyCtx, func(ctx context.Context, balances BalanceStore, history HistoryStore) error {
		current, err := balances.ReadBalance(ctx, userID)
		if err != nil {
			return classifyStoreError(errorSubjectBalance, errorCodeRead, err)
		}
		next, err := nextPoint(current.Point, amount, kind)
		if err != nil {
			return err
		}
		nowUnixMilli := service.nowFn()
		input, err := NewEntryInput(userID, amount, kind, nowUnixMilli)
		if err != nil {
			return err
		}
		entry, err := history.AppendEntry(ctx, input)
		if err != nil {
			return classifyStoreError(errorSubjectEntry, errorCodeAppend, err)
		}
		stored, err := balances.WriteBalance(ctx, userID, next, nowUnixMilli)
		if err != nil {
			service.compensate(ctx, balances, history, entry, nil)
			return classifyStoreError(errorSubjectBalance, errorCodeWrite, err)
		}
		if err := history.CommitEntry(ctx, userID, entry.EntryID); err != nil {
			service.compensate(ctx, balances, history, entry, &current)
			return classifyStoreError(errorSubjectEntry, errorCodeCommit, err)
		}
		result = stored
		entryID = entry.EntryID
		return nil
	})
	if operationError != nil {
		if !IsRejection(operationError) {
			service.markDirty(userID)
		}
		return Balance{}, 0, operationError
	}
	return result, entryID, nil
}

// compensate undoes a half-applied mutation on stores without transactions.
// Failures are left for the recovery scan, which runs before the key is used again.
func (service *Service) compensate(ctx context.Context, balances BalanceStore, history HistoryStore, entry HistoryEntry, previous *Balance) {
	if service.transactor != nil {
		return
	}
	if previous != nil {
		if _, err := balances.WriteBalance(ctx, previous.UserID, previous.Point, previous.UpdatedUnixMilli); err != nil {
			return
		}
	}
	_ = history.DiscardEntry(ctx, entry.UserID, entry.EntryID)
}

// ensureRecovered runs the recovery scan for keys not seen by this process yet.
func (service *Service) ensureRecovered(ctx context.Context, userID UserID) error {
	if service.isRecovered(userID) {
		return nil
	}
	if err := service.locks.Acquire(ctx, userID); err != nil {
		return err
	}
	defer service.locks.Release(userID)
	return service.recoverLocked(context.WithoutCancel(ctx), userID)
}

// recoverLocked resolves pending entries left by an interrupted mutation.
// A pending entry whose delta the stored balance already reflects is
// committed; any other pending entry is discarded. The caller holds the key.
func (service *Service) recoverLocked(ctx context.Context, userID UserID) error {
	if service.isRecovered(userID) {
		return nil
	}
	var logs []OperationLog
	err := service.inTx(ctx, func(ctx context.Context, balances BalanceStore, history HistoryStore) error {
		logs = logs[:0]
		entries, err := service.listAll(ctx, history, userID)
		if err != nil {
			return err
		}
		balance, err := balances.ReadBalance(ctx, userID)
		if err != nil {
			return classifyStoreError(errorSubjectBalance, errorCodeRead, err)
		}
		var folded int64
		pending := make([]HistoryEntry, 0, 1)
		for _, entry := range entries {
			if entry.Status == EntryCommitted {
				folded += entry.Delta()
				continue
			}
			pending = append(pending, entry)
		}
		for _, entry := range pending {
			if folded+entry.Delta() == balance.Point.Int64() {
				if err := history.CommitEntry(ctx, userID, entry.EntryID); err != nil {
					return classifyStoreError(errorSubjectEntry, errorCodeCommit, err)
				}
				folded += entry.Delta()
				logs = append(logs, OperationLog{Operation: operationRecover, UserID: userID, Amount: entry.Amount, EntryID: entry.EntryID, Status: EntryCommitted.String()})
				continue
			}
			if err := history.DiscardEntry(ctx, userID, entry.EntryID); err != nil {
				return classifyStoreError(errorSubjectEntry, errorCodeDiscard, err)
			}
			logs = append(logs, OperationLog{Operation: operationRecover, UserID: userID, Amount: entry.Amount, EntryID: entry.EntryID, Status: entryStatusDiscarded})
		}
		if folded == balance.Point.Int64() {
			return nil
		}
		repairedPoint, err := NewPoint(folded)
		if err != nil {
			return WrapError(errorSubjectService, errorSubjectBalance, errorCodeInconsistent, err)
		}
		if _, err := balances.WriteBalance(ctx, userID, repairedPoint, service.nowFn()); err != nil {
			return classifyStoreError(errorSubjectBalance, errorCodeWrite, err)
		}
		logs = append(logs, OperationLog{Operation: operationRecover, UserID: userID, Point: repairedPoint, Status: operationStatusRepaired})
		return nil
	})
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationRecover, UserID: userID, Error: err})
		return err
	}
	for _, entry := range logs {
		service.logOperation(ctx, entry)
	}
	service.recoveredMu.Lock()
	service.recovered[userID] = struct{}{}
	service.recoveredMu.Unlock()
	return nil
}

func (service *Service) listAll(ctx context.Context, history HistoryStore, userID UserID) ([]HistoryEntry, error) {
	entries := make([]HistoryEntry, 0)
	var afterEntryID EntryID
	for {
		page, err := history.ListEntries(ctx, userID, afterEntryID, service.pageSize)
		if err != nil {
			return nil, classifyStoreError(errorSubjectEntry, errorCodeList, err)
		}
		entries = append(entries, page...)
		if len(page) < service.pageSize {
			return entries, nil
		}
		afterEntryID = page[len(page)-1].EntryID
	}
}

func (service *Service) inTx(ctx context.Context, fn func(ctx context.Context, balances BalanceStore, history HistoryStore) error) error {
	if service.transactor == nil {
		return fn(ctx, service.balances, service.history)
	}
	err := service.transactor.WithTx(ctx, fn)
	if err == nil || isClassified(err) {
		return err
	}
	return classifyStoreError(errorSubjectTransaction, errorCodeCommit, err)
}

func (service *Service) isRecovered(userID UserID) bool {
	service.recoveredMu.Lock()
	defer service.recoveredMu.Unlock()
	_, ok := service.recovered[userID]
	return ok
}

func (service *Service) markDirty(userID UserID) {
	service.recoveredMu.Lock()
	delete(service.recovered, userID)
	service.recoveredMu.Unlock()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func nextPoint(current Point, amount PositiveAmount, kind EntryKind) (Point, error) {
	if kind == EntryUse {
		if current.Int64() < amount.Int64() {
			return 0, ErrInsufficientBalance
		}
		return NewPoint(current.Int64() - amount.Int64())
	}
	if current.Int64() > math.MaxInt64-amount.Int64() {
		return 0, WrapError(errorSubjectService, errorSubjectBalance, errorCodeOverflow, ErrInvalidAmount)
	}
	return NewPoint(current.Int64() + amount.Int64())
}

// classifyStoreError marks raw store errors as ErrStoreUnavailable, keeping
// errors a store already classified intact.
func classifyStoreError(subject string, code string, err error) error {
	if isClassified(err) {
		return err
	}
	return StoreError(subject, code, err)
}

func isClassified(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrUnknownEntry) || IsRejection(err)
}

// IsRejection reports errors raised by validation rather than by a store.
// A rejected operation changed nothing.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidPoint) ||
		errors.Is(err, ErrInvalidEntryKind)
}
