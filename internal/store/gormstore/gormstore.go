package gormstore

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnUserID           = "user_id"
	columnPoint            = "point"
	columnUpdatedUnixMilli = "updated_unix_milli"
	columnStatus           = "status"
	errorSubjectBalance    = "balance"
	errorSubjectEntry      = "entry"
	errorSubjectSchema     = "schema"
	errorCodeAppend        = "append"
	errorCodeCommit        = "commit"
	errorCodeDiscard       = "discard"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeMigrate       = "migrate"
	errorCodeRead          = "read"
	errorCodeWrite         = "write"
)

// Store implements ledger.BalanceStore, ledger.HistoryStore and ledger.Transactor using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the tables used by the Store.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return ledger.StoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, balances ledger.BalanceStore, history ledger.HistoryStore) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		txStore := &Store{db: transaction}
		return fn(ctx, txStore, txStore)
	})
}

func (store *Store) ReadBalance(ctx context.Context, userID ledger.UserID) (ledger.Balance, error) {
	var rows []UserPoint
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.Int64()).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeRead, err)
	}
	if len(rows) == 0 {
		return ledger.ZeroBalance(userID), nil
	}
	point, err := ledger.NewPoint(rows[0].Point)
	if err != nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return ledger.Balance{UserID: userID, Point: point, UpdatedUnixMilli: rows[0].UpdatedUnixMilli}, nil
}

func (store *Store) WriteBalance(ctx context.Context, userID ledger.UserID, point ledger.Point, updatedUnixMilli int64) (ledger.Balance, error) {
	row := UserPoint{UserID: userID.Int64(), Point: point.Int64(), UpdatedUnixMilli: updatedUnixMilli}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnUserID}},
			DoUpdates: clause.AssignmentColumns([]string{columnPoint, columnUpdatedUnixMilli}),
		}).
		Create(&row).Error
	if err != nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeWrite, err)
	}
	return ledger.Balance{UserID: userID, Point: point, UpdatedUnixMilli: updatedUnixMilli}, nil
}

func (store *Store) AppendEntry(ctx context.Context, input ledger.EntryInput) (ledger.HistoryEntry, error) {
	row := PointHistory{
		UserID:           input.UserID.Int64(),
		Amount:           input.Amount.Int64(),
		Type:             input.Kind.String(),
		Status:           ledger.EntryPending.String(),
		CreatedUnixMilli: input.CreatedUnixMilli,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.HistoryEntry{}, ledger.StoreError(errorSubjectEntry, errorCodeAppend, err)
	}
	entry, err := ledger.NewHistoryEntry(ledger.EntryID(row.ID), input, ledger.EntryPending)
	if err != nil {
		return ledger.HistoryEntry{}, ledger.StoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func (store *Store) CommitEntry(ctx context.Context, userID ledger.UserID, entryID ledger.EntryID) error {
	result := store.db.WithContext(ctx).
		Model(&PointHistory{}).
		Where("id = ? AND user_id = ?", entryID.Int64(), userID.Int64()).
		Update(columnStatus, ledger.EntryCommitted.String())
	if result.Error != nil {
		return ledger.StoreError(errorSubjectEntry, errorCodeCommit, result.Error)
	}
	if result.RowsAffected == 0 {
		return ledger.StoreError(errorSubjectEntry, errorCodeCommit, ledger.ErrUnknownEntry)
	}
	return nil
}

func (store *Store) DiscardEntry(ctx context.Context, userID ledger.UserID, entryID ledger.EntryID) error {
	result := store.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND status = ?", entryID.Int64(), userID.Int64(), ledger.EntryPending.String()).
		Delete(&PointHistory{})
	if result.Error != nil {
		return ledger.StoreError(errorSubjectEntry, errorCodeDiscard, result.Error)
	}
	if result.RowsAffected == 0 {
		return ledger.StoreError(errorSubjectEntry, errorCodeDiscard, ledger.ErrUnknownEntry)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, userID ledger.UserID, afterEntryID ledger.EntryID, limit int) ([]ledger.HistoryEntry, error) {
	var rows []PointHistory
	query := store.db.WithContext(ctx).
		Where("user_id = ? AND id > ?", userID.Int64(), afterEntryID.Int64()).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&rows).Error
	if err != nil {
		return nil, ledger.StoreError(errorSubjectEntry, errorCodeList, err)
	}

	entries := make([]ledger.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapPointHistory(row)
		if err != nil {
			return nil, ledger.StoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mapPointHistory(row PointHistory) (ledger.HistoryEntry, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	amount, err := ledger.NewPositiveAmount(row.Amount)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	kind, err := ledger.ParseEntryKind(row.Type)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	status, err := ledger.ParseEntryStatus(row.Status)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	input, err := ledger.NewEntryInput(userID, amount, kind, row.CreatedUnixMilli)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	entry, err := ledger.NewHistoryEntry(ledger.EntryID(row.ID), input, status)
	if err != nil {
		return ledger.HistoryEntry{}, fmt.Errorf("point history %d: %w", row.ID, err)
	}
	return entry, nil
}
