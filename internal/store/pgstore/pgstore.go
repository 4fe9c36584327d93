// Package pgstore implements the ledger stores directly on a pgx pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgCheckViolationCode    = "23514"
	errorOperationStore     = "store"
	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectSchema      = "schema"
	errorSubjectTransaction = "transaction"
	errorCodeAppend         = "append"
	errorCodeBegin          = "begin"
	errorCodeCheck          = "check"
	errorCodeCommit         = "commit"
	errorCodeDiscard        = "discard"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeMigrate        = "migrate"
	errorCodeOpen           = "open"
	errorCodeRead           = "read"
	errorCodeWrite          = "write"

	sqlSchema = `
		create table if not exists user_points (
			user_id bigint primary key,
			point bigint not null check (point >= 0),
			updated_unix_milli bigint not null
		);
		create table if not exists point_histories (
			id bigserial primary key,
			user_id bigint not null,
			amount bigint not null check (amount > 0),
			type text not null check (type in ('CHARGE', 'USE')),
			status text not null check (status in ('pending', 'committed')),
			created_unix_milli bigint not null
		);
		create index if not exists idx_point_histories_user_id on point_histories (user_id, id);
	`

	sqlSelectBalance = `
		select point, updated_unix_milli from user_points where user_id = $1
	`

	sqlUpsertBalance = `
		insert into user_points (user_id, point, updated_unix_milli) values ($1, $2, $3)
		on conflict (user_id) do update set point = excluded.point, updated_unix_milli = excluded.updated_unix_milli
	`

	sqlInsertEntry = `
		insert into point_histories (user_id, amount, type, status, created_unix_milli)
		values ($1, $2, $3, 'pending', $4)
		returning id
	`

	sqlCommitEntry = `
		update point_histories set status = 'committed' where id = $1 and user_id = $2
	`

	sqlDiscardEntry = `
		delete from point_histories where id = $1 and user_id = $2 and status = 'pending'
	`

	sqlListEntriesAfter = `
		select id, user_id, amount, type, status, created_unix_milli
		from point_histories
		where user_id = $1 and id > $2
		order by id asc
		limit $3
	`
)

// querier is the subset of pgx shared by a pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements the ledger stores using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements the ledger stores for an active transaction.
type TxStore struct {
	queries
}

type queries struct {
	db querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// Open connects a pool to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, ledger.StoreError(errorSubjectSchema, errorCodeOpen, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, ledger.StoreError(errorSubjectSchema, errorCodeOpen, err)
	}
	return pool, nil
}

// Migrate creates the tables used by the Store.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, sqlSchema); err != nil {
		return ledger.StoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, balances ledger.BalanceStore, history ledger.HistoryStore) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ledger.StoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}}
	if err := fn(ctx, transactionStore, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.StoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store queries) ReadBalance(ctx context.Context, userID ledger.UserID) (ledger.Balance, error) {
	var (
		pointValue       int64
		updatedUnixMilli int64
	)
	err := store.db.QueryRow(ctx, sqlSelectBalance, userID.Int64()).Scan(&pointValue, &updatedUnixMilli)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ZeroBalance(userID), nil
	}
	if err != nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeRead, err)
	}
	point, err := ledger.NewPoint(pointValue)
	if err != nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return ledger.Balance{UserID: userID, Point: point, UpdatedUnixMilli: updatedUnixMilli}, nil
}

func (store queries) WriteBalance(ctx context.Context, userID ledger.UserID, point ledger.Point, updatedUnixMilli int64) (ledger.Balance, error) {
	_, err := store.db.Exec(ctx, sqlUpsertBalance, userID.Int64(), point.Int64(), updatedUnixMilli)
	if isCheckViolation(err) {
		return ledger.Balance{}, ledger.WrapError(errorOperationStore, errorSubjectBalance, errorCodeCheck, fmt.Errorf("%w: %v", ledger.ErrInvalidPoint, err))
	}
	if err != nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeWrite, err)
	}
	return ledger.Balance{UserID: userID, Point: point, UpdatedUnixMilli: updatedUnixMilli}, nil
}

func (store queries) AppendEntry(ctx context.Context, input ledger.EntryInput) (ledger.HistoryEntry, error) {
	var entryIDValue int64
	err := store.db.QueryRow(ctx, sqlInsertEntry, input.UserID.Int64(), input.Amount.Int64(), input.Kind.String(), input.CreatedUnixMilli).Scan(&entryIDValue)
	if isCheckViolation(err) {
		return ledger.HistoryEntry{}, ledger.WrapError(errorOperationStore, errorSubjectEntry, errorCodeCheck, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err))
	}
	if err != nil {
		return ledger.HistoryEntry{}, ledger.StoreError(errorSubjectEntry, errorCodeAppend, err)
	}
	entry, err := ledger.NewHistoryEntry(ledger.EntryID(entryIDValue), input, ledger.EntryPending)
	if err != nil {
		return ledger.HistoryEntry{}, ledger.StoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func (store queries) CommitEntry(ctx context.Context, userID ledger.UserID, entryID ledger.EntryID) error {
	tag, err := store.db.Exec(ctx, sqlCommitEntry, entryID.Int64(), userID.Int64())
	if err != nil {
		return ledger.StoreError(errorSubjectEntry, errorCodeCommit, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.StoreError(errorSubjectEntry, errorCodeCommit, ledger.ErrUnknownEntry)
	}
	return nil
}

func (store queries) DiscardEntry(ctx context.Context, userID ledger.UserID, entryID ledger.EntryID) error {
	tag, err := store.db.Exec(ctx, sqlDiscardEntry, entryID.Int64(), userID.Int64())
	if err != nil {
		return ledger.StoreError(errorSubjectEntry, errorCodeDiscard, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.StoreError(errorSubjectEntry, errorCodeDiscard, ledger.ErrUnknownEntry)
	}
	return nil
}

func (store queries) ListEntries(ctx context.Context, userID ledger.UserID, afterEntryID ledger.EntryID, limit int) ([]ledger.HistoryEntry, error) {
	// limit null means no limit.
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := store.db.Query(ctx, sqlListEntriesAfter, userID.Int64(), afterEntryID.Int64(), limitArg)
	if err != nil {
		return nil, ledger.StoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()

	entries := make([]ledger.HistoryEntry, 0)
	for rows.Next() {
		var (
			entryIDValue     int64
			userIDValue      int64
			amountValue      int64
			kindValue        string
			statusValue      string
			createdUnixMilli int64
		)
		if err := rows.Scan(&entryIDValue, &userIDValue, &amountValue, &kindValue, &statusValue, &createdUnixMilli); err != nil {
			return nil, ledger.StoreError(errorSubjectEntry, errorCodeList, err)
		}
		entry, err := mapEntryRow(entryIDValue, userIDValue, amountValue, kindValue, statusValue, createdUnixMilli)
		if err != nil {
			return nil, ledger.StoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.StoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func mapEntryRow(entryIDValue int64, userIDValue int64, amountValue int64, kindValue string, statusValue string, createdUnixMilli int64) (ledger.HistoryEntry, error) {
	userID, err := ledger.NewUserID(userIDValue)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	amount, err := ledger.NewPositiveAmount(amountValue)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	kind, err := ledger.ParseEntryKind(kindValue)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	status, err := ledger.ParseEntryStatus(statusValue)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	input, err := ledger.NewEntryInput(userID, amount, kind, createdUnixMilli)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	return ledger.NewHistoryEntry(ledger.EntryID(entryIDValue), input, status)
}

func isCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCheckViolationCode
	}
	return false
}
