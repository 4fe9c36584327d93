// Package boltstore persists balances and history in a single BoltDB file.
//
// Balances live in the user_points bucket keyed by the big-endian user id.
// History lives in one nested bucket per user under point_histories, keyed by
// the big-endian entry id, so a cursor walks entries in append order. Entry
// ids come from the sequence of the point_histories bucket and are unique
// across users.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
)

const (
	bucketUserPoints     = "user_points"
	bucketPointHistories = "point_histories"
	fileMode             = 0o600
	openTimeout          = time.Second

	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectSchema      = "schema"
	errorSubjectTransaction = "transaction"
	errorCodeAppend         = "append"
	errorCodeCommit         = "commit"
	errorCodeDecode         = "decode"
	errorCodeDiscard        = "discard"
	errorCodeList           = "list"
	errorCodeOpen           = "open"
	errorCodeRead           = "read"
	errorCodeWrite          = "write"
)

var errMissingBucket = errors.New("bucket missing")

type balanceRecord struct {
	Point            int64 `json:"point"`
	UpdatedUnixMilli int64 `json:"updatedUnixMilli"`
}

type entryRecord struct {
	Amount           int64  `json:"amount"`
	Type             string `json:"type"`
	Status           string `json:"status"`
	CreatedUnixMilli int64  `json:"createdUnixMilli"`
}

// Store implements ledger.BalanceStore, ledger.HistoryStore and ledger.Transactor on BoltDB.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and ensures the buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, ledger.StoreError(errorSubjectSchema, errorCodeOpen, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketUserPoints, bucketPointHistories} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, ledger.StoreError(errorSubjectSchema, errorCodeOpen, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (store *Store) Close() error {
	return store.db.Close()
}

// WithTx executes fn within a single read-write transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, balances ledger.BalanceStore, history ledger.HistoryStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.db.Update(func(tx *bolt.Tx) error {
		txStore := &TxStore{tx: tx}
		return fn(ctx, txStore, txStore)
	})
}

func (store *Store) ReadBalance(ctx context.Context, userID ledger.UserID) (ledger.Balance, error) {
	var balance ledger.Balance
	err := store.db.View(func(tx *bolt.Tx) error {
		var err error
		balance, err = (&TxStore{tx: tx}).ReadBalance(ctx, userID)
		return err
	})
	return balance, err
}

func (store *Store) WriteBalance(ctx context.Context, userID ledger.UserID, point ledger.Point, updatedUnixMilli int64) (ledger.Balance, error) {
	var balance ledger.Balance
	err := store.update(func(txStore *TxStore) error {
		var err error
		balance, err = txStore.WriteBalance(ctx, userID, point, updatedUnixMilli)
		return err
	})
	return balance, err
}

func (store *Store) AppendEntry(ctx context.Context, input ledger.EntryInput) (ledger.HistoryEntry, error) {
	var entry ledger.HistoryEntry
	err := store.update(func(txStore *TxStore) error {
		var err error
		entry, err = txStore.AppendEntry(ctx, input)
		return err
	})
	return entry, err
}

func (store *Store) CommitEntry(ctx context.Context, userID ledger.UserID, entryID ledger.EntryID) error {
	return store.update(func(txStore *TxStore) error {
		return txStore.CommitEntry(ctx, userID, entryID)
	})
}

func (store *Store) DiscardEntry(ctx context.Context, userID ledger.UserID, entryID ledger.EntryID) error {
	return store.update(func(txStore *TxStore) error {
		return txStore.DiscardEntry(ctx, userID, entryID)
	})
}

func (store *Store) ListEntries(ctx context.Context, userID ledger.UserID, afterEntryID ledger.EntryID, limit int) ([]ledger.HistoryEntry, error) {
	var entries []ledger.HistoryEntry
	err := store.db.View(func(tx *bolt.Tx) error {
		var err error
		entries, err = (&TxStore{tx: tx}).ListEntries(ctx, userID, afterEntryID, limit)
		return err
	})
	return entries, err
}

// update wraps bolt commit failures; errors returned by fn are already classified.
func (store *Store) update(fn func(txStore *TxStore) error) error {
	var fnErr error
	err := store.db.Update(func(tx *bolt.Tx) error {
		fnErr = fn(&TxStore{tx: tx})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return ledger.StoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return err
}

// TxStore implements the ledger stores for an active bolt transaction.
type TxStore struct {
	tx *bolt.Tx
}

func (store *TxStore) ReadBalance(_ context.Context, userID ledger.UserID) (ledger.Balance, error) {
	bucket := store.tx.Bucket([]byte(bucketUserPoints))
	if bucket == nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeRead, errMissingBucket)
	}
	raw := bucket.Get(encodeKey(userID.Int64()))
	if raw == nil {
		return ledger.ZeroBalance(userID), nil
	}
	var record balanceRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeDecode, err)
	}
	point, err := ledger.NewPoint(record.Point)
	if err != nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeDecode, err)
	}
	return ledger.Balance{UserID: userID, Point: point, UpdatedUnixMilli: record.UpdatedUnixMilli}, nil
}

func (store *TxStore) WriteBalance(_ context.Context, userID ledger.UserID, point ledger.Point, updatedUnixMilli int64) (ledger.Balance, error) {
	bucket := store.tx.Bucket([]byte(bucketUserPoints))
	if bucket == nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeWrite, errMissingBucket)
	}
	raw, err := json.Marshal(balanceRecord{Point: point.Int64(), UpdatedUnixMilli: updatedUnixMilli})
	if err != nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeWrite, err)
	}
	if err := bucket.Put(encodeKey(userID.Int64()), raw); err != nil {
		return ledger.Balance{}, ledger.StoreError(errorSubjectBalance, errorCodeWrite, err)
	}
	return ledger.Balance{UserID: userID, Point: point, UpdatedUnixMilli: updatedUnixMilli}, nil
}

func (store *TxStore) AppendEntry(_ context.Context, input ledger.EntryInput) (ledger.HistoryEntry, error) {
	root := store.tx.Bucket([]byte(bucketPointHistories))
	if root == nil {
		return ledger.HistoryEntry{}, ledger.StoreError(errorSubjectEntry, errorCodeAppend, errMissingBucket)
	}
	userBucket, err := root.CreateBucketIfNotExists(encodeKey(input.UserID.Int64()))
	if err != nil {
		return ledger.HistoryEntry{}, ledger.StoreError(errorSubjectEntry, errorCodeAppend, err)
	}
	sequence, err := root.NextSequence()
	if err != nil {
		return ledger.HistoryEntry{}, ledger.StoreError(errorSubjectEntry, errorCodeAppend, err)
	}
	entry, err := ledger.NewHistoryEntry(ledger.EntryID(sequence), input, ledger.EntryPending)
	if err != nil {
		return ledger.HistoryEntry{}, ledger.StoreError(errorSubjectEntry, errorCodeAppend, err)
	}
	if err := putEntry(userBucket, entry); err != nil {
		return ledger.HistoryEntry{}, ledger.StoreError(errorSubjectEntry, errorCodeAppend, err)
	}
	return entry, nil
}

func (store *TxStore) CommitEntry(_ context.Context, userID ledger.UserID, entryID ledger.EntryID) error {
	userBucket, entry, err := store.lookupEntry(userID, entryID)
	if err != nil {
		return ledger.StoreError(errorSubjectEntry, errorCodeCommit, err)
	}
	entry.Status = ledger.EntryCommitted
	if err := putEntry(userBucket, entry); err != nil {
		return ledger.StoreError(errorSubjectEntry, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) DiscardEntry(_ context.Context, userID ledger.UserID, entryID ledger.EntryID) error {
	userBucket, entry, err := store.lookupEntry(userID, entryID)
	if err != nil {
		return ledger.StoreError(errorSubjectEntry, errorCodeDiscard, err)
	}
	if entry.Status != ledger.EntryPending {
		return ledger.StoreError(errorSubjectEntry, errorCodeDiscard, ledger.ErrUnknownEntry)
	}
	if err := userBucket.Delete(encodeKey(entryID.Int64())); err != nil {
		return ledger.StoreError(errorSubjectEntry, errorCodeDiscard, err)
	}
	return nil
}

func (store *TxStore) ListEntries(_ context.Context, userID ledger.UserID, afterEntryID ledger.EntryID, limit int) ([]ledger.HistoryEntry, error) {
	entries := make([]ledger.HistoryEntry, 0)
	root := store.tx.Bucket([]byte(bucketPointHistories))
	if root == nil {
		return nil, ledger.StoreError(errorSubjectEntry, errorCodeList, errMissingBucket)
	}
	userBucket := root.Bucket(encodeKey(userID.Int64()))
	if userBucket == nil {
		return entries, nil
	}
	cursor := userBucket.Cursor()
	for key, value := cursor.Seek(encodeKey(afterEntryID.Int64() + 1)); key != nil; key, value = cursor.Next() {
		if limit > 0 && len(entries) == limit {
			break
		}
		entry, err := decodeEntry(userID, key, value)
		if err != nil {
			return nil, ledger.StoreError(errorSubjectEntry, errorCodeDecode, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *TxStore) lookupEntry(userID ledger.UserID, entryID ledger.EntryID) (*bolt.Bucket, ledger.HistoryEntry, error) {
	root := store.tx.Bucket([]byte(bucketPointHistories))
	if root == nil {
		return nil, ledger.HistoryEntry{}, errMissingBucket
	}
	userBucket := root.Bucket(encodeKey(userID.Int64()))
	if userBucket == nil {
		return nil, ledger.HistoryEntry{}, ledger.ErrUnknownEntry
	}
	key := encodeKey(entryID.Int64())
	raw := userBucket.Get(key)
	if raw == nil {
		return nil, ledger.HistoryEntry{}, ledger.ErrUnknownEntry
	}
	entry, err := decodeEntry(userID, key, raw)
	if err != nil {
		return nil, ledger.HistoryEntry{}, err
	}
	return userBucket, entry, nil
}

func putEntry(bucket *bolt.Bucket, entry ledger.HistoryEntry) error {
	raw, err := json.Marshal(entryRecord{
		Amount:           entry.Amount.Int64(),
		Type:             entry.Kind.String(),
		Status:           entry.Status.String(),
		CreatedUnixMilli: entry.CreatedUnixMilli,
	})
	if err != nil {
		return err
	}
	return bucket.Put(encodeKey(entry.EntryID.Int64()), raw)
}

func decodeEntry(userID ledger.UserID, key []byte, raw []byte) (ledger.HistoryEntry, error) {
	if len(key) != 8 {
		return ledger.HistoryEntry{}, fmt.Errorf("%w: key of length %d", ledger.ErrInvalidEntryID, len(key))
	}
	var record entryRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return ledger.HistoryEntry{}, err
	}
	amount, err := ledger.NewPositiveAmount(record.Amount)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	kind, err := ledger.ParseEntryKind(record.Type)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	status, err := ledger.ParseEntryStatus(record.Status)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	input, err := ledger.NewEntryInput(userID, amount, kind, record.CreatedUnixMilli)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	return ledger.NewHistoryEntry(ledger.EntryID(binary.BigEndian.Uint64(key)), input, status)
}

func encodeKey(value int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(value))
	return key
}
