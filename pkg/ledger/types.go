package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// UserID identifies a point owner.
type UserID struct {
	value int64
}

// NewUserID validates a user id. Ids are strictly positive.
func NewUserID(raw int64) (UserID, error) {
	if raw <= 0 {
		return UserID{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidUserID)
	}
	return UserID{value: raw}, nil
}

// ParseUserID parses a base-10 user id, as found in a request path.
func ParseUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return UserID{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidUserID, trimmed)
	}
	return NewUserID(value)
}

// Int64 returns the raw identifier.
func (id UserID) Int64() int64 {
	return id.value
}

// String returns the decimal identifier.
func (id UserID) String() string {
	return strconv.FormatInt(id.value, 10)
}

// IsZero reports whether the id was never validated.
func (id UserID) IsZero() bool {
	return id.value == 0
}

// PositiveAmount is a strictly positive number of points.
type PositiveAmount int64

// NewPositiveAmount validates an amount and ensures it is strictly positive.
func NewPositiveAmount(raw int64) (PositiveAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositiveAmount(raw), nil
}

// Int64 returns the raw amount.
func (amount PositiveAmount) Int64() int64 {
	return int64(amount)
}

// Point is a non-negative balance value.
type Point int64

// NewPoint validates a balance value.
func NewPoint(raw int64) (Point, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidPoint)
	}
	return Point(raw), nil
}

// Int64 returns the raw balance value.
func (point Point) Int64() int64 {
	return int64(point)
}

// EntryID orders history entries; larger ids were appended later.
type EntryID int64

// NewEntryID validates a store-assigned entry id.
func NewEntryID(raw int64) (EntryID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidEntryID)
	}
	return EntryID(raw), nil
}

// Int64 returns the raw entry id.
func (id EntryID) Int64() int64 {
	return int64(id)
}

// EntryKind enumerates history entry kinds.
type EntryKind string

const (
	EntryCharge EntryKind = "CHARGE"
	EntryUse    EntryKind = "USE"
)

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	switch EntryKind(strings.TrimSpace(raw)) {
	case EntryCharge:
		return EntryCharge, nil
	case EntryUse:
		return EntryUse, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
	}
}

// String returns the stored representation.
func (kind EntryKind) String() string {
	return string(kind)
}

// Delta returns the signed balance change an entry of this kind applies.
func (kind EntryKind) Delta(amount PositiveAmount) int64 {
	if kind == EntryUse {
		return -amount.Int64()
	}
	return amount.Int64()
}

// EntryStatus tracks the two-step append protocol.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCommitted EntryStatus = "committed"
)

// ParseEntryStatus validates a stored entry status.
func ParseEntryStatus(raw string) (EntryStatus, error) {
	switch EntryStatus(strings.TrimSpace(raw)) {
	case EntryPending:
		return EntryPending, nil
	case EntryCommitted:
		return EntryCommitted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryStatus, raw)
	}
}

// String returns the stored representation.
func (status EntryStatus) String() string {
	return string(status)
}

// Balance is the current point total of a user.
type Balance struct {
	UserID           UserID
	Point            Point
	UpdatedUnixMilli int64
}

// ZeroBalance is the implicit balance of a user that was never charged.
func ZeroBalance(userID UserID) Balance {
	return Balance{UserID: userID}
}

// EntryInput describes a history entry before the store assigns its id.
type EntryInput struct {
	UserID           UserID
	Amount           PositiveAmount
	Kind             EntryKind
	CreatedUnixMilli int64
}

// NewEntryInput validates the parts of a history entry.
func NewEntryInput(userID UserID, amount PositiveAmount, kind EntryKind, createdUnixMilli int64) (EntryInput, error) {
	if userID.IsZero() {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if _, err := NewPositiveAmount(amount.Int64()); err != nil {
		return EntryInput{}, err
	}
	if _, err := ParseEntryKind(kind.String()); err != nil {
		return EntryInput{}, err
	}
	return EntryInput{
		UserID:           userID,
		Amount:           amount,
		Kind:             kind,
		CreatedUnixMilli: createdUnixMilli,
	}, nil
}

// HistoryEntry is a single line of a user's point history.
type HistoryEntry struct {
	EntryID          EntryID
	UserID           UserID
	Amount           PositiveAmount
	Kind             EntryKind
	Status           EntryStatus
	CreatedUnixMilli int64
}

// NewHistoryEntry validates a stored history entry.
func NewHistoryEntry(entryID EntryID, input EntryInput, status EntryStatus) (HistoryEntry, error) {
	if _, err := NewEntryID(entryID.Int64()); err != nil {
		return HistoryEntry{}, err
	}
	validated, err := NewEntryInput(input.UserID, input.Amount, input.Kind, input.CreatedUnixMilli)
	if err != nil {
		return HistoryEntry{}, err
	}
	if _, err := ParseEntryStatus(status.String()); err != nil {
		return HistoryEntry{}, err
	}
	return HistoryEntry{
		EntryID:          entryID,
		UserID:           validated.UserID,
		Amount:           validated.Amount,
		Kind:             validated.Kind,
		Status:           status,
		CreatedUnixMilli: validated.CreatedUnixMilli,
	}, nil
}

// Delta returns the signed balance change of the entry.
func (entry HistoryEntry) Delta() int64 {
	return entry.Kind.Delta(entry.Amount)
}

// BalanceStore persists the current balance of each user.
type BalanceStore interface {
	// ReadBalance returns a zero-point balance for unknown users.
	ReadBalance(ctx context.Context, userID UserID) (Balance, error)
	WriteBalance(ctx context.Context, userID UserID, point Point, updatedUnixMilli int64) (Balance, error)
}

// HistoryStore persists the append-only point history.
type HistoryStore interface {
	// AppendEntry stores the entry as pending and assigns its id.
	AppendEntry(ctx context.Context, input EntryInput) (HistoryEntry, error)
	CommitEntry(ctx context.Context, userID UserID, entryID EntryID) error
	// DiscardEntry removes a pending entry. Committed entries are never discarded.
	DiscardEntry(ctx context.Context, userID UserID, entryID EntryID) error
	// ListEntries returns up to limit entries with ids greater than afterEntryID, in append order.
	ListEntries(ctx context.Context, userID UserID, afterEntryID EntryID, limit int) ([]HistoryEntry, error)
}

// Transactor binds a BalanceStore and a HistoryStore to one transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, balances BalanceStore, history HistoryStore) error) error
}
