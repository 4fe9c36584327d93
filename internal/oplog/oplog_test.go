package oplog

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerWritesFields(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))
	userID := mustUserID(test, 4)

	ctx := WithRequestID(context.Background(), "req-1")
	logger.LogOperation(ctx, ledger.OperationLog{Operation: "charge", UserID: userID, Amount: 10, Point: 110, EntryID: 7, Status: "ok"})

	entries := recorded.AllUntimed()
	if len(entries) != 1 {
		test.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel || entry.Message != messageLedger {
		test.Fatalf("unexpected entry: %+v", entry.Entry)
	}
	fields := entry.ContextMap()
	expected := map[string]any{
		fieldOperation: "charge",
		fieldUserID:    int64(4),
		fieldAmount:    int64(10),
		fieldPoint:     int64(110),
		fieldEntryID:   int64(7),
		fieldStatus:    "ok",
		fieldRequestID: "req-1",
	}
	for key, want := range expected {
		if fields[key] != want {
			test.Fatalf("field %s: expected %v, got %v", key, want, fields[key])
		}
	}
}

func TestZapLoggerLevels(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		err       error
		wantLevel zapcore.Level
	}{
		{name: "rejection", err: ledger.ErrInsufficientBalance, wantLevel: zapcore.InfoLevel},
		{name: "canceled", err: context.Canceled, wantLevel: zapcore.WarnLevel},
		{name: "store failure", err: ledger.StoreError("balance", "read", errors.New("boom")), wantLevel: zapcore.ErrorLevel},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			core, recorded := observer.New(zapcore.DebugLevel)
			logger := NewZapLogger(zap.New(core))
			logger.LogOperation(context.Background(), ledger.OperationLog{Operation: "use", UserID: mustUserID(test, 1), Status: "error", Error: testCase.err})
			entries := recorded.AllUntimed()
			if len(entries) != 1 || entries[0].Level != testCase.wantLevel {
				test.Fatalf("expected one %s entry, got %+v", testCase.wantLevel, entries)
			}
			if _, ok := entries[0].ContextMap()[fieldPoint]; ok {
				test.Fatalf("expected failed operations to omit the point field")
			}
		})
	}
}

func TestNilZapLoggerDiscards(test *testing.T) {
	test.Parallel()
	NewZapLogger(nil).LogOperation(context.Background(), ledger.OperationLog{Operation: "charge"})
}

type countingLogger struct {
	count int
}

func (logger *countingLogger) LogOperation(context.Context, ledger.OperationLog) {
	logger.count++
}

func TestChainFansOut(test *testing.T) {
	test.Parallel()
	first := &countingLogger{}
	second := &countingLogger{}
	chain := NewChain(first, nil, second)
	if len(chain) != 2 {
		test.Fatalf("expected nil loggers to be dropped, got %d", len(chain))
	}
	chain.LogOperation(context.Background(), ledger.OperationLog{Operation: "charge"})
	chain.LogOperation(context.Background(), ledger.OperationLog{Operation: "use"})
	if first.count != 2 || second.count != 2 {
		test.Fatalf("expected both loggers to see two entries, got %d and %d", first.count, second.count)
	}
}

func TestRequestIDMissing(test *testing.T) {
	test.Parallel()
	if _, ok := RequestID(context.Background()); ok {
		test.Fatalf("expected no request id")
	}
	if _, ok := RequestID(WithRequestID(context.Background(), "")); ok {
		test.Fatalf("expected empty request id to be ignored")
	}
}

func mustUserID(test *testing.T, raw int64) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}
