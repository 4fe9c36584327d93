// Package oplog adapts ledger operation callbacks to zap and fans them out.
package oplog

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	fieldOperation = "operation"
	fieldUserID    = "user_id"
	fieldAmount    = "amount"
	fieldPoint     = "point"
	fieldEntryID   = "entry_id"
	fieldStatus    = "status"
	fieldRequestID = "request_id"
	messageLedger  = "ledger operation"
)

type requestIDKey struct{}

// WithRequestID returns a context whose operation logs carry requestID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the request id stored by WithRequestID.
func RequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(requestIDKey{}).(string)
	return requestID, ok && requestID != ""
}

// ZapLogger writes every operation as one structured zap entry.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps logger. A nil logger discards entries.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

// LogOperation implements ledger.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String(fieldOperation, entry.Operation),
		zap.Int64(fieldUserID, entry.UserID.Int64()),
		zap.String(fieldStatus, entry.Status),
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64(fieldAmount, entry.Amount.Int64()))
	}
	if entry.EntryID != 0 {
		fields = append(fields, zap.Int64(fieldEntryID, entry.EntryID.Int64()))
	}
	if entry.Error == nil {
		fields = append(fields, zap.Int64(fieldPoint, entry.Point.Int64()))
	}
	if requestID, ok := RequestID(ctx); ok {
		fields = append(fields, zap.String(fieldRequestID, requestID))
	}
	level := zapcore.InfoLevel
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		level = levelFor(entry.Error)
	}
	if checked := zapLogger.logger.Check(level, messageLedger); checked != nil {
		checked.Write(fields...)
	}
}

// levelFor keeps expected rejections out of the error stream.
func levelFor(err error) zapcore.Level {
	switch {
	case ledger.IsRejection(err):
		return zapcore.InfoLevel
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Chain fans one operation out to several loggers in order.
type Chain []ledger.OperationLogger

// NewChain drops nil loggers.
func NewChain(loggers ...ledger.OperationLogger) Chain {
	chain := make(Chain, 0, len(loggers))
	for _, logger := range loggers {
		if logger != nil {
			chain = append(chain, logger)
		}
	}
	return chain
}

// LogOperation implements ledger.OperationLogger.
func (chain Chain) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	for _, logger := range chain {
		logger.LogOperation(ctx, entry)
	}
}
