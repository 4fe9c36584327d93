package pointapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/pointledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/pointledger/internal/oplog"
	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
	"go.uber.org/zap"
)

// Run boots the point API using the supplied configuration and blocks until
// ctx is done or the server fails.
func Run(ctx context.Context, cfg Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	return Serve(ctx, cfg, logger)
}

// Serve is Run with a caller-provided logger.
func Serve(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	target, err := parseStorageURL(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database url: %w", err)
	}
	backend, err := openStorage(ctx, target)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() {
		if closeErr := backend.close(); closeErr != nil {
			logger.Warn("database close error", zap.Error(closeErr))
		}
	}()

	registry := metrics.New()
	service, err := newService(backend, logger, registry, systemClock)
	if err != nil {
		return fmt.Errorf("point service init: %w", err)
	}

	handler := &httpHandler{logger: logger, service: service}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           setupRouter(cfg, handler, registry),
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pointd listening", zap.String("addr", cfg.ListenAddr), zap.String("driver", backend.driver))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func systemClock() int64 {
	return time.Now().UTC().UnixMilli()
}

func newService(backend *storage, logger *zap.Logger, registry *metrics.Metrics, clock func() int64) (*ledger.Service, error) {
	options := []ledger.ServiceOption{
		ledger.WithOperationLogger(oplog.NewChain(oplog.NewZapLogger(logger), registry)),
	}
	if backend.transactor != nil {
		options = append(options, ledger.WithTransactor(backend.transactor))
	}
	return ledger.NewService(backend.balances, backend.history, clock, options...)
}
