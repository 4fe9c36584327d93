package pointapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pointledger/internal/store/boltstore"
	"github.com/MarkoPoloResearchLab/pointledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/pointledger/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/pointledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
	driverPGX      = "pgx"
	driverBolt     = "bolt"

	queryLatency      = "latency"
	defaultSQLiteFile = "pointledger.db"
	defaultBoltFile   = "pointledger.bolt"
)

var errUnsupportedScheme = errors.New("unsupported database scheme")

type storageTarget struct {
	driver  string
	dsn     string
	path    string
	latency time.Duration
}

// storage is an opened backend. transactor is nil for stores without transactions.
type storage struct {
	driver     string
	balances   ledger.BalanceStore
	history    ledger.HistoryStore
	transactor ledger.Transactor
	close      func() error
}

func parseStorageURL(raw string) (storageTarget, error) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(trimmed, "memory://"):
		target := storageTarget{driver: driverMemory}
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return storageTarget{}, fmt.Errorf("parse memory url: %w", err)
		}
		if rawLatency := parsed.Query().Get(queryLatency); rawLatency != "" {
			latency, err := time.ParseDuration(rawLatency)
			if err != nil || latency < 0 {
				return storageTarget{}, fmt.Errorf("invalid %s %q", queryLatency, rawLatency)
			}
			target.latency = latency
		}
		return target, nil
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return storageTarget{driver: driverPostgres, dsn: trimmed}, nil
	case strings.HasPrefix(trimmed, "pgx://"):
		return storageTarget{driver: driverPGX, dsn: "postgres://" + strings.TrimPrefix(trimmed, "pgx://")}, nil
	case strings.HasPrefix(trimmed, "bolt://"):
		path, err := filePathFromURL(trimmed, defaultBoltFile)
		if err != nil {
			return storageTarget{}, err
		}
		return storageTarget{driver: driverBolt, path: path}, nil
	case strings.HasPrefix(trimmed, "sqlite://"):
		path, err := filePathFromURL(trimmed, defaultSQLiteFile)
		if err != nil {
			return storageTarget{}, err
		}
		return storageTarget{driver: driverSQLite, path: path}, nil
	case strings.Contains(trimmed, "://"):
		return storageTarget{}, fmt.Errorf("%w %q", errUnsupportedScheme, strings.SplitN(trimmed, "://", 2)[0])
	case trimmed == "":
		return storageTarget{}, fmt.Errorf("database url is required")
	default:
		// Treat everything else as a direct sqlite path.
		return storageTarget{driver: driverSQLite, path: trimmed}, nil
	}
}

func filePathFromURL(raw string, fallback string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if path == "" || path == "/" {
		path = fallback
	}
	return path, nil
}

func openStorage(ctx context.Context, target storageTarget) (*storage, error) {
	switch target.driver {
	case driverMemory:
		store := memstore.New(memstore.WithLatency(target.latency))
		return &storage{driver: target.driver, balances: store, history: store, close: func() error { return nil }}, nil
	case driverSQLite, driverPostgres:
		return openGorm(ctx, target)
	case driverPGX:
		pool, err := pgstore.Open(ctx, target.dsn)
		if err != nil {
			return nil, err
		}
		if err := pgstore.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		store := pgstore.New(pool)
		return &storage{driver: target.driver, balances: store, history: store, transactor: store, close: func() error {
			pool.Close()
			return nil
		}}, nil
	case driverBolt:
		if err := ensureParentDir(target.path); err != nil {
			return nil, err
		}
		store, err := boltstore.Open(target.path)
		if err != nil {
			return nil, err
		}
		return &storage{driver: target.driver, balances: store, history: store, transactor: store, close: store.Close}, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnsupportedScheme, target.driver)
	}
}

func openGorm(ctx context.Context, target storageTarget) (*storage, error) {
	var (
		db  *gorm.DB
		err error
	)
	cfg := &gorm.Config{}
	switch target.driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(target.dsn), cfg)
	default:
		if err := ensureParentDir(target.path); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(target.path), cfg)
	}
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if target.driver == driverSQLite {
		// SQLite allows one writer; a single connection avoids busy errors.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := gormstore.Migrate(ctx, db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	store := gormstore.New(db)
	return &storage{driver: target.driver, balances: store, history: store, transactor: store, close: sqlDB.Close}, nil
}

func ensureParentDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(filepath.Clean(path)), 0o755)
}
