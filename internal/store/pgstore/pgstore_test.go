package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/MarkoPoloResearchLab/pointledger/internal/store/storetest"
	"github.com/jackc/pgx/v5/pgconn"
)

const testDatabaseURLEnv = "POINTLEDGER_TEST_POSTGRES_URL"

func TestStoreContract(test *testing.T) {
	databaseURL := os.Getenv(testDatabaseURLEnv)
	if databaseURL == "" {
		test.Skipf("%s is not set", testDatabaseURLEnv)
	}
	ctx := context.Background()
	pool, err := Open(ctx, databaseURL)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	test.Cleanup(pool.Close)
	if err := Migrate(ctx, pool); err != nil {
		test.Fatalf("migrate: %v", err)
	}

	storetest.Run(test, func(test *testing.T) storetest.Stores {
		if _, err := pool.Exec(ctx, "truncate user_points, point_histories restart identity"); err != nil {
			test.Fatalf("truncate: %v", err)
		}
		store := New(pool)
		return storetest.Stores{Balances: store, History: store, Transactor: store}
	})
}

func TestIsCheckViolation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "check violation", err: &pgconn.PgError{Code: pgCheckViolationCode}, want: true},
		{name: "wrapped check violation", err: fmt.Errorf("exec: %w", &pgconn.PgError{Code: pgCheckViolationCode}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := isCheckViolation(testCase.err); got != testCase.want {
				test.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}
