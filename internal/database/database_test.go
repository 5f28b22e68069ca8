package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarpipe/deep-research-service/internal/config"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// testDatabaseConfig targets the local development database. Individual
// fields can be overridden through DEEPRESEARCH_TEST_DB_* variables.
func testDatabaseConfig() *config.DatabaseConfig {
	port := 5432
	if v := os.Getenv("DEEPRESEARCH_TEST_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	return &config.DatabaseConfig{
		Host:              envOr("DEEPRESEARCH_TEST_DB_HOST", "localhost"),
		Port:              port,
		User:              envOr("DEEPRESEARCH_TEST_DB_USER", "deepresearch"),
		Password:          envOr("DEEPRESEARCH_TEST_DB_PASSWORD", "password"),
		Name:              envOr("DEEPRESEARCH_TEST_DB_NAME", "deep_research_service"),
		SSLMode:           "disable",
		MaxConns:          4,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    5 * time.Second,
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := New(ctx, testDatabaseConfig(), zerolog.Nop())
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func TestNewUnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	// 192.0.2.1 is TEST-NET-1 (RFC 5737), guaranteed unroutable.
	cfg := testDatabaseConfig()
	cfg.Host = "192.0.2.1"
	cfg.ConnectTimeout = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := New(ctx, cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, db)
}

func TestCloseWithoutPool(t *testing.T) {
	assert.NotPanics(t, func() {
		(&DB{}).Close()
	})
}

func TestHealth(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	t.Run("live pool reports healthy", func(t *testing.T) {
		health := db.Health(ctx)
		assert.Equal(t, "healthy", health.Status)
		assert.Empty(t, health.Error)
		assert.GreaterOrEqual(t, health.MaxConns, int32(1))
	})

	t.Run("cancelled context reports unhealthy", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		health := db.Health(cancelled)
		assert.Equal(t, "unhealthy", health.Status)
		assert.NotEmpty(t, health.Error)
	})
}

func TestWithTransaction(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	table := fmt.Sprintf("tx_scratch_%d", time.Now().UnixNano())
	_, err := db.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (id INT PRIMARY KEY)", table))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Exec(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
	})

	countRows := func(t *testing.T) int {
		t.Helper()
		var count int
		require.NoError(t, db.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&count))
		return count
	}

	t.Run("commit on nil return", func(t *testing.T) {
		err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (id) VALUES (1)", table))
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, countRows(t))
	})

	t.Run("rollback on error return", func(t *testing.T) {
		sentinel := errors.New("abandon this write")
		err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (id) VALUES (2)", table)); err != nil {
				return err
			}
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, countRows(t))
	})

	t.Run("rollback and re-panic on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = db.WithTransaction(ctx, func(tx pgx.Tx) error {
				if _, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (id) VALUES (3)", table)); err != nil {
					return err
				}
				panic("mid-transaction panic")
			})
		})
		assert.Equal(t, 1, countRows(t))
	})
}

func TestDBTXPoolAndTransaction(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Repositories accept DBTX so the same query path serves both the pool
	// and an open transaction.
	queryThrough := func(t *testing.T, dbtx DBTX) {
		t.Helper()
		var n int
		require.NoError(t, dbtx.QueryRow(ctx, "SELECT 7").Scan(&n))
		assert.Equal(t, 7, n)

		rows, err := dbtx.Query(ctx, "SELECT generate_series(1, 3)")
		require.NoError(t, err)
		defer rows.Close()
		var got []int
		for rows.Next() {
			var v int
			require.NoError(t, rows.Scan(&v))
			got = append(got, v)
		}
		require.NoError(t, rows.Err())
		assert.Equal(t, []int{1, 2, 3}, got)
	}

	t.Run("through the pool", func(t *testing.T) {
		queryThrough(t, db)
	})

	t.Run("through a transaction", func(t *testing.T) {
		err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
			queryThrough(t, tx)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("batches through the pool", func(t *testing.T) {
		batch := &pgx.Batch{}
		batch.Queue("SELECT 1")
		batch.Queue("SELECT 2")

		br := db.SendBatch(ctx, batch)
		defer br.Close()

		var a, b int
		require.NoError(t, br.QueryRow().Scan(&a))
		require.NoError(t, br.QueryRow().Scan(&b))
		assert.Equal(t, 1, a)
		assert.Equal(t, 2, b)
	})
}
