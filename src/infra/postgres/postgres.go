package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPostgresClient(host string, port string, dbname string, username string, password string, maxConnections int) (*pgxpool.Pool, error) {
	dbConfig := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", username, password, host, port, dbname)

	config, err := pgxpool.ParseConfig(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	config.MaxConns = int32(maxConnections) //nolint:all
	config.MinConns = 1

	// Idle timeout - economiza recursos
	config.MaxConnIdleTime = 5 * time.Minute

	// Lifetime das conexões - evita problemas de timeout do PostgreSQL
	config.MaxConnLifetime = 30 * time.Minute

	config.HealthCheckPeriod = 1 * time.Minute

	// statement_timeout cobre os scans do rebuild completo, que usam cursor
	config.ConnConfig.RuntimeParams = map[string]string{
		"timezone":                            "UTC",
		"statement_timeout":                   "120s",
		"lock_timeout":                        "10s",
		"idle_in_transaction_session_timeout": "60s",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return pool, nil
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUnavailable reports connection-level failures, as opposed to errors returned by a statement.
func IsUnavailable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08xxx connection exception, 57P0x shutdown
		return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:4] == "57P0")
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}
