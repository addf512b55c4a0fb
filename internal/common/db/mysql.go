package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"redlight/pkg/utils/logger"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// MySQLConfig holds the connection pool settings.
type MySQLConfig struct {
	// DSN must set parseTime=true so DATETIME columns scan into time.Time.
	// Format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=UTC"
	DSN string `yaml:"dsn"`

	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`

	// PingTimeout bounds the connectivity check at startup.
	PingTimeout time.Duration `yaml:"pingTimeout"`

	// DeadlockRetries is how many times a transaction that lost a deadlock
	// is rerun. Concurrent score increments lock the same team row.
	DeadlockRetries int `yaml:"deadlockRetries"`
}

// DefaultMySQLConfig returns the pool defaults.
func DefaultMySQLConfig() *MySQLConfig {
	return &MySQLConfig{
		MaxOpenConnections: 25,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    5 * time.Minute,
		ConnMaxIdleTime:    10 * time.Minute,
		PingTimeout:        5 * time.Second,
		DeadlockRetries:    3,
	}
}

// MySQL implements Database over database/sql and the go-sql-driver pool.
type MySQL struct {
	db              *sql.DB
	deadlockRetries int
}

// NewMySQLWithConfig opens the pool and verifies connectivity. Zero fields
// take DefaultMySQLConfig values.
func NewMySQLWithConfig(config *MySQLConfig) (*MySQL, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}
	cfg := *config
	defaults := DefaultMySQLConfig()
	if cfg.MaxOpenConnections == 0 {
		cfg.MaxOpenConnections = defaults.MaxOpenConnections
	}
	if cfg.MaxIdleConnections == 0 {
		cfg.MaxIdleConnections = defaults.MaxIdleConnections
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = defaults.PingTimeout
	}
	if cfg.DeadlockRetries == 0 {
		cfg.DeadlockRetries = defaults.DeadlockRetries
	}

	pool, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConnections)
	pool.SetMaxIdleConns(cfg.MaxIdleConnections)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQL{db: pool, deadlockRetries: cfg.DeadlockRetries}, nil
}

func (m *MySQL) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return queryConn(ctx, m.db, query, args...)
}

func (m *MySQL) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return m.db.QueryRowContext(ctx, query, args...)
}

func (m *MySQL) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	return execConn(ctx, m.db, query, args...)
}

// Transaction runs fn, committing on nil and rolling back otherwise. A
// deadlock victim is rerun up to deadlockRetries times.
func (m *MySQL) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newDeadlockBackoff(), uint64(m.deadlockRetries)),
		ctx,
	)
	attempt := 0
	op := func() error {
		attempt++
		err := m.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if IsDeadlock(err) {
			logger.Warn(ctx, "transaction deadlocked, retrying", zap.Int("attempt", attempt))
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(op, policy)
}

func (m *MySQL) runTx(ctx context.Context, fn func(tx Transaction) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	if err := fn(&mysqlTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (m *MySQL) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

func (m *MySQL) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return queryConn(ctx, t.tx, query, args...)
}

func (t *mysqlTx) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *mysqlTx) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	return execConn(ctx, t.tx, query, args...)
}

// sqlConn is satisfied by *sql.DB and *sql.Tx.
type sqlConn interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func queryConn(ctx context.Context, conn sqlConn, q string, args ...interface{}) (Rows, error) {
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

func execConn(ctx context.Context, conn sqlConn, q string, args ...interface{}) (Result, error) {
	result, err := conn.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	return result, nil
}

func newDeadlockBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

var (
	_ Database    = (*MySQL)(nil)
	_ Transaction = (*mysqlTx)(nil)
)
