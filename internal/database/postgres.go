package database

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"

	"github.com/castradar/sponsor-analytics/internal/config"
	"github.com/castradar/sponsor-analytics/internal/domain"
	"github.com/castradar/sponsor-analytics/internal/pkg/logger"
)

// DB is the relational port. Writes always go to the primary; reads may
// be routed to a read replica when one is configured and healthy, either
// by explicit opt-in or by statement auto-detection (SELECT/WITH).
type DB struct {
	primary *sql.DB
	replica *sql.DB

	// 1 when the replica answered its last ping, 0 otherwise.
	replicaHealthy atomic.Bool
}

// Open connects to the primary (and replica, when configured) and
// applies the pool settings. The primary must be reachable; a dead
// replica only disables replica routing.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	primary, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, domain.NewTransportError("open primary", err)
	}
	primary.SetMaxOpenConns(cfg.MaxOpenConns)
	primary.SetMaxIdleConns(cfg.MaxIdleConns)
	primary.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := primary.PingContext(ctx); err != nil {
		primary.Close()
		return nil, domain.NewTransportError("ping primary", err)
	}

	db := &DB{primary: primary}

	if dsn := cfg.ReplicaDSN(); dsn != "" {
		replica, err := sql.Open("postgres", dsn)
		if err != nil {
			logger.Warn("read replica unavailable, routing all reads to primary", "error", err)
		} else {
			replica.SetMaxOpenConns(cfg.MaxOpenConns)
			replica.SetMaxIdleConns(cfg.MaxIdleConns)
			replica.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
			db.replica = replica
			if err := replica.PingContext(ctx); err != nil {
				logger.Warn("read replica ping failed at startup", "error", err)
			} else {
				db.replicaHealthy.Store(true)
			}
		}
	}

	return db, nil
}

// NewFromConns wraps existing connections. Used by tests (sqlmock) and
// by callers that manage their own pools.
func NewFromConns(primary, replica *sql.DB) *DB {
	db := &DB{primary: primary, replica: replica}
	if replica != nil {
		db.replicaHealthy.Store(true)
	}
	return db
}

// Close closes both pools.
func (d *DB) Close() error {
	if d.replica != nil {
		d.replica.Close()
	}
	return d.primary.Close()
}

// Primary exposes the primary pool for callers that need raw access
// (advisory locks, migrations).
func (d *DB) Primary() *sql.DB { return d.primary }

// isReadStatement reports whether a statement is safe for the replica.
func isReadStatement(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "WITH")
}

// reader picks the pool for a read. Falls back to primary whenever the
// replica is absent or marked unhealthy.
func (d *DB) reader(query string, useReplica bool) *sql.DB {
	if d.replica == nil || !d.replicaHealthy.Load() {
		return d.primary
	}
	if useReplica || isReadStatement(query) {
		return d.replica
	}
	return d.primary
}

func (d *DB) markReplicaDown(err error) {
	if d.replicaHealthy.CompareAndSwap(true, false) {
		logger.Warn("read replica marked unhealthy, falling back to primary", "error", err)
	}
}

// Exec runs a statement on the primary.
func (d *DB) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := d.primary.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrapTransport("exec", err)
	}
	return res, nil
}

// Query runs a multi-row read, routed per the replica policy.
func (d *DB) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	pool := d.reader(query, false)
	rows, err := pool.QueryContext(ctx, query, args...)
	if err != nil && pool == d.replica {
		d.markReplicaDown(err)
		rows, err = d.primary.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, wrapTransport("query", err)
	}
	return rows, nil
}

// QueryReplica runs a multi-row read with an explicit replica hint.
func (d *DB) QueryReplica(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	pool := d.reader(query, true)
	rows, err := pool.QueryContext(ctx, query, args...)
	if err != nil && pool == d.replica {
		d.markReplicaDown(err)
		rows, err = d.primary.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, wrapTransport("query", err)
	}
	return rows, nil
}

// QueryRow runs a single-row read, routed per the replica policy.
// sql.Row defers errors to Scan, so replica fallback is not possible
// here; single-row reads route to the replica only while it is healthy.
func (d *DB) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.reader(query, false).QueryRowContext(ctx, query, args...)
}

// FetchScalar reads a single value into dest.
func (d *DB) FetchScalar(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := d.QueryRow(ctx, query, args...).Scan(dest)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return wrapTransport("fetch scalar", err)
	}
	return nil
}

// WithinTx runs fn inside a transaction on the primary, rolling back on
// error or panic.
func (d *DB) WithinTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.primary.BeginTx(ctx, nil)
	if err != nil {
		return wrapTransport("begin tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapTransport("commit tx", err)
	}
	return nil
}

// wrapTransport classifies driver errors. Context cancellation keeps its
// own identity; everything else from the driver is a transport failure.
func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	return domain.NewTransportError(op, err)
}
