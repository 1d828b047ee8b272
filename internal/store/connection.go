// Package store implements C1 (transactional persistence) and C2
// (domain CRUD) over a relational backend, grounded on the teacher's
// internal/repository package: a singleton *sqlx.DB wired through
// sqlhooks for query-timing logs, golang-migrate for idempotent
// schema setup, and squirrel as the query builder.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	// registers the "postgres" driver with database/sql.
	_ "github.com/lib/pq"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/log"
)

// Config configures the connection pool (spec §4.1).
type Config struct {
	Driver          string // "postgres" or "sqlite3"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AcquireTimeout  time.Duration
}

// Store wraps the pooled connection and the squirrel statement cache
// used by every repository in this package.
type Store struct {
	DB             *sqlx.DB
	Driver         string
	acquireTimeout time.Duration
	stmtCache      *sq.StmtCache
}

var (
	once     sync.Once
	instance *Store
	initErr  error
)

// Connect builds the process-wide Store singleton. Calling it more
// than once is safe; only the first call's Config takes effect,
// mirroring the teacher's repository.Connect/GetConnection pattern.
func Connect(cfg Config) (*Store, error) {
	once.Do(func() {
		instance, initErr = connect(cfg)
	})
	return instance, initErr
}

func connect(cfg Config) (*Store, error) {
	var dbHandle *sqlx.DB
	var err error

	switch cfg.Driver {
	case "sqlite3":
		registerSqliteOnce()
		dbHandle, err = sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", cfg.DSN))
		if err != nil {
			return nil, apierror.Storage("opening sqlite3 connection", err)
		}
		// sqlite3 does not support concurrent writers; serialize on one
		// connection rather than contend for file locks.
		dbHandle.SetMaxOpenConns(1)
	case "postgres":
		dbHandle, err = sqlx.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, apierror.Storage("opening postgres connection", err)
		}
		dbHandle.SetConnMaxLifetime(orDuration(cfg.ConnMaxLifetime, time.Hour))
		dbHandle.SetMaxOpenConns(orInt(cfg.MaxOpenConns, 10))
		dbHandle.SetMaxIdleConns(orInt(cfg.MaxIdleConns, 10))
	default:
		return nil, apierror.Internal(fmt.Sprintf("unsupported store driver %q", cfg.Driver), nil)
	}

	if err := dbHandle.Ping(); err != nil {
		return nil, apierror.Storage("pinging database", err)
	}

	if err := runMigrations(cfg.Driver, dbHandle.DB); err != nil {
		return nil, err
	}

	s := &Store{
		DB:             dbHandle,
		Driver:         cfg.Driver,
		acquireTimeout: orDuration(cfg.AcquireTimeout, 30*time.Second),
		stmtCache:      sq.NewStmtCache(dbHandle),
	}
	return s, nil
}

var sqliteRegisterOnce sync.Once

func registerSqliteOnce() {
	sqliteRegisterOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &queryHooks{}))
	})
}

// queryHooks implements sqlhooks' Hooks interface for before/after
// query-timing debug logs, mirroring the teacher's repository.Hooks.
type queryHooks struct{}

type hookTimeKey struct{}

func (h *queryHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("store: query %s %q", query, args)
	return context.WithValue(ctx, hookTimeKey{}, time.Now()), nil
}

func (h *queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(hookTimeKey{}).(time.Time); ok {
		log.Debugf("store: took %s", time.Since(begin))
	}
	return ctx, nil
}

// Acquire returns a single connection bound to one unit of work,
// enforcing the configured acquisition timeout (spec §4.1).
func (s *Store) Acquire(ctx context.Context) (*sql.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return nil, apierror.Storage("acquiring connection", err)
	}
	return conn, nil
}

func orDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func orInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
