// Package dbmanager manages the PostgreSQL connection pool. Every connection
// handed out carries session limits and a set of named scopes (custom
// settings such as the current tenant) that row level security policies
// read.
package dbmanager

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"
)

type ScopedDb interface {
	// Conn returns a new connection to the database.
	Conn(ctx context.Context) (ScopedConn, error)
	// Stats returns the number of connection requests and returns.
	Stats() (requests, returns uint64)
	// Close closes the pool.
	Close() error
}

type ScopedConn interface {
	// AddScopes adds the given scopes to the connection.
	AddScopes(ctx context.Context, scopes map[string]string) error
	// AddScope adds the given scope with the given value to the connection.
	AddScope(ctx context.Context, scope, value string) error
	// DropScopes drops the given scopes from the connection.
	DropScopes(ctx context.Context, scopes []string) error
	// DropAllScopes drops all scopes from the connection.
	DropAllScopes(ctx context.Context) error
	// Scope returns the value of a scope set on this connection.
	Scope(scope string) (string, bool)
	// Conn returns the underlying *sql.Conn. Do not close this directly.
	// Use ScopedConn.Close(ctx) to ensure scopes are dropped safely.
	Conn() *sql.Conn
	// Close drops all scopes and returns the connection back to the pool.
	Close(ctx context.Context)
}

// Options tune the pool and the session of each connection.
type Options struct {
	DSN              string
	MaxOpenConns     int
	StatementTimeout string
	LockTimeout      string
}

// NewScopedDb returns a pool whose connections manage the configured scopes.
// A connection is not safe for concurrent use; the engine uses one
// connection per operation and never shares it across goroutines.
func NewScopedDb(ctx context.Context, dbtype string, configuredScopes []string, opts Options) (ScopedDb, error) {
	switch dbtype {
	case "postgresql":
		db, err := NewPostgresqlDb(ctx, configuredScopes, opts)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to create PostgreSQL DB")
			return nil, err
		}
		return db, nil
	}
	return nil, errUnsupportedDb(dbtype)
}
