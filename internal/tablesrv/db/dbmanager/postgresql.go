package dbmanager

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// postgresConn represents a connection to the PostgreSQL database.
type postgresConn struct {
	conn             *sql.Conn
	cancel           context.CancelFunc
	scopes           map[string]string
	configuredScopes []string
	pool             *postgresPool
}

// postgresPool represents a pool of PostgreSQL database connections.
type postgresPool struct {
	configuredScopes []string
	sessionParams    map[string]string
	connRequests     uint64
	connReturns      uint64
	db               *sql.DB
}

// validScopeNameRegex ensures scope names are valid PostgreSQL identifiers
var validScopeNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*$`)

func errUnsupportedDb(dbtype string) error {
	return fmt.Errorf("unsupported database type: %s", dbtype)
}

// formatSQLIdentifier formats a scope name for use in SQL using proper identifier quoting.
func formatSQLIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// sessionParams builds the SET parameters applied to every connection.
// Timeouts are given as Go durations and sent in milliseconds.
func sessionParams(opts Options) (map[string]string, error) {
	params := map[string]string{
		"lock_timeout":                        "3s",
		"statement_timeout":                   "10s",
		"idle_in_transaction_session_timeout": "30s",
	}
	for name, v := range map[string]string{
		"statement_timeout": opts.StatementTimeout,
		"lock_timeout":      opts.LockTimeout,
	} {
		if v == "" {
			continue
		}
		params[name] = v
	}
	for name, v := range params {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		params[name] = fmt.Sprintf("%d", d.Milliseconds())
	}
	return params, nil
}

// NewPostgresqlDb opens the pool and pings the server, retrying with
// backoff while the database comes up.
func NewPostgresqlDb(ctx context.Context, configuredScopes []string, opts Options) (ScopedDb, error) {
	for _, scope := range configuredScopes {
		if !validScopeNameRegex.MatchString(scope) {
			return nil, fmt.Errorf("invalid scope name: %s", scope)
		}
	}
	params, err := sessionParams(opts)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to open db")
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(max(maxOpen/5, 2))
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	err = retry.Do(
		func() error {
			return sqlDB.PingContext(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Msg("database not reachable, retrying")
		}),
	)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &postgresPool{
		configuredScopes: configuredScopes,
		sessionParams:    params,
		db:               sqlDB,
	}, nil
}

// Conn returns a new connection to the PostgreSQL database from the connection pool.
func (p *postgresPool) Conn(ctx context.Context) (ScopedConn, error) {
	ctx, cancel := context.WithCancel(ctx)

	conn, err := p.db.Conn(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to obtain connection")
		cancel()
		return nil, fmt.Errorf("failed to obtain database connection: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			cancel()
			conn.Close()
			log.Ctx(ctx).Error().Interface("panic", r).Msg("recovered from panic while setting up connection")
		}
	}()

	names := make([]string, 0, len(p.sessionParams))
	for param := range p.sessionParams {
		names = append(names, param)
	}
	sort.Strings(names)
	for _, param := range names {
		query := fmt.Sprintf("SET %s = %s", formatSQLIdentifier(param), pq.QuoteLiteral(p.sessionParams[param]))
		_, err = conn.ExecContext(ctx, query)
		if err != nil {
			cancel()
			conn.Close()
			return nil, fmt.Errorf("failed to set %s: %w", param, err)
		}
	}

	h := &postgresConn{
		configuredScopes: p.configuredScopes,
		scopes:           make(map[string]string),
		cancel:           cancel,
		pool:             p,
		conn:             conn,
	}

	if err := h.DropScopes(ctx, p.configuredScopes); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to initialize scopes: %w", err)
	}

	atomic.AddUint64(&p.connRequests, 1)
	return h, nil
}

// Stats returns the number of connection requests and returns made to the PostgreSQL database.
func (p *postgresPool) Stats() (requests, returns uint64) {
	return atomic.LoadUint64(&p.connRequests), atomic.LoadUint64(&p.connReturns)
}

func (p *postgresPool) Close() error {
	return p.db.Close()
}

// Close cleans up the scopes and returns the connection back to the pool.
func (h *postgresConn) Close(ctx context.Context) {
	if h.conn == nil {
		return
	}

	if err := h.DropAllScopes(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to drop all scopes during connection close")
	}

	h.conn.Close()
	h.conn = nil
	if h.cancel != nil {
		h.cancel()
	}

	atomic.AddUint64(&h.pool.connReturns, 1)
}

// IsConfiguredScope checks if the given scope is configured in the PostgresConn.
func (h *postgresConn) IsConfiguredScope(scope string) bool {
	for _, s := range h.configuredScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AddScopes sets every configured scope in scopes in one transaction.
// Unconfigured scopes are ignored.
func (h *postgresConn) AddScopes(ctx context.Context, scopes map[string]string) error {
	if h.conn == nil {
		return fmt.Errorf("no active connection")
	}

	for scope := range scopes {
		if !validScopeNameRegex.MatchString(scope) {
			return fmt.Errorf("invalid scope name: %s", scope)
		}
	}

	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for setting scopes: %w", err)
	}
	defer tx.Rollback()

	set := make(map[string]string, len(scopes))
	for scope, value := range scopes {
		if h.IsConfiguredScope(scope) {
			query := fmt.Sprintf("SET %s = %s", formatSQLIdentifier(scope), pq.QuoteLiteral(value))
			if _, err := tx.ExecContext(ctx, query); err != nil {
				return fmt.Errorf("failed to set scope %q: %w", scope, err)
			}
			set[scope] = value
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scope changes: %w", err)
	}
	for scope, value := range set {
		h.scopes[scope] = value
	}
	return nil
}

// AddScope adds a single scope to the PostgresConn.
func (h *postgresConn) AddScope(ctx context.Context, scope, value string) error {
	return h.AddScopes(ctx, map[string]string{scope: value})
}

// Scope returns the value of scope if it was set on this connection.
func (h *postgresConn) Scope(scope string) (string, bool) {
	v, ok := h.scopes[scope]
	return v, ok
}

// DropScopes drops the given scopes from the PostgresConn.
func (h *postgresConn) DropScopes(ctx context.Context, scopes []string) error {
	if h.conn == nil {
		return nil
	}

	for _, scope := range scopes {
		if !validScopeNameRegex.MatchString(scope) {
			return fmt.Errorf("invalid scope name: %s", scope)
		}
	}

	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for dropping scopes: %w", err)
	}
	defer tx.Rollback()

	for _, scope := range scopes {
		query := fmt.Sprintf("RESET %s", formatSQLIdentifier(scope))
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to reset scope %q: %w", scope, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scope changes: %w", err)
	}
	for _, scope := range scopes {
		delete(h.scopes, scope)
	}
	return nil
}

// DropAllScopes drops all the configured scopes from the PostgresConn.
func (h *postgresConn) DropAllScopes(ctx context.Context) error {
	return h.DropScopes(ctx, h.configuredScopes)
}

// Conn returns the underlying connection of the PostgresConn.
func (h *postgresConn) Conn() *sql.Conn {
	return h.conn
}
