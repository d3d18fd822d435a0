// Package factory selects and opens a store.Queries backend: backends are
// listed by name in backendRegistry and the factory dispatches on a config
// string, so adding a backend never touches the call sites.
package factory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jdp1ps/svp-harvester-go/internal/store"
)

const (
	BackendDolt   = "dolt"
	BackendSQLite = "sqlite"
)

// Options configures how the backend connection is opened.
type Options struct {
	// DSN is backend-specific. For BackendDolt it is the embedded Dolt
	// database directory when built with cgo, or a Dolt sql-server DSN
	// ("user:pass@tcp(host:port)/database") otherwise; for BackendSQLite it
	// is a filesystem path (or ":memory:").
	DSN string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// openFunc opens a *sql.DB for a given DSN; registered per backend name.
type openFunc func(dsn string) (*sql.DB, error)

var backendRegistry = map[string]openFunc{
	BackendDolt:   openDolt,
	BackendSQLite: openSQLite,
}

// New opens backend, applies store.Migrate, and returns a ready *store.Queries.
func New(ctx context.Context, backend string, opts Options) (*store.Queries, error) {
	open, ok := backendRegistry[backend]
	if !ok {
		return nil, fmt.Errorf("unknown store backend %q (supported: %s, %s)", backend, BackendDolt, BackendSQLite)
	}
	db, err := open(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", backend, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s backend: %w", backend, err)
	}
	if err := store.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s backend: %w", backend, err)
	}
	return store.New(db), nil
}
