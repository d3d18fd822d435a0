//go:build !cgo

package factory

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
)

// openDolt falls back to the pure-Go MySQL driver against a running
// `dolt sql-server` when CGO is unavailable. dsn here is a standard
// go-sql-driver/mysql DSN ("user:pass@tcp(host:port)/database"), not a
// filesystem path.
func openDolt(dsn string) (*sql.DB, error) {
	return sql.Open("mysql", dsn)
}
