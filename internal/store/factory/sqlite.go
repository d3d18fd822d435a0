package factory

import (
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// openSQLite opens the CGO-free embedded SQLite backend at dsn (a
// filesystem path, or ":memory:" for ephemeral/test runs).
func openSQLite(dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	return sql.Open("sqlite3", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", dsn))
}
