//go:build cgo

package factory

import (
	"database/sql"

	_ "github.com/dolthub/driver" // embedded Dolt, CGO required
)

// openDolt opens an embedded Dolt database at dsn (a filesystem
// directory) through the dolthub/driver connector.
func openDolt(dsn string) (*sql.DB, error) {
	return sql.Open("dolt", dsn)
}
