//go:build !cgo_sqlite

package persist

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

func openDB(dataSource string) (*sql.DB, error) {
	return sql.Open("sqlite", dataSource)
}
