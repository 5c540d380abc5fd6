package dbclient

import (
	_ "modernc.org/sqlite"

	"backoffice/internal/domain"
)

// buildSQLiteDSN opens an external SQLite file in WAL mode with a busy
// timeout so it can be read while another process writes.
func buildSQLiteDSN(conn *domain.DatabaseConnection) string {
	return conn.Host + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
