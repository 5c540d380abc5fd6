package dbclient

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"backoffice/internal/domain"
)

// buildPostgresDSN constructs a key/value Postgres connection string.
func buildPostgresDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = domain.DatabaseDriverPostgres.DefaultPort()
	}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pqQuote(conn.Host), port, pqQuote(conn.Username), pqQuote(password), pqQuote(conn.Database), sslMode,
	)
}

// pqQuote quotes a connection-string value when it contains spaces or quotes.
func pqQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
