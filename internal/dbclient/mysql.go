package dbclient

import (
	"strconv"

	"github.com/go-sql-driver/mysql"

	"backoffice/internal/domain"
)

// buildMySQLDSN constructs a MySQL DSN from a DatabaseConnection. Times are
// parsed so date columns reach the grid as time.Time.
func buildMySQLDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = domain.DatabaseDriverMySQL.DefaultPort()
	}
	cfg := mysql.NewConfig()
	cfg.User = conn.Username
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = conn.Host + ":" + strconv.Itoa(port)
	cfg.DBName = conn.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if conn.SSLMode == "require" {
		cfg.TLSConfig = "true"
	}
	return cfg.FormatDSN()
}
