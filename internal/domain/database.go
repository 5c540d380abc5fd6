package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DatabaseDriver names the engine behind a connection.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// ParseDatabaseDriver reads a driver name, accepting the usual aliases
// (pg, postgresql, mongo, sqlite3, mariadb) in any case.
func ParseDatabaseDriver(s string) (DatabaseDriver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql", "mariadb":
		return DatabaseDriverMySQL, nil
	case "postgres", "postgresql", "pg":
		return DatabaseDriverPostgres, nil
	case "mongodb", "mongo":
		return DatabaseDriverMongoDB, nil
	case "sqlite", "sqlite3":
		return DatabaseDriverSQLite, nil
	}
	return "", fmt.Errorf("unsupported driver: %s", s)
}

// DefaultPort is the port the engine listens on out of the box; 0 for
// SQLite, which opens a file.
func (d DatabaseDriver) DefaultPort() int {
	switch d {
	case DatabaseDriverMySQL:
		return 3306
	case DatabaseDriverPostgres:
		return 5432
	case DatabaseDriverMongoDB:
		return 27017
	}
	return 0
}

// DatabaseConnection describes an external database whose query results can
// be opened as a grid or imported by an ETL job. The password is kept in the
// SecretStore.
type DatabaseConnection struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Driver    DatabaseDriver `json:"driver"`
	Host      string         `json:"host"`     // hostname or file path (sqlite)
	Port      int            `json:"port"`     // 0 for sqlite
	Database  string         `json:"database"` // db name or empty for sqlite
	Username  string         `json:"username"`
	SSLMode   string         `json:"sslMode"`
	ExtraJSON string         `json:"extraJson"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Normalize checks the connection and fills in what the driver implies: the
// default port for network engines, no port or credentials for SQLite, and
// sslmode=disable for Postgres.
func (c *DatabaseConnection) Normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Host = strings.TrimSpace(c.Host)
	if c.Name == "" {
		return errors.New("connection name is required")
	}
	if c.Host == "" {
		if c.Driver == DatabaseDriverSQLite {
			return errors.New("sqlite connections need a file path")
		}
		return errors.New("connection host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	switch c.Driver {
	case DatabaseDriverSQLite:
		c.Port, c.Username, c.SSLMode = 0, "", ""
	case DatabaseDriverMongoDB:
		// A full URI in Host carries its own port.
		if c.Port == 0 && !strings.Contains(c.Host, "://") {
			c.Port = c.Driver.DefaultPort()
		}
	case DatabaseDriverPostgres:
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
		fallthrough
	default:
		if c.Port == 0 {
			c.Port = c.Driver.DefaultPort()
		}
	}
	return nil
}

// Target is a short host:port/database label for listings.
func (c *DatabaseConnection) Target() string {
	target := c.Host
	if c.Port > 0 {
		target += ":" + strconv.Itoa(c.Port)
	}
	if c.Database != "" {
		target += "/" + c.Database
	}
	return target
}

// DatabaseConnectionStore manages CRUD operations for database connections.
type DatabaseConnectionStore interface {
	CreateConnection(c *DatabaseConnection) error
	GetConnection(id string) (*DatabaseConnection, error)
	FindConnection(ref string) (*DatabaseConnection, error)
	ListConnections() ([]DatabaseConnection, error)
	UpdateConnection(c *DatabaseConnection) error
	DeleteConnection(id string) error
}

// QueryResult is the cached first page of a query, keyed by the caller's
// cache key (connection id plus query for CLI and agent lookups).
type QueryResult struct {
	ID           string    `json:"id"`
	CacheKey     string    `json:"cacheKey"`
	ConnectionID string    `json:"connectionId"`
	Query        string    `json:"query"`
	ColumnsJSON  string    `json:"columnsJson"` // JSON array of column names
	RowsJSON     string    `json:"rowsJson"`    // JSON array of row arrays
	TotalRows    int       `json:"totalRows"`
	HasMore      bool      `json:"hasMore"`
	ExecutedAt   time.Time `json:"executedAt"`
	DurationMs   int       `json:"durationMs"`
	Error        string    `json:"error"`
	IsWrite      bool      `json:"isWrite"`
	AffectedRows int       `json:"affectedRows"`
}

// QueryResultStore manages cached query results.
type QueryResultStore interface {
	UpsertResult(r *QueryResult) error
	GetResult(cacheKey string) (*QueryResult, error)
	DeleteResults(cacheKey string) error
}
