package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"backoffice/internal/domain"
)

// DBConnectionStore keeps the saved external database connections. Passwords
// live in the secret store, never here.
type DBConnectionStore struct {
	db *DB
}

func NewDBConnectionStore(db *DB) *DBConnectionStore {
	return &DBConnectionStore{db: db}
}

var _ domain.DatabaseConnectionStore = (*DBConnectionStore)(nil)

const connColumns = `id, name, driver, host, port, database_name, username, ssl_mode, extra_json, created_at, updated_at`

func scanConnection(sc scanner) (*domain.DatabaseConnection, error) {
	c := &domain.DatabaseConnection{}
	err := sc.Scan(&c.ID, &c.Name, &c.Driver, &c.Host, &c.Port, &c.Database,
		&c.Username, &c.SSLMode, &c.ExtraJSON, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *DBConnectionStore) CreateConnection(c *domain.DatabaseConnection) error {
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.db.Conn().Exec(
		`INSERT INTO db_connections (`+connColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.ExtraJSON, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *DBConnectionStore) GetConnection(id string) (*domain.DatabaseConnection, error) {
	c, err := scanConnection(s.db.Conn().QueryRow(`SELECT `+connColumns+` FROM db_connections WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("database connection", id)
	}
	return c, err
}

// FindConnection looks a connection up by id, then by case-insensitive name.
// A name shared by several connections is an error.
func (s *DBConnectionStore) FindConnection(ref string) (*domain.DatabaseConnection, error) {
	if c, err := s.GetConnection(ref); !errors.Is(err, ErrNotFound) {
		return c, err
	}
	rows, err := s.db.Conn().Query(`SELECT `+connColumns+` FROM db_connections WHERE name = ? COLLATE NOCASE`, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found *domain.DatabaseConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return nil, fmt.Errorf("connection name %q is ambiguous; use its id", ref)
		}
		found = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if found == nil {
		return nil, notFound("database connection", ref)
	}
	return found, nil
}

func (s *DBConnectionStore) ListConnections() ([]domain.DatabaseConnection, error) {
	rows, err := s.db.Conn().Query(`SELECT ` + connColumns + ` FROM db_connections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []domain.DatabaseConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (s *DBConnectionStore) UpdateConnection(c *domain.DatabaseConnection) error {
	c.UpdatedAt = time.Now()
	res, err := s.db.Conn().Exec(
		`UPDATE db_connections SET name=?, driver=?, host=?, port=?, database_name=?, username=?, ssl_mode=?, extra_json=?, updated_at=?
		 WHERE id=?`,
		c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.ExtraJSON, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "database connection", c.ID)
}

// DeleteConnection removes the connection together with the query results
// cached for it.
func (s *DBConnectionStore) DeleteConnection(id string) error {
	tx, err := s.db.Conn().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM query_results WHERE connection_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM db_connections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := requireAffected(res, "database connection", id); err != nil {
		return err
	}
	return tx.Commit()
}
