package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backoffice/internal/dbclient"
	"backoffice/internal/domain"
	"backoffice/internal/etl/sources"
	"backoffice/internal/grid"
	"backoffice/internal/logging"
	"backoffice/internal/secret"
	"backoffice/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Database Service — external databases feeding grids and imports
// ─────────────────────────────────────────────────────────────

// CreateDBConnInput is the service-layer DTO for creating/updating connections.
type CreateDBConnInput struct {
	Name      string `json:"name"`
	Driver    string `json:"driver"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Database  string `json:"database"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	SSLMode   string `json:"sslMode"`
	ExtraJSON string `json:"extraJson"`
}

// DatabaseService manages external database connections, query execution,
// and result caching. It keeps one live connector per connection.
type DatabaseService struct {
	connStore domain.DatabaseConnectionStore
	results   domain.QueryResultStore
	secrets   secret.SecretStore
	logger    *zap.Logger

	mu               sync.Mutex
	activeConnectors map[string]*connEntry
}

type connEntry struct {
	connector dbclient.Connector
	createdAt time.Time
}

// NewDatabaseService creates a DatabaseService. results may be nil to
// disable the persisted first-page cache.
func NewDatabaseService(
	connStore domain.DatabaseConnectionStore,
	results domain.QueryResultStore,
	secrets secret.SecretStore,
	logger *zap.Logger,
) *DatabaseService {
	return &DatabaseService{
		connStore:        connStore,
		results:          results,
		secrets:          secrets,
		logger:           logging.OrNop(logger),
		activeConnectors: make(map[string]*connEntry),
	}
}

func secretKey(connectionID string) string { return "db:" + connectionID }

// ── Connection CRUD ────────────────────────────────────────

func (s *DatabaseService) ListConnections() ([]domain.DatabaseConnection, error) {
	return s.connStore.ListConnections()
}

func (s *DatabaseService) GetConnection(id string) (*domain.DatabaseConnection, error) {
	return s.connStore.GetConnection(id)
}

// FindConnection resolves a connection id or name.
func (s *DatabaseService) FindConnection(ref string) (*domain.DatabaseConnection, error) {
	return s.connStore.FindConnection(ref)
}

func (s *DatabaseService) CreateConnection(input CreateDBConnInput) (*domain.DatabaseConnection, error) {
	driver, err := domain.ParseDatabaseDriver(input.Driver)
	if err != nil {
		return nil, err
	}
	conn := &domain.DatabaseConnection{
		ID:        uuid.New().String(),
		Name:      input.Name,
		Driver:    driver,
		Host:      input.Host,
		Port:      input.Port,
		Database:  input.Database,
		Username:  input.Username,
		SSLMode:   input.SSLMode,
		ExtraJSON: input.ExtraJSON,
	}
	if err := conn.Normalize(); err != nil {
		return nil, err
	}
	if err := s.connStore.CreateConnection(conn); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	if input.Password != "" && s.secrets != nil {
		if err := s.secrets.Set(secretKey(conn.ID), []byte(input.Password)); err != nil {
			return nil, fmt.Errorf("store password: %w", err)
		}
	}
	return conn, nil
}

func (s *DatabaseService) UpdateConnection(id string, input CreateDBConnInput) error {
	driver, err := domain.ParseDatabaseDriver(input.Driver)
	if err != nil {
		return err
	}
	conn, err := s.connStore.GetConnection(id)
	if err != nil {
		return err
	}
	conn.Name = input.Name
	conn.Driver = driver
	conn.Host = input.Host
	conn.Port = input.Port
	conn.Database = input.Database
	conn.Username = input.Username
	conn.SSLMode = input.SSLMode
	conn.ExtraJSON = input.ExtraJSON
	if err := conn.Normalize(); err != nil {
		return err
	}
	if err := s.connStore.UpdateConnection(conn); err != nil {
		return err
	}
	if input.Password != "" && s.secrets != nil {
		if err := s.secrets.Set(secretKey(id), []byte(input.Password)); err != nil {
			return fmt.Errorf("store password: %w", err)
		}
	}
	// The next query reconnects with the new settings.
	s.drop(id)
	return nil
}

func (s *DatabaseService) DeleteConnection(id string) error {
	s.drop(id)
	if s.secrets != nil {
		_ = s.secrets.Delete(secretKey(id))
	}
	return s.connStore.DeleteConnection(id)
}

// ── Query Execution ────────────────────────────────────────

// CacheKey identifies a query on a connection in the result cache.
func CacheKey(connectionID, query string) string {
	sum := sha256.Sum256([]byte(connectionID + "\x00" + query))
	return connectionID + ":" + hex.EncodeToString(sum[:8])
}

// ExecuteQuery runs a query and caches its first page.
func (s *DatabaseService) ExecuteQuery(ctx context.Context, connectionID, query string, fetchSize int) (*dbclient.QueryPage, error) {
	connector, err := s.getOrCreate(connectionID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	page, err := connector.Execute(ctx, query, fetchSize)
	s.cache(connectionID, query, page, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return page, nil
}

// FetchMoreRows fetches the next page of the connection's open cursor.
func (s *DatabaseService) FetchMoreRows(ctx context.Context, connectionID string, fetchSize int) (*dbclient.QueryPage, error) {
	s.mu.Lock()
	entry, ok := s.activeConnectors[connectionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no active query for connection %s", connectionID)
	}
	return entry.connector.FetchMore(ctx, fetchSize)
}

// QueryAll reads up to limit rows of a query. A limit of zero reads all.
func (s *DatabaseService) QueryAll(ctx context.Context, connectionID, query string, limit int) (*dbclient.QueryPage, error) {
	connector, err := s.getOrCreate(connectionID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	page, err := dbclient.ReadAll(ctx, connector, query, limit)
	s.cache(connectionID, query, page, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return page, nil
}

// QueryGrid reads a query and returns it as grid input.
func (s *DatabaseService) QueryGrid(ctx context.Context, connectionID, query string, limit int) ([]grid.Column, []grid.Row, *dbclient.QueryPage, error) {
	page, err := s.QueryAll(ctx, connectionID, query, limit)
	if err != nil {
		return nil, nil, nil, err
	}
	if page.IsWrite {
		return nil, nil, nil, errors.New("query did not return rows")
	}
	return page.GridColumns(), page.GridRows(), page, nil
}

// GetCachedResult returns the cached first page of a query, or nil.
func (s *DatabaseService) GetCachedResult(connectionID, query string) (*dbclient.QueryPage, error) {
	if s.results == nil {
		return nil, nil
	}
	r, err := s.results.GetResult(CacheKey(connectionID, query))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.Error != "" {
		return nil, errors.New(r.Error)
	}
	page := &dbclient.QueryPage{
		TotalFetched: r.TotalRows,
		HasMore:      r.HasMore,
		IsWrite:      r.IsWrite,
		AffectedRows: r.AffectedRows,
	}
	if r.ColumnsJSON != "" {
		if err := json.Unmarshal([]byte(r.ColumnsJSON), &page.Columns); err != nil {
			return nil, fmt.Errorf("decode cached columns: %w", err)
		}
	}
	if r.RowsJSON != "" {
		if err := json.Unmarshal([]byte(r.RowsJSON), &page.Rows); err != nil {
			return nil, fmt.Errorf("decode cached rows: %w", err)
		}
	}
	return page, nil
}

// ClearCachedResult removes the cached result of a query.
func (s *DatabaseService) ClearCachedResult(connectionID, query string) error {
	if s.results == nil {
		return nil
	}
	return s.results.DeleteResults(CacheKey(connectionID, query))
}

func (s *DatabaseService) cache(connectionID, query string, page *dbclient.QueryPage, took time.Duration, runErr error) {
	if s.results == nil {
		return
	}
	key := CacheKey(connectionID, query)
	r := &domain.QueryResult{
		ID:           key,
		CacheKey:     key,
		ConnectionID: connectionID,
		Query:        query,
		DurationMs:   int(took.Milliseconds()),
	}
	if runErr != nil {
		r.Error = runErr.Error()
	} else {
		cols, _ := json.Marshal(page.Columns)
		rows, _ := json.Marshal(page.Rows)
		r.ColumnsJSON = string(cols)
		r.RowsJSON = string(rows)
		r.TotalRows = page.TotalFetched
		r.HasMore = page.HasMore
		r.IsWrite = page.IsWrite
		r.AffectedRows = page.AffectedRows
	}
	if err := s.results.UpsertResult(r); err != nil {
		s.logger.Warn("cache query result", zap.String("connectionId", connectionID), zap.Error(err))
	}
}

// ── Test + Introspect ──────────────────────────────────────

func (s *DatabaseService) TestConnection(ctx context.Context, id string) error {
	connector, err := s.getOrCreate(id)
	if err != nil {
		return err
	}
	return connector.TestConnection(ctx)
}

func (s *DatabaseService) Introspect(ctx context.Context, connectionID string) (*dbclient.SchemaInfo, error) {
	connector, err := s.getOrCreate(connectionID)
	if err != nil {
		return nil, err
	}
	return connector.Introspect(ctx)
}

func (s *DatabaseService) ApplyMutations(ctx context.Context, connectionID, table string, mutations []dbclient.Mutation) (*dbclient.MutationResult, error) {
	connector, err := s.getOrCreate(connectionID)
	if err != nil {
		return nil, err
	}
	return connector.ApplyMutations(ctx, table, mutations)
}

// ── ETL provider ───────────────────────────────────────────

var _ sources.DBProvider = (*DatabaseService)(nil)

func (s *DatabaseService) ExecuteETLQuery(ctx context.Context, connID, query string, fetchSize int) (*sources.QueryPage, error) {
	page, err := s.ExecuteQuery(ctx, connID, query, fetchSize)
	if err != nil {
		return nil, err
	}
	return &sources.QueryPage{Columns: page.Columns, Rows: page.Rows, HasMore: page.HasMore}, nil
}

func (s *DatabaseService) FetchMoreETLRows(ctx context.Context, connID string, fetchSize int) (*sources.QueryPage, error) {
	page, err := s.FetchMoreRows(ctx, connID, fetchSize)
	if err != nil {
		return nil, err
	}
	return &sources.QueryPage{Columns: page.Columns, Rows: page.Rows, HasMore: page.HasMore}, nil
}

// ── Connector Pool ─────────────────────────────────────────

func (s *DatabaseService) getOrCreate(id string) (dbclient.Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.activeConnectors[id]; ok {
		return e.connector, nil
	}

	conn, err := s.connStore.GetConnection(id)
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}

	var password string
	if s.secrets != nil {
		pw, err := s.secrets.Get(secretKey(id))
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		password = string(pw)
	}

	connector, err := dbclient.NewConnector(conn, password, s.logger)
	if err != nil {
		return nil, fmt.Errorf("open db connection: %w", err)
	}
	s.activeConnectors[id] = &connEntry{connector: connector, createdAt: time.Now()}
	return connector, nil
}

func (s *DatabaseService) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.activeConnectors[id]; ok {
		_ = e.connector.Close()
		delete(s.activeConnectors, id)
	}
}

// Close tears down all active database connectors.
func (s *DatabaseService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.activeConnectors {
		_ = entry.connector.Close()
		delete(s.activeConnectors, id)
	}
}
