package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backoffice/internal/dbclient"
	"backoffice/internal/domain"
	"backoffice/internal/grid"
	"backoffice/internal/logging"
)

// ─────────────────────────────────────────────────────────────
// Grid Service — live grid sessions over datasets and queries
// ─────────────────────────────────────────────────────────────

// ErrSessionNotFound is returned for unknown or closed session ids.
var ErrSessionNotFound = errors.New("grid session not found")

// queryRowKey carries the row position of query results without a single
// primary key. It is not a column, so it is never shown, searched or exported.
const queryRowKey = "__row"

// GridOptions configure new sessions.
type GridOptions struct {
	Formatter *grid.Formatter
	PageSize  int
	ExportDir string
	Now       func() time.Time
}

// GridSessionInfo describes an open session.
type GridSessionInfo struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	DatasetID    string     `json:"datasetId,omitempty"`
	ConnectionID string     `json:"connectionId,omitempty"`
	Query        string     `json:"query,omitempty"`
	State        grid.State `json:"state"`
	TotalRows    int        `json:"totalRows"`
}

// gridSource loads and persists the rows behind one session.
type gridSource interface {
	load(ctx context.Context) ([]grid.Column, []grid.Row, error)
	update(ctx context.Context, row grid.Row, patch map[string]any) error
	remove(ctx context.Context, row grid.Row) error
	idKey() string
}

type gridSession struct {
	id           string
	title        string
	datasetID    string
	connectionID string
	query        string
	source       gridSource

	// events carries the opening call's values, without its cancellation,
	// to the state-change path, which runs on any goroutine.
	events context.Context

	mu          sync.Mutex
	grid        *grid.Grid
	unsubscribe func()

	// opMu serializes row actions. op is only touched while it is held, and
	// the row handlers only run inside withOp or RefreshDataset.
	opMu sync.Mutex
	op   gridOp
}

// gridOp is the in-flight row action's context and patch.
type gridOp struct {
	ctx   context.Context
	patch map[string]any
}

func (s *gridSession) current() *grid.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid
}

// opContext returns the in-flight action's context. Callers hold opMu.
func (s *gridSession) opContext() context.Context {
	if s.op.ctx != nil {
		return s.op.ctx
	}
	return s.events
}

// runOp runs fn with op installed. Callers hold opMu.
func (s *gridSession) runOp(op gridOp, fn func() error) error {
	s.op = op
	defer func() { s.op = gridOp{} }()
	return fn()
}

// GridService owns the open grid sessions. Handlers persist row edits and
// deletes to the session's source, and every state change is saved as the
// dataset's view and emitted as grid:state-changed.
type GridService struct {
	datasets *DatasetService
	db       *DatabaseService
	views    domain.GridViewStore
	exports  domain.ExportStore
	emitter  EventEmitter
	logger   *zap.Logger
	opts     GridOptions

	mu       sync.RWMutex
	sessions map[string]*gridSession
}

// NewGridService creates a GridService. db, views and exports may be nil.
func NewGridService(
	datasets *DatasetService,
	db *DatabaseService,
	views domain.GridViewStore,
	exports domain.ExportStore,
	emitter EventEmitter,
	logger *zap.Logger,
	opts GridOptions,
) *GridService {
	if opts.Formatter == nil {
		opts.Formatter = grid.NewFormatter(grid.DefaultLocale, "")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = grid.DefaultPageSize
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &GridService{
		datasets: datasets,
		db:       db,
		views:    views,
		exports:  exports,
		emitter:  orNop(emitter),
		logger:   logging.OrNop(logger).Named("grid"),
		opts:     opts,
		sessions: make(map[string]*gridSession),
	}
}

// ── Sessions ───────────────────────────────────────────────

// Open starts a session over a dataset, referenced by id or name, and
// restores its saved view.
func (s *GridService) Open(ctx context.Context, datasetRef string) (*GridSessionInfo, error) {
	d, err := s.datasets.FindDataset(datasetRef)
	if err != nil {
		return nil, err
	}
	sess := &gridSession{
		id:        uuid.New().String(),
		title:     d.Name,
		datasetID: d.ID,
		source:    &datasetGridSource{svc: s.datasets, datasetID: d.ID},
	}
	saved, err := s.datasets.SavedView(d.ID)
	if err != nil {
		s.logger.Warn("load saved view", zap.String("datasetId", d.ID), zap.Error(err))
	}
	if err := s.start(ctx, sess, saved); err != nil {
		return nil, err
	}
	return s.info(sess), nil
}

// OpenQuery starts a session over the rows of a query on an external
// database. limit bounds the rows read; zero reads all.
func (s *GridService) OpenQuery(ctx context.Context, connection, query string, limit int) (*GridSessionInfo, error) {
	if s.db == nil {
		return nil, errors.New("database service is not configured")
	}
	conn, err := s.db.FindConnection(connection)
	if err != nil {
		return nil, err
	}
	sess := &gridSession{
		id:           uuid.New().String(),
		title:        conn.Name,
		connectionID: conn.ID,
		query:        query,
		source:       &queryGridSource{svc: s.db, connectionID: conn.ID, query: query, limit: limit},
	}
	if err := s.start(ctx, sess, nil); err != nil {
		return nil, err
	}
	return s.info(sess), nil
}

func (s *GridService) start(ctx context.Context, sess *gridSession, saved *grid.State) error {
	cols, rows, err := sess.source.load(ctx)
	if err != nil {
		return fmt.Errorf("load grid rows: %w", err)
	}
	sess.events = context.WithoutCancel(ctx)
	g := s.newGrid(sess, cols)
	g.SetRows(rows)
	if saved != nil {
		g.Restore(*saved)
	}
	sess.grid = g
	sess.unsubscribe = g.Subscribe(s.onStateChanged(sess))

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Debug("session opened",
		zap.String("sessionId", sess.id),
		zap.String("title", sess.title),
		zap.Int("rows", len(rows)))
	return nil
}

func (s *GridService) newGrid(sess *gridSession, cols []grid.Column) *grid.Grid {
	return grid.New(cols, grid.Options{
		PageSize:  s.opts.PageSize,
		IDKey:     sess.source.idKey(),
		Formatter: s.opts.Formatter,
		Now:       s.opts.Now,
		Handlers: grid.Handlers{
			OnEdit: func(row grid.Row) error {
				ctx := sess.opContext()
				if err := sess.source.update(ctx, row, sess.op.patch); err != nil {
					return err
				}
				return s.reload(ctx, sess)
			},
			OnDelete: func(row grid.Row) error {
				ctx := sess.opContext()
				if err := sess.source.remove(ctx, row); err != nil {
					return err
				}
				return s.reload(ctx, sess)
			},
			OnReload: func() error {
				return s.reload(sess.opContext(), sess)
			},
			OnRowClick: func(row grid.Row) {
				s.emitter.Emit(sess.opContext(), EventGridRowClicked, map[string]any{
					"sessionId": sess.id,
					"row":       row,
				})
			},
			OnFilterChange: func(f grid.Filters) {
				s.logger.Debug("filters changed", zap.String("sessionId", sess.id), zap.Int("active", len(f)))
			},
			OnColumnToggle: func(visible []string) {
				s.logger.Debug("columns toggled", zap.String("sessionId", sess.id), zap.Strings("visible", visible))
			},
		},
	})
}

func (s *GridService) onStateChanged(sess *gridSession) func(grid.StateChanged) {
	return func(ev grid.StateChanged) {
		if sess.datasetID != "" && s.views != nil {
			v := &domain.GridView{DatasetID: sess.datasetID, State: ev.State}
			if err := s.views.UpsertView(v); err != nil {
				s.logger.Warn("save view", zap.String("datasetId", sess.datasetID), zap.Error(err))
			}
		}
		s.emitter.Emit(sess.events, EventGridStateChanged, map[string]any{
			"sessionId": sess.id,
			"cause":     string(ev.Cause),
			"state":     ev.State,
			"totalRows": ev.TotalRows,
		})
	}
}

// Close ends a session.
func (s *GridService) Close(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.mu.Lock()
	if sess.unsubscribe != nil {
		sess.unsubscribe()
	}
	sess.mu.Unlock()
	return nil
}

// CloseAll ends every session.
func (s *GridService) CloseAll() {
	for _, info := range s.List() {
		_ = s.Close(info.ID)
	}
}

// List describes the open sessions, oldest title first.
func (s *GridService) List() []GridSessionInfo {
	s.mu.RLock()
	out := make([]GridSessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *s.info(sess))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get describes one session.
func (s *GridService) Get(sessionID string) (*GridSessionInfo, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.info(sess), nil
}

func (s *GridService) info(sess *gridSession) *GridSessionInfo {
	g := sess.current()
	return &GridSessionInfo{
		ID:           sess.id,
		Title:        sess.title,
		DatasetID:    sess.datasetID,
		ConnectionID: sess.connectionID,
		Query:        sess.query,
		State:        g.State(),
		TotalRows:    len(g.Processed()),
	}
}

func (s *GridService) session(id string) (*gridSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

func (s *GridService) grid(id string) (*grid.Grid, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return sess.current(), nil
}

// ── Transitions ────────────────────────────────────────────

// View renders the session's current page.
func (s *GridService) View(sessionID string) (*grid.View, error) {
	g, err := s.grid(sessionID)
	if err != nil {
		return nil, err
	}
	v := g.View()
	return &v, nil
}

func (s *GridService) ToggleColumn(sessionID, key string) error {
	g, err := s.grid(sessionID)
	if err != nil {
		return err
	}
	if !g.ToggleColumn(key) {
		return fmt.Errorf("unknown column: %s", key)
	}
	return nil
}

func (s *GridService) SetFilter(sessionID, key string, value grid.FilterValue) error {
	g, err := s.grid(sessionID)
	if err != nil {
		return err
	}
	if !g.SetFilter(key, value) {
		return fmt.Errorf("column %s is not filterable", key)
	}
	return nil
}

func (s *GridService) ClearFilters(sessionID string) error {
	g, err := s.grid(sessionID)
	if err != nil {
		return err
	}
	g.ClearFilters()
	return nil
}

func (s *GridService) SetSearch(sessionID, term string) error {
	g, err := s.grid(sessionID)
	if err != nil {
		return err
	}
	g.SetSearch(term)
	return nil
}

// SetSort sorts by key, flipping the direction when key is already the sort
// column, and returns the resulting descriptor.
func (s *GridService) SetSort(sessionID, key string) (*grid.SortDescriptor, error) {
	g, err := s.grid(sessionID)
	if err != nil {
		return nil, err
	}
	if !g.SetSort(key) {
		return nil, fmt.Errorf("column %s is not sortable", key)
	}
	return g.State().Sort, nil
}

func (s *GridService) ClearSort(sessionID string) error {
	g, err := s.grid(sessionID)
	if err != nil {
		return err
	}
	g.ClearSort()
	return nil
}

// GotoPage moves to page n and returns the clamped page.
func (s *GridService) GotoPage(sessionID string, n int) (int, error) {
	g, err := s.grid(sessionID)
	if err != nil {
		return 0, err
	}
	return g.GotoPage(n), nil
}

func (s *GridService) NextPage(sessionID string) (int, error) {
	g, err := s.grid(sessionID)
	if err != nil {
		return 0, err
	}
	return g.NextPage(), nil
}

func (s *GridService) PrevPage(sessionID string) (int, error) {
	g, err := s.grid(sessionID)
	if err != nil {
		return 0, err
	}
	return g.PrevPage(), nil
}

func (s *GridService) SetPageSize(sessionID string, size int) error {
	if size < 1 {
		return fmt.Errorf("invalid page size: %d", size)
	}
	g, err := s.grid(sessionID)
	if err != nil {
		return err
	}
	g.SetPageSize(size)
	return nil
}

// ── Row actions ────────────────────────────────────────────

// RowClick emits grid:row-clicked for the row with rowID.
func (s *GridService) RowClick(ctx context.Context, sessionID string, rowID any) error {
	return s.withOp(ctx, sessionID, nil, func(g *grid.Grid) error { return g.RowClick(rowID) })
}

// Edit applies patch to the row with rowID and reloads the session. Patch
// keys may be dotted paths for dataset rows; a nil value removes the key.
func (s *GridService) Edit(ctx context.Context, sessionID string, rowID any, patch map[string]any) error {
	if len(patch) == 0 {
		return errors.New("empty patch")
	}
	return s.withOp(ctx, sessionID, patch, func(g *grid.Grid) error { return g.Edit(rowID) })
}

// Delete removes the row with rowID from the session's source and reloads.
func (s *GridService) Delete(ctx context.Context, sessionID string, rowID any) error {
	return s.withOp(ctx, sessionID, nil, func(g *grid.Grid) error { return g.Delete(rowID) })
}

// Reload refetches the session's rows.
func (s *GridService) Reload(ctx context.Context, sessionID string) error {
	return s.withOp(ctx, sessionID, nil, func(g *grid.Grid) error { return g.Reload() })
}

func (s *GridService) withOp(ctx context.Context, sessionID string, patch map[string]any, fn func(*grid.Grid) error) error {
	sess, err := s.session(sessionID)
	if err != nil {
		return err
	}
	sess.opMu.Lock()
	defer sess.opMu.Unlock()
	return sess.runOp(gridOp{ctx: ctx, patch: patch}, func() error { return fn(sess.current()) })
}

// RefreshDataset reloads every session open over datasetID. When the
// dataset's columns changed the grid is rebuilt with its state restored.
func (s *GridService) RefreshDataset(ctx context.Context, datasetID string) error {
	s.mu.RLock()
	var targets []*gridSession
	for _, sess := range s.sessions {
		if sess.datasetID == datasetID {
			targets = append(targets, sess)
		}
	}
	s.mu.RUnlock()

	var errs []error
	for _, sess := range targets {
		sess.opMu.Lock()
		err := sess.runOp(gridOp{ctx: ctx}, func() error { return s.reload(ctx, sess) })
		sess.opMu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", sess.id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *GridService) reload(ctx context.Context, sess *gridSession) error {
	cols, rows, err := sess.source.load(ctx)
	if err != nil {
		sess.current().SetLoading(false)
		return fmt.Errorf("reload grid rows: %w", err)
	}

	sess.mu.Lock()
	g := sess.grid
	if !slices.Equal(g.Columns(), cols) {
		state := g.State()
		// Columns the old grid never had start visible.
		for _, c := range cols {
			if !slices.ContainsFunc(g.Columns(), func(o grid.Column) bool { return o.Key == c.Key }) {
				state.VisibleColumns = append(state.VisibleColumns, c.Key)
			}
		}
		if sess.unsubscribe != nil {
			sess.unsubscribe()
		}
		g = s.newGrid(sess, cols)
		g.SetRows(rows)
		g.Restore(state)
		sess.grid = g
		sess.unsubscribe = g.Subscribe(s.onStateChanged(sess))
		sess.mu.Unlock()
		s.onStateChanged(sess)(grid.StateChanged{
			Cause:     grid.TransitionRows,
			State:     g.State(),
			TotalRows: len(g.Processed()),
		})
		return nil
	}
	sess.mu.Unlock()

	g.SetRows(rows)
	return nil
}

// ── Export ─────────────────────────────────────────────────

// Export writes every filtered, sorted row of the session as CSV into the
// export directory and records it.
func (s *GridService) Export(ctx context.Context, sessionID string) (*domain.ExportRecord, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	g := sess.current()

	if err := os.MkdirAll(s.opts.ExportDir, 0755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.opts.ExportDir, ".export-*.csv")
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	name, err := g.Download(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write export: %w", err)
	}

	name, path, err := placeExport(tmp.Name(), s.opts.ExportDir, name)
	if err != nil {
		return nil, fmt.Errorf("move export: %w", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	rec := &domain.ExportRecord{
		ID:        uuid.New().String(),
		DatasetID: sess.datasetID,
		FileName:  name,
		Path:      path,
		RowCount:  len(g.Processed()),
		Bytes:     fi.Size(),
		CreatedAt: s.opts.Now(),
	}
	if s.exports != nil {
		if err := s.exports.CreateExport(rec); err != nil {
			return nil, fmt.Errorf("record export: %w", err)
		}
	}
	s.emitter.Emit(ctx, EventGridExported, rec)
	s.logger.Info("grid exported",
		zap.String("sessionId", sess.id),
		zap.String("path", path),
		zap.Int("rows", rec.RowCount))
	return rec, nil
}

// placeExport links the finished temp file into dir under name, adding a
// -2, -3, ... suffix when an earlier export already holds the name.
func placeExport(tmp, dir, name string) (string, string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := name
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d%s", base, n, ext)
		}
		path := filepath.Join(dir, candidate)
		err := os.Link(tmp, path)
		if err == nil {
			return candidate, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", err
		}
	}
}

// ── Sources ────────────────────────────────────────────────

type datasetGridSource struct {
	svc       *DatasetService
	datasetID string
}

func (d *datasetGridSource) idKey() string { return grid.DefaultIDKey }

func (d *datasetGridSource) load(_ context.Context) ([]grid.Column, []grid.Row, error) {
	ds, err := d.svc.GetDataset(d.datasetID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := d.svc.GridRows(d.datasetID)
	if err != nil {
		return nil, nil, err
	}
	return ds.Columns, rows, nil
}

func (d *datasetGridSource) update(ctx context.Context, row grid.Row, patch map[string]any) error {
	_, err := d.svc.PatchRow(ctx, grid.Stringify(row.ID(grid.DefaultIDKey)), patch)
	return err
}

func (d *datasetGridSource) remove(ctx context.Context, row grid.Row) error {
	return d.svc.DeleteRow(ctx, grid.Stringify(row.ID(grid.DefaultIDKey)))
}

type queryGridSource struct {
	svc          *DatabaseService
	connectionID string
	query        string
	limit        int

	mu   sync.Mutex
	page *dbclient.QueryPage
}

func (q *queryGridSource) idKey() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.page != nil && len(q.page.PrimaryKeys) == 1 {
		return q.page.PrimaryKeys[0]
	}
	return queryRowKey
}

func (q *queryGridSource) load(ctx context.Context) ([]grid.Column, []grid.Row, error) {
	cols, rows, page, err := q.svc.QueryGrid(ctx, q.connectionID, q.query, q.limit)
	if err != nil {
		return nil, nil, err
	}
	for i, r := range rows {
		r[queryRowKey] = i + 1
	}
	q.mu.Lock()
	q.page = page
	q.mu.Unlock()
	return cols, rows, nil
}

func (q *queryGridSource) key(row grid.Row) (string, map[string]any, error) {
	q.mu.Lock()
	page := q.page
	q.mu.Unlock()
	if page == nil || page.Table == "" {
		return "", nil, errors.New("query result is not editable: unknown source table")
	}
	key, err := page.RowKey(row)
	return page.Table, key, err
}

func (q *queryGridSource) update(ctx context.Context, row grid.Row, patch map[string]any) error {
	table, key, err := q.key(row)
	if err != nil {
		return err
	}
	return q.apply(ctx, table, dbclient.Mutation{Type: "update", RowKey: key, Changes: patch})
}

func (q *queryGridSource) remove(ctx context.Context, row grid.Row) error {
	table, key, err := q.key(row)
	if err != nil {
		return err
	}
	return q.apply(ctx, table, dbclient.Mutation{Type: "delete", RowKey: key})
}

func (q *queryGridSource) apply(ctx context.Context, table string, m dbclient.Mutation) error {
	res, err := q.svc.ApplyMutations(ctx, q.connectionID, table, []dbclient.Mutation{m})
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return errors.New(res.Errors[0])
	}
	if res.Applied == 0 {
		return errors.New("no row matched")
	}
	return nil
}
