package grid

import (
	"errors"
	"io"
	"slices"
	"sync"
	"time"
)

// ErrRowNotFound is returned by row actions when no row carries the id.
var ErrRowNotFound = errors.New("grid: row not found")

// Transition names the state change that produced a StateChanged event.
type Transition string

const (
	TransitionRows         Transition = "rows"
	TransitionToggleColumn Transition = "toggle_column"
	TransitionFilter       Transition = "filter"
	TransitionSearch       Transition = "search"
	TransitionSort         Transition = "sort"
	TransitionPage         Transition = "page"
	TransitionPageSize     Transition = "page_size"
	TransitionRestore      Transition = "restore"
)

// Handlers are the caller-supplied callbacks. Every field is optional. Row
// actions hand the target row back; persistence is the caller's job and any
// error it returns is passed through unchanged.
type Handlers struct {
	OnFilterChange func(Filters)
	OnColumnToggle func(visible []string)
	OnRowClick     func(Row)
	OnEdit         func(Row) error
	OnDelete       func(Row) error
	// OnDownload replaces the built-in CSV export when set.
	OnDownload func() error
	OnReload   func() error
}

// Options configure a Grid.
type Options struct {
	PageSize  int
	IDKey     string
	Formatter *Formatter
	Handlers  Handlers
	// Now stamps export file names. Defaults to time.Now.
	Now func() time.Time
}

// State is a snapshot of the grid's view state. It is what gets persisted as
// a saved view and what StateChanged carries.
type State struct {
	VisibleColumns []string        `json:"visibleColumns"`
	Filters        Filters         `json:"filters"`
	Search         string          `json:"search"`
	Sort           *SortDescriptor `json:"sort,omitempty"`
	Page           int             `json:"page"`
	PageSize       int             `json:"pageSize"`
}

// StateChanged is emitted after every transition has been recomputed.
type StateChanged struct {
	Cause     Transition
	State     State
	TotalRows int
}

// ViewRow is one displayed row with its formatted cells, in visible column
// order.
type ViewRow struct {
	ID    any      `json:"id"`
	Row   Row      `json:"row"`
	Cells []string `json:"cells"`
}

// View is the render-ready result of the pipeline.
type View struct {
	Columns    []Column        `json:"columns"`
	Rows       []ViewRow       `json:"rows"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalPages int             `json:"totalPages"`
	TotalRows  int             `json:"totalRows"`
	SourceRows int             `json:"sourceRows"`
	Loading    bool            `json:"loading"`
	Filters    Filters         `json:"filters"`
	Search     string          `json:"search"`
	Sort       *SortDescriptor `json:"sort,omitempty"`
}

// Grid owns the view state for one table. Each transition recomputes the
// whole pipeline under a lock, so a recomputation always finishes before the
// next transition starts; handlers and subscribers run after the lock is
// released and may call back into the grid.
type Grid struct {
	mu        sync.Mutex
	columns   []Column
	byKey     map[string]Column
	visible   map[string]bool
	filters   Filters
	search    string
	sort      *SortDescriptor
	page      int
	pageSize  int
	idKey     string
	rows      []Row
	loading   bool
	processed []Row
	lastCount int

	formatter *Formatter
	handlers  Handlers
	now       func() time.Time

	subMu   sync.Mutex
	subs    map[int]func(StateChanged)
	nextSub int
}

// New creates a grid over columns with every column visible, no filters, no
// sort and page 1.
func New(columns []Column, opts Options) *Grid {
	g := &Grid{
		columns:   slices.Clone(columns),
		byKey:     columnIndex(columns),
		visible:   make(map[string]bool, len(columns)),
		filters:   Filters{},
		page:      1,
		pageSize:  opts.PageSize,
		idKey:     opts.IDKey,
		formatter: opts.Formatter,
		handlers:  opts.Handlers,
		now:       opts.Now,
		subs:      make(map[int]func(StateChanged)),
	}
	if g.pageSize <= 0 {
		g.pageSize = DefaultPageSize
	}
	if g.idKey == "" {
		g.idKey = DefaultIDKey
	}
	if g.formatter == nil {
		g.formatter = NewFormatter(DefaultLocale, "")
	}
	if g.now == nil {
		g.now = time.Now
	}
	for _, c := range columns {
		g.visible[c.Key] = true
	}
	g.recomputeLocked()
	return g
}

// Columns returns the declared columns.
func (g *Grid) Columns() []Column { return slices.Clone(g.columns) }

// Formatter returns the formatter used for cells and exports.
func (g *Grid) Formatter() *Formatter { return g.formatter }

// Subscribe registers fn for StateChanged events and returns a function that
// removes it.
func (g *Grid) Subscribe(fn func(StateChanged)) (unsubscribe func()) {
	g.subMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.subMu.Unlock()
	return func() {
		g.subMu.Lock()
		delete(g.subs, id)
		g.subMu.Unlock()
	}
}

// ── Transitions ───────────────────────────────────────────

// SetRows replaces the row collection. The grid keeps the slice but never
// writes to it.
func (g *Grid) SetRows(rows []Row) {
	g.mu.Lock()
	g.rows = rows
	g.loading = false
	g.recomputeLocked()
	ev := g.eventLocked(TransitionRows)
	g.mu.Unlock()
	g.emit(ev)
}

// SetLoading flags that the caller is fetching a fresh collection.
func (g *Grid) SetLoading(loading bool) {
	g.mu.Lock()
	g.loading = loading
	g.mu.Unlock()
}

// ToggleColumn shows or hides a declared column. Hidden columns drop out of
// the global search. It reports false for unknown keys.
func (g *Grid) ToggleColumn(key string) bool {
	g.mu.Lock()
	if _, ok := g.byKey[key]; !ok {
		g.mu.Unlock()
		return false
	}
	g.visible[key] = !g.visible[key]
	g.recomputeLocked()
	ev := g.eventLocked(TransitionToggleColumn)
	visible := ev.State.VisibleColumns
	g.mu.Unlock()

	if g.handlers.OnColumnToggle != nil {
		g.handlers.OnColumnToggle(slices.Clone(visible))
	}
	g.emit(ev)
	return true
}

// SetFilter upserts the filter for key, or removes it when value is zero. It
// reports false when key is not a filterable column.
func (g *Grid) SetFilter(key string, value FilterValue) bool {
	g.mu.Lock()
	if c, ok := g.byKey[key]; !ok || !c.Filterable {
		g.mu.Unlock()
		return false
	}
	if value.IsZero() {
		delete(g.filters, key)
	} else {
		g.filters[key] = value
	}
	g.recomputeLocked()
	ev := g.eventLocked(TransitionFilter)
	g.mu.Unlock()

	g.notifyFilters(ev.State.Filters)
	g.emit(ev)
	return true
}

// ClearFilters removes every column filter.
func (g *Grid) ClearFilters() {
	g.mu.Lock()
	g.filters = Filters{}
	g.recomputeLocked()
	ev := g.eventLocked(TransitionFilter)
	g.mu.Unlock()

	g.notifyFilters(ev.State.Filters)
	g.emit(ev)
}

// SetSearch sets the global search term.
func (g *Grid) SetSearch(term string) {
	g.mu.Lock()
	g.search = term
	g.recomputeLocked()
	ev := g.eventLocked(TransitionSearch)
	g.mu.Unlock()
	g.emit(ev)
}

// SetSort sorts by key ascending, or flips the direction when key is already
// the sort column. It reports false when key is not a sortable column.
func (g *Grid) SetSort(key string) bool {
	g.mu.Lock()
	if c, ok := g.byKey[key]; !ok || !c.Sortable {
		g.mu.Unlock()
		return false
	}
	if g.sort != nil && g.sort.Key == key {
		dir := Desc
		if g.sort.Direction == Desc {
			dir = Asc
		}
		g.sort = &SortDescriptor{Key: key, Direction: dir}
	} else {
		g.sort = &SortDescriptor{Key: key, Direction: Asc}
	}
	g.recomputeLocked()
	ev := g.eventLocked(TransitionSort)
	g.mu.Unlock()
	g.emit(ev)
	return true
}

// ClearSort returns rows to their source order.
func (g *Grid) ClearSort() {
	g.mu.Lock()
	g.sort = nil
	g.recomputeLocked()
	ev := g.eventLocked(TransitionSort)
	g.mu.Unlock()
	g.emit(ev)
}

// GotoPage moves to page n clamped to [1, TotalPages] and returns the page
// actually selected.
func (g *Grid) GotoPage(n int) int {
	g.mu.Lock()
	g.page = ClampPage(n, TotalPages(len(g.processed), g.pageSize))
	page := g.page
	ev := g.eventLocked(TransitionPage)
	g.mu.Unlock()
	g.emit(ev)
	return page
}

// NextPage advances one page, stopping at the last.
func (g *Grid) NextPage() int {
	g.mu.Lock()
	n := g.page + 1
	g.mu.Unlock()
	return g.GotoPage(n)
}

// PrevPage goes back one page, stopping at the first.
func (g *Grid) PrevPage() int {
	g.mu.Lock()
	n := g.page - 1
	g.mu.Unlock()
	return g.GotoPage(n)
}

// SetPageSize changes the window size and returns to page 1.
func (g *Grid) SetPageSize(size int) {
	if size <= 0 {
		size = DefaultPageSize
	}
	g.mu.Lock()
	g.pageSize = size
	g.page = 1
	ev := g.eventLocked(TransitionPageSize)
	g.mu.Unlock()
	g.emit(ev)
}

// Restore applies a saved State. Unknown columns and filters on columns that
// are not filterable are dropped; the page is clamped to the current data.
func (g *Grid) Restore(s State) {
	g.mu.Lock()
	if s.VisibleColumns != nil {
		for k := range g.visible {
			g.visible[k] = false
		}
		for _, k := range s.VisibleColumns {
			if _, ok := g.byKey[k]; ok {
				g.visible[k] = true
			}
		}
	}
	g.filters = Filters{}
	for k, v := range s.Filters {
		if c, ok := g.byKey[k]; ok && c.Filterable && !v.IsZero() {
			g.filters[k] = v
		}
	}
	g.search = s.Search
	g.sort = nil
	if s.Sort != nil {
		if c, ok := g.byKey[s.Sort.Key]; ok && c.Sortable {
			dir := s.Sort.Direction
			if dir != Desc {
				dir = Asc
			}
			g.sort = &SortDescriptor{Key: s.Sort.Key, Direction: dir}
		}
	}
	if s.PageSize > 0 {
		g.pageSize = s.PageSize
	}
	g.recomputeLocked()
	g.page = ClampPage(s.Page, TotalPages(len(g.processed), g.pageSize))
	ev := g.eventLocked(TransitionRestore)
	g.mu.Unlock()
	g.emit(ev)
}

// ── Reads ─────────────────────────────────────────────────

// State returns a snapshot of the current view state.
func (g *Grid) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

// View returns the current page with formatted cells.
func (g *Grid) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()

	cols := g.visibleColumnsLocked()
	pr := Paginate(g.processed, g.page, g.pageSize)
	paths := make([]Path, len(cols))
	for i, c := range cols {
		paths[i], _ = ParsePath(c.Key)
	}

	rows := make([]ViewRow, len(pr.Rows))
	for i, r := range pr.Rows {
		cells := make([]string, len(cols))
		for j, c := range cols {
			v, _ := Lookup(r, paths[j])
			cells[j] = g.formatter.Format(v, c.Type)
		}
		rows[i] = ViewRow{ID: r.ID(g.idKey), Row: r, Cells: cells}
	}

	return View{
		Columns:    cols,
		Rows:       rows,
		Page:       g.page,
		PageSize:   g.pageSize,
		TotalPages: pr.TotalPages,
		TotalRows:  len(g.processed),
		SourceRows: len(g.rows),
		Loading:    g.loading,
		Filters:    g.filters.Clone(),
		Search:     g.search,
		Sort:       cloneSort(g.sort),
	}
}

// Processed returns every row that passes the filters and search, in sort
// order, across all pages.
func (g *Grid) Processed() []Row {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.processed)
}

// ── Row actions ───────────────────────────────────────────

// RowClick hands the row with id to OnRowClick.
func (g *Grid) RowClick(id any) error {
	row, err := g.find(id)
	if err != nil {
		return err
	}
	if g.handlers.OnRowClick != nil {
		g.handlers.OnRowClick(row)
	}
	return nil
}

// Edit hands the row with id to OnEdit.
func (g *Grid) Edit(id any) error {
	row, err := g.find(id)
	if err != nil {
		return err
	}
	if g.handlers.OnEdit == nil {
		return nil
	}
	return g.handlers.OnEdit(row)
}

// Delete hands the row with id to OnDelete. The grid does not drop the row
// itself; the caller supplies the updated collection through SetRows.
func (g *Grid) Delete(id any) error {
	row, err := g.find(id)
	if err != nil {
		return err
	}
	if g.handlers.OnDelete == nil {
		return nil
	}
	return g.handlers.OnDelete(row)
}

// Reload asks the caller for a fresh collection.
func (g *Grid) Reload() error {
	if g.handlers.OnReload == nil {
		return nil
	}
	g.SetLoading(true)
	if err := g.handlers.OnReload(); err != nil {
		g.SetLoading(false)
		return err
	}
	return nil
}

// Download runs OnDownload when it is set and returns an empty name.
// Otherwise it writes the built-in CSV export of every filtered, sorted row
// (visible columns only) to w and returns the default file name.
func (g *Grid) Download(w io.Writer) (string, error) {
	if g.handlers.OnDownload != nil {
		return "", g.handlers.OnDownload()
	}
	g.mu.Lock()
	cols := g.visibleColumnsLocked()
	rows := slices.Clone(g.processed)
	name := ExportFilename(g.now())
	g.mu.Unlock()

	if err := WriteCSV(w, cols, rows, g.formatter); err != nil {
		return "", err
	}
	return name, nil
}

// ── Internals ─────────────────────────────────────────────

// recomputeLocked runs filter → search → sort and resets the page when the
// result size changed.
func (g *Grid) recomputeLocked() {
	filtered := ApplyFilters(g.rows, g.filters, g.columns)
	filtered = ApplyGlobalSearch(filtered, g.search, g.visibleKeysLocked())
	g.processed = ApplySort(filtered, g.sort)
	if n := len(g.processed); n != g.lastCount {
		g.lastCount = n
		g.page = 1
	}
}

func (g *Grid) visibleKeysLocked() []string {
	keys := make([]string, 0, len(g.columns))
	for _, c := range g.columns {
		if g.visible[c.Key] {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

func (g *Grid) visibleColumnsLocked() []Column {
	cols := make([]Column, 0, len(g.columns))
	for _, c := range g.columns {
		if g.visible[c.Key] {
			cols = append(cols, c)
		}
	}
	return cols
}

func (g *Grid) stateLocked() State {
	return State{
		VisibleColumns: g.visibleKeysLocked(),
		Filters:        g.filters.Clone(),
		Search:         g.search,
		Sort:           cloneSort(g.sort),
		Page:           g.page,
		PageSize:       g.pageSize,
	}
}

func (g *Grid) eventLocked(cause Transition) StateChanged {
	return StateChanged{Cause: cause, State: g.stateLocked(), TotalRows: len(g.processed)}
}

func (g *Grid) notifyFilters(f Filters) {
	if g.handlers.OnFilterChange != nil {
		g.handlers.OnFilterChange(f.Clone())
	}
}

func (g *Grid) emit(ev StateChanged) {
	g.subMu.Lock()
	fns := make([]func(StateChanged), 0, len(g.subs))
	for i := 0; i < g.nextSub; i++ {
		if fn, ok := g.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	g.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (g *Grid) find(id any) (Row, error) {
	want := Stringify(id)
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.rows {
		if v := r.ID(g.idKey); v != nil && Stringify(v) == want {
			return r, nil
		}
	}
	return nil, ErrRowNotFound
}

func cloneSort(s *SortDescriptor) *SortDescriptor {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
