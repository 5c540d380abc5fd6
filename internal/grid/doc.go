// Package grid is the tabular view-model behind every directory and report
// screen: it takes a caller-owned row collection plus column declarations and
// produces a filtered, sorted and paginated view of it.
//
// The pipeline is fixed:
//
//	rows → column filters → global search → sort → paginate → format cells
//
// The free functions (ApplyFilters, ApplyGlobalSearch, ApplySort, Paginate,
// Formatter.Format) are pure. Grid composes them into a small state machine
// that owns the view state (visible columns, filters, search term, sort
// descriptor, current page) and delegates row actions back to the caller
// through Handlers. The grid never mutates the rows it is given and performs
// no I/O of its own except writing the default CSV export into the writer the
// caller supplies.
package grid
