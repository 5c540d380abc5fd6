package grid

// DefaultPageSize is used when no positive page size is given.
const DefaultPageSize = 10

// PageResult is one window of a row sequence.
type PageResult struct {
	Rows       []Row
	Page       int
	PageSize   int
	TotalPages int
	TotalRows  int
}

// TotalPages returns ceil(n / pageSize); zero rows give zero pages.
func TotalPages(n, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if n <= 0 {
		return 0
	}
	return (n + pageSize - 1) / pageSize
}

// ClampPage bounds page to [1, totalPages]. With no pages the only valid
// page is 1.
func ClampPage(page, totalPages int) int {
	if totalPages < 1 {
		return 1
	}
	return min(max(page, 1), totalPages)
}

// Paginate slices rows[(page-1)*pageSize : page*pageSize], bounded to the
// sequence. Pages past the end are empty; pages below 1 are treated as 1.
func Paginate(rows []Row, page, pageSize int) PageResult {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	start := len(rows)
	if page-1 <= len(rows)/pageSize {
		start = min((page-1)*pageSize, len(rows))
	}
	end := min(start+pageSize, len(rows))
	return PageResult{
		Rows:       rows[start:end:end],
		Page:       page,
		PageSize:   pageSize,
		TotalPages: TotalPages(len(rows), pageSize),
		TotalRows:  len(rows),
	}
}
