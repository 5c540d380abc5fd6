package etl

import (
	"fmt"
	"strconv"
	"strings"

	"backoffice/internal/grid"
)

// ── Transformer ────────────────────────────────────────────
// Transformers modify records in-flight between source and destination.
// Each takes a record and returns a (possibly modified) record plus whether
// to keep it.

// Transformer processes a single record.
// Returns (transformed record, keep). If keep is false, the record is dropped.
type Transformer interface {
	Transform(Record) (Record, bool)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(Record) (Record, bool)

func (f TransformerFunc) Transform(r Record) (Record, bool) { return f(r) }

// ── Built-in Transforms ────────────────────────────────────

// FilterTransform drops records whose field does not satisfy Op. Field may be
// a dotted path. "contains" and "between" behave exactly like the grid's
// column filters so an import can pre-apply a saved view.
type FilterTransform struct {
	Field string
	Op    string // "eq" | "neq" | "gt" | "lt" | "contains" | "between"
	Value any
	Range grid.Range
}

func (t *FilterTransform) Transform(r Record) (Record, bool) {
	v := grid.Resolve(grid.Row(r.Data), t.Field)
	if v == nil && t.Op != "neq" {
		return r, false
	}
	switch t.Op {
	case "eq":
		return r, grid.Stringify(v) == grid.Stringify(t.Value)
	case "neq":
		return r, grid.Stringify(v) != grid.Stringify(t.Value)
	case "contains":
		row := grid.Row{"v": v}
		kept := grid.ApplyFilters([]grid.Row{row}, grid.Filters{"v": grid.Text(grid.Stringify(t.Value))}, nil)
		return r, len(kept) == 1
	case "between":
		return r, t.Range.Contains(v)
	case "gt":
		return r, toFloat(v) > toFloat(t.Value)
	case "lt":
		return r, toFloat(v) < toFloat(t.Value)
	default:
		return r, true
	}
}

// RenameTransform renames fields in a record.
type RenameTransform struct {
	Mapping map[string]string // oldName → newName
}

func (t *RenameTransform) Transform(r Record) (Record, bool) {
	for old, renamed := range t.Mapping {
		if v, ok := r.Data[old]; ok {
			r.Data[renamed] = v
			delete(r.Data, old)
		}
	}
	return r, true
}

// SelectTransform keeps only the specified fields.
type SelectTransform struct {
	Fields []string
}

func (t *SelectTransform) Transform(r Record) (Record, bool) {
	filtered := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		if v, ok := r.Data[f]; ok {
			filtered[f] = v
		}
	}
	r.Data = filtered
	return r, true
}

// DedupeTransform drops records with duplicate values for the given key.
type DedupeTransform struct {
	Key  string
	seen map[string]bool
}

func NewDedupeTransform(key string) *DedupeTransform {
	return &DedupeTransform{Key: key, seen: make(map[string]bool)}
}

func (t *DedupeTransform) Transform(r Record) (Record, bool) {
	v := grid.Stringify(grid.Resolve(grid.Row(r.Data), t.Key))
	if t.seen[v] {
		return r, false
	}
	t.seen[v] = true
	return r, true
}

// ComputeTransform adds or overwrites fields using simple expressions.
// Expression format: {field_name} references; a numeric result is stored
// as a number.
type ComputeTransform struct {
	Columns []ComputeColumn
}

type ComputeColumn struct {
	Name       string
	Expression string
}

func (t *ComputeTransform) Transform(r Record) (Record, bool) {
	for _, col := range t.Columns {
		if col.Name == "" || col.Expression == "" {
			continue
		}
		r.Data[col.Name] = evaluateExpr(r.Data, col.Expression)
	}
	return r, true
}

// evaluateExpr resolves {field} references and returns a number when the
// result parses as one.
func evaluateExpr(data map[string]any, expr string) any {
	resolved := expr
	for k, v := range data {
		placeholder := "{" + k + "}"
		if strings.Contains(resolved, placeholder) {
			resolved = strings.ReplaceAll(resolved, placeholder, grid.Stringify(v))
		}
	}
	if f, err := strconv.ParseFloat(resolved, 64); err == nil {
		return f
	}
	return resolved
}

// FlattenTransform copies nested values to top-level fields. Fields maps a
// dotted path under SourceField to an alias; an empty alias uses the path
// with dots replaced by underscores.
type FlattenTransform struct {
	SourceField string
	Fields      map[string]string
}

func (t *FlattenTransform) Transform(r Record) (Record, bool) {
	for path, alias := range t.Fields {
		if alias == "" {
			alias = strings.ReplaceAll(path, ".", "_")
		}
		r.Data[alias] = grid.Resolve(grid.Row(r.Data), t.SourceField+"."+path)
	}
	return r, true
}

// SortTransform orders all collected records by a field. It is a batch
// transform: the engine applies it after the streaming phase.
type SortTransform struct {
	Field     string
	Direction string // "asc" | "desc"
}

func (t *SortTransform) Transform(r Record) (Record, bool) {
	return r, true
}

// LimitTransform caps the number of records.
type LimitTransform struct {
	Count int
	seen  int
}

func NewLimitTransform(count int) *LimitTransform {
	return &LimitTransform{Count: count}
}

func (t *LimitTransform) Transform(r Record) (Record, bool) {
	t.seen++
	return r, t.seen <= t.Count
}

// TypeCastTransform converts a field's value to a target type.
type TypeCastTransform struct {
	Field    string
	CastType string // "number" | "string" | "bool"
}

func (t *TypeCastTransform) Transform(r Record) (Record, bool) {
	v, ok := r.Data[t.Field]
	if !ok {
		return r, true
	}
	switch t.CastType {
	case "number":
		r.Data[t.Field] = toFloat(v)
	case "string":
		r.Data[t.Field] = grid.Stringify(v)
	case "bool":
		r.Data[t.Field] = toBool(v)
	}
	return r, true
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		lower := strings.ToLower(b)
		return lower == "true" || lower == "yes" || lower == "1"
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}

// ── Batch Transforms ──────────────────────────────────────

// ApplyBatchSort sorts records with the grid's comparison rules if a
// SortTransform exists in the chain. The sort is stable.
func ApplyBatchSort(records []Record, ts []Transformer) []Record {
	for _, t := range ts {
		st, ok := t.(*SortTransform)
		if !ok || st.Field == "" {
			continue
		}
		dir := grid.Asc
		if st.Direction == "desc" {
			dir = grid.Desc
		}
		rows := make([]grid.Row, len(records))
		for i, r := range records {
			rows[i] = grid.Row(r.Data)
		}
		rows = grid.ApplySort(rows, &grid.SortDescriptor{Key: st.Field, Direction: dir})
		sorted := make([]Record, len(rows))
		for i, row := range rows {
			sorted[i] = Record{Data: row}
		}
		return sorted
	}
	return records
}

// ── Helpers ────────────────────────────────────────────────

// ApplyTransformers runs a chain of transformers on a record.
func ApplyTransformers(r Record, ts []Transformer) (Record, bool) {
	for _, t := range ts {
		var keep bool
		r, keep = t.Transform(r)
		if !keep {
			return r, false
		}
	}
	return r, true
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	default:
		f, _ := strconv.ParseFloat(fmt.Sprint(n), 64)
		return f
	}
}
