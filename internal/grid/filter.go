package grid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Range is an inclusive numeric bound. A nil bound is open.
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// IsEmpty reports whether neither bound is set. An empty range is kept in the
// filter map but constrains nothing.
func (r Range) IsEmpty() bool { return r.Min == nil && r.Max == nil }

// Contains reports whether v lies within the range. Values that are not
// numeric fail any bound.
func (r Range) Contains(v any) bool {
	if r.IsEmpty() {
		return true
	}
	f, ok := toFloat(v)
	if !ok {
		return false
	}
	if r.Min != nil && f < *r.Min {
		return false
	}
	if r.Max != nil && f > *r.Max {
		return false
	}
	return true
}

// FilterValue is the per-column constraint: either a substring (Text) or a
// numeric Range. The zero value means "no constraint".
type FilterValue struct {
	Text  string
	Range *Range
}

// Text builds a substring filter.
func Text(s string) FilterValue { return FilterValue{Text: s} }

// Between builds a closed numeric range filter.
func Between(min, max float64) FilterValue {
	return FilterValue{Range: &Range{Min: &min, Max: &max}}
}

// AtLeast builds a range filter with only a lower bound.
func AtLeast(min float64) FilterValue { return FilterValue{Range: &Range{Min: &min}} }

// AtMost builds a range filter with only an upper bound.
func AtMost(max float64) FilterValue { return FilterValue{Range: &Range{Max: &max}} }

// IsZero reports whether the value is falsy: no text and no range object.
func (v FilterValue) IsZero() bool { return v.Text == "" && v.Range == nil }

func (v FilterValue) String() string {
	if v.Range != nil {
		lo, hi := "-inf", "+inf"
		if v.Range.Min != nil {
			lo = strconv.FormatFloat(*v.Range.Min, 'f', -1, 64)
		}
		if v.Range.Max != nil {
			hi = strconv.FormatFloat(*v.Range.Max, 'f', -1, 64)
		}
		return "[" + lo + ", " + hi + "]"
	}
	return strconv.Quote(v.Text)
}

// MarshalJSON encodes a text filter as a JSON string and a range as
// {"min":..,"max":..}.
func (v FilterValue) MarshalJSON() ([]byte, error) {
	if v.Range != nil {
		return json.Marshal(v.Range)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts either a JSON string or a range object.
func (v *FilterValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = FilterValue{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = FilterValue{Text: s}
		return nil
	case data[0] == '{':
		var r Range
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("decode range filter: %w", err)
		}
		*v = FilterValue{Range: &r}
		return nil
	default:
		return fmt.Errorf("filter value must be a string or a {min,max} object, got %s", data)
	}
}

// Filters maps a column key to its constraint.
type Filters map[string]FilterValue

// Clone returns an independent copy.
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		if v.Range != nil {
			r := *v.Range
			v.Range = &r
		}
		out[k] = v
	}
	return out
}

// ApplyFilters keeps the rows that satisfy every non-empty entry of filters.
// Number columns with a range compare numerically; any column with a text
// value matches a case-insensitive substring of the stringified cell; other
// combinations do not constrain. rows is never modified.
func ApplyFilters(rows []Row, filters Filters, columns []Column) []Row {
	if len(filters) == 0 {
		return rows
	}
	idx := columnIndex(columns)
	type check struct {
		path  Path
		typ   ColumnType
		value FilterValue
		text  string
	}
	checks := make([]check, 0, len(filters))
	for key, value := range filters {
		if value.IsZero() {
			continue
		}
		p, err := ParsePath(key)
		if err != nil {
			continue
		}
		checks = append(checks, check{
			path:  p,
			typ:   idx[key].Type,
			value: value,
			text:  strings.ToLower(value.Text),
		})
	}
	if len(checks) == 0 {
		return rows
	}

	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		keep := true
		for _, c := range checks {
			cell, _ := Lookup(row, c.path)
			switch {
			case c.typ == TypeNumber && c.value.Range != nil:
				keep = c.value.Range.Contains(cell)
			case c.value.Text != "":
				keep = strings.Contains(strings.ToLower(Stringify(cell)), c.text)
			}
			if !keep {
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out
}

// ApplyGlobalSearch keeps the rows where at least one of visibleKeys holds a
// value containing term, case-insensitively. An empty term keeps every row.
func ApplyGlobalSearch(rows []Row, term string, visibleKeys []string) []Row {
	if term == "" {
		return rows
	}
	needle := strings.ToLower(term)
	paths := make([]Path, 0, len(visibleKeys))
	for _, k := range visibleKeys {
		if p, err := ParsePath(k); err == nil {
			paths = append(paths, p)
		}
	}

	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		for _, p := range paths {
			cell, _ := Lookup(row, p)
			if strings.Contains(strings.ToLower(Stringify(cell)), needle) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

// toFloat converts numeric cells (and numeric strings) for range checks.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
