package grid

import (
	"cmp"
	"encoding/json"
	"slices"
	"time"
)

// Direction orders a sort.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortDescriptor is the single active sort.
type SortDescriptor struct {
	Key       string    `json:"key"`
	Direction Direction `json:"direction"`
}

// ApplySort orders rows by the descriptor's column. A nil descriptor returns
// rows itself, untouched. Otherwise a sorted copy is returned; the sort is
// stable, so equal cells keep their relative order.
func ApplySort(rows []Row, sort *SortDescriptor) []Row {
	if sort == nil {
		return rows
	}
	p, err := ParsePath(sort.Key)
	if err != nil {
		return rows
	}
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b Row) int {
		av, _ := Lookup(a, p)
		bv, _ := Lookup(b, p)
		c := Compare(av, bv)
		if sort.Direction == Desc {
			return -c
		}
		return c
	})
	return out
}

// Compare orders two cell values of the same kind: numbers numerically,
// strings bytewise, booleans false before true, times chronologically.
// Values of different kinds (including nil) compare equal.
func Compare(a, b any) int {
	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			return cmp.Compare(af, bf)
		}
		return 0
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return 0
}

// numeric accepts Go number kinds only; numeric strings stay strings.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case string:
		return 0, false
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return toFloat(v)
}
