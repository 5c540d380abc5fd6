package grid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned by ParsePath for keys with empty segments.
var ErrInvalidPath = errors.New("grid: invalid column path")

// Path is a validated list of segments into a nested row.
type Path []string

// ParsePath splits a dotted column key into segments.
func ParsePath(key string) (Path, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidPath)
	}
	segs := strings.Split(key, ".")
	for i, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment at %d", ErrInvalidPath, key, i)
		}
	}
	return Path(segs), nil
}

func (p Path) String() string { return strings.Join(p, ".") }

// Lookup walks p through nested maps and slices. A missing key, an index out
// of range or a scalar in the middle of the path reports absent.
func Lookup(row Row, p Path) (any, bool) {
	if len(p) == 0 {
		return nil, false
	}
	var cur any = row
	for _, seg := range p {
		switch v := cur.(type) {
		case Row:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Resolve returns the value at key, or nil when the key is malformed or the
// path does not exist.
func Resolve(row Row, key string) any {
	p, err := ParsePath(key)
	if err != nil {
		return nil
	}
	v, _ := Lookup(row, p)
	return v
}
