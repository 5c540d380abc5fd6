package dbclient

import (
	"fmt"
	"strings"
	"time"

	"backoffice/internal/grid"
)

// GridRows converts the page into grid rows keyed by column name.
func (p *QueryPage) GridRows() []grid.Row {
	rows := make([]grid.Row, 0, len(p.Rows))
	for _, values := range p.Rows {
		row := make(grid.Row, len(p.Columns))
		for i, col := range p.Columns {
			if i < len(values) {
				row[col] = values[i]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// GridColumns declares one sortable, filterable column per result column.
// The type comes from the driver's type name when it is recognized,
// otherwise from the first non-nil value in the column.
func (p *QueryPage) GridColumns() []grid.Column {
	cols := make([]grid.Column, len(p.Columns))
	for i, name := range p.Columns {
		var dbType string
		if i < len(p.ColumnTypes) {
			dbType = p.ColumnTypes[i]
		}
		t, ok := columnTypeFor(dbType)
		if !ok {
			t = p.inferColumnType(i)
		}
		cols[i] = grid.Column{
			Key:        name,
			Type:       t,
			Sortable:   true,
			Filterable: true,
		}
	}
	return cols
}

// RowKey picks the primary key values out of a grid row.
func (p *QueryPage) RowKey(row grid.Row) (map[string]any, error) {
	if len(p.PrimaryKeys) == 0 {
		return nil, fmt.Errorf("result of %q has no primary key", p.Table)
	}
	key := make(map[string]any, len(p.PrimaryKeys))
	for _, pk := range p.PrimaryKeys {
		v, ok := row[pk]
		if !ok || v == nil {
			return nil, fmt.Errorf("row is missing key column %q", pk)
		}
		key[pk] = v
	}
	return key, nil
}

func columnTypeFor(dbType string) (grid.ColumnType, bool) {
	t := strings.ToUpper(dbType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT",
		"INT2", "INT4", "INT8", "SERIAL", "BIGSERIAL",
		"REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION",
		"DECIMAL", "NUMERIC", "MONEY", "UNSIGNED INT", "UNSIGNED BIGINT":
		return grid.TypeNumber, true
	case "BOOL", "BOOLEAN", "BIT":
		return grid.TypeBoolean, true
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE":
		return grid.TypeDate, true
	case "CHAR", "VARCHAR", "TEXT", "BPCHAR", "UUID", "NAME", "CITEXT",
		"TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "ENUM":
		return grid.TypeString, true
	}
	return "", false
}

func (p *QueryPage) inferColumnType(col int) grid.ColumnType {
	for _, row := range p.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		switch v := row[col].(type) {
		case int, int32, int64, float32, float64, uint, uint32, uint64:
			return grid.TypeNumber
		case bool:
			return grid.TypeBoolean
		case time.Time:
			return grid.TypeDate
		case string:
			if _, ok := grid.ParseDate(v); ok {
				return grid.TypeDate
			}
			return grid.TypeString
		default:
			return grid.TypeString
		}
	}
	return grid.TypeString
}
