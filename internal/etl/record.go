package etl

import "backoffice/internal/grid"

// ── Record ─────────────────────────────────────────────────
// All sources emit Records, all destinations consume Records.

// Field describes a single column coming from a source.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"` // "text" | "number" | "boolean" | "datetime"
}

// Schema describes the shape of records coming from a source.
type Schema struct {
	Fields []Field `json:"fields"`
}

// FieldNames returns an ordered list of field names.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Record is a single row of data flowing through the pipeline.
type Record struct {
	Data map[string]any `json:"data"`
}

// GridRows adapts records for a preview grid. The rows share the records'
// maps.
func GridRows(records []Record) []grid.Row {
	rows := make([]grid.Row, len(records))
	for i, r := range records {
		rows[i] = r.Data
	}
	return rows
}

// GridColumns declares one grid column per schema field.
func (s *Schema) GridColumns() []grid.Column {
	cols, _ := mergeColumns(nil, s)
	return cols
}
