package grid

// ColumnType is the declared type of a column. It drives formatting and the
// kind of filter a column accepts.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeDate    ColumnType = "date"
	TypeBoolean ColumnType = "boolean"
)

// Valid reports whether t is one of the declared column types.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeDate, TypeBoolean:
		return true
	}
	return false
}

// Column declares one field of a row. Key is a dotted path into the row
// ("address.city").
type Column struct {
	Key         string     `json:"key" yaml:"key"`
	DisplayName string     `json:"displayName" yaml:"display_name"`
	Type        ColumnType `json:"type" yaml:"type"`
	Sortable    bool       `json:"sortable" yaml:"sortable"`
	Filterable  bool       `json:"filterable" yaml:"filterable"`
}

// Header returns the display name, falling back to the key.
func (c Column) Header() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Key
}

// Row is a single record. The grid only reads the keys its columns declare
// plus the identifier key.
type Row map[string]any

// DefaultIDKey is the row key holding the identifier unless Options.IDKey
// says otherwise.
const DefaultIDKey = "id"

// ID returns the identifier stored under key, or nil.
func (r Row) ID(key string) any {
	if key == "" {
		key = DefaultIDKey
	}
	return r[key]
}

func columnIndex(columns []Column) map[string]Column {
	idx := make(map[string]Column, len(columns))
	for _, c := range columns {
		idx[c.Key] = c
	}
	return idx
}
