// Package schema holds the format-independent description of the tables a
// run wants to exist, and the same shape read back from a live database.
package schema

import "fmt"

// LogicalType is the storage-independent column type.
type LogicalType int

const (
	TypeText LogicalType = iota + 1
	TypeInteger
	TypeFloat
	TypeDate
	TypeBoolean
	TypeGeometry
	TypeForeignKey
)

func (t LogicalType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeDate:
		return "date"
	case TypeBoolean:
		return "boolean"
	case TypeGeometry:
		return "geometry"
	case TypeForeignKey:
		return "foreign-key"
	default:
		return fmt.Sprintf("LogicalType(%d)", int(t))
	}
}

// ColumnSpec describes one column.
type ColumnSpec struct {
	Name     string
	Type     LogicalType
	Nullable bool
	// Size is the maximum length for text columns; 0 means unbounded.
	Size int
	// RefType is the storage type of a foreign-key column. Zero means integer.
	RefType       LogicalType
	AutoIncrement bool
	Comment       string
}

// StorageType resolves foreign-key columns to the type they are stored as.
func (c ColumnSpec) StorageType() LogicalType {
	if c.Type != TypeForeignKey {
		return c.Type
	}
	if c.RefType == 0 {
		return TypeInteger
	}
	return c.RefType
}

// ForeignKeySpec is a many-to-one reference from Column to RefTable.RefColumn.
type ForeignKeySpec struct {
	Column    string
	RefTable  string
	RefColumn string
	// DisplayColumn is shown in generated views instead of RefColumn.
	DisplayColumn string
	// LookupColumn, when set, is the referenced column incoming records carry
	// instead of the key (coded-value lookups).
	LookupColumn string
}

// ConstraintName is the deterministic name used for the FK constraint.
func (fk ForeignKeySpec) ConstraintName(table string) string {
	return "fk_" + table + "_" + fk.Column
}

// IndexSpec is a secondary index.
type IndexSpec struct {
	Name    string
	Columns []string
	Unique  bool
	Comment string
}

// GeometrySpec describes the single point column a table may carry.
type GeometrySpec struct {
	Column string
	SRID   int
}

// TableSpec describes one table.
type TableSpec struct {
	Name         string
	Columns      []ColumnSpec
	PrimaryKey   string
	Geometry     *GeometrySpec
	ForeignKeys  []ForeignKeySpec
	Indexes      []IndexSpec
	GenerateView bool
}

// Column returns the named column.
func (t *TableSpec) Column(name string) (*ColumnSpec, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ForeignKey returns the foreign key declared on column.
func (t *TableSpec) ForeignKey(column string) (*ForeignKeySpec, bool) {
	for i := range t.ForeignKeys {
		if t.ForeignKeys[i].Column == column {
			return &t.ForeignKeys[i], true
		}
	}
	return nil, false
}

// Index returns the named index.
func (t *TableSpec) Index(name string) (*IndexSpec, bool) {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i], true
		}
	}
	return nil, false
}

// ViewName is the name of the derived view for the table.
func (t *TableSpec) ViewName() string {
	return t.Name + "_view"
}

// IsGeometry reports whether column is the table's point column.
func (t *TableSpec) IsGeometry(column string) bool {
	return t.Geometry != nil && t.Geometry.Column == column
}

// References lists the distinct tables this table points at, in FK order.
func (t *TableSpec) References() []string {
	seen := make(map[string]bool)
	var refs []string
	for _, fk := range t.ForeignKeys {
		if fk.RefTable == t.Name || seen[fk.RefTable] {
			continue
		}
		seen[fk.RefTable] = true
		refs = append(refs, fk.RefTable)
	}
	return refs
}

// Row is one record keyed by canonical column name.
type Row map[string]any

// Clone returns a shallow copy.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
