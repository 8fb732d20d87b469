package schema

import (
	"fmt"

	"go.uber.org/multierr"
)

// InvariantError reports a model that cannot be planned at all, such as two
// tables that collapse to the same canonical name.
type InvariantError struct {
	Table  string
	Column string
	Reason string
}

func (e *InvariantError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("invariant violation in %s.%s: %s", e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("invariant violation in %s: %s", e.Table, e.Reason)
}

// Validate checks the structural invariants of a desired model. known lists
// tables that exist outside the model and may be referenced by foreign keys.
// All violations are returned together.
func Validate(tables []TableSpec, known map[string]bool) error {
	var errs error
	names := make(map[string]bool, len(tables))
	for _, t := range tables {
		if t.Name == "" {
			errs = multierr.Append(errs, &InvariantError{Reason: "table name is empty"})
			continue
		}
		if names[t.Name] {
			errs = multierr.Append(errs, &InvariantError{Table: t.Name, Reason: "duplicate table name after name mapping"})
		}
		names[t.Name] = true
	}

	for i := range tables {
		t := &tables[i]
		cols := make(map[string]bool, len(t.Columns))
		geometryCols := 0
		for _, c := range t.Columns {
			if c.Name == "" {
				errs = multierr.Append(errs, &InvariantError{Table: t.Name, Reason: "column name is empty"})
				continue
			}
			if cols[c.Name] {
				errs = multierr.Append(errs, &InvariantError{Table: t.Name, Column: c.Name, Reason: "duplicate column name after name mapping"})
			}
			cols[c.Name] = true
			if c.Type == TypeGeometry {
				geometryCols++
				if !t.IsGeometry(c.Name) {
					errs = multierr.Append(errs, &InvariantError{Table: t.Name, Column: c.Name, Reason: "geometry column is not the table's point column"})
				}
			}
		}
		if geometryCols > 1 {
			errs = multierr.Append(errs, &InvariantError{Table: t.Name, Reason: "more than one geometry column"})
		}
		if t.Geometry != nil && !cols[t.Geometry.Column] {
			errs = multierr.Append(errs, &InvariantError{Table: t.Name, Column: t.Geometry.Column, Reason: "point column is not declared"})
		}
		if t.PrimaryKey != "" && !cols[t.PrimaryKey] {
			errs = multierr.Append(errs, &InvariantError{Table: t.Name, Column: t.PrimaryKey, Reason: "primary key column is not declared"})
		}
		for _, fk := range t.ForeignKeys {
			if !cols[fk.Column] {
				errs = multierr.Append(errs, &InvariantError{Table: t.Name, Column: fk.Column, Reason: "foreign key column is not declared"})
			}
			if !names[fk.RefTable] && !known[fk.RefTable] {
				errs = multierr.Append(errs, &InvariantError{Table: t.Name, Column: fk.Column, Reason: fmt.Sprintf("foreign key references unknown table %q", fk.RefTable)})
			}
		}
		for _, idx := range t.Indexes {
			for _, c := range idx.Columns {
				if !cols[c] {
					errs = multierr.Append(errs, &InvariantError{Table: t.Name, Column: c, Reason: fmt.Sprintf("index %q uses an undeclared column", idx.Name)})
				}
			}
		}
	}
	return errs
}
