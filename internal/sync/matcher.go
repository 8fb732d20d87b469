package sync

import (
	"iter"
	"strings"

	"github.com/arwahdevops/surveysync/internal/schema"
)

// MatchKind classifies an incoming row against the existing rows.
type MatchKind int

const (
	MatchNew MatchKind = iota + 1
	MatchUnchanged
	MatchChanged
)

func (k MatchKind) String() string {
	switch k {
	case MatchNew:
		return "new"
	case MatchUnchanged:
		return "unchanged"
	case MatchChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// MatchResult is the decision for one incoming row.
type MatchResult struct {
	Kind MatchKind
	Row  schema.Row
	// Key identifies the existing row; nil for new rows.
	Key schema.Row
	// Changed lists differing columns in declaration order.
	Changed []string
}

// KeyStrategy finds the existing row for an incoming row. It is chosen once
// per table by StrategyFor.
type KeyStrategy interface {
	Name() string
	// KeyColumns are the columns that identify a row.
	KeyColumns() []string
	key(row schema.Row) (string, bool)
}

// primaryKeyStrategy matches on the single primary key column.
type primaryKeyStrategy struct {
	column schema.ColumnSpec
}

func (s primaryKeyStrategy) Name() string         { return "primary_key" }
func (s primaryKeyStrategy) KeyColumns() []string { return []string{s.column.Name} }

func (s primaryKeyStrategy) key(row schema.Row) (string, bool) {
	v, ok := row[s.column.Name]
	if !ok || v == nil {
		return "", false
	}
	return canonicalKey(s.column.StorageType(), v), true
}

// fullRowStrategy matches on every non-geometry, non-generated column.
type fullRowStrategy struct {
	columns []schema.ColumnSpec
}

func (s fullRowStrategy) Name() string { return "full_row" }

func (s fullRowStrategy) KeyColumns() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

func (s fullRowStrategy) key(row schema.Row) (string, bool) {
	var b strings.Builder
	for _, c := range s.columns {
		b.WriteString(canonicalKey(c.StorageType(), row[c.Name]))
		b.WriteByte('\x1f')
	}
	return b.String(), true
}

// StrategyFor picks the primary-key strategy when the table has a key that
// incoming rows can carry, and full-row matching otherwise. Auto-generated
// keys are never present on incoming rows.
func StrategyFor(t *schema.TableSpec) KeyStrategy {
	if t.PrimaryKey != "" {
		if col, ok := t.Column(t.PrimaryKey); ok && !col.AutoIncrement {
			return primaryKeyStrategy{column: *col}
		}
	}
	var cols []schema.ColumnSpec
	for _, c := range t.Columns {
		if t.IsGeometry(c.Name) || c.StorageType() == schema.TypeGeometry || c.AutoIncrement {
			continue
		}
		cols = append(cols, c)
	}
	return fullRowStrategy{columns: cols}
}

// MatchOptions control classification.
type MatchOptions struct {
	// Force reports differing existing rows as changed instead of unchanged.
	Force             bool
	GeometryTolerance float64
}

// Match classifies each incoming row against a snapshot of existing rows.
// The index over existing is built once; the sequence is lazy and reflects
// only that snapshot.
func Match(t *schema.TableSpec, strategy KeyStrategy, incoming iter.Seq[schema.Row], existing []schema.Row, opts MatchOptions) iter.Seq[MatchResult] {
	return func(yield func(MatchResult) bool) {
		index := make(map[string]schema.Row, len(existing))
		for _, row := range existing {
			if k, ok := strategy.key(row); ok {
				if _, dup := index[k]; !dup {
					index[k] = row
				}
			}
		}
		keyCols := strategy.KeyColumns()

		for row := range incoming {
			res := MatchResult{Kind: MatchNew, Row: row}
			if k, ok := strategy.key(row); ok {
				if found, hit := index[k]; hit {
					res.Key = make(schema.Row, len(keyCols))
					for _, c := range keyCols {
						res.Key[c] = found[c]
					}
					res.Kind = MatchUnchanged
					if opts.Force {
						if changed := changedColumns(t, row, found, opts.GeometryTolerance); len(changed) > 0 {
							res.Kind = MatchChanged
							res.Changed = changed
						}
					}
				}
			}
			if !yield(res) {
				return
			}
		}
	}
}

// changedColumns compares only the columns the incoming row carries.
func changedColumns(t *schema.TableSpec, incoming, existing schema.Row, tolerance float64) []string {
	var changed []string
	for _, c := range t.Columns {
		v, ok := incoming[c.Name]
		if !ok || c.AutoIncrement {
			continue
		}
		if !valuesEqual(c.StorageType(), v, existing[c.Name], tolerance) {
			changed = append(changed, c.Name)
		}
	}
	return changed
}
