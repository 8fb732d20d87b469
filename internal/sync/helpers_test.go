package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/arwahdevops/surveysync/internal/schema"
)

func speciesTable() schema.TableSpec {
	return schema.TableSpec{
		Name:       "species",
		PrimaryKey: "id",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "name", Type: schema.TypeText, Size: 256, Nullable: true},
			{Name: "code", Type: schema.TypeText, Size: 256, Nullable: true},
		},
	}
}

func plotTable() schema.TableSpec {
	return schema.TableSpec{
		Name:       "plot",
		PrimaryKey: "objectid",
		Columns: []schema.ColumnSpec{
			{Name: "objectid", Type: schema.TypeInteger},
			{Name: "globalid", Type: schema.TypeText, Size: 36},
			{Name: "site", Type: schema.TypeText, Size: 255, Nullable: true},
			{Name: "species", Type: schema.TypeForeignKey, RefType: schema.TypeInteger, Nullable: true},
			{Name: "surveyed", Type: schema.TypeDate, Nullable: true},
			{Name: "geom", Type: schema.TypeGeometry, Nullable: true},
		},
		Geometry: &schema.GeometrySpec{Column: "geom", SRID: 4326},
		ForeignKeys: []schema.ForeignKeySpec{
			{Column: "species", RefTable: "species", RefColumn: "id", DisplayColumn: "name", LookupColumn: "code"},
		},
		Indexes: []schema.IndexSpec{
			{Name: "idx_plot_globalid", Columns: []string{"globalid"}, Unique: true},
			{Name: "idx_plot_species", Columns: []string{"species"}},
		},
		GenerateView: true,
	}
}

func treeTable() schema.TableSpec {
	return schema.TableSpec{
		Name:       "tree",
		PrimaryKey: "objectid",
		Columns: []schema.ColumnSpec{
			{Name: "objectid", Type: schema.TypeInteger},
			{Name: "plot_globalid", Type: schema.TypeForeignKey, RefType: schema.TypeText, Size: 36, Nullable: true},
			{Name: "height", Type: schema.TypeFloat, Nullable: true},
		},
		ForeignKeys:  []schema.ForeignKeySpec{{Column: "plot_globalid", RefTable: "plot", RefColumn: "globalid"}},
		GenerateView: true,
	}
}

// without returns a copy of t lacking the named columns and any index or
// foreign key on them.
func without(t schema.TableSpec, columns ...string) schema.TableSpec {
	drop := make(map[string]bool, len(columns))
	for _, c := range columns {
		drop[c] = true
	}
	out := t
	out.Columns = nil
	for _, c := range t.Columns {
		if !drop[c.Name] {
			out.Columns = append(out.Columns, c)
		}
	}
	out.ForeignKeys = nil
	for _, fk := range t.ForeignKeys {
		if !drop[fk.Column] {
			out.ForeignKeys = append(out.ForeignKeys, fk)
		}
	}
	out.Indexes = nil
	for _, idx := range t.Indexes {
		keep := true
		for _, c := range idx.Columns {
			if drop[c] {
				keep = false
			}
		}
		if keep {
			out.Indexes = append(out.Indexes, idx)
		}
	}
	return out
}

func actionStrings(p *Plan) []string {
	out := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		out[i] = a.String()
	}
	return out
}

type fakeIntrospector struct {
	tables []schema.TableSpec
	err    error
}

func (f *fakeIntrospector) Introspect(context.Context) ([]schema.TableSpec, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]schema.TableSpec, len(f.tables))
	copy(out, f.tables)
	return out, nil
}

// fakeExecer records statements. fail, when set, decides the error for a
// statement.
type fakeExecer struct {
	stmts []string
	fail  func(stmt string) error
}

func (f *fakeExecer) Exec(_ context.Context, stmt string) error {
	if f.fail != nil {
		if err := f.fail(stmt); err != nil {
			return err
		}
	}
	f.stmts = append(f.stmts, stmt)
	return nil
}

func failOnPrefix(prefix string, err error) func(string) error {
	return func(stmt string) error {
		if strings.HasPrefix(stmt, prefix) {
			return err
		}
		return nil
	}
}

type rowUpdate struct {
	table   string
	key     schema.Row
	changes schema.Row
}

// memStore keeps rows per table in memory. Auto-increment columns missing
// from an inserted row are assigned the next id.
type memStore struct {
	rows    map[string][]schema.Row
	nextID  map[string]int64
	updates []rowUpdate
	// failInsertAfter makes the insert after the given number of successful
	// inserts into a table fail.
	failInsertAfter map[string]int
	inserted        map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		rows:            make(map[string][]schema.Row),
		nextID:          make(map[string]int64),
		failInsertAfter: make(map[string]int),
		inserted:        make(map[string]int),
	}
}

func (s *memStore) LoadRows(_ context.Context, t *schema.TableSpec) ([]schema.Row, error) {
	out := make([]schema.Row, 0, len(s.rows[t.Name]))
	for _, r := range s.rows[t.Name] {
		row := make(schema.Row, len(t.Columns))
		for _, c := range t.Columns {
			row[c.Name] = r[c.Name]
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *memStore) Insert(_ context.Context, t *schema.TableSpec, row schema.Row) error {
	if limit, ok := s.failInsertAfter[t.Name]; ok && s.inserted[t.Name] >= limit {
		return fmt.Errorf("duplicate key value violates unique constraint on %s", t.Name)
	}
	stored := row.Clone()
	for _, c := range t.Columns {
		if _, ok := stored[c.Name]; c.AutoIncrement && !ok {
			s.nextID[t.Name]++
			stored[c.Name] = s.nextID[t.Name]
		}
	}
	s.rows[t.Name] = append(s.rows[t.Name], stored)
	s.inserted[t.Name]++
	return nil
}

func (s *memStore) Update(_ context.Context, t *schema.TableSpec, key, changes schema.Row) error {
	s.updates = append(s.updates, rowUpdate{table: t.Name, key: key, changes: changes})
	for _, r := range s.rows[t.Name] {
		match := true
		for k, v := range key {
			col, _ := t.Column(k)
			if canonicalKey(col.StorageType(), r[k]) != canonicalKey(col.StorageType(), v) {
				match = false
				break
			}
		}
		if match {
			for k, v := range changes {
				r[k] = v
			}
		}
	}
	return nil
}

func (s *memStore) DeleteAll(_ context.Context, t *schema.TableSpec) (int64, error) {
	n := int64(len(s.rows[t.Name]))
	s.rows[t.Name] = nil
	return n, nil
}
