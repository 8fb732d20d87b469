package sync

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/surveysync/internal/geo"
	"github.com/arwahdevops/surveysync/internal/schema"
)

// RecordSet is a batch of incoming rows for one external table, keyed by
// external column names.
type RecordSet struct {
	Table string
	Rows  []schema.Row
}

// Normalizer maps incoming rows onto a table: names through the NameMap,
// points into the database coordinate system, lookup codes to their keys,
// and values to the column types.
type Normalizer struct {
	names       *schema.NameMap
	reprojector geo.Reprojector
	dbSRID      int
	sourceSRID  int
	store       RowStore
	logger      *zap.Logger

	lookups map[string]map[string]any
}

func NewNormalizer(names *schema.NameMap, reprojector geo.Reprojector, dbSRID, sourceSRID int, store RowStore, logger *zap.Logger) *Normalizer {
	if reprojector == nil {
		reprojector = geo.Identity{}
	}
	return &Normalizer{
		names:       names,
		reprojector: reprojector,
		dbSRID:      dbSRID,
		sourceSRID:  sourceSRID,
		store:       store,
		logger:      logger.Named("normalizer"),
		lookups:     make(map[string]map[string]any),
	}
}

// Invalidate drops cached lookups that read from table.
func (n *Normalizer) Invalidate(table string) {
	for k := range n.lookups {
		if lookupTable(k) == table {
			delete(n.lookups, k)
		}
	}
}

// Normalize returns the rows of set mapped onto t. A point with no SRID is
// taken to be in the source coordinate system.
func (n *Normalizer) Normalize(ctx context.Context, t *schema.TableSpec, set RecordSet, lookupsAvailable bool) ([]schema.Row, error) {
	log := n.logger.With(zap.String("table", t.Name), zap.String("external_table", set.Table))
	targetSRID := n.dbSRID
	if t.Geometry != nil && t.Geometry.SRID > 0 {
		targetSRID = t.Geometry.SRID
	}

	droppedSeen := make(map[string]bool)
	unresolved := 0
	out := make([]schema.Row, 0, len(set.Rows))
	for i, raw := range set.Rows {
		row := n.names.RenameRow(set.Table, raw)

		if t.Geometry != nil {
			if p, ok := row[t.Geometry.Column].(geo.Point); ok {
				if p.SRID == 0 {
					p.SRID = n.sourceSRID
				}
				if p.SRID != targetSRID {
					projected, err := n.reprojector.Reproject(ctx, p, targetSRID)
					if err != nil {
						return nil, fmt.Errorf("row %d: %w", i, err)
					}
					p = projected
				}
				p.SRID = targetSRID
				row[t.Geometry.Column] = p
			}
		}

		for _, fk := range t.ForeignKeys {
			if fk.LookupColumn == "" {
				continue
			}
			code, ok := row[fk.Column]
			if !ok || code == nil {
				continue
			}
			if !lookupsAvailable {
				row[fk.Column] = nil
				unresolved++
				continue
			}
			id, found, err := n.resolve(ctx, fk, code)
			if err != nil {
				return nil, fmt.Errorf("row %d: resolve %s: %w", i, fk.Column, err)
			}
			if !found {
				unresolved++
			}
			row[fk.Column] = id
		}

		coerced, dropped, err := coerceRow(t, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		for _, d := range dropped {
			if !droppedSeen[d] {
				droppedSeen[d] = true
				log.Debug("Ignoring incoming column the table does not declare", zap.String("column", d))
			}
		}
		out = append(out, coerced)
	}
	if unresolved > 0 {
		log.Warn("Lookup codes without a matching lookup row were stored as NULL", zap.Int("values", unresolved))
	}
	return out, nil
}

func lookupKey(fk schema.ForeignKeySpec) string {
	return fk.RefTable + "\x00" + fk.LookupColumn + "\x00" + fk.RefColumn
}

func lookupTable(key string) string {
	table, _, _ := strings.Cut(key, "\x00")
	return table
}

// resolve maps a lookup code to the referenced key, loading the lookup table
// once per run.
func (n *Normalizer) resolve(ctx context.Context, fk schema.ForeignKeySpec, code any) (any, bool, error) {
	key := lookupKey(fk)
	table, ok := n.lookups[key]
	if !ok {
		spec := &schema.TableSpec{
			Name: fk.RefTable,
			Columns: []schema.ColumnSpec{
				{Name: fk.RefColumn, Type: schema.TypeInteger},
				{Name: fk.LookupColumn, Type: schema.TypeText},
			},
		}
		rows, err := n.store.LoadRows(ctx, spec)
		if err != nil {
			return nil, false, err
		}
		table = make(map[string]any, len(rows))
		for _, r := range rows {
			table[canonicalKey(schema.TypeText, r[fk.LookupColumn])] = r[fk.RefColumn]
		}
		n.lookups[key] = table
	}
	text, err := coerceValue(schema.TypeText, code)
	if err != nil {
		return nil, false, err
	}
	id, found := table[canonicalKey(schema.TypeText, text)]
	return id, found, nil
}

// lookupTables lists the tables t resolves codes against.
func lookupTables(t *schema.TableSpec) []string {
	var out []string
	for _, fk := range t.ForeignKeys {
		if fk.LookupColumn != "" && !slices.Contains(out, fk.RefTable) {
			out = append(out, fk.RefTable)
		}
	}
	return out
}
