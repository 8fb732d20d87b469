package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arwahdevops/surveysync/internal/geo"
	"github.com/arwahdevops/surveysync/internal/schema"
	"github.com/arwahdevops/surveysync/internal/utils"
)

type gormRowStore struct {
	db      *gorm.DB
	dialect string
	logger  *zap.Logger
}

func NewRowStore(db *gorm.DB, dialect string, logger *zap.Logger) RowStore {
	return &gormRowStore{db: db, dialect: strings.ToLower(dialect), logger: logger.Named("row-store")}
}

const (
	pointXSuffix    = "__x"
	pointYSuffix    = "__y"
	pointSRIDSuffix = "__srid"
)

func (s *gormRowStore) quote(name string) string {
	return utils.QuoteIdentifier(name, s.dialect)
}

// LoadRows reads every row of t. Spatial dialects return the point column
// split into coordinates, which are folded back into a geo.Point.
func (s *gormRowStore) LoadRows(ctx context.Context, t *schema.TableSpec) ([]schema.Row, error) {
	selects := make([]string, 0, len(t.Columns)+2)
	for _, c := range t.Columns {
		col := s.quote(c.Name)
		if c.StorageType() == schema.TypeGeometry && s.dialect != "sqlite" {
			x, y, srid := s.pointAccessors(col)
			selects = append(selects,
				fmt.Sprintf("%s AS %s", x, s.quote(c.Name+pointXSuffix)),
				fmt.Sprintf("%s AS %s", y, s.quote(c.Name+pointYSuffix)),
				fmt.Sprintf("%s AS %s", srid, s.quote(c.Name+pointSRIDSuffix)))
			continue
		}
		selects = append(selects, col)
	}

	var raw []map[string]any
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), s.quote(t.Name))
	if err := s.db.WithContext(ctx).Raw(query).Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("load rows of %s: %w", t.Name, err)
	}

	rows := make([]schema.Row, 0, len(raw))
	for _, r := range raw {
		row := make(schema.Row, len(t.Columns))
		for _, c := range t.Columns {
			var v any
			if c.StorageType() == schema.TypeGeometry && s.dialect != "sqlite" {
				v = foldPoint(r, c.Name)
			} else {
				v = r[c.Name]
			}
			cv, err := coerceValue(c.StorageType(), v)
			if err != nil {
				return nil, fmt.Errorf("read %s.%s: %w", t.Name, c.Name, err)
			}
			row[c.Name] = cv
		}
		rows = append(rows, row)
	}
	s.logger.Debug("Loaded existing rows", zap.String("table", t.Name), zap.Int("rows", len(rows)))
	return rows, nil
}

func foldPoint(r map[string]any, column string) any {
	xv, yv := r[column+pointXSuffix], r[column+pointYSuffix]
	if xv == nil || yv == nil {
		return nil
	}
	x, errX := toFloat64(xv)
	y, errY := toFloat64(yv)
	if errX != nil || errY != nil {
		return nil
	}
	p := geo.Point{X: x.(float64), Y: y.(float64)}
	if srid, err := toInt64(r[column+pointSRIDSuffix]); err == nil && srid != nil {
		p.SRID = int(srid.(int64))
	}
	return p
}

func (s *gormRowStore) pointAccessors(col string) (x, y, srid string) {
	if s.dialect == "mysql" {
		return fmt.Sprintf("ST_X(ST_SRID(%s, 0))", col), fmt.Sprintf("ST_Y(ST_SRID(%s, 0))", col), fmt.Sprintf("ST_SRID(%s)", col)
	}
	return fmt.Sprintf("ST_X(%s)", col), fmt.Sprintf("ST_Y(%s)", col), fmt.Sprintf("ST_SRID(%s)", col)
}

// placeholder returns the SQL for one bound value and its arguments.
// Points are encoded for the dialect.
func (s *gormRowStore) placeholder(v any) (string, []any) {
	p, ok := v.(geo.Point)
	if !ok {
		return "?", []any{v}
	}
	switch s.dialect {
	case "postgres":
		return "ST_SetSRID(ST_MakePoint(?, ?), ?)", []any{p.X, p.Y, p.SRID}
	case "mysql":
		return "ST_SRID(POINT(?, ?), ?)", []any{p.X, p.Y, p.SRID}
	default:
		return "?", []any{p.EWKT()}
	}
}

func sortedColumns(row schema.Row) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Identifiers are quoted here rather than by gorm, whose quoting treats a
// period as a schema separator.
func (s *gormRowStore) Insert(ctx context.Context, t *schema.TableSpec, row schema.Row) error {
	if len(row) == 0 {
		return fmt.Errorf("insert into %s: row has no columns", t.Name)
	}
	cols := sortedColumns(row)
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	var args []any
	for i, c := range cols {
		names[i] = s.quote(c)
		mark, vals := s.placeholder(row[c])
		marks[i] = mark
		args = append(args, vals...)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.quote(t.Name), strings.Join(names, ", "), strings.Join(marks, ", "))
	return s.db.WithContext(ctx).Exec(stmt, args...).Error
}

func (s *gormRowStore) Update(ctx context.Context, t *schema.TableSpec, key, changes schema.Row) error {
	if len(key) == 0 {
		return fmt.Errorf("update %s: empty key", t.Name)
	}
	if len(changes) == 0 {
		return nil
	}
	var args []any
	sets := make([]string, 0, len(changes))
	for _, c := range sortedColumns(changes) {
		mark, vals := s.placeholder(changes[c])
		sets = append(sets, fmt.Sprintf("%s = %s", s.quote(c), mark))
		args = append(args, vals...)
	}
	conds := make([]string, 0, len(key))
	for _, c := range sortedColumns(key) {
		if key[c] == nil {
			conds = append(conds, s.quote(c)+" IS NULL")
			continue
		}
		mark, vals := s.placeholder(key[c])
		conds = append(conds, fmt.Sprintf("%s = %s", s.quote(c), mark))
		args = append(args, vals...)
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", s.quote(t.Name), strings.Join(sets, ", "), strings.Join(conds, " AND "))
	res := s.db.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.logger.Warn("Update matched no rows", zap.String("table", t.Name), zap.Any("key", key))
	}
	return nil
}

func (s *gormRowStore) DeleteAll(ctx context.Context, t *schema.TableSpec) (int64, error) {
	res := s.db.WithContext(ctx).Exec("DELETE FROM " + s.quote(t.Name))
	return res.RowsAffected, res.Error
}
