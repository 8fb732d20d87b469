package sync

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arwahdevops/surveysync/internal/schema"
)

type gormIntrospector struct {
	db      *gorm.DB
	dialect string
	logger  *zap.Logger
}

func NewIntrospector(db *gorm.DB, dialect string, logger *zap.Logger) (Introspector, error) {
	d := strings.ToLower(dialect)
	switch d {
	case "mysql", "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect for introspection: %s", dialect)
	}
	return &gormIntrospector{db: db, dialect: d, logger: logger.Named("introspector").With(zap.String("dialect", d))}, nil
}

// rawColumn is the dialect-neutral result of a column query.
type rawColumn struct {
	Name          string
	DataType      string
	Length        int
	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
	Comment       string
}

type rawForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

type rawIndexColumn struct {
	IndexName string
	Column    string
	Unique    bool
}

func (i *gormIntrospector) Introspect(ctx context.Context) ([]schema.TableSpec, error) {
	tables, err := i.listTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	views, err := i.listViews(ctx)
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	viewSet := make(map[string]bool, len(views))
	for _, v := range views {
		viewSet[v] = true
	}

	specs := make([]schema.TableSpec, 0, len(tables))
	for _, name := range tables {
		if isSystemTable(name, i.dialect) {
			continue
		}
		log := i.logger.With(zap.String("table", name))
		cols, err := i.columns(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		fks, err := i.foreignKeys(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("foreign keys of %s: %w", name, err)
		}
		idx, err := i.indexes(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("indexes of %s: %w", name, err)
		}
		spec := buildTableSpec(name, cols, fks, idx)
		spec.GenerateView = viewSet[spec.ViewName()]
		log.Debug("Introspected table", zap.Int("columns", len(spec.Columns)), zap.Int("foreign_keys", len(spec.ForeignKeys)), zap.Int("indexes", len(spec.Indexes)))
		specs = append(specs, spec)
	}
	i.logger.Info("Introspected current schema", zap.Int("tables", len(specs)), zap.Int("views", len(views)))
	return specs, nil
}

func (i *gormIntrospector) listTables(ctx context.Context) ([]string, error) {
	var names []string
	var query string
	switch i.dialect {
	case "mysql":
		query = "SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME"
	case "postgres":
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name"
	default:
		query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	}
	err := i.db.WithContext(ctx).Raw(query).Scan(&names).Error
	return names, err
}

func (i *gormIntrospector) listViews(ctx context.Context) ([]string, error) {
	var names []string
	var query string
	switch i.dialect {
	case "mysql":
		query = "SELECT TABLE_NAME FROM information_schema.VIEWS WHERE TABLE_SCHEMA = DATABASE()"
	case "postgres":
		query = "SELECT table_name FROM information_schema.views WHERE table_schema = current_schema()"
	default:
		query = "SELECT name FROM sqlite_master WHERE type = 'view'"
	}
	err := i.db.WithContext(ctx).Raw(query).Scan(&names).Error
	return names, err
}

func (i *gormIntrospector) columns(ctx context.Context, table string) ([]rawColumn, error) {
	switch i.dialect {
	case "mysql":
		return i.mysqlColumns(ctx, table)
	case "postgres":
		return i.postgresColumns(ctx, table)
	default:
		return i.sqliteColumns(ctx, table)
	}
}

func (i *gormIntrospector) foreignKeys(ctx context.Context, table string) ([]rawForeignKey, error) {
	switch i.dialect {
	case "mysql":
		return i.mysqlForeignKeys(ctx, table)
	case "postgres":
		return i.postgresForeignKeys(ctx, table)
	default:
		return i.sqliteForeignKeys(ctx, table)
	}
}

func (i *gormIntrospector) indexes(ctx context.Context, table string) ([]rawIndexColumn, error) {
	switch i.dialect {
	case "mysql":
		return i.mysqlIndexes(ctx, table)
	case "postgres":
		return i.postgresIndexes(ctx, table)
	default:
		return i.sqliteIndexes(ctx, table)
	}
}

func buildTableSpec(name string, cols []rawColumn, fks []rawForeignKey, idx []rawIndexColumn) schema.TableSpec {
	spec := schema.TableSpec{Name: name}
	for _, rc := range cols {
		t, size := logicalType(rc.DataType, rc.Length)
		c := schema.ColumnSpec{
			Name:          rc.Name,
			Type:          t,
			Nullable:      rc.Nullable,
			Size:          size,
			AutoIncrement: rc.AutoIncrement,
			Comment:       rc.Comment,
		}
		if rc.PrimaryKey && spec.PrimaryKey == "" {
			spec.PrimaryKey = rc.Name
		}
		if t == schema.TypeGeometry && spec.Geometry == nil {
			spec.Geometry = &schema.GeometrySpec{Column: rc.Name}
		}
		spec.Columns = append(spec.Columns, c)
	}
	for _, fk := range fks {
		spec.ForeignKeys = append(spec.ForeignKeys, schema.ForeignKeySpec{Column: fk.Column, RefTable: fk.RefTable, RefColumn: fk.RefColumn})
		if c, ok := spec.Column(fk.Column); ok {
			c.RefType = c.Type
			c.Type = schema.TypeForeignKey
		}
	}
	for _, ic := range idx {
		if existing, ok := spec.Index(ic.IndexName); ok {
			existing.Columns = append(existing.Columns, ic.Column)
			continue
		}
		spec.Indexes = append(spec.Indexes, schema.IndexSpec{Name: ic.IndexName, Columns: []string{ic.Column}, Unique: ic.Unique})
	}
	return spec
}

var typeSize = regexp.MustCompile(`\(\s*(\d+)`)

// logicalType maps a declared storage type back to a logical type. length
// is the reported character length; 0 falls back to the size inside the
// type name, if any.
func logicalType(dataType string, length int) (schema.LogicalType, int) {
	name := strings.ToLower(strings.TrimSpace(dataType))
	if name == "tinyint(1)" || strings.HasPrefix(name, "bool") {
		return schema.TypeBoolean, 0
	}
	base := name
	if p := strings.IndexByte(base, '('); p >= 0 {
		base = strings.TrimSpace(base[:p])
	}
	base = strings.TrimSuffix(base, " unsigned")

	switch base {
	case "int", "integer", "int4", "int8", "bigint", "smallint", "mediumint", "tinyint", "serial", "bigserial":
		return schema.TypeInteger, 0
	case "double", "double precision", "float", "float4", "float8", "real", "numeric", "decimal":
		return schema.TypeFloat, 0
	case "varchar", "character varying", "char", "character", "nvarchar", "nchar":
		if length == 0 {
			if m := typeSize.FindStringSubmatch(name); len(m) == 2 {
				length, _ = strconv.Atoi(m[1])
			}
		}
		return schema.TypeText, length
	case "text", "tinytext", "mediumtext", "longtext", "clob":
		return schema.TypeText, 0
	case "timestamp", "timestamp without time zone", "timestamp with time zone", "timestamptz", "datetime", "date":
		return schema.TypeDate, 0
	case "point", "geometry":
		return schema.TypeGeometry, 0
	default:
		return schema.TypeText, 0
	}
}

// isSystemTable skips catalog tables that live next to user tables.
func isSystemTable(table, dialect string) bool {
	switch dialect {
	case "postgres":
		return table == "spatial_ref_sys" || strings.HasPrefix(table, "pg_")
	case "sqlite":
		return strings.HasPrefix(table, "sqlite_")
	default:
		return false
	}
}
