package sync

import (
	"fmt"
	"strings"

	"github.com/arwahdevops/surveysync/internal/schema"
	"github.com/arwahdevops/surveysync/internal/utils"
)

// DDLGenerator renders plan actions as statements for one dialect.
type DDLGenerator struct {
	dialect     string
	defaultSRID int
}

func NewDDLGenerator(dialect string, defaultSRID int) (*DDLGenerator, error) {
	d := strings.ToLower(dialect)
	switch d {
	case "mysql", "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect for DDL generation: %s", dialect)
	}
	if defaultSRID <= 0 {
		defaultSRID = 4326
	}
	return &DDLGenerator{dialect: d, defaultSRID: defaultSRID}, nil
}

func (g *DDLGenerator) quote(name string) string {
	return utils.QuoteIdentifier(name, g.dialect)
}

// Statements returns the statements that carry out a. Conflicts and foreign
// keys sqlite cannot add after the fact render to nothing.
func (g *DDLGenerator) Statements(a Action) ([]string, error) {
	switch a.Kind {
	case ActionCreateTable:
		stmt, err := g.CreateTable(a.Spec)
		if err != nil {
			return nil, err
		}
		return []string{stmt}, nil
	case ActionAddColumn:
		col, ok := a.Spec.Column(a.Column)
		if !ok {
			return nil, fmt.Errorf("column %q is not declared on %s", a.Column, a.Table)
		}
		return []string{g.AddColumn(a.Spec, *col)}, nil
	case ActionCreateForeignKey:
		if stmt := g.AddForeignKey(a.Table, *a.ForeignKey); stmt != "" {
			return []string{stmt}, nil
		}
		return nil, nil
	case ActionCreateIndex:
		return []string{g.CreateIndex(a.Table, *a.Index)}, nil
	case ActionCreateView:
		return []string{g.DropView(a.Spec.ViewName()), g.CreateView(a.Spec)}, nil
	case ActionDestroyAndRecreate:
		var stmts []string
		if a.Dependents != nil {
			for _, v := range a.Dependents.Views {
				stmts = append(stmts, g.DropView(v))
			}
			for _, dep := range a.Dependents.ForeignKeys {
				if stmt := g.DropForeignKey(dep.Table, dep.ForeignKey.ConstraintName(dep.Table)); stmt != "" {
					stmts = append(stmts, stmt)
				}
			}
		}
		if g.dialect == "sqlite" {
			// sqlite cannot drop a referencing constraint on its own. With
			// enforcement off the drop leaves referencing rows in place and
			// their constraints bind to the recreated table by name.
			return append(stmts, "PRAGMA foreign_keys = OFF", g.DropTable(a.Table), "PRAGMA foreign_keys = ON"), nil
		}
		return append(stmts, g.DropTable(a.Table)), nil
	case ActionConflict:
		return nil, nil
	default:
		return nil, fmt.Errorf("no DDL for action kind %s", a.Kind)
	}
}

// CreateTable renders CREATE TABLE. Foreign keys are added by separate
// actions except on sqlite, which only accepts them inline.
func (g *DDLGenerator) CreateTable(t *schema.TableSpec) (string, error) {
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("cannot create table '%s' with no columns", t.Name)
	}
	defs := make([]string, 0, len(t.Columns)+len(t.ForeignKeys))
	for _, c := range t.Columns {
		defs = append(defs, "  "+g.columnDefinition(t, c, true))
	}
	if g.dialect == "sqlite" {
		for _, fk := range t.ForeignKeys {
			defs = append(defs, fmt.Sprintf("  CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
				g.quote(fk.ConstraintName(t.Name)), g.quote(fk.Column), g.quote(fk.RefTable), g.quote(fk.RefColumn)))
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", g.quote(t.Name), strings.Join(defs, ",\n")), nil
}

// AddColumn renders ADD COLUMN. Added columns are always nullable since the
// table may already hold rows.
func (g *DDLGenerator) AddColumn(t *schema.TableSpec, c schema.ColumnSpec) string {
	c.Nullable = true
	def := g.columnDefinition(t, c, false)
	if g.dialect == "sqlite" {
		if fk, ok := t.ForeignKey(c.Name); ok {
			def += fmt.Sprintf(" REFERENCES %s (%s)", g.quote(fk.RefTable), g.quote(fk.RefColumn))
		}
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", g.quote(t.Name), def)
}

func (g *DDLGenerator) AddForeignKey(table string, fk schema.ForeignKeySpec) string {
	if g.dialect == "sqlite" {
		return ""
	}
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		g.quote(table), g.quote(fk.ConstraintName(table)), g.quote(fk.Column), g.quote(fk.RefTable), g.quote(fk.RefColumn))
}

func (g *DDLGenerator) DropForeignKey(table, constraint string) string {
	switch g.dialect {
	case "mysql":
		return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", g.quote(table), g.quote(constraint))
	case "postgres":
		return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", g.quote(table), g.quote(constraint))
	default:
		return ""
	}
}

func (g *DDLGenerator) CreateIndex(table string, idx schema.IndexSpec) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = g.quote(c)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	ifNotExists := "IF NOT EXISTS "
	if g.dialect == "mysql" {
		ifNotExists = ""
	}
	return fmt.Sprintf("CREATE %sINDEX %s%s ON %s (%s)", unique, ifNotExists, g.quote(idx.Name), g.quote(table), strings.Join(cols, ", "))
}

func (g *DDLGenerator) DropView(view string) string {
	return fmt.Sprintf("DROP VIEW IF EXISTS %s", g.quote(view))
}

func (g *DDLGenerator) DropTable(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", g.quote(table))
}

// CreateView renders the derived view: foreign keys resolved to the
// referenced display column and the point column expanded into coordinates
// and SRID.
func (g *DDLGenerator) CreateView(t *schema.TableSpec) string {
	base := g.quote(t.Name)
	var selects, joins []string
	for _, c := range t.Columns {
		col := base + "." + g.quote(c.Name)
		if fk, ok := t.ForeignKey(c.Name); ok {
			alias := g.quote("j" + fmt.Sprint(len(joins)+1))
			display := fk.DisplayColumn
			if display == "" {
				display = fk.RefColumn
			}
			joins = append(joins, fmt.Sprintf("LEFT JOIN %s %s ON %s.%s = %s", g.quote(fk.RefTable), alias, alias, g.quote(fk.RefColumn), col))
			selects = append(selects, fmt.Sprintf("%s.%s AS %s", alias, g.quote(display), g.quote(c.Name)))
			continue
		}
		selects = append(selects, col)
		if t.IsGeometry(c.Name) && g.dialect != "sqlite" {
			x, y, srid := g.pointAccessors(col)
			selects = append(selects,
				fmt.Sprintf("%s AS %s", x, g.quote(c.Name+"_x")),
				fmt.Sprintf("%s AS %s", y, g.quote(c.Name+"_y")),
				fmt.Sprintf("%s AS %s", srid, g.quote(c.Name+"_srid")))
		}
	}
	stmt := fmt.Sprintf("CREATE VIEW %s AS SELECT %s FROM %s", g.quote(t.ViewName()), strings.Join(selects, ", "), base)
	if len(joins) > 0 {
		stmt += " " + strings.Join(joins, " ")
	}
	return stmt
}

// pointAccessors returns the X, Y and SRID expressions for a point column.
// MySQL coordinates are read through SRID 0 so geographic axis order never
// swaps them.
func (g *DDLGenerator) pointAccessors(col string) (x, y, srid string) {
	if g.dialect == "mysql" {
		return fmt.Sprintf("ST_X(ST_SRID(%s, 0))", col), fmt.Sprintf("ST_Y(ST_SRID(%s, 0))", col), fmt.Sprintf("ST_SRID(%s)", col)
	}
	return fmt.Sprintf("ST_X(%s)", col), fmt.Sprintf("ST_Y(%s)", col), fmt.Sprintf("ST_SRID(%s)", col)
}

func (g *DDLGenerator) columnDefinition(t *schema.TableSpec, c schema.ColumnSpec, inline bool) string {
	name := g.quote(c.Name)
	isPK := inline && t.PrimaryKey == c.Name
	if isPK && c.AutoIncrement {
		switch g.dialect {
		case "mysql":
			return name + " INT NOT NULL AUTO_INCREMENT PRIMARY KEY" + g.comment(c)
		case "postgres":
			return name + " INTEGER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
		default:
			return name + " INTEGER PRIMARY KEY AUTOINCREMENT"
		}
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(g.ColumnType(t, c))
	if isPK {
		b.WriteString(" NOT NULL PRIMARY KEY")
	} else if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	b.WriteString(g.comment(c))
	return b.String()
}

func (g *DDLGenerator) comment(c schema.ColumnSpec) string {
	if g.dialect != "mysql" || c.Comment == "" {
		return ""
	}
	return " COMMENT " + utils.QuoteLiteral(c.Comment, g.dialect)
}

// ColumnType maps a logical type to the dialect's storage type.
func (g *DDLGenerator) ColumnType(t *schema.TableSpec, c schema.ColumnSpec) string {
	switch c.StorageType() {
	case schema.TypeText:
		if c.Size > 0 {
			return fmt.Sprintf("VARCHAR(%d)", c.Size)
		}
		return "TEXT"
	case schema.TypeInteger:
		if g.dialect == "mysql" {
			return "INT"
		}
		return "INTEGER"
	case schema.TypeFloat:
		switch g.dialect {
		case "mysql":
			return "DOUBLE"
		case "postgres":
			return "DOUBLE PRECISION"
		default:
			return "REAL"
		}
	case schema.TypeDate:
		if g.dialect == "mysql" {
			return "DATETIME"
		}
		return "TIMESTAMP"
	case schema.TypeBoolean:
		if g.dialect == "mysql" {
			return "TINYINT(1)"
		}
		return "BOOLEAN"
	case schema.TypeGeometry:
		switch g.dialect {
		case "mysql":
			return "POINT"
		case "postgres":
			return fmt.Sprintf("geometry(Point, %d)", g.srid(t))
		default:
			return "GEOMETRY"
		}
	default:
		return "TEXT"
	}
}

func (g *DDLGenerator) srid(t *schema.TableSpec) int {
	if t.Geometry != nil && t.Geometry.SRID > 0 {
		return t.Geometry.SRID
	}
	return g.defaultSRID
}
