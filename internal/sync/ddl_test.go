package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arwahdevops/surveysync/internal/schema"
)

func newGenerator(t *testing.T, dialect string) *DDLGenerator {
	t.Helper()
	gen, err := NewDDLGenerator(dialect, 4326)
	require.NoError(t, err)
	return gen
}

func TestColumnType(t *testing.T) {
	table := plotTable()
	testCases := []struct {
		name     string
		column   schema.ColumnSpec
		mysql    string
		postgres string
		sqlite   string
	}{
		{"Bounded Text", schema.ColumnSpec{Type: schema.TypeText, Size: 36}, "VARCHAR(36)", "VARCHAR(36)", "VARCHAR(36)"},
		{"Unbounded Text", schema.ColumnSpec{Type: schema.TypeText}, "TEXT", "TEXT", "TEXT"},
		{"Integer", schema.ColumnSpec{Type: schema.TypeInteger}, "INT", "INTEGER", "INTEGER"},
		{"Float", schema.ColumnSpec{Type: schema.TypeFloat}, "DOUBLE", "DOUBLE PRECISION", "REAL"},
		{"Date", schema.ColumnSpec{Type: schema.TypeDate}, "DATETIME", "TIMESTAMP", "TIMESTAMP"},
		{"Boolean", schema.ColumnSpec{Type: schema.TypeBoolean}, "TINYINT(1)", "BOOLEAN", "BOOLEAN"},
		{"Point", schema.ColumnSpec{Type: schema.TypeGeometry}, "POINT", "geometry(Point, 4326)", "GEOMETRY"},
		{"Integer Reference", schema.ColumnSpec{Type: schema.TypeForeignKey}, "INT", "INTEGER", "INTEGER"},
		{"Text Reference", schema.ColumnSpec{Type: schema.TypeForeignKey, RefType: schema.TypeText, Size: 36}, "VARCHAR(36)", "VARCHAR(36)", "VARCHAR(36)"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.mysql, newGenerator(t, "mysql").ColumnType(&table, tc.column))
			assert.Equal(t, tc.postgres, newGenerator(t, "postgres").ColumnType(&table, tc.column))
			assert.Equal(t, tc.sqlite, newGenerator(t, "sqlite").ColumnType(&table, tc.column))
		})
	}

	t.Run("Table SRID Overrides Default", func(t *testing.T) {
		nz := plotTable()
		nz.Geometry.SRID = 2193
		assert.Equal(t, "geometry(Point, 2193)", newGenerator(t, "postgres").ColumnType(&nz, schema.ColumnSpec{Type: schema.TypeGeometry}))
	})
}

func TestCreateTable(t *testing.T) {
	plot := plotTable()
	species := speciesTable()

	testCases := []struct {
		name     string
		dialect  string
		table    *schema.TableSpec
		expected string
	}{
		{
			name:    "Postgres",
			dialect: "postgres",
			table:   &plot,
			expected: `CREATE TABLE "plot" (
  "objectid" INTEGER NOT NULL PRIMARY KEY,
  "globalid" VARCHAR(36) NOT NULL,
  "site" VARCHAR(255),
  "species" INTEGER,
  "surveyed" TIMESTAMP,
  "geom" geometry(Point, 4326)
)`,
		},
		{
			name:    "MySQL",
			dialect: "mysql",
			table:   &plot,
			expected: "CREATE TABLE `plot` (\n" +
				"  `objectid` INT NOT NULL PRIMARY KEY,\n" +
				"  `globalid` VARCHAR(36) NOT NULL,\n" +
				"  `site` VARCHAR(255),\n" +
				"  `species` INT,\n" +
				"  `surveyed` DATETIME,\n" +
				"  `geom` POINT\n" +
				")",
		},
		{
			name:    "SQLite Inlines Foreign Keys",
			dialect: "sqlite",
			table:   &plot,
			expected: `CREATE TABLE "plot" (
  "objectid" INTEGER NOT NULL PRIMARY KEY,
  "globalid" VARCHAR(36) NOT NULL,
  "site" VARCHAR(255),
  "species" INTEGER,
  "surveyed" TIMESTAMP,
  "geom" GEOMETRY,
  CONSTRAINT "fk_plot_species" FOREIGN KEY ("species") REFERENCES "species" ("id")
)`,
		},
		{
			name:    "Postgres Identity",
			dialect: "postgres",
			table:   &species,
			expected: `CREATE TABLE "species" (
  "id" INTEGER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  "name" VARCHAR(256),
  "code" VARCHAR(256)
)`,
		},
		{
			name:    "MySQL Auto Increment",
			dialect: "mysql",
			table:   &species,
			expected: "CREATE TABLE `species` (\n" +
				"  `id` INT NOT NULL AUTO_INCREMENT PRIMARY KEY,\n" +
				"  `name` VARCHAR(256),\n" +
				"  `code` VARCHAR(256)\n" +
				")",
		},
		{
			name:    "SQLite Autoincrement",
			dialect: "sqlite",
			table:   &species,
			expected: `CREATE TABLE "species" (
  "id" INTEGER PRIMARY KEY AUTOINCREMENT,
  "name" VARCHAR(256),
  "code" VARCHAR(256)
)`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stmt, err := newGenerator(t, tc.dialect).CreateTable(tc.table)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, stmt)
		})
	}

	_, err := newGenerator(t, "postgres").CreateTable(&schema.TableSpec{Name: "empty"})
	assert.Error(t, err)
}

func TestCreateView(t *testing.T) {
	plot := plotTable()
	testCases := []struct {
		name     string
		dialect  string
		expected string
	}{
		{
			name:    "Postgres",
			dialect: "postgres",
			expected: `CREATE VIEW "plot_view" AS SELECT "plot"."objectid", "plot"."globalid", "plot"."site", "j1"."name" AS "species", "plot"."surveyed", "plot"."geom", ` +
				`ST_X("plot"."geom") AS "geom_x", ST_Y("plot"."geom") AS "geom_y", ST_SRID("plot"."geom") AS "geom_srid" ` +
				`FROM "plot" LEFT JOIN "species" "j1" ON "j1"."id" = "plot"."species"`,
		},
		{
			name:    "MySQL Reads Coordinates Without Axis Swap",
			dialect: "mysql",
			expected: "CREATE VIEW `plot_view` AS SELECT `plot`.`objectid`, `plot`.`globalid`, `plot`.`site`, `j1`.`name` AS `species`, `plot`.`surveyed`, `plot`.`geom`, " +
				"ST_X(ST_SRID(`plot`.`geom`, 0)) AS `geom_x`, ST_Y(ST_SRID(`plot`.`geom`, 0)) AS `geom_y`, ST_SRID(`plot`.`geom`) AS `geom_srid` " +
				"FROM `plot` LEFT JOIN `species` `j1` ON `j1`.`id` = `plot`.`species`",
		},
		{
			name:    "SQLite Keeps Stored Point",
			dialect: "sqlite",
			expected: `CREATE VIEW "plot_view" AS SELECT "plot"."objectid", "plot"."globalid", "plot"."site", "j1"."name" AS "species", "plot"."surveyed", "plot"."geom" ` +
				`FROM "plot" LEFT JOIN "species" "j1" ON "j1"."id" = "plot"."species"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, newGenerator(t, tc.dialect).CreateView(&plot))
		})
	}

	t.Run("Display Column Defaults To Key", func(t *testing.T) {
		tree := treeTable()
		stmt := newGenerator(t, "postgres").CreateView(&tree)
		assert.Contains(t, stmt, `"j1"."globalid" AS "plot_globalid"`)
	})
}

func TestStatements(t *testing.T) {
	plot := plotTable()
	tree := treeTable()
	recreate := Action{
		Kind:  ActionDestroyAndRecreate,
		Table: "plot",
		Spec:  &plot,
		Dependents: &Dependents{
			Views:       []string{"plot_view", "tree_view"},
			ForeignKeys: []DependentFK{{Table: "tree", ForeignKey: tree.ForeignKeys[0]}},
		},
	}

	testCases := []struct {
		name     string
		dialect  string
		action   Action
		expected []string
	}{
		{
			name:    "Postgres Recreate Drops Dependents First",
			dialect: "postgres",
			action:  recreate,
			expected: []string{
				`DROP VIEW IF EXISTS "plot_view"`,
				`DROP VIEW IF EXISTS "tree_view"`,
				`ALTER TABLE "tree" DROP CONSTRAINT IF EXISTS "fk_tree_plot_globalid"`,
				`DROP TABLE IF EXISTS "plot"`,
			},
		},
		{
			name:    "MySQL Recreate",
			dialect: "mysql",
			action:  recreate,
			expected: []string{
				"DROP VIEW IF EXISTS `plot_view`",
				"DROP VIEW IF EXISTS `tree_view`",
				"ALTER TABLE `tree` DROP FOREIGN KEY `fk_tree_plot_globalid`",
				"DROP TABLE IF EXISTS `plot`",
			},
		},
		{
			name:    "SQLite Recreate Suspends Enforcement Around The Drop",
			dialect: "sqlite",
			action:  recreate,
			expected: []string{
				`DROP VIEW IF EXISTS "plot_view"`,
				`DROP VIEW IF EXISTS "tree_view"`,
				`PRAGMA foreign_keys = OFF`,
				`DROP TABLE IF EXISTS "plot"`,
				`PRAGMA foreign_keys = ON`,
			},
		},
		{
			name:     "Postgres Foreign Key",
			dialect:  "postgres",
			action:   Action{Kind: ActionCreateForeignKey, Table: "plot", ForeignKey: &plot.ForeignKeys[0]},
			expected: []string{`ALTER TABLE "plot" ADD CONSTRAINT "fk_plot_species" FOREIGN KEY ("species") REFERENCES "species" ("id")`},
		},
		{
			name:     "SQLite Foreign Key Renders Nothing",
			dialect:  "sqlite",
			action:   Action{Kind: ActionCreateForeignKey, Table: "plot", ForeignKey: &plot.ForeignKeys[0]},
			expected: nil,
		},
		{
			name:     "SQLite Added Reference Column",
			dialect:  "sqlite",
			action:   Action{Kind: ActionAddColumn, Table: "plot", Spec: &plot, Column: "species"},
			expected: []string{`ALTER TABLE "plot" ADD COLUMN "species" INTEGER REFERENCES "species" ("id")`},
		},
		{
			name:     "Added Column Is Nullable",
			dialect:  "postgres",
			action:   Action{Kind: ActionAddColumn, Table: "plot", Spec: &plot, Column: "globalid"},
			expected: []string{`ALTER TABLE "plot" ADD COLUMN "globalid" VARCHAR(36)`},
		},
		{
			name:     "Postgres Unique Index",
			dialect:  "postgres",
			action:   Action{Kind: ActionCreateIndex, Table: "plot", Index: &plot.Indexes[0]},
			expected: []string{`CREATE UNIQUE INDEX IF NOT EXISTS "idx_plot_globalid" ON "plot" ("globalid")`},
		},
		{
			name:     "MySQL Index",
			dialect:  "mysql",
			action:   Action{Kind: ActionCreateIndex, Table: "plot", Index: &plot.Indexes[1]},
			expected: []string{"CREATE INDEX `idx_plot_species` ON `plot` (`species`)"},
		},
		{
			name:     "Conflict Renders Nothing",
			dialect:  "postgres",
			action:   Action{Kind: ActionConflict, Table: "plot", Conflict: &Conflict{Table: "plot"}},
			expected: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stmts, err := newGenerator(t, tc.dialect).Statements(tc.action)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, stmts)
		})
	}

	t.Run("View Is Dropped Before Create", func(t *testing.T) {
		stmts, err := newGenerator(t, "postgres").Statements(Action{Kind: ActionCreateView, Table: "plot", Spec: &plot})
		require.NoError(t, err)
		require.Len(t, stmts, 2)
		assert.Equal(t, `DROP VIEW IF EXISTS "plot_view"`, stmts[0])
	})

	t.Run("Unknown Column", func(t *testing.T) {
		_, err := newGenerator(t, "postgres").Statements(Action{Kind: ActionAddColumn, Table: "plot", Spec: &plot, Column: "nope"})
		assert.Error(t, err)
	})
}

func TestMySQLColumnComment(t *testing.T) {
	plot := plotTable()
	col := schema.ColumnSpec{Name: "site", Type: schema.TypeText, Size: 255, Nullable: true, Comment: "Site's label"}
	assert.Equal(t, "ALTER TABLE `plot` ADD COLUMN `site` VARCHAR(255) COMMENT 'Site''s label'", newGenerator(t, "mysql").AddColumn(&plot, col))
	assert.Equal(t, `ALTER TABLE "plot" ADD COLUMN "site" VARCHAR(255)`, newGenerator(t, "postgres").AddColumn(&plot, col))
}

func TestNewDDLGeneratorRejectsUnknownDialect(t *testing.T) {
	_, err := NewDDLGenerator("oracle", 4326)
	assert.Error(t, err)
}
