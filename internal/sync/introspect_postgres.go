package sync

import (
	"context"
	"database/sql"
	"strings"
)

func (i *gormIntrospector) postgresColumns(ctx context.Context, table string) ([]rawColumn, error) {
	var rows []struct {
		ColumnName    string         `gorm:"column:column_name"`
		DataType      string         `gorm:"column:data_type"`
		UdtName       string         `gorm:"column:udt_name"`
		Length        sql.NullInt64  `gorm:"column:character_maximum_length"`
		IsNullable    string         `gorm:"column:is_nullable"`
		ColumnDefault sql.NullString `gorm:"column:column_default"`
		IsIdentity    string         `gorm:"column:is_identity"`
		Comment       sql.NullString `gorm:"column:column_comment"`
		IsPrimaryKey  bool           `gorm:"column:is_primary_key"`
	}
	query := `
	SELECT
		c.column_name, c.data_type, c.udt_name, c.character_maximum_length, c.is_nullable,
		c.column_default, c.is_identity,
		pgd.description AS column_comment,
		EXISTS (
			SELECT 1
			FROM pg_catalog.pg_constraint con
			JOIN pg_catalog.pg_attribute att ON att.attnum = ANY(con.conkey) AND att.attrelid = con.conrelid
			WHERE con.conrelid = tbl.oid AND con.contype = 'p' AND att.attname = c.column_name
		) AS is_primary_key
	FROM information_schema.columns c
	JOIN pg_catalog.pg_class tbl ON tbl.relname = c.table_name
		AND tbl.relnamespace = (SELECT ns.oid FROM pg_catalog.pg_namespace ns WHERE ns.nspname = c.table_schema)
	LEFT JOIN pg_catalog.pg_description pgd ON pgd.objoid = tbl.oid AND pgd.objsubid = c.ordinal_position
	WHERE c.table_schema = current_schema() AND c.table_name = $1
	ORDER BY c.ordinal_position`
	if err := i.db.WithContext(ctx).Raw(query, table).Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]rawColumn, 0, len(rows))
	for _, r := range rows {
		dataType := r.DataType
		if r.DataType == "USER-DEFINED" && r.UdtName != "" {
			dataType = r.UdtName
		}
		out = append(out, rawColumn{
			Name:          r.ColumnName,
			DataType:      dataType,
			Length:        int(r.Length.Int64),
			Nullable:      r.IsNullable == "YES",
			PrimaryKey:    r.IsPrimaryKey,
			AutoIncrement: r.IsIdentity == "YES" || (r.ColumnDefault.Valid && strings.HasPrefix(r.ColumnDefault.String, "nextval(")),
			Comment:       r.Comment.String,
		})
	}
	return out, nil
}

func (i *gormIntrospector) postgresForeignKeys(ctx context.Context, table string) ([]rawForeignKey, error) {
	var rows []struct {
		ColumnName string `gorm:"column:column_name"`
		RefTable   string `gorm:"column:ref_table"`
		RefColumn  string `gorm:"column:ref_column"`
	}
	query := `
	SELECT att.attname AS column_name, ref.relname AS ref_table, ratt.attname AS ref_column
	FROM pg_catalog.pg_constraint con
	JOIN pg_catalog.pg_class tbl ON tbl.oid = con.conrelid
	JOIN pg_catalog.pg_class ref ON ref.oid = con.confrelid
	JOIN pg_catalog.pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = con.conkey[1]
	JOIN pg_catalog.pg_attribute ratt ON ratt.attrelid = con.confrelid AND ratt.attnum = con.confkey[1]
	WHERE con.contype = 'f' AND tbl.relname = $1
	  AND tbl.relnamespace = (SELECT oid FROM pg_catalog.pg_namespace WHERE nspname = current_schema())
	ORDER BY con.conname`
	if err := i.db.WithContext(ctx).Raw(query, table).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rawForeignKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, rawForeignKey{Column: r.ColumnName, RefTable: r.RefTable, RefColumn: r.RefColumn})
	}
	return out, nil
}

func (i *gormIntrospector) postgresIndexes(ctx context.Context, table string) ([]rawIndexColumn, error) {
	var rows []struct {
		IndexName  string `gorm:"column:index_name"`
		ColumnName string `gorm:"column:column_name"`
		IsUnique   bool   `gorm:"column:is_unique"`
	}
	query := `
	SELECT i.relname AS index_name, a.attname AS column_name, idx.indisunique AS is_unique
	FROM pg_catalog.pg_class t
	JOIN pg_catalog.pg_index idx ON t.oid = idx.indrelid
	JOIN pg_catalog.pg_class i ON i.oid = idx.indexrelid
	JOIN pg_catalog.pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(idx.indkey)
	WHERE t.relname = $1 AND NOT idx.indisprimary
	  AND t.relnamespace = (SELECT oid FROM pg_catalog.pg_namespace WHERE nspname = current_schema())
	ORDER BY i.relname, array_position(idx.indkey::int[], a.attnum::int)`
	if err := i.db.WithContext(ctx).Raw(query, table).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rawIndexColumn, 0, len(rows))
	for _, r := range rows {
		out = append(out, rawIndexColumn{IndexName: r.IndexName, Column: r.ColumnName, Unique: r.IsUnique})
	}
	return out, nil
}
