package sync

import (
	"context"
	"database/sql"
	"strings"
)

func (i *gormIntrospector) mysqlColumns(ctx context.Context, table string) ([]rawColumn, error) {
	var rows []struct {
		ColumnName string         `gorm:"column:COLUMN_NAME"`
		ColumnType string         `gorm:"column:COLUMN_TYPE"`
		Length     sql.NullInt64  `gorm:"column:CHARACTER_MAXIMUM_LENGTH"`
		IsNullable string         `gorm:"column:IS_NULLABLE"`
		ColumnKey  string         `gorm:"column:COLUMN_KEY"`
		Extra      string         `gorm:"column:EXTRA"`
		Comment    sql.NullString `gorm:"column:COLUMN_COMMENT"`
	}
	query := `
		SELECT COLUMN_NAME, COLUMN_TYPE, CHARACTER_MAXIMUM_LENGTH, IS_NULLABLE, COLUMN_KEY, EXTRA, COLUMN_COMMENT
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`
	if err := i.db.WithContext(ctx).Raw(query, table).Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]rawColumn, 0, len(rows))
	for _, r := range rows {
		length := 0
		// TEXT reports 65535 as its length; only VARCHAR/CHAR sizes are declared.
		if r.Length.Valid && strings.Contains(strings.ToLower(r.ColumnType), "char") {
			length = int(r.Length.Int64)
		}
		out = append(out, rawColumn{
			Name:          r.ColumnName,
			DataType:      r.ColumnType,
			Length:        length,
			Nullable:      strings.EqualFold(r.IsNullable, "YES"),
			PrimaryKey:    strings.EqualFold(r.ColumnKey, "PRI"),
			AutoIncrement: strings.Contains(strings.ToLower(r.Extra), "auto_increment"),
			Comment:       r.Comment.String,
		})
	}
	return out, nil
}

func (i *gormIntrospector) mysqlForeignKeys(ctx context.Context, table string) ([]rawForeignKey, error) {
	var rows []struct {
		ColumnName           string `gorm:"column:COLUMN_NAME"`
		ReferencedTableName  string `gorm:"column:REFERENCED_TABLE_NAME"`
		ReferencedColumnName string `gorm:"column:REFERENCED_COLUMN_NAME"`
	}
	query := `
		SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`
	if err := i.db.WithContext(ctx).Raw(query, table).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rawForeignKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, rawForeignKey{Column: r.ColumnName, RefTable: r.ReferencedTableName, RefColumn: r.ReferencedColumnName})
	}
	return out, nil
}

func (i *gormIntrospector) mysqlIndexes(ctx context.Context, table string) ([]rawIndexColumn, error) {
	var rows []struct {
		IndexName  string `gorm:"column:INDEX_NAME"`
		ColumnName string `gorm:"column:COLUMN_NAME"`
		NonUnique  int    `gorm:"column:NON_UNIQUE"`
	}
	query := `
		SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND INDEX_NAME <> 'PRIMARY'
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`
	if err := i.db.WithContext(ctx).Raw(query, table).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rawIndexColumn, 0, len(rows))
	for _, r := range rows {
		out = append(out, rawIndexColumn{IndexName: r.IndexName, Column: r.ColumnName, Unique: r.NonUnique == 0})
	}
	return out, nil
}
