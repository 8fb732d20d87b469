package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/arwahdevops/surveysync/internal/utils"
)

func (i *gormIntrospector) sqliteColumns(ctx context.Context, table string) ([]rawColumn, error) {
	var rows []struct {
		Cid     int    `gorm:"column:cid"`
		Name    string `gorm:"column:name"`
		Type    string `gorm:"column:type"`
		NotNull int    `gorm:"column:notnull"`
		Pk      int    `gorm:"column:pk"`
	}
	stmt := fmt.Sprintf("PRAGMA table_info(%s)", utils.QuoteIdentifier(table, "sqlite"))
	if err := i.db.WithContext(ctx).Raw(stmt).Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]rawColumn, 0, len(rows))
	for _, r := range rows {
		isPK := r.Pk > 0
		out = append(out, rawColumn{
			Name:       r.Name,
			DataType:   r.Type,
			Nullable:   r.NotNull == 0 && !isPK,
			PrimaryKey: isPK,
			// An INTEGER PRIMARY KEY is the rowid alias.
			AutoIncrement: isPK && strings.EqualFold(r.Type, "INTEGER"),
		})
	}
	return out, nil
}

func (i *gormIntrospector) sqliteForeignKeys(ctx context.Context, table string) ([]rawForeignKey, error) {
	var rows []struct {
		ID    int    `gorm:"column:id"`
		Seq   int    `gorm:"column:seq"`
		Table string `gorm:"column:table"`
		From  string `gorm:"column:from"`
		To    string `gorm:"column:to"`
	}
	stmt := fmt.Sprintf("PRAGMA foreign_key_list(%s)", utils.QuoteIdentifier(table, "sqlite"))
	if err := i.db.WithContext(ctx).Raw(stmt).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rawForeignKey, 0, len(rows))
	for _, r := range rows {
		if r.Seq != 0 {
			continue
		}
		out = append(out, rawForeignKey{Column: r.From, RefTable: r.Table, RefColumn: r.To})
	}
	return out, nil
}

func (i *gormIntrospector) sqliteIndexes(ctx context.Context, table string) ([]rawIndexColumn, error) {
	var list []struct {
		Name   string `gorm:"column:name"`
		Unique int    `gorm:"column:unique"`
		Origin string `gorm:"column:origin"`
	}
	stmt := fmt.Sprintf("PRAGMA index_list(%s)", utils.QuoteIdentifier(table, "sqlite"))
	if err := i.db.WithContext(ctx).Raw(stmt).Scan(&list).Error; err != nil {
		return nil, err
	}

	var out []rawIndexColumn
	for _, idx := range list {
		// "c" marks indexes created by CREATE INDEX; "pk" and "u" are implicit.
		if idx.Origin != "c" {
			continue
		}
		var cols []struct {
			Seqno int    `gorm:"column:seqno"`
			Name  string `gorm:"column:name"`
		}
		infoStmt := fmt.Sprintf("PRAGMA index_info(%s)", utils.QuoteIdentifier(idx.Name, "sqlite"))
		if err := i.db.WithContext(ctx).Raw(infoStmt).Scan(&cols).Error; err != nil {
			return nil, err
		}
		for _, c := range cols {
			out = append(out, rawIndexColumn{IndexName: idx.Name, Column: c.Name, Unique: idx.Unique == 1})
		}
	}
	return out, nil
}
