package schema

import (
	"strings"
	"unicode"

	"github.com/arwahdevops/surveysync/internal/utils"
)

// Canonicalize normalizes a name the same way the feature service does:
// spaces become underscores and any other character that is not a letter,
// digit or underscore becomes a period. Characters that could break out of a
// quoted identifier are removed first.
func Canonicalize(name string) string {
	name = strings.TrimSpace(utils.SanitizeName(name))
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteRune('_')
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune('.')
		}
	}
	return b.String()
}

// NameMap maps external service names to database names. Column maps are
// keyed by the external table name; the "*" key applies to every table.
type NameMap struct {
	Tables  map[string]string            `yaml:"tables" toml:"tables"`
	Columns map[string]map[string]string `yaml:"columns" toml:"columns"`
}

const anyTable = "*"

// Table returns the canonical database name for an external table name.
func (m *NameMap) Table(external string) string {
	if m != nil {
		if mapped, ok := m.Tables[external]; ok && mapped != "" {
			return Canonicalize(mapped)
		}
	}
	return Canonicalize(external)
}

// Column returns the canonical database name for an external column name of
// the given external table.
func (m *NameMap) Column(externalTable, external string) string {
	if m != nil {
		if cols, ok := m.Columns[externalTable]; ok {
			if mapped, ok := cols[external]; ok && mapped != "" {
				return Canonicalize(mapped)
			}
		}
		if cols, ok := m.Columns[anyTable]; ok {
			if mapped, ok := cols[external]; ok && mapped != "" {
				return Canonicalize(mapped)
			}
		}
	}
	return Canonicalize(external)
}

// RenameRow maps the keys of an external row to canonical column names.
// When two external keys collapse to the same name the later one wins.
func (m *NameMap) RenameRow(externalTable string, row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[m.Column(externalTable, k)] = v
	}
	return out
}
