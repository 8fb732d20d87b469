package utils

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// unsafeNameChars are stripped from every externally supplied name.
const unsafeNameChars = `;()"'%*`

// SanitizeName removes characters that could terminate a quoted identifier
// or inject a statement.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeNameChars, r) {
			return -1
		}
		return r
	}, name)
}

// QuoteIdentifier quotes an identifier for the given dialect, escaping the
// quote character inside the name.
func QuoteIdentifier(name, dialect string) string {
	switch strings.ToLower(dialect) {
	case "mysql":
		return fmt.Sprintf("`%s`", strings.ReplaceAll(name, "`", "``"))
	case "postgres":
		return pq.QuoteIdentifier(name)
	default:
		// sqlite and anything unknown get ANSI double quotes.
		return fmt.Sprintf("\"%s\"", strings.ReplaceAll(name, "\"", "\"\""))
	}
}

// QuoteLiteral quotes a string literal for the given dialect.
func QuoteLiteral(value, dialect string) string {
	switch strings.ToLower(dialect) {
	case "postgres":
		return pq.QuoteLiteral(value)
	case "mysql":
		value = strings.ReplaceAll(value, `\`, `\\`)
		return "'" + strings.ReplaceAll(value, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(value, "'", "''") + "'"
	}
}
