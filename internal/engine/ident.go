package engine

import "strings"

// QuoteIdentifier quotes a PostgreSQL identifier (database, role, table
// name) by wrapping it in double-quotes and doubling any internal ones.
//
//	QuoteIdentifier(`my"db`) → `"my""db"`
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EscapeLiteral escapes a PostgreSQL string literal by doubling
// single-quotes. The result belongs inside single-quotes in a query.
//
//	"SELECT 1 FROM pg_database WHERE datname='" + EscapeLiteral(name) + "'"
func EscapeLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
