package ddl

import "strings"

// MapType maps a logical column kind into a SQLite column type. SQLite types
// are affinities, so every string-like kind becomes TEXT.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "INTEGER"
	default:
		return "TEXT"
	}
}
