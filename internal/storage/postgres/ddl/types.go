package ddl

import "strings"

// MapType normalizes a logical column kind into a Postgres SQL type.
//
//	"int"/"integer"/"bigint" -> BIGINT
//	everything else          -> TEXT
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	default:
		return "TEXT"
	}
}
