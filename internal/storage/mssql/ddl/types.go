package ddl

import (
	"strings"

	gddl "dumpload/internal/ddl"
)

// MapType maps a logical column kind into a SQL Server column type.
//
// Key columns are capped at NVARCHAR(450) so they fit the 900-byte index key
// limit; everything else falls back to NVARCHAR(MAX).
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case gddl.KindKey:
		return "NVARCHAR(450)"
	case "int", "integer", "bigint":
		return "BIGINT"
	default:
		return "NVARCHAR(MAX)"
	}
}
