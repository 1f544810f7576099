package ddl

import (
	"strings"

	gddl "dumpload/internal/ddl"
)

// MapType maps a logical column kind into a MySQL column type.
//
// Key columns are VARCHAR(512) so that a utf8mb4 key stays under InnoDB's
// 3072-byte index limit; free text is TEXT.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case gddl.KindKey:
		return "VARCHAR(512)"
	case "int", "integer", "bigint":
		return "BIGINT"
	default:
		return "TEXT"
	}
}
