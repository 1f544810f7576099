// Package ddl renders SQLite statements for the generic ddl model.
//
// The builder here:
//   - Uses simple double-quoted identifiers: "table", "col".
//   - Emits CREATE TABLE IF NOT EXISTS and CREATE INDEX IF NOT EXISTS.
//   - Renders PRIMARY KEY as a separate table constraint.
package ddl

import (
	"fmt"
	"strings"

	gddl "dumpload/internal/ddl"
)

// BuildCreateTableSQL returns a SQLite CREATE TABLE statement for t:
//
//	CREATE TABLE IF NOT EXISTS "works" (
//	  "work_id" TEXT UNIQUE,
//	  ...
//	  PRIMARY KEY ("title_normalized")
//	);
func BuildCreateTableSQL(t gddl.TableDef) (string, error) {
	cols, err := gddl.ColumnClauses(t.Resolve(MapType), QuoteIdent, gddl.ClauseOptions{})
	if err != nil {
		return "", fmt.Errorf("sqlite ddl: %w", err)
	}
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		gddl.QuoteFQN(t.FQN, QuoteIdent),
		strings.Join(cols, ",\n  "),
	), nil
}

// BuildDropTableSQL returns DROP TABLE IF EXISTS for fqn.
func BuildDropTableSQL(fqn string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", gddl.QuoteFQN(fqn, QuoteIdent))
}

// BuildCreateIndexSQL returns CREATE INDEX IF NOT EXISTS for i. SQLite puts
// the schema on the index name, so a qualified table is split accordingly.
func BuildCreateIndexSQL(i gddl.IndexDef) (string, error) {
	cols, err := gddl.IndexColumns(i, QuoteIdent)
	if err != nil {
		return "", fmt.Errorf("sqlite ddl: %w", err)
	}
	name := QuoteIdent(i.Name)
	table := strings.TrimSpace(i.Table)
	if dot := strings.LastIndexByte(table, '.'); dot >= 0 {
		name = QuoteIdent(strings.TrimSpace(table[:dot])) + "." + name
		table = table[dot+1:]
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s);",
		gddl.IndexKeyword(i), name, QuoteIdent(strings.TrimSpace(table)), cols), nil
}

// QuoteIdent double-quotes one identifier, doubling embedded quotes.
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
