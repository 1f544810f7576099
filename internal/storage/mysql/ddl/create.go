// Package ddl renders MySQL statements for the generic ddl model.
//
// The builder here:
//   - Uses backtick quoting: `schema`.`table`, `col`.
//   - Creates InnoDB tables with a binary utf8mb4 collation, so keys compare
//     byte for byte like on the other engines.
//   - Leaves index existence checks to the caller; MySQL has no
//     CREATE INDEX IF NOT EXISTS.
package ddl

import (
	"fmt"
	"strings"

	gddl "dumpload/internal/ddl"
)

// TableOptions is appended to every CREATE TABLE.
const TableOptions = "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin"

// BuildCreateTableSQL returns CREATE TABLE IF NOT EXISTS for t.
func BuildCreateTableSQL(t gddl.TableDef) (string, error) {
	cols, err := gddl.ColumnClauses(t.Resolve(MapType), QuoteIdent, gddl.ClauseOptions{PrimaryKeyNotNull: true})
	if err != nil {
		return "", fmt.Errorf("mysql ddl: %w", err)
	}
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n) %s;",
		QuoteFQN(t.FQN),
		strings.Join(cols, ",\n  "),
		TableOptions,
	), nil
}

// BuildDropTableSQL returns DROP TABLE IF EXISTS for fqn.
func BuildDropTableSQL(fqn string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", QuoteFQN(fqn))
}

// BuildCreateIndexSQL returns an unguarded CREATE INDEX for i.
func BuildCreateIndexSQL(i gddl.IndexDef) (string, error) {
	cols, err := gddl.IndexColumns(i, QuoteIdent)
	if err != nil {
		return "", fmt.Errorf("mysql ddl: %w", err)
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s);",
		gddl.IndexKeyword(i), QuoteIdent(i.Name), QuoteFQN(i.Table), cols), nil
}

// IndexExistsQuery returns a query counting indexes named like i on its
// table, plus its arguments. An unqualified table is looked up in the
// connection's current database.
func IndexExistsQuery(i gddl.IndexDef) (string, []any) {
	var schema any
	table := strings.TrimSpace(i.Table)
	if dot := strings.LastIndexByte(table, '.'); dot >= 0 {
		schema = table[:dot]
		table = table[dot+1:]
	}
	return indexExistsSQL, []any{schema, table, i.Name}
}

const indexExistsSQL = "SELECT COUNT(*) FROM information_schema.statistics " +
	"WHERE table_schema = COALESCE(?, DATABASE()) AND table_name = ? AND index_name = ?"

// QuoteIdent quotes one identifier with backticks, doubling embedded ones.
func QuoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

// QuoteFQN quotes a possibly schema-qualified name, e.g. "catalog.works"
// becomes `catalog`.`works`.
func QuoteFQN(fqn string) string { return gddl.QuoteFQN(fqn, QuoteIdent) }
