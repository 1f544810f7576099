package sqlite

import (
	"fmt"
	"strings"

	gddl "dumpload/internal/ddl"
	sqliteddl "dumpload/internal/storage/sqlite/ddl"
)

var q = sqliteddl.QuoteIdent

// upsertWorksSQL inserts a candidate or folds it into the row that already
// holds its normalized title. A candidate whose id is the row's own work_id
// matches no update, so RETURNING yields nothing for it.
func upsertWorksSQL() string {
	t := q(gddl.WorksTableName)
	alt := t + "." + q(gddl.ColAlternateID)
	author := t + "." + q(gddl.ColAuthorID)
	return fmt.Sprintf(`INSERT INTO %[1]s (%[2]s, %[3]s, %[4]s, %[5]s, %[6]s)
VALUES (?, ?, ?, ?, '')
ON CONFLICT (%[4]s) DO UPDATE SET
  %[6]s = CASE
    WHEN %[7]s IS NULL OR %[7]s = '' THEN excluded.%[2]s
    WHEN instr(',' || %[7]s || ',', ',' || excluded.%[2]s || ',') > 0 THEN %[7]s
    ELSE %[7]s || ',' || excluded.%[2]s
  END,
  %[5]s = CASE
    WHEN (%[8]s IS NULL OR %[8]s = '') AND excluded.%[5]s <> '' THEN excluded.%[5]s
    ELSE %[8]s
  END
WHERE %[1]s.%[2]s IS NOT excluded.%[2]s
RETURNING %[2]s, %[5]s`,
		t,
		q(gddl.ColWorkID),
		q(gddl.ColTitle),
		q(gddl.ColTitleNormalized),
		q(gddl.ColAuthorID),
		q(gddl.ColAlternateID),
		alt,
		author,
	)
}

func selectWorkSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		columnList(gddl.WorksTable()), q(gddl.WorksTableName), q(gddl.ColTitleNormalized))
}

func insertAuthorSQL() string {
	t := gddl.AuthorsTable()
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", q(t.FQN), columnList(t), marks)
}

func selectAuthorsSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY rowid",
		columnList(gddl.AuthorsTable()), q(gddl.AuthorsTableName), q(gddl.ColNameNormalized))
}

func countWorksSQL() string {
	return "SELECT COUNT(*) FROM " + q(gddl.WorksTableName)
}

func columnList(t gddl.TableDef) string {
	names := t.ColumnNames()
	for i, n := range names {
		names[i] = q(n)
	}
	return strings.Join(names, ", ")
}
