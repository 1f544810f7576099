package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	gddl "dumpload/internal/ddl"
	pgddl "dumpload/internal/storage/postgres/ddl"
)

var q = pgddl.QuoteIdent

// upsertWorksSQL is the merge-upsert for one candidate. The update is skipped
// when the candidate is the row's own source id, in which case RETURNING
// yields no row.
func upsertWorksSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %[1]s AS w (%[2]s, %[3]s, %[4]s, %[5]s, %[6]s)
VALUES ($1, $2, $3, $4, '')
ON CONFLICT (%[4]s) DO UPDATE SET
  %[6]s = CASE
    WHEN w.%[6]s IS NULL OR w.%[6]s = '' THEN EXCLUDED.%[2]s
    WHEN position(',' || EXCLUDED.%[2]s || ',' IN ',' || w.%[6]s || ',') > 0 THEN w.%[6]s
    ELSE w.%[6]s || ',' || EXCLUDED.%[2]s
  END,
  %[5]s = CASE
    WHEN (w.%[5]s IS NULL OR w.%[5]s = '') AND EXCLUDED.%[5]s <> '' THEN EXCLUDED.%[5]s
    ELSE w.%[5]s
  END
WHERE w.%[2]s IS DISTINCT FROM EXCLUDED.%[2]s
RETURNING w.%[2]s, w.%[5]s`,
		pgddl.QuoteFQN(table),
		q(gddl.ColWorkID),
		q(gddl.ColTitle),
		q(gddl.ColTitleNormalized),
		q(gddl.ColAuthorID),
		q(gddl.ColAlternateID),
	)
}

func selectWorkSQL(t gddl.TableDef) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		columnList(t), pgddl.QuoteFQN(t.FQN), q(gddl.ColTitleNormalized))
}

func selectAuthorsSQL(t gddl.TableDef) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY %s",
		columnList(t), pgddl.QuoteFQN(t.FQN), q(gddl.ColNameNormalized), q(gddl.ColAuthorID))
}

func countSQL(t gddl.TableDef) string {
	return "SELECT COUNT(*) FROM " + pgddl.QuoteFQN(t.FQN)
}

func vacuumSQL(t gddl.TableDef) string {
	return "VACUUM (ANALYZE) " + pgddl.QuoteFQN(t.FQN)
}

func createSchemaSQL(schema string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + q(schema)
}

func columnList(t gddl.TableDef) string {
	names := t.ColumnNames()
	for i, n := range names {
		names[i] = q(n)
	}
	return strings.Join(names, ", ")
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
