package ddl

import (
	"strings"
	"testing"

	gddl "dumpload/internal/ddl"
)

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	got, err := BuildCreateTableSQL(gddl.WorksTable().InSchema("public"))
	if err != nil {
		t.Fatalf("BuildCreateTableSQL() error = %v", err)
	}
	want := `CREATE TABLE IF NOT EXISTS "public"."works" (
  "work_id" TEXT UNIQUE,
  "title" TEXT,
  "title_normalized" TEXT NOT NULL,
  "author_id" TEXT,
  "alternate_id" TEXT,
  PRIMARY KEY ("title_normalized")
);`
	if got != want {
		t.Fatalf("BuildCreateTableSQL() =\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildCreateTableSQLForcesNotNullOnKey(t *testing.T) {
	t.Parallel()

	got, err := BuildCreateTableSQL(gddl.TableDef{FQN: "t", Columns: []gddl.ColumnDef{
		{Name: "b", Kind: gddl.KindKey, Nullable: true, PrimaryKey: true},
		{Name: "a", Kind: gddl.KindKey, Nullable: true, PrimaryKey: true},
	}})
	if err != nil {
		t.Fatalf("BuildCreateTableSQL() error = %v", err)
	}
	if !strings.Contains(got, `"b" TEXT NOT NULL`) {
		t.Fatalf("primary key column not forced NOT NULL:\n%s", got)
	}
	if !strings.Contains(got, `PRIMARY KEY ("a", "b")`) {
		t.Fatalf("primary key columns not sorted:\n%s", got)
	}
}

func TestBuildCreateTableSQLError(t *testing.T) {
	t.Parallel()

	_, err := BuildCreateTableSQL(gddl.TableDef{})
	if err == nil || !strings.HasPrefix(err.Error(), "postgres ddl:") {
		t.Fatalf("BuildCreateTableSQL() error = %v", err)
	}
}

func TestBuildDropAndIndexSQL(t *testing.T) {
	t.Parallel()

	if got := BuildDropTableSQL("public.authors"); got != `DROP TABLE IF EXISTS "public"."authors";` {
		t.Fatalf("BuildDropTableSQL() = %s", got)
	}

	got, err := BuildCreateIndexSQL(gddl.WorksAuthorIndex().InSchema("public"))
	if err != nil {
		t.Fatalf("BuildCreateIndexSQL() error = %v", err)
	}
	if want := `CREATE INDEX IF NOT EXISTS "idx_works_author_id" ON "public"."works" ("author_id");`; got != want {
		t.Fatalf("BuildCreateIndexSQL() = %s, want %s", got, want)
	}
}

func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	if got := QuoteIdent(`weird"name`); got != `"weird""name"` {
		t.Fatalf("QuoteIdent() = %s", got)
	}
	if got := QuoteFQN("a..b"); got != `"a"."b"` {
		t.Fatalf("QuoteFQN() = %s", got)
	}
}

func TestMapType(t *testing.T) {
	t.Parallel()

	if MapType(gddl.KindKey) != "TEXT" || MapType(gddl.KindText) != "TEXT" || MapType("Integer") != "BIGINT" {
		t.Fatalf("MapType() mismatch")
	}
}
