package ddl

// Logical column kinds. Dialects map them to concrete SQL types.
const (
	// KindKey is a short identifier-like string that takes part in a key or
	// an index.
	KindKey = "key"
	// KindText is free text of unbounded length.
	KindText = "text"
)

// ColumnDef describes a single column in a table definition.
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - Kind: logical type (KindKey, KindText); resolved into SQLType by a dialect
//   - SQLType: concrete SQL type; takes precedence over Kind when set
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Unique: whether the column carries its own UNIQUE constraint
//   - Default: raw default expression (e.g., '')
type ColumnDef struct {
	Name       string
	Kind       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Unique     bool
	Default    string
}

// TableDef holds the table name (FQN, optionally "schema.table") and an
// ordered list of columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// IndexDef is a secondary index on Table.
type IndexDef struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// Resolve returns a copy of t where every column without an explicit SQLType
// gets mapType(Kind).
func (t TableDef) Resolve(mapType func(kind string) string) TableDef {
	out := TableDef{FQN: t.FQN, Columns: make([]ColumnDef, len(t.Columns))}
	for i, c := range t.Columns {
		if c.SQLType == "" && mapType != nil {
			c.SQLType = mapType(c.Kind)
		}
		out.Columns[i] = c
	}
	return out
}

// ColumnNames returns the column names in table order.
func (t TableDef) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// InSchema returns a copy of t whose FQN is qualified by schema. An empty
// schema leaves the name unchanged.
func (t TableDef) InSchema(schema string) TableDef {
	if schema == "" {
		return t
	}
	t.FQN = schema + "." + t.FQN
	return t
}

// InSchema returns a copy of i whose table is qualified by schema.
func (i IndexDef) InSchema(schema string) IndexDef {
	if schema == "" {
		return i
	}
	i.Table = schema + "." + i.Table
	return i
}
