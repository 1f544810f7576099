package ddl

// Table and column names of the loaded lookup tables.
const (
	WorksTableName   = "works"
	AuthorsTableName = "authors"

	ColWorkID          = "work_id"
	ColTitle           = "title"
	ColTitleNormalized = "title_normalized"
	ColAuthorID        = "author_id"
	ColAlternateID     = "alternate_id"
	ColName            = "name"
	ColNameNormalized  = "name_normalized"

	WorksAuthorIndexName = "idx_works_author_id"
	AuthorsNameIndexName = "idx_name_norm"
)

// WorksTable is one row per normalized title. work_id is unique as well, so
// a source id can only ever own one title.
func WorksTable() TableDef {
	return TableDef{
		FQN: WorksTableName,
		Columns: []ColumnDef{
			{Name: ColWorkID, Kind: KindKey, Nullable: true, Unique: true},
			{Name: ColTitle, Kind: KindText, Nullable: true},
			{Name: ColTitleNormalized, Kind: KindKey, PrimaryKey: true},
			{Name: ColAuthorID, Kind: KindKey, Nullable: true},
			{Name: ColAlternateID, Kind: KindText, Nullable: true},
		},
	}
}

// AuthorsTable is one row per normalized author name.
func AuthorsTable() TableDef {
	return TableDef{
		FQN: AuthorsTableName,
		Columns: []ColumnDef{
			{Name: ColAuthorID, Kind: KindKey, PrimaryKey: true},
			{Name: ColName, Kind: KindText, Nullable: true},
			{Name: ColNameNormalized, Kind: KindKey, Nullable: true},
			{Name: ColAlternateID, Kind: KindText, Nullable: true},
		},
	}
}

// WorksAuthorIndex speeds up author to works lookups.
func WorksAuthorIndex() IndexDef {
	return IndexDef{Name: WorksAuthorIndexName, Table: WorksTableName, Columns: []string{ColAuthorID}}
}

// AuthorsNameIndex serves lookups by normalized name.
func AuthorsNameIndex() IndexDef {
	return IndexDef{Name: AuthorsNameIndexName, Table: AuthorsTableName, Columns: []string{ColNameNormalized}}
}
