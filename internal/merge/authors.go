package merge

import "dumpload/internal/parser/dump"

// AuthorRow is one row of the authors table.
type AuthorRow struct {
	AuthorID       string `json:"author_id"`
	Name           string `json:"name"`
	NormalizedName string `json:"name_normalized"`
	AlternateIDs   string `json:"alternate_id"`
}

type authorGroup struct {
	row        AuthorRow
	alternates []string
}

// AuthorGroups collects author records by normalized name. The first record
// seen for a name becomes the row; later records only contribute their ids.
// A value is owned by a single import run.
type AuthorGroups struct {
	order  []string
	groups map[string]*authorGroup
	ids    map[string]struct{}
	dups   int
}

// NewAuthorGroups returns an empty grouping.
func NewAuthorGroups() *AuthorGroups {
	return &AuthorGroups{
		groups: make(map[string]*authorGroup),
		ids:    make(map[string]struct{}),
	}
}

// Add records a. It returns false, and changes nothing, when a.AuthorID was
// already added.
func (g *AuthorGroups) Add(a dump.Author) bool {
	if _, ok := g.ids[a.AuthorID]; ok {
		g.dups++
		return false
	}
	g.ids[a.AuthorID] = struct{}{}

	grp, ok := g.groups[a.NormalizedName]
	if !ok {
		g.order = append(g.order, a.NormalizedName)
		g.groups[a.NormalizedName] = &authorGroup{row: AuthorRow{
			AuthorID:       a.AuthorID,
			Name:           a.Name,
			NormalizedName: a.NormalizedName,
		}}
		return true
	}
	grp.alternates = append(grp.alternates, a.AuthorID)
	return true
}

// Len is the number of distinct normalized names.
func (g *AuthorGroups) Len() int { return len(g.order) }

// Duplicates is the number of records dropped by Add for a repeated id.
func (g *AuthorGroups) Duplicates() int { return g.dups }

// Rows returns one row per normalized name, in order of first appearance.
func (g *AuthorGroups) Rows() []AuthorRow {
	rows := make([]AuthorRow, 0, len(g.order))
	for _, name := range g.order {
		grp := g.groups[name]
		row := grp.row
		row.AlternateIDs = JoinIDs(grp.alternates)
		rows = append(rows, row)
	}
	return rows
}
