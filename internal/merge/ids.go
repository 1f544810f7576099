package merge

import "strings"

// IDSeparator joins alternate ids on disk.
const IDSeparator = ","

// ContainsID reports whether id is an element of the comma-joined list.
// Matching is on whole elements, so "OL1W" is not found in "OL11W".
func ContainsID(list, id string) bool {
	if list == "" || id == "" {
		return false
	}
	return strings.Contains(IDSeparator+list+IDSeparator, IDSeparator+id+IDSeparator)
}

// AppendID adds id to the end of list.
func AppendID(list, id string) string {
	if list == "" {
		return id
	}
	return list + IDSeparator + id
}

// JoinIDs joins ids into the on-disk list.
func JoinIDs(ids []string) string {
	return strings.Join(ids, IDSeparator)
}
