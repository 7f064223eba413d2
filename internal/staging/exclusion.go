package staging

import "strings"

// LiveDatabaseMarker is always excluded so the live SQLite file and its
// journals are never copied next to the dump.
const LiveDatabaseMarker = "sqlite3"

// ExclusionSet is an ordered list of case-sensitive filename substrings
type ExclusionSet struct {
	entries []string
}

// NewExclusionSet trims each entry and drops the ones that end up empty.
// An empty entry would otherwise match every filename.
func NewExclusionSet(entries []string) ExclusionSet {
	set := ExclusionSet{entries: make([]string, 0, len(entries))}
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			set.entries = append(set.entries, e)
		}
	}
	return set
}

// Entries returns the user-supplied entries after trimming
func (s ExclusionSet) Entries() []string {
	return append([]string(nil), s.entries...)
}

// Match returns the first entry contained in filename.
// The live database marker is checked first.
func (s ExclusionSet) Match(filename string) (string, bool) {
	if strings.Contains(filename, LiveDatabaseMarker) {
		return LiveDatabaseMarker, true
	}
	for _, e := range s.entries {
		if strings.Contains(filename, e) {
			return e, true
		}
	}
	return "", false
}

// Matches reports whether filename contains the live database marker or any
// trimmed, non-empty entry of exclusions.
func Matches(filename string, exclusions []string) bool {
	_, ok := NewExclusionSet(exclusions).Match(filename)
	return ok
}
