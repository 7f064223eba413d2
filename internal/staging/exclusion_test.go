package staging

import (
	"strings"
	"testing"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		exclusions []string
		want       bool
	}{
		{"no exclusions", "notes.txt", nil, false},
		{"live database always excluded", "db.sqlite3", nil, true},
		{"sqlite journal", "db.sqlite3-wal", []string{}, true},
		{"substring match", "app.log", []string{"log"}, true},
		{"substring in middle", "icon_cache_v2", []string{"cache"}, true},
		{"case sensitive", "App.LOG", []string{"log"}, false},
		{"entries are trimmed", "app.log", []string{"  log\t"}, true},
		{"no globbing", "app.log", []string{"*.log"}, false},
		{"no regex", "app.log", []string{"a.p"}, false},
		{"empty entry ignored", "notes.txt", []string{""}, false},
		{"blank entry ignored", "notes.txt", []string{"   "}, false},
		{"second entry matches", "rsa_key.pem", []string{"tmp", "rsa_key"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.filename, tt.exclusions); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.filename, tt.exclusions, got, tt.want)
			}
		})
	}
}

// Matches agrees with a direct substring check over every trimmed entry.
func TestMatchesAgreesWithSubstringDefinition(t *testing.T) {
	filenames := []string{"a.txt", "db.sqlite3", "logs", "config.json", "attachments", "x", ""}
	sets := [][]string{
		nil,
		{"log"},
		{" json ", "att"},
		{"x", "y", "z"},
		{"sqlite3"},
		{"txt", ""},
	}

	for _, f := range filenames {
		for _, set := range sets {
			want := strings.Contains(f, LiveDatabaseMarker)
			for _, e := range set {
				if e = strings.TrimSpace(e); e != "" && strings.Contains(f, e) {
					want = true
				}
			}
			if got := Matches(f, set); got != want {
				t.Errorf("Matches(%q, %q) = %v, want %v", f, set, got, want)
			}
		}
	}
}

func TestExclusionSetMatchReportsEntry(t *testing.T) {
	set := NewExclusionSet([]string{" log ", "tmp"})

	if got := set.Entries(); len(got) != 2 || got[0] != "log" {
		t.Fatalf("Entries() = %q", got)
	}

	entry, ok := set.Match("server.log")
	if !ok || entry != "log" {
		t.Errorf("Match(server.log) = %q, %v", entry, ok)
	}

	entry, ok = set.Match("db.sqlite3")
	if !ok || entry != LiveDatabaseMarker {
		t.Errorf("Match(db.sqlite3) = %q, %v", entry, ok)
	}

	if _, ok := set.Match("config.json"); ok {
		t.Error("config.json should not match")
	}
}
