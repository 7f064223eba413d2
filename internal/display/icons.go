package display

import "os"

// Icon represents a visual icon with Unicode and ASCII fallbacks
type Icon struct {
	Unicode string
	ASCII   string
}

var icons = map[string]Icon{
	"stage":   {Unicode: "▸", ASCII: ">"},
	"success": {Unicode: "✔", ASCII: "[OK]"},
	"error":   {Unicode: "✘", ASCII: "[ERR]"},
	"warning": {Unicode: "!", ASCII: "[WARN]"},
	"info":    {Unicode: "•", ASCII: "[INFO]"},
}

// IconSet renders named icons
type IconSet struct {
	unicode bool
	enabled bool
}

// NewIconSet creates an icon set. Unicode glyphs are used when the locale allows it.
func NewIconSet(enabled bool) IconSet {
	return IconSet{enabled: enabled, unicode: detectUnicodeSupport()}
}

func detectUnicodeSupport() bool {
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}
	term := os.Getenv("TERM")
	return term != "dumb" && term != "vt100"
}

// Render returns the icon for name, or "" when icons are disabled or unknown
func (s IconSet) Render(name string) string {
	if !s.enabled {
		return ""
	}
	icon, ok := icons[name]
	if !ok {
		return ""
	}
	if s.unicode {
		return icon.Unicode
	}
	return icon.ASCII
}
