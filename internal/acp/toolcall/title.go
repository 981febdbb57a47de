package toolcall

import "strings"

var kindVerbs = map[string]string{
	"read":        "Reading",
	"edit":        "Editing",
	"delete":      "Deleting",
	"move":        "Moving",
	"search":      "Searching",
	"execute":     "Running command",
	"think":       "Thinking",
	"fetch":       "Fetching",
	"switch_mode": "Switching mode",
}

// resolveTitle shortens an agent-supplied title or synthesizes one from the
// kind and first location.
func resolveTitle(title, kind string, locations []string) string {
	if title != "" {
		return shortenTitle(title)
	}
	if kind == "" && len(locations) == 0 {
		return "Working..."
	}
	return generateTitle(kind, locations)
}

func generateTitle(kind string, locations []string) string {
	verb, ok := kindVerbs[kind]
	if !ok {
		verb = "Working"
	}
	if len(locations) > 0 {
		return verb + " " + baseName(locations[0])
	}
	return verb + "..."
}

// shortenTitle replaces absolute-path words ("/a/b/c") with their last
// component. Whitespace runs collapse to single spaces.
func shortenTitle(title string) string {
	words := strings.Fields(title)
	for i, w := range words {
		if strings.HasPrefix(w, "/") && strings.Contains(w[1:], "/") {
			words[i] = baseName(w)
		}
	}
	return strings.Join(words, " ")
}

// baseName returns the text after the last "/".
func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
