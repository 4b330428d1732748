package wamp

import "strings"

// PrefixTable resolves CURIE-style `short:name` URIs registered by PREFIX
// messages (spec.md §4.3). Unknown prefixes pass through unchanged. Not
// safe for concurrent use; callers serialize access through the owning
// session's single reader goroutine.
type PrefixTable struct {
	prefixes map[string]string
}

// NewPrefixTable returns an empty table.
func NewPrefixTable() *PrefixTable {
	return &PrefixTable{prefixes: make(map[string]string)}
}

// Register associates short with fullURI, overwriting any prior mapping.
func (t *PrefixTable) Register(short, fullURI string) {
	t.prefixes[short] = fullURI
}

// Resolve splits uri on the first ':' and substitutes the left-hand side
// if it names a registered prefix. Uris without a ':', or with an
// unregistered left side, are returned unchanged.
func (t *PrefixTable) Resolve(uri string) string {
	short, rest, found := strings.Cut(uri, ":")
	if !found {
		return uri
	}
	full, ok := t.prefixes[short]
	if !ok {
		return uri
	}
	return full + rest
}
