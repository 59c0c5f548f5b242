package mapper

import (
	"sort"
	"strings"

	"foodcore/internal/catalog"
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

// maxPhrase bounds the n-gram length scanned against a lexicon. Catalog
// aliases longer than three words do not occur in practice.
const maxPhrase = 3

// lexicon maps normalized descriptor phrases onto catalog IDs. An alias
// claimed by two different IDs is ambiguous and never matches.
type lexicon struct {
	entries map[string]lexEntry
}

type lexEntry struct {
	id        string
	ambiguous bool
}

func newLexicon() *lexicon {
	return &lexicon{entries: make(map[string]lexEntry)}
}

func (l *lexicon) add(alias, id string) {
	norm := normalizePhrase(alias)
	if norm == "" {
		return
	}
	entry, ok := l.entries[norm]
	if ok && entry.id != id {
		entry.ambiguous = true
		l.entries[norm] = entry
		return
	}
	l.entries[norm] = lexEntry{id: id}
}

func (l *lexicon) lookup(phrase string) (string, bool) {
	entry, ok := l.entries[phrase]
	if !ok || entry.ambiguous {
		return "", false
	}
	return entry.id, true
}

// normalizePhrase lower-cases a phrase and collapses every non-alphanumeric
// run into a single space, so "Milk, whole (3.25%)" and "milk whole 3 25"
// tokenize identically.
func normalizePhrase(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		alnum := r >= 'a' && r <= 'z' || r >= '0' && r <= '9'
		if alnum {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func tokenize(s string) []string {
	norm := normalizePhrase(s)
	if norm == "" {
		return nil
	}
	return strings.Split(norm, " ")
}

// phrases yields every n-gram of the token list, longest first, earliest
// first, which makes longest-match-wins scanning deterministic.
func phrases(tokens []string) []string {
	var out []string
	for n := maxPhrase; n >= 1; n-- {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// taxonLexicon indexes display names, latin names, aliases, and leaf ID
// segments of every taxon.
func taxonLexicon(snap *catalog.Snapshot) *lexicon {
	lex := newLexicon()
	for _, id := range sortedIDs(snap.Taxa) {
		taxon := snap.Taxa[id]
		lex.add(taxon.DisplayName, id)
		lex.add(taxon.LatinName, id)
		lex.add(ontology.LeafSegment(id), id)
		for _, alias := range taxon.Aliases {
			lex.add(alias, id)
		}
	}
	return lex
}

// partLexicon indexes part IDs, display names, and aliases.
func partLexicon(snap *catalog.Snapshot) *lexicon {
	lex := newLexicon()
	for _, id := range sortedIDs(snap.Parts) {
		part := snap.Parts[id]
		lex.add(part.ID, id)
		lex.add(part.DisplayName, id)
		for _, alias := range part.Aliases {
			lex.add(alias, id)
		}
	}
	return lex
}

// transformLexicon indexes transform IDs and aliases as parameter-free
// hints.
func transformLexicon(snap *catalog.Snapshot) map[string]sourceapi.TransformHint {
	hints := make(map[string]sourceapi.TransformHint)
	claim := func(token string, hint sourceapi.TransformHint) {
		norm := normalizePhrase(token)
		if norm == "" {
			return
		}
		if prior, ok := hints[norm]; ok && prior.Transform != hint.Transform {
			// Ambiguous tokens never match; tombstone the entry.
			hints[norm] = sourceapi.TransformHint{}
			return
		}
		hints[norm] = hint
	}
	for _, id := range sortedIDs(snap.Transforms) {
		transform := snap.Transforms[id]
		claim(transform.ID, sourceapi.TransformHint{Transform: id})
		for _, alias := range transform.Aliases {
			claim(alias, sourceapi.TransformHint{Transform: id})
		}
	}
	return hints
}
