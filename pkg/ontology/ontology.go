// Package ontology defines the source-of-truth record types, derived node
// and profile types, and validation primitives used by the foodcore
// compiler.
package ontology

import "strings"

// EntityKind identifies the kind of record a diagnostic refers to.
type EntityKind string

// Supported entity kind identifiers used in diagnostics and reports.
const (
	// EntityTaxon identifies a taxon lineage record.
	EntityTaxon EntityKind = "taxon"
	// EntityPart identifies a part catalog record.
	EntityPart EntityKind = "part"
	// EntityTransform identifies a transform catalog record.
	EntityTransform EntityKind = "transform"
	// EntityRule identifies an applicability rule record.
	EntityRule EntityKind = "rule"
	// EntityPolicy identifies the materialization policy document.
	EntityPolicy EntityKind = "policy"
	// EntityNutrient identifies a nutrient registry record.
	EntityNutrient EntityKind = "nutrient"
	// EntitySource identifies an evidence source descriptor.
	EntitySource EntityKind = "source"
	// EntityEvidence identifies an evidence record.
	EntityEvidence EntityKind = "evidence"
	// EntityMapping identifies an evidence-to-node mapping record.
	EntityMapping EntityKind = "mapping"
)

// Rank constrains the taxonomic level of a taxon record.
type Rank string

// Canonical rank vocabulary, ordered root-most to leaf-most.
const (
	RankKingdom    Rank = "kingdom"
	RankPhylum     Rank = "phylum"
	RankClass      Rank = "class"
	RankOrder      Rank = "order"
	RankFamily     Rank = "family"
	RankGenus      Rank = "genus"
	RankSpecies    Rank = "species"
	RankSubspecies Rank = "subspecies"
	RankVariety    Rank = "variety"
	RankBreed      Rank = "breed"
)

// Valid reports whether the rank belongs to the closed vocabulary.
func (r Rank) Valid() bool {
	switch r {
	case RankKingdom, RankPhylum, RankClass, RankOrder, RankFamily,
		RankGenus, RankSpecies, RankSubspecies, RankVariety, RankBreed:
		return true
	}
	return false
}

// Taxon is a node in the strict lineage tree. The ID is the colon-delimited
// lineage path from the root; it is immutable once published, so renames go
// to DisplayName or Aliases, never the ID.
type Taxon struct {
	ID          string   `json:"id" yaml:"id"`
	Parent      string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Rank        Rank     `json:"rank" yaml:"rank"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	LatinName   string   `json:"latin_name,omitempty" yaml:"latin_name,omitempty"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// IsRoot reports whether the taxon has no parent.
func (t Taxon) IsRoot() bool { return t.Parent == "" }

// LeafSegment returns the final segment of a lineage path.
func LeafSegment(id string) string {
	if idx := strings.LastIndexByte(id, ':'); idx >= 0 {
		return id[idx+1:]
	}
	return id
}

// ParentPath returns the lineage path with the final segment removed, or the
// empty string for a single-segment path.
func ParentPath(id string) string {
	if idx := strings.LastIndexByte(id, ':'); idx >= 0 {
		return id[:idx]
	}
	return ""
}

// WithinScope reports whether id falls under the given lineage prefix.
// Matching is segment-aware: "animalia:chordata" covers itself and
// "animalia:chordata:mammalia" but never "animalia:chordataforms".
func WithinScope(id, prefix string) bool {
	if prefix == "" {
		return false
	}
	if id == prefix {
		return true
	}
	return strings.HasPrefix(id, prefix+":")
}
