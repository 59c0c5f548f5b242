package ontology

// NodeKind distinguishes plain taxon+part nodes from nodes carrying an
// identity transform chain.
type NodeKind string

// Canonical node kinds.
const (
	// NodeTP is a taxon+part node with an empty transform chain.
	NodeTP NodeKind = "tp"
	// NodeTPT is a taxon+part node with a non-empty identity chain.
	NodeTPT NodeKind = "tpt"
)

// Param is one normalized identity parameter of a chain step. Values are
// canonical string forms (lower-cased tokens, minimal number formatting)
// and steps keep their params sorted by key.
type Param struct {
	Key   string `json:"k"`
	Value string `json:"v"`
}

// ChainStep is one normalized step of an identity transform chain.
type ChainStep struct {
	Transform string  `json:"transform"`
	Params    []Param `json:"params,omitempty"`
}

// CanonicalNode is a derived graph node. The ID is the canonical path and is
// a pure function of (taxon, part, normalized chain); Hash is a fixed-size
// content hash over the ID kept for compact joins and disambiguation. Nodes
// are recomputed every build and never authored or edited.
type CanonicalNode struct {
	ID      string      `json:"id"`
	Hash    string      `json:"identity_hash"`
	TaxonID string      `json:"taxon_id"`
	PartID  string      `json:"part_id"`
	Rank    Rank        `json:"rank"`
	Kind    NodeKind    `json:"kind"`
	Chain   []ChainStep `json:"chain,omitempty"`
}
