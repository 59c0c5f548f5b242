package ontology

// PartKind classifies how a part relates to the organism that yields it.
type PartKind string

// Closed part kind vocabulary.
const (
	// PartAnatomical marks a physical tissue or organ (muscle, leaf, root).
	PartAnatomical PartKind = "anatomical"
	// PartSecreted marks a substance produced by the organism (milk, honey).
	PartSecreted PartKind = "secreted"
	// PartFraction marks a separable component of another part (cream, bran).
	PartFraction PartKind = "fraction"
	// PartDerived marks a substrate produced from another part by
	// part-changing transforms (butter, flour).
	PartDerived PartKind = "derived"
)

// Valid reports whether the kind belongs to the closed vocabulary.
func (k PartKind) Valid() bool {
	switch k {
	case PartAnatomical, PartSecreted, PartFraction, PartDerived:
		return true
	}
	return false
}

// Part is a reusable substrate attachable to taxa through applicability
// rules. Derived parts declare ProtoPath, the minimal sequence of
// part-changing transforms that produces them; the loader rejects proto
// paths that reference identity-bearing transforms.
type Part struct {
	ID          string   `json:"id" yaml:"id"`
	Kind        PartKind `json:"kind" yaml:"kind"`
	ParentID    string   `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	DisplayName string   `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	ProtoPath   []string `json:"proto_path,omitempty" yaml:"proto_path,omitempty"`
	Byproducts  []string `json:"byproducts,omitempty" yaml:"byproducts,omitempty"`
}
