package ontology

// Basis declares the reference quantity an evidence amount is expressed
// against.
type Basis string

// Closed basis vocabulary.
const (
	BasisPer100g    Basis = "per_100g"
	BasisPer100ml   Basis = "per_100ml"
	BasisPerServing Basis = "per_serving"
)

// Valid reports whether the basis belongs to the closed vocabulary.
func (b Basis) Valid() bool {
	switch b {
	case BasisPer100g, BasisPer100ml, BasisPerServing:
		return true
	}
	return false
}

// Derivation records how an evidence value was obtained at the source.
type Derivation string

// Closed derivation vocabulary.
const (
	DerivationMeasured   Derivation = "measured"
	DerivationCalculated Derivation = "calculated"
	DerivationLabel      Derivation = "label"
	DerivationImputed    Derivation = "imputed"
)

// Valid reports whether the derivation belongs to the closed vocabulary.
func (d Derivation) Valid() bool {
	switch d {
	case DerivationMeasured, DerivationCalculated, DerivationLabel, DerivationImputed:
		return true
	}
	return false
}

// EvidenceRecord is one externally sourced (food, nutrient) measurement.
// Records are immutable once ingested; SampleN is zero when the source did
// not report a sample size.
type EvidenceRecord struct {
	SourceID       string     `json:"source_id"`
	ExternalFoodID string     `json:"external_food_id"`
	Description    string     `json:"description,omitempty"`
	NutrientID     string     `json:"nutrient_id"`
	Amount         float64    `json:"amount"`
	Unit           string     `json:"unit"`
	Basis          Basis      `json:"basis"`
	Derivation     Derivation `json:"derivation"`
	SampleN        int        `json:"sample_n,omitempty"`
}

// ResolutionMethod records which mapper stage produced a mapping.
type ResolutionMethod string

// Resolution methods, ordered by increasing cost.
const (
	// ResolutionName is a direct taxonomic-name match to a TP node.
	ResolutionName ResolutionMethod = "name_match"
	// ResolutionConstructed is a TP/TPT built from descriptor tokens.
	ResolutionConstructed ResolutionMethod = "constructed"
	// ResolutionManual is a curator-supplied mapping.
	ResolutionManual ResolutionMethod = "manual"
)

// UnmappedReason explains why a food entry stayed unmapped.
type UnmappedReason string

// Closed unmapped reason vocabulary.
const (
	// UnmappedMixture marks an entry recognized as a multi-ingredient
	// mixture, which can never resolve to a single node.
	UnmappedMixture UnmappedReason = "mixture"
	// UnmappedNoTaxonMatch marks an entry whose description matched no
	// taxon alias.
	UnmappedNoTaxonMatch UnmappedReason = "no_taxon_match"
	// UnmappedIllegalConstruction marks an entry whose inferred part or
	// chain is not legal for the matched taxon.
	UnmappedIllegalConstruction UnmappedReason = "illegal_construction"
	// UnmappedLowConfidence marks an entry resolved below the confidence
	// floor and queued for curation.
	UnmappedLowConfidence UnmappedReason = "low_confidence"
	// UnmappedStaleNode marks a prior mapping whose node no longer exists
	// in the rebuilt graph.
	UnmappedStaleNode UnmappedReason = "stale_node"
)

// EvidenceMapping links one external food entry to a canonical node. NodeID
// is nil while the entry is unmapped, which is a legitimate terminal state
// surfaced for curation rather than an error.
type EvidenceMapping struct {
	SourceID       string           `json:"source_id"`
	ExternalFoodID string           `json:"external_food_id"`
	NodeID         *string          `json:"node_id"`
	Confidence     float64          `json:"confidence"`
	Method         ResolutionMethod `json:"method,omitempty"`
	Reason         UnmappedReason   `json:"reason,omitempty"`
}

// Mapped reports whether the mapping points at a node.
func (m EvidenceMapping) Mapped() bool { return m.NodeID != nil && *m.NodeID != "" }

// MappingKey identifies a food entry across evidence and mapping tables.
type MappingKey struct {
	SourceID       string
	ExternalFoodID string
}

// Key returns the mapping's identity across builds.
func (m EvidenceMapping) Key() MappingKey {
	return MappingKey{SourceID: m.SourceID, ExternalFoodID: m.ExternalFoodID}
}
