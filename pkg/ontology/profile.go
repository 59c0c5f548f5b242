package ontology

// ProfileMethod records how a profile value was produced.
type ProfileMethod string

// Profile aggregation methods.
const (
	// ProfileDirect is a weighted median over locally mapped records.
	ProfileDirect ProfileMethod = "direct"
	// ProfileBlended combines local records with borrowed ancestor or
	// sibling profiles at discounted weight.
	ProfileBlended ProfileMethod = "blended"
	// ProfileBorrowed carries no local records at all.
	ProfileBorrowed ProfileMethod = "borrowed"
)

// ProfileFlag marks a caveat on a profile value.
type ProfileFlag string

// Profile flags surfaced to consumers.
const (
	// FlagLowSampleCount marks a profile built from fewer local records
	// than the configured minimum.
	FlagLowSampleCount ProfileFlag = "low_sample_count"
	// FlagEnergyMismatch marks a node whose reported energy disagrees with
	// macro-derived energy beyond the tolerance band.
	FlagEnergyMismatch ProfileFlag = "energy_mismatch"
	// FlagPartiallyImputed marks a blended profile.
	FlagPartiallyImputed ProfileFlag = "partially_imputed"
	// FlagFullyImputed marks a fully borrowed profile.
	FlagFullyImputed ProfileFlag = "fully_imputed"
)

// ExclusionReason explains why a contributing record was left out of a
// profile value. Excluded records stay visible through provenance.
type ExclusionReason string

// Closed exclusion reason vocabulary.
const (
	ExcludedOutlier            ExclusionReason = "outlier"
	ExcludedUnconvertibleUnit  ExclusionReason = "unconvertible_unit"
	ExcludedUnconvertibleBasis ExclusionReason = "unconvertible_basis"
	ExcludedUnknownNutrient    ExclusionReason = "unknown_nutrient"
)

// ProvenanceEntry names one evidence record considered for a profile and
// whether it was used.
type ProvenanceEntry struct {
	SourceID       string          `json:"source_id"`
	ExternalFoodID string          `json:"external_food_id"`
	Weight         float64         `json:"weight"`
	Used           bool            `json:"used"`
	ReasonExcluded ExclusionReason `json:"reason_excluded,omitempty"`
}

// NutrientProfile is the aggregated value for one (node, nutrient) pair.
// Amounts are expressed in the nutrient's canonical unit and basis. A pair
// with zero usable records has no profile at all.
type NutrientProfile struct {
	NodeID     string            `json:"node_id"`
	NutrientID string            `json:"nutrient_id"`
	Amount     float64           `json:"amount"`
	Unit       string            `json:"unit"`
	Basis      Basis             `json:"basis"`
	Method     ProfileMethod     `json:"method"`
	NSources   int               `json:"n_sources"`
	Flags      []ProfileFlag     `json:"flags,omitempty"`
	Provenance []ProvenanceEntry `json:"provenance,omitempty"`
}

// HasFlag reports whether the profile carries the given flag.
func (p NutrientProfile) HasFlag(flag ProfileFlag) bool {
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
