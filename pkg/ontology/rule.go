package ontology

// ApplicabilityRule attaches a part or transform to every taxon matching at
// least one AppliesTo lineage prefix and no Exclude prefix. Exclusions win
// over inclusions regardless of specificity or declaration order. For
// transform rules, Parts narrows the pairing to the named parts; when empty
// the transform attaches to every part already applicable on the taxon.
type ApplicabilityRule struct {
	Target    string    `json:"part_or_transform_id" yaml:"part_or_transform_id"`
	AppliesTo []string  `json:"applies_to" yaml:"applies_to"`
	Exclude   []string  `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Parts     []string  `json:"parts,omitempty" yaml:"parts,omitempty"`
	Source    SourceRef `json:"-" yaml:"-"`
}

// BlockedPairing suppresses one (taxon, part) pairing that the default
// materialization policy would otherwise produce.
type BlockedPairing struct {
	Taxon string `json:"taxon" yaml:"taxon"`
	Part  string `json:"part" yaml:"part"`
}

// MaterializationPolicy decides which applicability pairings become real
// canonical nodes. By default only leaf taxa at the listed ranks
// materialize; Allow names non-leaf taxa that materialize anyway, Block
// suppresses individual pairings.
type MaterializationPolicy struct {
	Ranks []Rank           `json:"materialize_ranks" yaml:"materialize_ranks"`
	Allow []string         `json:"allow,omitempty" yaml:"allow,omitempty"`
	Block []BlockedPairing `json:"block,omitempty" yaml:"block,omitempty"`
}

// DefaultMaterializationPolicy materializes leaf taxa at species rank and
// below, with no exceptions.
func DefaultMaterializationPolicy() MaterializationPolicy {
	return MaterializationPolicy{
		Ranks: []Rank{RankSpecies, RankSubspecies, RankVariety, RankBreed},
	}
}

// RankMaterializes reports whether the policy materializes leaves of the
// given rank.
func (p MaterializationPolicy) RankMaterializes(r Rank) bool {
	for _, rank := range p.Ranks {
		if rank == r {
			return true
		}
	}
	return false
}

// Allowed reports whether the taxon is an explicit non-leaf materialization
// exception.
func (p MaterializationPolicy) Allowed(taxonID string) bool {
	for _, id := range p.Allow {
		if id == taxonID {
			return true
		}
	}
	return false
}

// Blocked reports whether the (taxon, part) pairing is suppressed.
func (p MaterializationPolicy) Blocked(taxonID, partID string) bool {
	for _, b := range p.Block {
		if b.Taxon == taxonID && b.Part == partID {
			return true
		}
	}
	return false
}
