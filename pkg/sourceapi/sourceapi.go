// Package sourceapi defines the contract evidence-source adapters implement
// to teach the compiler about one external source: its trust tier, recency,
// and the descriptor conventions its food entries use.
package sourceapi

import (
	"fmt"
	"sort"

	"foodcore/pkg/ontology"
)

// Tier ranks how much trust evidence from a source earns before
// record-level adjustments.
type Tier string

// Source tiers, ordered most to least trusted.
const (
	// TierAnalytical marks laboratory-analyzed composition data.
	TierAnalytical Tier = "analytical"
	// TierCurated marks expert-compiled reference tables.
	TierCurated Tier = "curated"
	// TierLabel marks manufacturer label declarations.
	TierLabel Tier = "label"
	// TierImputed marks values inferred from related foods at the source.
	TierImputed Tier = "imputed"
)

// Valid reports whether the tier belongs to the closed vocabulary.
func (t Tier) Valid() bool {
	switch t {
	case TierAnalytical, TierCurated, TierLabel, TierImputed:
		return true
	}
	return false
}

// DefaultWeight returns the base rollup weight for the tier. Builds may
// override these through rollup configuration.
func (t Tier) DefaultWeight() float64 {
	switch t {
	case TierAnalytical:
		return 1.0
	case TierCurated:
		return 0.8
	case TierLabel:
		return 0.5
	case TierImputed:
		return 0.25
	}
	return 0
}

// Descriptor registers one evidence source with the build.
type Descriptor struct {
	ID            string         `json:"id" yaml:"id"`
	DisplayName   string         `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Tier          Tier           `json:"tier" yaml:"tier"`
	PublishedYear int            `json:"published_year,omitempty" yaml:"published_year,omitempty"`
	DefaultBasis  ontology.Basis `json:"default_basis,omitempty" yaml:"default_basis,omitempty"`
}

// TransformHint maps a descriptor token onto a transform application.
type TransformHint struct {
	Transform string
	Params    map[string]any
}

// Adapter extends a source descriptor with mapper lexicon hints. Adapters
// ship with the binary (see plugins/) and register at startup; authored
// sources.yaml entries override the descriptor fields of a registered
// adapter so curators keep the last word.
type Adapter interface {
	// Descriptor returns the source registration.
	Descriptor() Descriptor
	// PartHints maps source-specific descriptor tokens to part IDs.
	PartHints() map[string]string
	// TransformHints maps source-specific descriptor tokens to transform
	// applications.
	TransformHints() map[string]TransformHint
	// MixtureMarkers lists tokens that mark an entry as a multi-ingredient
	// mixture, which the mapper never resolves to a single node.
	MixtureMarkers() []string
}

// Registry collects source adapters. Registration happens during program
// initialization and is not safe for concurrent use.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry constructs an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter, rejecting duplicate source IDs.
func (r *Registry) Register(a Adapter) error {
	desc := a.Descriptor()
	if desc.ID == "" {
		return fmt.Errorf("source adapter with empty id")
	}
	if !desc.Tier.Valid() {
		return fmt.Errorf("source adapter %q: unknown tier %q", desc.ID, desc.Tier)
	}
	if _, exists := r.adapters[desc.ID]; exists {
		return fmt.Errorf("source adapter %q already registered", desc.ID)
	}
	r.adapters[desc.ID] = a
	return nil
}

// Adapter returns the adapter registered for the source ID.
func (r *Registry) Adapter(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// Descriptors returns all registered descriptors sorted by source ID.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
