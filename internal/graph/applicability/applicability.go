// Package applicability resolves which parts attach to which taxa, and
// which transforms attach to which (taxon, part) pairings, from the loaded
// prefix rules and materialization policy.
package applicability

import (
	"fmt"
	"sort"

	"foodcore/internal/catalog"
	"foodcore/internal/graph/closure"
	"foodcore/pkg/ontology"
)

// prefixScope is one compiled inclusion or exclusion entry. A nil parts set
// means the entry covers every part on the taxon.
type prefixScope struct {
	prefix string
	parts  map[string]struct{}
}

func (s prefixScope) coversPart(partID string) bool {
	if s.parts == nil {
		return true
	}
	_, ok := s.parts[partID]
	return ok
}

// target merges every rule naming the same part or transform. Inclusion and
// exclusion entries are evaluated together so that an exclusion from any
// rule wins over an inclusion from any other.
type target struct {
	include []prefixScope
	exclude []prefixScope
}

// Pair is one materialized (taxon, part) pairing.
type Pair struct {
	TaxonID string
	PartID  string
}

// Resolved holds the applicability tables for one build. All slices returned
// by its accessors are shared; callers must not modify them.
type Resolved struct {
	taxa *closure.Table

	materialized []string
	isMaterial   map[string]struct{}

	parts      map[string][]string
	transforms map[string]map[string][]string
	pairs      []Pair

	bindings int
}

// Resolve computes the applicability tables from a validated snapshot and
// its taxon closure table. It walks materialized taxa once, testing each
// compiled rule scope with constant-time closure interval checks.
func Resolve(snap *catalog.Snapshot, taxa *closure.Table) (*Resolved, error) {
	if snap == nil || taxa == nil {
		return nil, fmt.Errorf("applicability: snapshot and closure table are required")
	}

	partTargets, partOrder := compile(snap.PartRules)
	transformTargets, transformOrder := compile(snap.TransformRules)

	r := &Resolved{
		taxa:       taxa,
		isMaterial: make(map[string]struct{}),
		parts:      make(map[string][]string),
		transforms: make(map[string]map[string][]string),
	}

	policy := snap.Policy
	for _, taxonID := range taxa.IDs() {
		taxon, ok := snap.Taxon(taxonID)
		if !ok {
			return nil, fmt.Errorf("applicability: taxon %q present in closure but not in snapshot", taxonID)
		}
		material := policy.Allowed(taxonID) ||
			(taxa.IsLeaf(taxonID) && policy.RankMaterializes(taxon.Rank))
		if !material {
			continue
		}
		r.materialized = append(r.materialized, taxonID)
		r.isMaterial[taxonID] = struct{}{}

		var parts []string
		for _, partID := range partOrder {
			if policy.Blocked(taxonID, partID) {
				continue
			}
			if !r.applies(taxonID, partID, partTargets[partID]) {
				continue
			}
			parts = append(parts, partID)
		}
		if len(parts) == 0 {
			continue
		}
		r.parts[taxonID] = parts

		byPart := make(map[string][]string, len(parts))
		for _, partID := range parts {
			r.pairs = append(r.pairs, Pair{TaxonID: taxonID, PartID: partID})
			var transforms []string
			for _, transformID := range transformOrder {
				if !r.applies(taxonID, partID, transformTargets[transformID]) {
					continue
				}
				transforms = append(transforms, transformID)
			}
			if len(transforms) > 0 {
				byPart[partID] = transforms
				r.bindings += len(transforms)
			}
		}
		if len(byPart) > 0 {
			r.transforms[taxonID] = byPart
		}
	}
	return r, nil
}

// compile groups rules by target and returns the merged scope sets plus the
// sorted target order used for deterministic output.
func compile(rules []ontology.ApplicabilityRule) (map[string]*target, []string) {
	targets := make(map[string]*target)
	for _, rule := range rules {
		t := targets[rule.Target]
		if t == nil {
			t = &target{}
			targets[rule.Target] = t
		}
		parts := partSet(rule.Parts)
		for _, prefix := range rule.AppliesTo {
			t.include = append(t.include, prefixScope{prefix: prefix, parts: parts})
		}
		for _, prefix := range rule.Exclude {
			t.exclude = append(t.exclude, prefixScope{prefix: prefix, parts: parts})
		}
	}
	order := make([]string, 0, len(targets))
	for id := range targets {
		order = append(order, id)
	}
	sort.Strings(order)
	return targets, order
}

func partSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// applies reports whether the target covers the pairing: at least one
// inclusion scope matches and no exclusion scope does. Exclusions win
// regardless of how specific the matching inclusion is.
func (r *Resolved) applies(taxonID, partID string, t *target) bool {
	if t == nil {
		return false
	}
	included := false
	for _, scope := range t.include {
		if scope.coversPart(partID) && r.covers(taxonID, scope.prefix) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, scope := range t.exclude {
		if scope.coversPart(partID) && r.covers(taxonID, scope.prefix) {
			return false
		}
	}
	return true
}

// covers reports whether prefix is an ancestor-or-self of taxonID. Lineage
// IDs make every valid scope prefix a taxon in its own right, so a prefix
// absent from the tree matches nothing.
func (r *Resolved) covers(taxonID, prefix string) bool {
	if !r.taxa.Contains(prefix) {
		return false
	}
	return r.taxa.Within(taxonID, prefix)
}

// Materialized returns the materialized taxa in closure pre-order.
func (r *Resolved) Materialized() []string {
	return r.materialized
}

// IsMaterialized reports whether the taxon materializes canonical nodes.
func (r *Resolved) IsMaterialized(taxonID string) bool {
	_, ok := r.isMaterial[taxonID]
	return ok
}

// PartsFor returns the applicable part IDs for a materialized taxon, sorted,
// or nil when none apply.
func (r *Resolved) PartsFor(taxonID string) []string {
	return r.parts[taxonID]
}

// TransformsFor returns the applicable transform IDs for a pairing, sorted,
// or nil when none apply.
func (r *Resolved) TransformsFor(taxonID, partID string) []string {
	return r.transforms[taxonID][partID]
}

// PartApplies reports whether the part attaches to the taxon.
func (r *Resolved) PartApplies(taxonID, partID string) bool {
	for _, id := range r.parts[taxonID] {
		if id == partID {
			return true
		}
	}
	return false
}

// TransformApplies reports whether the transform attaches to the pairing.
func (r *Resolved) TransformApplies(taxonID, partID, transformID string) bool {
	for _, id := range r.transforms[taxonID][partID] {
		if id == transformID {
			return true
		}
	}
	return false
}

// Pairs returns every materialized (taxon, part) pairing in deterministic
// order: taxa in closure pre-order, parts sorted within each taxon.
func (r *Resolved) Pairs() []Pair {
	return r.pairs
}

// Bindings returns the total number of (taxon, part, transform) attachments.
func (r *Resolved) Bindings() int {
	return r.bindings
}
