// Package mapper resolves external food entries onto canonical nodes with
// a staged strategy: a cheap taxonomic name match first, then construction
// of a taxon+part+transform node from descriptor tokens, then handoff to
// manual curation. Unmapped entries are a legitimate terminal state kept
// for review, never an error.
package mapper

import (
	"fmt"
	"log/slog"
	"sort"

	"foodcore/internal/catalog"
	"foodcore/internal/graph/applicability"
	"foodcore/internal/graph/identity"
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

// DefaultMinConfidence is the resolution floor below which an entry is
// queued for curation instead of being mapped.
const DefaultMinConfidence = 0.6

// Stage confidence levels. Explicit part evidence in the descriptor earns
// more trust than falling back to the taxon's only applicable part.
const (
	confidenceNamePart     = 0.9
	confidenceNameDefault  = 0.75
	confidenceChainPart    = 0.8
	confidenceChainDefault = 0.7
)

// Params configures one mapper run.
type Params struct {
	Snapshot      *catalog.Snapshot
	Resolved      *applicability.Resolved
	Canonicalizer *identity.Canonicalizer

	// Nodes receives every node a resolution mints or revalidates.
	Nodes *identity.Index

	// Adapters supplies per-source descriptor hints. Optional.
	Adapters *sourceapi.Registry

	// MinConfidence overrides DefaultMinConfidence when positive.
	MinConfidence float64

	Logger *slog.Logger
}

// Stats summarizes one mapper run.
type Stats struct {
	Entries  int
	Mapped   int
	Carried  int
	Stale    int
	Unmapped map[ontology.UnmappedReason]int
}

// Result is the mapper artifact: one mapping per food entry, sorted by
// source and external ID.
type Result struct {
	Mappings []ontology.EvidenceMapping
	Stats    Stats
}

type entry struct {
	key         ontology.MappingKey
	description string
}

// sourceHints is the per-source lexicon overlay contributed by an adapter.
// Tokens are normalized at construction.
type sourceHints struct {
	parts      map[string]string
	transforms map[string]sourceapi.TransformHint
	mixture    []string
}

type resolver struct {
	resolved   *applicability.Resolved
	canon      *identity.Canonicalizer
	nodes      *identity.Index
	taxa       *lexicon
	parts      *lexicon
	transforms map[string]sourceapi.TransformHint
	floor      float64
	logger     *slog.Logger
}

// Run resolves every food entry present in the snapshot's evidence,
// honoring prior mappings: entries already resolved are revalidated against
// the rebuilt graph and carried forward, not re-resolved; prior unmapped
// entries are retried.
func Run(params Params) (Result, error) {
	if params.Snapshot == nil || params.Resolved == nil || params.Canonicalizer == nil || params.Nodes == nil {
		return Result{}, fmt.Errorf("mapper: snapshot, resolved tables, canonicalizer, and node index are required")
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	floor := params.MinConfidence
	if floor <= 0 {
		floor = DefaultMinConfidence
	}

	r := &resolver{
		resolved:   params.Resolved,
		canon:      params.Canonicalizer,
		nodes:      params.Nodes,
		taxa:       taxonLexicon(params.Snapshot),
		parts:      partLexicon(params.Snapshot),
		transforms: transformLexicon(params.Snapshot),
		floor:      floor,
		logger:     logger,
	}

	entries := collectEntries(params.Snapshot.Evidence)
	prior := make(map[ontology.MappingKey]ontology.EvidenceMapping, len(params.Snapshot.PriorMappings))
	for _, m := range params.Snapshot.PriorMappings {
		prior[m.Key()] = m
	}

	keys := make([]ontology.MappingKey, 0, len(entries)+len(prior))
	for key := range entries {
		keys = append(keys, key)
	}
	for key := range prior {
		if _, ok := entries[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SourceID != keys[j].SourceID {
			return keys[i].SourceID < keys[j].SourceID
		}
		return keys[i].ExternalFoodID < keys[j].ExternalFoodID
	})

	result := Result{Stats: Stats{Entries: len(keys), Unmapped: make(map[ontology.UnmappedReason]int)}}
	hintsBySource := make(map[string]sourceHints)
	for _, key := range keys {
		var mapping ontology.EvidenceMapping
		switch pm, hasPrior := prior[key]; {
		case hasPrior && pm.Mapped():
			carried, stale := r.revalidate(pm)
			mapping = carried
			if stale {
				result.Stats.Stale++
			} else {
				result.Stats.Carried++
			}
		case !entryPresent(entries, key):
			// Prior unmapped entry whose evidence is gone; keep it
			// visible for curation as-is.
			mapping = prior[key]
		default:
			hints, ok := hintsBySource[key.SourceID]
			if !ok {
				hints = newSourceHints(params.Adapters, key.SourceID)
				hintsBySource[key.SourceID] = hints
			}
			mapping = r.resolve(entry{key: key, description: entries[key]}, hints)
		}
		if mapping.Mapped() {
			result.Stats.Mapped++
		} else {
			result.Stats.Unmapped[mapping.Reason]++
		}
		result.Mappings = append(result.Mappings, mapping)
	}

	logger.Info("evidence mapping complete",
		"entries", result.Stats.Entries,
		"mapped", result.Stats.Mapped,
		"carried", result.Stats.Carried,
		"stale", result.Stats.Stale,
		"unmapped", result.Stats.Entries-result.Stats.Mapped,
	)
	return result, nil
}

// collectEntries groups evidence rows into food entries, keeping the first
// non-empty description in load order.
func collectEntries(records []ontology.EvidenceRecord) map[ontology.MappingKey]string {
	entries := make(map[ontology.MappingKey]string)
	for _, rec := range records {
		key := ontology.MappingKey{SourceID: rec.SourceID, ExternalFoodID: rec.ExternalFoodID}
		if desc, ok := entries[key]; !ok || (desc == "" && rec.Description != "") {
			entries[key] = rec.Description
		}
	}
	return entries
}

func entryPresent(entries map[ontology.MappingKey]string, key ontology.MappingKey) bool {
	_, ok := entries[key]
	return ok
}

func newSourceHints(registry *sourceapi.Registry, sourceID string) sourceHints {
	var hints sourceHints
	if registry == nil {
		return hints
	}
	adapter, ok := registry.Adapter(sourceID)
	if !ok {
		return hints
	}
	raw := adapter.PartHints()
	if len(raw) > 0 {
		hints.parts = make(map[string]string, len(raw))
		for token, partID := range raw {
			hints.parts[normalizePhrase(token)] = partID
		}
	}
	rawT := adapter.TransformHints()
	if len(rawT) > 0 {
		hints.transforms = make(map[string]sourceapi.TransformHint, len(rawT))
		for token, hint := range rawT {
			hints.transforms[normalizePhrase(token)] = hint
		}
	}
	for _, marker := range adapter.MixtureMarkers() {
		if norm := normalizePhrase(marker); norm != "" {
			hints.mixture = append(hints.mixture, norm)
		}
	}
	return hints
}

// resolve runs the staged strategy for one unresolved food entry.
func (r *resolver) resolve(e entry, hints sourceHints) ontology.EvidenceMapping {
	tokens := tokenize(e.description)
	if len(tokens) == 0 {
		return unmapped(e.key, ontology.UnmappedNoTaxonMatch)
	}
	scan := phrases(tokens)

	for _, marker := range hints.mixture {
		for _, phrase := range scan {
			if phrase == marker {
				return unmapped(e.key, ontology.UnmappedMixture)
			}
		}
	}

	taxonID, ambiguous := r.matchTaxon(scan)
	if taxonID == "" {
		return unmapped(e.key, ontology.UnmappedNoTaxonMatch)
	}
	if ambiguous {
		// Two different organisms in one descriptor; curation decides.
		return unmapped(e.key, ontology.UnmappedLowConfidence)
	}

	partID, explicit := r.matchPart(scan, hints)
	if partID == "" {
		applicable := r.resolved.PartsFor(taxonID)
		if len(applicable) != 1 {
			return unmapped(e.key, ontology.UnmappedLowConfidence)
		}
		partID = applicable[0]
	}

	chain := r.matchChain(scan, hints)

	node, err := r.canon.Canonicalize(taxonID, partID, chain)
	if err != nil {
		r.logger.Debug("construction rejected",
			"source", e.key.SourceID,
			"food", e.key.ExternalFoodID,
			"taxon", taxonID,
			"part", partID,
			"err", err,
		)
		return unmapped(e.key, ontology.UnmappedIllegalConstruction)
	}

	confidence := confidenceNameDefault
	method := ontology.ResolutionName
	switch {
	case len(chain) > 0 && explicit:
		confidence, method = confidenceChainPart, ontology.ResolutionConstructed
	case len(chain) > 0:
		confidence, method = confidenceChainDefault, ontology.ResolutionConstructed
	case explicit:
		confidence = confidenceNamePart
	}
	if confidence < r.floor {
		return unmapped(e.key, ontology.UnmappedLowConfidence)
	}

	r.nodes.Intern(node)
	return ontology.EvidenceMapping{
		SourceID:       e.key.SourceID,
		ExternalFoodID: e.key.ExternalFoodID,
		NodeID:         &node.ID,
		Confidence:     confidence,
		Method:         method,
	}
}

// matchTaxon returns the first taxon matched by the scan and whether a
// second, different taxon also matched.
func (r *resolver) matchTaxon(scan []string) (string, bool) {
	taxonID := ""
	for _, phrase := range scan {
		id, ok := r.taxa.lookup(phrase)
		if !ok {
			continue
		}
		if taxonID == "" {
			taxonID = id
			continue
		}
		if id != taxonID {
			return taxonID, true
		}
	}
	return taxonID, false
}

// matchPart returns the first part matched by the scan, adapter hints
// first, and whether any descriptor token named it explicitly.
func (r *resolver) matchPart(scan []string, hints sourceHints) (string, bool) {
	for _, phrase := range scan {
		if id, ok := hints.parts[phrase]; ok && id != "" {
			return id, true
		}
		if id, ok := r.parts.lookup(phrase); ok {
			return id, true
		}
	}
	return "", false
}

// matchChain collects one transform use per distinct transform named by the
// scan, adapter hints first so source conventions can carry parameters.
func (r *resolver) matchChain(scan []string, hints sourceHints) []ontology.TransformUse {
	var chain []ontology.TransformUse
	seen := make(map[string]struct{})
	for _, phrase := range scan {
		hint, ok := hints.transforms[phrase]
		if !ok {
			hint, ok = r.transforms[phrase]
		}
		if !ok || hint.Transform == "" {
			continue
		}
		if _, dup := seen[hint.Transform]; dup {
			continue
		}
		seen[hint.Transform] = struct{}{}
		chain = append(chain, ontology.TransformUse{Transform: hint.Transform, Params: hint.Params})
	}
	return chain
}

// revalidate re-canonicalizes a prior resolution against the rebuilt graph.
// Any parse or legality failure demotes the mapping to stale.
func (r *resolver) revalidate(pm ontology.EvidenceMapping) (ontology.EvidenceMapping, bool) {
	taxonID, partID, chain, err := r.canon.Parse(*pm.NodeID)
	if err == nil {
		var node ontology.CanonicalNode
		if node, err = r.canon.Canonicalize(taxonID, partID, chain); err == nil {
			r.nodes.Intern(node)
			pm.NodeID = &node.ID
			pm.Reason = ""
			return pm, false
		}
	}
	r.logger.Debug("prior mapping went stale",
		"source", pm.SourceID,
		"food", pm.ExternalFoodID,
		"node", *pm.NodeID,
		"err", err,
	)
	return unmapped(pm.Key(), ontology.UnmappedStaleNode), true
}

func unmapped(key ontology.MappingKey, reason ontology.UnmappedReason) ontology.EvidenceMapping {
	return ontology.EvidenceMapping{
		SourceID:       key.SourceID,
		ExternalFoodID: key.ExternalFoodID,
		Reason:         reason,
	}
}
