// Package rollup aggregates mapped evidence into one nutrient profile per
// (node, nutrient) pair: unit and basis normalization, tier, recency, and
// sample-size weighting, robust outlier rejection, weighted-median
// aggregation, an energy consistency cross-check, and optional borrowing
// from related nodes when local evidence is sparse.
package rollup

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"foodcore/internal/catalog"
	"foodcore/internal/graph/closure"
	"foodcore/internal/graph/identity"
	"foodcore/pkg/nutrient"
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

// Atwater general factors, kcal per gram.
const (
	atwaterProtein      = 4
	atwaterFat          = 9
	atwaterCarbohydrate = 4
	atwaterAlcohol      = 7
)

// Sample-size boost: weight grows with log10 of the reported sample count,
// capped so a huge survey cannot drown tier weighting.
const (
	sampleBoostPerDecade = 0.25
	sampleBoostCap       = 1.5
)

// Config tunes the aggregation. Zero values take the documented defaults.
type Config struct {
	// MinSources is the number of usable local records below which a
	// profile is flagged sparse and borrowing is attempted. Default 2.
	MinSources int
	// OutlierThreshold rejects records whose modified z-score exceeds it.
	// Default 3.5.
	OutlierThreshold float64
	// MinOutlierSamples is the smallest group size the outlier pass runs
	// on. Default 4.
	MinOutlierSamples int
	// EnergyTolerancePct flags nodes whose reported energy deviates from
	// macro-derived energy by more than this percentage. Default 15.
	EnergyTolerancePct float64
	// DisableBorrowing turns the borrowing pass off.
	DisableBorrowing bool
	// MaxBorrowDistance caps how many taxon levels up a donor group may
	// sit. Default 2.
	MaxBorrowDistance int
	// BorrowDiscount multiplies donor weight once per level of distance.
	// Default 0.5.
	BorrowDiscount float64
	// RecencyDecay multiplies source weight once per year of age relative
	// to ReferenceYear. Default 0.98.
	RecencyDecay float64
	// MinRecencyFactor floors the recency decay. Default 0.5.
	MinRecencyFactor float64
	// ReferenceYear anchors recency. Zero disables recency weighting,
	// keeping the build a pure function of its inputs.
	ReferenceYear int
	// Accept100mlAs100g treats per-100ml rows as per-100g instead of
	// excluding them, for corpora dominated by water-dense foods.
	Accept100mlAs100g bool
}

func (c Config) withDefaults() Config {
	if c.MinSources <= 0 {
		c.MinSources = 2
	}
	if c.OutlierThreshold <= 0 {
		c.OutlierThreshold = 3.5
	}
	if c.MinOutlierSamples <= 0 {
		c.MinOutlierSamples = 4
	}
	if c.EnergyTolerancePct <= 0 {
		c.EnergyTolerancePct = 15
	}
	if c.MaxBorrowDistance <= 0 {
		c.MaxBorrowDistance = 2
	}
	if c.BorrowDiscount <= 0 {
		c.BorrowDiscount = 0.5
	}
	if c.RecencyDecay <= 0 {
		c.RecencyDecay = 0.98
	}
	if c.MinRecencyFactor <= 0 {
		c.MinRecencyFactor = 0.5
	}
	return c
}

// Params wires one rollup run.
type Params struct {
	Snapshot *catalog.Snapshot
	Taxa     *closure.Table
	Nodes    *identity.Index
	Mappings []ontology.EvidenceMapping
	Config   Config
	Logger   *slog.Logger
}

// Stats summarizes one rollup run.
type Stats struct {
	Pairs    int
	Direct   int
	Blended  int
	Borrowed int
	Skipped  int
	Excluded map[ontology.ExclusionReason]int
}

// Result is the rollup artifact: profiles sorted by node then nutrient.
type Result struct {
	Profiles []ontology.NutrientProfile
	Stats    Stats
}

type pairKey struct {
	nodeID     string
	nutrientID string
}

// sample is one evidence record considered for a pair, after normalization.
type sample struct {
	rec    ontology.EvidenceRecord
	amount float64
	weight float64
	used   bool
	reason ontology.ExclusionReason
}

// aggregate is the phase-one product for one pair: normalized samples and,
// when any survive, the direct weighted-median value.
type aggregate struct {
	node    ontology.CanonicalNode
	samples []sample
	usable  int
	amount  float64
}

type donor struct {
	taxonID string
	nodeID  string
	amount  float64
}

type engine struct {
	snap   *catalog.Snapshot
	taxa   *closure.Table
	nodes  *identity.Index
	cfg    Config
	logger *slog.Logger
}

// Run aggregates every (node, nutrient) pair touched by at least one
// mapped evidence record. Pairs with zero usable records and no donors get
// no profile; that is absence of evidence, not an error.
func Run(params Params) (Result, error) {
	if params.Snapshot == nil || params.Taxa == nil || params.Nodes == nil {
		return Result{}, fmt.Errorf("rollup: snapshot, closure table, and node index are required")
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &engine{
		snap:   params.Snapshot,
		taxa:   params.Taxa,
		nodes:  params.Nodes,
		cfg:    params.Config.withDefaults(),
		logger: logger,
	}

	mapped := make(map[ontology.MappingKey]string, len(params.Mappings))
	for _, m := range params.Mappings {
		if m.Mapped() {
			mapped[m.Key()] = *m.NodeID
		}
	}

	groups := make(map[pairKey][]ontology.EvidenceRecord)
	var order []pairKey
	for _, rec := range e.snap.Evidence {
		nodeID, ok := mapped[ontology.MappingKey{SourceID: rec.SourceID, ExternalFoodID: rec.ExternalFoodID}]
		if !ok {
			continue
		}
		pk := pairKey{nodeID: nodeID, nutrientID: rec.NutrientID}
		if _, seen := groups[pk]; !seen {
			order = append(order, pk)
		}
		groups[pk] = append(groups[pk], rec)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].nodeID != order[j].nodeID {
			return order[i].nodeID < order[j].nodeID
		}
		return order[i].nutrientID < order[j].nutrientID
	})

	result := Result{Stats: Stats{Pairs: len(order), Excluded: make(map[ontology.ExclusionReason]int)}}

	aggs := make(map[pairKey]*aggregate, len(order))
	for _, pk := range order {
		agg := e.build(pk, groups[pk])
		if agg == nil {
			continue
		}
		aggs[pk] = agg
		for _, s := range agg.samples {
			if !s.used {
				result.Stats.Excluded[s.reason]++
			}
		}
	}

	donorIndex := e.indexDonors(order, aggs)

	for _, pk := range order {
		agg, ok := aggs[pk]
		if !ok {
			result.Stats.Skipped++
			continue
		}
		profile, produced := e.assemble(pk, agg, donorIndex)
		if !produced {
			result.Stats.Skipped++
			continue
		}
		switch profile.Method {
		case ontology.ProfileDirect:
			result.Stats.Direct++
		case ontology.ProfileBlended:
			result.Stats.Blended++
		case ontology.ProfileBorrowed:
			result.Stats.Borrowed++
		}
		result.Profiles = append(result.Profiles, profile)
	}

	e.checkEnergy(result.Profiles)

	logger.Info("evidence rollup complete",
		"pairs", result.Stats.Pairs,
		"direct", result.Stats.Direct,
		"blended", result.Stats.Blended,
		"borrowed", result.Stats.Borrowed,
		"skipped", result.Stats.Skipped,
	)
	return result, nil
}

// build normalizes and weighs every record of one pair, rejects outliers,
// and computes the direct aggregate when any records survive.
func (e *engine) build(pk pairKey, recs []ontology.EvidenceRecord) *aggregate {
	node, ok := e.nodes.Get(pk.nodeID)
	if !ok {
		e.logger.Warn("mapped node missing from index", "node", pk.nodeID)
		return nil
	}
	agg := &aggregate{node: node, samples: make([]sample, 0, len(recs))}
	spec, known := e.snap.Nutrients.Get(pk.nutrientID)
	for _, rec := range recs {
		s := sample{rec: rec}
		switch {
		case !known:
			s.reason = ontology.ExcludedUnknownNutrient
		case !e.basisUsable(rec):
			s.reason = ontology.ExcludedUnconvertibleBasis
		default:
			amount, convertible := e.snap.Nutrients.Convert(spec, rec.Amount, rec.Unit)
			if !convertible {
				s.reason = ontology.ExcludedUnconvertibleUnit
			} else {
				s.amount = amount
				s.weight = e.weigh(rec)
				s.used = true
			}
		}
		agg.samples = append(agg.samples, s)
	}

	e.rejectOutliers(agg)

	points := make([]weightedPoint, 0, len(agg.samples))
	for _, s := range agg.samples {
		if s.used {
			points = append(points, weightedPoint{value: s.amount, weight: s.weight})
		}
	}
	agg.usable = len(points)
	if agg.usable > 0 {
		agg.amount = weightedMedian(points)
	}
	return agg
}

// basisUsable resolves the record's basis, falling back to the source's
// declared default, and reports whether it converts to the canonical
// per-100g basis.
func (e *engine) basisUsable(rec ontology.EvidenceRecord) bool {
	basis := rec.Basis
	if basis == "" {
		if desc, ok := e.snap.Source(rec.SourceID); ok {
			basis = desc.DefaultBasis
		}
	}
	switch basis {
	case ontology.BasisPer100g:
		return true
	case ontology.BasisPer100ml:
		return e.cfg.Accept100mlAs100g
	}
	return false
}

// weigh computes tier x recency x sample-size weight for one record.
func (e *engine) weigh(rec ontology.EvidenceRecord) float64 {
	tier := sourceapi.TierImputed
	var year int
	if desc, ok := e.snap.Source(rec.SourceID); ok {
		if desc.Tier.Valid() {
			tier = desc.Tier
		}
		year = desc.PublishedYear
	}
	weight := tier.DefaultWeight()

	if e.cfg.ReferenceYear > 0 && year > 0 && year < e.cfg.ReferenceYear {
		factor := math.Pow(e.cfg.RecencyDecay, float64(e.cfg.ReferenceYear-year))
		if factor < e.cfg.MinRecencyFactor {
			factor = e.cfg.MinRecencyFactor
		}
		weight *= factor
	}

	if rec.SampleN > 1 {
		boost := 1 + sampleBoostPerDecade*math.Log10(float64(rec.SampleN))
		if boost > sampleBoostCap {
			boost = sampleBoostCap
		}
		weight *= boost
	}
	return weight
}

// rejectOutliers marks used samples whose modified z-score exceeds the
// threshold. Small groups are left alone: robust deviation needs a few
// points before it means anything.
func (e *engine) rejectOutliers(agg *aggregate) {
	indexes := make([]int, 0, len(agg.samples))
	values := make([]float64, 0, len(agg.samples))
	for i, s := range agg.samples {
		if s.used {
			indexes = append(indexes, i)
			values = append(values, s.amount)
		}
	}
	if len(values) < e.cfg.MinOutlierSamples {
		return
	}
	scores := outlierScores(values)
	for at, score := range scores {
		if score > e.cfg.OutlierThreshold {
			i := indexes[at]
			agg.samples[i].used = false
			agg.samples[i].reason = ontology.ExcludedOutlier
		}
	}
}

type donorKey struct {
	suffix     string
	nutrientID string
}

// indexDonors collects every direct aggregate as a potential donor, keyed
// by the node's part+chain suffix so borrowing only crosses taxa, never
// parts or transform chains.
func (e *engine) indexDonors(order []pairKey, aggs map[pairKey]*aggregate) map[donorKey][]donor {
	index := make(map[donorKey][]donor)
	for _, pk := range order {
		agg, ok := aggs[pk]
		if !ok || agg.usable == 0 {
			continue
		}
		key := donorKey{suffix: nodeSuffix(agg.node), nutrientID: pk.nutrientID}
		index[key] = append(index[key], donor{
			taxonID: agg.node.TaxonID,
			nodeID:  agg.node.ID,
			amount:  agg.amount,
		})
	}
	// Order already follows sorted node IDs, so donor lists are
	// deterministic as built.
	return index
}

func nodeSuffix(node ontology.CanonicalNode) string {
	return strings.TrimPrefix(node.ID, node.TaxonID+"/")
}

// borrow finds the nearest ancestor level holding donor nodes for the
// pair. Donors are direct aggregates of other taxa sharing the node's part
// and chain; the first non-empty level wins.
func (e *engine) borrow(pk pairKey, agg *aggregate, index map[donorKey][]donor) ([]donor, int) {
	key := donorKey{suffix: nodeSuffix(agg.node), nutrientID: pk.nutrientID}
	candidates := index[key]
	if len(candidates) == 0 {
		return nil, 0
	}
	depth := e.taxa.Depth(agg.node.TaxonID)
	lineage := e.taxa.Lineage(agg.node.TaxonID)
	for d := 1; d <= e.cfg.MaxBorrowDistance && depth-d >= 0; d++ {
		ancestor := lineage[depth-d]
		var found []donor
		for _, cand := range candidates {
			if cand.taxonID == agg.node.TaxonID {
				continue
			}
			if e.taxa.Within(cand.taxonID, ancestor) {
				found = append(found, cand)
			}
		}
		if len(found) > 0 {
			return found, d
		}
	}
	return nil, 0
}

// assemble produces the final profile for one pair, borrowing when local
// evidence is below the minimum. It returns false when the pair ends up
// with nothing usable at all.
func (e *engine) assemble(pk pairKey, agg *aggregate, index map[donorKey][]donor) (ontology.NutrientProfile, bool) {
	points := make([]weightedPoint, 0, len(agg.samples))
	provenance := make([]ontology.ProvenanceEntry, 0, len(agg.samples))
	sources := make(map[string]struct{})
	for _, s := range agg.samples {
		provenance = append(provenance, ontology.ProvenanceEntry{
			SourceID:       s.rec.SourceID,
			ExternalFoodID: s.rec.ExternalFoodID,
			Weight:         s.weight,
			Used:           s.used,
			ReasonExcluded: s.reason,
		})
		if s.used {
			points = append(points, weightedPoint{value: s.amount, weight: s.weight})
			sources[s.rec.SourceID] = struct{}{}
		}
	}

	var donors []donor
	distance := 0
	if agg.usable < e.cfg.MinSources && !e.cfg.DisableBorrowing {
		donors, distance = e.borrow(pk, agg, index)
	}
	for _, d := range donors {
		weight := math.Pow(e.cfg.BorrowDiscount, float64(distance))
		points = append(points, weightedPoint{value: d.amount, weight: weight})
		provenance = append(provenance, ontology.ProvenanceEntry{
			SourceID:       "graph:borrow",
			ExternalFoodID: d.nodeID,
			Weight:         weight,
			Used:           true,
		})
		sources[d.nodeID] = struct{}{}
	}

	if len(points) == 0 {
		return ontology.NutrientProfile{}, false
	}

	spec, _ := e.snap.Nutrients.Get(pk.nutrientID)
	profile := ontology.NutrientProfile{
		NodeID:     pk.nodeID,
		NutrientID: pk.nutrientID,
		Amount:     weightedMedian(points),
		Unit:       spec.Unit,
		Basis:      ontology.BasisPer100g,
		NSources:   len(sources),
		Provenance: provenance,
	}
	switch {
	case agg.usable == 0:
		profile.Method = ontology.ProfileBorrowed
		profile.Flags = append(profile.Flags, ontology.FlagFullyImputed)
	case len(donors) > 0:
		profile.Method = ontology.ProfileBlended
		profile.Flags = append(profile.Flags, ontology.FlagPartiallyImputed)
	default:
		profile.Method = ontology.ProfileDirect
		if agg.usable < e.cfg.MinSources {
			profile.Flags = append(profile.Flags, ontology.FlagLowSampleCount)
		}
	}
	return profile, true
}

// checkEnergy flags nodes whose reported energy disagrees with Atwater
// macro-derived energy beyond the tolerance band. Flags, never fails.
func (e *engine) checkEnergy(profiles []ontology.NutrientProfile) {
	energyID, ok := e.snap.Nutrients.EnergyID()
	if !ok {
		return
	}
	proteinID, okP := e.snap.Nutrients.MacroID(nutrient.MacroProtein)
	fatID, okF := e.snap.Nutrients.MacroID(nutrient.MacroFat)
	carbID, okC := e.snap.Nutrients.MacroID(nutrient.MacroCarbohydrate)
	if !okP || !okF || !okC {
		return
	}
	alcoholID, hasAlcohol := e.snap.Nutrients.MacroID(nutrient.MacroAlcohol)

	byNode := make(map[string]map[string]int)
	var nodeOrder []string
	for i, p := range profiles {
		m, ok := byNode[p.NodeID]
		if !ok {
			m = make(map[string]int)
			byNode[p.NodeID] = m
			nodeOrder = append(nodeOrder, p.NodeID)
		}
		m[p.NutrientID] = i
	}

	for _, nodeID := range nodeOrder {
		byNutrient := byNode[nodeID]
		ei, ok := byNutrient[energyID]
		if !ok {
			continue
		}
		pi, okP := byNutrient[proteinID]
		fi, okF := byNutrient[fatID]
		ci, okC := byNutrient[carbID]
		if !okP || !okF || !okC {
			continue
		}
		computed := atwaterProtein*profiles[pi].Amount +
			atwaterFat*profiles[fi].Amount +
			atwaterCarbohydrate*profiles[ci].Amount
		if hasAlcohol {
			if ai, ok := byNutrient[alcoholID]; ok {
				computed += atwaterAlcohol * profiles[ai].Amount
			}
		}
		reported := profiles[ei].Amount
		denom := math.Max(reported, computed)
		if denom <= 0 {
			continue
		}
		deviation := math.Abs(reported-computed) / denom * 100
		if deviation > e.cfg.EnergyTolerancePct {
			profiles[ei].Flags = append(profiles[ei].Flags, ontology.FlagEnergyMismatch)
			e.logger.Warn("energy mismatch",
				"node", profiles[ei].NodeID,
				"reported_kcal", reported,
				"macro_kcal", computed,
			)
		}
	}
}
