package mapper

import (
	"log/slog"
	"sort"
	"testing"

	"foodcore/internal/catalog"
	"foodcore/internal/graph/applicability"
	"foodcore/internal/graph/closure"
	"foodcore/internal/graph/identity"
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

const (
	mammalia = "animalia:chordata:mammalia"
	bovidae  = mammalia + ":bovidae"
	cattle   = bovidae + ":cattle"
	goat     = bovidae + ":goat"
	wheat    = "plantae:poaceae:wheat"
)

type testAdapter struct {
	desc       sourceapi.Descriptor
	parts      map[string]string
	transforms map[string]sourceapi.TransformHint
	mixture    []string
}

func (a testAdapter) Descriptor() sourceapi.Descriptor { return a.desc }

func (a testAdapter) PartHints() map[string]string { return a.parts }

func (a testAdapter) TransformHints() map[string]sourceapi.TransformHint { return a.transforms }

func (a testAdapter) MixtureMarkers() []string { return a.mixture }

func f64(v float64) *float64 { return &v }

func fixture(t *testing.T) (*catalog.Snapshot, Params) {
	t.Helper()
	taxa := []ontology.Taxon{
		{ID: "animalia", Rank: ontology.RankKingdom},
		{ID: "animalia:chordata", Parent: "animalia", Rank: ontology.RankPhylum},
		{ID: mammalia, Parent: "animalia:chordata", Rank: ontology.RankClass},
		{ID: bovidae, Parent: mammalia, Rank: ontology.RankFamily},
		{ID: cattle, Parent: bovidae, Rank: ontology.RankSpecies, DisplayName: "Cattle", LatinName: "Bos taurus", Aliases: []string{"cow"}},
		{ID: goat, Parent: bovidae, Rank: ontology.RankSpecies, DisplayName: "Goat"},
		{ID: "plantae", Rank: ontology.RankKingdom},
		{ID: "plantae:poaceae", Parent: "plantae", Rank: ontology.RankFamily},
		{ID: wheat, Parent: "plantae:poaceae", Rank: ontology.RankSpecies, DisplayName: "Wheat"},
	}
	nodes := make([]closure.Node, len(taxa))
	byID := make(map[string]ontology.Taxon, len(taxa))
	for i, taxon := range taxa {
		nodes[i] = closure.Node{ID: taxon.ID, Parent: taxon.Parent}
		byID[taxon.ID] = taxon
	}
	table, err := closure.Build(nodes)
	if err != nil {
		t.Fatalf("closure: %v", err)
	}

	snap := &catalog.Snapshot{
		Taxa: byID,
		Parts: map[string]ontology.Part{
			"milk":   {ID: "milk", Kind: ontology.PartSecreted},
			"muscle": {ID: "muscle", Kind: ontology.PartAnatomical, Aliases: []string{"meat"}},
			"grain":  {ID: "grain", Kind: ontology.PartAnatomical},
		},
		Transforms: map[string]ontology.Transform{
			"ferment": {ID: "ferment", Identity: true, Order: 10, Aliases: []string{"fermented", "cultured"}, Params: []ontology.ParamSpec{
				{Key: "starter", Kind: ontology.ParamEnum, Enum: []string{"yogurt_culture", "kefir_grains"}, Identity: true},
			}},
			"strain": {ID: "strain", Identity: true, Order: 20, Aliases: []string{"strained"}, Params: []ontology.ParamSpec{
				{Key: "target_ts_pct", Kind: ontology.ParamNumber, Min: f64(5), Max: f64(60), Identity: true},
			}},
		},
		PartRules: []ontology.ApplicabilityRule{
			{Target: "milk", AppliesTo: []string{mammalia}},
			{Target: "muscle", AppliesTo: []string{mammalia}},
			{Target: "grain", AppliesTo: []string{"plantae"}},
		},
		TransformRules: []ontology.ApplicabilityRule{
			{Target: "ferment", Parts: []string{"milk"}, AppliesTo: []string{mammalia}},
			{Target: "strain", Parts: []string{"milk"}, AppliesTo: []string{mammalia}},
		},
		Policy: ontology.DefaultMaterializationPolicy(),
	}

	resolved, err := applicability.Resolve(snap, table)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	canon := identity.New(snap, resolved)

	registry := sourceapi.NewRegistry()
	err = registry.Register(testAdapter{
		desc:  sourceapi.Descriptor{ID: "fdc", Tier: sourceapi.TierAnalytical},
		parts: map[string]string{"fluid": "milk"},
		transforms: map[string]sourceapi.TransformHint{
			"yogurt": {Transform: "ferment", Params: map[string]any{"starter": "yogurt_culture"}},
		},
		mixture: []string{"soup"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	return snap, Params{
		Snapshot:      snap,
		Resolved:      resolved,
		Canonicalizer: canon,
		Nodes:         identity.NewIndex(),
		Adapters:      registry,
		Logger:        slog.New(slog.DiscardHandler),
	}
}

func rec(source, food, desc string) ontology.EvidenceRecord {
	return ontology.EvidenceRecord{
		SourceID:       source,
		ExternalFoodID: food,
		Description:    desc,
		NutrientID:     "protein",
		Amount:         1,
		Unit:           "g",
		Basis:          ontology.BasisPer100g,
		Derivation:     ontology.DerivationMeasured,
	}
}

func mappingFor(t *testing.T, result Result, source, food string) ontology.EvidenceMapping {
	t.Helper()
	for _, m := range result.Mappings {
		if m.SourceID == source && m.ExternalFoodID == food {
			return m
		}
	}
	t.Fatalf("no mapping for %s/%s in %+v", source, food, result.Mappings)
	return ontology.EvidenceMapping{}
}

func TestMapperNameMatch(t *testing.T) {
	snap, params := fixture(t)
	snap.Evidence = []ontology.EvidenceRecord{rec("fdc", "1077", "Cow milk, whole")}
	result, err := Run(params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	m := mappingFor(t, result, "fdc", "1077")
	if !m.Mapped() || *m.NodeID != cattle+"/milk" {
		t.Fatalf("mapping = %+v", m)
	}
	if m.Method != ontology.ResolutionName || m.Confidence != 0.9 {
		t.Fatalf("method %s confidence %v", m.Method, m.Confidence)
	}
	if !params.Nodes.Contains(cattle + "/milk") {
		t.Fatalf("resolved node must be interned")
	}
}

func TestMapperConstructedChain(t *testing.T) {
	snap, params := fixture(t)
	snap.Evidence = []ontology.EvidenceRecord{rec("fdc", "2001", "Yogurt, cow milk, strained")}
	result, err := Run(params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	m := mappingFor(t, result, "fdc", "2001")
	want := cattle + "/milk/tf:ferment{starter=yogurt_culture}/tf:strain{}"
	if !m.Mapped() || *m.NodeID != want {
		t.Fatalf("node = %v, want %q", m.NodeID, want)
	}
	if m.Method != ontology.ResolutionConstructed || m.Confidence != 0.8 {
		t.Fatalf("method %s confidence %v", m.Method, m.Confidence)
	}
	node, ok := params.Nodes.Get(want)
	if !ok || node.Kind != ontology.NodeTPT {
		t.Fatalf("interned node = %+v ok=%v", node, ok)
	}
}

func TestMapperSoleApplicablePartFallback(t *testing.T) {
	snap, params := fixture(t)
	snap.Evidence = []ontology.EvidenceRecord{
		rec("fdc", "3001", "Wheat, hard red"),
		rec("fdc", "3002", "Goat, raw"),
	}
	result, err := Run(params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	wheatMapping := mappingFor(t, result, "fdc", "3001")
	if !wheatMapping.Mapped() || *wheatMapping.NodeID != wheat+"/grain" {
		t.Fatalf("wheat mapping = %+v", wheatMapping)
	}
	if wheatMapping.Confidence != 0.75 {
		t.Fatalf("fallback confidence = %v", wheatMapping.Confidence)
	}
	// Goat carries two applicable parts, so no fallback is possible.
	goatMapping := mappingFor(t, result, "fdc", "3002")
	if goatMapping.Mapped() || goatMapping.Reason != ontology.UnmappedLowConfidence {
		t.Fatalf("goat mapping = %+v", goatMapping)
	}
}

func TestMapperMixtureMarkersArePerSource(t *testing.T) {
	snap, params := fixture(t)
	snap.Evidence = []ontology.EvidenceRecord{
		rec("fdc", "4001", "Cow milk soup"),
		rec("labelfeed", "B-1", "Cow milk soup"),
	}
	result, err := Run(params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	fdc := mappingFor(t, result, "fdc", "4001")
	if fdc.Mapped() || fdc.Reason != ontology.UnmappedMixture {
		t.Fatalf("fdc mapping = %+v", fdc)
	}
	// labelfeed registered no adapter, so the marker does not apply.
	label := mappingFor(t, result, "labelfeed", "B-1")
	if !label.Mapped() {
		t.Fatalf("labelfeed mapping = %+v", label)
	}
}

func TestMapperUnmappedReasons(t *testing.T) {
	snap, params := fixture(t)
	snap.Evidence = []ontology.EvidenceRecord{
		rec("fdc", "5001", "Mystery gruel"),
		rec("fdc", "5002", "Cow and goat milk blend"),
		rec("fdc", "5003", "Wheat grain, fermented"),
	}
	result, err := Run(params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	cases := map[string]ontology.UnmappedReason{
		"5001": ontology.UnmappedNoTaxonMatch,
		"5002": ontology.UnmappedLowConfidence,
		"5003": ontology.UnmappedIllegalConstruction,
	}
	for food, reason := range cases {
		m := mappingFor(t, result, "fdc", food)
		if m.Mapped() || m.Reason != reason {
			t.Errorf("%s: mapping = %+v, want reason %s", food, m, reason)
		}
	}
	if result.Stats.Unmapped[ontology.UnmappedNoTaxonMatch] != 1 {
		t.Fatalf("stats = %+v", result.Stats)
	}
}

func TestMapperCarriesPriorResolutions(t *testing.T) {
	snap, params := fixture(t)
	nodeID := cattle + "/milk"
	snap.Evidence = []ontology.EvidenceRecord{rec("fdc", "1077", "Goat milk")}
	snap.PriorMappings = []ontology.EvidenceMapping{
		{SourceID: "fdc", ExternalFoodID: "1077", NodeID: &nodeID, Confidence: 1, Method: ontology.ResolutionManual},
	}
	result, err := Run(params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	m := mappingFor(t, result, "fdc", "1077")
	if !m.Mapped() || *m.NodeID != nodeID {
		t.Fatalf("prior resolution must win: %+v", m)
	}
	if m.Method != ontology.ResolutionManual || m.Confidence != 1 {
		t.Fatalf("prior method and confidence must be preserved: %+v", m)
	}
	if result.Stats.Carried != 1 {
		t.Fatalf("stats = %+v", result.Stats)
	}
}

func TestMapperDemotesStalePriorMappings(t *testing.T) {
	snap, params := fixture(t)
	vanished := cattle + "/milk/tf:vanished{}"
	illegal := wheat + "/milk"
	snap.Evidence = []ontology.EvidenceRecord{
		rec("fdc", "6001", "Cow milk"),
		rec("fdc", "6002", "Cow milk"),
	}
	snap.PriorMappings = []ontology.EvidenceMapping{
		{SourceID: "fdc", ExternalFoodID: "6001", NodeID: &vanished, Confidence: 1, Method: ontology.ResolutionManual},
		{SourceID: "fdc", ExternalFoodID: "6002", NodeID: &illegal, Confidence: 1, Method: ontology.ResolutionManual},
	}
	result, err := Run(params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, food := range []string{"6001", "6002"} {
		m := mappingFor(t, result, "fdc", food)
		if m.Mapped() || m.Reason != ontology.UnmappedStaleNode {
			t.Errorf("%s: mapping = %+v, want stale_node", food, m)
		}
	}
	if result.Stats.Stale != 2 {
		t.Fatalf("stats = %+v", result.Stats)
	}
}

func TestMapperKeepsPriorEntriesWithoutEvidence(t *testing.T) {
	snap, params := fixture(t)
	nodeID := goat + "/milk"
	snap.Evidence = nil
	snap.PriorMappings = []ontology.EvidenceMapping{
		{SourceID: "labelfeed", ExternalFoodID: "gone-1", NodeID: &nodeID, Confidence: 0.9, Method: ontology.ResolutionManual},
		{SourceID: "labelfeed", ExternalFoodID: "gone-2", Reason: ontology.UnmappedLowConfidence},
	}
	result, err := Run(params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	kept := mappingFor(t, result, "labelfeed", "gone-1")
	if !kept.Mapped() || *kept.NodeID != nodeID {
		t.Fatalf("mapped prior without evidence must stay: %+v", kept)
	}
	unresolved := mappingFor(t, result, "labelfeed", "gone-2")
	if unresolved.Mapped() || unresolved.Reason != ontology.UnmappedLowConfidence {
		t.Fatalf("unmapped prior without evidence must stay: %+v", unresolved)
	}
}

func TestMapperOutputSorted(t *testing.T) {
	snap, params := fixture(t)
	snap.Evidence = []ontology.EvidenceRecord{
		rec("labelfeed", "B-2", "Cow milk"),
		rec("fdc", "900", "Cow milk"),
		rec("fdc", "100", "Goat milk"),
	}
	result, err := Run(params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	isSorted := sort.SliceIsSorted(result.Mappings, func(i, j int) bool {
		a, b := result.Mappings[i], result.Mappings[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.ExternalFoodID < b.ExternalFoodID
	})
	if !isSorted {
		t.Fatalf("mappings not sorted: %+v", result.Mappings)
	}
}
