package fdc

import (
	"log/slog"
	"testing"

	"foodcore/internal/catalog"
	"foodcore/internal/evidence/mapper"
	"foodcore/internal/graph/applicability"
	"foodcore/internal/graph/closure"
	"foodcore/internal/graph/identity"
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

const cattle = "animalia:chordata:mammalia:bovidae:cattle"

func TestDescriptor(t *testing.T) {
	registry := sourceapi.NewRegistry()
	if err := registry.Register(New()); err != nil {
		t.Fatalf("register: %v", err)
	}
	adapter, ok := registry.Adapter("fdc")
	if !ok {
		t.Fatalf("adapter not registered")
	}
	desc := adapter.Descriptor()
	if desc.Tier != sourceapi.TierAnalytical {
		t.Fatalf("tier = %s", desc.Tier)
	}
	if desc.Tier.DefaultWeight() != 1.0 {
		t.Fatalf("weight = %v", desc.Tier.DefaultWeight())
	}
	if desc.DefaultBasis != ontology.BasisPer100g {
		t.Fatalf("basis = %s", desc.DefaultBasis)
	}
}

func TestHintTables(t *testing.T) {
	a := New()
	if got := a.PartHints()["loin"]; got != "muscle" {
		t.Fatalf("loin hint = %q", got)
	}
	hint, ok := a.TransformHints()["roasted"]
	if !ok || hint.Transform != "cook" || hint.Params["method"] != "roast" {
		t.Fatalf("roasted hint = %+v ok=%v", hint, ok)
	}
	markers := a.MixtureMarkers()
	found := false
	for _, m := range markers {
		if m == "stew" {
			found = true
		}
	}
	if !found {
		t.Fatalf("stew missing from markers %v", markers)
	}
}

// fixture builds a catalog slice wide enough to exercise the adapter's
// hints through the mapper: a cattle lineage with muscle and liver parts
// and a parameterized cook transform that carries no catalog aliases, so
// only the adapter lexicon can resolve FDC preparation tokens.
func fixture(t *testing.T) mapper.Params {
	t.Helper()
	taxa := []ontology.Taxon{
		{ID: "animalia", Rank: ontology.RankKingdom},
		{ID: "animalia:chordata", Parent: "animalia", Rank: ontology.RankPhylum},
		{ID: "animalia:chordata:mammalia", Parent: "animalia:chordata", Rank: ontology.RankClass},
		{ID: "animalia:chordata:mammalia:bovidae", Parent: "animalia:chordata:mammalia", Rank: ontology.RankFamily},
		{ID: cattle, Parent: "animalia:chordata:mammalia:bovidae", Rank: ontology.RankSpecies, DisplayName: "Cattle", Aliases: []string{"beef", "cow"}},
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
			"muscle": {ID: "muscle", Kind: ontology.PartAnatomical},
			"liver":  {ID: "liver", Kind: ontology.PartAnatomical},
		},
		Transforms: map[string]ontology.Transform{
			"cook": {ID: "cook", Identity: true, Order: 10, Params: []ontology.ParamSpec{
				{Key: "method", Kind: ontology.ParamEnum, Enum: []string{"boil", "braise", "roast", "grill", "fry", "steam"}, Identity: true},
			}},
			"dry": {ID: "dry", Identity: true, Order: 20},
		},
		PartRules: []ontology.ApplicabilityRule{
			{Target: "muscle", AppliesTo: []string{"animalia:chordata:mammalia"}},
			{Target: "liver", AppliesTo: []string{"animalia:chordata:mammalia"}},
		},
		TransformRules: []ontology.ApplicabilityRule{
			{Target: "cook", Parts: []string{"muscle", "liver"}, AppliesTo: []string{"animalia:chordata:mammalia"}},
			{Target: "dry", Parts: []string{"muscle"}, AppliesTo: []string{"animalia:chordata:mammalia"}},
		},
		Policy: ontology.DefaultMaterializationPolicy(),
	}

	resolved, err := applicability.Resolve(snap, table)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	registry := sourceapi.NewRegistry()
	if err := registry.Register(New()); err != nil {
		t.Fatalf("register: %v", err)
	}

	return mapper.Params{
		Snapshot:      snap,
		Resolved:      resolved,
		Canonicalizer: identity.New(snap, resolved),
		Nodes:         identity.NewIndex(),
		Adapters:      registry,
		Logger:        slog.New(slog.DiscardHandler),
	}
}

func record(food, desc string) ontology.EvidenceRecord {
	return ontology.EvidenceRecord{
		SourceID:       "fdc",
		ExternalFoodID: food,
		Description:    desc,
		NutrientID:     "protein",
		Amount:         20,
		Unit:           "g",
		Basis:          ontology.BasisPer100g,
		Derivation:     ontology.DerivationMeasured,
	}
}

func TestAdapterHintsDriveResolution(t *testing.T) {
	params := fixture(t)
	params.Snapshot.Evidence = []ontology.EvidenceRecord{
		record("13497", "Beef, loin, tenderloin steak, roasted"),
		record("13325", "Beef, liver, braised"),
	}
	result, err := mapper.Run(params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Stats.Mapped != 2 {
		t.Fatalf("stats = %+v", result.Stats)
	}

	// The catalog cook transform carries no aliases here, so the method
	// parameter in the node ID can only have come from the adapter hint.
	wantLoin := cattle + "/muscle/tf:cook{method=roast}"
	wantLiver := cattle + "/liver/tf:cook{method=braise}"
	got := map[string]string{}
	for _, m := range result.Mappings {
		if m.Mapped() {
			got[m.ExternalFoodID] = *m.NodeID
		}
	}
	if got["13497"] != wantLoin {
		t.Fatalf("loin node = %q, want %q", got["13497"], wantLoin)
	}
	if got["13325"] != wantLiver {
		t.Fatalf("liver node = %q, want %q", got["13325"], wantLiver)
	}
	if !params.Nodes.Contains(wantLoin) || !params.Nodes.Contains(wantLiver) {
		t.Fatalf("constructed nodes must be interned")
	}
}

func TestMixtureMarkersRejectCompositeFoods(t *testing.T) {
	params := fixture(t)
	params.Snapshot.Evidence = []ontology.EvidenceRecord{
		record("6008", "Soup, beef broth"),
		record("22905", "Beef stew, canned"),
		record("13000", "Beef, meat only, dried"),
	}
	result, err := mapper.Run(params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	byFood := map[string]ontology.EvidenceMapping{}
	for _, m := range result.Mappings {
		byFood[m.ExternalFoodID] = m
	}
	for _, food := range []string{"6008", "22905"} {
		m := byFood[food]
		if m.Mapped() || m.Reason != ontology.UnmappedMixture {
			t.Errorf("%s: mapping = %+v, want mixture", food, m)
		}
	}
	dried := byFood["13000"]
	if !dried.Mapped() || *dried.NodeID != cattle+"/muscle/tf:dry{}" {
		t.Fatalf("dried mapping = %+v", dried)
	}
}
