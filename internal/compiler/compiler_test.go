package compiler

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"foodcore/pkg/ontology"
)

const cattle = "animalia:chordata:mammalia:bovidae:cattle"

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

const taxaFixture = `{"id":"animalia","rank":"kingdom","display_name":"Animals"}
{"id":"animalia:chordata","parent":"animalia","rank":"phylum","display_name":"Chordates"}
{"id":"animalia:chordata:mammalia","parent":"animalia:chordata","rank":"class","display_name":"Mammals"}
{"id":"animalia:chordata:mammalia:bovidae","parent":"animalia:chordata:mammalia","rank":"family","display_name":"Bovids"}
{"id":"animalia:chordata:mammalia:bovidae:cattle","parent":"animalia:chordata:mammalia:bovidae","rank":"species","display_name":"Cattle","latin_name":"Bos taurus","aliases":["cow"]}
`

const partsFixture = `parts:
  - id: milk
    kind: secreted
  - id: muscle
    kind: anatomical
    aliases: ["meat"]
`

const transformsFixture = `transforms:
  - id: ferment
    identity: true
    order: 10
    aliases: ["fermented", "cultured"]
    params:
      - key: starter
        kind: enum
        enum: [yogurt_culture, kefir_grains]
        identity_param: true
`

const rulesFixture = `rules:
  - part_or_transform_id: milk
    applies_to: ["animalia:chordata:mammalia"]
  - part_or_transform_id: muscle
    applies_to: ["animalia"]
  - part_or_transform_id: ferment
    parts: [milk]
    applies_to: ["animalia:chordata:mammalia"]
`

const sourcesFixture = `sources:
  - id: fdc
    tier: analytical
    published_year: 2021
    default_basis: per_100g
  - id: labelfeed
    tier: label
    published_year: 2024
`

const evidenceFixture = `{"source_id":"fdc","external_food_id":"1077","description":"Cow milk, whole","nutrient_id":"protein","amount":3.28,"unit":"g","basis":"per_100g","derivation":"measured","sample_n":42}
{"source_id":"fdc","external_food_id":"1077","description":"Cow milk, whole","nutrient_id":"energy","amount":61,"unit":"kcal","basis":"per_100g","derivation":"measured","sample_n":42}
{"source_id":"fdc","external_food_id":"1077","description":"Cow milk, whole","nutrient_id":"fat","amount":3.27,"unit":"g","basis":"per_100g","derivation":"measured","sample_n":42}
{"source_id":"fdc","external_food_id":"1077","description":"Cow milk, whole","nutrient_id":"carbohydrate","amount":4.8,"unit":"g","basis":"per_100g","derivation":"measured","sample_n":42}
{"source_id":"labelfeed","external_food_id":"B-200","description":"cow milk","nutrient_id":"protein","amount":3.4,"unit":"g","basis":"per_100g","derivation":"label"}
`

func sourceTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "taxa/animalia.ndjson", taxaFixture)
	writeFile(t, root, "parts.yaml", partsFixture)
	writeFile(t, root, "transforms.yaml", transformsFixture)
	writeFile(t, root, "rules/dairy.yaml", rulesFixture)
	writeFile(t, root, "sources.yaml", sourcesFixture)
	writeFile(t, root, "evidence/fdc.ndjson", evidenceFixture)
	return root
}

func TestPipelineRun(t *testing.T) {
	pipeline, err := New(Params{Root: sourceTree(t), Logger: discardLogger()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	build, err := pipeline.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	pairs := build.Resolved.Pairs()
	if len(pairs) != 2 || build.Nodes.Len() != 2 {
		t.Fatalf("pairs %d nodes %d", len(pairs), build.Nodes.Len())
	}
	for _, pair := range pairs {
		if !build.Nodes.Contains(pair.TaxonID + "/" + pair.PartID) {
			t.Fatalf("pair %s/%s not minted", pair.TaxonID, pair.PartID)
		}
	}

	if build.Mapping.Stats.Mapped != 2 {
		t.Fatalf("mapper stats = %+v", build.Mapping.Stats)
	}

	var protein *ontology.NutrientProfile
	for i, p := range build.Rollup.Profiles {
		if p.NodeID == cattle+"/milk" && p.NutrientID == "protein" {
			protein = &build.Rollup.Profiles[i]
		}
	}
	if protein == nil {
		t.Fatalf("no milk protein profile in %+v", build.Rollup.Profiles)
	}
	if protein.Amount != 3.28 || protein.NSources != 2 {
		t.Fatalf("protein profile = %+v", protein)
	}

	m := build.Manifest
	if m.SchemaVersion != ManifestSchemaVersion || len(m.Fingerprint) != fingerprintLen {
		t.Fatalf("manifest header = %+v", m)
	}
	if len(m.Stages) != len(Stages()) {
		t.Fatalf("stage timings = %+v", m.Stages)
	}
	for i, timing := range m.Stages {
		if timing.Stage != Stages()[i] {
			t.Fatalf("stage %d = %s, want %s", i, timing.Stage, Stages()[i])
		}
	}
	c := m.Counters
	if c.Taxa != 5 || c.Parts != 2 || c.Transforms != 1 {
		t.Fatalf("catalog counters = %+v", c)
	}
	if c.Pairings != 2 || c.TPNodes != 2 || c.TPTNodes != 0 {
		t.Fatalf("graph counters = %+v", c)
	}
	if c.FoodEntries != 2 || c.Mapped != 2 || c.Unmapped != 0 {
		t.Fatalf("mapper counters = %+v", c)
	}
	if c.Profiles != len(build.Rollup.Profiles) || c.Profiles == 0 {
		t.Fatalf("profile counters = %+v", c)
	}
}

func TestPipelineDeterministic(t *testing.T) {
	root := sourceTree(t)
	run := func() *Build {
		pipeline, err := New(Params{Root: root, Workers: 4, Logger: discardLogger()})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		build, err := pipeline.Run()
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return build
	}
	first := run()
	second := run()

	if !reflect.DeepEqual(first.Nodes.Nodes(), second.Nodes.Nodes()) {
		t.Fatalf("node sets differ across runs")
	}
	if !reflect.DeepEqual(first.Mapping.Mappings, second.Mapping.Mappings) {
		t.Fatalf("mappings differ across runs")
	}
	if !reflect.DeepEqual(first.Rollup.Profiles, second.Rollup.Profiles) {
		t.Fatalf("profiles differ across runs")
	}
	if first.Manifest.Fingerprint != second.Manifest.Fingerprint {
		t.Fatalf("fingerprints differ: %s vs %s", first.Manifest.Fingerprint, second.Manifest.Fingerprint)
	}
}

func TestPipelineRunThrough(t *testing.T) {
	pipeline, err := New(Params{Root: sourceTree(t), Logger: discardLogger()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	build, err := pipeline.RunThrough(StageLoad)
	if err != nil {
		t.Fatalf("run through load: %v", err)
	}
	if build.Snapshot == nil || build.Taxa != nil || build.Nodes != nil {
		t.Fatalf("unexpected artifacts after load-only run")
	}
	if len(build.Manifest.Stages) != 1 || build.Manifest.Stages[0].Stage != StageLoad {
		t.Fatalf("stage timings = %+v", build.Manifest.Stages)
	}
	if build.Manifest.Counters.Taxa != 5 {
		t.Fatalf("counters = %+v", build.Manifest.Counters)
	}

	if _, err := pipeline.RunThrough(Stage("bogus")); err == nil {
		t.Fatalf("bogus stage must fail")
	}
}

func TestPipelineHaltsOnBrokenTree(t *testing.T) {
	root := sourceTree(t)
	writeFile(t, root, "taxa/broken.ndjson", `{"id":"plantae:poaceae","parent":"plantae","rank":"family"}`)

	pipeline, err := New(Params{Root: root, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = pipeline.Run()
	if err == nil {
		t.Fatalf("broken tree must fail the build")
	}
	var buildErr ontology.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("error = %v, want BuildError", err)
	}
}

func TestPipelineParamValidation(t *testing.T) {
	if _, err := New(Params{}); err == nil {
		t.Fatalf("missing root must fail")
	}
	if _, err := New(Params{Root: "x", Strict: true, Lenient: true}); err == nil {
		t.Fatalf("strict+lenient must fail")
	}
}
