package main

import (
	"os"
	"path/filepath"
	"testing"
)

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
    aliases: ["whole milk"]
  - id: muscle
    kind: anatomical
    aliases: ["meat"]
  - id: cream
    kind: fraction
    parent_id: milk
`

const transformsFixture = `transforms:
  - id: cook
    identity: true
    order: 10
    aliases: ["cooked"]
    params:
      - key: method
        kind: enum
        enum: [boiled, grilled, roasted]
        identity_param: true
  - id: churn
    identity: false
    order: 20
`

const rulesFixture = `rules:
  - part_or_transform_id: milk
    applies_to: ["animalia:chordata:mammalia"]
  - part_or_transform_id: muscle
    applies_to: ["animalia"]
  - part_or_transform_id: cook
    applies_to: ["animalia"]
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

const evidenceFixture = `{"source_id":"fdc","external_food_id":"1077","description":"Milk, whole","nutrient_id":"protein","amount":3.28,"unit":"g","basis":"per_100g","derivation":"measured","sample_n":42}
{"source_id":"labelfeed","external_food_id":"B-200","description":"whole milk","nutrient_id":"protein","amount":3.4,"unit":"g","basis":"per_100g","derivation":"label"}
`

// warnPartsFixture extends the clean parts file with a part whose
// proto_path is ignored because the part is not derived. The loader
// reports that at warn severity, never blocking.
const warnPartsFixture = partsFixture + `  - id: hide
    kind: anatomical
    proto_path: [churn]
`

func validTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "taxa/animalia.ndjson", taxaFixture)
	writeFile(t, root, "parts.yaml", partsFixture)
	writeFile(t, root, "transforms.yaml", transformsFixture)
	writeFile(t, root, "rules/base.yaml", rulesFixture)
	writeFile(t, root, "sources.yaml", sourcesFixture)
	writeFile(t, root, "evidence/fdc.ndjson", evidenceFixture)
	return root
}
