// Package catalog loads and validates the authored source files of a
// build: taxon lineages, part and transform catalogs, applicability rules,
// materialization policy, nutrient and source registries, evidence records,
// and prior evidence mappings.
package catalog

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"foodcore/pkg/nutrient"
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

// Fingerprints carries one content digest per input class. Stage artifacts
// derived from a class embed its fingerprint so caches can detect stale
// outputs.
type Fingerprints struct {
	Ontology string `json:"ontology"`
	Evidence string `json:"evidence"`
	Mappings string `json:"mappings"`
}

// Snapshot is the immutable, validated result of loading one source tree.
// Maps are keyed by ID; the *Order slices fix deterministic iteration.
type Snapshot struct {
	Taxa       map[string]ontology.Taxon
	TaxaOrder  []string
	Parts      map[string]ontology.Part
	PartsOrder []string

	Transforms      map[string]ontology.Transform
	TransformsOrder []string

	PartRules      []ontology.ApplicabilityRule
	TransformRules []ontology.ApplicabilityRule
	Policy         ontology.MaterializationPolicy

	Nutrients *nutrient.Registry
	Sources   map[string]sourceapi.Descriptor

	Evidence      []ontology.EvidenceRecord
	PriorMappings []ontology.EvidenceMapping

	Fingerprints Fingerprints
}

// Taxon returns the taxon record for id.
func (s *Snapshot) Taxon(id string) (ontology.Taxon, bool) {
	t, ok := s.Taxa[id]
	return t, ok
}

// Part returns the part record for id.
func (s *Snapshot) Part(id string) (ontology.Part, bool) {
	p, ok := s.Parts[id]
	return p, ok
}

// Transform returns the transform record for id.
func (s *Snapshot) Transform(id string) (ontology.Transform, bool) {
	t, ok := s.Transforms[id]
	return t, ok
}

// Source returns the source descriptor for id.
func (s *Snapshot) Source(id string) (sourceapi.Descriptor, bool) {
	d, ok := s.Sources[id]
	return d, ok
}

// SourceOrder returns all source IDs sorted.
func (s *Snapshot) SourceOrder() []string {
	return sortedKeys(s.Sources)
}

func (s *Snapshot) freeze() {
	s.TaxaOrder = sortedKeys(s.Taxa)
	s.PartsOrder = sortedKeys(s.Parts)
	s.TransformsOrder = sortedKeys(s.Transforms)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// classDigest accumulates a content fingerprint over the files of one input
// class. Fields are length-prefixed so concatenations cannot collide.
type classDigest struct {
	h hash.Hash
}

func newClassDigest() *classDigest {
	return &classDigest{h: sha256.New()}
}

func (d *classDigest) add(name string, data []byte) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(name)))
	d.h.Write(buf[:])
	d.h.Write([]byte(name))
	binary.BigEndian.PutUint64(buf[:], uint64(len(data)))
	d.h.Write(buf[:])
	d.h.Write(data)
}

func (d *classDigest) sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
