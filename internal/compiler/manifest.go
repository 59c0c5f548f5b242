package compiler

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"foodcore/internal/catalog"
)

// ManifestSchemaVersion is bumped whenever the manifest shape changes.
const ManifestSchemaVersion = 1

// fingerprintLen matches the canonical node hash length so build keys and
// node hashes read alike.
const fingerprintLen = 16

// StageTiming records one stage's wall-clock duration.
type StageTiming struct {
	Stage  Stage   `json:"stage"`
	Millis float64 `json:"millis"`
}

// Counters summarizes the build's artifact sizes.
type Counters struct {
	Taxa             int `json:"taxa"`
	Parts            int `json:"parts"`
	Transforms       int `json:"transforms"`
	MaterializedTaxa int `json:"materialized_taxa"`
	Pairings         int `json:"pairings"`
	TPNodes          int `json:"tp_nodes"`
	TPTNodes         int `json:"tpt_nodes"`
	EvidenceRecords  int `json:"evidence_records"`
	FoodEntries      int `json:"food_entries"`
	Mapped           int `json:"mapped"`
	Carried          int `json:"carried"`
	Stale            int `json:"stale"`
	Unmapped         int `json:"unmapped"`
	Profiles         int `json:"profiles"`
	ProfilesDirect   int `json:"profiles_direct"`
	ProfilesBlended  int `json:"profiles_blended"`
	ProfilesBorrowed int `json:"profiles_borrowed"`
	PairsSkipped     int `json:"pairs_skipped"`
}

// Manifest is the per-build summary written next to the packed database.
// The fingerprint is a pure function of the inputs; timings and the start
// stamp are informational and vary run to run.
type Manifest struct {
	SchemaVersion int                  `json:"schema_version"`
	Fingerprint   string               `json:"fingerprint"`
	Inputs        catalog.Fingerprints `json:"inputs"`
	StartedAt     time.Time            `json:"started_at"`
	Stages        []StageTiming        `json:"stages"`
	Counters      Counters             `json:"counters"`
}

// buildFingerprint folds the per-class input digests into one build key.
func buildFingerprint(fp catalog.Fingerprints) string {
	h := sha256.New()
	var buf [8]byte
	for _, class := range []string{fp.Ontology, fp.Evidence, fp.Mappings} {
		binary.BigEndian.PutUint64(buf[:], uint64(len(class)))
		h.Write(buf[:])
		h.Write([]byte(class))
	}
	return hex.EncodeToString(h.Sum(nil))[:fingerprintLen]
}
