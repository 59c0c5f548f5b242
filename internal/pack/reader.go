package pack

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"foodcore/pkg/ontology"
)

// Reader opens a packed SQLite database for inspection. It is the read side
// used by the inspect and export commands and by round-trip tests; query
// services bring their own access layer.
type Reader struct {
	db *sql.DB
}

// Counts summarizes a packed database.
type Counts struct {
	Taxa        int `json:"taxa"`
	Parts       int `json:"parts"`
	Transforms  int `json:"transforms"`
	Nodes       int `json:"nodes"`
	Pairings    int `json:"pairings"`
	Profiles    int `json:"profiles"`
	Mappings    int `json:"mappings"`
	Unmapped    int `json:"unmapped"`
	SearchTerms int `json:"search_terms"`
}

// NodeDetail is one packed node with its legal transforms and profiles.
// Profile provenance is loaded alongside each profile.
type NodeDetail struct {
	Node       ontology.CanonicalNode     `json:"node"`
	Transforms []string                   `json:"transforms,omitempty"`
	Profiles   []ontology.NutrientProfile `json:"profiles,omitempty"`
}

// Open opens path and verifies its schema version. The file must already
// exist; Open never creates a database.
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("pack: open %s: %w", path, err)
	}
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("pack: open %s: %w", path, err)
	}
	r := &Reader{db: db}
	version, err := r.metaValue(MetaSchemaVersion)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pack: %s is not a packed database: %w", path, err)
	}
	if v, err := strconv.Atoi(version); err != nil || v != SchemaVersion {
		_ = db.Close()
		return nil, fmt.Errorf("pack: %s has schema version %q, this binary reads %d", path, version, SchemaVersion)
	}
	return r, nil
}

// Close releases the underlying database handle.
func (r *Reader) Close() error { return r.db.Close() }

// DB exposes the handle for ad-hoc queries.
func (r *Reader) DB() *sql.DB { return r.db }

// Meta returns every meta row.
func (r *Reader) Meta() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("pack: read meta: %w", err)
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("pack: read meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// Fingerprint returns the build fingerprint the pack was written from.
func (r *Reader) Fingerprint() (string, error) {
	return r.metaValue(MetaFingerprint)
}

func (r *Reader) metaValue(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("pack: meta %s: %w", key, err)
	}
	return value, nil
}

// Counts tallies every packed table.
func (r *Reader) Counts() (Counts, error) {
	var c Counts
	for _, q := range []struct {
		dst   *int
		query string
	}{
		{&c.Taxa, `SELECT COUNT(*) FROM taxa`},
		{&c.Parts, `SELECT COUNT(*) FROM parts`},
		{&c.Transforms, `SELECT COUNT(*) FROM transforms`},
		{&c.Nodes, `SELECT COUNT(*) FROM nodes`},
		{&c.Pairings, `SELECT COUNT(*) FROM taxon_parts`},
		{&c.Profiles, `SELECT COUNT(*) FROM profiles`},
		{&c.Mappings, `SELECT COUNT(*) FROM mappings`},
		{&c.Unmapped, `SELECT COUNT(*) FROM mappings WHERE node_id IS NULL`},
		{&c.SearchTerms, `SELECT COUNT(*) FROM search_terms`},
	} {
		if err := r.db.QueryRow(q.query).Scan(q.dst); err != nil {
			return Counts{}, fmt.Errorf("pack: counts: %w", err)
		}
	}
	return c, nil
}

// NodeIDs returns every packed node ID in lexical order.
func (r *Reader) NodeIDs() ([]string, error) {
	rows, err := r.db.Query(`SELECT id FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pack: list nodes: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pack: list nodes: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Node loads one node with its transforms, profiles and provenance.
func (r *Reader) Node(id string) (NodeDetail, error) {
	var (
		detail NodeDetail
		rank   string
		kind   string
		chain  sql.NullString
	)
	err := r.db.QueryRow(
		`SELECT id, identity_hash, taxon_id, part_id, rank, kind, transform_path FROM nodes WHERE id = ?`, id,
	).Scan(&detail.Node.ID, &detail.Node.Hash, &detail.Node.TaxonID, &detail.Node.PartID, &rank, &kind, &chain)
	if err == sql.ErrNoRows {
		return NodeDetail{}, fmt.Errorf("pack: node %s not packed", id)
	}
	if err != nil {
		return NodeDetail{}, fmt.Errorf("pack: node %s: %w", id, err)
	}
	detail.Node.Rank = ontology.Rank(rank)
	detail.Node.Kind = ontology.NodeKind(kind)
	if chain.Valid {
		if err := json.Unmarshal([]byte(chain.String), &detail.Node.Chain); err != nil {
			return NodeDetail{}, fmt.Errorf("pack: node %s chain: %w", id, err)
		}
	}
	if detail.Transforms, err = r.nodeTransforms(id); err != nil {
		return NodeDetail{}, err
	}
	if detail.Profiles, err = r.nodeProfiles(id); err != nil {
		return NodeDetail{}, err
	}
	return detail, nil
}

func (r *Reader) nodeTransforms(nodeID string) ([]string, error) {
	rows, err := r.db.Query(
		`SELECT transform_id FROM node_transforms WHERE node_id = ? ORDER BY position`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("pack: node %s transforms: %w", nodeID, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pack: node %s transforms: %w", nodeID, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Reader) nodeProfiles(nodeID string) ([]ontology.NutrientProfile, error) {
	rows, err := r.db.Query(
		`SELECT nutrient_id, amount, unit, basis, method, n_sources, flags, provenance_ref
		 FROM profiles WHERE node_id = ? ORDER BY nutrient_id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("pack: node %s profiles: %w", nodeID, err)
	}
	defer rows.Close()

	type profileRow struct {
		profile ontology.NutrientProfile
		ref     int
	}
	var loaded []profileRow
	for rows.Next() {
		var (
			pr     profileRow
			basis  string
			method string
			flags  sql.NullString
		)
		pr.profile.NodeID = nodeID
		err := rows.Scan(&pr.profile.NutrientID, &pr.profile.Amount, &pr.profile.Unit,
			&basis, &method, &pr.profile.NSources, &flags, &pr.ref)
		if err != nil {
			return nil, fmt.Errorf("pack: node %s profiles: %w", nodeID, err)
		}
		pr.profile.Basis = ontology.Basis(basis)
		pr.profile.Method = ontology.ProfileMethod(method)
		if flags.Valid {
			if err := json.Unmarshal([]byte(flags.String), &pr.profile.Flags); err != nil {
				return nil, fmt.Errorf("pack: node %s profile flags: %w", nodeID, err)
			}
		}
		loaded = append(loaded, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pack: node %s profiles: %w", nodeID, err)
	}

	profiles := make([]ontology.NutrientProfile, 0, len(loaded))
	for _, pr := range loaded {
		entries, err := r.provenance(pr.ref)
		if err != nil {
			return nil, fmt.Errorf("pack: node %s %s: %w", nodeID, pr.profile.NutrientID, err)
		}
		pr.profile.Provenance = entries
		profiles = append(profiles, pr.profile)
	}
	return profiles, nil
}

func (r *Reader) provenance(ref int) ([]ontology.ProvenanceEntry, error) {
	rows, err := r.db.Query(
		`SELECT source_id, external_food_id, weight, used, reason_excluded
		 FROM provenance WHERE ref = ? ORDER BY used DESC, source_id, external_food_id`, ref)
	if err != nil {
		return nil, fmt.Errorf("provenance %d: %w", ref, err)
	}
	defer rows.Close()
	var entries []ontology.ProvenanceEntry
	for rows.Next() {
		var (
			e      ontology.ProvenanceEntry
			reason sql.NullString
		)
		if err := rows.Scan(&e.SourceID, &e.ExternalFoodID, &e.Weight, &e.Used, &reason); err != nil {
			return nil, fmt.Errorf("provenance %d: %w", ref, err)
		}
		e.ReasonExcluded = ontology.ExclusionReason(reason.String)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
