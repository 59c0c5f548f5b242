// Package pack materializes a finished build into a relational database for
// downstream query services. The SQLite writer produces a single-file
// database next to the build manifest; the Postgres writer loads the same
// tables into a shared server. Either way every row is written inside one
// transaction and re-packing replaces the previous contents atomically, so
// readers never observe a half-built graph. Row order is deterministic for
// identical builds.
package pack

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"foodcore/internal/catalog"
	"foodcore/internal/graph/applicability"
	"foodcore/internal/graph/identity"
	"foodcore/pkg/ontology"
)

// SchemaVersion is bumped whenever the packed table layout changes shape.
const SchemaVersion = 1

// Keys of the meta table.
const (
	MetaSchemaVersion = "schema_version"
	MetaFingerprint   = "fingerprint"
)

// Dialect selects the output database flavor.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Valid reports whether d names a supported dialect.
func (d Dialect) Valid() bool {
	return d == DialectSQLite || d == DialectPostgres
}

// packTables lists every packed table in reverse dependency order, the order
// a replace has to drop them in.
var packTables = []string{
	"search_terms",
	"mappings",
	"provenance",
	"profiles",
	"node_transforms",
	"taxon_parts",
	"nodes",
	"transforms",
	"parts",
	"taxa",
	"meta",
}

// Params carries the build artifacts to pack plus the output target. An
// empty Dialect means SQLite.
type Params struct {
	Snapshot *catalog.Snapshot
	Resolved *applicability.Resolved
	Nodes    *identity.Index
	Mappings []ontology.EvidenceMapping
	Profiles []ontology.NutrientProfile

	// Fingerprint is the build fingerprint recorded under the meta table's
	// "fingerprint" key.
	Fingerprint string

	Dialect Dialect
	// Path is the output database file. SQLite only.
	Path string
	// DSN is the connection string. Postgres only.
	DSN string

	Logger *slog.Logger
}

func (p Params) validate() error {
	if p.Snapshot == nil || p.Resolved == nil || p.Nodes == nil {
		return fmt.Errorf("pack: snapshot, resolved pairings and node index are required")
	}
	switch p.Dialect {
	case DialectSQLite, "":
		if p.Path == "" {
			return fmt.Errorf("pack: output path required for sqlite")
		}
	case DialectPostgres:
		if p.DSN == "" {
			return fmt.Errorf("pack: dsn required for postgres")
		}
	default:
		return fmt.Errorf("pack: unknown dialect %q", p.Dialect)
	}
	return nil
}

// Write packs the build into the configured target.
func Write(params Params) error {
	if err := params.validate(); err != nil {
		return err
	}
	if params.Logger == nil {
		params.Logger = slog.New(slog.DiscardHandler)
	}
	if params.Dialect == DialectPostgres {
		return writePostgres(params)
	}
	return writeSQLite(params)
}

// insertFunc executes one parameterized insert. Statements are authored with
// "?" placeholders and rebound per dialect.
type insertFunc func(query string, args ...any) error

func insertAll(tx *sql.Tx, dialect Dialect, params Params) error {
	ins := func(query string, args ...any) error {
		_, err := tx.Exec(bind(dialect, query), args...)
		return err
	}
	if err := insertMeta(ins, params.Fingerprint); err != nil {
		return err
	}
	if err := insertCatalog(ins, params.Snapshot); err != nil {
		return err
	}
	if err := insertGraph(ins, params); err != nil {
		return err
	}
	if err := insertProfiles(ins, params.Profiles); err != nil {
		return err
	}
	return insertMappings(ins, params.Mappings)
}

func insertMeta(ins insertFunc, fingerprint string) error {
	rows := [][2]string{
		{MetaSchemaVersion, strconv.Itoa(SchemaVersion)},
		{MetaFingerprint, fingerprint},
	}
	for _, kv := range rows {
		if err := ins(`INSERT INTO meta (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("pack: meta %s: %w", kv[0], err)
		}
	}
	return nil
}

func insertCatalog(ins insertFunc, snap *catalog.Snapshot) error {
	for _, id := range snap.TaxaOrder {
		t := snap.Taxa[id]
		aliases, err := jsonList(t.Aliases)
		if err != nil {
			return fmt.Errorf("pack: taxon %s: %w", id, err)
		}
		err = ins(`INSERT INTO taxa (id, parent, rank, display_name, latin_name, aliases) VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, nullable(t.Parent), string(t.Rank), t.DisplayName, nullable(t.LatinName), aliases)
		if err != nil {
			return fmt.Errorf("pack: taxon %s: %w", id, err)
		}
	}
	for _, id := range snap.PartsOrder {
		p := snap.Parts[id]
		aliases, err := jsonList(p.Aliases)
		if err != nil {
			return fmt.Errorf("pack: part %s: %w", id, err)
		}
		err = ins(`INSERT INTO parts (id, kind, parent_id, display_name, aliases) VALUES (?, ?, ?, ?, ?)`,
			p.ID, string(p.Kind), nullable(p.ParentID), nullable(p.DisplayName), aliases)
		if err != nil {
			return fmt.Errorf("pack: part %s: %w", id, err)
		}
	}
	for _, id := range snap.TransformsOrder {
		t := snap.Transforms[id]
		specs, err := jsonList(t.Params)
		if err != nil {
			return fmt.Errorf("pack: transform %s: %w", id, err)
		}
		err = ins(`INSERT INTO transforms (id, identity, ord, params) VALUES (?, ?, ?, ?)`,
			t.ID, t.Identity, t.Order, specs)
		if err != nil {
			return fmt.Errorf("pack: transform %s: %w", id, err)
		}
	}
	return nil
}

func insertGraph(ins insertFunc, params Params) error {
	nodes := append([]ontology.CanonicalNode(nil), params.Nodes.Nodes()...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	for _, n := range nodes {
		chain, err := jsonList(n.Chain)
		if err != nil {
			return fmt.Errorf("pack: node %s: %w", n.ID, err)
		}
		err = ins(`INSERT INTO nodes (id, identity_hash, taxon_id, part_id, rank, kind, transform_path) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.Hash, n.TaxonID, n.PartID, string(n.Rank), string(n.Kind), chain)
		if err != nil {
			return fmt.Errorf("pack: node %s: %w", n.ID, err)
		}
	}

	for _, pair := range params.Resolved.Pairs() {
		err := ins(`INSERT INTO taxon_parts (taxon_id, part_id) VALUES (?, ?)`, pair.TaxonID, pair.PartID)
		if err != nil {
			return fmt.Errorf("pack: pairing %s/%s: %w", pair.TaxonID, pair.PartID, err)
		}
	}

	// Transform attachments hang off the pairing's plain taxon+part node.
	for _, pair := range params.Resolved.Pairs() {
		nodeID := pair.TaxonID + "/" + pair.PartID
		if !params.Nodes.Contains(nodeID) {
			continue
		}
		for pos, transformID := range orderedTransforms(params.Snapshot, params.Resolved, pair) {
			err := ins(`INSERT INTO node_transforms (node_id, transform_id, position) VALUES (?, ?, ?)`,
				nodeID, transformID, pos)
			if err != nil {
				return fmt.Errorf("pack: attachment %s+%s: %w", nodeID, transformID, err)
			}
		}
	}

	for _, n := range nodes {
		for _, st := range searchTerms(params.Snapshot, n) {
			err := ins(`INSERT INTO search_terms (node_id, term, field) VALUES (?, ?, ?)`, n.ID, st.term, st.field)
			if err != nil {
				return fmt.Errorf("pack: search term %s %q: %w", n.ID, st.term, err)
			}
		}
	}
	return nil
}

func insertProfiles(ins insertFunc, profiles []ontology.NutrientProfile) error {
	sorted := append([]ontology.NutrientProfile(nil), profiles...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].NodeID != sorted[j].NodeID {
			return sorted[i].NodeID < sorted[j].NodeID
		}
		return sorted[i].NutrientID < sorted[j].NutrientID
	})
	for ref, p := range sorted {
		flags, err := jsonList(p.Flags)
		if err != nil {
			return fmt.Errorf("pack: profile %s %s: %w", p.NodeID, p.NutrientID, err)
		}
		err = ins(`INSERT INTO profiles (node_id, nutrient_id, amount, unit, basis, method, n_sources, flags, provenance_ref) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.NodeID, p.NutrientID, p.Amount, p.Unit, string(p.Basis), string(p.Method), p.NSources, flags, ref+1)
		if err != nil {
			return fmt.Errorf("pack: profile %s %s: %w", p.NodeID, p.NutrientID, err)
		}
		for _, pe := range p.Provenance {
			err = ins(`INSERT INTO provenance (ref, node_id, nutrient_id, source_id, external_food_id, weight, used, reason_excluded) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				ref+1, p.NodeID, p.NutrientID, pe.SourceID, pe.ExternalFoodID, pe.Weight, pe.Used, nullable(string(pe.ReasonExcluded)))
			if err != nil {
				return fmt.Errorf("pack: provenance %s %s: %w", p.NodeID, p.NutrientID, err)
			}
		}
	}
	return nil
}

func insertMappings(ins insertFunc, mappings []ontology.EvidenceMapping) error {
	sorted := append([]ontology.EvidenceMapping(nil), mappings...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].SourceID != sorted[j].SourceID {
			return sorted[i].SourceID < sorted[j].SourceID
		}
		return sorted[i].ExternalFoodID < sorted[j].ExternalFoodID
	})
	for _, m := range sorted {
		var nodeID any
		if m.Mapped() {
			nodeID = *m.NodeID
		}
		err := ins(`INSERT INTO mappings (source_id, external_food_id, node_id, confidence, method, reason) VALUES (?, ?, ?, ?, ?, ?)`,
			m.SourceID, m.ExternalFoodID, nodeID, m.Confidence, nullable(string(m.Method)), nullable(string(m.Reason)))
		if err != nil {
			return fmt.Errorf("pack: mapping %s/%s: %w", m.SourceID, m.ExternalFoodID, err)
		}
	}
	return nil
}

// orderedTransforms returns the transforms legal on the pair in catalog
// order, the order a chain may apply them in.
func orderedTransforms(snap *catalog.Snapshot, resolved *applicability.Resolved, pair applicability.Pair) []string {
	ids := append([]string(nil), resolved.TransformsFor(pair.TaxonID, pair.PartID)...)
	sort.Slice(ids, func(i, j int) bool {
		a := snap.Transforms[ids[i]]
		b := snap.Transforms[ids[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
	return ids
}

type searchTerm struct {
	term  string
	field string
}

// searchTerms derives the lookup rows for one node from its taxon and part
// vocabulary. Terms are lower-cased whitespace tokens; anything smarter than
// that belongs to the query service reading the pack.
func searchTerms(snap *catalog.Snapshot, node ontology.CanonicalNode) []searchTerm {
	seen := make(map[searchTerm]struct{})
	var out []searchTerm
	add := func(field, text string) {
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			st := searchTerm{term: tok, field: field}
			if _, dup := seen[st]; dup {
				continue
			}
			seen[st] = struct{}{}
			out = append(out, st)
		}
	}
	if taxon, ok := snap.Taxon(node.TaxonID); ok {
		add("display", taxon.DisplayName)
		add("latin", taxon.LatinName)
		for _, alias := range taxon.Aliases {
			add("alias", alias)
		}
	}
	if part, ok := snap.Part(node.PartID); ok {
		add("part", part.ID)
		add("part", part.DisplayName)
		for _, alias := range part.Aliases {
			add("part", alias)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].field != out[j].field {
			return out[i].field < out[j].field
		}
		return out[i].term < out[j].term
	})
	return out
}

// bind rewrites "?" placeholders to the dialect's native form.
func bind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteString("$")
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// jsonList marshals a non-empty list to its JSON text, or NULL for empty.
func jsonList[T any](list []T) (any, error) {
	if len(list) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// nullable maps the empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
