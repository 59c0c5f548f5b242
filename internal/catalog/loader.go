package catalog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"foodcore/pkg/nutrient"
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

// Source tree layout relative to the root.
const (
	taxaGlob     = "taxa/**/*.ndjson"
	evidenceGlob = "evidence/**/*.ndjson"
	mappingsGlob = "mappings/**/*.ndjson"
	rulesGlob    = "rules/**/*.yaml"

	partsFile      = "parts.yaml"
	transformsFile = "transforms.yaml"
	policyFile     = "policy.yaml"
	sourcesFile    = "sources.yaml"
	nutrientsFile  = "nutrients.yaml"
)

// Params configures a load.
type Params struct {
	// Root is the source tree directory.
	Root string
	// Logger receives progress and demotion events; nil uses slog.Default().
	Logger *slog.Logger
	// Adapters contributes descriptors for bundled sources. Authored
	// sources.yaml entries override adapter descriptors.
	Adapters *sourceapi.Registry
	// Strict escalates warnings to blocking violations.
	Strict bool
	// Lenient demotes referential violations to warnings and drops the
	// offending rows.
	Lenient bool
}

// Load reads, decodes, and validates one source tree. The returned Result
// carries every violation found; the error is an ontology.BuildError when
// blocking violations remain after strict/lenient adjustment, or a plain
// error for I/O failures.
func Load(params Params) (*Snapshot, ontology.Result, error) {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if params.Strict && params.Lenient {
		return nil, ontology.Result{}, fmt.Errorf("strict and lenient modes are mutually exclusive")
	}
	if params.Root == "" {
		return nil, ontology.Result{}, fmt.Errorf("source root not set")
	}
	info, err := os.Stat(params.Root)
	if err != nil {
		return nil, ontology.Result{}, fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		return nil, ontology.Result{}, fmt.Errorf("source root %s is not a directory", params.Root)
	}

	ld := &loader{
		root:         params.Root,
		logger:       logger,
		ontologyHash: newClassDigest(),
		evidenceHash: newClassDigest(),
		mappingsHash: newClassDigest(),
	}
	snap := &Snapshot{
		Taxa:       make(map[string]ontology.Taxon),
		Parts:      make(map[string]ontology.Part),
		Transforms: make(map[string]ontology.Transform),
		Sources:    make(map[string]sourceapi.Descriptor),
		Policy:     ontology.DefaultMaterializationPolicy(),
	}

	var result ontology.Result
	ld.loadTaxa(snap, &result)
	ld.loadParts(snap, &result)
	ld.loadTransforms(snap, &result)
	ld.loadRules(snap, &result)
	ld.loadPolicy(snap, &result)
	ld.loadNutrients(snap, &result)
	ld.loadSources(snap, params.Adapters, &result)
	ld.loadEvidence(snap, &result)
	ld.loadMappings(snap, &result)
	if ld.err != nil {
		return nil, result, ld.err
	}

	validate(snap, &result, params.Strict, params.Lenient, logger)
	result.Sort()
	snap.freeze()
	snap.Fingerprints = Fingerprints{
		Ontology: ld.ontologyHash.sum(),
		Evidence: ld.evidenceHash.sum(),
		Mappings: ld.mappingsHash.sum(),
	}

	if result.HasBlocking() {
		return nil, result, ontology.BuildError{Result: result}
	}
	logger.Info("sources loaded",
		"taxa", len(snap.Taxa),
		"parts", len(snap.Parts),
		"transforms", len(snap.Transforms),
		"rules", len(snap.PartRules)+len(snap.TransformRules),
		"evidence", len(snap.Evidence),
		"prior_mappings", len(snap.PriorMappings),
		"warnings", result.Count(ontology.SeverityWarn))
	return snap, result, nil
}

type loader struct {
	root   string
	logger *slog.Logger
	err    error

	ontologyHash *classDigest
	evidenceHash *classDigest
	mappingsHash *classDigest
}

// glob resolves a pattern under the root, sorted by path for deterministic
// load order.
func (l *loader) glob(pattern string) []string {
	if l.err != nil {
		return nil
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(l.root, filepath.FromSlash(pattern)))
	if err != nil {
		l.err = fmt.Errorf("glob %s: %w", pattern, err)
		return nil
	}
	sort.Strings(matches)
	return matches
}

func (l *loader) rel(path string) string {
	if r, err := filepath.Rel(l.root, path); err == nil {
		return filepath.ToSlash(r)
	}
	return filepath.ToSlash(path)
}

func (l *loader) read(path string, digest *classDigest) ([]byte, string) {
	if l.err != nil {
		return nil, ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		l.err = fmt.Errorf("read %s: %w", l.rel(path), err)
		return nil, ""
	}
	rel := l.rel(path)
	digest.add(rel, data)
	return data, rel
}

// readOptional returns nil without error when the catalog file is absent.
func (l *loader) readOptional(name string, digest *classDigest) ([]byte, string) {
	if l.err != nil {
		return nil, ""
	}
	path := filepath.Join(l.root, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ""
		}
		l.err = fmt.Errorf("stat %s: %w", name, err)
		return nil, ""
	}
	return l.read(path, digest)
}

// eachLine feeds every non-blank NDJSON line to fn with 1-based numbers.
func eachLine(data []byte, fn func(line int, raw []byte)) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		fn(line, raw)
	}
}

func violation(result *ontology.Result, v ontology.Violation) {
	result.Violations = append(result.Violations, v)
}

func decodeFailure(result *ontology.Result, entity ontology.EntityKind, ref ontology.SourceRef, err error) {
	violation(result, ontology.Violation{
		Check:    "decode",
		Severity: ontology.SeverityBlock,
		Message:  err.Error(),
		Entity:   entity,
		Source:   ref,
	})
}

func (l *loader) loadTaxa(snap *Snapshot, result *ontology.Result) {
	for _, path := range l.glob(taxaGlob) {
		data, rel := l.read(path, l.ontologyHash)
		if l.err != nil {
			return
		}
		eachLine(data, func(line int, raw []byte) {
			var taxon ontology.Taxon
			if err := json.Unmarshal(raw, &taxon); err != nil {
				decodeFailure(result, ontology.EntityTaxon, ontology.SourceRef{File: rel, Line: line}, err)
				return
			}
			ref := ontology.SourceRef{File: rel, Line: line}
			if taxon.ID == "" {
				violation(result, ontology.Violation{
					Check:    "missing_id",
					Severity: ontology.SeverityBlock,
					Message:  "taxon without id",
					Entity:   ontology.EntityTaxon,
					Source:   ref,
				})
				return
			}
			if _, exists := snap.Taxa[taxon.ID]; exists {
				violation(result, ontology.Violation{
					Check:    "duplicate_id",
					Severity: ontology.SeverityBlock,
					Message:  fmt.Sprintf("taxon %q already defined", taxon.ID),
					Entity:   ontology.EntityTaxon,
					EntityID: taxon.ID,
					Source:   ref,
				})
				return
			}
			snap.Taxa[taxon.ID] = taxon
			checkTaxon(result, taxon, ref)
		})
	}
}

type partsDoc struct {
	Parts []ontology.Part `yaml:"parts"`
}

func (l *loader) loadParts(snap *Snapshot, result *ontology.Result) {
	data, rel := l.readOptional(partsFile, l.ontologyHash)
	if data == nil {
		return
	}
	var doc partsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		decodeFailure(result, ontology.EntityPart, ontology.SourceRef{File: rel}, err)
		return
	}
	for i, part := range doc.Parts {
		ref := ontology.SourceRef{File: rel, Index: i + 1}
		if _, exists := snap.Parts[part.ID]; exists {
			violation(result, ontology.Violation{
				Check:    "duplicate_id",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("part %q already defined", part.ID),
				Entity:   ontology.EntityPart,
				EntityID: part.ID,
				Source:   ref,
			})
			continue
		}
		snap.Parts[part.ID] = part
		checkPart(result, part, ref)
	}
}

type transformsDoc struct {
	Transforms []ontology.Transform `yaml:"transforms"`
}

func (l *loader) loadTransforms(snap *Snapshot, result *ontology.Result) {
	data, rel := l.readOptional(transformsFile, l.ontologyHash)
	if data == nil {
		return
	}
	var doc transformsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		decodeFailure(result, ontology.EntityTransform, ontology.SourceRef{File: rel}, err)
		return
	}
	orders := make(map[int]string)
	for i, tr := range doc.Transforms {
		ref := ontology.SourceRef{File: rel, Index: i + 1}
		if _, exists := snap.Transforms[tr.ID]; exists {
			violation(result, ontology.Violation{
				Check:    "duplicate_id",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("transform %q already defined", tr.ID),
				Entity:   ontology.EntityTransform,
				EntityID: tr.ID,
				Source:   ref,
			})
			continue
		}
		if holder, clash := orders[tr.Order]; clash {
			violation(result, ontology.Violation{
				Check:    "order_collision",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("ordering key %d already held by transform %q", tr.Order, holder),
				Entity:   ontology.EntityTransform,
				EntityID: tr.ID,
				Source:   ref,
			})
			continue
		}
		orders[tr.Order] = tr.ID
		snap.Transforms[tr.ID] = tr
		checkTransform(result, tr, ref)
	}
}

type rulesDoc struct {
	Rules []ontology.ApplicabilityRule `yaml:"rules"`
}

func (l *loader) loadRules(snap *Snapshot, result *ontology.Result) {
	for _, path := range l.glob(rulesGlob) {
		data, rel := l.read(path, l.ontologyHash)
		if l.err != nil {
			return
		}
		var doc rulesDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			decodeFailure(result, ontology.EntityRule, ontology.SourceRef{File: rel}, err)
			continue
		}
		for i, rule := range doc.Rules {
			rule.Source = ontology.SourceRef{File: rel, Index: i + 1}
			if rule.Target == "" {
				violation(result, ontology.Violation{
					Check:    "missing_target",
					Severity: ontology.SeverityBlock,
					Message:  "rule without part_or_transform_id",
					Entity:   ontology.EntityRule,
					Source:   rule.Source,
				})
				continue
			}
			if len(rule.AppliesTo) == 0 {
				violation(result, ontology.Violation{
					Check:    "missing_scope",
					Severity: ontology.SeverityBlock,
					Message:  fmt.Sprintf("rule %q has no applies_to scopes", rule.Target),
					Entity:   ontology.EntityRule,
					EntityID: rule.Target,
					Source:   rule.Source,
				})
				continue
			}
			// Target kind is resolved in validate once both catalogs are
			// loaded; stash everything in PartRules until then.
			snap.PartRules = append(snap.PartRules, rule)
		}
	}
}

func (l *loader) loadPolicy(snap *Snapshot, result *ontology.Result) {
	data, rel := l.readOptional(policyFile, l.ontologyHash)
	if data == nil {
		return
	}
	var policy ontology.MaterializationPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		decodeFailure(result, ontology.EntityPolicy, ontology.SourceRef{File: rel}, err)
		return
	}
	if len(policy.Ranks) == 0 {
		policy.Ranks = ontology.DefaultMaterializationPolicy().Ranks
	}
	snap.Policy = policy
	for _, rank := range policy.Ranks {
		if !rank.Valid() {
			violation(result, ontology.Violation{
				Check:    "unknown_rank",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("materialize_ranks entry %q is not a rank", rank),
				Entity:   ontology.EntityPolicy,
				Source:   ontology.SourceRef{File: rel},
			})
		}
	}
}

type nutrientsDoc struct {
	Nutrients []nutrient.Nutrient `yaml:"nutrients"`
}

func (l *loader) loadNutrients(snap *Snapshot, result *ontology.Result) {
	data, rel := l.readOptional(nutrientsFile, l.ontologyHash)
	if data == nil {
		snap.Nutrients = nutrient.Default()
		return
	}
	var doc nutrientsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		decodeFailure(result, ontology.EntityNutrient, ontology.SourceRef{File: rel}, err)
		snap.Nutrients = nutrient.Default()
		return
	}
	snap.Nutrients = buildNutrientRegistry(doc.Nutrients, rel, result)
}

type sourcesDoc struct {
	Sources []sourceapi.Descriptor `yaml:"sources"`
}

func (l *loader) loadSources(snap *Snapshot, adapters *sourceapi.Registry, result *ontology.Result) {
	if adapters != nil {
		for _, desc := range adapters.Descriptors() {
			snap.Sources[desc.ID] = desc
		}
	}
	data, rel := l.readOptional(sourcesFile, l.ontologyHash)
	if data == nil {
		return
	}
	var doc sourcesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		decodeFailure(result, ontology.EntitySource, ontology.SourceRef{File: rel}, err)
		return
	}
	seen := make(map[string]bool)
	for i, desc := range doc.Sources {
		ref := ontology.SourceRef{File: rel, Index: i + 1}
		if desc.ID == "" {
			violation(result, ontology.Violation{
				Check:    "missing_id",
				Severity: ontology.SeverityBlock,
				Message:  "source without id",
				Entity:   ontology.EntitySource,
				Source:   ref,
			})
			continue
		}
		if seen[desc.ID] {
			violation(result, ontology.Violation{
				Check:    "duplicate_id",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("source %q already defined", desc.ID),
				Entity:   ontology.EntitySource,
				EntityID: desc.ID,
				Source:   ref,
			})
			continue
		}
		seen[desc.ID] = true
		if !desc.Tier.Valid() {
			violation(result, ontology.Violation{
				Check:    "unknown_tier",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("source %q tier %q is not recognized", desc.ID, desc.Tier),
				Entity:   ontology.EntitySource,
				EntityID: desc.ID,
				Source:   ref,
			})
			continue
		}
		if desc.DefaultBasis != "" && !desc.DefaultBasis.Valid() {
			violation(result, ontology.Violation{
				Check:    "unknown_basis",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("source %q default basis %q is not recognized", desc.ID, desc.DefaultBasis),
				Entity:   ontology.EntitySource,
				EntityID: desc.ID,
				Source:   ref,
			})
			continue
		}
		// Authored entries override bundled adapter descriptors.
		snap.Sources[desc.ID] = desc
	}
}

func (l *loader) loadEvidence(snap *Snapshot, result *ontology.Result) {
	for _, path := range l.glob(evidenceGlob) {
		data, rel := l.read(path, l.evidenceHash)
		if l.err != nil {
			return
		}
		eachLine(data, func(line int, raw []byte) {
			var rec ontology.EvidenceRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				decodeFailure(result, ontology.EntityEvidence, ontology.SourceRef{File: rel, Line: line}, err)
				return
			}
			checkEvidence(result, rec, ontology.SourceRef{File: rel, Line: line})
			snap.Evidence = append(snap.Evidence, rec)
		})
	}
}

func (l *loader) loadMappings(snap *Snapshot, result *ontology.Result) {
	byKey := make(map[ontology.MappingKey]int)
	for _, path := range l.glob(mappingsGlob) {
		data, rel := l.read(path, l.mappingsHash)
		if l.err != nil {
			return
		}
		eachLine(data, func(line int, raw []byte) {
			var m ontology.EvidenceMapping
			if err := json.Unmarshal(raw, &m); err != nil {
				decodeFailure(result, ontology.EntityMapping, ontology.SourceRef{File: rel, Line: line}, err)
				return
			}
			if m.SourceID == "" || m.ExternalFoodID == "" {
				violation(result, ontology.Violation{
					Check:    "missing_key",
					Severity: ontology.SeverityBlock,
					Message:  "mapping without source_id or external_food_id",
					Entity:   ontology.EntityMapping,
					Source:   ontology.SourceRef{File: rel, Line: line},
				})
				return
			}
			// Mapping files are append-logs; the latest entry for a key
			// wins.
			if idx, exists := byKey[m.Key()]; exists {
				snap.PriorMappings[idx] = m
				violation(result, ontology.Violation{
					Check:    "superseded_mapping",
					Severity: ontology.SeverityLog,
					Message:  fmt.Sprintf("mapping for %s/%s superseded", m.SourceID, m.ExternalFoodID),
					Entity:   ontology.EntityMapping,
					EntityID: m.SourceID + "/" + m.ExternalFoodID,
					Source:   ontology.SourceRef{File: rel, Line: line},
				})
				return
			}
			byKey[m.Key()] = len(snap.PriorMappings)
			snap.PriorMappings = append(snap.PriorMappings, m)
		})
	}
}
