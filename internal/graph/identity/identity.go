// Package identity canonicalizes (taxon, part, transform chain) requests
// into stable node paths with fixed-size content hashes, and deduplicates
// nodes that canonicalize identically.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"foodcore/internal/catalog"
	"foodcore/internal/graph/applicability"
	"foodcore/pkg/ontology"
)

// hashLen is the length of the short identity hash in hex characters.
const hashLen = 16

// Canonicalizer validates canonicalization requests against the resolved
// applicability tables and produces canonical nodes. It is pure: the same
// request always yields the same node, regardless of chain authoring order.
type Canonicalizer struct {
	snap     *catalog.Snapshot
	resolved *applicability.Resolved
}

// New returns a canonicalizer over a validated snapshot and its resolved
// applicability tables.
func New(snap *catalog.Snapshot, resolved *applicability.Resolved) *Canonicalizer {
	return &Canonicalizer{snap: snap, resolved: resolved}
}

// MintPair canonicalizes the empty chain for a materialized pairing,
// producing its TP node.
func (c *Canonicalizer) MintPair(taxonID, partID string) (ontology.CanonicalNode, error) {
	return c.Canonicalize(taxonID, partID, nil)
}

// Canonicalize validates the request and returns its canonical node.
//
// The chain is normalized before serialization: every transform must be
// identity-bearing and applicable to the pairing, parameters are checked
// against their declared schemas, non-identity parameters are stripped, and
// steps are sorted by the transform's catalog ordering key. Rejections are
// typed: LegalityError for an illegal pairing or transform, ParamError for
// a value outside its schema.
func (c *Canonicalizer) Canonicalize(taxonID, partID string, chain []ontology.TransformUse) (ontology.CanonicalNode, error) {
	taxon, ok := c.snap.Taxon(taxonID)
	if !ok {
		return ontology.CanonicalNode{}, ontology.LegalityError{TaxonID: taxonID, PartID: partID, Reason: ontology.LegalityUnknownTaxon}
	}
	if _, ok := c.snap.Part(partID); !ok {
		return ontology.CanonicalNode{}, ontology.LegalityError{TaxonID: taxonID, PartID: partID, Reason: ontology.LegalityUnknownPart}
	}
	if !c.resolved.IsMaterialized(taxonID) {
		return ontology.CanonicalNode{}, ontology.LegalityError{TaxonID: taxonID, PartID: partID, Reason: ontology.LegalityNotMaterialized}
	}
	if !c.resolved.PartApplies(taxonID, partID) {
		return ontology.CanonicalNode{}, ontology.LegalityError{TaxonID: taxonID, PartID: partID, Reason: ontology.LegalityPartNotApplicable}
	}

	type ordered struct {
		order int
		step  ontology.ChainStep
	}
	steps := make([]ordered, 0, len(chain))
	seen := make(map[string]struct{}, len(chain))
	for _, use := range chain {
		transform, ok := c.snap.Transform(use.Transform)
		if !ok {
			return ontology.CanonicalNode{}, ontology.LegalityError{TaxonID: taxonID, PartID: partID, TransformID: use.Transform, Reason: ontology.LegalityUnknownTransform}
		}
		if !transform.Identity {
			return ontology.CanonicalNode{}, ontology.LegalityError{TaxonID: taxonID, PartID: partID, TransformID: use.Transform, Reason: ontology.LegalityNonIdentityTransform}
		}
		if !c.resolved.TransformApplies(taxonID, partID, use.Transform) {
			return ontology.CanonicalNode{}, ontology.LegalityError{TaxonID: taxonID, PartID: partID, TransformID: use.Transform, Reason: ontology.LegalityTransformNotApplicable}
		}
		if _, dup := seen[use.Transform]; dup {
			return ontology.CanonicalNode{}, ontology.LegalityError{TaxonID: taxonID, PartID: partID, TransformID: use.Transform, Reason: ontology.LegalityAmbiguousOrder}
		}
		seen[use.Transform] = struct{}{}

		step, err := normalizeStep(transform, use)
		if err != nil {
			return ontology.CanonicalNode{}, err
		}
		steps = append(steps, ordered{order: transform.Order, step: step})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].order < steps[j].order })

	normalized := make([]ontology.ChainStep, len(steps))
	for i, s := range steps {
		normalized[i] = s.step
	}

	path := buildPath(taxonID, partID, normalized)
	node := ontology.CanonicalNode{
		ID:      path,
		Hash:    shortHash(path),
		TaxonID: taxonID,
		PartID:  partID,
		Rank:    taxon.Rank,
		Kind:    ontology.NodeTP,
		Chain:   normalized,
	}
	if len(normalized) > 0 {
		node.Kind = ontology.NodeTPT
	} else {
		node.Chain = nil
	}
	return node, nil
}

// normalizeStep validates every provided parameter against the transform's
// schema and keeps only identity-bearing ones, sorted by key.
func normalizeStep(transform ontology.Transform, use ontology.TransformUse) (ontology.ChainStep, error) {
	step := ontology.ChainStep{Transform: transform.ID}
	if len(use.Params) == 0 {
		return step, nil
	}
	keys := make([]string, 0, len(use.Params))
	for key := range use.Params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		spec, ok := transform.Param(key)
		if !ok {
			return ontology.ChainStep{}, ontology.ParamError{Transform: transform.ID, Key: key, Value: fmt.Sprint(use.Params[key]), Detail: "parameter is not declared"}
		}
		canon, err := formatParam(transform.ID, spec, use.Params[key])
		if err != nil {
			return ontology.ChainStep{}, err
		}
		if spec.Identity {
			step.Params = append(step.Params, ontology.Param{Key: key, Value: canon})
		}
	}
	return step, nil
}

// formatParam checks one value against its declared schema and returns the
// canonical string form: lower-cased tokens, minimal decimal numbers,
// true/false booleans. Out-of-schema values are errors, never clamped.
func formatParam(transformID string, spec ontology.ParamSpec, value any) (string, error) {
	fail := func(detail string) (string, error) {
		return "", ontology.ParamError{Transform: transformID, Key: spec.Key, Value: fmt.Sprint(value), Detail: detail}
	}
	switch spec.Kind {
	case ontology.ParamString:
		s, ok := value.(string)
		if !ok {
			return fail("expected a string")
		}
		canon := strings.ToLower(strings.TrimSpace(s))
		if canon == "" {
			return fail("empty value")
		}
		return canon, nil
	case ontology.ParamEnum:
		s, ok := value.(string)
		if !ok {
			return fail("expected an enum token")
		}
		canon := strings.ToLower(strings.TrimSpace(s))
		for _, option := range spec.Enum {
			if canon == strings.ToLower(option) {
				return canon, nil
			}
		}
		return fail(fmt.Sprintf("not one of %v", spec.Enum))
	case ontology.ParamBool:
		b, ok := value.(bool)
		if !ok {
			return fail("expected a boolean")
		}
		return strconv.FormatBool(b), nil
	case ontology.ParamNumber, ontology.ParamInteger:
		f, ok := numeric(value)
		if !ok {
			return fail("expected a number")
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fail("not a finite number")
		}
		if spec.Kind == ontology.ParamInteger && f != math.Trunc(f) {
			return fail("expected an integer")
		}
		if spec.Min != nil && f < *spec.Min {
			return fail(fmt.Sprintf("below minimum %v", *spec.Min))
		}
		if spec.Max != nil && f > *spec.Max {
			return fail(fmt.Sprintf("above maximum %v", *spec.Max))
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return fail(fmt.Sprintf("unsupported parameter kind %q", spec.Kind))
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// buildPath serializes a normalized chain into the canonical path string:
// taxon lineage, part, then one tf:<name>{k=v,...} segment per step.
func buildPath(taxonID, partID string, chain []ontology.ChainStep) string {
	var b strings.Builder
	b.WriteString(taxonID)
	b.WriteByte('/')
	b.WriteString(partID)
	for _, step := range chain {
		b.WriteString("/tf:")
		b.WriteString(step.Transform)
		b.WriteByte('{')
		for i, p := range step.Params {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(p.Key)
			b.WriteByte('=')
			b.WriteString(p.Value)
		}
		b.WriteByte('}')
	}
	return b.String()
}

func shortHash(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// Parse splits a canonical path back into a canonicalization request,
// coercing parameter values by their declared kinds in the current catalog.
// It fails when the path does not follow the canonical grammar or names a
// transform or parameter the catalog no longer declares; callers treat any
// failure as a stale node.
func (c *Canonicalizer) Parse(path string) (taxonID, partID string, chain []ontology.TransformUse, err error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", nil, fmt.Errorf("canonical path %q: need taxon and part segments", path)
	}
	taxonID, partID = segments[0], segments[1]
	for _, seg := range segments[2:] {
		name, ok := strings.CutPrefix(seg, "tf:")
		if !ok {
			return "", "", nil, fmt.Errorf("canonical path %q: segment %q is not a transform", path, seg)
		}
		open := strings.IndexByte(name, '{')
		if open < 0 || !strings.HasSuffix(name, "}") {
			return "", "", nil, fmt.Errorf("canonical path %q: segment %q has no parameter block", path, seg)
		}
		id, body := name[:open], name[open+1:len(name)-1]
		transform, found := c.snap.Transform(id)
		if !found {
			return "", "", nil, fmt.Errorf("canonical path %q: unknown transform %q", path, id)
		}
		use := ontology.TransformUse{Transform: id}
		if body != "" {
			use.Params = make(map[string]any)
			for _, kv := range strings.Split(body, ",") {
				key, raw, ok := strings.Cut(kv, "=")
				if !ok {
					return "", "", nil, fmt.Errorf("canonical path %q: malformed parameter %q", path, kv)
				}
				spec, declared := transform.Param(key)
				if !declared {
					return "", "", nil, fmt.Errorf("canonical path %q: transform %q no longer declares %q", path, id, key)
				}
				value, err := coerce(spec, raw)
				if err != nil {
					return "", "", nil, fmt.Errorf("canonical path %q: %w", path, err)
				}
				use.Params[key] = value
			}
		}
		chain = append(chain, use)
	}
	return taxonID, partID, chain, nil
}

func coerce(spec ontology.ParamSpec, raw string) (any, error) {
	switch spec.Kind {
	case ontology.ParamNumber, ontology.ParamInteger:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", spec.Key, err)
		}
		return f, nil
	case ontology.ParamBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", spec.Key, err)
		}
		return b, nil
	}
	return raw, nil
}
