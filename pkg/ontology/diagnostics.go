package ontology

import (
	"fmt"
	"sort"
)

// Severity captures validation outcomes.
type Severity string

// Validation severities determine whether a build may proceed.
const (
	// SeverityBlock aborts the build.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported but allows the build to continue.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// SourceRef locates a record in its source file. Line is zero for documents
// without line granularity; Index then points at the entry within the file.
type SourceRef struct {
	File  string `json:"file,omitempty"`
	Line  int    `json:"line,omitempty"`
	Index int    `json:"index,omitempty"`
}

func (s SourceRef) String() string {
	switch {
	case s.File == "":
		return ""
	case s.Line > 0:
		return fmt.Sprintf("%s:%d", s.File, s.Line)
	case s.Index > 0:
		return fmt.Sprintf("%s#%d", s.File, s.Index)
	default:
		return s.File
	}
}

// Violation reports one failed validation check.
type Violation struct {
	Check    string     `json:"check"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityKind `json:"entity,omitempty"`
	EntityID string     `json:"entity_id,omitempty"`
	Source   SourceRef  `json:"source,omitempty"`
}

// Result aggregates violations from the validation passes.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Count returns the number of violations at the given severity.
func (r Result) Count(sev Severity) int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == sev {
			n++
		}
	}
	return n
}

// Sort orders violations by source location, then check name, for stable
// reporting independent of validation order.
func (r *Result) Sort() {
	sort.SliceStable(r.Violations, func(i, j int) bool {
		a, b := r.Violations[i], r.Violations[j]
		if a.Source.File != b.Source.File {
			return a.Source.File < b.Source.File
		}
		if a.Source.Line != b.Source.Line {
			return a.Source.Line < b.Source.Line
		}
		if a.Source.Index != b.Source.Index {
			return a.Source.Index < b.Source.Index
		}
		if a.Check != b.Check {
			return a.Check < b.Check
		}
		return a.EntityID < b.EntityID
	})
}

// BuildError is returned when blocking violations are present.
type BuildError struct {
	Result Result
}

func (e BuildError) Error() string {
	return fmt.Sprintf("build blocked by %d validation violations", e.Result.Count(SeverityBlock))
}

// LegalityReason classifies why a canonicalization request was rejected.
type LegalityReason string

// Legality rejection reasons.
const (
	LegalityUnknownTaxon           LegalityReason = "unknown_taxon"
	LegalityUnknownPart            LegalityReason = "unknown_part"
	LegalityUnknownTransform       LegalityReason = "unknown_transform"
	LegalityPartNotApplicable      LegalityReason = "part_not_applicable"
	LegalityTransformNotApplicable LegalityReason = "transform_not_applicable"
	LegalityNonIdentityTransform   LegalityReason = "non_identity_transform"
	LegalityNotMaterialized        LegalityReason = "not_materialized"
	LegalityAmbiguousOrder         LegalityReason = "ambiguous_order"
)

// LegalityError rejects a canonicalization request that is not legal for
// its taxon and part. It is a typed result, never a silent fallback.
type LegalityError struct {
	TaxonID     string
	PartID      string
	TransformID string
	Reason      LegalityReason
}

func (e LegalityError) Error() string {
	if e.TransformID != "" {
		return fmt.Sprintf("transform %q not legal for (%s, %s): %s", e.TransformID, e.TaxonID, e.PartID, e.Reason)
	}
	return fmt.Sprintf("pairing (%s, %s) not legal: %s", e.TaxonID, e.PartID, e.Reason)
}

// ParamError rejects a transform parameter outside its declared schema.
// Values are never silently clamped or dropped.
type ParamError struct {
	Transform string
	Key       string
	Value     string
	Detail    string
}

func (e ParamError) Error() string {
	return fmt.Sprintf("transform %q param %q=%q: %s", e.Transform, e.Key, e.Value, e.Detail)
}
