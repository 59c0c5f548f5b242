package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"foodcore/internal/compiler"
	"foodcore/pkg/ontology"
)

// Format selects an artifact encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Valid reports whether the format is renderable.
func (f Format) Valid() bool {
	return f == FormatJSON || f == FormatCSV
}

func (f Format) contentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Source is the slice of a finished build the report templates read.
type Source struct {
	Fingerprint string
	Nodes       []ontology.CanonicalNode
	Mappings    []ontology.EvidenceMapping
	Profiles    []ontology.NutrientProfile
}

// FromBuild extracts the report source from a completed pipeline run.
func FromBuild(b *compiler.Build) Source {
	src := Source{Fingerprint: b.Manifest.Fingerprint}
	if b.Nodes != nil {
		src.Nodes = append([]ontology.CanonicalNode(nil), b.Nodes.Nodes()...)
	}
	src.Mappings = b.Mapping.Mappings
	src.Profiles = b.Rollup.Profiles
	return src
}

// ParamSpec declares one template parameter. An empty Enum accepts any
// value.
type ParamSpec struct {
	Name        string
	Description string
	Required    bool
	Enum        []string
}

// Template names a renderable report: fixed columns, declared parameters
// and a row builder over the build source.
type Template struct {
	Name        string
	Description string
	Columns     []string
	Params      []ParamSpec

	rows func(src Source, params map[string]string) []map[string]any
}

// Built-in template names.
const (
	TemplateUnmappedEvidence = "unmapped_evidence"
	TemplateExclusions       = "exclusions"
	TemplateProfileSummary   = "profile_summary"
	TemplateNodeCatalog      = "node_catalog"
)

var templates = []Template{
	{
		Name:        TemplateUnmappedEvidence,
		Description: "food entries that resolved to no node, with the unmapped reason",
		Columns:     []string{"source_id", "external_food_id", "reason", "confidence"},
		Params: []ParamSpec{
			{Name: "reason", Description: "keep only one unmapped reason", Enum: unmappedReasons()},
		},
		rows: unmappedRows,
	},
	{
		Name:        TemplateExclusions,
		Description: "evidence records excluded from profile aggregation",
		Columns:     []string{"node_id", "nutrient_id", "source_id", "external_food_id", "weight", "reason"},
		Params: []ParamSpec{
			{Name: "nutrient", Description: "keep only one nutrient"},
			{Name: "reason", Description: "keep only one exclusion reason", Enum: exclusionReasons()},
		},
		rows: exclusionRows,
	},
	{
		Name:        TemplateProfileSummary,
		Description: "one row per aggregated (node, nutrient) profile",
		Columns:     []string{"node_id", "nutrient_id", "amount", "unit", "basis", "method", "n_sources", "flags"},
		Params: []ParamSpec{
			{Name: "method", Description: "keep only one aggregation method", Enum: profileMethods()},
			{Name: "nutrient", Description: "keep only one nutrient"},
		},
		rows: profileRows,
	},
	{
		Name:        TemplateNodeCatalog,
		Description: "every canonical node materialized by the build",
		Columns:     []string{"node_id", "identity_hash", "taxon_id", "part_id", "rank", "kind", "transforms"},
		Params: []ParamSpec{
			{Name: "kind", Description: "keep only one node kind", Enum: []string{string(ontology.NodeTP), string(ontology.NodeTPT)}},
			{Name: "rank", Description: "keep only one taxon rank"},
		},
		rows: nodeRows,
	},
}

// Lookup resolves a built-in template by name.
func Lookup(name string) (Template, bool) {
	for _, t := range templates {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}

// Names returns the built-in template names, sorted.
func Names() []string {
	names := make([]string, len(templates))
	for i, t := range templates {
		names[i] = t.Name
	}
	sort.Strings(names)
	return names
}

// validateParams checks the supplied parameters against the template's
// declared specs. All problems are reported in one error.
func (t Template) validateParams(params map[string]string) error {
	declared := make(map[string]ParamSpec, len(t.Params))
	for _, spec := range t.Params {
		declared[spec.Name] = spec
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	for _, name := range names {
		spec, ok := declared[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", name))
			continue
		}
		value := params[name]
		if value == "" || len(spec.Enum) == 0 {
			continue
		}
		allowed := false
		for _, candidate := range spec.Enum {
			if candidate == value {
				allowed = true
				break
			}
		}
		if !allowed {
			problems = append(problems, fmt.Sprintf("parameter %q must be one of %s", name, strings.Join(spec.Enum, ", ")))
		}
	}
	for _, spec := range t.Params {
		if spec.Required && strings.TrimSpace(params[spec.Name]) == "" {
			problems = append(problems, fmt.Sprintf("parameter %q is required", spec.Name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("template %s: %s", t.Name, strings.Join(problems, "; "))
	}
	return nil
}

// document is the JSON artifact envelope.
type document struct {
	Report      string           `json:"report"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Columns     []string         `json:"columns"`
	RowCount    int              `json:"row_count"`
	Rows        []map[string]any `json:"rows"`
}

// Render materializes the template in one format and returns the payload
// and its row count. Parameters must have been validated first.
func (t Template) Render(src Source, params map[string]string, format Format) ([]byte, int, error) {
	rows := t.rows(src, params)
	switch format {
	case FormatJSON:
		payload, err := json.Marshal(document{
			Report:      t.Name,
			Fingerprint: src.Fingerprint,
			Columns:     t.Columns,
			RowCount:    len(rows),
			Rows:        rows,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("marshal %s: %w", t.Name, err)
		}
		return payload, len(rows), nil
	case FormatCSV:
		buf := &bytes.Buffer{}
		writer := csv.NewWriter(buf)
		if err := writer.Write(t.Columns); err != nil {
			return nil, 0, err
		}
		for _, row := range rows {
			record := make([]string, len(t.Columns))
			for i, column := range t.Columns {
				record[i] = formatValue(row[column])
			}
			if err := writer.Write(record); err != nil {
				return nil, 0, err
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return nil, 0, err
		}
		return buf.Bytes(), len(rows), nil
	default:
		return nil, 0, fmt.Errorf("unsupported report format %q", format)
	}
}

func unmappedRows(src Source, params map[string]string) []map[string]any {
	reason := params["reason"]
	rows := make([]map[string]any, 0)
	for _, m := range src.Mappings {
		if m.Mapped() {
			continue
		}
		if reason != "" && string(m.Reason) != reason {
			continue
		}
		rows = append(rows, map[string]any{
			"source_id":        m.SourceID,
			"external_food_id": m.ExternalFoodID,
			"reason":           string(m.Reason),
			"confidence":       m.Confidence,
		})
	}
	sortRows(rows, "source_id", "external_food_id")
	return rows
}

func exclusionRows(src Source, params map[string]string) []map[string]any {
	nutrient := params["nutrient"]
	reason := params["reason"]
	rows := make([]map[string]any, 0)
	for _, p := range src.Profiles {
		if nutrient != "" && p.NutrientID != nutrient {
			continue
		}
		for _, entry := range p.Provenance {
			if entry.Used {
				continue
			}
			if reason != "" && string(entry.ReasonExcluded) != reason {
				continue
			}
			rows = append(rows, map[string]any{
				"node_id":          p.NodeID,
				"nutrient_id":      p.NutrientID,
				"source_id":        entry.SourceID,
				"external_food_id": entry.ExternalFoodID,
				"weight":           entry.Weight,
				"reason":           string(entry.ReasonExcluded),
			})
		}
	}
	sortRows(rows, "node_id", "nutrient_id", "source_id", "external_food_id")
	return rows
}

func profileRows(src Source, params map[string]string) []map[string]any {
	method := params["method"]
	nutrient := params["nutrient"]
	rows := make([]map[string]any, 0)
	for _, p := range src.Profiles {
		if method != "" && string(p.Method) != method {
			continue
		}
		if nutrient != "" && p.NutrientID != nutrient {
			continue
		}
		flags := make([]string, len(p.Flags))
		for i, flag := range p.Flags {
			flags[i] = string(flag)
		}
		rows = append(rows, map[string]any{
			"node_id":     p.NodeID,
			"nutrient_id": p.NutrientID,
			"amount":      p.Amount,
			"unit":        p.Unit,
			"basis":       string(p.Basis),
			"method":      string(p.Method),
			"n_sources":   p.NSources,
			"flags":       strings.Join(flags, ";"),
		})
	}
	sortRows(rows, "node_id", "nutrient_id")
	return rows
}

func nodeRows(src Source, params map[string]string) []map[string]any {
	kind := params["kind"]
	rank := params["rank"]
	rows := make([]map[string]any, 0)
	for _, n := range src.Nodes {
		if kind != "" && string(n.Kind) != kind {
			continue
		}
		if rank != "" && string(n.Rank) != rank {
			continue
		}
		steps := make([]string, len(n.Chain))
		for i, step := range n.Chain {
			steps[i] = step.Transform
		}
		rows = append(rows, map[string]any{
			"node_id":       n.ID,
			"identity_hash": n.Hash,
			"taxon_id":      n.TaxonID,
			"part_id":       n.PartID,
			"rank":          string(n.Rank),
			"kind":          string(n.Kind),
			"transforms":    strings.Join(steps, ";"),
		})
	}
	sortRows(rows, "node_id")
	return rows
}

// sortRows orders rows by the rendered form of the named columns.
func sortRows(rows []map[string]any, columns ...string) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, column := range columns {
			a, b := formatValue(rows[i][column]), formatValue(rows[j][column])
			if a != b {
				return a < b
			}
		}
		return false
	})
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	case int:
		return fmt.Sprintf("%d", v)
	case bool:
		return fmt.Sprintf("%t", v)
	default:
		return fmt.Sprint(v)
	}
}

func unmappedReasons() []string {
	return []string{
		string(ontology.UnmappedMixture),
		string(ontology.UnmappedNoTaxonMatch),
		string(ontology.UnmappedIllegalConstruction),
		string(ontology.UnmappedLowConfidence),
		string(ontology.UnmappedStaleNode),
	}
}

func exclusionReasons() []string {
	return []string{
		string(ontology.ExcludedOutlier),
		string(ontology.ExcludedUnconvertibleUnit),
		string(ontology.ExcludedUnconvertibleBasis),
		string(ontology.ExcludedUnknownNutrient),
	}
}

func profileMethods() []string {
	return []string{
		string(ontology.ProfileDirect),
		string(ontology.ProfileBlended),
		string(ontology.ProfileBorrowed),
	}
}
