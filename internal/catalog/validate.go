package catalog

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"foodcore/pkg/nutrient"
	"foodcore/pkg/ontology"
)

// checkTaxon validates one decoded taxon record in isolation.
func checkTaxon(result *ontology.Result, taxon ontology.Taxon, ref ontology.SourceRef) {
	if !taxon.Rank.Valid() {
		violation(result, ontology.Violation{
			Check:    "unknown_rank",
			Severity: ontology.SeverityBlock,
			Message:  fmt.Sprintf("taxon %q rank %q is not recognized", taxon.ID, taxon.Rank),
			Entity:   ontology.EntityTaxon,
			EntityID: taxon.ID,
			Source:   ref,
		})
	}
	if taxon.IsRoot() && strings.ContainsRune(taxon.ID, ':') {
		violation(result, ontology.Violation{
			Check:    "root_with_lineage_path",
			Severity: ontology.SeverityBlock,
			Message:  fmt.Sprintf("root taxon %q must be a single segment", taxon.ID),
			Entity:   ontology.EntityTaxon,
			EntityID: taxon.ID,
			Source:   ref,
		})
	}
	if !taxon.IsRoot() && taxon.ID != taxon.Parent+":"+ontology.LeafSegment(taxon.ID) {
		violation(result, ontology.Violation{
			Check:    "lineage_mismatch",
			Severity: ontology.SeverityBlock,
			Message:  fmt.Sprintf("taxon id %q does not extend parent %q by one segment", taxon.ID, taxon.Parent),
			Entity:   ontology.EntityTaxon,
			EntityID: taxon.ID,
			Source:   ref,
		})
	}
}

// checkPart validates one decoded part record in isolation.
func checkPart(result *ontology.Result, part ontology.Part, ref ontology.SourceRef) {
	if part.ID == "" {
		violation(result, ontology.Violation{
			Check:    "missing_id",
			Severity: ontology.SeverityBlock,
			Message:  "part without id",
			Entity:   ontology.EntityPart,
			Source:   ref,
		})
		return
	}
	if !part.Kind.Valid() {
		violation(result, ontology.Violation{
			Check:    "unknown_kind",
			Severity: ontology.SeverityBlock,
			Message:  fmt.Sprintf("part %q kind %q is not recognized", part.ID, part.Kind),
			Entity:   ontology.EntityPart,
			EntityID: part.ID,
			Source:   ref,
		})
	}
	if part.Kind == ontology.PartDerived && len(part.ProtoPath) == 0 {
		violation(result, ontology.Violation{
			Check:    "missing_proto_path",
			Severity: ontology.SeverityBlock,
			Message:  fmt.Sprintf("derived part %q must declare the transform sequence that produces it", part.ID),
			Entity:   ontology.EntityPart,
			EntityID: part.ID,
			Source:   ref,
		})
	}
	if part.Kind != ontology.PartDerived && len(part.ProtoPath) > 0 {
		violation(result, ontology.Violation{
			Check:    "proto_path_ignored",
			Severity: ontology.SeverityWarn,
			Message:  fmt.Sprintf("part %q is not derived; proto_path has no effect", part.ID),
			Entity:   ontology.EntityPart,
			EntityID: part.ID,
			Source:   ref,
		})
	}
}

// checkTransform validates one decoded transform record in isolation.
func checkTransform(result *ontology.Result, tr ontology.Transform, ref ontology.SourceRef) {
	if tr.ID == "" {
		violation(result, ontology.Violation{
			Check:    "missing_id",
			Severity: ontology.SeverityBlock,
			Message:  "transform without id",
			Entity:   ontology.EntityTransform,
			Source:   ref,
		})
		return
	}
	seen := make(map[string]bool, len(tr.Params))
	identityParams := 0
	for _, p := range tr.Params {
		if p.Key == "" {
			violation(result, ontology.Violation{
				Check:    "missing_param_key",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("transform %q has a param without key", tr.ID),
				Entity:   ontology.EntityTransform,
				EntityID: tr.ID,
				Source:   ref,
			})
			continue
		}
		if seen[p.Key] {
			violation(result, ontology.Violation{
				Check:    "duplicate_param_key",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("transform %q declares param %q twice", tr.ID, p.Key),
				Entity:   ontology.EntityTransform,
				EntityID: tr.ID,
				Source:   ref,
			})
		}
		seen[p.Key] = true
		if p.Identity {
			identityParams++
		}
		if !p.Kind.Valid() {
			violation(result, ontology.Violation{
				Check:    "unknown_param_kind",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("transform %q param %q kind %q is not recognized", tr.ID, p.Key, p.Kind),
				Entity:   ontology.EntityTransform,
				EntityID: tr.ID,
				Source:   ref,
			})
			continue
		}
		if p.Kind == ontology.ParamEnum && len(p.Enum) == 0 {
			violation(result, ontology.Violation{
				Check:    "enum_without_options",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("transform %q param %q is an enum with no options", tr.ID, p.Key),
				Entity:   ontology.EntityTransform,
				EntityID: tr.ID,
				Source:   ref,
			})
		}
		if p.Kind != ontology.ParamEnum && len(p.Enum) > 0 {
			violation(result, ontology.Violation{
				Check:    "options_on_non_enum",
				Severity: ontology.SeverityWarn,
				Message:  fmt.Sprintf("transform %q param %q carries enum options but is %s", tr.ID, p.Key, p.Kind),
				Entity:   ontology.EntityTransform,
				EntityID: tr.ID,
				Source:   ref,
			})
		}
		numeric := p.Kind == ontology.ParamNumber || p.Kind == ontology.ParamInteger
		if !numeric && (p.Min != nil || p.Max != nil) {
			violation(result, ontology.Violation{
				Check:    "range_on_non_numeric",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("transform %q param %q declares a range but is %s", tr.ID, p.Key, p.Kind),
				Entity:   ontology.EntityTransform,
				EntityID: tr.ID,
				Source:   ref,
			})
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			violation(result, ontology.Violation{
				Check:    "inverted_range",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("transform %q param %q min %v exceeds max %v", tr.ID, p.Key, *p.Min, *p.Max),
				Entity:   ontology.EntityTransform,
				EntityID: tr.ID,
				Source:   ref,
			})
		}
	}
	if !tr.Identity && identityParams > 0 {
		violation(result, ontology.Violation{
			Check:    "identity_param_on_process_transform",
			Severity: ontology.SeverityWarn,
			Message:  fmt.Sprintf("transform %q is not identity-bearing; its identity params never apply", tr.ID),
			Entity:   ontology.EntityTransform,
			EntityID: tr.ID,
			Source:   ref,
		})
	}
}

// checkEvidence validates one decoded evidence record in isolation.
func checkEvidence(result *ontology.Result, rec ontology.EvidenceRecord, ref ontology.SourceRef) {
	if rec.SourceID == "" || rec.ExternalFoodID == "" || rec.NutrientID == "" {
		violation(result, ontology.Violation{
			Check:    "missing_key",
			Severity: ontology.SeverityBlock,
			Message:  "evidence record missing source_id, external_food_id, or nutrient_id",
			Entity:   ontology.EntityEvidence,
			Source:   ref,
		})
	}
	if rec.Amount < 0 || math.IsNaN(rec.Amount) || math.IsInf(rec.Amount, 0) {
		violation(result, ontology.Violation{
			Check:    "invalid_amount",
			Severity: ontology.SeverityBlock,
			Message:  fmt.Sprintf("evidence amount %v is not a non-negative number", rec.Amount),
			Entity:   ontology.EntityEvidence,
			EntityID: rec.SourceID + "/" + rec.ExternalFoodID,
			Source:   ref,
		})
	}
	if rec.Unit == "" {
		violation(result, ontology.Violation{
			Check:    "missing_unit",
			Severity: ontology.SeverityBlock,
			Message:  "evidence record without unit",
			Entity:   ontology.EntityEvidence,
			EntityID: rec.SourceID + "/" + rec.ExternalFoodID,
			Source:   ref,
		})
	}
	if rec.Basis != "" && !rec.Basis.Valid() {
		violation(result, ontology.Violation{
			Check:    "unknown_basis",
			Severity: ontology.SeverityBlock,
			Message:  fmt.Sprintf("evidence basis %q is not recognized", rec.Basis),
			Entity:   ontology.EntityEvidence,
			EntityID: rec.SourceID + "/" + rec.ExternalFoodID,
			Source:   ref,
		})
	}
	if !rec.Derivation.Valid() {
		violation(result, ontology.Violation{
			Check:    "unknown_derivation",
			Severity: ontology.SeverityBlock,
			Message:  fmt.Sprintf("evidence derivation %q is not recognized", rec.Derivation),
			Entity:   ontology.EntityEvidence,
			EntityID: rec.SourceID + "/" + rec.ExternalFoodID,
			Source:   ref,
		})
	}
	if rec.SampleN < 0 {
		violation(result, ontology.Violation{
			Check:    "invalid_sample_n",
			Severity: ontology.SeverityBlock,
			Message:  fmt.Sprintf("evidence sample_n %d is negative", rec.SampleN),
			Entity:   ontology.EntityEvidence,
			EntityID: rec.SourceID + "/" + rec.ExternalFoodID,
			Source:   ref,
		})
	}
}

// buildNutrientRegistry validates nutrient entries individually so each bad
// entry gets its own diagnostic, then indexes the surviving set.
func buildNutrientRegistry(entries []nutrient.Nutrient, rel string, result *ontology.Result) *nutrient.Registry {
	valid := make([]nutrient.Nutrient, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	energySeen := false
	for i, n := range entries {
		ref := ontology.SourceRef{File: rel, Index: i + 1}
		bad := false
		if n.ID == "" {
			violation(result, ontology.Violation{
				Check:    "missing_id",
				Severity: ontology.SeverityBlock,
				Message:  "nutrient without id",
				Entity:   ontology.EntityNutrient,
				Source:   ref,
			})
			continue
		}
		if seen[n.ID] {
			violation(result, ontology.Violation{
				Check:    "duplicate_id",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("nutrient %q already defined", n.ID),
				Entity:   ontology.EntityNutrient,
				EntityID: n.ID,
				Source:   ref,
			})
			continue
		}
		seen[n.ID] = true
		if !n.Class.Valid() {
			violation(result, ontology.Violation{
				Check:    "unknown_class",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("nutrient %q class %q is not recognized", n.ID, n.Class),
				Entity:   ontology.EntityNutrient,
				EntityID: n.ID,
				Source:   ref,
			})
			bad = true
		}
		if nutrient.NormalizeUnit(n.Unit) == "" {
			violation(result, ontology.Violation{
				Check:    "missing_unit",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("nutrient %q has no canonical unit", n.ID),
				Entity:   ontology.EntityNutrient,
				EntityID: n.ID,
				Source:   ref,
			})
			bad = true
		}
		if n.Class == nutrient.ClassEnergy {
			if energySeen {
				violation(result, ontology.Violation{
					Check:    "second_energy",
					Severity: ontology.SeverityBlock,
					Message:  fmt.Sprintf("nutrient %q: an energy nutrient is already registered", n.ID),
					Entity:   ontology.EntityNutrient,
					EntityID: n.ID,
					Source:   ref,
				})
				bad = true
			}
			energySeen = true
		}
		if !bad {
			valid = append(valid, n)
		}
	}
	reg, err := nutrient.NewRegistry(valid)
	if err != nil {
		violation(result, ontology.Violation{
			Check:    "registry",
			Severity: ontology.SeverityBlock,
			Message:  err.Error(),
			Entity:   ontology.EntityNutrient,
			Source:   ontology.SourceRef{File: rel},
		})
		return nutrient.Default()
	}
	return reg
}

// validate runs the cross-table passes once every file is decoded. Strict
// escalates warnings to blocking; lenient demotes referential violations to
// warnings and drops the offending rows so the build can proceed without
// them.
func validate(snap *Snapshot, result *ontology.Result, strict, lenient bool, logger *slog.Logger) {
	refSeverity := ontology.SeverityBlock
	if lenient {
		refSeverity = ontology.SeverityWarn
	}

	validateTaxaRefs(snap, result)
	validatePartRefs(snap, result, refSeverity, lenient)
	validateRules(snap, result, refSeverity, lenient, logger)
	validatePolicy(snap, result, refSeverity, lenient)
	validateEvidenceRefs(snap, result, refSeverity, lenient, logger)
	validateMappings(snap, result)

	// The sweep covers warnings from the per-entity checks that run during
	// decoding as well as the passes above.
	if strict {
		for i := range result.Violations {
			if result.Violations[i].Severity == ontology.SeverityWarn {
				result.Violations[i].Severity = ontology.SeverityBlock
			}
		}
	}
}

func validateTaxaRefs(snap *Snapshot, result *ontology.Result) {
	for _, id := range sortedKeys(snap.Taxa) {
		taxon := snap.Taxa[id]
		if taxon.IsRoot() {
			continue
		}
		if _, ok := snap.Taxa[taxon.Parent]; !ok {
			violation(result, ontology.Violation{
				Check:    "missing_parent",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("taxon %q parent %q does not exist", taxon.ID, taxon.Parent),
				Entity:   ontology.EntityTaxon,
				EntityID: taxon.ID,
			})
		}
	}
}

func validatePartRefs(snap *Snapshot, result *ontology.Result, refSeverity ontology.Severity, lenient bool) {
	for _, id := range sortedKeys(snap.Parts) {
		part := snap.Parts[id]
		if part.ParentID != "" {
			if _, ok := snap.Parts[part.ParentID]; !ok {
				violation(result, ontology.Violation{
					Check:    "missing_parent",
					Severity: ontology.SeverityBlock,
					Message:  fmt.Sprintf("part %q parent %q does not exist", part.ID, part.ParentID),
					Entity:   ontology.EntityPart,
					EntityID: part.ID,
				})
			}
		}
		for _, trID := range part.ProtoPath {
			tr, ok := snap.Transforms[trID]
			if !ok {
				violation(result, ontology.Violation{
					Check:    "unknown_proto_transform",
					Severity: refSeverity,
					Message:  fmt.Sprintf("part %q proto_path names unknown transform %q", part.ID, trID),
					Entity:   ontology.EntityPart,
					EntityID: part.ID,
				})
				continue
			}
			if tr.Identity {
				violation(result, ontology.Violation{
					Check:    "identity_transform_in_proto_path",
					Severity: ontology.SeverityBlock,
					Message:  fmt.Sprintf("part %q proto_path includes identity-bearing transform %q", part.ID, trID),
					Entity:   ontology.EntityPart,
					EntityID: part.ID,
				})
			}
		}
		for _, byID := range part.Byproducts {
			if _, ok := snap.Parts[byID]; !ok {
				violation(result, ontology.Violation{
					Check:    "unknown_byproduct",
					Severity: refSeverity,
					Message:  fmt.Sprintf("part %q byproduct %q does not exist", part.ID, byID),
					Entity:   ontology.EntityPart,
					EntityID: part.ID,
				})
			}
		}
	}
	detectPartCycles(snap, result)
}

// detectPartCycles walks parent pointers with the usual three-state visit
// so shared ancestry is not revisited.
func detectPartCycles(snap *Snapshot, result *ontology.Result) {
	const (
		unseen = 0
		active = 1
		done   = 2
	)
	state := make(map[string]int, len(snap.Parts))
	var walk func(id string) bool
	walk = func(id string) bool {
		switch state[id] {
		case active:
			return true
		case done:
			return false
		}
		state[id] = active
		part, ok := snap.Parts[id]
		if ok && part.ParentID != "" {
			if _, exists := snap.Parts[part.ParentID]; exists {
				if walk(part.ParentID) {
					state[id] = done
					return true
				}
			}
		}
		state[id] = done
		return false
	}
	for _, id := range sortedKeys(snap.Parts) {
		if state[id] != unseen {
			continue
		}
		if walk(id) {
			violation(result, ontology.Violation{
				Check:    "cycle",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("part hierarchy cycle involving %q", id),
				Entity:   ontology.EntityPart,
				EntityID: id,
			})
		}
	}
}

// scopeMatches reports whether any ID in the sorted slice falls under the
// lineage prefix.
func scopeMatches(sortedIDs []string, prefix string) bool {
	if prefix == "" {
		return false
	}
	idx := sort.SearchStrings(sortedIDs, prefix)
	if idx < len(sortedIDs) && sortedIDs[idx] == prefix {
		return true
	}
	withColon := prefix + ":"
	idx = sort.SearchStrings(sortedIDs, withColon)
	return idx < len(sortedIDs) && strings.HasPrefix(sortedIDs[idx], withColon)
}

func validateRules(snap *Snapshot, result *ontology.Result, refSeverity ontology.Severity, lenient bool, logger *slog.Logger) {
	all := snap.PartRules
	snap.PartRules = nil
	taxaIDs := sortedKeys(snap.Taxa)

	for _, rule := range all {
		_, isPart := snap.Parts[rule.Target]
		_, isTransform := snap.Transforms[rule.Target]
		switch {
		case isPart && isTransform:
			violation(result, ontology.Violation{
				Check:    "ambiguous_target",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("rule target %q names both a part and a transform", rule.Target),
				Entity:   ontology.EntityRule,
				EntityID: rule.Target,
				Source:   rule.Source,
			})
			continue
		case !isPart && !isTransform:
			violation(result, ontology.Violation{
				Check:    "unknown_target",
				Severity: refSeverity,
				Message:  fmt.Sprintf("rule target %q names no part or transform", rule.Target),
				Entity:   ontology.EntityRule,
				EntityID: rule.Target,
				Source:   rule.Source,
			})
			if lenient {
				logger.Warn("dropping rule with unknown target", "target", rule.Target, "source", rule.Source.String())
			}
			continue
		}

		for _, prefix := range append(append([]string{}, rule.AppliesTo...), rule.Exclude...) {
			if !scopeMatches(taxaIDs, prefix) {
				violation(result, ontology.Violation{
					Check:    "dangling_scope",
					Severity: ontology.SeverityWarn,
					Message:  fmt.Sprintf("rule %q scope %q matches no taxon", rule.Target, prefix),
					Entity:   ontology.EntityRule,
					EntityID: rule.Target,
					Source:   rule.Source,
				})
			}
		}

		if isPart {
			if len(rule.Parts) > 0 {
				violation(result, ontology.Violation{
					Check:    "parts_scope_on_part_rule",
					Severity: ontology.SeverityBlock,
					Message:  fmt.Sprintf("part rule %q must not carry a parts scope", rule.Target),
					Entity:   ontology.EntityRule,
					EntityID: rule.Target,
					Source:   rule.Source,
				})
				continue
			}
			snap.PartRules = append(snap.PartRules, rule)
			continue
		}

		// Transform rule: resolve its part scope.
		hadScope := len(rule.Parts) > 0
		kept := rule.Parts[:0:0]
		for _, partID := range rule.Parts {
			if _, ok := snap.Parts[partID]; !ok {
				violation(result, ontology.Violation{
					Check:    "unknown_part_scope",
					Severity: refSeverity,
					Message:  fmt.Sprintf("rule %q parts scope names unknown part %q", rule.Target, partID),
					Entity:   ontology.EntityRule,
					EntityID: rule.Target,
					Source:   rule.Source,
				})
				continue
			}
			kept = append(kept, partID)
		}
		rule.Parts = kept
		if hadScope && len(rule.Parts) == 0 {
			// Every scoped part was invalid. Dropping the scope would
			// silently widen the rule to all parts, so the rule goes too.
			if lenient {
				logger.Warn("dropping transform rule with empty part scope", "target", rule.Target, "source", rule.Source.String())
			}
			continue
		}
		snap.TransformRules = append(snap.TransformRules, rule)
	}
}

func validatePolicy(snap *Snapshot, result *ontology.Result, refSeverity ontology.Severity, lenient bool) {
	keptAllow := snap.Policy.Allow[:0:0]
	for _, taxonID := range snap.Policy.Allow {
		if _, ok := snap.Taxa[taxonID]; !ok {
			violation(result, ontology.Violation{
				Check:    "unknown_taxon",
				Severity: refSeverity,
				Message:  fmt.Sprintf("policy allowlist names unknown taxon %q", taxonID),
				Entity:   ontology.EntityPolicy,
				EntityID: taxonID,
			})
			if lenient {
				continue
			}
		}
		keptAllow = append(keptAllow, taxonID)
	}
	snap.Policy.Allow = keptAllow

	keptBlock := snap.Policy.Block[:0:0]
	for _, pair := range snap.Policy.Block {
		_, taxonOK := snap.Taxa[pair.Taxon]
		_, partOK := snap.Parts[pair.Part]
		if !taxonOK || !partOK {
			violation(result, ontology.Violation{
				Check:    "unknown_pairing",
				Severity: refSeverity,
				Message:  fmt.Sprintf("policy blocklist pairing (%s, %s) references unknown ids", pair.Taxon, pair.Part),
				Entity:   ontology.EntityPolicy,
				EntityID: pair.Taxon + "/" + pair.Part,
			})
			if lenient {
				continue
			}
		}
		keptBlock = append(keptBlock, pair)
	}
	snap.Policy.Block = keptBlock
}

func validateEvidenceRefs(snap *Snapshot, result *ontology.Result, refSeverity ontology.Severity, lenient bool, logger *slog.Logger) {
	kept := snap.Evidence[:0:0]
	dropped := 0
	for _, rec := range snap.Evidence {
		_, sourceOK := snap.Sources[rec.SourceID]
		if !sourceOK {
			violation(result, ontology.Violation{
				Check:    "unknown_source",
				Severity: refSeverity,
				Message:  fmt.Sprintf("evidence source %q is not registered", rec.SourceID),
				Entity:   ontology.EntityEvidence,
				EntityID: rec.SourceID + "/" + rec.ExternalFoodID,
			})
		}
		_, nutrientOK := snap.Nutrients.Get(rec.NutrientID)
		if !nutrientOK {
			violation(result, ontology.Violation{
				Check:    "unknown_nutrient",
				Severity: refSeverity,
				Message:  fmt.Sprintf("evidence nutrient %q is not registered", rec.NutrientID),
				Entity:   ontology.EntityEvidence,
				EntityID: rec.SourceID + "/" + rec.ExternalFoodID,
			})
		}
		if lenient && (!sourceOK || !nutrientOK) {
			dropped++
			continue
		}
		kept = append(kept, rec)
	}
	snap.Evidence = kept
	if dropped > 0 {
		logger.Warn("dropped evidence rows with unknown references", "rows", dropped)
	}
}

func validateMappings(snap *Snapshot, result *ontology.Result) {
	for i, m := range snap.PriorMappings {
		if m.Confidence < 0 || m.Confidence > 1 {
			violation(result, ontology.Violation{
				Check:    "invalid_confidence",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("mapping %s/%s confidence %v outside [0,1]", m.SourceID, m.ExternalFoodID, m.Confidence),
				Entity:   ontology.EntityMapping,
				EntityID: m.SourceID + "/" + m.ExternalFoodID,
			})
			continue
		}
		switch m.Method {
		case ontology.ResolutionName, ontology.ResolutionConstructed, ontology.ResolutionManual:
		case "":
			if m.Mapped() {
				// Hand-written curation rows may omit the method.
				snap.PriorMappings[i].Method = ontology.ResolutionManual
			}
		default:
			violation(result, ontology.Violation{
				Check:    "unknown_method",
				Severity: ontology.SeverityBlock,
				Message:  fmt.Sprintf("mapping %s/%s method %q is not recognized", m.SourceID, m.ExternalFoodID, m.Method),
				Entity:   ontology.EntityMapping,
				EntityID: m.SourceID + "/" + m.ExternalFoodID,
			})
		}
	}
}
