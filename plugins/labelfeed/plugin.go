// Package labelfeed adapts a branded-product label feed: label-tier
// nutrition panels keyed by retailer product IDs. Label entries are
// overwhelmingly multi-ingredient, so the marker list is aggressive and
// most entries are expected to land unmapped as mixtures.
package labelfeed

import (
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

// Adapter implements sourceapi.Adapter for the label feed.
type Adapter struct{}

// New constructs the adapter.
func New() Adapter { return Adapter{} }

// Descriptor returns the source registration. Label panels report
// per-serving amounts; rows the feed does not restate per 100g are
// excluded during rollup.
func (Adapter) Descriptor() sourceapi.Descriptor {
	return sourceapi.Descriptor{
		ID:            "labelfeed",
		DisplayName:   "Branded Label Feed",
		Tier:          sourceapi.TierLabel,
		PublishedYear: 2024,
		DefaultBasis:  ontology.BasisPerServing,
	}
}

// PartHints covers the few single-ingredient forms label names spell out.
func (Adapter) PartHints() map[string]string {
	return map[string]string{
		"whole milk":  "milk",
		"milk":        "milk",
		"egg whites":  "egg",
		"eggs":        "egg",
		"fillet":      "muscle",
		"fillets":     "muscle",
		"breast":      "muscle",
		"olive oil":   "oil",
		"oil":         "oil",
		"juice":       "juice",
		"baby leaf":   "leaf",
		"spinach":     "leaf",
		"whole wheat": "seed",
	}
}

// TransformHints maps label preparation phrases to transform applications.
func (Adapter) TransformHints() map[string]sourceapi.TransformHint {
	return map[string]sourceapi.TransformHint{
		"smoked":       {Transform: "smoke"},
		"cured":        {Transform: "cure"},
		"dried":        {Transform: "dry"},
		"freeze dried": {Transform: "dry"},
		"fermented":    {Transform: "ferment"},
		"cultured":     {Transform: "ferment"},
		"roasted":      {Transform: "cook", Params: map[string]any{"method": "roast"}},
		"grilled":      {Transform: "cook", Params: map[string]any{"method": "grill"}},
	}
}

// MixtureMarkers lists tokens that mark multi-ingredient label entries.
func (Adapter) MixtureMarkers() []string {
	return []string{
		"bar",
		"cereal",
		"snack",
		"mix",
		"blend",
		"meal",
		"dinner",
		"pizza",
		"burger",
		"nuggets",
		"soup",
		"sauce",
		"dressing",
		"spread",
		"cookie",
		"cookies",
		"cake",
		"bread",
		"wrap",
		"smoothie",
		"shake",
		"flavored",
		"flavoured",
		"with",
	}
}
