// Package fdc adapts the USDA FoodData Central corpus: analytical-tier
// evidence keyed by FDC IDs, with the comma-separated descriptor
// conventions its food names use ("Milk, whole, 3.25% milkfat").
package fdc

import (
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

// Adapter implements sourceapi.Adapter for FoodData Central.
type Adapter struct{}

// New constructs the adapter.
func New() Adapter { return Adapter{} }

// Descriptor returns the source registration. Authored sources.yaml
// entries may override the year as new FDC releases are ingested.
func (Adapter) Descriptor() sourceapi.Descriptor {
	return sourceapi.Descriptor{
		ID:            "fdc",
		DisplayName:   "USDA FoodData Central",
		Tier:          sourceapi.TierAnalytical,
		PublishedYear: 2019,
		DefaultBasis:  ontology.BasisPer100g,
	}
}

// PartHints maps FDC descriptor tokens to part IDs. Hints are proposals;
// the mapper still checks legality against the applicability tables.
func (Adapter) PartHints() map[string]string {
	return map[string]string{
		"milk":      "milk",
		"breast":    "muscle",
		"thigh":     "muscle",
		"drumstick": "muscle",
		"loin":      "muscle",
		"meat only": "muscle",
		"liver":     "liver",
		"egg":       "egg",
		"eggs":      "egg",
		"leaves":    "leaf",
		"greens":    "leaf",
		"root":      "root",
		"roots":     "root",
		"seeds":     "seed",
		"kernels":   "seed",
		"fruit":     "fruit",
		"juice":     "juice",
		"oil":       "oil",
	}
}

// TransformHints maps FDC preparation tokens to transform applications.
func (Adapter) TransformHints() map[string]sourceapi.TransformHint {
	return map[string]sourceapi.TransformHint{
		"boiled":     {Transform: "cook", Params: map[string]any{"method": "boil"}},
		"braised":    {Transform: "cook", Params: map[string]any{"method": "braise"}},
		"roasted":    {Transform: "cook", Params: map[string]any{"method": "roast"}},
		"grilled":    {Transform: "cook", Params: map[string]any{"method": "grill"}},
		"fried":      {Transform: "cook", Params: map[string]any{"method": "fry"}},
		"steamed":    {Transform: "cook", Params: map[string]any{"method": "steam"}},
		"dried":      {Transform: "dry"},
		"dehydrated": {Transform: "dry"},
		"smoked":     {Transform: "smoke"},
		"cured":      {Transform: "cure"},
		"fermented":  {Transform: "ferment"},
	}
}

// MixtureMarkers lists tokens that mark multi-ingredient FDC entries.
func (Adapter) MixtureMarkers() []string {
	return []string{
		"soup",
		"stew",
		"casserole",
		"salad",
		"sandwich",
		"pizza",
		"sauce",
		"gravy",
		"with",
		"mixed dishes",
	}
}
