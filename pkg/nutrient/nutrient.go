// Package nutrient defines the canonical cross-source nutrient registry and
// the unit conversions the rollup engine relies on.
package nutrient

import (
	"fmt"
	"sort"
	"strings"
)

// Class groups nutrients for cross-checks and reporting.
type Class string

// Closed nutrient class vocabulary.
const (
	ClassEnergy  Class = "energy"
	ClassMacro   Class = "macro"
	ClassMineral Class = "mineral"
	ClassVitamin Class = "vitamin"
	ClassOther   Class = "other"
)

// Valid reports whether the class belongs to the closed vocabulary.
func (c Class) Valid() bool {
	switch c {
	case ClassEnergy, ClassMacro, ClassMineral, ClassVitamin, ClassOther:
		return true
	}
	return false
}

// MacroRole names the role a macro nutrient plays in energy reconciliation.
type MacroRole string

// Macro roles used by the Atwater energy cross-check.
const (
	MacroProtein      MacroRole = "protein"
	MacroFat          MacroRole = "fat"
	MacroCarbohydrate MacroRole = "carbohydrate"
	MacroAlcohol      MacroRole = "alcohol"
)

// Nutrient is one canonical registry entry. Unit is the canonical unit all
// profile values for this nutrient are expressed in. IUFactor, when set,
// converts an amount in international units to the canonical unit.
type Nutrient struct {
	ID          string    `json:"id" yaml:"id"`
	DisplayName string    `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Unit        string    `json:"unit" yaml:"unit"`
	Class       Class     `json:"class" yaml:"class"`
	MacroRole   MacroRole `json:"macro_role,omitempty" yaml:"macro_role,omitempty"`
	IUFactor    *float64  `json:"iu_factor,omitempty" yaml:"iu_factor,omitempty"`
}

// Registry indexes the canonical nutrients of a build.
type Registry struct {
	byID    map[string]Nutrient
	ordered []string
	energy  string
	macros  map[MacroRole]string
}

// NewRegistry validates and indexes the given nutrients. Duplicate IDs,
// unknown classes, missing canonical units, and a second energy entry are
// rejected.
func NewRegistry(nutrients []Nutrient) (*Registry, error) {
	r := &Registry{
		byID:   make(map[string]Nutrient, len(nutrients)),
		macros: make(map[MacroRole]string),
	}
	for _, n := range nutrients {
		if n.ID == "" {
			return nil, fmt.Errorf("nutrient with empty id")
		}
		if _, exists := r.byID[n.ID]; exists {
			return nil, fmt.Errorf("duplicate nutrient id %q", n.ID)
		}
		if !n.Class.Valid() {
			return nil, fmt.Errorf("nutrient %q: unknown class %q", n.ID, n.Class)
		}
		if NormalizeUnit(n.Unit) == "" {
			return nil, fmt.Errorf("nutrient %q: missing canonical unit", n.ID)
		}
		if n.Class == ClassEnergy {
			if r.energy != "" {
				return nil, fmt.Errorf("second energy nutrient %q (already %q)", n.ID, r.energy)
			}
			r.energy = n.ID
		}
		if n.MacroRole != "" {
			if prev, ok := r.macros[n.MacroRole]; ok {
				return nil, fmt.Errorf("macro role %q claimed by both %q and %q", n.MacroRole, prev, n.ID)
			}
			r.macros[n.MacroRole] = n.ID
		}
		r.byID[n.ID] = n
		r.ordered = append(r.ordered, n.ID)
	}
	sort.Strings(r.ordered)
	return r, nil
}

// Get returns the nutrient for id, if registered.
func (r *Registry) Get(id string) (Nutrient, bool) {
	n, ok := r.byID[id]
	return n, ok
}

// IDs returns all registered nutrient IDs in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered nutrients.
func (r *Registry) Len() int { return len(r.byID) }

// EnergyID returns the ID of the energy nutrient, if one is registered.
func (r *Registry) EnergyID() (string, bool) {
	return r.energy, r.energy != ""
}

// MacroID returns the nutrient ID holding the given macro role.
func (r *Registry) MacroID(role MacroRole) (string, bool) {
	id, ok := r.macros[role]
	return id, ok
}

// Convert expresses amount, reported in unit, in the nutrient's canonical
// unit. The second return is false when no conversion exists; callers treat
// that as an exclusion, never as silence.
func (r *Registry) Convert(n Nutrient, amount float64, unit string) (float64, bool) {
	from := NormalizeUnit(unit)
	to := NormalizeUnit(n.Unit)
	if from == "" || to == "" {
		return 0, false
	}
	if from == to {
		return amount, true
	}
	if from == "iu" {
		if n.IUFactor == nil {
			return 0, false
		}
		return amount * *n.IUFactor, true
	}
	if fromMG, ok := massInMilligrams[from]; ok {
		toMG, ok := massInMilligrams[to]
		if !ok {
			return 0, false
		}
		return amount * fromMG / toMG, true
	}
	if fromKcal, ok := energyInKcal[from]; ok {
		toKcal, ok := energyInKcal[to]
		if !ok {
			return 0, false
		}
		return amount * fromKcal / toKcal, true
	}
	return 0, false
}

var massInMilligrams = map[string]float64{
	"kg": 1e6,
	"g":  1e3,
	"mg": 1,
	"ug": 1e-3,
}

var energyInKcal = map[string]float64{
	"kcal": 1,
	"kj":   1 / 4.184,
}

// NormalizeUnit folds unit spellings to the canonical token set. Unknown
// units normalize to the lower-cased input so diagnostics keep the token.
func NormalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch u {
	case "µg", "mcg":
		return "ug"
	case "iu", "i.u.":
		return "iu"
	}
	return u
}

// Default returns the registry used when no nutrients.yaml is authored. IDs
// follow the canonical slug convention used across evidence sources.
func Default() *Registry {
	f := func(v float64) *float64 { return &v }
	r, err := NewRegistry([]Nutrient{
		{ID: "energy", DisplayName: "Energy", Unit: "kcal", Class: ClassEnergy},
		{ID: "protein", DisplayName: "Protein", Unit: "g", Class: ClassMacro, MacroRole: MacroProtein},
		{ID: "fat", DisplayName: "Total fat", Unit: "g", Class: ClassMacro, MacroRole: MacroFat},
		{ID: "carbohydrate", DisplayName: "Carbohydrate", Unit: "g", Class: ClassMacro, MacroRole: MacroCarbohydrate},
		{ID: "fiber", DisplayName: "Dietary fiber", Unit: "g", Class: ClassMacro},
		{ID: "sugar", DisplayName: "Total sugars", Unit: "g", Class: ClassMacro},
		{ID: "water", DisplayName: "Water", Unit: "g", Class: ClassOther},
		{ID: "sodium", DisplayName: "Sodium", Unit: "mg", Class: ClassMineral},
		{ID: "calcium", DisplayName: "Calcium", Unit: "mg", Class: ClassMineral},
		{ID: "iron", DisplayName: "Iron", Unit: "mg", Class: ClassMineral},
		{ID: "vitamin_c", DisplayName: "Vitamin C", Unit: "mg", Class: ClassVitamin},
		{ID: "vitamin_d", DisplayName: "Vitamin D", Unit: "ug", Class: ClassVitamin, IUFactor: f(0.025)},
	})
	if err != nil {
		panic(err)
	}
	return r
}
