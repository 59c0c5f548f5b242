package nutrient

import (
	"math"
	"testing"
)

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Nutrient{
		{ID: "protein", Unit: "g", Class: ClassMacro},
		{ID: "protein", Unit: "g", Class: ClassMacro},
	})
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestNewRegistryRejectsSecondEnergy(t *testing.T) {
	_, err := NewRegistry([]Nutrient{
		{ID: "energy", Unit: "kcal", Class: ClassEnergy},
		{ID: "energy_kj", Unit: "kj", Class: ClassEnergy},
	})
	if err == nil {
		t.Fatalf("expected second energy error")
	}
}

func TestNewRegistryRejectsUnknownClass(t *testing.T) {
	_, err := NewRegistry([]Nutrient{{ID: "mystery", Unit: "g", Class: Class("phlogiston")}})
	if err == nil {
		t.Fatalf("expected class error")
	}
}

func TestConvertMassAndEnergy(t *testing.T) {
	reg := Default()
	sodium, _ := reg.Get("sodium")
	got, ok := reg.Convert(sodium, 1.2, "g")
	if !ok || math.Abs(got-1200) > 1e-9 {
		t.Fatalf("g to mg: got %v ok=%v", got, ok)
	}
	got, ok = reg.Convert(sodium, 850, "µg")
	if !ok || math.Abs(got-0.85) > 1e-9 {
		t.Fatalf("µg alias to mg: got %v ok=%v", got, ok)
	}
	energy, _ := reg.Get("energy")
	got, ok = reg.Convert(energy, 418.4, "kJ")
	if !ok || math.Abs(got-100) > 1e-9 {
		t.Fatalf("kJ to kcal: got %v ok=%v", got, ok)
	}
	if got, ok := reg.Convert(energy, 100, "kcal"); !ok || got != 100 {
		t.Fatalf("same unit should pass through, got %v ok=%v", got, ok)
	}
}

func TestConvertIU(t *testing.T) {
	reg := Default()
	vitD, _ := reg.Get("vitamin_d")
	got, ok := reg.Convert(vitD, 400, "IU")
	if !ok || math.Abs(got-10) > 1e-9 {
		t.Fatalf("vitamin D IU: got %v ok=%v", got, ok)
	}
	protein, _ := reg.Get("protein")
	if _, ok := reg.Convert(protein, 400, "IU"); ok {
		t.Fatalf("IU without factor must be unconvertible")
	}
}

func TestConvertUnconvertible(t *testing.T) {
	reg := Default()
	protein, _ := reg.Get("protein")
	if _, ok := reg.Convert(protein, 5, "kcal"); ok {
		t.Fatalf("energy unit into mass nutrient must fail")
	}
	if _, ok := reg.Convert(protein, 5, "cup"); ok {
		t.Fatalf("unknown unit must fail")
	}
}

func TestRegistryLookups(t *testing.T) {
	reg := Default()
	if id, ok := reg.EnergyID(); !ok || id != "energy" {
		t.Fatalf("energy lookup: %q %v", id, ok)
	}
	if id, ok := reg.MacroID(MacroFat); !ok || id != "fat" {
		t.Fatalf("macro lookup: %q %v", id, ok)
	}
	if _, ok := reg.MacroID(MacroAlcohol); ok {
		t.Fatalf("alcohol not in default registry")
	}
	ids := reg.IDs()
	if len(ids) != reg.Len() {
		t.Fatalf("IDs length mismatch")
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("IDs not sorted: %v", ids)
		}
	}
}
