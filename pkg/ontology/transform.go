package ontology

// ParamKind types a transform parameter value.
type ParamKind string

// Closed parameter kind vocabulary.
const (
	ParamString  ParamKind = "string"
	ParamNumber  ParamKind = "number"
	ParamInteger ParamKind = "integer"
	ParamBool    ParamKind = "bool"
	ParamEnum    ParamKind = "enum"
)

// Valid reports whether the kind belongs to the closed vocabulary.
func (k ParamKind) Valid() bool {
	switch k {
	case ParamString, ParamNumber, ParamInteger, ParamBool, ParamEnum:
		return true
	}
	return false
}

// ParamSpec declares one parameter of a transform. Identity marks parameters
// whose values participate in canonical node identity; all others are
// process covariates and are stripped during canonicalization.
type ParamSpec struct {
	Key      string    `json:"key" yaml:"key"`
	Kind     ParamKind `json:"kind" yaml:"kind"`
	Enum     []string  `json:"enum,omitempty" yaml:"enum,omitempty"`
	Min      *float64  `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64  `json:"max,omitempty" yaml:"max,omitempty"`
	Identity bool      `json:"identity_param" yaml:"identity_param"`
}

// Transform is a named processing operation. Identity-bearing transforms
// participate in canonical node identity; the Order key fixes their position
// when a chain is normalized, independent of authoring order.
type Transform struct {
	ID          string      `json:"id" yaml:"id"`
	DisplayName string      `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Identity    bool        `json:"identity" yaml:"identity"`
	Order       int         `json:"order" yaml:"order"`
	Aliases     []string    `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Params      []ParamSpec `json:"params,omitempty" yaml:"params,omitempty"`
}

// Param returns the parameter spec for key, if declared.
func (t Transform) Param(key string) (ParamSpec, bool) {
	for _, p := range t.Params {
		if p.Key == key {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// TransformUse is one requested application of a transform inside a chain,
// prior to normalization. Param values arrive as decoded JSON/YAML scalars
// and are validated against the transform's parameter schema during
// canonicalization.
type TransformUse struct {
	Transform string         `json:"transform" yaml:"transform"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}
