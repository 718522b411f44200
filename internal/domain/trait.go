package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// TraitCode identifica uno de los cinco rasgos del inventario (OCEAN).
type TraitCode string

const (
	TraitOpenness          TraitCode = "O"
	TraitConscientiousness TraitCode = "C"
	TraitExtraversion      TraitCode = "E"
	TraitAgreeableness     TraitCode = "A"
	TraitNeuroticism       TraitCode = "N"
)

// TraitOrder es el orden canonico para reportes, tablas y vectores.
var TraitOrder = []TraitCode{
	TraitOpenness,
	TraitConscientiousness,
	TraitExtraversion,
	TraitAgreeableness,
	TraitNeuroticism,
}

var traitNames = map[TraitCode]string{
	TraitOpenness:          "openness",
	TraitConscientiousness: "conscientiousness",
	TraitExtraversion:      "extraversion",
	TraitAgreeableness:     "agreeableness",
	TraitNeuroticism:       "neuroticism",
}

// Name devuelve el nombre largo del rasgo ("extraversion") o "unknown".
func (t TraitCode) Name() string {
	if name, ok := traitNames[t]; ok {
		return name
	}
	return "unknown"
}

// Valid indica si el codigo es uno de O, C, E, A, N.
func (t TraitCode) Valid() bool {
	_, ok := traitNames[t]
	return ok
}

// ParseTraitCode acepta el codigo corto ("E") o el nombre largo ("extraversion"), sin importar mayusculas.
func ParseTraitCode(s string) (TraitCode, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	code := TraitCode(strings.ToUpper(s))
	if code.Valid() {
		return code, true
	}
	lower := strings.ToLower(s)
	for c, name := range traitNames {
		if name == lower {
			return c, true
		}
	}
	return "", false
}

const (
	// PersonaMin y PersonaMax delimitan la escala de los vectores de persona.
	PersonaMin = 1.0
	PersonaMax = 5.0
	// PersonaDefault se usa cuando el valor viene vacio (null).
	PersonaDefault = 3.0
)

// PersonaVector contiene los valores objetivo por rasgo, siempre en [1,5].
type PersonaVector map[TraitCode]float64

// Clone devuelve una copia independiente del vector.
func (p PersonaVector) Clone() PersonaVector {
	out := make(PersonaVector, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Equal compara dos vectores con tolerancia absoluta.
func (p PersonaVector) Equal(other PersonaVector, tol float64) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		o, ok := other[k]
		if !ok || math.Abs(v-o) > tol {
			return false
		}
	}
	return true
}

// Complete devuelve una copia con los cinco rasgos; los que faltan valen PersonaDefault.
func (p PersonaVector) Complete() PersonaVector {
	out := make(PersonaVector, len(TraitOrder))
	for _, code := range TraitOrder {
		if v, ok := p[code]; ok {
			out[code] = v
		} else {
			out[code] = PersonaDefault
		}
	}
	return out
}

// NormalizePersona convierte un payload heterogeneo en un PersonaVector canonico.
// Acepta claves cortas o largas y valores numericos, strings numericos o {"value": x}.
// null se interpreta como 3.0; cualquier otro tipo como 0. Todo se recorta a [1,5].
// Las claves que no son rasgos se ignoran.
func NormalizePersona(raw map[string]any) PersonaVector {
	out := make(PersonaVector, len(raw))
	for key, value := range raw {
		code, ok := ParseTraitCode(key)
		if !ok {
			continue
		}
		out[code] = clampPersona(extractPersonaValue(value))
	}
	return out
}

func extractPersonaValue(value any) float64 {
	switch v := value.(type) {
	case nil:
		return PersonaDefault
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	case map[string]any:
		nested, ok := v["value"]
		if !ok {
			return 0
		}
		return extractPersonaValue(nested)
	default:
		return 0
	}
}

func clampPersona(v float64) float64 {
	if math.IsNaN(v) {
		return PersonaDefault
	}
	return math.Max(PersonaMin, math.Min(PersonaMax, v))
}
