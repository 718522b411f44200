package domain

import (
	"encoding/json"
	"math"
	"strconv"
)

// Float es un float64 que se serializa como null cuando no esta definido (NaN o Inf).
// Las metricas con datos insuficientes se representan como NaN, nunca como cero.
type Float float64

// NaN devuelve un Float no definido.
func NaN() Float { return Float(math.NaN()) }

// Defined indica si el valor es finito.
func (f Float) Defined() bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Defined() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(f), 'f', -1, 64), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = NaN()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// TraitValues agrupa un valor por rasgo (medias medidas, persona en filas de resumen).
type TraitValues map[TraitCode]Float

// Get devuelve el valor del rasgo o NaN si no existe.
func (t TraitValues) Get(code TraitCode) Float {
	if v, ok := t[code]; ok {
		return v
	}
	return NaN()
}
