package domain

import "strings"

// InventoryItem es una afirmacion del inventario MPI. Inmutable una vez cargada.
type InventoryItem struct {
	LabelRaw  string    `json:"label_raw"`
	Text      string    `json:"text"`
	TraitCode TraitCode `json:"label_ocean"`
	Key       int       `json:"key"` // 1 = directo, cualquier otro valor = inverso
}

// Reversed indica si el item puntua de forma inversa.
func (i InventoryItem) Reversed() bool { return i.Key != 1 }

// Choice es la opcion parseada de una respuesta: A..E o UNK.
type Choice string

const (
	ChoiceA       Choice = "A"
	ChoiceB       Choice = "B"
	ChoiceC       Choice = "C"
	ChoiceD       Choice = "D"
	ChoiceE       Choice = "E"
	ChoiceUnknown Choice = "UNK"
)

// Choices lista las cinco opciones validas en orden de la escala.
var Choices = []Choice{ChoiceA, ChoiceB, ChoiceC, ChoiceD, ChoiceE}

// NormalizeChoice restringe un string a las cinco letras validas; todo lo demas es UNK.
func NormalizeChoice(s string) Choice {
	switch c := Choice(strings.TrimSpace(s)); c {
	case ChoiceA, ChoiceB, ChoiceC, ChoiceD, ChoiceE:
		return c
	default:
		return ChoiceUnknown
	}
}

// Known indica si la opcion es una de las cinco letras.
func (c Choice) Known() bool { return NormalizeChoice(string(c)) != ChoiceUnknown }
