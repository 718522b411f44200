package domain

// TraitSummary contiene las estadisticas de un rasgo sobre puntajes ya invertidos (escala 1-5).
type TraitSummary struct {
	Trait     TraitCode `json:"trait"`
	TraitName string    `json:"trait_name"`
	NItems    int       `json:"n_items"`
	Mean      Float     `json:"mean"`
	Std       Float     `json:"std"`
	Min       Float     `json:"min"`
	Max       Float     `json:"max"`
	Median    Float     `json:"median"`
	Scores    []float64 `json:"scores"`
}

// ItemAnalysis es el detalle de un item puntuado.
type ItemAnalysis struct {
	Index      int       `json:"index"`
	LabelRaw   string    `json:"label_raw"`
	TraitCode  TraitCode `json:"trait_code"`
	TraitName  string    `json:"trait_name"`
	ItemText   string    `json:"item_text"`
	Choice     Choice    `json:"choice"`
	RawScore   float64   `json:"raw_score"`
	Key        int       `json:"key"`
	FinalScore float64   `json:"final_score"`
	LatencyMS  int64     `json:"latency_ms"`
}

// UnknownItem es un item sin puntaje (UNK, error o rasgo invalido).
type UnknownItem struct {
	Index     int    `json:"index"`
	LabelRaw  string `json:"label_raw"`
	ItemText  string `json:"item_text"`
	RawOutput string `json:"raw_output"`
	Error     string `json:"error,omitempty"`
}

// AggregateTotals son los conteos globales de la corrida.
type AggregateTotals struct {
	Total          int     `json:"total_items"`
	Valid          int     `json:"valid_items"`
	Unknown        int     `json:"unk_items"`
	CompletionRate float64 `json:"completion_rate"`
}

// QualityMetrics mide sesgos y consistencia de las respuestas.
type QualityMetrics struct {
	ChoiceDistribution        map[Choice]float64 `json:"choice_distribution"`
	ExtremeResponseBias       Float              `json:"extreme_response_bias"`
	AvgWithinTraitConsistency Float              `json:"avg_within_trait_consistency"`
	ResponseVariability       Float              `json:"response_variability"`
}

// Aggregation es el resultado inmutable de agregar un RunArtifact.
type Aggregation struct {
	Totals       AggregateTotals            `json:"metadata"`
	ChoiceCounts map[Choice]int             `json:"choice_counts"`
	Traits       map[TraitCode]TraitSummary `json:"trait_summary"`
	Items        []ItemAnalysis             `json:"item_analysis"`
	UnknownItems []UnknownItem              `json:"unk_items"`
	Quality      QualityMetrics             `json:"quality_metrics"`
}

// Means devuelve la media de cada rasgo (NaN si no hubo items validos).
func (a Aggregation) Means() TraitValues {
	out := make(TraitValues, len(TraitOrder))
	for _, code := range TraitOrder {
		if s, ok := a.Traits[code]; ok {
			out[code] = s.Mean
			continue
		}
		out[code] = NaN()
	}
	return out
}

// UnknownRate es la fraccion de items sin puntaje.
func (a Aggregation) UnknownRate() Float {
	if a.Totals.Total == 0 {
		return NaN()
	}
	return Float(float64(a.Totals.Unknown) / float64(a.Totals.Total))
}

// TraitComparison compara la media medida con el valor objetivo de un rasgo.
type TraitComparison struct {
	TraitName     string  `json:"trait_name"`
	PersonaValue  float64 `json:"persona_value"`
	MeasuredValue float64 `json:"measured_value"`
	Error         float64 `json:"error"`
	AbsError      float64 `json:"abs_error"`
	RelativeError Float   `json:"relative_error"`
	NItems        int     `json:"n_items"`
	Std           Float   `json:"std"`
}

// Comparison es el resultado de comparar una agregacion contra un PersonaVector.
type Comparison struct {
	Persona        PersonaVector                 `json:"persona_snapshot"`
	Traits         map[TraitCode]TraitComparison `json:"trait_comparisons"`
	Correlation    Float                         `json:"correlation"`
	MAE            Float                         `json:"mean_absolute_error"`
	RMSE           Float                         `json:"root_mean_square_error"`
	TraitsCompared int                           `json:"traits_compared"`
}
