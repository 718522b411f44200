package domain

import (
	"fmt"
	"strconv"
)

// ExperimentCondition es un escenario con nombre: persona objetivo + rasgo manipulado opcional.
// TargetTrait nil indica una condicion de control (baseline).
type ExperimentCondition struct {
	Name        string        `json:"name"`
	Persona     PersonaVector `json:"persona"`
	TargetTrait *TraitCode    `json:"target_trait,omitempty"`
}

// SensitivityPoint asocia una condicion de la familia con su magnitud buscada.
type SensitivityPoint struct {
	Condition string  `json:"condition"`
	Magnitude float64 `json:"magnitude"`
}

// SensitivityFamily es un grupo de condiciones que varian un unico rasgo en un (seed, order) fijo.
type SensitivityFamily struct {
	Trait     TraitCode          `json:"trait"`
	Seed      *int               `json:"seed"`
	OrderSeed *int               `json:"order_seed"`
	Points    []SensitivityPoint `json:"points"`
}

// ExperimentPlan define la matriz condicion x seed x order-seed.
type ExperimentPlan struct {
	ID          string                `json:"id"`
	Baseline    string                `json:"baseline"`
	Conditions  []ExperimentCondition `json:"conditions"`
	Seeds       []*int                `json:"seeds"`
	OrderSeeds  []*int                `json:"order_seeds"`
	Sensitivity *SensitivityFamily    `json:"sensitivity,omitempty"`
}

// Condition busca una condicion por nombre.
func (p ExperimentPlan) Condition(name string) (ExperimentCondition, bool) {
	for _, c := range p.Conditions {
		if c.Name == name {
			return c, true
		}
	}
	return ExperimentCondition{}, false
}

// SensitivityPair es un punto (magnitud buscada, media medida) del ajuste.
type SensitivityPair struct {
	Target    float64 `json:"target"`
	Measured  float64 `json:"measured"`
	Condition string  `json:"condition"`
}

// SensitivityFit es el ajuste lineal measured = slope*target + intercept.
type SensitivityFit struct {
	TargetTrait TraitCode         `json:"target_trait"`
	Pairs       []SensitivityPair `json:"pairs"`
	Slope       Float             `json:"slope"`
	Intercept   Float             `json:"intercept"`
	R2          Float             `json:"r2"`
}

// RunStatus marca si una combinacion termino bien o fallo.
type RunStatus string

const (
	RunStatusOK     RunStatus = "ok"
	RunStatusFailed RunStatus = "failed"
)

// SummaryRow es una fila de la tabla consolidada, una por (condition, seed, order).
type SummaryRow struct {
	Condition      string      `json:"condition"`
	UserID         string      `json:"user_id"`
	Seed           *int        `json:"seed"`
	OrderSeed      *int        `json:"order_seed"`
	Target         *TraitCode  `json:"target"`
	Status         RunStatus   `json:"status"`
	Means          TraitValues `json:"means"`
	Persona        TraitValues `json:"persona"`
	Correlation    Float       `json:"correlation"`
	MAE            Float       `json:"mae"`
	RMSE           Float       `json:"rmse"`
	Leakage        Float       `json:"leakage"`
	ValidRate      Float       `json:"valid_rate"`
	UnkCount       int         `json:"unk_count"`
	UnkRate        Float       `json:"unk_rate"`
	ExtremeBias    Float       `json:"extreme_bias"`
	ConsistencyStd Float       `json:"consistency_std"`
	AvgLatencyMS   Float       `json:"avg_latency_ms"`
	TotalTokens    int         `json:"total_tokens"`
	ResultsPath    string      `json:"results_path"`
	ReportPath     string      `json:"report_path,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// NewFailedRow arma la fila de una combinacion que no pudo completarse.
func NewFailedRow(cond ExperimentCondition, seed, order *int, err error) SummaryRow {
	return SummaryRow{
		Condition:      cond.Name,
		UserID:         cond.Name,
		Seed:           seed,
		OrderSeed:      order,
		Target:         cond.TargetTrait,
		Status:         RunStatusFailed,
		Means:          TraitValues{},
		Persona:        TraitValues{},
		Correlation:    NaN(),
		MAE:            NaN(),
		RMSE:           NaN(),
		Leakage:        NaN(),
		ValidRate:      NaN(),
		UnkRate:        NaN(),
		ExtremeBias:    NaN(),
		ConsistencyStd: NaN(),
		AvgLatencyMS:   NaN(),
		Error:          err.Error(),
	}
}

// ExperimentReport es lo que devuelve el orquestador al terminar la matriz.
type ExperimentReport struct {
	ExperimentID    string
	Rows            []SummaryRow
	Sensitivity     *SensitivityFit
	SensitivityPath string
}

// OptionalInt formatea un entero opcional; nil se escribe "None".
func OptionalInt(v *int) string {
	if v == nil {
		return "None"
	}
	return strconv.Itoa(*v)
}

// ParseOptionalInt es la inversa de OptionalInt.
func ParseOptionalInt(s string) (*int, error) {
	if s == "" || s == "None" || s == "null" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("entero invalido %q: %w", s, err)
	}
	return &v, nil
}

// IntPtr es un atajo para literales de planes y tests.
func IntPtr(v int) *int { return &v }

// TraitPtr es un atajo para literales de condiciones.
func TraitPtr(t TraitCode) *TraitCode { return &t }

// SameOptionalInt compara dos enteros opcionales.
func SameOptionalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// RunTag es el nombre base de los archivos de una combinacion.
func RunTag(condition string, seed, order *int) string {
	return fmt.Sprintf("%s__seed-%s__order-%s", condition, OptionalInt(seed), OptionalInt(order))
}

// CheckResult es el resultado de una compuerta de validacion.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// Verdict agrupa todas las compuertas; Passed solo si todas pasan.
type Verdict struct {
	Checks []CheckResult `json:"checks"`
	Passed bool          `json:"passed"`
}
