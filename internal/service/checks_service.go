package service

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"persona-eval/internal/domain"
	"persona-eval/internal/repository"
)

const (
	CheckMonotonicity = "monotonicity"
	CheckUnknownRate  = "unknown_rate"
	CheckSensitivity  = "sensitivity"
)

// ErrNoSummaryRows indica una tabla consolidada con encabezado pero sin filas.
var ErrNoSummaryRows = errors.New("no data found in summary table")

// ReadCheckRows lee la tabla consolidada; una tabla vacia es un prerequisito faltante.
func ReadCheckRows(path string) ([]domain.SummaryRow, error) {
	rows, err := repository.ReadSummary(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSummaryRows, path)
	}
	return rows, nil
}

// Thresholds son las cotas fijas de las compuertas de validacion.
type Thresholds struct {
	MonotonicityTolerance float64
	MinR2                 float64
	SlopeTolerance        float64
	MaxUnknownRate        float64
}

var DefaultThresholds = Thresholds{
	MonotonicityTolerance: 0.05,
	MinR2:                 0.85,
	SlopeTolerance:        0.25,
	MaxUnknownRate:        0.02,
}

// ChecksService evalua las tres compuertas sobre la tabla consolidada.
type ChecksService struct {
	thresholds Thresholds
	logger     *zap.Logger
}

func NewChecksService(thresholds Thresholds, logger *zap.Logger) *ChecksService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChecksService{thresholds: thresholds, logger: logger}
}

// Run evalua todas las compuertas; el veredicto pasa solo si pasan todas.
func (s *ChecksService) Run(rows []domain.SummaryRow, plan domain.ExperimentPlan, runsDir string) domain.Verdict {
	checks := []domain.CheckResult{
		s.CheckMonotonicity(rows, plan.Sensitivity),
		s.CheckUnknownRate(rows),
	}
	if plan.Sensitivity == nil {
		checks = append(checks, domain.CheckResult{
			Name:    CheckSensitivity,
			Passed:  false,
			Message: "no sensitivity family configured in the plan",
		})
	} else {
		checks = append(checks, s.CheckSensitivity(repository.SensitivityPath(runsDir, plan.Sensitivity.Trait)))
	}

	verdict := domain.Verdict{Checks: checks, Passed: true}
	for _, c := range checks {
		if !c.Passed {
			verdict.Passed = false
		}
		s.logger.Debug("check evaluated", zap.String("check", c.Name), zap.Bool("passed", c.Passed))
	}
	return verdict
}

// CheckMonotonicity exige que la media del rasgo crezca mas que la tolerancia entre
// condiciones consecutivas de la familia (ordenadas por magnitud). Con menos de 2 puntos pasa.
func (s *ChecksService) CheckMonotonicity(rows []domain.SummaryRow, family *domain.SensitivityFamily) domain.CheckResult {
	res := domain.CheckResult{Name: CheckMonotonicity}
	if family == nil {
		res.Passed = true
		res.Message = "no condition family configured"
		return res
	}

	points := append([]domain.SensitivityPoint(nil), family.Points...)
	sort.SliceStable(points, func(i, j int) bool { return points[i].Magnitude < points[j].Magnitude })

	type point struct {
		condition string
		mean      float64
	}
	var available []point
	for _, p := range points {
		var values []float64
		for _, row := range rows {
			if row.Condition != p.Condition || row.Status == domain.RunStatusFailed {
				continue
			}
			if v := row.Means.Get(family.Trait); v.Defined() {
				values = append(values, float64(v))
			}
		}
		if len(values) > 0 {
			available = append(available, point{condition: p.Condition, mean: mean(values)})
		}
	}

	if len(available) < 2 {
		res.Passed = true
		res.Message = "insufficient data for validation"
		return res
	}

	var violations, chain []string
	for i, p := range available {
		chain = append(chain, fmt.Sprintf("%s(%.3f)", p.condition, p.mean))
		if i == 0 {
			continue
		}
		prev := available[i-1]
		if p.mean <= prev.mean+s.thresholds.MonotonicityTolerance {
			violations = append(violations, fmt.Sprintf("%s(%.3f) >= %s(%.3f)", prev.condition, prev.mean, p.condition, p.mean))
		}
	}
	if len(violations) > 0 {
		res.Message = "monotonicity violation: " + strings.Join(violations, ", ")
		return res
	}
	res.Passed = true
	res.Message = "monotonicity ok: " + strings.Join(chain, " < ")
	return res
}

// CheckUnknownRate exige unk_rate <= maximo en cada fila; una tasa indefinida (fila fallida) viola.
// Sin filas no pasa.
func (s *ChecksService) CheckUnknownRate(rows []domain.SummaryRow) domain.CheckResult {
	res := domain.CheckResult{Name: CheckUnknownRate}
	if len(rows) == 0 {
		res.Message = ErrNoSummaryRows.Error()
		return res
	}

	var high []string
	maxRate := 0.0
	for _, row := range rows {
		label := fmt.Sprintf("%s/seed-%s/order-%s", row.Condition, domain.OptionalInt(row.Seed), domain.OptionalInt(row.OrderSeed))
		if !row.UnkRate.Defined() {
			high = append(high, label+" (undefined)")
			continue
		}
		rate := float64(row.UnkRate)
		maxRate = math.Max(maxRate, rate)
		if rate > s.thresholds.MaxUnknownRate {
			high = append(high, fmt.Sprintf("%s (%.3f)", label, rate))
		}
	}
	if len(high) > 0 {
		res.Message = fmt.Sprintf("unknown rate above %.3f: %s", s.thresholds.MaxUnknownRate, strings.Join(high, ", "))
		return res
	}
	res.Passed = true
	res.Message = fmt.Sprintf("unknown rates acceptable (max %.3f)", maxRate)
	return res
}

// CheckSensitivity lee el ajuste y exige r2 minimo y |slope - 1| acotado. NaN falla.
func (s *ChecksService) CheckSensitivity(path string) domain.CheckResult {
	res := domain.CheckResult{Name: CheckSensitivity}
	fit, err := repository.LoadSensitivity(path)
	if err != nil {
		res.Message = fmt.Sprintf("cannot read sensitivity artifact: %v", err)
		return res
	}
	if !fit.R2.Defined() || !fit.Slope.Defined() {
		res.Message = fmt.Sprintf("sensitivity fit undefined (%d points)", len(fit.Pairs))
		return res
	}

	r2, slope := float64(fit.R2), float64(fit.Slope)
	var issues []string
	if r2 < s.thresholds.MinR2 {
		issues = append(issues, fmt.Sprintf("r2=%.3f < %.2f", r2, s.thresholds.MinR2))
	}
	if dev := math.Abs(slope - 1); dev > s.thresholds.SlopeTolerance {
		issues = append(issues, fmt.Sprintf("|slope-1|=%.3f > %.2f", dev, s.thresholds.SlopeTolerance))
	}
	if len(issues) > 0 {
		res.Message = "sensitivity out of bounds: " + strings.Join(issues, ", ")
		return res
	}
	res.Passed = true
	res.Message = fmt.Sprintf("sensitivity ok (r2=%.3f, slope=%.3f)", r2, slope)
	return res
}
