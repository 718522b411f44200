package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"persona-eval/internal/domain"
	"persona-eval/internal/persona"
	"persona-eval/internal/repository"
)

// personaTolerance es la diferencia maxima aceptada entre la persona pedida y la leida.
const personaTolerance = 1e-6

// AssessmentRunner es lo que el orquestador necesita del runner.
type AssessmentRunner interface {
	Run(ctx context.Context, items []domain.InventoryItem, opts RunOptions) (domain.RunArtifact, error)
}

// ExperimentOptions son los parametros fijos de una matriz.
type ExperimentOptions struct {
	Inventory      repository.Inventory
	SummaryPath    string
	RunsDir        string
	StrictOutput   bool
	RetryOnUnknown bool
	FormatID       string
}

// ExperimentService recorre la matriz condicion x seed x order-seed.
type ExperimentService struct {
	personas  persona.Store
	runner    AssessmentRunner
	artifacts *repository.ArtifactStore
	cache     BaselineCache
	mirror    repository.SummaryMirror
	logger    *zap.Logger
}

// NewExperimentService arma el orquestador. cache nil usa memoria; mirror es opcional.
func NewExperimentService(
	personas persona.Store,
	runner AssessmentRunner,
	artifacts *repository.ArtifactStore,
	cache BaselineCache,
	mirror repository.SummaryMirror,
	logger *zap.Logger,
) *ExperimentService {
	if cache == nil {
		cache = NewMemoryBaselineCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExperimentService{
		personas:  personas,
		runner:    runner,
		artifacts: artifacts,
		cache:     cache,
		mirror:    mirror,
		logger:    logger,
	}
}

// OrderedConditions devuelve el baseline primero y luego el resto en el orden del plan.
func OrderedConditions(plan domain.ExperimentPlan) []domain.ExperimentCondition {
	ordered := make([]domain.ExperimentCondition, 0, len(plan.Conditions))
	if base, ok := plan.Condition(plan.Baseline); ok {
		ordered = append(ordered, base)
	}
	for _, c := range plan.Conditions {
		if c.Name != plan.Baseline {
			ordered = append(ordered, c)
		}
	}
	return ordered
}

// Run ejecuta la matriz completa. Cada combinacion agrega exactamente una fila a la tabla
// (ok o failed) antes de pasar a la siguiente; solo la cancelacion o un error de escritura
// de la tabla cortan el recorrido.
func (s *ExperimentService) Run(ctx context.Context, plan domain.ExperimentPlan, opts ExperimentOptions) (domain.ExperimentReport, error) {
	report := domain.ExperimentReport{ExperimentID: fmt.Sprintf("%s-%s", plan.ID, uuid.NewString()[:8])}

	appender, err := repository.OpenSummaryAppender(opts.SummaryPath)
	if err != nil {
		return report, err
	}
	defer appender.Close()

	logger := s.logger.With(zap.String("experiment_id", report.ExperimentID))
	logger.Info("experiment started",
		zap.Int("conditions", len(plan.Conditions)),
		zap.Int("seeds", len(plan.Seeds)),
		zap.Int("order_seeds", len(plan.OrderSeeds)),
	)

	for _, cond := range OrderedConditions(plan) {
		configured, cfgErr := s.configurePersona(ctx, cond)
		if cfgErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			logger.Warn("persona configuration failed", zap.String("condition", cond.Name), zap.Error(cfgErr))
		}

		for _, seed := range plan.Seeds {
			for _, order := range plan.OrderSeeds {
				var row domain.SummaryRow
				if cfgErr != nil {
					row = domain.NewFailedRow(cond, seed, order, fmt.Errorf("configure persona: %w", cfgErr))
				} else {
					var runErr error
					row, runErr = s.runCombination(ctx, report.ExperimentID, plan, cond, configured, seed, order, opts)
					if runErr != nil {
						if ctxErr := ctx.Err(); ctxErr != nil {
							return report, ctxErr
						}
						logger.Warn("combination failed",
							zap.String("condition", cond.Name),
							zap.String("seed", domain.OptionalInt(seed)),
							zap.String("order_seed", domain.OptionalInt(order)),
							zap.Error(runErr),
						)
						row = domain.NewFailedRow(cond, seed, order, runErr)
					}
				}

				if err := appender.Append(row); err != nil {
					return report, err
				}
				s.mirrorRow(ctx, report.ExperimentID, row)
				report.Rows = append(report.Rows, row)
			}
		}
	}

	if plan.Sensitivity != nil {
		fit := SensitivityFromRows(*plan.Sensitivity, report.Rows)
		path := repository.SensitivityPath(opts.RunsDir, plan.Sensitivity.Trait)
		if err := repository.SaveSensitivity(path, fit); err != nil {
			return report, err
		}
		report.Sensitivity = &fit
		report.SensitivityPath = path
		logger.Info("sensitivity fit",
			zap.String("trait", string(fit.TargetTrait)),
			zap.Int("points", len(fit.Pairs)),
			zap.Float64("slope", float64(fit.Slope)),
			zap.Float64("r2", float64(fit.R2)),
		)
	}

	logger.Info("experiment completed", zap.Int("rows", len(report.Rows)))
	return report, nil
}

// configurePersona crea la persona (idempotente), actualiza cada rasgo y lee el vector aplicado.
// El vector leido es el objetivo de la comparacion; una diferencia con el pedido solo se registra.
func (s *ExperimentService) configurePersona(ctx context.Context, cond domain.ExperimentCondition) (domain.PersonaVector, error) {
	if err := s.personas.Create(ctx, cond.Name); err != nil {
		return nil, fmt.Errorf("create persona: %w", err)
	}
	for _, code := range domain.TraitOrder {
		value, ok := cond.Persona[code]
		if !ok {
			continue
		}
		if err := s.personas.UpdateTrait(ctx, cond.Name, code, value); err != nil {
			return nil, fmt.Errorf("update %s: %w", code.Name(), err)
		}
	}
	applied, err := s.personas.Get(ctx, cond.Name)
	if err != nil {
		return nil, fmt.Errorf("read back persona: %w", err)
	}

	if !pick(applied, cond.Persona).Equal(cond.Persona, personaTolerance) {
		s.logger.Warn("persona read-back differs from intended",
			zap.String("condition", cond.Name),
			zap.Any("intended", cond.Persona),
			zap.Any("applied", applied),
		)
	}
	return applied, nil
}

// pick devuelve los valores de src para las claves de keys.
func pick(src, keys domain.PersonaVector) domain.PersonaVector {
	out := make(domain.PersonaVector, len(keys))
	for code := range keys {
		if v, ok := src[code]; ok {
			out[code] = v
		}
	}
	return out
}

func (s *ExperimentService) runCombination(
	ctx context.Context,
	experimentID string,
	plan domain.ExperimentPlan,
	cond domain.ExperimentCondition,
	applied domain.PersonaVector,
	seed, order *int,
	opts ExperimentOptions,
) (domain.SummaryRow, error) {
	artifact, err := s.runner.Run(ctx, opts.Inventory.Items, RunOptions{
		UserID:               cond.Name,
		Seed:                 seed,
		StrictOutput:         opts.StrictOutput,
		FormatID:             opts.FormatID,
		ItemOrderSeed:        order,
		RetryOnUnknown:       opts.RetryOnUnknown,
		InventoryPath:        opts.Inventory.Path,
		InventoryFingerprint: opts.Inventory.Fingerprint,
		ExperimentID:         experimentID,
		Condition:            cond.Name,
		TargetTrait:          cond.TargetTrait,
		BaselineCondition:    plan.Baseline,
		Persona:              applied,
	})
	if err != nil {
		return domain.SummaryRow{}, fmt.Errorf("run assessment: %w", err)
	}

	resultsPath, err := s.artifacts.Save(cond.Name, domain.RunTag(cond.Name, seed, order), artifact)
	if err != nil {
		return domain.SummaryRow{}, err
	}

	agg := Aggregate(artifact)
	cmp := Compare(agg, applied)
	reportPath, err := s.artifacts.SaveReport(resultsPath, RenderReport(artifact, agg, &cmp))
	if err != nil {
		s.logger.Warn("report not written", zap.String("path", resultsPath), zap.Error(err))
		reportPath = ""
	}

	means := agg.Means()
	if cond.Name == plan.Baseline {
		if err := s.cache.Put(ctx, experimentID, seed, order, means); err != nil {
			s.logger.Warn("baseline cache put failed", zap.Error(err))
		}
	}

	var baseline domain.TraitValues
	if cond.TargetTrait != nil {
		cached, ok, err := s.cache.Get(ctx, experimentID, seed, order)
		switch {
		case err != nil:
			s.logger.Warn("baseline cache get failed", zap.Error(err))
		case !ok:
			s.logger.Warn("no baseline cached",
				zap.String("condition", cond.Name),
				zap.String("seed", domain.OptionalInt(seed)),
				zap.String("order_seed", domain.OptionalInt(order)),
			)
		default:
			baseline = cached
		}
	}

	row := buildSummaryRow(cond.Name, artifact, agg, cmp, Leakage(means, baseline, cond.TargetTrait), resultsPath, reportPath)
	s.logger.Info("combination completed",
		zap.String("condition", cond.Name),
		zap.String("seed", domain.OptionalInt(seed)),
		zap.String("order_seed", domain.OptionalInt(order)),
		zap.Float64("rmse", float64(row.RMSE)),
		zap.Float64("unk_rate", float64(row.UnkRate)),
	)
	return row, nil
}

func (s *ExperimentService) mirrorRow(ctx context.Context, experimentID string, row domain.SummaryRow) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Insert(ctx, experimentID, row); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("summary mirror insert failed", zap.String("condition", row.Condition), zap.Error(err))
	}
}

// SensitivityFromRows arma el ajuste con las filas ok de la familia en su (seed, order) fijo.
func SensitivityFromRows(family domain.SensitivityFamily, rows []domain.SummaryRow) domain.SensitivityFit {
	var pairs []domain.SensitivityPair
	for _, p := range family.Points {
		for _, row := range rows {
			if row.Condition != p.Condition || row.Status != domain.RunStatusOK {
				continue
			}
			if !domain.SameOptionalInt(row.Seed, family.Seed) || !domain.SameOptionalInt(row.OrderSeed, family.OrderSeed) {
				continue
			}
			m := row.Means.Get(family.Trait)
			if !m.Defined() {
				continue
			}
			pairs = append(pairs, domain.SensitivityPair{Target: p.Magnitude, Measured: float64(m), Condition: p.Condition})
			break
		}
	}
	return FitSensitivity(family.Trait, pairs)
}
