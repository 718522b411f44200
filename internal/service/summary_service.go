package service

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"persona-eval/internal/domain"
	"persona-eval/internal/repository"
)

// buildSummaryRow es el unico lugar donde se arma una fila ok; lo usan el orquestador y el scanner.
func buildSummaryRow(
	condition string,
	artifact domain.RunArtifact,
	agg domain.Aggregation,
	cmp domain.Comparison,
	leakage domain.Float,
	resultsPath, reportPath string,
) domain.SummaryRow {
	cfg := artifact.Metadata.Configuration
	personaValues := make(domain.TraitValues, len(domain.TraitOrder))
	for _, code := range domain.TraitOrder {
		if v, ok := cmp.Persona[code]; ok {
			personaValues[code] = domain.Float(v)
		} else {
			personaValues[code] = domain.NaN()
		}
	}
	avgLatency, prompt, completion := latencyTokens(artifact.Results)
	validRate := domain.Float(agg.Totals.CompletionRate)

	return domain.SummaryRow{
		Condition:      condition,
		UserID:         artifact.Metadata.UserID,
		Seed:           cfg.Seed,
		OrderSeed:      cfg.ItemOrderSeed,
		Target:         cfg.TargetTrait,
		Status:         domain.RunStatusOK,
		Means:          agg.Means(),
		Persona:        personaValues,
		Correlation:    cmp.Correlation,
		MAE:            cmp.MAE,
		RMSE:           cmp.RMSE,
		Leakage:        leakage,
		ValidRate:      validRate,
		UnkCount:       agg.Totals.Unknown,
		UnkRate:        agg.UnknownRate(),
		ExtremeBias:    agg.Quality.ExtremeResponseBias,
		ConsistencyStd: agg.Quality.AvgWithinTraitConsistency,
		AvgLatencyMS:   avgLatency,
		TotalTokens:    prompt + completion,
		ResultsPath:    resultsPath,
		ReportPath:     reportPath,
	}
}

var runTagPattern = regexp.MustCompile(`^(.+)__seed-([^_]+)__order-([^_]+)$`)

// SummaryService reconstruye la tabla consolidada a partir de los artefactos en disco.
// Nunca lee los reportes markdown.
type SummaryService struct {
	logger *zap.Logger
}

func NewSummaryService(logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{logger: logger}
}

type scannedRun struct {
	ref       repository.ArtifactRef
	artifact  domain.RunArtifact
	condition string
	seed      *int
	order     *int
	agg       domain.Aggregation
}

func runKey(condition string, seed, order *int) string {
	return domain.RunTag(condition, seed, order)
}

// Scan recorre runs/<condition>/*.json y devuelve una fila por artefacto, ordenadas por
// (condition, seed, order). Los artefactos ilegibles se registran y se saltean.
func (s *SummaryService) Scan(ctx context.Context, runsDir string) ([]domain.SummaryRow, error) {
	refs, err := repository.NewArtifactStore(runsDir).List()
	if err != nil {
		return nil, err
	}

	runs := make([]scannedRun, 0, len(refs))
	byKey := make(map[string]scannedRun, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		artifact, err := repository.LoadArtifact(ref.Path)
		if err != nil {
			s.logger.Warn("skipping unreadable artifact", zap.String("path", ref.Path), zap.Error(err))
			continue
		}
		run := scannedRun{ref: ref, artifact: artifact}
		run.condition, run.seed, run.order = identifyRun(ref, artifact)
		run.agg = Aggregate(artifact)
		byKey[runKey(run.condition, run.seed, run.order)] = run
		runs = append(runs, run)
	}

	rows := make([]domain.SummaryRow, 0, len(runs))
	for _, run := range runs {
		cfg := run.artifact.Metadata.Configuration
		cmp := Compare(run.agg, cfg.Persona)

		// Solo cuenta el baseline del mismo experimento, igual que el cache en linea.
		var baseline domain.TraitValues
		if cfg.TargetTrait != nil && cfg.BaselineCondition != "" {
			base, ok := byKey[runKey(cfg.BaselineCondition, run.seed, run.order)]
			if ok && base.artifact.Metadata.Configuration.ExperimentID == cfg.ExperimentID {
				baseline = base.agg.Means()
			}
		}
		leakage := Leakage(run.agg.Means(), baseline, cfg.TargetTrait)

		reportPath := repository.ReportPath(run.ref.Path)
		if _, err := os.Stat(reportPath); err != nil {
			reportPath = ""
		}

		row := buildSummaryRow(run.condition, run.artifact, run.agg, cmp, leakage, run.ref.Path, reportPath)
		row.Seed, row.OrderSeed = run.seed, run.order
		rows = append(rows, row)
	}

	SortSummaryRows(rows)
	s.logger.Info("summary scan completed", zap.Int("artifacts", len(refs)), zap.Int("rows", len(rows)))
	return rows, nil
}

// identifyRun toma condicion, seed y order de la metadata; si falta la condicion usa
// el directorio y el nombre de archivo <cond>__seed-<s>__order-<o>.
func identifyRun(ref repository.ArtifactRef, artifact domain.RunArtifact) (string, *int, *int) {
	cfg := artifact.Metadata.Configuration
	if cfg.Condition != "" {
		return cfg.Condition, cfg.Seed, cfg.ItemOrderSeed
	}
	condition := ref.Condition
	seed, order := cfg.Seed, cfg.ItemOrderSeed
	if m := runTagPattern.FindStringSubmatch(ref.Name); m != nil {
		if v, err := domain.ParseOptionalInt(m[2]); err == nil {
			seed = v
		}
		if v, err := domain.ParseOptionalInt(m[3]); err == nil {
			order = v
		}
	}
	return condition, seed, order
}

// SortSummaryRows ordena por (condition, seed, order); None va antes que cualquier entero.
func SortSummaryRows(rows []domain.SummaryRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Condition != b.Condition {
			return a.Condition < b.Condition
		}
		if c := compareOptionalInt(a.Seed, b.Seed); c != 0 {
			return c < 0
		}
		return compareOptionalInt(a.OrderSeed, b.OrderSeed) < 0
	})
}

func compareOptionalInt(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	default:
		return 0
	}
}

// Write reescribe la tabla de forma atomica y, si xlsxPath no esta vacio, exporta la hoja.
func (s *SummaryService) Write(rows []domain.SummaryRow, csvPath, xlsxPath string) error {
	if err := repository.WriteSummary(csvPath, rows); err != nil {
		return err
	}
	if xlsxPath != "" {
		if err := repository.ExportSummaryXLSX(xlsxPath, rows); err != nil {
			return fmt.Errorf("export xlsx: %w", err)
		}
	}
	s.logger.Info("summary written", zap.String("path", csvPath), zap.Int("rows", len(rows)))
	return nil
}
