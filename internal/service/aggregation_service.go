package service

import (
	"math"

	"persona-eval/internal/domain"
)

// Aggregate convierte un RunArtifact en estadisticas por rasgo y metricas de calidad.
// Es una funcion pura: agregar dos veces el mismo artefacto da el mismo resultado.
func Aggregate(artifact domain.RunArtifact) domain.Aggregation {
	agg := domain.Aggregation{
		ChoiceCounts: make(map[domain.Choice]int, len(domain.Choices)+1),
		Traits:       make(map[domain.TraitCode]domain.TraitSummary, len(domain.TraitOrder)),
		Items:        []domain.ItemAnalysis{},
		UnknownItems: []domain.UnknownItem{},
	}
	for _, c := range domain.Choices {
		agg.ChoiceCounts[c] = 0
	}
	agg.ChoiceCounts[domain.ChoiceUnknown] = 0

	scores := make(map[domain.TraitCode][]float64, len(domain.TraitOrder))
	for _, r := range artifact.Results {
		code, score, ok := ScoreResult(r)
		if !ok {
			agg.ChoiceCounts[domain.ChoiceUnknown]++
			agg.UnknownItems = append(agg.UnknownItems, domain.UnknownItem{
				Index:     r.Position,
				LabelRaw:  r.LabelRaw,
				ItemText:  r.ItemText,
				RawOutput: r.RawOutput,
				Error:     r.Error,
			})
			continue
		}
		choice := domain.NormalizeChoice(string(r.ParsedChoice))
		agg.ChoiceCounts[choice]++
		scores[code] = append(scores[code], score)
		raw, _ := ScoreItem(choice, 1)
		agg.Items = append(agg.Items, domain.ItemAnalysis{
			Index:      r.Position,
			LabelRaw:   r.LabelRaw,
			TraitCode:  code,
			TraitName:  code.Name(),
			ItemText:   r.ItemText,
			Choice:     choice,
			RawScore:   raw,
			Key:        r.Key,
			FinalScore: score,
			LatencyMS:  r.LatencyMS,
		})
	}

	total := len(artifact.Results)
	valid := len(agg.Items)
	agg.Totals = domain.AggregateTotals{
		Total:   total,
		Valid:   valid,
		Unknown: total - valid,
	}
	if total > 0 {
		agg.Totals.CompletionRate = float64(valid) / float64(total)
	}

	for _, code := range domain.TraitOrder {
		agg.Traits[code] = summarizeTrait(code, scores[code])
	}
	agg.Quality = qualityMetrics(agg)
	return agg
}

func summarizeTrait(code domain.TraitCode, scores []float64) domain.TraitSummary {
	if scores == nil {
		scores = []float64{}
	}
	lo, hi := minMax(scores)
	return domain.TraitSummary{
		Trait:     code,
		TraitName: code.Name(),
		NItems:    len(scores),
		Mean:      domain.Float(mean(scores)),
		Std:       domain.Float(sampleStd(scores)),
		Min:       domain.Float(lo),
		Max:       domain.Float(hi),
		Median:    domain.Float(median(scores)),
		Scores:    scores,
	}
}

func qualityMetrics(agg domain.Aggregation) domain.QualityMetrics {
	q := domain.QualityMetrics{
		ChoiceDistribution:        make(map[domain.Choice]float64, len(domain.Choices)),
		ExtremeResponseBias:       domain.NaN(),
		AvgWithinTraitConsistency: domain.NaN(),
	}
	valid := agg.Totals.Valid
	counts := make([]float64, 0, len(domain.Choices))
	for _, c := range domain.Choices {
		counts = append(counts, float64(agg.ChoiceCounts[c]))
		if valid > 0 {
			q.ChoiceDistribution[c] = float64(agg.ChoiceCounts[c]) / float64(valid)
		}
	}
	if valid > 0 {
		extreme := agg.ChoiceCounts[domain.ChoiceA] + agg.ChoiceCounts[domain.ChoiceE]
		q.ExtremeResponseBias = domain.Float(float64(extreme) / float64(valid))
	}
	q.ResponseVariability = domain.Float(sampleStd(counts))

	var stds []float64
	for _, code := range domain.TraitOrder {
		s := agg.Traits[code]
		if s.NItems >= 2 && s.Std.Defined() {
			stds = append(stds, float64(s.Std))
		}
	}
	q.AvgWithinTraitConsistency = domain.Float(mean(stds))
	return q
}

// Compare contrasta las medias medidas con un PersonaVector sobre los rasgos presentes en ambos.
// RMSE se calcula directamente de los pares (medido, objetivo).
func Compare(agg domain.Aggregation, persona domain.PersonaVector) domain.Comparison {
	cmp := domain.Comparison{
		Persona:     persona.Clone(),
		Traits:      make(map[domain.TraitCode]domain.TraitComparison, len(domain.TraitOrder)),
		Correlation: domain.NaN(),
		MAE:         domain.NaN(),
		RMSE:        domain.NaN(),
	}

	var targets, measured, absErrs, sqErrs []float64
	for _, code := range domain.TraitOrder {
		target, ok := persona[code]
		if !ok {
			continue
		}
		summary, ok := agg.Traits[code]
		if !ok || !summary.Mean.Defined() {
			continue
		}
		m := float64(summary.Mean)
		diff := m - target
		cmp.Traits[code] = domain.TraitComparison{
			TraitName:     code.Name(),
			PersonaValue:  target,
			MeasuredValue: m,
			Error:         diff,
			AbsError:      math.Abs(diff),
			RelativeError: relativeError(diff, target),
			NItems:        summary.NItems,
			Std:           summary.Std,
		}
		targets = append(targets, target)
		measured = append(measured, m)
		absErrs = append(absErrs, math.Abs(diff))
		sqErrs = append(sqErrs, diff*diff)
	}

	cmp.TraitsCompared = len(targets)
	if cmp.TraitsCompared == 0 {
		return cmp
	}
	cmp.Correlation = domain.Float(pearson(targets, measured))
	cmp.MAE = domain.Float(mean(absErrs))
	cmp.RMSE = domain.Float(math.Sqrt(mean(sqErrs)))
	return cmp
}

func relativeError(diff, target float64) domain.Float {
	if target != 0 {
		return domain.Float(diff / target)
	}
	switch {
	case diff > 0:
		return domain.Float(math.Inf(1))
	case diff < 0:
		return domain.Float(math.Inf(-1))
	default:
		return domain.NaN()
	}
}

// Leakage es la media de |medido - baseline| sobre los rasgos distintos del objetivo
// con valor definido en ambos. Sin objetivo, sin baseline o sin rasgos utiles: NaN.
func Leakage(measured, baseline domain.TraitValues, target *domain.TraitCode) domain.Float {
	if target == nil || baseline == nil {
		return domain.NaN()
	}
	var diffs []float64
	for _, code := range domain.TraitOrder {
		if code == *target {
			continue
		}
		m, b := measured.Get(code), baseline.Get(code)
		if !m.Defined() || !b.Defined() {
			continue
		}
		diffs = append(diffs, math.Abs(float64(m)-float64(b)))
	}
	return domain.Float(mean(diffs))
}

// FitSensitivity ajusta medido = slope*objetivo + intercept sobre los pares dados.
func FitSensitivity(trait domain.TraitCode, pairs []domain.SensitivityPair) domain.SensitivityFit {
	xs := make([]float64, 0, len(pairs))
	ys := make([]float64, 0, len(pairs))
	for _, p := range pairs {
		xs = append(xs, p.Target)
		ys = append(ys, p.Measured)
	}
	slope, intercept, r2 := linearFit(xs, ys)
	if pairs == nil {
		pairs = []domain.SensitivityPair{}
	}
	return domain.SensitivityFit{
		TargetTrait: trait,
		Pairs:       pairs,
		Slope:       domain.Float(slope),
		Intercept:   domain.Float(intercept),
		R2:          domain.Float(r2),
	}
}

// latencyTokens resume latencia media y tokens totales de los resultados.
func latencyTokens(results []domain.AssessmentResult) (avgLatency domain.Float, prompt, completion int) {
	latencies := make([]float64, 0, len(results))
	for _, r := range results {
		prompt += r.PromptTokens
		completion += r.CompletionTokens
		if r.Attempts > 0 {
			latencies = append(latencies, float64(r.LatencyMS))
		}
	}
	return domain.Float(mean(latencies)), prompt, completion
}
