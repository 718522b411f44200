package service

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"persona-eval/internal/domain"
)

func result(pos int, trait domain.TraitCode, key int, choice domain.Choice) domain.AssessmentResult {
	return domain.AssessmentResult{
		Position:     pos,
		LabelRaw:     string(trait) + "-item",
		LabelOcean:   trait,
		Key:          key,
		ParsedChoice: choice,
		Attempts:     1,
		LatencyMS:    100,
	}
}

func artifactOf(results ...domain.AssessmentResult) domain.RunArtifact {
	return domain.RunArtifact{Metadata: domain.RunMetadata{UserID: "u"}, Results: results}
}

func TestAggregateSingleForwardAndReverse(t *testing.T) {
	agg := Aggregate(artifactOf(result(0, domain.TraitExtraversion, 1, domain.ChoiceA)))
	if got := agg.Traits[domain.TraitExtraversion].Mean; got != 5.0 {
		t.Fatalf("expected E mean 5.0, got %v", got)
	}

	agg = Aggregate(artifactOf(result(0, domain.TraitExtraversion, -1, domain.ChoiceA)))
	if got := agg.Traits[domain.TraitExtraversion].Mean; got != 1.0 {
		t.Fatalf("expected E mean 1.0, got %v", got)
	}
	if agg.Traits[domain.TraitExtraversion].Std != 0 {
		t.Fatalf("expected std 0 for a single item")
	}
}

func TestAggregateEmptyTraitsAreNaN(t *testing.T) {
	agg := Aggregate(artifactOf(result(0, domain.TraitExtraversion, 1, domain.ChoiceB)))
	o := agg.Traits[domain.TraitOpenness]
	if o.NItems != 0 {
		t.Fatalf("expected no items for O")
	}
	for name, v := range map[string]domain.Float{"mean": o.Mean, "std": o.Std, "min": o.Min, "max": o.Max, "median": o.Median} {
		if v.Defined() {
			t.Fatalf("expected NaN %s for trait without items, got %v", name, v)
		}
	}
	if len(agg.Traits) != 5 {
		t.Fatalf("expected five trait summaries, got %d", len(agg.Traits))
	}
}

func TestAggregateCountsAndQuality(t *testing.T) {
	art := artifactOf(
		result(0, domain.TraitExtraversion, 1, domain.ChoiceA),
		result(1, domain.TraitExtraversion, 1, domain.ChoiceC),
		result(2, domain.TraitExtraversion, -1, domain.ChoiceE),
		result(3, domain.TraitOpenness, 1, domain.ChoiceB),
		result(4, domain.TraitOpenness, 1, domain.ChoiceUnknown),
		result(5, "X", 1, domain.ChoiceA),
	)
	art.Results[4].RawOutput = "I think B"
	art.Results[5].LabelRaw = "bad"

	agg := Aggregate(art)
	if agg.Totals.Total != 6 || agg.Totals.Valid != 4 || agg.Totals.Unknown != 2 {
		t.Fatalf("unexpected totals: %+v", agg.Totals)
	}
	if math.Abs(agg.Totals.CompletionRate-4.0/6.0) > 1e-12 {
		t.Fatalf("unexpected completion rate %v", agg.Totals.CompletionRate)
	}
	if agg.ChoiceCounts[domain.ChoiceA] != 1 || agg.ChoiceCounts[domain.ChoiceUnknown] != 2 {
		t.Fatalf("unexpected choice counts: %+v", agg.ChoiceCounts)
	}

	e := agg.Traits[domain.TraitExtraversion]
	// A=5, C=3, E invertida=5
	if e.NItems != 3 || math.Abs(float64(e.Mean)-13.0/3.0) > 1e-12 || e.Median != 5 || e.Min != 3 || e.Max != 5 {
		t.Fatalf("unexpected E summary: %+v", e)
	}

	q := agg.Quality
	if q.ExtremeResponseBias != 0.5 {
		t.Fatalf("expected extreme bias 0.5, got %v", q.ExtremeResponseBias)
	}
	// solo E tiene >= 2 puntajes
	if math.Abs(float64(q.AvgWithinTraitConsistency)-float64(e.Std)) > 1e-12 {
		t.Fatalf("unexpected consistency %v", q.AvgWithinTraitConsistency)
	}
	if q.ChoiceDistribution[domain.ChoiceA] != 0.25 {
		t.Fatalf("unexpected distribution: %+v", q.ChoiceDistribution)
	}

	if len(agg.UnknownItems) != 2 || agg.UnknownItems[0].RawOutput != "I think B" || agg.UnknownItems[1].LabelRaw != "bad" {
		t.Fatalf("unexpected unknown items: %+v", agg.UnknownItems)
	}
	if len(agg.Items) != 4 || agg.Items[2].RawScore != 1 || agg.Items[2].FinalScore != 5 {
		t.Fatalf("unexpected item analysis: %+v", agg.Items)
	}
}

func TestAggregateEmptyRun(t *testing.T) {
	agg := Aggregate(artifactOf())
	if agg.Totals.CompletionRate != 0 {
		t.Fatalf("expected completion rate 0 for empty run")
	}
	if agg.Quality.ExtremeResponseBias.Defined() || agg.Quality.AvgWithinTraitConsistency.Defined() {
		t.Fatalf("expected NaN quality metrics for empty run")
	}
	if agg.UnknownRate().Defined() {
		t.Fatalf("expected undefined unknown rate")
	}
	if _, err := json.Marshal(agg); err != nil {
		t.Fatalf("aggregation must serialize with NaN fields: %v", err)
	}
}

func TestAggregateCompletionRateOneIffNoUnknown(t *testing.T) {
	full := Aggregate(artifactOf(result(0, domain.TraitAgreeableness, 1, domain.ChoiceD), result(1, domain.TraitAgreeableness, 1, domain.ChoiceC)))
	if full.Totals.CompletionRate != 1 {
		t.Fatalf("expected completion 1, got %v", full.Totals.CompletionRate)
	}
	partial := Aggregate(artifactOf(result(0, domain.TraitAgreeableness, 1, domain.ChoiceD), result(1, domain.TraitAgreeableness, 1, domain.ChoiceUnknown)))
	if partial.Totals.CompletionRate >= 1 || partial.Totals.CompletionRate < 0 {
		t.Fatalf("unexpected completion %v", partial.Totals.CompletionRate)
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	art := artifactOf(
		result(0, domain.TraitExtraversion, 1, domain.ChoiceA),
		result(1, domain.TraitNeuroticism, -1, domain.ChoiceD),
		result(2, domain.TraitNeuroticism, 1, domain.ChoiceB),
	)
	a, b := Aggregate(art), Aggregate(art)
	ja, _ := json.Marshal(a.Traits)
	jb, _ := json.Marshal(b.Traits)
	if string(ja) != string(jb) {
		t.Fatalf("aggregation not idempotent:\n%s\n%s", ja, jb)
	}
	if !reflect.DeepEqual(a.ChoiceCounts, b.ChoiceCounts) {
		t.Fatalf("choice counts differ")
	}
}

func TestCompareAgainstMeasuredMeansIsZeroError(t *testing.T) {
	agg := Aggregate(artifactOf(
		result(0, domain.TraitExtraversion, 1, domain.ChoiceA),
		result(1, domain.TraitOpenness, 1, domain.ChoiceC),
		result(2, domain.TraitNeuroticism, 1, domain.ChoiceD),
	))
	p := domain.PersonaVector{}
	for code, s := range agg.Traits {
		if s.Mean.Defined() {
			p[code] = float64(s.Mean)
		}
	}
	cmp := Compare(agg, p)
	if cmp.TraitsCompared != 3 {
		t.Fatalf("expected 3 traits compared, got %d", cmp.TraitsCompared)
	}
	for code, tc := range cmp.Traits {
		if tc.Error != 0 || tc.AbsError != 0 {
			t.Fatalf("expected zero error for %s, got %+v", code, tc)
		}
	}
	if cmp.RMSE != 0 || cmp.MAE != 0 {
		t.Fatalf("expected RMSE and MAE 0, got %v %v", cmp.RMSE, cmp.MAE)
	}
	if math.Abs(float64(cmp.Correlation)-1) > 1e-12 {
		t.Fatalf("expected correlation 1, got %v", cmp.Correlation)
	}
}

func TestCompareMetrics(t *testing.T) {
	agg := Aggregate(artifactOf(
		result(0, domain.TraitExtraversion, 1, domain.ChoiceA), // E=5
		result(1, domain.TraitOpenness, 1, domain.ChoiceD),     // O=2
	))
	// A no tiene medicion y queda fuera de la comparacion
	cmp := Compare(agg, domain.PersonaVector{
		domain.TraitExtraversion:  4,
		domain.TraitOpenness:      3,
		domain.TraitAgreeableness: 3,
	})
	if cmp.TraitsCompared != 2 {
		t.Fatalf("expected 2 compared traits, got %d", cmp.TraitsCompared)
	}
	e := cmp.Traits[domain.TraitExtraversion]
	if e.Error != 1 || e.AbsError != 1 || e.RelativeError != 0.25 {
		t.Fatalf("unexpected E comparison: %+v", e)
	}
	o := cmp.Traits[domain.TraitOpenness]
	if o.Error != -1 || math.Abs(float64(o.RelativeError)+1.0/3.0) > 1e-12 {
		t.Fatalf("unexpected O comparison: %+v", o)
	}
	if cmp.MAE != 1 || cmp.RMSE != 1 {
		t.Fatalf("unexpected MAE/RMSE %v %v", cmp.MAE, cmp.RMSE)
	}
	// (4,5) y (3,2): correlacion perfecta positiva
	if math.Abs(float64(cmp.Correlation)-1) > 1e-12 {
		t.Fatalf("unexpected correlation %v", cmp.Correlation)
	}
}

func TestCompareSinglePairCorrelationNaN(t *testing.T) {
	agg := Aggregate(artifactOf(result(0, domain.TraitExtraversion, 1, domain.ChoiceA)))
	cmp := Compare(agg, domain.PersonaVector{domain.TraitExtraversion: 4.5})
	if cmp.Correlation.Defined() {
		t.Fatalf("expected NaN correlation for a single pair")
	}
	if cmp.RMSE != 0.5 {
		t.Fatalf("unexpected RMSE %v", cmp.RMSE)
	}
}

func TestRelativeErrorZeroTarget(t *testing.T) {
	if !math.IsInf(float64(relativeError(1, 0)), 1) || !math.IsInf(float64(relativeError(-1, 0)), -1) {
		t.Fatalf("expected signed infinity for zero target")
	}
}

func TestLeakage(t *testing.T) {
	baseline := domain.TraitValues{
		domain.TraitOpenness: 3, domain.TraitConscientiousness: 3, domain.TraitExtraversion: 3,
		domain.TraitAgreeableness: 3, domain.TraitNeuroticism: 3,
	}
	measured := domain.TraitValues{
		domain.TraitOpenness: 3.1, domain.TraitConscientiousness: 2.9, domain.TraitExtraversion: 4.4,
		domain.TraitAgreeableness: 3.0, domain.TraitNeuroticism: 3.05,
	}
	got := Leakage(measured, baseline, domain.TraitPtr(domain.TraitExtraversion))
	if math.Abs(float64(got)-0.0625) > 1e-9 {
		t.Fatalf("expected leakage 0.0625, got %v", got)
	}

	if Leakage(measured, baseline, nil).Defined() {
		t.Fatalf("expected undefined leakage without target")
	}
	if Leakage(measured, nil, domain.TraitPtr(domain.TraitExtraversion)).Defined() {
		t.Fatalf("expected undefined leakage without baseline")
	}

	measured[domain.TraitNeuroticism] = domain.NaN()
	got = Leakage(measured, baseline, domain.TraitPtr(domain.TraitExtraversion))
	if math.Abs(float64(got)-(0.1+0.1+0)/3) > 1e-9 {
		t.Fatalf("expected NaN trait to be skipped, got %v", got)
	}
}

func TestFitSensitivity(t *testing.T) {
	fit := FitSensitivity(domain.TraitExtraversion, []domain.SensitivityPair{
		{Target: 2.0, Measured: 2.1, Condition: "E_20"},
		{Target: 3.0, Measured: 3.0, Condition: "E_30"},
		{Target: 4.0, Measured: 3.9, Condition: "E_40"},
		{Target: 5.0, Measured: 5.1, Condition: "E_50"},
	})
	if math.Abs(float64(fit.Slope)-1.0) > 0.05 {
		t.Fatalf("expected slope close to 1, got %v", fit.Slope)
	}
	if float64(fit.R2) < 0.98 {
		t.Fatalf("expected r2 >= 0.98, got %v", fit.R2)
	}

	empty := FitSensitivity(domain.TraitExtraversion, nil)
	if empty.Slope.Defined() || empty.R2.Defined() || empty.Pairs == nil {
		t.Fatalf("expected NaN fit with empty pairs, got %+v", empty)
	}
}
