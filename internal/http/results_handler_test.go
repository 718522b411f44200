package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"persona-eval/internal/domain"
	"persona-eval/internal/repository"
	"persona-eval/internal/service"
)

type fakeNearest struct {
	target domain.PersonaVector
	k      int
	runs   []repository.NearestRun
	err    error
}

func (f *fakeNearest) Nearest(_ context.Context, target domain.PersonaVector, k int) ([]repository.NearestRun, error) {
	f.target, f.k = target, k
	return f.runs, f.err
}

type resultsFixture struct {
	router  *gin.Engine
	nearest *fakeNearest
	runsDir string
}

func newResultsFixture(t *testing.T, jwtSvc *service.JWTService) resultsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	runsDir := t.TempDir()
	summaryPath := filepath.Join(runsDir, "summary.csv")

	store := repository.NewArtifactStore(runsDir)
	artifact := domain.RunArtifact{
		Metadata: domain.RunMetadata{
			RunID:  "run-1",
			UserID: "E_50",
			Configuration: domain.RunConfiguration{
				Seed:      domain.IntPtr(111),
				Condition: "E_50",
				Persona:   domain.PersonaVector{domain.TraitExtraversion: 5},
			},
		},
		Results: []domain.AssessmentResult{{
			LabelRaw:     "E1",
			ItemText:     "talk a lot",
			LabelOcean:   domain.TraitExtraversion,
			Key:          1,
			ParsedChoice: domain.ChoiceA,
			Attempts:     1,
		}},
	}
	tag := domain.RunTag("E_50", domain.IntPtr(111), nil)
	path, err := store.Save("E_50", tag, artifact)
	if err != nil {
		t.Fatalf("save artifact: %v", err)
	}
	agg := service.Aggregate(artifact)
	cmp := service.Compare(agg, artifact.Metadata.Configuration.Persona)
	if _, err := store.SaveReport(path, service.RenderReport(artifact, agg, &cmp)); err != nil {
		t.Fatalf("save report: %v", err)
	}

	row := domain.SummaryRow{
		Condition: "E_50", UserID: "E_50", Seed: domain.IntPtr(111), Status: domain.RunStatusOK,
		Means: agg.Means(), Persona: domain.TraitValues{}, Correlation: domain.NaN(), MAE: 0, RMSE: 0,
		Leakage: domain.NaN(), ValidRate: 1, UnkRate: 0, ExtremeBias: 1, ConsistencyStd: domain.NaN(),
		AvgLatencyMS: domain.NaN(), ResultsPath: path,
	}
	if err := repository.WriteSummary(summaryPath, []domain.SummaryRow{row}); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	plan := domain.ExperimentPlan{
		Sensitivity: &domain.SensitivityFamily{
			Trait:  domain.TraitExtraversion,
			Points: []domain.SensitivityPoint{{Condition: "E_50", Magnitude: 5}},
		},
	}
	fit := service.FitSensitivity(domain.TraitExtraversion, []domain.SensitivityPair{
		{Target: 2, Measured: 2, Condition: "E_20"},
		{Target: 5, Measured: 5, Condition: "E_50"},
	})
	if err := repository.SaveSensitivity(repository.SensitivityPath(runsDir, domain.TraitExtraversion), fit); err != nil {
		t.Fatalf("save sensitivity: %v", err)
	}

	nearest := &fakeNearest{runs: []repository.NearestRun{{Condition: "E_50", Distance: 0.5}}}
	handler := NewResultsHandler(nil, runsDir, summaryPath, service.NewChecksService(service.DefaultThresholds, nil), plan, nearest)
	return resultsFixture{
		router:  NewRouter(nil, handler, jwtSvc, prometheus.NewRegistry()),
		nearest: nearest,
		runsDir: runsDir,
	}
}

func (f resultsFixture) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestResultsAPI_HealthAndMetrics(t *testing.T) {
	f := newResultsFixture(t, nil)
	if rec := f.get(t, "/health", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.get(t, "/metrics", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", rec.Code)
	}
}

func TestResultsAPI_Summary(t *testing.T) {
	f := newResultsFixture(t, nil)

	rec := f.get(t, "/api/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
		Rows  []struct {
			Condition string              `json:"condition"`
			Leakage   *float64            `json:"leakage"`
			Means     map[string]*float64 `json:"means"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Rows[0].Condition != "E_50" {
		t.Fatalf("unexpected summary: %+v", body)
	}
	if body.Rows[0].Leakage != nil || body.Rows[0].Means["O"] != nil || *body.Rows[0].Means["E"] != 5 {
		t.Fatalf("undefined metrics must be null: %s", rec.Body.String())
	}

	rec = f.get(t, "/api/summary?format=csv", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "condition,user_id,seed") {
		t.Fatalf("unexpected csv response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestResultsAPI_Runs(t *testing.T) {
	f := newResultsFixture(t, nil)

	rec := f.get(t, "/api/runs", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "E_50__seed-111__order-None") {
		t.Fatalf("unexpected runs list: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.get(t, "/api/runs/E_50/E_50__seed-111__order-None", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Aggregation struct {
			Traits map[string]struct {
				Mean *float64 `json:"mean"`
			} `json:"trait_summary"`
		} `json:"aggregation"`
		Comparison *struct {
			RMSE *float64 `json:"root_mean_square_error"`
		} `json:"comparison"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *body.Aggregation.Traits["E"].Mean != 5 || body.Comparison == nil || *body.Comparison.RMSE != 0 {
		t.Fatalf("unexpected run body: %s", rec.Body.String())
	}

	if rec := f.get(t, "/api/runs/E_50/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := f.get(t, "/api/runs/../secret", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for traversal, got %d", rec.Code)
	}
}

func TestResultsAPI_Report(t *testing.T) {
	f := newResultsFixture(t, nil)
	base := "/api/runs/E_50/E_50__seed-111__order-None/report"

	rec := f.get(t, base, "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "# MPI Assessment Analysis Report") {
		t.Fatalf("unexpected markdown report: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("unexpected content type %q", ct)
	}

	rec = f.get(t, base+"?format=html", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<table>") {
		t.Fatalf("unexpected html report: %d %s", rec.Code, rec.Body.String())
	}

	if rec := f.get(t, base+"?format=pdf", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func TestResultsAPI_SensitivityAndChecks(t *testing.T) {
	f := newResultsFixture(t, nil)

	rec := f.get(t, "/api/sensitivity/E", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"slope":1`) {
		t.Fatalf("unexpected sensitivity: %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.get(t, "/api/sensitivity/N", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without artifact, got %d", rec.Code)
	}
	if rec := f.get(t, "/api/sensitivity/X", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown trait, got %d", rec.Code)
	}

	rec = f.get(t, "/api/checks", "")
	var verdict domain.Verdict
	if err := json.Unmarshal(rec.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !verdict.Passed || len(verdict.Checks) != 3 {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestResultsAPI_Similar(t *testing.T) {
	f := newResultsFixture(t, nil)

	rec := f.get(t, "/api/similar?E=4.5&k=2", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"distance":0.5`) {
		t.Fatalf("unexpected similar response: %d %s", rec.Code, rec.Body.String())
	}
	if f.nearest.k != 2 || f.nearest.target[domain.TraitExtraversion] != 4.5 || f.nearest.target[domain.TraitOpenness] != domain.PersonaDefault {
		t.Fatalf("unexpected nearest query: %+v k=%d", f.nearest.target, f.nearest.k)
	}

	if rec := f.get(t, "/api/similar?E=9", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range trait, got %d", rec.Code)
	}

	f.nearest.err = errors.New("db down")
	if rec := f.get(t, "/api/similar", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestResultsAPI_RequiresTokenWhenConfigured(t *testing.T) {
	jwtSvc := service.NewJWTService("secret", time.Hour)
	f := newResultsFixture(t, jwtSvc)

	if rec := f.get(t, "/api/runs", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := f.get(t, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rec.Code)
	}

	token, _, err := jwtSvc.Issue("analyst")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rec := f.get(t, "/api/runs", token); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestResultsAPI_ChecksWithEmptySummary(t *testing.T) {
	f := newResultsFixture(t, nil)
	if err := repository.WriteSummary(filepath.Join(f.runsDir, "summary.csv"), nil); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	w := f.get(t, "/api/checks", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a table without rows, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "no rows") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
