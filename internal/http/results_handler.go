package http

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"persona-eval/internal/domain"
	"persona-eval/internal/repository"
	"persona-eval/internal/service"
)

const defaultSimilarLimit = 5

// NearestFinder busca corridas cuyas medias esten cerca de un vector de persona.
type NearestFinder interface {
	Nearest(ctx context.Context, target domain.PersonaVector, k int) ([]repository.NearestRun, error)
}

// ResultsHandler expone en modo lectura los artefactos, la tabla y las compuertas.
type ResultsHandler struct {
	logger      *zap.Logger
	runsDir     string
	summaryPath string
	artifacts   *repository.ArtifactStore
	checks      *service.ChecksService
	plan        domain.ExperimentPlan
	nearest     NearestFinder
}

// NewResultsHandler crea el handler. nearest es opcional (sin Postgres, /api/similar responde 503).
func NewResultsHandler(
	logger *zap.Logger,
	runsDir string,
	summaryPath string,
	checks *service.ChecksService,
	plan domain.ExperimentPlan,
	nearest NearestFinder,
) *ResultsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultsHandler{
		logger:      logger,
		runsDir:     runsDir,
		summaryPath: summaryPath,
		artifacts:   repository.NewArtifactStore(runsDir),
		checks:      checks,
		plan:        plan,
		nearest:     nearest,
	}
}

// Health maneja GET /health.
func (h *ResultsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetSummary maneja GET /api/summary. Con ?format=csv devuelve el archivo tal cual.
func (h *ResultsHandler) GetSummary(c *gin.Context) {
	if c.Query("format") == "csv" {
		data, err := os.ReadFile(h.summaryPath)
		if err != nil {
			h.fail(c, "read summary failed", err)
			return
		}
		c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
		return
	}

	rows, err := repository.ReadSummary(h.summaryPath)
	if err != nil {
		h.fail(c, "read summary failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows, "count": len(rows)})
}

// ListRuns maneja GET /api/runs.
func (h *ResultsHandler) ListRuns(c *gin.Context) {
	refs, err := h.artifacts.List()
	if err != nil {
		h.fail(c, "list runs failed", err)
		return
	}
	if refs == nil {
		refs = []repository.ArtifactRef{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": refs})
}

// GetRun maneja GET /api/runs/:condition/:name; agrega el artefacto al vuelo.
func (h *ResultsHandler) GetRun(c *gin.Context) {
	artifact, _, err := h.artifacts.Load(c.Param("condition"), c.Param("name"))
	if err != nil {
		h.fail(c, "load run failed", err)
		return
	}
	agg := service.Aggregate(artifact)
	resp := gin.H{
		"metadata":    artifact.Metadata,
		"aggregation": agg,
	}
	if persona := artifact.Metadata.Configuration.Persona; len(persona) > 0 {
		resp["comparison"] = service.Compare(agg, persona)
	}
	c.JSON(http.StatusOK, resp)
}

// GetReport maneja GET /api/runs/:condition/:name/report?format=md|html.
func (h *ResultsHandler) GetReport(c *gin.Context) {
	md, err := h.artifacts.LoadReport(c.Param("condition"), c.Param("name"))
	if err != nil {
		h.fail(c, "load report failed", err)
		return
	}
	switch c.DefaultQuery("format", "md") {
	case "md":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(md))
	case "html":
		html, err := service.RenderReportHTML(md)
		if err != nil {
			h.fail(c, "render report failed", err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be md or html"})
	}
}

// GetSensitivity maneja GET /api/sensitivity/:trait.
func (h *ResultsHandler) GetSensitivity(c *gin.Context) {
	code, ok := domain.ParseTraitCode(c.Param("trait"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown trait"})
		return
	}
	fit, err := repository.LoadSensitivity(repository.SensitivityPath(h.runsDir, code))
	if err != nil {
		h.fail(c, "load sensitivity failed", err)
		return
	}
	c.JSON(http.StatusOK, fit)
}

// GetChecks maneja GET /api/checks. El veredicto se calcula sobre la tabla actual.
func (h *ResultsHandler) GetChecks(c *gin.Context) {
	rows, err := service.ReadCheckRows(h.summaryPath)
	if err != nil {
		h.fail(c, "read summary failed", err)
		return
	}
	c.JSON(http.StatusOK, h.checks.Run(rows, h.plan, h.runsDir))
}

// GetSimilar maneja GET /api/similar?O=..&C=..&E=..&A=..&N=..&k=5.
func (h *ResultsHandler) GetSimilar(c *gin.Context) {
	if h.nearest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "summary mirror not configured"})
		return
	}

	target := make(domain.PersonaVector, len(domain.TraitOrder))
	for _, code := range domain.TraitOrder {
		raw := c.Query(string(code))
		if raw == "" {
			target[code] = domain.PersonaDefault
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < domain.PersonaMin || v > domain.PersonaMax {
			c.JSON(http.StatusBadRequest, gin.H{"error": "trait values must be numbers in [1,5]"})
			return
		}
		target[code] = v
	}
	k := defaultSimilarLimit
	if raw := c.Query("k"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "k must be a positive integer"})
			return
		}
		k = v
	}

	runs, err := h.nearest.Nearest(c.Request.Context(), target, k)
	if err != nil {
		h.fail(c, "nearest runs failed", err)
		return
	}
	if runs == nil {
		runs = []repository.NearestRun{}
	}
	c.JSON(http.StatusOK, gin.H{"target": target, "runs": runs})
}

func (h *ResultsHandler) fail(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrInvalidArtifactPath):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
	case errors.Is(err, service.ErrNoSummaryRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "summary table has no rows"})
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
