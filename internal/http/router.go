package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"persona-eval/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas de la API de resultados.
// Con jwtSvc habilitado, todo /api exige un bearer token.
func NewRouter(
	logger *zap.Logger,
	resultsH *ResultsHandler,
	jwtSvc *service.JWTService,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	r := gin.New()

	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	r.GET("/health", resultsH.Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	if jwtSvc.Enabled() {
		api.Use(JWTAuthMiddleware(jwtSvc, service.ScopeResultsRead))
	}
	api.GET("/summary", resultsH.GetSummary)
	api.GET("/runs", resultsH.ListRuns)
	api.GET("/runs/:condition/:name", resultsH.GetRun)
	api.GET("/runs/:condition/:name/report", resultsH.GetReport)
	api.GET("/sensitivity/:trait", resultsH.GetSensitivity)
	api.GET("/checks", resultsH.GetChecks)
	api.GET("/similar", resultsH.GetSimilar)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		}
		if subject := analystSubject(c); subject != "" {
			fields = append(fields, zap.String("analyst", subject))
		}
		logger.Info("request", fields...)
	}
}
