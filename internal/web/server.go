// Package web serves the Pathoscope HTML pages and JSON API over gin.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/deg"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/history"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

// HealthChecker reports database health for /readyz.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Analyzer runs analyses and disease lookups.
type Analyzer interface {
	Run(ctx context.Context, req report.Request) (*report.Report, error)
	DiseaseNetwork(ctx context.Context, disease string) (*report.DiseaseNetwork, error)
	DiseaseEnrichment(ctx context.Context, disease string) (*report.DiseaseEnrichment, error)
}

// Deps are the collaborators a Server needs. DB and PDF may be nil.
type Deps struct {
	Analyzer       Analyzer
	History        history.Store
	DB             HealthChecker
	PDF            report.PDFRenderer
	Metrics        *Metrics
	Logger         *slog.Logger
	Defaults       deg.Options
	MaxUploadBytes int64
}

type Server struct {
	Deps
	tmpl *template.Template
}

func NewServer(d Deps) (*Server, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 10 << 20
	}
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{Deps: d, tmpl: tmpl}, nil
}

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(
		requestID(),
		requestLogger(s.Logger),
		gin.Recovery(),
		limitBodySize(s.MaxUploadBytes),
		cors.New(cors.Config{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
			MaxAge:       12 * time.Hour,
		}),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", s.readyz)
	router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))

	router.GET("/", s.indexPage)
	router.POST("/analyze", s.analyzeForm)
	router.GET("/results/:id", s.resultsPage)
	router.GET("/results/:id/pdf", s.resultsPDF)
	router.POST("/history/:id/delete", s.deleteForm)

	api := router.Group("/api")
	api.POST("/upload", s.apiUpload)
	api.POST("/analyze", s.apiAnalyze)
	api.GET("/analysis/:disease", s.apiAnalysis)
	api.GET("/network/:disease", s.apiNetwork)
	api.GET("/enrichment/:disease", s.apiEnrichment)
	api.GET("/history", s.apiHistoryList)
	api.GET("/history/:id", s.apiHistoryGet)
	api.DELETE("/history/:id", s.apiHistoryDelete)

	return router
}

func (s *Server) readyz(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := s.DB.Ping(ctx); err != nil {
		dbStatus = fmt.Sprintf("unhealthy: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"db":     dbStatus,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"db":     dbStatus,
	})
}

// run executes an analysis and records its outcome and duration.
func (s *Server) run(ctx context.Context, kind string, req report.Request) (*report.Report, error) {
	start := time.Now()
	rep, err := s.Analyzer.Run(ctx, req)
	s.Metrics.ObserveAnalysis(kind, err, time.Since(start))
	return rep, err
}
