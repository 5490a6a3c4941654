package web

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/deg"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/history"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/report"
)

const (
	indexHistoryLimit = 20
	resultsTableRows  = 200
)

var templateFuncs = template.FuncMap{
	"num": func(v float64) string {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "-"
		}
		return fmt.Sprintf("%.3f", v)
	},
	"sci": func(v float64) string {
		return fmt.Sprintf("%.2e", v)
	},
	"join":           strings.Join,
	"historySubject": historySubject,
	"topRanked": func(r *deg.Results) []deg.GeneStat {
		if r == nil {
			return nil
		}
		if len(r.Ranked) > resultsTableRows {
			return r.Ranked[:resultsTableRows]
		}
		return r.Ranked
	},
}

type indexView struct {
	History []history.Record
	Error   string
	Disease string
}

type resultsView struct {
	Report *report.Report
	PDF    bool
}

func (s *Server) render(c *gin.Context, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		s.Logger.ErrorContext(c.Request.Context(), "render template", "template", name, "error", err)
		c.String(http.StatusInternalServerError, "internal server error")
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) indexPage(c *gin.Context) {
	s.renderIndex(c, http.StatusOK, indexView{})
}

func (s *Server) renderIndex(c *gin.Context, status int, view indexView) {
	recs, err := s.History.List(c.Request.Context(), indexHistoryLimit)
	if err != nil {
		s.Logger.WarnContext(c.Request.Context(), "list history", "error", err)
	}
	view.History = recs
	s.render(c, status, "index.html", view)
}

// analyzeForm handles the HTML form: a disease name, an optional table, or
// both. The stored report is shown on its own page.
func (s *Server) analyzeForm(c *gin.Context) {
	disease := ""
	fail := func(err error) {
		ae := classify(err)
		if ae.Status >= http.StatusInternalServerError {
			s.Logger.ErrorContext(c.Request.Context(), "analysis failed", "error", err)
		}
		s.renderIndex(c, ae.Status, indexView{Error: ae.Message, Disease: disease})
	}

	if err := parseForm(c); err != nil {
		fail(err)
		return
	}
	disease = strings.TrimSpace(c.PostForm("disease_name"))
	opts, parseOpts, err := s.analysisOptions(c)
	if err != nil {
		fail(err)
		return
	}
	ds, err := readDataset(c, "file", parseOpts, true)
	if err != nil {
		fail(err)
		return
	}

	rep, err := s.run(c.Request.Context(), "form", report.Request{
		Disease: disease,
		Dataset: ds,
		Options: opts,
		Persist: true,
	})
	if err != nil {
		fail(err)
		return
	}
	if rep.ID == "" {
		s.render(c, http.StatusOK, "results.html", resultsView{Report: rep})
		return
	}
	c.Redirect(http.StatusSeeOther, "/results/"+rep.ID)
}

func (s *Server) resultsPage(c *gin.Context) {
	rep, err := s.loadReport(c, c.Param("id"))
	if err != nil {
		ae := classify(err)
		s.renderIndex(c, ae.Status, indexView{Error: ae.Message})
		return
	}
	s.render(c, http.StatusOK, "results.html", resultsView{Report: rep})
}

func (s *Server) resultsPDF(c *gin.Context) {
	rep, err := s.loadReport(c, c.Param("id"))
	if err != nil {
		s.abortJSON(c, err)
		return
	}
	if s.PDF == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, &apiError{Code: "pdf_unavailable", Message: "PDF export is not configured"})
		return
	}

	var html bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&html, "results.html", resultsView{Report: rep, PDF: true}); err != nil {
		s.abortJSON(c, err)
		return
	}
	pdf, err := s.PDF.RenderPDF(c.Request.Context(), html.Bytes())
	if err != nil {
		s.Logger.WarnContext(c.Request.Context(), "render pdf", "error", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, &apiError{Code: "pdf_unavailable", Message: "PDF rendering failed"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="pathoscope-%s.pdf"`, rep.ID))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (s *Server) deleteForm(c *gin.Context) {
	if err := s.History.Delete(c.Request.Context(), c.Param("id")); err != nil {
		ae := classify(err)
		s.renderIndex(c, ae.Status, indexView{Error: ae.Message})
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}
