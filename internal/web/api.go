package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/history"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/report"
)

const defaultHistoryLimit = 50

// apiUpload analyzes an uploaded expression table and enriches its
// significant genes. Nothing is stored.
func (s *Server) apiUpload(c *gin.Context) {
	if err := parseForm(c); err != nil {
		s.abortJSON(c, err)
		return
	}
	opts, parseOpts, err := s.analysisOptions(c)
	if err != nil {
		s.abortJSON(c, err)
		return
	}
	ds, err := readDataset(c, "file", parseOpts, false)
	if err != nil {
		s.abortJSON(c, err)
		return
	}

	rep, err := s.run(c.Request.Context(), "upload", report.Request{
		Disease: c.PostForm("disease_name"),
		Dataset: ds,
		Options: opts,
	})
	if err != nil {
		s.abortJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

type analyzeRequest struct {
	Disease string `json:"disease_name" binding:"required,max=200"`
}

// apiAnalyze runs a disease-only analysis and stores it in history.
func (s *Server) apiAnalyze(c *gin.Context) {
	var payload analyzeRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.abortJSON(c, badRequest("invalid_payload", "invalid payload: disease_name is required"))
		return
	}

	rep, err := s.run(c.Request.Context(), "disease", report.Request{
		Disease: payload.Disease,
		Options: s.Defaults,
		Persist: true,
	})
	if err != nil {
		s.abortJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) apiAnalysis(c *gin.Context) {
	rep, err := s.run(c.Request.Context(), "disease", report.Request{
		Disease: c.Param("disease"),
		Options: s.Defaults,
	})
	if err != nil {
		s.abortJSON(c, err)
		return
	}
	if len(rep.Genes) == 0 {
		s.abortJSON(c, report.ErrNoGenes)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) apiNetwork(c *gin.Context) {
	n, err := s.Analyzer.DiseaseNetwork(c.Request.Context(), c.Param("disease"))
	if err != nil {
		s.abortJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (s *Server) apiEnrichment(c *gin.Context) {
	e, err := s.Analyzer.DiseaseEnrichment(c.Request.Context(), c.Param("disease"))
	if err != nil {
		s.abortJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) apiHistoryList(c *gin.Context) {
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.abortJSON(c, badRequest("invalid_parameter", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	recs, err := s.History.List(c.Request.Context(), limit)
	if err != nil {
		s.abortJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (s *Server) apiHistoryGet(c *gin.Context) {
	rec, err := s.History.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) apiHistoryDelete(c *gin.Context) {
	if err := s.History.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.abortJSON(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// loadReport decodes a stored report.
func (s *Server) loadReport(c *gin.Context, id string) (*report.Report, error) {
	rec, err := s.History.Get(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	var rep report.Report
	if err := json.Unmarshal(rec.Payload, &rep); err != nil {
		return nil, err
	}
	rep.ID = rec.ID
	return &rep, nil
}

func historySubject(r history.Record) string {
	if s := strings.TrimSpace(r.Subject); s != "" {
		return s
	}
	return "untitled analysis"
}
