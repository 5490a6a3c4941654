package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/deg"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/expression"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/history"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/report"
)

// apiError is the JSON error body.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Message }

func badRequest(code, msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: code, Message: msg}
}

// classify maps an error to its status, code and message.
func classify(err error) *apiError {
	var (
		ae           *apiError
		maxBytes     *http.MaxBytesError
		insufficient *deg.InsufficientDataError
		header       *expression.HeaderError
	)
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.As(err, &maxBytes), strings.Contains(err.Error(), "request body too large"):
		return &apiError{Status: http.StatusRequestEntityTooLarge, Code: "payload_too_large", Message: "upload exceeds the size limit"}
	case errors.Is(err, report.ErrEmptyRequest):
		return badRequest("invalid_request", err.Error())
	case errors.Is(err, expression.ErrUnsupportedFormat):
		return badRequest("unsupported_format", err.Error())
	case errors.As(err, &insufficient):
		return &apiError{Status: http.StatusUnprocessableEntity, Code: "insufficient_data", Message: err.Error()}
	case errors.As(err, &header):
		return &apiError{Status: http.StatusUnprocessableEntity, Code: "invalid_header", Message: err.Error()}
	case errors.Is(err, deg.ErrInvalidThresholds):
		return &apiError{Status: http.StatusUnprocessableEntity, Code: "validation_failed", Message: err.Error()}
	case errors.Is(err, history.ErrNotFound):
		return &apiError{Status: http.StatusNotFound, Code: "not_found", Message: err.Error()}
	case errors.Is(err, report.ErrNoGenes):
		return &apiError{Status: http.StatusNotFound, Code: "no_genes", Message: err.Error()}
	default:
		return &apiError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal server error"}
	}
}

func (s *Server) abortJSON(c *gin.Context, err error) {
	ae := classify(err)
	if ae.Status >= http.StatusInternalServerError {
		s.Logger.ErrorContext(c.Request.Context(), "request failed", "error", err)
	}
	c.AbortWithStatusJSON(ae.Status, ae)
}
