package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/deg"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/expression"
)

const maxFormMemory = 32 << 20

// parseForm reads a multipart or urlencoded body up front so size errors
// surface before any field is read.
func parseForm(c *gin.Context) error {
	err := c.Request.ParseMultipartForm(maxFormMemory)
	if err == nil || errors.Is(err, http.ErrNotMultipart) {
		return nil
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) || strings.Contains(err.Error(), "request body too large") {
		return err
	}
	return badRequest("invalid_request", err.Error())
}

// readDataset parses the uploaded table in the named form field. A missing
// file returns nil without error when optional is set.
func readDataset(c *gin.Context, field string, opts expression.Options, optional bool) (*expression.Dataset, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		if optional {
			return nil, nil
		}
		return nil, badRequest("missing_file", fmt.Sprintf("no file provided in field %q", field))
	}
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) || strings.Contains(err.Error(), "request body too large") {
			return nil, err
		}
		return nil, badRequest("invalid_request", err.Error())
	}
	if fh.Filename == "" {
		if optional {
			return nil, nil
		}
		return nil, badRequest("missing_file", "no file selected")
	}

	format, err := expression.FormatFromName(fh.Filename)
	if err != nil {
		return nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	ds, err := expression.Parse(f, format, opts)
	if err != nil {
		var header *expression.HeaderError
		if errors.As(err, &header) {
			return nil, err
		}
		return nil, badRequest("invalid_file", err.Error())
	}
	ds.Name = fh.Filename
	return ds, nil
}

// analysisOptions overlays the optional form fields fold_change, p_value,
// equal_var, zscore and heatmap_rows onto the server defaults.
func (s *Server) analysisOptions(c *gin.Context) (deg.Options, expression.Options, error) {
	opts := s.Defaults
	if opts.Thresholds == (deg.Thresholds{}) {
		opts.Thresholds = deg.DefaultThresholds()
	}
	var parseErr error
	floatField := func(name string, dst *float64) {
		if v := strings.TrimSpace(c.PostForm(name)); v != "" && parseErr == nil {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				parseErr = badRequest("invalid_parameter", fmt.Sprintf("%s must be a number", name))
				return
			}
			*dst = f
		}
	}
	boolField := func(name string, dst *bool) {
		if v := strings.TrimSpace(c.PostForm(name)); v != "" && parseErr == nil {
			b, err := strconv.ParseBool(v)
			if err != nil {
				if v != "on" {
					parseErr = badRequest("invalid_parameter", fmt.Sprintf("%s must be a boolean", name))
					return
				}
				b = true
			}
			*dst = b
		}
	}

	var log2 bool
	floatField("fold_change", &opts.Thresholds.FoldChange)
	floatField("p_value", &opts.Thresholds.PValue)
	boolField("log2", &log2)
	boolField("equal_var", &opts.EqualVariance)
	boolField("zscore", &opts.Heatmap.ZScore)
	if v := strings.TrimSpace(c.PostForm("heatmap_rows")); v != "" && parseErr == nil {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			parseErr = badRequest("invalid_parameter", "heatmap_rows must be a non-negative integer")
		} else {
			opts.Heatmap.MaxRows = n
		}
	}
	if parseErr != nil {
		return deg.Options{}, expression.Options{}, parseErr
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return deg.Options{}, expression.Options{}, err
	}
	return opts, expression.Options{Log2Scale: log2}, nil
}
