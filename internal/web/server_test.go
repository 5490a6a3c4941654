package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/cache"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/history"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/logging"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/report"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/sources"
)

type fakeDB struct {
	err error
}

func (f fakeDB) Ping(ctx context.Context) error {
	return f.err
}

// stubSources knows a fixed gene list for every disease and nothing else.
type stubSources struct {
	genes []string
}

func (s stubSources) DiseaseGenes(ctx context.Context, disease string, max int) ([]string, error) {
	if len(s.genes) == 0 {
		return nil, sources.ErrNoResults
	}
	return s.genes, nil
}

func (s stubSources) GenePathways(ctx context.Context, genes []string, max int) ([]sources.Pathway, error) {
	return nil, sources.ErrNoResults
}

func (s stubSources) PathwayImageURL(id string) string { return "" }

func (s stubSources) Network(ctx context.Context, genes []string) (sources.Network, error) {
	return sources.Network{}, errors.New("string-db offline")
}

func (s stubSources) Enrich(ctx context.Context, genes []string, max int) ([]sources.Term, error) {
	return nil, sources.ErrNoResults
}

func (s stubSources) Explain(ctx context.Context, disease string, genes, pathways []string) (string, error) {
	return "", sources.ErrNotConfigured
}

func (s stubSources) DrugTargets(ctx context.Context, genes []string, max int) ([]sources.DrugTarget, error) {
	return nil, sources.ErrNoResults
}

type fakePDF struct {
	err  error
	html []byte
}

func (f *fakePDF) RenderPDF(ctx context.Context, html []byte) ([]byte, error) {
	f.html = html
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.7 fake"), nil
}

type testServer struct {
	*Server
	router *gin.Engine
}

func newTestServer(t *testing.T, mutate func(*Deps)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := history.OpenBolt(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := logging.New(io.Discard, "error")
	st := stubSources{genes: []string{"TP53", "MDM2"}}
	deps := Deps{
		Analyzer: report.NewPipeline(report.Collaborators{
			Pathways: st, Network: st, Enrichment: st, Explainer: st, Drugs: st,
		}, store, logger),
		History: store,
		Logger:  logger,
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := NewServer(deps)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testServer{Server: srv, router: srv.Router()}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(fw, content)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apiError {
	t.Helper()
	var e apiError
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return e
}

const scenarioCSV = `gene,control_1,control_2,control_3,treated_1,treated_2,treated_3
X,1,1,1,8,8,8
Y,1,1,1,1,1,1
Z,1,,1,8,8,8
`

func TestRouterHealthz(t *testing.T) {
	ts := newTestServer(t, nil)

	req, _ := http.NewRequest("GET", "/healthz", nil)
	w := ts.do(req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected a request id header")
	}
}

func TestRouterReadyz(t *testing.T) {
	tests := []struct {
		name     string
		db       HealthChecker
		wantCode int
		wantBody string
	}{
		{"disabled", nil, http.StatusOK, `"db":"disabled"`},
		{"healthy", fakeDB{}, http.StatusOK, `"db":"ok"`},
		{"unhealthy", fakeDB{err: errors.New("connection refused")}, http.StatusServiceUnavailable, `"status":"degraded"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, func(d *Deps) { d.DB = tt.db })
			req, _ := http.NewRequest("GET", "/readyz", nil)
			w := ts.do(req)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Fatalf("expected %s in %s", tt.wantBody, w.Body.String())
			}
		})
	}
}

// Ensure limitBodySize middleware allows small payloads and blocks large ones.
func TestLimitBodySize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(limitBodySize(10))
	router.POST("/echo", func(c *gin.Context) {
		_, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too large"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	t.Run("within limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/echo", strings.NewReader("12345"))
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})

	t.Run("over limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/echo", strings.NewReader("01234567890"))
		router.ServeHTTP(w, req)
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected 413, got %d", w.Code)
		}
	})
}

func TestUploadScenario(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(multipartRequest(t, "/api/upload", "scenario.csv", scenarioCSV, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var rep report.Report
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Analysis == nil || len(rep.Analysis.Genes) != 2 {
		t.Fatalf("expected two analyzed genes, got %+v", rep.Analysis)
	}
	if got := rep.Analysis.Ranked[0]; got.Gene != "X" || got.Label != "up" {
		t.Fatalf("expected X up first, got %+v", got)
	}
	if len(rep.Analysis.Skipped()) != 1 || rep.Analysis.Skipped()[0].Gene != "Z" {
		t.Fatalf("expected Z skipped, got %+v", rep.Analysis.Diagnostics)
	}
	if rep.Sources[sources.SourceSTRING].Status != sources.StatusUnavailable {
		t.Fatalf("expected string unavailable, got %+v", rep.Sources)
	}
	if rep.ID != "" {
		t.Fatalf("upload must not be stored, got id %s", rep.ID)
	}
}

func TestUploadErrors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		fields   map[string]string
		wantCode int
		wantErr  string
	}{
		{"missing file", "", "", nil, http.StatusBadRequest, "missing_file"},
		{"unsupported format", "counts.pdf", scenarioCSV, nil, http.StatusBadRequest, "unsupported_format"},
		{"insufficient samples", "tiny.csv", "gene,control_1,treated_1,treated_2\nA,1,2,3\n", nil, http.StatusUnprocessableEntity, "insufficient_data"},
		{"mixed header", "bad.csv", "gene,control_1,foo,treated_1\nA,1,2,3\n", nil, http.StatusUnprocessableEntity, "invalid_header"},
		{"p threshold out of range", "scenario.csv", scenarioCSV, map[string]string{"p_value": "2"}, http.StatusUnprocessableEntity, "validation_failed"},
		{"fold change not a number", "scenario.csv", scenarioCSV, map[string]string{"fold_change": "big"}, http.StatusBadRequest, "invalid_parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			w := ts.do(multipartRequest(t, "/api/upload", tt.filename, tt.content, tt.fields))
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if got := decodeError(t, w).Code; got != tt.wantErr {
				t.Fatalf("expected error %q, got %q", tt.wantErr, got)
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) { d.MaxUploadBytes = 64 })

	w := ts.do(multipartRequest(t, "/api/upload", "scenario.csv", scenarioCSV, nil))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeError(t, w).Code; got != "payload_too_large" {
		t.Fatalf("unexpected error code %q", got)
	}
}

func TestAnalyzeValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	req, _ := http.NewRequest("POST", "/api/analyze", strings.NewReader(`{"disease_name": ""}`))
	req.Header.Set("Content-Type", "application/json")
	w := ts.do(req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := decodeError(t, w).Code; got != "invalid_payload" {
		t.Fatalf("unexpected error code %q", got)
	}
}

func TestAnalyzeStoresHistory(t *testing.T) {
	ts := newTestServer(t, nil)

	req, _ := http.NewRequest("POST", "/api/analyze", strings.NewReader(`{"disease_name": "breast cancer"}`))
	req.Header.Set("Content-Type", "application/json")
	w := ts.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rep report.Report
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.ID == "" || rep.GeneSource != report.GenesFromKEGG {
		t.Fatalf("expected a stored KEGG-backed report, got %+v", rep)
	}

	req, _ = http.NewRequest("GET", "/api/history", nil)
	w = ts.do(req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), rep.ID) {
		t.Fatalf("expected %s in history list, got %d %s", rep.ID, w.Code, w.Body.String())
	}

	req, _ = http.NewRequest("GET", "/api/history/"+rep.ID, nil)
	w = ts.do(req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"subject":"breast cancer"`) {
		t.Fatalf("unexpected history record: %d %s", w.Code, w.Body.String())
	}

	req, _ = http.NewRequest("DELETE", "/api/history/"+rep.ID, nil)
	if w = ts.do(req); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	req, _ = http.NewRequest("GET", "/api/history/"+rep.ID, nil)
	if w = ts.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestDiseaseEndpointsWithoutGenes(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		st := stubSources{}
		d.Analyzer = report.NewPipeline(report.Collaborators{
			Pathways: st, Network: st, Enrichment: st, Explainer: st, Drugs: st,
		}, nil, d.Logger)
	})

	for _, path := range []string{"/api/network/unknown", "/api/enrichment/unknown", "/api/analysis/unknown"} {
		req, _ := http.NewRequest("GET", path, nil)
		w := ts.do(req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, w.Code)
		}
		if got := decodeError(t, w).Code; got != "no_genes" {
			t.Fatalf("%s: unexpected error code %q", path, got)
		}
	}
}

func TestDiseaseNetworkEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	req, _ := http.NewRequest("GET", "/api/network/cancer", nil)
	w := ts.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"unavailable"`) {
		t.Fatalf("expected unavailable network, got %s", w.Body.String())
	}
}

func TestFormFlow(t *testing.T) {
	pdf := &fakePDF{}
	ts := newTestServer(t, func(d *Deps) { d.PDF = pdf })

	w := ts.do(multipartRequest(t, "/analyze", "scenario.csv", scenarioCSV, map[string]string{
		"disease_name": "flu",
		"zscore":       "on",
	}))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", w.Code, w.Body.String())
	}
	loc := w.Header().Get("Location")
	if !strings.HasPrefix(loc, "/results/") {
		t.Fatalf("unexpected redirect %q", loc)
	}

	req, _ := http.NewRequest("GET", loc, nil)
	w = ts.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"flu (scenario.csv)", "welch t-test", "not_configured"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in results page", want)
		}
	}

	req, _ = http.NewRequest("GET", loc+"/pdf", nil)
	w = ts.do(req)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected a pdf, got %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if bytes.Contains(pdf.html, []byte("plotly")) {
		t.Fatal("pdf html should not load scripts")
	}

	pdf.err = errors.New("chrome not found")
	req, _ = http.NewRequest("GET", loc+"/pdf", nil)
	if w = ts.do(req); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when rendering fails, got %d", w.Code)
	}

	id := strings.TrimPrefix(loc, "/results/")
	req, _ = http.NewRequest("POST", "/history/"+id+"/delete", nil)
	if w = ts.do(req); w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 after delete, got %d", w.Code)
	}
	req, _ = http.NewRequest("GET", loc, nil)
	if w = ts.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted report, got %d", w.Code)
	}
}

func TestFormRequiresInput(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(multipartRequest(t, "/analyze", "", "", map[string]string{"disease_name": " "}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "disease name or an expression dataset is required") {
		t.Fatalf("expected error message on index page, got %s", w.Body.String())
	}
}

func TestIndexListsHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	if _, err := ts.History.Append(context.Background(), history.Record{Subject: "asthma", Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest("GET", "/", nil)
	w := ts.do(req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "asthma") {
		t.Fatalf("expected history on index, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(multipartRequest(t, "/api/upload", "scenario.csv", scenarioCSV, nil))
	ts.Metrics.ObserveCollaborator("kegg", "ok")

	req, _ := http.NewRequest("GET", "/metrics", nil)
	w := ts.do(req)
	body := w.Body.String()
	for _, want := range []string{
		`pathoscope_analyses_total{kind="upload",outcome="ok"} 1`,
		`pathoscope_collaborator_calls_total{source="kegg",status="ok"} 1`,
		`pathoscope_analysis_duration_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestMetricsExportCacheStats(t *testing.T) {
	responses := cache.New[[]byte](time.Minute, 4)
	defer responses.Stop()
	responses.Set("a", []byte("x"))
	responses.Get("a")
	responses.Get("b")

	m := NewMetrics()
	m.WatchCache("responses", responses.Stats)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	for _, want := range []string{
		`pathoscope_cache_entries{cache="responses"} 1`,
		`pathoscope_cache_hit_ratio{cache="responses"} 0.5`,
		`pathoscope_cache_hits_total{cache="responses"} 1`,
		`pathoscope_cache_misses_total{cache="responses"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}
