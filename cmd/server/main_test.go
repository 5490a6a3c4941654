package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/cache"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/config"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/logging"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/web"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HistoryPath: filepath.Join(t.TempDir(), "data", "history.db"),
		HTTPTimeout: time.Second,
		KEGGRate:    100,
		GeminiModel: "gemini-1.5-flash",
	}
}

func TestOpenHistoryDefaultsToBolt(t *testing.T) {
	store, db, err := openHistory(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()
	if db != nil {
		t.Fatal("expected no health checker without a database")
	}
}

func TestOpenHistoryRejectsBadDatabaseURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableDB = true
	cfg.DatabaseURL = "not a url ://"
	if _, _, err := openHistory(context.Background(), cfg); err == nil {
		t.Fatal("expected error for an unparsable DATABASE_URL")
	}
}

func TestCollaboratorsCountCalls(t *testing.T) {
	metrics := web.NewMetrics()
	responses := cache.New[[]byte](time.Minute, 8)
	defer responses.Stop()

	c := newCollaborators(testConfig(t), responses, logging.New(io.Discard, "error"), metrics)

	// No API key: answered locally without a request.
	if _, err := c.Explainer.Explain(context.Background(), "flu", nil, nil); err == nil {
		t.Fatal("expected an error without GEMINI_API_KEY")
	}

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(w.Body.String(), `source="gemini"`) {
		t.Fatalf("unconfigured explainer must not count as a call:\n%s", w.Body.String())
	}
}

func TestShutdownOnServerError(t *testing.T) {
	errCh := make(chan error, 1)
	errCh <- http.ErrHandlerTimeout
	err := waitForShutdown(&http.Server{}, errCh, logging.New(io.Discard, "error"))
	if err == nil || !strings.Contains(err.Error(), "server error") {
		t.Fatalf("expected server error, got %v", err)
	}
}
