// Package sources talks to the public bioinformatics and language-model
// services that enrich an analysis: KEGG, STRING-DB, g:Profiler, DGIdb and
// Gemini.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/cache"
)

const maxResponseBytes = 8 << 20

var (
	// ErrNoResults means the service answered but had nothing for the query.
	ErrNoResults = errors.New("no results")
	// ErrNotConfigured means the client lacks credentials.
	ErrNotConfigured = errors.New("not configured")
	// errTransient marks failures worth one more attempt.
	errTransient = errors.New("transient failure")
)

// StatusError is a non-2xx answer from a service.
type StatusError struct {
	Source string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Source, e.Code)
}

// Observer is told the outcome of every call ("ok", "cached", "unavailable").
type Observer func(source, outcome string)

// Fetcher performs bounded, retried, cached HTTP calls. The zero value is not
// usable; build one with NewFetcher.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	backoff  time.Duration
	cache    *cache.TTL[[]byte]
	limiter  *rate.Limiter
	logger   *slog.Logger
	observer Observer
}

// FetcherConfig configures NewFetcher. Nil fields fall back to defaults.
type FetcherConfig struct {
	Client   *http.Client
	Timeout  time.Duration
	Backoff  time.Duration
	Cache    *cache.TTL[[]byte]
	Logger   *slog.Logger
	Observer Observer
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	f := &Fetcher{
		client:   cfg.Client,
		timeout:  cfg.Timeout,
		backoff:  cfg.Backoff,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.timeout <= 0 {
		f.timeout = 15 * time.Second
	}
	if f.backoff <= 0 {
		f.backoff = 500 * time.Millisecond
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// WithLimiter returns a copy of f that waits on l before every request.
func (f *Fetcher) WithLimiter(l *rate.Limiter) *Fetcher {
	c := *f
	c.limiter = l
	return &c
}

type request struct {
	source string
	method string
	url    string
	body   []byte
	header http.Header
	// noCache keeps the response out of the cache.
	noCache bool
}

func (r request) cacheKey() string {
	return r.method + " " + r.url + "\n" + string(r.body)
}

// do runs the request with a per-attempt timeout, retrying once on a
// transient failure.
func (f *Fetcher) do(ctx context.Context, r request) ([]byte, error) {
	key := r.cacheKey()
	if f.cache != nil && !r.noCache {
		if body, ok := f.cache.Get(key); ok {
			f.observe(r.source, "cached")
			return body, nil
		}
	}

	var (
		body []byte
		err  error
	)
	for attempt := 1; attempt <= 2; attempt++ {
		body, err = f.attempt(ctx, r)
		if err == nil || !errors.Is(err, errTransient) || attempt == 2 {
			break
		}
		f.logger.WarnContext(ctx, "retrying collaborator call",
			slog.String("source", r.source),
			slog.String("error", err.Error()))
		if werr := wait(ctx, f.backoff); werr != nil {
			err = werr
			break
		}
	}
	if err != nil {
		f.observe(r.source, "unavailable")
		return nil, fmt.Errorf("%s: %w", r.source, err)
	}

	if f.cache != nil && !r.noCache {
		f.cache.Set(key, body)
	}
	f.observe(r.source, "ok")
	return body, nil
}

// doJSON runs the request and decodes the body into v. A body that does not
// decode is dropped from the cache.
func (f *Fetcher) doJSON(ctx context.Context, r request, v any) error {
	body, err := f.do(ctx, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		if f.cache != nil {
			f.cache.Invalidate(r.cacheKey())
		}
		return fmt.Errorf("%s: decode: %w", r.source, err)
	}
	return nil
}

func (f *Fetcher) attempt(ctx context.Context, r request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var reqBody io.Reader
	if r.body != nil {
		reqBody = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, reqBody)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if isTransportTransient(err) {
			return nil, errors.Join(errTransient, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Join(errTransient, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Source: r.source, Code: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, errors.Join(errTransient, serr)
		}
		return nil, serr
	}
	return body, nil
}

func (f *Fetcher) observe(source, outcome string) {
	if f.observer != nil {
		f.observer(source, outcome)
	}
}

func isTransportTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
