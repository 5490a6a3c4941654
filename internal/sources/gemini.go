package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	SourceGemini = "gemini"

	DefaultGeminiURL   = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel = "gemini-1.5-flash"
)

// Explainer writes a plain-language explanation of a disease.
type Explainer interface {
	Explain(ctx context.Context, disease string, genes, pathways []string) (string, error)
}

// Gemini calls the generateContent endpoint of the Gemini API.
type Gemini struct {
	f      *Fetcher
	base   string
	model  string
	apiKey string
}

var _ Explainer = (*Gemini)(nil)

func NewGemini(f *Fetcher, baseURL, model, apiKey string) *Gemini {
	if baseURL == "" {
		baseURL = DefaultGeminiURL
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{f: f, base: strings.TrimRight(baseURL, "/"), model: model, apiKey: apiKey}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Explain(ctx context.Context, disease string, genes, pathways []string) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("gemini: %w", ErrNotConfigured)
	}

	payload, err := json.Marshal(geminiRequest{Contents: []geminiContent{
		{Parts: []geminiPart{{Text: ExplainPrompt(disease, genes, pathways)}}},
	}})
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	err = g.f.doJSON(ctx, request{
		source: SourceGemini,
		method: http.MethodPost,
		url:    g.base + "/v1beta/models/" + url.PathEscape(g.model) + ":generateContent",
		body:   payload,
		header: http.Header{
			"Content-Type":   {"application/json"},
			"X-Goog-Api-Key": {g.apiKey},
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("gemini: empty answer: %w", ErrNoResults)
	}
	return text, nil
}

// ExplainPrompt names at most five genes and five pathways.
func ExplainPrompt(disease string, genes, pathways []string) string {
	return fmt.Sprintf("Explain the disease '%s' in simple terms, mentioning these genes: %s. Also mention pathways: %s.",
		disease, strings.Join(head(genes, 5), ", "), strings.Join(head(pathways, 5), ", "))
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
