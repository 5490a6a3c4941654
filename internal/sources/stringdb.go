package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	SourceSTRING = "string"

	DefaultSTRINGURL = "https://string-db.org"

	stringSpecies       = 9606
	stringRequiredScore = 400
	stringMaxGenes      = 100
	stringMaxImageGenes = 50
)

// Node groups.
const (
	GroupQuery       = "query"
	GroupInteraction = "interaction"
)

type Node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Group string `json:"group"`
}

type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// Network is a protein-protein interaction network.
type Network struct {
	Nodes    []Node `json:"nodes"`
	Edges    []Edge `json:"edges"`
	ImageURL string `json:"image_url,omitempty"`
}

// NetworkSource builds interaction networks.
type NetworkSource interface {
	Network(ctx context.Context, genes []string) (Network, error)
}

// STRING is the STRING-DB API client.
type STRING struct {
	f    *Fetcher
	base string
}

var _ NetworkSource = (*STRING)(nil)

func NewSTRING(f *Fetcher, baseURL string) *STRING {
	if baseURL == "" {
		baseURL = DefaultSTRINGURL
	}
	return &STRING{f: f, base: strings.TrimRight(baseURL, "/")}
}

type stringInteraction struct {
	A     string  `json:"preferredName_A"`
	B     string  `json:"preferredName_B"`
	Score float64 `json:"score"`
}

// Network queries physical interactions among at most 100 genes. Fewer than
// two genes give an empty network without a request.
func (s *STRING) Network(ctx context.Context, genes []string) (Network, error) {
	genes = dedupe(genes)
	if len(genes) > stringMaxGenes {
		genes = genes[:stringMaxGenes]
	}
	if len(genes) < 2 {
		return Network{Nodes: []Node{}, Edges: []Edge{}}, nil
	}

	q := s.query(genes)
	var rows []stringInteraction
	err := s.f.doJSON(ctx, request{
		source: SourceSTRING,
		method: http.MethodGet,
		url:    s.base + "/api/json/network?" + q.Encode(),
	}, &rows)
	if err != nil {
		return Network{}, err
	}

	query := make(map[string]bool, len(genes))
	for _, g := range genes {
		query[strings.ToUpper(g)] = true
	}

	n := Network{Nodes: []Node{}, Edges: make([]Edge, 0, len(rows))}
	seen := make(map[string]bool)
	addNode := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		group := GroupInteraction
		if query[strings.ToUpper(name)] {
			group = GroupQuery
		}
		n.Nodes = append(n.Nodes, Node{ID: name, Label: name, Group: group})
	}
	for _, r := range rows {
		if r.A == "" || r.B == "" {
			continue
		}
		addNode(r.A)
		addNode(r.B)
		n.Edges = append(n.Edges, Edge{Source: r.A, Target: r.B, Weight: r.Score})
	}
	n.ImageURL = s.base + "/api/image/network?" + s.query(head(genes, stringMaxImageGenes)).Encode()
	return n, nil
}

func (s *STRING) query(genes []string) url.Values {
	q := url.Values{}
	q.Set("identifiers", strings.Join(genes, "\r"))
	q.Set("species", fmt.Sprint(stringSpecies))
	q.Set("required_score", fmt.Sprint(stringRequiredScore))
	q.Set("network_type", "physical")
	q.Set("caller_identity", "pathoscope")
	return q
}

// dedupe drops blanks and repeats, keeping first-seen order.
func dedupe(genes []string) []string {
	seen := make(map[string]bool, len(genes))
	out := make([]string, 0, len(genes))
	for _, g := range genes {
		g = strings.TrimSpace(g)
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}
