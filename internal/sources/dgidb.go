package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	SourceDGIdb = "dgidb"

	DefaultDGIdbURL = "https://dgidb.org/api/graphql"
)

// DrugTarget is a drug known to interact with a gene.
type DrugTarget struct {
	Drug     string  `json:"drug"`
	Gene     string  `json:"gene"`
	Score    float64 `json:"score"`
	Approved bool    `json:"approved"`
}

// DrugTargetSource looks up drugs that target the genes.
type DrugTargetSource interface {
	DrugTargets(ctx context.Context, genes []string, max int) ([]DrugTarget, error)
}

// DGIdb is the Drug Gene Interaction Database GraphQL client.
type DGIdb struct {
	f        *Fetcher
	endpoint string
}

var _ DrugTargetSource = (*DGIdb)(nil)

func NewDGIdb(f *Fetcher, endpoint string) *DGIdb {
	if endpoint == "" {
		endpoint = DefaultDGIdbURL
	}
	return &DGIdb{f: f, endpoint: endpoint}
}

const dgidbQuery = `query($names: [String!]) {
  genes(names: $names) {
    nodes {
      name
      interactions {
        interactionScore
        drug { name approved }
      }
    }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type dgidbResponse struct {
	Data struct {
		Genes struct {
			Nodes []struct {
				Name         string `json:"name"`
				Interactions []struct {
					Score float64 `json:"interactionScore"`
					Drug  struct {
						Name     string `json:"name"`
						Approved bool   `json:"approved"`
					} `json:"drug"`
				} `json:"interactions"`
			} `json:"nodes"`
		} `json:"genes"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// DrugTargets returns the strongest drug-gene interactions, highest score
// first, at most max of them.
func (d *DGIdb) DrugTargets(ctx context.Context, genes []string, max int) ([]DrugTarget, error) {
	genes = dedupe(genes)
	if len(genes) == 0 {
		return nil, fmt.Errorf("dgidb: empty gene list: %w", ErrNoResults)
	}
	names := make([]string, len(genes))
	for i, g := range genes {
		names[i] = strings.ToUpper(g)
	}

	payload, err := json.Marshal(graphqlRequest{
		Query:     dgidbQuery,
		Variables: map[string]any{"names": names},
	})
	if err != nil {
		return nil, err
	}

	var resp dgidbResponse
	err = d.f.doJSON(ctx, request{
		source: SourceDGIdb,
		method: http.MethodPost,
		url:    d.endpoint,
		body:   payload,
		header: http.Header{"Content-Type": {"application/json"}},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("dgidb: %s", resp.Errors[0].Message)
	}

	seen := make(map[string]bool)
	var out []DrugTarget
	for _, n := range resp.Data.Genes.Nodes {
		for _, in := range n.Interactions {
			if in.Drug.Name == "" {
				continue
			}
			key := in.Drug.Name + "\x00" + n.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, DrugTarget{
				Drug:     in.Drug.Name,
				Gene:     n.Name,
				Score:    in.Score,
				Approved: in.Drug.Approved,
			})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dgidb: %w", ErrNoResults)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Drug != out[j].Drug {
			return out[i].Drug < out[j].Drug
		}
		return out[i].Gene < out[j].Gene
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}
