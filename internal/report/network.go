package report

import (
	"sort"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/sources"
)

// Network quality grades.
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

const topInteractingGenes = 10

type NetworkStats struct {
	TotalNodes       int     `json:"total_nodes"`
	TotalEdges       int     `json:"total_edges"`
	QueryNodes       int     `json:"query_nodes"`
	InteractionNodes int     `json:"interaction_nodes"`
	AverageDegree    float64 `json:"average_degree"`
	Density          float64 `json:"density"`
	MinWeight        float64 `json:"min_weight"`
	MaxWeight        float64 `json:"max_weight"`
	AvgWeight        float64 `json:"avg_weight"`
}

type GeneDegree struct {
	Gene   string `json:"gene"`
	Degree int    `json:"degree"`
}

// NetworkReport summarizes an interaction network for the query genes.
type NetworkReport struct {
	Stats           NetworkStats `json:"stats"`
	TopGenes        []GeneDegree `json:"top_genes"`
	Quality         string       `json:"quality"`
	Recommendations []string     `json:"recommendations"`
}

// AnalyzeNetwork computes statistics, the most connected query genes and
// recommendations for improving a sparse network.
func AnalyzeNetwork(n sources.Network, genes []string) NetworkReport {
	stats := networkStats(n)

	query := make(map[string]bool, len(genes))
	for _, g := range genes {
		query[g] = true
	}
	degree := make(map[string]int)
	for _, e := range n.Edges {
		for _, g := range [2]string{e.Source, e.Target} {
			if query[g] {
				degree[g]++
			}
		}
	}
	top := make([]GeneDegree, 0, len(degree))
	for g, d := range degree {
		top = append(top, GeneDegree{Gene: g, Degree: d})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Degree != top[j].Degree {
			return top[i].Degree > top[j].Degree
		}
		return top[i].Gene < top[j].Gene
	})
	if len(top) > topInteractingGenes {
		top = top[:topInteractingGenes]
	}

	r := NetworkReport{
		Stats:           stats,
		TopGenes:        top,
		Quality:         QualityLow,
		Recommendations: []string{},
	}
	switch {
	case stats.TotalEdges > 10:
		r.Quality = QualityHigh
	case stats.TotalEdges > 5:
		r.Quality = QualityMedium
	}
	if stats.TotalEdges < 5 {
		r.Recommendations = append(r.Recommendations, "Consider lowering the interaction score threshold")
	}
	if float64(stats.QueryNodes) < float64(len(genes))*0.5 {
		r.Recommendations = append(r.Recommendations, "Many query genes not found in network - check gene names")
	}
	return r
}

func networkStats(n sources.Network) NetworkStats {
	s := NetworkStats{TotalNodes: len(n.Nodes), TotalEdges: len(n.Edges)}
	for _, node := range n.Nodes {
		if node.Group == sources.GroupQuery {
			s.QueryNodes++
		} else {
			s.InteractionNodes++
		}
	}
	if s.TotalNodes > 0 {
		s.AverageDegree = float64(2*s.TotalEdges) / float64(s.TotalNodes)
	}
	if s.TotalNodes > 1 {
		s.Density = float64(s.TotalEdges) / float64(s.TotalNodes*(s.TotalNodes-1))
	}
	if len(n.Edges) > 0 {
		s.MinWeight, s.MaxWeight = n.Edges[0].Weight, n.Edges[0].Weight
		var sum float64
		for _, e := range n.Edges {
			s.MinWeight = min(s.MinWeight, e.Weight)
			s.MaxWeight = max(s.MaxWeight, e.Weight)
			sum += e.Weight
		}
		s.AvgWeight = sum / float64(len(n.Edges))
	}
	return s
}

// Element is one Cytoscape.js graph element.
type Element struct {
	Group string      `json:"group"`
	Data  ElementData `json:"data"`
}

type ElementData struct {
	ID     string  `json:"id"`
	Label  string  `json:"label,omitempty"`
	Kind   string  `json:"kind,omitempty"`
	Source string  `json:"source,omitempty"`
	Target string  `json:"target,omitempty"`
	Weight float64 `json:"weight,omitempty"`
}

// CytoscapeElements lists nodes then edges in network order.
func CytoscapeElements(n sources.Network) []Element {
	out := make([]Element, 0, len(n.Nodes)+len(n.Edges))
	for _, node := range n.Nodes {
		out = append(out, Element{Group: "nodes", Data: ElementData{ID: node.ID, Label: node.Label, Kind: node.Group}})
	}
	for _, e := range n.Edges {
		out = append(out, Element{Group: "edges", Data: ElementData{
			ID:     e.Source + "_" + e.Target,
			Source: e.Source,
			Target: e.Target,
			Weight: e.Weight,
		}})
	}
	return out
}
