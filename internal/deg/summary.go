package deg

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/expression"
)

// VolcanoPoint is one gene on a volcano plot.
type VolcanoPoint struct {
	Gene      string  `json:"gene"`
	Log2FC    float64 `json:"log2fc"`
	NegLog10P float64 `json:"neg_log10_adj_p"`
	Label     Label   `json:"label"`
}

// MAPoint is one gene on an MA plot: average log2 expression against log2FC.
type MAPoint struct {
	Gene  string  `json:"gene"`
	A     float64 `json:"a"`
	M     float64 `json:"m"`
	Label Label   `json:"label"`
}

// Heatmap is a genes x samples matrix, most significant gene first.
type Heatmap struct {
	Genes   []string    `json:"genes"`
	Samples []string    `json:"samples"`
	Values  [][]float64 `json:"values"`
	ZScore  bool        `json:"zscore"`
}

// HeatmapOptions shape the heatmap projection.
type HeatmapOptions struct {
	// ZScore normalizes each row to mean 0 and unit sample deviation.
	ZScore bool
	// MaxRows caps the number of genes; 0 keeps all of them.
	MaxRows int
}

// Volcano projects the statistics in input order.
func Volcano(stats []GeneStat) []VolcanoPoint {
	out := make([]VolcanoPoint, len(stats))
	for i, s := range stats {
		out[i] = VolcanoPoint{Gene: s.Gene, Log2FC: s.Log2FC, NegLog10P: negLog10(s.AdjPValue), Label: s.Label}
	}
	return out
}

// MA projects the statistics in input order.
func MA(stats []GeneStat, log2Scale bool) []MAPoint {
	out := make([]MAPoint, len(stats))
	for i, s := range stats {
		a := (s.MeanControl + s.MeanCondition) / 2
		if !log2Scale {
			a = (math.Log2(s.MeanControl+epsilon) + math.Log2(s.MeanCondition+epsilon)) / 2
		}
		out[i] = MAPoint{Gene: s.Gene, A: a, M: s.Log2FC, Label: s.Label}
	}
	return out
}

// Rank orders genes by adjusted p ascending, then |log2FC| descending, then
// identifier. Identifiers are unique, so the order is total.
func Rank(stats []GeneStat) []GeneStat {
	out := make([]GeneStat, len(stats))
	copy(out, stats)
	sort.Slice(out, func(i, j int) bool { return rankLess(out[i], out[j]) })
	return out
}

func rankLess(a, b GeneStat) bool {
	if a.AdjPValue != b.AdjPValue {
		return a.AdjPValue < b.AdjPValue
	}
	if fa, fb := math.Abs(a.Log2FC), math.Abs(b.Log2FC); fa != fb {
		return fa > fb
	}
	return a.Gene < b.Gene
}

// BuildHeatmap lays out expression values for the analysed genes. Rows are
// ordered by adjusted p-value with ties kept in input order. Values come from
// the same rows Compute kept, so skipped duplicates never leak in.
func BuildHeatmap(ds *expression.Dataset, stats []GeneStat, opts HeatmapOptions) Heatmap {
	rows := make(map[string]expression.Row, len(ds.Rows))
	seen := make(map[string]bool, len(ds.Rows))
	for _, r := range ds.Rows {
		if validateRow(ds, r, seen) != nil {
			continue
		}
		seen[r.Gene] = true
		rows[r.Gene] = r
	}

	order := make([]GeneStat, len(stats))
	copy(order, stats)
	sort.SliceStable(order, func(i, j int) bool { return order[i].AdjPValue < order[j].AdjPValue })
	if opts.MaxRows > 0 && len(order) > opts.MaxRows {
		order = order[:opts.MaxRows]
	}

	hm := Heatmap{
		Genes:   make([]string, 0, len(order)),
		Samples: ds.Samples(),
		Values:  make([][]float64, 0, len(order)),
		ZScore:  opts.ZScore,
	}
	for _, s := range order {
		values := rows[s.Gene].Values()
		if opts.ZScore {
			values = zScore(values)
		}
		hm.Genes = append(hm.Genes, s.Gene)
		hm.Values = append(hm.Values, values)
	}
	return hm
}

func zScore(x []float64) []float64 {
	mean, sd := stat.MeanStdDev(x, nil)
	out := make([]float64, len(x))
	if !(sd > 0) {
		return out
	}
	for i, v := range x {
		out[i] = (v - mean) / sd
	}
	return out
}

// negLog10 maps p to -log10(p), flooring p at the smallest positive float so
// that p = 0 stays finite.
func negLog10(p float64) float64 {
	if p >= 1 {
		return 0
	}
	return -math.Log10(math.Max(p, math.SmallestNonzeroFloat64))
}
