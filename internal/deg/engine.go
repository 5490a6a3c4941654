// Package deg computes differential expression between two sample groups and
// projects the results for plotting and ranking.
package deg

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/expression"
)

// MinSamplesPerGroup is the smallest group size a t-test can use.
const MinSamplesPerGroup = 2

// epsilon keeps the fold-change ratio finite when a group mean is zero.
const epsilon = 1e-9

// InsufficientDataError aborts an analysis whose groups are too small.
type InsufficientDataError struct {
	Group   expression.Group
	Samples int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s group has %d samples, at least %d required", e.Group, e.Samples, MinSamplesPerGroup)
}

// GeneStat is the per-gene outcome of an analysis.
type GeneStat struct {
	Gene          string  `json:"gene"`
	MeanControl   float64 `json:"mean_control"`
	MeanCondition float64 `json:"mean_condition"`
	Log2FC        float64 `json:"log2fc"`
	PValue        float64 `json:"p_value"`
	AdjPValue     float64 `json:"adj_p_value"`
	Label         Label   `json:"label"`
}

// Compute runs the two-sample test for every row, corrects the p-values for
// multiple comparisons and classifies each gene.
//
// Rows that break the dataset invariants are skipped and reported; the
// returned statistics keep the order of the remaining rows.
func Compute(ds *expression.Dataset, opts Options) ([]GeneStat, []expression.Diagnostic, error) {
	if err := checkGroups(ds); err != nil {
		return nil, nil, err
	}

	var diags []expression.Diagnostic
	stats := make([]GeneStat, 0, len(ds.Rows))
	raw := make([]float64, 0, len(ds.Rows))
	seen := make(map[string]bool, len(ds.Rows))

	for _, row := range ds.Rows {
		if err := validateRow(ds, row, seen); err != nil {
			diags = append(diags, err.Diagnostic())
			continue
		}
		seen[row.Gene] = true

		s, note := testRow(row, ds.Log2Scale, opts.EqualVariance)
		if note != "" {
			diags = append(diags, expression.Diagnostic{
				Kind:   expression.KindDegenerateVariance,
				Line:   row.Line,
				Gene:   row.Gene,
				Reason: note,
			})
		}
		stats = append(stats, s)
		raw = append(raw, s.PValue)
	}

	adj := BenjaminiHochberg(raw)
	for i := range stats {
		stats[i].AdjPValue = adj[i]
		stats[i].Label = Classify(stats[i].Log2FC, adj[i], opts.thresholds())
	}
	return stats, diags, nil
}

func checkGroups(ds *expression.Dataset) error {
	if n := len(ds.ControlSamples); n < MinSamplesPerGroup {
		return &InsufficientDataError{Group: expression.Control, Samples: n}
	}
	if n := len(ds.ConditionSamples); n < MinSamplesPerGroup {
		return &InsufficientDataError{Group: expression.Condition, Samples: n}
	}
	return nil
}

func validateRow(ds *expression.Dataset, row expression.Row, seen map[string]bool) *expression.MalformedRowError {
	bad := func(reason string) *expression.MalformedRowError {
		return &expression.MalformedRowError{Line: row.Line, Gene: row.Gene, Reason: reason}
	}
	switch {
	case row.Gene == "":
		return bad("empty gene identifier")
	case seen[row.Gene]:
		return bad("duplicate gene identifier")
	case len(row.Control) != len(ds.ControlSamples):
		return bad(fmt.Sprintf("expected %d control values, got %d", len(ds.ControlSamples), len(row.Control)))
	case len(row.Condition) != len(ds.ConditionSamples):
		return bad(fmt.Sprintf("expected %d condition values, got %d", len(ds.ConditionSamples), len(row.Condition)))
	}
	for _, v := range row.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return bad("non-finite value")
		}
		if v < 0 && !ds.Log2Scale {
			return bad("negative value on a linear scale")
		}
	}
	return nil
}

// testRow returns the unadjusted statistic for one gene and, for degenerate
// variance, a note explaining the p-value that was assigned.
func testRow(row expression.Row, log2Scale, equalVar bool) (GeneStat, string) {
	a, b := row.Control, row.Condition
	meanA, varA := stat.MeanVariance(a, nil)
	meanB, varB := stat.MeanVariance(b, nil)

	s := GeneStat{
		Gene:          row.Gene,
		MeanControl:   meanA,
		MeanCondition: meanB,
		Log2FC:        log2FoldChange(meanA, meanB, log2Scale),
	}

	if constant(a) && constant(b) {
		if a[0] == b[0] {
			s.PValue = 1
			return s, "zero variance in both groups with equal values; p-value set to 1"
		}
		s.PValue = 0
		return s, "zero variance in both groups with different values; p-value set to 0"
	}

	nA, nB := float64(len(a)), float64(len(b))
	var se2, df float64
	if equalVar {
		pooled := ((nA-1)*varA + (nB-1)*varB) / (nA + nB - 2)
		se2 = pooled * (1/nA + 1/nB)
		df = nA + nB - 2
	} else {
		qa, qb := varA/nA, varB/nB
		se2 = qa + qb
		df = se2 * se2 / (qa*qa/(nA-1) + qb*qb/(nB-1))
	}
	if !(se2 > 0) || math.IsNaN(df) {
		s.PValue = 1
		if meanA != meanB {
			s.PValue = 0
		}
		return s, "variance too small to estimate; p-value set from the group means"
	}

	t := (meanB - meanA) / math.Sqrt(se2)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	s.PValue = math.Min(1, 2*dist.CDF(-math.Abs(t)))
	return s, ""
}

func log2FoldChange(meanA, meanB float64, log2Scale bool) float64 {
	if log2Scale {
		return meanB - meanA
	}
	return math.Log2((meanB + epsilon) / (meanA + epsilon))
}

func constant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}

// BenjaminiHochberg returns false-discovery-rate adjusted p-values in the
// order of p.
func BenjaminiHochberg(p []float64) []float64 {
	m := len(p)
	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return p[order[i]] < p[order[j]] })

	adj := make([]float64, m)
	running := 1.0
	for k := m - 1; k >= 0; k-- {
		i := order[k]
		if v := p[i] * float64(m) / float64(k+1); v < running {
			running = v
		}
		adj[i] = running
	}
	return adj
}
