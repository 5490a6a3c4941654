package deg

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/expression"
)

const scenarioCSV = `gene,control_1,control_2,control_3,treated_1,treated_2,treated_3
X,1,1,1,8,8,8
Y,1,1,1,1,1,1
Z,1,,1,8,8,8
`

func parse(t *testing.T, in string) *expression.Dataset {
	t.Helper()
	ds, err := expression.Parse(strings.NewReader(in), expression.FormatCSV, expression.Options{})
	require.NoError(t, err)
	return ds
}

func statFor(t *testing.T, stats []GeneStat, gene string) GeneStat {
	t.Helper()
	for _, s := range stats {
		if s.Gene == gene {
			return s
		}
	}
	t.Fatalf("gene %s not in results", gene)
	return GeneStat{}
}

func TestAnalyzeScenario(t *testing.T) {
	res, err := Analyze(parse(t, scenarioCSV), Options{})
	require.NoError(t, err)

	require.Len(t, res.Genes, 2)
	x := statFor(t, res.Genes, "X")
	assert.Equal(t, Up, x.Label)
	assert.InDelta(t, 3.0, x.Log2FC, 1e-6)
	assert.Equal(t, 0.0, x.AdjPValue)

	y := statFor(t, res.Genes, "Y")
	assert.Equal(t, NotSignificant, y.Label)
	assert.Equal(t, 1.0, y.PValue)

	skipped := res.Skipped()
	require.Len(t, skipped, 1)
	assert.Equal(t, "Z", skipped[0].Gene)

	var degenerate []string
	for _, d := range res.Diagnostics {
		if d.Kind == expression.KindDegenerateVariance {
			degenerate = append(degenerate, d.Gene)
		}
	}
	assert.ElementsMatch(t, []string{"X", "Y"}, degenerate)
	assert.Equal(t, []string{"X"}, res.Significant())
	assert.Equal(t, Counts{Up: 1, NotSignificant: 1, Skipped: 1}, res.Counts())
}

func TestAnalyzeStatCountMatchesRows(t *testing.T) {
	in := `gene,ctrl_1,ctrl_2,ctrl_3,case_1,case_2,case_3
A,1,2,3,4,5,6
B,2,2,3,2,2,3
C,x,2,3,4,5,6
D,5,6,7,1,1,2
D,5,6,7,1,1,2
E,3,3,
`
	ds := parse(t, in)
	res, err := Analyze(ds, Options{})
	require.NoError(t, err)
	assert.Equal(t, ds.InputRows()-len(res.Skipped()), len(res.Genes))
	assert.Len(t, res.Genes, 3)
}

func TestAnalyzeInsufficientData(t *testing.T) {
	ds := parse(t, "gene,ctrl_1,case_1,case_2\nA,1,2,3\n")
	_, err := Analyze(ds, Options{})
	var ierr *InsufficientDataError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, expression.Control, ierr.Group)
	assert.Equal(t, 1, ierr.Samples)
}

func TestAnalyzeEmptyDataset(t *testing.T) {
	res, err := Analyze(parse(t, "gene,ctrl_1,ctrl_2,case_1,case_2\n"), Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Genes)
	assert.Empty(t, res.Ranked)
	assert.Empty(t, res.Volcano)
	assert.Empty(t, res.Heatmap.Genes)
	assert.Empty(t, res.Diagnostics)
}

func TestComputeSkipsInvalidProgrammaticRows(t *testing.T) {
	ds := &expression.Dataset{
		ControlSamples:   []string{"c1", "c2"},
		ConditionSamples: []string{"t1", "t2"},
		Rows: []expression.Row{
			{Line: 2, Gene: "A", Control: []float64{1, 2}, Condition: []float64{3, 4}},
			{Line: 3, Gene: "A", Control: []float64{100, 200}, Condition: []float64{300, 400}},
			{Line: 4, Gene: "B", Control: []float64{1}, Condition: []float64{3, 4}},
			{Line: 5, Gene: "C", Control: []float64{1, math.NaN()}, Condition: []float64{3, 4}},
			{Line: 6, Gene: "", Control: []float64{1, 2}, Condition: []float64{3, 4}},
		},
	}
	stats, diags, err := Compute(ds, Options{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "A", stats[0].Gene)
	require.Len(t, diags, 4)
	for _, d := range diags {
		assert.Equal(t, expression.KindMalformedRow, d.Kind)
	}

	res, err := Analyze(ds, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Heatmap.Genes)
	assert.Equal(t, [][]float64{{1, 2, 3, 4}}, res.Heatmap.Values)
}

func TestHeatmapUsesFirstValidRowForGene(t *testing.T) {
	ds := &expression.Dataset{
		ControlSamples:   []string{"c1", "c2"},
		ConditionSamples: []string{"t1", "t2"},
		Rows: []expression.Row{
			{Line: 2, Gene: "A", Control: []float64{1, math.Inf(1)}, Condition: []float64{3, 4}},
			{Line: 3, Gene: "A", Control: []float64{5, 6}, Condition: []float64{7, 8}},
			{Line: 4, Gene: "A", Control: []float64{9, 9}, Condition: []float64{9, 9}},
		},
	}
	res, err := Analyze(ds, Options{})
	require.NoError(t, err)
	require.Len(t, res.Genes, 1)
	assert.InDelta(t, 5.5, res.Genes[0].MeanControl, 1e-12)
	assert.Equal(t, [][]float64{{5, 6, 7, 8}}, res.Heatmap.Values)
}

func TestWelchAndStudentPValues(t *testing.T) {
	ds := parse(t, "gene,ctrl_1,ctrl_2,ctrl_3,ctrl_4,ctrl_5,case_1,case_2,case_3,case_4,case_5\nG,1,2,3,4,5,2,4,6,8,10\n")

	welch, _, err := Compute(ds, Options{})
	require.NoError(t, err)
	student, _, err := Compute(ds, Options{EqualVariance: true})
	require.NoError(t, err)

	assert.InDelta(t, 3.0, welch[0].MeanControl, 1e-12)
	assert.InDelta(t, 6.0, welch[0].MeanCondition, 1e-12)
	assert.InDelta(t, 1.0, welch[0].Log2FC, 1e-6)
	assert.Greater(t, welch[0].PValue, 0.10)
	assert.Less(t, welch[0].PValue, 0.115)
	assert.Greater(t, student[0].PValue, 0.09)
	assert.Less(t, student[0].PValue, 0.10)
}

func TestLog2ScaleFoldChangeIsDifference(t *testing.T) {
	ds, err := expression.Parse(strings.NewReader("gene,ctrl_1,ctrl_2,case_1,case_2\nG,-1,-1.2,2,2.2\n"), expression.FormatCSV, expression.Options{Log2Scale: true})
	require.NoError(t, err)
	stats, _, err := Compute(ds, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 3.2, stats[0].Log2FC, 1e-9)
}

func TestBenjaminiHochberg(t *testing.T) {
	got := BenjaminiHochberg([]float64{0.01, 0.04, 0.03, 0.2})
	want := []float64{0.04, 0.04 * 4 / 3, 0.04 * 4 / 3, 0.2}
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-12, "index %d", i)
	}
	assert.Empty(t, BenjaminiHochberg(nil))
	assert.Equal(t, []float64{0.9, 0.9}, BenjaminiHochberg([]float64{0.9, 0.7}))
}

func TestClassifyBoundaries(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name   string
		log2FC float64
		adjP   float64
		want   Label
	}{
		{"up", 2, 0.01, Up},
		{"down", -2, 0.01, Down},
		{"p exactly at cutoff", 2, 0.05, NotSignificant},
		{"fold change exactly at cutoff", 1, 0.001, NotSignificant},
		{"negative fold change at cutoff", -1, 0.001, NotSignificant},
		{"just past both cutoffs", -1.0001, 0.0499, Down},
		{"large effect, not significant", 5, 0.2, NotSignificant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.log2FC, tt.adjP, th)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Classify(tt.log2FC, tt.adjP, th))
		})
	}
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.ErrorIs(t, Thresholds{FoldChange: -1, PValue: 0.05}.Validate(), ErrInvalidThresholds)
	assert.ErrorIs(t, Thresholds{FoldChange: 1, PValue: 0}.Validate(), ErrInvalidThresholds)
	assert.ErrorIs(t, Thresholds{FoldChange: 1, PValue: 1.5}.Validate(), ErrInvalidThresholds)
}

func TestRankIsTotalOrder(t *testing.T) {
	stats := []GeneStat{
		{Gene: "B", AdjPValue: 0.01, Log2FC: 2},
		{Gene: "A", AdjPValue: 0.01, Log2FC: -2},
		{Gene: "C", AdjPValue: 0.01, Log2FC: 3},
		{Gene: "D", AdjPValue: 0.001, Log2FC: 0.5},
		{Gene: "E", AdjPValue: 0.5, Log2FC: 4},
	}
	ranked := Rank(stats)
	var order []string
	for _, s := range ranked {
		order = append(order, s.Gene)
	}
	assert.Equal(t, []string{"D", "C", "A", "B", "E"}, order)
	assert.Equal(t, "B", stats[0].Gene, "input must not be reordered")

	for _, a := range stats {
		for _, b := range stats {
			if a.Gene == b.Gene {
				assert.False(t, rankLess(a, b))
				continue
			}
			assert.NotEqual(t, rankLess(a, b), rankLess(b, a), "%s vs %s", a.Gene, b.Gene)
			for _, c := range stats {
				if rankLess(a, b) && rankLess(b, c) {
					assert.True(t, rankLess(a, c), "%s < %s < %s", a.Gene, b.Gene, c.Gene)
				}
			}
		}
	}
}

func TestHeatmapOrderAndZScore(t *testing.T) {
	ds := &expression.Dataset{
		ControlSamples:   []string{"c1", "c2"},
		ConditionSamples: []string{"t1", "t2"},
		Rows: []expression.Row{
			{Gene: "A", Control: []float64{1, 1}, Condition: []float64{1, 1}},
			{Gene: "B", Control: []float64{1, 2}, Condition: []float64{3, 4}},
			{Gene: "C", Control: []float64{5, 5}, Condition: []float64{6, 6}},
		},
	}
	stats := []GeneStat{
		{Gene: "A", AdjPValue: 0.2},
		{Gene: "B", AdjPValue: 0.01},
		{Gene: "C", AdjPValue: 0.2},
	}

	hm := BuildHeatmap(ds, stats, HeatmapOptions{})
	assert.Equal(t, []string{"B", "A", "C"}, hm.Genes)
	assert.Equal(t, []string{"c1", "c2", "t1", "t2"}, hm.Samples)
	assert.Equal(t, []float64{1, 2, 3, 4}, hm.Values[0])

	z := BuildHeatmap(ds, stats, HeatmapOptions{ZScore: true, MaxRows: 2})
	assert.Equal(t, []string{"B", "A"}, z.Genes)
	assert.True(t, z.ZScore)
	sum := 0.0
	for _, v := range z.Values[0] {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-12)
	assert.Equal(t, []float64{0, 0, 0, 0}, z.Values[1])
}

func TestVolcanoKeepsInputOrderAndFiniteValues(t *testing.T) {
	stats := []GeneStat{
		{Gene: "A", Log2FC: 2, AdjPValue: 0, Label: Up},
		{Gene: "B", Log2FC: -1, AdjPValue: 1, Label: NotSignificant},
		{Gene: "C", Log2FC: 0.5, AdjPValue: 0.01, Label: NotSignificant},
	}
	points := Volcano(stats)
	require.Len(t, points, 3)
	assert.Equal(t, "A", points[0].Gene)
	assert.False(t, math.IsInf(points[0].NegLog10P, 0))
	assert.Equal(t, 0.0, points[1].NegLog10P)
	assert.False(t, math.Signbit(points[1].NegLog10P))
	assert.InDelta(t, 2.0, points[2].NegLog10P, 1e-12)
}

func TestResultsJSONRoundTrip(t *testing.T) {
	in := scenarioCSV + "W,2,3,4,10,12,11\nV,0,0.5,0.2,0,0.1,0.3\n"
	res, err := Analyze(parse(t, in), Options{Heatmap: HeatmapOptions{ZScore: true}})
	require.NoError(t, err)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	var back Results
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *res, back)
}

func ExampleClassify() {
	fmt.Println(Classify(3, 0.001, DefaultThresholds()))
	fmt.Println(Classify(3, 0.05, DefaultThresholds()))
	// Output:
	// up
	// not-significant
}
