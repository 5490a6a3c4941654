package deg

import (
	"github.com/MaartenRingburg/Pathoscope-V5/internal/expression"
)

// Options configure an analysis run. The zero value uses Welch's test and the
// default thresholds.
type Options struct {
	Thresholds    Thresholds
	EqualVariance bool
	Heatmap       HeatmapOptions
}

func (o Options) thresholds() Thresholds {
	if o.Thresholds == (Thresholds{}) {
		return DefaultThresholds()
	}
	return o.Thresholds
}

func (o Options) testName() string {
	if o.EqualVariance {
		return "student"
	}
	return "welch"
}

// Results is everything one analysis produces. It is plain data and survives
// a JSON round trip unchanged.
type Results struct {
	Dataset          string                  `json:"dataset"`
	Test             string                  `json:"test"`
	Thresholds       Thresholds              `json:"thresholds"`
	Log2Scale        bool                    `json:"log2_scale"`
	ControlSamples   []string                `json:"control_samples"`
	ConditionSamples []string                `json:"condition_samples"`
	Genes            []GeneStat              `json:"genes"`
	Ranked           []GeneStat              `json:"ranked"`
	Volcano          []VolcanoPoint          `json:"volcano"`
	MA               []MAPoint               `json:"ma"`
	Heatmap          Heatmap                 `json:"heatmap"`
	Diagnostics      []expression.Diagnostic `json:"diagnostics"`
}

// Analyze runs the statistics engine and builds every projection.
func Analyze(ds *expression.Dataset, opts Options) (*Results, error) {
	stats, diags, err := Compute(ds, opts)
	if err != nil {
		return nil, err
	}

	all := make([]expression.Diagnostic, 0, len(ds.Skipped)+len(diags))
	all = append(all, ds.Skipped...)
	all = append(all, diags...)

	return &Results{
		Dataset:          ds.Name,
		Test:             opts.testName(),
		Thresholds:       opts.thresholds(),
		Log2Scale:        ds.Log2Scale,
		ControlSamples:   ds.ControlSamples,
		ConditionSamples: ds.ConditionSamples,
		Genes:            stats,
		Ranked:           Rank(stats),
		Volcano:          Volcano(stats),
		MA:               MA(stats, ds.Log2Scale),
		Heatmap:          BuildHeatmap(ds, stats, opts.Heatmap),
		Diagnostics:      all,
	}, nil
}

// Skipped returns the rows excluded from the statistics.
func (r *Results) Skipped() []expression.Diagnostic {
	var out []expression.Diagnostic
	for _, d := range r.Diagnostics {
		if d.Kind == expression.KindMalformedRow {
			out = append(out, d)
		}
	}
	return out
}

// Significant returns up and down genes in rank order.
func (r *Results) Significant() []string {
	var out []string
	for _, s := range r.Ranked {
		if s.Label != NotSignificant {
			out = append(out, s.Gene)
		}
	}
	return out
}

// Counts tallies genes per label.
type Counts struct {
	Up             int `json:"up"`
	Down           int `json:"down"`
	NotSignificant int `json:"not_significant"`
	Skipped        int `json:"skipped"`
}

func (r *Results) Counts() Counts {
	c := Counts{Skipped: len(r.Skipped())}
	for _, s := range r.Genes {
		switch s.Label {
		case Up:
			c.Up++
		case Down:
			c.Down++
		default:
			c.NotSignificant++
		}
	}
	return c
}
