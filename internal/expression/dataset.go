// Package expression reads gene-expression tables into validated datasets.
package expression

// Group is one of the two sample conditions compared by an analysis.
type Group string

const (
	Control   Group = "control"
	Condition Group = "condition"
)

// Row is one gene with its values split by group, in header column order.
type Row struct {
	Line      int       `json:"line"`
	Gene      string    `json:"gene"`
	Control   []float64 `json:"control"`
	Condition []float64 `json:"condition"`
}

// Dataset is an ordered set of gene rows sharing one sample layout.
//
// Every row holds exactly len(ControlSamples) control values and
// len(ConditionSamples) condition values. Rows that could not satisfy that
// were dropped during parsing and are listed in Skipped.
type Dataset struct {
	Name             string       `json:"name,omitempty"`
	ControlSamples   []string     `json:"control_samples"`
	ConditionSamples []string     `json:"condition_samples"`
	Rows             []Row        `json:"rows"`
	Skipped          []Diagnostic `json:"skipped,omitempty"`
	Log2Scale        bool         `json:"log2_scale"`
}

// Samples returns all sample names, control columns first.
func (d *Dataset) Samples() []string {
	out := make([]string, 0, len(d.ControlSamples)+len(d.ConditionSamples))
	out = append(out, d.ControlSamples...)
	return append(out, d.ConditionSamples...)
}

// InputRows is the number of data rows read, including skipped ones.
func (d *Dataset) InputRows() int {
	return len(d.Rows) + len(d.Skipped)
}

// Values returns the row's values in Samples order.
func (r Row) Values() []float64 {
	out := make([]float64, 0, len(r.Control)+len(r.Condition))
	out = append(out, r.Control...)
	return append(out, r.Condition...)
}

// Diagnostic kinds.
const (
	KindMalformedRow       = "malformed_row"
	KindDegenerateVariance = "degenerate_variance"
)

// Diagnostic records a non-fatal condition met while building results.
type Diagnostic struct {
	Kind   string `json:"kind"`
	Line   int    `json:"line,omitempty"`
	Gene   string `json:"gene,omitempty"`
	Reason string `json:"reason"`
}

// Options control how raw cells are interpreted.
type Options struct {
	// Log2Scale declares values already log2-transformed. Negative values are
	// then accepted.
	Log2Scale bool
}
