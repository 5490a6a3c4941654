package deg

import (
	"errors"
	"math"
)

// Label is the regulation call for a gene.
type Label string

const (
	Up             Label = "up"
	Down           Label = "down"
	NotSignificant Label = "not-significant"
)

// Thresholds are the cutoffs a gene must pass to be called up or down.
// Both comparisons are strict: a gene sitting exactly on either threshold is
// not significant.
type Thresholds struct {
	// FoldChange is the minimum |log2FC|, exclusive.
	FoldChange float64 `json:"fold_change"`
	// PValue is the maximum adjusted p-value, exclusive.
	PValue float64 `json:"p_value"`
}

// DefaultThresholds returns |log2FC| > 1 and adjusted p < 0.05.
func DefaultThresholds() Thresholds {
	return Thresholds{FoldChange: 1, PValue: 0.05}
}

var ErrInvalidThresholds = errors.New("invalid thresholds")

// Validate checks that both cutoffs are usable.
func (t Thresholds) Validate() error {
	if !(t.FoldChange >= 0) || math.IsInf(t.FoldChange, 0) {
		return errors.Join(ErrInvalidThresholds, errors.New("fold change threshold must be a non-negative number"))
	}
	if !(t.PValue > 0 && t.PValue <= 1) {
		return errors.Join(ErrInvalidThresholds, errors.New("p-value threshold must be in (0, 1]"))
	}
	return nil
}

// Classify labels a gene from its effect size and adjusted p-value.
func Classify(log2FC, adjP float64, t Thresholds) Label {
	if !(adjP < t.PValue) {
		return NotSignificant
	}
	switch {
	case log2FC > t.FoldChange:
		return Up
	case log2FC < -t.FoldChange:
		return Down
	default:
		return NotSignificant
	}
}
