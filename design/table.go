package design

import (
	"fmt"
	"strings"
)

// Table is sample metadata arranged for modeling: one row per sample, one
// column per factor, with each factor's level set frozen at construction.
// Row order is significant; it must match the count matrix column order
// exactly, and CheckAligned enforces that at every stage boundary.
type Table struct {
	samples []string
	factors []string
	levels  map[string][]string // frozen, in order of first appearance
	values  map[string][]string // factor name -> per-sample level
}

// NewTable builds a metadata table from sample sheet rows, preserving their
// order. Factor levels are coerced to a fixed level set here, once; fitting
// code must not re-derive levels on its own.
func NewTable(samples []Sample) (*Table, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples in design")
	}

	t := &Table{
		factors: []string{FactorKnockout, FactorBisphenol},
		levels:  make(map[string][]string),
		values:  make(map[string][]string),
	}

	for _, s := range samples {
		t.samples = append(t.samples, s.ID)
		t.appendLevel(FactorKnockout, strings.TrimSpace(s.Knockout))
		t.appendLevel(FactorBisphenol, strings.TrimSpace(s.Bisphenol))
	}

	return t, nil
}

func (t *Table) appendLevel(factor, level string) {
	t.values[factor] = append(t.values[factor], level)

	for _, known := range t.levels[factor] {
		if known == level {
			return
		}
	}
	t.levels[factor] = append(t.levels[factor], level)
}

// Samples returns the sample identifiers in row order.
func (t *Table) Samples() []string { return t.samples }

// Factors returns the factor names in declaration order.
func (t *Table) Factors() []string { return t.factors }

// Levels returns a factor's frozen level set, reference level first.
func (t *Table) Levels(factor string) ([]string, error) {
	levels, ok := t.levels[factor]
	if !ok {
		return nil, fmt.Errorf("factor %s is not a sample metadata column", factor)
	}

	return levels, nil
}

// Values returns a factor's per-sample levels in row order.
func (t *Table) Values(factor string) ([]string, error) {
	values, ok := t.values[factor]
	if !ok {
		return nil, fmt.Errorf("factor %s is not a sample metadata column", factor)
	}

	return values, nil
}

// Reorder returns a copy whose rows follow sampleOrder. The two sample sets
// must be identical; a sample on one side only is an error, because silently
// intersecting would misassign factor levels downstream.
func (t *Table) Reorder(sampleOrder []string) (*Table, error) {
	index := make(map[string]int, len(t.samples))
	for i, s := range t.samples {
		index[s] = i
	}

	if len(sampleOrder) != len(t.samples) {
		return nil, fmt.Errorf("metadata has %d samples but the matrix has %d columns", len(t.samples), len(sampleOrder))
	}

	out := &Table{
		factors: t.factors,
		levels:  make(map[string][]string, len(t.levels)),
		values:  make(map[string][]string, len(t.values)),
	}
	for factor, levels := range t.levels {
		out.levels[factor] = append([]string{}, levels...)
	}

	for _, s := range sampleOrder {
		i, ok := index[s]
		if !ok {
			return nil, fmt.Errorf("matrix column %s has no sample metadata row", s)
		}

		out.samples = append(out.samples, s)
		for _, factor := range t.factors {
			out.values[factor] = append(out.values[factor], t.values[factor][i])
		}
	}

	return out, nil
}

// Subset returns a copy containing only rows whose factor value is one of the
// given levels, preserving order and the frozen level sets.
func (t *Table) Subset(factor string, keep ...string) (*Table, error) {
	values, err := t.Values(factor)
	if err != nil {
		return nil, err
	}

	keepSet := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		keepSet[k] = struct{}{}
	}

	out := &Table{
		factors: t.factors,
		levels:  make(map[string][]string, len(t.levels)),
		values:  make(map[string][]string, len(t.values)),
	}
	for f, levels := range t.levels {
		out.levels[f] = append([]string{}, levels...)
	}

	for i, s := range t.samples {
		if _, ok := keepSet[values[i]]; !ok {
			continue
		}
		out.samples = append(out.samples, s)
		for _, f := range t.factors {
			out.values[f] = append(out.values[f], t.values[f][i])
		}
	}

	return out, nil
}

// CheckAligned verifies that metadata row order equals the matrix column
// order, element by element. Modeling with misaligned metadata silently
// associates factors with the wrong samples, so every consumer of a
// matrix/metadata pair calls this first and fails fast.
func CheckAligned(matrixSamples []string, t *Table) error {
	if len(matrixSamples) != len(t.samples) {
		return fmt.Errorf("matrix has %d columns but metadata has %d rows", len(matrixSamples), len(t.samples))
	}

	for i, s := range matrixSamples {
		if t.samples[i] != s {
			return fmt.Errorf("metadata row %d is %s but matrix column %d is %s; reorder the metadata to match the matrix", i, t.samples[i], i, s)
		}
	}

	return nil
}
