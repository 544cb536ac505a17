// Package countmatrix holds the gene-by-sample count matrix that connects the
// quantification importer to the differential expression pipeline, along with
// the loading, cleaning, and filtering steps that make a raw annotated matrix
// safe for statistical modeling.
package countmatrix

import (
	"fmt"
	"math"
)

// Matrix is a dense gene-by-sample matrix with unique, ordered row and column
// keys. Transformations return new matrices; a Matrix is never mutated after
// construction.
type Matrix struct {
	genes   []string
	samples []string
	values  [][]float64

	geneIdx map[string]int
}

// New validates and wraps the given labels and values. Row count must match
// genes, column count must match samples, and labels must be unique on both
// axes.
func New(genes, samples []string, values [][]float64) (*Matrix, error) {
	if len(values) != len(genes) {
		return nil, fmt.Errorf("have %d genes but %d value rows", len(genes), len(values))
	}

	geneIdx := make(map[string]int, len(genes))
	for i, gene := range genes {
		if gene == "" {
			return nil, fmt.Errorf("row %d has an empty gene identifier", i)
		}
		if _, exists := geneIdx[gene]; exists {
			return nil, fmt.Errorf("duplicate gene identifier %s", gene)
		}
		geneIdx[gene] = i

		if len(values[i]) != len(samples) {
			return nil, fmt.Errorf("gene %s has %d values but there are %d samples", gene, len(values[i]), len(samples))
		}
	}

	seenSamples := make(map[string]struct{}, len(samples))
	for _, sample := range samples {
		if sample == "" {
			return nil, fmt.Errorf("empty sample identifier")
		}
		if _, exists := seenSamples[sample]; exists {
			return nil, fmt.Errorf("duplicate sample identifier %s", sample)
		}
		seenSamples[sample] = struct{}{}
	}

	return &Matrix{genes: genes, samples: samples, values: values, geneIdx: geneIdx}, nil
}

func (m *Matrix) NGenes() int   { return len(m.genes) }
func (m *Matrix) NSamples() int { return len(m.samples) }

// Genes returns the row keys in order. The caller must not modify the slice.
func (m *Matrix) Genes() []string { return m.genes }

// Samples returns the column keys in order. The caller must not modify the
// slice.
func (m *Matrix) Samples() []string { return m.samples }

// At returns the value at row g, column s.
func (m *Matrix) At(g, s int) float64 { return m.values[g][s] }

// Row returns the values for row g. The caller must not modify the slice.
func (m *Matrix) Row(g int) []float64 { return m.values[g] }

// GeneIndex returns the row index of a gene identifier.
func (m *Matrix) GeneIndex(gene string) (int, bool) {
	i, ok := m.geneIdx[gene]
	return i, ok
}

// Column copies out the values for column s.
func (m *Matrix) Column(s int) []float64 {
	out := make([]float64, len(m.genes))
	for g := range m.genes {
		out[g] = m.values[g][s]
	}

	return out
}

// RowSums returns per-gene totals across samples.
func (m *Matrix) RowSums() []float64 {
	out := make([]float64, len(m.genes))
	for g, row := range m.values {
		for _, v := range row {
			out[g] += v
		}
	}

	return out
}

// ColumnSums returns per-sample totals across genes (library sizes).
func (m *Matrix) ColumnSums() []float64 {
	out := make([]float64, len(m.samples))
	for _, row := range m.values {
		for s, v := range row {
			out[s] += v
		}
	}

	return out
}

// Validate confirms the invariants the statistical engine depends on: unique
// keys on both axes (guaranteed by construction), and every cell a
// non-negative integer.
func (m *Matrix) Validate() error {
	for g, row := range m.values {
		for s, v := range row {
			if v < 0 {
				return fmt.Errorf("gene %s, sample %s: negative count %f", m.genes[g], m.samples[s], v)
			}
			if v != math.Trunc(v) {
				return fmt.Errorf("gene %s, sample %s: non-integral count %f", m.genes[g], m.samples[s], v)
			}
		}
	}

	return nil
}

// Round returns a copy with every cell rounded to the nearest integer.
func (m *Matrix) Round() *Matrix {
	values := make([][]float64, len(m.values))
	for g, row := range m.values {
		out := make([]float64, len(row))
		for s, v := range row {
			out[s] = math.Round(v)
		}
		values[g] = out
	}

	next, _ := New(m.genes, m.samples, values)

	return next
}

// FilterMinTotal returns a copy without the genes whose total count across
// all samples is below min. Applying it twice changes nothing.
func (m *Matrix) FilterMinTotal(min float64) *Matrix {
	sums := m.RowSums()

	genes := make([]string, 0, len(m.genes))
	values := make([][]float64, 0, len(m.values))
	for g, sum := range sums {
		if sum < min {
			continue
		}
		genes = append(genes, m.genes[g])
		values = append(values, m.values[g])
	}

	next, _ := New(genes, samplesCopy(m.samples), values)

	return next
}

// Subset returns a copy restricted to the named columns, in the given order.
func (m *Matrix) Subset(samples []string) (*Matrix, error) {
	cols := make([]int, len(samples))
	index := make(map[string]int, len(m.samples))
	for i, s := range m.samples {
		index[s] = i
	}
	for i, s := range samples {
		j, ok := index[s]
		if !ok {
			return nil, fmt.Errorf("sample %s is not a matrix column", s)
		}
		cols[i] = j
	}

	values := make([][]float64, len(m.values))
	for g, row := range m.values {
		out := make([]float64, len(cols))
		for i, j := range cols {
			out[i] = row[j]
		}
		values[g] = out
	}

	return New(m.genes, samplesCopy(samples), values)
}

func samplesCopy(samples []string) []string {
	out := make([]string, len(samples))
	copy(out, samples)

	return out
}
