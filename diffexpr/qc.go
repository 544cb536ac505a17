package diffexpr

import (
	"sort"

	"github.com/evelab/rnaseqmisc/countmatrix"
	"github.com/tokenme/probab/dst"
	"gonum.org/v1/gonum/stat"
)

// SampleQC summarizes one sample's column of the count matrix.
type SampleQC struct {
	Sample        string
	LibrarySize   float64
	DetectedGenes int
	MedianCount   float64
	P99Count      float64
}

// QC computes per-sample summaries of a count matrix: total counts, genes
// with any signal, and the middle and upper tail of the count distribution.
func QC(m *countmatrix.Matrix) []SampleQC {
	out := make([]SampleQC, 0, m.NSamples())

	for j, sample := range m.Samples() {
		col := m.Column(j)

		qc := SampleQC{Sample: sample}
		for _, v := range col {
			qc.LibrarySize += v
			if v > 0 {
				qc.DetectedGenes++
			}
		}

		sorted := append([]float64{}, col...)
		sort.Float64s(sorted)
		if len(sorted) > 0 {
			qc.MedianCount = stat.Quantile(0.5, stat.LinInterp, sorted, nil)
			qc.P99Count = stat.Quantile(0.99, stat.LinInterp, sorted, nil)
		}

		out = append(out, qc)
	}

	return out
}

// LibraryBalance tests whether total counts are evenly spread across
// samples. A very small p flags libraries so imbalanced that size-factor
// normalization deserves a closer look. The p-value is 1 when the test is
// undefined (fewer than two samples or no counts at all).
func LibraryBalance(m *countmatrix.Matrix) (chiSquare, p float64) {
	p = 1.0
	defer func() { recover() }()

	sums := m.ColumnSums()
	if len(sums) < 2 {
		return 0, 1
	}

	mean := 0.0
	for _, s := range sums {
		mean += s
	}
	mean /= float64(len(sums))
	if mean <= 0 {
		return 0, 1
	}

	for _, s := range sums {
		chiSquare += (s - mean) * (s - mean) / mean
	}

	p = 1.0 - dst.ChiSquareCDF(int64(len(sums)-1))(chiSquare)

	return chiSquare, p
}
