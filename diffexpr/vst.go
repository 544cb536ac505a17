package diffexpr

import (
	"math"

	"github.com/evelab/rnaseqmisc/countmatrix"
)

// VarianceStabilize maps normalized counts onto a scale where the variance is
// roughly constant across the range of means, using the closed-form transform
// implied by the fitted dispersion trend alpha(mu) = A1/mu + A0:
//
//	v(q) = log2( (1 + A1 + 2*A0*q + 2*sqrt(A0*q*(1 + A1 + A0*q))) / (4*A0) )
//
// The transform is monotone in q, so within-sample ordering is preserved.
// When the trend is degenerate (A0 at the floor), a shifted log2 is used
// instead.
func VarianceStabilize(d *DataSet, disp *Dispersions) (*countmatrix.Matrix, error) {
	norm, err := d.NormalizedCounts()
	if err != nil {
		return nil, err
	}

	nGenes, nSamples := norm.NGenes(), norm.NSamples()
	values := make([][]float64, nGenes)
	for i := 0; i < nGenes; i++ {
		row := make([]float64, nSamples)
		for j := 0; j < nSamples; j++ {
			row[j] = vstValue(norm.At(i, j), disp.TrendA0, disp.TrendA1)
		}
		values[i] = row
	}

	return countmatrix.New(norm.Genes(), norm.Samples(), values)
}

func vstValue(q, a0, a1 float64) float64 {
	if a0 <= dispersionMin {
		return math.Log2(q + 1)
	}

	return math.Log2((1 + a1 + 2*a0*q + 2*math.Sqrt(a0*q*(1+a1+a0*q))) / (4 * a0))
}
