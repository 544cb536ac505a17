// Package diffexpr fits a negative-binomial differential expression model to
// a gene-level count matrix and extracts per-contrast result tables, along
// with the normalization, dispersion, and variance-stabilizing machinery the
// model depends on.
package diffexpr

import (
	"fmt"
	"math"

	"github.com/carbocation/pfx"
	"github.com/evelab/rnaseqmisc/countmatrix"
	"github.com/evelab/rnaseqmisc/design"
	"github.com/montanaflynn/stats"
)

// DataSet pairs an integral count matrix with sample metadata whose row order
// matches the matrix column order. Both halves are validated once at
// construction so downstream steps can trust the pairing.
type DataSet struct {
	counts *countmatrix.Matrix
	meta   *design.Table

	sizeFactors []float64
}

// NewDataSet validates that counts are non-negative integers and that the
// metadata rows line up with the matrix columns, in that order.
func NewDataSet(counts *countmatrix.Matrix, meta *design.Table) (*DataSet, error) {
	if counts == nil || meta == nil {
		return nil, fmt.Errorf("both counts and sample metadata are required")
	}
	if err := counts.Validate(); err != nil {
		return nil, pfx.Err(err)
	}
	if err := design.CheckAligned(counts.Samples(), meta); err != nil {
		return nil, pfx.Err(err)
	}

	return &DataSet{counts: counts, meta: meta}, nil
}

func (d *DataSet) Counts() *countmatrix.Matrix { return d.counts }

func (d *DataSet) Metadata() *design.Table { return d.meta }

// FilterLowCounts drops genes whose total count across samples is below
// minTotal, returning a new DataSet. Applying the same threshold twice is a
// no-op.
func (d *DataSet) FilterLowCounts(minTotal float64) *DataSet {
	return &DataSet{counts: d.counts.FilterMinTotal(minTotal), meta: d.meta}
}

// SizeFactors estimates one normalization factor per sample by the
// median-of-ratios method: each sample's counts are divided by the per-gene
// geometric mean across samples, and the median of those ratios over genes
// expressed in every sample becomes the factor. The result is cached on
// first use.
func (d *DataSet) SizeFactors() ([]float64, error) {
	if d.sizeFactors != nil {
		return d.sizeFactors, nil
	}

	nGenes, nSamples := d.counts.NGenes(), d.counts.NSamples()

	// Per-gene geometric means over genes observed in every sample. Genes
	// with any zero count carry no information about relative depth here.
	logRef := make([]float64, nGenes)
	usable := make([]bool, nGenes)
	for i := 0; i < nGenes; i++ {
		sum := 0.0
		ok := true
		for j := 0; j < nSamples; j++ {
			v := d.counts.At(i, j)
			if v <= 0 {
				ok = false
				break
			}
			sum += math.Log(v)
		}
		if ok {
			logRef[i] = sum / float64(nSamples)
			usable[i] = true
		}
	}

	factors := make([]float64, nSamples)
	ratios := make([]float64, 0, nGenes)
	for j := 0; j < nSamples; j++ {
		ratios = ratios[:0]
		for i := 0; i < nGenes; i++ {
			if !usable[i] {
				continue
			}
			ratios = append(ratios, math.Exp(math.Log(d.counts.At(i, j))-logRef[i]))
		}
		if len(ratios) == 0 {
			return nil, fmt.Errorf("size factors: no gene is expressed in every sample; cannot establish a reference")
		}

		med, err := stats.Median(ratios)
		if err != nil {
			return nil, pfx.Err(err)
		}
		if med <= 0 || math.IsNaN(med) {
			return nil, fmt.Errorf("size factors: sample %s yields a non-positive factor %v", d.counts.Samples()[j], med)
		}
		factors[j] = med
	}

	d.sizeFactors = factors

	return factors, nil
}

// NormalizedCounts divides each column by its size factor. The returned
// matrix is no longer integral.
func (d *DataSet) NormalizedCounts() (*countmatrix.Matrix, error) {
	factors, err := d.SizeFactors()
	if err != nil {
		return nil, err
	}

	nGenes, nSamples := d.counts.NGenes(), d.counts.NSamples()
	values := make([][]float64, nGenes)
	for i := 0; i < nGenes; i++ {
		row := make([]float64, nSamples)
		for j := 0; j < nSamples; j++ {
			row[j] = d.counts.At(i, j) / factors[j]
		}
		values[i] = row
	}

	return countmatrix.New(d.counts.Genes(), d.counts.Samples(), values)
}
