package diffexpr

import (
	"fmt"
	"math"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/carbocation/runningvariance"
	"github.com/evelab/rnaseqmisc/design"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

const (
	dispersionMin = 1e-8
	dispersionMax = 10.0

	// Gene-wise estimates at or near the floor carry no signal about the
	// mean-dispersion relationship and are excluded from the trend fit.
	trendFitMin = 100 * dispersionMin
)

// Dispersions holds the per-gene dispersion estimates at each stage: the raw
// method-of-moments value, the parametric trend evaluated at the gene's mean,
// and the final value used by the model. Raw is NaN for genes where no
// estimate is possible (zero mean). The trend follows alpha(mu) = A1/mu + A0.
type Dispersions struct {
	Means []float64
	Raw   []float64
	Trend []float64
	Final []float64

	TrendA0 float64
	TrendA1 float64
}

// EstimateDispersions computes per-gene dispersions from normalized counts.
// The raw estimate pools the within-condition variance across the groups the
// formula defines, subtracts the expected shot noise, and scales by the
// squared mean. A parametric trend alpha(mu) = A1/mu + A0 is then fit across
// genes, and each gene's final dispersion is the larger of its raw estimate
// and the trend, which keeps genes more variable than the trend from being
// anti-conservative.
func EstimateDispersions(d *DataSet, f design.Formula) (*Dispersions, error) {
	norm, err := d.NormalizedCounts()
	if err != nil {
		return nil, err
	}
	factors, err := d.SizeFactors()
	if err != nil {
		return nil, err
	}

	groups, err := conditionGroups(d.meta, f)
	if err != nil {
		return nil, err
	}

	replicatedDF := 0
	for _, members := range groups {
		replicatedDF += len(members) - 1
	}
	if replicatedDF < 1 {
		return nil, fmt.Errorf("dispersion: no condition defined by %s has replicates; cannot separate noise from signal", f)
	}

	// Shot-noise scale: mean of 1/sizeFactor across samples.
	xi := 0.0
	for _, s := range factors {
		xi += 1 / s
	}
	xi /= float64(len(factors))

	nGenes := norm.NGenes()
	disp := &Dispersions{
		Means: make([]float64, nGenes),
		Raw:   make([]float64, nGenes),
		Trend: make([]float64, nGenes),
		Final: make([]float64, nGenes),
	}

	for i := 0; i < nGenes; i++ {
		row := norm.Row(i)

		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(len(row))
		disp.Means[i] = mean

		if mean <= 0 {
			disp.Raw[i] = math.NaN()
			continue
		}

		pooledSS := 0.0
		for _, members := range groups {
			if len(members) < 2 {
				continue
			}
			rs := runningvariance.NewRunningStat()
			for _, j := range members {
				rs.Push(row[j])
			}
			pooledSS += rs.Variance() * float64(len(members)-1)
		}
		pooledVar := pooledSS / float64(replicatedDF)

		raw := (pooledVar - mean*xi) / (mean * mean)
		if raw < dispersionMin {
			raw = dispersionMin
		}
		disp.Raw[i] = raw
	}

	disp.TrendA0, disp.TrendA1 = fitDispersionTrend(disp.Means, disp.Raw)

	for i := 0; i < nGenes; i++ {
		if disp.Means[i] <= 0 {
			disp.Trend[i] = math.NaN()
			disp.Final[i] = math.NaN()
			continue
		}

		trend := disp.TrendA1/disp.Means[i] + disp.TrendA0
		disp.Trend[i] = trend

		final := trend
		if !math.IsNaN(disp.Raw[i]) && disp.Raw[i] > final {
			final = disp.Raw[i]
		}
		if final > dispersionMax {
			final = dispersionMax
		}
		if final < dispersionMin {
			final = dispersionMin
		}
		disp.Final[i] = final
	}

	return disp, nil
}

// fitDispersionTrend regresses raw dispersions on 1/mean, refitting once
// after discarding points far off the first fit. Degenerate fits fall back
// to a flat trend at the median raw dispersion.
func fitDispersionTrend(means, raw []float64) (a0, a1 float64) {
	var xs, ys []float64
	for i := range raw {
		if means[i] > 0 && !math.IsNaN(raw[i]) && raw[i] > trendFitMin {
			xs = append(xs, 1/means[i])
			ys = append(ys, raw[i])
		}
	}

	fallback := func() (float64, float64) {
		var usable []float64
		for i := range raw {
			if !math.IsNaN(raw[i]) {
				usable = append(usable, raw[i])
			}
		}
		if len(usable) == 0 {
			return dispersionMin, 0
		}
		med, err := stats.Median(usable)
		if err != nil || med < dispersionMin {
			return dispersionMin, 0
		}
		return med, 0
	}

	if len(xs) < 3 {
		return fallback()
	}

	a0, a1 = stat.LinearRegression(xs, ys, nil, false)

	// One trimming pass: points orders of magnitude off the line say nothing
	// about the trend.
	var kx, ky []float64
	for i := range xs {
		fit := a1*xs[i] + a0
		if fit <= 0 {
			continue
		}
		if ratio := ys[i] / fit; ratio > 1e-4 && ratio < 1e4 {
			kx = append(kx, xs[i])
			ky = append(ky, ys[i])
		}
	}
	if len(kx) >= 3 {
		a0, a1 = stat.LinearRegression(kx, ky, nil, false)
	}

	if math.IsNaN(a0) || math.IsNaN(a1) {
		return fallback()
	}
	if a1 < 0 {
		a1 = 0
	}
	if a0 < dispersionMin {
		a0 = dispersionMin
	}

	return a0, a1
}

// conditionGroups partitions sample indices by their combination of the
// formula's factor levels.
func conditionGroups(t *design.Table, f design.Formula) (map[string][]int, error) {
	perFactor := make([][]string, 0, len(f.Factors))
	for _, factor := range f.Factors {
		values, err := t.Values(factor)
		if err != nil {
			return nil, pfx.Err(err)
		}
		perFactor = append(perFactor, values)
	}

	n := len(t.Samples())
	groups := make(map[string][]int)
	for j := 0; j < n; j++ {
		parts := make([]string, len(perFactor))
		for k, values := range perFactor {
			parts[k] = values[j]
		}
		key := strings.Join(parts, "\x1f")
		groups[key] = append(groups[key], j)
	}

	return groups, nil
}
