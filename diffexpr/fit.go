package diffexpr

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/evelab/rnaseqmisc/countmatrix"
	"github.com/evelab/rnaseqmisc/design"
)

// Options tunes the fitting step. The zero value is usable.
type Options struct {
	// Workers caps the number of goroutines fitting genes concurrently.
	// Zero or negative means one per CPU. Results are identical for any
	// worker count.
	Workers int
}

// Model is a fitted differential expression model: size factors, dispersion
// estimates, and per-condition mean expression for every factor level the
// formula names. All contrasts are extracted from the same fitted model, so
// shared quantities like baseMean agree across result tables.
type Model struct {
	data    *DataSet
	formula design.Formula

	sizeFactors []float64
	dispersions *Dispersions
	normalized  *countmatrix.Matrix

	levelMeans map[string]map[string][]float64
	levelN     map[string]map[string]int
	levelInvS  map[string]map[string]float64
}

// Fit estimates the model for the given design formula. The formula is
// supplied here, not at DataSet construction, so the fitted model records
// exactly what it was fit with.
func Fit(ctx context.Context, d *DataSet, f design.Formula, opts Options) (*Model, error) {
	if err := f.Validate(d.meta); err != nil {
		return nil, err
	}
	if err := f.CheckFullRank(d.meta); err != nil {
		return nil, err
	}

	sizeFactors, err := d.SizeFactors()
	if err != nil {
		return nil, err
	}
	dispersions, err := EstimateDispersions(d, f)
	if err != nil {
		return nil, err
	}
	normalized, err := d.NormalizedCounts()
	if err != nil {
		return nil, err
	}

	m := &Model{
		data:        d,
		formula:     f,
		sizeFactors: sizeFactors,
		dispersions: dispersions,
		normalized:  normalized,
		levelMeans:  make(map[string]map[string][]float64),
		levelN:      make(map[string]map[string]int),
		levelInvS:   make(map[string]map[string]float64),
	}

	// Index the samples belonging to each factor level once.
	nGenes := normalized.NGenes()
	members := make(map[string]map[string][]int)
	for _, factor := range f.Factors {
		values, err := d.meta.Values(factor)
		if err != nil {
			return nil, err
		}

		members[factor] = make(map[string][]int)
		m.levelMeans[factor] = make(map[string][]float64)
		m.levelN[factor] = make(map[string]int)
		m.levelInvS[factor] = make(map[string]float64)

		for j, level := range values {
			members[factor][level] = append(members[factor][level], j)
		}
		for level, idx := range members[factor] {
			m.levelMeans[factor][level] = make([]float64, nGenes)
			m.levelN[factor][level] = len(idx)
			invS := 0.0
			for _, j := range idx {
				invS += 1 / sizeFactors[j]
			}
			m.levelInvS[factor][level] = invS
		}
	}

	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	genes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range genes {
				row := normalized.Row(i)
				for factor, byLevel := range members {
					for level, idx := range byLevel {
						sum := 0.0
						for _, j := range idx {
							sum += row[j]
						}
						m.levelMeans[factor][level][i] = sum / float64(len(idx))
					}
				}
			}
		}()
	}

feed:
	for i := 0; i < nGenes; i++ {
		select {
		case <-ctx.Done():
			break feed
		case genes <- i:
		}
	}
	close(genes)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return m, nil
}

// Formula reports the design the model was fit with.
func (m *Model) Formula() design.Formula { return m.formula }

// Data returns the dataset the model was fit on.
func (m *Model) Data() *DataSet { return m.data }

// SizeFactors returns the per-sample normalization factors, matrix column
// order.
func (m *Model) SizeFactors() []float64 { return m.sizeFactors }

// Dispersions returns the per-gene dispersion estimates.
func (m *Model) Dispersions() *Dispersions { return m.dispersions }

// BaseMeans returns the per-gene mean of normalized counts across all
// samples, the baseMean column every contrast shares.
func (m *Model) BaseMeans() []float64 { return m.dispersions.Means }

// LevelMean returns the per-gene mean of normalized counts among samples at
// the given factor level.
func (m *Model) LevelMean(factor, level string) ([]float64, error) {
	byLevel, ok := m.levelMeans[factor]
	if !ok {
		return nil, fmt.Errorf("factor %s is not part of the fitted design %s", factor, m.formula)
	}
	means, ok := byLevel[level]
	if !ok {
		return nil, fmt.Errorf("factor %s has no fitted level %s", factor, level)
	}

	return means, nil
}
