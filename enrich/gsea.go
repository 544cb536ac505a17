package enrich

import (
	"math"
	"math/rand"
	"sort"
)

// RankTestOptions tunes the rank-based set test. Zero values fall back to
// the defaults; the zero Seed is a valid, fixed seed.
type RankTestOptions struct {
	// Permutations of the gene labels used to calibrate each set's score,
	// default 1000.
	Permutations int
	Seed         int64

	MinSetSize int
	MaxSetSize int
}

// RankTestResult is one gene set's rank-based enrichment test. ES is the
// maximum deviation of the weighted running sum, NES the score normalized by
// the mean permuted magnitude of the same sign, and LeadingEdge the member
// genes at or before the peak that carry the signal.
type RankTestResult struct {
	Set         string
	Description string
	Size        int
	ES          float64
	NES         float64
	LeadingEdge []string
	P           float64
	PAdj        float64
}

// RankTest walks each gene set down the ranking, accumulating score weight
// at members and stepping down at non-members, and scores the set by the
// running sum's largest excursion. Significance comes from permuting which
// ranks belong to the set: the two-sided empirical p is smoothed by one
// pseudo-permutation so it is never exactly zero. Results are deterministic
// for a fixed seed. Sets whose overlap with the ranking is outside the size
// window are skipped; an empty ranking yields an empty result.
func RankTest(r *Ranking, sets []GeneSet, opts RankTestOptions) ([]RankTestResult, error) {
	if opts.Permutations < 1 {
		opts.Permutations = 1000
	}
	oraOpts, err := ORAOptions{MinSetSize: opts.MinSetSize, MaxSetSize: opts.MaxSetSize}.withDefaults()
	if err != nil {
		return nil, err
	}

	n := r.Len()
	if n == 0 {
		return nil, nil
	}

	scores := r.Scores()
	rng := rand.New(rand.NewSource(opts.Seed))

	idx := make([]int, n)
	mask := make([]bool, n)
	swap := func(a, b int) { idx[a], idx[b] = idx[b], idx[a] }

	var results []RankTestResult
	for _, set := range sets {
		var positions []int
		for _, g := range set.Genes {
			if pos, ok := r.Position(g); ok {
				positions = append(positions, pos)
			}
		}
		m := len(positions)
		if m < oraOpts.MinSetSize || m > oraOpts.MaxSetSize || m == n {
			continue
		}
		sort.Ints(positions)

		for _, pos := range positions {
			mask[pos] = true
		}
		es, peak := runningSumScore(scores, mask, m)
		for _, pos := range positions {
			mask[pos] = false
		}

		for i := range idx {
			idx[i] = i
		}
		sameSign, moreExtreme := 0, 0
		sumAbs := 0.0
		for p := 0; p < opts.Permutations; p++ {
			rng.Shuffle(n, swap)
			for _, j := range idx[:m] {
				mask[j] = true
			}
			esPerm, _ := runningSumScore(scores, mask, m)
			for _, j := range idx[:m] {
				mask[j] = false
			}

			if (es >= 0) != (esPerm >= 0) {
				continue
			}
			sameSign++
			sumAbs += math.Abs(esPerm)
			if math.Abs(esPerm) >= math.Abs(es) {
				moreExtreme++
			}
		}

		nes := 0.0
		if sameSign > 0 && sumAbs > 0 {
			nes = es / (sumAbs / float64(sameSign))
		}

		results = append(results, RankTestResult{
			Set:         set.Name,
			Description: set.Description,
			Size:        m,
			ES:          es,
			NES:         nes,
			LeadingEdge: leadingEdge(r, positions, es, peak),
			P:           float64(1+moreExtreme) / float64(1+sameSign),
		})
	}

	ps := make([]float64, len(results))
	for i := range results {
		ps[i] = results[i].P
	}
	for i, padj := range adjustBH(ps) {
		results[i].PAdj = padj
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].PAdj != results[j].PAdj {
			return results[i].PAdj < results[j].PAdj
		}
		if results[i].P != results[j].P {
			return results[i].P < results[j].P
		}
		return results[i].Set < results[j].Set
	})

	return results, nil
}

// runningSumScore computes the weighted running-sum excursion for the masked
// members: member ranks add their absolute score's share, non-members
// subtract an even step. The returned peak is the index of the extreme
// excursion. Callers guarantee 0 < m < len(scores).
func runningSumScore(scores []float64, member []bool, m int) (es float64, peak int) {
	totalAbs := 0.0
	for i, in := range member {
		if in {
			totalAbs += math.Abs(scores[i])
		}
	}
	equalWeights := totalAbs == 0

	missStep := 1.0 / float64(len(scores)-m)

	run := 0.0
	maxDev, minDev := 0.0, 0.0
	maxAt, minAt := 0, 0
	for i, in := range member {
		if in {
			if equalWeights {
				run += 1.0 / float64(m)
			} else {
				run += math.Abs(scores[i]) / totalAbs
			}
		} else {
			run -= missStep
		}

		if run > maxDev {
			maxDev, maxAt = run, i
		}
		if run < minDev {
			minDev, minAt = run, i
		}
	}

	if maxDev >= -minDev {
		return maxDev, maxAt
	}

	return minDev, minAt
}

// leadingEdge lists the member genes driving the excursion: those at or
// before the peak for a positive score, at or after it for a negative one,
// in rank order.
func leadingEdge(r *Ranking, positions []int, es float64, peak int) []string {
	var out []string
	for _, pos := range positions {
		if es >= 0 && pos <= peak {
			out = append(out, r.genes[pos])
		}
		if es < 0 && pos >= peak {
			out = append(out, r.genes[pos])
		}
	}

	return out
}

// FilterSignificant returns the set names with adjusted p at or below alpha,
// preserving result order.
func FilterSignificant(results []RankTestResult, alpha float64) []string {
	var out []string
	for _, res := range results {
		if res.PAdj <= alpha {
			out = append(out, res.Set)
		}
	}

	return out
}
