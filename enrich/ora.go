package enrich

import (
	"fmt"
	"sort"

	fet "github.com/glycerine/golang-fisher-exact"
)

// Gene sets whose overlap with the universe falls outside this window are
// skipped: tiny sets are unstable, huge sets uninformative.
const (
	DefaultMinSetSize = 10
	DefaultMaxSetSize = 500
)

// ORAOptions bounds which gene sets are tested. Zero values fall back to the
// defaults.
type ORAOptions struct {
	MinSetSize int
	MaxSetSize int
}

func (o ORAOptions) withDefaults() (ORAOptions, error) {
	if o.MinSetSize < 1 {
		o.MinSetSize = DefaultMinSetSize
	}
	if o.MaxSetSize < 1 {
		o.MaxSetSize = DefaultMaxSetSize
	}
	if o.MinSetSize > o.MaxSetSize {
		return o, fmt.Errorf("minimum set size %d exceeds maximum %d", o.MinSetSize, o.MaxSetSize)
	}

	return o, nil
}

// ORAResult is one gene set's over-representation test.
type ORAResult struct {
	Set         string
	Description string
	Hits        int
	SetSize     int
	ListSize    int
	Universe    int
	HitGenes    []string
	P           float64
	PAdj        float64
}

// Overrepresentation asks, for every gene set, whether the hit list contains
// more of the set's members than a random draw from the universe would, by
// the one-sided Fisher exact test on the 2x2 membership table. Hits outside
// the universe are ignored. An empty hit list returns an empty result rather
// than an error, since a contrast with no significant genes is an expected
// outcome.
func Overrepresentation(hits, universe []string, sets []GeneSet, opts ORAOptions) ([]ORAResult, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if len(universe) == 0 {
		return nil, fmt.Errorf("over-representation: empty universe")
	}

	universeSet := make(map[string]struct{}, len(universe))
	for _, g := range universe {
		universeSet[g] = struct{}{}
	}

	hitSet := make(map[string]struct{}, len(hits))
	for _, g := range hits {
		if _, ok := universeSet[g]; ok {
			hitSet[g] = struct{}{}
		}
	}
	if len(hitSet) == 0 {
		return nil, nil
	}

	var results []ORAResult
	for _, set := range sets {
		setSize := 0
		var hitGenes []string
		for _, g := range set.Genes {
			if _, ok := universeSet[g]; !ok {
				continue
			}
			setSize++
			if _, hit := hitSet[g]; hit {
				hitGenes = append(hitGenes, g)
			}
		}

		if setSize < opts.MinSetSize || setSize > opts.MaxSetSize {
			continue
		}

		sort.Strings(hitGenes)

		n11 := len(hitGenes)
		n12 := len(hitSet) - n11
		n21 := setSize - n11
		n22 := len(universeSet) - setSize - n12
		_, _, rightp, _ := fet.FisherExactTest(n11, n12, n21, n22)

		results = append(results, ORAResult{
			Set:         set.Name,
			Description: set.Description,
			Hits:        n11,
			SetSize:     setSize,
			ListSize:    len(hitSet),
			Universe:    len(universeSet),
			HitGenes:    hitGenes,
			P:           rightp,
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

// adjustBH applies the Benjamini-Hochberg step-up correction.
func adjustBH(ps []float64) []float64 {
	order := make([]int, len(ps))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return ps[order[a]] < ps[order[b]] })

	adj := make([]float64, len(ps))
	m := float64(len(ps))
	running := 1.0
	for k := len(order) - 1; k >= 0; k-- {
		idx := order[k]
		candidate := ps[idx] * m / float64(k+1)
		if candidate < running {
			running = candidate
		}
		adj[idx] = running
	}

	return adj
}
