// Package cluster computes sample-to-sample distances and a single-linkage
// hierarchical clustering over them, which drives the ordering of the
// sample-distance heatmap.
package cluster

import (
	"fmt"
	"sort"

	"github.com/evelab/rnaseqmisc/countmatrix"
	"github.com/theodesp/unionfind"
	"gonum.org/v1/gonum/floats"
)

// DistanceMatrix is a symmetric matrix of Euclidean distances between sample
// columns, zero on the diagonal.
type DistanceMatrix struct {
	Labels []string
	D      [][]float64
}

// Distances measures the Euclidean distance between every pair of sample
// columns, typically on variance-stabilized values.
func Distances(m *countmatrix.Matrix) *DistanceMatrix {
	n := m.NSamples()

	cols := make([][]float64, n)
	for j := 0; j < n; j++ {
		cols[j] = m.Column(j)
	}

	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist := floats.Distance(cols[i], cols[j], 2)
			d[i][j] = dist
			d[j][i] = dist
		}
	}

	return &DistanceMatrix{
		Labels: m.Samples(),
		D:      d,
	}
}

// GeneDistances measures the Euclidean distance between every pair of gene
// rows, for ordering heatmap rows. The matrix grows quadratically in the
// gene count, so callers working with large matrices should subset to their
// most variable genes first.
func GeneDistances(m *countmatrix.Matrix) *DistanceMatrix {
	n := m.NGenes()

	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist := floats.Distance(m.Row(i), m.Row(j), 2)
			d[i][j] = dist
			d[j][i] = dist
		}
	}

	return &DistanceMatrix{
		Labels: m.Genes(),
		D:      d,
	}
}

// Merge records one agglomeration step: the clusters containing samples A
// and B were joined at the given height.
type Merge struct {
	A, B   int
	Height float64
}

// SingleLinkage clusters the samples by repeatedly joining the closest pair
// of clusters, where cluster distance is the minimum pairwise sample
// distance. It returns the n-1 merge steps in order and a leaf ordering that
// keeps each cluster's members contiguous, suitable for arranging heatmap
// rows. Ties are broken by sample index, so the output is deterministic.
func SingleLinkage(d *DistanceMatrix) ([]Merge, []int, error) {
	n := len(d.Labels)
	if n == 0 {
		return nil, nil, fmt.Errorf("cluster: no samples")
	}
	if n == 1 {
		return nil, []int{0}, nil
	}

	type pair struct {
		i, j int
		dist float64
	}
	pairs := make([]pair, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, pair{i: i, j: j, dist: d.D[i][j]})
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].dist != pairs[b].dist {
			return pairs[a].dist < pairs[b].dist
		}
		if pairs[a].i != pairs[b].i {
			return pairs[a].i < pairs[b].i
		}
		return pairs[a].j < pairs[b].j
	})

	uf := unionfind.NewThreadSafeUnionFind(n)
	canon := func(x int) int {
		if r := uf.Root(x); r >= 0 {
			return r
		}
		return x
	}

	members := make(map[int][]int, n)
	for i := 0; i < n; i++ {
		members[i] = []int{i}
	}

	merges := make([]Merge, 0, n-1)
	for _, p := range pairs {
		ra, rb := canon(p.i), canon(p.j)
		if ra == rb {
			continue
		}

		left, right := members[ra], members[rb]
		delete(members, ra)
		delete(members, rb)

		uf.Union(p.i, p.j)

		joined := make([]int, 0, len(left)+len(right))
		joined = append(joined, left...)
		joined = append(joined, right...)
		members[canon(p.i)] = joined

		merges = append(merges, Merge{A: p.i, B: p.j, Height: p.dist})
		if len(merges) == n-1 {
			break
		}
	}

	order := members[canon(0)]
	if len(order) != n {
		return nil, nil, fmt.Errorf("cluster: %d of %d samples were never linked", n-len(order), n)
	}

	return merges, order, nil
}

// OrderedLabels maps a leaf ordering back to sample names.
func (d *DistanceMatrix) OrderedLabels(order []int) []string {
	out := make([]string, 0, len(order))
	for _, idx := range order {
		out = append(out, d.Labels[idx])
	}

	return out
}
