package cluster

import (
	"math"
	"reflect"
	"testing"

	"github.com/evelab/rnaseqmisc/countmatrix"
)

func TestDistances(t *testing.T) {
	m, err := countmatrix.New(
		[]string{"g1", "g2"},
		[]string{"a", "b", "c"},
		[][]float64{
			{0, 3, 3},
			{0, 4, 0},
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	d := Distances(m)

	if !reflect.DeepEqual(d.Labels, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected labels %v", d.Labels)
	}
	for i := range d.D {
		if d.D[i][i] != 0 {
			t.Errorf("diagonal entry %d is %v, expected 0", i, d.D[i][i])
		}
		for j := range d.D {
			if d.D[i][j] != d.D[j][i] {
				t.Errorf("distance matrix not symmetric at %d,%d", i, j)
			}
		}
	}

	// a=(0,0), b=(3,4), c=(3,0): a-b is the 3-4-5 triangle, a-c is 3.
	if got := d.D[0][1]; math.Abs(got-5) > 1e-12 {
		t.Errorf("expected distance 5 between a and b, got %v", got)
	}
	if got := d.D[0][2]; math.Abs(got-3) > 1e-12 {
		t.Errorf("expected distance 3 between a and c, got %v", got)
	}
	if got := d.D[1][2]; math.Abs(got-4) > 1e-12 {
		t.Errorf("expected distance 4 between b and c, got %v", got)
	}
}

func TestSingleLinkage(t *testing.T) {
	// Four samples on a line at 0, 1, 10, 12: the two tight pairs merge
	// first, then the two clusters join at the 1-10 gap.
	m, err := countmatrix.New(
		[]string{"g1"},
		[]string{"s1", "s2", "s3", "s4"},
		[][]float64{{0, 1, 10, 12}},
	)
	if err != nil {
		t.Fatal(err)
	}

	merges, order, err := SingleLinkage(Distances(m))
	if err != nil {
		t.Fatalf("SingleLinkage: %v", err)
	}

	if len(merges) != 3 {
		t.Fatalf("expected 3 merges for 4 samples, got %d", len(merges))
	}

	heights := []float64{merges[0].Height, merges[1].Height, merges[2].Height}
	if !reflect.DeepEqual(heights, []float64{1, 2, 9}) {
		t.Errorf("expected merge heights [1 2 9], got %v", heights)
	}
	for i := 1; i < len(merges); i++ {
		if merges[i].Height < merges[i-1].Height {
			t.Errorf("merge heights not non-decreasing: %v", heights)
		}
	}

	if !reflect.DeepEqual(order, []int{0, 1, 2, 3}) {
		t.Errorf("expected leaf order [0 1 2 3], got %v", order)
	}

	d := Distances(m)
	if got := d.OrderedLabels(order); !reflect.DeepEqual(got, []string{"s1", "s2", "s3", "s4"}) {
		t.Errorf("unexpected ordered labels %v", got)
	}
}

func TestSingleLinkageSingleSample(t *testing.T) {
	m, err := countmatrix.New([]string{"g1"}, []string{"only"}, [][]float64{{7}})
	if err != nil {
		t.Fatal(err)
	}

	merges, order, err := SingleLinkage(Distances(m))
	if err != nil {
		t.Fatal(err)
	}
	if len(merges) != 0 || !reflect.DeepEqual(order, []int{0}) {
		t.Errorf("expected no merges and order [0], got %v %v", merges, order)
	}
}
