package design

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Formula names the factors the statistical model accounts for, e.g.
// "~ knockout + bisphenol". Only additive two-factor designs are supported.
type Formula struct {
	Factors []string
}

// ErrConfounded marks a contrast whose two levels cannot be separated from
// the remaining design factors with the observed samples.
var ErrConfounded = errors.New("contrast is confounded")

// ParseFormula accepts R-style additive formulas with or without the leading
// tilde: "~ knockout + bisphenol", "knockout+bisphenol".
func ParseFormula(s string) (Formula, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "~"))
	if s == "" {
		return Formula{}, fmt.Errorf("empty design formula")
	}

	f := Formula{}
	seen := make(map[string]struct{})
	for _, part := range strings.Split(s, "+") {
		factor := strings.TrimSpace(part)
		if factor == "" {
			return Formula{}, fmt.Errorf("design formula %q has an empty term", s)
		}
		if _, exists := seen[factor]; exists {
			return Formula{}, fmt.Errorf("design formula names factor %s twice", factor)
		}
		seen[factor] = struct{}{}
		f.Factors = append(f.Factors, factor)
	}

	return f, nil
}

func (f Formula) String() string {
	return "~" + strings.Join(f.Factors, " + ")
}

// Validate confirms that every factor the formula references exists in the
// metadata and has at least two observed levels, without which no contrast
// within that factor is meaningful.
func (f Formula) Validate(t *Table) error {
	if len(f.Factors) == 0 {
		return fmt.Errorf("design formula has no factors")
	}

	for _, factor := range f.Factors {
		observed, err := observedLevels(t, factor)
		if err != nil {
			return err
		}
		if len(observed) < 2 {
			return fmt.Errorf("factor %s has %d observed level(s); at least 2 are required", factor, len(observed))
		}
	}

	return nil
}

// ModelMatrix builds the treatment-coded design matrix for the formula over
// the table's rows: an intercept column, then one indicator column per
// non-reference observed level of each factor. Column names are returned for
// diagnostics.
func (f Formula) ModelMatrix(t *Table) (*mat.Dense, []string, error) {
	n := len(t.Samples())
	if n == 0 {
		return nil, nil, fmt.Errorf("design has no samples")
	}

	names := []string{"Intercept"}
	cols := [][]float64{onesColumn(n)}

	for _, factor := range f.Factors {
		observed, err := observedLevels(t, factor)
		if err != nil {
			return nil, nil, err
		}

		values, _ := t.Values(factor)
		for _, level := range observed[1:] {
			col := make([]float64, n)
			for i, v := range values {
				if v == level {
					col[i] = 1
				}
			}
			names = append(names, factor+"_"+level)
			cols = append(cols, col)
		}
	}

	out := mat.NewDense(n, len(cols), nil)
	for j, col := range cols {
		out.SetCol(j, col)
	}

	return out, names, nil
}

// CheckFullRank errors when the design matrix contains aliased terms, which
// the fitting step must refuse rather than silently absorb.
func (f Formula) CheckFullRank(t *Table) error {
	x, names, err := f.ModelMatrix(t)
	if err != nil {
		return err
	}

	_, c := x.Dims()
	if r := Rank(x); r < c {
		return fmt.Errorf("design matrix %s is not full rank (rank %d over %d terms: %s); remove or merge aliased factors",
			f, r, c, strings.Join(names, ", "))
	}

	return nil
}

// CheckContrast decides, before any fitting, whether comparing levelA to
// levelB within factor is statistically identifiable: both levels must be
// observed, the contrast must add rank over the remaining design factors, and
// at least one residual degree of freedom must remain. A failure here means
// the contrast is skipped, not that the run is broken.
func (f Formula) CheckContrast(t *Table, factor, levelA, levelB string) error {
	if !f.names(factor) {
		return fmt.Errorf("factor %s is not part of the design %s", factor, f)
	}

	levels, err := t.Levels(factor)
	if err != nil {
		return err
	}
	for _, level := range []string{levelA, levelB} {
		if !containsString(levels, level) {
			return fmt.Errorf("factor %s has no level %s (known levels: %s)", factor, level, strings.Join(levels, ", "))
		}
	}

	sub, err := t.Subset(factor, levelA, levelB)
	if err != nil {
		return err
	}

	values, _ := sub.Values(factor)
	var nA, nB int
	for _, v := range values {
		switch v {
		case levelA:
			nA++
		case levelB:
			nB++
		}
	}
	if nA == 0 || nB == 0 {
		return fmt.Errorf("%w: %s %s vs %s: level with zero samples (n_%s=%d, n_%s=%d)",
			ErrConfounded, factor, levelA, levelB, levelA, nA, levelB, nB)
	}

	others := Formula{}
	for _, g := range f.Factors {
		if g != factor {
			others.Factors = append(others.Factors, g)
		}
	}

	base, _, err := others.ModelMatrix(sub)
	if err != nil {
		return err
	}
	full, _, err := Formula{Factors: append(others.Factors, factor)}.ModelMatrix(sub)
	if err != nil {
		return err
	}

	baseRank, fullRank := Rank(base), Rank(full)
	if fullRank <= baseRank {
		if confounder := findConfounder(sub, factor, levelA, levelB, others.Factors); confounder != "" {
			return fmt.Errorf("%w: %s %s vs %s is fully aliased with factor %s", ErrConfounded, factor, levelA, levelB, confounder)
		}
		return fmt.Errorf("%w: %s %s vs %s adds no information over the remaining design factors", ErrConfounded, factor, levelA, levelB)
	}

	if df := len(sub.Samples()) - fullRank; df < 1 {
		return fmt.Errorf("%w: %s %s vs %s leaves %d residual degrees of freedom", ErrConfounded, factor, levelA, levelB, df)
	}

	return nil
}

// findConfounder looks for another factor whose levels perfectly separate
// the two contrasted levels, to make the skip reason concrete.
func findConfounder(sub *Table, factor, levelA, levelB string, others []string) string {
	contrastValues, _ := sub.Values(factor)

	for _, other := range others {
		otherValues, _ := sub.Values(other)

		coocc := make(map[string]map[string]struct{})
		for i, ov := range otherValues {
			if coocc[ov] == nil {
				coocc[ov] = make(map[string]struct{})
			}
			coocc[ov][contrastValues[i]] = struct{}{}
		}

		separates := true
		for _, contrasts := range coocc {
			if len(contrasts) > 1 {
				separates = false
				break
			}
		}
		if separates && len(coocc) > 1 {
			return other
		}
	}

	return ""
}

// Rank computes the numerical rank of a matrix by its singular values.
func Rank(a mat.Matrix) int {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDNone); !ok {
		return 0
	}

	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return 0
	}

	r, c := a.Dims()
	larger := r
	if c > larger {
		larger = c
	}
	tol := float64(larger) * values[0] * 1e-12

	rank := 0
	for _, v := range values {
		if v > tol {
			rank++
		}
	}

	return rank
}

func (f Formula) names(factor string) bool {
	return containsString(f.Factors, factor)
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}

	return false
}

func observedLevels(t *Table, factor string) ([]string, error) {
	frozen, err := t.Levels(factor)
	if err != nil {
		return nil, err
	}
	values, err := t.Values(factor)
	if err != nil {
		return nil, err
	}

	present := make(map[string]struct{}, len(values))
	for _, v := range values {
		present[v] = struct{}{}
	}

	out := make([]string, 0, len(present))
	for _, level := range frozen {
		if _, ok := present[level]; ok {
			out = append(out, level)
		}
	}

	return out, nil
}

func onesColumn(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}

	return out
}
