package diffexpr

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/guregu/null.v3"
)

// lfcPseudocount keeps fold changes finite when one side of a contrast is
// entirely unexpressed.
const lfcPseudocount = 0.5

// Result is one gene's row in a contrast result table. Statistics are null
// when they cannot be computed, which happens for genes with no expression
// anywhere.
type Result struct {
	Gene           string
	BaseMean       float64
	Log2FoldChange null.Float
	LfcSE          null.Float
	Stat           null.Float
	PValue         null.Float
	PAdj           null.Float
}

// ResultTable holds one contrast's per-gene results, ordered by adjusted
// p-value with untestable genes last.
type ResultTable struct {
	Factor      string
	Numerator   string
	Denominator string
	Formula     string

	Results []Result
}

// Name returns a filesystem-safe label like "bisphenol_BPA_vs_Untreated".
func (t *ResultTable) Name() string {
	return fmt.Sprintf("%s_%s_vs_%s", t.Factor, t.Numerator, t.Denominator)
}

// Contrast extracts the Wald test of numerator vs denominator within factor
// from the fitted model. A positive log2FoldChange means higher expression at
// the numerator level. The contrast is first checked for identifiability;
// callers should test the returned error against design.ErrConfounded and
// skip, not abort, when it matches.
func (m *Model) Contrast(factor, numerator, denominator string) (*ResultTable, error) {
	if err := m.formula.CheckContrast(m.data.meta, factor, numerator, denominator); err != nil {
		return nil, err
	}

	meansNum, err := m.LevelMean(factor, numerator)
	if err != nil {
		return nil, err
	}
	meansDen, err := m.LevelMean(factor, denominator)
	if err != nil {
		return nil, err
	}

	nNum := float64(m.levelN[factor][numerator])
	nDen := float64(m.levelN[factor][denominator])
	invSNum := m.levelInvS[factor][numerator]
	invSDen := m.levelInvS[factor][denominator]

	genes := m.normalized.Genes()
	baseMeans := m.BaseMeans()
	normal := distuv.Normal{Mu: 0, Sigma: 1}
	ln2sq := math.Ln2 * math.Ln2

	table := &ResultTable{
		Factor:      factor,
		Numerator:   numerator,
		Denominator: denominator,
		Formula:     m.formula.String(),
		Results:     make([]Result, 0, len(genes)),
	}

	pvalues := make([]float64, len(genes))
	for i, gene := range genes {
		res := Result{Gene: gene, BaseMean: baseMeans[i]}
		pvalues[i] = math.NaN()

		if baseMeans[i] <= 0 {
			table.Results = append(table.Results, res)
			continue
		}

		alpha := m.dispersions.Final[i]
		num := meansNum[i] + lfcPseudocount
		den := meansDen[i] + lfcPseudocount

		lfc := math.Log2(num / den)

		// Delta-method variance of the log2 ratio of group means under the
		// negative binomial: shot noise scaled by size factors plus the
		// overdispersion term.
		varLog := invSNum/(num*nNum*nNum) + alpha/nNum +
			invSDen/(den*nDen*nDen) + alpha/nDen
		se := math.Sqrt(varLog / ln2sq)

		stat := lfc / se
		p := 2 * normal.CDF(-math.Abs(stat))
		if p > 1 {
			p = 1
		}

		res.Log2FoldChange = null.FloatFrom(lfc)
		res.LfcSE = null.FloatFrom(se)
		res.Stat = null.FloatFrom(stat)
		res.PValue = null.FloatFrom(p)
		pvalues[i] = p

		table.Results = append(table.Results, res)
	}

	for i, padj := range benjaminiHochberg(pvalues) {
		if !math.IsNaN(padj) {
			table.Results[i].PAdj = null.FloatFrom(padj)
		}
	}

	sortResults(table.Results)

	return table, nil
}

// benjaminiHochberg adjusts p-values for multiple testing, preserving NaN
// entries and never exceeding 1.
func benjaminiHochberg(ps []float64) []float64 {
	order := make([]int, 0, len(ps))
	for i, p := range ps {
		if !math.IsNaN(p) {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool { return ps[order[a]] < ps[order[b]] })

	adj := make([]float64, len(ps))
	for i := range adj {
		adj[i] = math.NaN()
	}

	m := float64(len(order))
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

// sortResults orders by adjusted p-value ascending with null statistics
// last, breaking ties by raw p-value and then gene ID so output order is
// stable across runs.
func sortResults(results []Result) {
	less := func(a, b null.Float) (bool, bool) {
		switch {
		case a.Valid && !b.Valid:
			return true, true
		case !a.Valid && b.Valid:
			return false, true
		case !a.Valid && !b.Valid:
			return false, false
		case a.Float64 != b.Float64:
			return a.Float64 < b.Float64, true
		}
		return false, false
	}

	sort.SliceStable(results, func(i, j int) bool {
		if r, decided := less(results[i].PAdj, results[j].PAdj); decided {
			return r
		}
		if r, decided := less(results[i].PValue, results[j].PValue); decided {
			return r
		}
		return results[i].Gene < results[j].Gene
	})
}
