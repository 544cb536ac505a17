package main

import (
	"bytes"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/evelab/rnaseqmisc/countmatrix"
	"github.com/evelab/rnaseqmisc/design"
	"github.com/evelab/rnaseqmisc/diffexpr"
)

const (
	chartWidth  = 1024
	chartHeight = 768

	// p-values below this are clamped before the -log10 transform so a hard
	// zero does not blow up the volcano axis.
	minPlottableP = 1e-300

	volcanoAlpha = 0.05
)

// renderDiagnostics writes every diagnostic plot that does not depend on a
// particular contrast.
func renderDiagnostics(outputDir string, ds *diffexpr.DataSet, model *diffexpr.Model, vst *countmatrix.Matrix, meta *design.Table, topVariable, heatmapGenes int) error {
	norm, err := ds.NormalizedCounts()
	if err != nil {
		return err
	}
	if err := renderBoxplot(filepath.Join(outputDir, "counts_boxplot.png"), norm); err != nil {
		return err
	}

	if err := renderDispersion(filepath.Join(outputDir, "dispersion.png"), model.Dispersions()); err != nil {
		return err
	}

	if err := renderPCA(outputDir, vst, meta, topVariable); err != nil {
		return err
	}

	if err := renderSampleDistances(filepath.Join(outputDir, "sample_distances.png"), vst); err != nil {
		return err
	}

	if err := renderHeatmap(filepath.Join(outputDir, "heatmap.png"), vst, meta, heatmapGenes); err != nil {
		return err
	}

	log.Println("Wrote diagnostic plots to", outputDir)

	return nil
}

// renderChart renders to a byte buffer first so a render failure leaves no
// truncated file behind.
func renderChart(path string, graph chart.Chart) error {
	buffer := bytes.NewBuffer([]byte{})
	if err := graph.Render(chart.PNG, buffer); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	outFile, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := buffer.WriteTo(outFile); err != nil {
		outFile.Close()
		return err
	}

	return outFile.Close()
}

// renderDispersion plots the gene-wise, trend, and final dispersion estimates
// against mean normalized counts, both axes log10.
func renderDispersion(path string, disp *diffexpr.Dispersions) error {
	var rawX, rawY, finalX, finalY, trendX, trendY []float64

	for i, mean := range disp.Means {
		if mean <= 0 {
			continue
		}
		lm := math.Log10(mean)
		if raw := disp.Raw[i]; !math.IsNaN(raw) && raw > 0 {
			rawX = append(rawX, lm)
			rawY = append(rawY, math.Log10(raw))
		}
		if final := disp.Final[i]; final > 0 {
			finalX = append(finalX, lm)
			finalY = append(finalY, math.Log10(final))
		}
	}

	// The trend is a smooth curve, so sort by mean and sample it directly.
	sorted := append([]float64{}, disp.Means...)
	sort.Float64s(sorted)
	for _, mean := range sorted {
		if mean <= 0 {
			continue
		}
		alpha := disp.TrendA1/mean + disp.TrendA0
		if alpha <= 0 {
			continue
		}
		trendX = append(trendX, math.Log10(mean))
		trendY = append(trendY, math.Log10(alpha))
	}

	var series []chart.Series
	if len(rawX) > 0 {
		series = append(series, chart.ContinuousSeries{
			Name:    "gene-wise",
			Style:   scatterStyle(drawing.Color{R: 120, G: 120, B: 120, A: 255}, 2),
			XValues: rawX,
			YValues: rawY,
		})
	}
	if len(finalX) > 0 {
		series = append(series, chart.ContinuousSeries{
			Name:    "final",
			Style:   scatterStyle(drawing.Color{R: 60, G: 100, B: 200, A: 255}, 2),
			XValues: finalX,
			YValues: finalY,
		})
	}
	if len(trendX) > 1 {
		series = append(series, chart.ContinuousSeries{
			Name:    "trend",
			Style:   chart.Style{StrokeColor: drawing.Color{R: 200, G: 40, B: 40, A: 255}, StrokeWidth: 2},
			XValues: trendX,
			YValues: trendY,
		})
	}
	if len(series) == 0 {
		log.Println("Skipping dispersion plot: nothing to draw")
		return nil
	}

	graph := chart.Chart{
		Title:  "Dispersion estimates",
		Width:  chartWidth,
		Height: chartHeight,
		XAxis:  chart.XAxis{Name: "log10 mean of normalized counts"},
		YAxis:  chart.YAxis{Name: "log10 dispersion"},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderChart(path, graph)
}

// renderPCA projects the samples onto the first two principal components of
// the most variable genes and also plots the per-gene loadings.
func renderPCA(outputDir string, vst *countmatrix.Matrix, meta *design.Table, topVariable int) error {
	nSamples := vst.NSamples()
	if nSamples < 3 {
		log.Println("Skipping PCA: need at least 3 samples for 2 components")
		return nil
	}

	genes := topVariableGenes(vst, topVariable)
	if len(genes) < 2 {
		log.Println("Skipping PCA: fewer than 2 variable genes")
		return nil
	}

	// Rows are samples, columns are the selected genes, centered per gene.
	nGenes := len(genes)
	data := mat.NewDense(nSamples, nGenes, nil)
	for c, g := range genes {
		row := vst.Row(g)
		mean := floats.Sum(row) / float64(nSamples)
		for j := 0; j < nSamples; j++ {
			data.Set(j, c, row[j]-mean)
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		log.Println("Skipping PCA: decomposition failed")
		return nil
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)
	total := floats.Sum(vars)

	var proj mat.Dense
	proj.Mul(data, vecs.Slice(0, nGenes, 0, 2))

	xLabel := fmt.Sprintf("PC1 (%.1f%% variance)", 100*vars[0]/total)
	yLabel := fmt.Sprintf("PC2 (%.1f%% variance)", 100*vars[1]/total)

	groups, err := sampleGroups(meta)
	if err != nil {
		return err
	}

	// One scatter series per factor-level combination so groups get
	// distinct colors and a legend entry.
	byGroup := map[string][]int{}
	var groupOrder []string
	for j, g := range groups {
		if _, seen := byGroup[g]; !seen {
			groupOrder = append(groupOrder, g)
		}
		byGroup[g] = append(byGroup[g], j)
	}

	var series []chart.Series
	for gi, g := range groupOrder {
		xs := make([]float64, 0, len(byGroup[g]))
		ys := make([]float64, 0, len(byGroup[g]))
		for _, j := range byGroup[g] {
			xs = append(xs, proj.At(j, 0))
			ys = append(ys, proj.At(j, 1))
		}
		series = append(series, chart.ContinuousSeries{
			Name:    g,
			Style:   scatterStyle(chart.GetDefaultColor(gi), 6),
			XValues: xs,
			YValues: ys,
		})
	}

	labels := make([]chart.Value2, 0, nSamples)
	for j, sample := range vst.Samples() {
		labels = append(labels, chart.Value2{XValue: proj.At(j, 0), YValue: proj.At(j, 1), Label: sample})
	}
	series = append(series, chart.AnnotationSeries{Annotations: labels})

	graph := chart.Chart{
		Title:  fmt.Sprintf("PCA of top %d variable genes", nGenes),
		Width:  chartWidth,
		Height: chartHeight,
		XAxis:  chart.XAxis{Name: xLabel},
		YAxis:  chart.YAxis{Name: yLabel},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := renderChart(filepath.Join(outputDir, "pca.png"), graph); err != nil {
		return err
	}

	return renderLoadings(filepath.Join(outputDir, "pca_loadings.png"), vst, genes, &vecs, xLabel, yLabel)
}

// renderLoadings plots each selected gene's weight on the first two
// components, annotating the genes that drive PC1 hardest.
func renderLoadings(path string, vst *countmatrix.Matrix, genes []int, vecs *mat.Dense, xLabel, yLabel string) error {
	xs := make([]float64, len(genes))
	ys := make([]float64, len(genes))
	for i := range genes {
		xs[i] = vecs.At(i, 0)
		ys[i] = vecs.At(i, 1)
	}

	// Annotate the 10 genes with the largest PC1 weight.
	order := make([]int, len(genes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return math.Abs(xs[order[a]]) > math.Abs(xs[order[b]])
	})
	var labels []chart.Value2
	for i, idx := range order {
		if i == 10 {
			break
		}
		labels = append(labels, chart.Value2{
			XValue: xs[idx],
			YValue: ys[idx],
			Label:  vst.Genes()[genes[idx]],
		})
	}

	graph := chart.Chart{
		Title:  "PCA loadings",
		Width:  chartWidth,
		Height: chartHeight,
		XAxis:  chart.XAxis{Name: xLabel + " loading"},
		YAxis:  chart.YAxis{Name: yLabel + " loading"},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Style:   scatterStyle(drawing.Color{R: 120, G: 120, B: 120, A: 255}, 2),
				XValues: xs,
				YValues: ys,
			},
			chart.AnnotationSeries{Annotations: labels},
		},
	}

	return renderChart(path, graph)
}

// renderVolcano plots effect size against significance for one contrast,
// highlighting genes passing the adjusted-p threshold.
func renderVolcano(path string, results *diffexpr.ResultTable) error {
	var sigX, sigY, restX, restY []float64

	for _, r := range results.Results {
		if !r.Log2FoldChange.Valid || !r.PValue.Valid {
			continue
		}
		x := r.Log2FoldChange.Float64
		y := -math.Log10(math.Max(r.PValue.Float64, minPlottableP))
		if r.PAdj.Valid && r.PAdj.Float64 < volcanoAlpha {
			sigX = append(sigX, x)
			sigY = append(sigY, y)
		} else {
			restX = append(restX, x)
			restY = append(restY, y)
		}
	}

	var series []chart.Series
	if len(restX) > 0 {
		series = append(series, chart.ContinuousSeries{
			Name:    "not significant",
			Style:   scatterStyle(drawing.Color{R: 150, G: 150, B: 150, A: 255}, 2),
			XValues: restX,
			YValues: restY,
		})
	}
	if len(sigX) > 0 {
		series = append(series, chart.ContinuousSeries{
			Name:    fmt.Sprintf("padj < %g", volcanoAlpha),
			Style:   scatterStyle(drawing.Color{R: 200, G: 40, B: 40, A: 255}, 3),
			XValues: sigX,
			YValues: sigY,
		})
	}
	if len(series) == 0 {
		log.Println("Skipping volcano plot for", results.Name(), ": no testable genes")
		return nil
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s %s vs %s", results.Factor, results.Numerator, results.Denominator),
		Width:  chartWidth,
		Height: chartHeight,
		XAxis:  chart.XAxis{Name: "log2 fold change"},
		YAxis:  chart.YAxis{Name: "-log10 p-value"},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderChart(path, graph)
}

// renderMA plots effect size against mean expression for one contrast.
func renderMA(path string, results *diffexpr.ResultTable) error {
	var sigX, sigY, restX, restY []float64

	for _, r := range results.Results {
		if !r.Log2FoldChange.Valid {
			continue
		}
		x := math.Log10(r.BaseMean + 1)
		y := r.Log2FoldChange.Float64
		if r.PAdj.Valid && r.PAdj.Float64 < volcanoAlpha {
			sigX = append(sigX, x)
			sigY = append(sigY, y)
		} else {
			restX = append(restX, x)
			restY = append(restY, y)
		}
	}

	var series []chart.Series
	if len(restX) > 0 {
		series = append(series, chart.ContinuousSeries{
			Name:    "not significant",
			Style:   scatterStyle(drawing.Color{R: 150, G: 150, B: 150, A: 255}, 2),
			XValues: restX,
			YValues: restY,
		})
	}
	if len(sigX) > 0 {
		series = append(series, chart.ContinuousSeries{
			Name:    fmt.Sprintf("padj < %g", volcanoAlpha),
			Style:   scatterStyle(drawing.Color{R: 200, G: 40, B: 40, A: 255}, 3),
			XValues: sigX,
			YValues: sigY,
		})
	}
	if len(series) == 0 {
		log.Println("Skipping MA plot for", results.Name(), ": no testable genes")
		return nil
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("MA: %s %s vs %s", results.Factor, results.Numerator, results.Denominator),
		Width:  chartWidth,
		Height: chartHeight,
		XAxis:  chart.XAxis{Name: "log10 baseMean + 1"},
		YAxis:  chart.YAxis{Name: "log2 fold change"},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderChart(path, graph)
}

func scatterStyle(c drawing.Color, dotWidth float64) chart.Style {
	return chart.Style{
		StrokeWidth: chart.Disabled,
		DotWidth:    dotWidth,
		DotColor:    c,
	}
}

// topVariableGenes returns the row indexes of the n genes with the highest
// variance, in their matrix order.
func topVariableGenes(m *countmatrix.Matrix, n int) []int {
	type geneVar struct {
		idx int
		v   float64
	}

	vars := make([]geneVar, m.NGenes())
	for i := 0; i < m.NGenes(); i++ {
		vars[i] = geneVar{idx: i, v: stat.Variance(m.Row(i), nil)}
	}
	sort.Slice(vars, func(a, b int) bool { return vars[a].v > vars[b].v })

	if n <= 0 || n > len(vars) {
		n = len(vars)
	}
	keep := make([]int, n)
	for i := 0; i < n; i++ {
		keep[i] = vars[i].idx
	}
	sort.Ints(keep)

	return keep
}

// sampleGroups labels each sample with its factor-level combination, in
// metadata (= matrix column) order.
func sampleGroups(meta *design.Table) ([]string, error) {
	groups := make([]string, len(meta.Samples()))

	for _, factor := range meta.Factors() {
		values, err := meta.Values(factor)
		if err != nil {
			return nil, err
		}
		for j, v := range values {
			if groups[j] == "" {
				groups[j] = v
			} else {
				groups[j] += "/" + v
			}
		}
	}

	return groups, nil
}
