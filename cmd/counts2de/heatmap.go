package main

import (
	"fmt"
	"log"
	"math"

	"github.com/fogleman/gg"
	"github.com/montanaflynn/stats"
	gonumstat "gonum.org/v1/gonum/stat"

	"github.com/evelab/rnaseqmisc/cluster"
	"github.com/evelab/rnaseqmisc/countmatrix"
	"github.com/evelab/rnaseqmisc/design"
)

const (
	plotMargin  = 60.0
	labelPad    = 4.0
	bandHeight  = 14.0
	zScoreClamp = 2.0
)

// renderBoxplot draws one box per sample over log2(normalized count + 1)
// values: box from Q1 to Q3, median line, whiskers at the most extreme
// values within 1.5 IQR.
func renderBoxplot(path string, norm *countmatrix.Matrix) error {
	nSamples := norm.NSamples()
	if nSamples == 0 {
		return nil
	}

	type box struct {
		q1, median, q3, lo, hi float64
	}
	boxes := make([]box, 0, nSamples)
	yMax := 0.0
	for j := 0; j < nSamples; j++ {
		col := norm.Column(j)
		logged := make([]float64, len(col))
		for i, v := range col {
			logged[i] = math.Log2(v + 1)
		}

		q, err := stats.Quartile(logged)
		if err != nil {
			return fmt.Errorf("boxplot quartiles for %s: %w", norm.Samples()[j], err)
		}

		iqr := q.Q3 - q.Q1
		lo, hi := q.Q3, q.Q1
		for _, v := range logged {
			if v >= q.Q1-1.5*iqr && v < lo {
				lo = v
			}
			if v <= q.Q3+1.5*iqr && v > hi {
				hi = v
			}
		}

		boxes = append(boxes, box{q1: q.Q1, median: q.Q2, q3: q.Q3, lo: lo, hi: hi})
		if hi > yMax {
			yMax = hi
		}
	}
	if yMax == 0 {
		yMax = 1
	}

	width, height := chartWidth, chartHeight
	ctx := gg.NewContext(width, height)
	ctx.SetRGB(1, 1, 1)
	ctx.Clear()

	plotW := float64(width) - 2*plotMargin
	plotH := float64(height) - 2*plotMargin
	toY := func(v float64) float64 {
		return plotMargin + plotH*(1-v/yMax)
	}

	// Axes and ticks.
	ctx.SetRGB(0, 0, 0)
	ctx.SetLineWidth(1)
	ctx.DrawLine(plotMargin, plotMargin, plotMargin, plotMargin+plotH)
	ctx.DrawLine(plotMargin, plotMargin+plotH, plotMargin+plotW, plotMargin+plotH)
	ctx.Stroke()
	for t := 0; t <= 5; t++ {
		v := yMax * float64(t) / 5
		y := toY(v)
		ctx.DrawLine(plotMargin-4, y, plotMargin, y)
		ctx.Stroke()
		ctx.DrawStringAnchored(fmt.Sprintf("%.1f", v), plotMargin-6, y, 1, 0.4)
	}
	ctx.DrawStringAnchored("log2 normalized count + 1", plotMargin, plotMargin-10, 0, 0)

	step := plotW / float64(nSamples)
	boxW := step * 0.6
	for j, b := range boxes {
		cx := plotMargin + step*(float64(j)+0.5)

		ctx.SetRGB(0, 0, 0)
		ctx.DrawLine(cx, toY(b.lo), cx, toY(b.q1))
		ctx.DrawLine(cx, toY(b.q3), cx, toY(b.hi))
		ctx.DrawLine(cx-boxW/4, toY(b.lo), cx+boxW/4, toY(b.lo))
		ctx.DrawLine(cx-boxW/4, toY(b.hi), cx+boxW/4, toY(b.hi))
		ctx.Stroke()

		ctx.SetRGB(0.7, 0.8, 0.95)
		ctx.DrawRectangle(cx-boxW/2, toY(b.q3), boxW, toY(b.q1)-toY(b.q3))
		ctx.Fill()
		ctx.SetRGB(0, 0, 0)
		ctx.DrawRectangle(cx-boxW/2, toY(b.q3), boxW, toY(b.q1)-toY(b.q3))
		ctx.Stroke()

		ctx.SetLineWidth(2)
		ctx.DrawLine(cx-boxW/2, toY(b.median), cx+boxW/2, toY(b.median))
		ctx.Stroke()
		ctx.SetLineWidth(1)

		ctx.DrawStringAnchored(norm.Samples()[j], cx, plotMargin+plotH+labelPad, 0.5, 1)
	}

	return ctx.SavePNG(path)
}

// renderSampleDistances draws the sample-to-sample Euclidean distance matrix
// on variance-stabilized values, rows and columns in single-linkage leaf
// order so similar samples sit together.
func renderSampleDistances(path string, vst *countmatrix.Matrix) error {
	dm := cluster.Distances(vst)
	_, order, err := cluster.SingleLinkage(dm)
	if err != nil {
		return err
	}

	n := len(order)
	maxDist := 0.0
	for i := range dm.D {
		for j := range dm.D[i] {
			if dm.D[i][j] > maxDist {
				maxDist = dm.D[i][j]
			}
		}
	}
	if maxDist == 0 {
		maxDist = 1
	}

	width, height := chartWidth, chartWidth
	ctx := gg.NewContext(width, height)
	ctx.SetRGB(1, 1, 1)
	ctx.Clear()

	gridSize := float64(width) - 2*plotMargin - 100
	cell := gridSize / float64(n)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			// Near distances dark blue, far distances white.
			frac := dm.D[order[r]][order[c]] / maxDist
			ctx.SetRGB(frac, frac, 0.55+0.45*frac)
			ctx.DrawRectangle(plotMargin+float64(c)*cell, plotMargin+float64(r)*cell, cell+0.5, cell+0.5)
			ctx.Fill()
		}
	}

	ctx.SetRGB(0, 0, 0)
	labels := dm.OrderedLabels(order)
	for i, label := range labels {
		y := plotMargin + (float64(i)+0.5)*cell
		ctx.DrawStringAnchored(label, plotMargin+gridSize+labelPad, y, 0, 0.4)
		ctx.DrawStringAnchored(label, plotMargin+(float64(i)+0.5)*cell, plotMargin+gridSize+labelPad, 0.5, 1)
	}

	return ctx.SavePNG(path)
}

// renderHeatmap draws the per-gene z-score heatmap over variance-stabilized
// values, gene rows in single-linkage leaf order, with one annotation band
// per design factor above the sample columns. capGenes of 0 keeps every
// filtered gene.
func renderHeatmap(path string, vst *countmatrix.Matrix, meta *design.Table, capGenes int) error {
	m := vst
	if capGenes > 0 && capGenes < vst.NGenes() {
		sub, err := subsetRows(vst, topVariableGenes(vst, capGenes))
		if err != nil {
			return err
		}
		m = sub
		log.Println("Heatmap capped to the", capGenes, "most variable genes")
	}

	nGenes, nSamples := m.NGenes(), m.NSamples()
	if nGenes == 0 || nSamples == 0 {
		return nil
	}

	// Row-wise z-scores; genes with no variance render flat.
	zValues := make([][]float64, nGenes)
	for i := 0; i < nGenes; i++ {
		row := m.Row(i)
		mean, sd := gonumstat.MeanStdDev(row, nil)
		z := make([]float64, nSamples)
		if sd > 0 {
			for j, v := range row {
				z[j] = (v - mean) / sd
			}
		}
		zValues[i] = z
	}

	zm, err := countmatrix.New(m.Genes(), m.Samples(), zValues)
	if err != nil {
		return err
	}
	_, order, err := cluster.SingleLinkage(cluster.GeneDistances(zm))
	if err != nil {
		return err
	}

	factors := meta.Factors()
	width, height := chartWidth, chartHeight
	ctx := gg.NewContext(width, height)
	ctx.SetRGB(1, 1, 1)
	ctx.Clear()

	bandsH := bandHeight * float64(len(factors))
	gridTop := plotMargin + bandsH + labelPad
	gridW := float64(width) - 2*plotMargin - 60
	gridH := float64(height) - gridTop - plotMargin
	colW := gridW / float64(nSamples)
	rowH := gridH / float64(nGenes)

	// Annotation bands: one row per factor, colored by level.
	for fi, factor := range factors {
		values, err := meta.Values(factor)
		if err != nil {
			return err
		}
		levels, err := meta.Levels(factor)
		if err != nil {
			return err
		}
		levelIdx := make(map[string]int, len(levels))
		for i, level := range levels {
			levelIdx[level] = i
		}

		y := plotMargin + bandHeight*float64(fi)
		for j, v := range values {
			setLevelColor(ctx, levelIdx[v], len(levels))
			ctx.DrawRectangle(plotMargin+float64(j)*colW, y, colW+0.5, bandHeight-1)
			ctx.Fill()
		}
		ctx.SetRGB(0, 0, 0)
		ctx.DrawStringAnchored(factor, plotMargin-labelPad, y+bandHeight/2, 1, 0.4)
	}

	for r, gi := range order {
		for j := 0; j < nSamples; j++ {
			setZColor(ctx, zValues[gi][j])
			ctx.DrawRectangle(plotMargin+float64(j)*colW, gridTop+float64(r)*rowH, colW+0.5, rowH+0.5)
			ctx.Fill()
		}
	}

	ctx.SetRGB(0, 0, 0)
	for j, sample := range m.Samples() {
		ctx.DrawStringAnchored(sample, plotMargin+(float64(j)+0.5)*colW, gridTop+gridH+labelPad, 0.5, 1)
	}

	return ctx.SavePNG(path)
}

// setZColor maps a z-score onto a blue-white-red gradient clamped at ±2.
func setZColor(ctx *gg.Context, z float64) {
	frac := math.Max(-1, math.Min(1, z/zScoreClamp))
	if frac >= 0 {
		ctx.SetRGB(1, 1-frac, 1-frac)
	} else {
		ctx.SetRGB(1+frac, 1+frac, 1)
	}
}

// setLevelColor assigns each factor level an evenly spaced hue.
func setLevelColor(ctx *gg.Context, idx, nLevels int) {
	if nLevels < 1 {
		nLevels = 1
	}
	h := 360 * float64(idx) / float64(nLevels)
	r, g, b := hslToRGB(h, 0.55, 0.55)
	ctx.SetRGB(r, g, b)
}

func hslToRGB(h, s, l float64) (float64, float64, float64) {
	c := (1 - math.Abs(2*l-1)) * s
	hp := h / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))

	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	m := l - c/2

	return r + m, g + m, b + m
}

// subsetRows keeps the given row indexes, preserving their order.
func subsetRows(m *countmatrix.Matrix, rows []int) (*countmatrix.Matrix, error) {
	genes := make([]string, len(rows))
	values := make([][]float64, len(rows))
	for i, r := range rows {
		genes[i] = m.Genes()[r]
		values[i] = m.Row(r)
	}

	return countmatrix.New(genes, m.Samples(), values)
}
