package main

import (
	"fmt"
	"log"

	"github.com/aybabtme/uniplot/histogram"

	"github.com/evelab/rnaseqmisc/countmatrix"
	"github.com/evelab/rnaseqmisc/diffexpr"
)

// reportQC prints per-sample summaries and terminal histograms of library
// size and detected genes. Observational only.
func reportQC(m *countmatrix.Matrix) {
	qc := diffexpr.QC(m)

	fmt.Fprintln(STDOUT, "sample\tlibrary_size\tdetected_genes\tmedian_count\tp99_count")
	libSizes := make([]float64, 0, len(qc))
	detected := make([]float64, 0, len(qc))
	for _, s := range qc {
		fmt.Fprintf(STDOUT, "%s\t%.0f\t%d\t%.1f\t%.1f\n", s.Sample, s.LibrarySize, s.DetectedGenes, s.MedianCount, s.P99Count)
		libSizes = append(libSizes, s.LibrarySize)
		detected = append(detected, float64(s.DetectedGenes))
	}

	fmt.Fprintln(STDOUT, "\nLibrary sizes:")
	if err := histogram.Fprint(STDOUT, histogram.Hist(10, libSizes), histogram.Linear(40)); err != nil {
		log.Println("library size histogram:", err)
	}

	fmt.Fprintln(STDOUT, "\nDetected genes per sample:")
	if err := histogram.Fprint(STDOUT, histogram.Hist(10, detected), histogram.Linear(40)); err != nil {
		log.Println("detected genes histogram:", err)
	}

	chiSq, p := diffexpr.LibraryBalance(m)
	log.Printf("Library balance across samples: chi-square %.1f, p %.3g\n", chiSq, p)

	STDOUT.Flush()
}
