// counts2de runs the differential expression workflow: it loads the annotated
// count matrix written by quant2counts, cleans and filters it, aligns the
// sample metadata, fits one model under the two-factor design, extracts a
// result table per requested contrast, and renders the QC and result plots.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/evelab/rnaseqmisc"
	"github.com/evelab/rnaseqmisc/countmatrix"
	"github.com/evelab/rnaseqmisc/design"
	"github.com/evelab/rnaseqmisc/diffexpr"
)

var (
	BufferSize = 4096
	STDOUT     = bufio.NewWriterSize(os.Stdout, BufferSize)
)

// DefaultContrasts covers every informative pairwise comparison the
// two-factor design supports: genotype, each compound against untreated, and
// the two compounds against each other.
const DefaultContrasts = "knockout:KO:WT,bisphenol:BPA:Untreated,bisphenol:BPS:Untreated,bisphenol:BPA:BPS"

type contrastSpec struct {
	Factor      string
	Numerator   string
	Denominator string
}

func main() {
	defer STDOUT.Flush()

	var (
		matrixPath   string
		samplesPath  string
		formulaStr   string
		contrastsStr string
		outputDir    string
		minTotal     float64
		workers      int
		topVariable  int
		heatmapGenes int
		skipPlots    bool
	)
	flag.StringVar(&matrixPath, "matrix", "", "Annotated count matrix CSV written by quant2counts")
	flag.StringVar(&samplesPath, "samples", "", "CSV sample sheet with columns sample,path,knockout,bisphenol")
	flag.StringVar(&formulaStr, "design", "knockout + bisphenol", "Design formula over the sample sheet factors")
	flag.StringVar(&contrastsStr, "contrasts", DefaultContrasts, "Comma-separated contrasts, each factor:numerator:denominator")
	flag.StringVar(&outputDir, "output", "", "Directory for result tables and plots")
	flag.Float64Var(&minTotal, "min-total", countmatrix.DefaultMinTotalCount, "Drop genes whose total count across samples is below this")
	flag.IntVar(&workers, "workers", 0, "Goroutines fitting genes concurrently; 0 means one per CPU")
	flag.IntVar(&topVariable, "top-variable", 500, "Number of most variable genes used for PCA")
	flag.IntVar(&heatmapGenes, "heatmap-genes", 0, "Cap on genes in the clustered heatmap; 0 means all filtered genes")
	flag.BoolVar(&skipPlots, "skip-plots", false, "Write result tables only, no PNG plots")
	flag.Parse()

	if matrixPath == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --matrix")
	}
	if samplesPath == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --samples")
	}
	if outputDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --output")
	}

	contrasts, err := parseContrasts(contrastsStr)
	if err != nil {
		log.Fatalln(err)
	}

	if err := run(matrixPath, samplesPath, formulaStr, outputDir, contrasts, minTotal, workers, topVariable, heatmapGenes, skipPlots); err != nil {
		log.Fatalln(err)
	}
}

func run(matrixPath, samplesPath, formulaStr, outputDir string, contrasts []contrastSpec, minTotal float64, workers, topVariable, heatmapGenes int, skipPlots bool) error {
	outputDir = rnaseqmisc.ExpandHome(outputDir)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	log.Println("Loading count matrix from", matrixPath)
	table, err := countmatrix.Load(matrixPath)
	if err != nil {
		return err
	}

	matrix, report, err := table.Clean(countmatrix.CleanOptions{MinTotalCount: minTotal})
	if err != nil {
		return err
	}
	log.Println("Cleaned matrix:", report)
	if err := matrix.Validate(); err != nil {
		return err
	}

	samples, err := design.ReadSampleSheet(samplesPath)
	if err != nil {
		return err
	}
	meta, err := design.NewTable(samples)
	if err != nil {
		return err
	}
	// Metadata row order must equal matrix column order before anything
	// downstream touches both.
	meta, err = meta.Reorder(matrix.Samples())
	if err != nil {
		return err
	}
	if err := design.CheckAligned(matrix.Samples(), meta); err != nil {
		return err
	}

	formula, err := design.ParseFormula(formulaStr)
	if err != nil {
		return err
	}

	ds, err := diffexpr.NewDataSet(matrix, meta)
	if err != nil {
		return err
	}
	ds = ds.FilterLowCounts(minTotal)

	reportQC(ds.Counts())

	log.Println("Fitting model under design", formula)
	model, err := diffexpr.Fit(context.Background(), ds, formula, diffexpr.Options{Workers: workers})
	if err != nil {
		return err
	}

	vst, err := diffexpr.VarianceStabilize(ds, model.Dispersions())
	if err != nil {
		return err
	}

	if !skipPlots {
		if err := renderDiagnostics(outputDir, ds, model, vst, meta, topVariable, heatmapGenes); err != nil {
			return err
		}
	}

	for _, c := range contrasts {
		results, err := model.Contrast(c.Factor, c.Numerator, c.Denominator)
		if errors.Is(err, design.ErrConfounded) {
			log.Printf("Skipping contrast %s %s vs %s: %v\n", c.Factor, c.Numerator, c.Denominator, err)
			continue
		}
		if err != nil {
			return fmt.Errorf("contrast %s %s vs %s: %w", c.Factor, c.Numerator, c.Denominator, err)
		}

		path := filepath.Join(outputDir, results.Name()+".csv")
		if err := writeResults(path, results); err != nil {
			return err
		}
		log.Println("Wrote", len(results.Results), "gene results to", path)

		if !skipPlots {
			if err := renderVolcano(filepath.Join(outputDir, "volcano_"+results.Name()+".png"), results); err != nil {
				return err
			}
			if err := renderMA(filepath.Join(outputDir, "ma_"+results.Name()+".png"), results); err != nil {
				return err
			}
		}
	}

	return nil
}

func parseContrasts(s string) ([]contrastSpec, error) {
	var out []contrastSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("contrast %q is not factor:numerator:denominator", part)
		}
		out = append(out, contrastSpec{Factor: fields[0], Numerator: fields[1], Denominator: fields[2]})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no contrasts requested")
	}

	return out, nil
}

// writeResults writes to a temporary file beside the target and renames it
// into place, so a failed run leaves no partial table.
func writeResults(path string, results *diffexpr.ResultTable) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, BufferSize)
	if err := diffexpr.WriteResults(w, results); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
