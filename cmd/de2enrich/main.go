// de2enrich runs functional enrichment over one contrast's differential
// expression results: it ranks the tested genes by effect size, then runs
// over-representation and rank-based gene-set tests independently for each
// ontology namespace, and again for pathway gene sets after cross-referencing
// symbols into the pathway database's numeric identifier namespace.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/evelab/rnaseqmisc"
	"github.com/evelab/rnaseqmisc/diffexpr"
	"github.com/evelab/rnaseqmisc/enrich"
)

var (
	BufferSize = 4096
	STDOUT     = bufio.NewWriterSize(os.Stdout, BufferSize)
)

func main() {
	defer STDOUT.Flush()

	var (
		resultsPath  string
		goBP         string
		goMF         string
		goCC         string
		pathways     string
		xrefPath     string
		outputDir    string
		alpha        float64
		minSetSize   int
		maxSetSize   int
		minListSize  int
		permutations int
		seed         int64
	)
	flag.StringVar(&resultsPath, "results", "", "DE result table CSV written by counts2de")
	flag.StringVar(&goBP, "go-bp", "", "GMT file of biological-process gene sets, keyed by symbol")
	flag.StringVar(&goMF, "go-mf", "", "GMT file of molecular-function gene sets, keyed by symbol")
	flag.StringVar(&goCC, "go-cc", "", "GMT file of cellular-component gene sets, keyed by symbol")
	flag.StringVar(&pathways, "pathways", "", "GMT file of pathway gene sets, keyed by the xref's numeric identifiers")
	flag.StringVar(&xrefPath, "xref", "", "symbol,entrez table translating gene symbols into the pathway namespace; required with --pathways")
	flag.StringVar(&outputDir, "output", "", "Directory for enrichment result CSVs")
	flag.Float64Var(&alpha, "alpha", 0.05, "Adjusted-p threshold defining the over-representation foreground")
	flag.IntVar(&minSetSize, "min-set", enrich.DefaultMinSetSize, "Smallest gene set tested, after intersecting with the universe")
	flag.IntVar(&maxSetSize, "max-set", enrich.DefaultMaxSetSize, "Largest gene set tested, after intersecting with the universe")
	flag.IntVar(&minListSize, "min-list", 10, "Ranked lists shorter than this produce empty results for their namespace")
	flag.IntVar(&permutations, "permutations", 1000, "Gene-label permutations calibrating the rank-based test")
	flag.Int64Var(&seed, "seed", 0, "Seed for the permutation null; results are deterministic per seed")
	flag.Parse()

	if resultsPath == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --results")
	}
	if outputDir == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --output")
	}
	if goBP == "" && goMF == "" && goCC == "" && pathways == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide at least one of --go-bp, --go-mf, --go-cc, --pathways")
	}
	if pathways != "" && xrefPath == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --xref alongside --pathways")
	}

	cfg := config{
		Alpha:       alpha,
		MinListSize: minListSize,
		ORA:         enrich.ORAOptions{MinSetSize: minSetSize, MaxSetSize: maxSetSize},
		Rank: enrich.RankTestOptions{
			Permutations: permutations,
			Seed:         seed,
			MinSetSize:   minSetSize,
			MaxSetSize:   maxSetSize,
		},
	}

	if err := run(resultsPath, outputDir, goBP, goMF, goCC, pathways, xrefPath, cfg); err != nil {
		log.Fatalln(err)
	}
}

type config struct {
	Alpha       float64
	MinListSize int
	ORA         enrich.ORAOptions
	Rank        enrich.RankTestOptions
}

func run(resultsPath, outputDir, goBP, goMF, goCC, pathways, xrefPath string, cfg config) error {
	outputDir = rnaseqmisc.ExpandHome(outputDir)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	r, err := rnaseqmisc.Open(resultsPath)
	if err != nil {
		return err
	}
	table, err := diffexpr.ReadResults(r)
	r.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", resultsPath, err)
	}
	log.Println("Read", len(table.Results), "gene results from", resultsPath)

	// Result tables arrive ordered by adjusted p-value, so keep-first
	// deduplication in the ranking favors each gene's most significant row.
	items := make([]enrich.RankItem, 0, len(table.Results))
	hits := make([]string, 0, len(table.Results))
	for _, res := range table.Results {
		items = append(items, enrich.RankItem{Gene: res.Gene, Score: res.Log2FoldChange})
		if res.PAdj.Valid && res.PAdj.Float64 < cfg.Alpha {
			hits = append(hits, res.Gene)
		}
	}

	ranking, report := enrich.BuildRanking(items)
	log.Printf("Ranked %d genes (%d null effects dropped, %d duplicates)\n", ranking.Len(), report.NullScores, report.Duplicates)
	log.Println(len(hits), "genes pass padj <", cfg.Alpha)

	for _, ns := range []struct{ name, gmtPath string }{
		{"go_bp", goBP},
		{"go_mf", goMF},
		{"go_cc", goCC},
	} {
		if ns.gmtPath == "" {
			continue
		}
		if err := runNamespace(outputDir, ns.name, ns.gmtPath, ranking, hits, cfg); err != nil {
			return fmt.Errorf("namespace %s: %w", ns.name, err)
		}
	}

	if pathways == "" {
		return nil
	}

	// Pathway sets are keyed by numeric identifiers, so translate and drop
	// symbols without a mapping from this branch only.
	xref, err := enrich.ReadXref(xrefPath)
	if err != nil {
		return err
	}
	translated, droppedItems := xref.TranslateItems(items)
	pathwayRanking, pathwayReport := enrich.BuildRanking(translated)
	pathwayHits, droppedHits := xref.Translate(hits)
	log.Printf("Pathway namespace: %d genes ranked after translation (%d unmapped, %d null, %d duplicates); %d of %d hits translated (%d unmapped)\n",
		pathwayRanking.Len(), droppedItems, pathwayReport.NullScores, pathwayReport.Duplicates, len(pathwayHits), len(hits), droppedHits)

	if err := runNamespace(outputDir, "pathways", pathways, pathwayRanking, pathwayHits, cfg); err != nil {
		return fmt.Errorf("namespace pathways: %w", err)
	}

	return nil
}

// runNamespace runs both test types for one gene-set collection and writes
// one CSV per test. An undersized ranking writes header-only files so a
// namespace's absence is visible, not fatal.
func runNamespace(outputDir, name, gmtPath string, ranking *enrich.Ranking, hits []string, cfg config) error {
	sets, err := enrich.OpenGMT(gmtPath)
	if err != nil {
		return err
	}
	log.Printf("%s: %d gene sets from %s\n", name, len(sets), gmtPath)

	var oraResults []enrich.ORAResult
	var rankResults []enrich.RankTestResult

	if ranking.Len() < cfg.MinListSize {
		log.Printf("%s: only %d ranked genes (< %d); writing empty results\n", name, ranking.Len(), cfg.MinListSize)
	} else {
		oraResults, err = enrich.Overrepresentation(hits, ranking.Genes(), sets, cfg.ORA)
		if err != nil {
			return err
		}
		rankResults, err = enrich.RankTest(ranking, sets, cfg.Rank)
		if err != nil {
			return err
		}
		log.Printf("%s: %d sets tested by over-representation, %d by rank\n", name, len(oraResults), len(rankResults))
	}

	oraPath := filepath.Join(outputDir, "ora_"+name+".csv")
	if err := writeFile(oraPath, func(w io.Writer) error {
		return enrich.WriteORA(w, oraResults)
	}); err != nil {
		return err
	}

	rankPath := filepath.Join(outputDir, "gsea_"+name+".csv")
	if err := writeFile(rankPath, func(w io.Writer) error {
		return enrich.WriteRankTest(w, rankResults)
	}); err != nil {
		return err
	}

	return nil
}

// writeFile writes through a temporary file beside the target and renames it
// into place, so a failed run leaves no partial output.
func writeFile(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, BufferSize)
	if err := fill(w); err != nil {
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
