// quant2counts aggregates per-sample transcript quantification files into one
// gene-level count matrix, annotates the genes with human-readable names and
// descriptions, and writes the annotated matrix as CSV. The output file is the
// sole interchange artifact consumed by counts2de.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/evelab/rnaseqmisc"
	"github.com/evelab/rnaseqmisc/annot"
	"github.com/evelab/rnaseqmisc/countmatrix"
	"github.com/evelab/rnaseqmisc/design"
	"github.com/evelab/rnaseqmisc/gtf"
	"github.com/evelab/rnaseqmisc/quant"
)

var (
	BufferSize = 4096
	STDOUT     = bufio.NewWriterSize(os.Stdout, BufferSize)
)

func main() {
	defer STDOUT.Flush()

	var (
		samplesPath string
		gtfPath     string
		tx2genePath string
		layout      string
		scalingName string
		lookupURL   string
		geneInfo    string
		output      string
	)
	flag.StringVar(&samplesPath, "samples", "", "CSV sample sheet with columns sample,path,knockout,bisphenol; path locates each sample's quantification file")
	flag.StringVar(&gtfPath, "gtf", "", "Genome annotation (GTF, optionally compressed) from which the transcript-to-gene map is derived")
	flag.StringVar(&tx2genePath, "tx2gene", "", "Alternative to --gtf: a two-column transcript_id,gene_id table")
	flag.StringVar(&layout, "layout", "SALMON", fmt.Sprint("Layout of the quantification files. Currently, options include: ", quant.LayoutNames()))
	flag.StringVar(&scalingName, "scaling", string(quant.ScalingLengthScaledTPM), "Count scaling convention: lengthScaledTPM, scaledTPM, or none")
	flag.StringVar(&lookupURL, "lookup-url", "", "Optional: HTTP batch gene annotation service endpoint")
	flag.StringVar(&geneInfo, "gene-info", "", "Optional: pre-fetched gene_id,name,description table used instead of --lookup-url")
	flag.StringVar(&output, "output", "", "Path for the annotated count matrix CSV")
	flag.Parse()

	if samplesPath == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --samples")
	}
	if output == "" {
		flag.PrintDefaults()
		log.Fatalln("Please provide --output")
	}
	if (gtfPath == "") == (tx2genePath == "") {
		flag.PrintDefaults()
		log.Fatalln("Please provide exactly one of --gtf or --tx2gene")
	}

	scaling, err := quant.ParseScaling(scalingName)
	if err != nil {
		log.Fatalln(err)
	}

	if err := run(samplesPath, gtfPath, tx2genePath, layout, scaling, lookupURL, geneInfo, output); err != nil {
		log.Fatalln(err)
	}
}

func run(samplesPath, gtfPath, tx2genePath, layout string, scaling quant.Scaling, lookupURL, geneInfo, output string) error {
	samples, err := design.ReadSampleSheet(samplesPath)
	if err != nil {
		return err
	}
	for _, s := range samples {
		if s.Path == "" {
			return fmt.Errorf("sample %s has no quantification file path in %s", s.ID, samplesPath)
		}
	}
	log.Println("Read", len(samples), "samples from", samplesPath)

	tx2gene, err := loadTxToGene(gtfPath, tx2genePath)
	if err != nil {
		return err
	}
	log.Println("Transcript-to-gene map covers", len(tx2gene), "transcripts")

	log.Println("Pass 1: reading quantification files")
	records := make([]quant.SampleRecords, 0, len(samples))
	for i, s := range samples {
		recs, err := quant.ReadFile(s.Path, layout)
		if err != nil {
			return fmt.Errorf("sample %s: %w", s.ID, err)
		}
		records = append(records, quant.SampleRecords{Sample: s.ID, Records: recs})
		log.Printf("Read %d/%d: %s (%d transcripts)\n", i+1, len(samples), s.ID, len(recs))
	}

	log.Println("Pass 2: aggregating to gene level with scaling", scaling)
	genes, err := quant.SummarizeToGenes(records, tx2gene, scaling)
	if err != nil {
		return err
	}
	if genes.UnmappedTranscripts > 0 {
		log.Println("Excluded", genes.UnmappedTranscripts, "transcripts with no gene mapping")
	}
	log.Println("Aggregated", len(genes.Genes), "genes across", len(genes.Samples), "samples")

	matrix, err := countmatrix.New(genes.Genes, genes.Samples, genes.Counts)
	if err != nil {
		return err
	}

	annotations := annotate(lookupURL, geneInfo, matrix.Genes())

	return writeMatrix(output, matrix, annotations)
}

func loadTxToGene(gtfPath, tablePath string) (gtf.TxToGene, error) {
	path := gtfPath
	if path == "" {
		path = tablePath
	}

	r, err := rnaseqmisc.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if gtfPath != "" {
		m, err := gtf.FromAnnotation(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", gtfPath, err)
		}
		return m, nil
	}

	m, err := gtf.FromTable(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tablePath, err)
	}
	return m, nil
}

// annotate resolves gene names and descriptions on a best-effort basis: a
// lookup failure logs and leaves the affected genes blank rather than
// aborting the run.
func annotate(lookupURL, geneInfo string, genes []string) map[string]countmatrix.GeneAnnotation {
	var source annot.Lookup
	switch {
	case lookupURL != "":
		source = &annot.Client{URL: lookupURL}
	case geneInfo != "":
		static, err := annot.ReadStatic(geneInfo)
		if err != nil {
			log.Println("Skipping annotation:", err)
			return nil
		}
		source = static
	default:
		log.Println("No annotation source given; name and description will be blank")
		return nil
	}

	log.Println("Annotating", len(genes), "gene identifiers")
	info, err := source.Lookup(context.Background(), genes)
	if err != nil {
		log.Println("Annotation lookup degraded to partial results:", err)
	}

	out := make(map[string]countmatrix.GeneAnnotation, len(info))
	for id, gi := range info {
		out[id] = countmatrix.GeneAnnotation{Name: gi.Name, Description: gi.Description}
	}
	log.Println("Resolved annotation for", len(out), "of", len(genes), "genes")

	return out
}

// writeMatrix writes to a temporary file beside the target and renames it
// into place, so a failed run leaves no partial output.
func writeMatrix(output string, m *countmatrix.Matrix, ann map[string]countmatrix.GeneAnnotation) error {
	output = rnaseqmisc.ExpandHome(output)

	tmp, err := os.CreateTemp(filepath.Dir(output), filepath.Base(output)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, BufferSize)
	if err := m.WriteAnnotated(w, ann); err != nil {
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

	if err := os.Rename(tmp.Name(), output); err != nil {
		return err
	}
	log.Println("Wrote annotated count matrix to", output)

	return nil
}
