package countmatrix

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"

	"github.com/evelab/rnaseqmisc"
)

// DefaultMinTotalCount is the minimum total count across all samples a gene
// must reach to stay in the matrix.
const DefaultMinTotalCount = 10

// The annotated count matrix begins with these columns, followed by one
// column per sample.
var annotationColumns = []string{"gene_id", "name", "description"}

// Table is a raw annotated count matrix as loaded from disk, before cleaning.
type Table struct {
	Samples []string
	Rows    [][]string // gene_id, name, description, then counts as text
}

// Load reads an annotated count matrix file, sniffing its delimiter. It
// validates the header contract but leaves all cleaning to Clean, so that the
// discrete cleaning steps stay observable and testable.
func Load(path string) (*Table, error) {
	delim, r, err := rnaseqmisc.SniffDelimiter(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer r.Close()

	return Read(r, delim)
}

// Read parses an annotated count matrix from an open stream.
func Read(r io.Reader, delim rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading count matrix header: %w", err)
	}

	if len(header) < len(annotationColumns)+1 {
		return nil, fmt.Errorf("count matrix header has %d columns; expected gene_id, name, description and at least one sample", len(header))
	}

	for i, want := range annotationColumns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return nil, fmt.Errorf("count matrix column %d is %q, expected %q", i, header[i], want)
		}
	}

	t := &Table{Samples: header[len(annotationColumns):]}

	for i := 0; ; i++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("count matrix row %d: %w", i, err)
		}

		t.Rows = append(t.Rows, row)
	}

	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("count matrix contained no gene rows")
	}

	return t, nil
}

// CleanOptions parameterizes Clean.
type CleanOptions struct {
	MinTotalCount float64
}

// CleanReport tallies what each cleaning step removed, for logging.
type CleanReport struct {
	DuplicatesDropped int
	MissingDropped    int
	LowCountDropped   int
	Kept              int
}

func (r CleanReport) String() string {
	return fmt.Sprintf("dropped %d duplicate, %d incomplete, %d low-count gene rows; kept %d",
		r.DuplicatesDropped, r.MissingDropped, r.LowCountDropped, r.Kept)
}

// Clean turns a raw table into a modeling-ready matrix by applying, in order:
// duplicate-gene removal (first occurrence wins), removal of rows with any
// missing value, promotion of gene_id to the row key, removal of the
// annotation columns, rounding to integers, and the minimum-total-count
// filter. The result satisfies Matrix.Validate by construction.
func (t *Table) Clean(opts CleanOptions) (*Matrix, CleanReport, error) {
	report := CleanReport{}

	if opts.MinTotalCount <= 0 {
		opts.MinTotalCount = DefaultMinTotalCount
	}

	nCols := len(annotationColumns) + len(t.Samples)

	// Step 1: drop duplicate gene rows, keeping the first occurrence.
	seen := make(map[string]struct{}, len(t.Rows))
	deduped := make([][]string, 0, len(t.Rows))
	for i, row := range t.Rows {
		if len(row) != nCols {
			return nil, report, fmt.Errorf("count matrix row %d has %d columns, expected %d", i, len(row), nCols)
		}

		gene := strings.TrimSpace(row[0])
		if _, exists := seen[gene]; exists {
			report.DuplicatesDropped++
			continue
		}
		seen[gene] = struct{}{}
		deduped = append(deduped, row)
	}

	// Steps 2-4: drop incomplete rows, key by gene, keep only numeric columns.
	genes := make([]string, 0, len(deduped))
	values := make([][]float64, 0, len(deduped))
rows:
	for _, row := range deduped {
		gene := strings.TrimSpace(row[0])
		if isMissing(gene) {
			report.MissingDropped++
			continue
		}

		// Annotation cells may be blank (unresolved lookups), but a literal
		// NA marks a row the annotation source failed on.
		for _, cell := range row[1:len(annotationColumns)] {
			if strings.TrimSpace(cell) == "NA" {
				report.MissingDropped++
				continue rows
			}
		}

		counts := make([]float64, len(t.Samples))
		for j, cell := range row[len(annotationColumns):] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil || v < 0 {
				report.MissingDropped++
				continue rows
			}
			counts[j] = v
		}

		genes = append(genes, gene)
		values = append(values, counts)
	}

	if len(genes) == 0 {
		return nil, report, fmt.Errorf("no usable gene rows remain after cleaning")
	}

	m, err := New(genes, samplesCopy(t.Samples), values)
	if err != nil {
		return nil, report, pfx.Err(err)
	}

	// Steps 5-6: integral counts, then the minimum-total filter.
	m = m.Round()

	before := m.NGenes()
	m = m.FilterMinTotal(opts.MinTotalCount)
	report.LowCountDropped = before - m.NGenes()
	report.Kept = m.NGenes()

	if m.NGenes() == 0 {
		return nil, report, fmt.Errorf("no genes reach the minimum total count of %g", opts.MinTotalCount)
	}

	return m, report, nil
}

func isMissing(cell string) bool {
	return cell == "" || cell == "NA"
}
