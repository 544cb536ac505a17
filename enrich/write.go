package enrich

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
)

// Member-gene lists are packed into one cell so each result stays a single
// CSV row.
const geneListSeparator = "|"

var oraHeader = []string{"set", "description", "hits", "setSize", "listSize", "universe", "pvalue", "padj", "hitGenes"}

// WriteORA renders over-representation results as CSV, one gene set per row,
// in the order given (Overrepresentation already orders by adjusted p-value).
func WriteORA(w io.Writer, results []ORAResult) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(oraHeader); err != nil {
		return pfx.Err(err)
	}

	for _, r := range results {
		rec := []string{
			r.Set,
			r.Description,
			strconv.Itoa(r.Hits),
			strconv.Itoa(r.SetSize),
			strconv.Itoa(r.ListSize),
			strconv.Itoa(r.Universe),
			strconv.FormatFloat(r.P, 'g', -1, 64),
			strconv.FormatFloat(r.PAdj, 'g', -1, 64),
			strings.Join(r.HitGenes, geneListSeparator),
		}
		if err := cw.Write(rec); err != nil {
			return pfx.Err(err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return pfx.Err(err)
	}

	return nil
}

var rankTestHeader = []string{"set", "description", "size", "es", "nes", "pvalue", "padj", "leadingEdge"}

// WriteRankTest renders rank-based enrichment results as CSV, one gene set
// per row, in the order given.
func WriteRankTest(w io.Writer, results []RankTestResult) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(rankTestHeader); err != nil {
		return pfx.Err(err)
	}

	for _, r := range results {
		rec := []string{
			r.Set,
			r.Description,
			strconv.Itoa(r.Size),
			strconv.FormatFloat(r.ES, 'g', -1, 64),
			strconv.FormatFloat(r.NES, 'g', -1, 64),
			strconv.FormatFloat(r.P, 'g', -1, 64),
			strconv.FormatFloat(r.PAdj, 'g', -1, 64),
			strings.Join(r.LeadingEdge, geneListSeparator),
		}
		if err := cw.Write(rec); err != nil {
			return pfx.Err(err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return pfx.Err(err)
	}

	return nil
}
