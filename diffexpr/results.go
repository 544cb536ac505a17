package diffexpr

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/carbocation/pfx"
	"gopkg.in/guregu/null.v3"
)

var resultHeader = []string{"baseMean", "log2FoldChange", "lfcSE", "stat", "pvalue", "padj", "gene"}

// WriteResults renders a contrast result table as CSV with the header
// [baseMean, log2FoldChange, lfcSE, stat, pvalue, padj, gene]. Null
// statistics become empty cells.
func WriteResults(w io.Writer, t *ResultTable) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(resultHeader); err != nil {
		return pfx.Err(err)
	}

	for _, r := range t.Results {
		rec := []string{
			formatFloat(r.BaseMean),
			formatNullFloat(r.Log2FoldChange),
			formatNullFloat(r.LfcSE),
			formatNullFloat(r.Stat),
			formatNullFloat(r.PValue),
			formatNullFloat(r.PAdj),
			r.Gene,
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

// ReadResults parses a CSV written by WriteResults. Empty statistic cells
// come back null. Row order is preserved as written.
func ReadResults(r io.Reader) (*ResultTable, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("result table: reading header: %w", err)
	}
	if len(header) != len(resultHeader) {
		return nil, fmt.Errorf("result table: expected %d columns, got %d", len(resultHeader), len(header))
	}
	for i, want := range resultHeader {
		if header[i] != want {
			return nil, fmt.Errorf("result table: column %d is %q, expected %q", i, header[i], want)
		}
	}

	table := &ResultTable{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, pfx.Err(err)
		}

		baseMean, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("result table line %d: bad baseMean %q: %w", line, rec[0], err)
		}

		res := Result{Gene: rec[6], BaseMean: baseMean}
		for i, dst := range []*null.Float{
			&res.Log2FoldChange, &res.LfcSE, &res.Stat, &res.PValue, &res.PAdj,
		} {
			cell := rec[i+1]
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("result table line %d: bad %s %q: %w", line, resultHeader[i+1], cell, err)
			}
			*dst = null.FloatFrom(v)
		}

		table.Results = append(table.Results, res)
	}

	return table, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatNullFloat(v null.Float) string {
	if !v.Valid {
		return ""
	}

	return formatFloat(v.Float64)
}
