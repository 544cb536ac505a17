package enrich

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/carbocation/pfx"
	"github.com/evelab/rnaseqmisc"
	"github.com/gocarina/gocsv"
)

type xrefRecord struct {
	Symbol  string `csv:"symbol"`
	Numeric string `csv:"entrez"`
}

// Xref translates gene symbols into the numeric identifiers that pathway
// gene sets are keyed by. The mapping is lossy: symbols without a record are
// counted, not invented.
type Xref struct {
	bySymbol map[string]string
}

// ReadXref loads a symbol-to-numeric-identifier table with columns
// [symbol, entrez], comma or tab delimited, optionally compressed. When a
// symbol appears twice the first mapping wins.
func ReadXref(path string) (*Xref, error) {
	delim, rc, err := rnaseqmisc.SniffDelimiter(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, pfx.Err(err)
	}

	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.Comma = delim
		r.LazyQuotes = true
		return r
	})

	records := []*xrefRecord{}
	if err := gocsv.UnmarshalBytes(raw, &records); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	x := &Xref{bySymbol: make(map[string]string, len(records))}
	for i, rec := range records {
		if rec.Symbol == "" || rec.Numeric == "" {
			return nil, fmt.Errorf("%s: row %d is missing a symbol or identifier", path, i+1)
		}
		if _, exists := x.bySymbol[rec.Symbol]; exists {
			continue
		}
		x.bySymbol[rec.Symbol] = rec.Numeric
	}
	if len(x.bySymbol) == 0 {
		return nil, fmt.Errorf("%s: no cross-reference rows", path)
	}

	return x, nil
}

// Len reports how many symbols have a mapping.
func (x *Xref) Len() int { return len(x.bySymbol) }

// Translate maps symbols to numeric identifiers, preserving order and
// skipping symbols with no mapping. The second return is how many were
// skipped.
func (x *Xref) Translate(genes []string) ([]string, int) {
	out := make([]string, 0, len(genes))
	missing := 0
	for _, g := range genes {
		id, ok := x.bySymbol[g]
		if !ok {
			missing++
			continue
		}
		out = append(out, id)
	}

	return out, missing
}

// TranslateItems maps ranked items onto numeric identifiers, dropping items
// whose symbol has no mapping so a ranking can be rebuilt in the target
// identifier space.
func (x *Xref) TranslateItems(items []RankItem) ([]RankItem, int) {
	out := make([]RankItem, 0, len(items))
	missing := 0
	for _, item := range items {
		id, ok := x.bySymbol[item.Gene]
		if !ok {
			missing++
			continue
		}
		out = append(out, RankItem{Gene: id, Score: item.Score})
	}

	return out, missing
}
