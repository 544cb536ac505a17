package annot

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/carbocation/pfx"
	"github.com/gocarina/gocsv"

	"github.com/evelab/rnaseqmisc"
)

type staticRecord struct {
	ID          string `csv:"gene_id"`
	Name        string `csv:"name"`
	Description string `csv:"description"`
}

// ReadStatic loads a pre-fetched annotation table with columns
// [gene_id, name, description], comma or tab delimited, optionally
// compressed, for runs that cannot reach the lookup service. Empty name or
// description cells stay null. When a gene appears twice the first row wins.
func ReadStatic(path string) (Static, error) {
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

	records := []*staticRecord{}
	if err := gocsv.UnmarshalBytes(raw, &records); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	out := make(Static, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if _, exists := out[rec.ID]; exists {
			continue
		}

		info := GeneInfo{}
		if rec.Name != "" {
			info.Name.SetValid(rec.Name)
		}
		if rec.Description != "" {
			info.Description.SetValid(rec.Description)
		}
		out[rec.ID] = info
	}

	return out, nil
}
