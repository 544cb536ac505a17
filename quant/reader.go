package quant

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"

	"github.com/evelab/rnaseqmisc"
)

// Record is one transcript's quantification in one sample.
type Record struct {
	TranscriptID    string
	Length          float64
	EffectiveLength float64
	Abundance       float64 // TPM
	Counts          float64 // estimated reads
}

// ReadFile parses one sample's quantification file using the named layout.
// The file may be compressed. A missing or malformed file is an error; the
// caller decides whether that aborts the run (it does, for the importer).
func ReadFile(path string, layout string) ([]Record, error) {
	l, exists := Layouts[layout]
	if !exists {
		return nil, fmt.Errorf("layout %s is not found. Valid layout names include: %s", layout, LayoutNames())
	}

	r, err := rnaseqmisc.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer r.Close()

	records, err := Read(r, l)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return records, nil
}

// Read parses quantification rows from an open stream.
func Read(r io.Reader, layout Layout) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.Comma = layout.Delimiter
	cr.FieldsPerRecord = -1

	minColumns := layout.ColTranscript
	for _, c := range []int{layout.ColLength, layout.ColEffectiveLength, layout.ColAbundance, layout.ColCounts} {
		if c > minColumns {
			minColumns = c
		}
	}
	minColumns++

	out := make([]Record, 0, 4096)

	for i := 0; ; i++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		if i == 0 && layout.HasHeader {
			continue
		}

		if len(row) < minColumns {
			return nil, fmt.Errorf("quantification row %d had %d columns, expected at least %d", i, len(row), minColumns)
		}

		rec := Record{TranscriptID: strings.TrimSpace(row[layout.ColTranscript])}
		if rec.TranscriptID == "" {
			return nil, fmt.Errorf("quantification row %d had an empty transcript identifier", i)
		}

		for _, v := range []struct {
			col  int
			dest *float64
			name string
		}{
			{layout.ColLength, &rec.Length, "length"},
			{layout.ColEffectiveLength, &rec.EffectiveLength, "effective length"},
			{layout.ColAbundance, &rec.Abundance, "abundance"},
			{layout.ColCounts, &rec.Counts, "counts"},
		} {
			f, err := strconv.ParseFloat(row[v.col], 64)
			if err != nil {
				return nil, fmt.Errorf("quantification row %d: unparseable %s %q", i, v.name, row[v.col])
			}
			if f < 0 {
				return nil, fmt.Errorf("quantification row %d: negative %s %f", i, v.name, f)
			}
			*v.dest = f
		}

		out = append(out, rec)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("quantification stream contained no transcript rows")
	}

	return out, nil
}
