// Package gtf parses gene-annotation GTF files far enough to recover the
// transcript-to-gene relationships that gene-level count aggregation needs.
// It deliberately ignores coordinates and scores; rnaseqmisc only cares about
// the attribute column.
package gtf

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	// Mandatory GTF columns, in file order.
	colSeqname int = iota
	colSource
	colFeature
	colStart
	colEnd
	colScore
	colStrand
	colFrame
	colAttributes

	mandatoryColumns = 9
)

type KeyValue struct {
	Key   string
	Value string
}

// ParseAttributes splits the 9th GTF column into its key/value pairs. Values
// arrive quoted and semicolon-terminated, e.g.:
//
//	gene_id "ENSG00000141510"; transcript_id "ENST00000269305.9";
func ParseAttributes(attr string) ([]KeyValue, error) {
	out := make([]KeyValue, 0)

	attributes := strings.Split(attr, ";")
	for i, attribute := range attributes {
		parts := strings.SplitN(strings.TrimSpace(attribute), " ", 2)
		if x := len(parts); x < 2 {
			// Line ends in a semicolon
			break
		} else if x != 2 {
			return nil, fmt.Errorf("expected 2 parts; attribute %d had %d (%+v)", i, x, parts)
		}

		out = append(out, KeyValue{Key: parts[0], Value: strings.Trim(parts[1], "\"")})
	}

	return out, nil
}

// scanLines walks a GTF stream and hands each non-comment row's feature type
// and parsed attributes to visit.
func scanLines(r io.Reader, visit func(feature string, attrs []KeyValue) error) error {
	br := bufio.NewReader(r)

	for i := 0; ; i++ {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("GTF 0-based row %d error %s: %s", i, err, line)
		}

		lineCandidate := strings.TrimSuffix(line, "\n")
		if lineCandidate != "" && !strings.HasPrefix(lineCandidate, "#") {
			row := strings.Split(lineCandidate, "\t")
			if x := len(row); x < mandatoryColumns {
				return fmt.Errorf("GTF 0-based row %d had %d columns, expected %d", i, x, mandatoryColumns)
			}

			attributes, parseErr := ParseAttributes(row[colAttributes])
			if parseErr != nil {
				return fmt.Errorf("GTF 0-based row %d: %s (%+v)", i, parseErr, row[colAttributes])
			}

			if visitErr := visit(row[colFeature], attributes); visitErr != nil {
				return visitErr
			}
		}

		if err == io.EOF {
			break
		}
	}

	return nil
}
