// Package quant reads per-sample transcript quantification files and
// aggregates them into gene-level count, abundance, and length matrices using
// the length-scaled abundance convention.
package quant

import (
	"strings"
)

// Layout describes the column arrangement of one quantifier's output file.
// All supported layouts carry the same five quantities; only the order and
// naming differ between tools.
type Layout struct {
	Delimiter          rune
	HasHeader          bool
	ColTranscript      int
	ColLength          int
	ColEffectiveLength int
	ColAbundance       int // TPM
	ColCounts          int // estimated reads
}

var Layouts = map[string]Layout{
	// salmon quant.sf: Name Length EffectiveLength TPM NumReads
	"SALMON": {
		Delimiter:          '\t',
		HasHeader:          true,
		ColTranscript:      0,
		ColLength:          1,
		ColEffectiveLength: 2,
		ColAbundance:       3,
		ColCounts:          4,
	},
	// kallisto abundance.tsv: target_id length eff_length est_counts tpm
	"KALLISTO": {
		Delimiter:          '\t',
		HasHeader:          true,
		ColTranscript:      0,
		ColLength:          1,
		ColEffectiveLength: 2,
		ColAbundance:       4,
		ColCounts:          3,
	},
}

func LayoutNames() string {
	b := strings.Builder{}
	i := 0
	for m := range Layouts {
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString(m)
		i++
	}

	return b.String()
}
