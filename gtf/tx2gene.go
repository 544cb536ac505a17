package gtf

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/carbocation/pfx"
)

// TxToGene maps version-stripped transcript identifiers to version-stripped
// gene identifiers. Each transcript maps to exactly one gene.
type TxToGene map[string]string

// StripVersion removes the trailing ".N" version suffix that Ensembl appends
// to transcript and gene identifiers, so quantifier output and annotation
// releases can be matched regardless of which versions they carry.
func StripVersion(id string) string {
	if i := strings.LastIndexByte(id, '.'); i > 0 {
		return id[:i]
	}

	return id
}

// GeneFor resolves a transcript identifier, stripping its version first.
func (m TxToGene) GeneFor(transcriptID string) (string, bool) {
	gene, ok := m[StripVersion(transcriptID)]
	return gene, ok
}

// Genes returns the sorted set of distinct gene identifiers in the map.
func (m TxToGene) Genes() []string {
	seen := make(map[string]struct{}, len(m))
	for _, gene := range m {
		seen[gene] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for gene := range seen {
		out = append(out, gene)
	}
	sort.Strings(out)

	return out
}

func (m TxToGene) add(transcriptID, geneID string) error {
	tx := StripVersion(transcriptID)
	gene := StripVersion(geneID)

	if known, exists := m[tx]; exists {
		if known != gene {
			return fmt.Errorf("transcript %s maps to both gene %s and gene %s", tx, known, gene)
		}
		return nil
	}

	m[tx] = gene

	return nil
}

// FromAnnotation derives a transcript-to-gene map from a GTF stream. Any
// feature row carrying both a transcript_id and a gene_id attribute
// contributes a pair; duplicate pairs collapse, and a transcript claiming two
// different genes is an input error.
func FromAnnotation(r io.Reader) (TxToGene, error) {
	out := make(TxToGene)

	err := scanLines(r, func(feature string, attrs []KeyValue) error {
		var transcriptID, geneID string
		for _, attr := range attrs {
			switch attr.Key {
			case "transcript_id":
				transcriptID = attr.Value
			case "gene_id":
				geneID = attr.Value
			}
		}

		if transcriptID == "" || geneID == "" {
			// Gene-level and header-ish rows carry no transcript.
			return nil
		}

		return out.add(transcriptID, geneID)
	})
	if err != nil {
		return nil, pfx.Err(err)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("annotation contained no transcript_id/gene_id pairs")
	}

	return out, nil
}

// FromTable reads a pre-built two-column transcript/gene table, comma- or
// tab-delimited, with or without a header row.
func FromTable(r io.Reader) (TxToGene, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1

	out := make(TxToGene)

	for i := 0; ; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		if len(rec) == 1 && strings.ContainsRune(rec[0], ',') {
			rec = strings.Split(rec[0], ",")
		}

		if len(rec) < 2 {
			return nil, fmt.Errorf("transcript table row %d had %d columns, expected at least 2", i, len(rec))
		}

		tx, gene := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])

		// Tolerate a header row.
		if i == 0 && looksLikeHeader(tx) {
			continue
		}

		if tx == "" || gene == "" {
			continue
		}

		if err := out.add(tx, gene); err != nil {
			return nil, pfx.Err(err)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("transcript table contained no transcript/gene pairs")
	}

	return out, nil
}

func looksLikeHeader(firstField string) bool {
	switch strings.ToLower(firstField) {
	case "transcript_id", "transcript", "tx", "txname", "target_id":
		return true
	}

	return false
}
