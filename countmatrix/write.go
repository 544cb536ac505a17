package countmatrix

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/carbocation/pfx"
	"gopkg.in/guregu/null.v3"
)

// GeneAnnotation carries the best-effort human-readable annotation for one
// gene. Either field may be unresolved, in which case the written cell is
// blank.
type GeneAnnotation struct {
	Name        null.String
	Description null.String
}

// WriteAnnotated writes the matrix in the interchange layout: a header of
// gene_id, name, description and one column per sample, one row per gene.
// Genes missing from ann get blank annotation cells.
func (m *Matrix) WriteAnnotated(w io.Writer, ann map[string]GeneAnnotation) error {
	cw := csv.NewWriter(w)

	header := append([]string{}, annotationColumns...)
	header = append(header, m.samples...)
	if err := cw.Write(header); err != nil {
		return pfx.Err(err)
	}

	row := make([]string, len(header))
	for g, gene := range m.genes {
		row[0] = gene
		row[1] = nullStringFormatter(ann[gene].Name)
		row[2] = nullStringFormatter(ann[gene].Description)
		for s, v := range m.values[g] {
			row[3+s] = strconv.FormatFloat(v, 'f', -1, 64)
		}

		if err := cw.Write(row); err != nil {
			return pfx.Err(err)
		}
	}

	cw.Flush()

	return pfx.Err(cw.Error())
}

func nullStringFormatter(n null.String) string {
	if !n.Valid {
		return ""
	}

	return n.String
}
