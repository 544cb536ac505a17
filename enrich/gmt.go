// Package enrich tests gene lists and rankings against curated gene sets:
// over-representation by Fisher's exact test and a rank-based running-sum
// test with permutation significance.
package enrich

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/evelab/rnaseqmisc"
)

// GeneSet is one named set from a GMT file.
type GeneSet struct {
	Name        string
	Description string
	Genes       []string
}

// ReadGMT parses the tab-separated GMT gene-set format: one set per line,
// set name, then a description, then the member genes. Duplicate members
// within a set are dropped; duplicate set names are an error.
func ReadGMT(r io.Reader) ([]GeneSet, error) {
	var sets []GeneSet
	names := make(map[string]struct{})

	br := bufio.NewReader(r)
	for lineNum := 1; ; lineNum++ {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, pfx.Err(err)
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed != "" {
			set, perr := parseGMTLine(trimmed, lineNum)
			if perr != nil {
				return nil, perr
			}
			if _, dup := names[set.Name]; dup {
				return nil, fmt.Errorf("gmt line %d: duplicate gene set %s", lineNum, set.Name)
			}
			names[set.Name] = struct{}{}
			sets = append(sets, set)
		}

		if err == io.EOF {
			break
		}
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("gmt: no gene sets found")
	}

	return sets, nil
}

// OpenGMT reads a GMT file from disk, transparently decompressing it.
func OpenGMT(path string) ([]GeneSet, error) {
	f, err := rnaseqmisc.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sets, err := ReadGMT(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return sets, nil
}

func parseGMTLine(line string, lineNum int) (GeneSet, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 2 {
		return GeneSet{}, fmt.Errorf("gmt line %d: expected at least a set name and description, got %d field(s)", lineNum, len(fields))
	}
	if fields[0] == "" {
		return GeneSet{}, fmt.Errorf("gmt line %d: empty set name", lineNum)
	}

	set := GeneSet{Name: fields[0], Description: fields[1]}
	seen := make(map[string]struct{}, len(fields)-2)
	for _, gene := range fields[2:] {
		if gene == "" {
			continue
		}
		if _, dup := seen[gene]; dup {
			continue
		}
		seen[gene] = struct{}{}
		set.Genes = append(set.Genes, gene)
	}

	return set, nil
}
