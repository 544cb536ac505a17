// Package design represents the experimental design: which samples exist,
// which factor levels each one carries, and which factors the statistical
// model should account for. It also owns the correctness-critical alignment
// and confounding checks that must pass before any model is fit.
package design

import (
	"fmt"
	"io"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/gocarina/gocsv"

	"github.com/evelab/rnaseqmisc"
)

// Sample is one row of the sample sheet: a biological replicate, the path to
// its quantification file, and its factor levels.
type Sample struct {
	ID        string `csv:"sample"`
	Path      string `csv:"path"`
	Knockout  string `csv:"knockout"`
	Bisphenol string `csv:"bisphenol"`
}

// Factor names as they appear in sample sheets and design formulas.
const (
	FactorKnockout  = "knockout"
	FactorBisphenol = "bisphenol"
)

// ReadSampleSheet parses the sample sheet CSV. Every sample needs a unique
// identifier and a level for each factor; the path column may be empty for
// pipelines that start from an existing count matrix.
func ReadSampleSheet(path string) ([]Sample, error) {
	r, err := rnaseqmisc.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer r.Close()

	fileBytes, err := io.ReadAll(r)
	if err != nil {
		return nil, pfx.Err(err)
	}

	samples := []*Sample{}
	if err := gocsv.UnmarshalBytes(fileBytes, &samples); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	out := make([]Sample, 0, len(samples))
	seen := make(map[string]struct{}, len(samples))
	for i, s := range samples {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return nil, fmt.Errorf("%s: sample sheet row %d has an empty sample identifier", path, i)
		}
		if _, exists := seen[s.ID]; exists {
			return nil, fmt.Errorf("%s: duplicate sample %s", path, s.ID)
		}
		seen[s.ID] = struct{}{}

		if strings.TrimSpace(s.Knockout) == "" || strings.TrimSpace(s.Bisphenol) == "" {
			return nil, fmt.Errorf("%s: sample %s is missing a factor level", path, s.ID)
		}

		out = append(out, *s)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%s: sample sheet contained no samples", path)
	}

	return out, nil
}
