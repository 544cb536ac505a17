package quant

import (
	"fmt"
	"sort"

	"github.com/evelab/rnaseqmisc/gtf"
)

// Scaling selects the convention used to put gene-level counts on a footing
// that is comparable across samples of differing library size and
// transcript-length composition.
type Scaling string

const (
	// ScalingNone sums the quantifier's estimated counts per gene.
	ScalingNone Scaling = "none"
	// ScalingScaledTPM scales summed TPM so each sample's total matches its
	// total estimated counts.
	ScalingScaledTPM Scaling = "scaledTPM"
	// ScalingLengthScaledTPM additionally multiplies by the gene's mean
	// effective length across samples before rescaling, the default
	// length-scaled abundance convention.
	ScalingLengthScaledTPM Scaling = "lengthScaledTPM"
)

func ParseScaling(s string) (Scaling, error) {
	switch Scaling(s) {
	case ScalingNone, ScalingScaledTPM, ScalingLengthScaledTPM:
		return Scaling(s), nil
	}

	return "", fmt.Errorf("unknown scaling %q; valid values are %s, %s, %s",
		s, ScalingNone, ScalingScaledTPM, ScalingLengthScaledTPM)
}

// SampleRecords pairs a sample identifier with its parsed quantification rows.
type SampleRecords struct {
	Sample  string
	Records []Record
}

// GeneLevel holds gene-by-sample matrices produced from transcript-level
// quantifications. Rows follow Genes, columns follow Samples.
type GeneLevel struct {
	Genes   []string
	Samples []string

	// Counts are scaled according to the requested convention.
	Counts [][]float64
	// Abundance is summed TPM.
	Abundance [][]float64
	// Length is the TPM-weighted mean effective length.
	Length [][]float64

	// UnmappedTranscripts counts distinct transcript identifiers whose signal
	// was excluded because the transcript-to-gene map had no entry for them.
	UnmappedTranscripts int
}

// SummarizeToGenes aggregates transcript-level quantifications to gene level.
// Transcripts absent from the map are excluded from aggregation; the caller
// is expected to log the tally. Sample order is preserved.
func SummarizeToGenes(samples []SampleRecords, m gtf.TxToGene, scaling Scaling) (*GeneLevel, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to aggregate")
	}

	// First pass: the gene universe, from mapped transcripts in any sample.
	geneSet := make(map[string]struct{})
	unmapped := make(map[string]struct{})
	for _, s := range samples {
		for _, rec := range s.Records {
			gene, ok := m.GeneFor(rec.TranscriptID)
			if !ok {
				unmapped[gtf.StripVersion(rec.TranscriptID)] = struct{}{}
				continue
			}
			geneSet[gene] = struct{}{}
		}
	}

	if len(geneSet) == 0 {
		return nil, fmt.Errorf("no transcripts could be mapped to genes")
	}

	genes := make([]string, 0, len(geneSet))
	for gene := range geneSet {
		genes = append(genes, gene)
	}
	sort.Strings(genes)

	geneIdx := make(map[string]int, len(genes))
	for i, gene := range genes {
		geneIdx[gene] = i
	}

	out := &GeneLevel{
		Genes:               genes,
		Samples:             make([]string, 0, len(samples)),
		Counts:              newMatrix(len(genes), len(samples)),
		Abundance:           newMatrix(len(genes), len(samples)),
		Length:              newMatrix(len(genes), len(samples)),
		UnmappedTranscripts: len(unmapped),
	}

	rawCounts := newMatrix(len(genes), len(samples))
	weightedLen := newMatrix(len(genes), len(samples))
	simpleLenSum := newMatrix(len(genes), len(samples))
	simpleLenN := newMatrix(len(genes), len(samples))

	for j, s := range samples {
		out.Samples = append(out.Samples, s.Sample)

		for _, rec := range s.Records {
			gene, ok := m.GeneFor(rec.TranscriptID)
			if !ok {
				continue
			}
			g := geneIdx[gene]

			rawCounts[g][j] += rec.Counts
			out.Abundance[g][j] += rec.Abundance
			weightedLen[g][j] += rec.Abundance * rec.EffectiveLength
			simpleLenSum[g][j] += rec.EffectiveLength
			simpleLenN[g][j]++
		}
	}

	// TPM-weighted mean effective length; transcripts with zero abundance
	// everywhere fall back to the unweighted mean.
	for g := range genes {
		for j := range samples {
			switch {
			case out.Abundance[g][j] > 0:
				out.Length[g][j] = weightedLen[g][j] / out.Abundance[g][j]
			case simpleLenN[g][j] > 0:
				out.Length[g][j] = simpleLenSum[g][j] / simpleLenN[g][j]
			}
		}
	}

	if err := out.applyScaling(rawCounts, scaling); err != nil {
		return nil, err
	}

	return out, nil
}

func (gl *GeneLevel) applyScaling(rawCounts [][]float64, scaling Scaling) error {
	nGenes, nSamples := len(gl.Genes), len(gl.Samples)

	if scaling == ScalingNone {
		for g := 0; g < nGenes; g++ {
			copy(gl.Counts[g], rawCounts[g])
		}
		return nil
	}

	// Mean effective length per gene across samples, for the length-scaled
	// convention.
	meanLen := make([]float64, nGenes)
	for g := 0; g < nGenes; g++ {
		for j := 0; j < nSamples; j++ {
			meanLen[g] += gl.Length[g][j]
		}
		meanLen[g] /= float64(nSamples)
	}

	for g := 0; g < nGenes; g++ {
		for j := 0; j < nSamples; j++ {
			x := gl.Abundance[g][j]
			if scaling == ScalingLengthScaledTPM {
				x *= meanLen[g]
			}
			gl.Counts[g][j] = x
		}
	}

	// Rescale each sample so its column sum matches the raw count column sum,
	// preserving library size.
	for j := 0; j < nSamples; j++ {
		var rawSum, newSum float64
		for g := 0; g < nGenes; g++ {
			rawSum += rawCounts[g][j]
			newSum += gl.Counts[g][j]
		}

		if newSum == 0 {
			return fmt.Errorf("sample %s has zero total abundance; cannot apply %s scaling", gl.Samples[j], scaling)
		}

		scale := rawSum / newSum
		for g := 0; g < nGenes; g++ {
			gl.Counts[g][j] *= scale
		}
	}

	return nil
}

func newMatrix(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	out := make([][]float64, rows)
	for i := range out {
		out[i] = backing[i*cols : (i+1)*cols]
	}

	return out
}
