package quant

import (
	"math"
	"strings"
	"testing"

	"github.com/evelab/rnaseqmisc/gtf"
)

const salmonFixture = `Name	Length	EffectiveLength	TPM	NumReads
ENST01.1	150	100	10	50
ENST02.3	250	200	30	30
ENST03	1100	1000	60	120
`

const kallistoFixture = `target_id	length	eff_length	est_counts	tpm
ENST01.1	150	100	50	10
ENST02.3	250	200	30	30
ENST03	1100	1000	120	60
`

func TestReadLayouts(t *testing.T) {
	for _, v := range []struct {
		layout  string
		content string
	}{
		{"SALMON", salmonFixture},
		{"KALLISTO", kallistoFixture},
	} {
		records, err := Read(strings.NewReader(v.content), Layouts[v.layout])
		if err != nil {
			t.Fatalf("%s: %v", v.layout, err)
		}

		if len(records) != 3 {
			t.Fatalf("%s: got %d records, expected 3", v.layout, len(records))
		}

		first := records[0]
		if first.TranscriptID != "ENST01.1" ||
			first.Length != 150 ||
			first.EffectiveLength != 100 ||
			first.Abundance != 10 ||
			first.Counts != 50 {
			t.Errorf("%s: unexpected first record: %+v", v.layout, first)
		}
	}
}

func TestReadRejectsMalformedRows(t *testing.T) {
	for _, v := range []struct {
		name    string
		content string
	}{
		{"non-numeric", "Name\tLength\tEffectiveLength\tTPM\tNumReads\nENST01\t150\tabc\t10\t50\n"},
		{"negative", "Name\tLength\tEffectiveLength\tTPM\tNumReads\nENST01\t150\t100\t-10\t50\n"},
		{"short row", "Name\tLength\tEffectiveLength\tTPM\tNumReads\nENST01\t150\t100\n"},
		{"empty", "Name\tLength\tEffectiveLength\tTPM\tNumReads\n"},
	} {
		if _, err := Read(strings.NewReader(v.content), Layouts["SALMON"]); err == nil {
			t.Errorf("%s: expected an error", v.name)
		}
	}
}

func testMap() gtf.TxToGene {
	return gtf.TxToGene{
		"ENST01": "GA",
		"ENST02": "GA",
		"ENST03": "GB",
	}
}

func testSamples() []SampleRecords {
	return []SampleRecords{
		{
			Sample: "s1",
			Records: []Record{
				{TranscriptID: "ENST01.1", EffectiveLength: 100, Abundance: 10, Counts: 50},
				{TranscriptID: "ENST02.3", EffectiveLength: 200, Abundance: 30, Counts: 30},
				{TranscriptID: "ENST03", EffectiveLength: 1000, Abundance: 60, Counts: 120},
			},
		},
		{
			Sample: "s2",
			Records: []Record{
				{TranscriptID: "ENST01.1", EffectiveLength: 110, Abundance: 20, Counts: 40},
				{TranscriptID: "ENST02.3", EffectiveLength: 190, Abundance: 20, Counts: 20},
				{TranscriptID: "ENST03", EffectiveLength: 900, Abundance: 60, Counts: 140},
			},
		},
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// Hand-computed expectations:
//
//	gene GA: abundance 40/40, weighted length s1 = (10*100+30*200)/40 = 175,
//	         s2 = (20*110+20*190)/40 = 150, mean length 162.5, raw counts 80/60.
//	gene GB: abundance 60/60, lengths 1000/900, mean 950, raw counts 120/140.
//	Raw column sums are 200/200. Length-scaled X columns sum to 63500, so
//	GA = 6500*200/63500 and GB = 57000*200/63500 in both samples.
func TestSummarizeLengthScaledTPM(t *testing.T) {
	gl, err := SummarizeToGenes(testSamples(), testMap(), ScalingLengthScaledTPM)
	if err != nil {
		t.Fatal(err)
	}

	if len(gl.Genes) != 2 || gl.Genes[0] != "GA" || gl.Genes[1] != "GB" {
		t.Fatalf("unexpected genes: %v", gl.Genes)
	}

	if !approx(gl.Length[0][0], 175) || !approx(gl.Length[0][1], 150) {
		t.Errorf("GA lengths: got %v", gl.Length[0])
	}

	wantGA := 6500.0 * 200 / 63500
	wantGB := 57000.0 * 200 / 63500
	for j := 0; j < 2; j++ {
		if !approx(gl.Counts[0][j], wantGA) {
			t.Errorf("GA counts sample %d: got %f, expected %f", j, gl.Counts[0][j], wantGA)
		}
		if !approx(gl.Counts[1][j], wantGB) {
			t.Errorf("GB counts sample %d: got %f, expected %f", j, gl.Counts[1][j], wantGB)
		}
	}

	// Column sums must match the raw count column sums.
	for j := 0; j < 2; j++ {
		var sum float64
		for g := range gl.Genes {
			sum += gl.Counts[g][j]
		}
		if !approx(sum, 200) {
			t.Errorf("sample %d column sum: got %f, expected 200", j, sum)
		}
	}
}

func TestSummarizeScaledTPM(t *testing.T) {
	gl, err := SummarizeToGenes(testSamples(), testMap(), ScalingScaledTPM)
	if err != nil {
		t.Fatal(err)
	}

	// Sample 2 has raw counts 60/140 but abundance 40/60 and column sum 200,
	// so scaledTPM reapportions to 80/120.
	if !approx(gl.Counts[0][1], 80) || !approx(gl.Counts[1][1], 120) {
		t.Errorf("scaledTPM sample 2: got GA=%f GB=%f, expected 80/120", gl.Counts[0][1], gl.Counts[1][1])
	}
}

func TestSummarizeNoScaling(t *testing.T) {
	gl, err := SummarizeToGenes(testSamples(), testMap(), ScalingNone)
	if err != nil {
		t.Fatal(err)
	}

	if !approx(gl.Counts[0][0], 80) || !approx(gl.Counts[0][1], 60) ||
		!approx(gl.Counts[1][0], 120) || !approx(gl.Counts[1][1], 140) {
		t.Errorf("unexpected raw counts: %v", gl.Counts)
	}
}

func TestSummarizeSkipsUnmappedTranscripts(t *testing.T) {
	samples := testSamples()
	samples[0].Records = append(samples[0].Records, Record{
		TranscriptID: "ENST99", EffectiveLength: 500, Abundance: 1000, Counts: 1000,
	})

	gl, err := SummarizeToGenes(samples, testMap(), ScalingNone)
	if err != nil {
		t.Fatal(err)
	}

	if gl.UnmappedTranscripts != 1 {
		t.Errorf("got %d unmapped transcripts, expected 1", gl.UnmappedTranscripts)
	}

	// The unmapped transcript contributes nothing.
	if !approx(gl.Counts[0][0], 80) || !approx(gl.Counts[1][0], 120) {
		t.Errorf("unmapped transcript leaked into counts: %v", gl.Counts)
	}
}

func TestParseScaling(t *testing.T) {
	if _, err := ParseScaling("lengthScaledTPM"); err != nil {
		t.Error(err)
	}
	if _, err := ParseScaling("bogus"); err == nil {
		t.Error("expected an error for an unknown scaling")
	}
}
