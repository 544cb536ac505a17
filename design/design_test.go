package design

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func crossedSamples() []Sample {
	return []Sample{
		{ID: "s1", Path: "s1/quant.sf", Knockout: "WT", Bisphenol: "Untreated"},
		{ID: "s2", Path: "s2/quant.sf", Knockout: "WT", Bisphenol: "BPA"},
		{ID: "s3", Path: "s3/quant.sf", Knockout: "WT", Bisphenol: "BPS"},
		{ID: "s4", Path: "s4/quant.sf", Knockout: "KO", Bisphenol: "Untreated"},
		{ID: "s5", Path: "s5/quant.sf", Knockout: "KO", Bisphenol: "BPA"},
		{ID: "s6", Path: "s6/quant.sf", Knockout: "KO", Bisphenol: "BPS"},
	}
}

func mustTable(t *testing.T, samples []Sample) *Table {
	t.Helper()

	table, err := NewTable(samples)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	return table
}

func TestReadSampleSheet(t *testing.T) {
	sheet := `sample,path,knockout,bisphenol
s1,quants/s1/quant.sf,WT,Untreated
s2,quants/s2/quant.sf,KO,BPA
`
	path := filepath.Join(t.TempDir(), "samples.csv")
	if err := os.WriteFile(path, []byte(sheet), 0o644); err != nil {
		t.Fatal(err)
	}

	samples, err := ReadSampleSheet(path)
	if err != nil {
		t.Fatalf("ReadSampleSheet: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	want := Sample{ID: "s2", Path: "quants/s2/quant.sf", Knockout: "KO", Bisphenol: "BPA"}
	if samples[1] != want {
		t.Errorf("sample 2: expected %+v, got %+v", want, samples[1])
	}
}

func TestReadSampleSheetRejectsBadRows(t *testing.T) {
	tests := []struct {
		name  string
		sheet string
	}{
		{
			name: "duplicate sample id",
			sheet: `sample,path,knockout,bisphenol
s1,a,WT,Untreated
s1,b,KO,BPA
`,
		},
		{
			name: "missing factor level",
			sheet: `sample,path,knockout,bisphenol
s1,a,WT,
`,
		},
		{
			name:  "no samples",
			sheet: "sample,path,knockout,bisphenol\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "samples.csv")
			if err := os.WriteFile(path, []byte(test.sheet), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := ReadSampleSheet(path); err == nil {
				t.Error("expected an error, got nil")
			}
		})
	}
}

func TestTableLevelsFollowFirstAppearance(t *testing.T) {
	table := mustTable(t, crossedSamples())

	levels, err := table.Levels(FactorBisphenol)
	if err != nil {
		t.Fatal(err)
	}
	if expected := []string{"Untreated", "BPA", "BPS"}; !reflect.DeepEqual(levels, expected) {
		t.Errorf("expected levels %v, got %v", expected, levels)
	}

	if _, err := table.Levels("batch"); err == nil {
		t.Error("expected an error for an unknown factor")
	}
}

func TestTableReorder(t *testing.T) {
	table := mustTable(t, crossedSamples())

	order := []string{"s6", "s1", "s3", "s2", "s5", "s4"}
	got, err := table.Reorder(order)
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if !reflect.DeepEqual(got.Samples(), order) {
		t.Errorf("expected samples %v, got %v", order, got.Samples())
	}

	values, _ := got.Values(FactorKnockout)
	if expected := []string{"KO", "WT", "WT", "WT", "KO", "KO"}; !reflect.DeepEqual(values, expected) {
		t.Errorf("expected knockout values %v, got %v", expected, values)
	}

	// Reordering must not rewrite the frozen level order.
	levels, _ := got.Levels(FactorKnockout)
	if expected := []string{"WT", "KO"}; !reflect.DeepEqual(levels, expected) {
		t.Errorf("expected levels %v, got %v", expected, levels)
	}

	if _, err := table.Reorder([]string{"s1", "s2", "s3", "s4", "s5", "nope"}); err == nil {
		t.Error("expected an error for an unknown sample")
	}
	if _, err := table.Reorder([]string{"s1"}); err == nil {
		t.Error("expected an error for a short sample list")
	}
}

func TestCheckAlignedDetectsShuffledMetadata(t *testing.T) {
	table := mustTable(t, crossedSamples())

	if err := CheckAligned([]string{"s1", "s2", "s3", "s4", "s5", "s6"}, table); err != nil {
		t.Errorf("aligned metadata flagged: %v", err)
	}

	err := CheckAligned([]string{"s1", "s3", "s2", "s4", "s5", "s6"}, table)
	if err == nil {
		t.Fatal("expected shuffled metadata to be rejected")
	}
	if !strings.Contains(err.Error(), "s3") {
		t.Errorf("expected the first mismatched sample in the error, got %v", err)
	}
}

func TestSubsetKeepsOrderAndLevels(t *testing.T) {
	table := mustTable(t, crossedSamples())

	sub, err := table.Subset(FactorBisphenol, "BPA", "Untreated")
	if err != nil {
		t.Fatalf("Subset: %v", err)
	}
	if expected := []string{"s1", "s2", "s4", "s5"}; !reflect.DeepEqual(sub.Samples(), expected) {
		t.Errorf("expected samples %v, got %v", expected, sub.Samples())
	}

	// The frozen level set survives subsetting even when a level vanishes.
	levels, _ := sub.Levels(FactorBisphenol)
	if expected := []string{"Untreated", "BPA", "BPS"}; !reflect.DeepEqual(levels, expected) {
		t.Errorf("expected levels %v, got %v", expected, levels)
	}
}

func TestParseFormula(t *testing.T) {
	tests := []struct {
		in       string
		expected []string
		err      bool
	}{
		{in: "~knockout + bisphenol", expected: []string{"knockout", "bisphenol"}},
		{in: "knockout+bisphenol", expected: []string{"knockout", "bisphenol"}},
		{in: " ~ bisphenol ", expected: []string{"bisphenol"}},
		{in: "", err: true},
		{in: "~", err: true},
		{in: "knockout + + bisphenol", err: true},
		{in: "knockout + knockout", err: true},
	}

	for _, test := range tests {
		f, err := ParseFormula(test.in)
		if test.err {
			if err == nil {
				t.Errorf("%q: expected an error, got %v", test.in, f)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", test.in, err)
			continue
		}
		if !reflect.DeepEqual(f.Factors, test.expected) {
			t.Errorf("%q: expected factors %v, got %v", test.in, test.expected, f.Factors)
		}
	}
}

func TestFormulaValidate(t *testing.T) {
	table := mustTable(t, crossedSamples())

	f := Formula{Factors: []string{FactorKnockout, FactorBisphenol}}
	if err := f.Validate(table); err != nil {
		t.Errorf("crossed design rejected: %v", err)
	}

	if err := (Formula{Factors: []string{"batch"}}).Validate(table); err == nil {
		t.Error("expected an error for an unknown factor")
	}

	oneLevel := mustTable(t, []Sample{
		{ID: "s1", Path: "a", Knockout: "WT", Bisphenol: "Untreated"},
		{ID: "s2", Path: "b", Knockout: "WT", Bisphenol: "BPA"},
	})
	if err := (Formula{Factors: []string{FactorKnockout}}).Validate(oneLevel); err == nil {
		t.Error("expected an error for a single-level factor")
	}
}

func TestModelMatrix(t *testing.T) {
	table := mustTable(t, crossedSamples())

	f := Formula{Factors: []string{FactorKnockout, FactorBisphenol}}
	x, names, err := f.ModelMatrix(table)
	if err != nil {
		t.Fatalf("ModelMatrix: %v", err)
	}

	expectedNames := []string{"Intercept", "knockout_KO", "bisphenol_BPA", "bisphenol_BPS"}
	if !reflect.DeepEqual(names, expectedNames) {
		t.Fatalf("expected columns %v, got %v", expectedNames, names)
	}

	r, c := x.Dims()
	if r != 6 || c != 4 {
		t.Fatalf("expected a 6x4 matrix, got %dx%d", r, c)
	}

	// s5 is KO + BPA: intercept, knockout_KO, and bisphenol_BPA are set.
	expectedRow := []float64{1, 1, 1, 0}
	for j, want := range expectedRow {
		if got := x.At(4, j); got != want {
			t.Errorf("row s5 column %s: expected %v, got %v", names[j], want, got)
		}
	}

	if rank := Rank(x); rank != 4 {
		t.Errorf("expected the crossed design to have rank 4, got %d", rank)
	}

	if err := f.CheckFullRank(table); err != nil {
		t.Errorf("full-rank design rejected: %v", err)
	}
}

func TestCheckContrast(t *testing.T) {
	f := Formula{Factors: []string{FactorKnockout, FactorBisphenol}}

	t.Run("crossed design is identifiable", func(t *testing.T) {
		table := mustTable(t, crossedSamples())
		if err := f.CheckContrast(table, FactorBisphenol, "BPA", "Untreated"); err != nil {
			t.Errorf("expected BPA vs Untreated to be testable: %v", err)
		}
		if err := f.CheckContrast(table, FactorKnockout, "KO", "WT"); err != nil {
			t.Errorf("expected KO vs WT to be testable: %v", err)
		}
	})

	t.Run("treatment nested in genotype is confounded", func(t *testing.T) {
		table := mustTable(t, []Sample{
			{ID: "s1", Path: "a", Knockout: "WT", Bisphenol: "Untreated"},
			{ID: "s2", Path: "b", Knockout: "WT", Bisphenol: "Untreated"},
			{ID: "s3", Path: "c", Knockout: "KO", Bisphenol: "BPA"},
			{ID: "s4", Path: "d", Knockout: "KO", Bisphenol: "BPA"},
		})

		err := f.CheckContrast(table, FactorBisphenol, "BPA", "Untreated")
		if !errors.Is(err, ErrConfounded) {
			t.Fatalf("expected ErrConfounded, got %v", err)
		}
		if !strings.Contains(err.Error(), FactorKnockout) {
			t.Errorf("expected the confounding factor to be named, got %v", err)
		}
	})

	t.Run("level with zero samples", func(t *testing.T) {
		table := mustTable(t, crossedSamples())
		sub, err := table.Subset(FactorBisphenol, "Untreated", "BPA")
		if err != nil {
			t.Fatal(err)
		}

		if err := f.CheckContrast(sub, FactorBisphenol, "BPS", "Untreated"); !errors.Is(err, ErrConfounded) {
			t.Errorf("expected ErrConfounded for an unobserved level, got %v", err)
		}
	})

	t.Run("unknown level is not a confounding error", func(t *testing.T) {
		table := mustTable(t, crossedSamples())
		err := f.CheckContrast(table, FactorBisphenol, "BPF", "Untreated")
		if err == nil {
			t.Fatal("expected an error for an unknown level")
		}
		if errors.Is(err, ErrConfounded) {
			t.Errorf("unknown level should not be reported as confounding: %v", err)
		}
	})

	t.Run("no residual degrees of freedom", func(t *testing.T) {
		table := mustTable(t, []Sample{
			{ID: "s1", Path: "a", Knockout: "WT", Bisphenol: "Untreated"},
			{ID: "s2", Path: "b", Knockout: "KO", Bisphenol: "BPA"},
			{ID: "s3", Path: "c", Knockout: "WT", Bisphenol: "BPA"},
		})

		if err := f.CheckContrast(table, FactorBisphenol, "BPA", "Untreated"); !errors.Is(err, ErrConfounded) {
			t.Errorf("expected ErrConfounded with zero residual df, got %v", err)
		}
	})
}
