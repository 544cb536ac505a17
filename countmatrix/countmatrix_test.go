package countmatrix

import (
	"bytes"
	"strings"
	"testing"

	"gopkg.in/guregu/null.v3"
)

const annotatedFixture = `gene_id,name,description,WT_1,WT_2,KO_1,KO_2
ENSG01,TP53,tumor protein p53,10.2,11.7,30.1,29.9
ENSG01,TP53,tumor protein p53,99,99,99,99
ENSG02,NA,NA,5,5,5,5
ENSG03,EGFR,epidermal growth factor receptor,1,2,0,1
ENSG04,,,"8",7,12,13
ENSG05,BRCA1,breast cancer 1,x,2,2,2
ENSG06,MYC,myc proto-oncogene,100,90,80,70
`

func loadFixture(t *testing.T) (*Matrix, CleanReport) {
	t.Helper()

	table, err := Read(strings.NewReader(annotatedFixture), ',')
	if err != nil {
		t.Fatal(err)
	}

	m, report, err := table.Clean(CleanOptions{MinTotalCount: 10})
	if err != nil {
		t.Fatal(err)
	}

	return m, report
}

func TestCleanStepOrderAndTallies(t *testing.T) {
	m, report := loadFixture(t)

	// ENSG01 duplicate; ENSG02 has literal NA annotation; ENSG05 has an
	// unparseable count; ENSG03 totals 4 < 10.
	if report.DuplicatesDropped != 1 {
		t.Errorf("duplicates dropped: got %d, expected 1", report.DuplicatesDropped)
	}
	if report.MissingDropped != 2 {
		t.Errorf("missing dropped: got %d, expected 2", report.MissingDropped)
	}
	if report.LowCountDropped != 1 {
		t.Errorf("low-count dropped: got %d, expected 1", report.LowCountDropped)
	}

	genes := m.Genes()
	if len(genes) != 3 || genes[0] != "ENSG01" || genes[1] != "ENSG04" || genes[2] != "ENSG06" {
		t.Fatalf("unexpected surviving genes: %v", genes)
	}

	// The first ENSG01 occurrence won, and its values were rounded.
	if m.At(0, 0) != 10 || m.At(0, 1) != 12 || m.At(0, 2) != 30 || m.At(0, 3) != 30 {
		t.Errorf("unexpected ENSG01 row: %v", m.Row(0))
	}
}

func TestCleanedMatrixInvariants(t *testing.T) {
	m, _ := loadFixture(t)

	if err := m.Validate(); err != nil {
		t.Error(err)
	}

	if m.NSamples() != 4 {
		t.Errorf("got %d samples, expected 4", m.NSamples())
	}
}

func TestFilterMinTotalIdempotent(t *testing.T) {
	m, _ := loadFixture(t)

	once := m.FilterMinTotal(10)
	twice := once.FilterMinTotal(10)

	if once.NGenes() != twice.NGenes() {
		t.Fatalf("filter is not idempotent: %d then %d genes", once.NGenes(), twice.NGenes())
	}

	for g, gene := range once.Genes() {
		if twice.Genes()[g] != gene {
			t.Fatalf("gene order changed on refilter: %v vs %v", once.Genes(), twice.Genes())
		}
		for s := 0; s < once.NSamples(); s++ {
			if once.At(g, s) != twice.At(g, s) {
				t.Fatalf("values changed on refilter at %d,%d", g, s)
			}
		}
	}
}

func TestNewRejectsDuplicateLabels(t *testing.T) {
	if _, err := New([]string{"a", "a"}, []string{"s1"}, [][]float64{{1}, {2}}); err == nil {
		t.Error("expected an error for duplicate gene labels")
	}

	if _, err := New([]string{"a"}, []string{"s1", "s1"}, [][]float64{{1, 2}}); err == nil {
		t.Error("expected an error for duplicate sample labels")
	}
}

func TestValidateCatchesNonIntegralAndNegative(t *testing.T) {
	m, err := New([]string{"a"}, []string{"s1", "s2"}, [][]float64{{1.5, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(); err == nil {
		t.Error("expected a non-integral error")
	}

	m2, err := New([]string{"a"}, []string{"s1", "s2"}, [][]float64{{-1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m2.Validate(); err == nil {
		t.Error("expected a negative-count error")
	}
}

func TestReadRejectsBadHeader(t *testing.T) {
	bad := "gene,name,description,s1\nENSG01,x,y,1\n"
	if _, err := Read(strings.NewReader(bad), ','); err == nil {
		t.Error("expected a header contract error")
	}
}

func TestWriteAnnotatedRoundTrip(t *testing.T) {
	m, err := New(
		[]string{"ENSG01", "ENSG02"},
		[]string{"s1", "s2"},
		[][]float64{{10.25, 20}, {30, 40.5}},
	)
	if err != nil {
		t.Fatal(err)
	}

	ann := map[string]GeneAnnotation{
		"ENSG01": {Name: null.StringFrom("TP53"), Description: null.StringFrom("tumor protein p53")},
		// ENSG02 deliberately unannotated.
	}

	buf := &bytes.Buffer{}
	if err := m.WriteAnnotated(buf, ann); err != nil {
		t.Fatal(err)
	}

	table, err := Read(bytes.NewReader(buf.Bytes()), ',')
	if err != nil {
		t.Fatal(err)
	}

	if len(table.Rows) != 2 {
		t.Fatalf("got %d rows, expected 2", len(table.Rows))
	}

	if table.Rows[0][1] != "TP53" {
		t.Errorf("annotation did not survive: %v", table.Rows[0])
	}
	if table.Rows[1][1] != "" || table.Rows[1][2] != "" {
		t.Errorf("unannotated gene should have blank cells: %v", table.Rows[1])
	}
	if table.Rows[0][3] != "10.25" {
		t.Errorf("count cell lost precision: %v", table.Rows[0])
	}
}

func TestSubsetReordersColumns(t *testing.T) {
	m, err := New(
		[]string{"g1"},
		[]string{"s1", "s2", "s3"},
		[][]float64{{1, 2, 3}},
	)
	if err != nil {
		t.Fatal(err)
	}

	sub, err := m.Subset([]string{"s3", "s1"})
	if err != nil {
		t.Fatal(err)
	}

	if sub.At(0, 0) != 3 || sub.At(0, 1) != 1 {
		t.Errorf("unexpected subset values: %v", sub.Row(0))
	}

	if _, err := m.Subset([]string{"nope"}); err == nil {
		t.Error("expected an error for an unknown sample")
	}
}
