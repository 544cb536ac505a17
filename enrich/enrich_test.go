package enrich

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/guregu/null.v3"
)

func TestBuildRanking(t *testing.T) {
	items := []RankItem{
		{Gene: "A", Score: null.FloatFrom(2.0)},
		{Gene: "B"},
		{Gene: "C", Score: null.FloatFrom(-1.5)},
		{Gene: "D", Score: null.FloatFrom(0.5)},
	}

	r, report := BuildRanking(items)

	if !reflect.DeepEqual(r.Genes(), []string{"A", "D", "C"}) {
		t.Errorf("got order %v, expected [A D C]", r.Genes())
	}
	if !reflect.DeepEqual(r.Scores(), []float64{2.0, 0.5, -1.5}) {
		t.Errorf("got scores %v, expected [2 0.5 -1.5]", r.Scores())
	}
	if report.NullScores != 1 || report.Duplicates != 0 {
		t.Errorf("got report %+v, expected 1 null and 0 duplicates", report)
	}
}

func TestBuildRankingKeepsFirstDuplicate(t *testing.T) {
	items := []RankItem{
		{Gene: "A", Score: null.FloatFrom(3.0)},
		{Gene: "A", Score: null.FloatFrom(-3.0)},
		{Gene: "B", Score: null.FloatFrom(1.0)},
	}

	r, report := BuildRanking(items)

	if report.Duplicates != 1 {
		t.Errorf("got %d duplicates, expected 1", report.Duplicates)
	}
	if pos, ok := r.Position("A"); !ok || pos != 0 {
		t.Errorf("A should keep its first (highest) score and rank 0, got position %d", pos)
	}
	if r.Scores()[0] != 3.0 {
		t.Errorf("got score %v for A, expected the first occurrence 3.0", r.Scores()[0])
	}
}

func TestReadGMT(t *testing.T) {
	gmt := "SET_ONE\thttp://example.org/one\tTP53\tBRCA1\tTP53\t\nSET_TWO\tsecond set\tEGFR\n"

	sets, err := ReadGMT(strings.NewReader(gmt))
	if err != nil {
		t.Fatalf("ReadGMT: %v", err)
	}

	if len(sets) != 2 {
		t.Fatalf("got %d sets, expected 2", len(sets))
	}
	// Duplicate TP53 and the trailing empty field are dropped.
	if !reflect.DeepEqual(sets[0].Genes, []string{"TP53", "BRCA1"}) {
		t.Errorf("got members %v, expected [TP53 BRCA1]", sets[0].Genes)
	}
	if sets[1].Name != "SET_TWO" || sets[1].Description != "second set" {
		t.Errorf("unexpected second set: %+v", sets[1])
	}
}

func TestReadGMTRejectsBadInput(t *testing.T) {
	for _, v := range []struct {
		name    string
		content string
	}{
		{"duplicate set", "S1\td\tA\nS1\td\tB\n"},
		{"single field", "JUSTANAME\n"},
		{"empty name", "\td\tA\n"},
		{"empty file", "\n"},
	} {
		if _, err := ReadGMT(strings.NewReader(v.content)); err == nil {
			t.Errorf("%s: expected an error", v.name)
		}
	}
}

func genes(prefix string, from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%s%d", prefix, i))
	}

	return out
}

func TestOverrepresentationByHand(t *testing.T) {
	universe := genes("g", 1, 20)
	set := GeneSet{Name: "SET", Description: "d", Genes: genes("g", 1, 10)}
	// 4 of the 5 hits fall in the 10-gene set: the 2x2 table is
	// [[4 1] [6 9]], and the right-tail hypergeometric probability is
	// (C(10,4)*C(10,1) + C(10,5)*C(10,0)) / C(20,5) = 2352/15504.
	hits := append(genes("g", 1, 4), "g11")

	results, err := Overrepresentation(hits, universe, []GeneSet{set}, ORAOptions{})
	if err != nil {
		t.Fatalf("Overrepresentation: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, expected 1", len(results))
	}

	res := results[0]
	if res.Hits != 4 || res.SetSize != 10 || res.ListSize != 5 || res.Universe != 20 {
		t.Errorf("unexpected overlap counts: %+v", res)
	}
	wantP := 2352.0 / 15504.0
	if math.Abs(res.P-wantP) > 1e-6 {
		t.Errorf("got p %v, expected %v", res.P, wantP)
	}
	if res.PAdj != res.P {
		t.Errorf("a single test should not be adjusted: padj %v vs p %v", res.PAdj, res.P)
	}
	if !reflect.DeepEqual(res.HitGenes, []string{"g1", "g2", "g3", "g4"}) {
		t.Errorf("got hit genes %v", res.HitGenes)
	}
}

func TestOverrepresentationSkipsSetsOutsideWindow(t *testing.T) {
	universe := genes("g", 1, 30)
	sets := []GeneSet{
		{Name: "TINY", Description: "d", Genes: genes("g", 1, 3)},
		{Name: "OK", Description: "d", Genes: genes("g", 1, 10)},
	}

	results, err := Overrepresentation(genes("g", 1, 5), universe, sets, ORAOptions{})
	if err != nil {
		t.Fatalf("Overrepresentation: %v", err)
	}
	if len(results) != 1 || results[0].Set != "OK" {
		t.Errorf("expected only the in-window set to be tested, got %+v", results)
	}
}

func TestOverrepresentationEmptyHits(t *testing.T) {
	universe := genes("g", 1, 20)
	sets := []GeneSet{{Name: "SET", Description: "d", Genes: genes("g", 1, 10)}}

	results, err := Overrepresentation(nil, universe, sets, ORAOptions{})
	if err != nil {
		t.Fatalf("Overrepresentation: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results for an empty hit list, got %d", len(results))
	}
}

func TestAdjustBH(t *testing.T) {
	// By hand: raw p * m / rank, then enforce monotonicity from the largest
	// rank down: [0.005 0.011 0.02 0.04] -> [0.02 0.022 0.0266... 0.04].
	got := adjustBH([]float64{0.005, 0.011, 0.02, 0.04})
	want := []float64{0.02, 0.022, 0.02 * 4.0 / 3.0, 0.04}

	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("index %d: got %v, expected %v", i, got[i], want[i])
		}
	}
}

func TestRunningSumScoreByHand(t *testing.T) {
	scores := []float64{2, 1, 1, 1}

	// Single member at the top: its full weight lands at rank 0.
	es, peak := runningSumScore(scores, []bool{true, false, false, false}, 1)
	if es != 1 || peak != 0 {
		t.Errorf("top member: got es %v at %d, expected 1 at 0", es, peak)
	}

	// Single member at the bottom: three misses of 1/3 each first.
	es, peak = runningSumScore(scores, []bool{false, false, false, true}, 1)
	if math.Abs(es+1) > 1e-12 || peak != 2 {
		t.Errorf("bottom member: got es %v at %d, expected -1 at 2", es, peak)
	}
}

func rankingFixture(n int) *Ranking {
	items := make([]RankItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, RankItem{
			Gene:  fmt.Sprintf("g%d", i+1),
			Score: null.FloatFrom(float64(n-i) - float64(n)/2),
		})
	}
	r, _ := BuildRanking(items)

	return r
}

func TestRankTestFindsTopLoadedSet(t *testing.T) {
	r := rankingFixture(40)
	sets := []GeneSet{
		{Name: "TOP", Description: "d", Genes: genes("g", 1, 10)},
		{Name: "SPREAD", Description: "d", Genes: []string{"g2", "g6", "g11", "g15", "g19", "g23", "g27", "g31", "g35", "g39"}},
	}

	results, err := RankTest(r, sets, RankTestOptions{Permutations: 500})
	if err != nil {
		t.Fatalf("RankTest: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, expected 2", len(results))
	}

	byName := map[string]RankTestResult{}
	for _, res := range results {
		byName[res.Set] = res
	}

	top := byName["TOP"]
	if top.ES <= 0 {
		t.Errorf("a set concentrated at the top should score positive, got %v", top.ES)
	}
	if top.P >= byName["SPREAD"].P {
		t.Errorf("the loaded set should beat the spread set: %v vs %v", top.P, byName["SPREAD"].P)
	}
	if len(top.LeadingEdge) == 0 {
		t.Error("expected a nonempty leading edge")
	}
	for _, g := range top.LeadingEdge {
		if pos, ok := r.Position(g); !ok || pos >= 10 {
			t.Errorf("leading edge gene %s is not a top-ranked member", g)
		}
	}
}

func TestRankTestDeterministicPerSeed(t *testing.T) {
	r := rankingFixture(40)
	sets := []GeneSet{{Name: "TOP", Description: "d", Genes: genes("g", 1, 10)}}
	opts := RankTestOptions{Permutations: 200, Seed: 7}

	first, err := RankTest(r, sets, opts)
	if err != nil {
		t.Fatalf("RankTest: %v", err)
	}
	second, err := RankTest(r, sets, opts)
	if err != nil {
		t.Fatalf("RankTest: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("same seed gave different results:\n%+v\n%+v", first, second)
	}
}

func TestRankTestSkipsOutOfWindowSets(t *testing.T) {
	r := rankingFixture(40)
	sets := []GeneSet{
		{Name: "TINY", Description: "d", Genes: genes("g", 1, 3)},
		{Name: "EVERYTHING", Description: "d", Genes: genes("g", 1, 40)},
	}

	results, err := RankTest(r, sets, RankTestOptions{Permutations: 50})
	if err != nil {
		t.Fatalf("RankTest: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected both sets skipped, got %+v", results)
	}
}

func TestRankTestEmptyRanking(t *testing.T) {
	r, _ := BuildRanking(nil)

	results, err := RankTest(r, []GeneSet{{Name: "S", Description: "d", Genes: genes("g", 1, 10)}}, RankTestOptions{})
	if err != nil {
		t.Fatalf("RankTest: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results for an empty ranking, got %d", len(results))
	}
}

func TestFilterSignificant(t *testing.T) {
	results := []RankTestResult{
		{Set: "A", PAdj: 0.01},
		{Set: "B", PAdj: 0.05},
		{Set: "C", PAdj: 0.2},
	}

	got := FilterSignificant(results, 0.05)
	if !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("got %v, expected [A B]", got)
	}
}

func TestXrefTranslate(t *testing.T) {
	table := "symbol,entrez\nTP53,7157\nBRCA1,672\nTP53,9999\n"
	path := filepath.Join(t.TempDir(), "xref.csv")
	if err := os.WriteFile(path, []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}

	x, err := ReadXref(path)
	if err != nil {
		t.Fatalf("ReadXref: %v", err)
	}
	if x.Len() != 2 {
		t.Errorf("got %d mappings, expected 2 (first TP53 row wins)", x.Len())
	}

	ids, missing := x.Translate([]string{"TP53", "NOSUCH", "BRCA1"})
	if !reflect.DeepEqual(ids, []string{"7157", "672"}) || missing != 1 {
		t.Errorf("got %v with %d missing, expected [7157 672] with 1 missing", ids, missing)
	}

	items, missing := x.TranslateItems([]RankItem{
		{Gene: "BRCA1", Score: null.FloatFrom(1.5)},
		{Gene: "NOSUCH", Score: null.FloatFrom(0.1)},
	})
	if missing != 1 || len(items) != 1 || items[0].Gene != "672" || items[0].Score.Float64 != 1.5 {
		t.Errorf("got items %+v with %d missing", items, missing)
	}
}

func TestWriteORA(t *testing.T) {
	var buf bytes.Buffer
	err := WriteORA(&buf, []ORAResult{{
		Set:      "SET",
		Hits:     4,
		SetSize:  10,
		ListSize: 5,
		Universe: 20,
		HitGenes: []string{"g1", "g2"},
		P:        0.125,
		PAdj:     0.25,
	}})
	if err != nil {
		t.Fatalf("WriteORA: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, expected header plus one row", len(lines))
	}
	if lines[0] != "set,description,hits,setSize,listSize,universe,pvalue,padj,hitGenes" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if lines[1] != "SET,,4,10,5,20,0.125,0.25,g1|g2" {
		t.Errorf("unexpected row %q", lines[1])
	}
}

func TestWriteRankTest(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRankTest(&buf, []RankTestResult{{
		Set:         "SET",
		Size:        10,
		ES:          0.5,
		NES:         1.25,
		LeadingEdge: []string{"g1", "g2", "g3"},
		P:           0.002,
		PAdj:        0.004,
	}})
	if err != nil {
		t.Fatalf("WriteRankTest: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, expected header plus one row", len(lines))
	}
	if lines[1] != "SET,,10,0.5,1.25,0.002,0.004,g1|g2|g3" {
		t.Errorf("unexpected row %q", lines[1])
	}
}
