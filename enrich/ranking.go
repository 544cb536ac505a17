package enrich

import (
	"sort"

	"gopkg.in/guregu/null.v3"
)

// RankItem is one gene with its ranking score, typically a log2 fold change
// or Wald statistic. A null score means the gene could not be tested.
type RankItem struct {
	Gene  string
	Score null.Float
}

// RankingReport tallies what BuildRanking discarded.
type RankingReport struct {
	NullScores int
	Duplicates int
}

// Ranking is a gene list ordered by decreasing score.
type Ranking struct {
	genes  []string
	scores []float64

	position map[string]int
}

// BuildRanking turns per-gene scores into a ranking: genes with null scores
// are dropped, the first occurrence wins when a gene appears twice, and the
// survivors are sorted by decreasing score. Ties keep their input order.
func BuildRanking(items []RankItem) (*Ranking, RankingReport) {
	var report RankingReport

	kept := make([]RankItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if !item.Score.Valid {
			report.NullScores++
			continue
		}
		if _, dup := seen[item.Gene]; dup {
			report.Duplicates++
			continue
		}
		seen[item.Gene] = struct{}{}
		kept = append(kept, item)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score.Float64 > kept[j].Score.Float64
	})

	r := &Ranking{
		genes:    make([]string, len(kept)),
		scores:   make([]float64, len(kept)),
		position: make(map[string]int, len(kept)),
	}
	for i, item := range kept {
		r.genes[i] = item.Gene
		r.scores[i] = item.Score.Float64
		r.position[item.Gene] = i
	}

	return r, report
}

// Len reports how many genes are ranked.
func (r *Ranking) Len() int { return len(r.genes) }

// Genes returns the gene identifiers in rank order, best first.
func (r *Ranking) Genes() []string { return r.genes }

// Scores returns the scores in rank order.
func (r *Ranking) Scores() []float64 { return r.scores }

// Position returns a gene's 0-based rank.
func (r *Ranking) Position(gene string) (int, bool) {
	pos, ok := r.position[gene]

	return pos, ok
}
