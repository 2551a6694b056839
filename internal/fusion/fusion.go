// Package fusion combines per-oracle rankings into one calibrated list
// via reciprocal rank fusion, then enriches results with structural
// annotations, a per-file diversity cap, and relevance-based content
// truncation.
package fusion

import (
	"sort"
	"strings"

	"github.com/NicabarNimble/patina/internal/oracle"
	"github.com/NicabarNimble/patina/internal/patinaerr"
)

// DefaultK is the RRF constant: each result at rank r contributes
// 1/(K+r).
const DefaultK = 60

// Ranking is one oracle's answer to a query.
type Ranking struct {
	Oracle  string
	Grain   oracle.Grain
	Results []oracle.Result
}

// Contribution records one oracle's share of a fused result.
type Contribution struct {
	Oracle   string  `json:"oracle"`
	Rank     int     `json:"rank"` // 1-indexed
	RawScore float64 `json:"raw_score"`
	DocID    string  `json:"doc_id"` // pre-promotion doc id
}

// Annotations are presentational structural signals; they never affect
// rank.
type Annotations struct {
	ImporterCount int    `json:"importer_count"`
	ActivityLevel string `json:"activity_level"`
	IsEntryPoint  bool   `json:"is_entry_point"`
}

// Result is one fused answer.
type Result struct {
	DocID         string
	Score         float64
	Oracles       []string // contributing oracle names, never empty
	Contributions []Contribution
	Content       string
	Annotations   *Annotations
}

// Options configures one fusion pass.
type Options struct {
	K             int  // RRF constant; DefaultK when zero
	PromoteToFile bool // demote symbol-grain doc ids to their file
}

// Fuse merges rankings with reciprocal rank fusion. Rankings whose
// grains differ may only be fused when a promotion rule covers them:
// symbol promotes to file when PromoteToFile is set. Any other mix is a
// GranularityMismatch — never silent.
func Fuse(rankings []Ranking, opts Options) ([]Result, error) {
	k := opts.K
	if k <= 0 {
		k = DefaultK
	}

	if err := checkGrains(rankings, opts.PromoteToFile); err != nil {
		return nil, err
	}

	type acc struct {
		score         float64
		oracles       []string
		contributions []Contribution
		content       string
		contentRank   int
	}
	byDoc := make(map[string]*acc)
	var order []string // first-seen order makes ties deterministic

	for _, ranking := range rankings {
		promote := opts.PromoteToFile && ranking.Grain == oracle.GrainSymbol
		for i, res := range ranking.Results {
			rank := i + 1
			docID := res.DocID
			if promote {
				docID = oracle.SymbolDocFile(docID)
			}
			a, ok := byDoc[docID]
			if !ok {
				a = &acc{contentRank: 1 << 30}
				byDoc[docID] = a
				order = append(order, docID)
			}
			a.score += 1.0 / float64(k+rank)
			if !contains(a.oracles, ranking.Oracle) {
				a.oracles = append(a.oracles, ranking.Oracle)
			}
			a.contributions = append(a.contributions, Contribution{
				Oracle:   ranking.Oracle,
				Rank:     rank,
				RawScore: res.Score,
				DocID:    res.DocID,
			})
			// The best-ranked contribution supplies the snippet.
			if res.Content != "" && rank < a.contentRank {
				a.content = res.Content
				a.contentRank = rank
			}
		}
	}

	results := make([]Result, 0, len(byDoc))
	for _, docID := range order {
		a := byDoc[docID]
		results = append(results, Result{
			DocID:         docID,
			Score:         a.score,
			Oracles:       a.oracles,
			Contributions: a.contributions,
			Content:       a.content,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	return results, nil
}

// checkGrains enforces the granularity rule.
func checkGrains(rankings []Ranking, promoteToFile bool) error {
	seen := make(map[oracle.Grain]bool)
	for _, r := range rankings {
		if len(r.Results) > 0 {
			seen[r.Grain] = true
		}
	}
	if len(seen) <= 1 {
		return nil
	}
	// The only supported mix is file+symbol under promotion.
	if promoteToFile && len(seen) == 2 && seen[oracle.GrainFile] && seen[oracle.GrainSymbol] {
		return nil
	}
	grains := make([]string, 0, len(seen))
	for g := range seen {
		grains = append(grains, string(g))
	}
	sort.Strings(grains)
	return &patinaerr.GranularityMismatch{Grains: grains}
}

// MergePools interleaves independently fused pools (e.g. code results
// with belief results) by fused score. RRF scores share units across
// pools, so a plain merge is fair and deterministic.
func MergePools(pools ...[]Result) []Result {
	var out []Result
	for _, p := range pools {
		out = append(out, p...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})
	return out
}

// CapPerFile drops results beyond the first max for any primary file.
// Non-file doc ids (beliefs, personas) are their own key and never
// collide.
func CapPerFile(results []Result, max int) []Result {
	if max <= 0 {
		return results
	}
	counts := make(map[string]int)
	out := results[:0:0]
	for _, r := range results {
		key := r.DocID
		if strings.HasPrefix(key, "./") {
			key = oracle.SymbolDocFile(key)
		}
		if counts[key] >= max {
			continue
		}
		counts[key]++
		out = append(out, r)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
