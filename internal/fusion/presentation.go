package fusion

import (
	"database/sql"
	"strings"

	"github.com/NicabarNimble/patina/internal/oracle"
)

// TruncationPolicy shortens content snippets by fused score: top-tier
// results keep full snippets, the middle gets summaries, the bottom the
// path alone.
type TruncationPolicy struct {
	FullMin  float64 // fused score at or above which snippets stay full
	ShortMin float64 // fused score at or above which snippets are summarized
	FullLen  int
	ShortLen int
}

// Truncate applies the policy in place.
func (p TruncationPolicy) Truncate(results []Result) {
	fullLen := p.FullLen
	if fullLen <= 0 {
		fullLen = 300
	}
	shortLen := p.ShortLen
	if shortLen <= 0 {
		shortLen = 100
	}
	for i := range results {
		switch {
		case results[i].Score >= p.FullMin:
			results[i].Content = clip(results[i].Content, fullLen)
		case results[i].Score >= p.ShortMin:
			results[i].Content = clip(results[i].Content, shortLen)
		default:
			results[i].Content = ""
		}
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

// Annotate attaches module_signals to file-addressable results. A
// missing row leaves the result unannotated; annotations never affect
// rank.
func Annotate(db *sql.DB, results []Result) error {
	for i := range results {
		if !strings.HasPrefix(results[i].DocID, "./") {
			continue
		}
		file := strings.TrimPrefix(oracle.SymbolDocFile(results[i].DocID), "./")
		var ann Annotations
		var entry int
		err := db.QueryRow(`
			SELECT importer_count, activity_level, is_entry_point
			FROM module_signals WHERE file = ?
		`, file).Scan(&ann.ImporterCount, &ann.ActivityLevel, &entry)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return err
		}
		ann.IsEntryPoint = entry != 0
		results[i].Annotations = &ann
	}
	return nil
}
