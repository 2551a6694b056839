package materialize

import (
	"path/filepath"
	"strings"

	"github.com/NicabarNimble/patina/internal/patinaerr"
)

// Composite score weights. The score is
//
//	entryPointBonus·is_entry_point + min(importerWeight·importer_count, importerCap)
//	+ activity_score + commit_score − testPenalty·is_test
//
// with activity hot/warm/cold scored 10/5/0 and commit_score capped at 10.
const (
	entryPointBonus = 20.0
	importerWeight  = 2.0
	importerCap     = 20.0
	activityHot     = 10.0
	activityWarm    = 5.0
	activityCold    = 0.0
	commitCap       = 10.0
	testPenalty     = 5.0
)

// Quantile cuts for activity_level over per-file commit counts.
const (
	hotQuantile  = 0.9
	warmQuantile = 0.5
)

// recomputeSignals rebuilds module_signals from the functions, imports
// and commit_files views. It is a pure function of those tables, so a
// wholesale recompute after each batch keeps it consistent.
func (m *Materializer) recomputeSignals() error {
	tx, err := m.db.Begin()
	if err != nil {
		return patinaerr.Storage("begin module_signals", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM module_signals`); err != nil {
		return patinaerr.Storage("reset module_signals", err)
	}

	// Seed with every file known to any view.
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO module_signals (file)
		SELECT DISTINCT file FROM functions
		UNION SELECT DISTINCT file FROM commit_files
		UNION SELECT DISTINCT file FROM imports
	`); err != nil {
		return patinaerr.Storage("seed module_signals", err)
	}

	// importer_count: distinct files whose resolved import points here.
	if _, err := tx.Exec(`
		UPDATE module_signals SET importer_count = (
			SELECT COUNT(DISTINCT i.file) FROM imports i
			WHERE i.resolved = module_signals.file AND i.file != module_signals.file
		)
	`); err != nil {
		return patinaerr.Storage("importer_count", err)
	}

	// commit_count: distinct commits touching the file.
	if _, err := tx.Exec(`
		UPDATE module_signals SET commit_count = (
			SELECT COUNT(DISTINCT cf.sha) FROM commit_files cf
			WHERE cf.file = module_signals.file
		)
	`); err != nil {
		return patinaerr.Storage("commit_count", err)
	}

	rows, err := tx.Query(`SELECT file, importer_count, commit_count FROM module_signals ORDER BY file`)
	if err != nil {
		return patinaerr.Storage("scan module_signals", err)
	}
	type sig struct {
		file      string
		importers int
		commits   int
	}
	var sigs []sig
	var counts []int
	for rows.Next() {
		var s sig
		if err := rows.Scan(&s.file, &s.importers, &s.commits); err != nil {
			rows.Close()
			return patinaerr.Storage("scan module_signals", err)
		}
		sigs = append(sigs, s)
		counts = append(counts, s.commits)
	}
	rows.Close()

	hotCut, warmCut := quantileCuts(counts)

	for _, s := range sigs {
		entry := isEntryPoint(s.file, s.importers)
		test := isTestFile(s.file)
		level, activity := activityLevel(s.commits, hotCut, warmCut)

		score := 0.0
		if entry {
			score += entryPointBonus
		}
		imp := importerWeight * float64(s.importers)
		if imp > importerCap {
			imp = importerCap
		}
		score += imp
		score += activity
		commitScore := float64(s.commits)
		if commitScore > commitCap {
			commitScore = commitCap
		}
		score += commitScore
		if test {
			score -= testPenalty
		}

		if _, err := tx.Exec(`
			UPDATE module_signals
			SET activity_level = ?, is_entry_point = ?, is_test = ?, composite_score = ?
			WHERE file = ?
		`, level, boolInt(entry), boolInt(test), score, s.file); err != nil {
			return patinaerr.Storage("update module_signals", err)
		}
	}

	if err := setWatermark(tx, "module_signals", 0); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return patinaerr.Storage("commit module_signals", err)
	}
	return nil
}

// quantileCuts returns the commit-count thresholds for hot and warm
// activity. Files at or above the hot cut are hot, at or above the warm
// cut are warm, the rest cold.
func quantileCuts(counts []int) (hot, warm int) {
	if len(counts) == 0 {
		return 1, 1
	}
	sorted := append([]int(nil), counts...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	idx := func(q float64) int {
		i := int(q * float64(len(sorted)))
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return sorted[i]
	}
	hot = idx(hotQuantile)
	warm = idx(warmQuantile)
	if hot < 1 {
		hot = 1
	}
	if warm < 1 {
		warm = 1
	}
	return hot, warm
}

func activityLevel(commits, hotCut, warmCut int) (string, float64) {
	switch {
	case commits >= hotCut && commits > 0:
		return "hot", activityHot
	case commits >= warmCut && commits > 0:
		return "warm", activityWarm
	default:
		return "cold", activityCold
	}
}

// entryPointNames are basenames that mark a file as a program entry.
var entryPointNames = map[string]bool{
	"main.go":  true,
	"main.rs":  true,
	"main.py":  true,
	"index.ts": true,
	"index.js": true,
	"app.py":   true,
	"cli.py":   true,
	"lib.rs":   true,
}

// isEntryPoint flags recognizable entrypoint files, plus cmd/-style
// binaries that nothing imports.
func isEntryPoint(file string, importers int) bool {
	base := filepath.Base(file)
	if entryPointNames[base] {
		return true
	}
	dir := filepath.ToSlash(filepath.Dir(file))
	return importers == 0 && (strings.Contains(dir+"/", "/cmd/") || strings.HasPrefix(dir, "cmd/"))
}

func isTestFile(file string) bool {
	base := filepath.Base(file)
	if strings.HasSuffix(base, "_test.go") || strings.HasSuffix(base, "_test.py") {
		return true
	}
	if strings.HasPrefix(base, "test_") {
		return true
	}
	dir := filepath.ToSlash(filepath.Dir(file))
	return strings.Contains(dir+"/", "/tests/") || strings.Contains(dir+"/", "/__tests__/")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
