package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Temporal answers "what changes together" from the co_changes view.
// Default mode matches path-like query tokens against known files and
// returns their strongest co-changers; CoChangers is the direct
// file-input mode that bypasses text matching entirely.
type Temporal struct {
	db *sql.DB
}

// NewTemporal constructs the temporal oracle over the views database.
func NewTemporal(db *sql.DB) (*Temporal, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM co_changes`).Scan(&n); err != nil {
		return nil, fmt.Errorf("co_changes view not materialized: %w", err)
	}
	return &Temporal{db: db}, nil
}

func (o *Temporal) Name() string { return "temporal" }

func (o *Temporal) Grain() Grain { return GrainFile }

func (o *Temporal) Query(ctx context.Context, text string, limit int) ([]Result, error) {
	file, err := o.matchFile(ctx, text)
	if err != nil {
		return nil, err
	}
	if file == "" {
		return nil, nil
	}
	return o.CoChangers(ctx, file, limit)
}

// CoChangers returns the files most often committed together with the
// given file, by raw co-change count normalized to [0, 1].
func (o *Temporal) CoChangers(ctx context.Context, file string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	file = strings.TrimPrefix(file, "./")
	rows, err := o.db.QueryContext(ctx, `
		SELECT other, cnt FROM (
			SELECT file_b AS other, count AS cnt FROM co_changes WHERE file_a = ?
			UNION ALL
			SELECT file_a AS other, count AS cnt FROM co_changes WHERE file_b = ?
		)
		ORDER BY cnt DESC, other ASC
		LIMIT ?
	`, file, file, limit)
	if err != nil {
		return nil, fmt.Errorf("co_changes query: %w", err)
	}
	defer rows.Close()

	var results []Result
	maxCount := 0.0
	for rows.Next() {
		var other string
		var count int
		if err := rows.Scan(&other, &count); err != nil {
			return nil, fmt.Errorf("co_changes scan: %w", err)
		}
		if maxCount == 0 {
			maxCount = float64(count)
		}
		results = append(results, Result{
			DocID:   "./" + other,
			Score:   float64(count) / maxCount,
			Content: fmt.Sprintf("co-changed with %s in %d commits", file, count),
		})
	}
	return results, rows.Err()
}

// matchFile resolves free text to a known file: an exact commit_files
// match on a path-like token first, then a suffix match.
func (o *Temporal) matchFile(ctx context.Context, text string) (string, error) {
	for _, token := range strings.Fields(text) {
		token = strings.Trim(token, `"'`+"`,?")
		token = strings.TrimPrefix(token, "./")
		if !strings.ContainsAny(token, "./") {
			continue
		}
		var file string
		err := o.db.QueryRowContext(ctx, `
			SELECT file FROM commit_files WHERE file = ? OR file LIKE ?
			ORDER BY file = ? DESC, file LIMIT 1
		`, token, "%/"+token, token).Scan(&file)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", err
		}
		return file, nil
	}
	return "", nil
}

func (o *Temporal) Status() string {
	var pairs int
	if err := o.db.QueryRow(`SELECT COUNT(*) FROM co_changes`).Scan(&pairs); err != nil {
		return fmt.Sprintf("view error: %v", err)
	}
	return fmt.Sprintf("ready (%d co-change pairs)", pairs)
}
