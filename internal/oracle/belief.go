package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/NicabarNimble/patina/internal/embed"
)

// Belief retrieves knowledge units by semantic similarity over their
// statements. Content is enriched with computed metrics (citations,
// verification query counts) from the beliefs view so callers see how
// load-bearing a belief is.
type Belief struct {
	*vectorOracle
	db *sql.DB
}

// NewBelief constructs the belief oracle.
func NewBelief(embedder embed.Embedder, db *sql.DB, weightsPath, indexPath string) (*Belief, error) {
	vo, err := newVectorOracle("belief", GrainBelief, embedder, weightsPath, indexPath)
	if err != nil {
		return nil, err
	}
	return &Belief{vectorOracle: vo, db: db}, nil
}

// Query searches belief statements and annotates hits with metrics.
func (o *Belief) Query(ctx context.Context, text string, limit int) ([]Result, error) {
	results, err := o.vectorOracle.Query(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	for i := range results {
		id := strings.TrimPrefix(results[i].DocID, "belief:")
		var citations, queryCount int
		err := o.db.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM citations WHERE target = b.belief_id), b.query_count
			FROM beliefs b WHERE b.belief_id = ?
		`, id).Scan(&citations, &queryCount)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("belief metrics: %w", err)
		}
		results[i].Content = fmt.Sprintf("%s [cited %d, verified by %d queries]",
			results[i].Content, citations, queryCount)
	}
	return results, nil
}
