package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/NicabarNimble/patina/internal/embed"
)

// Dependency answers structural questions from the dependency
// projection space. Callers and Callees are direct call-graph modes
// that bypass the embedder.
type Dependency struct {
	*vectorOracle
	callGraph
}

// NewDependency constructs the dependency oracle.
func NewDependency(embedder embed.Embedder, db *sql.DB, weightsPath, indexPath string) (*Dependency, error) {
	vo, err := newVectorOracle("dependency", GrainSymbol, embedder, weightsPath, indexPath)
	if err != nil {
		return nil, err
	}
	return &Dependency{vectorOracle: vo, callGraph: callGraph{db: db}}, nil
}

// CallGraphOnly serves the caller/callee modes straight from the views
// when no trained dependency space exists. It is not a full Oracle and
// never joins fusion by itself.
type CallGraphOnly struct {
	callGraph
}

// NewCallGraphOnly wraps the views database for call-graph lookups.
func NewCallGraphOnly(db *sql.DB) *CallGraphOnly {
	return &CallGraphOnly{callGraph: callGraph{db: db}}
}

// callGraph holds the table-backed caller/callee lookups shared by the
// full dependency oracle and the fallback.
type callGraph struct {
	db *sql.DB
}

// Callers returns the symbols that call the named function. The name is
// unqualified; textual callee resolution means multiple definitions may
// match, and all their call sites are returned.
func (o *callGraph) Callers(ctx context.Context, name string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := o.db.QueryContext(ctx, `
		SELECT caller, file, line, COUNT(*) AS sites
		FROM call_graph
		WHERE callee = ?
		GROUP BY caller, file, line
		ORDER BY sites DESC, caller ASC
		LIMIT ?
	`, unqualify(name), limit)
	if err != nil {
		return nil, fmt.Errorf("callers query: %w", err)
	}
	defer rows.Close()
	return scanCallRows(rows, "calls %s at %s:%d", name)
}

// Callees returns the functions called by the named symbol, resolved
// textually against the functions view where possible.
func (o *callGraph) Callees(ctx context.Context, name string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := o.db.QueryContext(ctx, `
		SELECT cg.callee, COALESCE(f.file, cg.file), cg.line, COUNT(*) AS sites
		FROM call_graph cg
		LEFT JOIN functions f ON f.name = cg.callee
		WHERE cg.caller = ? OR cg.caller LIKE ?
		GROUP BY cg.callee, f.file, cg.line
		ORDER BY sites DESC, cg.callee ASC
		LIMIT ?
	`, name, "%::fn:"+unqualify(name), limit)
	if err != nil {
		return nil, fmt.Errorf("callees query: %w", err)
	}
	defer rows.Close()
	return scanCallRows(rows, "called by %s at %s:%d", name)
}

func scanCallRows(rows *sql.Rows, format, name string) ([]Result, error) {
	var results []Result
	maxSites := 0.0
	for rows.Next() {
		var symbol, file string
		var line, sites int
		if err := rows.Scan(&symbol, &file, &line, &sites); err != nil {
			return nil, fmt.Errorf("call graph scan: %w", err)
		}
		if maxSites == 0 {
			maxSites = float64(sites)
		}
		docID := symbol
		if !strings.Contains(docID, "::") {
			docID = "./" + strings.TrimPrefix(file, "./") + "::fn:" + symbol
		}
		results = append(results, Result{
			DocID:   docID,
			Score:   float64(sites) / maxSites,
			Content: fmt.Sprintf(format, name, file, line),
		})
	}
	return results, rows.Err()
}

func unqualify(name string) string {
	if i := strings.LastIndex(name, "::fn:"); i >= 0 {
		return name[i+len("::fn:"):]
	}
	return name
}
