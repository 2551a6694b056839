package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/NicabarNimble/patina/internal/fusion"
	"github.com/NicabarNimble/patina/internal/oracle"
	"github.com/NicabarNimble/patina/internal/projection"
	"github.com/NicabarNimble/patina/internal/vectorindex"
)

// OxidizeStats reports one pipeline run.
type OxidizeStats struct {
	Dimensions map[string]DimStats
}

// DimStats is one dimension's slice of the run.
type DimStats struct {
	Pairs   int
	Docs    int
	Skipped bool
	Reason  string
}

// doc is one indexable unit: a stable doc id and the text embedded for
// it.
type doc struct {
	id   string
	text string
}

// Oxidize trains the recipe's projections from eventlog-derived pairs
// and builds their companion vector indices. Deterministic for a fixed
// log, recipe, and seed. Dimensions without enough training signal are
// skipped, not failed.
func (e *Engine) Oxidize(ctx context.Context, recipePath string) (OxidizeStats, error) {
	stats := OxidizeStats{Dimensions: make(map[string]DimStats)}

	recipe, err := projection.LoadRecipe(recipePath)
	if err != nil {
		return stats, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Pair derivation reads the views; make sure they are current.
	if _, err := e.mat.Materialize("", false); err != nil {
		return stats, err
	}

	model := e.embedder.ModelID()
	for _, spec := range recipe.Dimensions {
		ds, err := e.oxidizeDimension(ctx, recipe, spec, model)
		if err != nil {
			return stats, fmt.Errorf("dimension %s: %w", spec.Name, err)
		}
		stats.Dimensions[spec.Name] = ds
	}

	// Freshly trained artifacts supersede anything cached or held open.
	e.artifacts.Purge()
	e.buildOracles()
	return stats, nil
}

func (e *Engine) oxidizeDimension(ctx context.Context, recipe projection.Recipe, spec projection.DimensionSpec, model string) (DimStats, error) {
	var ds DimStats

	pairTexts, err := e.derivePairs(spec.Rule)
	if err != nil {
		return ds, err
	}
	if len(pairTexts) < 2 {
		ds.Skipped = true
		ds.Reason = fmt.Sprintf("only %d training pairs from rule %s", len(pairTexts), spec.Rule)
		e.log.Info().Str("dimension", spec.Name).Str("reason", ds.Reason).Msg("skipping dimension")
		return ds, nil
	}

	docs, err := e.dimensionDocs(spec.Rule)
	if err != nil {
		return ds, err
	}
	if len(docs) == 0 {
		ds.Skipped = true
		ds.Reason = "no documents to index"
		return ds, nil
	}

	// Embed pair sides and documents. Batch per side to amortize the
	// daemon round-trips.
	anchors := make([]string, len(pairTexts))
	positives := make([]string, len(pairTexts))
	for i, p := range pairTexts {
		anchors[i], positives[i] = p[0], p[1]
	}
	anchorVecs, err := e.embedder.EmbedBatch(ctx, anchors)
	if err != nil {
		return ds, err
	}
	positiveVecs, err := e.embedder.EmbedBatch(ctx, positives)
	if err != nil {
		return ds, err
	}
	pairs := make([]projection.Pair, len(pairTexts))
	for i := range pairTexts {
		pairs[i] = projection.Pair{Anchor: anchorVecs[i], Positive: positiveVecs[i]}
	}

	proj, err := projection.Train(projection.TrainConfig{
		ModelID:      model,
		Dimension:    spec.Name,
		InputDim:     e.embedder.Dimension(),
		HiddenDim:    e.cfg.Projection.HiddenDim,
		OutputDim:    e.cfg.Projection.OutputDim,
		Epochs:       spec.Epochs,
		LearningRate: spec.LearningRate,
		Margin:       spec.Margin,
		Seed:         recipe.Seed,
	}, pairs)
	if err != nil {
		return ds, err
	}
	if err := proj.Save(e.ws.ProjectionWeightsPath(model, spec.Name)); err != nil {
		return ds, err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.text
	}
	docVecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return ds, err
	}

	idx, err := vectorindex.Create(e.ws.VectorIndexPath(model, spec.Name), proj.OutputDim())
	if err != nil {
		return ds, err
	}
	defer idx.Close()
	for i, d := range docs {
		projected, err := proj.Project(docVecs[i])
		if err != nil {
			return ds, err
		}
		if err := idx.Add(d.id, projected, clipText(d.text, 300)); err != nil {
			return ds, err
		}
	}

	ds.Pairs = len(pairs)
	ds.Docs = len(docs)
	return ds, nil
}

// derivePairs turns a recipe rule into labeled (anchor, positive) text
// pairs from the materialized views.
func (e *Engine) derivePairs(rule string) ([][2]string, error) {
	db := e.store.DB()
	switch rule {
	case projection.RuleSessionCoMention:
		return e.sessionPairs(db)
	case projection.RuleCommitCoChange:
		return e.coChangePairs(db)
	case projection.RuleCallerCallee:
		return e.callPairs(db)
	case projection.RuleBeliefEvidence:
		return e.beliefPairs(db)
	}
	return nil, fmt.Errorf("unknown pair rule %q", rule)
}

// sessionPairs: the texts of two files touched in the same session are
// a positive pair for the semantic space. Falls back to symbols sharing
// a file when no sessions exist yet.
func (e *Engine) sessionPairs(db *sql.DB) ([][2]string, error) {
	fileTexts, err := e.fileTexts(db)
	if err != nil {
		return nil, err
	}

	var pairs [][2]string
	rows, err := db.Query(`SELECT files FROM sessions WHERE files != '[]'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var filesJSON string
		if err := rows.Scan(&filesJSON); err != nil {
			return nil, err
		}
		files := parseJSONList(filesJSON)
		for i := 0; i < len(files); i++ {
			for j := i + 1; j < len(files); j++ {
				a, okA := fileTexts[normalizeFile(files[i])]
				b, okB := fileTexts[normalizeFile(files[j])]
				if okA && okB {
					pairs = append(pairs, [2]string{a, b})
				}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pairs) >= 2 {
		return pairs, nil
	}

	// Fallback: symbols that live in the same file.
	symRows, err := db.Query(`
		SELECT a.name || ' ' || a.context, b.name || ' ' || b.context
		FROM functions a JOIN functions b ON a.file = b.file AND a.qualified < b.qualified
		ORDER BY a.qualified, b.qualified
	`)
	if err != nil {
		return nil, err
	}
	defer symRows.Close()
	for symRows.Next() {
		var a, b string
		if err := symRows.Scan(&a, &b); err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{a, b})
	}
	return pairs, symRows.Err()
}

// coChangePairs: files changed in the same commit.
func (e *Engine) coChangePairs(db *sql.DB) ([][2]string, error) {
	fileTexts, err := e.fileTexts(db)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT file_a, file_b FROM co_changes ORDER BY count DESC, file_a, file_b`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs [][2]string
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		ta, ok := fileTexts[normalizeFile(a)]
		if !ok {
			ta = a
		}
		tb, ok := fileTexts[normalizeFile(b)]
		if !ok {
			tb = b
		}
		pairs = append(pairs, [2]string{ta, tb})
	}
	return pairs, rows.Err()
}

// callPairs: caller and callee symbol texts.
func (e *Engine) callPairs(db *sql.DB) ([][2]string, error) {
	rows, err := db.Query(`
		SELECT cf.name || ' ' || cf.context, ct.name || ' ' || ct.context
		FROM call_graph cg
		JOIN functions cf ON cf.qualified = cg.caller
		JOIN functions ct ON ct.name = cg.callee
		ORDER BY cg.caller, cg.callee
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs [][2]string
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{a, b})
	}
	return pairs, rows.Err()
}

// beliefPairs: a belief statement with each cited belief's statement.
func (e *Engine) beliefPairs(db *sql.DB) ([][2]string, error) {
	rows, err := db.Query(`
		SELECT src.statement, dst.statement
		FROM citations c
		JOIN beliefs src ON c.source_kind = 'belief' AND src.belief_id = c.source_id
		JOIN beliefs dst ON dst.belief_id = c.target
		ORDER BY c.source_id, c.target
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs [][2]string
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{a, b})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pairs) >= 2 {
		return pairs, nil
	}
	// Fallback: beliefs related by a supports edge recorded in either
	// one's frontmatter. Attacks edges are not used.
	relRows, err := db.Query(`
		SELECT a.statement, b.statement
		FROM beliefs a JOIN beliefs b ON a.belief_id < b.belief_id
		WHERE a.supports LIKE '%"' || b.belief_id || '"%'
		   OR b.supports LIKE '%"' || a.belief_id || '"%'
		ORDER BY a.belief_id, b.belief_id
	`)
	if err != nil {
		return nil, err
	}
	defer relRows.Close()
	for relRows.Next() {
		var a, b string
		if err := relRows.Scan(&a, &b); err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{a, b})
	}
	return pairs, relRows.Err()
}

// dimensionDocs chooses what a dimension indexes: symbol docs for the
// code-facing rules, belief statements for the belief rule.
func (e *Engine) dimensionDocs(rule string) ([]doc, error) {
	db := e.store.DB()
	if rule == projection.RuleBeliefEvidence {
		rows, err := db.Query(`SELECT belief_id, statement FROM beliefs ORDER BY belief_id`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var docs []doc
		for rows.Next() {
			var id, statement string
			if err := rows.Scan(&id, &statement); err != nil {
				return nil, err
			}
			docs = append(docs, doc{id: "belief:" + id, text: statement})
		}
		return docs, rows.Err()
	}

	rows, err := db.Query(`SELECT qualified, name, signature, context FROM functions ORDER BY qualified`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []doc
	for rows.Next() {
		var qualified, name, sig, ctx string
		if err := rows.Scan(&qualified, &name, &sig, &ctx); err != nil {
			return nil, err
		}
		text := name
		if sig != "" {
			text += " " + sig
		}
		if ctx != "" {
			text += " " + ctx
		}
		docs = append(docs, doc{id: qualified, text: text})
	}
	return docs, rows.Err()
}

// fileTexts builds a representative text per file: its path plus its
// symbol names.
func (e *Engine) fileTexts(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query(`SELECT file, name FROM functions ORDER BY file, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	texts := make(map[string]string)
	for rows.Next() {
		var file, name string
		if err := rows.Scan(&file, &name); err != nil {
			return nil, err
		}
		key := normalizeFile(file)
		if texts[key] == "" {
			texts[key] = key
		}
		texts[key] += " " + name
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Files known only to git still get their path as text.
	cfRows, err := db.Query(`SELECT DISTINCT file FROM commit_files ORDER BY file`)
	if err != nil {
		return nil, err
	}
	defer cfRows.Close()
	for cfRows.Next() {
		var file string
		if err := cfRows.Scan(&file); err != nil {
			return nil, err
		}
		key := normalizeFile(file)
		if texts[key] == "" {
			texts[key] = key
		}
	}
	return texts, cfRows.Err()
}

// QueryDimension searches one trained dimension directly, loading its
// artifacts through the engine's LRU cache. This serves recipe-defined
// dimensions that have no first-class oracle.
func (e *Engine) QueryDimension(ctx context.Context, dimension, text string, limit int) ([]fusion.Result, error) {
	if limit <= 0 {
		limit = e.cfg.Query.Limit
	}
	arts, err := e.dimensionArtifacts(dimension)
	if err != nil {
		return nil, err
	}
	base, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	vec, err := arts.proj.Project(base)
	if err != nil {
		return nil, err
	}
	hits, err := arts.index.Search(vec, limit)
	if err != nil {
		return nil, err
	}
	ranking := fusion.Ranking{Oracle: "dimension:" + dimension, Grain: oracle.GrainSymbol}
	for _, h := range hits {
		ranking.Results = append(ranking.Results, oracle.Result{DocID: h.DocID, Score: h.Similarity, Content: h.Content})
	}
	return e.fuseAndPresent([]fusion.Ranking{ranking}, limit)
}

// dimensionArtifacts loads (or returns cached) projection and index for
// a dimension. The LRU bounds how many index handles stay open.
func (e *Engine) dimensionArtifacts(dimension string) (*dimArtifacts, error) {
	if arts, ok := e.artifacts.Get(dimension); ok {
		return arts, nil
	}
	model := e.embedder.ModelID()
	proj, err := projection.Load(e.ws.ProjectionWeightsPath(model, dimension))
	if err != nil {
		return nil, err
	}
	idx, err := vectorindex.Open(e.ws.VectorIndexPath(model, dimension), proj.OutputDim())
	if err != nil {
		return nil, err
	}
	arts := &dimArtifacts{proj: proj, index: idx}
	e.artifacts.Add(dimension, arts)
	return arts, nil
}

func parseJSONList(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	sort.Strings(out)
	return out
}

func normalizeFile(f string) string {
	f = strings.TrimSpace(f)
	if !strings.HasPrefix(f, "./") {
		f = "./" + f
	}
	return f
}

func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
