package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicabarNimble/patina/internal/eventlog"
	"github.com/NicabarNimble/patina/internal/fusion"
	"github.com/NicabarNimble/patina/internal/oracle"
	"github.com/NicabarNimble/patina/internal/patinaerr"
)

// QueryOptions tunes one query.
type QueryOptions struct {
	Limit   int      // result count; config default when zero
	Oracles []string // restrict to these oracles; empty = all available
	Mode    string   // recorded in the query log; informational
	NoLog   bool     // suppress the scry.query event (used by tooling)
}

// identTokenRe spots identifier-shaped tokens: snake_case, CamelCase,
// or namespace::paths.
var identTokenRe = regexp.MustCompile(`[A-Za-z0-9]+(?:_[A-Za-z0-9]+)+|[a-z0-9]+(?:[A-Z][a-z0-9]+)+|\w+::\w+`)

// lexicalIntent reports whether a query looks like an identifier hunt
// (quoted strings or identifier tokens) rather than a prose question.
func lexicalIntent(text string) bool {
	if strings.ContainsAny(text, `"'`) {
		return true
	}
	return identTokenRe.MatchString(text)
}

// Query runs the available oracles in parallel, fuses their rankings,
// annotates, deduplicates, truncates, and logs a scry.query event.
// Individual oracle failures are logged and excluded; the query
// succeeds with the remainder.
func (e *Engine) Query(ctx context.Context, text string, opts QueryOptions) ([]fusion.Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.Query.Limit
	}

	e.mu.Lock()
	oracles := make([]oracle.Oracle, len(e.oracles))
	copy(oracles, e.oracles)
	e.mu.Unlock()

	oracles = e.selectOracles(oracles, text, opts)
	if len(oracles) == 0 {
		return nil, nil
	}

	// Fan out; each oracle is internally thread-safe.
	rankings := make([]fusion.Ranking, len(oracles))
	errs := make([]error, len(oracles))
	var wg sync.WaitGroup
	// Oracles over-fetch so the per-file cap cannot starve the output.
	fetch := limit * e.cfg.Query.MaxPerFile
	for i, o := range oracles {
		wg.Add(1)
		go func(i int, o oracle.Oracle) {
			defer wg.Done()
			results, err := o.Query(ctx, text, fetch)
			if err != nil {
				errs[i] = &patinaerr.OracleQueryError{Name: o.Name(), Err: err}
				return
			}
			rankings[i] = fusion.Ranking{Oracle: o.Name(), Grain: o.Grain(), Results: results}
		}(i, o)
	}
	wg.Wait()

	var live []fusion.Ranking
	for i, r := range rankings {
		if errs[i] != nil {
			e.log.Warn().Err(errs[i]).Msg("oracle excluded from fusion")
			e.noteQueryError(oracles[i].Name(), errs[i])
			continue
		}
		if r.Oracle != "" {
			live = append(live, r)
		}
	}

	results, err := e.fuseAndPresent(live, limit)
	if err != nil {
		return nil, err
	}

	if !opts.NoLog {
		e.logQuery(text, opts.Mode, live, results)
	}
	return results, nil
}

// selectOracles applies the explicit oracle filter, then the optional
// intent-based skip. The default remains querying everything and
// letting fusion decide.
func (e *Engine) selectOracles(oracles []oracle.Oracle, text string, opts QueryOptions) []oracle.Oracle {
	if len(opts.Oracles) > 0 {
		want := make(map[string]bool, len(opts.Oracles))
		for _, n := range opts.Oracles {
			want[n] = true
		}
		var out []oracle.Oracle
		for _, o := range oracles {
			if want[o.Name()] {
				out = append(out, o)
			}
		}
		return out
	}
	if e.cfg.Query.IntentSkip && lexicalIntent(text) {
		var out []oracle.Oracle
		for _, o := range oracles {
			switch o.Name() {
			case "semantic", "persona":
				// Identifier hunts resolve faster lexically.
			default:
				out = append(out, o)
			}
		}
		return out
	}
	return oracles
}

// fuseAndPresent splits rankings into grain-compatible pools, fuses
// each, merges, annotates, caps, and truncates.
func (e *Engine) fuseAndPresent(rankings []fusion.Ranking, limit int) ([]fusion.Result, error) {
	// Code pool: file and symbol grain, fused under symbol→file
	// promotion. Every other grain fuses in its own pool.
	var code []fusion.Ranking
	other := make(map[oracle.Grain][]fusion.Ranking)
	for _, r := range rankings {
		switch r.Grain {
		case oracle.GrainFile, oracle.GrainSymbol:
			code = append(code, r)
		default:
			other[r.Grain] = append(other[r.Grain], r)
		}
	}

	fuseOpts := fusion.Options{K: e.cfg.Query.RRFConstant, PromoteToFile: true}
	pools := make([][]fusion.Result, 0, 1+len(other))
	if len(code) > 0 {
		fused, err := fusion.Fuse(code, fuseOpts)
		if err != nil {
			return nil, err
		}
		pools = append(pools, fused)
	}
	for _, grainRankings := range other {
		fused, err := fusion.Fuse(grainRankings, fuseOpts)
		if err != nil {
			return nil, err
		}
		pools = append(pools, fused)
	}

	results := fusion.MergePools(pools...)
	if err := fusion.Annotate(e.store.DB(), results); err != nil {
		return nil, err
	}
	results = fusion.CapPerFile(results, e.cfg.Query.MaxPerFile)
	if len(results) > limit {
		results = results[:limit]
	}
	policy := fusion.TruncationPolicy{
		FullMin:  e.cfg.Query.FullSnippetMin,
		ShortMin: e.cfg.Query.ShortSnippetMin,
		FullLen:  e.cfg.Query.FullSnippetLen,
		ShortLen: e.cfg.Query.ShortSnippetLen,
	}
	policy.Truncate(results)
	return results, nil
}

// logQuery appends the canonical scry.query event; external tooling
// depends on its schema.
func (e *Engine) logQuery(text, mode string, rankings []fusion.Ranking, results []fusion.Result) {
	payload := eventlog.ScryQueryPayload{Query: text, Mode: mode}
	for _, ranking := range rankings {
		for i, res := range ranking.Results {
			payload.Oracles = append(payload.Oracles, eventlog.OracleLogEntry{
				Name: ranking.Oracle, Rank: i + 1, DocID: res.DocID, RawScore: res.Score,
			})
		}
	}
	for _, r := range results {
		payload.Top = append(payload.Top, eventlog.FusedLogEntry{DocID: r.DocID, FusedScore: r.Score})
	}
	sourceID := "scry:" + uuid.New().String()
	if _, err := e.store.Append(eventlog.KindScryQuery, time.Now(), sourceID, "", payload); err != nil {
		e.log.Warn().Err(err).Msg("failed to log query event")
	}
}

// RecordUse logs that a caller acted on a result of an earlier query.
// The offline eval loop correlates these with later commits.
func (e *Engine) RecordUse(querySeq uint64, docID string) error {
	payload := eventlog.ScryUsePayload{QuerySeq: querySeq, DocID: docID}
	sourceID := fmt.Sprintf("use:%d:%s", querySeq, docID)
	_, err := e.store.Append(eventlog.KindScryUse, time.Now(), sourceID, "", payload)
	return err
}

// noteQueryError surfaces a failing oracle in status until the next
// successful rebuild.
func (e *Engine) noteQueryError(name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unavailable[name] = "query error: " + err.Error()
}

// QueryAlt is the alternate entry for non-default modes that bypass the
// embedder: "co-changers" takes a file path, "callers" and "callees"
// take a symbol name. "dimension" is rejected here; single-dimension
// search goes through QueryDimension.
func (e *Engine) QueryAlt(ctx context.Context, mode string, arg string, opts QueryOptions) ([]fusion.Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.Query.Limit
	}

	var (
		ranking fusion.Ranking
		err     error
	)
	switch mode {
	case "co-changers":
		ranking, err = e.altCoChangers(ctx, arg, limit)
	case "callers":
		ranking, err = e.altCallGraph(ctx, arg, limit, true)
	case "callees":
		ranking, err = e.altCallGraph(ctx, arg, limit, false)
	case "dimension":
		return nil, fmt.Errorf("dimension mode requires QueryDimension")
	default:
		return nil, fmt.Errorf("unknown query mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	results, err := e.fuseAndPresent([]fusion.Ranking{ranking}, limit)
	if err != nil {
		return nil, err
	}
	if !opts.NoLog {
		e.logQuery(arg, mode, []fusion.Ranking{ranking}, results)
	}
	return results, nil
}

func (e *Engine) altCoChangers(ctx context.Context, file string, limit int) (fusion.Ranking, error) {
	o := e.findOracle("temporal")
	if o == nil {
		return fusion.Ranking{}, &patinaerr.OracleUnavailable{Name: "temporal", Reason: "not constructed"}
	}
	temporal := o.(*oracle.Temporal)
	results, err := temporal.CoChangers(ctx, file, limit)
	if err != nil {
		return fusion.Ranking{}, err
	}
	return fusion.Ranking{Oracle: "temporal", Grain: oracle.GrainFile, Results: results}, nil
}

func (e *Engine) altCallGraph(ctx context.Context, symbol string, limit int, callers bool) (fusion.Ranking, error) {
	o := e.findOracle("dependency")
	if o == nil {
		// The call-graph modes need only the views, not the projection;
		// fall back to a table-only dependency oracle.
		dep := oracle.NewCallGraphOnly(e.store.DB())
		return callGraphRanking(ctx, dep, symbol, limit, callers)
	}
	return callGraphRanking(ctx, o.(*oracle.Dependency), symbol, limit, callers)
}

// callGraphQuerier is the slice of Dependency the alt modes need.
type callGraphQuerier interface {
	Callers(ctx context.Context, name string, limit int) ([]oracle.Result, error)
	Callees(ctx context.Context, name string, limit int) ([]oracle.Result, error)
}

func callGraphRanking(ctx context.Context, dep callGraphQuerier, symbol string, limit int, callers bool) (fusion.Ranking, error) {
	var results []oracle.Result
	var err error
	if callers {
		results, err = dep.Callers(ctx, symbol, limit)
	} else {
		results, err = dep.Callees(ctx, symbol, limit)
	}
	if err != nil {
		return fusion.Ranking{}, err
	}
	return fusion.Ranking{Oracle: "dependency", Grain: oracle.GrainSymbol, Results: results}, nil
}

func (e *Engine) findOracle(name string) oracle.Oracle {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.oracles {
		if o.Name() == name {
			return o
		}
	}
	return nil
}
