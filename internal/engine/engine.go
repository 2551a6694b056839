// Package engine is the public entry point of the retrieval core. It
// owns the event store, the materializer, and the oracle set, and
// coordinates scrape → materialize → oxidize → query.
package engine

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/NicabarNimble/patina/internal/config"
	"github.com/NicabarNimble/patina/internal/embed"
	"github.com/NicabarNimble/patina/internal/eventlog"
	"github.com/NicabarNimble/patina/internal/fts"
	"github.com/NicabarNimble/patina/internal/logging"
	"github.com/NicabarNimble/patina/internal/materialize"
	"github.com/NicabarNimble/patina/internal/oracle"
	"github.com/NicabarNimble/patina/internal/projection"
	"github.com/NicabarNimble/patina/internal/scrape"
	"github.com/NicabarNimble/patina/internal/vectorindex"
	"github.com/NicabarNimble/patina/internal/workspace"
)

// artifactCacheSize bounds the ad-hoc dimension artifacts held open
// beyond the first-class oracles. Eviction closes the index handle.
const artifactCacheSize = 4

// Engine is safe for concurrent queries; mutating operations (scrape,
// materialize, oxidize) serialize internally.
type Engine struct {
	ws  *workspace.Workspace
	cfg *config.Config
	log zerolog.Logger

	store    *eventlog.Store
	fts      *fts.Index
	mat      *materialize.Materializer
	embedder embed.Embedder
	scraper  *scrape.Suite

	mu          sync.Mutex // guards oracle set swaps and mutating ops
	oracles     []oracle.Oracle
	unavailable map[string]string

	artifacts *lru.Cache[string, *dimArtifacts]
}

// dimArtifacts is one trained dimension's loaded projection and index,
// cached for ad-hoc dimension queries.
type dimArtifacts struct {
	proj  *projection.Projection
	index *vectorindex.Index
}

// Option tweaks construction; used by tests to swap the embedder.
type Option func(*Engine)

// WithEmbedder replaces the daemon-backed embedder.
func WithEmbedder(e embed.Embedder) Option {
	return func(eng *Engine) { eng.embedder = e }
}

// New opens the engine for the project containing dir. Construction is
// blocking: it opens storage and eagerly instantiates every oracle.
// Oracles that cannot be built (missing index, missing model) are
// recorded as unavailable and do not block startup.
func New(dir string, opts ...Option) (*Engine, error) {
	ws, err := workspace.Resolve(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ws.ConfigPath())
	if err != nil {
		return nil, err
	}
	logging.SetLevel(cfg.Log.Level)

	store, err := eventlog.Open(ws.DBPath())
	if err != nil {
		return nil, err
	}

	eng := &Engine{
		ws:          ws,
		cfg:         cfg,
		log:         logging.New("engine"),
		store:       store,
		unavailable: make(map[string]string),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.embedder == nil {
		embedder, err := embed.NewOllama(embed.OllamaConfig{
			BaseURL:     cfg.Embedding.BaseURL,
			Model:       cfg.Embedding.Model,
			Dimension:   cfg.Embedding.Dimension,
			QueryPrefix: cfg.Embedding.QueryPrefix,
			DocPrefix:   cfg.Embedding.DocPrefix,
			CacheSize:   cfg.Embedding.CacheSize,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		eng.embedder = embedder
	}

	ftsIdx, err := fts.Open(ws.FTSIndexPath())
	if err != nil {
		// The lexical oracle degrades; everything else works.
		eng.log.Warn().Err(err).Msg("full-text index unavailable")
		eng.unavailable["lexical"] = err.Error()
	} else {
		eng.fts = ftsIdx
	}

	mat, err := materialize.New(store, eng.fts)
	if err != nil {
		eng.closeStorage()
		return nil, err
	}
	eng.mat = mat
	eng.scraper = scrape.NewSuite(ws, store, cfg)

	cache, err := lru.NewWithEvict[string, *dimArtifacts](artifactCacheSize, func(_ string, a *dimArtifacts) {
		a.index.Close()
	})
	if err != nil {
		eng.closeStorage()
		return nil, err
	}
	eng.artifacts = cache

	eng.buildOracles()
	return eng, nil
}

// buildOracles constructs every oracle whose artifacts exist, recording
// the rest as unavailable. Called at startup and after oxidize.
func (e *Engine) buildOracles() {
	for _, o := range e.oracles {
		if c, ok := o.(interface{ Close() error }); ok {
			c.Close()
		}
	}
	e.oracles = nil
	for k := range e.unavailable {
		if k != "lexical" || e.fts != nil {
			delete(e.unavailable, k)
		}
	}

	model := e.embedder.ModelID()
	db := e.store.DB()
	disabled := make(map[string]bool)
	for _, name := range e.cfg.Query.DisabledOracles {
		disabled[name] = true
	}

	register := func(name string, build func() (oracle.Oracle, error)) {
		if disabled[name] {
			e.unavailable[name] = "disabled in config"
			return
		}
		o, err := build()
		if err != nil {
			e.unavailable[name] = err.Error()
			e.log.Debug().Str("oracle", name).Err(err).Msg("oracle unavailable")
			return
		}
		e.oracles = append(e.oracles, o)
	}

	register("semantic", func() (oracle.Oracle, error) {
		return oracle.NewSemantic(e.embedder,
			e.ws.ProjectionWeightsPath(model, "semantic"),
			e.ws.VectorIndexPath(model, "semantic"))
	})
	if e.fts != nil {
		register("lexical", func() (oracle.Oracle, error) {
			return oracle.NewLexical(e.fts)
		})
	}
	register("temporal", func() (oracle.Oracle, error) {
		return oracle.NewTemporal(db)
	})
	register("dependency", func() (oracle.Oracle, error) {
		return oracle.NewDependency(e.embedder, db,
			e.ws.ProjectionWeightsPath(model, "dependency"),
			e.ws.VectorIndexPath(model, "dependency"))
	})
	register("belief", func() (oracle.Oracle, error) {
		return oracle.NewBelief(e.embedder, db,
			e.ws.ProjectionWeightsPath(model, "belief"),
			e.ws.VectorIndexPath(model, "belief"))
	})
	register("persona", func() (oracle.Oracle, error) {
		dir, err := workspace.PersonaDir("default")
		if err != nil {
			return nil, err
		}
		return oracle.NewPersona(e.embedder,
			filepath.Join(dir, "projections", model, "persona.weights"),
			filepath.Join(dir, "projections", model, "persona.index"))
	})
}

// Scrape runs the selected scrapers and materializes the views the new
// events feed.
func (e *Engine) Scrape(scope scrape.Scope) (scrape.Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats, err := e.scraper.Run(scope)
	if err != nil {
		return stats, err
	}
	if _, err := e.mat.Materialize("", false); err != nil {
		return stats, err
	}
	// New code facts may make the temporal/lexical oracles viable.
	e.buildOracles()
	return stats, nil
}

// Materialize rebuilds derived views. An empty view name rebuilds all
// stale views; force drops and replays from sequence zero.
func (e *Engine) Materialize(view string, force bool) (materialize.Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats, err := e.mat.Materialize(view, force)
	if err != nil {
		return stats, err
	}
	e.buildOracles()
	return stats, nil
}

// Status reports per-component health: oracle availability, log
// position, and view watermarks.
type Status struct {
	Oracles     map[string]string // name -> status line
	Unavailable map[string]string // name -> reason
	LastSeq     uint64
	Watermarks  map[string]uint64
	Model       string
}

// Status returns the engine's component health.
func (e *Engine) Status() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Oracles:     make(map[string]string),
		Unavailable: make(map[string]string),
		Model:       e.embedder.ModelID(),
	}
	for _, o := range e.oracles {
		st.Oracles[o.Name()] = o.Status()
	}
	for name, reason := range e.unavailable {
		st.Unavailable[name] = reason
	}
	seq, err := e.store.LastSeq()
	if err != nil {
		return st, err
	}
	st.LastSeq = seq
	st.Watermarks, err = e.mat.Watermarks()
	return st, err
}

// OracleNames lists currently available oracles in stable order.
func (e *Engine) OracleNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.oracles))
	for _, o := range e.oracles {
		names = append(names, o.Name())
	}
	sort.Strings(names)
	return names
}

func (e *Engine) closeStorage() {
	if e.fts != nil {
		e.fts.Close()
	}
	e.store.Close()
}

// Close releases every resource: oracles, artifact cache, indexes,
// storage.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.oracles {
		if c, ok := o.(interface{ Close() error }); ok {
			c.Close()
		}
	}
	e.oracles = nil
	e.artifacts.Purge()
	e.closeStorage()
	return nil
}

// SessionInfo is one materialized work session.
type SessionInfo struct {
	ID        string
	Title     string
	Started   string
	Ended     string
	Decisions int
}

// Sessions lists materialized sessions, newest first.
func (e *Engine) Sessions() ([]SessionInfo, error) {
	rows, err := e.store.DB().Query(`
		SELECT session_id, title, started_at, ended_at, decision_count
		FROM sessions ORDER BY started_at DESC, session_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionInfo
	for rows.Next() {
		var s SessionInfo
		if err := rows.Scan(&s.ID, &s.Title, &s.Started, &s.Ended, &s.Decisions); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Workspace exposes the resolved project layout.
func (e *Engine) Workspace() *workspace.Workspace { return e.ws }

// Config exposes the loaded configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

func (e *Engine) String() string {
	return fmt.Sprintf("patina engine at %s", e.ws.Root)
}
