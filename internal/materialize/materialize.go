// Package materialize derives queryable tables from the event log.
//
// Every view is a pure function of the log up to its high-water mark and
// can be rebuilt from scratch at any time. Per-event failures are logged
// and counted; a malformed payload never blocks the rest of the batch.
package materialize

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/NicabarNimble/patina/internal/eventlog"
	"github.com/NicabarNimble/patina/internal/fts"
	"github.com/NicabarNimble/patina/internal/logging"
	"github.com/NicabarNimble/patina/internal/patinaerr"
)

// Stats reports the outcome of one materialize run.
type Stats struct {
	Views     map[string]ViewStats
	HighWater uint64 // log seq after the run
}

// ViewStats reports one view's slice of the run.
type ViewStats struct {
	Applied int    // events folded in
	Errors  int    // malformed payloads skipped
	From    uint64 // watermark before
	To      uint64 // watermark after
}

// view binds a name to the event kinds it consumes and the fold function.
type view struct {
	name  string
	kinds []eventlog.Kind
	reset func(tx *sql.Tx) error
	apply func(tx *sql.Tx, ev eventlog.Event) error
}

// Materializer folds events into derived tables. Safe for one caller at
// a time; concurrent calls serialize on the database write lock.
type Materializer struct {
	store *eventlog.Store
	db    *sql.DB
	fts   *fts.Index // nil disables the code_fts view
	log   zerolog.Logger
	views []view
}

// New creates a materializer over the given event store. ftsIdx is the
// shared full-text index over code symbols; nil disables it.
func New(store *eventlog.Store, ftsIdx *fts.Index) (*Materializer, error) {
	m := &Materializer{
		store: store,
		db:    store.DB(),
		fts:   ftsIdx,
		log:   logging.New("materialize"),
	}
	m.views = []view{
		{"commits", []eventlog.Kind{eventlog.KindGitCommit}, resetCommits, applyCommit},
		{"co_changes", []eventlog.Kind{eventlog.KindGitCommit}, resetCoChanges, applyCoChange},
		{"functions", []eventlog.Kind{eventlog.KindCodeFunction}, resetFunctions, applyFunction},
		{"imports", []eventlog.Kind{eventlog.KindCodeImport}, resetImports, applyImport},
		{"call_graph", []eventlog.Kind{eventlog.KindCodeCall}, resetCallGraph, applyCall},
		{"sessions", []eventlog.Kind{eventlog.KindSessionStarted, eventlog.KindSessionEnded, eventlog.KindSessionDecision}, resetSessions, applySession},
		{"patterns", []eventlog.Kind{eventlog.KindPatternCore, eventlog.KindPatternSurface}, resetPatterns, applyPattern},
		{"beliefs", []eventlog.Kind{eventlog.KindBeliefSurface, eventlog.KindSessionStarted, eventlog.KindSessionEnded, eventlog.KindSessionDecision}, resetBeliefs, applyBelief},
		{"milestones", []eventlog.Kind{eventlog.KindGitTag, eventlog.KindSessionDecision}, resetMilestones, applyMilestone},
	}
	if err := m.migrate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Materializer) migrate() error {
	if _, err := m.db.Exec(viewSchema); err != nil {
		return patinaerr.Storage("migrate views", err)
	}
	return nil
}

// Materialize folds pending events into views. If target is non-empty,
// only that view is processed. If force, existing
// rows are dropped and the full log is replayed.
func (m *Materializer) Materialize(target string, force bool) (Stats, error) {
	stats := Stats{Views: make(map[string]ViewStats)}

	matched := false
	for _, v := range m.views {
		if target != "" && target != v.name {
			continue
		}
		matched = true
		vs, err := m.runView(v, force)
		if err != nil {
			return stats, err
		}
		stats.Views[v.name] = vs
	}
	if target != "" && !matched && target != "module_signals" && target != "code_fts" {
		return stats, fmt.Errorf("unknown view %q", target)
	}

	// The full-text index and module signals derive from the tables
	// above; refresh them on an untargeted run or when they themselves
	// are the target.
	if target == "" || target == "code_fts" {
		vs, err := m.materializeFTS(force)
		if err != nil {
			return stats, err
		}
		stats.Views["code_fts"] = vs
	}
	if target == "" || target == "module_signals" {
		if err := m.recomputeSignals(); err != nil {
			return stats, err
		}
		stats.Views["module_signals"] = ViewStats{}
	}

	hw, err := m.store.LastSeq()
	if err != nil {
		return stats, err
	}
	stats.HighWater = hw
	return stats, nil
}

// runView replays events past the view's watermark. The event scan
// happens before the transaction opens: the store may be limited to a
// single connection, and a scan concurrent with an open transaction
// would starve it. Appends that land mid-run are picked up next time.
func (m *Materializer) runView(v view, force bool) (ViewStats, error) {
	var vs ViewStats

	from, err := m.viewWatermark(v.name)
	if err != nil {
		return vs, err
	}
	if force {
		from = 0
	}
	vs.From = from

	head, err := m.store.LastSeq()
	if err != nil {
		return vs, err
	}
	events, err := m.store.ReadFrom(from, v.kinds...)
	if err != nil {
		return vs, err
	}

	tx, err := m.db.Begin()
	if err != nil {
		return vs, patinaerr.Storage("begin "+v.name, err)
	}
	defer tx.Rollback()

	if force {
		if err := v.reset(tx); err != nil {
			return vs, patinaerr.Storage("reset "+v.name, err)
		}
	}

	to := from
	for _, ev := range events {
		if ev.Seq > head {
			break
		}
		if err := v.apply(tx, ev); err != nil {
			vs.Errors++
			m.log.Warn().Uint64("seq", ev.Seq).Str("view", v.name).Err(err).Msg("skipping malformed event")
		} else {
			vs.Applied++
		}
		to = ev.Seq
	}
	// The watermark advances to the observed log head even when the tail
	// held no events for this view, so staleness checks stay cheap.
	if head > to {
		to = head
	}

	if err := setWatermark(tx, v.name, to); err != nil {
		return vs, err
	}
	if err := tx.Commit(); err != nil {
		return vs, patinaerr.Storage("commit "+v.name, err)
	}
	vs.To = to
	return vs, nil
}

func (m *Materializer) viewWatermark(name string) (uint64, error) {
	var seq uint64
	err := m.db.QueryRow(`SELECT seq FROM view_watermarks WHERE view = ?`, name).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, patinaerr.Storage("watermark "+name, err)
	}
	return seq, nil
}

// Watermarks returns the current per-view high-water marks.
func (m *Materializer) Watermarks() (map[string]uint64, error) {
	rows, err := m.db.Query(`SELECT view, seq FROM view_watermarks`)
	if err != nil {
		return nil, patinaerr.Storage("watermarks", err)
	}
	defer rows.Close()
	out := make(map[string]uint64)
	for rows.Next() {
		var name string
		var seq uint64
		if err := rows.Scan(&name, &seq); err != nil {
			return nil, patinaerr.Storage("watermarks", err)
		}
		out[name] = seq
	}
	return out, rows.Err()
}

func setWatermark(tx *sql.Tx, name string, seq uint64) error {
	_, err := tx.Exec(`
		INSERT INTO view_watermarks (view, seq) VALUES (?, ?)
		ON CONFLICT(view) DO UPDATE SET seq = excluded.seq
	`, name, seq)
	if err != nil {
		return patinaerr.Storage("set watermark "+name, err)
	}
	return nil
}
