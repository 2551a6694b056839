// Package scrape translates source material into events.
//
// Every scraper is idempotent: re-running over unchanged input appends
// nothing, enforced by checking the log for the same (kind, source id)
// before appending. One failing scraper never blocks the others.
package scrape

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/NicabarNimble/patina/internal/config"
	"github.com/NicabarNimble/patina/internal/eventlog"
	"github.com/NicabarNimble/patina/internal/logging"
	"github.com/NicabarNimble/patina/internal/patinaerr"
	"github.com/NicabarNimble/patina/internal/workspace"
)

// Scope selects which scrapers run.
type Scope string

const (
	ScopeCode     Scope = "code"
	ScopeGit      Scope = "git"
	ScopeSessions Scope = "sessions"
	ScopeLayer    Scope = "layer"
	ScopeBeliefs  Scope = "beliefs"
	ScopeGitHub   Scope = "github"
	ScopeAll      Scope = "all"
)

// Stats reports one scrape run. Errors holds per-item failures that were
// skipped; a scraper-level failure appears in Failed.
type Stats struct {
	EventsAppended int
	ItemsSkipped   int
	Errors         []string
	Failed         map[string]string // scraper name -> failure reason
}

func (s *Stats) merge(other Stats) {
	s.EventsAppended += other.EventsAppended
	s.ItemsSkipped += other.ItemsSkipped
	s.Errors = append(s.Errors, other.Errors...)
}

// Suite runs scrapers against one project workspace.
type Suite struct {
	ws    *workspace.Workspace
	store *eventlog.Store
	cfg   *config.Config
	log   zerolog.Logger
	now   func() time.Time // injectable for tests
}

// NewSuite creates a scraper suite writing into store.
func NewSuite(ws *workspace.Workspace, store *eventlog.Store, cfg *config.Config) *Suite {
	return &Suite{
		ws:    ws,
		store: store,
		cfg:   cfg,
		log:   logging.New("scrape"),
		now:   time.Now,
	}
}

// Run executes the scrapers selected by scope. Individual scraper
// failures are recorded in Stats.Failed; storage errors abort.
func (s *Suite) Run(scope Scope) (Stats, error) {
	stats := Stats{Failed: make(map[string]string)}

	type job struct {
		name string
		fn   func() (Stats, error)
	}
	var jobs []job
	add := func(name string, want Scope, fn func() (Stats, error)) {
		if scope == ScopeAll || scope == want {
			jobs = append(jobs, job{name, fn})
		}
	}
	add("code", ScopeCode, s.scrapeCode)
	add("git", ScopeGit, s.scrapeGit)
	add("sessions", ScopeSessions, s.scrapeSessions)
	add("layer", ScopeLayer, s.scrapeLayer)
	add("beliefs", ScopeBeliefs, s.scrapeBeliefs)
	// GitHub depends on an authenticated gh binary; it only runs when
	// asked for explicitly.
	if scope == ScopeGitHub {
		jobs = append(jobs, job{"github", s.scrapeGitHub})
	}

	for _, j := range jobs {
		st, err := j.fn()
		stats.merge(st)
		if err != nil {
			var storageErr *patinaerr.StorageError
			if errors.As(err, &storageErr) {
				return stats, err
			}
			stats.Failed[j.name] = err.Error()
			s.log.Warn().Str("scraper", j.name).Err(err).Msg("scraper failed")
		}
	}
	return stats, nil
}

// appendOnce appends the event unless an identical (kind, source id)
// already exists. Returns true when an event was written.
func (s *Suite) appendOnce(kind eventlog.Kind, ts time.Time, sourceID, sourceFile string, payload any) (bool, error) {
	exists, err := s.store.Has(kind, sourceID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := s.store.Append(kind, ts, sourceID, sourceFile, payload); err != nil {
		return false, err
	}
	return true, nil
}
