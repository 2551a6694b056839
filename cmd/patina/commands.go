package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/NicabarNimble/patina/internal/config"
	"github.com/NicabarNimble/patina/internal/engine"
	"github.com/NicabarNimble/patina/internal/fusion"
	"github.com/NicabarNimble/patina/internal/scrape"
	"github.com/NicabarNimble/patina/internal/workspace"
)

// openEngine builds the engine for the --dir project.
func openEngine() (*engine.Engine, error) {
	return engine.New(cli.Dir)
}

// InitCmd creates the project skeleton.
type InitCmd struct{}

func (c *InitCmd) Run(ctx context.Context) error {
	ws, err := workspace.Init(cli.Dir)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(ws.ConfigPath()); os.IsNotExist(statErr) {
		if err := config.Default().Save(ws.ConfigPath()); err != nil {
			return err
		}
	}
	fmt.Println("initialized", ws.PatinaDir())
	return nil
}

// ScrapeCmd runs one or all scrapers.
type ScrapeCmd struct {
	Scope string `arg:"" optional:"" default:"all" enum:"code,git,sessions,layer,beliefs,github,all" help:"Which scraper to run."`
}

func (c *ScrapeCmd) Run(ctx context.Context) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	stats, err := eng.Scrape(scrape.Scope(c.Scope))
	if err != nil {
		return err
	}
	fmt.Printf("appended %d events, skipped %d unchanged items\n", stats.EventsAppended, stats.ItemsSkipped)
	for _, e := range stats.Errors {
		fmt.Fprintln(os.Stderr, "  item error:", e)
	}
	if len(stats.Failed) > 0 {
		var parts []string
		for name, reason := range stats.Failed {
			parts = append(parts, name+": "+reason)
		}
		sort.Strings(parts)
		return &partialFailure{msg: "some scrapers failed: " + strings.Join(parts, "; ")}
	}
	return nil
}

// MaterializeCmd rebuilds derived views.
type MaterializeCmd struct {
	View  string `arg:"" optional:"" help:"Rebuild only this view."`
	Force bool   `help:"Drop existing rows and replay from sequence 0."`
}

func (c *MaterializeCmd) Run(ctx context.Context) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	stats, err := eng.Materialize(c.View, c.Force)
	if err != nil {
		if strings.Contains(err.Error(), "unknown view") {
			return &userError{msg: err.Error()}
		}
		return err
	}
	names := make([]string, 0, len(stats.Views))
	for name := range stats.Views {
		names = append(names, name)
	}
	sort.Strings(names)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VIEW\tAPPLIED\tERRORS\tWATERMARK")
	for _, name := range names {
		vs := stats.Views[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", name, vs.Applied, vs.Errors, vs.To)
	}
	return w.Flush()
}

// OxidizeCmd trains projections and builds indices.
type OxidizeCmd struct {
	Recipe string `help:"Path to a YAML recipe; omit for the default." type:"path"`
}

func (c *OxidizeCmd) Run(ctx context.Context) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	stats, err := eng.Oxidize(ctx, c.Recipe)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(stats.Dimensions))
	for name := range stats.Dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ds := stats.Dimensions[name]
		if ds.Skipped {
			fmt.Printf("%s: skipped (%s)\n", name, ds.Reason)
		} else {
			fmt.Printf("%s: trained on %d pairs, indexed %d docs\n", name, ds.Pairs, ds.Docs)
		}
	}
	return nil
}

// ScryCmd queries the knowledge base.
type ScryCmd struct {
	Query     string   `arg:"" help:"Query text, or a file/symbol for the alternate modes."`
	Limit     int      `help:"Maximum results." default:"10"`
	Mode      string   `help:"Query mode." default:"default" enum:"default,co-changers,callers,callees,dimension"`
	Dimension string   `help:"Trained dimension for --mode=dimension."`
	Oracles   []string `help:"Restrict to these oracles."`
}

func (c *ScryCmd) Run(ctx context.Context) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	var results []fusion.Result
	switch c.Mode {
	case "default":
		results, err = eng.Query(ctx, c.Query, engine.QueryOptions{Limit: c.Limit, Oracles: c.Oracles, Mode: c.Mode})
	case "dimension":
		if c.Dimension == "" {
			return &userError{msg: "--mode=dimension requires --dimension"}
		}
		results, err = eng.QueryDimension(ctx, c.Dimension, c.Query, c.Limit)
	default:
		results, err = eng.QueryAlt(ctx, c.Mode, c.Query, engine.QueryOptions{Limit: c.Limit})
	}
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. %s  (%.4f via %s)\n", i+1, r.DocID, r.Score, strings.Join(r.Oracles, ","))
		if r.Content != "" {
			fmt.Printf("    %s\n", r.Content)
		}
		if r.Annotations != nil {
			fmt.Printf("    [importers %d, %s%s]\n", r.Annotations.ImporterCount, r.Annotations.ActivityLevel,
				entrySuffix(r.Annotations.IsEntryPoint))
		}
	}
	// Oracles that failed during this query are recorded in status with
	// a "query error: " reason; report them after the results.
	if st, stErr := eng.Status(); stErr == nil {
		var failed []string
		for name, reason := range st.Unavailable {
			if strings.HasPrefix(reason, "query error: ") {
				failed = append(failed, name+": "+reason)
			}
		}
		if len(failed) > 0 {
			sort.Strings(failed)
			return &partialFailure{msg: "some oracles failed: " + strings.Join(failed, "; ")}
		}
	}
	return nil
}

func entrySuffix(entry bool) string {
	if entry {
		return ", entry point"
	}
	return ""
}

// UseCmd records the feedback signal for the eval loop.
type UseCmd struct {
	QuerySeq uint64 `arg:"" help:"Sequence number of the scry.query event."`
	DocID    string `arg:"" help:"Doc id that was acted on."`
}

func (c *UseCmd) Run(ctx context.Context) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()
	return eng.RecordUse(c.QuerySeq, c.DocID)
}

// StatusCmd prints per-component health.
type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	st, err := eng.Status()
	if err != nil {
		return err
	}
	fmt.Println("model:", st.Model)
	fmt.Println("eventlog seq:", st.LastSeq)

	names := make([]string, 0, len(st.Oracles))
	for name := range st.Oracles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("oracle %-12s %s\n", name, st.Oracles[name])
	}
	names = names[:0]
	for name := range st.Unavailable {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("oracle %-12s unavailable: %s\n", name, st.Unavailable[name])
	}
	return nil
}

// SessionsCmd lists materialized sessions.
type SessionsCmd struct{}

func (c *SessionsCmd) Run(ctx context.Context) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	sessions, err := eng.Sessions()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tTITLE\tSTARTED\tENDED\tDECISIONS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", s.ID, s.Title, s.Started, s.Ended, s.Decisions)
	}
	return w.Flush()
}
