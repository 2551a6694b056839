// Command patina is the CLI wrapper around the retrieval engine.
//
// Exit codes: 0 success, 1 user error, 2 project not initialized,
// 3 internal error, 4 oracle partial failure reported with results.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/NicabarNimble/patina/internal/patinaerr"
)

const (
	exitOK             = 0
	exitUserError      = 1
	exitNotInitialized = 2
	exitInternal       = 3
	exitPartial        = 4
)

var cli struct {
	Dir string `help:"Project directory." default:"." type:"path"`

	Init        InitCmd        `cmd:"" help:"Create the .patina skeleton for a project."`
	Scrape      ScrapeCmd      `cmd:"" help:"Extract events from code, git, sessions, layer, or beliefs."`
	Materialize MaterializeCmd `cmd:"" help:"Rebuild derived views from the event log."`
	Oxidize     OxidizeCmd     `cmd:"" help:"Train projections and build vector indices."`
	Scry        ScryCmd        `cmd:"" help:"Query the knowledge base."`
	Use         UseCmd         `cmd:"" help:"Record that a query result was acted on."`
	Status      StatusCmd      `cmd:"" help:"Show per-component health."`
	Sessions    SessionsCmd    `cmd:"" help:"List materialized work sessions."`
}

func main() {
	_ = godotenv.Load()

	ktx := kong.Parse(&cli,
		kong.Name("patina"),
		kong.Description("Context orchestration for AI-assisted development."),
		kong.UsageOnError(),
		kong.BindTo(context.Background(), (*context.Context)(nil)),
	)

	err := ktx.Run()
	os.Exit(exitCode(err))
}

// exitCode maps the error taxonomy onto the CLI contract.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "patina:", err)

	var partial *partialFailure
	switch {
	case errors.Is(err, patinaerr.ErrNotInitialized):
		return exitNotInitialized
	case errors.As(err, &partial):
		return exitPartial
	case isUserError(err):
		return exitUserError
	default:
		return exitInternal
	}
}

// partialFailure marks operations that produced output but had
// component-level failures worth a distinct exit code.
type partialFailure struct {
	msg string
}

func (p *partialFailure) Error() string { return p.msg }

type userError struct {
	msg string
}

func (u *userError) Error() string { return u.msg }

func isUserError(err error) bool {
	var ue *userError
	return errors.As(err, &ue)
}
