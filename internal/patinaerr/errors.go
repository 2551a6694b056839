// Package patinaerr defines the error taxonomy shared across the engine.
//
// Scrapers and oracles fail locally: their errors are recorded in stats or
// status and the surrounding operation proceeds. Storage errors propagate
// and abort the operation.
package patinaerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra context.
var (
	// ErrNotInitialized means the project root has no .patina/ directory
	// with the required schema.
	ErrNotInitialized = errors.New("project not initialized: run patina init")

	// ErrModelUnavailable means the embedding model could not be reached
	// or loaded.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrEmbeddingFailed means the model was reachable but inference
	// failed.
	ErrEmbeddingFailed = errors.New("embedding inference failed")
)

// StorageError wraps a failure of the underlying database. It aborts the
// operation it occurs in.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError for the named operation.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ScraperError reports a failure of one scraper. Other scrapers continue.
type ScraperError struct {
	Source string // scraper name: "code", "git", ...
	Err    error
}

func (e *ScraperError) Error() string {
	return fmt.Sprintf("scraper %s: %v", e.Source, e.Err)
}

func (e *ScraperError) Unwrap() error { return e.Err }

// OracleUnavailable reports that an oracle could not be constructed.
// Recorded in engine status; does not block engine construction.
type OracleUnavailable struct {
	Name   string
	Reason string
}

func (e *OracleUnavailable) Error() string {
	return fmt.Sprintf("oracle %s unavailable: %s", e.Name, e.Reason)
}

// OracleQueryError reports that an oracle failed during a query. The
// oracle is excluded from fusion for that query.
type OracleQueryError struct {
	Name string
	Err  error
}

func (e *OracleQueryError) Error() string {
	return fmt.Sprintf("oracle %s query failed: %v", e.Name, e.Err)
}

func (e *OracleQueryError) Unwrap() error { return e.Err }

// GranularityMismatch reports an attempt to fuse oracles whose doc-ID
// grains differ and no promotion rule applies.
type GranularityMismatch struct {
	Grains []string
}

func (e *GranularityMismatch) Error() string {
	return fmt.Sprintf("cannot fuse oracles across grains %v without a promotion rule", e.Grains)
}

// SchemaMismatch reports that a loaded vector index dimension differs
// from the trained projection dimension. Hard error at load time.
type SchemaMismatch struct {
	Path      string
	IndexDim  int
	ExpectDim int
}

func (e *SchemaMismatch) Error() string {
	return fmt.Sprintf("vector index %s has dimension %d, projection expects %d", e.Path, e.IndexDim, e.ExpectDim)
}
