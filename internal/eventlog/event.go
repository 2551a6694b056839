// Package eventlog provides the append-only event store that is the sole
// source of truth for a project. Events are immutable once written;
// everything else in the engine is derived from them.
package eventlog

import (
	"encoding/json"
	"time"
)

// Kind tags an event with its payload schema. The set is closed; schema
// evolution happens by adding a new kind, never by mutating old events.
type Kind string

const (
	// Git history
	KindGitCommit Kind = "git.commit"
	KindGitTag    Kind = "git.tag"

	// Code facts from language parsers
	KindCodeFunction Kind = "code.function"
	KindCodeCall     Kind = "code.call"
	KindCodeImport   Kind = "code.import"

	// Work sessions
	KindSessionStarted  Kind = "session.started"
	KindSessionEnded    Kind = "session.ended"
	KindSessionDecision Kind = "session.decision"

	// Prose layer
	KindPatternCore    Kind = "pattern.core"
	KindPatternSurface Kind = "pattern.surface"
	KindBeliefSurface  Kind = "belief.surface"

	// Query feedback loop
	KindScryQuery Kind = "scry.query"
	KindScryUse   Kind = "scry.use"

	// External issue tracker (optional scraper)
	KindGitHubIssue Kind = "github.issue"
)

// Kinds lists every known event kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindGitCommit, KindGitTag,
		KindCodeFunction, KindCodeCall, KindCodeImport,
		KindSessionStarted, KindSessionEnded, KindSessionDecision,
		KindPatternCore, KindPatternSurface, KindBeliefSurface,
		KindScryQuery, KindScryUse,
		KindGitHubIssue,
	}
}

// Event is the atomic unit of the log.
type Event struct {
	Seq        uint64          `json:"seq"`
	Type       Kind            `json:"event_type"`
	Timestamp  time.Time       `json:"timestamp"`
	SourceID   string          `json:"source_id"`   // commit SHA, symbol FQN, session id, ...
	SourceFile string          `json:"source_file"` // origin file path, may be empty
	Data       json.RawMessage `json:"data"`        // kind-specific payload
}

// CommitPayload is the data schema for git.commit events. Diffs are
// excluded; only metadata and the changed-file list are stored.
type CommitPayload struct {
	SHA       string   `json:"sha"`
	Author    string   `json:"author"`
	Email     string   `json:"email"`
	Timestamp string   `json:"timestamp"`
	Subject   string   `json:"subject"`
	Files     []string `json:"files"`
}

// TagPayload is the data schema for git.tag events.
type TagPayload struct {
	Name    string `json:"name"`
	SHA     string `json:"sha"`
	Message string `json:"message,omitempty"`
}

// FunctionPayload is the data schema for code.function events.
type FunctionPayload struct {
	Name      string `json:"name"`
	Qualified string `json:"qualified"` // ./path::fn:name
	File      string `json:"file"`
	Line      int    `json:"line"`
	EndLine   int    `json:"end_line,omitempty"`
	Signature string `json:"signature,omitempty"`
	Context   string `json:"context,omitempty"` // surrounding doc/body excerpt
	Language  string `json:"language"`
}

// CallPayload is the data schema for code.call events. Callee resolution
// is textual; ambiguity is permitted and recorded downstream.
type CallPayload struct {
	Caller string `json:"caller"` // qualified name of the calling function
	Callee string `json:"callee"` // unqualified callee name
	File   string `json:"file"`
	Line   int    `json:"line"`
}

// ImportPayload is the data schema for code.import events.
type ImportPayload struct {
	File     string `json:"file"`
	Imported string `json:"imported"` // module path or file as written in source
	Resolved string `json:"resolved,omitempty"`
	Line     int    `json:"line"`
}

// SessionPayload is the data schema for session.* events.
type SessionPayload struct {
	SessionID string   `json:"session_id"`
	Title     string   `json:"title,omitempty"`
	Started   string   `json:"started,omitempty"`
	Ended     string   `json:"ended,omitempty"`
	Files     []string `json:"files,omitempty"`    // files touched, from activity log
	Decision  string   `json:"decision,omitempty"` // for session.decision
	Body      string   `json:"body,omitempty"`
}

// PatternPayload is the data schema for pattern.* events.
type PatternPayload struct {
	Name      string   `json:"name"`
	Statement string   `json:"statement"`
	Body      string   `json:"body,omitempty"`
	Links     []string `json:"links,omitempty"` // [[wikilink]] targets
}

// BeliefPayload is the data schema for belief.surface events.
type BeliefPayload struct {
	BeliefID  string   `json:"belief_id"`
	Statement string   `json:"statement"`
	Evidence  []string `json:"evidence,omitempty"` // [[wikilink]] targets
	Supports  []string `json:"supports,omitempty"`
	Attacks   []string `json:"attacks,omitempty"`
	Queries   []string `json:"queries,omitempty"` // verification query blocks
	Body      string   `json:"body,omitempty"`
}

// ScryQueryPayload is the canonical query-log schema. External tooling
// depends on this shape; change it only by adding fields.
type ScryQueryPayload struct {
	Query   string             `json:"query"`
	Oracles []OracleLogEntry   `json:"oracles"`
	Top     []FusedLogEntry    `json:"top_fused"`
	Mode    string             `json:"mode"`
}

// OracleLogEntry records one oracle contribution in a scry.query event.
type OracleLogEntry struct {
	Name     string  `json:"name"`
	Rank     int     `json:"rank"`
	DocID    string  `json:"doc_id"`
	RawScore float64 `json:"raw_score"`
}

// FusedLogEntry records one fused result in a scry.query event.
type FusedLogEntry struct {
	DocID      string  `json:"doc_id"`
	FusedScore float64 `json:"fused_score"`
}

// ScryUsePayload marks that a caller acted on a previously returned doc.
type ScryUsePayload struct {
	QuerySeq uint64 `json:"query_seq"`
	DocID    string `json:"doc_id"`
}

// IssuePayload is the data schema for github.issue events.
type IssuePayload struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	State  string   `json:"state"`
	Labels []string `json:"labels,omitempty"`
	Body   string   `json:"body,omitempty"`
}
