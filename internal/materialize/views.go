package materialize

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/NicabarNimble/patina/internal/eventlog"
)

// viewSchema holds every derived table. Views carry no authoritative
// data; dropping any of them and replaying the log restores them.
const viewSchema = `
CREATE TABLE IF NOT EXISTS view_watermarks (
	view TEXT PRIMARY KEY,
	seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS commits (
	sha TEXT PRIMARY KEY,
	author TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	committed_at TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	file_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS commit_files (
	sha TEXT NOT NULL,
	file TEXT NOT NULL,
	PRIMARY KEY (sha, file)
);
CREATE INDEX IF NOT EXISTS idx_commit_files_file ON commit_files(file);

CREATE TABLE IF NOT EXISTS co_changes (
	file_a TEXT NOT NULL,
	file_b TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (file_a, file_b)
);
CREATE INDEX IF NOT EXISTS idx_co_changes_b ON co_changes(file_b);

CREATE TABLE IF NOT EXISTS functions (
	qualified TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	file TEXT NOT NULL,
	line INTEGER NOT NULL DEFAULT 0,
	end_line INTEGER NOT NULL DEFAULT 0,
	signature TEXT NOT NULL DEFAULT '',
	context TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_functions_name ON functions(name);
CREATE INDEX IF NOT EXISTS idx_functions_file ON functions(file);

CREATE TABLE IF NOT EXISTS imports (
	file TEXT NOT NULL,
	imported TEXT NOT NULL,
	resolved TEXT NOT NULL DEFAULT '',
	line INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (file, imported, line)
);
CREATE INDEX IF NOT EXISTS idx_imports_resolved ON imports(resolved);

CREATE TABLE IF NOT EXISTS call_graph (
	caller TEXT NOT NULL,
	callee TEXT NOT NULL,
	file TEXT NOT NULL,
	line INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (caller, callee, file, line)
);
CREATE INDEX IF NOT EXISTS idx_call_graph_callee ON call_graph(callee);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL DEFAULT '',
	ended_at TEXT NOT NULL DEFAULT '',
	files TEXT NOT NULL DEFAULT '[]',
	decision_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS patterns (
	name TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	statement TEXT NOT NULL DEFAULT '',
	file TEXT NOT NULL DEFAULT '',
	links TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS beliefs (
	belief_id TEXT PRIMARY KEY,
	statement TEXT NOT NULL DEFAULT '',
	file TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	supports TEXT NOT NULL DEFAULT '[]',
	attacks TEXT NOT NULL DEFAULT '[]',
	query_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS citations (
	target TEXT NOT NULL,
	source_kind TEXT NOT NULL,
	source_id TEXT NOT NULL,
	PRIMARY KEY (target, source_kind, source_id)
);
CREATE INDEX IF NOT EXISTS idx_citations_target ON citations(target);

CREATE TABLE IF NOT EXISTS milestones (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	occurred_at TEXT NOT NULL DEFAULT '',
	source_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS module_signals (
	file TEXT PRIMARY KEY,
	importer_count INTEGER NOT NULL DEFAULT 0,
	commit_count INTEGER NOT NULL DEFAULT 0,
	activity_level TEXT NOT NULL DEFAULT 'cold',
	is_entry_point INTEGER NOT NULL DEFAULT 0,
	is_test INTEGER NOT NULL DEFAULT 0,
	composite_score REAL NOT NULL DEFAULT 0
);
`

// --- commits / commit_files ---

func resetCommits(tx *sql.Tx) error {
	for _, stmt := range []string{`DELETE FROM commits`, `DELETE FROM commit_files`} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func applyCommit(tx *sql.Tx, ev eventlog.Event) error {
	var p eventlog.CommitPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("commit payload: %w", err)
	}
	if p.SHA == "" {
		return fmt.Errorf("commit payload missing sha")
	}
	_, err := tx.Exec(`
		INSERT INTO commits (sha, author, email, committed_at, subject, file_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(sha) DO NOTHING
	`, p.SHA, p.Author, p.Email, p.Timestamp, p.Subject, len(p.Files))
	if err != nil {
		return err
	}
	for _, f := range p.Files {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO commit_files (sha, file) VALUES (?, ?)`, p.SHA, f); err != nil {
			return err
		}
	}
	return nil
}

// --- co_changes ---

func resetCoChanges(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM co_changes`)
	return err
}

// applyCoChange counts unordered pairs of files changed in one commit.
// Pairs are stored with file_a < file_b lexicographically.
func applyCoChange(tx *sql.Tx, ev eventlog.Event) error {
	var p eventlog.CommitPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("commit payload: %w", err)
	}
	files := dedupeSorted(p.Files)
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			a, b := files[i], files[j]
			if a > b {
				a, b = b, a
			}
			_, err := tx.Exec(`
				INSERT INTO co_changes (file_a, file_b, count) VALUES (?, ?, 1)
				ON CONFLICT(file_a, file_b) DO UPDATE SET count = count + 1
			`, a, b)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// --- functions / imports / call_graph ---

func resetFunctions(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM functions`)
	return err
}

func applyFunction(tx *sql.Tx, ev eventlog.Event) error {
	var p eventlog.FunctionPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("function payload: %w", err)
	}
	if p.Qualified == "" {
		return fmt.Errorf("function payload missing qualified name")
	}
	_, err := tx.Exec(`
		INSERT INTO functions (qualified, name, file, line, end_line, signature, context, language)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(qualified) DO UPDATE SET
			line = excluded.line, end_line = excluded.end_line,
			signature = excluded.signature, context = excluded.context
	`, p.Qualified, p.Name, p.File, p.Line, p.EndLine, p.Signature, p.Context, p.Language)
	return err
}

func resetImports(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM imports`)
	return err
}

func applyImport(tx *sql.Tx, ev eventlog.Event) error {
	var p eventlog.ImportPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("import payload: %w", err)
	}
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO imports (file, imported, resolved, line) VALUES (?, ?, ?, ?)
	`, p.File, p.Imported, p.Resolved, p.Line)
	return err
}

func resetCallGraph(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM call_graph`)
	return err
}

func applyCall(tx *sql.Tx, ev eventlog.Event) error {
	var p eventlog.CallPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("call payload: %w", err)
	}
	if p.Caller == "" || p.Callee == "" {
		return fmt.Errorf("call payload missing endpoints")
	}
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO call_graph (caller, callee, file, line) VALUES (?, ?, ?, ?)
	`, p.Caller, p.Callee, p.File, p.Line)
	return err
}

// --- sessions ---

func resetSessions(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM sessions`)
	return err
}

func applySession(tx *sql.Tx, ev eventlog.Event) error {
	var p eventlog.SessionPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("session payload: %w", err)
	}
	if p.SessionID == "" {
		return fmt.Errorf("session payload missing id")
	}
	switch ev.Type {
	case eventlog.KindSessionStarted:
		files, _ := json.Marshal(p.Files)
		_, err := tx.Exec(`
			INSERT INTO sessions (session_id, title, started_at, files)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET title = excluded.title, started_at = excluded.started_at
		`, p.SessionID, p.Title, p.Started, string(files))
		return err
	case eventlog.KindSessionEnded:
		if len(p.Files) > 0 {
			files, _ := json.Marshal(p.Files)
			_, err := tx.Exec(`
				INSERT INTO sessions (session_id, ended_at, files) VALUES (?, ?, ?)
				ON CONFLICT(session_id) DO UPDATE SET ended_at = excluded.ended_at, files = excluded.files
			`, p.SessionID, p.Ended, string(files))
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO sessions (session_id, ended_at) VALUES (?, ?)
			ON CONFLICT(session_id) DO UPDATE SET ended_at = excluded.ended_at
		`, p.SessionID, p.Ended)
		return err
	case eventlog.KindSessionDecision:
		_, err := tx.Exec(`
			INSERT INTO sessions (session_id, decision_count) VALUES (?, 1)
			ON CONFLICT(session_id) DO UPDATE SET decision_count = decision_count + 1
		`, p.SessionID)
		return err
	}
	return nil
}

// --- patterns ---

func resetPatterns(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM patterns`)
	return err
}

func applyPattern(tx *sql.Tx, ev eventlog.Event) error {
	var p eventlog.PatternPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("pattern payload: %w", err)
	}
	if p.Name == "" {
		return fmt.Errorf("pattern payload missing name")
	}
	kind := "surface"
	if ev.Type == eventlog.KindPatternCore {
		kind = "core"
	}
	links, _ := json.Marshal(p.Links)
	_, err := tx.Exec(`
		INSERT INTO patterns (name, kind, statement, file, links) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind, statement = excluded.statement,
			file = excluded.file, links = excluded.links
	`, p.Name, kind, p.Statement, ev.SourceFile, string(links))
	return err
}

// --- beliefs + citations ---

func resetBeliefs(tx *sql.Tx) error {
	for _, stmt := range []string{`DELETE FROM beliefs`, `DELETE FROM citations`} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// wikilinkRe matches [[target]] citations in prose bodies.
var wikilinkRe = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// applyBelief folds belief.surface events into the beliefs table and
// records inbound citations from beliefs and sessions alike.
func applyBelief(tx *sql.Tx, ev eventlog.Event) error {
	switch ev.Type {
	case eventlog.KindBeliefSurface:
		var p eventlog.BeliefPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("belief payload: %w", err)
		}
		if p.BeliefID == "" {
			return fmt.Errorf("belief payload missing id")
		}
		supports, _ := json.Marshal(p.Supports)
		attacks, _ := json.Marshal(p.Attacks)
		_, err := tx.Exec(`
			INSERT INTO beliefs (belief_id, statement, file, body, supports, attacks, query_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(belief_id) DO UPDATE SET
				statement = excluded.statement, file = excluded.file, body = excluded.body,
				supports = excluded.supports, attacks = excluded.attacks,
				query_count = excluded.query_count
		`, p.BeliefID, p.Statement, ev.SourceFile, p.Body, string(supports), string(attacks), len(p.Queries))
		if err != nil {
			return err
		}
		for _, target := range citationTargets(p.Evidence, p.Body) {
			if target == p.BeliefID {
				continue
			}
			if err := insertCitation(tx, target, "belief", p.BeliefID); err != nil {
				return err
			}
		}
		return nil
	case eventlog.KindSessionStarted, eventlog.KindSessionEnded, eventlog.KindSessionDecision:
		var p eventlog.SessionPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("session payload: %w", err)
		}
		for _, target := range citationTargets(nil, p.Body+" "+p.Decision) {
			if err := insertCitation(tx, target, "session", p.SessionID); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func insertCitation(tx *sql.Tx, target, kind, source string) error {
	_, err := tx.Exec(`INSERT OR IGNORE INTO citations (target, source_kind, source_id) VALUES (?, ?, ?)`,
		target, kind, source)
	return err
}

// citationTargets merges explicit evidence links with [[wikilinks]]
// scanned out of the body text.
func citationTargets(evidence []string, body string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}
	for _, e := range evidence {
		add(strings.Trim(e, "[]"))
	}
	for _, match := range wikilinkRe.FindAllStringSubmatch(body, -1) {
		add(match[1])
	}
	return out
}

// --- milestones ---

func resetMilestones(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM milestones`)
	return err
}

func applyMilestone(tx *sql.Tx, ev eventlog.Event) error {
	switch ev.Type {
	case eventlog.KindGitTag:
		var p eventlog.TagPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("tag payload: %w", err)
		}
		if p.Name == "" {
			return fmt.Errorf("tag payload missing name")
		}
		_, err := tx.Exec(`
			INSERT INTO milestones (id, kind, title, occurred_at, source_id) VALUES (?, 'tag', ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, "tag:"+p.Name, p.Name, ev.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"), p.SHA)
		return err
	case eventlog.KindSessionDecision:
		var p eventlog.SessionPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return fmt.Errorf("session payload: %w", err)
		}
		if p.Decision == "" {
			return nil
		}
		_, err := tx.Exec(`
			INSERT INTO milestones (id, kind, title, occurred_at, source_id) VALUES (?, 'decision', ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, fmt.Sprintf("decision:%s:%d", p.SessionID, ev.Seq), p.Decision,
			ev.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"), p.SessionID)
		return err
	}
	return nil
}

// dedupeSorted returns the unique elements of files in sorted order.
func dedupeSorted(files []string) []string {
	seen := make(map[string]bool, len(files))
	var out []string
	for _, f := range files {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	// Insertion sort keeps the pair enumeration deterministic.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
