package scrape

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/NicabarNimble/patina/internal/eventlog"
	"github.com/NicabarNimble/patina/internal/patinaerr"
)

// scrapeSessions parses session markdown under layer/sessions/,
// extracting frontmatter metadata and the activity log. Each file yields
// a session.started event, a session.ended event when the session is
// closed, and one session.decision per recorded decision.
func (s *Suite) scrapeSessions() (Stats, error) {
	var stats Stats
	dir := s.ws.SessionsDir()
	files, err := markdownFiles(dir)
	if err != nil {
		return stats, &patinaerr.ScraperError{Source: "sessions", Err: err}
	}

	now := s.now()
	for _, path := range files {
		data, ok := mustRead(path, &stats)
		if !ok {
			continue
		}
		fm, body, err := splitFrontmatter(data)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		sessionID := fm.str("session", "id")
		if sessionID == "" {
			sessionID = strings.TrimSuffix(filepath.Base(path), ".md")
		}
		rel := s.rel(path)

		started := eventlog.SessionPayload{
			SessionID: sessionID,
			Title:     fm.str("title"),
			Started:   fm.str("started", "start"),
			Files:     fm.list("files"),
			Body:      body,
		}
		appended, err := s.appendOnce(eventlog.KindSessionStarted, now, sessionID, rel, started)
		if err != nil {
			return stats, err
		}
		bump(&stats, appended)

		if ended := fm.str("ended", "end"); ended != "" {
			payload := eventlog.SessionPayload{
				SessionID: sessionID,
				Ended:     ended,
				Files:     activityFiles(body),
			}
			appended, err := s.appendOnce(eventlog.KindSessionEnded, now, sessionID+":ended", rel, payload)
			if err != nil {
				return stats, err
			}
			bump(&stats, appended)
		}

		for i, decision := range decisions(body) {
			payload := eventlog.SessionPayload{
				SessionID: sessionID,
				Decision:  decision,
			}
			sourceID := fmt.Sprintf("%s:decision:%d", sessionID, i)
			appended, err := s.appendOnce(eventlog.KindSessionDecision, now, sourceID, rel, payload)
			if err != nil {
				return stats, err
			}
			bump(&stats, appended)
		}
	}
	return stats, nil
}

// activityFiles pulls file paths out of the activity-log section.
// Entries are bullets of the form "- edited src/foo.rs" or bare paths.
func activityFiles(body string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range bullets(section(body, "Activity Log")) {
		for _, word := range strings.Fields(item) {
			word = strings.Trim(word, "`,.")
			if strings.ContainsRune(word, '/') || strings.ContainsRune(word, '.') {
				if looksLikePath(word) && !seen[word] {
					seen[word] = true
					out = append(out, word)
				}
			}
		}
	}
	return out
}

func looksLikePath(word string) bool {
	if strings.HasPrefix(word, "http://") || strings.HasPrefix(word, "https://") {
		return false
	}
	ext := filepath.Ext(word)
	return ext != "" && len(ext) <= 6 && !strings.ContainsAny(word, "()[]{}")
}

// decisions pulls decision lines from the Decisions section plus any
// activity bullets prefixed "decision:".
func decisions(body string) []string {
	var out []string
	out = append(out, bullets(section(body, "Decisions"))...)
	for _, item := range bullets(section(body, "Activity Log")) {
		if rest, ok := strings.CutPrefix(item, "decision:"); ok {
			out = append(out, strings.TrimSpace(rest))
		}
	}
	return out
}

// scrapeLayer ingests core and surface pattern markdown under
// layer/patterns/.
func (s *Suite) scrapeLayer() (Stats, error) {
	var stats Stats
	root := filepath.Join(s.ws.LayerDir(), "patterns")

	for _, sub := range []struct {
		dir  string
		kind eventlog.Kind
	}{
		{"core", eventlog.KindPatternCore},
		{"surface", eventlog.KindPatternSurface},
	} {
		files, err := markdownFiles(filepath.Join(root, sub.dir))
		if err != nil {
			return stats, &patinaerr.ScraperError{Source: "layer", Err: err}
		}
		now := s.now()
		for _, path := range files {
			data, ok := mustRead(path, &stats)
			if !ok {
				continue
			}
			fm, body, err := splitFrontmatter(data)
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			name := fm.str("name", "pattern")
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), ".md")
			}
			payload := eventlog.PatternPayload{
				Name:      name,
				Statement: fm.str("statement", "summary"),
				Body:      body,
				Links:     wikilinks(body),
			}
			appended, err := s.appendOnce(sub.kind, now, name, s.rel(path), payload)
			if err != nil {
				return stats, err
			}
			bump(&stats, appended)
		}
	}
	return stats, nil
}

// scrapeBeliefs ingests belief files: frontmatter, statement, evidence
// wikilinks, supports/attacks relations, and verification query blocks.
func (s *Suite) scrapeBeliefs() (Stats, error) {
	var stats Stats
	files, err := markdownFiles(filepath.Join(s.ws.LayerDir(), "beliefs"))
	if err != nil {
		return stats, &patinaerr.ScraperError{Source: "beliefs", Err: err}
	}

	now := s.now()
	for _, path := range files {
		data, ok := mustRead(path, &stats)
		if !ok {
			continue
		}
		fm, body, err := splitFrontmatter(data)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		id := fm.str("belief", "id")
		if id == "" {
			id = strings.TrimSuffix(filepath.Base(path), ".md")
		}
		statement := fm.str("statement")
		if statement == "" {
			statement = firstParagraph(body)
		}
		payload := eventlog.BeliefPayload{
			BeliefID:  id,
			Statement: statement,
			Evidence:  wikilinks(section(body, "Evidence")),
			Supports:  fm.list("supports"),
			Attacks:   fm.list("attacks"),
			Queries:   fencedBlocks(body, "query"),
			Body:      body,
		}
		appended, err := s.appendOnce(eventlog.KindBeliefSurface, now, "belief:"+id, s.rel(path), payload)
		if err != nil {
			return stats, err
		}
		bump(&stats, appended)
	}
	return stats, nil
}

// --- shared helpers ---

func markdownFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// mustRead reads a file, recording failures in stats.
func mustRead(path string, stats *Stats) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, err))
		return nil, false
	}
	return data, true
}

func (s *Suite) rel(path string) string {
	rel, err := filepath.Rel(s.ws.Root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// wikilinks returns the unique [[link]] targets in body, in order.
func wikilinks(body string) []string {
	seen := make(map[string]bool)
	var out []string
	rest := body
	for {
		start := strings.Index(rest, "[[")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "]]")
		if end < 0 {
			break
		}
		link := strings.TrimSpace(rest[start+2 : start+end])
		if link != "" && !seen[link] {
			seen[link] = true
			out = append(out, link)
		}
		rest = rest[start+end+2:]
	}
	return out
}

func firstParagraph(body string) string {
	for _, para := range strings.Split(strings.TrimSpace(body), "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" && !strings.HasPrefix(para, "#") {
			return para
		}
	}
	return ""
}
