package scrape

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/NicabarNimble/patina/internal/eventlog"
	"github.com/NicabarNimble/patina/internal/patinaerr"
)

// Record separators for the git log format. Unit separator between
// fields, record separator between commits; neither occurs in subjects.
const (
	gitFieldSep  = "\x1f"
	gitRecordSep = "\x1e"
)

// scrapeGit ingests commit metadata and annotated tags via the platform
// git tool. Incremental: commits already in the log are skipped by SHA.
func (s *Suite) scrapeGit() (Stats, error) {
	var stats Stats

	if _, err := s.git("rev-parse", "--git-dir"); err != nil {
		return stats, &patinaerr.ScraperError{Source: "git", Err: fmt.Errorf("not a git repository: %w", err)}
	}

	out, err := s.git("log", "--reverse", "--name-only",
		"--pretty=format:"+gitRecordSep+"%H"+gitFieldSep+"%an"+gitFieldSep+"%ae"+gitFieldSep+"%aI"+gitFieldSep+"%s")
	if err != nil {
		// An empty repository has no HEAD yet; that is not a failure.
		if strings.Contains(err.Error(), "does not have any commits") {
			return stats, nil
		}
		return stats, &patinaerr.ScraperError{Source: "git", Err: err}
	}

	now := s.now()
	for _, record := range strings.Split(out, gitRecordSep) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		lines := strings.Split(record, "\n")
		fields := strings.Split(lines[0], gitFieldSep)
		if len(fields) < 5 {
			stats.Errors = append(stats.Errors, "malformed git log record")
			continue
		}
		payload := eventlog.CommitPayload{
			SHA:       fields[0],
			Author:    fields[1],
			Email:     fields[2],
			Timestamp: fields[3],
			Subject:   fields[4],
		}
		for _, l := range lines[1:] {
			l = strings.TrimSpace(l)
			if l != "" {
				payload.Files = append(payload.Files, l)
			}
		}
		appended, err := s.appendOnce(eventlog.KindGitCommit, now, payload.SHA, "", payload)
		if err != nil {
			return stats, err
		}
		bump(&stats, appended)
	}

	tagStats, err := s.scrapeTags()
	stats.merge(tagStats)
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// scrapeTags ingests annotated and lightweight tags.
func (s *Suite) scrapeTags() (Stats, error) {
	var stats Stats
	out, err := s.git("for-each-ref", "refs/tags",
		"--format=%(refname:short)"+gitFieldSep+"%(objectname)"+gitFieldSep+"%(subject)")
	if err != nil {
		return stats, &patinaerr.ScraperError{Source: "git", Err: err}
	}
	now := s.now()
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, gitFieldSep)
		if len(fields) < 2 {
			stats.Errors = append(stats.Errors, "malformed tag record")
			continue
		}
		payload := eventlog.TagPayload{Name: fields[0], SHA: fields[1]}
		if len(fields) > 2 {
			payload.Message = fields[2]
		}
		appended, err := s.appendOnce(eventlog.KindGitTag, now, "tag:"+payload.Name, "", payload)
		if err != nil {
			return stats, err
		}
		bump(&stats, appended)
	}
	return stats, nil
}

// git runs the git binary rooted at the project directory.
func (s *Suite) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = s.ws.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}
