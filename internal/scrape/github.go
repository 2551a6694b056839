package scrape

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/NicabarNimble/patina/internal/eventlog"
	"github.com/NicabarNimble/patina/internal/patinaerr"
)

// ghIssue mirrors the fields requested from the gh CLI.
type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Body   string `json:"body"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// scrapeGitHub dumps issues through the platform GitHub CLI. Optional:
// it only runs when asked for, and a missing or unauthenticated gh
// binary is a scraper-local failure.
func (s *Suite) scrapeGitHub() (Stats, error) {
	var stats Stats

	cmd := exec.Command("gh", "issue", "list", "--state", "all", "--limit", "500",
		"--json", "number,title,state,body,labels")
	cmd.Dir = s.ws.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return stats, &patinaerr.ScraperError{Source: "github", Err: fmt.Errorf("gh issue list: %s", msg)}
	}

	var issues []ghIssue
	if err := json.Unmarshal(stdout.Bytes(), &issues); err != nil {
		return stats, &patinaerr.ScraperError{Source: "github", Err: fmt.Errorf("parse gh output: %w", err)}
	}

	now := s.now()
	for _, issue := range issues {
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.Name)
		}
		payload := eventlog.IssuePayload{
			Number: issue.Number,
			Title:  issue.Title,
			State:  issue.State,
			Labels: labels,
			Body:   issue.Body,
		}
		sourceID := fmt.Sprintf("issue:%d:%s", issue.Number, issue.State)
		appended, err := s.appendOnce(eventlog.KindGitHubIssue, now, sourceID, "", payload)
		if err != nil {
			return stats, err
		}
		bump(&stats, appended)
	}
	return stats, nil
}
