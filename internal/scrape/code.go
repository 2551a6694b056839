package scrape

import (
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/NicabarNimble/patina/internal/eventlog"
	"github.com/NicabarNimble/patina/internal/patinaerr"
	"github.com/NicabarNimble/patina/internal/scrape/parser"
)

// parsedFile carries one file's facts back from the worker pool.
type parsedFile struct {
	rel   string
	lang  string
	facts parser.Facts
	err   error
}

// scrapeCode walks the source tree, parses files with a registered
// language parser in a bounded worker pool, and appends one event per
// fact. Appends happen on the calling goroutine: the log has a single
// writer.
func (s *Suite) scrapeCode() (Stats, error) {
	var stats Stats

	files, err := s.collectSourceFiles()
	if err != nil {
		return stats, &patinaerr.ScraperError{Source: "code", Err: err}
	}
	if len(files) == 0 {
		return stats, nil
	}

	workers := s.cfg.Scrape.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	// Workers write to distinct slots; no lock needed.
	results := make([]parsedFile, len(files))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, rel := range files {
		i, rel := i, rel
		g.Go(func() error {
			pf := parsedFile{rel: rel}
			p := parser.ForFile(rel)
			pf.lang = p.Language()
			src, err := os.ReadFile(filepath.Join(s.ws.Root, rel))
			if err != nil {
				pf.err = err
			} else if facts, err := p.Parse(src, rel); err != nil {
				pf.err = err
			} else {
				pf.facts = facts
			}
			results[i] = pf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, &patinaerr.ScraperError{Source: "code", Err: err}
	}

	now := s.now()
	for _, pf := range results {
		if pf.err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", pf.rel, pf.err))
			continue
		}
		// Doc ids carry the ./ prefix; view rows store the bare
		// project-relative path.
		relSlash := filepath.ToSlash(pf.rel)
		docPath := "./" + relSlash

		for _, fn := range pf.facts.Functions {
			qualified := docPath + "::fn:" + fn.Name
			payload := eventlog.FunctionPayload{
				Name:      fn.Name,
				Qualified: qualified,
				File:      relSlash,
				Line:      fn.Line,
				EndLine:   fn.EndLine,
				Signature: fn.Signature,
				Context:   fn.Doc,
				Language:  pf.lang,
			}
			// The content hash makes edits visible: a changed body gets
			// a fresh source id, and the view upserts by qualified name.
			sourceID := qualified + "#" + factHash(fn.Signature, fn.Doc, fn.Line, fn.EndLine)
			appended, err := s.appendOnce(eventlog.KindCodeFunction, now, sourceID, docPath, payload)
			if err != nil {
				return stats, err
			}
			bump(&stats, appended)
		}

		for _, imp := range pf.facts.Imports {
			payload := eventlog.ImportPayload{
				File:     relSlash,
				Imported: imp.Path,
				Resolved: s.resolveImport(pf.rel, imp.Path, files),
				Line:     imp.Line,
			}
			sourceID := fmt.Sprintf("%s:%d:%s", docPath, imp.Line, imp.Path)
			appended, err := s.appendOnce(eventlog.KindCodeImport, now, sourceID, docPath, payload)
			if err != nil {
				return stats, err
			}
			bump(&stats, appended)
		}

		for _, call := range pf.facts.Calls {
			caller := docPath + "::fn:" + call.Caller
			payload := eventlog.CallPayload{
				Caller: caller,
				Callee: call.Callee,
				File:   relSlash,
				Line:   call.Line,
			}
			sourceID := fmt.Sprintf("%s->%s:%d", caller, call.Callee, call.Line)
			appended, err := s.appendOnce(eventlog.KindCodeCall, now, sourceID, docPath, payload)
			if err != nil {
				return stats, err
			}
			bump(&stats, appended)
		}
	}
	return stats, nil
}

// collectSourceFiles returns project-relative paths of parseable files,
// sorted for deterministic event order.
func (s *Suite) collectSourceFiles() ([]string, error) {
	maxBytes := int64(s.cfg.Scrape.MaxFileKB) * 1024
	var files []string
	err := filepath.WalkDir(s.ws.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(s.ws.Root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if s.ignored(rel, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if parser.ForFile(path) == nil {
			return nil
		}
		if maxBytes > 0 {
			if info, err := d.Info(); err == nil && info.Size() > maxBytes {
				return nil
			}
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (s *Suite) ignored(rel, base string) bool {
	if rel == "." {
		return false
	}
	for _, glob := range s.cfg.Scrape.IgnoreGlobs {
		if base == glob {
			return true
		}
		if ok, _ := filepath.Match(glob, base); ok {
			return true
		}
	}
	return false
}

// resolveImport maps an import path to a project file when one matches
// textually. Unresolvable imports (stdlib, third-party) resolve empty.
func (s *Suite) resolveImport(fromRel, importPath string, files []string) string {
	// Relative script-style imports: ./client -> client.ts next to the
	// importer.
	if strings.HasPrefix(importPath, ".") {
		base := filepath.ToSlash(filepath.Join(filepath.Dir(fromRel), importPath))
		for _, f := range files {
			slash := filepath.ToSlash(f)
			if slash == base || strings.TrimSuffix(slash, filepath.Ext(slash)) == base {
				return slash
			}
		}
		return ""
	}
	// Module-style imports: match the last path segment against file
	// stems anywhere in the tree.
	seg := importPath
	if i := strings.LastIndexAny(seg, "/:."); i >= 0 {
		seg = seg[i+1:]
	}
	if seg == "" {
		return ""
	}
	for _, f := range files {
		slash := filepath.ToSlash(f)
		stem := strings.TrimSuffix(filepath.Base(slash), filepath.Ext(slash))
		if stem == seg {
			return slash
		}
	}
	return ""
}

func factHash(sig, doc string, line, endLine int) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%d|%d", sig, doc, line, endLine)
	return fmt.Sprintf("%08x", h.Sum32())
}

func bump(stats *Stats, appended bool) {
	if appended {
		stats.EventsAppended++
	} else {
		stats.ItemsSkipped++
	}
}
