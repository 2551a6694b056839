package parser

import (
	"regexp"
	"strings"
)

// The non-Go parsers are textual: they scan line by line, track the
// enclosing function by indentation or brace depth, and extract call
// sites with an identifier-before-paren pattern. Precision is traded
// for breadth; ambiguity is tolerated downstream.

var callSiteRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// extractCalls records identifier( occurrences on a line, attributed to
// the given caller, skipping keywords and the definition itself.
func extractCalls(line string, lineNo int, caller, definedName string, facts *Facts) {
	for _, m := range callSiteRe.FindAllStringSubmatch(line, -1) {
		callee := m[1]
		if callKeywords[callee] || callee == definedName {
			continue
		}
		facts.Calls = append(facts.Calls, Call{Caller: caller, Callee: callee, Line: lineNo})
	}
}

// stripLineComment cuts a trailing // or # comment. String literals with
// embedded markers will confuse it; acceptable for a fact scraper.
func stripLineComment(line, marker string) string {
	if i := strings.Index(line, marker); i >= 0 {
		return line[:i]
	}
	return line
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// --- Rust ---

var (
	rustFnRe  = regexp.MustCompile(`^\s*(?:pub\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)\s*[(<]`)
	rustUseRe = regexp.MustCompile(`^\s*(?:pub\s+)?use\s+([A-Za-z_][A-Za-z0-9_:]*)`)
	rustModRe = regexp.MustCompile(`^\s*(?:pub\s+)?mod\s+([A-Za-z_][A-Za-z0-9_]*)\s*;`)
)

type rustParser struct{}

func (p *rustParser) Language() string { return "rust" }

func (p *rustParser) Parse(src []byte, path string) (Facts, error) {
	var facts Facts
	lines := strings.Split(string(src), "\n")

	caller := ""
	callerEnd := -1 // brace depth at which the current function closes
	depth := 0
	var doc []string

	for i, raw := range lines {
		lineNo := i + 1
		line := stripLineComment(raw, "//")

		if strings.HasPrefix(strings.TrimSpace(raw), "///") {
			doc = append(doc, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "///")))
		} else if m := rustUseRe.FindStringSubmatch(line); m != nil {
			facts.Imports = append(facts.Imports, Import{Path: m[1], Line: lineNo})
		} else if m := rustModRe.FindStringSubmatch(line); m != nil {
			facts.Imports = append(facts.Imports, Import{Path: m[1], Line: lineNo})
		} else if m := rustFnRe.FindStringSubmatch(line); m != nil {
			caller = m[1]
			callerEnd = depth
			facts.Functions = append(facts.Functions, Function{
				Name:      m[1],
				Line:      lineNo,
				Signature: strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "{")),
				Doc:       strings.Join(doc, " "),
			})
			doc = nil
		} else if strings.TrimSpace(line) != "" {
			doc = nil
		}

		if caller != "" && !rustFnRe.MatchString(line) {
			extractCalls(line, lineNo, caller, caller, &facts)
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if caller != "" && depth <= callerEnd {
			if n := len(facts.Functions); n > 0 && facts.Functions[n-1].Name == caller {
				facts.Functions[n-1].EndLine = lineNo
			}
			caller = ""
			callerEnd = -1
		}
	}
	return facts, nil
}

// --- Python ---

var (
	pyDefRe    = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	pyImportRe = regexp.MustCompile(`^\s*import\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	pyFromRe   = regexp.MustCompile(`^\s*from\s+([A-Za-z_.][A-Za-z0-9_.]*)\s+import`)
)

type pythonParser struct{}

func (p *pythonParser) Language() string { return "python" }

func (p *pythonParser) Parse(src []byte, path string) (Facts, error) {
	var facts Facts
	lines := strings.Split(string(src), "\n")

	caller := ""
	callerIndent := 0

	for i, raw := range lines {
		lineNo := i + 1
		line := stripLineComment(raw, "#")
		trimmed := strings.TrimSpace(line)

		if m := pyImportRe.FindStringSubmatch(line); m != nil {
			facts.Imports = append(facts.Imports, Import{Path: m[1], Line: lineNo})
			continue
		}
		if m := pyFromRe.FindStringSubmatch(line); m != nil {
			facts.Imports = append(facts.Imports, Import{Path: m[1], Line: lineNo})
			continue
		}

		if m := pyDefRe.FindStringSubmatch(line); m != nil {
			caller = m[2]
			callerIndent = indentOf(raw)
			facts.Functions = append(facts.Functions, Function{
				Name:      m[2],
				Line:      lineNo,
				Signature: strings.TrimSuffix(trimmed, ":"),
			})
			continue
		}

		if caller != "" && trimmed != "" && indentOf(raw) <= callerIndent {
			if n := len(facts.Functions); n > 0 && facts.Functions[n-1].Name == caller {
				facts.Functions[n-1].EndLine = lineNo - 1
			}
			caller = ""
		}
		if caller != "" {
			extractCalls(line, lineNo, caller, caller, &facts)
		}
	}
	return facts, nil
}

// --- TypeScript / JavaScript ---

var (
	tsFnRe     = regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`)
	tsArrowRe  = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s*)?\(`)
	tsMethodRe = regexp.MustCompile(`^\s{2,}(?:public\s+|private\s+|protected\s+|static\s+)*(?:async\s+)?([A-Za-z_$][A-Za-z0-9_$]*)\s*\([^;]*\)\s*[:{]`)
	tsImportRe = regexp.MustCompile(`^\s*import\s+.*from\s+['"]([^'"]+)['"]`)
	tsBareRe   = regexp.MustCompile(`^\s*import\s+['"]([^'"]+)['"]`)
)

type scriptParser struct {
	lang string
}

func (p *scriptParser) Language() string { return p.lang }

func (p *scriptParser) Parse(src []byte, path string) (Facts, error) {
	var facts Facts
	lines := strings.Split(string(src), "\n")

	caller := ""
	callerEnd := -1
	depth := 0

	for i, raw := range lines {
		lineNo := i + 1
		line := stripLineComment(raw, "//")
		matched := ""

		if m := tsImportRe.FindStringSubmatch(line); m != nil {
			facts.Imports = append(facts.Imports, Import{Path: m[1], Line: lineNo})
		} else if m := tsBareRe.FindStringSubmatch(line); m != nil {
			facts.Imports = append(facts.Imports, Import{Path: m[1], Line: lineNo})
		} else if m := tsFnRe.FindStringSubmatch(line); m != nil {
			matched = m[1]
		} else if m := tsArrowRe.FindStringSubmatch(line); m != nil {
			matched = m[1]
		} else if caller == "" {
			if m := tsMethodRe.FindStringSubmatch(line); m != nil && !callKeywords[m[1]] {
				matched = m[1]
			}
		}

		if matched != "" {
			caller = matched
			callerEnd = depth
			facts.Functions = append(facts.Functions, Function{
				Name:      matched,
				Line:      lineNo,
				Signature: strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "{")),
			})
		} else if caller != "" {
			extractCalls(line, lineNo, caller, caller, &facts)
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if caller != "" && depth <= callerEnd {
			if n := len(facts.Functions); n > 0 && facts.Functions[n-1].Name == caller {
				facts.Functions[n-1].EndLine = lineNo
			}
			caller = ""
			callerEnd = -1
		}
	}
	return facts, nil
}

// --- C / C++ ---

var (
	cFnRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_*\s:<>,&]*[\s*]([A-Za-z_][A-Za-z0-9_]*)\s*\([^;]*\)\s*\{?\s*$`)
	cIncludeRe = regexp.MustCompile(`^\s*#include\s+[<"]([^>"]+)[>"]`)
)

type clikeParser struct {
	lang string
}

func (p *clikeParser) Language() string { return p.lang }

func (p *clikeParser) Parse(src []byte, path string) (Facts, error) {
	var facts Facts
	lines := strings.Split(string(src), "\n")

	caller := ""
	callerEnd := -1
	depth := 0

	for i, raw := range lines {
		lineNo := i + 1
		line := stripLineComment(raw, "//")

		if m := cIncludeRe.FindStringSubmatch(line); m != nil {
			facts.Imports = append(facts.Imports, Import{Path: m[1], Line: lineNo})
		} else if depth == 0 && caller == "" {
			if m := cFnRe.FindStringSubmatch(line); m != nil && !callKeywords[m[1]] {
				caller = m[1]
				callerEnd = depth
				facts.Functions = append(facts.Functions, Function{
					Name:      m[1],
					Line:      lineNo,
					Signature: strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "{")),
				})
			}
		} else if caller != "" {
			extractCalls(line, lineNo, caller, caller, &facts)
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if caller != "" && depth <= callerEnd {
			if n := len(facts.Functions); n > 0 && facts.Functions[n-1].Name == caller {
				facts.Functions[n-1].EndLine = lineNo
			}
			caller = ""
			callerEnd = -1
		}
	}
	return facts, nil
}
