// Package parser extracts function, import, and call facts from source
// text. Parsers are pluggable per language; the scraper treats them as
// black boxes producing a common fact schema.
package parser

import (
	"path/filepath"
	"strings"
)

// Function is one extracted function or method definition.
type Function struct {
	Name      string
	Line      int // 1-based line of the definition
	EndLine   int
	Signature string
	Doc       string // adjacent comment/docstring excerpt
}

// Import is one extracted import/include/use statement.
type Import struct {
	Path string // as written in source
	Line int
}

// Call is one extracted call site, attributed to its enclosing function.
type Call struct {
	Caller string // unqualified enclosing function name, "" at top level
	Callee string // unqualified callee name
	Line   int
}

// Facts is everything a parser extracts from one file.
type Facts struct {
	Functions []Function
	Imports   []Import
	Calls     []Call
}

// Parser converts source text to facts.
type Parser interface {
	Language() string
	Parse(src []byte, path string) (Facts, error)
}

// registry maps file extensions to parsers.
var registry = map[string]Parser{}

func register(p Parser, exts ...string) {
	for _, ext := range exts {
		registry[ext] = p
	}
}

func init() {
	register(&goParser{}, ".go")
	register(&rustParser{}, ".rs")
	register(&pythonParser{}, ".py")
	register(&scriptParser{lang: "typescript"}, ".ts", ".tsx")
	register(&scriptParser{lang: "javascript"}, ".js", ".jsx", ".mjs")
	register(&clikeParser{lang: "c"}, ".c", ".h")
	register(&clikeParser{lang: "cpp"}, ".cc", ".cpp", ".hpp")
}

// ForFile returns the parser for a path's extension, or nil when the
// language is not covered.
func ForFile(path string) Parser {
	return registry[strings.ToLower(filepath.Ext(path))]
}

// Extensions returns every file extension with a registered parser.
func Extensions() []string {
	out := make([]string, 0, len(registry))
	for ext := range registry {
		out = append(out, ext)
	}
	return out
}

// callKeywords are control-flow and builtin words that look like calls
// in a textual scan but are not callees worth recording.
var callKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "match": true,
	"return": true, "catch": true, "defer": true, "go": true, "select": true,
	"new": true, "make": true, "len": true, "cap": true, "append": true,
	"print": true, "println": true, "panic": true, "sizeof": true,
	"function": true, "func": true, "fn": true, "def": true, "assert": true,
	"typeof": true, "super": true, "constructor": true, "require": true,
	"import": true, "delete": true, "await": true, "yield": true,
}
