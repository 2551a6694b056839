package parser

import (
	"go/ast"
	goparser "go/parser"
	"go/token"
	"strings"
)

// goParser uses the standard library AST; Go is the one language where a
// real parser costs nothing extra.
type goParser struct{}

func (p *goParser) Language() string { return "go" }

func (p *goParser) Parse(src []byte, path string) (Facts, error) {
	fset := token.NewFileSet()
	file, err := goparser.ParseFile(fset, path, src, goparser.ParseComments)
	if err != nil {
		return Facts{}, err
	}

	var facts Facts

	for _, imp := range file.Imports {
		facts.Imports = append(facts.Imports, Import{
			Path: strings.Trim(imp.Path.Value, `"`),
			Line: fset.Position(imp.Pos()).Line,
		})
	}

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		name := fn.Name.Name
		if fn.Recv != nil && len(fn.Recv.List) > 0 {
			if recv := receiverName(fn.Recv.List[0].Type); recv != "" {
				name = recv + "." + name
			}
		}
		doc := ""
		if fn.Doc != nil {
			doc = strings.TrimSpace(fn.Doc.Text())
		}
		facts.Functions = append(facts.Functions, Function{
			Name:      name,
			Line:      fset.Position(fn.Pos()).Line,
			EndLine:   fset.Position(fn.End()).Line,
			Signature: signature(src, fset, fn),
			Doc:       doc,
		})

		caller := name
		ast.Inspect(fn, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			callee := calleeName(call.Fun)
			if callee == "" || callKeywords[callee] {
				return true
			}
			facts.Calls = append(facts.Calls, Call{
				Caller: caller,
				Callee: callee,
				Line:   fset.Position(call.Pos()).Line,
			})
			return true
		})
	}

	return facts, nil
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	}
	return ""
}

func calleeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.SelectorExpr:
		return t.Sel.Name
	}
	return ""
}

// signature renders the declaration line as written, without the body.
func signature(src []byte, fset *token.FileSet, fn *ast.FuncDecl) string {
	start := fset.Position(fn.Pos()).Offset
	end := fset.Position(fn.Type.End()).Offset
	if start < 0 || end > len(src) || start >= end {
		return fn.Name.Name
	}
	return strings.Join(strings.Fields(string(src[start:end])), " ")
}
