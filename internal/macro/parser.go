// Package macro loads saved find queries: Starlark functions that
// return criteria shorthand maps. This file statically parses .star
// files for listings, without executing them.
package macro

import (
	"path/filepath"
	"strings"

	"go.starlark.net/syntax"
)

// Param is one parameter of a saved query.
type Param struct {
	Name     string `json:"name"`
	Default  string `json:"default,omitempty"` // source text, e.g. "18" or "\"Bob\""
	Required bool   `json:"required"`
}

// Info describes one saved query extracted from a .star file.
type Info struct {
	Name   string  `json:"name"`
	File   string  `json:"file"`
	Line   int     `json:"line"`
	Doc    string  `json:"doc,omitempty"`
	Params []Param `json:"params,omitempty"`
}

// Signature returns a human-readable call signature.
func (i Info) Signature() string {
	parts := make([]string, 0, len(i.Params))
	for _, p := range i.Params {
		if p.Required {
			parts = append(parts, p.Name)
			continue
		}
		parts = append(parts, p.Name+"="+p.Default)
	}
	return i.Name + "(" + strings.Join(parts, ", ") + ")"
}

// parseFile extracts query metadata from one .star file's AST. Names
// starting with an underscore are private helpers and are skipped.
func parseFile(path string, content []byte) ([]Info, error) {
	f, err := fileOptions().Parse(path, content, 0)
	if err != nil {
		return nil, &LoadError{File: path, Message: err.Error()}
	}

	var infos []Info
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok || strings.HasPrefix(def.Name.Name, "_") {
			continue
		}
		infos = append(infos, Info{
			Name:   def.Name.Name,
			File:   path,
			Line:   int(def.Name.NamePos.Line),
			Doc:    docstring(def.Body),
			Params: params(def.Params),
		})
	}
	return infos, nil
}

func params(exprs []syntax.Expr) []Param {
	var out []Param
	for _, expr := range exprs {
		switch p := expr.(type) {
		case *syntax.Ident:
			out = append(out, Param{Name: p.Name, Required: true})
		case *syntax.BinaryExpr:
			if p.Op != syntax.EQ {
				continue
			}
			if ident, ok := p.X.(*syntax.Ident); ok {
				out = append(out, Param{Name: ident.Name, Default: defaultText(p.Y)})
			}
		}
	}
	return out
}

// docstring returns the function's leading string literal, if any.
func docstring(body []syntax.Stmt) string {
	if len(body) == 0 {
		return ""
	}
	exprStmt, ok := body[0].(*syntax.ExprStmt)
	if !ok {
		return ""
	}
	lit, ok := exprStmt.X.(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return ""
	}
	s, _ := lit.Value.(string)
	return strings.TrimSpace(s)
}

// defaultText renders a default value expression as source text.
func defaultText(expr syntax.Expr) string {
	switch e := expr.(type) {
	case *syntax.Literal:
		return e.Raw
	case *syntax.Ident:
		return e.Name
	case *syntax.ListExpr:
		return "[]"
	case *syntax.DictExpr:
		return "{}"
	case *syntax.UnaryExpr:
		if e.Op == syntax.MINUS {
			return "-" + defaultText(e.X)
		}
		return defaultText(e.X)
	default:
		return "..."
	}
}

// LoadError is a parse or execution failure in one saved query file.
type LoadError struct {
	File    string
	Message string
}

func (e *LoadError) Error() string {
	return filepath.Base(e.File) + ": " + e.Message
}
