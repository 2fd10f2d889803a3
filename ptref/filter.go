package ptref

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// What a filter expression sees for each route point.
type pointEnv struct {
	StopPoint stopEnv    `expr:"stop_point"`
	StopArea  stopEnv    `expr:"stop_area"`
	Route     routeEnv   `expr:"route"`
	Line      lineEnv    `expr:"line"`
	Network   networkEnv `expr:"network"`
}

type stopEnv struct {
	ID   string  `expr:"id"`
	URI  string  `expr:"uri"`
	Name string  `expr:"name"`
	Code string  `expr:"code"`
	Lat  float64 `expr:"lat"`
	Lon  float64 `expr:"lon"`
}

type routeEnv struct {
	ID        string `expr:"id"`
	URI       string `expr:"uri"`
	ShortName string `expr:"short_name"`
	LongName  string `expr:"long_name"`
	Type      int    `expr:"type"`
}

type lineEnv struct {
	ID   string `expr:"id"`
	URI  string `expr:"uri"`
	Code string `expr:"code"`
	Name string `expr:"name"`
}

type networkEnv struct {
	ID   string `expr:"id"`
	URI  string `expr:"uri"`
	Name string `expr:"name"`
}

// Attributes available on each object.
var attributes = map[string]map[string]bool{
	"stop_point": {"id": true, "uri": true, "name": true, "code": true, "lat": true, "lon": true},
	"stop_area":  {"id": true, "uri": true, "name": true, "code": true, "lat": true, "lon": true},
	"route":      {"id": true, "uri": true, "short_name": true, "long_name": true, "type": true},
	"line":       {"id": true, "uri": true, "code": true, "name": true},
	"network":    {"id": true, "uri": true, "name": true},
}

// kind.attribute=value, with value unquoted.
var legacyClause = regexp.MustCompile(`\b([a-z_]+)\.([a-z_]+)\s*=\s*("[^"]*"|[^\s()"=!<>]+)`)

func rewriteLegacy(text string) string {
	return legacyClause.ReplaceAllStringFunc(text, func(clause string) string {
		m := legacyClause.FindStringSubmatch(clause)
		value := m[3]
		if value[0] != '"' {
			value = fmt.Sprintf("%q", value)
		}
		return fmt.Sprintf("%s.%s == %s", m[1], m[2], value)
	})
}

type filter struct {
	program *vm.Program
}

func compile(text string) (*filter, error) {
	text = rewriteLegacy(text)

	tree, err := parser.Parse(text)
	if err != nil {
		return nil, syntaxError(text, err)
	}

	if token := unknownObject(tree); token != "" {
		return nil, &ParseError{Kind: ErrorUnknownObject, More: token}
	}

	program, err := expr.Compile(text, expr.Env(pointEnv{}), expr.AsBool())
	if err != nil {
		return nil, &ParseError{Kind: ErrorGlobal, Err: err}
	}

	return &filter{program: program}, nil
}

func (f *filter) match(env pointEnv) (bool, error) {
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

// A syntax error past the first character means a prefix of the
// filter made sense.
func syntaxError(text string, err error) error {
	var ferr *file.Error
	if !errors.As(err, &ferr) {
		return &ParseError{Kind: ErrorGlobal, Err: err}
	}

	runes := []rune(text)
	col := ferr.Column
	if col <= 0 || col >= len(runes) {
		return &ParseError{Kind: ErrorGlobal, Err: err}
	}

	return &ParseError{Kind: ErrorPartial, More: string(runes[col:]), Err: err}
}

type objectChecker struct {
	callees map[ast.Node]bool
	unknown string
}

func (c *objectChecker) Visit(node *ast.Node) {
	if c.unknown != "" {
		return
	}

	switch n := (*node).(type) {
	case *ast.CallNode:
		c.callees[n.Callee] = true

	case *ast.MemberNode:
		ident, ok := n.Node.(*ast.IdentifierNode)
		if !ok {
			return
		}
		attrs, ok := attributes[ident.Value]
		if !ok {
			return
		}
		if prop, ok := n.Property.(*ast.StringNode); ok && !attrs[prop.Value] {
			c.unknown = ident.Value + "." + prop.Value
		}
	}
}

// First reference to an object or attribute filters can't see, or ""
// if there's none.
func unknownObject(tree *parser.Tree) string {
	c := &objectChecker{callees: map[ast.Node]bool{}}
	ast.Walk(&tree.Node, c)
	if c.unknown != "" {
		return c.unknown
	}

	// Identifiers are checked in a second pass, once all callees
	// are known, so function names aren't mistaken for objects.
	unknown := ""
	ast.Walk(&tree.Node, identVisitor(func(n *ast.IdentifierNode) {
		if unknown != "" || c.callees[n] {
			return
		}
		if _, ok := attributes[n.Value]; !ok {
			unknown = n.Value
		}
	}))
	return unknown
}

type identVisitor func(*ast.IdentifierNode)

func (f identVisitor) Visit(node *ast.Node) {
	if ident, ok := (*node).(*ast.IdentifierNode); ok {
		f(ident)
	}
}
