package internal

import (
	"fmt"
	"regexp"

	"github.com/Knetic/govaluate"
	"github.com/PaesslerAG/jsonpath"
)

// Guard is a compiled payload condition attached to a hook instance. The
// expression is evaluated against the flattened payload, so nested fields are
// addressed either as escaped parameters (`[change.owner.username]`) or as
// JSONPath terms (`$.change.owner.username`).
type Guard struct {
	source string
	expr   *govaluate.EvaluableExpression
	paths  map[string]string
}

var jsonPathTerm = regexp.MustCompile(`\$(\.[A-Za-z0-9_]+)+`)

// NewGuard compiles a guard expression. JSONPath terms are rewritten into
// synthetic parameters before handing the expression to govaluate.
func NewGuard(expression string) (*Guard, error) {
	paths := make(map[string]string)
	rewritten := jsonPathTerm.ReplaceAllStringFunc(expression, func(path string) string {
		name := fmt.Sprintf("__jsonpath%d", len(paths))
		paths[name] = path
		return "[" + name + "]"
	})

	expr, err := govaluate.NewEvaluableExpression(rewritten)
	if err != nil {
		return nil, fmt.Errorf("compile guard %q: %w", expression, err)
	}
	return &Guard{source: expression, expr: expr, paths: paths}, nil
}

// String returns the original expression text.
func (g *Guard) String() string {
	return g.source
}

// Match evaluates the guard against a decoded payload. Missing fields and
// type mismatches yield no match rather than an error at the call site.
func (g *Guard) Match(payload map[string]interface{}) (bool, error) {
	params := Flatten(payload)
	for name, path := range g.paths {
		value, err := jsonpath.Get(path, interface{}(payload))
		if err != nil {
			continue
		}
		params[name] = value
	}

	result, err := g.expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	matched, _ := result.(bool)
	return matched, nil
}
