package celengine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Program is a compiled boolean expression.
type Program struct {
	Expr string
	prg  cel.Program
}

// Engine compiles boolean expressions over a fixed set of integer variables
// and caches the compiled programs by expression text.
type Engine struct {
	env   *cel.Env
	cache sync.Map
}

func NewIntEngine(vars ...string) (*Engine, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.IntType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{env: env}, nil
}

func (e *Engine) Compile(expr string) (*Program, error) {
	if v, ok := e.cache.Load(expr); ok {
		return v.(*Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}

	p := &Program{Expr: expr, prg: prg}
	e.cache.Store(expr, p)
	return p, nil
}

func (p *Program) Eval(attrs map[string]any) (bool, error) {
	out, _, err := p.prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}
	return b, nil
}
