package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
)

// Evaluator checks intents against a Policy. Compiled CEL programs are cached per expression.
type Evaluator struct {
	policy   Policy
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// NewEvaluator compiles every rule up front so a bad policy fails at startup, not per intent.
func NewEvaluator(p Policy) (*Evaluator, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	env, err := cel.NewEnv(
		cel.Variable("intent", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	e := &Evaluator{
		policy:   p,
		env:      env,
		prgCache: make(map[string]cel.Program),
	}
	for _, r := range p.Rules {
		if _, err := e.program(r.Expr); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	return e, nil
}

// Policy returns the policy being enforced.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Check returns nil when the intent is within bounds and every rule holds.
func (e *Evaluator) Check(i contracts.Intent, now time.Time) error {
	if err := e.policy.CheckBounds(i.Amount); err != nil {
		return err
	}
	if len(e.policy.Rules) == 0 {
		return nil
	}
	input := ruleInput(i, now.Unix())
	for _, r := range e.policy.Rules {
		allowed, err := e.evaluate(r.Expr, input)
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
		if !allowed {
			return fmt.Errorf("rule %s denied intent", r.Name)
		}
	}
	return nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("compile: expression must return bool, got %s", t)
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = p
	return p, nil
}

func (e *Evaluator) evaluate(expr string, input map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval: non-bool result %v", out.Value())
	}
	return allowed, nil
}
