// Package governance evaluates pre-decision rules over an intent. It sits
// upstream of the kernel: its only non-DENY outcomes are ALLOW (proceed to
// acceptance verification) and ESCALATE (a human must mint an acceptance
// first). It never produces a PERMIT; only the kernel does, and only
// through a ledgered decision.
package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/arbiter-systems/arbiter/pkg/contracts"
)

// Effect is a rule's outcome when its condition matches.
type Effect string

const (
	EffectAllow    Effect = "ALLOW"
	EffectEscalate Effect = "ESCALATE"
	EffectDeny     Effect = "DENY"
)

// Rule is one CEL condition with an effect. Rules are evaluated in order;
// the first match wins.
type Rule struct {
	Name      string `json:"name" yaml:"name"`
	Condition string `json:"condition" yaml:"condition"`
	Effect    Effect `json:"effect" yaml:"effect"`
}

// Outcome is the evaluator's result for one intent.
type Outcome struct {
	Verdict    contracts.Verdict
	ReasonCode contracts.ReasonCode
	// RuleName identifies the matching rule, empty for the default.
	RuleName string
}

// Evaluator compiles and runs a fixed rule set. Programs are compiled once
// and cached; evaluation is read-only and safe for concurrent use.
type Evaluator struct {
	env   *cel.Env
	rules []Rule
	mu    sync.RWMutex
	cache map[string]cel.Program
	clock func() time.Time
}

// NewEvaluator compiles the environment. Rule conditions see:
//
//	actorId     string
//	actionName  string
//	context     map (the intent's context object)
//	timestamp   int (unix seconds)
func NewEvaluator(rules []Rule) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("actorId", cel.StringType),
		cel.Variable("actionName", cel.StringType),
		cel.Variable("context", cel.DynType),
		cel.Variable("timestamp", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("governance: cel environment: %w", err)
	}

	e := &Evaluator{
		env:   env,
		rules: rules,
		cache: make(map[string]cel.Program),
		clock: time.Now,
	}
	// Compile eagerly so a malformed rule fails at load, not at request
	// time.
	for _, r := range rules {
		if _, err := e.program(r.Condition); err != nil {
			return nil, fmt.Errorf("governance: rule %q: %w", r.Name, err)
		}
	}
	return e, nil
}

// WithClock overrides the clock for tests.
func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	e.clock = clock
	return e
}

// Evaluate runs the rules in order against the intent. Rule evaluation
// errors are fail-closed denials. With no matching rule the default is
// ESCALATE: unrecognized intents need a human acceptance.
func (e *Evaluator) Evaluate(ctx context.Context, intent *contracts.Intent) Outcome {
	if intent == nil || !intent.Valid() {
		return Outcome{Verdict: contracts.VerdictDeny, ReasonCode: contracts.ReasonInvalidRequest}
	}

	input := map[string]any{
		"actorId":    intent.ActorID,
		"actionName": intent.ActionName,
		"context":    intentContext(intent),
		"timestamp":  e.clock().Unix(),
	}

	for _, r := range e.rules {
		select {
		case <-ctx.Done():
			return Outcome{Verdict: contracts.VerdictDeny, ReasonCode: contracts.ReasonGovernanceRuleDenied, RuleName: r.Name}
		default:
		}

		matched, err := e.evaluateCondition(r.Condition, input)
		if err != nil {
			return Outcome{Verdict: contracts.VerdictDeny, ReasonCode: contracts.ReasonGovernanceRuleDenied, RuleName: r.Name}
		}
		if !matched {
			continue
		}
		switch r.Effect {
		case EffectAllow:
			// ALLOW is not a PERMIT: it clears the intent to proceed to
			// acceptance verification, nothing more.
			return Outcome{Verdict: contracts.VerdictAllow, ReasonCode: contracts.ReasonGovernanceRuleAllowed, RuleName: r.Name}
		case EffectEscalate:
			return Outcome{Verdict: contracts.VerdictEscalate, ReasonCode: contracts.ReasonEscalationRequired, RuleName: r.Name}
		default:
			return Outcome{Verdict: contracts.VerdictDeny, ReasonCode: contracts.ReasonGovernanceRuleDenied, RuleName: r.Name}
		}
	}

	return Outcome{Verdict: contracts.VerdictEscalate, ReasonCode: contracts.ReasonEscalationRequired}
}

func intentContext(intent *contracts.Intent) map[string]any {
	if intent.Context == nil {
		return map[string]any{}
	}
	return intent.Context
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.cache[expr] = prg
	return prg, nil
}

func (e *Evaluator) evaluateCondition(expr string, input map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition result is not a bool")
	}
	return val, nil
}
