// Package rules provides the CEL-Go based heuristic evaluation engine.
// Heuristics are plausibility checks over vehicle and policy attributes
// whose findings feed the rating validator.
package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-insurance/merlin/internal/domain"
)

// Engine compiles and evaluates heuristic rules.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledHeuristic
}

type compiledHeuristic struct {
	config  *domain.HeuristicRule
	program cel.Program
}

// Finding is one heuristic that matched.
type Finding struct {
	RuleID   string
	Severity string
	Message  string
}

// NewEngine creates a heuristic engine. Expressions see derived
// numeric variables; date arithmetic happens before activation so the
// rules themselves stay plain comparisons.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("vehicle_age", cel.IntType), // whole years, uncapped
		cel.Variable("engine_capacity", cel.IntType),
		cel.Variable("power", cel.IntType),
		cel.Variable("year_of_manufacture", cel.IntType),
		// Days between now and the policy date; negative for past dates.
		cel.Variable("policy_offset_days", cel.IntType),
		cel.Variable("make", cel.StringType),
		cel.Variable("model", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*compiledHeuristic),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.HeuristicRule) error {
	if cfg == nil {
		return fmt.Errorf("heuristic rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.HeuristicRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiled[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads all enabled rules.
func (e *Engine) LoadRules(configs []*domain.HeuristicRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces all loaded rules. Enables hot-reloading of
// heuristics from the database.
func (e *Engine) ReloadRules(configs []*domain.HeuristicRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledHeuristic)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.compiled = next
	return nil
}

// Evaluate runs all loaded heuristics against one vehicle/policy pair
// and returns the findings in deterministic rule-ID order. A rule that
// fails to evaluate is skipped; heuristics are advisory and must never
// block validation.
func (e *Engine) Evaluate(vehicle *domain.Vehicle, policyDate time.Time) []Finding {
	e.mu.RLock()
	heuristics := make([]*compiledHeuristic, 0, len(e.compiled))
	for _, h := range e.compiled {
		heuristics = append(heuristics, h)
	}
	e.mu.RUnlock()

	if len(heuristics) == 0 {
		return nil
	}

	sort.Slice(heuristics, func(i, j int) bool {
		return heuristics[i].config.ID < heuristics[j].config.ID
	})

	activation := map[string]any{
		"vehicle_age":         int64(vehicle.AgeAt(policyDate)),
		"engine_capacity":     int64(vehicle.EngineCapacity),
		"power":               int64(vehicle.Power),
		"year_of_manufacture": int64(vehicle.YearOfManufacture),
		"policy_offset_days":  int64(time.Until(policyDate).Hours() / 24),
		"make":                vehicle.Make,
		"model":               vehicle.Model,
	}

	var findings []Finding
	for _, h := range heuristics {
		out, _, err := h.program.Eval(activation)
		if err != nil {
			continue
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			findings = append(findings, Finding{
				RuleID:   h.config.ID,
				Severity: h.config.Severity,
				Message:  h.config.Message,
			})
		}
	}
	return findings
}

// RulesCount returns the number of loaded heuristics.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the currently loaded heuristic configurations.
func (e *Engine) LoadedRules() []*domain.HeuristicRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.HeuristicRule, 0, len(e.compiled))
	for _, h := range e.compiled {
		rules = append(rules, h.config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

func (e *Engine) compileRule(cfg *domain.HeuristicRule) (*compiledHeuristic, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile heuristic %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("heuristic %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for heuristic %s: %w", cfg.ID, err)
	}

	return &compiledHeuristic{
		config:  cfg,
		program: program,
	}, nil
}
