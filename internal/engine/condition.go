package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/Nikki72581/commissionflow-sub002/internal/domain"
)

// conditionEvaluator compiles and caches optional CEL rule conditions.
// Compiled programs are keyed by expression text; the cache only grows with
// the distinct conditions a tenant configures, which stays small.
type conditionEvaluator struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

func newConditionEvaluator() (*conditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("net_amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("customer_tier", cel.StringType),
		cel.Variable("product_category_id", cel.StringType),
		cel.Variable("territory_id", cel.StringType),
		cel.Variable("client_id", cel.StringType),
		cel.Variable("project_id", cel.StringType),
		cel.Variable("tx_date", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &conditionEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// compile returns a cached program for the expression, compiling on first
// use. The expression must evaluate to bool.
func (e *conditionEvaluator) compile(expr string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must return bool, got %s", ast.OutputType())
	}

	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition program: %w", err)
	}

	e.mu.Lock()
	e.programs[expr] = prog
	e.mu.Unlock()

	return prog, nil
}

// eval evaluates an expression against the transaction context.
func (e *conditionEvaluator) eval(expr string, tc *domain.TransactionContext) (bool, error) {
	prog, err := e.compile(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prog.Eval(activation(tc))
	if err != nil {
		return false, fmt.Errorf("condition evaluation failed: %w", err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("condition returned non-bool value")
	}
	return bool(b), nil
}

// activation maps the transaction snapshot into CEL variables. Amounts are
// converted to float64 for comparison only; money arithmetic stays decimal.
func activation(tc *domain.TransactionContext) map[string]any {
	return map[string]any{
		"amount":              tc.GrossAmount.InexactFloat64(),
		"net_amount":          tc.NetAmount.InexactFloat64(),
		"currency":            tc.Currency,
		"customer_tier":       tc.CustomerTier,
		"product_category_id": tc.ProductCategoryID,
		"territory_id":        tc.TerritoryID,
		"client_id":           tc.ClientID,
		"project_id":          tc.ProjectID,
		"tx_date":             tc.TransactionDate.UTC().Format(time.RFC3339),
	}
}
