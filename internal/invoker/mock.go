// Package invoker provides tool invocation boundary implementations.
package invoker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Knetic/govaluate"
)

// MockInvoker simulates tool execution: responses are fixed by tool id and
// each invocation sleeps for a jittered delay to model asynchronous,
// possibly network-bound work. The sleep is cancellable, not a plain
// time.Sleep, so a run abort stops mid-step.
type MockInvoker struct {
	baseDelay   time.Duration
	delayJitter time.Duration
}

// MockOption represents an option for configuring the MockInvoker.
type MockOption func(*MockInvoker)

// WithDelay sets the simulated invocation latency: base plus a random
// jitter in [0, jitter).
func WithDelay(base, jitter time.Duration) MockOption {
	return func(m *MockInvoker) {
		m.baseDelay = base
		m.delayJitter = jitter
	}
}

// WithoutDelay disables the simulated latency entirely, mainly for tests.
func WithoutDelay() MockOption {
	return func(m *MockInvoker) {
		m.baseDelay = 0
		m.delayJitter = 0
	}
}

// NewMockInvoker creates a mock invoker with default latency.
func NewMockInvoker(options ...MockOption) *MockInvoker {
	m := &MockInvoker{
		baseDelay:   200 * time.Millisecond,
		delayJitter: 300 * time.Millisecond,
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Invoke implements pipeweaver.Invoker.
func (m *MockInvoker) Invoke(ctx context.Context, toolID string, request map[string]interface{}) (map[string]interface{}, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}

	switch toolID {
	case "matrix.add":
		return map[string]interface{}{"output": "matrix addition complete", "operation": "add"}, nil
	case "matrix.multiply":
		return map[string]interface{}{"output": "matrix multiplication complete", "operation": "multiply"}, nil
	case "data.normalize":
		return map[string]interface{}{"output": "data normalized", "method": "minmax"}, nil
	case "data.filter":
		return map[string]interface{}{"output": "rows filtered", "predicate": "default"}, nil
	case "analysis.describe":
		return map[string]interface{}{"output": "summary statistics computed", "measures": []string{"mean", "stddev", "min", "max"}}, nil
	case "utils.log":
		response := map[string]interface{}{"output": "context logged"}
		if keys, ok := request["context_keys"]; ok {
			response["keys"] = keys
		}
		return response, nil
	case "utils.eval":
		return evalFromContext(request)
	default:
		return nil, fmt.Errorf("no mock response registered for tool '%s'", toolID)
	}
}

// sleep waits for the jittered delay or until the context is done.
func (m *MockInvoker) sleep(ctx context.Context) error {
	delay := m.baseDelay
	if m.delayJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(m.delayJitter)))
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// evalFromContext evaluates the "expression" key of the execution context
// with the remaining top-level numeric values bound as variables.
func evalFromContext(request map[string]interface{}) (map[string]interface{}, error) {
	seed, ok := request["context"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("eval requires an object context")
	}
	exprStr, ok := seed["expression"].(string)
	if !ok || exprStr == "" {
		return nil, fmt.Errorf("eval requires a string 'expression' key in the context")
	}

	expr, err := govaluate.NewEvaluableExpression(exprStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression '%s': %w", exprStr, err)
	}

	variables := make(map[string]interface{}, len(seed))
	for key, value := range seed {
		if key == "expression" {
			continue
		}
		variables[key] = value
	}

	result, err := expr.Evaluate(variables)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression '%s': %w", exprStr, err)
	}

	return map[string]interface{}{
		"output":     fmt.Sprintf("evaluated '%s'", exprStr),
		"expression": exprStr,
		"result":     result,
	}, nil
}
