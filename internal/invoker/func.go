package invoker

import (
	"context"
	"fmt"
	"sync"
)

// ToolFunc is a native Go function exposed as a tool. It receives the
// request map built by the engine and returns the response map.
type ToolFunc func(ctx context.Context, request map[string]interface{}) (map[string]interface{}, error)

// FuncInvoker dispatches invocations to registered Go functions keyed by
// tool id. It is safe for concurrent use.
type FuncInvoker struct {
	mutex sync.RWMutex
	funcs map[string]ToolFunc
}

// NewFuncInvoker creates an empty function-backed invoker.
func NewFuncInvoker() *FuncInvoker {
	return &FuncInvoker{
		funcs: make(map[string]ToolFunc),
	}
}

// Register binds a function to a tool id. Registering the same id twice is
// an error, as is a nil function.
func (f *FuncInvoker) Register(toolID string, fn ToolFunc) error {
	if toolID == "" {
		return fmt.Errorf("tool id cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("function for tool '%s' cannot be nil", toolID)
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, exists := f.funcs[toolID]; exists {
		return fmt.Errorf("tool '%s' is already registered", toolID)
	}
	f.funcs[toolID] = fn
	return nil
}

// Invoke implements pipeweaver.Invoker.
func (f *FuncInvoker) Invoke(ctx context.Context, toolID string, request map[string]interface{}) (map[string]interface{}, error) {
	f.mutex.RLock()
	fn, exists := f.funcs[toolID]
	f.mutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no function registered for tool '%s'", toolID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn(ctx, request)
}
