// Package engine implements the sequential step execution engine.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/ZanzyTHEbar/pipeweaver"
	"github.com/ZanzyTHEbar/pipeweaver/internal/eventbus"
)

// Engine runs a pipeline snapshot one step at a time against a shared JSON
// context. Steps never execute concurrently with each other: step i+1 does
// not begin until step i's invocation has completed and its entry is
// observable on the run.
type Engine struct {
	registry      *pipeweaver.Registry
	invoker       pipeweaver.Invoker
	eventBus      eventbus.EventBus
	invokeTimeout time.Duration
}

// Option represents an option for configuring the Engine.
type Option func(*Engine)

// WithEventBus sets the event bus used for progress events.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) {
		e.eventBus = bus
	}
}

// WithInvokeTimeout sets the per-step invocation timeout.
func WithInvokeTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.invokeTimeout = timeout
	}
}

// New creates an engine over the given registry and invoker.
func New(registry *pipeweaver.Registry, invoker pipeweaver.Invoker, options ...Option) *Engine {
	e := &Engine{
		registry:      registry,
		invoker:       invoker,
		invokeTimeout: time.Second * 30,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// ExecuteRun implements pipeweaver.Engine.
//
// The seed context must parse as JSON; on parse failure the run fails fast
// before any step executes and no entry is recorded. Steps whose tool id
// does not resolve in the registry are skipped without an entry. A failing
// invocation records an error-status entry and the run continues; one bad
// step should not blind the caller to the rest.
func (e *Engine) ExecuteRun(ctx context.Context, run *pipeweaver.Run) ([]pipeweaver.LogEntry, error) {
	if run == nil {
		return nil, pipeweaver.NewInternalError("run", "run cannot be nil", nil)
	}

	var seed interface{}
	if err := json.Unmarshal([]byte(run.SeedJSON), &seed); err != nil {
		inputErr := pipeweaver.NewInvalidInputError("run", "seed context is not valid JSON", err)
		e.publish(ctx, eventbus.NewEvent(eventbus.EventRunFailed, run.ID, "Engine.ExecuteRun",
			map[string]interface{}{"error": inputErr.Error()}))
		return nil, inputErr
	}

	startTime := time.Now()
	log.Printf("Starting run (run_id: %s, total_steps: %d)", run.ID, len(run.Steps))
	e.publish(ctx, eventbus.NewEvent(eventbus.EventRunStarted, run.ID, "Engine.ExecuteRun",
		map[string]interface{}{"step_count": len(run.Steps)}))

	entries := make([]pipeweaver.LogEntry, 0, len(run.Steps))

	for _, step := range run.Steps {
		if ctx.Err() != nil {
			err := pipeweaver.NewCancelledError("run", ctx.Err())
			e.publish(context.Background(), eventbus.NewEvent(eventbus.EventRunCancelled, run.ID, "Engine.ExecuteRun",
				map[string]interface{}{"entries_recorded": len(entries)}))
			return entries, err
		}

		def, resolved := e.registry.Resolve(step.ToolID)
		if !resolved {
			// Tolerance policy: dangling tool ids produce no entry and no
			// failure, only a skip event for observers.
			log.Printf("Skipping unresolved step (run_id: %s, instance_id: %s, tool_id: %s)",
				run.ID, step.InstanceID, step.ToolID)
			e.publish(ctx, eventbus.NewEvent(eventbus.EventStepSkipped, step, "Engine.ExecuteRun",
				map[string]interface{}{"run_id": run.ID, "tool_id": step.ToolID}))
			continue
		}

		entry := e.executeStep(ctx, run, def, seed, len(entries)+1)
		entries = append(entries, entry)

		// The accumulated log must be observable before the next step
		// starts; Record publishes it through run.Log and the progress
		// event mirrors it on the bus.
		run.Record(entry)
		e.publish(ctx, eventbus.NewEvent(eventbus.EventRunProgress, run.ID, "Engine.ExecuteRun",
			map[string]interface{}{
				"entries_recorded": len(entries),
				"step_index":       entry.StepIndex,
			}))
	}

	log.Printf("Run finished (run_id: %s, entries: %d, duration: %v)",
		run.ID, len(entries), time.Since(startTime))
	e.publish(ctx, eventbus.NewEvent(eventbus.EventRunCompleted, run.ID, "Engine.ExecuteRun",
		map[string]interface{}{
			"entries_recorded": len(entries),
			"duration_ms":      time.Since(startTime).Milliseconds(),
		}))

	return entries, nil
}

// executeStep invokes one resolved tool and builds its log entry.
func (e *Engine) executeStep(ctx context.Context, run *pipeweaver.Run, def pipeweaver.ToolDefinition, seed interface{}, index int) pipeweaver.LogEntry {
	request := buildRequest(def.ID, seed)

	e.publish(ctx, eventbus.NewEvent(eventbus.EventStepStarted, def.ID, "Engine.executeStep",
		map[string]interface{}{"run_id": run.ID, "step_index": index}))
	log.Printf("Starting step invocation (run_id: %s, step_index: %d, tool: %s)", run.ID, index, def.ID)

	invokeCtx := ctx
	if e.invokeTimeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, e.invokeTimeout)
		defer cancel()
	}

	response, err := e.invoker.Invoke(invokeCtx, def.ID, request)

	entry := pipeweaver.LogEntry{
		StepIndex: index,
		StepName:  def.Name,
		ToolID:    def.ID,
		Request:   request,
		Timestamp: time.Now().UnixMilli(),
	}

	if err != nil {
		toolErr := err
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			toolErr = pipeweaver.NewTimeoutError("run", err)
		case !pipeweaver.IsPipeWeaverError(err):
			toolErr = pipeweaver.NewToolFailureError("run", def.ID, err)
		}
		entry.Status = pipeweaver.LogStatusError
		entry.Response = map[string]interface{}{"error": toolErr.Error()}
		log.Printf("Step invocation failed (run_id: %s, step_index: %d, tool: %s, error: %v)",
			run.ID, index, def.ID, toolErr)
		e.publish(ctx, eventbus.NewEvent(eventbus.EventStepFailed, def.ID, "Engine.executeStep",
			map[string]interface{}{
				"run_id":     run.ID,
				"step_index": index,
				"error":      toolErr.Error(),
			}))
		return entry
	}

	entry.Status = pipeweaver.LogStatusSuccess
	entry.Response = response
	e.publish(ctx, eventbus.NewEvent(eventbus.EventStepCompleted, def.ID, "Engine.executeStep",
		map[string]interface{}{"run_id": run.ID, "step_index": index}))
	return entry
}

// buildRequest derives the tool request payload from the execution
// context: the tool id, the top-level shape of the context, and the
// context itself for tools that read values out of it.
func buildRequest(toolID string, seed interface{}) map[string]interface{} {
	request := map[string]interface{}{
		"tool_id": toolID,
		"context": seed,
	}

	switch v := seed.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		request["context_keys"] = keys
	case []interface{}:
		request["context_kind"] = "array"
		request["context_length"] = len(v)
	default:
		request["context_kind"] = "scalar"
	}
	return request
}

// publish sends an event when a bus is configured.
func (e *Engine) publish(ctx context.Context, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}
	if err := e.eventBus.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish engine event (type: %s, error: %v)", event.Type(), err)
	}
}
