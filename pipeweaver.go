// Package pipeweaver provides the core runtime for assembling, running and
// conversationally editing tool pipelines.
package pipeweaver

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/pipeweaver/internal/eventbus"
	"github.com/google/uuid"
)

// PipeWeaver is the main entry point into the runtime. It owns the
// pipeline store, drives the execution engine and runs the conversational
// bridge over an external reasoning agent.
type PipeWeaver struct {
	// Core components
	registry *Registry
	store    *PipelineStore
	engine   Engine
	agent    Agent
	history  History
	eventBus eventbus.EventBus

	// Configuration
	config Config

	// Run bookkeeping: only one run may be in flight at a time. runs keeps
	// finished runs around for status queries until cleaned up.
	runs        map[string]*Run
	activeRunID string
	runCancels  map[string]context.CancelFunc
	runsMutex   sync.RWMutex

	// Turn bookkeeping: one turn in flight at a time.
	turnActive bool
	turnMutex  sync.Mutex
}

// Config holds the configuration options for the PipeWeaver runtime.
type Config struct {
	// Maximum number of call->reply round trips per user utterance
	MaxToolRounds int

	// Per-step invocation timeout
	InvokeTimeout time.Duration

	// Per-turn overall timeout (0 disables)
	TurnTimeout time.Duration

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxToolRounds:       4,
		InvokeTimeout:       time.Second * 30,
		TurnTimeout:         time.Minute * 2,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
	}
}

// Option is a function that configures a PipeWeaver instance.
type Option func(*PipeWeaver)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(w *PipeWeaver) {
		w.config = config
	}
}

// WithRegistry sets the tool registry.
func WithRegistry(registry *Registry) Option {
	return func(w *PipeWeaver) {
		w.registry = registry
	}
}

// WithEngine sets the execution engine.
func WithEngine(engine Engine) Option {
	return func(w *PipeWeaver) {
		w.engine = engine
	}
}

// WithAgent sets the reasoning agent used by the bridge.
func WithAgent(agent Agent) Option {
	return func(w *PipeWeaver) {
		w.agent = agent
	}
}

// WithHistory sets the conversation history store.
func WithHistory(history History) Option {
	return func(w *PipeWeaver) {
		w.history = history
	}
}

// WithEventBus sets the event bus component.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(w *PipeWeaver) {
		w.eventBus = bus
	}
}

// New creates a new PipeWeaver instance with the provided options.
func New(options ...Option) (*PipeWeaver, error) {
	w := &PipeWeaver{
		config:     DefaultConfig(),
		store:      NewPipelineStore(),
		runs:       make(map[string]*Run),
		runCancels: make(map[string]context.CancelFunc),
	}

	for _, option := range options {
		option(w)
	}

	// Validate required components
	if w.registry == nil {
		return nil, NewConfigurationError("tool registry is required", nil)
	}
	if w.engine == nil {
		return nil, NewConfigurationError("execution engine is required", nil)
	}

	// A non-positive round cap would fail every tool-calling turn before
	// its first follow-up.
	if w.config.MaxToolRounds <= 0 {
		w.config.MaxToolRounds = DefaultConfig().MaxToolRounds
	}

	// Initialize event bus if enabled but not provided
	if w.config.EnableEventBus && w.eventBus == nil {
		w.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(w.config.EventBusBufferSize),
			eventbus.WithWorkerCount(w.config.EventBusWorkerCount),
		)
		log.Printf("Initialized default channel-based event bus")
	}

	return w, nil
}

// Registry returns the tool registry.
func (w *PipeWeaver) Registry() *Registry {
	return w.registry
}

// Pipeline returns the pipeline store. Presentation-layer edits (add,
// remove, reorder) go directly through it.
func (w *PipeWeaver) Pipeline() *PipelineStore {
	return w.store
}

// EventBus returns the event bus, which may be nil when disabled.
func (w *PipeWeaver) EventBus() eventbus.EventBus {
	return w.eventBus
}

// Run executes the current pipeline synchronously against the seed JSON
// context and returns the complete log. Only one run may be in flight at a
// time; a second start is refused with ErrCodeRunActive.
func (w *PipeWeaver) Run(ctx context.Context, seedJSON string) ([]LogEntry, error) {
	run, runCtx, err := w.beginRun(ctx, seedJSON)
	if err != nil {
		return nil, err
	}
	return w.executeRun(runCtx, run)
}

// StartRun starts an asynchronous run of the current pipeline. It returns
// the run ID, which can be used to poll status and log, or to cancel.
func (w *PipeWeaver) StartRun(ctx context.Context, seedJSON string) (string, error) {
	run, runCtx, err := w.beginRun(ctx, seedJSON)
	if err != nil {
		return "", err
	}

	go func() {
		if _, err := w.executeRun(runCtx, run); err != nil {
			log.Printf("Async run finished with error (run_id: %s, error: %v)", run.ID, err)
		}
	}()

	return run.ID, nil
}

// beginRun snapshots the pipeline, registers the run and claims the
// single-run guard.
func (w *PipeWeaver) beginRun(ctx context.Context, seedJSON string) (*Run, context.Context, error) {
	run := NewRun(w.store.Snapshot(), seedJSON)
	runCtx, cancel := context.WithCancel(ctx)

	w.runsMutex.Lock()
	defer w.runsMutex.Unlock()
	if w.activeRunID != "" {
		cancel()
		return nil, nil, NewRunActiveError(w.activeRunID)
	}
	w.activeRunID = run.ID
	w.runs[run.ID] = run
	w.runCancels[run.ID] = cancel
	return run, runCtx, nil
}

// executeRun drives the engine and releases the guard when the run reaches
// a terminal state.
func (w *PipeWeaver) executeRun(ctx context.Context, run *Run) ([]LogEntry, error) {
	defer func() {
		w.runsMutex.Lock()
		if w.activeRunID == run.ID {
			w.activeRunID = ""
		}
		if cancel, ok := w.runCancels[run.ID]; ok {
			cancel()
			delete(w.runCancels, run.ID)
		}
		w.runsMutex.Unlock()
	}()

	run.UpdateState(RunStateRunning, nil)
	entries, err := w.engine.ExecuteRun(ctx, run)
	if err != nil {
		state := RunStateFailed
		if HasCode(err, ErrCodeCancelled) || ctx.Err() != nil {
			state = RunStateCancelled
		}
		run.UpdateState(state, err)
		return entries, err
	}

	run.UpdateState(RunStateCompleted, nil)
	return entries, nil
}

// SubmitUtterance runs one conversational turn: the utterance plus the
// prior history goes to the agent, any call requests it makes are applied
// to the pipeline store, and the agent's call-free reply becomes the
// assistant message. Only one turn may be in flight at a time.
func (w *PipeWeaver) SubmitUtterance(ctx context.Context, utterance string) (string, error) {
	if w.agent == nil {
		return "", NewConfigurationError("reasoning agent is not configured", nil)
	}
	if w.history == nil {
		return "", NewConfigurationError("conversation history is not configured", nil)
	}

	w.turnMutex.Lock()
	if w.turnActive {
		w.turnMutex.Unlock()
		return "", NewTurnActiveError()
	}
	w.turnActive = true
	w.turnMutex.Unlock()

	defer func() {
		w.turnMutex.Lock()
		w.turnActive = false
		w.turnMutex.Unlock()
	}()

	turnCtx := ctx
	if w.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, w.config.TurnTimeout)
		defer cancel()
	}

	machine := CreateTurnMachine(BridgeComponents{
		Agent:    w.agent,
		Store:    w.store,
		Registry: w.registry,
		History:  w.history,
		Config:   w.config,
	}, w.eventBus)

	tCtx := NewTurnContext(uuid.New().String(), utterance)
	finalText, err := machine.Execute(turnCtx, tCtx)

	if w.eventBus != nil && tCtx.CurrentState == TurnStateCancelled {
		cancelEvent := eventbus.NewEvent(
			eventbus.EventTurnCancelled,
			utterance,
			"PipeWeaver.SubmitUtterance",
			map[string]interface{}{
				"turn_id": tCtx.TurnID,
				"stage":   tCtx.ErrorStage,
			},
		)
		w.eventBus.Publish(context.Background(), cancelEvent)
	}

	if w.eventBus != nil && err == nil {
		doneEvent := eventbus.NewEvent(
			eventbus.EventTurnCompleted,
			finalText,
			"PipeWeaver.SubmitUtterance",
			map[string]interface{}{
				"turn_id":     tCtx.TurnID,
				"rounds":      tCtx.Rounds,
				"duration_ms": tCtx.GetTotalDuration().Milliseconds(),
			},
		)
		w.eventBus.Publish(context.Background(), doneEvent)
	}

	return finalText, err
}

// ResetConversation clears the chat history.
func (w *PipeWeaver) ResetConversation(ctx context.Context) error {
	if w.history == nil {
		return nil
	}
	return w.history.Reset(ctx)
}

// Close shuts down the event bus, if one is owned.
func (w *PipeWeaver) Close() error {
	if w.eventBus != nil {
		return w.eventBus.Close()
	}
	return nil
}
