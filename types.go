package pipeweaver

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ToolCategory groups related tools for presentation and capability schemas.
type ToolCategory string

const (
	// CategoryMath covers matrix and arithmetic operations.
	CategoryMath ToolCategory = "math"
	// CategoryData covers data shaping operations.
	CategoryData ToolCategory = "data"
	// CategoryAnalysis covers statistical operations.
	CategoryAnalysis ToolCategory = "analysis"
	// CategoryUtility covers logging and other helper operations.
	CategoryUtility ToolCategory = "utility"
)

// ToolDefinition describes one tool in the registry. Definitions are
// immutable; the registry is loaded once at construction.
type ToolDefinition struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
}

// Step is one configured invocation of a tool within a pipeline. Steps are
// created on append and only ever mutated by position, never in place.
// The ToolID is not checked against the registry at insertion time; the
// engine skips steps whose ToolID does not resolve.
type Step struct {
	InstanceID string `json:"instance_id"`
	ToolID     string `json:"tool_id"`
}

// LogStatus is the outcome of a single executed step.
type LogStatus string

const (
	// LogStatusSuccess indicates the step's invocation returned a response.
	LogStatusSuccess LogStatus = "success"
	// LogStatusError indicates the step's invocation failed.
	LogStatusError LogStatus = "error"
)

// LogEntry records one executed step of a run. Entries are append-only and
// owned by a single run; StepIndex is 1-based over emitted entries.
type LogEntry struct {
	StepIndex int                    `json:"step_index"`
	StepName  string                 `json:"step_name"`
	ToolID    string                 `json:"tool_id"`
	Request   map[string]interface{} `json:"request"`
	Response  map[string]interface{} `json:"response"`
	Status    LogStatus              `json:"status"`
	Timestamp int64                  `json:"timestamp"`
}

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks messages typed by the user.
	RoleUser Role = "user"
	// RoleModel marks messages produced by the reasoning agent.
	RoleModel Role = "model"
	// RoleSystem marks synthetic messages injected by the host.
	RoleSystem Role = "system"
)

// ChatMessage is one entry in the conversation history.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// FunctionSchema declares one capability offered to the reasoning agent.
// Parameters is a JSON-schema-shaped map, matching what function-calling
// protocols expect on the wire.
type FunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// AgentCall is one structured function-call request extracted from an
// agent reply.
type AgentCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// AgentReply is the agent's answer for one round trip: free text plus zero
// or more call requests. A reply with no calls closes the turn.
type AgentReply struct {
	Text  string      `json:"text"`
	Calls []AgentCall `json:"calls,omitempty"`
}

// ToolCallResult is the structured outcome of applying one agent call
// against the pipeline store. Results are relayed back to the agent before
// the turn can close.
type ToolCallResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// RunState represents the possible states of a pipeline run.
type RunState string

const (
	// RunStatePending indicates the run has been created but not started.
	RunStatePending RunState = "pending"
	// RunStateRunning indicates the run is executing steps.
	RunStateRunning RunState = "running"
	// RunStateCompleted indicates the run finished all resolved steps.
	RunStateCompleted RunState = "completed"
	// RunStateFailed indicates the run aborted before its first step.
	RunStateFailed RunState = "failed"
	// RunStateCancelled indicates the run was cancelled mid-flight.
	RunStateCancelled RunState = "cancelled"
)

// Run is one end-to-end execution of a pipeline snapshot against a seed
// context. The run owns its log; entries become observable through Log as
// soon as they are recorded, before the next step starts.
type Run struct {
	ID       string `json:"id"`
	Steps    []Step `json:"steps"`
	SeedJSON string `json:"seed_json"`

	// Internal execution state
	state     RunState
	entries   []LogEntry
	err       error
	startTime time.Time
	endTime   time.Time
	mutex     sync.RWMutex
}

// NewRun creates a pending run over a pipeline snapshot.
func NewRun(steps []Step, seedJSON string) *Run {
	return &Run{
		ID:       uuid.New().String(),
		Steps:    steps,
		SeedJSON: seedJSON,
		state:    RunStatePending,
	}
}

// Record appends a completed step's entry to the run log.
func (r *Run) Record(entry LogEntry) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries = append(r.entries, entry)
}

// Log returns a snapshot of the entries recorded so far, in order.
func (r *Run) Log() []LogEntry {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	entries := make([]LogEntry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// GetState safely retrieves the run's current state.
func (r *Run) GetState() RunState {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state
}

// UpdateState safely updates the run's state and related information.
func (r *Run) UpdateState(newState RunState, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	oldState := r.state
	r.state = newState

	now := time.Now()
	if newState == RunStateRunning && oldState != RunStateRunning {
		r.startTime = now
	}
	if r.isTerminalLocked() && oldState == RunStateRunning {
		r.endTime = now
	}

	if err != nil {
		r.err = err
	}
}

// Err returns the error recorded for the run, if any.
func (r *Run) Err() error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.err
}

// IsTerminal reports whether the run has reached a final state.
func (r *Run) IsTerminal() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.isTerminalLocked()
}

func (r *Run) isTerminalLocked() bool {
	return r.state == RunStateCompleted || r.state == RunStateFailed || r.state == RunStateCancelled
}

// Duration returns the execution duration of the run.
func (r *Run) Duration() time.Duration {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.startTime.IsZero() {
		return 0
	}
	if r.endTime.IsZero() {
		return time.Since(r.startTime)
	}
	return r.endTime.Sub(r.startTime)
}

// StartTime returns when the run started executing, or the zero time if it
// has not started.
func (r *Run) StartTime() time.Time {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.startTime
}
