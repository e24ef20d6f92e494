package pipeweaver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/pipeweaver/internal/eventbus"
)

// TurnState represents the current state of one conversation turn.
type TurnState string

const (
	// TurnStateInit is the initial state of a turn
	TurnStateInit TurnState = "init"
	// TurnStateAwaitingReply means the turn is waiting on the agent
	TurnStateAwaitingReply TurnState = "awaiting_reply"
	// TurnStateProcessingCalls means the turn is applying agent call requests
	TurnStateProcessingCalls TurnState = "processing_calls"
	// TurnStateError represents an error state
	TurnStateError TurnState = "error"
	// TurnStateComplete represents the completed state
	TurnStateComplete TurnState = "complete"
	// TurnStateCancelled represents the cancelled state
	TurnStateCancelled TurnState = "cancelled"
)

// TurnContext carries the data for one user-utterance-to-final-reply
// cycle. It acts as the "tape" of the turn automaton.
type TurnContext struct {
	// Input parameters
	TurnID    string
	Utterance string

	// Intermediate results
	Rounds       int
	Reply        *AgentReply
	PendingCalls []AgentCall
	CallResults  []ToolCallResult
	FinalText    string

	// Error handling
	LastError  error
	ErrorStage string

	// State management
	CurrentState TurnState
	StateStack   []TurnState

	// Timestamp tracking
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[TurnState]time.Time
}

// NewTurnContext creates a new turn context for the given user utterance.
func NewTurnContext(turnID, utterance string) *TurnContext {
	return &TurnContext{
		TurnID:          turnID,
		Utterance:       utterance,
		CurrentState:    TurnStateInit,
		StateStack:      []TurnState{},
		StartTime:       time.Now(),
		StateStartTimes: make(map[TurnState]time.Time),
	}
}

// PushState pushes the current state onto the stack and sets a new current state.
func (tc *TurnContext) PushState(state TurnState) {
	tc.StateStack = append(tc.StateStack, tc.CurrentState)
	tc.CurrentState = state
	tc.StateStartTimes[state] = time.Now()
}

// PopState pops the top state from the stack and sets it as the current state.
// Returns false if the stack is empty.
func (tc *TurnContext) PopState() bool {
	if len(tc.StateStack) == 0 {
		return false
	}
	lastIdx := len(tc.StateStack) - 1
	tc.CurrentState = tc.StateStack[lastIdx]
	tc.StateStack = tc.StateStack[:lastIdx]
	tc.StateStartTimes[tc.CurrentState] = time.Now()
	return true
}

// IsTerminal checks if the current state is a terminal state.
func (tc *TurnContext) IsTerminal() bool {
	return tc.CurrentState == TurnStateComplete || tc.CurrentState == TurnStateError || tc.CurrentState == TurnStateCancelled
}

// SetError sets the last error and error stage, transitioning to TurnStateError.
func (tc *TurnContext) SetError(err error, stage string) {
	tc.LastError = err
	tc.ErrorStage = stage
	tc.CurrentState = TurnStateError
	tc.StateStartTimes[TurnStateError] = time.Now()
}

// SetCancelled sets the state to Cancelled and records the cancellation error.
func (tc *TurnContext) SetCancelled(err error, stage string) {
	tc.LastError = err
	tc.ErrorStage = stage
	tc.CurrentState = TurnStateCancelled
	tc.StateStartTimes[TurnStateCancelled] = time.Now()
}

// Complete marks the turn as complete and sets the end time.
func (tc *TurnContext) Complete() {
	tc.CurrentState = TurnStateComplete
	tc.EndTime = time.Now()
	tc.StateStartTimes[TurnStateComplete] = tc.EndTime
}

// GetTotalDuration returns the total duration of the turn so far.
func (tc *TurnContext) GetTotalDuration() time.Duration {
	if tc.CurrentState == TurnStateComplete {
		return tc.EndTime.Sub(tc.StartTime)
	}
	return time.Since(tc.StartTime)
}

// TurnTransition defines a transition function for the turn state machine.
type TurnTransition func(ctx context.Context, eventBus eventbus.EventBus, tCtx *TurnContext) (TurnState, error)

// TurnMachine is the finite state machine driving one conversation turn.
type TurnMachine struct {
	transitions map[TurnState]TurnTransition
	eventBus    eventbus.EventBus
}

// NewTurnMachine creates a new turn machine with no transitions registered.
func NewTurnMachine(eventBus eventbus.EventBus) *TurnMachine {
	return &TurnMachine{
		transitions: make(map[TurnState]TurnTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (tm *TurnMachine) RegisterTransition(state TurnState, transition TurnTransition) {
	tm.transitions[state] = transition
}

// Execute runs the turn machine until completion or error.
func (tm *TurnMachine) Execute(ctx context.Context, tCtx *TurnContext) (string, error) {
	for !tCtx.IsTerminal() {
		// Check for context cancellation before executing the next state
		select {
		case <-ctx.Done():
			err := ctx.Err()
			currentStage := string(tCtx.CurrentState)
			tCtx.SetCancelled(err, currentStage)
			return "", err
		default:
		}

		transition, exists := tm.transitions[tCtx.CurrentState]
		if !exists {
			err := fmt.Errorf("no transition defined for state: %s", tCtx.CurrentState)
			currentStage := string(tCtx.CurrentState)
			tCtx.SetError(err, currentStage)
			return "", err
		}

		nextState, err := transition(ctx, tm.eventBus, tCtx)

		if err != nil {
			currentStage := string(tCtx.CurrentState)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				tCtx.SetCancelled(err, currentStage)
			} else if !tCtx.IsTerminal() {
				// Transitions usually call SetError themselves; catch the
				// ones that return a plain error without setting state.
				tCtx.SetError(err, currentStage)
			}
			continue
		}

		if !tCtx.IsTerminal() {
			tCtx.CurrentState = nextState
			tCtx.StateStartTimes[nextState] = time.Now()
		}
	}

	return tCtx.FinalText, tCtx.LastError
}
