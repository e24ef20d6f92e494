package pipeweaver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/pipeweaver/internal/eventbus"
)

// CapabilityAddOrResetStep is the single function the bridge declares to
// the reasoning agent.
const CapabilityAddOrResetStep = "add_or_reset_step"

// BridgeComponents holds references to the components a turn needs.
type BridgeComponents struct {
	Agent    Agent
	Store    *PipelineStore
	Registry *Registry
	History  History
	Config   Config
}

// CreateTurnMachine builds a complete state machine for one conversation
// turn: Init -> AwaitingReply -> (ProcessingCalls -> AwaitingReply)* ->
// Complete.
func CreateTurnMachine(components BridgeComponents, eventBus eventbus.EventBus) *TurnMachine {
	tm := NewTurnMachine(eventBus)

	tm.RegisterTransition(TurnStateInit, createTurnInitTransition(components))
	tm.RegisterTransition(TurnStateAwaitingReply, createAwaitingReplyTransition(components))
	tm.RegisterTransition(TurnStateProcessingCalls, createProcessingCallsTransition(components))
	tm.RegisterTransition(TurnStateError, createTurnErrorTransition(components))
	tm.RegisterTransition(TurnStateComplete, createTurnCompleteTransition(components))
	tm.RegisterTransition(TurnStateCancelled, createTurnCancelledTransition(components))

	return tm
}

// CapabilitySchema declares the bridge's single function, with the tool id
// parameter enum-constrained to the registry's ids.
func CapabilitySchema(registry *Registry) []FunctionSchema {
	return []FunctionSchema{
		{
			Name:        CapabilityAddOrResetStep,
			Description: "Append a pipeline step for the given tool, or reset the pipeline to contain only that step.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"tool_id": map[string]interface{}{
						"type": "string",
						"enum": registry.IDs(),
					},
					"reset": map[string]interface{}{
						"type":    "boolean",
						"default": false,
					},
				},
				"required": []string{"tool_id"},
			},
		},
	}
}

// createTurnInitTransition records the user utterance and prepares the
// capability schema.
func createTurnInitTransition(components BridgeComponents) TurnTransition {
	return func(ctx context.Context, eb eventbus.EventBus, tCtx *TurnContext) (TurnState, error) {
		hasEventBus := eb != nil

		if hasEventBus {
			startEvent := eventbus.NewEvent(
				eventbus.EventTurnStarted,
				tCtx.Utterance,
				"TurnMachine.Init",
				map[string]interface{}{
					"turn_id":   tCtx.TurnID,
					"timestamp": time.Now().Format(time.RFC3339),
				},
			)
			eb.Publish(ctx, startEvent)
		}

		// The user message goes into history before the agent is reached so
		// a transport failure later leaves the utterance in place without an
		// assistant reply.
		userMsg := ChatMessage{Role: RoleUser, Content: tCtx.Utterance}
		if err := components.History.Append(ctx, userMsg); err != nil {
			return TurnStateError, NewInternalError("turn", "failed to record user message", err)
		}

		return TurnStateAwaitingReply, nil
	}
}

// createAwaitingReplyTransition performs one round trip with the agent.
// The first round sends the history and capabilities; later rounds relay
// the accumulated call results.
func createAwaitingReplyTransition(components BridgeComponents) TurnTransition {
	return func(ctx context.Context, eb eventbus.EventBus, tCtx *TurnContext) (TurnState, error) {
		hasEventBus := eb != nil
		agent := components.Agent

		var reply *AgentReply
		var err error

		if tCtx.Rounds == 0 {
			var history []ChatMessage
			history, err = components.History.Messages(ctx)
			if err != nil {
				return TurnStateError, NewInternalError("turn", "failed to load history", err)
			}
			reply, err = agent.Send(ctx, history, CapabilitySchema(components.Registry))
		} else {
			reply, err = agent.SendFollowUp(ctx, tCtx.CallResults)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return TurnStateCancelled, err
			}
			if hasEventBus {
				failEvent := eventbus.NewEvent(
					eventbus.EventTurnFailed,
					tCtx.Utterance,
					"TurnMachine.AwaitingReply",
					map[string]interface{}{
						"turn_id": tCtx.TurnID,
						"error":   err.Error(),
						"round":   tCtx.Rounds,
					},
				)
				eb.Publish(ctx, failEvent)
			}
			if IsPipeWeaverError(err) {
				return TurnStateError, err
			}
			return TurnStateError, NewAgentUnavailableError(err)
		}
		if reply == nil {
			return TurnStateError, NewAgentUnavailableError(fmt.Errorf("agent returned a nil reply"))
		}

		tCtx.Reply = reply

		if hasEventBus {
			replyEvent := eventbus.NewEvent(
				eventbus.EventAgentReplyReceived,
				reply.Text,
				"TurnMachine.AwaitingReply",
				map[string]interface{}{
					"turn_id":    tCtx.TurnID,
					"call_count": len(reply.Calls),
					"round":      tCtx.Rounds,
				},
			)
			eb.Publish(ctx, replyEvent)
		}

		if len(reply.Calls) == 0 {
			// Candidate final answer: the turn closes on a call-free reply.
			tCtx.FinalText = reply.Text
			modelMsg := ChatMessage{Role: RoleModel, Content: reply.Text}
			if err := components.History.Append(ctx, modelMsg); err != nil {
				return TurnStateError, NewInternalError("turn", "failed to record assistant message", err)
			}
			return TurnStateComplete, nil
		}

		tCtx.PendingCalls = reply.Calls
		return TurnStateProcessingCalls, nil
	}
}

// createProcessingCallsTransition applies the pending call requests to the
// pipeline store and packages their results for the follow-up message.
func createProcessingCallsTransition(components BridgeComponents) TurnTransition {
	return func(ctx context.Context, eb eventbus.EventBus, tCtx *TurnContext) (TurnState, error) {
		tCtx.Rounds++
		if tCtx.Rounds > components.Config.MaxToolRounds {
			err := NewProtocolLoopExceededError(tCtx.Rounds, components.Config.MaxToolRounds)
			if eb != nil {
				failEvent := eventbus.NewEvent(
					eventbus.EventTurnFailed,
					tCtx.Utterance,
					"TurnMachine.ProcessingCalls",
					map[string]interface{}{
						"turn_id": tCtx.TurnID,
						"error":   err.Error(),
					},
				)
				eb.Publish(ctx, failEvent)
			}
			return TurnStateError, err
		}

		results := make([]ToolCallResult, 0, len(tCtx.PendingCalls))
		for _, call := range tCtx.PendingCalls {
			result := applyToolCall(components, call)
			results = append(results, result)

			if eb != nil {
				eventType := eventbus.EventToolCallApplied
				if !result.OK {
					eventType = eventbus.EventToolCallRejected
				}
				callEvent := eventbus.NewEvent(
					eventType,
					call,
					"TurnMachine.ProcessingCalls",
					map[string]interface{}{
						"turn_id": tCtx.TurnID,
						"message": result.Message,
					},
				)
				eb.Publish(ctx, callEvent)
			}
		}

		tCtx.CallResults = results
		tCtx.PendingCalls = nil
		return TurnStateAwaitingReply, nil
	}
}

// applyToolCall validates one agent call and mutates the pipeline store.
// Unlike the engine's silent-skip policy, an unrecognized tool id here is
// rejected with an ok:false result so an invalid id never corrupts the
// store.
func applyToolCall(components BridgeComponents, call AgentCall) ToolCallResult {
	if call.Name != CapabilityAddOrResetStep {
		return ToolCallResult{
			Name:    call.Name,
			OK:      false,
			Message: fmt.Sprintf("unknown function '%s'", call.Name),
		}
	}

	toolID, ok := call.Args["tool_id"].(string)
	if !ok || toolID == "" {
		return ToolCallResult{
			Name:    call.Name,
			OK:      false,
			Message: "missing required argument 'tool_id'",
		}
	}

	def, found := components.Registry.Resolve(toolID)
	if !found {
		return ToolCallResult{
			Name:    call.Name,
			OK:      false,
			Message: fmt.Sprintf("unknown tool id '%s'", toolID),
		}
	}

	reset := false
	if v, exists := call.Args["reset"]; exists {
		if b, isBool := v.(bool); isBool {
			reset = b
		}
	}

	if reset {
		components.Store.ReplaceAll([]string{toolID})
		return ToolCallResult{
			Name:    call.Name,
			OK:      true,
			Message: fmt.Sprintf("pipeline reset, now contains a single '%s' step", def.Name),
		}
	}

	components.Store.Append(toolID)
	return ToolCallResult{
		Name:    call.Name,
		OK:      true,
		Message: fmt.Sprintf("appended a '%s' step at position %d", def.Name, components.Store.Len()),
	}
}

// createTurnErrorTransition handles error states.
func createTurnErrorTransition(_ BridgeComponents) TurnTransition {
	return func(ctx context.Context, eb eventbus.EventBus, tCtx *TurnContext) (TurnState, error) {
		// The error is already recorded in the turn context; no assistant
		// message is appended so history stays uncorrupted.
		return TurnStateComplete, tCtx.LastError
	}
}

// createTurnCompleteTransition handles the complete state.
func createTurnCompleteTransition(_ BridgeComponents) TurnTransition {
	return func(ctx context.Context, eb eventbus.EventBus, tCtx *TurnContext) (TurnState, error) {
		// Terminal state; the machine's Execute method returns the final text.
		return TurnStateComplete, nil
	}
}

// createTurnCancelledTransition handles the cancelled state.
func createTurnCancelledTransition(_ BridgeComponents) TurnTransition {
	return func(ctx context.Context, eb eventbus.EventBus, tCtx *TurnContext) (TurnState, error) {
		return TurnStateCancelled, tCtx.LastError
	}
}
