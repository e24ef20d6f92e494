// Package adapters bridges external model runtimes to the interfaces the
// orchestrator expects.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/pipeweaver"
	"github.com/firebase/genkit/go/core"
)

// AgentExchange is the input to the initial agent flow: the transcript so
// far plus the function schemas the model may call.
type AgentExchange struct {
	History      []pipeweaver.ChatMessage    `json:"history"`
	Capabilities []pipeweaver.FunctionSchema `json:"capabilities"`
}

// FollowUp is the input to the follow-up flow: the results of the tool
// calls the model requested in its previous reply.
type FollowUp struct {
	Results []pipeweaver.ToolCallResult `json:"results"`
}

// GenkitAgentAdapter uses Genkit Flows to implement the Agent interface.
type GenkitAgentAdapter struct {
	sendFlow     *core.Flow[*AgentExchange, *pipeweaver.AgentReply, struct{}]
	followUpFlow *core.Flow[*FollowUp, *pipeweaver.AgentReply, struct{}]
}

// NewGenkitAgentAdapter creates a new adapter around the two agent flows.
func NewGenkitAgentAdapter(
	sendFlow *core.Flow[*AgentExchange, *pipeweaver.AgentReply, struct{}],
	followUpFlow *core.Flow[*FollowUp, *pipeweaver.AgentReply, struct{}],
) *GenkitAgentAdapter {
	return &GenkitAgentAdapter{
		sendFlow:     sendFlow,
		followUpFlow: followUpFlow,
	}
}

// Send implements the pipeweaver.Agent interface.
func (a *GenkitAgentAdapter) Send(ctx context.Context, history []pipeweaver.ChatMessage, capabilities []pipeweaver.FunctionSchema) (*pipeweaver.AgentReply, error) {
	if a.sendFlow == nil {
		return nil, pipeweaver.NewConfigurationError("agent send flow is not configured", nil)
	}

	exchange := &AgentExchange{
		History:      history,
		Capabilities: capabilities,
	}
	reply, err := a.sendFlow.Run(ctx, exchange)
	if err != nil {
		return nil, pipeweaver.NewAgentUnavailableError(fmt.Errorf("agent flow execution failed: %w", err))
	}
	return reply, nil
}

// SendFollowUp implements the pipeweaver.Agent interface.
func (a *GenkitAgentAdapter) SendFollowUp(ctx context.Context, results []pipeweaver.ToolCallResult) (*pipeweaver.AgentReply, error) {
	if a.followUpFlow == nil {
		return nil, pipeweaver.NewConfigurationError("agent follow-up flow is not configured", nil)
	}

	reply, err := a.followUpFlow.Run(ctx, &FollowUp{Results: results})
	if err != nil {
		return nil, pipeweaver.NewAgentUnavailableError(fmt.Errorf("agent follow-up flow execution failed: %w", err))
	}
	return reply, nil
}

// ParseReplyText decodes a model response body into an AgentReply. Models
// often wrap JSON in markdown fences, so those are stripped first. A body
// that is not JSON at all is treated as a plain text reply.
func ParseReplyText(raw string) (*pipeweaver.AgentReply, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if !strings.HasPrefix(cleaned, "{") {
		return &pipeweaver.AgentReply{Text: cleaned}, nil
	}

	var reply pipeweaver.AgentReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse agent reply: %w", err)
	}
	return &reply, nil
}
