// main.go
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/pipeweaver"
	"github.com/ZanzyTHEbar/pipeweaver/internal/adapters"
	"github.com/ZanzyTHEbar/pipeweaver/internal/engine"
	"github.com/ZanzyTHEbar/pipeweaver/internal/eventbus"
	"github.com/ZanzyTHEbar/pipeweaver/internal/history"
	"github.com/ZanzyTHEbar/pipeweaver/internal/invoker"
)

func main() {
	pipelinePath := flag.String("pipeline", "", "optional YAML pipeline definition to preload")
	historyPath := flag.String("history", "", "optional file path for persisting the conversation transcript")
	flag.Parse()

	ctx := context.Background()

	// Ensure GEMINI_API_KEY environment variable is set
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable not set.")
	}

	// Initialize Genkit with the Google AI plugin
	g, err := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
		genkit.WithDefaultModel("googleai/gemini-2.0-flash"),
	)
	if err != nil {
		log.Fatal("Genkit initialization failed:", err)
	}

	// --- Core dependencies ---
	registry, err := pipeweaver.NewRegistry(pipeweaver.DefaultToolSet())
	if err != nil {
		log.Fatalf("Failed to build tool registry: %v", err)
	}

	bus := eventbus.NewChannelEventBus()
	defer bus.Close()

	mockInvoker := invoker.NewMockInvoker()
	stepEngine := engine.New(registry, mockInvoker, engine.WithEventBus(bus))

	var store pipeweaver.History
	if *historyPath != "" {
		store = history.NewFileStore(*historyPath)
	} else {
		store = history.NewMemoryStore()
	}

	// --- Define Genkit Flows ---

	sendFlow := genkit.DefineFlow(g, "agentSendFlow",
		func(ctx context.Context, input *adapters.AgentExchange) (*pipeweaver.AgentReply, error) {
			prompt, err := buildSendPrompt(input)
			if err != nil {
				return nil, err
			}
			resp, err := genkit.Generate(ctx, g, ai.WithPrompt(prompt))
			if err != nil {
				return nil, fmt.Errorf("agent generation failed: %w", err)
			}
			return adapters.ParseReplyText(resp.Text())
		},
	)

	followUpFlow := genkit.DefineFlow(g, "agentFollowUpFlow",
		func(ctx context.Context, input *adapters.FollowUp) (*pipeweaver.AgentReply, error) {
			prompt, err := buildFollowUpPrompt(input)
			if err != nil {
				return nil, err
			}
			resp, err := genkit.Generate(ctx, g, ai.WithPrompt(prompt))
			if err != nil {
				return nil, fmt.Errorf("agent follow-up generation failed: %w", err)
			}
			return adapters.ParseReplyText(resp.Text())
		},
	)

	agent := adapters.NewGenkitAgentAdapter(sendFlow, followUpFlow)

	// --- Assemble the orchestrator ---
	weaver, err := pipeweaver.New(
		pipeweaver.WithRegistry(registry),
		pipeweaver.WithEngine(stepEngine),
		pipeweaver.WithAgent(agent),
		pipeweaver.WithHistory(store),
		pipeweaver.WithEventBus(bus),
	)
	if err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}
	defer weaver.Close()

	subscribeProgress(bus)

	if *pipelinePath != "" {
		file, err := engine.LoadPipelineFile(*pipelinePath)
		if err != nil {
			log.Fatalf("Failed to load pipeline file: %v", err)
		}
		weaver.Pipeline().ReplaceAll(file.ToolIDs())
		log.Printf("Loaded pipeline '%s' with %d steps", file.Name, weaver.Pipeline().Len())
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return repl(groupCtx, weaver)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("Shutting down with error: %v", err)
	}
	log.Println("Goodbye.")
}

// repl reads utterances and commands from stdin until EOF or cancellation.
func repl(ctx context.Context, weaver *pipeweaver.PipeWeaver) error {
	fmt.Println("Commands: /run <seed-json>, /steps, /reset, /quit. Anything else is sent to the agent.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/steps":
			for i, step := range weaver.Pipeline().Snapshot() {
				fmt.Printf("%d. %s (%s)\n", i+1, step.ToolID, step.InstanceID)
			}
		case line == "/reset":
			if err := weaver.ResetConversation(ctx); err != nil {
				fmt.Printf("reset failed: %v\n", err)
			} else {
				fmt.Println("conversation reset")
			}
		case strings.HasPrefix(line, "/run"):
			seed := strings.TrimSpace(strings.TrimPrefix(line, "/run"))
			if seed == "" {
				seed = "{}"
			}
			entries, err := weaver.Run(ctx, seed)
			if err != nil {
				fmt.Printf("run failed: %v\n", err)
				continue
			}
			for _, entry := range entries {
				fmt.Printf("[%d] %s -> %s\n", entry.StepIndex, entry.StepName, entry.Status)
			}
		default:
			answer, err := weaver.SubmitUtterance(ctx, line)
			if err != nil {
				fmt.Printf("turn failed: %v\n", err)
				continue
			}
			fmt.Println(answer)
		}
	}
}

// subscribeProgress prints run and turn lifecycle events as they happen.
func subscribeProgress(bus eventbus.EventBus) {
	printer := func(ctx context.Context, event eventbus.Event) error {
		log.Printf("event: %s (payload: %v)", event.Type(), event.Payload())
		return nil
	}
	lifecycle := []eventbus.EventType{
		eventbus.EventRunStarted,
		eventbus.EventRunCompleted,
		eventbus.EventRunFailed,
		eventbus.EventStepSkipped,
		eventbus.EventToolCallApplied,
		eventbus.EventToolCallRejected,
	}
	if _, err := bus.Subscribe(lifecycle, printer); err != nil {
		log.Printf("Failed to subscribe to lifecycle events (error: %v)", err)
	}
}

// buildSendPrompt renders the transcript and capability schemas into a
// single prompt instructing the model to answer with the reply JSON shape.
func buildSendPrompt(input *adapters.AgentExchange) (string, error) {
	capabilitiesJSON, err := json.MarshalIndent(input.Capabilities, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	var transcript strings.Builder
	for _, msg := range input.History {
		transcript.WriteString(fmt.Sprintf("%s: %s\n", msg.Role, msg.Content))
	}

	return fmt.Sprintf(`You help a user assemble a pipeline of data tools by calling functions.

Available functions:
%s

Conversation so far:
%s
Respond with a JSON object of the shape {"text": "...", "calls": [{"name": "...", "args": {...}}]}.
Omit "calls" when no function needs to be invoked and just answer in "text".
JSON reply:`, capabilitiesJSON, transcript.String()), nil
}

// buildFollowUpPrompt relays tool call outcomes back to the model so it can
// confirm, retry with different arguments, or finish the turn.
func buildFollowUpPrompt(input *adapters.FollowUp) (string, error) {
	resultsJSON, err := json.MarshalIndent(input.Results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal call results: %w", err)
	}

	return fmt.Sprintf(`The function calls you requested produced these results:
%s

Respond with a JSON object of the shape {"text": "...", "calls": [...]}.
Issue further calls only if a result requires correction, otherwise summarize the outcome for the user in "text".
JSON reply:`, resultsJSON), nil
}
