package pipeweaver

import (
	"context"
	"sync"
	"testing"
	"time"
)

// mockEngine scripts engine behavior so orchestrator tests stay
// independent of real invocation.
type mockEngine struct {
	executeFunc func(ctx context.Context, run *Run) ([]LogEntry, error)
}

func (m *mockEngine) ExecuteRun(ctx context.Context, run *Run) ([]LogEntry, error) {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, run)
	}
	return nil, nil
}

func newTestWeaver(t *testing.T, engine Engine, options ...Option) *PipeWeaver {
	t.Helper()
	registry, err := NewRegistry(DefaultToolSet())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	config := DefaultConfig()
	config.EnableEventBus = false

	base := []Option{WithRegistry(registry), WithEngine(engine), WithConfig(config)}
	w, err := New(append(base, options...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return w
}

func TestNewRequiresRegistryAndEngine(t *testing.T) {
	if _, err := New(WithEngine(&mockEngine{})); !HasCode(err, ErrCodeConfiguration) {
		t.Errorf("expected configuration error without registry, got %v", err)
	}

	registry, _ := NewRegistry(DefaultToolSet())
	if _, err := New(WithRegistry(registry)); !HasCode(err, ErrCodeConfiguration) {
		t.Errorf("expected configuration error without engine, got %v", err)
	}
}

func TestRunExecutesPipelineSnapshot(t *testing.T) {
	var snapshotLen int
	engine := &mockEngine{
		executeFunc: func(ctx context.Context, run *Run) ([]LogEntry, error) {
			snapshotLen = len(run.Steps)
			entry := LogEntry{StepIndex: 1, ToolID: "matrix.add", Status: LogStatusSuccess}
			run.Record(entry)
			return []LogEntry{entry}, nil
		},
	}
	w := newTestWeaver(t, engine)
	w.Pipeline().Append("matrix.add")

	entries, err := w.Run(context.Background(), `{"a": 1}`)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if snapshotLen != 1 {
		t.Errorf("engine should receive the snapshot, got %d steps", snapshotLen)
	}
	if len(entries) != 1 || entries[0].Status != LogStatusSuccess {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestSingleRunGuard(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var startOnce sync.Once
	engine := &mockEngine{
		executeFunc: func(ctx context.Context, run *Run) ([]LogEntry, error) {
			startOnce.Do(func() { close(started) })
			<-release
			return nil, nil
		},
	}
	w := newTestWeaver(t, engine)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = w.Run(context.Background(), `{}`)
	}()
	<-started

	if _, err := w.Run(context.Background(), `{}`); !HasCode(err, ErrCodeRunActive) {
		t.Errorf("expected run active error, got %v", err)
	}

	close(release)
	wg.Wait()

	// The guard releases once the first run finishes.
	if _, err := w.Run(context.Background(), `{}`); err != nil {
		t.Errorf("run after completion should succeed, got %v", err)
	}
}

func TestStartRunStatusAndLog(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	engine := &mockEngine{
		executeFunc: func(ctx context.Context, run *Run) ([]LogEntry, error) {
			run.Record(LogEntry{StepIndex: 1, ToolID: "matrix.add", Status: LogStatusSuccess})
			close(started)
			<-release
			return run.Log(), nil
		},
	}
	w := newTestWeaver(t, engine)
	w.Pipeline().Append("matrix.add")

	runID, err := w.StartRun(context.Background(), `{}`)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	<-started

	// Mid-run the recorded entries are already visible.
	entries, err := w.GetRunLog(runID)
	if err != nil {
		t.Fatalf("GetRunLog failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry mid-run, got %d", len(entries))
	}

	status, err := w.GetRunStatus(runID)
	if err != nil {
		t.Fatalf("GetRunStatus failed: %v", err)
	}
	if status.State != RunStateRunning || status.IsComplete {
		t.Errorf("expected running status, got %+v", status)
	}

	close(release)
	waitForState(t, w, runID, RunStateCompleted)

	status, _ = w.GetRunStatus(runID)
	if !status.IsComplete || status.HasError {
		t.Errorf("expected clean completion, got %+v", status)
	}
}

func TestCancelRun(t *testing.T) {
	started := make(chan struct{})
	engine := &mockEngine{
		executeFunc: func(ctx context.Context, run *Run) ([]LogEntry, error) {
			close(started)
			<-ctx.Done()
			return nil, NewCancelledError("run", ctx.Err())
		},
	}
	w := newTestWeaver(t, engine)

	runID, err := w.StartRun(context.Background(), `{}`)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	<-started

	cancelled, err := w.CancelRun(runID)
	if err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	if !cancelled {
		t.Error("expected the in-flight run to be cancelled")
	}

	waitForState(t, w, runID, RunStateCancelled)

	// Cancelling a finished run is a no-op.
	cancelled, err = w.CancelRun(runID)
	if err != nil || cancelled {
		t.Errorf("expected no-op cancel, got %v / %v", cancelled, err)
	}
}

func TestGetRunStatusUnknownRun(t *testing.T) {
	w := newTestWeaver(t, &mockEngine{})
	if _, err := w.GetRunStatus("missing"); err == nil {
		t.Error("expected error for unknown run id")
	}
	if _, err := w.GetRunLog("missing"); err == nil {
		t.Error("expected error for unknown run id")
	}
}

func TestListAndCleanupRuns(t *testing.T) {
	w := newTestWeaver(t, &mockEngine{})

	if _, err := w.Run(context.Background(), `{}`); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := w.Run(context.Background(), `{}`); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	runs := w.ListRuns()
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	for id, state := range runs {
		if state != RunStateCompleted {
			t.Errorf("run %s should be completed, got %s", id, state)
		}
	}

	removed := w.CleanupFinishedRuns(0)
	if removed != 2 {
		t.Errorf("expected 2 runs cleaned up, got %d", removed)
	}
	if len(w.ListRuns()) != 0 {
		t.Error("runs should be gone after cleanup")
	}
}

func TestSubmitUtteranceRequiresAgentAndHistory(t *testing.T) {
	w := newTestWeaver(t, &mockEngine{})
	if _, err := w.SubmitUtterance(context.Background(), "hi"); !HasCode(err, ErrCodeConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestSubmitUtteranceSingleTurnGuard(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var startOnce sync.Once
	agent := &mockAgent{
		sendFunc: func(ctx context.Context, history []ChatMessage, capabilities []FunctionSchema) (*AgentReply, error) {
			startOnce.Do(func() { close(started) })
			<-release
			return &AgentReply{Text: "done"}, nil
		},
	}
	w := newTestWeaver(t, &mockEngine{}, WithAgent(agent), WithHistory(&memHistory{}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = w.SubmitUtterance(context.Background(), "first")
	}()
	<-started

	if _, err := w.SubmitUtterance(context.Background(), "second"); !HasCode(err, ErrCodeTurnActive) {
		t.Errorf("expected turn active error, got %v", err)
	}

	close(release)
	wg.Wait()

	if _, err := w.SubmitUtterance(context.Background(), "third"); err != nil {
		t.Errorf("turn after completion should succeed, got %v", err)
	}
}

func TestZeroConfigGetsUsableRoundCap(t *testing.T) {
	registry, _ := NewRegistry(DefaultToolSet())
	agent := &mockAgent{
		sendFunc: func(ctx context.Context, history []ChatMessage, capabilities []FunctionSchema) (*AgentReply, error) {
			return &AgentReply{
				Calls: []AgentCall{{Name: CapabilityAddOrResetStep, Args: map[string]interface{}{"tool_id": "matrix.add"}}},
			}, nil
		},
		followUpFunc: func(ctx context.Context, results []ToolCallResult) (*AgentReply, error) {
			return &AgentReply{Text: "added"}, nil
		},
	}

	w, err := New(
		WithRegistry(registry),
		WithEngine(&mockEngine{}),
		WithAgent(agent),
		WithHistory(&memHistory{}),
		WithConfig(Config{}),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// A zero-value config must not make every tool-calling turn trip the
	// round cap before its first follow-up.
	text, err := w.SubmitUtterance(context.Background(), "add matrix addition")
	if err != nil {
		t.Fatalf("SubmitUtterance failed: %v", err)
	}
	if text != "added" {
		t.Errorf("unexpected final text: %q", text)
	}
}

func TestResetConversation(t *testing.T) {
	history := &memHistory{}
	agent := &mockAgent{}
	w := newTestWeaver(t, &mockEngine{}, WithAgent(agent), WithHistory(history))

	if _, err := w.SubmitUtterance(context.Background(), "hello"); err != nil {
		t.Fatalf("SubmitUtterance failed: %v", err)
	}
	messages, _ := history.Messages(context.Background())
	if len(messages) == 0 {
		t.Fatal("expected messages before reset")
	}

	if err := w.ResetConversation(context.Background()); err != nil {
		t.Fatalf("ResetConversation failed: %v", err)
	}
	messages, _ = history.Messages(context.Background())
	if len(messages) != 0 {
		t.Errorf("expected empty history after reset, got %d", len(messages))
	}
}

// waitForState polls the run status until it reaches the wanted state or
// times out.
func waitForState(t *testing.T, w *PipeWeaver, runID string, want RunState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := w.GetRunStatus(runID)
		if err == nil && status.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached state %s", runID, want)
}
