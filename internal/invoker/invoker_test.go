package invoker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockInvokerKnownTools(t *testing.T) {
	m := NewMockInvoker(WithoutDelay())
	ctx := context.Background()

	for _, toolID := range []string{"matrix.add", "matrix.multiply", "data.normalize", "data.filter", "analysis.describe", "utils.log"} {
		response, err := m.Invoke(ctx, toolID, map[string]interface{}{"tool_id": toolID})
		if err != nil {
			t.Fatalf("Invoke(%s) returned error: %v", toolID, err)
		}
		if response["output"] == nil {
			t.Errorf("Invoke(%s) response missing 'output'", toolID)
		}
	}
}

func TestMockInvokerUnknownTool(t *testing.T) {
	m := NewMockInvoker(WithoutDelay())
	_, err := m.Invoke(context.Background(), "no.such.tool", nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestMockInvokerEval(t *testing.T) {
	m := NewMockInvoker(WithoutDelay())
	request := map[string]interface{}{
		"tool_id": "utils.eval",
		"context": map[string]interface{}{
			"expression": "a * b + 1",
			"a":          float64(3),
			"b":          float64(4),
		},
	}

	response, err := m.Invoke(context.Background(), "utils.eval", request)
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	result, ok := response["result"].(float64)
	if !ok || result != 13 {
		t.Errorf("expected result 13, got %v", response["result"])
	}
}

func TestMockInvokerEvalBadExpression(t *testing.T) {
	m := NewMockInvoker(WithoutDelay())
	request := map[string]interface{}{
		"context": map[string]interface{}{"expression": "a +* b"},
	}
	if _, err := m.Invoke(context.Background(), "utils.eval", request); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMockInvokerCancelledDuringDelay(t *testing.T) {
	m := NewMockInvoker(WithDelay(5*time.Second, 0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := m.Invoke(ctx, "matrix.add", nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("invocation did not stop after cancellation")
	}
}

func TestFuncInvokerDispatch(t *testing.T) {
	f := NewFuncInvoker()
	err := f.Register("echo", func(ctx context.Context, request map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"echo": request["tool_id"]}, nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	response, err := f.Invoke(context.Background(), "echo", map[string]interface{}{"tool_id": "echo"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if response["echo"] != "echo" {
		t.Errorf("unexpected response: %v", response)
	}
}

func TestFuncInvokerDuplicateRegistration(t *testing.T) {
	f := NewFuncInvoker()
	fn := func(ctx context.Context, request map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	}
	if err := f.Register("dup", fn); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := f.Register("dup", fn); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}

func TestFuncInvokerUnregisteredTool(t *testing.T) {
	f := NewFuncInvoker()
	if _, err := f.Invoke(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unregistered tool")
	}
}
