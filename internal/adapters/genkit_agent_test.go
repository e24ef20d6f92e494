package adapters

import (
	"testing"
)

func TestParseReplyTextPlain(t *testing.T) {
	reply, err := ParseReplyText("The pipeline now has three steps.")
	if err != nil {
		t.Fatalf("ParseReplyText failed: %v", err)
	}
	if reply.Text != "The pipeline now has three steps." {
		t.Errorf("unexpected text: %q", reply.Text)
	}
	if len(reply.Calls) != 0 {
		t.Errorf("expected no calls, got %d", len(reply.Calls))
	}
}

func TestParseReplyTextJSONWithCalls(t *testing.T) {
	raw := `{"text": "adding the step", "calls": [{"name": "add_or_reset_step", "args": {"tool_id": "matrix.add"}}]}`
	reply, err := ParseReplyText(raw)
	if err != nil {
		t.Fatalf("ParseReplyText failed: %v", err)
	}
	if len(reply.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(reply.Calls))
	}
	if reply.Calls[0].Name != "add_or_reset_step" {
		t.Errorf("unexpected call name: %q", reply.Calls[0].Name)
	}
	if reply.Calls[0].Args["tool_id"] != "matrix.add" {
		t.Errorf("unexpected args: %v", reply.Calls[0].Args)
	}
}

func TestParseReplyTextFencedJSON(t *testing.T) {
	raw := "```json\n{\"text\": \"done\"}\n```"
	reply, err := ParseReplyText(raw)
	if err != nil {
		t.Fatalf("ParseReplyText failed: %v", err)
	}
	if reply.Text != "done" {
		t.Errorf("unexpected text: %q", reply.Text)
	}
}

func TestParseReplyTextMalformedJSON(t *testing.T) {
	if _, err := ParseReplyText(`{"text": "unterminated`); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
