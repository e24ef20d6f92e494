package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/pipeweaver"
)

func TestMemoryStoreAppendAndMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Append(ctx, pipeweaver.ChatMessage{Role: pipeweaver.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, pipeweaver.ChatMessage{Role: pipeweaver.RoleModel, Content: "hi there"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	messages, err := s.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != pipeweaver.RoleUser || messages[1].Role != pipeweaver.RoleModel {
		t.Errorf("messages out of order: %+v", messages)
	}
}

func TestMemoryStoreSnapshotIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Append(ctx, pipeweaver.ChatMessage{Role: pipeweaver.RoleUser, Content: "original"})

	messages, _ := s.Messages(ctx)
	messages[0].Content = "mutated"

	fresh, _ := s.Messages(ctx)
	if fresh[0].Content != "original" {
		t.Error("mutating the returned slice leaked into the store")
	}
}

func TestMemoryStoreReset(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Append(ctx, pipeweaver.ChatMessage{Role: pipeweaver.RoleUser, Content: "x"})

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	messages, _ := s.Messages(ctx)
	if len(messages) != 0 {
		t.Errorf("expected empty transcript after reset, got %d messages", len(messages))
	}
}

func TestMemoryStoreEmptyRoleRejected(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Append(context.Background(), pipeweaver.ChatMessage{Content: "no role"}); err == nil {
		t.Fatal("expected error for empty role")
	}
}

func TestMemoryStoreContextCancelled(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Append(ctx, pipeweaver.ChatMessage{Role: pipeweaver.RoleUser, Content: "x"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if _, err := s.Messages(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if err := s.Reset(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestFileStoreContextCancelled(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "transcript.json"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Append(ctx, pipeweaver.ChatMessage{Role: pipeweaver.RoleUser, Content: "x"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if _, err := s.Messages(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if err := s.Reset(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestFileStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.json")
	ctx := context.Background()

	s := NewFileStore(path)
	if err := s.Append(ctx, pipeweaver.ChatMessage{Role: pipeweaver.RoleUser, Content: "persist me"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	reloaded := NewFileStore(path)
	messages, err := reloaded.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "persist me" {
		t.Errorf("transcript not persisted: %+v", messages)
	}
}

func TestFileStoreResetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.json")
	ctx := context.Background()

	s := NewFileStore(path)
	_ = s.Append(ctx, pipeweaver.ChatMessage{Role: pipeweaver.RoleUser, Content: "x"})
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	reloaded := NewFileStore(path)
	messages, _ := reloaded.Messages(ctx)
	if len(messages) != 0 {
		t.Errorf("expected empty transcript after reset, got %d messages", len(messages))
	}
}

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s := NewFileStore(path)
	messages, err := s.Messages(context.Background())
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected empty transcript, got %d messages", len(messages))
	}
}
