// Package history provides conversation transcript stores.
package history

import (
	"context"
	"sync"

	errbuilder "github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/pipeweaver"
)

// MemoryStore keeps the conversation transcript in memory. It is safe for
// concurrent use.
type MemoryStore struct {
	mutex    sync.RWMutex
	messages []pipeweaver.ChatMessage
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make([]pipeweaver.ChatMessage, 0),
	}
}

// Append adds a message to the end of the transcript.
func (s *MemoryStore) Append(ctx context.Context, msg pipeweaver.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return errbuilder.WrapIfContextDone(ctx, err)
	}
	if msg.Role == "" {
		return pipeweaver.NewValidationError("history", "message role cannot be empty", nil)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns a copy of the transcript in insertion order.
func (s *MemoryStore) Messages(ctx context.Context) ([]pipeweaver.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, errbuilder.WrapIfContextDone(ctx, err)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	snapshot := make([]pipeweaver.ChatMessage, len(s.messages))
	copy(snapshot, s.messages)
	return snapshot, nil
}

// Reset discards the transcript.
func (s *MemoryStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errbuilder.WrapIfContextDone(ctx, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.messages = s.messages[:0]
	return nil
}
