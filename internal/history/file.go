package history

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	errbuilder "github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/pipeweaver"
)

// FileStore persists the conversation transcript to a JSON file so a
// conversation survives process restarts. Every mutation rewrites the
// file; transcripts are small enough that this is fine.
type FileStore struct {
	mutex    sync.RWMutex
	messages []pipeweaver.ChatMessage
	filePath string
}

// NewFileStore creates a file-backed history store, loading any existing
// transcript from filePath. A missing or unreadable file starts empty.
func NewFileStore(filePath string) *FileStore {
	s := &FileStore{
		messages: make([]pipeweaver.ChatMessage, 0),
		filePath: filePath,
	}
	s.loadFromFile()
	return s
}

func (s *FileStore) loadFromFile() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	file, err := os.Open(s.filePath)
	if err != nil {
		return
	}
	defer file.Close()
	decoder := json.NewDecoder(file)
	_ = decoder.Decode(&s.messages)
}

// saveToFile writes the transcript. Callers must hold the write lock.
func (s *FileStore) saveToFile() error {
	file, err := os.Create(s.filePath)
	if err != nil {
		return pipeweaver.NewInternalError("history", "failed to persist transcript", err)
	}
	defer file.Close()
	encoder := json.NewEncoder(file)
	if err := encoder.Encode(s.messages); err != nil {
		return pipeweaver.NewInternalError("history", "failed to encode transcript", err)
	}
	return nil
}

// Append adds a message and persists the transcript.
func (s *FileStore) Append(ctx context.Context, msg pipeweaver.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return errbuilder.WrapIfContextDone(ctx, err)
	}
	if msg.Role == "" {
		return pipeweaver.NewValidationError("history", "message role cannot be empty", nil)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.messages = append(s.messages, msg)
	return s.saveToFile()
}

// Messages returns a copy of the transcript in insertion order.
func (s *FileStore) Messages(ctx context.Context) ([]pipeweaver.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, errbuilder.WrapIfContextDone(ctx, err)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	snapshot := make([]pipeweaver.ChatMessage, len(s.messages))
	copy(snapshot, s.messages)
	return snapshot, nil
}

// Reset discards the transcript and persists the empty state.
func (s *FileStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errbuilder.WrapIfContextDone(ctx, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.messages = s.messages[:0]
	return s.saveToFile()
}
