package pipeweaver

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// PipelineStore owns the ordered, mutable sequence of steps. Both the
// presentation layer and the bridge mutate it, so every operation runs
// under the store mutex and completes before any observer can interleave.
type PipelineStore struct {
	steps []Step
	mutex sync.Mutex
}

// NewPipelineStore creates an empty pipeline store.
func NewPipelineStore() *PipelineStore {
	return &PipelineStore{}
}

// Append creates a new step for toolID at the end of the pipeline and
// returns it. The toolID is not resolved against the registry here;
// dangling references are tolerated and skipped at execution.
func (s *PipelineStore) Append(toolID string) Step {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	step := Step{
		InstanceID: uuid.New().String(),
		ToolID:     toolID,
	}
	s.steps = append(s.steps, step)
	return step
}

// RemoveByID deletes the step with the given instance id. It returns false
// if no such step exists.
func (s *PipelineStore) RemoveByID(instanceID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, step := range s.steps {
		if step.InstanceID == instanceID {
			s.steps = append(s.steps[:i], s.steps[i+1:]...)
			return true
		}
	}
	return false
}

// MoveTo reorders the step at from to position to. Out-of-range indices
// are rejected and leave the pipeline unchanged.
func (s *PipelineStore) MoveTo(from, to int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	n := len(s.steps)
	if from < 0 || from >= n {
		return NewInvalidArgumentError("pipeline", fmt.Sprintf("move source index %d out of range [0,%d)", from, n))
	}
	if to < 0 || to >= n {
		return NewInvalidArgumentError("pipeline", fmt.Sprintf("move target index %d out of range [0,%d)", to, n))
	}
	if from == to {
		return nil
	}

	step := s.steps[from]
	s.steps = append(s.steps[:from], s.steps[from+1:]...)
	s.steps = append(s.steps[:to], append([]Step{step}, s.steps[to:]...)...)
	return nil
}

// ReplaceAll discards every existing step and appends fresh steps for the
// given tool ids. This backs the agent's reset capability.
func (s *PipelineStore) ReplaceAll(toolIDs []string) []Step {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.steps = make([]Step, 0, len(toolIDs))
	for _, toolID := range toolIDs {
		s.steps = append(s.steps, Step{
			InstanceID: uuid.New().String(),
			ToolID:     toolID,
		})
	}
	return s.snapshotLocked()
}

// Clear removes every step.
func (s *PipelineStore) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.steps = nil
}

// Snapshot returns a copy of the current steps in order. The engine works
// on a snapshot so mid-run edits never affect an in-flight run.
func (s *PipelineStore) Snapshot() []Step {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.snapshotLocked()
}

func (s *PipelineStore) snapshotLocked() []Step {
	steps := make([]Step, len(s.steps))
	copy(steps, s.steps)
	return steps
}

// Len returns the number of steps.
func (s *PipelineStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.steps)
}
