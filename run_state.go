package pipeweaver

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/pipeweaver/internal/eventbus"
)

// RunStatus is the externally observable status of a run, including the
// entries recorded so far. Polling it between steps gives incremental
// progress without waiting for the final batch.
type RunStatus struct {
	RunID        string        `json:"run_id"`
	State        RunState      `json:"state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	EntryCount   int           `json:"entry_count"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// GetRunStatus retrieves the current status of a run by ID.
func (w *PipeWeaver) GetRunStatus(runID string) (*RunStatus, error) {
	w.runsMutex.RLock()
	run, exists := w.runs[runID]
	w.runsMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("run with ID '%s' not found", runID)
	}

	status := &RunStatus{
		RunID:      run.ID,
		State:      run.GetState(),
		StartTime:  run.StartTime(),
		Duration:   run.Duration(),
		EntryCount: len(run.Log()),
		IsComplete: run.GetState() == RunStateCompleted,
		HasError:   run.Err() != nil,
	}
	if err := run.Err(); err != nil {
		status.ErrorMessage = err.Error()
	}
	return status, nil
}

// GetRunLog retrieves the entries recorded so far for a run, in order.
// For an in-flight run this is the accumulated log up to the last
// completed step.
func (w *PipeWeaver) GetRunLog(runID string) ([]LogEntry, error) {
	w.runsMutex.RLock()
	run, exists := w.runs[runID]
	w.runsMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("run with ID '%s' not found", runID)
	}
	return run.Log(), nil
}

// CancelRun cancels an in-flight run. Returns true if the run was
// cancelled, false if it had already finished.
func (w *PipeWeaver) CancelRun(runID string) (bool, error) {
	w.runsMutex.Lock()
	run, exists := w.runs[runID]
	if !exists {
		w.runsMutex.Unlock()
		return false, fmt.Errorf("run with ID '%s' not found", runID)
	}
	if run.IsTerminal() {
		w.runsMutex.Unlock()
		return false, nil
	}
	cancel, hasCancel := w.runCancels[runID]
	w.runsMutex.Unlock()

	if !hasCancel {
		return false, fmt.Errorf("cannot cancel run '%s': cancel function not found", runID)
	}
	cancel()

	if w.eventBus != nil {
		cancelEvent := eventbus.NewEvent(
			eventbus.EventRunCancelled,
			runID,
			"PipeWeaver.CancelRun",
			map[string]interface{}{
				"duration_ms": run.Duration().Milliseconds(),
			},
		)
		w.eventBus.Publish(context.Background(), cancelEvent)
	}
	return true, nil
}

// ListRuns returns all known run IDs and their current states.
func (w *PipeWeaver) ListRuns() map[string]RunState {
	w.runsMutex.RLock()
	defer w.runsMutex.RUnlock()

	result := make(map[string]RunState, len(w.runs))
	for id, run := range w.runs {
		result[id] = run.GetState()
	}
	return result
}

// CleanupFinishedRuns removes terminal runs older than the given duration.
// This keeps the run map from growing without bound.
func (w *PipeWeaver) CleanupFinishedRuns(olderThan time.Duration) int {
	w.runsMutex.Lock()
	defer w.runsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, run := range w.runs {
		if !run.IsTerminal() {
			continue
		}
		started := run.StartTime()
		if started.IsZero() || now.Sub(started) > olderThan {
			delete(w.runs, id)
			count++
		}
	}
	return count
}
