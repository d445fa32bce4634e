// Package registry implements the Task Registry (spec §4.8): owns the set
// of active tasks, each with its own executor goroutine and cancellation
// context, and fans out state-change notifications to subscribers. The
// subscribe/fan-out shape is the same register/unregister/broadcast idiom
// used for the dashboard WebSocket hub elsewhere in this codebase, with the
// transport stripped out: subscribers are in-process channels, not sockets.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"arb-engine/internal/executor"
	"arb-engine/pkg/types"
)

type subscriber struct {
	ch chan types.Task
}

type taskEntry struct {
	exec   *executor.Executor
	cancel context.CancelFunc
}

// Registry owns the lifecycle of every active task.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*taskEntry

	subMu sync.Mutex
	subs  map[*subscriber]bool

	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		tasks:  make(map[string]*taskEntry),
		subs:   make(map[*subscriber]bool),
		logger: logger.With("component", "registry"),
	}
}

// Create starts a new task's executor in its own goroutine under a
// cancellation context derived from parent, and returns immediately with
// the task id.
func (r *Registry) Create(parent context.Context, cfg types.TaskConfig, deps executor.Deps) string {
	deps.Observer = r.notify

	exec := executor.New(cfg, deps)
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	r.tasks[cfg.ID] = &taskEntry{exec: exec, cancel: cancel}
	r.mu.Unlock()

	go func() {
		exec.Run(ctx)
		r.mu.Lock()
		delete(r.tasks, cfg.ID)
		r.mu.Unlock()
	}()

	return cfg.ID
}

// Cancel requests the named task abort. Returns an error if the task is not
// currently tracked (already terminal or unknown id).
func (r *Registry) Cancel(taskID string) error {
	r.mu.RLock()
	entry, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task %s not found or already terminal", taskID)
	}
	entry.exec.Cancel()
	return nil
}

// Get returns a snapshot of one task's current state.
func (r *Registry) Get(taskID string) (types.Task, bool) {
	r.mu.RLock()
	entry, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return types.Task{}, false
	}
	return entry.exec.Snapshot(), true
}

// List returns a snapshot of every currently tracked task.
func (r *Registry) List() []types.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Task, 0, len(r.tasks))
	for _, entry := range r.tasks {
		out = append(out, entry.exec.Snapshot())
	}
	return out
}

// Subscribe registers a channel that receives every task's state-change
// notifications. The returned func unsubscribes and closes the channel.
func (r *Registry) Subscribe(buffer int) (<-chan types.Task, func()) {
	sub := &subscriber{ch: make(chan types.Task, buffer)}

	r.subMu.Lock()
	r.subs[sub] = true
	r.subMu.Unlock()

	unsubscribe := func() {
		r.subMu.Lock()
		if _, ok := r.subs[sub]; ok {
			delete(r.subs, sub)
			close(sub.ch)
		}
		r.subMu.Unlock()
	}
	return sub.ch, unsubscribe
}

// notify is the executor.StateObserver wired into every task's Deps.
func (r *Registry) notify(task types.Task) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for sub := range r.subs {
		select {
		case sub.ch <- task:
		default:
			r.logger.Warn("subscriber channel full, dropping state update", "task", task.Config.ID)
		}
	}
}
