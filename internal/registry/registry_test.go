package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"arb-engine/internal/executor"
	"arb-engine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTaskEntry(id string) *taskEntry {
	cfg := types.TaskConfig{ID: id}
	exec := executor.New(cfg, executor.Deps{Logger: testLogger()})
	_, cancel := context.WithCancel(context.Background())
	return &taskEntry{exec: exec, cancel: cancel}
}

func TestRegistry_GetAndList_ReflectRegisteredTasks(t *testing.T) {
	t.Parallel()
	r := New(testLogger())

	r.mu.Lock()
	r.tasks["task-1"] = newTaskEntry("task-1")
	r.tasks["task-2"] = newTaskEntry("task-2")
	r.mu.Unlock()

	if _, ok := r.Get("unknown"); ok {
		t.Error("Get on unknown task id should return false")
	}

	task, ok := r.Get("task-1")
	if !ok {
		t.Fatal("Get on registered task id should return true")
	}
	if task.Config.ID != "task-1" {
		t.Errorf("Get returned task %q, want task-1", task.Config.ID)
	}

	all := r.List()
	if len(all) != 2 {
		t.Fatalf("List returned %d tasks, want 2", len(all))
	}
}

func TestRegistry_Cancel_UnknownTaskReturnsError(t *testing.T) {
	t.Parallel()
	r := New(testLogger())

	if err := r.Cancel("nonexistent"); err == nil {
		t.Error("Cancel on unregistered task id should return an error")
	}
}

func TestRegistry_Cancel_KnownTaskSucceeds(t *testing.T) {
	t.Parallel()
	r := New(testLogger())

	r.mu.Lock()
	r.tasks["task-1"] = newTaskEntry("task-1")
	r.mu.Unlock()

	if err := r.Cancel("task-1"); err != nil {
		t.Errorf("Cancel on registered task returned error: %v", err)
	}
}

func TestRegistry_Subscribe_ReceivesNotifications(t *testing.T) {
	t.Parallel()
	r := New(testLogger())

	ch, unsubscribe := r.Subscribe(1)
	defer unsubscribe()

	r.notify(types.Task{Config: types.TaskConfig{ID: "task-1"}})

	select {
	case task := <-ch:
		if task.Config.ID != "task-1" {
			t.Errorf("received task %q, want task-1", task.Config.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive notification")
	}
}

func TestRegistry_Subscribe_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	r := New(testLogger())

	ch, unsubscribe := r.Subscribe(1)
	unsubscribe()

	if _, open := <-ch; open {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestRegistry_Notify_DoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()
	r := New(testLogger())

	ch, unsubscribe := r.Subscribe(1)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		// Fill the buffer, then send a second notification that must be
		// dropped rather than block the notifier.
		r.notify(types.Task{Config: types.TaskConfig{ID: "first"}})
		r.notify(types.Task{Config: types.TaskConfig{ID: "second"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked on a full subscriber channel")
	}

	received := <-ch
	if received.Config.ID != "first" {
		t.Errorf("received %q, want first (second should have been dropped)", received.Config.ID)
	}
}

func TestRegistry_Notify_FansOutToMultipleSubscribers(t *testing.T) {
	t.Parallel()
	r := New(testLogger())

	ch1, unsub1 := r.Subscribe(1)
	ch2, unsub2 := r.Subscribe(1)
	defer unsub1()
	defer unsub2()

	r.notify(types.Task{Config: types.TaskConfig{ID: "task-1"}})

	for _, ch := range []<-chan types.Task{ch1, ch2} {
		select {
		case task := <-ch:
			if task.Config.ID != "task-1" {
				t.Errorf("received %q, want task-1", task.Config.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive notification")
		}
	}
}
