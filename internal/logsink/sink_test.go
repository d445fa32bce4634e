package logsink

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arb-engine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSink(t *testing.T, queueMax int) *Sink {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.QueueMaxSize = queueMax
	s, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return s
}

func TestPriorityFor_ClassifiesCriticalEventTypes(t *testing.T) {
	t.Parallel()
	for _, eventType := range []string{"TASK_CANCELLED", "HEDGE_FAILED", "CONNECTION_DEGRADED"} {
		if got := priorityFor(eventType); got != PriorityCritical {
			t.Errorf("priorityFor(%q) = %v, want PriorityCritical", eventType, got)
		}
	}
	if got := priorityFor("FILL_OBSERVED"); got != PriorityInfo {
		t.Errorf("priorityFor(FILL_OBSERVED) = %v, want PriorityInfo", got)
	}
}

func TestSink_EvictForLocked_DropsLowestPriorityBelowIncoming(t *testing.T) {
	t.Parallel()
	s := newTestSink(t, 3)

	s.queue = []record{
		{taskID: "t", priority: PrioritySnapshot},
		{taskID: "t", priority: PriorityInfo},
		{taskID: "t", priority: PriorityInfo},
	}

	ok := s.evictForLocked(PriorityCritical)
	if !ok {
		t.Fatal("expected room to be made for a CRITICAL entry")
	}
	if len(s.queue) != 2 {
		t.Fatalf("queue len = %d, want 2", len(s.queue))
	}
	for _, r := range s.queue {
		if r.priority == PrioritySnapshot {
			t.Error("evictForLocked should have removed the SNAPSHOT entry first")
		}
	}
}

func TestSink_EvictForLocked_CriticalEvictsOldestWhenAllCritical(t *testing.T) {
	t.Parallel()
	s := newTestSink(t, 2)

	s.queue = []record{
		{taskID: "first", priority: PriorityCritical},
		{taskID: "second", priority: PriorityCritical},
	}

	ok := s.evictForLocked(PriorityCritical)
	if !ok {
		t.Fatal("CRITICAL must never be dropped for lack of a lower-priority victim")
	}
	if len(s.queue) != 1 || s.queue[0].taskID != "second" {
		t.Fatalf("expected the oldest entry evicted, queue = %+v", s.queue)
	}
}

func TestSink_EvictForLocked_NonCriticalDropsWhenNoVictim(t *testing.T) {
	t.Parallel()
	s := newTestSink(t, 1)

	s.queue = []record{{taskID: "t", priority: PriorityInfo}}

	ok := s.evictForLocked(PriorityInfo)
	if ok {
		t.Fatal("an INFO entry should not evict another INFO entry of equal priority")
	}
}

func TestSink_Enqueue_RespectsQueueMaxSize(t *testing.T) {
	t.Parallel()
	s := newTestSink(t, 2)

	s.LogOrderbook("task-1", &types.Orderbook{})
	s.LogEvent("task-1", "FILL_OBSERVED", nil)
	s.LogEvent("task-1", "TASK_CANCELLED", nil) // CRITICAL, evicts the SNAPSHOT

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) != 2 {
		t.Fatalf("queue len = %d, want 2", len(s.queue))
	}
	for _, r := range s.queue {
		if r.priority == PrioritySnapshot {
			t.Error("SNAPSHOT entry should have been evicted for the CRITICAL event")
		}
	}
}

func TestSink_Flush_WritesLinesToPerTaskFiles(t *testing.T) {
	t.Parallel()
	s := newTestSink(t, 100)

	s.LogEvent("task-1", "ORDER_SUBMITTED", map[string]any{"price": "0.5"})
	s.flush()
	s.closeAll()

	data, err := os.ReadFile(filepath.Join(s.cfg.BaseDir, "task-1", "events.jsonl"))
	if err != nil {
		t.Fatalf("reading events.jsonl: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data[:len(data)-1], &decoded); err != nil { // strip trailing newline
		t.Fatalf("decoding flushed line: %v", err)
	}
	if decoded["eventType"] != "ORDER_SUBMITTED" {
		t.Errorf("eventType = %v, want ORDER_SUBMITTED", decoded["eventType"])
	}
}

func TestSink_WriteSummary_IsAtomicAndReadable(t *testing.T) {
	t.Parallel()
	s := newTestSink(t, 100)

	task := types.Task{Config: types.TaskConfig{ID: "task-1"}, Progress: types.TaskProgress{State: types.StateCompleted}}
	s.WriteSummary("task-1", task)

	path := filepath.Join(s.cfg.BaseDir, "task-1", "summary.json")
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("tmp file should have been renamed away")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading summary.json: %v", err)
	}
	var decoded types.Task
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decoding summary.json: %v", err)
	}
	if decoded.Config.ID != "task-1" {
		t.Errorf("summary task id = %q, want task-1", decoded.Config.ID)
	}
}

func TestSink_SweepRetention_RemovesOnlyStaleDirs(t *testing.T) {
	t.Parallel()
	s := newTestSink(t, 100)
	s.cfg.RetentionDays = 7

	freshDir := filepath.Join(s.cfg.BaseDir, "fresh-task")
	staleDir := filepath.Join(s.cfg.BaseDir, "stale-task")
	if err := os.MkdirAll(freshDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(staleDir, 0o755); err != nil {
		t.Fatal(err)
	}

	old := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(staleDir, old, old); err != nil {
		t.Fatal(err)
	}

	s.sweepRetention()

	if _, err := os.Stat(freshDir); err != nil {
		t.Errorf("fresh task dir should survive retention sweep: %v", err)
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Error("stale task dir should have been removed by retention sweep")
	}
}
