package progress

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type memoryKV struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.values[key] = value
	m.ttls[key] = ttl
	return nil
}

func TestTrackerUpdateAndGet(t *testing.T) {
	kv := newMemoryKV()
	tracker := NewTracker(kv, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := tracker.Update(ctx, "task-1", StatusStarting, 0, "Starting processing"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	record, err := tracker.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record == nil {
		t.Fatal("expected a record")
	}
	if record.Status != StatusStarting || record.Progress != 0 {
		t.Errorf("unexpected record: %+v", record)
	}
	if record.Message != "Starting processing" {
		t.Errorf("unexpected message: %q", record.Message)
	}
	if record.UpdatedAt == 0 {
		t.Error("expected updated_at to be set")
	}
}

func TestTrackerGetAbsent(t *testing.T) {
	tracker := NewTracker(newMemoryKV(), zaptest.NewLogger(t))
	record, err := tracker.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record != nil {
		t.Errorf("expected nil record, got %+v", record)
	}
}

func TestTrackerTTL(t *testing.T) {
	kv := newMemoryKV()
	tracker := NewTracker(kv, zaptest.NewLogger(t))

	if err := tracker.Update(context.Background(), "task-1", StatusStarting, 0, "go"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if ttl := kv.ttls["post:progress:task-1"]; ttl != 24*time.Hour {
		t.Errorf("expected 24h TTL, got %v", ttl)
	}
}

func TestTrackerDropsBackwardStatus(t *testing.T) {
	kv := newMemoryKV()
	tracker := NewTracker(kv, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := tracker.Update(ctx, "task-1", StatusGenerating, 80, "generating"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := tracker.Update(ctx, "task-1", StatusPosting, 40, "stale write"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	record, _ := tracker.Get(ctx, "task-1")
	if record.Status != StatusGenerating || record.Progress != 80 {
		t.Errorf("backward transition applied: %+v", record)
	}
}

func TestTrackerClampsProgress(t *testing.T) {
	kv := newMemoryKV()
	tracker := NewTracker(kv, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := tracker.Update(ctx, "task-1", StatusPosting, 60, "posting"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := tracker.Update(ctx, "task-1", StatusPosting, 35, "still posting"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	record, _ := tracker.Get(ctx, "task-1")
	if record.Progress != 60 {
		t.Errorf("progress regressed to %d", record.Progress)
	}
	if record.Message != "still posting" {
		t.Errorf("message should update even when progress is clamped: %q", record.Message)
	}
}

func TestTrackerTerminalFreeze(t *testing.T) {
	kv := newMemoryKV()
	tracker := NewTracker(kv, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := tracker.Update(ctx, "task-1", StatusCompleted, 100, "Post published"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := tracker.Update(ctx, "task-1", StatusPosting, 40, "redelivered"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	tracker.Fail(ctx, "task-1", 40, "late failure", nil)

	record, _ := tracker.Get(ctx, "task-1")
	if record.Status != StatusCompleted || record.Progress != 100 {
		t.Errorf("terminal record was overwritten: %+v", record)
	}
}

func TestTrackerFail(t *testing.T) {
	kv := newMemoryKV()
	tracker := NewTracker(kv, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := tracker.Update(ctx, "task-1", StatusPosting, 40, "posting"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	tracker.Fail(ctx, "task-1", 40, "Bluesky posting failed", context.DeadlineExceeded)

	record, _ := tracker.Get(ctx, "task-1")
	if record.Status != StatusError {
		t.Errorf("expected error status, got %s", record.Status)
	}
	if record.Error != context.DeadlineExceeded.Error() {
		t.Errorf("unexpected error text: %q", record.Error)
	}
	if !record.Terminal() {
		t.Error("error record should be terminal")
	}
}
