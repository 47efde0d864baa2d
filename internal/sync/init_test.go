package sync

import (
	"context"
	"testing"
	"time"

	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

// flakyInit fails the first failCount calls then reports Ok.
type flakyInit struct {
	failCount int
	calls     int
}

func (f *flakyInit) init(ctx context.Context) storage.Outcome {
	f.calls++
	if f.calls <= f.failCount {
		return storage.Fail
	}
	return storage.Ok
}

func TestRetryInitSucceedsAfterTransientFailures(t *testing.T) {
	f := &flakyInit{failCount: 2}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := retryInit(ctx, "test", f.init); err != nil {
		t.Fatalf("retryInit: %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.calls)
	}
}

func TestRetryInitGivesUpAfterFiveAttempts(t *testing.T) {
	f := &flakyInit{failCount: 100}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := retryInit(ctx, "test", f.init); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if f.calls != initRetries {
		t.Fatalf("calls = %d, want %d", f.calls, initRetries)
	}
}

func TestRetryInitHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &flakyInit{failCount: 100}
	if err := retryInit(ctx, "test", f.init); err == nil {
		t.Fatal("expected error when context is already cancelled")
	}
	if f.calls != 1 {
		t.Fatalf("calls = %d, want 1 (cancellation should stop before the second attempt's sleep returns)", f.calls)
	}
}

func TestNewOneWaySyncWiresFields(t *testing.T) {
	src := &fakeSource{}
	local := newFakeStore()
	reg := testRegistry()
	phases := []Phase{{Name: "contacts"}}

	s, err := NewOneWaySync(context.Background(), src, local, reg, pim.TypeContact, phases, EngineConfig{})
	if err != nil {
		t.Fatalf("NewOneWaySync: %v", err)
	}
	if s.Source != storage.Source(src) || s.Local != storage.Store(local) {
		t.Fatal("constructed engine does not reference the supplied collaborators")
	}
}
