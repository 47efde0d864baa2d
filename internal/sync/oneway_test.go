package sync

import (
	"context"
	"testing"

	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

func runOneWay(t *testing.T, local *fakeStore, src *fakeSource) (Result, Stats) {
	t.Helper()
	done := make(chan struct{})
	var result Result
	var stats Stats
	s := &OneWaySync{
		Source:   src,
		Local:    local,
		Registry: testRegistry(),
		ItemType: pim.TypeContact,
		Phases:   []Phase{{Name: "contacts"}},
		Config: EngineConfig{
			Callback: &Callback{
				SyncFinished: func(r Result, st Stats) {
					result, stats = r, st
					close(done)
				},
			},
		},
	}
	s.Synchronize(context.Background())
	<-done
	return result, stats
}

func TestOneWayAddsNewSourceItems(t *testing.T) {
	local := newFakeStore()
	src := &fakeSource{items: []*pim.Item{contact("Alice", "111"), contact("Bob", "222")}}

	result, stats := runOneWay(t, local, src)

	if result != OkWithChange {
		t.Fatalf("result = %v, want OkWithChange", result)
	}
	if stats.LocallyAdded != 2 {
		t.Fatalf("LocallyAdded = %d, want 2", stats.LocallyAdded)
	}
	if len(local.items) != 2 {
		t.Fatalf("local has %d items, want 2", len(local.items))
	}
}

func TestOneWayModifiesKeyMatchedItem(t *testing.T) {
	local := newFakeStore()
	local.AddItem(context.Background(), contact("Alice", "111"))
	src := &fakeSource{items: []*pim.Item{contact("Alice", "999")}}

	result, stats := runOneWay(t, local, src)

	if result != OkWithChange {
		t.Fatalf("result = %v, want OkWithChange", result)
	}
	if stats.LocallyModified != 1 {
		t.Fatalf("LocallyModified = %d, want 1", stats.LocallyModified)
	}
	if stats.LocallyAdded != 0 {
		t.Fatalf("LocallyAdded = %d, want 0", stats.LocallyAdded)
	}
}

func TestOneWayLeavesFullyMatchedItemAlone(t *testing.T) {
	local := newFakeStore()
	local.AddItem(context.Background(), contact("Alice", "111"))
	src := &fakeSource{items: []*pim.Item{contact("Alice", "111")}}

	result, stats := runOneWay(t, local, src)

	if result != OkNoChange {
		t.Fatalf("result = %v, want OkNoChange", result)
	}
	if !stats.IsEmpty() {
		t.Fatalf("stats = %+v, want empty", stats)
	}
}

func TestOneWaySweepsRemovedItems(t *testing.T) {
	local := newFakeStore()
	local.AddItem(context.Background(), contact("Alice", "111"))
	local.AddItem(context.Background(), contact("Bob", "222"))
	src := &fakeSource{items: []*pim.Item{contact("Alice", "111")}}

	result, stats := runOneWay(t, local, src)

	if result != OkWithChange {
		t.Fatalf("result = %v, want OkWithChange", result)
	}
	if stats.LocallyRemoved != 1 {
		t.Fatalf("LocallyRemoved = %d, want 1", stats.LocallyRemoved)
	}
	if len(local.items) != 1 {
		t.Fatalf("local has %d items, want 1", len(local.items))
	}
}

func TestOneWayAlreadyInProgressRejectsConcurrentRun(t *testing.T) {
	local := newFakeStore()
	src := &fakeSource{items: []*pim.Item{contact("Alice", "111")}}
	s := &OneWaySync{
		Source:   src,
		Local:    local,
		Registry: testRegistry(),
		ItemType: pim.TypeContact,
		Phases:   []Phase{{Name: "contacts"}},
	}
	s.inProgress = true

	results := make(chan Result, 1)
	s.Config = EngineConfig{Callback: &Callback{
		SyncFinished: func(r Result, st Stats) { results <- r },
	}}
	s.Synchronize(context.Background())
	if got := <-results; got != AlreadyInProgress {
		t.Fatalf("result = %v, want AlreadyInProgress", got)
	}
}

func TestOneWayCancelMarksCancelledState(t *testing.T) {
	s := &OneWaySync{}
	if s.isCancelled() {
		t.Fatal("new sync should not be cancelled")
	}
	s.Cancel()
	if !s.isCancelled() {
		t.Fatal("expected isCancelled true after Cancel")
	}
}
