package sync

import (
	"context"
	"strings"
	"testing"

	"github.com/sonroyaalmerol/pimsync/internal/syncmeta"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

func runTwoWay(t *testing.T, local, remote *fakeStore, meta *syncmeta.Metadata) (Result, Stats) {
	t.Helper()
	done := make(chan struct{})
	var result Result
	var stats Stats
	s := &TwoWaySync{
		Local:    local,
		Remote:   remote,
		Registry: testRegistry(),
		ItemType: pim.TypeContact,
		Config: EngineConfig{
			Callback: &Callback{
				SyncFinished: func(r Result, st Stats) {
					result, stats = r, st
					close(done)
				},
			},
		},
	}
	s.Synchronize(context.Background(), meta)
	<-done
	return result, stats
}

func TestTwoWayInitialSyncFullMatchCreatesNoChange(t *testing.T) {
	local, remote := newFakeStore(), newFakeStore()
	lid, _, _ := local.AddItem(context.Background(), contact("Alice", "111"))
	rid, _, _ := remote.AddItem(context.Background(), contact("Alice", "111"))

	meta := syncmeta.New()
	result, stats := runTwoWay(t, local, remote, meta)

	if result != OkNoChange {
		t.Fatalf("result = %v, want OkNoChange", result)
	}
	if !stats.IsEmpty() {
		t.Fatalf("stats = %+v, want empty", stats)
	}
	if meta.RemoteToLocalMapping[rid] != lid {
		t.Fatalf("mapping[%s] = %s, want %s", rid, meta.RemoteToLocalMapping[rid], lid)
	}
}

func TestTwoWayInitialSyncKeyMatchOnlyRemoteWins(t *testing.T) {
	local, remote := newFakeStore(), newFakeStore()
	local.AddItem(context.Background(), contact("Alice", "111"))
	remote.AddItem(context.Background(), contact("Alice", "999"))

	meta := syncmeta.New()
	result, stats := runTwoWay(t, local, remote, meta)

	if result != OkWithChange {
		t.Fatalf("result = %v, want OkWithChange", result)
	}
	if stats.LocallyModified != 1 {
		t.Fatalf("LocallyModified = %d, want 1", stats.LocallyModified)
	}
	if stats.LocallyAdded != 0 || stats.RemotelyAdded != 0 {
		t.Fatalf("unexpected adds: %+v", stats)
	}
}

func TestTwoWayInitialSyncAddsUnmatchedBothDirections(t *testing.T) {
	local, remote := newFakeStore(), newFakeStore()
	local.AddItem(context.Background(), contact("LocalOnly", "111"))
	remote.AddItem(context.Background(), contact("RemoteOnly", "222"))

	meta := syncmeta.New()
	result, stats := runTwoWay(t, local, remote, meta)

	if result != OkWithChange {
		t.Fatalf("result = %v, want OkWithChange", result)
	}
	if stats.RemotelyAdded != 1 {
		t.Fatalf("RemotelyAdded = %d, want 1", stats.RemotelyAdded)
	}
	if stats.LocallyAdded != 1 {
		t.Fatalf("LocallyAdded = %d, want 1", stats.LocallyAdded)
	}
	if len(local.items) != 2 || len(remote.items) != 2 {
		t.Fatalf("expected 2 items on each side, got local=%d remote=%d", len(local.items), len(remote.items))
	}
}

// seedPairing adds matching items to both sides and records a
// metadata pairing as if a prior sync had already paired them.
func seedPairing(local, remote *fakeStore, fn, tel string) (*syncmeta.Metadata, string, string) {
	ctx := context.Background()
	lid, lrev, _ := local.AddItem(ctx, contact(fn, tel))
	rid, rrev, _ := remote.AddItem(ctx, contact(fn, tel))
	meta := syncmeta.New()
	meta.RemoteToLocalMapping[rid] = lid
	meta.LocalRevisions[lid] = lrev
	meta.RemoteRevisions[rid] = rrev
	return meta, lid, rid
}

func TestTwoWayIncrementalBothRemovedDropsPairing(t *testing.T) {
	local, remote := newFakeStore(), newFakeStore()
	meta, lid, rid := seedPairing(local, remote, "Alice", "111")
	local.RemoveItem(context.Background(), lid)
	remote.RemoveItem(context.Background(), rid)

	result, stats := runTwoWay(t, local, remote, meta)

	if result != OkNoChange {
		t.Fatalf("result = %v, want OkNoChange", result)
	}
	if !stats.IsEmpty() {
		t.Fatalf("stats = %+v, want empty", stats)
	}
	if _, ok := meta.RemoteToLocalMapping[rid]; ok {
		t.Fatal("expected pairing to be dropped")
	}
}

func TestTwoWayIncrementalRemoteRemovedLocalUnchangedRemovesLocal(t *testing.T) {
	local, remote := newFakeStore(), newFakeStore()
	meta, lid, rid := seedPairing(local, remote, "Alice", "111")
	remote.RemoveItem(context.Background(), rid)

	result, stats := runTwoWay(t, local, remote, meta)

	if result != OkWithChange {
		t.Fatalf("result = %v, want OkWithChange", result)
	}
	if stats.LocallyRemoved != 1 {
		t.Fatalf("LocallyRemoved = %d, want 1", stats.LocallyRemoved)
	}
	if _, ok := local.items[lid]; ok {
		t.Fatal("expected local item to have been removed")
	}
}

func TestTwoWayIncrementalLocalModifiedPropagatesToRemote(t *testing.T) {
	local, remote := newFakeStore(), newFakeStore()
	meta, lid, rid := seedPairing(local, remote, "Alice", "111")
	local.ModifyItem(context.Background(), lid, contact("Alice", "999"), meta.LocalRevisions[lid])

	result, stats := runTwoWay(t, local, remote, meta)

	if result != OkWithChange {
		t.Fatalf("result = %v, want OkWithChange", result)
	}
	if stats.RemotelyModified != 1 {
		t.Fatalf("RemotelyModified = %d, want 1", stats.RemotelyModified)
	}
	if meta.LocalRevisions[lid] != local.items[lid].Revision() {
		t.Fatalf("meta local revision stale: %s vs %s", meta.LocalRevisions[lid], local.items[lid].Revision())
	}
	if got, ok := remote.Field(t, rid, "tel"); !ok || got != "999" {
		t.Fatalf("remote tel = %q, want 999", got)
	}
}

func TestTwoWayIncrementalRemoteModifiedPropagatesToLocal(t *testing.T) {
	local, remote := newFakeStore(), newFakeStore()
	meta, lid, rid := seedPairing(local, remote, "Alice", "111")
	remote.ModifyItem(context.Background(), rid, contact("Alice", "999"), meta.RemoteRevisions[rid])

	result, stats := runTwoWay(t, local, remote, meta)

	if result != OkWithChange {
		t.Fatalf("result = %v, want OkWithChange", result)
	}
	if stats.LocallyModified != 1 {
		t.Fatalf("LocallyModified = %d, want 1", stats.LocallyModified)
	}
	if meta.RemoteRevisions[rid] != remote.items[rid].Revision() {
		t.Fatalf("meta remote revision stale")
	}
}

func TestTwoWayIncrementalConflictDuplicatesWithConflictedUID(t *testing.T) {
	local, remote := newFakeStore(), newFakeStore()
	meta, lid, rid := seedPairing(local, remote, "Alice", "111")

	ctx := context.Background()
	local.ModifyItem(ctx, lid, contact("Alice", "222"), meta.LocalRevisions[lid])
	remote.ModifyItem(ctx, rid, contact("Alice", "333"), meta.RemoteRevisions[rid])

	result, stats := runTwoWay(t, local, remote, meta)

	if result != OkWithChange {
		t.Fatalf("result = %v, want OkWithChange", result)
	}
	if stats.LocallyAdded != 1 || stats.RemotelyAdded != 1 {
		t.Fatalf("stats = %+v, want one add on each side", stats)
	}
	if meta.RemoteToLocalMapping[rid] == lid {
		t.Fatal("expected the original pairing to be replaced by two new ones")
	}
	// The remote's conflicting body should now also exist locally
	// under a new id, and the local's conflicting body should exist
	// remotely under a UID suffixed with "(conflicted)".
	if len(local.items) != 2 {
		t.Fatalf("local has %d items, want 2", len(local.items))
	}
	if len(remote.items) != 2 {
		t.Fatalf("remote has %d items, want 2", len(remote.items))
	}
	foundConflictedUID := false
	for _, item := range remote.items {
		body, err := pim.RenderContact(item)
		if err != nil {
			t.Fatalf("RenderContact: %v", err)
		}
		if uid := vcardUID(t, body); strings.HasSuffix(uid, "(conflicted)") {
			foundConflictedUID = true
		}
	}
	if !foundConflictedUID {
		t.Fatal("expected one remote item's rendered body to carry a (conflicted) UID suffix")
	}
}

// vcardUID extracts the UID property value from a rendered vCard body,
// or "" if none is present.
func vcardUID(t *testing.T, body []byte) string {
	t.Helper()
	for _, line := range strings.Split(string(body), "\r\n") {
		if strings.HasPrefix(strings.ToUpper(line), "UID:") {
			return line[len("UID:"):]
		}
	}
	return ""
}

func TestTwoWayIncrementalCrossMatchesIndependentAdds(t *testing.T) {
	local, remote := newFakeStore(), newFakeStore()
	// Seed one pre-existing pairing so the run takes the incremental
	// path rather than the initial-sync path.
	meta, _, _ := seedPairing(local, remote, "Alice", "111")

	// Both sides independently add a fully-equivalent new contact.
	local.AddItem(context.Background(), contact("Carol", "333"))
	remote.AddItem(context.Background(), contact("Carol", "333"))

	result, stats := runTwoWay(t, local, remote, meta)

	if result != OkNoChange {
		t.Fatalf("result = %v, want OkNoChange", result)
	}
	if stats.LocallyAdded != 0 || stats.RemotelyAdded != 0 {
		t.Fatalf("cross-matched adds should not transfer bodies: %+v", stats)
	}
	if len(meta.RemoteToLocalMapping) != 2 {
		t.Fatalf("expected 2 pairings after cross-match, got %d", len(meta.RemoteToLocalMapping))
	}
}

// Field is a small test helper exposing a fakeStore item's field value
// by id for assertions.
func (f *fakeStore) Field(t *testing.T, id, name string) (string, bool) {
	t.Helper()
	item, ok := f.items[id]
	if !ok {
		return "", false
	}
	fld, ok := item.Field(name)
	if !ok || len(fld.Values) == 0 {
		return "", false
	}
	return fld.Values[0].Value, true
}
