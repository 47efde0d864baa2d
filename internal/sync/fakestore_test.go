package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

// fakeStore is an in-memory storage.Store used by both engines' tests.
// GetChangedRevisions always reports NotSupported so runIncremental
// exercises the GetRevisions-diff fallback path deterministically.
type fakeStore struct {
	mu      sync.Mutex
	items   map[string]*pim.Item
	seq     int
	removed []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[string]*pim.Item{}}
}

func (f *fakeStore) nextID() string {
	f.seq++
	return fmt.Sprintf("id%d", f.seq)
}

func cloneItem(item *pim.Item) *pim.Item {
	clone := *item
	return &clone
}

func (f *fakeStore) Init(ctx context.Context) storage.Outcome { return storage.Ok }

func (f *fakeStore) GetItem(ctx context.Context, id string) (*pim.Item, storage.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, storage.Fail
	}
	return cloneItem(item), storage.Ok
}

func (f *fakeStore) GetItems(ctx context.Context, ids []string) ([]*pim.Item, storage.Outcome) {
	out := make([]*pim.Item, 0, len(ids))
	for _, id := range ids {
		item, outcome := f.GetItem(ctx, id)
		if outcome != storage.Ok {
			return nil, storage.Fail
		}
		out = append(out, item)
	}
	return out, storage.Ok
}

func (f *fakeStore) AddItem(ctx context.Context, item *pim.Item) (string, string, storage.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID()
	stored := cloneItem(item)
	stored.SetID(id)
	stored.SetRevision("1")
	f.items[id] = stored
	return id, "1", storage.Ok
}

func (f *fakeStore) AddItems(ctx context.Context, items []*pim.Item) ([]string, []string, storage.Outcome) {
	ids := make([]string, 0, len(items))
	revs := make([]string, 0, len(items))
	for _, item := range items {
		id, rev, outcome := f.AddItem(ctx, item)
		if outcome != storage.Ok {
			return nil, nil, storage.Fail
		}
		ids = append(ids, id)
		revs = append(revs, rev)
	}
	return ids, revs, storage.Ok
}

func (f *fakeStore) ModifyItem(ctx context.Context, id string, item *pim.Item, oldRevision string) (string, storage.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.items[id]
	if !ok {
		return "", storage.Fail
	}
	newRevSeq := 1
	fmt.Sscanf(existing.Revision(), "%d", &newRevSeq)
	newRev := fmt.Sprintf("%d", newRevSeq+1)
	stored := cloneItem(item)
	stored.SetID(id)
	stored.SetRevision(newRev)
	f.items[id] = stored
	return newRev, storage.Ok
}

func (f *fakeStore) ModifyItems(ctx context.Context, ids []string, items []*pim.Item, oldRevisions []string) ([]string, storage.Outcome) {
	revs := make([]string, 0, len(ids))
	for i, id := range ids {
		rev, outcome := f.ModifyItem(ctx, id, items[i], "")
		if outcome != storage.Ok {
			return nil, storage.Fail
		}
		revs = append(revs, rev)
	}
	return revs, storage.Ok
}

func (f *fakeStore) RemoveItem(ctx context.Context, id string) storage.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return storage.Fail
	}
	delete(f.items, id)
	f.removed = append(f.removed, id)
	return storage.Ok
}

func (f *fakeStore) RemoveItems(ctx context.Context, ids []string) storage.Outcome {
	for _, id := range ids {
		if outcome := f.RemoveItem(ctx, id); outcome != storage.Ok {
			return storage.Fail
		}
	}
	return storage.Ok
}

func (f *fakeStore) GetRevisions(ctx context.Context) ([]storage.Revision, storage.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.Revision, 0, len(f.items))
	for id, item := range f.items {
		out = append(out, storage.Revision{ID: id, Revision: item.Revision()})
	}
	return out, storage.Ok
}

func (f *fakeStore) GetChangedRevisions(ctx context.Context, syncToken string) ([]storage.Revision, []string, storage.Outcome) {
	return nil, nil, storage.NotSupported
}

func (f *fakeStore) GetLatestSyncToken(ctx context.Context) (string, storage.Outcome) {
	return "token", storage.Ok
}

// fakeFetcherItems is a storage.Fetcher backed by a fixed item slice,
// used to build a real storage.Iterator for a fakeSource.
type fakeFetcherItems struct {
	items []*pim.Item
}

func (f *fakeFetcherItems) Hrefs(ctx context.Context) ([]string, error) {
	hrefs := make([]string, len(f.items))
	for i := range f.items {
		hrefs[i] = fmt.Sprintf("h%d", i)
	}
	return hrefs, nil
}

func (f *fakeFetcherItems) FetchBatch(ctx context.Context, hrefs []string) ([]*pim.Item, error) {
	out := make([]*pim.Item, len(hrefs))
	for i := range hrefs {
		out[i] = f.items[i]
	}
	return out, nil
}

// fakeSource is an in-memory storage.Source wrapping a fakeStore's
// contents for the one-way engine's Source side.
type fakeSource struct {
	items []*pim.Item
}

func (f *fakeSource) Init(ctx context.Context) storage.Outcome { return storage.Ok }

func (f *fakeSource) NewItemIterator(ctx context.Context, ignoredFields []string) (*storage.Iterator, storage.Outcome) {
	it, err := storage.NewIterator(ctx, &fakeFetcherItems{items: f.items})
	if err != nil {
		return nil, storage.Fail
	}
	return it, storage.Ok
}

func (f *fakeSource) GetRevisions(ctx context.Context) ([]storage.Revision, storage.Outcome) {
	return nil, storage.Ok
}

func (f *fakeSource) GetChangedRevisions(ctx context.Context, syncToken string) ([]storage.Revision, []string, storage.Outcome) {
	return nil, nil, storage.NotSupported
}

func (f *fakeSource) GetLatestSyncToken(ctx context.Context) (string, storage.Outcome) {
	return "token", storage.Ok
}

func (f *fakeSource) TotalCount(ctx context.Context) (int, storage.Outcome) {
	return len(f.items), storage.Ok
}

func testRegistry() *pim.Registry {
	reg := pim.NewRegistry()
	reg.Add(pim.TypeContact, "fn", pim.Key)
	reg.Add(pim.TypeContact, "tel", pim.Conflict)
	return reg
}

// contact builds a parsed contact item for tests.
func contact(fn, tel string) *pim.Item {
	raw := "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:" + fn + "\r\nTEL:" + tel + "\r\nEND:VCARD\r\n"
	item, err := pim.ParseContact([]byte(raw))
	if err != nil {
		panic(err)
	}
	return item
}
