package sync

import (
	"context"
	"errors"
	"sync"

	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

// errCancelled and errStoreFailed distinguish a cooperative cancel
// from a genuine Storage error when streamSourceItems returns early;
// run() maps the former to Cancelled and the latter to Fail.
var (
	errCancelled   = errors.New("sync: cancelled")
	errStoreFailed = errors.New("sync: storage operation failed")
)

// refEntry is one local item tracked in a phase's reference map.
type refEntry struct {
	id       string
	item     *pim.Item
	status   refStatus
	revision string
}

type refStatus int

const (
	refNotFound refStatus = iota
	refFound
	refModified
	refAdded
)

// OneWaySync mirrors a Source into a local Store across one or more
// phases.
type OneWaySync struct {
	Source   storage.Source
	Local    storage.Store
	Registry *pim.Registry
	ItemType pim.Type
	Phases   []Phase
	Config   EngineConfig

	mu         sync.Mutex
	inProgress bool
	cancelled  bool
	iterator   *storage.Iterator
	stats      Stats
}

// Synchronize starts a run on a background goroutine and returns
// immediately; the result reaches the caller only via
// Config.Callback.SyncFinished.
func (s *OneWaySync) Synchronize(ctx context.Context) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		s.Config.Callback.finished(AlreadyInProgress, Stats{})
		return
	}
	s.inProgress = true
	s.cancelled = false
	s.mu.Unlock()

	go func() {
		result := s.run(ctx)
		s.mu.Lock()
		s.inProgress = false
		stats := s.stats
		s.mu.Unlock()
		s.Config.Callback.finished(result, stats)
	}()
}

// Cancel requests cooperative cancellation, forwarded to the active
// phase's iterator.
func (s *OneWaySync) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	it := s.iterator
	s.mu.Unlock()
	if it != nil {
		it.Cancel()
	}
}

func (s *OneWaySync) Suspend() storage.Outcome {
	s.mu.Lock()
	it := s.iterator
	s.mu.Unlock()
	if it == nil {
		return storage.NotSupported
	}
	return it.Suspend()
}

func (s *OneWaySync) Resume() storage.Outcome {
	s.mu.Lock()
	it := s.iterator
	s.mu.Unlock()
	if it == nil {
		return storage.NotSupported
	}
	return it.Resume()
}

func (s *OneWaySync) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *OneWaySync) run(ctx context.Context) Result {
	if out := s.Local.Init(ctx); out != storage.Ok {
		return Fail
	}

	s.stats = Stats{}

	for _, phase := range s.Phases {
		s.Registry.EnableAll(s.ItemType)
		for _, f := range phase.IgnoredFields {
			s.Registry.Disable(s.ItemType, f)
		}

		s.Config.Callback.phaseStarted(phase.Name)

		refMap, outcome := s.buildReferenceMap(ctx)
		if outcome != storage.Ok {
			return Fail
		}
		if s.isCancelled() {
			return Cancelled
		}

		if err := s.streamSourceItems(ctx, phase, refMap); err != nil {
			if err == errCancelled {
				return Cancelled
			}
			return Fail
		}

		if outcome := s.sweepRemovals(ctx, refMap); outcome != storage.Ok {
			return Fail
		}

		s.Config.Callback.phaseFinished(phase.Name)
	}

	s.Registry.EnableAll(s.ItemType)

	if s.stats.IsEmpty() {
		return OkNoChange
	}
	return OkWithChange
}

func (s *OneWaySync) buildReferenceMap(ctx context.Context) (map[string][]*refEntry, storage.Outcome) {
	refMap := map[string][]*refEntry{}
	revisions, outcome := s.Local.GetRevisions(ctx)
	if outcome != storage.Ok {
		return nil, outcome
	}
	for _, rev := range revisions {
		item, outcome := s.Local.GetItem(ctx, rev.ID)
		if outcome != storage.Ok {
			return nil, outcome
		}
		idx := pim.BuildIndex(s.Registry, item)
		key := idx.String()
		refMap[key] = append(refMap[key], &refEntry{id: rev.ID, item: item, status: refNotFound, revision: rev.Revision})
	}
	return refMap, storage.Ok
}

func (s *OneWaySync) streamSourceItems(ctx context.Context, phase Phase, refMap map[string][]*refEntry) error {
	it, outcome := s.Source.NewItemIterator(ctx, phase.IgnoredFields)
	if outcome != storage.Ok {
		return errStoreFailed
	}
	s.mu.Lock()
	s.iterator = it
	s.mu.Unlock()

	var toAdd []*pim.Item
	var modifyIDs []string
	var modifyItems []*pim.Item

	flush := func() error {
		if len(toAdd) > 0 {
			_, _, outcome := s.Local.AddItems(ctx, toAdd)
			if outcome != storage.Ok {
				return errStoreFailed
			}
			s.stats.LocallyAdded += len(toAdd)
			toAdd = nil
		}
		if len(modifyIDs) > 0 {
			_, outcome := s.Local.ModifyItems(ctx, modifyIDs, modifyItems, nil)
			if outcome != storage.Ok {
				return errStoreFailed
			}
			s.stats.LocallyModified += len(modifyIDs)
			modifyIDs, modifyItems = nil, nil
		}
		return nil
	}

	batchSize := s.Config.batchSize()

	for {
		if s.isCancelled() {
			return errCancelled
		}
		var stopWait func()
		if s.Config.Pair != "" {
			stopWait = iteratorWaitTimer(s.Config.Pair)
		}
		item := it.Next()
		if stopWait != nil {
			stopWait()
		}
		if item == nil {
			break
		}
		if it.Failed() {
			return errStoreFailed
		}

		idx := pim.BuildIndex(s.Registry, item)
		key := idx.String()
		bucket := refMap[key]

		matched := false
		var firstNotFound *refEntry
		for _, entry := range bucket {
			if idx.Compare(pim.BuildIndex(s.Registry, entry.item), s.Registry) {
				if entry.status == refNotFound {
					entry.status = refFound
					matched = true
					break
				}
			}
			if entry.status == refNotFound && firstNotFound == nil {
				firstNotFound = entry
			}
		}

		if matched {
			continue
		}

		if firstNotFound != nil {
			firstNotFound.status = refModified
			modifyIDs = append(modifyIDs, firstNotFound.id)
			modifyItems = append(modifyItems, item)
		} else {
			refMap[key] = append(refMap[key], &refEntry{status: refAdded, item: item})
			toAdd = append(toAdd, item)
		}

		if len(toAdd) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		if len(modifyIDs) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if it.Failed() {
		return errStoreFailed
	}

	return flush()
}

func (s *OneWaySync) sweepRemovals(ctx context.Context, refMap map[string][]*refEntry) storage.Outcome {
	var ids []string
	for _, bucket := range refMap {
		for _, entry := range bucket {
			if entry.status == refNotFound {
				ids = append(ids, entry.id)
			}
		}
	}
	if len(ids) == 0 {
		return storage.Ok
	}
	if outcome := s.Local.RemoveItems(ctx, ids); outcome != storage.Ok {
		return outcome
	}
	s.stats.LocallyRemoved += len(ids)
	return storage.Ok
}
