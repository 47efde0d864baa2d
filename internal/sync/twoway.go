package sync

import (
	"context"
	"sync"

	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/internal/syncmeta"
	"github.com/sonroyaalmerol/pimsync/internal/syncmetrics"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

// sideState is one side's observed state for a metadata-known item,
// per the 3x3 reconciliation matrix.
type sideState int

const (
	stateNotPresent sideState = iota
	stateNotChanged
	stateModified
)

// TwoWaySync reconciles a local and a remote Store via a persisted
// SyncMetadata document.
type TwoWaySync struct {
	Local    storage.Store
	Remote   storage.Store
	Registry *pim.Registry
	ItemType pim.Type
	Config   EngineConfig

	mu         sync.Mutex
	inProgress bool
	cancelled  bool
	stats      Stats
}

// Synchronize runs against the given metadata (nil or zero-value
// triggers the initial-sync path) and reports the updated metadata to
// Config.Callback.MetadataUpdated before SyncFinished fires.
func (s *TwoWaySync) Synchronize(ctx context.Context, meta *syncmeta.Metadata) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		s.Config.Callback.finished(AlreadyInProgress, Stats{})
		return
	}
	s.inProgress = true
	s.cancelled = false
	s.mu.Unlock()

	if meta == nil {
		meta = syncmeta.New()
	}

	go func() {
		result := s.run(ctx, meta)
		s.mu.Lock()
		s.inProgress = false
		stats := s.stats
		s.mu.Unlock()
		s.Config.Callback.finished(result, stats)
	}()
}

func (s *TwoWaySync) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

func (s *TwoWaySync) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *TwoWaySync) run(ctx context.Context, meta *syncmeta.Metadata) Result {
	if out := s.Local.Init(ctx); out != storage.Ok {
		return Fail
	}
	if out := s.Remote.Init(ctx); out != storage.Ok {
		return Fail
	}
	s.stats = Stats{}

	var result Result
	if len(meta.RemoteToLocalMapping) == 0 && meta.LocalSyncToken == "" && meta.RemoteSyncToken == "" {
		result = s.runInitial(ctx, meta)
	} else {
		result = s.runIncremental(ctx, meta)
	}
	if result == Fail || result == Cancelled {
		return result
	}

	if tok, outcome := s.Local.GetLatestSyncToken(ctx); outcome == storage.Ok {
		meta.LocalSyncToken = tok
	}
	if tok, outcome := s.Remote.GetLatestSyncToken(ctx); outcome == storage.Ok {
		meta.RemoteSyncToken = tok
	}
	if json, err := meta.ToJSON(); err == nil {
		s.Config.Callback.metadataUpdated(json)
	}

	if s.stats.IsEmpty() {
		return OkNoChange
	}
	return OkWithChange
}

// runInitial handles the case where no prior metadata exists: build a
// local reference map, stream remote items against it.
func (s *TwoWaySync) runInitial(ctx context.Context, meta *syncmeta.Metadata) Result {
	refMap, outcome := s.buildLocalReferenceMap(ctx)
	if outcome != storage.Ok {
		return Fail
	}

	remoteRevs, outcome := s.Remote.GetRevisions(ctx)
	if outcome != storage.Ok {
		return Fail
	}

	var remoteIDs []string
	for _, r := range remoteRevs {
		remoteIDs = append(remoteIDs, r.ID)
	}
	remoteItems, outcome := s.Remote.GetItems(ctx, remoteIDs)
	if outcome != storage.Ok {
		return Fail
	}

	for i, item := range remoteItems {
		if s.isCancelled() {
			return Cancelled
		}
		idx := pim.BuildIndex(s.Registry, item)
		bucket := refMap[idx.String()]

		matched := false
		var firstNotFound *refEntry
		for _, entry := range bucket {
			if entry.status != refNotFound {
				continue
			}
			if firstNotFound == nil {
				firstNotFound = entry
			}
			if idx.Compare(pim.BuildIndex(s.Registry, entry.item), s.Registry) {
				entry.status = refFound
				meta.RemoteToLocalMapping[remoteRevs[i].ID] = entry.id
				meta.RemoteRevisions[remoteRevs[i].ID] = remoteRevs[i].Revision
				meta.LocalRevisions[entry.id] = entry.revision
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if firstNotFound != nil {
			// Key-match only: remote wins during initial seeding.
			firstNotFound.status = refModified
			newRev, outcome := s.Local.ModifyItem(ctx, firstNotFound.id, item, firstNotFound.revision)
			if outcome != storage.Ok {
				return Fail
			}
			s.stats.LocallyModified++
			meta.RemoteToLocalMapping[remoteRevs[i].ID] = firstNotFound.id
			meta.RemoteRevisions[remoteRevs[i].ID] = remoteRevs[i].Revision
			meta.LocalRevisions[firstNotFound.id] = newRev
			continue
		}
		newID, newRev, outcome := s.Local.AddItem(ctx, item)
		if outcome != storage.Ok {
			return Fail
		}
		s.stats.LocallyAdded++
		meta.RemoteToLocalMapping[remoteRevs[i].ID] = newID
		meta.RemoteRevisions[remoteRevs[i].ID] = remoteRevs[i].Revision
		meta.LocalRevisions[newID] = newRev
	}

	var remoteAddIDs []string
	for _, bucket := range refMap {
		for _, entry := range bucket {
			if entry.status == refNotFound {
				remoteAddIDs = append(remoteAddIDs, entry.id)
			}
		}
	}
	for _, lid := range remoteAddIDs {
		if s.isCancelled() {
			return Cancelled
		}
		item, outcome := s.Local.GetItem(ctx, lid)
		if outcome != storage.Ok {
			return Fail
		}
		rid, rrev, outcome := s.Remote.AddItem(ctx, item)
		if outcome != storage.Ok {
			return Fail
		}
		s.stats.RemotelyAdded++
		lrev, _ := s.localRevision(ctx, lid)
		meta.RemoteToLocalMapping[rid] = lid
		meta.RemoteRevisions[rid] = rrev
		meta.LocalRevisions[lid] = lrev
	}

	return OkWithChange
}

func (s *TwoWaySync) localRevision(ctx context.Context, id string) (string, storage.Outcome) {
	revs, outcome := s.Local.GetRevisions(ctx)
	if outcome != storage.Ok {
		return "", outcome
	}
	for _, r := range revs {
		if r.ID == id {
			return r.Revision, storage.Ok
		}
	}
	return "", storage.Ok
}

func (s *TwoWaySync) buildLocalReferenceMap(ctx context.Context) (map[string][]*refEntry, storage.Outcome) {
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

// pairing is one metadata-known (remote id, local id) relationship
// plus its observed per-side state for this run.
type pairing struct {
	remoteID string
	localID  string
	remote   sideState
	local    sideState
}

// runIncremental walks the 3x3 reconciliation matrix over every
// metadata-known pairing, then cross-matches fresh adds on both sides.
func (s *TwoWaySync) runIncremental(ctx context.Context, meta *syncmeta.Metadata) Result {
	remoteStates, remoteAddedIDs, remoteCurrentRevs, outcome := s.observeSide(ctx, s.Remote, meta.RemoteSyncToken, meta.RemoteRevisions)
	if outcome != storage.Ok {
		return Fail
	}
	localStates, localAddedIDs, localCurrentRevs, outcome := s.observeSide(ctx, s.Local, meta.LocalSyncToken, meta.LocalRevisions)
	if outcome != storage.Ok {
		return Fail
	}

	var pairings []*pairing
	for rid, lid := range meta.RemoteToLocalMapping {
		p := &pairing{remoteID: rid, localID: lid, remote: stateNotChanged, local: stateNotChanged}
		if st, ok := remoteStates[rid]; ok {
			p.remote = st
		} else if _, known := meta.RemoteRevisions[rid]; !known {
			p.remote = stateNotPresent
		}
		if st, ok := localStates[lid]; ok {
			p.local = st
		} else if _, known := meta.LocalRevisions[lid]; !known {
			p.local = stateNotPresent
		}
		pairings = append(pairings, p)
	}

	var localAddQ, localModQ []*pim.Item
	var localAddCompanionRemoteID []string // "" when the add has no existing remote pairing
	var localModIDs []string
	var localRemoveQ []string
	var remoteAddQ, remoteModQ []*pim.Item
	var remoteAddCompanionLocalID []string // "" when the add has no existing local pairing
	var remoteModIDs []string
	var remoteRemoveQ []string

	for _, p := range pairings {
		if s.isCancelled() {
			return Cancelled
		}
		switch {
		case p.remote == stateNotPresent && p.local == stateNotPresent:
			s.dropPairing(meta, p)
		case p.remote == stateNotPresent && p.local == stateNotChanged:
			localRemoveQ = append(localRemoveQ, p.localID)
			s.dropPairing(meta, p)
		case p.remote == stateNotPresent && p.local == stateModified:
			item, outcome := s.Local.GetItem(ctx, p.localID)
			if outcome != storage.Ok {
				return Fail
			}
			remoteAddQ = append(remoteAddQ, item)
			remoteAddCompanionLocalID = append(remoteAddCompanionLocalID, p.localID)
			s.dropRemoteSide(meta, p)
		case p.remote == stateNotChanged && p.local == stateNotPresent:
			remoteRemoveQ = append(remoteRemoveQ, p.remoteID)
			s.dropPairing(meta, p)
		case p.remote == stateNotChanged && p.local == stateNotChanged:
			// no-op
		case p.remote == stateNotChanged && p.local == stateModified:
			item, outcome := s.Local.GetItem(ctx, p.localID)
			if outcome != storage.Ok {
				return Fail
			}
			remoteModQ = append(remoteModQ, item)
			remoteModIDs = append(remoteModIDs, p.remoteID)
			meta.LocalRevisions[p.localID] = localCurrentRevs[p.localID]
		case p.remote == stateModified && p.local == stateNotPresent:
			item, outcome := s.Remote.GetItem(ctx, p.remoteID)
			if outcome != storage.Ok {
				return Fail
			}
			localAddQ = append(localAddQ, item)
			localAddCompanionRemoteID = append(localAddCompanionRemoteID, p.remoteID)
			s.dropLocalSide(meta, p)
		case p.remote == stateModified && p.local == stateNotChanged:
			item, outcome := s.Remote.GetItem(ctx, p.remoteID)
			if outcome != storage.Ok {
				return Fail
			}
			localModQ = append(localModQ, item)
			localModIDs = append(localModIDs, p.localID)
			meta.RemoteRevisions[p.remoteID] = remoteCurrentRevs[p.remoteID]
		case p.remote == stateModified && p.local == stateModified:
			remoteItem, localItem, outcome := s.conflictingBodies(ctx, p)
			if outcome != storage.Ok {
				return Fail
			}
			conflictCopy, err := pim.WithConflictedUID(localItem)
			if err != nil {
				return Fail
			}
			syncmetrics.RecordConflict(s.Config.Pair)
			localAddQ = append(localAddQ, remoteItem)
			localAddCompanionRemoteID = append(localAddCompanionRemoteID, p.remoteID)
			remoteAddQ = append(remoteAddQ, conflictCopy)
			remoteAddCompanionLocalID = append(remoteAddCompanionLocalID, p.localID)
			// Both originals survive: keep their current revisions so the
			// two pairings made at flush time start out unchanged.
			delete(meta.RemoteToLocalMapping, p.remoteID)
			meta.RemoteRevisions[p.remoteID] = remoteCurrentRevs[p.remoteID]
			meta.LocalRevisions[p.localID] = localCurrentRevs[p.localID]
		}
	}

	// Cross-match fresh adds on both sides via index before copying.
	localAddedItems, outcome := s.fetchMany(ctx, s.Local, localAddedIDs)
	if outcome != storage.Ok {
		return Fail
	}
	remoteAddedItems, outcome := s.fetchMany(ctx, s.Remote, remoteAddedIDs)
	if outcome != storage.Ok {
		return Fail
	}
	crossLocal, pairedLocalIdx, pairedRemoteIdx := s.crossMatchAdds(localAddedIDs, localAddedItems, remoteAddedIDs, remoteAddedItems)
	for rid, lid := range crossLocal {
		meta.RemoteToLocalMapping[rid] = lid
	}

	for i := range localAddedIDs {
		if pairedLocalIdx[i] {
			continue
		}
		remoteAddQ = append(remoteAddQ, localAddedItems[i])
		remoteAddCompanionLocalID = append(remoteAddCompanionLocalID, localAddedIDs[i])
	}
	for i := range remoteAddedIDs {
		if pairedRemoteIdx[i] {
			continue
		}
		localAddQ = append(localAddQ, remoteAddedItems[i])
		localAddCompanionRemoteID = append(localAddCompanionRemoteID, remoteAddedIDs[i])
	}

	// Flush order: local adds -> local modifies -> local removes ->
	// remote adds -> remote modifies -> remote removes.
	if len(localAddQ) > 0 {
		ids, revs, outcome := s.Local.AddItems(ctx, localAddQ)
		if outcome != storage.Ok {
			return Fail
		}
		s.stats.LocallyAdded += len(localAddQ)
		for i, lid := range ids {
			meta.LocalRevisions[lid] = revs[i]
			if rid := localAddCompanionRemoteID[i]; rid != "" {
				meta.RemoteToLocalMapping[rid] = lid
			}
		}
	}
	if len(localModQ) > 0 {
		revs, outcome := s.Local.ModifyItems(ctx, localModIDs, localModQ, nil)
		if outcome != storage.Ok {
			return Fail
		}
		s.stats.LocallyModified += len(localModQ)
		for i, lid := range localModIDs {
			meta.LocalRevisions[lid] = revs[i]
		}
	}
	if len(localRemoveQ) > 0 {
		if outcome := s.Local.RemoveItems(ctx, localRemoveQ); outcome != storage.Ok {
			return Fail
		}
		s.stats.LocallyRemoved += len(localRemoveQ)
	}
	if len(remoteAddQ) > 0 {
		ids, revs, outcome := s.Remote.AddItems(ctx, remoteAddQ)
		if outcome != storage.Ok {
			return Fail
		}
		s.stats.RemotelyAdded += len(remoteAddQ)
		for i, rid := range ids {
			meta.RemoteRevisions[rid] = revs[i]
			if lid := remoteAddCompanionLocalID[i]; lid != "" {
				meta.RemoteToLocalMapping[rid] = lid
			}
		}
	}
	if len(remoteModQ) > 0 {
		revs, outcome := s.Remote.ModifyItems(ctx, remoteModIDs, remoteModQ, nil)
		if outcome != storage.Ok {
			return Fail
		}
		s.stats.RemotelyModified += len(remoteModQ)
		for i, rid := range remoteModIDs {
			meta.RemoteRevisions[rid] = revs[i]
		}
	}
	if len(remoteRemoveQ) > 0 {
		if outcome := s.Remote.RemoveItems(ctx, remoteRemoveQ); outcome != storage.Ok {
			return Fail
		}
		s.stats.RemotelyRemoved += len(remoteRemoveQ)
	}

	return OkWithChange
}

// dropPairing removes a (remote id, local id) pairing entirely: both
// sides are gone or about to be deleted, so neither id is tracked.
func (s *TwoWaySync) dropPairing(meta *syncmeta.Metadata, p *pairing) {
	delete(meta.RemoteToLocalMapping, p.remoteID)
	delete(meta.RemoteRevisions, p.remoteID)
	delete(meta.LocalRevisions, p.localID)
}

// dropRemoteSide forgets only the remote half of a pairing: the local
// item survives and will be re-paired with a freshly added remote id.
func (s *TwoWaySync) dropRemoteSide(meta *syncmeta.Metadata, p *pairing) {
	delete(meta.RemoteToLocalMapping, p.remoteID)
	delete(meta.RemoteRevisions, p.remoteID)
}

// dropLocalSide is the mirror of dropRemoteSide: the remote item
// survives and will be re-paired with a freshly added local id.
func (s *TwoWaySync) dropLocalSide(meta *syncmeta.Metadata, p *pairing) {
	delete(meta.RemoteToLocalMapping, p.remoteID)
	delete(meta.LocalRevisions, p.localID)
}

// conflictingBodies fetches both sides of a Modified/Modified pairing
// ahead of duplication.
func (s *TwoWaySync) conflictingBodies(ctx context.Context, p *pairing) (remoteItem, localItem *pim.Item, outcome storage.Outcome) {
	remoteItem, outcome = s.Remote.GetItem(ctx, p.remoteID)
	if outcome != storage.Ok {
		return nil, nil, outcome
	}
	localItem, outcome = s.Local.GetItem(ctx, p.localID)
	if outcome != storage.Ok {
		return nil, nil, outcome
	}
	return remoteItem, localItem, storage.Ok
}

func (s *TwoWaySync) fetchMany(ctx context.Context, store storage.Store, ids []string) ([]*pim.Item, storage.Outcome) {
	if len(ids) == 0 {
		return nil, storage.Ok
	}
	return store.GetItems(ctx, ids)
}

// crossMatchAdds handles the case where both sides independently added
// the same logical entity: if a locally-added item fully matches a
// remotely-added item, pair them via metadata only (no body transfer).
func (s *TwoWaySync) crossMatchAdds(localIDs []string, localItems []*pim.Item, remoteIDs []string, remoteItems []*pim.Item) (crossLocal map[string]string, pairedLocal, pairedRemote map[int]bool) {
	crossLocal = map[string]string{}
	pairedLocal = map[int]bool{}
	pairedRemote = map[int]bool{}

	for i, litem := range localItems {
		lidx := pim.BuildIndex(s.Registry, litem)
		for j, ritem := range remoteItems {
			if pairedRemote[j] {
				continue
			}
			ridx := pim.BuildIndex(s.Registry, ritem)
			if lidx.Compare(ridx, s.Registry) {
				crossLocal[remoteIDs[j]] = localIDs[i]
				pairedLocal[i] = true
				pairedRemote[j] = true
				break
			}
		}
	}
	return
}

// observeSide classifies every metadata-known id for one side into
// NotPresent/NotChanged/Modified, returns the ids newly present that
// metadata does not yet know about, and the current revision string
// for every id classified Modified so callers can update metadata's
// revision bookkeeping even on cells that don't otherwise write that
// side.
func (s *TwoWaySync) observeSide(ctx context.Context, store storage.Store, syncToken string, knownRevisions map[string]string) (states map[string]sideState, added []string, currentRevisions map[string]string, outcome storage.Outcome) {
	states = map[string]sideState{}
	currentRevisions = map[string]string{}
	for id := range knownRevisions {
		states[id] = stateNotChanged
	}

	changed, removed, outcome := store.GetChangedRevisions(ctx, syncToken)
	if outcome == storage.NotSupported {
		revs, outcome := store.GetRevisions(ctx)
		if outcome != storage.Ok {
			return nil, nil, nil, outcome
		}
		current := map[string]string{}
		for _, r := range revs {
			current[r.ID] = r.Revision
		}
		for id, rev := range current {
			if knownRev, known := knownRevisions[id]; known {
				if knownRev != rev {
					states[id] = stateModified
					currentRevisions[id] = rev
				}
			} else {
				added = append(added, id)
			}
		}
		for id := range knownRevisions {
			if _, present := current[id]; !present {
				states[id] = stateNotPresent
			}
		}
		return states, added, currentRevisions, storage.Ok
	}
	if outcome != storage.Ok {
		return nil, nil, nil, outcome
	}

	for _, rev := range changed {
		if _, known := knownRevisions[rev.ID]; known {
			states[rev.ID] = stateModified
			currentRevisions[rev.ID] = rev.Revision
		} else {
			added = append(added, rev.ID)
		}
	}
	for _, id := range removed {
		states[id] = stateNotPresent
	}
	return states, added, currentRevisions, storage.Ok
}
