package davstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/pkg/caldav"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
	"github.com/sonroyaalmerol/pimsync/pkg/webdav"
)

// CalendarStore drives one CalDAV calendar collection. itemType picks
// TypeEvent or TypeTask: a single collection can hold both VEVENTs and
// VTODOs, but the sync engine works one pim.Type at a time, so one
// CalendarStore is constructed per type against the same collection.
type CalendarStore struct {
	client   *caldav.Client
	itemType pim.Type
	logger   zerolog.Logger
}

func NewCalendarStore(client *caldav.Client, itemType pim.Type, logger zerolog.Logger) *CalendarStore {
	return &CalendarStore{client: client, itemType: itemType, logger: logger}
}

func (s *CalendarStore) Init(ctx context.Context) storage.Outcome {
	if err := s.client.Discover(ctx); err != nil {
		s.logger.Error().Err(err).Msg("davstore: discovering calendar collection failed")
		return storage.Fail
	}
	return storage.Ok
}

func (s *CalendarStore) parseFetched(f caldav.FetchedItem) (*pim.Item, error) {
	item, err := pim.ParseCalendarItem([]byte(f.Data), s.itemType)
	if err != nil {
		return nil, err
	}
	item.SetID(f.URI)
	item.SetRevision(f.ETag)
	return item, nil
}

func (s *CalendarStore) GetItem(ctx context.Context, id string) (*pim.Item, storage.Outcome) {
	fetched, err := s.client.FetchMany(ctx, []string{id})
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("davstore: get_item failed")
		return nil, storage.Fail
	}
	if len(fetched) == 0 {
		return nil, storage.Fail
	}
	item, err := s.parseFetched(fetched[0])
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("davstore: parsing fetched iCalendar failed")
		return nil, storage.Fail
	}
	return item, storage.Ok
}

func (s *CalendarStore) GetItems(ctx context.Context, ids []string) ([]*pim.Item, storage.Outcome) {
	fetched, err := s.client.FetchMany(ctx, ids)
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: get_items failed")
		return nil, storage.Fail
	}
	out := make([]*pim.Item, 0, len(fetched))
	for _, f := range fetched {
		item, err := s.parseFetched(f)
		if err != nil {
			s.logger.Error().Err(err).Str("uri", f.URI).Msg("davstore: parsing fetched iCalendar failed")
			return nil, storage.Fail
		}
		out = append(out, item)
	}
	return out, storage.Ok
}

// calendarUID picks the UID to create the item under: an item mirrored
// from another collaborator already carries a stable id (its local
// store row id, or the UID a sibling DAV collection assigned); an item
// built fresh by the sync engine gets a new one.
func calendarUID(item *pim.Item) string {
	if item.ID() != "" {
		return item.ID()
	}
	return pim.NewID()
}

func (s *CalendarStore) AddItem(ctx context.Context, item *pim.Item) (string, string, storage.Outcome) {
	ics, err := pim.RenderCalendarItem(item)
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: rendering iCalendar failed")
		return "", "", storage.Fail
	}
	uri, etag, err := s.client.Create(ctx, calendarUID(item), ics)
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: add_item failed")
		return "", "", storage.Fail
	}
	return uri, etag, storage.Ok
}

func (s *CalendarStore) AddItems(ctx context.Context, items []*pim.Item) ([]string, []string, storage.Outcome) {
	ids := make([]string, 0, len(items))
	revs := make([]string, 0, len(items))
	for _, item := range items {
		id, rev, outcome := s.AddItem(ctx, item)
		if outcome != storage.Ok {
			return nil, nil, storage.Fail
		}
		ids = append(ids, id)
		revs = append(revs, rev)
	}
	return ids, revs, storage.Ok
}

func (s *CalendarStore) ModifyItem(ctx context.Context, id string, item *pim.Item, oldRevision string) (string, storage.Outcome) {
	ics, err := pim.RenderCalendarItem(item)
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("davstore: rendering iCalendar failed")
		return "", storage.Fail
	}
	newEtag, err := s.client.Modify(ctx, id, ics, oldRevision)
	if err != nil {
		if errors.Is(err, webdav.ErrPreconditionFailed) {
			return "", storage.Fail
		}
		s.logger.Error().Err(err).Str("id", id).Msg("davstore: modify_item failed")
		return "", storage.Fail
	}
	return newEtag, storage.Ok
}

func (s *CalendarStore) ModifyItems(ctx context.Context, ids []string, items []*pim.Item, oldRevisions []string) ([]string, storage.Outcome) {
	revs := make([]string, 0, len(ids))
	for i, id := range ids {
		var old string
		if oldRevisions != nil {
			old = oldRevisions[i]
		}
		rev, outcome := s.ModifyItem(ctx, id, items[i], old)
		if outcome != storage.Ok {
			return nil, storage.Fail
		}
		revs = append(revs, rev)
	}
	return revs, storage.Ok
}

func (s *CalendarStore) RemoveItem(ctx context.Context, id string) storage.Outcome {
	if err := s.client.Delete(ctx, id, ""); err != nil {
		if errors.Is(err, webdav.ErrNotFound) {
			return storage.Ok
		}
		s.logger.Error().Err(err).Str("id", id).Msg("davstore: remove_item failed")
		return storage.Fail
	}
	return storage.Ok
}

func (s *CalendarStore) RemoveItems(ctx context.Context, ids []string) storage.Outcome {
	for _, id := range ids {
		if outcome := s.RemoveItem(ctx, id); outcome != storage.Ok {
			return storage.Fail
		}
	}
	return storage.Ok
}

func (s *CalendarStore) GetRevisions(ctx context.Context) ([]storage.Revision, storage.Outcome) {
	metas, err := s.client.ListAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: get_revisions failed")
		return nil, storage.Fail
	}
	out := make([]storage.Revision, 0, len(metas))
	for _, m := range metas {
		out = append(out, storage.Revision{ID: m.URI, Revision: m.ETag})
	}
	return out, storage.Ok
}

func (s *CalendarStore) GetChangedRevisions(ctx context.Context, syncToken string) ([]storage.Revision, []string, storage.Outcome) {
	if syncToken == "" {
		return nil, nil, storage.NotSupported
	}
	changed, removed, _, err := s.client.ListChanges(ctx, syncToken)
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: get_changed_revisions failed")
		return nil, nil, storage.Fail
	}
	out := make([]storage.Revision, 0, len(changed))
	for _, m := range changed {
		out = append(out, storage.Revision{ID: m.URI, Revision: m.ETag})
	}
	return out, removed, storage.Ok
}

func (s *CalendarStore) GetLatestSyncToken(ctx context.Context) (string, storage.Outcome) {
	if s.client.SyncToken == "" {
		return "", storage.NotSupported
	}
	return s.client.SyncToken, storage.Ok
}

func (s *CalendarStore) TotalCount(ctx context.Context) (int, storage.Outcome) {
	metas, err := s.client.ListAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: total_count failed")
		return 0, storage.Fail
	}
	return len(metas), storage.Ok
}

func (s *CalendarStore) NewItemIterator(ctx context.Context, ignoredFields []string) (*storage.Iterator, storage.Outcome) {
	it, err := storage.NewIterator(ctx, &calendarFetcher{client: s.client, itemType: s.itemType, logger: s.logger})
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: starting iterator failed")
		return nil, storage.Fail
	}
	return it, storage.Ok
}

type calendarFetcher struct {
	client   *caldav.Client
	itemType pim.Type
	logger   zerolog.Logger
}

func (f *calendarFetcher) Hrefs(ctx context.Context) ([]string, error) {
	metas, err := f.client.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("davstore: listing calendar collection: %w", err)
	}
	hrefs := make([]string, 0, len(metas))
	for _, m := range metas {
		hrefs = append(hrefs, m.URI)
	}
	return hrefs, nil
}

func (f *calendarFetcher) FetchBatch(ctx context.Context, hrefs []string) ([]*pim.Item, error) {
	fetched, err := f.client.FetchMany(ctx, hrefs)
	if err != nil {
		return nil, fmt.Errorf("davstore: fetching iCalendar batch: %w", err)
	}
	out := make([]*pim.Item, 0, len(fetched))
	for _, fi := range fetched {
		item, err := pim.ParseCalendarItem([]byte(fi.Data), f.itemType)
		if err != nil {
			f.logger.Warn().Err(err).Str("uri", fi.URI).Msg("davstore: skipping malformed iCalendar object")
			continue
		}
		item.SetID(fi.URI)
		item.SetRevision(fi.ETag)
		out = append(out, item)
	}
	return out, nil
}
