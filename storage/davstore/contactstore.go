// Package davstore adapts pkg/carddav and pkg/caldav clients into the
// storage.Store/storage.Source contract the sync engines drive:
// addressbook/calendar collection URIs become item ids, ETags become
// revisions, and ListAll/FetchMany are wired into a streaming
// storage.Iterator the same way a SQLite or LDAP collaborator would
// expose its own rows.
package davstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/pkg/carddav"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
	"github.com/sonroyaalmerol/pimsync/pkg/webdav"
)

// ContactStore drives one CardDAV addressbook collection as a full
// read/write storage.Store, and doubles as a storage.Source when used
// as the read-only side of a one-way mirror.
type ContactStore struct {
	client *carddav.Client
	logger zerolog.Logger
}

// New wraps an already-configured carddav.Client.
func New(client *carddav.Client, logger zerolog.Logger) *ContactStore {
	return &ContactStore{client: client, logger: logger}
}

func (s *ContactStore) Init(ctx context.Context) storage.Outcome {
	if err := s.client.Discover(ctx); err != nil {
		s.logger.Error().Err(err).Msg("davstore: discovering addressbook collection failed")
		return storage.Fail
	}
	return storage.Ok
}

func (s *ContactStore) parseFetched(f carddav.FetchedItem) (*pim.Item, error) {
	item, err := pim.ParseContact([]byte(f.Data))
	if err != nil {
		return nil, err
	}
	item.SetID(f.URI)
	item.SetRevision(f.ETag)
	return item, nil
}

func (s *ContactStore) GetItem(ctx context.Context, id string) (*pim.Item, storage.Outcome) {
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
		s.logger.Error().Err(err).Str("id", id).Msg("davstore: parsing fetched vCard failed")
		return nil, storage.Fail
	}
	return item, storage.Ok
}

func (s *ContactStore) GetItems(ctx context.Context, ids []string) ([]*pim.Item, storage.Outcome) {
	fetched, err := s.client.FetchMany(ctx, ids)
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: get_items failed")
		return nil, storage.Fail
	}
	out := make([]*pim.Item, 0, len(fetched))
	for _, f := range fetched {
		item, err := s.parseFetched(f)
		if err != nil {
			s.logger.Error().Err(err).Str("uri", f.URI).Msg("davstore: parsing fetched vCard failed")
			return nil, storage.Fail
		}
		out = append(out, item)
	}
	return out, storage.Ok
}

func (s *ContactStore) AddItem(ctx context.Context, item *pim.Item) (string, string, storage.Outcome) {
	vcard, err := pim.RenderContact(item)
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: rendering vCard failed")
		return "", "", storage.Fail
	}
	uri, etag, err := s.client.Create(ctx, vcard)
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: add_item failed")
		return "", "", storage.Fail
	}
	return uri, etag, storage.Ok
}

func (s *ContactStore) AddItems(ctx context.Context, items []*pim.Item) ([]string, []string, storage.Outcome) {
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

func (s *ContactStore) ModifyItem(ctx context.Context, id string, item *pim.Item, oldRevision string) (string, storage.Outcome) {
	vcard, err := pim.RenderContact(item)
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("davstore: rendering vCard failed")
		return "", storage.Fail
	}
	newEtag, err := s.client.Modify(ctx, id, vcard, oldRevision)
	if err != nil {
		if errors.Is(err, webdav.ErrPreconditionFailed) {
			return "", storage.Fail
		}
		s.logger.Error().Err(err).Str("id", id).Msg("davstore: modify_item failed")
		return "", storage.Fail
	}
	return newEtag, storage.Ok
}

func (s *ContactStore) ModifyItems(ctx context.Context, ids []string, items []*pim.Item, oldRevisions []string) ([]string, storage.Outcome) {
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

func (s *ContactStore) RemoveItem(ctx context.Context, id string) storage.Outcome {
	if err := s.client.Delete(ctx, id, ""); err != nil {
		if errors.Is(err, webdav.ErrNotFound) {
			return storage.Ok
		}
		s.logger.Error().Err(err).Str("id", id).Msg("davstore: remove_item failed")
		return storage.Fail
	}
	return storage.Ok
}

func (s *ContactStore) RemoveItems(ctx context.Context, ids []string) storage.Outcome {
	for _, id := range ids {
		if outcome := s.RemoveItem(ctx, id); outcome != storage.Ok {
			return storage.Fail
		}
	}
	return storage.Ok
}

func (s *ContactStore) GetRevisions(ctx context.Context) ([]storage.Revision, storage.Outcome) {
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

func (s *ContactStore) GetChangedRevisions(ctx context.Context, syncToken string) ([]storage.Revision, []string, storage.Outcome) {
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

func (s *ContactStore) GetLatestSyncToken(ctx context.Context) (string, storage.Outcome) {
	if s.client.SyncToken == "" {
		return "", storage.NotSupported
	}
	return s.client.SyncToken, storage.Ok
}

func (s *ContactStore) TotalCount(ctx context.Context) (int, storage.Outcome) {
	metas, err := s.client.ListAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: total_count failed")
		return 0, storage.Fail
	}
	return len(metas), storage.Ok
}

// NewItemIterator starts a streaming download of every item in the
// collection. ignoredFields has no bearing on what gets fetched — it
// only ever disables check-registry fields used for comparison — so
// it is accepted for interface conformance and otherwise unused here.
func (s *ContactStore) NewItemIterator(ctx context.Context, ignoredFields []string) (*storage.Iterator, storage.Outcome) {
	it, err := storage.NewIterator(ctx, &contactFetcher{client: s.client, logger: s.logger})
	if err != nil {
		s.logger.Error().Err(err).Msg("davstore: starting iterator failed")
		return nil, storage.Fail
	}
	return it, storage.Ok
}

type contactFetcher struct {
	client *carddav.Client
	logger zerolog.Logger
}

func (f *contactFetcher) Hrefs(ctx context.Context) ([]string, error) {
	metas, err := f.client.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("davstore: listing addressbook collection: %w", err)
	}
	hrefs := make([]string, 0, len(metas))
	for _, m := range metas {
		hrefs = append(hrefs, m.URI)
	}
	return hrefs, nil
}

func (f *contactFetcher) FetchBatch(ctx context.Context, hrefs []string) ([]*pim.Item, error) {
	fetched, err := f.client.FetchMany(ctx, hrefs)
	if err != nil {
		return nil, fmt.Errorf("davstore: fetching vCard batch: %w", err)
	}
	out := make([]*pim.Item, 0, len(fetched))
	for _, fi := range fetched {
		item, err := pim.ParseContact([]byte(fi.Data))
		if err != nil {
			f.logger.Warn().Err(err).Str("uri", fi.URI).Msg("davstore: skipping malformed vCard")
			continue
		}
		item.SetID(fi.URI)
		item.SetRevision(fi.ETag)
		out = append(out, item)
	}
	return out, nil
}
