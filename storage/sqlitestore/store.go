package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

// Init runs a trivial connectivity check; the schema itself is
// brought up to date by New via golang-migrate.
func (s *Store) Init(ctx context.Context) storage.Outcome {
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error().Err(err).Msg("sqlitestore: ping failed")
		return storage.Fail
	}
	return storage.Ok
}

func encodeItem(item *pim.Item) (string, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encoding item: %w", err)
	}
	return string(data), nil
}

func decodeItem(id, revision, body string) (*pim.Item, error) {
	item := &pim.Item{}
	if err := json.Unmarshal([]byte(body), item); err != nil {
		return nil, fmt.Errorf("decoding item %s: %w", id, err)
	}
	item.SetID(id)
	item.SetRevision(revision)
	return item, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*pim.Item, storage.Outcome) {
	row := s.db.QueryRowContext(ctx,
		`SELECT revision, body FROM items WHERE id = ? AND item_type = ?`, id, s.itemType.String())
	var revision int64
	var body string
	if err := row.Scan(&revision, &body); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.Fail
		}
		s.logger.Error().Err(err).Str("id", id).Msg("sqlitestore: get_item failed")
		return nil, storage.Fail
	}
	item, err := decodeItem(id, strconv.FormatInt(revision, 10), body)
	if err != nil {
		s.logger.Error().Err(err).Msg("sqlitestore: decoding stored item")
		return nil, storage.Fail
	}
	return item, storage.Ok
}

func (s *Store) GetItems(ctx context.Context, ids []string) ([]*pim.Item, storage.Outcome) {
	out := make([]*pim.Item, 0, len(ids))
	for _, id := range ids {
		item, outcome := s.GetItem(ctx, id)
		if outcome != storage.Ok {
			return nil, storage.Fail
		}
		out = append(out, item)
	}
	return out, storage.Ok
}

func (s *Store) addItemTx(tx *sql.Tx, item *pim.Item) (id string, revision string, err error) {
	body, err := encodeItem(item)
	if err != nil {
		return "", "", err
	}
	id = pim.NewID()
	if _, err := tx.Exec(`INSERT INTO items (id, item_type, revision, body) VALUES (?, ?, 1, ?)`,
		id, s.itemType.String(), body); err != nil {
		return "", "", fmt.Errorf("inserting item: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO changelog (item_id, item_type, change_type, revision) VALUES (?, ?, 'added', 1)`,
		id, s.itemType.String()); err != nil {
		return "", "", fmt.Errorf("logging add: %w", err)
	}
	return id, "1", nil
}

func (s *Store) AddItem(ctx context.Context, item *pim.Item) (string, string, storage.Outcome) {
	var id, rev string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		id, rev, txErr = s.addItemTx(tx, item)
		return txErr
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("sqlitestore: add_item failed")
		return "", "", storage.Fail
	}
	return id, rev, storage.Ok
}

func (s *Store) AddItems(ctx context.Context, items []*pim.Item) ([]string, []string, storage.Outcome) {
	ids := make([]string, 0, len(items))
	revs := make([]string, 0, len(items))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			id, rev, err := s.addItemTx(tx, item)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			revs = append(revs, rev)
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("sqlitestore: add_items failed")
		return nil, nil, storage.Fail
	}
	return ids, revs, storage.Ok
}

func (s *Store) modifyItemTx(tx *sql.Tx, id string, item *pim.Item, oldRevision string) (string, error) {
	var current int64
	row := tx.QueryRow(`SELECT revision FROM items WHERE id = ? AND item_type = ?`, id, s.itemType.String())
	if err := row.Scan(&current); err != nil {
		return "", fmt.Errorf("reading current revision: %w", err)
	}
	if oldRevision != "" && oldRevision != strconv.FormatInt(current, 10) {
		return "", fmt.Errorf("%w: id %s", storage.ErrPreconditionFailed, id)
	}
	body, err := encodeItem(item)
	if err != nil {
		return "", err
	}
	newRev := current + 1
	if _, err := tx.Exec(`UPDATE items SET revision = ?, body = ? WHERE id = ? AND item_type = ?`,
		newRev, body, id, s.itemType.String()); err != nil {
		return "", fmt.Errorf("updating item: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO changelog (item_id, item_type, change_type, revision) VALUES (?, ?, 'modified', ?)`,
		id, s.itemType.String(), newRev); err != nil {
		return "", fmt.Errorf("logging modify: %w", err)
	}
	return strconv.FormatInt(newRev, 10), nil
}

func (s *Store) ModifyItem(ctx context.Context, id string, item *pim.Item, oldRevision string) (string, storage.Outcome) {
	var newRev string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		newRev, txErr = s.modifyItemTx(tx, id, item, oldRevision)
		return txErr
	})
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("sqlitestore: modify_item failed")
		return "", storage.Fail
	}
	return newRev, storage.Ok
}

func (s *Store) ModifyItems(ctx context.Context, ids []string, items []*pim.Item, oldRevisions []string) ([]string, storage.Outcome) {
	revs := make([]string, 0, len(ids))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, id := range ids {
			var old string
			if oldRevisions != nil {
				old = oldRevisions[i]
			}
			rev, err := s.modifyItemTx(tx, id, items[i], old)
			if err != nil {
				return err
			}
			revs = append(revs, rev)
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("sqlitestore: modify_items failed")
		return nil, storage.Fail
	}
	return revs, storage.Ok
}

func (s *Store) removeItemTx(tx *sql.Tx, id string) error {
	res, err := tx.Exec(`DELETE FROM items WHERE id = ? AND item_type = ?`, id, s.itemType.String())
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %s", storage.ErrNotFound, id)
	}
	if _, err := tx.Exec(`INSERT INTO changelog (item_id, item_type, change_type, revision) VALUES (?, ?, 'removed', 0)`,
		id, s.itemType.String()); err != nil {
		return fmt.Errorf("logging remove: %w", err)
	}
	return nil
}

func (s *Store) RemoveItem(ctx context.Context, id string) storage.Outcome {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.removeItemTx(tx, id)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("sqlitestore: remove_item failed")
		return storage.Fail
	}
	return storage.Ok
}

func (s *Store) RemoveItems(ctx context.Context, ids []string) storage.Outcome {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := s.removeItemTx(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("sqlitestore: remove_items failed")
		return storage.Fail
	}
	return storage.Ok
}

func (s *Store) GetRevisions(ctx context.Context) ([]storage.Revision, storage.Outcome) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, revision FROM items WHERE item_type = ?`, s.itemType.String())
	if err != nil {
		s.logger.Error().Err(err).Msg("sqlitestore: get_revisions failed")
		return nil, storage.Fail
	}
	defer rows.Close()

	var out []storage.Revision
	for rows.Next() {
		var id string
		var rev int64
		if err := rows.Scan(&id, &rev); err != nil {
			return nil, storage.Fail
		}
		out = append(out, storage.Revision{ID: id, Revision: strconv.FormatInt(rev, 10)})
	}
	return out, storage.Ok
}

// GetChangedRevisions answers from the changelog table rather than
// falling back to a full snapshot diff: syncToken is the last seq the
// caller observed. An empty token means "no prior sync" and is
// reported as NotSupported so callers take the GetRevisions fallback
// for their first run (the changelog only tracks changes since the
// table was created, not the initial backfill).
func (s *Store) GetChangedRevisions(ctx context.Context, syncToken string) ([]storage.Revision, []string, storage.Outcome) {
	if syncToken == "" {
		return nil, nil, storage.NotSupported
	}
	lastSeq, err := strconv.ParseInt(syncToken, 10, 64)
	if err != nil {
		return nil, nil, storage.NotSupported
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, change_type, revision FROM changelog
		 WHERE item_type = ? AND seq > ? ORDER BY seq ASC`, s.itemType.String(), lastSeq)
	if err != nil {
		s.logger.Error().Err(err).Msg("sqlitestore: get_changed_revisions failed")
		return nil, nil, storage.Fail
	}
	defer rows.Close()

	changedByID := map[string]string{}
	removed := map[string]bool{}
	for rows.Next() {
		var id, changeType string
		var rev int64
		if err := rows.Scan(&id, &changeType, &rev); err != nil {
			return nil, nil, storage.Fail
		}
		switch changeType {
		case "removed":
			removed[id] = true
			delete(changedByID, id)
		default:
			changedByID[id] = strconv.FormatInt(rev, 10)
			delete(removed, id)
		}
	}

	var changed []storage.Revision
	for id, rev := range changedByID {
		changed = append(changed, storage.Revision{ID: id, Revision: rev})
	}
	var removedIDs []string
	for id := range removed {
		removedIDs = append(removedIDs, id)
	}
	return changed, removedIDs, storage.Ok
}

func (s *Store) GetLatestSyncToken(ctx context.Context) (string, storage.Outcome) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM changelog WHERE item_type = ?`, s.itemType.String())
	var seq int64
	if err := row.Scan(&seq); err != nil {
		s.logger.Error().Err(err).Msg("sqlitestore: get_latest_sync_token failed")
		return "", storage.Fail
	}
	return strconv.FormatInt(seq, 10), storage.Ok
}
