// Package storage defines the uniform Storage/Source contract: a
// polymorphic capability set that DAV-backed, SQLite-backed,
// and LDAP-backed collaborators all implement, plus the streaming
// iterator that lets a DAV-backed Source overlap network fetches with
// consumer iteration.
package storage

import (
	"context"

	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

// Outcome is the finite result set every Storage/Source operation
// returns.
type Outcome int

const (
	Ok Outcome = iota
	Fail
	NotSupported
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "Ok"
	case Fail:
		return "Fail"
	case NotSupported:
		return "NotSupported"
	default:
		return "Unknown"
	}
}

// Revision is one (id, etag/revision) pair as returned by
// GetRevisions / GetChangedRevisions.
type Revision struct {
	ID       string
	Revision string
}

// Store is the capability surface a sync engine drives against a
// local or remote collection. Batch operations are atomic at the API
// contract level: on any per-item failure the implementation clears
// its output and returns Fail, even though the underlying server may
// have partially applied the batch — callers must re-query on retry
// rather than assume partial success.
type Store interface {
	Init(ctx context.Context) Outcome

	GetItem(ctx context.Context, id string) (*pim.Item, Outcome)
	GetItems(ctx context.Context, ids []string) ([]*pim.Item, Outcome)

	AddItem(ctx context.Context, item *pim.Item) (id string, revision string, outcome Outcome)
	AddItems(ctx context.Context, items []*pim.Item) (ids []string, revisions []string, outcome Outcome)

	ModifyItem(ctx context.Context, id string, item *pim.Item, oldRevision string) (newRevision string, outcome Outcome)
	ModifyItems(ctx context.Context, ids []string, items []*pim.Item, oldRevisions []string) (newRevisions []string, outcome Outcome)

	RemoveItem(ctx context.Context, id string) Outcome
	RemoveItems(ctx context.Context, ids []string) Outcome

	GetRevisions(ctx context.Context) ([]Revision, Outcome)
	GetChangedRevisions(ctx context.Context, syncToken string) (changed []Revision, removedIDs []string, outcome Outcome)
	GetLatestSyncToken(ctx context.Context) (string, Outcome)
}

// Source is the read side of Store plus the streaming iterator
// surface, used by a DAV-backed collaborator that must overlap
// network fetches with consumer iteration.
type Source interface {
	Init(ctx context.Context) Outcome

	NewItemIterator(ctx context.Context, ignoredFields []string) (*Iterator, Outcome)

	GetRevisions(ctx context.Context) ([]Revision, Outcome)
	GetChangedRevisions(ctx context.Context, syncToken string) (changed []Revision, removedIDs []string, outcome Outcome)
	GetLatestSyncToken(ctx context.Context) (string, Outcome)

	TotalCount(ctx context.Context) (int, Outcome)
}
