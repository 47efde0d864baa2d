package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

// initRetries caps the number of Init attempts a constructor makes
// against a collaborator before giving up. Ported from Sync.cpp's
// retry loop around plugin instantiation: a transient dial/auth
// failure at process startup shouldn't be fatal the way a mid-run
// storage failure is, so only construction gets this treatment —
// Synchronize itself fails fast on a single bad Outcome.
const initRetries = 5

// retryInit calls init up to initRetries times with doubling backoff
// starting at 100ms, returning as soon as it reports Ok.
func retryInit(ctx context.Context, name string, init func(ctx context.Context) storage.Outcome) error {
	delay := 100 * time.Millisecond
	var lastOutcome storage.Outcome
	for attempt := 1; attempt <= initRetries; attempt++ {
		lastOutcome = init(ctx)
		if lastOutcome == storage.Ok {
			return nil
		}
		if attempt == initRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("sync: %s init failed after %d attempts (outcome %s)", name, initRetries, lastOutcome)
}

// NewOneWaySync constructs a OneWaySync, retrying source and local
// Init calls with backoff before returning.
func NewOneWaySync(ctx context.Context, source storage.Source, local storage.Store, registry *pim.Registry, itemType pim.Type, phases []Phase, cfg EngineConfig) (*OneWaySync, error) {
	if err := retryInit(ctx, "source", source.Init); err != nil {
		return nil, err
	}
	if err := retryInit(ctx, "local store", local.Init); err != nil {
		return nil, err
	}
	return &OneWaySync{
		Source:   source,
		Local:    local,
		Registry: registry,
		ItemType: itemType,
		Phases:   phases,
		Config:   cfg,
	}, nil
}

// NewTwoWaySync constructs a TwoWaySync, retrying both stores' Init
// calls with backoff before returning.
func NewTwoWaySync(ctx context.Context, local, remote storage.Store, registry *pim.Registry, itemType pim.Type, cfg EngineConfig) (*TwoWaySync, error) {
	if err := retryInit(ctx, "local store", local.Init); err != nil {
		return nil, err
	}
	if err := retryInit(ctx, "remote store", remote.Init); err != nil {
		return nil, err
	}
	return &TwoWaySync{
		Local:    local,
		Remote:   remote,
		Registry: registry,
		ItemType: itemType,
		Config:   cfg,
	}, nil
}
