package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/pimsync/internal/config"
	"github.com/sonroyaalmerol/pimsync/internal/registry"
	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/pkg/caldav"
	"github.com/sonroyaalmerol/pimsync/pkg/carddav"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
	"github.com/sonroyaalmerol/pimsync/pkg/webdav"
	"github.com/sonroyaalmerol/pimsync/storage/davstore"
)

func findDAVAccount(cfg *config.Config, name string) (*config.DAVAccount, bool) {
	for i := range cfg.DAV {
		if cfg.DAV[i].Name == name {
			return &cfg.DAV[i], true
		}
	}
	return nil, false
}

func findLocalAccount(cfg *config.Config, name string) (*config.LocalAccount, bool) {
	for i := range cfg.Local {
		if cfg.Local[i].Name == name {
			return &cfg.Local[i], true
		}
	}
	return nil, false
}

// itemTypeOf maps a DAVAccount's declared kind/item_type to the pim.Type
// its collection holds.
func itemTypeOf(a *config.DAVAccount) (pim.Type, error) {
	switch a.Kind {
	case "carddav":
		return pim.TypeContact, nil
	case "caldav":
		switch a.ItemType {
		case config.ItemTypeTask:
			return pim.TypeTask, nil
		default:
			return pim.TypeEvent, nil
		}
	default:
		return 0, fmt.Errorf("cmd/pimsync: account %s: unknown kind %q (want carddav or caldav)", a.Name, a.Kind)
	}
}

func credentialsFor(a *config.DAVAccount) *webdav.Credentials {
	if a.Login == "" {
		return nil
	}
	return &webdav.Credentials{BasicUser: a.Login, BasicPass: a.Password}
}

func authorizerFor(ctx context.Context, a *config.DAVAccount) webdav.Authorizer {
	if a.RefreshToken == "" {
		return nil
	}
	return refreshTokenAuthorizer(ctx, a.ClientID, a.ClientSecret, a.TokenURL, a.RefreshToken)
}

func tlsPolicyFor(a *config.DAVAccount) webdav.TLSPolicy {
	if a.InsecureSkipTLS {
		return webdav.InsecureSkipVerify
	}
	return webdav.VerifyPeer
}

// davEngine builds one webdav.Engine (and therefore one net/http
// client) per DAV account, so TLS policy and timeout are account-
// scoped rather than shared process-wide state.
func davEngine(a *config.DAVAccount, logger zerolog.Logger) *webdav.Engine {
	policy := tlsPolicyFor(a)
	if policy == webdav.InsecureSkipVerify {
		logger.Warn().Str("account", a.Name).Msg("cmd/pimsync: TLS peer verification disabled for this account")
	}
	session := newHTTPSession(config.RequestTimeout, policy)
	return webdav.NewEngine(session, logger)
}

// buildDAVContactStore constructs a davstore.ContactStore for a
// carddav account, ready to Init.
func buildDAVContactStore(ctx context.Context, a *config.DAVAccount, logger zerolog.Logger) *davstore.ContactStore {
	client := carddav.New(davEngine(a, logger), carddav.Config{
		ServerURL:      a.ServerURL,
		AddressbookURL: a.CollectionURL,
		Creds:          credentialsFor(a),
		Authorize:      authorizerFor(ctx, a),
	})
	return davstore.New(client, logger)
}

// buildDAVCalendarStore constructs a davstore.CalendarStore for a
// caldav account, ready to Init.
func buildDAVCalendarStore(ctx context.Context, a *config.DAVAccount, itemType pim.Type, logger zerolog.Logger) *davstore.CalendarStore {
	client := caldav.New(davEngine(a, logger), caldav.Config{
		ServerURL:   a.ServerURL,
		CalendarURL: a.CollectionURL,
		Creds:       credentialsFor(a),
		Authorize:   authorizerFor(ctx, a),
	})
	return davstore.NewCalendarStore(client, itemType, logger)
}

// resolveSource resolves a sync pair's "remote" side for one-way mode:
// either a DAV account (mirrored via davstore) or a local account
// whose plugin is itself a read-only storage.Source (e.g. ldap).
func resolveSource(ctx context.Context, cfg *config.Config, name string, logger zerolog.Logger) (storage.Source, pim.Type, error) {
	if dav, ok := findDAVAccount(cfg, name); ok {
		itemType, err := itemTypeOf(dav)
		if err != nil {
			return nil, 0, err
		}
		if dav.Kind == "carddav" {
			return buildDAVContactStore(ctx, dav, logger), itemType, nil
		}
		return buildDAVCalendarStore(ctx, dav, itemType, logger), itemType, nil
	}
	if local, ok := findLocalAccount(cfg, name); ok {
		itemType := pim.TypeContact // every registered Source plugin (ldap) is contacts-only today
		src, err := registry.Source(local.Plugin, local.Params, itemType, logger)
		if err != nil {
			return nil, 0, fmt.Errorf("cmd/pimsync: building source %q: %w", name, err)
		}
		return src, itemType, nil
	}
	return nil, 0, fmt.Errorf("cmd/pimsync: no dav or local account named %q", name)
}

// resolveRemoteStore resolves a sync pair's "remote" side for two-way
// mode: always a DAV account, since the registered local plugins are
// either read/write-local (sqlite) or read-only (ldap), neither of
// which two-way reconciliation can run against as the remote side.
func resolveRemoteStore(ctx context.Context, cfg *config.Config, name string, logger zerolog.Logger) (storage.Store, pim.Type, error) {
	dav, ok := findDAVAccount(cfg, name)
	if !ok {
		return nil, 0, fmt.Errorf("cmd/pimsync: two-way sync requires a dav account for %q", name)
	}
	itemType, err := itemTypeOf(dav)
	if err != nil {
		return nil, 0, err
	}
	if dav.Kind == "carddav" {
		return buildDAVContactStore(ctx, dav, logger), itemType, nil
	}
	return buildDAVCalendarStore(ctx, dav, itemType, logger), itemType, nil
}

func resolveLocalStore(cfg *config.Config, name string, itemType pim.Type, logger zerolog.Logger) (storage.Store, error) {
	local, ok := findLocalAccount(cfg, name)
	if !ok {
		return nil, fmt.Errorf("cmd/pimsync: no local account named %q", name)
	}
	store, err := registry.Store(local.Plugin, local.Params, itemType, logger)
	if err != nil {
		return nil, fmt.Errorf("cmd/pimsync: building local store %q: %w", name, err)
	}
	return store, nil
}

