// Package ldapsource adapts a read-only LDAP directory into a
// storage.Source: contacts are rendered from directory entries as
// vCards and parsed through pkg/pim, so the rest of the sync engine
// never knows its "remote" contacts came from LDAP rather than a
// CardDAV server. Suited to a one-way "mirror the company directory
// into local contacts" pair — LDAP exposes no native revision or
// changelog, so conflict-aware two-way sync against it isn't offered.
package ldapsource

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/pimsync/internal/cache"
	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

// Source is a storage.Source backed by one LDAP directory search.
type Source struct {
	cfg    Config
	logger zerolog.Logger
	conn   *ldap.Conn
	cache  *cache.Cache[string, []entryContact]
}

// New dials cfg.URL and, if cfg.BindDN is set, binds as it. The
// connection is held open for the lifetime of the Source, mirroring
// the teacher's LDAPContactClient.
func New(cfg Config, logger zerolog.Logger) (*Source, error) {
	conn, err := dialLDAP(cfg)
	if err != nil {
		return nil, fmt.Errorf("ldapsource: dial: %w", err)
	}
	return &Source{
		cfg:    cfg,
		logger: logger,
		conn:   conn,
		cache:  cache.New[string, []entryContact](cfg.CacheTTL),
	}, nil
}

func (s *Source) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

func dialLDAP(cfg Config) (*ldap.Conn, error) {
	u := strings.TrimSpace(cfg.URL)
	isLDAPS := strings.HasPrefix(strings.ToLower(u), "ldaps://")
	isLDAP := strings.HasPrefix(strings.ToLower(u), "ldap://")
	if !isLDAP && !isLDAPS {
		return nil, errors.New("URL must start with ldap:// or ldaps://")
	}

	if isLDAPS {
		tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
		hostPort := strings.TrimPrefix(u, "ldaps://")
		if host, _, err := net.SplitHostPort(hostPort); err == nil && host != "" {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = hostPort
		}
		conn, err := ldap.DialURL(u, ldap.DialWithTLSConfig(tlsConfig))
		if err != nil {
			return nil, err
		}
		return bindIfConfigured(conn, cfg)
	}

	conn, err := ldap.DialURL(u)
	if err != nil {
		return nil, err
	}
	if cfg.RequireTLS {
		tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
		hostPort := strings.TrimPrefix(u, "ldap://")
		if host, _, err := net.SplitHostPort(hostPort); err == nil && host != "" {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = hostPort
		}
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}
	return bindIfConfigured(conn, cfg)
}

func bindIfConfigured(conn *ldap.Conn, cfg Config) (*ldap.Conn, error) {
	if cfg.BindDN != "" {
		if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// Init confirms the bound connection is still usable with a cheap
// base-entry lookup before the engine commits to a full listContacts
// run.
func (s *Source) Init(ctx context.Context) storage.Outcome {
	req := ldap.NewSearchRequest(
		s.cfg.BaseDN,
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, int(s.cfg.Timeout.Seconds()), false,
		"(objectClass=*)",
		[]string{"dn"},
		nil,
	)
	if _, err := s.conn.Search(req); err != nil {
		s.logger.Error().Err(err).Str("base_dn", s.cfg.BaseDN).Msg("ldapsource: init check failed")
		return storage.Fail
	}
	return storage.Ok
}

// listContacts runs the directory search, caching the result for
// cfg.CacheTTL the way the teacher's ListContacts did for its
// addressbook bridge.
func (s *Source) listContacts(ctx context.Context) ([]entryContact, error) {
	if v, ok := s.cache.Get("all"); ok {
		return v, nil
	}
	search := ldap.NewSearchRequest(
		s.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, int(s.cfg.Timeout.Seconds()), false,
		s.cfg.Filter,
		s.cfg.attrsForFilter(),
		nil,
	)
	res, err := s.conn.SearchWithPaging(search, 1000)
	if err != nil {
		return nil, err
	}
	out := make([]entryContact, 0, len(res.Entries))
	for _, e := range res.Entries {
		c := s.cfg.mapEntry(e)
		if c.uid == "" {
			s.logger.Warn().Str("dn", e.DN).Msg("ldapsource: entry has no uid, skipping")
			continue
		}
		out = append(out, c)
	}
	s.cache.Set("all", out, time.Now().Add(s.cfg.CacheTTL))
	return out, nil
}

func revisionOf(vcard []byte) string {
	sum := sha256.Sum256(vcard)
	return hex.EncodeToString(sum[:8])
}

func (s *Source) GetRevisions(ctx context.Context) ([]storage.Revision, storage.Outcome) {
	contacts, err := s.listContacts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("ldapsource: get_revisions failed")
		return nil, storage.Fail
	}
	out := make([]storage.Revision, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, storage.Revision{ID: c.uid, Revision: revisionOf(c.toVCard())})
	}
	return out, storage.Ok
}

// GetChangedRevisions always reports NotSupported: plain LDAP has no
// changelog a generic client can rely on (RFC 4533 content sync is an
// optional server extension), so callers fall back to diffing
// GetRevisions snapshots across runs.
func (s *Source) GetChangedRevisions(ctx context.Context, syncToken string) ([]storage.Revision, []string, storage.Outcome) {
	return nil, nil, storage.NotSupported
}

func (s *Source) GetLatestSyncToken(ctx context.Context) (string, storage.Outcome) {
	return "", storage.NotSupported
}

func (s *Source) TotalCount(ctx context.Context) (int, storage.Outcome) {
	contacts, err := s.listContacts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("ldapsource: total_count failed")
		return 0, storage.Fail
	}
	return len(contacts), storage.Ok
}

func (s *Source) NewItemIterator(ctx context.Context, ignoredFields []string) (*storage.Iterator, storage.Outcome) {
	contacts, err := s.listContacts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("ldapsource: new_item_iterator failed")
		return nil, storage.Fail
	}
	it, err := storage.NewIterator(ctx, &contactFetcher{contacts: contacts, logger: s.logger})
	if err != nil {
		s.logger.Error().Err(err).Msg("ldapsource: starting iterator failed")
		return nil, storage.Fail
	}
	return it, storage.Ok
}

// contactFetcher satisfies storage.Fetcher over an already-fetched
// in-memory contact snapshot: the whole directory listing is one LDAP
// round-trip, so hrefs are just index keys into that snapshot rather
// than anything resembling a per-item network fetch.
type contactFetcher struct {
	contacts []entryContact
	byUID    map[string]entryContact
	logger   zerolog.Logger
}

func (f *contactFetcher) Hrefs(ctx context.Context) ([]string, error) {
	f.byUID = make(map[string]entryContact, len(f.contacts))
	hrefs := make([]string, 0, len(f.contacts))
	for _, c := range f.contacts {
		f.byUID[c.uid] = c
		hrefs = append(hrefs, c.uid)
	}
	return hrefs, nil
}

func (f *contactFetcher) FetchBatch(ctx context.Context, hrefs []string) ([]*pim.Item, error) {
	out := make([]*pim.Item, 0, len(hrefs))
	for _, uid := range hrefs {
		c, ok := f.byUID[uid]
		if !ok {
			continue
		}
		item, err := pim.ParseContact(c.toVCard())
		if err != nil {
			f.logger.Warn().Err(err).Str("uid", uid).Msg("ldapsource: skipping malformed directory entry")
			continue
		}
		item.SetID(uid)
		item.SetRevision(revisionOf(c.toVCard()))
		out = append(out, item)
	}
	return out, nil
}
