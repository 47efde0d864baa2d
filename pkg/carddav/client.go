// Package carddav implements the CardDAV protocol helper:
// discovery, collection metadata, full/incremental item listing,
// batched multiget, and create/modify/delete against an addressbook
// collection.
package carddav

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sonroyaalmerol/pimsync/pkg/webdav"
)

const ns = "urn:ietf:params:xml:ns:carddav"

// ItemMeta is an (uri, etag) pair, as returned by full listing and
// retained as items_metadata.
type ItemMeta struct {
	URI  string
	ETag string
}

// FetchedItem is one multiget result.
type FetchedItem struct {
	URI  string
	ETag string
	Data string
}

// Client drives one addressbook collection.
type Client struct {
	engine    *webdav.Engine
	creds     *webdav.Credentials
	authorize webdav.Authorizer

	serverURL     string
	collectionURL string

	disc *webdav.Discoverer

	DisplayName   string
	SyncToken     string
	itemsMetadata map[string]string // uri -> etag
}

// Config is the set of parameters needed to construct a Client.
type Config struct {
	ServerURL      string
	AddressbookURL string // if set, short-circuits discovery
	Creds          *webdav.Credentials
	Authorize      webdav.Authorizer
}

// New constructs a Client, not yet discovered/ready.
func New(engine *webdav.Engine, cfg Config) *Client {
	return &Client{
		engine:        engine,
		creds:         cfg.Creds,
		authorize:     cfg.Authorize,
		serverURL:     cfg.ServerURL,
		collectionURL: cfg.AddressbookURL,
		itemsMetadata: map[string]string{},
		disc: &webdav.Discoverer{
			Engine:      engine,
			ServerURL:   cfg.ServerURL,
			HomeSetProp: "addressbook-home-set",
			HomeSetNS:   ns,
		},
	}
}

// Discover runs the shared discovery state machine. If
// Config.AddressbookURL was supplied, it short-circuits straight to
// Ready with a single Depth:1 PROPFIND on that collection.
func (c *Client) Discover(ctx context.Context) error {
	if c.collectionURL != "" {
		return c.queryCollection(ctx)
	}

	principal, err := c.disc.FindPrincipal(ctx, c.serverURL, c.creds, c.authorize)
	if err != nil {
		return err
	}
	homeSet, err := c.disc.FindHomeSet(ctx, principal, c.creds, c.authorize)
	if err != nil {
		return err
	}
	body := fmt.Sprintf(`<D:propfind xmlns:D='DAV:' xmlns:C="%s"><D:prop><D:resourcetype/><D:displayname/></D:prop></D:propfind>`, ns)
	ms, err := c.disc.FindCollections(ctx, homeSet, body, c.creds, c.authorize)
	if err != nil {
		return err
	}
	for _, r := range ms.Responses {
		if !r.HasProp("resourcetype:addressbook") {
			continue
		}
		c.collectionURL = webdav.ResolveHref(homeSet, r.Href)
		if dn, ok := r.Prop("displayname"); ok {
			c.DisplayName = dn
		}
		break
	}
	if c.collectionURL == "" {
		return fmt.Errorf("carddav: no addressbook collection found under %s", homeSet)
	}
	c.disc.State = webdav.StateReady
	return nil
}

// queryCollection performs the metadata query: PROPFIND
// Depth:0 for displayname, getctag, sync-token.
func (c *Client) queryCollection(ctx context.Context) error {
	body := `<D:propfind xmlns:D='DAV:' xmlns:CS="http://calendarserver.org/ns/"><D:prop><D:displayname/><CS:getctag/><D:sync-token/></D:prop></D:propfind>`
	req := &webdav.Request{
		Method:            webdav.MethodPropfind,
		URL:               c.collectionURL,
		Headers:           [][2]string{{"Depth", "0"}, {"Content-Type", "application/xml; charset=utf-8"}},
		Body:              []byte(body),
		FollowRedirection: true,
		Creds:             c.creds,
		Authorize:         c.authorize,
	}
	resp, err := c.engine.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", webdav.ErrNetwork, err)
	}
	if resp.Code != 207 {
		return webdav.NewServerProtocolError(resp.Code, "expected 207 Multi-Status")
	}
	ms, err := webdav.ParseMultiStatus(resp.Body)
	if err != nil {
		return err
	}
	if len(ms.Responses) > 0 {
		if dn, ok := ms.Responses[0].Prop("displayname"); ok {
			c.DisplayName = dn
		}
		if tok, ok := ms.Responses[0].Prop("sync-token"); ok {
			c.SyncToken = tok
		}
	}
	c.disc.State = webdav.StateReady
	return nil
}

// ListAll performs a full listing: PROPFIND Depth:1 requesting
// getetag and resourcetype. Responses whose resourcetype is present
// and empty (i.e. not the collection itself) are items.
func (c *Client) ListAll(ctx context.Context) ([]ItemMeta, error) {
	body := `<D:propfind xmlns:D='DAV:'><D:prop><D:getetag/><D:resourcetype/></D:prop></D:propfind>`
	req := &webdav.Request{
		Method:            webdav.MethodPropfind,
		URL:               c.collectionURL,
		Headers:           [][2]string{{"Depth", "1"}},
		Body:              []byte(body),
		FollowRedirection: true,
		Creds:             c.creds,
		Authorize:         c.authorize,
	}
	resp, err := c.engine.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", webdav.ErrNetwork, err)
	}
	if resp.Code != 207 {
		return nil, webdav.NewServerProtocolError(resp.Code, "expected 207 Multi-Status")
	}
	ms, err := webdav.ParseMultiStatus(resp.Body)
	if err != nil {
		return nil, err
	}

	var out []ItemMeta
	c.itemsMetadata = map[string]string{}
	for _, r := range ms.Responses {
		if v, ok := r.Prop("resourcetype"); !ok || v != "" {
			continue // the collection itself, or resourcetype absent entirely
		}
		etag, _ := r.Prop("getetag")
		out = append(out, ItemMeta{URI: r.Href, ETag: etag})
		c.itemsMetadata[r.Href] = etag
	}
	return out, nil
}

// ListChanges performs an incremental sync-collection REPORT (RFC
// 6578) against syncToken. Responses carrying getetag are additions/
// modifications; responses lacking it are deletions.
func (c *Client) ListChanges(ctx context.Context, syncToken string) (changed []ItemMeta, removed []string, newToken string, err error) {
	body := fmt.Sprintf(`<D:sync-collection xmlns:D='DAV:'><D:sync-token>%s</D:sync-token><D:sync-level>1</D:sync-level><D:prop><D:getetag/></D:prop></D:sync-collection>`, escapeXML(syncToken))
	req := &webdav.Request{
		Method:            webdav.MethodReport,
		URL:               c.collectionURL,
		Headers:           [][2]string{{"Content-Type", "application/xml; charset=utf-8"}},
		Body:              []byte(body),
		FollowRedirection: true,
		Creds:             c.creds,
		Authorize:         c.authorize,
	}
	resp, doErr := c.engine.Do(req)
	if doErr != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", webdav.ErrNetwork, doErr)
	}
	if resp.Code != 207 {
		return nil, nil, "", webdav.NewServerProtocolError(resp.Code, "expected 207 Multi-Status")
	}
	ms, perr := webdav.ParseMultiStatus(resp.Body)
	if perr != nil {
		return nil, nil, "", perr
	}

	for _, r := range ms.Responses {
		if etag, ok := r.Prop("getetag"); ok {
			changed = append(changed, ItemMeta{URI: r.Href, ETag: etag})
		} else {
			removed = append(removed, r.Href)
		}
	}
	if ms.HasToken {
		newToken = ms.SyncToken
		c.SyncToken = newToken
	}
	return changed, removed, newToken, nil
}

var itemGroupPrefix = regexp.MustCompile(`(?m)^item\d+\.`)

// postProcessVCard applies the Google/iCloud quirks from.D:
// unescape "\:" and HTML entities, and strip "itemN." custom-label
// grouping prefixes.
func postProcessVCard(data string) string {
	data = strings.ReplaceAll(data, `\:`, ":")
	data = strings.ReplaceAll(data, "&lt;", "<")
	data = strings.ReplaceAll(data, "&gt;", ">")
	data = itemGroupPrefix.ReplaceAllString(data, "")
	return data
}

// FetchMany performs a batched addressbook-multiget REPORT for hrefs,
// reordering the response to match the caller's input order (Google
// does not preserve it).
func (c *Client) FetchMany(ctx context.Context, hrefs []string) ([]FetchedItem, error) {
	if len(hrefs) == 0 {
		return nil, nil
	}
	var hrefXML strings.Builder
	for _, h := range hrefs {
		hrefXML.WriteString("<D:href>")
		hrefXML.WriteString(escapeXML(h))
		hrefXML.WriteString("</D:href>")
	}
	body := fmt.Sprintf(`<C:addressbook-multiget xmlns:D='DAV:' xmlns:C='%s'><D:prop><D:getetag/><C:address-data/></D:prop>%s</C:addressbook-multiget>`, ns, hrefXML.String())
	req := &webdav.Request{
		Method:            webdav.MethodReport,
		URL:               c.collectionURL,
		Headers:           [][2]string{{"Content-Type", "application/xml; charset=utf-8"}},
		Body:              []byte(body),
		FollowRedirection: true,
		Creds:             c.creds,
		Authorize:         c.authorize,
	}
	resp, err := c.engine.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", webdav.ErrNetwork, err)
	}
	if resp.Code != 207 {
		return nil, webdav.NewServerProtocolError(resp.Code, "expected 207 Multi-Status")
	}
	ms, err := webdav.ParseMultiStatus(resp.Body)
	if err != nil {
		return nil, err
	}

	byHref := map[string]FetchedItem{}
	for _, r := range ms.Responses {
		etag, _ := r.Prop("getetag")
		data, _ := r.Prop("address-data")
		byHref[r.Href] = FetchedItem{URI: r.Href, ETag: etag, Data: postProcessVCard(data)}
	}

	out := make([]FetchedItem, 0, len(hrefs))
	for _, h := range hrefs {
		if item, ok := byHref[h]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// Create POSTs a new vCard to the collection.
func (c *Client) Create(ctx context.Context, vcard []byte) (uri, etag string, err error) {
	req := &webdav.Request{
		Method:            "POST",
		URL:               c.collectionURL,
		Headers:           [][2]string{{"Content-Type", "text/vcard; charset=utf-8"}},
		Body:              vcard,
		FollowRedirection: true,
		Creds:             c.creds,
		Authorize:         c.authorize,
	}
	resp, err := c.engine.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", webdav.ErrNetwork, err)
	}

	switch resp.Code {
	case 201:
		loc, _ := resp.Header("Location")
		newEtag, _ := resp.Header("ETag")
		if loc != "" && newEtag != "" {
			c.itemsMetadata[loc] = newEtag
			return loc, newEtag, nil
		}
		return c.recoverAfterCreate(ctx, loc)
	case 207:
		ms, perr := webdav.ParseMultiStatus(resp.Body)
		if perr != nil {
			return "", "", perr
		}
		if len(ms.Responses) > 0 {
			if isUIDConflict(ms.Responses[0]) {
				return "", "", webdav.ErrUIDConflict
			}
			etag, _ := ms.Responses[0].Prop("getetag")
			c.itemsMetadata[ms.Responses[0].Href] = etag
			return ms.Responses[0].Href, etag, nil
		}
		return "", "", webdav.ErrMalformed
	default:
		return "", "", webdav.NewServerProtocolError(resp.Code, "unexpected create response")
	}
}

func isUIDConflict(r webdav.DAVResponse) bool {
	_, ok := r.Errors["no-uid-conflict"]
	return ok
}

// recoverAfterCreate re-issues a single-item PROPFIND when the server
// returned success with a Location but no ETag header (Google), restoring
// items_metadata so no observable state leaks.
func (c *Client) recoverAfterCreate(ctx context.Context, loc string) (string, string, error) {
	if loc == "" {
		return "", "", fmt.Errorf("carddav: create succeeded without Location or ETag")
	}
	snapshot := map[string]string{}
	for k, v := range c.itemsMetadata {
		snapshot[k] = v
	}

	body := `<D:propfind xmlns:D='DAV:'><D:prop><D:getetag/></D:prop></D:propfind>`
	req := &webdav.Request{
		Method:            webdav.MethodPropfind,
		URL:               loc,
		Headers:           [][2]string{{"Depth", "0"}},
		Body:              []byte(body),
		FollowRedirection: true,
		Creds:             c.creds,
		Authorize:         c.authorize,
	}
	resp, err := c.engine.Do(req)
	if err != nil || resp.Code != 207 {
		c.itemsMetadata = snapshot
		return "", "", fmt.Errorf("carddav: recovering new item metadata: %w", err)
	}
	ms, perr := webdav.ParseMultiStatus(resp.Body)
	if perr != nil || len(ms.Responses) == 0 {
		c.itemsMetadata = snapshot
		return "", "", webdav.ErrMalformed
	}
	etag, _ := ms.Responses[0].Prop("getetag")
	c.itemsMetadata = snapshot
	c.itemsMetadata[loc] = etag
	return loc, etag, nil
}

// Modify PUTs to the item URI with If-Match when oldEtag is non-empty.
func (c *Client) Modify(ctx context.Context, uri string, vcard []byte, oldEtag string) (newEtag string, err error) {
	headers := [][2]string{{"Content-Type", "text/vcard; charset=utf-8"}}
	if oldEtag != "" {
		headers = append(headers, [2]string{"If-Match", oldEtag})
	}
	req := &webdav.Request{
		Method:            "PUT",
		URL:               uri,
		Headers:           headers,
		Body:              vcard,
		FollowRedirection: true,
		Creds:             c.creds,
		Authorize:         c.authorize,
	}
	resp, err := c.engine.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", webdav.ErrNetwork, err)
	}
	switch resp.Code {
	case 412:
		return "", webdav.ErrPreconditionFailed
	case 204, 200:
		if tag, ok := resp.Header("ETag"); ok {
			c.itemsMetadata[uri] = tag
			return tag, nil
		}
		return c.requeryEtag(ctx, uri)
	default:
		return "", webdav.NewServerProtocolError(resp.Code, "unexpected modify response")
	}
}

func (c *Client) requeryEtag(ctx context.Context, uri string) (string, error) {
	body := `<D:propfind xmlns:D='DAV:'><D:prop><D:getetag/></D:prop></D:propfind>`
	req := &webdav.Request{
		Method:            webdav.MethodPropfind,
		URL:               uri,
		Headers:           [][2]string{{"Depth", "0"}},
		Body:              []byte(body),
		FollowRedirection: true,
		Creds:             c.creds,
		Authorize:         c.authorize,
	}
	resp, err := c.engine.Do(req)
	if err != nil || resp.Code != 207 {
		return "", fmt.Errorf("carddav: requerying etag: %w", err)
	}
	ms, perr := webdav.ParseMultiStatus(resp.Body)
	if perr != nil || len(ms.Responses) == 0 {
		return "", webdav.ErrMalformed
	}
	etag, _ := ms.Responses[0].Prop("getetag")
	c.itemsMetadata[uri] = etag
	return etag, nil
}

// Delete removes the item at uri, optionally conditioned on etag.
func (c *Client) Delete(ctx context.Context, uri, etag string) error {
	headers := [][2]string(nil)
	if etag != "" {
		headers = [][2]string{{"If-Match", etag}}
	}
	req := &webdav.Request{
		Method:            "DELETE",
		URL:               uri,
		Headers:           headers,
		FollowRedirection: true,
		Creds:             c.creds,
		Authorize:         c.authorize,
	}
	resp, err := c.engine.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", webdav.ErrNetwork, err)
	}
	switch resp.Code {
	case 204, 200:
		delete(c.itemsMetadata, uri)
		return nil
	case 412:
		return webdav.ErrPreconditionFailed
	case 404:
		return webdav.ErrNotFound
	default:
		return webdav.NewServerProtocolError(resp.Code, "unexpected delete response")
	}
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
