// Package caldav implements the CalDAV protocol helper:
// discovery, collection metadata, full/incremental item listing,
// batched multiget, and create/modify/delete against a calendar
// collection.
package caldav

import (
	"context"
	"fmt"
	"strings"

	"github.com/sonroyaalmerol/pimsync/pkg/webdav"
)

const ns = "urn:ietf:params:xml:ns:caldav"

// ItemMeta is an (uri, etag) pair, as returned by full listing.
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

// Client drives one calendar collection.
type Client struct {
	engine    *webdav.Engine
	creds     *webdav.Credentials
	authorize webdav.Authorizer

	serverURL     string
	collectionURL string

	disc *webdav.Discoverer

	DisplayName   string
	SyncToken     string
	Components    []string // from supported-calendar-component-set, e.g. ["VEVENT"]
	itemsMetadata map[string]string
}

// Config is the set of parameters needed to construct a Client.
type Config struct {
	ServerURL   string
	CalendarURL string // if set, short-circuits discovery
	Creds       *webdav.Credentials
	Authorize   webdav.Authorizer
}

// New constructs a Client, not yet discovered/ready.
func New(engine *webdav.Engine, cfg Config) *Client {
	return &Client{
		engine:        engine,
		creds:         cfg.Creds,
		authorize:     cfg.Authorize,
		serverURL:     cfg.ServerURL,
		collectionURL: cfg.CalendarURL,
		itemsMetadata: map[string]string{},
		disc: &webdav.Discoverer{
			Engine:      engine,
			ServerURL:   cfg.ServerURL,
			HomeSetProp: "calendar-home-set",
			HomeSetNS:   ns,
		},
	}
}

// Discover runs the shared discovery state machine.
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
	body := fmt.Sprintf(`<D:propfind xmlns:D='DAV:' xmlns:C="%s"><D:prop><D:resourcetype/><D:displayname/><C:supported-calendar-component-set/></D:prop></D:propfind>`, ns)
	ms, err := c.disc.FindCollections(ctx, homeSet, body, c.creds, c.authorize)
	if err != nil {
		return err
	}
	for _, r := range ms.Responses {
		if !r.HasProp("resourcetype:calendar") {
			continue
		}
		c.collectionURL = webdav.ResolveHref(homeSet, r.Href)
		if dn, ok := r.Prop("displayname"); ok {
			c.DisplayName = dn
		}
		c.Components = supportedComponents(&r)
		break
	}
	if c.collectionURL == "" {
		return fmt.Errorf("caldav: no calendar collection found under %s", homeSet)
	}
	c.disc.State = webdav.StateReady
	return nil
}

func supportedComponents(r *webdav.DAVResponse) []string {
	var out []string
	for _, name := range []string{"VEVENT", "VTODO", "VJOURNAL"} {
		if r.HasProp("supported-calendar-component-set:comp:" + name) {
			out = append(out, name)
		}
	}
	return out
}

func (c *Client) queryCollection(ctx context.Context) error {
	body := fmt.Sprintf(`<D:propfind xmlns:D='DAV:' xmlns:CS="http://calendarserver.org/ns/" xmlns:C="%s"><D:prop><D:displayname/><CS:getctag/><D:sync-token/><C:supported-calendar-component-set/></D:prop></D:propfind>`, ns)
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
		r := ms.Responses[0]
		if dn, ok := r.Prop("displayname"); ok {
			c.DisplayName = dn
		}
		if tok, ok := r.Prop("sync-token"); ok {
			c.SyncToken = tok
		}
		c.Components = supportedComponents(&r)
	}
	c.disc.State = webdav.StateReady
	return nil
}

// ListAll performs a full listing: PROPFIND Depth:1 requesting getetag
// and resourcetype. iCloud lists calendar-level sync-collection
// entries indiscriminately, so non-.ics hrefs are filtered here too.
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
			continue
		}
		if !strings.HasSuffix(r.Href, ".ics") {
			continue
		}
		etag, _ := r.Prop("getetag")
		out = append(out, ItemMeta{URI: r.Href, ETag: etag})
		c.itemsMetadata[r.Href] = etag
	}
	return out, nil
}

// ListChanges performs an incremental sync-collection REPORT (RFC
// 6578). Non-.ics hrefs in the response (iCloud quirk) are dropped.
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
		if !strings.HasSuffix(r.Href, ".ics") {
			continue
		}
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

// FetchMany performs a batched calendar-multiget REPORT for hrefs,
// reordering the response to match the caller's input order.
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
	body := fmt.Sprintf(`<C:calendar-multiget xmlns:D='DAV:' xmlns:C='%s'><D:prop><D:getetag/><C:calendar-data/></D:prop>%s</C:calendar-multiget>`, ns, hrefXML.String())
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
		data, _ := r.Prop("calendar-data")
		byHref[r.Href] = FetchedItem{URI: r.Href, ETag: etag, Data: data}
	}

	out := make([]FetchedItem, 0, len(hrefs))
	for _, h := range hrefs {
		if item, ok := byHref[h]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// Create PUTs a new iCalendar object to <collection>/<uid>.ics. uid
// must be non-empty: CalDAV collections key items by UID in the
// resource name, unlike CardDAV's server-assigned URIs.
func (c *Client) Create(ctx context.Context, uid string, ics []byte) (uri, etag string, err error) {
	if uid == "" {
		return "", "", webdav.ErrMissingUID
	}
	uri = strings.TrimSuffix(c.collectionURL, "/") + "/" + uid + ".ics"
	req := &webdav.Request{
		Method:            "PUT",
		URL:               uri,
		Headers:           [][2]string{{"Content-Type", "text/calendar; charset=utf-8"}, {"If-None-Match", "*"}},
		Body:              ics,
		FollowRedirection: true,
		Creds:             c.creds,
		Authorize:         c.authorize,
	}
	resp, err := c.engine.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", webdav.ErrNetwork, err)
	}
	switch resp.Code {
	case 201, 204, 200:
		if tag, ok := resp.Header("ETag"); ok {
			c.itemsMetadata[uri] = tag
			return uri, tag, nil
		}
		tag, rerr := c.requeryEtag(ctx, uri)
		if rerr != nil {
			return "", "", rerr
		}
		return uri, tag, nil
	case 412:
		return "", "", webdav.ErrUIDConflict
	default:
		return "", "", webdav.NewServerProtocolError(resp.Code, "unexpected create response")
	}
}

// Modify PUTs to the item URI with If-Match when oldEtag is non-empty.
func (c *Client) Modify(ctx context.Context, uri string, ics []byte, oldEtag string) (newEtag string, err error) {
	headers := [][2]string{{"Content-Type", "text/calendar; charset=utf-8"}}
	if oldEtag != "" {
		headers = append(headers, [2]string{"If-Match", oldEtag})
	}
	req := &webdav.Request{
		Method:            "PUT",
		URL:               uri,
		Headers:           headers,
		Body:              ics,
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
		return "", fmt.Errorf("caldav: requerying etag: %w", err)
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
	var headers [][2]string
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
