package webdav

import (
	"context"
	"fmt"
	"strings"
)

// DiscoveryState is the shared CardDAV/CalDAV discovery state machine's
// progression: Start -> FindPrincipal -> FindHomeSet -> FindCollections
// -> Ready.
type DiscoveryState int

const (
	StateStart DiscoveryState = iota
	StateFindPrincipal
	StateFindHomeSet
	StateFindCollections
	StateReady
)

// Discoverer drives the shared state machine. HomeSetProp/HomeSetNS
// parameterize it for CardDAV ("addressbook-home-set",
// "urn:ietf:params:xml:ns:carddav") vs CalDAV ("calendar-home-set",
// "urn:ietf:params:xml:ns:caldav").
type Discoverer struct {
	Engine     *Engine
	ServerURL  string
	HomeSetProp string
	HomeSetNS   string

	State        DiscoveryState
	PrincipalURL string
	HomeSetURL   string
}

// FindPrincipal issues PROPFIND Depth:0 for current-user-principal.
func (d *Discoverer) FindPrincipal(ctx context.Context, url string, creds *Credentials, auth Authorizer) (string, error) {
	body := `<D:propfind xmlns:D='DAV:'><D:prop><D:current-user-principal/></D:prop></D:propfind>`
	ms, err := d.propfind(url, 0, body, creds, auth)
	if err != nil {
		return "", err
	}
	if len(ms.Responses) == 0 {
		return "", fmt.Errorf("dav: no response for current-user-principal")
	}
	href, _ := ms.Responses[0].Prop("current-user-principal:href")
	if href == "" {
		return "", fmt.Errorf("dav: server did not return current-user-principal")
	}
	d.State = StateFindPrincipal
	d.PrincipalURL = resolveAgainstHost(url, href)
	return d.PrincipalURL, nil
}

// FindHomeSet issues PROPFIND Depth:0 over the principal URL for the
// {CardDAV,CalDAV} home-set property.
func (d *Discoverer) FindHomeSet(ctx context.Context, principalURL string, creds *Credentials, auth Authorizer) (string, error) {
	body := fmt.Sprintf(`<D:propfind xmlns:D='DAV:' xmlns:C="%s"><D:prop><C:%s/></D:prop></D:propfind>`, d.HomeSetNS, d.HomeSetProp)
	ms, err := d.propfind(principalURL, 0, body, creds, auth)
	if err != nil {
		return "", err
	}
	if len(ms.Responses) == 0 {
		return "", fmt.Errorf("dav: no response for %s", d.HomeSetProp)
	}
	href, _ := ms.Responses[0].Prop(d.HomeSetProp + ":href")
	if href == "" {
		return "", fmt.Errorf("dav: server did not return %s", d.HomeSetProp)
	}
	d.State = StateFindHomeSet
	d.HomeSetURL = resolveAgainstHost(principalURL, href)
	return d.HomeSetURL, nil
}

// FindCollections issues PROPFIND Depth:1 over the home-set URL.
func (d *Discoverer) FindCollections(ctx context.Context, homeSetURL, propBody string, creds *Credentials, auth Authorizer) (*MultiStatus, error) {
	ms, err := d.propfind(homeSetURL, 1, propBody, creds, auth)
	if err != nil {
		return nil, err
	}
	d.State = StateFindCollections
	return ms, nil
}

// ResolveHref resolves a collection/item href against the host portion
// of base when href is host-relative, exported for use by the
// CardDAV/CalDAV protocol helpers when turning a <response><href>
// into an absolute collection URL.
func ResolveHref(base, href string) string {
	return resolveAgainstHost(base, href)
}

func (d *Discoverer) propfind(url string, depth int, body string, creds *Credentials, auth Authorizer) (*MultiStatus, error) {
	req := &Request{
		Method:            MethodPropfind,
		URL:               url,
		Headers:           [][2]string{{"Depth", depthHeader(depth)}, {"Content-Type", "application/xml; charset=utf-8"}},
		Body:              []byte(body),
		FollowRedirection: true,
		Creds:             creds,
		Authorize:         auth,
	}
	resp, err := d.Engine.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.Code != 207 {
		return nil, NewServerProtocolError(resp.Code, "expected 207 Multi-Status")
	}
	return ParseMultiStatus(resp.Body)
}

func depthHeader(d int) string {
	if d == 0 {
		return "0"
	}
	return "1"
}

// resolveAgainstHost resolves a collection/home-set href against the
// host portion of base when href starts with "/".
func resolveAgainstHost(base, href string) string {
	if !strings.HasPrefix(href, "/") {
		return href
	}
	schemeEnd := strings.Index(base, "://")
	if schemeEnd < 0 {
		return href
	}
	hostStart := schemeEnd + 3
	hostEnd := strings.IndexByte(base[hostStart:], '/')
	var host string
	if hostEnd < 0 {
		host = base
	} else {
		host = base[:hostStart+hostEnd]
	}
	return host + href
}
