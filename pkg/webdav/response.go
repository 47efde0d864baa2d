// Package webdav implements the WebDAV response model & parser and the
// DAV request engine: the leaf layer that the CardDAV/CalDAV protocol
// helpers (pkg/carddav, pkg/caldav) build on.
//
// XML decoding uses the standard library's encoding/xml.
package webdav

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Error kinds surfaced by ParseMultiStatus.
var (
	ErrMalformedXML        = errors.New("webdav: malformed XML")
	ErrWrongRoot           = errors.New("webdav: root element is not DAV:multistatus")
	ErrMissingDAVNamespace = errors.New("webdav: response uses no DAV: namespace")
)

// PropStat is one <propstat> block: a status code plus a flattened
// property map.
type PropStat struct {
	Status int
	Props  map[string]string
}

// DAVResponse is one <response> element of a multistatus body.
type DAVResponse struct {
	Href      string
	Status    *int
	Errors    map[string]string
	PropStats []PropStat
}

// Prop looks up a flattened property across all propstat blocks,
// preferring the first 2xx block that defines it.
func (r *DAVResponse) Prop(key string) (string, bool) {
	var fallback string
	var fallbackOK bool
	for _, ps := range r.PropStats {
		if v, ok := ps.Props[key]; ok {
			if ps.Status >= 200 && ps.Status < 300 {
				return v, true
			}
			fallback, fallbackOK = v, true
		}
	}
	return fallback, fallbackOK
}

// HasProp reports whether key is present in any propstat block,
// regardless of status — used to distinguish "resourcetype present
// and empty" (an item) from "resourcetype absent".
func (r *DAVResponse) HasProp(key string) bool {
	for _, ps := range r.PropStats {
		if _, ok := ps.Props[key]; ok {
			return true
		}
	}
	return false
}

// MultiStatus is the parsed result of a 207 response body.
type MultiStatus struct {
	Responses []DAVResponse
	SyncToken string
	HasToken  bool
}

// xmlNode is a generic recursive XML tree, used to walk a multistatus
// document independently of which non-DAV: namespace prefixes a given
// server chose.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func (n *xmlNode) children(local string) []xmlNode {
	var out []xmlNode
	for _, c := range n.Nodes {
		if c.XMLName.Local == local {
			out = append(out, c)
		}
	}
	return out
}

func (n *xmlNode) child(local string) (*xmlNode, bool) {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i], true
		}
	}
	return nil, false
}

// ParseMultiStatus parses an HTTP 207 response body into a sequence of
// DAVResponse plus an optional top-level sync-token, per.A.
func ParseMultiStatus(body []byte) (*MultiStatus, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedXML)
	}

	var root xmlNode
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = true
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedXML, err)
	}

	if root.XMLName.Local != "multistatus" {
		return nil, fmt.Errorf("%w: root is %q", ErrWrongRoot, root.XMLName.Local)
	}
	if root.XMLName.Space != "DAV:" {
		return nil, ErrMissingDAVNamespace
	}

	ms := &MultiStatus{}
	for _, respNode := range root.children("response") {
		r, err := decodeResponse(respNode)
		if err != nil {
			return nil, err
		}
		ms.Responses = append(ms.Responses, r)
	}
	if tok, ok := root.child("sync-token"); ok {
		ms.SyncToken = strings.TrimSpace(tok.Content)
		ms.HasToken = true
	}
	return ms, nil
}

func decodeResponse(n xmlNode) (DAVResponse, error) {
	r := DAVResponse{Errors: map[string]string{}}

	if hrefNode, ok := n.child("href"); ok {
		r.Href = doubleDecodeHref(strings.TrimSpace(hrefNode.Content))
	}

	if statusNode, ok := n.child("status"); ok {
		if code, ok := parseStatusLine(statusNode.Content); ok {
			r.Status = &code
		}
	}

	if errNode, ok := n.child("error"); ok {
		for _, e := range errNode.Nodes {
			r.Errors[e.XMLName.Local] = strings.TrimSpace(e.Content)
		}
	}

	for _, psNode := range n.children("propstat") {
		ps := PropStat{Props: map[string]string{}}
		if statusNode, ok := psNode.child("status"); ok {
			if code, ok := parseStatusLine(statusNode.Content); ok {
				ps.Status = code
			}
		}
		if propNode, ok := psNode.child("prop"); ok {
			flattenProps(*propNode, "", ps.Props)
		}
		r.PropStats = append(r.PropStats, ps)
	}

	return r, nil
}

// flattenProps walks a <prop> element's children, producing
// parent:child[:...] keys. A leaf (no element children) maps to its
// trimmed text (empty string for empty leaves). The CalDAV
// supported-calendar-component-set's <comp name="X"/> grandchildren
// collapse to "supported-calendar-component-set:comp:X" with an empty
// value rather than recursing on their (absent) text.
func flattenProps(n xmlNode, prefix string, out map[string]string) {
	for _, child := range n.Nodes {
		key := child.XMLName.Local
		if prefix != "" {
			key = prefix + ":" + key
		}

		if child.XMLName.Local == "comp" {
			if name, ok := child.attr("name"); ok {
				out[key+":"+name] = ""
				continue
			}
		}

		if len(child.Nodes) == 0 {
			out[key] = strings.TrimSpace(child.Content)
			continue
		}
		flattenProps(child, key, out)
	}
}

func parseStatusLine(s string) (int, bool) {
	parts := strings.Fields(s)
	for _, p := range parts {
		if n, err := strconv.Atoi(p); err == nil && n >= 100 && n < 600 {
			return n, true
		}
	}
	return 0, false
}

// doubleDecodeHref percent-decodes a href twice, to cope with iCloud
// double-encoding hrefs it returns.
func doubleDecodeHref(href string) string {
	if d, err := url.PathUnescape(href); err == nil {
		href = d
	}
	if d, err := url.PathUnescape(href); err == nil {
		href = d
	}
	return href
}
