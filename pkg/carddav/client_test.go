package carddav

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sonroyaalmerol/pimsync/pkg/webdav"
)

type scriptedSession struct {
	responses map[string]*webdav.Response
	lastReq   *webdav.Request
}

func (s *scriptedSession) Do(req *webdav.Request) (*webdav.Response, error) {
	s.lastReq = req
	if resp, ok := s.responses[req.Method]; ok {
		return resp, nil
	}
	return &webdav.Response{Code: 404}, nil
}

func newEngine(session *scriptedSession) *webdav.Engine {
	return webdav.NewEngine(session, zerolog.Nop())
}

func TestListAllFiltersCollectionItself(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/ab/</href>
    <propstat><prop><getetag/><resourcetype><collection/></resourcetype></prop><status>HTTP/1.1 200 OK</status></propstat>
  </response>
  <response>
    <href>/ab/1.vcf</href>
    <propstat><prop><getetag>"e1"</getetag><resourcetype/></prop><status>HTTP/1.1 200 OK</status></propstat>
  </response>
</multistatus>`)
	session := &scriptedSession{responses: map[string]*webdav.Response{
		webdav.MethodPropfind: {Code: 207, Body: body},
	}}
	c := New(newEngine(session), Config{AddressbookURL: "https://example.com/ab/"})
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	items, err := c.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(items) != 1 || items[0].URI != "/ab/1.vcf" || items[0].ETag != `"e1"` {
		t.Fatalf("items = %+v", items)
	}
}

func TestListChangesSeparatesDeletions(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response><href>/ab/1.vcf</href><propstat><prop><getetag>"e2"</getetag></prop><status>HTTP/1.1 200 OK</status></propstat></response>
  <response><href>/ab/2.vcf</href><status>HTTP/1.1 404 Not Found</status></response>
  <sync-token>tok-2</sync-token>
</multistatus>`)
	session := &scriptedSession{responses: map[string]*webdav.Response{
		webdav.MethodReport: {Code: 207, Body: body},
	}}
	c := New(newEngine(session), Config{AddressbookURL: "https://example.com/ab/"})
	changed, removed, newToken, err := c.ListChanges(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(changed) != 1 || changed[0].URI != "/ab/1.vcf" {
		t.Fatalf("changed = %+v", changed)
	}
	if len(removed) != 1 || removed[0] != "/ab/2.vcf" {
		t.Fatalf("removed = %+v", removed)
	}
	if newToken != "tok-2" {
		t.Fatalf("newToken = %q", newToken)
	}
}

func TestFetchManyReordersToInputOrder(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:" xmlns:C="urn:ietf:params:xml:ns:carddav">
  <response><href>/ab/2.vcf</href><propstat><prop><getetag>"b"</getetag><C:address-data>VCARD2</C:address-data></prop><status>HTTP/1.1 200 OK</status></propstat></response>
  <response><href>/ab/1.vcf</href><propstat><prop><getetag>"a"</getetag><C:address-data>VCARD1</C:address-data></prop><status>HTTP/1.1 200 OK</status></propstat></response>
</multistatus>`)
	session := &scriptedSession{responses: map[string]*webdav.Response{
		webdav.MethodReport: {Code: 207, Body: body},
	}}
	c := New(newEngine(session), Config{AddressbookURL: "https://example.com/ab/"})
	items, err := c.FetchMany(context.Background(), []string{"/ab/1.vcf", "/ab/2.vcf"})
	if err != nil {
		t.Fatalf("FetchMany: %v", err)
	}
	if len(items) != 2 || items[0].URI != "/ab/1.vcf" || items[1].URI != "/ab/2.vcf" {
		t.Fatalf("items = %+v", items)
	}
}

func TestPostProcessVCardQuirks(t *testing.T) {
	in := `item1.TEL;TYPE=pref:\:123 &lt;home&gt;`
	out := postProcessVCard(in)
	want := `TEL;TYPE=pref::123 <home>`
	if out != want {
		t.Fatalf("postProcessVCard = %q, want %q", out, want)
	}
}

func TestCreateUIDConflict(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response><href>/ab/1.vcf</href><error><no-uid-conflict/></error><status>HTTP/1.1 409 Conflict</status></response>
</multistatus>`)
	session := &scriptedSession{responses: map[string]*webdav.Response{
		"POST": {Code: 207, Body: body},
	}}
	c := New(newEngine(session), Config{AddressbookURL: "https://example.com/ab/"})
	_, _, err := c.Create(context.Background(), []byte("BEGIN:VCARD\nEND:VCARD\n"))
	if err != webdav.ErrUIDConflict {
		t.Fatalf("err = %v, want ErrUIDConflict", err)
	}
}

func TestModifyPreconditionFailed(t *testing.T) {
	session := &scriptedSession{responses: map[string]*webdav.Response{
		"PUT": {Code: 412},
	}}
	c := New(newEngine(session), Config{AddressbookURL: "https://example.com/ab/"})
	_, err := c.Modify(context.Background(), "https://example.com/ab/1.vcf", []byte("x"), `"old"`)
	if err != webdav.ErrPreconditionFailed {
		t.Fatalf("err = %v, want ErrPreconditionFailed", err)
	}
}
