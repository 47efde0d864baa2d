package caldav

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sonroyaalmerol/pimsync/pkg/webdav"
)

type scriptedSession struct {
	responses map[string]*webdav.Response
}

func (s *scriptedSession) Do(req *webdav.Request) (*webdav.Response, error) {
	if resp, ok := s.responses[req.Method]; ok {
		return resp, nil
	}
	return &webdav.Response{Code: 404}, nil
}

func newEngine(session *scriptedSession) *webdav.Engine {
	return webdav.NewEngine(session, zerolog.Nop())
}

func TestListAllFiltersNonICS(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response><href>/cal/</href><propstat><prop><getetag/><resourcetype><collection/></resourcetype></prop><status>HTTP/1.1 200 OK</status></propstat></response>
  <response><href>/cal/1.ics</href><propstat><prop><getetag>"e1"</getetag><resourcetype/></prop><status>HTTP/1.1 200 OK</status></propstat></response>
  <response><href>/cal/notes.txt</href><propstat><prop><getetag>"e2"</getetag><resourcetype/></prop><status>HTTP/1.1 200 OK</status></propstat></response>
</multistatus>`)
	session := &scriptedSession{responses: map[string]*webdav.Response{
		webdav.MethodPropfind: {Code: 207, Body: body},
	}}
	c := New(newEngine(session), Config{CalendarURL: "https://example.com/cal/"})
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	items, err := c.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(items) != 1 || items[0].URI != "/cal/1.ics" {
		t.Fatalf("items = %+v", items)
	}
}

func TestCreateRequiresUID(t *testing.T) {
	session := &scriptedSession{}
	c := New(newEngine(session), Config{CalendarURL: "https://example.com/cal/"})
	_, _, err := c.Create(context.Background(), "", []byte("BEGIN:VCALENDAR\nEND:VCALENDAR\n"))
	if err != webdav.ErrMissingUID {
		t.Fatalf("err = %v, want ErrMissingUID", err)
	}
}

func TestCreateBuildsUIDResourceName(t *testing.T) {
	session := &scriptedSession{responses: map[string]*webdav.Response{
		"PUT": {Code: 201, Headers: [][2]string{{"ETag", `"new1"`}}},
	}}
	c := New(newEngine(session), Config{CalendarURL: "https://example.com/cal/"})
	uri, etag, err := c.Create(context.Background(), "abc-123", []byte("BEGIN:VCALENDAR\nEND:VCALENDAR\n"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if uri != "https://example.com/cal/abc-123.ics" {
		t.Fatalf("uri = %q", uri)
	}
	if etag != `"new1"` {
		t.Fatalf("etag = %q", etag)
	}
}

func TestSupportedComponentsParsed(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <response><href>/cal/</href><propstat><prop><displayname>Work</displayname><C:supported-calendar-component-set><C:comp name="VEVENT"/><C:comp name="VTODO"/></C:supported-calendar-component-set></prop><status>HTTP/1.1 200 OK</status></propstat></response>
</multistatus>`)
	session := &scriptedSession{responses: map[string]*webdav.Response{
		webdav.MethodPropfind: {Code: 207, Body: body},
	}}
	c := New(newEngine(session), Config{CalendarURL: "https://example.com/cal/"})
	if err := c.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(c.Components) != 2 || c.Components[0] != "VEVENT" || c.Components[1] != "VTODO" {
		t.Fatalf("Components = %+v", c.Components)
	}
	if c.DisplayName != "Work" {
		t.Fatalf("DisplayName = %q", c.DisplayName)
	}
}
