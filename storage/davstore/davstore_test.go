package davstore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/pimsync/internal/storage"
	"github.com/sonroyaalmerol/pimsync/pkg/caldav"
	"github.com/sonroyaalmerol/pimsync/pkg/carddav"
	"github.com/sonroyaalmerol/pimsync/pkg/pim"
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

func TestContactStoreGetRevisionsMapsURIsAndETags(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response><href>/ab/1.vcf</href><propstat><prop><getetag>"e1"</getetag><resourcetype/></prop><status>HTTP/1.1 200 OK</status></propstat></response>
</multistatus>`)
	session := &scriptedSession{responses: map[string]*webdav.Response{
		webdav.MethodPropfind: {Code: 207, Body: body},
	}}
	client := carddav.New(newEngine(session), carddav.Config{AddressbookURL: "https://example.com/ab/"})
	s := New(client, zerolog.Nop())

	if outcome := s.Init(context.Background()); outcome != storage.Ok {
		t.Fatalf("Init = %v", outcome)
	}
	revs, outcome := s.GetRevisions(context.Background())
	if outcome != storage.Ok {
		t.Fatalf("GetRevisions = %v", outcome)
	}
	if len(revs) != 1 || revs[0].ID != "/ab/1.vcf" || revs[0].Revision != `"e1"` {
		t.Fatalf("revs = %+v", revs)
	}
}

func TestContactStoreAddItemRendersAndCreates(t *testing.T) {
	session := &scriptedSession{responses: map[string]*webdav.Response{
		"POST": {Code: 201, Headers: [][2]string{{"Location", "/ab/new.vcf"}, {"ETag", `"e9"`}}},
	}}
	client := carddav.New(newEngine(session), carddav.Config{AddressbookURL: "https://example.com/ab/"})
	s := New(client, zerolog.Nop())

	item, err := pim.ParseContact([]byte("BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Jane\r\nEND:VCARD\r\n"))
	if err != nil {
		t.Fatalf("ParseContact: %v", err)
	}
	id, rev, outcome := s.AddItem(context.Background(), item)
	if outcome != storage.Ok {
		t.Fatalf("AddItem = %v", outcome)
	}
	if id != "/ab/new.vcf" || rev != `"e9"` {
		t.Fatalf("id=%q rev=%q", id, rev)
	}
}

func TestContactStoreGetChangedRevisionsRequiresNonEmptyToken(t *testing.T) {
	client := carddav.New(newEngine(&scriptedSession{}), carddav.Config{AddressbookURL: "https://example.com/ab/"})
	s := New(client, zerolog.Nop())
	_, _, outcome := s.GetChangedRevisions(context.Background(), "")
	if outcome != storage.NotSupported {
		t.Fatalf("outcome = %v, want NotSupported", outcome)
	}
}

func TestContactStoreRemoveItemTreatsNotFoundAsOk(t *testing.T) {
	session := &scriptedSession{responses: map[string]*webdav.Response{
		"DELETE": {Code: 404},
	}}
	client := carddav.New(newEngine(session), carddav.Config{AddressbookURL: "https://example.com/ab/"})
	s := New(client, zerolog.Nop())
	if outcome := s.RemoveItem(context.Background(), "/ab/gone.vcf"); outcome != storage.Ok {
		t.Fatalf("RemoveItem = %v, want Ok", outcome)
	}
}

func TestCalendarStoreAddItemUsesExistingIDAsUID(t *testing.T) {
	session := &scriptedSession{responses: map[string]*webdav.Response{
		"POST": {Code: 201, Headers: [][2]string{{"Location", "/cal/evt-1.ics"}, {"ETag", `"e1"`}}},
	}}
	client := caldav.New(newEngine(session), caldav.Config{CalendarURL: "https://example.com/cal/"})
	s := NewCalendarStore(client, pim.TypeEvent, zerolog.Nop())

	root, err := pim.ParseCalendarItem([]byte(
		"BEGIN:VCALENDAR\r\nVERSION:2.0\r\nBEGIN:VEVENT\r\nUID:evt-1\r\nSUMMARY:Standup\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"),
		pim.TypeEvent)
	if err != nil {
		t.Fatalf("ParseCalendarItem: %v", err)
	}
	root.SetID("evt-1")

	uri, etag, outcome := s.AddItem(context.Background(), root)
	if outcome != storage.Ok {
		t.Fatalf("AddItem = %v", outcome)
	}
	if uri != "/cal/evt-1.ics" || etag != `"e1"` {
		t.Fatalf("uri=%q etag=%q", uri, etag)
	}
}

func TestCalendarStoreGetLatestSyncTokenNotSupportedBeforeAnySync(t *testing.T) {
	client := caldav.New(newEngine(&scriptedSession{}), caldav.Config{CalendarURL: "https://example.com/cal/"})
	s := NewCalendarStore(client, pim.TypeEvent, zerolog.Nop())
	_, outcome := s.GetLatestSyncToken(context.Background())
	if outcome != storage.NotSupported {
		t.Fatalf("outcome = %v, want NotSupported", outcome)
	}
}
