package pim

import "testing"

func TestRenderContactReusesRawWhenPresent(t *testing.T) {
	item, err := ParseContact([]byte(sampleVCard))
	if err != nil {
		t.Fatalf("ParseContact: %v", err)
	}
	out, err := RenderContact(item)
	if err != nil {
		t.Fatalf("RenderContact: %v", err)
	}
	if string(out) != sampleVCard {
		t.Fatalf("RenderContact did not reuse raw bytes:\n%s", out)
	}
}

func TestRenderContactWithoutRawBuildsFromFields(t *testing.T) {
	item := newItem(TypeContact)
	item.SetID("fresh-id-1")
	item.Fields.add("fn", FieldValue{Value: "jane doe"})
	item.Fields.add("email", FieldValue{Value: "jane@example.com", Params: map[string][]string{"type": {"home"}}})
	item.Fields.add("n_family", FieldValue{Value: "doe"})
	item.Fields.finalize()

	out, err := RenderContact(item)
	if err != nil {
		t.Fatalf("RenderContact: %v", err)
	}

	parsed, err := ParseContact(out)
	if err != nil {
		t.Fatalf("re-parsing rendered vCard: %v\n%s", err, out)
	}
	if f, ok := parsed.Field("fn"); !ok || f.Values[0].Value != "jane doe" {
		t.Fatalf("fn = %+v", f)
	}
	if _, ok := parsed.Field("n_family"); ok {
		t.Fatalf("synthetic n_family field should not round-trip as its own property")
	}
}

func TestRenderCalendarItemReusesRawWhenPresent(t *testing.T) {
	root, err := ParseCalendarItem([]byte(sampleICS), TypeEvent)
	if err != nil {
		t.Fatalf("ParseCalendarItem: %v", err)
	}
	out, err := RenderCalendarItem(root)
	if err != nil {
		t.Fatalf("RenderCalendarItem: %v", err)
	}
	if string(out) != sampleICS {
		t.Fatalf("RenderCalendarItem did not reuse raw bytes:\n%s", out)
	}
}

func TestRenderCalendarItemWithoutRawBuildsFromTree(t *testing.T) {
	root := &Item{ComponentName: "vcalendar", Fields: Fields{}}
	event := &Item{ComponentName: "vevent", Fields: Fields{}}
	event.Fields.add("uid", FieldValue{Value: "evt-1"})
	event.Fields.add("summary", FieldValue{Value: "standup"})
	event.Fields.finalize()
	root.Subcomponents = append(root.Subcomponents, event)

	out, err := RenderCalendarItem(root)
	if err != nil {
		t.Fatalf("RenderCalendarItem: %v", err)
	}

	reparsed, err := ParseCalendarItem(out, TypeEvent)
	if err != nil {
		t.Fatalf("re-parsing rendered iCalendar: %v\n%s", err, out)
	}
	vevent, ok := reparsed.Component("vevent")
	if !ok {
		t.Fatalf("expected a vevent subcomponent in %+v", reparsed.Subcomponents)
	}
	if f, ok := vevent.Field("summary"); !ok || f.Values[0].Value != "standup" {
		t.Fatalf("summary = %+v", f)
	}
}
