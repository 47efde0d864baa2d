package pim

import (
	"bytes"
	"fmt"
	"strings"

	goical "github.com/emersion/go-ical"
	govcard "github.com/emersion/go-vcard"
)

const conflictedSuffix = "(conflicted)"

// WithConflictedUID returns a copy of item for the two-way engine's
// conflict-duplication path: a Modified/Modified pairing forks into
// two items, one uploaded to each side, and the fork must not be
// mistaken for the original by the next sync pass' identity matching.
//
// Render{Contact,CalendarItem} always prefer an item's raw wire bytes
// over its Fields when both exist, so suffixing Fields["uid"] alone
// (or a calendar item's root Fields, which ParseCalendarItem never
// populates in the first place) would never reach the body that
// actually gets uploaded. This decodes the existing body, rewrites
// its UID property in place, and re-encodes it as the clone's raw —
// the same decode/encode round trip Render{Contact,CalendarItem}
// already does for the no-raw path, just with one property changed.
// The clone's id is cleared so AddItem creates a brand new resource
// rather than colliding with (or overwriting) the original.
func WithConflictedUID(item *Item) (*Item, error) {
	clone := *item
	clone.SetID("")
	clone.SetRevision("")

	var raw string
	var err error
	switch item.Type {
	case TypeContact:
		raw, err = conflictedContactRaw(item)
	default:
		raw, err = conflictedCalendarRaw(item)
	}
	if err != nil {
		return nil, err
	}
	clone.raw = raw
	return &clone, nil
}

func conflictedContactRaw(item *Item) (string, error) {
	source := item.raw
	if source == "" {
		rendered, err := RenderContact(item)
		if err != nil {
			return "", err
		}
		source = string(rendered)
	}

	card, err := govcard.NewDecoder(strings.NewReader(source)).Decode()
	if err != nil {
		return "", fmt.Errorf("pim: decoding vCard for conflict copy: %w", err)
	}

	existing := item.ID()
	if fields := card["UID"]; len(fields) > 0 && fields[0].Value != "" {
		existing = fields[0].Value
	}
	card["UID"] = []*govcard.Field{{Value: suffixConflicted(existing)}}

	var buf bytes.Buffer
	if err := govcard.NewEncoder(&buf).Encode(card); err != nil {
		return "", fmt.Errorf("pim: encoding conflict-copy vCard: %w", err)
	}
	return buf.String(), nil
}

func conflictedCalendarRaw(item *Item) (string, error) {
	source := item.raw
	if source == "" {
		rendered, err := RenderCalendarItem(item)
		if err != nil {
			return "", err
		}
		source = string(rendered)
	}

	cal, err := goical.NewDecoder(strings.NewReader(source)).Decode()
	if err != nil {
		return "", fmt.Errorf("pim: decoding iCalendar for conflict copy: %w", err)
	}

	target := rootComponentName(item.Type)
	found := false
	for _, child := range cal.Children {
		if !strings.EqualFold(child.Name, target) {
			continue
		}
		existing := item.ID()
		if props := child.Props["UID"]; len(props) > 0 && props[0].Value != "" {
			existing = props[0].Value
		}
		child.Props["UID"] = []goical.Prop{{Name: "UID", Value: suffixConflicted(existing)}}
		found = true
	}
	if !found {
		return "", fmt.Errorf("pim: conflict copy: no %s component in calendar body", target)
	}

	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("pim: encoding conflict-copy iCalendar: %w", err)
	}
	return buf.String(), nil
}

func rootComponentName(t Type) string {
	if t == TypeTask {
		return "VTODO"
	}
	return "VEVENT"
}

func suffixConflicted(uid string) string {
	if strings.HasSuffix(uid, conflictedSuffix) {
		return uid
	}
	return uid + conflictedSuffix
}
