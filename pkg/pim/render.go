package pim

import (
	"bytes"
	"fmt"
	"strings"

	goical "github.com/emersion/go-ical"
	govcard "github.com/emersion/go-vcard"
)

// syntheticContactFields are derived from N at parse time (expandName)
// and never existed as their own vCard property; RenderContact must
// not emit them back as top-level fields.
var syntheticContactFields = map[string]bool{
	"n_family": true,
	"n_given":  true,
	"n_middle": true,
	"n_prefix": true,
	"n_suffix": true,
}

// RenderContact serializes item into vCard 3.0 bytes suitable for
// uploading to a CardDAV server.
//
// When item still carries the wire bytes it was parsed from (Raw, set
// by ParseContact), those bytes are returned verbatim: they already
// have the correct UID, original letter case and PHOTO payload, none
// of which survive the normalized Fields representation. Fields are
// normalized for identity comparison (lower-cased, PHOTO replaced by a
// checksum, N expanded into synthetic n_* entries) so an Item without
// Raw — one round-tripped through a plain local store, or built fresh
// by the sync engine — can only be rendered on a best-effort basis: a
// fresh UID is stamped from item.ID, since ParseContact discards the
// wire UID as non-identity-bearing.
func RenderContact(item *Item) ([]byte, error) {
	if item.raw != "" {
		return []byte(item.raw), nil
	}

	card := govcard.Card{}
	card["VERSION"] = []*govcard.Field{{Value: "3.0"}}

	for name, f := range item.Fields {
		if syntheticContactFields[name] {
			continue
		}
		upper := strings.ToUpper(name)
		for _, v := range f.Values {
			field := &govcard.Field{Value: v.Value}
			if len(v.Params) > 0 {
				field.Params = govcard.Params{}
				for pname, pvals := range v.Params {
					field.Params[strings.ToUpper(pname)] = append([]string(nil), pvals...)
				}
			}
			card[upper] = append(card[upper], field)
		}
	}

	if item.ID() != "" {
		card["UID"] = []*govcard.Field{{Value: item.ID()}}
	}

	var buf bytes.Buffer
	if err := govcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, fmt.Errorf("pim: encoding vCard: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderCalendarItem serializes item — the root vcalendar Item
// returned by ParseCalendarItem, or one built fresh by the sync
// engine — into iCalendar 2.0 bytes suitable for uploading to a
// CalDAV server.
//
// As with RenderContact, Raw is reused verbatim when present; it is
// always preferred since rebuilding from Fields only has the
// normalized (lower-cased) values applied during parsing.
func RenderCalendarItem(item *Item) ([]byte, error) {
	if item.raw != "" {
		return []byte(item.raw), nil
	}

	root := buildComponent(item)
	root.Name = "VCALENDAR"
	hasVersion := false
	for _, p := range root.Props["VERSION"] {
		if p.Value != "" {
			hasVersion = true
		}
	}
	if !hasVersion {
		root.Props["VERSION"] = []goical.Prop{{Name: "VERSION", Value: "2.0"}}
	}
	if _, ok := root.Props["PRODID"]; !ok {
		root.Props["PRODID"] = []goical.Prop{{Name: "PRODID", Value: "-//pimsync//EN"}}
	}

	cal := &goical.Calendar{Component: root}

	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("pim: encoding iCalendar: %w", err)
	}
	return buf.Bytes(), nil
}

func buildComponent(item *Item) *goical.Component {
	c := &goical.Component{
		Name:  strings.ToUpper(item.ComponentName),
		Props: goical.Props{},
	}
	for name, f := range item.Fields {
		upper := strings.ToUpper(name)
		for _, v := range f.Values {
			prop := goical.Prop{Name: upper, Value: v.Value}
			if len(v.Params) > 0 {
				prop.Params = goical.Params{}
				for pname, pvals := range v.Params {
					prop.Params[strings.ToUpper(pname)] = append([]string(nil), pvals...)
				}
			}
			c.Props[upper] = append(c.Props[upper], prop)
		}
	}
	for _, sub := range item.Subcomponents {
		c.Children = append(c.Children, buildComponent(sub))
	}
	return c
}
