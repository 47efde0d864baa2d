package pim

import (
	"fmt"
	"strings"

	goical "github.com/emersion/go-ical"
)

// ParseCalendarItem parses an iCalendar 2.0 body into a TypeEvent or
// TypeTask Item. The returned Item is the root "vcalendar" KeyValueItem;
// its Subcomponents hold the recursive component tree (VEVENT/VTODO/
// VALARM/VTIMEZONE/STANDARD/DAYLIGHT/...), lower-cased by name. rev,
// prodid and x-evolution-* fields are dropped at every level;
// STANDARD/DAYLIGHT subcomponents of a VTIMEZONE keep their place in
// the tree but have their fields discarded.
//
// Line-unfolding and BEGIN/END recursive tokenization is done by
// go-ical's Decoder; this function re-applies the PIM-model-specific
// normalization (lower-casing, field drop-list, component-specific
// field discarding) on top of its parsed Component tree.
func ParseCalendarItem(raw []byte, t Type) (*Item, error) {
	s := string(raw)
	if !strings.Contains(s, "BEGIN:") || !strings.Contains(s, "END:") {
		return nil, fmt.Errorf("pim: %w: iCalendar body missing BEGIN/END markers", ErrMalformed)
	}

	dec := goical.NewDecoder(strings.NewReader(s))
	cal, err := dec.Decode()
	if err != nil {
		return nil, fmt.Errorf("pim: parsing iCalendar: %w", err)
	}

	root := newItem(t)
	root.raw = s
	root.ComponentName = "vcalendar"

	for _, child := range cal.Children {
		root.Subcomponents = append(root.Subcomponents, convertComponent(child, false))
	}
	root.Fields.finalize()
	return root, nil
}

// droppedCalendarFields are dropped at every nesting level.
var droppedCalendarFields = map[string]bool{
	"rev":    true,
	"prodid": true,
}

func convertComponent(c *goical.Component, discardFields bool) *Item {
	name := strings.ToLower(c.Name)
	item := &Item{ComponentName: name, Fields: Fields{}}

	if !discardFields {
		for rawName, props := range c.Props {
			fname := strings.ToLower(rawName)
			if droppedCalendarFields[fname] || isEvolutionExt(fname) {
				continue
			}
			for _, p := range props {
				item.Fields.add(fname, convertCalendarProp(p))
			}
		}
	}
	item.Fields.finalize()

	parentIsTimezone := name == "vtimezone"
	for _, child := range c.Children {
		childName := strings.ToLower(child.Name)
		discardChild := parentIsTimezone && (childName == "standard" || childName == "daylight")
		item.Subcomponents = append(item.Subcomponents, convertComponent(child, discardChild))
	}
	return item
}

func convertCalendarProp(p goical.Prop) FieldValue {
	params := map[string][]string{}
	for pname, pvals := range p.Params {
		lp := strings.ToLower(pname)
		if strings.HasPrefix(lp, "x-") {
			continue
		}
		params[lp] = append([]string(nil), pvals...)
	}
	return FieldValue{Value: strings.ToLower(p.Value), Params: params}
}
