package pim

import "sort"

// KV is one (field-name, canonical-value) entry in an Index's
// key_fields or conflict_fields sequence.
type KV struct {
	FieldName string
	Value     string
}

// Index is the derived identity record used by the sync engines to
// decide whether two items refer to the same entity (Match) and,
// if so, whether they are fully equivalent (Compare).
type Index struct {
	Type           Type
	KeyFields      []KV
	ConflictFields []KV

	cached string
}

// BuildIndex walks the check registry for item.Type and constructs an
// Index: for each enabled-or-not check whose field exists on the item,
// one (field, canonical-value) entry is appended per stored field
// value, in registry order then sorted-value order (fields are
// pre-sorted by Fields.finalize at parse time).
//
// A contact's fields live directly on item.Fields. A calendar item's
// fields do not: ParseCalendarItem returns the root "vcalendar" node,
// which never carries its own fields (uid, summary, dtstart, ... all
// live on the vevent/vtodo child). indexableFields resolves that
// child for Event/Task items so the index is built from the fields
// that actually exist.
func BuildIndex(reg *Registry, item *Item) *Index {
	idx := &Index{Type: item.Type}
	fields := indexableFields(item)
	for _, c := range reg.GetAll(item.Type) {
		f, ok := fields[c.FieldName]
		if !ok {
			continue
		}
		for _, v := range f.Values {
			kv := KV{FieldName: c.FieldName, Value: v.String()}
			if c.Role == Key {
				idx.KeyFields = append(idx.KeyFields, kv)
			} else {
				idx.ConflictFields = append(idx.ConflictFields, kv)
			}
		}
	}
	return idx
}

// indexableFields returns the Fields a check registry should read for
// item: item.Fields itself for a contact, or the vevent/vtodo
// subcomponent's Fields for an event/task.
func indexableFields(item *Item) Fields {
	switch item.Type {
	case TypeEvent:
		if c, ok := item.Component("vevent"); ok {
			return c.Fields
		}
	case TypeTask:
		if c, ok := item.Component("vtodo"); ok {
			return c.Fields
		}
	}
	return item.Fields
}

// String returns (and caches) a deterministic stringified form of the
// key_fields, used as a map key by the sync engines' reference maps.
func (idx *Index) String() string {
	if idx.cached == "" {
		idx.cached = stringifyKVs(idx.KeyFields)
	}
	return idx.cached
}

func stringifyKVs(kvs []KV) string {
	cp := append([]KV(nil), kvs...)
	sort.Slice(cp, func(i, j int) bool {
		if cp[i].FieldName != cp[j].FieldName {
			return cp[i].FieldName < cp[j].FieldName
		}
		return cp[i].Value < cp[j].Value
	})
	s := ""
	for _, kv := range cp {
		s += kv.FieldName + "=" + kv.Value + " : "
	}
	return s
}

// Match reports whether two indexes refer to the same entity: their
// key_fields are equal as a multiset.
func (a *Index) Match(b *Index) bool {
	if a.Type != b.Type {
		return false
	}
	return a.String() == b.String()
}

// Compare reports whether two indexes are fully equivalent: they
// Match, and their conflict_fields are equal as a multiset after
// filtering out entries whose field name is a currently-disabled
// check. reg may be nil, in which case no conflict field is filtered.
func (a *Index) Compare(b *Index, reg *Registry) bool {
	if !a.Match(b) {
		return false
	}

	var disabled map[string]bool
	if reg != nil {
		disabled = reg.disabledFieldNames(a.Type)
	}

	fa := filterDisabled(a.ConflictFields, disabled)
	fb := filterDisabled(b.ConflictFields, disabled)
	return stringifyKVs(fa) == stringifyKVs(fb)
}

func filterDisabled(kvs []KV, disabled map[string]bool) []KV {
	if len(disabled) == 0 {
		return kvs
	}
	out := make([]KV, 0, len(kvs))
	for _, kv := range kvs {
		if disabled[kv.FieldName] {
			continue
		}
		out = append(out, kv)
	}
	return out
}
