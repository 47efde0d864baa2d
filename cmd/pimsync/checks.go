package main

import "github.com/sonroyaalmerol/pimsync/pkg/pim"

// buildDefaultRegistry populates a pim.Registry with a pragmatic
// default check configuration, since neither spec.md nor SPEC_FULL.md
// prescribes one concrete set — they leave registry population to the
// integrator (spec.md §9's Design Note only specifies the registry's
// shape, not its contents). Contacts key on the fields most likely to
// be wire-stable across directories (name, email); events and tasks
// key on UID, which unlike contacts is never dropped by
// ParseCalendarItem. Everything else registered is a Conflict field:
// it participates in full equality but never in identity matching.
func buildDefaultRegistry() *pim.Registry {
	reg := pim.NewRegistry()

	reg.Add(pim.TypeContact, "n_family", pim.Key)
	reg.Add(pim.TypeContact, "n_given", pim.Key)
	reg.Add(pim.TypeContact, "email", pim.Key)
	reg.Add(pim.TypeContact, "fn", pim.Conflict)
	reg.Add(pim.TypeContact, "tel", pim.Conflict)
	reg.Add(pim.TypeContact, "org", pim.Conflict)
	reg.Add(pim.TypeContact, "title", pim.Conflict)
	reg.Add(pim.TypeContact, "note", pim.Conflict)

	for _, t := range []pim.Type{pim.TypeEvent, pim.TypeTask} {
		reg.Add(t, "uid", pim.Key)
		reg.Add(t, "summary", pim.Conflict)
		reg.Add(t, "dtstart", pim.Conflict)
		reg.Add(t, "dtend", pim.Conflict)
		reg.Add(t, "due", pim.Conflict)
		reg.Add(t, "status", pim.Conflict)
		reg.Add(t, "description", pim.Conflict)
	}

	return reg
}
