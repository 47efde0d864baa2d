package main

import (
	"testing"

	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

func TestBuildDefaultRegistryHasOneKeyPerType(t *testing.T) {
	reg := buildDefaultRegistry()

	for _, tc := range []struct {
		itemType pim.Type
		keyField string
	}{
		{pim.TypeContact, "email"},
		{pim.TypeEvent, "uid"},
		{pim.TypeTask, "uid"},
	} {
		checks := reg.GetAll(tc.itemType)
		if len(checks) == 0 {
			t.Fatalf("type %v: expected at least one registered check", tc.itemType)
		}

		var found bool
		for _, c := range checks {
			if c.FieldName == tc.keyField {
				found = true
				if c.Role != pim.Key {
					t.Errorf("type %v: field %q: got role %v, want Key", tc.itemType, tc.keyField, c.Role)
				}
			}
		}
		if !found {
			t.Errorf("type %v: expected a check for field %q", tc.itemType, tc.keyField)
		}
	}
}

func TestBuildDefaultRegistryConflictFieldsAreNotKeys(t *testing.T) {
	reg := buildDefaultRegistry()

	for _, c := range reg.GetAll(pim.TypeContact) {
		if c.FieldName == "fn" && c.Role != pim.Conflict {
			t.Errorf("fn: got role %v, want Conflict", c.Role)
		}
	}
	for _, c := range reg.GetAll(pim.TypeEvent) {
		if c.FieldName == "summary" && c.Role != pim.Conflict {
			t.Errorf("summary: got role %v, want Conflict", c.Role)
		}
	}
}
