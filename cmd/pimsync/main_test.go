package main

import (
	"testing"

	"github.com/sonroyaalmerol/pimsync/internal/config"
)

func TestSelectPairsFiltersByName(t *testing.T) {
	all := []config.SyncPair{{Name: "work"}, {Name: "home"}, {Name: "ldap"}}

	got, err := selectPairs(all, []string{"home"})
	if err != nil {
		t.Fatalf("selectPairs: %v", err)
	}
	if len(got) != 1 || got[0].Name != "home" {
		t.Errorf("got %+v, want [home]", got)
	}
}

func TestSelectPairsPreservesConfigOrder(t *testing.T) {
	all := []config.SyncPair{{Name: "work"}, {Name: "home"}, {Name: "ldap"}}

	got, err := selectPairs(all, []string{"ldap", "work"})
	if err != nil {
		t.Fatalf("selectPairs: %v", err)
	}
	if len(got) != 2 || got[0].Name != "work" || got[1].Name != "ldap" {
		t.Errorf("got %+v, want [work ldap]", got)
	}
}

func TestSelectPairsUnknownNameErrors(t *testing.T) {
	all := []config.SyncPair{{Name: "work"}}

	if _, err := selectPairs(all, []string{"missing"}); err == nil {
		t.Fatal("expected an error for an unknown pair name")
	}
}
