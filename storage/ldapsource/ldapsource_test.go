package ldapsource

import (
	"strings"
	"testing"

	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

func TestConfigFromParamsDefaults(t *testing.T) {
	cfg, err := ConfigFromParams(map[string]string{
		"url":     "ldap://directory.example.com",
		"base_dn": "ou=people,dc=example,dc=com",
	})
	if err != nil {
		t.Fatalf("ConfigFromParams: %v", err)
	}
	if cfg.MapUID != "uid" || cfg.MapEmail != "mail" {
		t.Fatalf("unexpected attribute defaults: %+v", cfg)
	}
	if cfg.Filter != "(objectClass=person)" {
		t.Fatalf("default filter = %q", cfg.Filter)
	}
}

func TestConfigFromParamsRequiresURLAndBaseDN(t *testing.T) {
	if _, err := ConfigFromParams(map[string]string{"base_dn": "dc=example,dc=com"}); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := ConfigFromParams(map[string]string{"url": "ldap://x"}); err == nil {
		t.Fatal("expected error for missing base_dn")
	}
}

func TestConfigFromParamsRejectsBadBool(t *testing.T) {
	_, err := ConfigFromParams(map[string]string{
		"url": "ldap://x", "base_dn": "dc=x", "require_tls": "yesplease",
	})
	if err == nil {
		t.Fatal("expected error for unparseable require_tls")
	}
}

func TestEntryContactToVCardParsesAsContact(t *testing.T) {
	c := entryContact{
		uid:          "jdoe",
		displayName:  "Jane Doe",
		firstName:    "Jane",
		lastName:     "Doe",
		email:        []string{"jane@example.com"},
		phone:        []string{"+1 555 0100"},
		organization: "Example Corp",
		title:        "Engineer",
	}
	item, err := pim.ParseContact(c.toVCard())
	if err != nil {
		t.Fatalf("ParseContact: %v", err)
	}
	fn, ok := item.Field("fn")
	if !ok || fn.Values[0].Value != "jane doe" {
		t.Fatalf("fn = %+v", fn)
	}
	org, ok := item.Field("org")
	if !ok || org.Values[0].Value != "example corp" {
		t.Fatalf("org = %+v", org)
	}
}

func TestEntryContactToVCardFallsBackToUIDForFN(t *testing.T) {
	c := entryContact{uid: "svc-account"}
	vcard := string(c.toVCard())
	if !strings.Contains(vcard, "FN:svc-account") {
		t.Fatalf("expected FN fallback to uid, got %q", vcard)
	}
}

func TestRevisionOfIsStableAndContentSensitive(t *testing.T) {
	a := entryContact{uid: "jdoe", displayName: "Jane Doe"}
	b := entryContact{uid: "jdoe", displayName: "Jane D. Doe"}

	r1 := revisionOf(a.toVCard())
	r2 := revisionOf(a.toVCard())
	if r1 != r2 {
		t.Fatal("revisionOf should be deterministic for identical input")
	}
	if r1 == revisionOf(b.toVCard()) {
		t.Fatal("revisionOf should change when the rendered vCard changes")
	}
}

func TestContactFetcherFetchBatchSkipsUnknownHrefs(t *testing.T) {
	contacts := []entryContact{{uid: "jdoe", displayName: "Jane Doe"}}
	f := &contactFetcher{contacts: contacts}
	hrefs, err := f.Hrefs(nil)
	if err != nil || len(hrefs) != 1 || hrefs[0] != "jdoe" {
		t.Fatalf("Hrefs = %v, %v", hrefs, err)
	}

	items, err := f.FetchBatch(nil, []string{"jdoe", "ghost"})
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(items) != 1 || items[0].ID() != "jdoe" {
		t.Fatalf("expected one item for jdoe, got %+v", items)
	}
}
