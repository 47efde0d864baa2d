package ldapsource

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// entryContact is the flat shape one LDAP entry maps to before being
// rendered as a vCard and handed to pim.ParseContact.
type entryContact struct {
	uid          string
	displayName  string
	firstName    string
	lastName     string
	email        []string
	phone        []string
	organization string
	title        string
}

func (c *Config) attrsForFilter() []string {
	set := map[string]struct{}{"dn": {}}
	add := func(s string) {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	add(c.MapUID)
	add(c.MapDisplayName)
	add(c.MapFirstName)
	add(c.MapLastName)
	add(c.MapEmail)
	add(c.MapPhone)
	add(c.MapOrganization)
	add(c.MapTitle)

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func (c *Config) mapEntry(e *ldap.Entry) entryContact {
	get := func(attr string) string {
		if attr == "" {
			return ""
		}
		return e.GetAttributeValue(attr)
	}
	gets := func(attr string) []string {
		if attr == "" {
			return nil
		}
		vals := e.GetAttributeValues(attr)
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				out = append(out, v)
			}
		}
		return out
	}

	return entryContact{
		uid:          get(c.MapUID),
		displayName:  get(c.MapDisplayName),
		firstName:    get(c.MapFirstName),
		lastName:     get(c.MapLastName),
		email:        gets(c.MapEmail),
		phone:        gets(c.MapPhone),
		organization: get(c.MapOrganization),
		title:        get(c.MapTitle),
	}
}

// toVCard renders a contact as a minimal vCard 3.0 document, the same
// field set the teacher's directory-to-addressbook bridge emitted.
func (c entryContact) toVCard() []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\r\n")
	b.WriteString("VERSION:3.0\r\n")

	if c.displayName != "" {
		fmt.Fprintf(&b, "FN:%s\r\n", c.displayName)
	} else if c.uid != "" {
		fmt.Fprintf(&b, "FN:%s\r\n", c.uid)
	}
	if c.firstName != "" || c.lastName != "" {
		fmt.Fprintf(&b, "N:%s;%s;;;\r\n", c.lastName, c.firstName)
	}
	for _, email := range c.email {
		fmt.Fprintf(&b, "EMAIL:%s\r\n", email)
	}
	for _, phone := range c.phone {
		fmt.Fprintf(&b, "TEL:%s\r\n", phone)
	}
	if c.organization != "" {
		fmt.Fprintf(&b, "ORG:%s\r\n", c.organization)
	}
	if c.title != "" {
		fmt.Fprintf(&b, "TITLE:%s\r\n", c.title)
	}
	if c.uid != "" {
		fmt.Fprintf(&b, "UID:%s\r\n", c.uid)
	}
	b.WriteString("END:VCARD\r\n")
	return []byte(b.String())
}
