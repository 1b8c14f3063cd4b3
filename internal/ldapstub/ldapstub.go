// Package ldapstub projects the user directory into an in-memory LDAP subtree.
// Downstream identity tooling in most shops speaks LDAP, not CSV; the stub
// gives integrators a realistic inetOrgPerson view of the store to develop
// against without standing up a real directory server. Entries are derived
// from the current store contents on demand and are never written back.
package ldapstub

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/ajayirepos/EchelonID/internal/directory"
)

// BaseDN roots every generated entry.
const BaseDN = "dc=echelon,dc=com"

// PeopleDN is the container all user entries live under.
const PeopleDN = "ou=People," + BaseDN

// MailDomain is the domain used for derived mail attributes.
const MailDomain = "echelon.com"

// Tree is a read-only LDAP view over a directory snapshot.
type Tree struct {
	entries []*ldap.Entry
	byDN    map[string]*ldap.Entry
}

// FromDirectory builds the LDAP view of a directory. Entry order follows
// directory order; terminated users are included with employeeType reflecting
// their status, because a downstream system syncing disables needs to see them.
func FromDirectory(dir *directory.Directory) *Tree {
	t := &Tree{byDN: make(map[string]*ldap.Entry)}
	for _, rec := range dir.Records() {
		entry := userEntry(rec)
		t.entries = append(t.entries, entry)
		t.byDN[entry.DN] = entry
	}
	return t
}

// userEntry renders one user as an inetOrgPerson.
func userEntry(rec *directory.UserRecord) *ldap.Entry {
	return ldap.NewEntry(fmt.Sprintf("uid=%s,%s", rec.UserID, PeopleDN), map[string][]string{
		"objectClass":      {"top", "person", "organizationalPerson", "inetOrgPerson"},
		"uid":              {rec.UserID},
		"cn":               {rec.FullName},
		"sn":               {surname(rec.FullName)},
		"title":            {rec.Role},
		"departmentNumber": {rec.Department},
		"mail":             {Mail(rec.FullName)},
		"employeeType":     {string(rec.Status)},
	})
}

// Mail derives a mailbox address from a display name: lowercased, spaces
// collapsed to dots.
func Mail(fullName string) string {
	local := strings.ToLower(strings.TrimSpace(fullName))
	local = strings.Join(strings.Fields(local), ".")
	return local + "@" + MailDomain
}

func surname(fullName string) string {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Len returns the number of user entries.
func (t *Tree) Len() int {
	return len(t.entries)
}

// Entries returns every user entry in directory order.
func (t *Tree) Entries() []*ldap.Entry {
	return t.entries
}

// Lookup returns the entry with the given DN, or nil.
func (t *Tree) Lookup(dn string) *ldap.Entry {
	return t.byDN[dn]
}

// Search returns the entries whose named attribute equals value, in directory
// order. Attribute matching is case-insensitive on the attribute name, exact
// on the value, matching how a simple equality filter behaves against a real
// server.
func (t *Tree) Search(attribute, value string) []*ldap.Entry {
	matches := []*ldap.Entry{}
	for _, entry := range t.entries {
		for _, attr := range entry.Attributes {
			if !strings.EqualFold(attr.Name, attribute) {
				continue
			}
			for _, v := range attr.Values {
				if v == value {
					matches = append(matches, entry)
				}
			}
		}
	}
	return matches
}

// Dump writes the whole subtree as LDIF, one entry per stanza in directory
// order, attributes sorted within each entry for stable output.
func (t *Tree) Dump(w io.Writer) error {
	for i, entry := range t.entries {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "dn: %s\n", entry.DN); err != nil {
			return err
		}

		attrs := make([]*ldap.EntryAttribute, len(entry.Attributes))
		copy(attrs, entry.Attributes)
		sort.Slice(attrs, func(a, b int) bool { return attrs[a].Name < attrs[b].Name })
		for _, attr := range attrs {
			for _, v := range attr.Values {
				if _, err := fmt.Fprintf(w, "%s: %s\n", attr.Name, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
