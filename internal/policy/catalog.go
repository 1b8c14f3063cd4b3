// Package policy loads and indexes the access policy catalog. The catalog is a
// YAML document declaring, per (department, role) pair, the entitlements a user
// in that combination is expected to hold. It is read once at run start and is
// read-only for the duration of the run.
//
// A missing catalog file and a present-but-empty rule list both mean "policy
// evaluation skipped" — a different outcome from "every user has zero expected
// entitlements", and the distinction is preserved by the sentinel ErrNotFound
// versus an empty Catalog. A present but structurally invalid document is fatal
// before any stage runs.
package policy

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNotFound indicates the catalog document does not exist. Callers skip the
// policy stage rather than treating this as a failure.
var ErrNotFound = errors.New("policy catalog not found")

// Rule maps a (department, role) pair to the entitlements expected for it.
type Rule struct {
	Department   string   `yaml:"department"`
	Role         string   `yaml:"role"`
	Entitlements []string `yaml:"entitlements"`
}

type document struct {
	Rules []Rule `yaml:"rules"`
}

// Catalog is the ordered rule list plus a (department, role) index built at
// load time so per-user matching doesn't rescan the rule list.
type Catalog struct {
	rules []Rule
	index map[matchKey][]int
}

type matchKey struct {
	department string
	role       string
}

// Load reads and parses the catalog at path. Returns ErrNotFound if the file
// does not exist; any other read or parse failure is returned as-is and should
// abort the run before stages execute.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read policy catalog: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy catalog %s: %w", path, err)
	}
	for i, rule := range doc.Rules {
		if rule.Department == "" || rule.Role == "" {
			return nil, fmt.Errorf("parse policy catalog %s: rule %d missing department or role", path, i)
		}
	}

	return NewCatalog(doc.Rules), nil
}

// NewCatalog builds a catalog from an already-parsed rule list, preserving
// rule order.
func NewCatalog(rules []Rule) *Catalog {
	c := &Catalog{rules: rules, index: make(map[matchKey][]int)}
	for i, rule := range rules {
		key := matchKey{department: rule.Department, role: rule.Role}
		c.index[key] = append(c.index[key], i)
	}
	return c
}

// Empty reports whether the catalog declares no rules. An empty catalog means
// the policy stage is skipped, same as an absent document.
func (c *Catalog) Empty() bool {
	return len(c.rules) == 0
}

// Len returns the number of rules.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// Entitlements returns the concatenation, in catalog order, of the
// entitlements of every rule matching (department, role). Duplicates across
// rules are preserved; the catalog declares expectations, it does not
// normalize them. A zero-match lookup returns an empty slice.
func (c *Catalog) Entitlements(department, role string) []string {
	indices := c.index[matchKey{department: department, role: role}]
	entitlements := []string{}
	for _, i := range indices {
		entitlements = append(entitlements, c.rules[i].Entitlements...)
	}
	return entitlements
}
