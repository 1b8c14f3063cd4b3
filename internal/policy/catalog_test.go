package policy

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roles.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_ValidDocument(t *testing.T) {
	path := writeCatalog(t, `
rules:
  - department: Finance
    role: Analyst
    entitlements: [VPN, ERP]
  - department: IT
    role: DevOps
    entitlements: [VPN, SSH, CI]
`)
	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 2 {
		t.Errorf("Len = %d, want 2", cat.Len())
	}
	got := cat.Entitlements("Finance", "Analyst")
	if !reflect.DeepEqual(got, []string{"VPN", "ERP"}) {
		t.Errorf("Entitlements(Finance, Analyst) = %v", got)
	}
}

func TestLoad_MissingFile_IsErrNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoad_MalformedYAML_IsFatal(t *testing.T) {
	path := writeCatalog(t, "rules: [{department: Finance, role: ")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("malformed document must not be classified as not-found")
	}
}

func TestLoad_RuleMissingMatchKeys_IsFatal(t *testing.T) {
	path := writeCatalog(t, `
rules:
  - department: Finance
    entitlements: [VPN]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for rule without role")
	}
}

func TestLoad_EmptyRuleList(t *testing.T) {
	path := writeCatalog(t, "rules: []\n")
	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cat.Empty() {
		t.Error("catalog with zero rules should report Empty")
	}
}

// ---------------------------------------------------------------------------
// Entitlements
// ---------------------------------------------------------------------------

func TestEntitlements_ZeroMatch_ReturnsEmptyNotNil(t *testing.T) {
	cat := NewCatalog([]Rule{{Department: "Finance", Role: "Analyst", Entitlements: []string{"VPN"}}})
	got := cat.Entitlements("Finance", "Manager")
	if got == nil {
		t.Fatal("zero-match lookup returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("Entitlements = %v, want empty", got)
	}
}

func TestEntitlements_MultipleRulesConcatenateInCatalogOrder(t *testing.T) {
	cat := NewCatalog([]Rule{
		{Department: "IT", Role: "DevOps", Entitlements: []string{"VPN", "SSH"}},
		{Department: "Finance", Role: "Analyst", Entitlements: []string{"ERP"}},
		{Department: "IT", Role: "DevOps", Entitlements: []string{"CI", "VPN"}},
	})
	got := cat.Entitlements("IT", "DevOps")
	// Duplicates preserved, catalog order kept.
	want := []string{"VPN", "SSH", "CI", "VPN"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Entitlements = %v, want %v", got, want)
	}
}
