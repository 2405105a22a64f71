package auth

import (
	"slices"
	"testing"
)

func TestAuthorizeTable(t *testing.T) {
	cases := []struct {
		role    Role
		cap     Capability
		allowed bool
	}{
		{RoleAdmin, CapTransactionsRead, true},
		{RoleAdmin, CapUsersWrite, true},
		{RoleAdmin, CapAuditRead, true},

		{RoleAnalyst, CapTransactionsRead, true},
		{RoleAnalyst, CapTransactionsWrite, true},
		{RoleAnalyst, CapModelsWrite, true},
		{RoleAnalyst, CapUsersRead, false},
		{RoleAnalyst, CapUsersWrite, false},
		{RoleAnalyst, CapAuditRead, false},

		{RoleViewer, CapTransactionsRead, true},
		{RoleViewer, CapModelsRead, true},
		{RoleViewer, CapUsersRead, true},
		{RoleViewer, CapAuditRead, true},
		{RoleViewer, CapTransactionsWrite, false},
		{RoleViewer, CapUsersWrite, false},

		{Role("ghost"), CapTransactionsRead, false},
	}
	for _, tc := range cases {
		d := Authorize(tc.role, tc.cap)
		if d.Allowed != tc.allowed {
			t.Errorf("Authorize(%s, %s) = %v, want %v", tc.role, tc.cap, d.Allowed, tc.allowed)
		}
		if !d.Allowed && d.Capability != tc.cap.String() {
			t.Errorf("denied capability = %q, want %q", d.Capability, tc.cap)
		}
		if d.Allowed && d.Capability != "" {
			t.Errorf("allow decision leaked capability %q", d.Capability)
		}
	}
}

func TestCapabilitiesForExpandsWildcards(t *testing.T) {
	admin := CapabilitiesFor(RoleAdmin)
	if len(admin) != 7 {
		t.Fatalf("admin capabilities = %v, want all 7", admin)
	}

	viewer := CapabilitiesFor(RoleViewer)
	for _, c := range viewer {
		if !slices.Contains([]string{"transactions:read", "models:read", "user-management:read", "audit:read"}, c) {
			t.Fatalf("viewer granted %q", c)
		}
	}
	if len(viewer) != 4 {
		t.Fatalf("viewer capabilities = %v, want 4 reads", viewer)
	}

	if CapabilitiesFor(Role("ghost")) != nil {
		t.Fatal("unknown role should hold nothing")
	}
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability(" transactions:write ")
	if err != nil {
		t.Fatal(err)
	}
	if c.Resource != "transactions" || c.Action != "write" {
		t.Fatalf("parsed %+v", c)
	}
	for _, bad := range []string{"", "transactions", ":write", "transactions:", "a:b:c"} {
		if _, err := ParseCapability(bad); err == nil {
			t.Errorf("ParseCapability(%q) accepted", bad)
		}
	}
}
