// ABOUTME: Tests for the admin allow-list
// ABOUTME: Covers membership checks, entry normalization, and nil receivers

package auth

import "testing"

func TestAllowlist_IsAdmin(t *testing.T) {
	admins := NewAllowlist([]string{"@ops:example.com", "ops@example.com"})

	if !admins.IsAdmin("@ops:example.com") {
		t.Error("expected @ops:example.com to be admin")
	}
	if !admins.IsAdmin("ops@example.com") {
		t.Error("expected ops@example.com to be admin")
	}
	if admins.IsAdmin("@stranger:example.com") {
		t.Error("expected @stranger:example.com to not be admin")
	}
}

func TestAllowlist_ExactMatch(t *testing.T) {
	admins := NewAllowlist([]string{"@ops:example.com"})

	if admins.IsAdmin("@OPS:example.com") {
		t.Error("matching should be case-sensitive")
	}
	if admins.IsAdmin("@ops:example.com ") {
		t.Error("untrimmed lookup should not match")
	}
}

func TestAllowlist_NormalizesEntries(t *testing.T) {
	admins := NewAllowlist([]string{"", "  ", "@ops:example.com", " @dev:example.com "})

	if got := admins.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2", got)
	}
	if !admins.IsAdmin("@dev:example.com") {
		t.Error("expected trimmed entry to match")
	}
}

func TestAllowlist_Empty(t *testing.T) {
	admins := NewAllowlist(nil)

	if admins.IsAdmin("anyone") {
		t.Error("empty allow-list should admit nobody")
	}
	if got := admins.Size(); got != 0 {
		t.Errorf("Size() = %d, want 0", got)
	}
}

func TestAllowlist_Nil(t *testing.T) {
	var admins *Allowlist

	if admins.IsAdmin("@ops:example.com") {
		t.Error("nil allow-list should admit nobody")
	}
	if got := admins.Size(); got != 0 {
		t.Errorf("Size() = %d, want 0", got)
	}
}
