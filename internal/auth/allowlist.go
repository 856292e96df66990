// ABOUTME: Admin allow-list of opaque actor IDs with exact-match lookup
// ABOUTME: Admin capability is list membership, there are no roles or accounts

package auth

import "strings"

// Allowlist is the set of actor IDs granted admin capability. IDs are
// opaque strings compared exactly, so Matrix user IDs and API client
// identities can share one list.
type Allowlist struct {
	ids map[string]struct{}
}

// NewAllowlist builds an Allowlist from configured admin IDs. Entries are
// trimmed of surrounding whitespace and blank entries are dropped.
func NewAllowlist(ids []string) *Allowlist {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return &Allowlist{ids: set}
}

// IsAdmin reports whether actorID is on the allow-list. A nil Allowlist
// admits nobody.
func (a *Allowlist) IsAdmin(actorID string) bool {
	if a == nil {
		return false
	}
	_, ok := a.ids[actorID]
	return ok
}

// Size returns the number of configured admin IDs.
func (a *Allowlist) Size() int {
	if a == nil {
		return 0
	}
	return len(a.ids)
}
