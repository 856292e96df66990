// ABOUTME: Tests for bot reply formatting
// ABOUTME: Covers markdown rendering and the chat views of tokens and audit events

package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/event"

	"github.com/2389/keydrop/internal/audit"
	"github.com/2389/keydrop/internal/issuer"
	"github.com/2389/keydrop/internal/store"
)

func TestRenderMarkdown(t *testing.T) {
	content := renderMarkdown("**bold** and `code`")

	assert.Equal(t, event.MsgText, content.MsgType)
	assert.Equal(t, "**bold** and `code`", content.Body)
	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Contains(t, content.FormattedBody, "<strong>bold</strong>")
	assert.Contains(t, content.FormattedBody, "<code>code</code>")
}

func testToken() *store.Token {
	return &store.Token{
		Token:       "Ab3xY7kQ2p",
		Login:       "alice@example.com",
		Secret:      "hunter2",
		OwnerID:     "@alice:example.com",
		OwnerHandle: "Alice",
		Status:      store.TokenStatusActive,
		CreatedAt:   time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC),
	}
}

func TestFormatIssued(t *testing.T) {
	tok := testToken()
	msg := formatIssued(&issuer.Issued{
		Token: tok,
		Link:  "https://account.example.com/Ab3xY7kQ2p",
	})

	assert.Contains(t, msg, "`alice@example.com`")
	assert.Contains(t, msg, "`hunter2`")
	assert.Contains(t, msg, "https://account.example.com/Ab3xY7kQ2p")
}

func TestFormatToken_Active(t *testing.T) {
	msg := formatToken(testToken())

	assert.Contains(t, msg, "`Ab3xY7kQ2p`")
	assert.Contains(t, msg, "active")
	assert.Contains(t, msg, "@alice:example.com (Alice)")
	assert.Contains(t, msg, "2026-03-14 15:09 UTC")
	assert.Contains(t, msg, "Never accessed")
	assert.NotContains(t, msg, "Revoked")
}

func TestFormatToken_Revoked(t *testing.T) {
	tok := testToken()
	revokedAt := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)
	tok.Status = store.TokenStatusRevoked
	tok.RevokedAt = &revokedAt
	tok.RevokedBy = "@ops:example.com"
	tok.AccessCount = 3
	lastAccess := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	tok.LastAccessAt = &lastAccess

	msg := formatToken(tok)

	assert.Contains(t, msg, "revoked")
	assert.Contains(t, msg, "Revoked by @ops:example.com on 2026-03-15 08:00 UTC")
	assert.Contains(t, msg, "Accessed 3 times, last 2026-03-14 20:00 UTC")
}

func TestFormatRevoked(t *testing.T) {
	tok := testToken()
	revokedAt := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)
	tok.Status = store.TokenStatusRevoked
	tok.RevokedAt = &revokedAt
	tok.RevokedBy = "@ops:example.com"

	msg := formatRevoked(tok)
	assert.Contains(t, msg, "`Ab3xY7kQ2p`")
	assert.Contains(t, msg, "@ops:example.com")
	assert.Contains(t, msg, "no longer works")
}

func TestFormatTokenList(t *testing.T) {
	assert.Equal(t, "No tokens issued yet.", formatTokenList(nil, false))
	assert.Equal(t, "No active tokens.", formatTokenList(nil, true))

	msg := formatTokenList([]*store.Token{testToken()}, false)
	assert.Contains(t, msg, "Latest 1 tokens")
	assert.Contains(t, msg, "`Ab3xY7kQ2p`")
	assert.Contains(t, msg, "`alice@example.com`")
	assert.Contains(t, msg, "2026-03-14")
}

func TestFormatSearchResults(t *testing.T) {
	assert.Contains(t, formatSearchResults("zzz", nil), "No tokens match")

	msg := formatSearchResults("alice", []*store.Token{testToken()})
	assert.Contains(t, msg, "Tokens matching `alice`")
	assert.Contains(t, msg, "`Ab3xY7kQ2p`")
}

func TestFormatStock(t *testing.T) {
	assert.Contains(t, formatStock(0), "empty")
	assert.Contains(t, formatStock(1), "**1** credential left")
	assert.Contains(t, formatStock(7), "**7** credentials left")
}

func TestFormatUploaded(t *testing.T) {
	assert.Contains(t, formatUploaded(1), "**1** credential")
	assert.Contains(t, formatUploaded(12), "**12** credentials")
}

func TestFormatAuditEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   audit.Event
		want []string
	}{
		{
			name: "issued",
			ev: audit.Event{
				Action:      store.AuditIssued,
				ActorID:     "@alice:example.com",
				ActorHandle: "Alice",
				TargetID:    "Ab3xY7kQ2p",
			},
			want: []string{"issued", "`Ab3xY7kQ2p`", "@alice:example.com (Alice)"},
		},
		{
			name: "pool empty",
			ev: audit.Event{
				Action:  store.AuditPoolEmpty,
				ActorID: "@bob:example.com",
			},
			want: []string{"pool empty", "@bob:example.com"},
		},
		{
			name: "uploaded",
			ev: audit.Event{
				Action:   store.AuditUploaded,
				ActorID:  "@ops:example.com",
				TargetID: "batch-1",
				Detail:   map[string]any{"count": 25},
			},
			want: []string{"uploaded", "25", "`batch-1`"},
		},
		{
			name: "revoked",
			ev: audit.Event{
				Action:   store.AuditRevoked,
				ActorID:  "@ops:example.com",
				TargetID: "Ab3xY7kQ2p",
			},
			want: []string{"revoked", "`Ab3xY7kQ2p`", "@ops:example.com"},
		},
		{
			name: "resolved",
			ev: audit.Event{
				Action:   store.AuditResolved,
				TargetID: "Ab3xY7kQ2p",
				Detail:   map[string]any{"access_count": int64(2)},
			},
			want: []string{"resolved", "access #2"},
		},
		{
			name: "issue failed",
			ev: audit.Event{
				Action:  store.AuditIssueFailed,
				ActorID: "@alice:example.com",
				Detail:  map[string]any{"error": "ledger down", "requeued": true},
			},
			want: []string{"issue failed", "ledger down", "requeued: true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := formatAuditEvent(tt.ev)
			for _, want := range tt.want {
				assert.Contains(t, msg, want)
			}
		})
	}
}
