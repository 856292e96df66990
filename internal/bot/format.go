// ABOUTME: Reply formatting for the keydrop bot
// ABOUTME: Builds markdown replies and renders them to Matrix HTML

package bot

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"

	"github.com/2389/keydrop/internal/issuer"
	"github.com/2389/keydrop/internal/store"
)

// renderMarkdown converts a markdown reply into Matrix message content.
// The plain body keeps the markdown source as the fallback for clients
// that do not render HTML.
func renderMarkdown(markdown string) event.MessageEventContent {
	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &htmlBuf); err != nil {
		return event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    markdown,
		}
	}
	return event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          markdown,
		Format:        event.FormatHTML,
		FormattedBody: strings.TrimSpace(htmlBuf.String()),
	}
}

// formatIssued builds the credential handout message. The secret stays in
// a code span so clients do not linkify or autocorrect it.
func formatIssued(iss *issuer.Issued) string {
	var sb strings.Builder
	sb.WriteString("Here are your credentials:\n\n")
	sb.WriteString("**Login:** `" + iss.Token.Login + "`\n")
	sb.WriteString("**Password:** `" + iss.Token.Secret + "`\n\n")
	sb.WriteString("Sign in here: " + iss.Link + "\n")
	return sb.String()
}

func formatStock(n int) string {
	switch n {
	case 0:
		return "The pool is **empty**. Upload more credentials."
	case 1:
		return "**1** credential left in the pool."
	default:
		return fmt.Sprintf("**%d** credentials left in the pool.", n)
	}
}

func formatUploaded(count int) string {
	if count == 1 {
		return "Added **1** credential to the pool."
	}
	return fmt.Sprintf("Added **%d** credentials to the pool.", count)
}

// formatToken builds the detail view for one token.
func formatToken(t *store.Token) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**`%s`** (%s)\n\n", t.Token, statusWord(t))
	fmt.Fprintf(&sb, "- Login: `%s`\n", t.Login)
	fmt.Fprintf(&sb, "- Issued to %s on %s\n", ownerLabel(t), formatTime(t.CreatedAt))
	if t.AccessCount == 0 {
		sb.WriteString("- Never accessed\n")
	} else if t.LastAccessAt != nil {
		fmt.Fprintf(&sb, "- Accessed %s, last %s\n", countTimes(t.AccessCount), formatTime(*t.LastAccessAt))
	} else {
		fmt.Fprintf(&sb, "- Accessed %s\n", countTimes(t.AccessCount))
	}
	if t.Status == store.TokenStatusRevoked && t.RevokedAt != nil {
		fmt.Fprintf(&sb, "- Revoked by %s on %s\n", t.RevokedBy, formatTime(*t.RevokedAt))
	}
	return sb.String()
}

// formatRevoked confirms a revocation. Revoking twice is answered the same
// way, with the original revocation details.
func formatRevoked(t *store.Token) string {
	if t.RevokedAt == nil {
		return fmt.Sprintf("Token `%s` is revoked.", t.Token)
	}
	return fmt.Sprintf("Token `%s` is revoked (by %s on %s). Its access link no longer works.",
		t.Token, t.RevokedBy, formatTime(*t.RevokedAt))
}

// formatTokenList builds the newest-first token listing.
func formatTokenList(tokens []*store.Token, activeOnly bool) string {
	if len(tokens) == 0 {
		if activeOnly {
			return "No active tokens."
		}
		return "No tokens issued yet."
	}

	var sb strings.Builder
	if activeOnly {
		fmt.Fprintf(&sb, "Latest %d active tokens:\n\n", len(tokens))
	} else {
		fmt.Fprintf(&sb, "Latest %d tokens:\n\n", len(tokens))
	}
	for _, t := range tokens {
		sb.WriteString(tokenLine(t))
	}
	return sb.String()
}

func formatSearchResults(query string, tokens []*store.Token) string {
	if len(tokens) == 0 {
		return fmt.Sprintf("No tokens match `%s`.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Tokens matching `%s`:\n\n", query)
	for _, t := range tokens {
		sb.WriteString(tokenLine(t))
	}
	return sb.String()
}

// tokenLine is the one-line summary used by list and search replies.
func tokenLine(t *store.Token) string {
	return fmt.Sprintf("- `%s` %s: `%s` → %s (%s)\n",
		t.Token, statusWord(t), t.Login, t.OwnerID, t.CreatedAt.UTC().Format("2006-01-02"))
}

func statusWord(t *store.Token) string {
	if t.Active() {
		return "active"
	}
	return "**revoked**"
}

// ownerLabel shows the owner's ID with the display name when one was
// captured at issuance.
func ownerLabel(t *store.Token) string {
	if t.OwnerHandle != "" {
		return fmt.Sprintf("%s (%s)", t.OwnerID, t.OwnerHandle)
	}
	return t.OwnerID
}

func countTimes(n int64) string {
	if n == 1 {
		return "once"
	}
	return fmt.Sprintf("%d times", n)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04") + " UTC"
}
