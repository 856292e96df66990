// ABOUTME: Audit room sink for the keydrop bot
// ABOUTME: Posts issuance activity to a Matrix room operators watch

package bot

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/2389/keydrop/internal/audit"
	"github.com/2389/keydrop/internal/store"
)

// AuditSink returns a sink that posts audit events to the configured audit
// room, or nil when no audit room is configured. Posting happens in a
// goroutine so a slow homeserver never delays issuance.
func (b *Bot) AuditSink() audit.Sink {
	if b.cfg.AuditRoom == "" {
		return nil
	}
	roomID := id.RoomID(b.cfg.AuditRoom)
	return audit.SinkFunc(func(ctx context.Context, ev audit.Event) {
		go b.sendMarkdown(roomID, formatAuditEvent(ev))
	})
}

// formatAuditEvent builds the one-line audit room message for an event.
func formatAuditEvent(ev audit.Event) string {
	actor := ev.ActorID
	if ev.ActorHandle != "" {
		actor = fmt.Sprintf("%s (%s)", ev.ActorID, ev.ActorHandle)
	}

	switch ev.Action {
	case store.AuditIssued:
		return fmt.Sprintf("**issued** `%s` to %s", ev.TargetID, actor)
	case store.AuditIssueFailed:
		return fmt.Sprintf("**issue failed** for %s: %v (requeued: %v)", actor, ev.Detail["error"], ev.Detail["requeued"])
	case store.AuditPoolEmpty:
		return fmt.Sprintf("**pool empty**: %s asked for a credential", actor)
	case store.AuditUploaded:
		return fmt.Sprintf("**uploaded** %v credentials (batch `%s`) by %s", ev.Detail["count"], ev.TargetID, actor)
	case store.AuditRevoked:
		return fmt.Sprintf("**revoked** `%s` by %s", ev.TargetID, actor)
	case store.AuditResolved:
		return fmt.Sprintf("**resolved** `%s` (access #%v)", ev.TargetID, ev.Detail["access_count"])
	default:
		return fmt.Sprintf("**%s** `%s` by %s", ev.Action, ev.TargetID, actor)
	}
}
