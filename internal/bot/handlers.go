// ABOUTME: Chat command handlers for the keydrop bot
// ABOUTME: Maps parsed commands onto issuer operations and builds replies

package bot

import (
	"context"
	"errors"

	"github.com/2389/keydrop/internal/issuer"
	"github.com/2389/keydrop/internal/store"
)

// Chat list replies show ten tokens unless the command asks for more;
// the cap keeps replies readable in a room.
const (
	defaultListLimit = 10
	maxListLimit     = 50
)

// runCommand executes one command as the given actor and returns the
// markdown reply. An empty reply means nothing should be sent.
func (b *Bot) runCommand(ctx context.Context, actor issuer.Actor, cmd command) string {
	switch cmd.name {
	case "get":
		iss, err := b.svc.Issue(ctx, actor)
		if err != nil {
			return b.errorReply(cmd.name, err)
		}
		return formatIssued(iss)

	case "stock":
		n, err := b.svc.Stock(ctx, actor)
		if err != nil {
			return b.errorReply(cmd.name, err)
		}
		return formatStock(n)

	case "upload":
		if cmd.args == "" {
			return "Put one `login:secret` per line after the command, or attach a text file."
		}
		count, err := b.svc.Upload(ctx, actor, cmd.args)
		if err != nil {
			return b.errorReply(cmd.name, err)
		}
		return formatUploaded(count)

	case "list":
		limit, activeOnly, ok := parseListArgs(cmd.args)
		if !ok {
			return "Usage: `list [n] [active]`."
		}
		tokens, err := b.svc.List(ctx, actor, limit, activeOnly)
		if err != nil {
			return b.errorReply(cmd.name, err)
		}
		return formatTokenList(tokens, activeOnly)

	case "info":
		tokenStr := firstField(cmd.args)
		if tokenStr == "" {
			return "Which token? Use `info <token>`."
		}
		token, err := b.svc.Info(ctx, actor, tokenStr)
		if err != nil {
			return b.errorReply(cmd.name, err)
		}
		return formatToken(token)

	case "revoke":
		tokenStr := firstField(cmd.args)
		if tokenStr == "" {
			return "Which token? Use `revoke <token>`."
		}
		token, err := b.svc.Revoke(ctx, actor, tokenStr)
		if err != nil {
			return b.errorReply(cmd.name, err)
		}
		return formatRevoked(token)

	case "search":
		if cmd.args == "" {
			return "Search for what? Use `search <text>`."
		}
		tokens, err := b.svc.Search(ctx, actor, cmd.args)
		if err != nil {
			return b.errorReply(cmd.name, err)
		}
		return formatSearchResults(cmd.args, tokens)

	case "help":
		return helpText(b.cfg.CommandPrefix, b.admins.IsAdmin(actor.ID))

	default:
		return "Unknown command `" + cmd.name + "`. Try `help`."
	}
}

// errorReply maps an operation error to a user-facing message. Unexpected
// errors are logged and answered generically so storage details never leak
// into chat.
func (b *Bot) errorReply(cmdName string, err error) string {
	switch {
	case errors.Is(err, issuer.ErrPermissionDenied):
		return "Sorry, you are not allowed to do that."
	case errors.Is(err, store.ErrNoEntries):
		return "No credentials are available right now. Ask an admin to upload more."
	case errors.Is(err, store.ErrNotFound):
		return "I don't know that token."
	case errors.Is(err, issuer.ErrMalformedUpload):
		return "I found no usable lines in that upload. Send one `login:secret` per line."
	default:
		b.logger.Error("command failed", "command", cmdName, "error", err)
		return "Something went wrong on my side. Please try again."
	}
}
