// ABOUTME: Chat command parsing for the keydrop bot
// ABOUTME: Splits prefixed messages into a command name and its arguments

package bot

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// command is one parsed chat instruction. args keeps the raw remainder of
// the message, including newlines, so multi-line uploads survive parsing.
type command struct {
	name string
	args string
}

// parseCommand extracts a command from a message body. Messages that do not
// start with the prefix are not commands. A bare prefix asks for help.
func parseCommand(prefix, body string) (command, bool) {
	body = strings.TrimSpace(body)
	if prefix != "" {
		rest := strings.TrimPrefix(body, prefix)
		if rest == body {
			return command{}, false
		}
		// "!kdx" must not match prefix "!kd"
		if rest != "" {
			r, _ := utf8.DecodeRuneInString(rest)
			if !unicode.IsSpace(r) {
				return command{}, false
			}
		}
		body = strings.TrimSpace(rest)
	}

	if body == "" {
		return command{name: "help"}, true
	}

	i := strings.IndexFunc(body, unicode.IsSpace)
	if i < 0 {
		return command{name: strings.ToLower(body)}, true
	}
	return command{
		name: strings.ToLower(body[:i]),
		args: strings.TrimSpace(body[i:]),
	}, true
}

// firstField returns the first whitespace-separated field of args, or ""
// if there is none.
func firstField(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// parseListArgs reads the optional leading count and "active" flag of a
// list command. The count defaults to defaultListLimit and is capped at
// maxListLimit. Anything else makes the arguments invalid.
func parseListArgs(args string) (limit int, activeOnly bool, ok bool) {
	limit = defaultListLimit
	fields := strings.Fields(args)
	if len(fields) > 0 {
		if n, err := strconv.Atoi(fields[0]); err == nil {
			if n < 1 {
				return 0, false, false
			}
			if n > maxListLimit {
				n = maxListLimit
			}
			limit = n
			fields = fields[1:]
		}
	}
	for _, f := range fields {
		if f != "active" {
			return 0, false, false
		}
		activeOnly = true
	}
	return limit, activeOnly, true
}

// helpText builds the help message. Admin commands are only shown to
// admins so regular users don't poke at things they cannot run.
func helpText(prefix string, admin bool) string {
	p := prefix
	if p != "" {
		p += " "
	}

	var sb strings.Builder
	sb.WriteString("**keydrop commands**\n\n")
	sb.WriteString("- `" + p + "get` - receive a credential and your access link\n")
	sb.WriteString("- `" + p + "help` - this message\n")

	if admin {
		sb.WriteString("\n**admin commands**\n\n")
		sb.WriteString("- `" + p + "stock` - count of unclaimed credentials\n")
		sb.WriteString("- `" + p + "upload` - enqueue credentials, one `login:secret` per line after the command (or attach a text file)\n")
		sb.WriteString("- `" + p + "list [n] [active]` - recently issued tokens, newest first (default 10, up to 50)\n")
		sb.WriteString("- `" + p + "info <token>` - details for one token\n")
		sb.WriteString("- `" + p + "revoke <token>` - disable a token's access link\n")
		sb.WriteString("- `" + p + "search <text>` - find tokens by owner\n")
	}

	return sb.String()
}
