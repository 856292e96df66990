// ABOUTME: Credential line parsing for pool entries
// ABOUTME: First-colon login/secret split and upload line normalization

package creds

import (
	"strings"
	"time"
)

// Credential is one parsed login/secret pair.
type Credential struct {
	Login  string
	Secret string
}

// Parse splits a raw pool entry value at the first colon: everything
// before it is the login, everything after is the secret, so the secret
// may itself contain colons. A value with no colon is treated as a bare
// secret and the login is synthesized from the current timestamp.
func Parse(value string) Credential {
	login, secret, found := strings.Cut(value, ":")
	if !found {
		return Credential{
			Login:  "user-" + time.Now().UTC().Format("20060102150405"),
			Secret: value,
		}
	}
	return Credential{Login: login, Secret: secret}
}

// SplitLines normalizes raw upload text into credential lines: lines are
// split on newlines, surrounding whitespace is trimmed, and blank lines
// are discarded. Inline text and uploaded file content both pass through
// here so they behave identically.
func SplitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
