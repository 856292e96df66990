// ABOUTME: Token generator producing unguessable public identifiers
// ABOUTME: Fixed-length alphanumeric strings from a cryptographically secure source

package keygen

import (
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/base62"
)

// DefaultLength is the token length used when none is configured.
// Ten base62 characters give a 62^10 space, large enough to treat
// generated tokens as unique without a global uniqueness check.
const DefaultLength = 10

// Generator produces random tokens of a fixed length.
type Generator struct {
	length int
}

// New returns a Generator producing tokens of the given length.
// Non-positive lengths fall back to DefaultLength.
func New(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{length: length}
}

// Generate returns a new random token. An error here means the system's
// secure random source is unavailable, which is fatal configuration
// trouble rather than something to retry.
func (g *Generator) Generate() (string, error) {
	token, err := base62.Random(g.length)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

// Length returns the configured token length.
func (g *Generator) Length() int {
	return g.length
}
