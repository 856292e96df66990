// ABOUTME: Store interfaces and data types for keydrop persistence
// ABOUTME: Defines PoolEntry, Token structs and the pool/ledger/audit contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrNoEntries is returned when the pool has no unclaimed entries left
var ErrNoEntries = errors.New("no unclaimed entries available")

// ErrTokenExists is returned when inserting a token that is already in the ledger
var ErrTokenExists = errors.New("token already exists")

// ErrTokenRevoked is returned when recording access against a revoked token
var ErrTokenRevoked = errors.New("token revoked")

// Pool entry status constants
const (
	PoolStatusUnclaimed = "unclaimed"
	PoolStatusClaimed   = "claimed"
)

// Token status constants
const (
	TokenStatusActive  = "active"
	TokenStatusRevoked = "revoked"
)

// PoolEntry is one unissued credential line in the supply pool.
// The id is assigned at insertion and defines FIFO claim order.
// The unclaimed -> claimed transition happens exactly once per entry;
// claimed entries are kept as audit rows and never reconsidered.
type PoolEntry struct {
	ID        int64
	Value     string // opaque credential payload, canonical form login:secret
	Status    string // PoolStatusUnclaimed or PoolStatusClaimed
	BatchID   string // correlates entries from one upload, empty for legacy rows
	CreatedAt time.Time
	ClaimedBy string
	ClaimedAt *time.Time
}

// Token is the durable record of one issued credential.
// Login and secret are copied from the claimed pool entry at issuance
// and are immutable afterwards. Tokens are never deleted.
type Token struct {
	Token        string // public identifier used in the distributed link
	Login        string
	Secret       string
	OwnerID      string
	OwnerHandle  string
	Status       string // TokenStatusActive or TokenStatusRevoked
	CreatedAt    time.Time
	RevokedAt    *time.Time
	RevokedBy    string
	AccessCount  int64
	LastAccessAt *time.Time
}

// Active reports whether the token can still be resolved.
func (t *Token) Active() bool {
	return t.Status == TokenStatusActive
}

// PoolStore is the durable FIFO queue of unissued credential lines.
type PoolStore interface {
	// EnqueueEntries appends values as unclaimed entries in order, writing
	// in bounded-size batches. It returns the number of entries actually
	// inserted; on batch failure that count covers the batches that
	// committed before the error.
	EnqueueEntries(ctx context.Context, values []string, batchID string) (int, error)

	// ClaimEntry atomically claims the oldest unclaimed entry for
	// claimantID. Lost races retry forward a bounded number of times.
	// Returns ErrNoEntries when the pool is exhausted.
	ClaimEntry(ctx context.Context, claimantID string) (*PoolEntry, error)

	// CountUnclaimed returns a best-effort live count of unclaimed entries.
	CountUnclaimed(ctx context.Context) (int, error)
}

// TokenLedger records issued tokens and their lifecycle.
type TokenLedger interface {
	// InsertToken adds a new ledger record. Returns ErrTokenExists if the
	// token string is already present.
	InsertToken(ctx context.Context, t *Token) error

	// GetToken returns the record for token, or ErrNotFound.
	GetToken(ctx context.Context, token string) (*Token, error)

	// RevokeToken flips the token to revoked and returns the updated
	// record. Revoking an already-revoked token succeeds and leaves
	// revoked_at and revoked_by unchanged. Returns ErrNotFound if the
	// token does not exist.
	RevokeToken(ctx context.Context, token, revokedBy string) (*Token, error)

	// ListTokens returns up to limit tokens, newest first.
	ListTokens(ctx context.Context, limit int, activeOnly bool) ([]*Token, error)

	// SearchTokensByOwner returns tokens whose owner id or handle contains
	// the query as a substring, newest first.
	SearchTokensByOwner(ctx context.Context, query string) ([]*Token, error)

	// RecordTokenAccess increments access_count and stamps last_access_at
	// for an active token, returning the updated record. Returns
	// ErrTokenRevoked for revoked tokens and ErrNotFound for unknown ones.
	RecordTokenAccess(ctx context.Context, token string) (*Token, error)
}

// AuditStore appends and lists audit log entries.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is the full persistence contract for keydrop.
type Store interface {
	PoolStore
	TokenLedger
	AuditStore

	// Close releases any resources held by the store
	Close() error
}
