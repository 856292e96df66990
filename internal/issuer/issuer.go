// ABOUTME: Issuance coordinator that turns pool credentials into single-use access tokens
// ABOUTME: Claims atomically, mints tokens, writes the ledger, and emits audit events

package issuer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/keydrop/internal/audit"
	"github.com/2389/keydrop/internal/auth"
	"github.com/2389/keydrop/internal/creds"
	"github.com/2389/keydrop/internal/keygen"
	"github.com/2389/keydrop/internal/store"
)

// Issuance errors
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrMalformedUpload  = errors.New("upload contains no usable lines")
)

// insertRetryAttempts bounds regeneration when a generated token collides
// with an existing ledger row.
const insertRetryAttempts = 3

// Store defines what the issuer needs from storage.
type Store interface {
	store.PoolStore
	store.TokenLedger
}

// Actor identifies who asked for an operation. The ID is the opaque string
// the admin allow-list is checked against: a Matrix user ID for bot
// commands, the token's sub claim for API calls.
type Actor struct {
	ID     string
	Handle string // display name, may be empty
}

// Issued is the result of a successful issuance.
type Issued struct {
	Token *store.Token
	Link  string
}

// Config carries the service dependencies and settings.
type Config struct {
	Store       Store
	Keygen      *keygen.Generator
	Audit       audit.Sink
	Admins      *auth.Allowlist
	SiteBaseURL string
	StockPublic bool
	Logger      *slog.Logger
}

// Service coordinates the pool, the token generator, and the ledger.
type Service struct {
	store       Store
	keygen      *keygen.Generator
	audit       audit.Sink
	admins      *auth.Allowlist
	siteBaseURL string
	stockPublic bool
	logger      *slog.Logger
}

// New creates an issuance service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       cfg.Store,
		keygen:      cfg.Keygen,
		audit:       cfg.Audit,
		admins:      cfg.Admins,
		siteBaseURL: cfg.SiteBaseURL,
		stockPublic: cfg.StockPublic,
		logger:      logger.With("component", "issuer"),
	}
}

// AccessLink composes the canonical login link for a token.
func (s *Service) AccessLink(token string) string {
	return s.siteBaseURL + "/" + token
}

// Issue claims the oldest unclaimed pool entry, mints an access token for it,
// and records the token in the ledger.
//
// Key principle: the claim is the commit point. Once an entry is claimed no
// other caller can receive it, so every failure after the claim re-enqueues
// the credential (best effort) rather than leaving it stranded.
func (s *Service) Issue(ctx context.Context, actor Actor) (*Issued, error) {
	entry, err := s.store.ClaimEntry(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, store.ErrNoEntries) {
			s.emit(ctx, audit.Event{
				Action:      store.AuditPoolEmpty,
				ActorID:     actor.ID,
				ActorHandle: actor.Handle,
			})
		}
		return nil, err
	}

	cred := creds.Parse(entry.Value)

	token, err := s.insertWithFreshToken(ctx, actor, cred)
	if err != nil {
		s.recoverClaim(ctx, actor, entry, err)
		return nil, err
	}

	s.emit(ctx, audit.Event{
		Action:      store.AuditIssued,
		ActorID:     actor.ID,
		ActorHandle: actor.Handle,
		TargetID:    token.Token,
		Detail: map[string]any{
			"login":         token.Login,
			"pool_entry_id": entry.ID,
		},
	})

	s.logger.Info("credential issued",
		"actor", actor.ID,
		"token", token.Token,
		"pool_entry_id", entry.ID)

	return &Issued{Token: token, Link: s.AccessLink(token.Token)}, nil
}

// Resolve records an access against an active token and returns its updated
// record. Returns store.ErrTokenRevoked for revoked tokens and
// store.ErrNotFound for unknown ones; neither outcome mutates the ledger.
func (s *Service) Resolve(ctx context.Context, tokenStr string) (*store.Token, error) {
	tok, err := s.store.RecordTokenAccess(ctx, tokenStr)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		Action:   store.AuditResolved,
		TargetID: tok.Token,
		Detail:   map[string]any{"access_count": tok.AccessCount},
	})
	return tok, nil
}

// insertWithFreshToken generates a token and inserts the ledger row, retrying
// with a new token if the generated value collides with an existing row.
func (s *Service) insertWithFreshToken(ctx context.Context, actor Actor, cred creds.Credential) (*store.Token, error) {
	for attempt := 0; attempt < insertRetryAttempts; attempt++ {
		value, err := s.keygen.Generate()
		if err != nil {
			return nil, fmt.Errorf("generating token: %w", err)
		}

		tok := &store.Token{
			Token:       value,
			Login:       cred.Login,
			Secret:      cred.Secret,
			OwnerID:     actor.ID,
			OwnerHandle: actor.Handle,
		}
		err = s.store.InsertToken(ctx, tok)
		if err == nil {
			return tok, nil
		}
		if errors.Is(err, store.ErrTokenExists) {
			s.logger.Warn("token collision, regenerating", "attempt", attempt+1)
			continue
		}
		return nil, fmt.Errorf("inserting token: %w", err)
	}
	return nil, fmt.Errorf("inserting token: %w", store.ErrTokenExists)
}

// recoverClaim returns a claimed credential to the pool after a failed
// issuance. The entry keeps its batch but joins the back of the queue.
func (s *Service) recoverClaim(ctx context.Context, actor Actor, entry *store.PoolEntry, cause error) {
	requeued := true
	if _, err := s.store.EnqueueEntries(ctx, []string{entry.Value}, entry.BatchID); err != nil {
		requeued = false
		s.logger.Error("failed to re-enqueue claimed entry",
			"pool_entry_id", entry.ID,
			"error", err)
	}

	s.emit(ctx, audit.Event{
		Action:      store.AuditIssueFailed,
		ActorID:     actor.ID,
		ActorHandle: actor.Handle,
		Detail: map[string]any{
			"error":         cause.Error(),
			"pool_entry_id": entry.ID,
			"requeued":      requeued,
		},
	})
}

// emit forwards an audit event when a sink is configured. Audit is
// best-effort and never fails the primary operation.
func (s *Service) emit(ctx context.Context, ev audit.Event) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, ev)
}
