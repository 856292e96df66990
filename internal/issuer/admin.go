// ABOUTME: Admin operations on the pool and ledger, gated by the allow-list
// ABOUTME: Upload, revoke, info, list, search, and stock visibility

package issuer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/2389/keydrop/internal/audit"
	"github.com/2389/keydrop/internal/creds"
	"github.com/2389/keydrop/internal/store"
)

// requireAdmin returns ErrPermissionDenied when the actor is not allow-listed.
func (s *Service) requireAdmin(actor Actor) error {
	if !s.admins.IsAdmin(actor.ID) {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, actor.ID)
	}
	return nil
}

// Upload normalizes bulk credential text and enqueues one pool entry per
// usable line. Blank lines are discarded. Returns the number of entries
// actually inserted. When no line survives normalization nothing is written
// and ErrMalformedUpload is returned.
func (s *Service) Upload(ctx context.Context, actor Actor, text string) (int, error) {
	if err := s.requireAdmin(actor); err != nil {
		return 0, err
	}

	lines := creds.SplitLines(text)
	if len(lines) == 0 {
		return 0, ErrMalformedUpload
	}

	batchID := uuid.New().String()
	inserted, err := s.store.EnqueueEntries(ctx, lines, batchID)
	if err != nil {
		return inserted, fmt.Errorf("enqueueing batch %s: %w", batchID, err)
	}

	s.emit(ctx, audit.Event{
		Action:      store.AuditUploaded,
		ActorID:     actor.ID,
		ActorHandle: actor.Handle,
		TargetID:    batchID,
		Detail:      map[string]any{"count": inserted},
	})

	s.logger.Info("pool entries uploaded",
		"actor", actor.ID,
		"count", inserted,
		"batch_id", batchID)
	return inserted, nil
}

// Revoke marks a token revoked. Revoking an already-revoked token succeeds
// and leaves the original revocation untouched.
func (s *Service) Revoke(ctx context.Context, actor Actor, tokenStr string) (*store.Token, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}

	tok, err := s.store.RevokeToken(ctx, tokenStr, actor.ID)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		Action:      store.AuditRevoked,
		ActorID:     actor.ID,
		ActorHandle: actor.Handle,
		TargetID:    tok.Token,
	})
	return tok, nil
}

// Info returns the full ledger record for a token.
func (s *Service) Info(ctx context.Context, actor Actor, tokenStr string) (*store.Token, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.GetToken(ctx, tokenStr)
}

// List returns recently issued tokens, newest first.
func (s *Service) List(ctx context.Context, actor Actor, limit int, activeOnly bool) ([]*store.Token, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.ListTokens(ctx, limit, activeOnly)
}

// Search returns tokens whose owner ID or handle contains the query.
func (s *Service) Search(ctx context.Context, actor Actor, query string) ([]*store.Token, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.SearchTokensByOwner(ctx, query)
}

// Stock reports how many unclaimed credentials remain. Visibility follows
// the stock_public setting; when false only admins may ask.
func (s *Service) Stock(ctx context.Context, actor Actor) (int, error) {
	if !s.stockPublic {
		if err := s.requireAdmin(actor); err != nil {
			return 0, err
		}
	}
	return s.store.CountUnclaimed(ctx)
}
