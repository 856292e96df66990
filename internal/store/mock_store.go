// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// It honors the same contracts as SQLiteStore, including at-most-once
// claiming and FIFO order, with a mutex standing in for the backend's
// conditional-update semantics.
type MockStore struct {
	mu     sync.RWMutex
	nextID int64
	pool   []*PoolEntry      // insertion order, claimed entries retained
	tokens map[string]*Token // keyed by token string
	order  []string          // token insertion order, oldest first
	audit  []AuditEntry      // append order
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		tokens: make(map[string]*Token),
	}
}

// EnqueueEntries appends values as unclaimed pool entries.
func (m *MockStore) EnqueueEntries(ctx context.Context, values []string, batchID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, v := range values {
		m.nextID++
		m.pool = append(m.pool, &PoolEntry{
			ID:        m.nextID,
			Value:     v,
			Status:    PoolStatusUnclaimed,
			BatchID:   batchID,
			CreatedAt: now,
		})
	}
	return len(values), nil
}

// ClaimEntry claims the oldest unclaimed entry for claimantID.
func (m *MockStore) ClaimEntry(ctx context.Context, claimantID string) (*PoolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.pool {
		if e.Status != PoolStatusUnclaimed {
			continue
		}
		now := time.Now().UTC()
		e.Status = PoolStatusClaimed
		e.ClaimedBy = claimantID
		e.ClaimedAt = &now

		// Return a copy
		result := *e
		return &result, nil
	}
	return nil, ErrNoEntries
}

// CountUnclaimed returns the number of unclaimed entries.
func (m *MockStore) CountUnclaimed(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.pool {
		if e.Status == PoolStatusUnclaimed {
			count++
		}
	}
	return count, nil
}

// InsertToken stores a new token record.
func (m *MockStore) InsertToken(ctx context.Context, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[t.Token]; ok {
		return ErrTokenExists
	}

	if t.Status == "" {
		t.Status = TokenStatusActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	// Make a copy to avoid external modification
	rec := *t
	m.tokens[rec.Token] = &rec
	m.order = append(m.order, rec.Token)
	return nil
}

// GetToken retrieves a token record.
func (m *MockStore) GetToken(ctx context.Context, token string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}

	result := *t
	return &result, nil
}

// RevokeToken marks a token revoked, idempotently.
func (m *MockStore) RevokeToken(ctx context.Context, token, revokedBy string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}

	if t.Status != TokenStatusRevoked {
		now := time.Now().UTC()
		t.Status = TokenStatusRevoked
		t.RevokedAt = &now
		t.RevokedBy = revokedBy
	}

	result := *t
	return &result, nil
}

// ListTokens returns up to limit tokens, newest first.
func (m *MockStore) ListTokens(ctx context.Context, limit int, activeOnly bool) ([]*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = normalizeListLimit(limit)

	// Walk insertion order newest first; the stable sort then keeps that
	// order for equal timestamps, matching the SQLite rowid tie-break.
	var tokens []*Token
	for i := len(m.order) - 1; i >= 0; i-- {
		t := m.tokens[m.order[i]]
		if activeOnly && t.Status != TokenStatusActive {
			continue
		}
		result := *t
		tokens = append(tokens, &result)
	}

	sortTokensNewestFirst(tokens)
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens, nil
}

// SearchTokensByOwner returns tokens matching the owner query, newest first.
func (m *MockStore) SearchTokensByOwner(ctx context.Context, query string) ([]*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tokens []*Token
	for i := len(m.order) - 1; i >= 0; i-- {
		t := m.tokens[m.order[i]]
		if !strings.Contains(t.OwnerID, query) && !strings.Contains(t.OwnerHandle, query) {
			continue
		}
		result := *t
		tokens = append(tokens, &result)
	}

	sortTokensNewestFirst(tokens)
	if limit := normalizeListLimit(0); len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens, nil
}

// RecordTokenAccess increments access_count for an active token.
func (m *MockStore) RecordTokenAccess(ctx context.Context, token string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != TokenStatusActive {
		return nil, ErrTokenRevoked
	}

	now := time.Now().UTC()
	t.AccessCount++
	t.LastAccessAt = &now

	result := *t
	return &result, nil
}

// AppendAuditLog appends an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns audit entries matching the filter, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeAuditLimit(f.Limit)

	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		e := m.audit[i]
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.Timestamp.After(*f.Until) {
			continue
		}
		if f.ActorID != nil && e.ActorID != *f.ActorID {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// sortTokensNewestFirst orders tokens by created_at descending. Callers
// pass slices already in reverse insertion order so ties stay stable.
func sortTokensNewestFirst(tokens []*Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
}
