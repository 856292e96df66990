// ABOUTME: Token ledger operations for the SQLite store
// ABOUTME: Insert, lookup, idempotent revoke, recent listing, owner search, access tracking

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// normalizeListLimit applies default (20) and cap (200) to token list limits.
func normalizeListLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 200:
		return 200
	default:
		return limit
	}
}

const tokenColumns = `token, login, secret, owner_id, owner_handle, status, created_at, revoked_at, revoked_by, access_count, last_access_at`

// scanToken scans a row into a Token.
func scanToken(scanner interface{ Scan(dest ...any) error }) (*Token, error) {
	var t Token
	var ownerHandle, revokedAt, revokedBy, lastAccessAt sql.NullString
	var createdAtStr string

	if err := scanner.Scan(
		&t.Token,
		&t.Login,
		&t.Secret,
		&t.OwnerID,
		&ownerHandle,
		&t.Status,
		&createdAtStr,
		&revokedAt,
		&revokedBy,
		&t.AccessCount,
		&lastAccessAt,
	); err != nil {
		return nil, err
	}

	t.OwnerHandle = ownerHandle.String
	t.RevokedBy = revokedBy.String

	var err error
	t.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if revokedAt.Valid {
		ts, err := time.Parse(time.RFC3339, revokedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing revoked_at: %w", err)
		}
		t.RevokedAt = &ts
	}
	if lastAccessAt.Valid {
		ts, err := time.Parse(time.RFC3339, lastAccessAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_access_at: %w", err)
		}
		t.LastAccessAt = &ts
	}

	return &t, nil
}

// InsertToken adds a new token record to the ledger.
// Returns ErrTokenExists if the token string is already present.
func (s *SQLiteStore) InsertToken(ctx context.Context, t *Token) error {
	if t.Status == "" {
		t.Status = TokenStatusActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tokens (token, login, secret, owner_id, owner_handle, status, created_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`

	_, err := s.db.ExecContext(ctx, query,
		t.Token,
		t.Login,
		t.Secret,
		t.OwnerID,
		nullString(t.OwnerHandle),
		t.Status,
		t.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrTokenExists
		}
		return fmt.Errorf("inserting token: %w", err)
	}

	s.logger.Debug("inserted token", "token", t.Token, "owner", t.OwnerID)
	return nil
}

// GetToken retrieves a token record by its public identifier.
// Returns ErrNotFound if the token doesn't exist.
func (s *SQLiteStore) GetToken(ctx context.Context, token string) (*Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE token = ?
	`, token)

	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}
	return t, nil
}

// RevokeToken marks a token revoked and returns the updated record.
// Idempotent: revoking an already-revoked token succeeds and keeps the
// original revoked_at and revoked_by (COALESCE in the update).
// Returns ErrNotFound if the token doesn't exist.
func (s *SQLiteStore) RevokeToken(ctx context.Context, token, revokedBy string) (*Token, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE tokens
		SET status = ?, revoked_at = COALESCE(revoked_at, ?), revoked_by = COALESCE(revoked_by, ?)
		WHERE token = ?
	`, TokenStatusRevoked, now, nullString(revokedBy), token)
	if err != nil {
		return nil, fmt.Errorf("revoking token: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrNotFound
	}

	s.logger.Info("revoked token", "token", token, "revoked_by", revokedBy)
	return s.GetToken(ctx, token)
}

// ListTokens returns up to limit tokens, newest first.
// With activeOnly set, revoked tokens are excluded.
func (s *SQLiteStore) ListTokens(ctx context.Context, limit int, activeOnly bool) ([]*Token, error) {
	limit = normalizeListLimit(limit)

	var statusFilter *string
	if activeOnly {
		active := TokenStatusActive
		statusFilter = &active
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE (? IS NULL OR status = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, statusFilter, statusFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTokens(rows)
}

// SearchTokensByOwner returns tokens whose owner id or handle contains the
// query as a substring, newest first.
func (s *SQLiteStore) SearchTokensByOwner(ctx context.Context, query string) ([]*Token, error) {
	pattern := "%" + query + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE owner_id LIKE ? OR owner_handle LIKE ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, pattern, pattern, normalizeListLimit(0))
	if err != nil {
		return nil, fmt.Errorf("searching tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTokens(rows)
}

// collectTokens drains a result set into a slice.
func collectTokens(rows *sql.Rows) ([]*Token, error) {
	var tokens []*Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating token rows: %w", err)
	}
	return tokens, nil
}

// RecordTokenAccess increments access_count and stamps last_access_at for
// an active token, returning the updated record. Revoked tokens are not
// counted: callers get ErrTokenRevoked so the resolve layer can answer
// Gone without mutating the ledger.
func (s *SQLiteStore) RecordTokenAccess(ctx context.Context, token string) (*Token, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE tokens
		SET access_count = access_count + 1, last_access_at = ?
		WHERE token = ? AND status = ?
	`, now, token, TokenStatusActive)
	if err != nil {
		return nil, fmt.Errorf("recording token access: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish missing from revoked for the caller.
		t, err := s.GetToken(ctx, token)
		if err != nil {
			return nil, err
		}
		if !t.Active() {
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("recording token access: update matched no rows for active token %s", token)
	}

	return s.GetToken(ctx, token)
}
