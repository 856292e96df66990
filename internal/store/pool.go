// ABOUTME: Pool entry operations for the SQLite store
// ABOUTME: FIFO enqueue in bounded batches and the atomic-once claim loop

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnqueueEntries appends values as unclaimed pool entries in insertion order.
// Entries are written in batches of enqueueBatchSize, one transaction per
// batch. On failure the returned count reflects the batches that committed;
// the error names the failed batch so nothing is silently dropped.
func (s *SQLiteStore) EnqueueEntries(ctx context.Context, values []string, batchID string) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	inserted := 0

	for start := 0; start < len(values); start += enqueueBatchSize {
		end := start + enqueueBatchSize
		if end > len(values) {
			end = len(values)
		}

		n, err := s.enqueueBatch(ctx, values[start:end], batchID, now)
		inserted += n
		if err != nil {
			return inserted, fmt.Errorf("inserting batch %d: %w", start/enqueueBatchSize, err)
		}
	}

	s.logger.Info("enqueued pool entries", "count", inserted, "batch_id", batchID)
	return inserted, nil
}

// enqueueBatch inserts one bounded slice of values inside a transaction.
func (s *SQLiteStore) enqueueBatch(ctx context.Context, values []string, batchID, createdAt string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pool_entries (value, status, batch_id, created_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range values {
		if _, err := stmt.ExecContext(ctx, v, PoolStatusUnclaimed, nullString(batchID), createdAt); err != nil {
			return 0, fmt.Errorf("inserting entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return len(values), nil
}

// ClaimEntry atomically claims the oldest unclaimed entry for claimantID.
// The update only applies while the entry is still unclaimed; a lost race
// moves on to the next-oldest entry. Returns ErrNoEntries when the pool is
// exhausted or the retry budget is spent.
func (s *SQLiteStore) ClaimEntry(ctx context.Context, claimantID string) (*PoolEntry, error) {
	for attempt := 0; attempt < claimRetryAttempts; attempt++ {
		var e PoolEntry
		var batchID sql.NullString
		var createdAtStr string

		err := s.db.QueryRowContext(ctx, `
			SELECT id, value, batch_id, created_at
			FROM pool_entries
			WHERE status = ?
			ORDER BY id
			LIMIT 1
		`, PoolStatusUnclaimed).Scan(&e.ID, &e.Value, &batchID, &createdAtStr)
		if err == sql.ErrNoRows {
			return nil, ErrNoEntries
		}
		if err != nil {
			return nil, fmt.Errorf("selecting oldest unclaimed entry: %w", err)
		}

		now := time.Now().UTC()
		result, err := s.db.ExecContext(ctx, `
			UPDATE pool_entries
			SET status = ?, claimed_by = ?, claimed_at = ?
			WHERE id = ? AND status = ?
		`, PoolStatusClaimed, claimantID, now.Format(time.RFC3339), e.ID, PoolStatusUnclaimed)
		if err != nil {
			return nil, fmt.Errorf("claiming entry %d: %w", e.ID, err)
		}

		rows, _ := result.RowsAffected()
		if rows == 0 {
			// Another claimant won this entry; scan forward.
			s.logger.Debug("lost claim race", "id", e.ID, "attempt", attempt+1)
			continue
		}

		e.Status = PoolStatusClaimed
		e.BatchID = batchID.String
		e.ClaimedBy = claimantID
		e.ClaimedAt = &now
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)

		s.logger.Info("claimed pool entry", "id", e.ID, "claimant", claimantID)
		return &e, nil
	}

	return nil, ErrNoEntries
}

// CountUnclaimed returns the number of unclaimed entries in the pool.
func (s *SQLiteStore) CountUnclaimed(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pool_entries WHERE status = ?
	`, PoolStatusUnclaimed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unclaimed entries: %w", err)
	}
	return count, nil
}
