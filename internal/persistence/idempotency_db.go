package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresIdempotencyChecker is the second dedup tier behind the core LRU.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db, timeout: 500 * time.Millisecond}
}

// IsDuplicate reports whether (commandType, key) has already been persisted.
func (pic *PostgresIdempotencyChecker) IsDuplicate(ctx context.Context, commandType, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM escrow_log.idempotency
		WHERE command_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, commandType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LoadRecentKeys returns up to limit composite keys, newest last, for
// warming the in-memory tier on startup.
func (pic *PostgresIdempotencyChecker) LoadRecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT command_type, idempotency_key FROM (
			SELECT command_type, idempotency_key, sequence
			FROM escrow_log.idempotency
			ORDER BY sequence DESC
			LIMIT $1
		) recent ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load idempotency keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var op, key string
		if err := rows.Scan(&op, &key); err != nil {
			return nil, err
		}
		keys = append(keys, op+":"+key)
	}
	return keys, rows.Err()
}

// Tail returns the sequence to continue from and the last state hash.
// An empty log yields (0, zero hash).
func Tail(ctx context.Context, db *sql.DB) (int64, [32]byte, error) {
	var (
		seq  int64
		hash []byte
		prev [32]byte
	)
	err := db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM escrow_log.events ORDER BY sequence DESC LIMIT 1
	`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, prev, nil
	}
	if err != nil {
		return 0, prev, fmt.Errorf("read log tail: %w", err)
	}
	if len(hash) != len(prev) {
		return 0, prev, fmt.Errorf("read log tail: state hash has %d bytes", len(hash))
	}
	copy(prev[:], hash)
	return seq + 1, prev, nil
}
