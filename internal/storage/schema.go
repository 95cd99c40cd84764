package storage

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS order_events (
    logical_id      TEXT PRIMARY KEY,
    event_id        TEXT NOT NULL,
    pubkey          TEXT NOT NULL,
    side            TEXT NOT NULL,
    currency        TEXT NOT NULL,
    amount          TEXT,
    premium         TEXT,
    bond            TEXT,
    payment_methods TEXT NOT NULL DEFAULT '',
    source          TEXT NOT NULL DEFAULT '',
    link            TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    expires_at      TIMESTAMPTZ,
    first_seen      TIMESTAMPTZ NOT NULL,
    last_seen       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS order_events_last_seen_idx ON order_events (status, last_seen);

CREATE TABLE IF NOT EXISTS rate_samples (
    bucket_ts    TIMESTAMPTZ PRIMARY KEY,
    rates        JSONB,
    source_count INTEGER NOT NULL DEFAULT 0,
    status       TEXT NOT NULL,
    error        TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the archive tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, schemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}
