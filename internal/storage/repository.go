package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertOrderEventSQL = `INSERT INTO order_events (
        logical_id,
        event_id,
        pubkey,
        side,
        currency,
        amount,
        premium,
        bond,
        payment_methods,
        source,
        link,
        status,
        created_at,
        expires_at,
        first_seen,
        last_seen
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
    )
    ON CONFLICT (logical_id) DO UPDATE
    SET
        event_id        = EXCLUDED.event_id,
        pubkey          = EXCLUDED.pubkey,
        side            = EXCLUDED.side,
        currency        = EXCLUDED.currency,
        amount          = EXCLUDED.amount,
        premium         = EXCLUDED.premium,
        bond            = EXCLUDED.bond,
        payment_methods = EXCLUDED.payment_methods,
        source          = EXCLUDED.source,
        link            = EXCLUDED.link,
        status          = EXCLUDED.status,
        created_at      = EXCLUDED.created_at,
        expires_at      = EXCLUDED.expires_at,
        last_seen       = EXCLUDED.last_seen;`

	markOrderClosedSQL = `UPDATE order_events
    SET status = 'closed', last_seen = $2
    WHERE logical_id = $1;`

	orderEventColumns = `logical_id,
        event_id,
        pubkey,
        side,
        currency,
        amount,
        premium,
        bond,
        payment_methods,
        source,
        link,
        status,
        created_at,
        expires_at,
        first_seen,
        last_seen`

	listRecentOrdersSQL = `SELECT ` + orderEventColumns + `
    FROM order_events
    ORDER BY created_at DESC
    LIMIT $1;`

	listOpenOrdersBetweenSQL = `SELECT ` + orderEventColumns + `
    FROM order_events
    WHERE status = 'open'
      AND last_seen >= $1
      AND last_seen < $2
    ORDER BY created_at DESC;`

	countOrdersSQL = `SELECT COUNT(*) FROM order_events;`

	upsertRateSampleSQL = `INSERT INTO rate_samples (
        bucket_ts,
        rates,
        source_count,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        rates        = EXCLUDED.rates,
        source_count = EXCLUDED.source_count,
        status       = EXCLUDED.status,
        error        = EXCLUDED.error;`

	latestRateSampleSQL = `SELECT
        bucket_ts,
        rates,
        source_count,
        status,
        error,
        created_at
    FROM rate_samples
    WHERE status = 'complete'
    ORDER BY bucket_ts DESC
    LIMIT 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// OrderArchive defines operations for the order observation archive.
type OrderArchive interface {
	UpsertOrderEvent(ctx context.Context, row OrderEvent) error
	MarkOrderClosed(ctx context.Context, logicalID string, seen time.Time) error
	ListRecentOrders(ctx context.Context, limit int) ([]OrderEvent, error)
	ListOpenOrdersBetween(ctx context.Context, from, to time.Time) ([]OrderEvent, error)
	CountOrders(ctx context.Context) (int64, error)
}

// RateSampleStore defines operations for rate refresh persistence.
type RateSampleStore interface {
	UpsertRateSample(ctx context.Context, sample RateSample) error
	LatestRateSample(ctx context.Context) (RateSample, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the order archive and rate samples.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; releasing the connection frees the lock anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertOrderEvent records or refreshes one order observation.
func (s *Store) UpsertOrderEvent(ctx context.Context, row OrderEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertOrderEventSQL,
		row.LogicalID,
		row.EventID,
		row.PubKey,
		row.Side,
		row.Currency,
		decimalArg(row.Amount),
		decimalArg(row.Premium),
		decimalArg(row.Bond),
		row.PaymentMethods,
		row.Source,
		row.Link,
		row.Status,
		row.CreatedAt,
		timeArg(row.ExpiresAt),
		row.FirstSeen,
		row.LastSeen,
	)
	if execErr != nil {
		return fmt.Errorf("upsert order event: %w", execErr)
	}
	return nil
}

// MarkOrderClosed flips an archived order to closed after supersession.
func (s *Store) MarkOrderClosed(ctx context.Context, logicalID string, seen time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markOrderClosedSQL, logicalID, seen); execErr != nil {
		return fmt.Errorf("mark order closed: %w", execErr)
	}
	return nil
}

// ListRecentOrders lists archived orders newest first.
func (s *Store) ListRecentOrders(ctx context.Context, limit int) ([]OrderEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOrdersSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent orders: %w", queryErr)
	}
	defer rows.Close()

	return collectOrderEvents(rows, limit)
}

// ListOpenOrdersBetween lists open orders last observed within a window.
func (s *Store) ListOpenOrdersBetween(ctx context.Context, from, to time.Time) ([]OrderEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpenOrdersBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list open orders between: %w", queryErr)
	}
	defer rows.Close()

	return collectOrderEvents(rows, 0)
}

// CountOrders counts archived orders.
func (s *Store) CountOrders(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countOrdersSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count orders: %w", scanErr)
	}
	return count, nil
}

// UpsertRateSample persists or updates a rate refresh observation.
func (s *Store) UpsertRateSample(ctx context.Context, sample RateSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	rates, marshalErr := json.Marshal(sample.Rates)
	if marshalErr != nil {
		return fmt.Errorf("marshal rate table: %w", marshalErr)
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertRateSampleSQL,
		sample.Bucket,
		rates,
		sample.SourceCount,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert rate sample: %w", execErr)
	}
	return nil
}

// LatestRateSample returns the most recent complete rate sample.
func (s *Store) LatestRateSample(ctx context.Context) (RateSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return RateSample{}, err
	}

	var (
		sample   RateSample
		rawRates json.RawMessage
		errMsg   sql.NullString
	)
	row := pool.QueryRow(ctx, latestRateSampleSQL)
	if scanErr := row.Scan(
		&sample.Bucket,
		&rawRates,
		&sample.SourceCount,
		&sample.Status,
		&errMsg,
		&sample.CreatedAt,
	); scanErr != nil {
		return RateSample{}, fmt.Errorf("latest rate sample: %w", scanErr)
	}

	if err := json.Unmarshal(rawRates, &sample.Rates); err != nil {
		return RateSample{}, fmt.Errorf("parse rate table: %w", err)
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}
	return sample, nil
}

func collectOrderEvents(rows pgx.Rows, sizeHint int) ([]OrderEvent, error) {
	events := make([]OrderEvent, 0, sizeHint)
	for rows.Next() {
		event, scanErr := scanOrderEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanOrderEvent(rows pgx.Rows) (OrderEvent, error) {
	var (
		event      OrderEvent
		amountStr  sql.NullString
		premiumStr sql.NullString
		bondStr    sql.NullString
		expiresAt  sql.NullTime
	)

	if err := rows.Scan(
		&event.LogicalID,
		&event.EventID,
		&event.PubKey,
		&event.Side,
		&event.Currency,
		&amountStr,
		&premiumStr,
		&bondStr,
		&event.PaymentMethods,
		&event.Source,
		&event.Link,
		&event.Status,
		&event.CreatedAt,
		&expiresAt,
		&event.FirstSeen,
		&event.LastSeen,
	); err != nil {
		return OrderEvent{}, err
	}

	var parseErr error
	if event.Amount, parseErr = parseDecimal(amountStr); parseErr != nil {
		return OrderEvent{}, fmt.Errorf("parse amount: %w", parseErr)
	}
	if event.Premium, parseErr = parseDecimal(premiumStr); parseErr != nil {
		return OrderEvent{}, fmt.Errorf("parse premium: %w", parseErr)
	}
	if event.Bond, parseErr = parseDecimal(bondStr); parseErr != nil {
		return OrderEvent{}, fmt.Errorf("parse bond: %w", parseErr)
	}
	if expiresAt.Valid {
		value := expiresAt.Time
		event.ExpiresAt = &value
	}

	return event, nil
}

func parseDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func decimalArg(v *decimal.Decimal) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func timeArg(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
