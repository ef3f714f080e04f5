package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/outreach-monitor/internal/domain"
)

// =============================================================================
// EVENT LOG & CLAIM PROTOCOL
// =============================================================================
// The event_log table is the single source of truth for "what must still
// happen". Events are appended in the same transaction as the state change
// that caused them (write-ahead contract), claimed in batches with
// FOR UPDATE SKIP LOCKED so parallel orchestrator instances never process
// the same entry, and retried on a fixed backoff schedule when a handler
// fails.

// MaxRetries is the number of handler attempts before an event is frozen
// for operator attention.
const MaxRetries = 5

// backoffMinutes maps the attempt number to the delay before the event
// becomes claimable again.
var backoffMinutes = map[int]int{
	1: 1,
	2: 5,
	3: 30,
	4: 120,
	5: 600,
}

// defaultBackoffMinutes applies if retry bookkeeping somehow runs past the
// table (should not happen while MaxRetries == len(backoffMinutes)).
const defaultBackoffMinutes = 1440

// Backoff returns the retry delay for the given attempt number (1-based).
func Backoff(attempt int) time.Duration {
	m, ok := backoffMinutes[attempt]
	if !ok {
		m = defaultBackoffMinutes
	}
	return time.Duration(m) * time.Minute
}

// Entry is one append-only event log row. Only the bookkeeping fields
// (processed, retry_count, last_error, next_retry_at) are ever updated.
type Entry struct {
	ID          int64
	EventType   string
	EntityID    string
	EntityType  domain.EntityType
	Payload     json.RawMessage
	Processed   bool
	RetryCount  int
	LastError   sql.NullString
	NextRetryAt sql.NullTime
	CreatedAt   time.Time
}

// Execer is satisfied by *sql.DB and *sql.Tx. Append takes it so callers
// can (and should) append inside the transaction that carries the state
// change the event describes.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Append durably inserts an unprocessed event. payload may be nil.
func Append(ctx context.Context, ex Execer, eventType, entityID string, entityType domain.EntityType, payload interface{}) error {
	var payloadJSON interface{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", eventType, err)
		}
		payloadJSON = string(data)
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO event_log (event_type, entity_id, entity_type, payload, processed, retry_count, created_at)
		VALUES ($1, $2, $3, $4, FALSE, 0, NOW())
	`, eventType, entityID, string(entityType), payloadJSON)
	if err != nil {
		return fmt.Errorf("append event %s: %w", eventType, err)
	}
	return nil
}

// Claim selects up to batchSize claimable entries, oldest first, locking
// them for the duration of the caller's transaction. Rows locked by another
// worker's in-flight claim are skipped, not waited on, so ordering is
// approximate FIFO across workers.
func Claim(ctx context.Context, tx *sql.Tx, batchSize int) ([]Entry, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_type, entity_id, entity_type, payload, processed, retry_count, last_error, next_retry_at, created_at
		FROM event_log
		WHERE processed = FALSE
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		  AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, MaxRetries, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var entityType string
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &e.EntityID, &entityType, &payload,
			&e.Processed, &e.RetryCount, &e.LastError, &e.NextRetryAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EntityType = domain.EntityType(entityType)
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkProcessed flips the processed flag inside the handler's transaction,
// committing atomically with every mutation the handler made.
func MarkProcessed(ctx context.Context, ex Execer, id int64) error {
	_, err := ex.ExecContext(ctx, `UPDATE event_log SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark event %d processed: %w", id, err)
	}
	return nil
}

// RecordFailure persists retry bookkeeping for a failed handler attempt.
// It must run on a connection outside the failed transaction so the failure
// itself is durably recorded even though the handler's work rolled back.
func RecordFailure(ctx context.Context, db *sql.DB, e Entry, cause error) error {
	retries := e.RetryCount + 1
	nextRetry := time.Now().UTC().Add(Backoff(retries))

	_, err := db.ExecContext(ctx, `
		UPDATE event_log
		SET retry_count = $2, last_error = $3, next_retry_at = $4
		WHERE id = $1
	`, e.ID, retries, cause.Error(), nextRetry)
	if err != nil {
		return fmt.Errorf("record failure for event %d: %w", e.ID, err)
	}
	return nil
}

// Stuck returns unprocessed entries that exhausted their retries. These are
// never claimed again; they exist for operator inspection.
func Stuck(ctx context.Context, db *sql.DB) ([]Entry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, event_type, entity_id, entity_type, payload, processed, retry_count, last_error, next_retry_at, created_at
		FROM event_log
		WHERE processed = FALSE AND retry_count >= $1
		ORDER BY created_at ASC
	`, MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("list stuck events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var entityType string
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &e.EntityID, &entityType, &payload,
			&e.Processed, &e.RetryCount, &e.LastError, &e.NextRetryAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stuck event: %w", err)
		}
		e.EntityType = domain.EntityType(entityType)
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Requeue resets a stuck entry so it becomes claimable again. Operator
// action after the underlying fault is fixed.
func Requeue(ctx context.Context, db *sql.DB, id int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE event_log
		SET retry_count = 0, next_retry_at = NULL, last_error = NULL
		WHERE id = $1 AND processed = FALSE
	`, id)
	if err != nil {
		return fmt.Errorf("requeue event %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %d not found or already processed", id)
	}
	return nil
}
