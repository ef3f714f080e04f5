package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		30 * time.Minute,
		120 * time.Minute,
		600 * time.Minute,
	}
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		assert.Equal(t, want[attempt-1], Backoff(attempt), "attempt %d", attempt)
	}
}

func TestBackoffMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		d := Backoff(attempt)
		if d <= prev {
			t.Errorf("Backoff(%d) = %v, not greater than Backoff(%d) = %v", attempt, d, attempt-1, prev)
		}
		prev = d
	}
	// Past the table the delay falls back to one day.
	assert.Equal(t, 1440*time.Minute, Backoff(MaxRetries+1))
}

func TestAppendInsertsUnprocessedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("EMAIL_RECEIVED", "email-1", "EMAIL", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = Append(context.Background(), db, "EMAIL_RECEIVED", "email-1", "EMAIL",
		map[string]string{"dm_id": "dm-1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendNilPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("MONITORING_ACTIVATED", "camp-1", "CAMPAIGN", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = Append(context.Background(), db, "MONITORING_ACTIVATED", "camp-1", "CAMPAIGN", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimUsesSkipLockedAndRetryGate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "event_type", "entity_id", "entity_type", "payload",
		"processed", "retry_count", "last_error", "next_retry_at", "created_at",
	}).
		AddRow(int64(1), "EMAIL_RECEIVED", "email-1", "EMAIL", `{"dm_id":"dm-1"}`, false, 0, nil, nil, now).
		AddRow(int64(2), "TIMER_FIRED", "dm-2", "DECISION_MAKER", nil, false, 2, "classifier timeout", now, now)

	mock.ExpectBegin()
	// The claim must exclude exhausted events and skip rows locked by
	// another worker rather than blocking on them.
	mock.ExpectQuery(`SELECT (.+) FROM event_log\s+WHERE processed = FALSE\s+AND \(next_retry_at IS NULL OR next_retry_at <= NOW\(\)\)\s+AND retry_count < \$1\s+ORDER BY created_at ASC\s+LIMIT \$2\s+FOR UPDATE SKIP LOCKED`).
		WithArgs(MaxRetries, 10).
		WillReturnRows(rows)

	tx, err := db.Begin()
	require.NoError(t, err)

	entries, err := Claim(context.Background(), tx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "EMAIL_RECEIVED", entries[0].EventType)
	assert.Equal(t, "email-1", entries[0].EntityID)
	assert.JSONEq(t, `{"dm_id":"dm-1"}`, string(entries[0].Payload))
	assert.Equal(t, 2, entries[1].RetryCount)
	assert.Nil(t, entries[1].Payload)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureAdvancesBackoff(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cause := errors.New("drafter unavailable")
	entry := Entry{ID: 7, RetryCount: 2}

	mock.ExpectExec("UPDATE event_log").
		WithArgs(int64(7), 3, "drafter unavailable", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, RecordFailure(context.Background(), db, entry, cause))
	require.NoError(t, mock.ExpectationsWereMet())

	// Third attempt waits 30 minutes before becoming claimable again.
	assert.Equal(t, 30*time.Minute, Backoff(3))
}

func TestRequeueRejectsProcessedEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE event_log").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = Requeue(context.Background(), db, 3)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStuckListsExhaustedOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "event_type", "entity_id", "entity_type", "payload",
		"processed", "retry_count", "last_error", "next_retry_at", "created_at",
	}).AddRow(int64(9), "INTENT_CLASSIFIED", "email-9", "EMAIL", nil, false, 5, "store outage", time.Now(), time.Now())

	mock.ExpectQuery(`FROM event_log\s+WHERE processed = FALSE AND retry_count >= \$1`).
		WithArgs(MaxRetries).
		WillReturnRows(rows)

	entries, err := Stuck(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].RetryCount)
	assert.Equal(t, "store outage", entries[0].LastError.String)

	require.NoError(t, mock.ExpectationsWereMet())
}
