package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dueRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "type", "step", "decision_maker_id",
		"dm_status", "campaign_status", "company_status",
	})
}

func TestStartStop(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	te := New(db)
	te.SetPollInterval(time.Hour)

	require.NoError(t, te.Start())
	require.Error(t, te.Start(), "double Start() should error")
	te.Stop()
}

func TestDueTimerFiresForActiveConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM scheduled_emails se`).
		WithArgs(DefaultBatchSize).
		WillReturnRows(dueRows().
			AddRow("sched-1", "REMINDER_1", 2, "dm-1", "ACTIVE", "MONITORING_ACTIVE", "ACTIVE"))
	mock.ExpectExec("UPDATE scheduled_emails SET status").
		WithArgs("sched-1", "processed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("TIMER_FIRED", "dm-1", "DECISION_MAKER", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	te := New(db)
	require.NoError(t, te.CheckTimers(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDueTimerCancelledWhenDecisionMakerInactive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM scheduled_emails se`).
		WithArgs(DefaultBatchSize).
		WillReturnRows(dueRows().
			AddRow("sched-1", "REMINDER_2", 3, "dm-1", "TERMINATED", "MONITORING_ACTIVE", "ACTIVE"))
	mock.ExpectExec("UPDATE scheduled_emails SET status").
		WithArgs("sched-1", "cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	te := New(db)
	require.NoError(t, te.CheckTimers(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDueTimerCancelledWhenCompanyInDiscovery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM scheduled_emails se`).
		WithArgs(DefaultBatchSize).
		WillReturnRows(dueRows().
			AddRow("sched-1", "REMINDER_1", 2, "dm-1", "ACTIVE", "MONITORING_ACTIVE", "DISCOVERY"))
	mock.ExpectExec("UPDATE scheduled_emails SET status").
		WithArgs("sched-1", "cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	te := New(db)
	require.NoError(t, te.CheckTimers(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

// A paused campaign leaves the schedule pending: it should fire once
// monitoring resumes, not be lost.
func TestDueTimerLeftPendingWhenCampaignPaused(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM scheduled_emails se`).
		WithArgs(DefaultBatchSize).
		WillReturnRows(dueRows().
			AddRow("sched-1", "TERMINATION_CHECK", 4, "dm-1", "ACTIVE", "MONITORING_READY", "ACTIVE"))
	mock.ExpectCommit()

	te := New(db)
	require.NoError(t, te.CheckTimers(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMixedBatchHandledIndependently(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM scheduled_emails se`).
		WithArgs(DefaultBatchSize).
		WillReturnRows(dueRows().
			AddRow("sched-1", "REMINDER_1", 2, "dm-1", "ACTIVE", "MONITORING_ACTIVE", "ACTIVE").
			AddRow("sched-2", "REMINDER_1", 2, "dm-2", "DISCOVERY", "MONITORING_ACTIVE", "ACTIVE").
			AddRow("sched-3", "REMINDER_2", 3, "dm-3", "ACTIVE", "MONITORING_READY", "ACTIVE"))
	// sched-1 fires.
	mock.ExpectExec("UPDATE scheduled_emails SET status").
		WithArgs("sched-1", "processed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("TIMER_FIRED", "dm-1", "DECISION_MAKER", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// sched-2 cancels, sched-3 stays pending.
	mock.ExpectExec("UPDATE scheduled_emails SET status").
		WithArgs("sched-2", "cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	te := New(db)
	require.NoError(t, te.CheckTimers(context.Background()))
	assert.Equal(t, int64(1), te.totalFired)
	assert.Equal(t, int64(1), te.totalCancelled)
	require.NoError(t, mock.ExpectationsWereMet())
}
