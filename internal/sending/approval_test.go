package sending

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent      []OutboundMessage
	messageID string
	err       error
}

func (f *fakeSender) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return f.messageID, nil
}

func dmRow(dmStatus string, turnCount int, campaignStatus, companyStatus string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"email", "status", "turn_count", "campaign_id", "campaign_status", "company_status",
	}).AddRow("alice@prospect.com", dmStatus, turnCount, "camp-1", campaignStatus, companyStatus)
}

func expectEmailLoad(mock sqlmock.Sqlmock, status string) {
	mock.ExpectQuery("SELECT status, decision_maker_id FROM emails").
		WithArgs("email-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "decision_maker_id"}).
			AddRow(status, "dm-1"))
}

func expectSendUpdates(mock sqlmock.Sqlmock, newTurn int) {
	mock.ExpectExec("UPDATE emails").
		WithArgs("email-1", "SENT", "ses-123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`turn_count = \$3`).
		WithArgs("dm-1", "ACTIVE", newTurn).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// A redelivered or double-clicked approval of an already-SENT email must
// change nothing.
func TestMarkEmailSentIdempotentWhenAlreadySent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	expectEmailLoad(mock, "SENT")
	mock.ExpectRollback()

	require.NoError(t, MarkEmailSent(context.Background(), db, "email-1", "ses-123"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEmailSentRejectsDeclinedDraft(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	expectEmailLoad(mock, "DECLINED")
	mock.ExpectRollback()

	err = MarkEmailSent(context.Background(), db, "email-1", "ses-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DECLINED")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEmailSentRefusesIneligibleDecisionMaker(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	expectEmailLoad(mock, "PENDING_APPROVAL")
	mock.ExpectQuery("FROM decision_makers dm").
		WithArgs("dm-1").
		WillReturnRows(dmRow("TERMINATED", 3, "MONITORING_ACTIVE", "ACTIVE"))
	mock.ExpectRollback()

	err = MarkEmailSent(context.Background(), db, "email-1", "ses-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TERMINATED")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEmailSentRefusesCompanyInDiscovery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	expectEmailLoad(mock, "PENDING_APPROVAL")
	mock.ExpectQuery("FROM decision_makers dm").
		WithArgs("dm-1").
		WillReturnRows(dmRow("ACTIVE", 3, "MONITORING_ACTIVE", "DISCOVERY"))
	mock.ExpectRollback()

	require.Error(t, MarkEmailSent(context.Background(), db, "email-1", "ses-123"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// First approved send of a campaign: turn 0 -> 1, campaign goes live, and
// REMINDER_1 is scheduled two days out.
func TestMarkEmailSentFirstSendActivatesCampaign(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	expectEmailLoad(mock, "PENDING_APPROVAL")
	mock.ExpectQuery("FROM decision_makers dm").
		WithArgs("dm-1").
		WillReturnRows(dmRow("new", 0, "MONITORING_READY", "ACTIVE"))
	expectSendUpdates(mock, 1)
	mock.ExpectExec("UPDATE campaigns").
		WithArgs("camp-1", "MONITORING_ACTIVE", "MONITORING_READY").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("CAMPAIGN_STATUS_UPDATED", "camp-1", "CAMPAIGN", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE scheduled_emails SET status").
		WithArgs("dm-1", "cancelled", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO scheduled_emails").
		WithArgs(sqlmock.AnyArg(), "dm-1", "alice@prospect.com", "REMINDER_1", 2, "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("TIMER_SCHEDULED", sqlmock.AnyArg(), "SCHEDULE", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("EMAIL_SENT", "email-1", "EMAIL", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, MarkEmailSent(context.Background(), db, "email-1", "ses-123"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEmailSentThirdTurnSchedulesTerminationCheck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	expectEmailLoad(mock, "PENDING_APPROVAL")
	mock.ExpectQuery("FROM decision_makers dm").
		WithArgs("dm-1").
		WillReturnRows(dmRow("ACTIVE", 2, "MONITORING_ACTIVE", "ACTIVE"))
	expectSendUpdates(mock, 3)
	mock.ExpectExec("UPDATE scheduled_emails SET status").
		WithArgs("dm-1", "cancelled", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO scheduled_emails").
		WithArgs(sqlmock.AnyArg(), "dm-1", "alice@prospect.com", "TERMINATION_CHECK", 4, "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("TIMER_SCHEDULED", sqlmock.AnyArg(), "SCHEDULE", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("EMAIL_SENT", "email-1", "EMAIL", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, MarkEmailSent(context.Background(), db, "email-1", "ses-123"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// Past the reminder sequence nothing new is scheduled; the conversation
// rides on replies until the turn cap.
func TestMarkEmailSentBeyondReminderSequenceSchedulesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	expectEmailLoad(mock, "PENDING_APPROVAL")
	mock.ExpectQuery("FROM decision_makers dm").
		WithArgs("dm-1").
		WillReturnRows(dmRow("ACTIVE", 3, "MONITORING_ACTIVE", "ACTIVE"))
	expectSendUpdates(mock, 4)
	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("EMAIL_SENT", "email-1", "EMAIL", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, MarkEmailSent(context.Background(), db, "email-1", "ses-123"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// A send that pushes the turn count past the hard cap terminates the
// conversation instead of scheduling another follow-up.
func TestMarkEmailSentEnforcesTurnCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	expectEmailLoad(mock, "PENDING_APPROVAL")
	mock.ExpectQuery("FROM decision_makers dm").
		WithArgs("dm-1").
		WillReturnRows(dmRow("ACTIVE", 10, "MONITORING_ACTIVE", "ACTIVE"))
	expectSendUpdates(mock, 11)
	mock.ExpectExec(`UPDATE decision_makers SET status = \$2 WHERE id`).
		WithArgs("dm-1", "TERMINATED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE scheduled_emails SET status").
		WithArgs("dm-1", "cancelled", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("DECISION_MAKER_TERMINATED", "dm-1", "DECISION_MAKER", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO event_log").
		WithArgs("EMAIL_SENT", "email-1", "EMAIL", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, MarkEmailSent(context.Background(), db, "email-1", "ses-123"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveDeliveryFailureLeavesDraftPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT e.status, e.recipient").
		WithArgs("email-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"status", "recipient", "subject", "body", "decision_maker_id", "campaign_id",
		}).AddRow("PENDING_APPROVAL", "alice@prospect.com", "Re: Intro", "body", "dm-1", "camp-1"))

	sender := &fakeSender{err: errors.New("ses throttled")}
	svc := NewService(db, sender)

	err = svc.Approve(context.Background(), "email-1")
	require.Error(t, err)
	assert.Empty(t, sender.sent)
	require.NoError(t, mock.ExpectationsWereMet(), "no state must change on delivery failure")
}

func TestApproveAlreadySentIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT e.status, e.recipient").
		WithArgs("email-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"status", "recipient", "subject", "body", "decision_maker_id", "campaign_id",
		}).AddRow("SENT", "alice@prospect.com", "Re: Intro", "body", "dm-1", "camp-1"))

	sender := &fakeSender{messageID: "ses-123"}
	svc := NewService(db, sender)

	require.NoError(t, svc.Approve(context.Background(), "email-1"))
	assert.Empty(t, sender.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeclineRequiresPendingDraft(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE emails SET status").
		WithArgs("email-1", "DECLINED", "PENDING_APPROVAL").
		WillReturnResult(sqlmock.NewResult(0, 0))

	svc := NewService(db, &fakeSender{})
	require.Error(t, svc.Decline(context.Background(), "email-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeclinePendingDraft(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE emails SET status").
		WithArgs("email-1", "DECLINED", "PENDING_APPROVAL").
		WillReturnResult(sqlmock.NewResult(0, 1))

	svc := NewService(db, &fakeSender{})
	require.NoError(t, svc.Decline(context.Background(), "email-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
