package domain

import "time"

// ScheduleStatus enumerates the lifecycle of a follow-up obligation.
// Superseded schedules are cancelled, never deleted, to preserve the audit
// trail.
type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleProcessed ScheduleStatus = "processed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// TimerType identifies what a due schedule should trigger.
type TimerType string

const (
	TimerReminder1        TimerType = "REMINDER_1"
	TimerReminder2        TimerType = "REMINDER_2"
	TimerTerminationCheck TimerType = "TERMINATION_CHECK"
)

// FollowUpDelay is the fixed wait between an approved send and its
// follow-up timer.
const FollowUpDelay = 48 * time.Hour

// NextTimer maps the turn count reached by a send to the follow-up timer
// that should be scheduled. The zero value means no timer: conversations
// past the reminder sequence rely on TERMINATION_CHECK or the hard turn cap.
func NextTimer(turnCount int) TimerType {
	switch turnCount {
	case 1:
		return TimerReminder1
	case 2:
		return TimerReminder2
	case 3:
		return TimerTerminationCheck
	}
	return ""
}

// ReminderEmailType converts a reminder timer into the email type of the
// draft it produces.
func (t TimerType) ReminderEmailType() EmailType {
	switch t {
	case TimerReminder1:
		return EmailTypeReminder1
	case TimerReminder2:
		return EmailTypeReminder2
	}
	return EmailTypeReply
}

// ScheduledEmail is a future obligation: fire a reminder or termination
// check at ScheduledAt for one decision maker.
type ScheduledEmail struct {
	ID              string         `json:"id" db:"id"`
	DecisionMakerID string         `json:"decision_maker_id" db:"decision_maker_id"`
	RecipientEmail  string         `json:"recipient_email" db:"recipient_email"`
	Type            TimerType      `json:"type" db:"type"`
	Step            int            `json:"step" db:"step"`
	Status          ScheduleStatus `json:"status" db:"status"`
	ScheduledAt     time.Time      `json:"scheduled_at" db:"scheduled_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}
