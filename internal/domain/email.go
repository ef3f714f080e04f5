package domain

import (
	"fmt"
	"time"
)

// EmailDirection distinguishes messages we send from messages we receive.
type EmailDirection string

const (
	DirectionInbound  EmailDirection = "inbound"
	DirectionOutbound EmailDirection = "outbound"
)

// EmailType identifies where a message sits in the conversation sequence.
type EmailType string

const (
	EmailTypePitch           EmailType = "pitch"
	EmailTypeReply           EmailType = "reply"
	EmailTypeReminder1       EmailType = "reminder_1"
	EmailTypeReminder2       EmailType = "reminder_2"
	EmailTypeDiscoveryInvite EmailType = "discovery_invite"
)

// EmailStatus enumerates the lifecycle of a message. An outbound message
// only affects conversation state once it reaches SENT; PENDING_APPROVAL
// drafts are invisible to the state machine until a human approves them.
type EmailStatus string

const (
	EmailPendingApproval EmailStatus = "PENDING_APPROVAL"
	EmailSent            EmailStatus = "SENT"
	EmailDeclined        EmailStatus = "DECLINED"
	EmailReceived        EmailStatus = "RECEIVED"
)

// Intent is the classified disposition of an inbound reply. It is a closed
// set: values outside the three constants are rejected at parse time, never
// stored.
type Intent string

const (
	IntentPositive Intent = "POSITIVE"
	IntentNeutral  Intent = "NEUTRAL"
	IntentNegative Intent = "NEGATIVE"
)

// ParseIntent validates a raw classifier output value.
func ParseIntent(s string) (Intent, error) {
	switch Intent(s) {
	case IntentPositive, IntentNeutral, IntentNegative:
		return Intent(s), nil
	}
	return "", fmt.Errorf("unrecognized intent %q", s)
}

// Email is a single message, inbound or outbound, linked to one decision
// maker. MessageID is the transport-level identifier used for dedup.
type Email struct {
	ID              string         `json:"id" db:"id"`
	DecisionMakerID string         `json:"decision_maker_id" db:"decision_maker_id"`
	Sender          string         `json:"sender" db:"sender"`
	Recipient       string         `json:"recipient" db:"recipient"`
	Subject         string         `json:"subject" db:"subject"`
	Body            string         `json:"body" db:"body"`
	Direction       EmailDirection `json:"direction" db:"direction"`
	Type            EmailType      `json:"type" db:"type"`
	Status          EmailStatus    `json:"status" db:"status"`
	Intent          *Intent        `json:"intent" db:"intent"`
	IntentScore     *float64       `json:"intent_confidence" db:"intent_confidence"`
	MessageID       string         `json:"message_id" db:"message_id"`
	SentAt          *time.Time     `json:"sent_at" db:"sent_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}
