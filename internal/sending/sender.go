// Package sending owns the approval boundary: drafts become real outbound
// mail only here. Delivery goes through the Sender interface; the state
// transition that follows a successful send is MarkEmailSent.
package sending

import "context"

// OutboundMessage is one approved draft ready for delivery.
type OutboundMessage struct {
	To              string
	Subject         string
	Body            string
	CampaignID      string
	DecisionMakerID string
}

// Sender delivers a single outbound message and returns the provider
// message id. A non-nil error means the message was not accepted and the
// draft must stay pending.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (string, error)
}
