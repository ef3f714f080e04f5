// Package mailbox ingests inbound prospect replies: it polls a mailbox
// transport for unseen messages, maps them to decision makers, dedupes,
// and appends EMAIL_RECEIVED events through the transactional event log
// contract.
package mailbox

import "context"

// InboundMessage is one unseen message pulled from the transport.
type InboundMessage struct {
	From      string
	Subject   string
	Body      string
	MessageID string
}

// Transport is the pull interface over the inbox. Implementations do
// network I/O only; all persistence happens in the poller.
type Transport interface {
	ListUnseen(ctx context.Context) ([]InboundMessage, error)
}
