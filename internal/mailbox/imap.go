package mailbox

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// IMAPTransport pulls unseen messages from an IMAP mailbox over TLS. Each
// ListUnseen call dials a fresh connection; the poller interval is long
// enough that connection reuse buys nothing and a stale session is a
// common IMAP failure mode.
type IMAPTransport struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
}

// NewIMAPTransport creates a transport for the given account.
func NewIMAPTransport(host string, port int, username, password string) *IMAPTransport {
	if port == 0 {
		port = 993
	}
	return &IMAPTransport{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		Mailbox:  "INBOX",
	}
}

// ListUnseen fetches every unseen message. Messages are marked seen by the
// fetch, so a message is only ever returned once per mailbox.
func (t *IMAPTransport) ListUnseen(ctx context.Context) ([]InboundMessage, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", t.Host, t.Port), nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", t.Host, err)
	}
	defer c.Logout()

	if err := c.Login(t.Username, t.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}

	if _, err := c.Select(t.Mailbox, false); err != nil {
		return nil, fmt.Errorf("select %s: %w", t.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var result []InboundMessage
	for msg := range messages {
		im, err := t.decode(msg, section)
		if err != nil {
			log.Printf("[Mailbox] Skipping undecodable message: %v", err)
			continue
		}
		result = append(result, im)
	}
	if err := <-done; err != nil {
		return result, fmt.Errorf("fetch messages: %w", err)
	}
	return result, nil
}

func (t *IMAPTransport) decode(msg *imap.Message, section *imap.BodySectionName) (InboundMessage, error) {
	var im InboundMessage

	if msg.Envelope != nil {
		im.Subject = msg.Envelope.Subject
		im.MessageID = msg.Envelope.MessageId
		if len(msg.Envelope.From) > 0 {
			im.From = strings.ToLower(msg.Envelope.From[0].Address())
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return im, fmt.Errorf("message has no body section")
	}
	parsed, err := mail.ReadMessage(r)
	if err != nil {
		return im, fmt.Errorf("parse message: %w", err)
	}
	im.Body = extractPlainText(parsed)
	return im, nil
}

// extractPlainText returns the text/plain content of a message, walking
// one level of multipart nesting. Anything else falls back to the raw
// body.
func extractPlainText(msg *mail.Message) string {
	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		data, _ := io.ReadAll(msg.Body)
		return string(data)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var fallback string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		data, _ := io.ReadAll(part)
		if partType == "text/plain" {
			return string(data)
		}
		if fallback == "" {
			fallback = string(data)
		}
	}
	return fallback
}
