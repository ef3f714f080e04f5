package mailbox

import (
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseMessage(t *testing.T, raw string) *mail.Message {
	t.Helper()
	msg, err := mail.ReadMessage(strings.NewReader(raw))
	require.NoError(t, err)
	return msg
}

func TestExtractPlainTextSinglePart(t *testing.T) {
	msg := parseMessage(t, "Content-Type: text/plain\r\n\r\nJust a plain reply.\r\n")
	assert.Equal(t, "Just a plain reply.\r\n", extractPlainText(msg))
}

func TestExtractPlainTextMultipartPrefersPlain(t *testing.T) {
	raw := "Content-Type: multipart/alternative; boundary=xyz\r\n\r\n" +
		"--xyz\r\nContent-Type: text/html\r\n\r\n<p>hi</p>\r\n" +
		"--xyz\r\nContent-Type: text/plain\r\n\r\nhi there\r\n" +
		"--xyz--\r\n"
	msg := parseMessage(t, raw)
	assert.Equal(t, "hi there\r\n", extractPlainText(msg))
}

func TestExtractPlainTextMultipartFallsBackToFirstPart(t *testing.T) {
	raw := "Content-Type: multipart/alternative; boundary=xyz\r\n\r\n" +
		"--xyz\r\nContent-Type: text/html\r\n\r\n<p>only html</p>\r\n" +
		"--xyz--\r\n"
	msg := parseMessage(t, raw)
	assert.Equal(t, "<p>only html</p>\r\n", extractPlainText(msg))
}

func TestExtractPlainTextMissingContentType(t *testing.T) {
	msg := parseMessage(t, "Subject: no content type\r\n\r\nraw body\r\n")
	assert.Equal(t, "raw body\r\n", extractPlainText(msg))
}
