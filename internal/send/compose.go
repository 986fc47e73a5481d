package send

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// composeInput is everything needed to build one outbound MIME message.
type composeInput struct {
	MessageID  string
	From       mail.Address
	To         []mail.Address
	Cc         []mail.Address
	Subject    string
	Text       string
	HTML       string
	InReplyTo  string
	References []string
	Date       time.Time
}

// composeMIME builds the raw message with enmime.
func composeMIME(in composeInput) ([]byte, error) {
	b := enmime.Builder().
		From(in.From.Name, in.From.Address).
		ToAddrs(in.To).
		Subject(in.Subject).
		Date(in.Date).
		Header("Message-Id", in.MessageID).
		Text([]byte(in.Text))

	if len(in.Cc) > 0 {
		b = b.CCAddrs(in.Cc)
	}
	if in.HTML != "" {
		b = b.HTML([]byte(in.HTML))
	}
	if in.InReplyTo != "" {
		b = b.Header("In-Reply-To", in.InReplyTo)
	}
	if len(in.References) > 0 {
		b = b.Header("References", strings.Join(in.References, " "))
	}

	part, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// replySubject derives the subject for a reply to a message with the given
// subject, avoiding stacked prefixes.
func replySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return "Re:"
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}
