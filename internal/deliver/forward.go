package deliver

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/relaykit/relay/internal/models"
)

// composeForward rebuilds a stored inbound message for re-submission to the
// forward recipients. The original From, Subject and threading headers are
// preserved so the recipient's client threads the copy with the original
// conversation.
func composeForward(recipients []string, msg *models.InboundMessage) ([]byte, error) {
	from := parseOrBare(msg.FromAddress)

	var to []mail.Address
	for _, r := range recipients {
		to = append(to, parseOrBare(r))
	}

	b := enmime.Builder().
		From(from.Name, from.Address).
		ToAddrs(to).
		Subject(msg.Subject).
		Date(msg.ReceivedAt).
		Text([]byte(msg.BodyText))

	if msg.UnsafeBodyHTML != "" {
		b = b.HTML([]byte(msg.UnsafeBodyHTML))
	}
	if msg.ProviderMessageID != "" {
		b = b.Header("Message-Id", msg.ProviderMessageID)
	}
	if msg.InReplyTo != "" {
		b = b.Header("In-Reply-To", msg.InReplyTo)
	}
	if len(msg.References) > 0 {
		b = b.Header("References", strings.Join(msg.References, " "))
	}

	part, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build forward: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode forward: %w", err)
	}
	return buf.Bytes(), nil
}

func parseOrBare(formatted string) mail.Address {
	if parsed, err := mail.ParseAddress(formatted); err == nil {
		return *parsed
	}
	return mail.Address{Address: strings.TrimSpace(formatted)}
}
