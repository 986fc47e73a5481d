package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"
)

// ErrMalformed is returned when a raw inbound payload cannot be parsed as a
// MIME message at all. Individually broken headers never cause this; they
// are dropped and the rest of the message is kept.
var ErrMalformed = errors.New("malformed message")

// ParsedMessage holds the header and body fields ingestion needs from a raw
// inbound MIME message.
type ParsedMessage struct {
	ProviderMessageID string
	InReplyTo         string
	References        []string
	Subject           string
	FromAddress       string
	ToAddresses       []string
	CcAddresses       []string
	BodyText          string
	UnsafeBodyHTML    string
}

// ParseRaw parses a raw RFC 5322 message using enmime.
func ParseRaw(raw []byte) (*ParsedMessage, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := &ParsedMessage{
		ProviderMessageID: strings.TrimSpace(envelope.GetHeader("Message-Id")),
		InReplyTo:         strings.TrimSpace(envelope.GetHeader("In-Reply-To")),
		References:        splitReferences(envelope.GetHeader("References")),
		Subject:           envelope.GetHeader("Subject"),
	}

	if from, err := envelope.AddressList("From"); err == nil && len(from) > 0 {
		msg.FromAddress = formatAddress(from[0])
	}
	if to, err := envelope.AddressList("To"); err == nil {
		msg.ToAddresses = formatAddressList(to)
	}
	if cc, err := envelope.AddressList("Cc"); err == nil {
		msg.CcAddresses = formatAddressList(cc)
	}

	msg.BodyText = envelope.Text

	// Get HTML body
	htmlBody := envelope.HTML
	if htmlBody == "" && envelope.Text != "" {
		htmlBody = strings.ReplaceAll(envelope.Text, "\n", "<br>")
	}
	msg.UnsafeBodyHTML = htmlBody

	return msg, nil
}

// Participants returns the bare, lowercased addresses from the From, To and
// Cc headers, deduplicated in order of appearance.
func (m *ParsedMessage) Participants() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(formatted string) {
		bare := bareAddress(formatted)
		if bare == "" || seen[bare] {
			return
		}
		seen[bare] = true
		out = append(out, bare)
	}

	add(m.FromAddress)
	for _, a := range m.ToAddresses {
		add(a)
	}
	for _, a := range m.CcAddresses {
		add(a)
	}
	return out
}

// splitReferences splits a References header into individual identifier
// tokens. The header is whitespace-separated; anything that survives the
// split is kept as-is for the threading layer to normalize.
func splitReferences(header string) []string {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// formatAddress formats a parsed address to a display string.
func formatAddress(address *mail.Address) string {
	if address == nil || address.Address == "" {
		return ""
	}
	if address.Name != "" {
		return fmt.Sprintf("%s <%s>", address.Name, address.Address)
	}
	return address.Address
}

func formatAddressList(addresses []*mail.Address) []string {
	var out []string
	for _, a := range addresses {
		if formatted := formatAddress(a); formatted != "" {
			out = append(out, formatted)
		}
	}
	return out
}

// bareAddress extracts the lowercased addr-spec from a formatted address.
func bareAddress(formatted string) string {
	if formatted == "" {
		return ""
	}
	if parsed, err := mail.ParseAddress(formatted); err == nil {
		return strings.ToLower(parsed.Address)
	}
	return strings.ToLower(strings.TrimSpace(formatted))
}
