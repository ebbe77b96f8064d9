package testutil

import (
	"fmt"
	"strings"
)

// MessageBuilder assembles RFC 5322 test messages with CRLF line endings
type MessageBuilder struct {
	headers     [][2]string
	body        string
	parts       []part
	boundary    string
	contentType string
}

type part struct {
	header string
	body   string
}

// NewMessageBuilder starts a message with From, To, Subject, Date and Message-ID
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		headers: [][2]string{
			{"From", "Alice Example <alice@example.com>"},
			{"To", "Bob Example <bob@example.com>"},
			{"Subject", "Quarterly report"},
			{"Date", "Mon, 02 Jan 2006 15:04:05 +0000"},
			{"Message-ID", "<report-1@example.com>"},
		},
		body:     "Hello Bob,\r\nsee attached.\r\n",
		boundary: "archive-boundary-42",
	}
}

// WithHeader sets or replaces a header; an empty value removes it
func (b *MessageBuilder) WithHeader(key, value string) *MessageBuilder {
	for i, h := range b.headers {
		if strings.EqualFold(h[0], key) {
			if value == "" {
				b.headers = append(b.headers[:i], b.headers[i+1:]...)
			} else {
				b.headers[i][1] = value
			}
			return b
		}
	}
	if value != "" {
		b.headers = append(b.headers, [2]string{key, value})
	}
	return b
}

// WithoutHeader removes a header
func (b *MessageBuilder) WithoutHeader(key string) *MessageBuilder {
	return b.WithHeader(key, "")
}

// WithMessageID sets the Message-ID header, adding angle brackets
func (b *MessageBuilder) WithMessageID(id string) *MessageBuilder {
	return b.WithHeader("Message-ID", "<"+id+">")
}

// WithBody sets a single-part text/plain body
func (b *MessageBuilder) WithBody(body string) *MessageBuilder {
	b.body = body
	return b
}

// WithContentType sets the single-part content type
func (b *MessageBuilder) WithContentType(ct string) *MessageBuilder {
	b.contentType = ct
	return b
}

// WithTextPart appends a text part of the given subtype (plain or html)
func (b *MessageBuilder) WithTextPart(subtype, body string) *MessageBuilder {
	b.parts = append(b.parts, part{
		header: fmt.Sprintf("Content-Type: text/%s; charset=utf-8\r\n", subtype),
		body:   body,
	})
	return b
}

// WithAttachment appends a base64 attachment part
func (b *MessageBuilder) WithAttachment(filename, contentType, base64Body string) *MessageBuilder {
	b.parts = append(b.parts, part{
		header: fmt.Sprintf("Content-Type: %s; name=\"%s\"\r\nContent-Disposition: attachment; filename=\"%s\"\r\nContent-Transfer-Encoding: base64\r\n",
			contentType, filename, filename),
		body: base64Body,
	})
	return b
}

// WithInlineImage appends an inline image part with a Content-ID
func (b *MessageBuilder) WithInlineImage(cid, base64Body string) *MessageBuilder {
	b.parts = append(b.parts, part{
		header: fmt.Sprintf("Content-Type: image/png\r\nContent-Disposition: inline\r\nContent-ID: <%s>\r\nContent-Transfer-Encoding: base64\r\n", cid),
		body:   base64Body,
	})
	return b
}

// Build renders the message
func (b *MessageBuilder) Build() []byte {
	var sb strings.Builder
	for _, h := range b.headers {
		sb.WriteString(h[0] + ": " + h[1] + "\r\n")
	}
	sb.WriteString("MIME-Version: 1.0\r\n")

	if len(b.parts) == 0 {
		ct := b.contentType
		if ct == "" {
			ct = "text/plain; charset=utf-8"
		}
		sb.WriteString("Content-Type: " + ct + "\r\n\r\n")
		sb.WriteString(b.body)
		return []byte(sb.String())
	}

	sb.WriteString("Content-Type: multipart/mixed; boundary=\"" + b.boundary + "\"\r\n\r\n")
	for _, p := range b.parts {
		sb.WriteString("--" + b.boundary + "\r\n")
		sb.WriteString(p.header + "\r\n")
		sb.WriteString(p.body + "\r\n")
	}
	sb.WriteString("--" + b.boundary + "--\r\n")
	return []byte(sb.String())
}
