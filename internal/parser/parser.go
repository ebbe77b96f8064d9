// Package parser turns raw RFC 5322 bytes into a ParsedMessage.
//
// Parsing only fails when the header block is unreadable. Missing or broken
// optional fields are replaced: the date by a sentinel, the subject by "",
// the message-id by a digest of the raw bytes.
package parser

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	gotextproto "github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"
	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
	"github.com/welldanyogia/mailarchive/internal/logger"
)

// DefaultSentinelDate replaces missing or unparsable Date headers
var DefaultSentinelDate = time.Date(1971, 1, 1, 0, 0, 0, 0, time.UTC)

// Config for a Parser
type Config struct {
	Location     *time.Location
	SentinelDate time.Time
	Logger       *slog.Logger
}

// Parser decodes raw messages. It is safe for concurrent use.
type Parser struct {
	location *time.Location
	sentinel time.Time
	logger   *slog.Logger
	words    *mime.WordDecoder
}

// New creates a Parser; zero config values take the defaults
func New(cfg Config) *Parser {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SentinelDate.IsZero() {
		cfg.SentinelDate = DefaultSentinelDate
	}
	return &Parser{
		location: cfg.Location,
		sentinel: cfg.SentinelDate.In(cfg.Location),
		logger:   logger.OrDefault(cfg.Logger),
		words:    &mime.WordDecoder{CharsetReader: charset.Reader},
	}
}

// Parse decodes raw into a ParsedMessage
func (p *Parser) Parse(raw []byte) (*ParsedMessage, error) {
	raw = stripMboxSeparator(raw)
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty message", apperrors.ErrParse)
	}

	// The trailing blank line lets header-only messages parse
	hr := bufio.NewReader(io.MultiReader(bytes.NewReader(raw), strings.NewReader("\r\n\r\n")))
	th, err := gotextproto.ReadHeader(hr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrParse, err)
	}
	if th.Len() == 0 {
		return nil, fmt.Errorf("%w: no header fields", apperrors.ErrParse)
	}
	h := mail.Header{Header: message.Header{Header: th}}

	msg := &ParsedMessage{
		Headers: p.headerMap(th),
		Size:    int64(len(raw)),
	}

	msg.MessageID, msg.FallbackMessageID = p.messageID(h, raw)
	msg.Date, msg.FallbackDate = p.date(h)
	msg.Subject = p.decode(h.Get("Subject"))

	if from := p.addresses(h, "From", msg.MessageID); len(from) > 0 {
		msg.From = from[0]
	}
	msg.To = p.addresses(h, "To", msg.MessageID)
	msg.Cc = p.addresses(h, "Cc", msg.MessageID)
	msg.Bcc = p.addresses(h, "Bcc", msg.MessageID)

	msg.InReplyTo = msgIDList(h, "In-Reply-To")
	msg.References = msgIDList(h, "References")
	msg.XSpam = strings.Contains(strings.ToUpper(h.Get("X-Spam-Flag")), "YES")
	msg.MailingList = p.mailingList(h)

	// A broken MIME structure keeps the headers and drops the bodies
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		p.logger.Warn("unreadable mime structure",
			slog.String("message_id", msg.MessageID),
			slog.Any("error", err),
		)
		return msg, nil
	}
	for _, perr := range env.Errors {
		p.logger.Debug("mime defect",
			slog.String("message_id", msg.MessageID),
			slog.String("defect", perr.Error()),
		)
	}
	p.walk(env.Root, msg)

	return msg, nil
}

// stripMboxSeparator drops a leading "From " envelope line left by mbox exports
func stripMboxSeparator(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte("From ")) {
		return raw
	}
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		return raw[i+1:]
	}
	return nil
}

// headerMap returns every field, decoded, in order of appearance
func (p *Parser) headerMap(th gotextproto.Header) map[string][]string {
	headers := make(map[string][]string, th.Len())
	fields := th.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		headers[key] = append(headers[key], p.decode(fields.Value()))
	}
	return headers
}

// decode resolves RFC 2047 encoded words. When the value cannot be decoded
// as a whole, each whitespace separated fragment is decoded on its own and
// undecodable bytes become U+FFFD.
func (p *Parser) decode(value string) string {
	if value == "" {
		return ""
	}
	if decoded, err := p.words.DecodeHeader(value); err == nil {
		return strings.ToValidUTF8(decoded, "�")
	}

	fragments := strings.Fields(value)
	for i, fragment := range fragments {
		if decoded, err := p.words.Decode(fragment); err == nil {
			fragments[i] = decoded
		}
		fragments[i] = strings.ToValidUTF8(fragments[i], "�")
	}
	return strings.Join(fragments, " ")
}

func (p *Parser) messageID(h mail.Header, raw []byte) (string, bool) {
	if id, err := h.MessageID(); err == nil && id != "" {
		return id, false
	}
	if rawID := strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>"); rawID != "" {
		return p.decode(rawID), false
	}

	// Best effort only: the same message relayed with different framing
	// produces a different digest.
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), true
}

func (p *Parser) date(h mail.Header) (time.Time, bool) {
	if h.Get("Date") == "" {
		return p.sentinel, true
	}
	t, err := h.Date()
	if err != nil {
		p.logger.Debug("unparsable date header", slog.String("date", h.Get("Date")), slog.Any("error", err))
		return p.sentinel, true
	}
	return t.In(p.location), false
}

// addresses parses an address list. When the list as a whole does not
// parse, each top-level entry is parsed on its own and an entry without "@"
// is kept with its raw text as the address.
func (p *Parser) addresses(h mail.Header, key, messageID string) []Address {
	value := h.Get(key)
	if strings.TrimSpace(value) == "" {
		return nil
	}

	if list, err := h.AddressList(key); err == nil && allHaveAt(list) {
		result := make([]Address, 0, len(list))
		for _, a := range list {
			result = append(result, Address{Name: strings.TrimSpace(a.Name), Address: strings.ToLower(a.Address)})
		}
		return result
	}

	var result []Address
	for _, entry := range splitAddressList(value) {
		if isEmptyGroup(entry) {
			continue
		}
		a, err := mail.ParseAddress(entry)
		if err != nil || !strings.Contains(a.Address, "@") {
			result = append(result, p.fallbackAddress(key, entry, messageID))
			continue
		}
		result = append(result, Address{Name: strings.TrimSpace(a.Name), Address: strings.ToLower(a.Address)})
	}
	return result
}

func allHaveAt(list []*mail.Address) bool {
	for _, a := range list {
		if !strings.Contains(a.Address, "@") {
			return false
		}
	}
	return true
}

// splitAddressList splits on commas outside quotes, comments and angle
// brackets. Empty entries are dropped.
func splitAddressList(value string) []string {
	var (
		entries []string
		b       strings.Builder
		quoted  bool
		escaped bool
		angle   int
		comment int
	)
	flush := func() {
		if entry := strings.TrimSpace(b.String()); entry != "" {
			entries = append(entries, entry)
		}
		b.Reset()
	}
	for _, r := range value {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"' && comment == 0:
			quoted = !quoted
		case quoted:
		case r == '(':
			comment++
		case r == ')' && comment > 0:
			comment--
		case comment > 0:
		case r == '<':
			angle++
		case r == '>' && angle > 0:
			angle--
		case r == ',' && angle == 0:
			flush()
			continue
		}
		b.WriteRune(r)
	}
	flush()
	return entries
}

// isEmptyGroup matches group syntax without members, e.g. "undisclosed-recipients:;"
func isEmptyGroup(entry string) bool {
	i := strings.Index(entry, ":")
	return i > 0 && strings.TrimSpace(entry[i+1:]) == ";"
}

func (p *Parser) fallbackAddress(key, value, messageID string) Address {
	decoded := strings.TrimSpace(p.decode(value))
	p.logger.Warn("address without @, keeping raw header value",
		slog.String("header", key),
		slog.String("value", decoded),
		slog.String("message_id", messageID),
	)
	return Address{Address: decoded}
}

func msgIDList(h mail.Header, key string) []string {
	if h.Get(key) == "" {
		return nil
	}
	ids, err := h.MsgIDList(key)
	if err != nil || len(ids) == 0 {
		return nil
	}
	return ids
}

func (p *Parser) mailingList(h mail.Header) *MailingList {
	id := strings.TrimSpace(p.decode(h.Get("List-Id")))
	if id == "" {
		return nil
	}
	if start, end := strings.LastIndex(id, "<"), strings.LastIndex(id, ">"); start >= 0 && end > start {
		id = id[start+1 : end]
	}
	return &MailingList{
		ID:              id,
		Owner:           bestHref(h.Get("List-Owner")),
		Subscribe:       bestHref(h.Get("List-Subscribe")),
		Unsubscribe:     bestHref(h.Get("List-Unsubscribe")),
		UnsubscribePost: strings.TrimSpace(h.Get("List-Unsubscribe-Post")),
		Post:            bestHref(h.Get("List-Post")),
		Help:            bestHref(h.Get("List-Help")),
		Archive:         bestHref(h.Get("List-Archive")),
	}
}

// bestHref picks an https link, then an http link, then the first entry
// of an RFC 2369 list header.
func bestHref(value string) string {
	var hrefs []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if start, end := strings.Index(entry, "<"), strings.Index(entry, ">"); start >= 0 && end > start {
			entry = entry[start+1 : end]
		}
		if entry != "" {
			hrefs = append(hrefs, entry)
		}
	}
	if len(hrefs) == 0 {
		return ""
	}
	for _, scheme := range []string{"https://", "http://"} {
		for _, href := range hrefs {
			if strings.HasPrefix(strings.ToLower(href), scheme) {
				return href
			}
		}
	}
	return hrefs[0]
}

// walk visits parts depth first in document order, collecting text bodies
// and attachments.
func (p *Parser) walk(part *enmime.Part, msg *ParsedMessage) {
	if part == nil {
		return
	}

	contentType := strings.ToLower(part.ContentType)
	if contentType == "" && part.Parent == nil {
		contentType = "text/plain"
	}

	switch {
	case strings.EqualFold(part.Disposition, "attachment"):
		maintype, subtype, _ := strings.Cut(contentType, "/")
		msg.Attachments = append(msg.Attachments, Attachment{
			FileName:           part.FileName,
			ContentDisposition: "attachment",
			ContentID:          part.ContentID,
			Maintype:           maintype,
			Subtype:            subtype,
			Data:               part.Content,
		})
	case contentType == "text/plain":
		msg.PlainBody = appendBody(msg.PlainBody, string(part.Content))
	case contentType == "text/html":
		msg.HTMLBody = appendBody(msg.HTMLBody, string(part.Content))
	}

	for child := part.FirstChild; child != nil; child = child.NextSibling {
		p.walk(child, msg)
	}
}

func appendBody(body, content string) string {
	content = strings.ToValidUTF8(content, "�")
	if body == "" {
		return content
	}
	if content == "" {
		return body
	}
	return body + "\n" + content
}
