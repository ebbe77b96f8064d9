package parser

import "time"

// Address is one (display name, address) entry of an address header
type Address struct {
	Name    string
	Address string
}

// Attachment is a MIME part with Content-Disposition: attachment
type Attachment struct {
	FileName           string
	ContentDisposition string
	ContentID          string
	Maintype           string
	Subtype            string
	Data               []byte
}

// Size returns the decoded byte length
func (a Attachment) Size() int64 {
	return int64(len(a.Data))
}

// MailingList is the descriptor carried by List-* headers
type MailingList struct {
	ID              string
	Owner           string
	Subscribe       string
	Unsubscribe     string
	UnsubscribePost string
	Post            string
	Help            string
	Archive         string
}

// ParsedMessage is the normalised form of one raw message. The importer
// reads it through the Has* predicates instead of checking fields itself.
type ParsedMessage struct {
	MessageID         string
	FallbackMessageID bool
	Date              time.Time
	FallbackDate      bool
	Subject           string

	From Address
	To   []Address
	Cc   []Address
	Bcc  []Address

	PlainBody   string
	HTMLBody    string
	Attachments []Attachment

	Headers     map[string][]string
	InReplyTo   []string
	References  []string
	XSpam       bool
	MailingList *MailingList
	Size        int64
}

func (m *ParsedMessage) HasFrom() bool        { return m.From.Address != "" }
func (m *ParsedMessage) HasTo() bool          { return len(m.To) > 0 }
func (m *ParsedMessage) HasCc() bool          { return len(m.Cc) > 0 }
func (m *ParsedMessage) HasBcc() bool         { return len(m.Bcc) > 0 }
func (m *ParsedMessage) HasAttachments() bool { return len(m.Attachments) > 0 }
func (m *ParsedMessage) HasMailingList() bool { return m.MailingList != nil }
func (m *ParsedMessage) HasInReplyTo() bool   { return len(m.InReplyTo) > 0 }
func (m *ParsedMessage) HasPlainBody() bool   { return m.PlainBody != "" }
func (m *ParsedMessage) HasHTMLBody() bool    { return m.HTMLBody != "" }
