package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-smtp"
	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
)

var (
	errNoRecipients = &smtp.SMTPError{
		Code:         503,
		EnhancedCode: smtp.EnhancedCode{5, 5, 1},
		Message:      "No recipients specified",
	}
	errBadRecipient = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 1, 3},
		Message:      "Invalid recipient address",
	}
	errUnparsable = &smtp.SMTPError{
		Code:         554,
		EnhancedCode: smtp.EnhancedCode{5, 6, 0},
		Message:      "Message could not be parsed",
	}
	errTemporary = &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary archive failure, try again later",
	}
)

// Session implements the go-smtp Session interface
type Session struct {
	backend    *Backend
	from       string
	recipients []string
}

// NewSession creates a new SMTP session
func NewSession(backend *Backend) *Session {
	return &Session{
		backend:    backend,
		recipients: make([]string, 0),
	}
}

// Mail handles the MAIL FROM command
func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	s.backend.logger.Debug("MAIL FROM", slog.String("from", from))
	return nil
}

// Rcpt handles the RCPT TO command. Every well-formed address is accepted;
// all mail lands in the intake mailbox.
func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	if _, _, err := parseEmailAddress(to); err != nil {
		return errBadRecipient
	}
	s.recipients = append(s.recipients, to)
	s.backend.logger.Debug("RCPT TO", slog.String("to", to))
	return nil
}

// Data receives the message and archives it once, however many recipients
// the envelope named
func (s *Session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return errNoRecipients
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	msg, err := s.backend.parser.Parse(raw)
	if err != nil {
		s.backend.events.MessageSkipped(s.backend.mailboxID, s.from, "parse", err)
		return errUnparsable
	}

	ctx := context.Background()
	mailbox, err := s.backend.mailboxes.GetByID(ctx, s.backend.mailboxID)
	if err != nil {
		s.backend.logger.Error("intake mailbox unavailable",
			slog.Uint64("mailbox_id", uint64(s.backend.mailboxID)),
			slog.Any("error", err))
		return errTemporary
	}

	result, err := s.backend.importer.Import(ctx, mailbox, msg, raw)
	switch {
	case errors.Is(err, apperrors.ErrSpam):
		s.backend.logger.Info("spam discarded at intake", slog.String("message_id", msg.MessageID))
		return nil
	case err != nil:
		s.backend.logger.Error("intake import failed",
			slog.String("message_id", msg.MessageID),
			slog.Any("error", err))
		return errTemporary
	}

	s.backend.logger.Info("email received",
		slog.String("from", s.from),
		slog.Int("recipients", len(s.recipients)),
		slog.String("message_id", msg.MessageID),
		slog.Bool("duplicate", result.Duplicate))
	return nil
}

// Reset resets the session state
func (s *Session) Reset() {
	s.from = ""
	s.recipients = make([]string, 0)
}

// Logout handles the end of the session
func (s *Session) Logout() error {
	return nil
}

// parseEmailAddress parses an email address into local part and domain
func parseEmailAddress(address string) (localPart, domain string, err error) {
	address = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(address, "<"), ">"))

	parts := strings.Split(address, "@")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid email address: %s", address)
	}

	localPart = strings.ToLower(parts[0])
	domain = strings.ToLower(parts[1])

	if localPart == "" || domain == "" {
		return "", "", fmt.Errorf("invalid email address: %s", address)
	}

	return localPart, domain, nil
}
