// Package validator checks account settings before they reach a mail server
// and sanitises names before they reach the filesystem.
package validator

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/welldanyogia/mailarchive/internal/models"
)

// Validation errors
var (
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrInvalidHost        = errors.New("invalid host format")
	ErrInvalidPort        = errors.New("port must be between 1 and 65535")
	ErrInvalidProtocol    = errors.New("unsupported protocol")
	ErrInvalidMailboxName = errors.New("invalid mailbox name")
	ErrInputTooLong       = errors.New("input exceeds maximum length")
	ErrEmptyInput         = errors.New("input cannot be empty")
)

// Host regex: lowercase DNS labels, or a bare IPv4 address
var hostRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// ValidateEmail validates email address format according to RFC 5322.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	if email == "" {
		return ErrEmptyInput
	}

	// RFC 5321 specifies max email length of 254 characters
	if utf8.RuneCountInString(email) > 254 {
		return ErrInputTooLong
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}

	return nil
}

// ValidateHost validates a mail server host name
func ValidateHost(host string) error {
	host = strings.TrimSpace(strings.ToLower(host))

	if host == "" {
		return ErrEmptyInput
	}

	// RFC 1035 specifies max domain length of 253 characters
	if len(host) > 253 {
		return ErrInputTooLong
	}

	if !hostRegex.MatchString(host) {
		return ErrInvalidHost
	}

	return nil
}

// ValidateMailboxName rejects empty names and control characters.
// IMAP folder names may contain spaces and hierarchy separators.
func ValidateMailboxName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyInput
	}
	if utf8.RuneCountInString(name) > 255 {
		return ErrInputTooLong
	}
	if SanitizeString(name, 0) != strings.TrimSpace(name) {
		return ErrInvalidMailboxName
	}
	return nil
}

// ValidateAccount checks the connection settings of an account.
// A zero port means the protocol default.
func ValidateAccount(account *models.Account) error {
	if err := ValidateEmail(account.MailAddress); err != nil {
		return err
	}
	if err := ValidateHost(account.MailHost); err != nil {
		return err
	}
	if account.MailHostPort < 0 || account.MailHostPort > 65535 {
		return ErrInvalidPort
	}
	if !account.Protocol.Valid() {
		return ErrInvalidProtocol
	}
	return nil
}

// SanitizeFilename removes dangerous characters from filename.
// Prevents path traversal and removes control characters.
func SanitizeFilename(filename string) string {
	// Control characters go first so they cannot split a ".." pair
	filename = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, filename)

	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "..", "_")

	filename = strings.TrimSpace(filename)

	// Leading dots would hide the file
	filename = strings.TrimLeft(filename, ".")

	// Limit length to 255 bytes (common filesystem limit)
	for len(filename) > 255 {
		_, size := utf8.DecodeLastRuneInString(filename)
		filename = filename[:len(filename)-size]
	}

	if filename == "" {
		return "unnamed"
	}

	return filename
}

// SanitizeString removes control characters, trims whitespace and enforces
// maxLength runes when maxLength is positive.
func SanitizeString(input string, maxLength int) string {
	input = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, input)

	input = strings.TrimSpace(input)

	if maxLength > 0 && utf8.RuneCountInString(input) > maxLength {
		runes := []rune(input)
		input = string(runes[:maxLength])
	}

	return input
}
