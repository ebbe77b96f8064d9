// Package fetcher retrieves raw messages from remote mail servers.
//
// Four adapters implement Fetcher: IMAP and POP3, each over plaintext or
// TLS. They differ only in transport setup. None of them reconnects on its
// own; login and search failures abort the caller's cycle.
package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/validator"
)

// InboxName is the only mailbox a POP3 maildrop has
const InboxName = "INBOX"

var errNotLoggedIn = errors.New("not logged in")

// DefaultTimeout applies when an account has no timeout configured
const DefaultTimeout = 30 * time.Second

// Handle identifies a message within one searched mailbox: an IMAP UID or a
// POP3 message number
type Handle uint32

func (h Handle) String() string {
	return strconv.FormatUint(uint64(h), 10)
}

// Credentials authenticate a session
type Credentials struct {
	Username string
	Password string
}

// Fetcher is one client session against a mail server
type Fetcher interface {
	// Login connects and authenticates. A rejected login returns a
	// FetchError wrapping ErrAuthentication with the server's text.
	Login(ctx context.Context, creds Credentials) error
	// ListMailboxes names the folders of the account
	ListMailboxes(ctx context.Context) ([]string, error)
	// Search returns matching handles in server order
	Search(ctx context.Context, mailbox string, criterion Criterion) ([]Handle, error)
	// Fetch returns the full RFC 822 bytes of one message
	Fetch(ctx context.Context, h Handle) ([]byte, error)
	// Close ends the session. It is idempotent and safe after a failed login.
	Close() error
}

// Factory opens a Fetcher for an account
type Factory func(account *models.Account) (Fetcher, error)

// Endpoint is the transport configuration shared by all adapters
type Endpoint struct {
	Account   string
	Host      string
	Port      int
	Timeout   time.Duration
	TLSConfig *tls.Config
	Logger    *slog.Logger
	Now       func() time.Time
}

// Address returns host:port
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) tlsConfig() *tls.Config {
	if e.TLSConfig != nil {
		return e.TLSConfig
	}
	return &tls.Config{ServerName: e.Host, MinVersion: tls.VersionTLS12}
}

// Option adjusts the Endpoint New builds from an account
type Option func(*Endpoint)

// WithLogger sets the session logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) { e.Logger = l }
}

// WithTLSConfig replaces the default TLS configuration
func WithTLSConfig(cfg *tls.Config) Option {
	return func(e *Endpoint) { e.TLSConfig = cfg }
}

// WithClock sets the clock used by relative date criteria
func WithClock(now func() time.Time) Option {
	return func(e *Endpoint) { e.Now = now }
}

var strategies = map[models.Protocol]func(Endpoint) Fetcher{
	models.ProtocolIMAP:  func(e Endpoint) Fetcher { return newIMAPFetcher(e, dialIMAP) },
	models.ProtocolIMAPS: func(e Endpoint) Fetcher { return newIMAPFetcher(e, dialIMAPTLS) },
	models.ProtocolPOP3:  func(e Endpoint) Fetcher { return newPOP3Fetcher(e, false) },
	models.ProtocolPOP3S: func(e Endpoint) Fetcher { return newPOP3Fetcher(e, true) },
}

// New selects the adapter for the account's protocol
func New(account *models.Account, opts ...Option) (Fetcher, error) {
	if account == nil {
		return nil, fmt.Errorf("%w: nil account", apperrors.ErrInvalidInput)
	}
	strategy, ok := strategies[account.Protocol]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported protocol %q", apperrors.ErrInvalidInput, account.Protocol)
	}
	if err := validator.ValidateAccount(account); err != nil {
		return nil, fmt.Errorf("%w: account %d: %v", apperrors.ErrInvalidInput, account.ID, err)
	}

	e := Endpoint{
		Account: account.MailAddress,
		Host:    account.MailHost,
		Port:    account.Port(),
		Timeout: account.Timeout(),
		Now:     time.Now,
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.Timeout <= 0 {
		e.Timeout = DefaultTimeout
	}
	e.Logger = logger.OrDefault(e.Logger).With(
		slog.String("account", e.Account),
		slog.String("protocol", string(account.Protocol)),
	)
	return strategy(e), nil
}

// NewFactory returns a Factory applying opts to every Fetcher it opens
func NewFactory(opts ...Option) Factory {
	return func(account *models.Account) (Fetcher, error) {
		return New(account, opts...)
	}
}

// CredentialsFor returns the login credentials stored on an account
func CredentialsFor(account *models.Account) Credentials {
	return Credentials{Username: account.MailAddress, Password: account.Password}
}

// serverText strips the protocol prefix from a server response so the
// diagnostic recorded on the account stays readable
func serverText(err error) string {
	msg := strings.TrimSpace(err.Error())
	for _, prefix := range []string{"-ERR ", "NO ", "BAD "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}
