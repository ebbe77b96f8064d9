// Package smtp is a drop-in intake: messages delivered to it are parsed and
// archived into one configured mailbox, just as if they had been fetched.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/welldanyogia/mailarchive/internal/importer"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/parser"
	"github.com/welldanyogia/mailarchive/internal/repository"
)

// Security limits
const (
	DefaultMaxMessageSize = 25 * 1024 * 1024 // 25 MB
	DefaultMaxRecipients  = 100
	DefaultReadTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 60 * time.Second
	DefaultMaxLineLength  = 2000
)

// Importer stores one parsed message
type Importer interface {
	Import(ctx context.Context, mailbox *models.Mailbox, msg *parser.ParsedMessage, raw []byte) (importer.Result, error)
}

// BackendConfig holds configuration for the SMTP backend
type BackendConfig struct {
	MailboxID uint
	Mailboxes repository.MailboxRepository
	Parser    *parser.Parser
	Importer  Importer
	Logger    *slog.Logger
}

// Backend implements the go-smtp Backend interface
type Backend struct {
	mailboxID uint
	mailboxes repository.MailboxRepository
	parser    *parser.Parser
	importer  Importer
	events    *logger.EventLogger
	logger    *slog.Logger
}

// NewBackend creates a new SMTP backend
func NewBackend(cfg *BackendConfig) *Backend {
	log := logger.OrDefault(cfg.Logger)
	return &Backend{
		mailboxID: cfg.MailboxID,
		mailboxes: cfg.Mailboxes,
		parser:    cfg.Parser,
		importer:  cfg.Importer,
		events:    logger.NewEventLogger(log),
		logger:    log,
	}
}

// NewSession creates a new SMTP session
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	b.logger.Debug("new SMTP connection", slog.String("remote_addr", c.Conn().RemoteAddr().String()))
	return NewSession(b), nil
}

// ServerConfig holds security configuration for the SMTP server
type ServerConfig struct {
	Addr           string
	Domain         string
	MaxMessageSize int64
	MaxRecipients  int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	TLSConfig      *tls.Config
}

// NewSecureServer creates a new SMTP server with security settings
func NewSecureServer(backend *Backend, cfg *ServerConfig) *smtp.Server {
	s := smtp.NewServer(backend)

	s.Addr = cfg.Addr
	s.Domain = cfg.Domain

	s.MaxMessageBytes = orDefault(cfg.MaxMessageSize, DefaultMaxMessageSize)
	s.MaxRecipients = int(orDefault(int64(cfg.MaxRecipients), DefaultMaxRecipients))
	s.ReadTimeout = time.Duration(orDefault(int64(cfg.ReadTimeout), int64(DefaultReadTimeout)))
	s.WriteTimeout = time.Duration(orDefault(int64(cfg.WriteTimeout), int64(DefaultWriteTimeout)))

	// The intake takes no credentials
	s.AllowInsecureAuth = false

	if cfg.TLSConfig != nil {
		s.TLSConfig = cfg.TLSConfig
	}

	s.MaxLineLength = DefaultMaxLineLength

	return s
}

// LoadTLS reads a certificate pair for STARTTLS. Empty paths mean no TLS.
func LoadTLS(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading SMTP certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func orDefault(v, def int64) int64 {
	if v > 0 {
		return v
	}
	return def
}
