package models

import (
	"time"
)

// Protocol is the transport used to reach an account's mail server
type Protocol string

const (
	ProtocolIMAP  Protocol = "IMAP"
	ProtocolIMAPS Protocol = "IMAPS"
	ProtocolPOP3  Protocol = "POP3"
	ProtocolPOP3S Protocol = "POP3S"
)

// DefaultPort returns the well-known port for the protocol
func (p Protocol) DefaultPort() int {
	switch p {
	case ProtocolIMAP:
		return 143
	case ProtocolIMAPS:
		return 993
	case ProtocolPOP3:
		return 110
	case ProtocolPOP3S:
		return 995
	default:
		return 0
	}
}

// IsTLS reports whether the protocol is wrapped in implicit TLS
func (p Protocol) IsTLS() bool {
	return p == ProtocolIMAPS || p == ProtocolPOP3S
}

// IsPOP reports whether the protocol is a POP3 variant
func (p Protocol) IsPOP() bool {
	return p == ProtocolPOP3 || p == ProtocolPOP3S
}

// Valid reports whether p is a supported protocol
func (p Protocol) Valid() bool {
	return p.DefaultPort() != 0
}

// DefaultTimeoutSeconds is applied to accounts that do not set a timeout
const DefaultTimeoutSeconds = 10

// Account is a set of credentials for one remote mail server
type Account struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	MailAddress    string    `gorm:"not null;size:255" json:"mail_address"`
	Password       string    `gorm:"not null;size:255" json:"-"`
	MailHost       string    `gorm:"not null;size:255" json:"mail_host"`
	MailHostPort   int       `json:"mail_host_port,omitempty"`
	Protocol       Protocol  `gorm:"not null;size:16" json:"protocol"`
	TimeoutSeconds int       `gorm:"default:10" json:"timeout_seconds"`
	Health         Health    `gorm:"embedded" json:"health"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Mailboxes []Mailbox `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// Port returns the configured port or the protocol default
func (a *Account) Port() int {
	if a.MailHostPort > 0 {
		return a.MailHostPort
	}
	return a.Protocol.DefaultPort()
}

// Timeout returns the per-connection timeout
func (a *Account) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}
