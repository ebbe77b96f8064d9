// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/welldanyogia/mailarchive/internal/database"
	"github.com/welldanyogia/mailarchive/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated in-memory SQLite index. The pool is pinned to one
// connection because every connection to :memory: sees its own database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	// Enable foreign keys for SQLite (required for cascade delete)
	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// Reset empties every table, children first
func Reset(t testing.TB, db *gorm.DB) {
	t.Helper()
	for _, table := range []string{
		"attachments", "email_correspondents", "correspondents", "emails",
		"daemons", "mailboxes", "accounts", "storage_shards",
	} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
}

// Seed is an account with one mailbox and one daemon
type Seed struct {
	Account *models.Account
	Mailbox *models.Mailbox
	Daemon  *models.Daemon
}

// SeedMailbox creates an IMAPS account with an INBOX mailbox and a RECENT daemon
func SeedMailbox(t testing.TB, db *gorm.DB) Seed {
	t.Helper()

	account := NewAccountBuilder().Build()
	require.NoError(t, db.Create(account).Error)

	mailbox := &models.Mailbox{AccountID: account.ID, Name: "INBOX", SaveAttachments: true}
	require.NoError(t, db.Create(mailbox).Error)

	daemon := &models.Daemon{MailboxID: mailbox.ID, FetchingCriterion: "RECENT"}
	require.NoError(t, db.Create(daemon).Error)

	return Seed{Account: account, Mailbox: mailbox, Daemon: daemon}
}

// AccountBuilder creates test Account instances with fluent API
type AccountBuilder struct {
	account models.Account
}

// NewAccountBuilder creates a new AccountBuilder with sensible defaults
func NewAccountBuilder() *AccountBuilder {
	return &AccountBuilder{
		account: models.Account{
			MailAddress: "archive@example.com",
			Password:    "s3cret",
			MailHost:    "imap.example.com",
			Protocol:    models.ProtocolIMAPS,
		},
	}
}

// WithProtocol sets the protocol
func (b *AccountBuilder) WithProtocol(p models.Protocol) *AccountBuilder {
	b.account.Protocol = p
	return b
}

// WithHost sets host and port
func (b *AccountBuilder) WithHost(host string, port int) *AccountBuilder {
	b.account.MailHost = host
	b.account.MailHostPort = port
	return b
}

// WithAddress sets the login address
func (b *AccountBuilder) WithAddress(address string) *AccountBuilder {
	b.account.MailAddress = address
	return b
}

// Build returns the constructed Account
func (b *AccountBuilder) Build() *models.Account {
	account := b.account
	return &account
}
