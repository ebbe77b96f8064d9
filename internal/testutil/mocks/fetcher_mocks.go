// Package mocks holds testify mocks of the pipeline's collaborators.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/welldanyogia/mailarchive/internal/fetcher"
	"github.com/welldanyogia/mailarchive/internal/importer"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/parser"
)

// MockFetcher implements fetcher.Fetcher
type MockFetcher struct {
	mock.Mock
}

// Login authenticates
func (m *MockFetcher) Login(ctx context.Context, creds fetcher.Credentials) error {
	args := m.Called(ctx, creds)
	return args.Error(0)
}

// ListMailboxes names the folders of the account
func (m *MockFetcher) ListMailboxes(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Search returns matching handles
func (m *MockFetcher) Search(ctx context.Context, mailbox string, criterion fetcher.Criterion) ([]fetcher.Handle, error) {
	args := m.Called(ctx, mailbox, criterion)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fetcher.Handle), args.Error(1)
}

// Fetch returns the raw bytes of one message
func (m *MockFetcher) Fetch(ctx context.Context, h fetcher.Handle) ([]byte, error) {
	args := m.Called(ctx, h)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// Close ends the session
func (m *MockFetcher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Factory returns a fetcher.Factory handing out f and counting calls
func (m *MockFetcher) Factory(calls *int) fetcher.Factory {
	return func(account *models.Account) (fetcher.Fetcher, error) {
		if calls != nil {
			*calls++
		}
		return m, nil
	}
}

// MockImporter implements ingest.Importer
type MockImporter struct {
	mock.Mock
}

// Import stores one parsed message
func (m *MockImporter) Import(ctx context.Context, mailbox *models.Mailbox, msg *parser.ParsedMessage, raw []byte) (importer.Result, error) {
	args := m.Called(ctx, mailbox, msg, raw)
	return args.Get(0).(importer.Result), args.Error(1)
}

// MockNotifier implements importer.Notifier
type MockNotifier struct {
	mock.Mock
}

// EmailArchived records an archived email
func (m *MockNotifier) EmailArchived(mailboxID, emailID uint, messageID, subject string) {
	m.Called(mailboxID, emailID, messageID, subject)
}
