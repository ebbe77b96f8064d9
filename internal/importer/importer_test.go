package importer

import (
	"context"
	"database/sql/driver"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
	"github.com/welldanyogia/mailarchive/internal/healer"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/parser"
	"github.com/welldanyogia/mailarchive/internal/storage"
	"github.com/welldanyogia/mailarchive/internal/testutil"
	"gorm.io/gorm"
)

const pdfBase64 = "JVBERi0xLjQ="

type archivedEvent struct {
	MailboxID uint
	EmailID   uint
	MessageID string
}

type recordingNotifier struct {
	events []archivedEvent
}

func (n *recordingNotifier) EmailArchived(mailboxID, emailID uint, messageID, subject string) {
	n.events = append(n.events, archivedEvent{MailboxID: mailboxID, EmailID: emailID, MessageID: messageID})
}

// ImporterTestSuite runs imports against an in-memory index and a temp store
type ImporterTestSuite struct {
	suite.Suite
	db       *gorm.DB
	ctx      context.Context
	parser   *parser.Parser
	store    *storage.ShardedStore
	raw      *storage.RawArchive
	rawDir   string
	notifier *recordingNotifier
	importer *Importer
	mailbox  *models.Mailbox
}

// SetupSuite runs once before all tests
func (s *ImporterTestSuite) SetupSuite() {
	s.db = testutil.NewDB(s.T())
	s.ctx = context.Background()
	s.parser = parser.New(parser.Config{Logger: logger.Discard()})
}

// SetupTest runs before each test - fresh tables, store and importer
func (s *ImporterTestSuite) SetupTest() {
	testutil.Reset(s.T(), s.db)

	var err error
	s.store, err = storage.NewShardedStore(s.db, storage.Config{Root: s.T().TempDir(), MaxFilesPerDir: 100, Logger: logger.Discard()})
	s.Require().NoError(err)
	s.rawDir = s.T().TempDir()
	s.raw, err = storage.NewRawArchive(s.rawDir)
	s.Require().NoError(err)

	s.notifier = &recordingNotifier{}
	s.importer = s.newImporter(false, nil)
	s.mailbox = testutil.SeedMailbox(s.T(), s.db).Mailbox
}

func (s *ImporterTestSuite) newImporter(throwOutSpam bool, h *healer.Healer) *Importer {
	return New(&Config{
		DB:           s.db,
		Store:        s.store,
		Raw:          s.raw,
		Healer:       h,
		Notifier:     s.notifier,
		ThrowOutSpam: throwOutSpam,
		Logger:       logger.Discard(),
	})
}

// TestImporterTestSuite runs the test suite
func TestImporterTestSuite(t *testing.T) {
	suite.Run(t, new(ImporterTestSuite))
}

func (s *ImporterTestSuite) importRaw(raw []byte) (Result, error) {
	msg, err := s.parser.Parse(raw)
	s.Require().NoError(err)
	return s.importer.Import(s.ctx, s.mailbox, msg, raw)
}

func (s *ImporterTestSuite) count(model any) int64 {
	var n int64
	s.Require().NoError(s.db.Model(model).Count(&n).Error)
	return n
}

func (s *ImporterTestSuite) storedFiles() []string {
	var files []string
	err := filepath.WalkDir(s.store.Root(), func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, path)
		}
		return err
	})
	s.Require().NoError(err)
	return files
}

// failCreates makes inserts into table fail with err, times times (0 = always)
func (s *ImporterTestSuite) failCreates(table string, err error, times int) {
	name := "test:fail_" + table + ":" + s.T().Name()
	failures := 0
	s.Require().NoError(s.db.Callback().Create().Before("gorm:create").Register(name, func(db *gorm.DB) {
		if db.Statement.Table != table {
			return
		}
		if times == 0 || failures < times {
			failures++
			db.AddError(err)
		}
	}))
	s.T().Cleanup(func() { s.db.Callback().Create().Remove(name) })
}

// ==================== Import Tests ====================

func (s *ImporterTestSuite) TestImport_StoresEmailCorrespondentsAndAttachment() {
	// Arrange
	raw := testutil.NewMessageBuilder().
		WithTextPart("plain", "See attached.").
		WithAttachment("report.pdf", "application/pdf", pdfBase64).
		Build()

	// Act
	result, err := s.importRaw(raw)

	// Assert
	s.Require().NoError(err)
	s.False(result.Duplicate)
	s.NotZero(result.EmailID)

	var email models.Email
	s.Require().NoError(s.db.Preload("Attachments").Preload("Correspondents.Correspondent").First(&email, result.EmailID).Error)
	s.Equal("report-1@example.com", email.MessageID)
	s.Equal("Quarterly report", email.Subject)
	s.Equal(s.mailbox.ID, email.MailboxID)
	s.Contains(email.PlainBody, "See attached.")
	s.Nil(email.EMLFilePath)

	s.Require().Len(email.Attachments, 1)
	att := email.Attachments[0]
	s.Equal("report.pdf", att.FileName)
	s.Equal("application/pdf", att.ContentType())
	s.Equal(int64(8), att.Datasize)
	s.Require().NotNil(att.FilePath)
	data, err := os.ReadFile(filepath.Join(s.store.Root(), *att.FilePath))
	s.Require().NoError(err)
	s.Equal("%PDF-1.4", string(data))

	s.Require().Len(email.Correspondents, 2)
	s.Equal(models.MentionFrom, email.Correspondents[0].Mention)
	s.Equal("alice@example.com", email.Correspondents[0].Correspondent.EmailAddress)
	s.Equal("Alice Example", email.Correspondents[0].Correspondent.EmailName)
	s.Equal(models.MentionTo, email.Correspondents[1].Mention)

	s.Require().Len(s.notifier.events, 1)
	s.Equal(archivedEvent{MailboxID: s.mailbox.ID, EmailID: result.EmailID, MessageID: "report-1@example.com"}, s.notifier.events[0])
}

func (s *ImporterTestSuite) TestImport_SameMessageTwiceIsIdempotent() {
	// Arrange
	raw := testutil.NewMessageBuilder().
		WithTextPart("plain", "body").
		WithAttachment("report.pdf", "application/pdf", pdfBase64).
		Build()

	// Act
	first, err1 := s.importRaw(raw)
	second, err2 := s.importRaw(raw)

	// Assert
	s.Require().NoError(err1)
	s.Require().NoError(err2)
	s.False(first.Duplicate)
	s.True(second.Duplicate)
	s.Equal(first.EmailID, second.EmailID)
	s.Equal(int64(1), s.count(&models.Email{}))
	s.Equal(int64(1), s.count(&models.Attachment{}))
	s.Equal(int64(2), s.count(&models.EmailCorrespondent{}))
	s.Len(s.storedFiles(), 1)
	s.Len(s.notifier.events, 1)
}

func (s *ImporterTestSuite) TestImport_SameAddressInToAndCc() {
	// Arrange
	raw := testutil.NewMessageBuilder().
		WithHeader("Cc", "Bob <bob@example.com>").
		Build()

	// Act
	result, err := s.importRaw(raw)

	// Assert
	s.Require().NoError(err)
	var bob models.Correspondent
	s.Require().NoError(s.db.Where("email_address = ?", "bob@example.com").First(&bob).Error)
	var mentions []models.Mention
	s.Require().NoError(s.db.Model(&models.EmailCorrespondent{}).
		Where("email_id = ? AND correspondent_id = ?", result.EmailID, bob.ID).
		Order("id ASC").
		Pluck("mention", &mentions).Error)
	s.Equal([]models.Mention{models.MentionTo, models.MentionCc}, mentions)
	s.Equal(int64(2), s.count(&models.Correspondent{}))
	s.Equal("Bob Example", bob.EmailName)
}

func (s *ImporterTestSuite) TestImport_BccRecipients() {
	// Arrange
	raw := testutil.NewMessageBuilder().
		WithHeader("Bcc", "audit@example.com, legal@example.com").
		Build()

	// Act
	result, err := s.importRaw(raw)

	// Assert
	s.Require().NoError(err)
	var n int64
	s.db.Model(&models.EmailCorrespondent{}).Where("email_id = ? AND mention = ?", result.EmailID, models.MentionBcc).Count(&n)
	s.Equal(int64(2), n)
}

func (s *ImporterTestSuite) TestImport_ExistingNameIsNotBlanked() {
	// Arrange
	_, err := s.importRaw(testutil.NewMessageBuilder().Build())
	s.Require().NoError(err)
	bare := testutil.NewMessageBuilder().
		WithMessageID("bare@example.com").
		WithHeader("From", "alice@example.com").
		Build()

	// Act
	_, err = s.importRaw(bare)

	// Assert
	s.Require().NoError(err)
	var alice models.Correspondent
	s.Require().NoError(s.db.Where("email_address = ?", "alice@example.com").First(&alice).Error)
	s.Equal("Alice Example", alice.EmailName)
}

func (s *ImporterTestSuite) TestImport_MailingListOnSender() {
	// Arrange
	raw := testutil.NewMessageBuilder().
		WithHeader("List-Id", "Example News <news.example.com>").
		WithHeader("List-Unsubscribe", "<mailto:leave@example.com>, <https://example.com/leave>").
		Build()

	// Act
	_, err := s.importRaw(raw)

	// Assert
	s.Require().NoError(err)
	var alice models.Correspondent
	s.Require().NoError(s.db.Where("email_address = ?", "alice@example.com").First(&alice).Error)
	s.Equal("news.example.com", alice.ListID)
	s.Equal("https://example.com/leave", alice.ListUnsubscribe)
	var bob models.Correspondent
	s.Require().NoError(s.db.Where("email_address = ?", "bob@example.com").First(&bob).Error)
	s.False(bob.IsMailingList())
}

func (s *ImporterTestSuite) TestImport_AttachmentsNotSavedKeepsMetadata() {
	// Arrange
	s.Require().NoError(s.db.Model(s.mailbox).Update("save_attachments", false).Error)
	s.mailbox.SaveAttachments = false
	raw := testutil.NewMessageBuilder().
		WithTextPart("plain", "body").
		WithAttachment("report.pdf", "application/pdf", pdfBase64).
		Build()

	// Act
	result, err := s.importRaw(raw)

	// Assert
	s.Require().NoError(err)
	var att models.Attachment
	s.Require().NoError(s.db.Where("email_id = ?", result.EmailID).First(&att).Error)
	s.Equal("report.pdf", att.FileName)
	s.Nil(att.FilePath)
	s.Empty(s.storedFiles())
	s.Equal(int64(0), s.count(&models.StorageShard{}))
}

func (s *ImporterTestSuite) TestImport_RawMessageRetained() {
	// Arrange
	s.mailbox.SaveToEML = true
	raw := testutil.NewMessageBuilder().Build()

	// Act
	result, err := s.importRaw(raw)

	// Assert
	s.Require().NoError(err)
	var email models.Email
	s.Require().NoError(s.db.First(&email, result.EmailID).Error)
	s.Require().NotNil(email.EMLFilePath)
	s.Equal("report-1@example.com.eml", *email.EMLFilePath)
	stored, err := os.ReadFile(s.raw.Path(*email.EMLFilePath))
	s.Require().NoError(err)
	s.Equal(raw, stored)
}

// ==================== Spam Tests ====================

func (s *ImporterTestSuite) TestImport_SpamDiscardedWhenConfigured() {
	// Arrange
	s.importer = s.newImporter(true, nil)
	raw := testutil.NewMessageBuilder().WithHeader("X-Spam-Flag", "YES").Build()

	// Act
	_, err := s.importRaw(raw)

	// Assert
	s.ErrorIs(err, apperrors.ErrSpam)
	s.True(apperrors.IsMessageLevel(err))
	s.Equal(int64(0), s.count(&models.Email{}))
}

func (s *ImporterTestSuite) TestImport_SpamKeptAndMarkedByDefault() {
	// Arrange
	raw := testutil.NewMessageBuilder().WithHeader("X-Spam-Flag", "YES").Build()

	// Act
	result, err := s.importRaw(raw)

	// Assert
	s.Require().NoError(err)
	var email models.Email
	s.Require().NoError(s.db.First(&email, result.EmailID).Error)
	s.True(email.XSpam)
}

// ==================== Threading Tests ====================

func (s *ImporterTestSuite) TestImport_ReplyLinksToArchivedParent() {
	// Arrange
	parent, err := s.importRaw(testutil.NewMessageBuilder().Build())
	s.Require().NoError(err)
	reply := testutil.NewMessageBuilder().
		WithMessageID("reply-1@example.com").
		WithHeader("In-Reply-To", "<report-1@example.com>").
		Build()

	// Act
	result, err := s.importRaw(reply)

	// Assert
	s.Require().NoError(err)
	var email models.Email
	s.Require().NoError(s.db.First(&email, result.EmailID).Error)
	s.Require().NotNil(email.InReplyToEmailID)
	s.Equal(parent.EmailID, *email.InReplyToEmailID)
}

func (s *ImporterTestSuite) TestImport_ParentArrivingLateAdoptsReply() {
	// Arrange
	reply, err := s.importRaw(testutil.NewMessageBuilder().
		WithMessageID("reply-1@example.com").
		WithHeader("In-Reply-To", "<report-1@example.com>").
		Build())
	s.Require().NoError(err)

	// Act
	parent, err := s.importRaw(testutil.NewMessageBuilder().Build())

	// Assert
	s.Require().NoError(err)
	var email models.Email
	s.Require().NoError(s.db.First(&email, reply.EmailID).Error)
	s.Require().NotNil(email.InReplyToEmailID)
	s.Equal(parent.EmailID, *email.InReplyToEmailID)
}

// ==================== Rollback Tests ====================

func (s *ImporterTestSuite) TestImport_FailureRollsBackRowsAndFiles() {
	// Arrange
	s.mailbox.SaveToEML = true
	s.failCreates("attachments", errors.New("CHECK constraint failed: attachments"), 0)
	raw := testutil.NewMessageBuilder().
		WithTextPart("plain", "body").
		WithAttachment("report.pdf", "application/pdf", pdfBase64).
		Build()

	// Act
	_, err := s.importRaw(raw)

	// Assert
	s.Require().Error(err)
	s.ErrorIs(err, apperrors.ErrImport)
	importErr := apperrors.GetImportError(err)
	s.Require().NotNil(importErr)
	s.Equal("report-1@example.com", importErr.MessageID)
	s.Equal("Quarterly report", importErr.Subject)

	s.Equal(int64(0), s.count(&models.Email{}))
	s.Equal(int64(0), s.count(&models.Correspondent{}))
	s.Equal(int64(0), s.count(&models.EmailCorrespondent{}))
	s.Equal(int64(0), s.count(&models.StorageShard{}))
	entries, err := os.ReadDir(s.store.Root())
	s.Require().NoError(err)
	s.Empty(entries)
	rawEntries, err := os.ReadDir(s.rawDir)
	s.Require().NoError(err)
	s.Empty(rawEntries)
	s.Empty(s.notifier.events)
}

func (s *ImporterTestSuite) TestImport_FailedMessageDoesNotBlockNext() {
	// Arrange
	s.failCreates("attachments", errors.New("boom"), 1)
	withAttachment := testutil.NewMessageBuilder().
		WithTextPart("plain", "body").
		WithAttachment("report.pdf", "application/pdf", pdfBase64).
		Build()

	// Act
	_, err1 := s.importRaw(withAttachment)
	result, err2 := s.importRaw(withAttachment)

	// Assert
	s.Error(err1)
	s.Require().NoError(err2)
	s.False(result.Duplicate)
	s.Len(s.storedFiles(), 1)
}

// ==================== Healer Tests ====================

func (s *ImporterTestSuite) TestImport_ConnectionLossIsHealed() {
	// Arrange
	probes := 0
	h := healer.New(func(ctx context.Context) error {
		probes++
		return nil
	}, healer.Policy{Interval: time.Millisecond}, logger.Discard())
	s.importer = s.newImporter(false, h)
	s.failCreates("emails", driver.ErrBadConn, 1)

	// Act
	result, err := s.importRaw(testutil.NewMessageBuilder().Build())

	// Assert
	s.Require().NoError(err)
	s.NotZero(result.EmailID)
	s.Equal(1, probes)
	s.Equal(int64(1), s.count(&models.Email{}))
}

func (s *ImporterTestSuite) TestImport_ConnectionLossWithoutHealer() {
	// Arrange
	s.failCreates("emails", driver.ErrBadConn, 1)

	// Act
	_, err := s.importRaw(testutil.NewMessageBuilder().Build())

	// Assert
	s.ErrorIs(err, driver.ErrBadConn)
	s.Nil(apperrors.GetImportError(err))
}
