package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/testutil"
	"gorm.io/gorm"
)

// EmailRepositoryTestSuite is the test suite for EmailRepository
type EmailRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo EmailRepository
	ctx  context.Context
	seed testutil.Seed
}

// SetupSuite runs once before all tests
func (s *EmailRepositoryTestSuite) SetupSuite() {
	s.db = testutil.NewDB(s.T())
	s.repo = NewEmailRepository(s.db)
	s.ctx = context.Background()
}

// SetupTest runs before each test - clean up data and seed a mailbox
func (s *EmailRepositoryTestSuite) SetupTest() {
	testutil.Reset(s.T(), s.db)
	s.seed = testutil.SeedMailbox(s.T(), s.db)
}

// TestEmailRepositoryTestSuite runs the test suite
func TestEmailRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(EmailRepositoryTestSuite))
}

func (s *EmailRepositoryTestSuite) newEmail(messageID string) *models.Email {
	return &models.Email{
		MailboxID: s.seed.Mailbox.ID,
		MessageID: messageID,
		DateTime:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Subject:   "Subject of " + messageID,
		PlainBody: "body",
		Datasize:  120,
		Headers:   map[string][]string{"Received": {"from a", "from b"}},
	}
}

// ==================== CreateIfAbsent Tests ====================

func (s *EmailRepositoryTestSuite) TestCreateIfAbsent_Inserts() {
	// Arrange
	email := s.newEmail("one@example.com")

	// Act
	created, err := s.repo.CreateIfAbsent(s.ctx, email)

	// Assert
	require.NoError(s.T(), err)
	assert.True(s.T(), created)
	assert.NotZero(s.T(), email.ID)
}

func (s *EmailRepositoryTestSuite) TestCreateIfAbsent_DuplicateIsNoop() {
	// Arrange
	first := s.newEmail("dup@example.com")
	_, err := s.repo.CreateIfAbsent(s.ctx, first)
	require.NoError(s.T(), err)
	second := s.newEmail("dup@example.com")
	second.Subject = "another subject"

	// Act
	created, err := s.repo.CreateIfAbsent(s.ctx, second)

	// Assert
	require.NoError(s.T(), err)
	assert.False(s.T(), created)
	count, err := s.repo.CountByMailbox(s.ctx, s.seed.Mailbox.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), count)
	stored, _ := s.repo.GetByMessageID(s.ctx, "dup@example.com")
	assert.Equal(s.T(), "Subject of dup@example.com", stored.Subject)
}

func (s *EmailRepositoryTestSuite) TestCreateIfAbsent_DuplicateInsideTransaction() {
	// Arrange
	_, err := s.repo.CreateIfAbsent(s.ctx, s.newEmail("tx@example.com"))
	require.NoError(s.T(), err)

	// Act
	err = s.db.Transaction(func(tx *gorm.DB) error {
		created, err := NewEmailRepository(tx).CreateIfAbsent(s.ctx, s.newEmail("tx@example.com"))
		if err != nil {
			return err
		}
		assert.False(s.T(), created)
		// the transaction stays usable after the ignored conflict
		_, err = NewEmailRepository(tx).CreateIfAbsent(s.ctx, s.newEmail("tx-2@example.com"))
		return err
	})

	// Assert
	require.NoError(s.T(), err)
	_, err = s.repo.GetByMessageID(s.ctx, "tx-2@example.com")
	assert.NoError(s.T(), err)
}

// ==================== Get Tests ====================

func (s *EmailRepositoryTestSuite) TestGetByMessageID_RoundTripsJSONColumns() {
	// Arrange
	email := s.newEmail("json@example.com")
	email.InReplyTo = []string{"parent@example.com"}
	email.References = []string{"root@example.com", "parent@example.com"}
	_, err := s.repo.CreateIfAbsent(s.ctx, email)
	require.NoError(s.T(), err)

	// Act
	found, err := s.repo.GetByMessageID(s.ctx, "json@example.com")

	// Assert
	require.NoError(s.T(), err)
	assert.Equal(s.T(), []string{"from a", "from b"}, found.Headers["Received"])
	assert.Equal(s.T(), []string{"parent@example.com"}, found.InReplyTo)
	assert.Equal(s.T(), []string{"root@example.com", "parent@example.com"}, found.References)
	assert.Nil(s.T(), found.EMLFilePath)
}

func (s *EmailRepositoryTestSuite) TestGetByMessageID_NotFound() {
	_, err := s.repo.GetByMessageID(s.ctx, "missing@example.com")
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *EmailRepositoryTestSuite) TestGetByID_PreloadsRelations() {
	// Arrange
	email := s.newEmail("rel@example.com")
	_, err := s.repo.CreateIfAbsent(s.ctx, email)
	require.NoError(s.T(), err)
	correspondent := &models.Correspondent{EmailAddress: "alice@example.com", EmailName: "Alice"}
	require.NoError(s.T(), NewCorrespondentRepository(s.db).Upsert(s.ctx, correspondent))
	require.NoError(s.T(), NewEmailCorrespondentRepository(s.db).Link(s.ctx, email.ID, correspondent.ID, models.MentionFrom))
	require.NoError(s.T(), NewAttachmentRepository(s.db, nil).Create(s.ctx, &models.Attachment{EmailID: email.ID, FileName: "a.txt"}))

	// Act
	found, err := s.repo.GetByID(s.ctx, email.ID)

	// Assert
	require.NoError(s.T(), err)
	require.Len(s.T(), found.Attachments, 1)
	require.Len(s.T(), found.Correspondents, 1)
	assert.Equal(s.T(), "Alice", found.Correspondents[0].Correspondent.EmailName)
	assert.Equal(s.T(), models.MentionFrom, found.Correspondents[0].Mention)
}

// ==================== LinkReplies Tests ====================

func (s *EmailRepositoryTestSuite) TestLinkReplies_AdoptsEarlierReplies() {
	// Arrange
	reply := s.newEmail("reply@example.com")
	reply.InReplyTo = []string{"parent@example.com"}
	_, err := s.repo.CreateIfAbsent(s.ctx, reply)
	require.NoError(s.T(), err)

	lookalike := s.newEmail("lookalike@example.com")
	lookalike.InReplyTo = []string{"grandparent@example.com"}
	_, err = s.repo.CreateIfAbsent(s.ctx, lookalike)
	require.NoError(s.T(), err)

	parent := s.newEmail("parent@example.com")
	_, err = s.repo.CreateIfAbsent(s.ctx, parent)
	require.NoError(s.T(), err)

	// Act
	linked, err := s.repo.LinkReplies(s.ctx, parent)

	// Assert
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), linked)
	found, _ := s.repo.GetByMessageID(s.ctx, "reply@example.com")
	require.NotNil(s.T(), found.InReplyToEmailID)
	assert.Equal(s.T(), parent.ID, *found.InReplyToEmailID)
	other, _ := s.repo.GetByMessageID(s.ctx, "lookalike@example.com")
	assert.Nil(s.T(), other.InReplyToEmailID)
}

func (s *EmailRepositoryTestSuite) TestDeleteMailbox_CascadesToEmails() {
	// Arrange
	_, err := s.repo.CreateIfAbsent(s.ctx, s.newEmail("cascade@example.com"))
	require.NoError(s.T(), err)

	// Act
	require.NoError(s.T(), s.db.Delete(&models.Mailbox{}, s.seed.Mailbox.ID).Error)

	// Assert
	_, err = s.repo.GetByMessageID(s.ctx, "cascade@example.com")
	assert.ErrorIs(s.T(), err, ErrNotFound)
}
