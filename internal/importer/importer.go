// Package importer stores parsed messages in the index as one transaction
// per message.
//
// Attachment files are written inside the transaction through a storage
// Writer and removed again when the transaction rolls back, so a failed
// import leaves neither rows nor files behind. A crash between the file
// write and the commit can still orphan files; the storage healthcheck
// does not detect those.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
	"github.com/welldanyogia/mailarchive/internal/healer"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/parser"
	"github.com/welldanyogia/mailarchive/internal/repository"
	"github.com/welldanyogia/mailarchive/internal/storage"
	"gorm.io/gorm"
)

// Notifier is told about every newly archived email after commit
type Notifier interface {
	EmailArchived(mailboxID, emailID uint, messageID, subject string)
}

// Result of one import
type Result struct {
	EmailID   uint
	Duplicate bool
}

// Config holds the collaborators of an Importer
type Config struct {
	DB           *gorm.DB
	Store        *storage.ShardedStore
	Raw          *storage.RawArchive
	Healer       *healer.Healer
	Notifier     Notifier
	ThrowOutSpam bool
	Logger       *slog.Logger
}

// Importer writes ParsedMessages into the index
type Importer struct {
	db           *gorm.DB
	store        *storage.ShardedStore
	raw          *storage.RawArchive
	healer       *healer.Healer
	notifier     Notifier
	throwOutSpam bool
	logger       *slog.Logger
}

// New creates an Importer. Without a Healer connection errors surface directly.
func New(cfg *Config) *Importer {
	return &Importer{
		db:           cfg.DB,
		store:        cfg.Store,
		raw:          cfg.Raw,
		healer:       cfg.Healer,
		notifier:     cfg.Notifier,
		throwOutSpam: cfg.ThrowOutSpam,
		logger:       logger.OrDefault(cfg.Logger),
	}
}

// Import stores msg for mailbox. An already archived message-id is reported
// as a Duplicate with the existing id and no error. raw is only kept when
// the mailbox retains .eml files.
func (i *Importer) Import(ctx context.Context, mailbox *models.Mailbox, msg *parser.ParsedMessage, raw []byte) (Result, error) {
	if msg.XSpam && i.throwOutSpam {
		i.logger.Info("discarding spam",
			slog.Uint64("mailbox_id", uint64(mailbox.ID)),
			slog.String("message_id", msg.MessageID),
		)
		return Result{}, fmt.Errorf("%w: %s", apperrors.ErrSpam, msg.MessageID)
	}

	var (
		result Result
		err    error
	)
	op := func(ctx context.Context) error {
		result, err = i.importOnce(ctx, mailbox, msg, raw)
		return err
	}
	if i.healer != nil {
		err = i.healer.Do(ctx, op)
	} else {
		err = op(ctx)
	}
	if err != nil {
		if healer.IsConnectionError(err) {
			return Result{}, err
		}
		return Result{}, &apperrors.ImportError{MessageID: msg.MessageID, Subject: msg.Subject, Err: err}
	}

	if result.Duplicate {
		i.logger.Debug("message already archived",
			slog.String("message_id", msg.MessageID),
			slog.Uint64("email_id", uint64(result.EmailID)),
		)
		return result, nil
	}

	if msg.FallbackMessageID {
		i.logger.Warn("archived without Message-ID, using content digest",
			slog.Uint64("email_id", uint64(result.EmailID)),
			slog.String("message_id", msg.MessageID),
		)
	}
	i.logger.Info("email archived",
		slog.Uint64("mailbox_id", uint64(mailbox.ID)),
		slog.Uint64("email_id", uint64(result.EmailID)),
		slog.String("message_id", msg.MessageID),
		slog.Int("attachments", len(msg.Attachments)),
	)
	if i.notifier != nil {
		i.notifier.EmailArchived(mailbox.ID, result.EmailID, msg.MessageID, msg.Subject)
	}
	return result, nil
}

// importOnce runs a single transaction attempt and undoes its files on failure
func (i *Importer) importOnce(ctx context.Context, mailbox *models.Mailbox, msg *parser.ParsedMessage, raw []byte) (Result, error) {
	var (
		result  Result
		writer  *storage.Writer
		rawName string
	)

	// A started transaction always runs to commit or rollback
	ctx = context.WithoutCancel(ctx)

	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		emails := repository.NewEmailRepository(tx)

		email := newEmail(mailbox.ID, msg)
		if msg.HasInReplyTo() {
			parent, err := emails.GetByMessageID(ctx, msg.InReplyTo[0])
			switch {
			case err == nil:
				email.InReplyToEmailID = &parent.ID
			case !errors.Is(err, repository.ErrNotFound):
				return err
			}
		}

		created, err := emails.CreateIfAbsent(ctx, email)
		if err != nil {
			return err
		}
		if !created {
			existing, err := emails.GetByMessageID(ctx, msg.MessageID)
			if err != nil {
				return err
			}
			result = Result{EmailID: existing.ID, Duplicate: true}
			return nil
		}
		result = Result{EmailID: email.ID}

		if mailbox.SaveToEML && i.raw != nil && len(raw) > 0 {
			rawName, err = i.raw.Save(msg.MessageID, raw)
			if err != nil {
				return err
			}
			if err := tx.Model(email).Update("eml_file_path", rawName).Error; err != nil {
				return fmt.Errorf("failed to record raw message path: %w", err)
			}
		}

		if err := i.linkCorrespondents(ctx, tx, email.ID, msg); err != nil {
			return err
		}

		if msg.HasAttachments() {
			writer = i.store.Begin(tx)
			if err := i.saveAttachments(ctx, tx, writer, mailbox, email.ID, msg.Attachments); err != nil {
				return err
			}
		}

		if _, err := emails.LinkReplies(ctx, email); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if writer != nil {
			writer.Discard()
		}
		if rawName != "" {
			if rerr := i.raw.Remove(rawName); rerr != nil {
				i.logger.Warn("failed to remove raw message after rollback",
					slog.String("file", rawName), slog.Any("error", rerr))
			}
		}
		return Result{}, err
	}
	return result, nil
}

func newEmail(mailboxID uint, msg *parser.ParsedMessage) *models.Email {
	return &models.Email{
		MailboxID:  mailboxID,
		MessageID:  msg.MessageID,
		DateTime:   msg.Date,
		Subject:    msg.Subject,
		PlainBody:  msg.PlainBody,
		HTMLBody:   msg.HTMLBody,
		Datasize:   msg.Size,
		Headers:    msg.Headers,
		XSpam:      msg.XSpam,
		InReplyTo:  msg.InReplyTo,
		References: msg.References,
	}
}

func (i *Importer) linkCorrespondents(ctx context.Context, tx *gorm.DB, emailID uint, msg *parser.ParsedMessage) error {
	correspondents := repository.NewCorrespondentRepository(tx)
	links := repository.NewEmailCorrespondentRepository(tx)

	link := func(addr parser.Address, mention models.Mention, list *parser.MailingList) error {
		c := &models.Correspondent{EmailAddress: addr.Address, EmailName: addr.Name}
		if list != nil {
			c.ListID = list.ID
			c.ListOwner = list.Owner
			c.ListSubscribe = list.Subscribe
			c.ListUnsubscribe = list.Unsubscribe
			c.ListUnsubscribePost = list.UnsubscribePost
			c.ListPost = list.Post
			c.ListHelp = list.Help
			c.ListArchive = list.Archive
		}
		if err := correspondents.Upsert(ctx, c); err != nil {
			return err
		}
		return links.Link(ctx, emailID, c.ID, mention)
	}

	if msg.HasFrom() {
		if err := link(msg.From, models.MentionFrom, msg.MailingList); err != nil {
			return err
		}
	}
	roles := []struct {
		present   bool
		addresses []parser.Address
		mention   models.Mention
	}{
		{msg.HasTo(), msg.To, models.MentionTo},
		{msg.HasCc(), msg.Cc, models.MentionCc},
		{msg.HasBcc(), msg.Bcc, models.MentionBcc},
	}
	for _, role := range roles {
		if !role.present {
			continue
		}
		for _, addr := range role.addresses {
			if err := link(addr, role.mention, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// saveAttachments records every attachment. Files are only written when
// the mailbox saves attachments; otherwise the row carries metadata only.
func (i *Importer) saveAttachments(ctx context.Context, tx *gorm.DB, w *storage.Writer, mailbox *models.Mailbox, emailID uint, attachments []parser.Attachment) error {
	repo := repository.NewAttachmentRepository(tx, nil)
	for _, a := range attachments {
		row := &models.Attachment{
			EmailID:            emailID,
			FileName:           a.FileName,
			ContentDisposition: a.ContentDisposition,
			ContentID:          a.ContentID,
			ContentMaintype:    a.Maintype,
			ContentSubtype:     a.Subtype,
			Datasize:           a.Size(),
		}
		if mailbox.SaveAttachments {
			path, err := w.Save(ctx, a.FileName, a.Data)
			if err != nil {
				return err
			}
			row.FilePath = &path
		}
		if err := repo.Create(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
