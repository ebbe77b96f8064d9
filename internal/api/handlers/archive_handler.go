package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/mailarchive/internal/api/response"
	"github.com/welldanyogia/mailarchive/internal/repository"
	"github.com/welldanyogia/mailarchive/internal/storage"
)

// BlobReader opens stored attachment files
type BlobReader interface {
	Get(path string) (io.ReadCloser, error)
}

// ArchiveHandler serves archived emails and their attachment files
type ArchiveHandler struct {
	emails      repository.EmailRepository
	attachments repository.AttachmentRepository
	blobs       BlobReader
}

// NewArchiveHandler creates a new ArchiveHandler
func NewArchiveHandler(emails repository.EmailRepository, attachments repository.AttachmentRepository, blobs BlobReader) *ArchiveHandler {
	return &ArchiveHandler{emails: emails, attachments: attachments, blobs: blobs}
}

// GetEmail handles GET /api/emails/:id
func (h *ArchiveHandler) GetEmail(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid email ID")
	}

	email, err := h.emails.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "email not found")
		}
		return response.InternalError(c, "failed to get email")
	}
	return response.Success(c, email)
}

// DownloadAttachment handles GET /api/attachments/:id/download
func (h *ArchiveHandler) DownloadAttachment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid attachment ID")
	}

	attachment, err := h.attachments.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "attachment not found")
		}
		return response.InternalError(c, "failed to get attachment")
	}
	if attachment.FilePath == nil {
		return response.NotFound(c, "attachment content was not stored")
	}

	file, err := h.blobs.Get(*attachment.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			return response.NotFound(c, "attachment file missing")
		}
		return response.InternalError(c, "failed to retrieve file")
	}
	defer file.Close()

	contentType := attachment.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := c.Response().Header()
	header.Set(echo.HeaderContentType, contentType)
	header.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": downloadName(attachment.FileName, id)}))
	if attachment.Datasize > 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(attachment.Datasize, 10))
	}

	c.Response().WriteHeader(http.StatusOK)
	_, err = io.Copy(c.Response(), file)
	return err
}

func downloadName(name string, id uint) string {
	if name == "" {
		return fmt.Sprintf("attachment-%d", id)
	}
	return name
}
