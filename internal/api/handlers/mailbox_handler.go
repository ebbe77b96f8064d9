package handlers

import (
	"context"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/mailarchive/internal/api/response"
	"github.com/welldanyogia/mailarchive/internal/fetcher"
	"github.com/welldanyogia/mailarchive/internal/ingest"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/repository"
)

// Ingestor runs ingestion work on behalf of the API
type Ingestor interface {
	Run(ctx context.Context, mailboxID uint, criterion fetcher.Criterion) (ingest.Report, error)
	TestMailbox(ctx context.Context, mailboxID uint) error
	DiscoverMailboxes(ctx context.Context, accountID uint) ([]models.Mailbox, error)
}

// MailboxHandler exposes accounts, mailboxes and their daemons, and lets
// operators trigger cycles by hand
type MailboxHandler struct {
	ingestor  Ingestor
	accounts  repository.AccountRepository
	mailboxes repository.MailboxRepository
	daemons   repository.DaemonRepository
}

// NewMailboxHandler creates a new MailboxHandler
func NewMailboxHandler(ingestor Ingestor, accounts repository.AccountRepository, mailboxes repository.MailboxRepository, daemons repository.DaemonRepository) *MailboxHandler {
	return &MailboxHandler{
		ingestor:  ingestor,
		accounts:  accounts,
		mailboxes: mailboxes,
		daemons:   daemons,
	}
}

// IngestRequest is the body of POST /api/mailboxes/:id/ingest
type IngestRequest struct {
	Criterion string `json:"criterion"`
}

// ListAccounts handles GET /api/accounts
func (h *MailboxHandler) ListAccounts(c echo.Context) error {
	accounts, err := h.accounts.List(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "failed to list accounts")
	}
	return response.Success(c, accounts)
}

// ListMailboxes handles GET /api/accounts/:id/mailboxes
func (h *MailboxHandler) ListMailboxes(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid account ID")
	}

	if _, err := h.accounts.GetByID(c.Request().Context(), id); err != nil {
		return response.Error(c, err)
	}

	mailboxes, err := h.mailboxes.ListByAccount(c.Request().Context(), id)
	if err != nil {
		return response.InternalError(c, "failed to list mailboxes")
	}
	return response.Success(c, mailboxes)
}

// Discover handles POST /api/accounts/:id/discover
func (h *MailboxHandler) Discover(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid account ID")
	}

	created, err := h.ingestor.DiscoverMailboxes(c.Request().Context(), id)
	if err != nil {
		return response.Error(c, err)
	}
	return response.SuccessWithMessage(c, created, strconv.Itoa(len(created))+" mailboxes added")
}

// ListDaemons handles GET /api/mailboxes/:id/daemons
func (h *MailboxHandler) ListDaemons(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid mailbox ID")
	}

	if _, err := h.mailboxes.GetByID(c.Request().Context(), id); err != nil {
		return response.Error(c, err)
	}

	daemons, err := h.daemons.ListByMailbox(c.Request().Context(), id)
	if err != nil {
		return response.InternalError(c, "failed to list daemons")
	}
	return response.Success(c, daemons)
}

// Ingest handles POST /api/mailboxes/:id/ingest. The cycle is bound to the
// request: a client that disconnects stops it between messages.
func (h *MailboxHandler) Ingest(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid mailbox ID")
	}

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	criterion, err := fetcher.ParseCriterion(req.Criterion)
	if err != nil {
		return response.Error(c, err)
	}

	report, err := h.ingestor.Run(c.Request().Context(), id, criterion)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, report)
}

// Test handles POST /api/mailboxes/:id/test
func (h *MailboxHandler) Test(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid mailbox ID")
	}

	if err := h.ingestor.TestMailbox(c.Request().Context(), id); err != nil {
		return response.Error(c, err)
	}
	return response.SuccessWithMessage(c, nil, "mailbox reachable")
}

func parseID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, echo.ErrBadRequest
	}
	return uint(id), nil
}
