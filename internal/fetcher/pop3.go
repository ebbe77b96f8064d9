package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/knadh/go-pop3"
	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
)

// pop3Fetcher emulates search over a maildrop: LIST supplies sizes and
// TOP n 0 supplies the headers date and text criteria need
type pop3Fetcher struct {
	endpoint Endpoint
	client   *pop3.Client
	conn     *pop3.Conn
}

func newPOP3Fetcher(e Endpoint, useTLS bool) *pop3Fetcher {
	return &pop3Fetcher{
		endpoint: e,
		client: pop3.New(pop3.Opt{
			Host:          e.Host,
			Port:          e.Port,
			DialTimeout:   e.Timeout,
			TLSEnabled:    useTLS,
			TLSSkipVerify: e.TLSConfig != nil && e.TLSConfig.InsecureSkipVerify,
		}),
	}
}

func (f *pop3Fetcher) Login(ctx context.Context, creds Credentials) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewFetchError("connect", f.endpoint.Account, apperrors.ErrConnection, err)
	}

	conn, err := f.client.NewConn()
	if err != nil {
		return apperrors.NewFetchError("connect", f.endpoint.Account, apperrors.ErrConnection, err)
	}
	f.conn = conn

	if err := conn.Auth(creds.Username, creds.Password); err != nil {
		_ = f.Close()
		return apperrors.NewFetchError("login", f.endpoint.Account, apperrors.ErrAuthentication, errors.New(serverText(err)))
	}

	f.endpoint.Logger.Debug("pop3 login succeeded", slog.String("host", f.endpoint.Host))
	return nil
}

func (f *pop3Fetcher) ListMailboxes(ctx context.Context) ([]string, error) {
	if f.conn == nil {
		return nil, apperrors.NewFetchError("list", f.endpoint.Account, apperrors.ErrMailbox, errNotLoggedIn)
	}
	return []string{InboxName}, nil
}

func (f *pop3Fetcher) Search(ctx context.Context, mailbox string, criterion Criterion) ([]Handle, error) {
	op := "search " + criterion.String()
	if f.conn == nil {
		return nil, apperrors.NewFetchError(op, f.endpoint.Account, apperrors.ErrMailbox, errNotLoggedIn)
	}
	if !strings.EqualFold(mailbox, InboxName) {
		return nil, apperrors.NewFetchError("select "+mailbox, f.endpoint.Account, apperrors.ErrMailbox,
			fmt.Errorf("a POP3 maildrop only has %s", InboxName))
	}
	if criterion.Kind == KindBody {
		return nil, apperrors.NewFetchError(op, f.endpoint.Account, apperrors.ErrUnsupportedCriterion,
			errors.New("POP3 cannot search message bodies"))
	}

	listing, err := f.conn.List(0)
	if err != nil {
		return nil, apperrors.NewFetchError(op, f.endpoint.Account, apperrors.ErrMailbox, errors.New(serverText(err)))
	}

	now := f.endpoint.Now()
	handles := make([]Handle, 0, len(listing))
	for _, m := range listing {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewFetchError(op, f.endpoint.Account, apperrors.ErrMailbox, err)
		}
		info := messageInfo{Size: uint32(m.Size)}
		if criterion.needsHeaders() {
			f.readHeaders(m.ID, &info)
		}
		if criterion.matches(info, now) {
			handles = append(handles, Handle(m.ID))
		}
	}

	f.endpoint.Logger.Debug("pop3 search",
		slog.String("criterion", criterion.String()),
		slog.Int("listed", len(listing)),
		slog.Int("matches", len(handles)),
	)
	return handles, nil
}

// readHeaders fills info from TOP n 0. A message whose headers cannot be
// read keeps HasDate false and a nil Header.
func (f *pop3Fetcher) readHeaders(id int, info *messageInfo) {
	entity, err := f.conn.Top(id, 0)
	if err != nil {
		f.endpoint.Logger.Debug("pop3 top failed", slog.Int("message", id), slog.Any("error", err))
		return
	}
	h := mail.Header{Header: entity.Header}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		info.Date, info.HasDate = date, true
	}
	info.Header = func(key string) string {
		if text, err := h.Text(key); err == nil {
			return text
		}
		return h.Get(key)
	}
}

func (f *pop3Fetcher) Fetch(ctx context.Context, h Handle) ([]byte, error) {
	op := "fetch " + h.String()
	if f.conn == nil {
		return nil, apperrors.NewFetchError(op, f.endpoint.Account, apperrors.ErrMessageFetch, errNotLoggedIn)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewFetchError(op, f.endpoint.Account, apperrors.ErrMessageFetch, err)
	}

	buf, err := f.conn.RetrRaw(int(h))
	if err != nil {
		return nil, apperrors.NewFetchError(op, f.endpoint.Account, apperrors.ErrMessageFetch, errors.New(serverText(err)))
	}
	return buf.Bytes(), nil
}

func (f *pop3Fetcher) Close() error {
	if f.conn == nil {
		return nil
	}
	conn := f.conn
	f.conn = nil
	if err := conn.Quit(); err != nil {
		f.endpoint.Logger.Debug("pop3 quit failed", slog.Any("error", err))
	}
	return nil
}
